// Command worker runs the C4/C5 job-queue consumer: it drains the
// priority queues in strict order and dispatches each job to the
// refresh.Handlers method its Kind names, wrapping the call in the
// dequeue/complete/fail lifecycle refresh.Handlers itself stays out of.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"scriptforge/internal/config"
	"scriptforge/internal/jobqueue"
	"scriptforge/internal/llm/anthropic"
	"scriptforge/internal/llmclient"
	"scriptforge/internal/observability"
	"scriptforge/internal/refresh"
	"scriptforge/internal/script"
	"scriptforge/internal/script/memory"
	"scriptforge/internal/script/postgres"
	"scriptforge/internal/staleness"
)

// jobPayload is the JSON shape every producer (API handlers, CRDT apply
// paths, the job-queue's own retry path) fills in before Enqueue; which
// fields matter depends on Kind.
type jobPayload struct {
	ScriptID string `json:"script_id"`
	SceneID  string `json:"scene_id"`
	Name     string `json:"character_name"`
}

const dequeueWait = 5 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "worker: load config:", err)
		os.Exit(1)
	}
	observability.InitLogger("", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("worker: open store")
	}
	defer closeStore()

	queue, closeQueue, err := openQueue(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("worker: open queue")
	}
	defer closeQueue()

	provider := anthropic.New(cfg.Anthropic, observability.NewHTTPClient(http.DefaultClient))
	client := llmclient.New(provider, store, cfg.Embedding)
	stale := staleness.New(store, cfg.Thresholds)
	handlers := refresh.New(store, stale, client, cfg.Anthropic.Model, cfg.Anthropic.HaikuModel, cfg.Thresholds)

	log.Info().Msg("worker: started")
	run(ctx, queue, handlers)
	log.Info().Msg("worker: stopped")
}

// run loops until ctx is cancelled, dequeuing one job at a time and
// dispatching it. A dispatch panic is recovered and treated as a Fail so
// one bad job can't take the process down.
func run(ctx context.Context, queue jobqueue.Queue, handlers *refresh.Handlers) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, ok, err := queue.Dequeue(ctx, dequeueWait)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error().Err(err).Msg("worker: dequeue")
			continue
		}
		if !ok {
			continue
		}

		if err := dispatch(ctx, handlers, job); err != nil {
			deadLettered, failErr := queue.Fail(ctx, job, err, "")
			if failErr != nil {
				log.Error().Err(failErr).Str("job_id", job.ID).Msg("worker: fail")
			}
			event := log.Warn()
			if deadLettered {
				event = log.Error()
			}
			event.Err(err).Str("job_id", job.ID).Str("kind", string(job.Kind)).
				Bool("dead_lettered", deadLettered).Msg("worker: job failed")
			continue
		}
		if err := queue.Complete(ctx, job); err != nil {
			log.Error().Err(err).Str("job_id", job.ID).Msg("worker: complete")
		}
	}
}

func dispatch(ctx context.Context, handlers *refresh.Handlers, job jobqueue.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("worker: job panicked: %v\n%s", r, debug.Stack())
		}
	}()

	var p jobPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return fmt.Errorf("worker: unmarshal payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, job.Kind.Timeout())
	defer cancel()

	switch job.Kind {
	case jobqueue.KindSceneSummaryRefresh, jobqueue.KindEmbeddingRefresh:
		return handlers.RefreshSceneSummary(ctx, p.SceneID)
	case jobqueue.KindCharacterSheetRefresh:
		return handlers.RefreshCharacterSheet(ctx, p.ScriptID, p.Name)
	case jobqueue.KindOutlineRefresh:
		return handlers.RefreshOutline(ctx, p.ScriptID)
	case jobqueue.KindIngestion:
		return handlers.AnalyzeScriptPartial(ctx, p.ScriptID)
	default:
		return fmt.Errorf("worker: unknown job kind %q", job.Kind)
	}
}

func openStore(ctx context.Context, cfg config.Config) (script.Store, func(), error) {
	if cfg.DB.DefaultDSN == "" {
		log.Warn().Msg("worker: DATABASE_URL unset, using in-memory store")
		return memory.New(), func() {}, nil
	}
	st, err := postgres.Open(ctx, cfg.DB.DefaultDSN, cfg.Embedding.Dimensions)
	if err != nil {
		return nil, nil, fmt.Errorf("open postgres store: %w", err)
	}
	return st, func() { st.Close() }, nil
}

func openQueue(cfg config.Config) (jobqueue.Queue, func(), error) {
	if cfg.Redis.Addr == "" {
		log.Warn().Msg("worker: REDIS_ADDR unset, using in-memory queue")
		return jobqueue.NewMemory(), func() {}, nil
	}
	q, err := jobqueue.NewRedis(cfg.Redis.Addr)
	if err != nil {
		return nil, nil, fmt.Errorf("open redis queue: %w", err)
	}
	return q, func() { _ = q.Close() }, nil
}
