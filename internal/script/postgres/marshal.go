package postgres

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"scriptforge/internal/script"
)

func newID() string { return uuid.NewString() }

func blocksJSON(blocks []script.Block) []byte {
	if blocks == nil {
		blocks = []script.Block{}
	}
	b, err := json.Marshal(blocks)
	if err != nil {
		// Block is a plain JSON-able struct; marshal failure here would
		// mean a caller built an un-encodable Meta value.
		return []byte("[]")
	}
	return b
}

func unmarshalBlocks(data []byte) []script.Block {
	if len(data) == 0 {
		return nil
	}
	var blocks []script.Block
	if err := json.Unmarshal(data, &blocks); err != nil {
		return nil
	}
	return blocks
}

// vectorLiteral renders a float32 slice as pgvector's textual input
// format, e.g. "[0.1,0.2,0.3]".
func vectorLiteral(v []float32) string {
	parts := make([]string, len(v))
	for i, f := range v {
		parts[i] = strconv.FormatFloat(float64(f), 'f', -1, 32)
	}
	return fmt.Sprintf("[%s]", strings.Join(parts, ","))
}
