package apperr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotFound_ErrorsIsSentinel(t *testing.T) {
	t.Parallel()
	err := NotFound("scene", "sc_42")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.False(t, errors.Is(err, ErrVersionConflict))
}

func TestNotFound_MessageIncludesEntityAndID(t *testing.T) {
	t.Parallel()
	err := NotFound("scene", "sc_42")
	assert.Contains(t, err.Error(), "scene")
	assert.Contains(t, err.Error(), "sc_42")
}

func TestVersionConflict_UnwrapsCause(t *testing.T) {
	t.Parallel()
	cause := errors.New("expected rev 3, got 5")
	err := VersionConflict("script", "scr_1", cause)
	assert.ErrorIs(t, err, ErrVersionConflict)
	assert.ErrorIs(t, err, cause)
}

func TestTransient_IsRetryable(t *testing.T) {
	t.Parallel()
	err := Transient("llm", errors.New("503"))
	assert.True(t, Retryable(err))
}

func TestFatal_IsNotRetryable(t *testing.T) {
	t.Parallel()
	err := Fatal("llm", errors.New("invalid api key"))
	assert.False(t, Retryable(err))
}

func TestPlainErrorIsNeverRetryable(t *testing.T) {
	t.Parallel()
	assert.False(t, Retryable(errors.New("plain")))
}

func TestKindOf_DefaultsToInternalInvariantForPlainError(t *testing.T) {
	t.Parallel()
	assert.Equal(t, KindInternalInvariant, KindOf(errors.New("plain")))
}

func TestKindOf_ReturnsActualKind(t *testing.T) {
	t.Parallel()
	assert.Equal(t, KindPermissionDenied, KindOf(PermissionDenied("scene", "sc_1")))
}

func TestIs_MatchesByKindAcrossEntities(t *testing.T) {
	t.Parallel()
	a := NotFound("scene", "sc_1")
	b := NotFound("script", "scr_9")
	assert.True(t, Is(a, KindNotFound))
	assert.True(t, Is(b, KindNotFound))
	assert.True(t, errors.Is(a, b))
}

func TestWrappedErrorStillMatchesAs(t *testing.T) {
	t.Parallel()
	inner := Validation("scene", "text must not be empty")
	wrapped := New(KindDependencyFatal, "ingest", "job_1", "ingest failed", inner)

	var target *Error
	require.ErrorAs(t, wrapped, &target)
	assert.Equal(t, KindDependencyFatal, target.Kind)
	assert.ErrorIs(t, wrapped, inner)
}

func TestKindString(t *testing.T) {
	t.Parallel()
	cases := map[Kind]string{
		KindNotFound:            "not_found",
		KindVersionConflict:     "version_conflict",
		KindPermissionDenied:    "permission_denied",
		KindValidation:          "validation",
		KindDependencyTransient: "dependency_transient",
		KindDependencyFatal:     "dependency_fatal",
		KindInternalInvariant:   "internal_invariant",
	}
	for kind, want := range cases {
		assert.Equal(t, want, kind.String())
	}
}
