package qdrant_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"scriptforge/internal/script/qdrant"
)

func TestOpen_RejectsMissingCollectionOrDimensions(t *testing.T) {
	_, err := qdrant.Open(t.Context(), "http://localhost:6334", "", 768, nil)
	require.Error(t, err)

	_, err = qdrant.Open(t.Context(), "http://localhost:6334", "scenes", 0, nil)
	require.Error(t, err)
}
