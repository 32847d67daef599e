package vector

import (
	"context"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// letterEmbed is a deterministic normalized letter-frequency embedding.
func letterEmbed(_ context.Context, text string) ([]float32, error) {
	v := make([]float32, 26)
	for _, r := range strings.ToLower(text) {
		if r >= 'a' && r <= 'z' {
			v[r-'a']++
		}
	}
	var norm float64
	for _, x := range v {
		norm += float64(x * x)
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		v[0], norm = 1, 1
	}
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
	return v, nil
}

func TestSplit(t *testing.T) {
	md := "para one\n\npara two\n\n" + strings.Repeat("x", 25)
	chunks := Split(md, 20)
	require.Len(t, chunks, 3)
	assert.Equal(t, "para one\n\npara two", chunks[0])
	assert.Equal(t, strings.Repeat("x", 20), chunks[1])
	assert.Equal(t, "xxxxx", chunks[2])

	assert.Empty(t, Split("  \n\n ", 100))
}

func TestIndexAndSearch(t *testing.T) {
	s := NewMemory(letterEmbed)
	s.chunkSize = 40
	ctx := context.Background()

	n, err := s.IndexFile(ctx, "lib-1", "file-1", "specs.md", "zebra zoo zigzag\n\napple banana cherry")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	chunks, err := s.Search(ctx, "lib-1", "zzz zoo", 1, 0)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "zebra zoo zigzag", chunks[0].Text)
	assert.Equal(t, "file-1", chunks[0].FileID)
	assert.Equal(t, "specs.md", chunks[0].FileName)

	// Re-indexing replaces the file's chunks.
	n, err = s.IndexFile(ctx, "lib-1", "file-1", "specs.md", "apple pie")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	chunks, err = s.Search(ctx, "lib-1", "zoo", 10, 0)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "apple pie", chunks[0].Text)
}

func TestSearch_MaxDistanceAndEmptyLibrary(t *testing.T) {
	s := NewMemory(letterEmbed)
	ctx := context.Background()

	chunks, err := s.Search(ctx, "nothing-here", "query", 3, 0)
	require.NoError(t, err)
	assert.Empty(t, chunks)

	_, err = s.IndexFile(ctx, "lib-1", "file-1", "a.md", "aaaa")
	require.NoError(t, err)
	chunks, err = s.Search(ctx, "lib-1", "zzzz", 3, 0.1)
	require.NoError(t, err)
	assert.Empty(t, chunks)

	_, err = s.Search(ctx, "lib-1", "  ", 3, 0)
	require.Error(t, err)
}
