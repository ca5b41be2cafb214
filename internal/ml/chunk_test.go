package ml

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkTextEmpty(t *testing.T) {
	assert.Nil(t, ChunkText("", MaxChunkLen))
	assert.Nil(t, ChunkText("   ", MaxChunkLen))
}

func TestChunkTextShortStaysWhole(t *testing.T) {
	chunks := ChunkText("A short document. Two sentences.", MaxChunkLen)
	require.Len(t, chunks, 1)
	assert.Equal(t, "A short document. Two sentences.", chunks[0])
}

func TestChunkTextSplitsAtSentences(t *testing.T) {
	first := strings.Repeat("a", 300) + "."
	second := strings.Repeat("b", 300) + "."
	chunks := ChunkText(first+" "+second, 512)
	require.Len(t, chunks, 2)
	assert.Equal(t, first, chunks[0])
	assert.Equal(t, second, chunks[1])
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c), 512)
	}
}

func TestChunkTextHardSplitsLongSentence(t *testing.T) {
	long := strings.Repeat("x", 1200)
	chunks := ChunkText(long, 512)
	require.Len(t, chunks, 3)
	assert.Len(t, chunks[0], 512)
	assert.Len(t, chunks[1], 512)
	assert.Len(t, chunks[2], 176)
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "short", Preview("short"))
	long := strings.Repeat("y", 500)
	assert.Len(t, Preview(long), PreviewLen)
}
