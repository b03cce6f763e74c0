package pipeline

import (
	"errors"
	"strings"
	"testing"

	"checkdoc-go/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewChunkerRejectsInvalidParameters(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.ChunkingConfig
	}{
		{"zero size", config.ChunkingConfig{Size: 0, Overlap: 0}},
		{"negative size", config.ChunkingConfig{Size: -10, Overlap: 0}},
		{"negative overlap", config.ChunkingConfig{Size: 100, Overlap: -1}},
		{"overlap equals size", config.ChunkingConfig{Size: 100, Overlap: 100}},
		{"overlap exceeds size", config.ChunkingConfig{Size: 100, Overlap: 150}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewChunker(tt.cfg)
			require.Error(t, err)
			var chunkErr *ChunkingError
			assert.True(t, errors.As(err, &chunkErr))
		})
	}
}

func TestSplitEmptyText(t *testing.T) {
	chunker, err := NewChunker(config.ChunkingConfig{Size: 100, Overlap: 20})
	require.NoError(t, err)

	assert.Nil(t, chunker.Split(""))
}

func TestSplitShortTextProducesSinglePiece(t *testing.T) {
	chunker, err := NewChunker(config.ChunkingConfig{Size: 100, Overlap: 20})
	require.NoError(t, err)

	pieces := chunker.Split("short text")
	require.Len(t, pieces, 1)
	assert.Equal(t, 0, pieces[0].Seq)
	assert.Equal(t, "short text", pieces[0].Text)
	assert.Equal(t, 0, pieces[0].Start)
	assert.Equal(t, 10, pieces[0].End)
}

func TestSplitIsDeterministic(t *testing.T) {
	chunker, err := NewChunker(config.ChunkingConfig{Size: 50, Overlap: 10, Tolerance: 15})
	require.NoError(t, err)

	text := strings.Repeat("Der Vertrag beginnt am ersten Januar. ", 20)
	first := chunker.Split(text)
	second := chunker.Split(text)
	assert.Equal(t, first, second)
}

func TestSplitReconstructsOriginalText(t *testing.T) {
	overlap := 10
	chunker, err := NewChunker(config.ChunkingConfig{Size: 60, Overlap: overlap, Tolerance: 20})
	require.NoError(t, err)

	text := "Die Versicherung deckt Schäden ab. " +
		strings.Repeat("Jeder Abschnitt des Dokuments enthält weitere Klauseln und Bedingungen. ", 8) +
		"Ende."
	pieces := chunker.Split(text)
	require.NotEmpty(t, pieces)

	var b strings.Builder
	for i, piece := range pieces {
		if i == 0 {
			b.WriteString(piece.Text)
			continue
		}
		runes := []rune(piece.Text)
		b.WriteString(string(runes[overlap:]))
	}
	assert.Equal(t, text, b.String())
}

func TestSplitOffsetsAreConsistent(t *testing.T) {
	chunker, err := NewChunker(config.ChunkingConfig{Size: 40, Overlap: 8, Tolerance: 10})
	require.NoError(t, err)

	text := strings.Repeat("Ein Satz mit einigen Wörtern darin. ", 10)
	runes := []rune(text)
	pieces := chunker.Split(text)
	require.NotEmpty(t, pieces)

	for i, piece := range pieces {
		assert.Equal(t, i, piece.Seq)
		assert.Equal(t, string(runes[piece.Start:piece.End]), piece.Text)
		if i > 0 {
			assert.Equal(t, pieces[i-1].End-8, piece.Start)
		}
	}
	assert.Equal(t, len(runes), pieces[len(pieces)-1].End)
}

func TestSplitPrefersParagraphBoundary(t *testing.T) {
	chunker, err := NewChunker(config.ChunkingConfig{Size: 20, Overlap: 5, Tolerance: 10})
	require.NoError(t, err)

	text := "aaaaaaaaaa\n\n" + strings.Repeat("b", 30)
	pieces := chunker.Split(text)
	require.True(t, len(pieces) >= 2)
	assert.Equal(t, "aaaaaaaaaa\n\n", pieces[0].Text)
}

func TestSplitPrefersWordBoundary(t *testing.T) {
	chunker, err := NewChunker(config.ChunkingConfig{Size: 10, Overlap: 2, Tolerance: 5})
	require.NoError(t, err)

	pieces := chunker.Split("hello world and more words here")
	require.NotEmpty(t, pieces)
	assert.Equal(t, "hello ", pieces[0].Text)
}

func TestSplitHandlesMultibyteRunes(t *testing.T) {
	chunker, err := NewChunker(config.ChunkingConfig{Size: 15, Overlap: 3})
	require.NoError(t, err)

	text := strings.Repeat("Prüfung größer Maße ", 5)
	runes := []rune(text)
	pieces := chunker.Split(text)
	require.NotEmpty(t, pieces)
	for _, piece := range pieces {
		assert.Equal(t, string(runes[piece.Start:piece.End]), piece.Text)
	}
}
