package panel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(s *Scanner, chunks ...string) []ScanEvent {
	var events []ScanEvent
	for _, c := range chunks {
		events = append(events, s.Feed(c)...)
	}
	events = append(events, s.Finalize()...)
	return events
}

func TestScannerDetectsSingleBlock(t *testing.T) {
	s := NewScanner()
	events := collect(s, "Here you go:\n```go\nx := 1\ny := 2\n```\nDone.\n")

	require.Len(t, events, 2)
	assert.Equal(t, BlockDetected, events[0].Type)
	assert.Equal(t, 0, events[0].Index)
	assert.Equal(t, BlockCode, events[0].Block.Kind)
	assert.Equal(t, "go", events[0].Block.Language)

	assert.Equal(t, BlockEnded, events[1].Type)
	assert.Equal(t, "x := 1\ny := 2", events[1].Block.Content)
}

func TestScannerSurvivesArbitraryChunkBoundaries(t *testing.T) {
	s := NewScanner()
	events := collect(s, "``", "`mer", "maid\ngraph", " TD\nA-->B\n`", "``\n")

	require.NotEmpty(t, events)
	assert.Equal(t, BlockDetected, events[0].Type)
	assert.Equal(t, BlockDiagram, events[0].Block.Kind)

	last := events[len(events)-1]
	assert.Equal(t, BlockEnded, last.Type)
	assert.Equal(t, "graph TD\nA-->B", last.Block.Content)
}

func TestScannerIndexesMultipleBlocks(t *testing.T) {
	s := NewScanner()
	events := collect(s, "```go\na\n```\ntext\n```mermaid\nb\n```\n")

	var detected []ScanEvent
	for _, ev := range events {
		if ev.Type == BlockDetected {
			detected = append(detected, ev)
		}
	}
	require.Len(t, detected, 2)
	assert.Equal(t, 0, detected[0].Index)
	assert.Equal(t, BlockCode, detected[0].Block.Kind)
	assert.Equal(t, 1, detected[1].Index)
	assert.Equal(t, BlockDiagram, detected[1].Block.Kind)
}

func TestScannerFinalizeFlushesOpenBlock(t *testing.T) {
	s := NewScanner()
	events := collect(s, "```python\nprint('hi')")

	require.Len(t, events, 2)
	assert.Equal(t, BlockDetected, events[0].Type)
	assert.Equal(t, BlockUpdated, events[1].Type)
	assert.Equal(t, "print('hi')", events[1].Block.Content)
}

func TestScannerStreamedGrowthEmitsUpdates(t *testing.T) {
	s := NewScanner()
	ev1 := s.Feed("```go\nline1\n")
	ev2 := s.Feed("line2\n")
	ev3 := s.Feed("```\n")

	require.Len(t, ev1, 2)
	assert.Equal(t, BlockDetected, ev1[0].Type)
	assert.Equal(t, "line1", ev1[1].Block.Content)

	require.Len(t, ev2, 1)
	assert.Equal(t, BlockUpdated, ev2[0].Type)
	assert.Equal(t, "line1\nline2", ev2[0].Block.Content)

	require.Len(t, ev3, 1)
	assert.Equal(t, BlockEnded, ev3[0].Type)
}

func TestScannerClassifiesLanguages(t *testing.T) {
	tests := []struct {
		language string
		want     BlockKind
	}{
		{"go", BlockCode},
		{"", BlockCode},
		{"mermaid", BlockDiagram},
		{"Mermaid", BlockDiagram},
		{"html", BlockMarkup},
		{"svg", BlockMarkup},
		{"marp", BlockSlides},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, classifyLanguage(tt.language), "language %q", tt.language)
	}
}

func TestScannerIgnoresProseOnlyStream(t *testing.T) {
	s := NewScanner()
	events := collect(s, "Just a plain answer\nwith two lines.\n")
	assert.Empty(t, events)
}

func TestScannerResetForNewMessage(t *testing.T) {
	s := NewScanner()
	collect(s, "```go\na\n```\n")

	s.Reset()
	events := collect(s, "```mermaid\nb\n```\n")

	require.NotEmpty(t, events)
	assert.Equal(t, 0, events[0].Index, "index restarts per message")
}
