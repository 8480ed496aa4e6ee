package panel

import "strings"

// ScanEventType tells the router how to treat a scanned block.
type ScanEventType int

const (
	BlockDetected ScanEventType = iota
	BlockUpdated
	BlockEnded
)

// ScanEvent is one observation of a structured block inside a streamed
// assistant message. Index counts blocks within the message, starting at 0.
type ScanEvent struct {
	Type  ScanEventType
	Index int
	Block Block
}

// Scanner incrementally detects fenced blocks in streamed message chunks.
// Chunks can split anywhere, including mid-fence; incomplete trailing lines
// are carried over to the next Feed.
type Scanner struct {
	partial  string
	inFence  bool
	language string
	kind     BlockKind
	lines    []string
	index    int
	count    int
	dirty    bool
	started  bool
}

// NewScanner creates a Scanner for a single streaming message.
func NewScanner() *Scanner {
	return &Scanner{index: -1}
}

// Reset prepares the scanner for a new message.
func (s *Scanner) Reset() {
	*s = Scanner{index: -1}
}

// Feed consumes the next streamed chunk and returns the block events it
// completes, in order.
func (s *Scanner) Feed(chunk string) []ScanEvent {
	s.partial += chunk
	segments := strings.Split(s.partial, "\n")
	s.partial = segments[len(segments)-1]

	var events []ScanEvent
	for _, line := range segments[:len(segments)-1] {
		events = append(events, s.consumeLine(line)...)
	}
	events = append(events, s.progress()...)
	return events
}

// Finalize consumes any carried partial line and reports the last state of a
// still-open block. Call when the stream completes.
func (s *Scanner) Finalize() []ScanEvent {
	var events []ScanEvent
	if s.partial != "" {
		line := s.partial
		s.partial = ""
		events = append(events, s.consumeLine(line)...)
	}
	events = append(events, s.progress()...)
	return events
}

func (s *Scanner) consumeLine(line string) []ScanEvent {
	trimmed := strings.TrimSpace(line)

	if !s.inFence {
		if strings.HasPrefix(trimmed, "```") {
			s.inFence = true
			s.language = strings.TrimSpace(strings.TrimPrefix(trimmed, "```"))
			s.kind = classifyLanguage(s.language)
			s.lines = nil
			s.index = s.count
			s.count++
			s.started = true
			return []ScanEvent{{Type: BlockDetected, Index: s.index, Block: s.block()}}
		}
		return nil
	}

	if strings.HasPrefix(trimmed, "```") {
		ev := ScanEvent{Type: BlockEnded, Index: s.index, Block: s.block()}
		s.inFence = false
		s.dirty = false
		s.started = false
		return []ScanEvent{ev}
	}

	s.lines = append(s.lines, line)
	s.dirty = true
	return nil
}

// progress emits an update when the open block accumulated content since the
// last event.
func (s *Scanner) progress() []ScanEvent {
	if !s.inFence || !s.dirty {
		return nil
	}
	s.dirty = false
	return []ScanEvent{{Type: BlockUpdated, Index: s.index, Block: s.block()}}
}

func (s *Scanner) block() Block {
	return Block{
		Kind:     s.kind,
		Content:  strings.Join(s.lines, "\n"),
		Language: s.language,
	}
}

func classifyLanguage(language string) BlockKind {
	switch strings.ToLower(language) {
	case "mermaid":
		return BlockDiagram
	case "html", "svg", "xml":
		return BlockMarkup
	case "slides", "marp":
		return BlockSlides
	default:
		return BlockCode
	}
}
