package panel

import (
	"sync"

	"chatkit/core"
)

// BlockKind identifies the flavor of a structured content block.
type BlockKind string

const (
	BlockCode    BlockKind = "code"
	BlockDiagram BlockKind = "diagram"
	BlockMarkup  BlockKind = "markup"
	BlockSlides  BlockKind = "slides"
)

// Block is the payload mirrored into the side panel.
type Block struct {
	Kind     BlockKind
	Content  string
	Language string
	ImageURL string
}

// Config configures the router.
type Config struct {
	// AutoMirror enables mirroring of streamed blocks. Manual Show calls
	// work regardless.
	AutoMirror bool
}

// Router observes structured blocks in a streaming assistant message and
// mirrors the first one into the side panel (first-block-wins). Later blocks
// of the same message are ignored; a manual Show always replaces the panel.
type Router struct {
	logger   *core.Logger
	onChange func(*Block)

	mu            sync.Mutex
	autoMirror    bool
	active        *Block
	mirroredIndex int
	mirrored      bool
}

// NewRouter creates a Router.
func NewRouter(config Config, logger *core.Logger) *Router {
	if logger == nil {
		logger = core.GetLogger()
	}
	return &Router{
		logger:        logger.With(map[string]interface{}{"component": "panel"}),
		autoMirror:    config.AutoMirror,
		mirroredIndex: -1,
	}
}

// WithChangeFunc registers the side-panel consumer. It receives nil when the
// panel is cleared. Returns the router to allow chaining.
func (r *Router) WithChangeFunc(fn func(*Block)) *Router {
	r.onChange = fn
	return r
}

// SetAutoMirror toggles mirroring of streamed blocks.
func (r *Router) SetAutoMirror(enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.autoMirror = enabled
}

// Active returns a copy of the currently shown block, or nil.
func (r *Router) Active() *Block {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == nil {
		return nil
	}
	b := *r.active
	return &b
}

// BeginMessage resets the first-block-wins latch for a new streaming
// assistant message.
func (r *Router) BeginMessage() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mirrored = false
	r.mirroredIndex = -1
}

// OnBlockDetected engages mirroring for the first block of the current
// message. Subsequent blocks are ignored.
func (r *Router) OnBlockDetected(index int, b Block) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.autoMirror || r.mirrored {
		return
	}
	r.mirrored = true
	r.mirroredIndex = index
	r.setActiveLocked(b)
}

// OnBlockUpdate applies streamed growth of the mirrored block. Updates for
// any other block are ignored.
func (r *Router) OnBlockUpdate(index int, b Block) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.autoMirror || index != r.mirroredIndex {
		return
	}
	r.setActiveLocked(b)
}

// OnBlockEnd applies the final content of the mirrored block.
func (r *Router) OnBlockEnd(index int, b Block) {
	r.OnBlockUpdate(index, b)
}

// Show is the manual "view content" path. It bypasses first-block-wins and
// always replaces the panel. The panel is cleared first so a consumer keyed
// on payload identity re-renders even when the same payload is shown again.
func (r *Router) Show(b Block) {
	r.mu.Lock()
	r.active = nil
	r.notifyLocked()
	r.active = &b
	r.notifyLocked()
	r.mu.Unlock()
}

// Clear empties the panel.
func (r *Router) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == nil {
		return
	}
	r.active = nil
	r.notifyLocked()
}

// setActiveLocked is idempotent: an identical payload triggers no re-render.
func (r *Router) setActiveLocked(b Block) {
	if r.active != nil && *r.active == b {
		return
	}
	r.active = &b
	r.notifyLocked()
}

func (r *Router) notifyLocked() {
	if r.onChange == nil {
		return
	}
	if r.active == nil {
		r.onChange(nil)
		return
	}
	b := *r.active
	r.onChange(&b)
}
