package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"chatkit/assistant"
	"chatkit/attachment"
	"chatkit/contextstore"
	"chatkit/core"
	"chatkit/dictation"
	"chatkit/narration"
	"chatkit/panel"
	"chatkit/protocol"
)

// Backend persists session state remotely. backendsync.Client satisfies it.
type Backend interface {
	PersistSelection(ctx context.Context, sessionID string, documentIDs, noteIDs []string) error
	MarkDisplayed(ctx context.Context, messageID string) error
}

// Deps collects the collaborators the controller coordinates. Assistant is
// required; everything else degrades to a no-op when nil.
type Deps struct {
	Assistant   assistant.Assistant
	Backend     Backend
	Contexts    *contextstore.Store
	Attachments *attachment.Pipeline
	Narrator    *narration.Player
	Router      *panel.Router
}

// Config holds the controller's tunables.
type Config struct {
	// HistoryLimit caps how many prior turns accompany a submission.
	HistoryLimit int

	// PersistTimeout bounds best-effort backend writes.
	PersistTimeout time.Duration
}

// DefaultConfig returns the default controller configuration.
func DefaultConfig() Config {
	return Config{
		HistoryLimit:   20,
		PersistTimeout: 10 * time.Second,
	}
}

// Controller owns the session transcript, the compose buffer, and the
// submission lifecycle. All state behind the mutex; callbacks always fire
// outside it. It implements dictation.ComposeBuffer so the reconciler can
// write recognized speech straight into the draft.
type Controller struct {
	mu     sync.Mutex
	config Config
	deps   Deps
	logger *core.Logger

	scanner *panel.Scanner
	dict    *dictation.Reconciler

	sessionID string
	userID    string

	compose     string
	attachments []attachment.AttachedFile
	messages    []Message

	submitting     bool
	waitingDisplay bool
	loading        bool
	hasMore        bool

	streamSeq    uint64
	streamCancel context.CancelFunc

	onNotice   func(string)
	onMessages func([]Message)
}

// NewController creates a session controller.
func NewController(deps Deps, config Config, logger *core.Logger) *Controller {
	if config.HistoryLimit == 0 {
		config.HistoryLimit = DefaultConfig().HistoryLimit
	}
	if config.PersistTimeout == 0 {
		config.PersistTimeout = DefaultConfig().PersistTimeout
	}
	if logger == nil {
		logger = core.GetLogger()
	}
	return &Controller{
		config:  config,
		deps:    deps,
		logger:  logger.With(map[string]interface{}{"component": "session"}),
		scanner: panel.NewScanner(),
	}
}

// WithNoticeFunc registers a callback for user-facing notices.
func (c *Controller) WithNoticeFunc(fn func(string)) *Controller {
	c.onNotice = fn
	return c
}

// WithMessagesFunc registers a callback invoked with a snapshot of the
// transcript whenever it changes.
func (c *Controller) WithMessagesFunc(fn func([]Message)) *Controller {
	c.onMessages = fn
	return c
}

// SetDictation wires the dictation reconciler. The reconciler needs the
// controller as its compose buffer, so this happens after construction.
func (c *Controller) SetDictation(r *dictation.Reconciler) {
	c.dict = r
}

// SetIdentity records the authenticated user. An empty id blocks submission.
func (c *Controller) SetIdentity(userID string) {
	c.mu.Lock()
	c.userID = userID
	c.mu.Unlock()
}

// SessionID returns the active session id.
func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Submitting reports whether a submission is in flight.
func (c *Controller) Submitting() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.submitting
}

// Loading reports whether the backend is still producing a reply.
func (c *Controller) Loading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loading
}

// HasMore reports whether older messages exist beyond the loaded page.
func (c *Controller) HasMore() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hasMore
}

// Messages returns a snapshot of the transcript.
func (c *Controller) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// ComposeText returns the current draft. Part of dictation.ComposeBuffer.
func (c *Controller) ComposeText() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.compose
}

// SetComposeText replaces the draft. Part of dictation.ComposeBuffer.
func (c *Controller) SetComposeText(text string) {
	c.mu.Lock()
	c.compose = text
	c.mu.Unlock()
}

// AddFiles runs the files through the attachment pipeline and stages the
// accepted ones on the draft. Rejections surface as notices and are also
// returned; they never abort the batch.
func (c *Controller) AddFiles(ctx context.Context, files []attachment.SourceFile) []error {
	if c.deps.Attachments == nil {
		return []error{errors.New("session: attachments not supported")}
	}
	accepted, rejected := c.deps.Attachments.Ingest(ctx, files)

	c.mu.Lock()
	c.attachments = append(c.attachments, accepted...)
	c.mu.Unlock()

	for _, err := range rejected {
		c.notice(err.Error())
	}
	return rejected
}

// RemoveAttachment drops a staged attachment from the draft.
func (c *Controller) RemoveAttachment(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, a := range c.attachments {
		if a.ID == id {
			c.attachments = append(c.attachments[:i], c.attachments[i+1:]...)
			return
		}
	}
}

// Attachments returns a snapshot of the staged attachments.
func (c *Controller) Attachments() []attachment.AttachedFile {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]attachment.AttachedFile, len(c.attachments))
	copy(out, c.attachments)
	return out
}

// Submit sends the current draft to the assistant. At most one submission
// can be in flight; a second attempt surfaces a notice and returns
// ErrSubmitInFlight without touching the draft. On failure the draft is
// restored so nothing the user wrote is lost.
func (c *Controller) Submit(ctx context.Context) error {
	c.mu.Lock()
	if c.submitting {
		c.mu.Unlock()
		c.notice("Please wait for the current reply to finish.")
		return ErrSubmitInFlight
	}
	if c.awaitingDisplayLocked() {
		c.mu.Unlock()
		c.notice("Please wait for the previous reply to appear first.")
		return ErrAwaitingDisplay
	}
	content := strings.TrimSpace(c.compose)
	contextsEmpty := c.deps.Contexts == nil || c.deps.Contexts.IsEmpty()
	if content == "" && len(c.attachments) == 0 && contextsEmpty {
		c.mu.Unlock()
		return ErrEmptySubmission
	}
	if c.userID == "" {
		c.mu.Unlock()
		c.notice("You need to sign in before sending messages.")
		return ErrNotAuthenticated
	}
	prevCompose := c.compose
	staged := make([]attachment.AttachedFile, len(c.attachments))
	copy(staged, c.attachments)
	sessionID := c.sessionID
	c.mu.Unlock()

	docIDs, noteIDs := c.resolveContexts(ctx)

	var encoded []attachment.EncodedAttachment
	if len(staged) > 0 && c.deps.Attachments != nil {
		var err error
		encoded, err = c.deps.Attachments.Encode(ctx, staged)
		if err != nil {
			c.notice(fmt.Sprintf("Could not read attachments: %v", err))
			return fmt.Errorf("session: encode attachments: %w", err)
		}
	}

	c.mu.Lock()
	if c.submitting {
		c.mu.Unlock()
		return ErrSubmitInFlight
	}
	if c.sessionID != sessionID {
		// Session changed while we were encoding; the draft belongs to the
		// old session and has already been discarded.
		c.mu.Unlock()
		return ErrSessionChanged
	}
	now := time.Now()
	userMsg := Message{
		ID:                  NewOptimisticID(),
		Role:                RoleUser,
		Content:             content,
		Timestamp:           now,
		Status:              StatusOptimistic,
		AttachedDocumentIDs: docIDs,
		AttachedNoteIDs:     noteIDs,
	}
	asstMsg := Message{
		ID:        NewOptimisticID(),
		Role:      RoleAssistant,
		Timestamp: now,
		Status:    StatusOptimistic,
	}
	history := c.historyLocked(len(c.messages))
	c.messages = append(c.messages, userMsg, asstMsg)
	c.compose = ""
	c.attachments = nil
	c.submitting = true
	c.waitingDisplay = true
	c.streamSeq++
	seq := c.streamSeq
	sctx, cancel := context.WithCancel(context.Background())
	c.streamCancel = cancel
	c.mu.Unlock()
	c.notifyMessages()

	go c.persistSelection(sessionID, docIDs, noteIDs)

	c.scanner.Reset()
	if c.deps.Router != nil {
		c.deps.Router.BeginMessage()
	}

	req := assistant.Request{
		SessionID:   sessionID,
		Content:     content,
		DocumentIDs: docIDs,
		NoteIDs:     noteIDs,
		Attachments: encoded,
		History:     history,
	}
	go c.stream(sctx, seq, asstMsg.ID, req, prevCompose, staged)
	return nil
}

// MarkDisplayed records that a committed message reached the user's screen.
// Optimistic ids have no backend counterpart and are ignored. The call is
// idempotent; the backend mirror is best-effort.
func (c *Controller) MarkDisplayed(ctx context.Context, messageID string) error {
	if IsOptimisticID(messageID) {
		return nil
	}

	c.mu.Lock()
	idx := c.indexOfLocked(messageID)
	if idx < 0 {
		c.mu.Unlock()
		return ErrNoSuchMessage
	}
	if c.messages[idx].HasBeenDisplayed {
		c.mu.Unlock()
		return nil
	}
	c.messages[idx].HasBeenDisplayed = true
	if idx == len(c.messages)-1 && c.messages[idx].Role == RoleAssistant {
		c.waitingDisplay = false
	}
	c.mu.Unlock()
	c.notifyMessages()

	if c.deps.Backend != nil {
		if err := c.deps.Backend.MarkDisplayed(ctx, messageID); err != nil {
			c.logger.With(map[string]interface{}{"message_id": messageID, "error": err}).Warn("mark displayed not persisted")
		}
	}
	return nil
}

// Delete removes a message from the local transcript.
func (c *Controller) Delete(messageID string) error {
	c.mu.Lock()
	idx := c.indexOfLocked(messageID)
	if idx < 0 {
		c.mu.Unlock()
		return ErrNoSuchMessage
	}
	c.messages = append(c.messages[:idx], c.messages[idx+1:]...)
	c.mu.Unlock()
	c.notifyMessages()
	return nil
}

// Regenerate discards the most recent assistant reply and streams a new one
// in its place. Older replies cannot be regenerated.
func (c *Controller) Regenerate(messageID string) error {
	c.mu.Lock()
	if c.submitting {
		c.mu.Unlock()
		return ErrSubmitInFlight
	}
	idx := c.indexOfLocked(messageID)
	if idx < 0 {
		c.mu.Unlock()
		return ErrNoSuchMessage
	}
	if c.messages[idx].Role != RoleAssistant || idx != c.lastAssistantLocked() {
		c.mu.Unlock()
		return ErrNotLatestReply
	}
	return c.resendLocked(idx)
}

// Retry resubmits the exchange behind a failed reply, replacing the failed
// message rather than appending a new one.
func (c *Controller) Retry(messageID string) error {
	c.mu.Lock()
	if c.submitting {
		c.mu.Unlock()
		return ErrSubmitInFlight
	}
	idx := c.indexOfLocked(messageID)
	if idx < 0 {
		c.mu.Unlock()
		return ErrNoSuchMessage
	}
	if c.messages[idx].Status != StatusError {
		c.mu.Unlock()
		return ErrNotRetryable
	}
	return c.resendLocked(idx)
}

// resendLocked replaces the message at idx with a fresh optimistic reply and
// restreams the preceding user turn into it. Called with the lock held;
// releases it.
func (c *Controller) resendLocked(idx int) error {
	userIdx := -1
	for i := idx - 1; i >= 0; i-- {
		if c.messages[i].Role == RoleUser {
			userIdx = i
			break
		}
	}
	if userIdx < 0 {
		c.mu.Unlock()
		return ErrNoSuchMessage
	}
	user := c.messages[userIdx]

	fresh := Message{
		ID:        NewOptimisticID(),
		Role:      RoleAssistant,
		Timestamp: time.Now(),
		Status:    StatusOptimistic,
	}
	c.messages[idx] = fresh
	history := c.historyLocked(userIdx)
	c.submitting = true
	c.waitingDisplay = true
	c.streamSeq++
	seq := c.streamSeq
	sctx, cancel := context.WithCancel(context.Background())
	c.streamCancel = cancel
	sessionID := c.sessionID
	c.mu.Unlock()
	c.notifyMessages()

	c.scanner.Reset()
	if c.deps.Router != nil {
		c.deps.Router.BeginMessage()
	}

	req := assistant.Request{
		SessionID:   sessionID,
		Content:     user.Content,
		DocumentIDs: user.AttachedDocumentIDs,
		NoteIDs:     user.AttachedNoteIDs,
		History:     history,
	}
	go c.stream(sctx, seq, fresh.ID, req, "", nil)
	return nil
}

// SwitchSession abandons the current session's transient state and starts
// fresh. An in-flight stream is cancelled and its late callbacks discarded;
// the previous session's history is never mutated here, the backend will
// push the new session's list.
func (c *Controller) SwitchSession(sessionID string) {
	c.mu.Lock()
	if sessionID == c.sessionID {
		c.mu.Unlock()
		return
	}
	if c.streamCancel != nil {
		c.streamCancel()
		c.streamCancel = nil
	}
	c.streamSeq++
	c.submitting = false
	c.waitingDisplay = false
	c.sessionID = sessionID
	c.messages = nil
	c.compose = ""
	c.attachments = nil
	c.loading = false
	c.hasMore = false
	c.mu.Unlock()

	if c.deps.Contexts != nil {
		c.deps.Contexts.Clear()
	}
	c.scanner.Reset()
	if c.deps.Router != nil {
		c.deps.Router.Clear()
		c.deps.Router.BeginMessage()
	}
	if c.deps.Narrator != nil {
		c.deps.Narrator.ResetForSessionSwitch()
	}
	if c.dict != nil {
		if err := c.dict.Stop(); err != nil {
			c.logger.With(map[string]interface{}{"error": err}).Debug("stopping dictation on session switch")
		}
	}
	c.notifyMessages()
}

// ApplyMessages installs the backend's authoritative message list. Updates
// for other sessions are discarded. Local optimistic messages that the
// backend has not confirmed yet are carried over so an in-flight stream
// keeps its target.
func (c *Controller) ApplyMessages(sessionID string, wire []protocol.WireMessage) {
	c.mu.Lock()
	if sessionID != c.sessionID {
		c.mu.Unlock()
		c.logger.With(map[string]interface{}{"session_id": sessionID}).Debug("discarding update for inactive session")
		return
	}
	next := make([]Message, 0, len(wire))
	for _, w := range wire {
		next = append(next, fromWire(w))
	}
	if c.submitting {
		for _, m := range c.messages {
			if IsOptimisticID(m.ID) {
				next = append(next, m)
			}
		}
	}
	c.messages = next
	c.mu.Unlock()
	c.notifyMessages()
}

// SetLoading records the backend's reply-in-progress flag.
func (c *Controller) SetLoading(loading bool) {
	c.mu.Lock()
	c.loading = loading
	c.mu.Unlock()
}

// SetHasMore records whether older messages exist beyond the loaded page.
func (c *Controller) SetHasMore(hasMore bool) {
	c.mu.Lock()
	c.hasMore = hasMore
	c.mu.Unlock()
}

// ConfirmContextSelection resolves the current selection and writes it to
// the session record, independent of any submission.
func (c *Controller) ConfirmContextSelection(ctx context.Context) error {
	if c.deps.Backend == nil {
		return nil
	}
	docIDs, noteIDs := c.resolveContexts(ctx)
	return c.deps.Backend.PersistSelection(ctx, c.SessionID(), docIDs, noteIDs)
}

// ViewBlock shows a block on the side panel, bypassing the first-block
// latch.
func (c *Controller) ViewBlock(b panel.Block) {
	if c.deps.Router != nil {
		c.deps.Router.Show(b)
	}
}

// ClearPanel hides the side panel.
func (c *Controller) ClearPanel() {
	if c.deps.Router != nil {
		c.deps.Router.Clear()
	}
}

// StartDictation begins speech capture into the compose buffer.
func (c *Controller) StartDictation(ctx context.Context) error {
	if c.dict == nil {
		return dictation.ErrUnsupported
	}
	return c.dict.Start(ctx)
}

// StopDictation ends speech capture, flushing any pending interim text.
func (c *Controller) StopDictation() error {
	if c.dict == nil {
		return dictation.ErrUnsupported
	}
	return c.dict.Stop()
}

// SpeakMessage reads a message aloud.
func (c *Controller) SpeakMessage(messageID string) error {
	if c.deps.Narrator == nil {
		return narration.ErrUnsupported
	}
	c.mu.Lock()
	idx := c.indexOfLocked(messageID)
	if idx < 0 {
		c.mu.Unlock()
		return ErrNoSuchMessage
	}
	text := c.messages[idx].Content
	c.mu.Unlock()
	return c.deps.Narrator.Speak(messageID, text)
}

// StopNarration stops any current speech and suppresses auto-narration
// until the next session switch.
func (c *Controller) StopNarration() error {
	if c.deps.Narrator == nil {
		return narration.ErrUnsupported
	}
	return c.deps.Narrator.Stop()
}

// --- internals ---

// stream consumes the assistant's reply events for one submission. seq
// guards against callbacks landing after a session switch.
func (c *Controller) stream(ctx context.Context, seq uint64, targetID string, req assistant.Request, prevCompose string, prevAttachments []attachment.AttachedFile) {
	events := make(chan assistant.StreamEvent, 16)
	go func() {
		defer close(events)
		_ = c.deps.Assistant.Send(ctx, req, events)
	}()

	for ev := range events {
		switch ev.Type {
		case assistant.StreamChunk:
			c.applyChunk(seq, targetID, ev.Chunk)
		case assistant.StreamCompleted:
			c.completeStream(seq, targetID, ev.FullText)
		case assistant.StreamErrored:
			c.failStream(seq, targetID, ev.Err, prevCompose, prevAttachments)
		}
	}
}

func (c *Controller) applyChunk(seq uint64, targetID, chunk string) {
	c.mu.Lock()
	if seq != c.streamSeq {
		c.mu.Unlock()
		return
	}
	idx := c.indexOfLocked(targetID)
	if idx < 0 {
		c.mu.Unlock()
		return
	}
	c.messages[idx].Content += chunk
	c.mu.Unlock()
	c.notifyMessages()

	c.dispatchScan(c.scanner.Feed(chunk))
}

func (c *Controller) completeStream(seq uint64, targetID, fullText string) {
	c.mu.Lock()
	if seq != c.streamSeq {
		c.mu.Unlock()
		return
	}
	idx := c.indexOfLocked(targetID)
	if idx >= 0 {
		if fullText != "" {
			c.messages[idx].Content = fullText
		}
		fullText = c.messages[idx].Content
	}
	c.submitting = false
	c.streamCancel = nil
	loading := c.loading
	c.mu.Unlock()
	c.notifyMessages()

	c.dispatchScan(c.scanner.Finalize())

	if c.deps.Narrator != nil && idx >= 0 {
		c.deps.Narrator.MaybeAutoSpeak(targetID, fullText, true, false, loading)
	}
}

func (c *Controller) failStream(seq uint64, targetID string, err error, prevCompose string, prevAttachments []attachment.AttachedFile) {
	failure := FailureMessage(err)

	c.mu.Lock()
	if seq != c.streamSeq {
		c.mu.Unlock()
		return
	}
	idx := c.indexOfLocked(targetID)
	if idx >= 0 {
		c.messages[idx].Content = failure
		c.messages[idx].Status = StatusError
	}
	// Give the user their draft back unless they started typing again.
	if c.compose == "" {
		c.compose = prevCompose
	}
	if len(c.attachments) == 0 {
		c.attachments = prevAttachments
	}
	c.submitting = false
	c.waitingDisplay = false
	c.streamCancel = nil
	c.mu.Unlock()
	c.notifyMessages()

	c.logger.With(map[string]interface{}{"error": err}).Error("submission failed")
	c.notice(failure)
}

func (c *Controller) dispatchScan(events []panel.ScanEvent) {
	if c.deps.Router == nil {
		return
	}
	for _, ev := range events {
		switch ev.Type {
		case panel.BlockDetected:
			c.deps.Router.OnBlockDetected(ev.Index, ev.Block)
		case panel.BlockUpdated:
			c.deps.Router.OnBlockUpdate(ev.Index, ev.Block)
		case panel.BlockEnded:
			c.deps.Router.OnBlockEnd(ev.Index, ev.Block)
		}
	}
}

// resolveContexts confirms the selected context ids against the resolver.
// A resolver failure falls back to the raw selection rather than blocking
// the submission.
func (c *Controller) resolveContexts(ctx context.Context) (docIDs, noteIDs []string) {
	if c.deps.Contexts == nil {
		return nil, nil
	}
	docIDs, noteIDs, err := c.deps.Contexts.Resolve(ctx)
	if err != nil {
		c.logger.With(map[string]interface{}{"error": err}).Warn("context resolution failed, using raw selection")
		return c.deps.Contexts.DocumentIDs(), c.deps.Contexts.NoteIDs()
	}
	return docIDs, noteIDs
}

func (c *Controller) persistSelection(sessionID string, docIDs, noteIDs []string) {
	if c.deps.Backend == nil || (len(docIDs) == 0 && len(noteIDs) == 0) {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.config.PersistTimeout)
	defer cancel()
	if err := c.deps.Backend.PersistSelection(ctx, sessionID, docIDs, noteIDs); err != nil {
		c.logger.With(map[string]interface{}{"session_id": sessionID, "error": err}).Warn("context selection not persisted")
	}
}

// awaitingDisplayLocked reports whether a reply from a previous submission
// still has to reach the user's screen: either the display-gate flag set at
// submit time has not been cleared by MarkDisplayed, or an optimistic
// assistant placeholder is still pending. Failed replies never gate; Retry
// handles those.
func (c *Controller) awaitingDisplayLocked() bool {
	if c.waitingDisplay {
		return true
	}
	for i := len(c.messages) - 1; i >= 0; i-- {
		m := c.messages[i]
		if m.Role != RoleAssistant {
			continue
		}
		return IsOptimisticID(m.ID) && m.Status != StatusError && !m.HasBeenDisplayed
	}
	return false
}

func (c *Controller) indexOfLocked(messageID string) int {
	for i := range c.messages {
		if c.messages[i].ID == messageID {
			return i
		}
	}
	return -1
}

func (c *Controller) lastAssistantLocked() int {
	for i := len(c.messages) - 1; i >= 0; i-- {
		if c.messages[i].Role == RoleAssistant {
			return i
		}
	}
	return -1
}

// historyLocked builds the prior turns handed to the assistant, newest
// HistoryLimit turns from the first upTo messages. Failed replies are
// skipped.
func (c *Controller) historyLocked(upTo int) []assistant.Turn {
	var turns []assistant.Turn
	for _, m := range c.messages[:upTo] {
		if m.Status == StatusError || m.Content == "" {
			continue
		}
		role := assistant.RoleUser
		if m.Role == RoleAssistant {
			role = assistant.RoleAssistant
		}
		turns = append(turns, assistant.Turn{Role: role, Content: m.Content})
	}
	if len(turns) > c.config.HistoryLimit {
		turns = turns[len(turns)-c.config.HistoryLimit:]
	}
	return turns
}

func (c *Controller) notice(text string) {
	if c.onNotice != nil {
		c.onNotice(text)
	}
}

func (c *Controller) notifyMessages() {
	if c.onMessages == nil {
		return
	}
	c.onMessages(c.Messages())
}
