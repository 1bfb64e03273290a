package agent

import (
	"context"
	"sync"
)

// InterruptKind distinguishes a redirect from an abort.
type InterruptKind string

const (
	// InterruptSoft asks the innermost running agent to pause after its
	// current tool batch, accept replacement input, and continue the turn.
	// Delivered on the first interrupt received for a frame.
	InterruptSoft InterruptKind = "soft"

	// InterruptHard cancels the innermost running agent outright. Delivered
	// when a second interrupt arrives for a frame that is already
	// soft-paused, or when the caller explicitly requests an abort.
	InterruptHard InterruptKind = "hard"
)

// Interrupt carries the payload delivered to a frame's interrupt channel.
type Interrupt struct {
	Kind InterruptKind

	// Input replaces or is appended to the agent's pending turn input for a
	// soft interrupt. Unused for hard interrupts.
	Input string
}

// interruptFrame is one entry in the manager's LIFO stack. Each running
// agent (top-level or nested via the Invocation Boundary) pushes a frame on
// start and pops it on exit, so an interrupt delivered to the manager
// always lands on the innermost agent currently executing.
type interruptFrame struct {
	agentID string
	cancel  context.CancelFunc
	ch      chan Interrupt
	input   chan string

	mu     sync.Mutex
	soft   bool // true once a soft interrupt has been delivered and not yet consumed
}

// InterruptManager is a process-wide, LIFO stack of per-agent interrupt
// frames. It is a singleton per process: every agent run, regardless of
// nesting depth, registers and deregisters a frame with the same manager.
// Only the frame on top of the stack (the innermost executing agent)
// receives an interrupt; outer frames are unaffected until the inner one
// completes and is popped.
type InterruptManager struct {
	mu     sync.Mutex
	frames []*interruptFrame
}

// NewInterruptManager returns an empty manager. Callers typically construct
// exactly one per process and share it across all agent runs via context.
func NewInterruptManager() *InterruptManager {
	return &InterruptManager{}
}

// Push registers a new frame for agentID and returns a handle used to poll
// for interrupts and to pop the frame when the agent's turn loop exits.
// cancel is invoked when a hard interrupt is delivered to this frame.
func (m *InterruptManager) Push(agentID string, cancel context.CancelFunc) *InterruptHandle {
	f := &interruptFrame{
		agentID: agentID,
		cancel:  cancel,
		ch:      make(chan Interrupt, 1),
		input:   make(chan string, 1),
	}
	m.mu.Lock()
	m.frames = append(m.frames, f)
	m.mu.Unlock()
	return &InterruptHandle{manager: m, frame: f}
}

// Pop removes the given frame from the stack. It is a no-op if the frame
// has already been popped. Safe to call even if the frame is not currently
// on top (e.g. after a panic unwinds out of order).
func (m *InterruptManager) pop(f *interruptFrame) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.frames) - 1; i >= 0; i-- {
		if m.frames[i] == f {
			m.frames = append(m.frames[:i], m.frames[i+1:]...)
			return
		}
	}
}

// Interrupt delivers an interrupt to the innermost (topmost) frame. Returns
// false if no agent is currently running. The first call for a frame is
// always treated as soft regardless of the requested kind; a caller that
// wants to force an immediate abort should call Interrupt twice, or use
// Abort.
func (m *InterruptManager) Interrupt(input string) bool {
	m.mu.Lock()
	if len(m.frames) == 0 {
		m.mu.Unlock()
		return false
	}
	f := m.frames[len(m.frames)-1]
	m.mu.Unlock()

	f.mu.Lock()
	alreadySoft := f.soft
	if !alreadySoft {
		f.soft = true
	}
	f.mu.Unlock()

	kind := InterruptSoft
	if alreadySoft {
		kind = InterruptHard
	}

	select {
	case f.ch <- Interrupt{Kind: kind, Input: input}:
	default:
		// Channel already holds an undelivered interrupt; a hard interrupt
		// always wins so replace it.
		if kind == InterruptHard {
			select {
			case <-f.ch:
			default:
			}
			f.ch <- Interrupt{Kind: kind, Input: input}
		}
	}

	if kind == InterruptHard && f.cancel != nil {
		f.cancel()
	}
	return true
}

// Abort delivers an immediate hard interrupt to the innermost frame,
// bypassing the soft-first escalation. Returns false if no agent is
// running.
func (m *InterruptManager) Abort() bool {
	m.mu.Lock()
	if len(m.frames) == 0 {
		m.mu.Unlock()
		return false
	}
	f := m.frames[len(m.frames)-1]
	m.mu.Unlock()

	f.mu.Lock()
	f.soft = true
	f.mu.Unlock()

	select {
	case f.ch <- Interrupt{Kind: InterruptHard}:
	default:
		select {
		case <-f.ch:
		default:
		}
		f.ch <- Interrupt{Kind: InterruptHard}
	}
	if f.cancel != nil {
		f.cancel()
	}
	return true
}

// ProvideInput resolves the innermost frame's soft-interrupt rendezvous
// with operator text. The channel is buffered, so the host may set the
// text before the driver has even observed the interrupt (pre-emptive
// delivery); the driver then consumes the pre-set value without
// re-blocking. Returns false when no agent is running or when an earlier
// input has not yet been consumed.
func (m *InterruptManager) ProvideInput(text string) bool {
	m.mu.Lock()
	if len(m.frames) == 0 {
		m.mu.Unlock()
		return false
	}
	f := m.frames[len(m.frames)-1]
	m.mu.Unlock()

	select {
	case f.input <- text:
		return true
	default:
		return false
	}
}

// Depth returns the number of frames currently on the stack.
func (m *InterruptManager) Depth() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.frames)
}

// InterruptHandle is the per-frame view of the InterruptManager given to
// an agent's turn loop. It is not safe for concurrent use by more than one
// goroutine driving the same agent.
type InterruptHandle struct {
	manager *InterruptManager
	frame   *interruptFrame
}

// Chan returns the channel the turn loop should select on alongside model
// streaming and tool execution to detect interrupts without polling.
func (h *InterruptHandle) Chan() <-chan Interrupt {
	return h.frame.ch
}

// InputChan returns the one-shot rendezvous channel the turn loop parks
// on after a soft interrupt that carried no replacement text. The host
// resolves it via InterruptManager.ProvideInput.
func (h *InterruptHandle) InputChan() <-chan string {
	return h.frame.input
}

// ConsumeSoft clears the soft flag after the turn loop has folded a soft
// interrupt's replacement input into the next turn. Until this is called,
// a second interrupt escalates to hard rather than being treated as a
// fresh soft one.
func (h *InterruptHandle) ConsumeSoft() {
	h.frame.mu.Lock()
	h.frame.soft = false
	h.frame.mu.Unlock()
}

// Close pops this frame from the manager's stack. Must be called exactly
// once when the agent's turn loop exits, regardless of outcome.
func (h *InterruptHandle) Close() {
	h.manager.pop(h.frame)
}

type interruptManagerKey struct{}

// WithInterruptManager stores the process-wide InterruptManager in context.
func WithInterruptManager(ctx context.Context, m *InterruptManager) context.Context {
	return context.WithValue(ctx, interruptManagerKey{}, m)
}

// InterruptManagerFromContext retrieves the InterruptManager from context,
// or nil if none was installed (interrupts are then simply unavailable).
func InterruptManagerFromContext(ctx context.Context) *InterruptManager {
	m, _ := ctx.Value(interruptManagerKey{}).(*InterruptManager)
	return m
}
