package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"timeblocks/internal/apperrors"
	"timeblocks/internal/model"
)

// DefaultUndoWindow is how long a stopped session can still be resumed.
const DefaultUndoWindow = 5 * time.Second

// TickInterval is the period at which callers should send CmdTick.
const TickInterval = time.Second

type TimerState string

const (
	StateIdle     TimerState = "idle"
	StateRunning  TimerState = "running"
	StateStopping TimerState = "stopping"
	StateFinished TimerState = "finished"
)

// CommandKind enumerates the messages a Lifecycle accepts.
type CommandKind int

const (
	CmdStart CommandKind = iota
	CmdStop
	CmdUndo
	CmdConfirm
	CmdDone
	CmdSkip
	CmdTick
	CmdReset
)

func (k CommandKind) String() string {
	switch k {
	case CmdStart:
		return "start"
	case CmdStop:
		return "stop"
	case CmdUndo:
		return "undo"
	case CmdConfirm:
		return "confirm"
	case CmdDone:
		return "done"
	case CmdSkip:
		return "skip"
	case CmdTick:
		return "tick"
	case CmdReset:
		return "reset"
	}
	return fmt.Sprintf("command(%d)", int(k))
}

// Command is one message for Lifecycle.Handle. Block is needed by start and skip.
type Command struct {
	Kind        CommandKind
	Block       *model.Block
	Reason      string
	ResumeToken string
}

// Snapshot is a read-only view of the timer.
type Snapshot struct {
	State         TimerState
	BlockID       string
	BlockTitle    string
	SessionID     string
	Outcome       model.Outcome
	Elapsed       time.Duration
	UndoRemaining time.Duration
}

// CountdownExpired reports a stopping session whose undo window has run out;
// the caller should confirm the abort.
func (s Snapshot) CountdownExpired() bool {
	return s.State == StateStopping && s.UndoRemaining <= 0
}

// Lifecycle drives a single execution attempt of a block:
//
//	idle -> running -> stopping -> running (undo) | finished (aborted)
//	running -> finished (done)
//	idle -> finished (skipped)
//
// Every transition is persisted before it becomes visible; when the store fails
// the timer keeps its previous state and the error is returned.
type Lifecycle struct {
	mu         sync.Mutex
	store      SessionWriter
	now        func() time.Time
	undoWindow time.Duration

	state   TimerState
	block   *model.Block
	session *model.Session
	elapsed time.Duration
	undo    time.Duration
	reason  string
	token   string
}

type LifecycleOption func(*Lifecycle)

func WithClock(now func() time.Time) LifecycleOption {
	return func(l *Lifecycle) { l.now = now }
}

func WithUndoWindow(d time.Duration) LifecycleOption {
	return func(l *Lifecycle) {
		if d > 0 {
			l.undoWindow = d
		}
	}
}

func NewLifecycle(store SessionWriter, opts ...LifecycleOption) *Lifecycle {
	l := &Lifecycle{
		store:      store,
		now:        time.Now,
		undoWindow: DefaultUndoWindow,
		state:      StateIdle,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Handle dispatches a command and returns the resulting snapshot.
func (l *Lifecycle) Handle(ctx context.Context, cmd Command) (Snapshot, error) {
	var err error
	switch cmd.Kind {
	case CmdStart:
		if cmd.Block == nil {
			return l.Snapshot(), fmt.Errorf("%w: start needs a block", apperrors.ErrValidation)
		}
		err = l.Start(ctx, *cmd.Block)
	case CmdStop:
		err = l.Stop(ctx, cmd.Reason, cmd.ResumeToken)
	case CmdUndo:
		err = l.Undo(ctx)
	case CmdConfirm:
		err = l.ConfirmAbort(ctx)
	case CmdDone:
		err = l.Done(ctx, cmd.ResumeToken)
	case CmdSkip:
		if cmd.Block == nil {
			return l.Snapshot(), fmt.Errorf("%w: skip needs a block", apperrors.ErrValidation)
		}
		err = l.Skip(ctx, *cmd.Block, cmd.Reason)
	case CmdTick:
		l.Tick()
	case CmdReset:
		err = l.Reset()
	default:
		err = fmt.Errorf("%w: unknown command %s", apperrors.ErrValidation, cmd.Kind)
	}
	return l.Snapshot(), err
}

func (l *Lifecycle) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snapshotLocked()
}

func (l *Lifecycle) snapshotLocked() Snapshot {
	snap := Snapshot{State: l.state, Elapsed: l.elapsed, UndoRemaining: l.undo}
	if l.block != nil {
		snap.BlockID = l.block.ID
		snap.BlockTitle = l.block.Title
	}
	if l.session != nil {
		snap.SessionID = l.session.ID
		snap.Outcome = l.session.Outcome
	}
	return snap
}

// Start opens a new session for block.
func (l *Lifecycle) Start(ctx context.Context, block model.Block) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != StateIdle && l.state != StateFinished {
		return l.invalid(CmdStart)
	}

	now := l.now()
	blockID := block.ID
	session := &model.Session{
		OwnerID:     block.OwnerID,
		BlockRef:    &blockID,
		ActualStart: now,
		TimeToStart: timeToStart(block, now),
	}
	if err := l.store.Create(ctx, session); err != nil {
		return fmt.Errorf("start session: %w", err)
	}

	l.state = StateRunning
	l.block = &block
	l.session = session
	l.elapsed = 0
	l.undo = 0
	l.reason, l.token = "", ""
	return nil
}

// Restore adopts a session persisted earlier, e.g. after a restart. An open
// session resumes running; an abandoned one resumes its undo countdown from the
// moment it was stopped, which may already have run out.
func (l *Lifecycle) Restore(block model.Block, session model.Session) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == StateRunning || l.state == StateStopping {
		return fmt.Errorf("%w: a session is already active", apperrors.ErrInvalidTransition)
	}
	now := l.now()
	pausedAt := now
	switch session.Outcome {
	case model.OutcomeNone:
		l.state = StateRunning
		l.undo = 0
		l.reason, l.token = "", ""
	case model.OutcomeAbandoned:
		pausedAt = session.UpdatedAt
		if pausedAt.IsZero() || pausedAt.After(now) {
			pausedAt = now
		}
		l.state = StateStopping
		l.undo = l.undoWindow - now.Sub(pausedAt)
		if l.undo < 0 {
			l.undo = 0
		}
		l.reason, l.token = deref(session.AbortReason), deref(session.ResumeToken)
	default:
		return fmt.Errorf("%w: session %s is already %s", apperrors.ErrInvalidTransition, session.ID, session.Outcome)
	}
	l.block = &block
	l.session = &session
	l.elapsed = pausedAt.Sub(session.ActualStart).Truncate(time.Second)
	if l.elapsed < 0 {
		l.elapsed = 0
	}
	return nil
}

// Stop marks the session abandoned and opens the undo countdown.
func (l *Lifecycle) Stop(ctx context.Context, reason, resumeToken string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != StateRunning {
		return l.invalid(CmdStop)
	}
	next := *l.session
	next.Outcome = model.OutcomeAbandoned
	next.AbortReason = optional(reason)
	next.ResumeToken = optional(resumeToken)
	next.UpdatedAt = l.now()
	if err := l.store.Update(ctx, &next); err != nil {
		return fmt.Errorf("stop session: %w", err)
	}
	l.session = &next
	l.state = StateStopping
	l.undo = l.undoWindow
	l.reason, l.token = reason, resumeToken
	return nil
}

// Undo reopens a stopping session; elapsed time continues where it paused.
func (l *Lifecycle) Undo(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != StateStopping {
		return l.invalid(CmdUndo)
	}
	if l.undo <= 0 {
		return fmt.Errorf("%w: undo window has passed", apperrors.ErrInvalidTransition)
	}
	next := *l.session
	next.Outcome = model.OutcomeNone
	next.AbortReason = nil
	next.ResumeToken = nil
	if err := l.store.Update(ctx, &next); err != nil {
		return fmt.Errorf("undo stop: %w", err)
	}
	l.session = &next
	l.state = StateRunning
	l.undo = 0
	l.reason, l.token = "", ""
	return nil
}

// ConfirmAbort finalizes a stopping session as aborted.
func (l *Lifecycle) ConfirmAbort(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.confirmLocked(ctx)
}

func (l *Lifecycle) confirmLocked(ctx context.Context) error {
	if l.state != StateStopping {
		return l.invalid(CmdConfirm)
	}
	now := l.now()
	next := *l.session
	next.ActualEnd = &now
	next.Outcome = model.OutcomeAborted
	next.AbortReason = optional(l.reason)
	next.ResumeToken = optional(l.token)
	if err := l.store.Update(ctx, &next); err != nil {
		return fmt.Errorf("abort session: %w", err)
	}
	l.session = &next
	l.state = StateFinished
	l.undo = 0
	return nil
}

// Done completes a running session.
func (l *Lifecycle) Done(ctx context.Context, resumeToken string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != StateRunning {
		return l.invalid(CmdDone)
	}
	now := l.now()
	next := *l.session
	next.ActualEnd = &now
	next.Outcome = model.OutcomeDone
	next.ResumeToken = optional(resumeToken)
	if err := l.store.Update(ctx, &next); err != nil {
		return fmt.Errorf("complete session: %w", err)
	}
	l.session = &next
	l.state = StateFinished
	return nil
}

// Skip records that block was deliberately not worked on.
func (l *Lifecycle) Skip(ctx context.Context, block model.Block, reason string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != StateIdle && l.state != StateFinished {
		return l.invalid(CmdSkip)
	}
	now := l.now()
	blockID := block.ID
	session := &model.Session{
		OwnerID:     block.OwnerID,
		BlockRef:    &blockID,
		ActualStart: now,
		ActualEnd:   &now,
		Outcome:     model.OutcomeSkipped,
		AbortReason: optional(reason),
		TimeToStart: timeToStart(block, now),
	}
	if err := l.store.Create(ctx, session); err != nil {
		return fmt.Errorf("skip block: %w", err)
	}
	l.state = StateFinished
	l.block = &block
	l.session = session
	l.elapsed = 0
	l.undo = 0
	return nil
}

// Tick advances elapsed time while running and counts down while stopping. It
// never touches the store: it returns true once the countdown has run out, and
// the caller finalizes with ConfirmAbort.
func (l *Lifecycle) Tick() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch l.state {
	case StateRunning:
		l.elapsed += TickInterval
	case StateStopping:
		if l.undo > 0 {
			l.undo -= TickInterval
		}
		if l.undo < 0 {
			l.undo = 0
		}
		return l.undo == 0
	}
	return false
}

// Reset drops local state after a session is finished.
func (l *Lifecycle) Reset() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == StateRunning || l.state == StateStopping {
		return l.invalid(CmdReset)
	}
	l.state = StateIdle
	l.block = nil
	l.session = nil
	l.elapsed = 0
	l.undo = 0
	l.reason, l.token = "", ""
	return nil
}

func (l *Lifecycle) invalid(cmd CommandKind) error {
	return fmt.Errorf("%w: cannot %s while %s", apperrors.ErrInvalidTransition, cmd, l.state)
}

func timeToStart(block model.Block, now time.Time) int64 {
	delay := now.Sub(block.PlannedStart)
	if delay < 0 {
		return 0
	}
	return int64(delay / time.Second)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
