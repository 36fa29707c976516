package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"timeblocks/internal/apperrors"
	"timeblocks/internal/model"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func newTestLifecycle(start time.Time) (*Lifecycle, *fakeSessions, *fakeClock) {
	clk := &fakeClock{now: start}
	sessions := newFakeSessions()
	return NewLifecycle(sessions, WithClock(clk.Now)), sessions, clk
}

func tick(t *testing.T, l *Lifecycle, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		l.Tick()
	}
}

func TestLifecycleStopUndoKeepsElapsed(t *testing.T) {
	ctx := context.Background()
	block := manual("deep-work", at(9, 0), at(10, 0))
	l, sessions, _ := newTestLifecycle(at(9, 0).Add(90 * time.Second))

	require.NoError(t, l.Start(ctx, block))
	snap := l.Snapshot()
	assert.Equal(t, StateRunning, snap.State)
	assert.EqualValues(t, 90, sessions.byID[snap.SessionID].TimeToStart)

	tick(t, l, 10)
	require.NoError(t, l.Stop(ctx, "interrupted", "finish intro"))
	snap = l.Snapshot()
	assert.Equal(t, StateStopping, snap.State)
	stopped := sessions.byID[snap.SessionID]
	assert.Equal(t, model.OutcomeAbandoned, stopped.Outcome)
	assert.Equal(t, "interrupted", *stopped.AbortReason)
	assert.Equal(t, "finish intro", *stopped.ResumeToken)
	assert.Equal(t, DefaultUndoWindow, snap.UndoRemaining)

	tick(t, l, 3)
	assert.Equal(t, 10*time.Second, l.Snapshot().Elapsed, "paused time is not counted")

	require.NoError(t, l.Undo(ctx))
	snap = l.Snapshot()
	assert.Equal(t, StateRunning, snap.State)
	resumed := sessions.byID[snap.SessionID]
	assert.Equal(t, model.OutcomeNone, resumed.Outcome)
	assert.Nil(t, resumed.AbortReason)
	assert.Nil(t, resumed.ResumeToken)
	assert.Equal(t, 10*time.Second, snap.Elapsed)

	tick(t, l, 1)
	assert.Equal(t, 11*time.Second, l.Snapshot().Elapsed)
}

func TestLifecycleCountdownAborts(t *testing.T) {
	ctx := context.Background()
	block := manual("admin", at(9, 0), at(9, 30))
	l, sessions, clk := newTestLifecycle(at(8, 55))

	require.NoError(t, l.Start(ctx, block))
	id := l.Snapshot().SessionID
	assert.EqualValues(t, 0, sessions.byID[id].TimeToStart, "early starts clamp to zero")

	require.NoError(t, l.Stop(ctx, "phone call", "reply to Sam"))
	clk.now = at(9, 10)
	tick(t, l, 4)
	assert.False(t, l.Snapshot().CountdownExpired())
	assert.True(t, l.Tick(), "tick reports the expired countdown")
	assert.True(t, l.Tick())
	assert.Equal(t, model.OutcomeAbandoned, sessions.byID[id].Outcome, "ticks never write")

	assert.ErrorIs(t, l.Undo(ctx), apperrors.ErrInvalidTransition)
	require.NoError(t, l.ConfirmAbort(ctx))
	assert.Equal(t, StateFinished, l.Snapshot().State)
	stored := sessions.byID[id]
	assert.Equal(t, model.OutcomeAborted, stored.Outcome)
	require.NotNil(t, stored.ActualEnd)
	assert.True(t, stored.ActualEnd.Equal(at(9, 10)))
	assert.Equal(t, "phone call", *stored.AbortReason)
	assert.Equal(t, "reply to Sam", *stored.ResumeToken)
}

func TestLifecycleConfirmAbortImmediately(t *testing.T) {
	ctx := context.Background()
	l, sessions, _ := newTestLifecycle(at(9, 0))
	require.NoError(t, l.Start(ctx, manual("x", at(9, 0), at(9, 30))))
	require.NoError(t, l.Stop(ctx, "", ""))
	require.NoError(t, l.ConfirmAbort(ctx))

	stored := sessions.byID[l.Snapshot().SessionID]
	assert.Equal(t, model.OutcomeAborted, stored.Outcome)
	assert.Nil(t, stored.AbortReason)
}

func TestLifecycleTerminalOutcomesAreFinal(t *testing.T) {
	ctx := context.Background()
	l, sessions, _ := newTestLifecycle(at(9, 5))
	require.NoError(t, l.Start(ctx, manual("x", at(9, 0), at(9, 30))))
	require.NoError(t, l.Done(ctx, "write tests"))

	id := l.Snapshot().SessionID
	done := sessions.byID[id]
	assert.Equal(t, model.OutcomeDone, done.Outcome)
	assert.Equal(t, "write tests", *done.ResumeToken)

	assert.ErrorIs(t, l.Stop(ctx, "", ""), apperrors.ErrInvalidTransition)
	assert.ErrorIs(t, l.Undo(ctx), apperrors.ErrInvalidTransition)
	assert.ErrorIs(t, l.Done(ctx, ""), apperrors.ErrInvalidTransition)
	assert.ErrorIs(t, l.ConfirmAbort(ctx), apperrors.ErrInvalidTransition)
	assert.Equal(t, done, sessions.byID[id])

	l2, _, _ := newTestLifecycle(at(9, 5))
	assert.ErrorIs(t, l2.Restore(manual("x", at(9, 0), at(9, 30)), done), apperrors.ErrInvalidTransition)
}

func TestLifecycleRollsBackOnStoreFailure(t *testing.T) {
	ctx := context.Background()
	l, sessions, _ := newTestLifecycle(at(9, 0))

	sessions.failErr = errStoreDown
	assert.ErrorIs(t, l.Start(ctx, manual("x", at(9, 0), at(9, 30))), errStoreDown)
	assert.Equal(t, StateIdle, l.Snapshot().State)

	sessions.failErr = nil
	require.NoError(t, l.Start(ctx, manual("x", at(9, 0), at(9, 30))))
	tick(t, l, 3)

	sessions.failErr = errStoreDown
	assert.ErrorIs(t, l.Stop(ctx, "", ""), errStoreDown)
	snap := l.Snapshot()
	assert.Equal(t, StateRunning, snap.State)
	assert.Equal(t, model.OutcomeNone, snap.Outcome)

	sessions.failErr = nil
	require.NoError(t, l.Stop(ctx, "", ""))
	tick(t, l, 5)

	sessions.failErr = errStoreDown
	assert.ErrorIs(t, l.ConfirmAbort(ctx), errStoreDown)
	snap = l.Snapshot()
	assert.Equal(t, StateStopping, snap.State)
	assert.True(t, snap.CountdownExpired())
	assert.Equal(t, 3*time.Second, snap.Elapsed)

	sessions.failErr = nil
	require.NoError(t, l.ConfirmAbort(ctx))
	assert.Equal(t, StateFinished, l.Snapshot().State)
}

func TestLifecycleSkipAndReset(t *testing.T) {
	ctx := context.Background()
	l, sessions, _ := newTestLifecycle(at(9, 20))
	block := manual("x", at(9, 0), at(9, 30))

	require.NoError(t, l.Skip(ctx, block, "not today"))
	snap := l.Snapshot()
	assert.Equal(t, StateFinished, snap.State)
	stored := sessions.byID[snap.SessionID]
	assert.Equal(t, model.OutcomeSkipped, stored.Outcome)
	assert.EqualValues(t, 20*60, stored.TimeToStart)

	require.NoError(t, l.Reset())
	assert.Equal(t, Snapshot{State: StateIdle}, l.Snapshot())

	require.NoError(t, l.Start(ctx, block))
	assert.ErrorIs(t, l.Reset(), apperrors.ErrInvalidTransition)
	assert.ErrorIs(t, l.Skip(ctx, block, ""), apperrors.ErrInvalidTransition)
	assert.ErrorIs(t, l.Start(ctx, block), apperrors.ErrInvalidTransition)
}

func TestLifecycleRestore(t *testing.T) {
	l, _, _ := newTestLifecycle(at(9, 10))
	block := manual("x", at(9, 0), at(9, 30))

	require.NoError(t, l.Restore(block, model.Session{ID: "s1", BlockRef: &block.ID, ActualStart: at(9, 2)}))
	snap := l.Snapshot()
	assert.Equal(t, StateRunning, snap.State)
	assert.Equal(t, 8*time.Minute, snap.Elapsed)
	assert.Equal(t, "s1", snap.SessionID)

}

func TestLifecycleRestoreStoppedSession(t *testing.T) {
	ctx := context.Background()
	block := manual("x", at(9, 0), at(9, 30))
	stoppedAt := at(9, 10).Add(-2 * time.Second)
	stopped := model.Session{
		ID:          "s1",
		OwnerID:     1,
		BlockRef:    &block.ID,
		ActualStart: at(9, 2),
		Outcome:     model.OutcomeAbandoned,
		AbortReason: strPtr("meeting ran over"),
		ResumeToken: strPtr("outline section 2"),
		UpdatedAt:   stoppedAt,
	}

	l, sessions, _ := newTestLifecycle(at(9, 10))
	sessions.byID[stopped.ID] = stopped
	require.NoError(t, l.Restore(block, stopped))
	snap := l.Snapshot()
	assert.Equal(t, StateStopping, snap.State)
	assert.Equal(t, 3*time.Second, snap.UndoRemaining, "only the rest of the window remains")
	assert.Equal(t, stoppedAt.Sub(at(9, 2)), snap.Elapsed)

	require.NoError(t, l.ConfirmAbort(ctx))
	stored := sessions.byID[stopped.ID]
	assert.Equal(t, model.OutcomeAborted, stored.Outcome)
	assert.Equal(t, "meeting ran over", *stored.AbortReason)
	assert.Equal(t, "outline section 2", *stored.ResumeToken)

	stale := stopped
	stale.UpdatedAt = at(9, 0)
	l2, _, _ := newTestLifecycle(at(9, 10))
	require.NoError(t, l2.Restore(block, stale))
	assert.True(t, l2.Snapshot().CountdownExpired())
	assert.ErrorIs(t, l2.Undo(ctx), apperrors.ErrInvalidTransition)
}

func TestLifecycleHandle(t *testing.T) {
	ctx := context.Background()
	clk := &fakeClock{now: at(9, 0)}
	l := NewLifecycle(newFakeSessions(), WithClock(clk.Now), WithUndoWindow(2*time.Second))
	block := manual("x", at(9, 0), at(9, 30))

	_, err := l.Handle(ctx, Command{Kind: CmdStart})
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	snap, err := l.Handle(ctx, Command{Kind: CmdStart, Block: &block})
	require.NoError(t, err)
	assert.Equal(t, "x", snap.BlockID)

	snap, err = l.Handle(ctx, Command{Kind: CmdStop, Reason: "bored"})
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, snap.UndoRemaining)

	_, err = l.Handle(ctx, Command{Kind: CmdTick})
	require.NoError(t, err)
	snap, err = l.Handle(ctx, Command{Kind: CmdTick})
	require.NoError(t, err)
	assert.True(t, snap.CountdownExpired())

	snap, err = l.Handle(ctx, Command{Kind: CmdConfirm})
	require.NoError(t, err)
	assert.Equal(t, StateFinished, snap.State)
	assert.Equal(t, model.OutcomeAborted, snap.Outcome)

	snap, err = l.Handle(ctx, Command{Kind: CmdReset})
	require.NoError(t, err)
	assert.Equal(t, StateIdle, snap.State)

	_, err = l.Handle(ctx, Command{Kind: CommandKind(99)})
	assert.ErrorIs(t, err, apperrors.ErrValidation)
	assert.Equal(t, "undo", CmdUndo.String())
}
