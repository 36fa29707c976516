package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"timeblocks/internal/apperrors"
	"timeblocks/internal/model"
)

func event(calendar, id, title string, start, end time.Time) model.ExternalEvent {
	return model.ExternalEvent{CalendarID: calendar, ID: id, Title: title, Start: start, End: end}
}

func TestReconcileUpsertsByExternalRef(t *testing.T) {
	ctx := context.Background()
	store := newFakeBlocks()
	r := NewCalendarReconciler(store)

	first := event("work", "e1", "Planning", at(9, 0), at(10, 0))
	res := r.Reconcile(ctx, 1, []model.ExternalEvent{first})
	assert.Equal(t, ReconcileResult{Synced: 1, Inserted: 1}, res)

	moved := first
	moved.Title = "Planning (moved)"
	moved.Start, moved.End = at(11, 0), at(12, 0)
	moved.Link = "https://meet.example.com/x"
	res = r.Reconcile(ctx, 1, []model.ExternalEvent{moved})
	assert.Equal(t, ReconcileResult{Synced: 1, Updated: 1}, res)

	require.Len(t, store.byID, 1)
	b, err := store.FindByExternalRef(ctx, 1, "work:e1")
	require.NoError(t, err)
	assert.Equal(t, "Planning (moved)", b.Title)
	assert.Equal(t, model.OriginCalendar, b.Origin)
	assert.Equal(t, model.BlockBusy, b.Type)
	assert.True(t, b.PlannedStart.Equal(at(11, 0)))
	require.NotNil(t, b.ExternalTaskLinks)
	assert.Equal(t, "https://meet.example.com/x", *b.ExternalTaskLinks)
}

func TestReconcileNamespacesByCalendar(t *testing.T) {
	ctx := context.Background()
	store := newFakeBlocks()
	r := NewCalendarReconciler(store)

	res := r.Reconcile(ctx, 1, []model.ExternalEvent{
		event("work", "same", "Work thing", at(9, 0), at(10, 0)),
		event("home", "same", "Home thing", at(9, 0), at(10, 0)),
	})
	assert.Equal(t, 2, res.Inserted)
	assert.Len(t, store.byID, 2)
}

func TestReconcileDoesNotTouchManualBlocks(t *testing.T) {
	ctx := context.Background()
	store := newFakeBlocks(manual("mine", at(9, 0), at(10, 0)))
	r := NewCalendarReconciler(store)

	r.Reconcile(ctx, 1, []model.ExternalEvent{event("work", "mine", "Same slot", at(9, 0), at(10, 0))})
	assert.Len(t, store.byID, 2)
	assert.Equal(t, model.OriginManual, store.byID["mine"].Origin)
}

func TestReconcilePlaceholderAndFiltering(t *testing.T) {
	ctx := context.Background()
	store := newFakeBlocks()
	r := NewCalendarReconciler(store)

	private := event("work", "p", "  ", at(13, 0), at(14, 0))
	allDay := event("work", "holiday", "Holiday", at(0, 0), at(0, 0).AddDate(0, 0, 1))
	allDay.AllDay = true
	undated := event("work", "undated", "No time", time.Time{}, time.Time{})

	res := r.Reconcile(ctx, 1, []model.ExternalEvent{private, allDay, undated})
	assert.Equal(t, 1, res.Synced)
	assert.Empty(t, res.Errors)

	b, err := store.FindByExternalRef(ctx, 1, "work:p")
	require.NoError(t, err)
	assert.Equal(t, PlaceholderTitle, b.Title)
}

func TestReconcileContinuesPastFailures(t *testing.T) {
	ctx := context.Background()
	store := newFakeBlocks()
	store.failRef["work:bad"] = errors.New("disk full")
	r := NewCalendarReconciler(store)

	res := r.Reconcile(ctx, 1, []model.ExternalEvent{
		event("work", "bad", "Fails", at(9, 0), at(10, 0)),
		event("work", "inverted", "Inverted", at(11, 0), at(10, 0)),
		event("work", "good", "Works", at(12, 0), at(13, 0)),
	})
	assert.Equal(t, 1, res.Synced)
	require.Len(t, res.Errors, 2)
	assert.Contains(t, res.Errors[0], "work:bad")
	assert.Contains(t, res.Errors[1], "work:inverted")

	_, err := store.FindByExternalRef(ctx, 1, "work:good")
	assert.NoError(t, err)
}

func TestCalendarSyncFreshnessWindow(t *testing.T) {
	ctx := context.Background()
	store := newFakeBlocks()
	provider := &fakeProvider{events: []model.ExternalEvent{event("work", "e1", "Planning", at(9, 0), at(10, 0))}}
	state := &fakeSyncState{}
	sync := NewCalendarSync(provider, NewCalendarReconciler(store), state, time.Hour, 7)

	res, err := sync.Sync(ctx, 1, at(8, 0), false)
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.Equal(t, 1, res.Inserted)
	require.NotNil(t, state.last)

	res, err = sync.Sync(ctx, 1, at(8, 30), false)
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Equal(t, 1, provider.calls)

	res, err = sync.Sync(ctx, 1, at(8, 30), true)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Updated)
	assert.Equal(t, 2, provider.calls)

	res, err = sync.Sync(ctx, 1, at(9, 31), false)
	require.NoError(t, err)
	assert.False(t, res.Skipped)
}

func TestCalendarSyncUpstreamFailures(t *testing.T) {
	ctx := context.Background()
	provider := &fakeProvider{
		events: []model.ExternalEvent{event("work", "e1", "Planning", at(9, 0), at(10, 0))},
		errs:   []error{errors.New("calendar home: 503 Service Unavailable")},
	}
	state := &fakeSyncState{}
	sync := NewCalendarSync(provider, NewCalendarReconciler(newFakeBlocks()), state, time.Hour, 7)

	res, err := sync.Sync(ctx, 1, at(8, 0), false)
	require.NoError(t, err, "partial results are not fatal")
	assert.Equal(t, 1, res.Synced)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "503")
	assert.Nil(t, state.last, "a partial run does not refresh the freshness mark")

	provider.events = nil
	_, err = sync.Sync(ctx, 1, at(8, 0), false)
	assert.ErrorIs(t, err, apperrors.ErrUpstream)
}
