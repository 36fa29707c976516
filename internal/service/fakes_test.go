package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"timeblocks/internal/apperrors"
	"timeblocks/internal/model"
)

// fakeBlocks is an in-memory block store keyed by id.
type fakeBlocks struct {
	byID      map[string]model.Block
	nextID    int
	failBatch error
	failRef   map[string]error
	batches   int
}

func newFakeBlocks(blocks ...model.Block) *fakeBlocks {
	f := &fakeBlocks{byID: make(map[string]model.Block), failRef: make(map[string]error)}
	for _, b := range blocks {
		f.put(&b)
	}
	return f
}

func (f *fakeBlocks) put(b *model.Block) {
	if b.ID == "" {
		f.nextID++
		b.ID = fmt.Sprintf("b%d", f.nextID)
	}
	f.byID[b.ID] = *b
}

func (f *fakeBlocks) all(ownerID uint) []model.Block {
	var out []model.Block
	for _, b := range f.byID {
		if b.OwnerID == ownerID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PlannedStart.Equal(out[j].PlannedStart) {
			return out[i].ID < out[j].ID
		}
		return out[i].PlannedStart.Before(out[j].PlannedStart)
	})
	return out
}

func (f *fakeBlocks) ListActiveAt(_ context.Context, ownerID uint, at time.Time) ([]model.Block, error) {
	var out []model.Block
	for _, b := range f.all(ownerID) {
		if b.Contains(at) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (f *fakeBlocks) ListBetween(_ context.Context, ownerID uint, from, to time.Time) ([]model.Block, error) {
	var out []model.Block
	for _, b := range f.all(ownerID) {
		if b.PlannedStart.Before(to) && b.PlannedEnd.After(from) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (f *fakeBlocks) ListRoutineInstances(_ context.Context, ownerID uint, from, to time.Time) ([]model.Block, error) {
	var out []model.Block
	for _, b := range f.all(ownerID) {
		if b.RoutineRef != nil && !b.PlannedStart.Before(from) && b.PlannedStart.Before(to) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (f *fakeBlocks) ListRemaining(_ context.Context, ownerID uint, now, until time.Time) ([]model.Block, error) {
	var out []model.Block
	for _, b := range f.all(ownerID) {
		if b.PlannedEnd.After(now) && b.PlannedStart.Before(until) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (f *fakeBlocks) CreateBatch(_ context.Context, blocks []model.Block) error {
	if f.failBatch != nil {
		return f.failBatch
	}
	f.batches++
	for i := range blocks {
		f.put(&blocks[i])
	}
	return nil
}

func (f *fakeBlocks) Create(_ context.Context, block *model.Block) error {
	if block.ExternalCalendarRef != nil {
		if err := f.failRef[*block.ExternalCalendarRef]; err != nil {
			return err
		}
	}
	if err := block.Validate(); err != nil {
		return err
	}
	f.put(block)
	return nil
}

func (f *fakeBlocks) Save(_ context.Context, block *model.Block) error {
	if err := block.Validate(); err != nil {
		return err
	}
	f.byID[block.ID] = *block
	return nil
}

func (f *fakeBlocks) FindByExternalRef(_ context.Context, ownerID uint, ref string) (*model.Block, error) {
	for _, b := range f.byID {
		if b.OwnerID == ownerID && b.ExternalCalendarRef != nil && *b.ExternalCalendarRef == ref {
			found := b
			return &found, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (f *fakeBlocks) ApplySchedule(_ context.Context, ownerID uint, blocks []model.Block) error {
	for _, b := range blocks {
		cur, ok := f.byID[b.ID]
		if !ok || cur.OwnerID != ownerID {
			return apperrors.ErrNotFound
		}
	}
	for _, b := range blocks {
		cur := f.byID[b.ID]
		cur.PlannedStart, cur.PlannedEnd = b.PlannedStart, b.PlannedEnd
		f.byID[b.ID] = cur
	}
	return nil
}

func (f *fakeBlocks) Delete(_ context.Context, ownerID uint, id string) error {
	b, ok := f.byID[id]
	if !ok || b.OwnerID != ownerID {
		return apperrors.ErrNotFound
	}
	delete(f.byID, id)
	return nil
}

// fakeSessions records sessions and can be told to fail the next write.
type fakeSessions struct {
	byID    map[string]model.Session
	order   []string
	failErr error
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{byID: make(map[string]model.Session)}
}

func (f *fakeSessions) Create(_ context.Context, s *model.Session) error {
	if f.failErr != nil {
		return f.failErr
	}
	s.ID = fmt.Sprintf("s%d", len(f.order)+1)
	f.byID[s.ID] = *s
	f.order = append(f.order, s.ID)
	return nil
}

func (f *fakeSessions) Update(_ context.Context, s *model.Session) error {
	if f.failErr != nil {
		return f.failErr
	}
	stored, ok := f.byID[s.ID]
	if !ok {
		return apperrors.ErrNotFound
	}
	if stored.Outcome.Terminal() {
		return apperrors.ErrInvalidTransition
	}
	f.byID[s.ID] = *s
	return nil
}

func (f *fakeSessions) ListForBlocks(_ context.Context, _ uint, ids []string) (map[string][]model.Session, error) {
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	out := make(map[string][]model.Session)
	for _, id := range f.order {
		s := f.byID[id]
		if s.BlockRef != nil && want[*s.BlockRef] {
			out[*s.BlockRef] = append(out[*s.BlockRef], s)
		}
	}
	return out, nil
}

type fakeRoutines struct {
	routines []model.Routine
}

func (f fakeRoutines) ListByOwner(context.Context, uint) ([]model.Routine, error) {
	return f.routines, nil
}

type fakeSyncState struct {
	last *time.Time
}

func (f *fakeSyncState) LastCalendarSync(context.Context, uint) (*time.Time, error) {
	return f.last, nil
}

func (f *fakeSyncState) MarkCalendarSynced(_ context.Context, _ uint, at time.Time) error {
	f.last = &at
	return nil
}

type fakeProvider struct {
	events []model.ExternalEvent
	errs   []error
	calls  int
}

func (f *fakeProvider) Events(context.Context, time.Time, time.Time) ([]model.ExternalEvent, []error) {
	f.calls++
	return f.events, f.errs
}

var errStoreDown = errors.New("store down")

func strPtr(s string) *string { return &s }

// at returns 2026-03-02 (a Monday) hh:mm UTC.
func at(hh, mm int) time.Time {
	return time.Date(2026, 3, 2, hh, mm, 0, 0, time.UTC)
}

func manual(id string, start, end time.Time) model.Block {
	return model.Block{ID: id, OwnerID: 1, Title: id, Type: model.BlockFocus, Origin: model.OriginManual, PlannedStart: start, PlannedEnd: end}
}

func fromCalendar(id string, start, end time.Time) model.Block {
	b := manual(id, start, end)
	b.Origin = model.OriginCalendar
	b.Type = model.BlockBusy
	b.ExternalCalendarRef = strPtr("work:" + id)
	return b
}

func fromRoutine(id string, start, end time.Time) model.Block {
	b := manual(id, start, end)
	b.Origin = model.OriginRoutine
	b.RoutineRef = strPtr("r-" + id)
	return b
}
