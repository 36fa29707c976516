package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	appLog "timeblocks/internal/log"
	"timeblocks/internal/model"
)

const (
	// TransitionBuffer separates consecutive blocks in a refactored schedule.
	TransitionBuffer  = 5 * time.Minute
	cursorGranularity = 5 * time.Minute
)

// Refactor re-anchors fluid blocks to start from now and returns only the blocks
// whose planned times changed. Fixed blocks never move but push the cursor past
// their end. Invalid blocks fail the whole call before anything is computed.
func Refactor(blocks []model.Block, now time.Time) ([]model.Block, error) {
	anchors := make(map[string]model.Anchor, len(blocks))
	for _, b := range blocks {
		if err := b.Validate(); err != nil {
			return nil, err
		}
		a, err := b.Anchor()
		if err != nil {
			return nil, err
		}
		anchors[b.ID] = a
	}

	ordered := make([]model.Block, len(blocks))
	copy(ordered, blocks)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].PlannedStart.Before(ordered[j].PlannedStart)
	})

	cursor := ceilTo(now, cursorGranularity)
	var proposal []model.Block
	for _, b := range ordered {
		if !b.PlannedEnd.After(now) {
			continue
		}
		switch anchors[b.ID] {
		case model.AnchorFixed:
			if b.PlannedEnd.After(cursor) {
				cursor = b.PlannedEnd.Add(TransitionBuffer)
			}
		case model.AnchorFluid:
			dur := b.Duration()
			moved := b
			moved.PlannedStart = cursor
			moved.PlannedEnd = cursor.Add(dur)
			cursor = moved.PlannedEnd.Add(TransitionBuffer)
			if !moved.PlannedStart.Equal(b.PlannedStart) || !moved.PlannedEnd.Equal(b.PlannedEnd) {
				proposal = append(proposal, moved)
			}
		}
	}
	return proposal, nil
}

// ceilTo rounds t up to the next multiple of d; exact multiples stay put.
func ceilTo(t time.Time, d time.Duration) time.Time {
	floor := t.Truncate(d)
	if floor.Equal(t) {
		return t
	}
	return floor.Add(d)
}

// RefactorService proposes and applies refactored schedules against the store.
type RefactorService struct {
	store    ScheduleStore
	sessions SessionReader
}

func NewRefactorService(store ScheduleStore, sessions SessionReader) *RefactorService {
	return &RefactorService{store: store, sessions: sessions}
}

// Propose computes a new arrangement of the rest of the owner's day without
// writing anything. Finished blocks take no part. An empty proposal means the
// schedule is already optimal.
func (s *RefactorService) Propose(ctx context.Context, ownerID uint, now time.Time) ([]model.Block, error) {
	until := startOfDay(now).AddDate(0, 0, 1)
	remaining, err := s.store.ListRemaining(ctx, ownerID, now, until)
	if err != nil {
		return nil, err
	}
	if len(remaining) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(remaining))
	for _, b := range remaining {
		ids = append(ids, b.ID)
	}
	sessions, err := s.sessions.ListForBlocks(ctx, ownerID, ids)
	if err != nil {
		return nil, err
	}
	open := remaining[:0]
	for _, b := range remaining {
		if !model.IsFinished(sessions[b.ID]) {
			open = append(open, b)
		}
	}
	return Refactor(open, now)
}

// Apply commits a proposal as one batch.
func (s *RefactorService) Apply(ctx context.Context, ownerID uint, proposal []model.Block) error {
	if len(proposal) == 0 {
		return nil
	}
	if err := s.store.ApplySchedule(ctx, ownerID, proposal); err != nil {
		return fmt.Errorf("apply refactor: %w", err)
	}
	appLog.Info("schedule refactored", "owner", ownerID, "moved", len(proposal))
	return nil
}
