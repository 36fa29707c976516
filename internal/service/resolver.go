package service

import (
	"context"
	"sort"
	"time"

	"timeblocks/internal/model"
)

// Current is the block the owner should be working on right now.
type Current struct {
	Block model.Block
	// LatestSession is the newest attempt on Block, used to resume a timer. May be nil.
	LatestSession *model.Session
}

// ResolveCurrent picks the active block among candidates at now. Blocks whose
// interval contains now are ordered by planned start, latest first, and the first
// one without a finished session wins. sessions is keyed by block id.
func ResolveCurrent(candidates []model.Block, sessions map[string][]model.Session, now time.Time) *Current {
	active := make([]model.Block, 0, len(candidates))
	for _, b := range candidates {
		if b.Contains(now) {
			active = append(active, b)
		}
	}
	sort.SliceStable(active, func(i, j int) bool {
		return active[i].PlannedStart.After(active[j].PlannedStart)
	})

	for _, b := range active {
		history := sessions[b.ID]
		if model.IsFinished(history) {
			continue
		}
		return &Current{Block: b, LatestSession: model.Latest(history)}
	}
	return nil
}

// ResolverService loads candidates from the stores and resolves the current block.
type ResolverService struct {
	blocks   ActiveBlockReader
	sessions SessionReader
}

func NewResolverService(blocks ActiveBlockReader, sessions SessionReader) *ResolverService {
	return &ResolverService{blocks: blocks, sessions: sessions}
}

// Resolve returns nil without error when nothing is scheduled or everything is finished.
func (s *ResolverService) Resolve(ctx context.Context, ownerID uint, now time.Time) (*Current, error) {
	candidates, err := s.blocks.ListActiveAt(ctx, ownerID, now)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	ids := make([]string, 0, len(candidates))
	for _, b := range candidates {
		ids = append(ids, b.ID)
	}
	sessions, err := s.sessions.ListForBlocks(ctx, ownerID, ids)
	if err != nil {
		return nil, err
	}
	return ResolveCurrent(candidates, sessions, now), nil
}
