package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"timeblocks/internal/apperrors"
	"timeblocks/internal/model"
)

// BlockInput represents data required to plan a manual block.
type BlockInput struct {
	Title         string
	Type          model.BlockType
	Start         time.Time
	End           time.Time
	StopCondition string
	IsQuickAdd    bool
}

type BlockStore interface {
	Create(ctx context.Context, block *model.Block) error
	Delete(ctx context.Context, ownerID uint, id string) error
	ListBetween(ctx context.Context, ownerID uint, from, to time.Time) ([]model.Block, error)
}

// BlockService wraps manual block planning.
type BlockService struct {
	blocks BlockStore
}

func NewBlockService(blocks BlockStore) *BlockService {
	return &BlockService{blocks: blocks}
}

func (s *BlockService) CreateBlock(ctx context.Context, user *model.User, input BlockInput) (*model.Block, error) {
	if strings.TrimSpace(input.Title) == "" {
		return nil, fmt.Errorf("%w: title is required", apperrors.ErrValidation)
	}
	if input.Type == "" {
		input.Type = model.BlockFocus
	}
	block := model.Block{
		OwnerID:       user.ID,
		Title:         strings.TrimSpace(input.Title),
		Type:          input.Type,
		PlannedStart:  input.Start,
		PlannedEnd:    input.End,
		Origin:        model.OriginManual,
		StopCondition: optional(strings.TrimSpace(input.StopCondition)),
		IsQuickAdd:    input.IsQuickAdd,
	}
	if err := block.Validate(); err != nil {
		return nil, err
	}
	if err := s.blocks.Create(ctx, &block); err != nil {
		return nil, err
	}
	return &block, nil
}

// QuickAdd plans a focus block starting now.
func (s *BlockService) QuickAdd(ctx context.Context, user *model.User, title string, length time.Duration, now time.Time) (*model.Block, error) {
	if length <= 0 {
		return nil, fmt.Errorf("%w: quick add needs a positive length", apperrors.ErrValidation)
	}
	return s.CreateBlock(ctx, user, BlockInput{
		Title:      title,
		Type:       model.BlockFocus,
		Start:      now,
		End:        now.Add(length),
		IsQuickAdd: true,
	})
}

// ListDay returns the blocks overlapping the calendar day of day.
func (s *BlockService) ListDay(ctx context.Context, user *model.User, day time.Time) ([]model.Block, error) {
	from := startOfDay(day)
	return s.blocks.ListBetween(ctx, user.ID, from, from.AddDate(0, 0, 1))
}

// DeleteBlock removes a block together with its sessions.
func (s *BlockService) DeleteBlock(ctx context.Context, user *model.User, blockID string) error {
	return s.blocks.Delete(ctx, user.ID, blockID)
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
