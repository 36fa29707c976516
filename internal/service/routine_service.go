package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"timeblocks/internal/model"
)

// RoutineInput is what a user supplies to define a weekly routine.
type RoutineInput struct {
	Title    string
	Type     model.BlockType
	Start    string // HH:MM
	Duration time.Duration
	Days     string // ISO weekdays, e.g. "1,3,5"
}

type RoutineStore interface {
	Create(ctx context.Context, routine *model.Routine) error
	ListByOwner(ctx context.Context, ownerID uint) ([]model.Routine, error)
	Delete(ctx context.Context, ownerID uint, id string) error
}

// RoutineService manages routine templates and materializes new ones right away.
type RoutineService struct {
	repo     RoutineStore
	expander *RoutineExpander
}

func NewRoutineService(repo RoutineStore, expander *RoutineExpander) *RoutineService {
	return &RoutineService{repo: repo, expander: expander}
}

func (s *RoutineService) Create(ctx context.Context, user *model.User, input RoutineInput, now time.Time) (*model.Routine, []model.Block, error) {
	if input.Type == "" {
		input.Type = model.BlockFocus
	}
	days, err := model.ParseWeekdays(input.Days)
	if err != nil {
		return nil, nil, err
	}
	routine := model.Routine{
		OwnerID:         user.ID,
		Title:           strings.TrimSpace(input.Title),
		Type:            input.Type,
		StartTime:       strings.TrimSpace(input.Start),
		DurationMinutes: int(input.Duration / time.Minute),
		RecurrenceDays:  model.FormatWeekdays(days),
	}
	if err := routine.Validate(); err != nil {
		return nil, nil, err
	}
	if err := s.repo.Create(ctx, &routine); err != nil {
		return nil, nil, fmt.Errorf("create routine: %w", err)
	}
	if s.expander == nil {
		return &routine, nil, nil
	}
	created, err := s.expander.Expand(ctx, user.ID, []model.Routine{routine}, now)
	if err != nil {
		return &routine, nil, err
	}
	return &routine, created, nil
}

func (s *RoutineService) List(ctx context.Context, user *model.User) ([]model.Routine, error) {
	return s.repo.ListByOwner(ctx, user.ID)
}

// Delete removes the template; blocks it already produced stay on the schedule.
func (s *RoutineService) Delete(ctx context.Context, user *model.User, id string) error {
	return s.repo.Delete(ctx, user.ID, id)
}
