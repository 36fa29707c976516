package service

import (
	"context"
	"time"

	"timeblocks/internal/model"
)

// The interfaces below are the slices of the block and session stores each
// component needs. The gorm repositories satisfy all of them.

type ActiveBlockReader interface {
	ListActiveAt(ctx context.Context, ownerID uint, at time.Time) ([]model.Block, error)
}

type SessionReader interface {
	ListForBlocks(ctx context.Context, ownerID uint, blockIDs []string) (map[string][]model.Session, error)
}

type SessionWriter interface {
	Create(ctx context.Context, session *model.Session) error
	Update(ctx context.Context, session *model.Session) error
}

type RoutineBlockStore interface {
	ListRoutineInstances(ctx context.Context, ownerID uint, from, to time.Time) ([]model.Block, error)
	CreateBatch(ctx context.Context, blocks []model.Block) error
}

type CalendarBlockStore interface {
	FindByExternalRef(ctx context.Context, ownerID uint, ref string) (*model.Block, error)
	Create(ctx context.Context, block *model.Block) error
	Save(ctx context.Context, block *model.Block) error
}

type ScheduleStore interface {
	ListRemaining(ctx context.Context, ownerID uint, now, until time.Time) ([]model.Block, error)
	ApplySchedule(ctx context.Context, ownerID uint, blocks []model.Block) error
}

type RoutineLister interface {
	ListByOwner(ctx context.Context, ownerID uint) ([]model.Routine, error)
}

type SyncStateStore interface {
	LastCalendarSync(ctx context.Context, ownerID uint) (*time.Time, error)
	MarkCalendarSynced(ctx context.Context, ownerID uint, at time.Time) error
}
