package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"timeblocks/internal/apperrors"
)

// BlockType is the execution intent of a block.
type BlockType string

const (
	BlockFocus    BlockType = "focus"
	BlockAdmin    BlockType = "admin"
	BlockRecovery BlockType = "recovery"
	BlockBusy     BlockType = "busy"
)

// ParseBlockType accepts a block type name, case-insensitively.
func ParseBlockType(raw string) (BlockType, error) {
	t := BlockType(strings.ToLower(strings.TrimSpace(raw)))
	if !t.Valid() {
		return "", fmt.Errorf("%w: unknown block type %q", apperrors.ErrValidation, raw)
	}
	return t, nil
}

func (t BlockType) Valid() bool {
	switch t {
	case BlockFocus, BlockAdmin, BlockRecovery, BlockBusy:
		return true
	}
	return false
}

// Origin tells who created a block; it decides how the block may be moved.
type Origin string

const (
	OriginManual   Origin = "manual"
	OriginCalendar Origin = "calendar"
	OriginRoutine  Origin = "routine"
)

// Anchor is the mobility class of a block when a schedule is recomputed.
type Anchor int

const (
	// AnchorFluid blocks absorb schedule slip.
	AnchorFluid Anchor = iota
	// AnchorFixed blocks never move: external commitments and routine instances.
	AnchorFixed
)

func (a Anchor) String() string {
	if a == AnchorFixed {
		return "fixed"
	}
	return "fluid"
}

// Block is a planned unit of time.
type Block struct {
	ID                  string    `gorm:"primaryKey;type:text"`
	OwnerID             uint      `gorm:"not null;uniqueIndex:idx_owner_external_ref"`
	Title               string    `gorm:"not null"`
	Type                BlockType `gorm:"type:text;not null;default:focus"`
	PlannedStart        time.Time `gorm:"not null;index"`
	PlannedEnd          time.Time `gorm:"not null;index"`
	Origin              Origin    `gorm:"type:text;not null;default:manual"`
	ExternalCalendarRef *string   `gorm:"uniqueIndex:idx_owner_external_ref"`
	RoutineRef          *string   `gorm:"uniqueIndex:idx_routine_day"`
	// RoutineDay is the ISO date (in the owner's zone) a routine instance belongs to.
	RoutineDay        *string `gorm:"uniqueIndex:idx_routine_day"`
	StopCondition     *string
	ExternalTaskLinks *string
	IsQuickAdd        bool `gorm:"default:false"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Duration is the planned length of the block.
func (b Block) Duration() time.Duration {
	return b.PlannedEnd.Sub(b.PlannedStart)
}

// Contains reports whether t lies inside [PlannedStart, PlannedEnd].
func (b Block) Contains(t time.Time) bool {
	return !t.Before(b.PlannedStart) && !t.After(b.PlannedEnd)
}

// Anchor classifies the block as fixed or fluid.
func (b Block) Anchor() (Anchor, error) {
	switch b.Origin {
	case OriginCalendar, OriginRoutine:
		return AnchorFixed, nil
	case OriginManual:
		if b.RoutineRef != nil {
			return AnchorFixed, nil
		}
		return AnchorFluid, nil
	default:
		return AnchorFluid, fmt.Errorf("%w: block %s has unknown origin %q", apperrors.ErrValidation, b.ID, b.Origin)
	}
}

// Validate checks the invariants every stored block must hold.
func (b Block) Validate() error {
	if strings.TrimSpace(b.Title) == "" {
		return fmt.Errorf("%w: block title is required", apperrors.ErrValidation)
	}
	if !b.PlannedEnd.After(b.PlannedStart) {
		return fmt.Errorf("%w: block %q ends at or before its start", apperrors.ErrValidation, b.Title)
	}
	if !b.Type.Valid() {
		return fmt.Errorf("%w: unknown block type %q", apperrors.ErrValidation, b.Type)
	}
	switch b.Origin {
	case OriginManual:
	case OriginCalendar:
		if b.ExternalCalendarRef == nil || *b.ExternalCalendarRef == "" {
			return fmt.Errorf("%w: calendar block %q has no external ref", apperrors.ErrValidation, b.Title)
		}
	case OriginRoutine:
		if b.RoutineRef == nil || *b.RoutineRef == "" {
			return fmt.Errorf("%w: routine block %q has no routine ref", apperrors.ErrValidation, b.Title)
		}
	default:
		return fmt.Errorf("%w: unknown origin %q", apperrors.ErrValidation, b.Origin)
	}
	return nil
}

func (b *Block) BeforeCreate(*gorm.DB) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	return nil
}

// BeforeSave keeps stored instants in UTC so range queries compare correctly.
func (b *Block) BeforeSave(*gorm.DB) error {
	b.PlannedStart = b.PlannedStart.UTC()
	b.PlannedEnd = b.PlannedEnd.UTC()
	return b.Validate()
}
