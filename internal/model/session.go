package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Outcome of a session. The empty value means the session is still open.
type Outcome string

const (
	OutcomeNone      Outcome = ""
	OutcomeDone      Outcome = "done"
	OutcomeAborted   Outcome = "aborted"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeAbandoned Outcome = "abandoned"
)

// Terminal reports whether no further change is allowed once the outcome is set.
// Abandoned is provisional: it can still go back to open or on to aborted.
func (o Outcome) Terminal() bool {
	switch o {
	case OutcomeDone, OutcomeAborted, OutcomeSkipped:
		return true
	}
	return false
}

// Session is one execution attempt against a block.
type Session struct {
	ID          string    `gorm:"primaryKey;type:text"`
	OwnerID     uint      `gorm:"not null;index"`
	BlockRef    *string   `gorm:"index"`
	ActualStart time.Time `gorm:"not null"`
	ActualEnd   *time.Time
	Outcome     Outcome `gorm:"type:text;not null;default:''"`
	AbortReason *string
	ResumeToken *string
	// TimeToStart is the delay in seconds between the planned and actual start.
	TimeToStart int64 `gorm:"not null;default:0"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (s *Session) BeforeCreate(*gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return nil
}

func (s *Session) BeforeSave(*gorm.DB) error {
	s.ActualStart = s.ActualStart.UTC()
	if s.ActualEnd != nil {
		end := s.ActualEnd.UTC()
		s.ActualEnd = &end
	}
	return nil
}

// IsFinished reports whether any of the sessions closed the block for good.
func IsFinished(sessions []Session) bool {
	for _, s := range sessions {
		if s.Outcome.Terminal() {
			return true
		}
	}
	return false
}

// Latest returns the most recently created session, or nil. Sessions with equal
// creation times keep their slice order, so the later element wins.
func Latest(sessions []Session) *Session {
	var latest *Session
	for i := range sessions {
		if latest == nil || !sessions[i].CreatedAt.Before(latest.CreatedAt) {
			latest = &sessions[i]
		}
	}
	return latest
}
