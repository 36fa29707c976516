package model

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"timeblocks/internal/apperrors"
)

// Routine is a weekly template that materializes into blocks.
type Routine struct {
	ID              string    `gorm:"primaryKey;type:text"`
	OwnerID         uint      `gorm:"not null;index"`
	Title           string    `gorm:"not null"`
	Type            BlockType `gorm:"type:text;not null;default:focus"`
	StartTime       string    `gorm:"not null"` // HH:MM local time
	DurationMinutes int       `gorm:"not null"`
	// RecurrenceDays is a comma separated list of ISO weekdays, 1=Mon..7=Sun.
	RecurrenceDays string `gorm:"not null"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (r *Routine) BeforeCreate(*gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}

func (r *Routine) BeforeSave(*gorm.DB) error {
	return r.Validate()
}

func (r Routine) Validate() error {
	if strings.TrimSpace(r.Title) == "" {
		return fmt.Errorf("%w: routine title is required", apperrors.ErrValidation)
	}
	if !r.Type.Valid() {
		return fmt.Errorf("%w: unknown block type %q", apperrors.ErrValidation, r.Type)
	}
	if r.DurationMinutes <= 0 {
		return fmt.Errorf("%w: routine duration must be positive", apperrors.ErrValidation)
	}
	if _, _, err := ParseClock(r.StartTime); err != nil {
		return err
	}
	days, err := r.Weekdays()
	if err != nil {
		return err
	}
	if len(days) == 0 {
		return fmt.Errorf("%w: routine needs at least one weekday", apperrors.ErrValidation)
	}
	return nil
}

// Weekdays returns the sorted, de-duplicated ISO weekdays of the routine.
func (r Routine) Weekdays() ([]int, error) {
	return ParseWeekdays(r.RecurrenceDays)
}

// ParseWeekdays parses "1,3,5" into ISO weekday numbers.
func ParseWeekdays(raw string) ([]int, error) {
	seen := make(map[int]bool)
	var days []int
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil || n < 1 || n > 7 {
			return nil, fmt.Errorf("%w: invalid weekday %q, expected 1..7", apperrors.ErrValidation, part)
		}
		if !seen[n] {
			seen[n] = true
			days = append(days, n)
		}
	}
	sort.Ints(days)
	return days, nil
}

// FormatWeekdays is the inverse of ParseWeekdays.
func FormatWeekdays(days []int) string {
	parts := make([]string, 0, len(days))
	for _, d := range days {
		parts = append(parts, strconv.Itoa(d))
	}
	return strings.Join(parts, ",")
}

// ISOWeekday maps time.Weekday to 1=Mon..7=Sun.
func ISOWeekday(d time.Weekday) int {
	if d == time.Sunday {
		return 7
	}
	return int(d)
}

// ParseClock parses an HH:MM time of day.
func ParseClock(raw string) (hour, minute int, err error) {
	parts := strings.Split(strings.TrimSpace(raw), ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("%w: invalid time %q, expected HH:MM", apperrors.ErrValidation, raw)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("%w: invalid hour in %q", apperrors.ErrValidation, raw)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("%w: invalid minute in %q", apperrors.ErrValidation, raw)
	}
	return hour, minute, nil
}
