package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/teambition/rrule-go"

	"timeblocks/internal/apperrors"
	appLog "timeblocks/internal/log"
	"timeblocks/internal/model"
)

// DefaultHorizonDays is how far ahead routines are materialized.
const DefaultHorizonDays = 7

const isoDate = "2006-01-02"

var isoToRRule = [...]rrule.Weekday{rrule.MO, rrule.TU, rrule.WE, rrule.TH, rrule.FR, rrule.SA, rrule.SU}

// PlanRoutineBlocks computes the routine instances missing from existing for the
// days [today, today+horizonDays) in now's location. A routine that cannot be
// expanded is reported in errs and does not stop the others.
func PlanRoutineBlocks(ownerID uint, routines []model.Routine, existing []model.Block, now time.Time, horizonDays int) (planned []model.Block, errs []error) {
	if horizonDays <= 0 {
		horizonDays = DefaultHorizonDays
	}
	loc := now.Location()
	y, m, d := now.Date()
	rangeStart := time.Date(y, m, d, 0, 0, 0, 0, loc)
	rangeEnd := rangeStart.AddDate(0, 0, horizonDays)

	present := make(map[string]bool, len(existing))
	for _, b := range existing {
		if b.RoutineRef == nil {
			continue
		}
		present[routineKey(*b.RoutineRef, dayKey(b, loc))] = true
	}

	for _, r := range routines {
		starts, err := routineOccurrences(r, rangeStart, rangeEnd)
		if err != nil {
			errs = append(errs, fmt.Errorf("routine %s: %w", r.ID, err))
			continue
		}
		for _, start := range starts {
			date := start.Format(isoDate)
			key := routineKey(r.ID, date)
			if present[key] {
				continue
			}
			present[key] = true
			routineID := r.ID
			planned = append(planned, model.Block{
				OwnerID:      ownerID,
				Title:        r.Title,
				Type:         r.Type,
				PlannedStart: start,
				PlannedEnd:   start.Add(time.Duration(r.DurationMinutes) * time.Minute),
				Origin:       model.OriginRoutine,
				RoutineRef:   &routineID,
				RoutineDay:   &date,
			})
		}
	}

	sort.SliceStable(planned, func(i, j int) bool {
		return planned[i].PlannedStart.Before(planned[j].PlannedStart)
	})
	return planned, errs
}

// routineOccurrences lists the routine's start instants in [from, to).
func routineOccurrences(r model.Routine, from, to time.Time) ([]time.Time, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	days, _ := r.Weekdays()
	hour, minute, _ := model.ParseClock(r.StartTime)

	byDay := make([]rrule.Weekday, 0, len(days))
	for _, d := range days {
		byDay = append(byDay, isoToRRule[d-1])
	}
	rule, err := rrule.NewRRule(rrule.ROption{
		Freq:      rrule.WEEKLY,
		Byweekday: byDay,
		Dtstart:   time.Date(from.Year(), from.Month(), from.Day(), hour, minute, 0, 0, from.Location()),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: build recurrence: %v", apperrors.ErrValidation, err)
	}

	var out []time.Time
	for _, t := range rule.Between(from, to, true) {
		if t.Before(to) {
			out = append(out, t)
		}
	}
	return out, nil
}

func dayKey(b model.Block, loc *time.Location) string {
	if b.RoutineDay != nil && *b.RoutineDay != "" {
		return *b.RoutineDay
	}
	return b.PlannedStart.In(loc).Format(isoDate)
}

func routineKey(routineID, date string) string {
	return routineID + "@" + date
}

// RoutineExpander materializes routines into blocks for a rolling horizon.
// Running it twice without time passing inserts nothing the second time.
type RoutineExpander struct {
	blocks      RoutineBlockStore
	routines    RoutineLister
	horizonDays int
}

func NewRoutineExpander(blocks RoutineBlockStore, routines RoutineLister, horizonDays int) *RoutineExpander {
	if horizonDays <= 0 {
		horizonDays = DefaultHorizonDays
	}
	return &RoutineExpander{blocks: blocks, routines: routines, horizonDays: horizonDays}
}

// ExpandForOwner expands every routine the owner has.
func (e *RoutineExpander) ExpandForOwner(ctx context.Context, ownerID uint, now time.Time) ([]model.Block, error) {
	routines, err := e.routines.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	return e.Expand(ctx, ownerID, routines, now)
}

// Expand inserts the missing instances of routines as a single batch. If the
// batch fails nothing is inserted and the next run retries all of it.
func (e *RoutineExpander) Expand(ctx context.Context, ownerID uint, routines []model.Routine, now time.Time) ([]model.Block, error) {
	if len(routines) == 0 {
		return nil, nil
	}
	loc := now.Location()
	y, m, d := now.Date()
	from := time.Date(y, m, d, 0, 0, 0, 0, loc)
	to := from.AddDate(0, 0, e.horizonDays)

	existing, err := e.blocks.ListRoutineInstances(ctx, ownerID, from, to)
	if err != nil {
		return nil, err
	}

	planned, errs := PlanRoutineBlocks(ownerID, routines, existing, now, e.horizonDays)
	for _, perr := range errs {
		appLog.Error("routine expansion skipped routine", perr, "owner", ownerID)
	}
	if len(planned) == 0 {
		return nil, nil
	}

	if err := e.blocks.CreateBatch(ctx, planned); err != nil {
		appLog.Error("routine expansion batch failed", err, "owner", ownerID, "count", len(planned))
		return nil, fmt.Errorf("insert routine blocks: %w", err)
	}
	appLog.Info("routine expansion completed", "owner", ownerID, "created", len(planned))
	return planned, nil
}
