package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"timeblocks/internal/apperrors"
	appLog "timeblocks/internal/log"
	"timeblocks/internal/model"
)

// PlaceholderTitle stands in for events whose details the provider hides.
const PlaceholderTitle = "Busy"

// ReconcileResult summarizes one reconciliation pass.
type ReconcileResult struct {
	Synced   int
	Inserted int
	Updated  int
	Errors   []string
}

// CalendarReconciler upserts external events as calendar blocks, keyed by the
// source-prefixed event id.
type CalendarReconciler struct {
	blocks CalendarBlockStore
}

func NewCalendarReconciler(blocks CalendarBlockStore) *CalendarReconciler {
	return &CalendarReconciler{blocks: blocks}
}

// Reconcile processes each event independently; a failing event is recorded in
// the result and the rest are still applied. All-day events are ignored.
func (r *CalendarReconciler) Reconcile(ctx context.Context, ownerID uint, events []model.ExternalEvent) ReconcileResult {
	var res ReconcileResult
	for _, ev := range events {
		if ev.AllDay || ev.Start.IsZero() || ev.End.IsZero() {
			continue
		}
		inserted, err := r.reconcileOne(ctx, ownerID, ev)
		if err != nil {
			appLog.Error("calendar event sync failed", err, "owner", ownerID, "ref", ev.Ref())
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", ev.Ref(), err))
			continue
		}
		res.Synced++
		if inserted {
			res.Inserted++
		} else {
			res.Updated++
		}
	}
	return res
}

func (r *CalendarReconciler) reconcileOne(ctx context.Context, ownerID uint, ev model.ExternalEvent) (bool, error) {
	if ev.CalendarID == "" || ev.ID == "" {
		return false, fmt.Errorf("%w: event without calendar or id", apperrors.ErrValidation)
	}
	if !ev.End.After(ev.Start) {
		return false, fmt.Errorf("%w: event ends at or before its start", apperrors.ErrValidation)
	}

	title := strings.TrimSpace(ev.Title)
	if title == "" {
		title = PlaceholderTitle
	}
	var links *string
	if ev.Link != "" {
		link := ev.Link
		links = &link
	}
	ref := ev.Ref()

	existing, err := r.blocks.FindByExternalRef(ctx, ownerID, ref)
	switch {
	case err == nil:
		existing.Title = title
		existing.PlannedStart = ev.Start
		existing.PlannedEnd = ev.End
		existing.ExternalTaskLinks = links
		return false, r.blocks.Save(ctx, existing)
	case errors.Is(err, apperrors.ErrNotFound):
		block := model.Block{
			OwnerID:             ownerID,
			Title:               title,
			Type:                model.BlockBusy,
			PlannedStart:        ev.Start,
			PlannedEnd:          ev.End,
			Origin:              model.OriginCalendar,
			ExternalCalendarRef: &ref,
			ExternalTaskLinks:   links,
		}
		return true, r.blocks.Create(ctx, &block)
	default:
		return false, err
	}
}

// EventProvider fetches timed events from the owner's external calendars.
// Per-calendar failures come back in errs next to the events that did load.
type EventProvider interface {
	Events(ctx context.Context, from, to time.Time) (events []model.ExternalEvent, errs []error)
}

// SyncResult is the outcome of CalendarSync.Sync.
type SyncResult struct {
	ReconcileResult
	// Skipped is set when the last successful run is still fresh.
	Skipped bool
}

// CalendarSync is the caller that decides when to reconcile: it skips work while
// the previous successful run is younger than the freshness window.
type CalendarSync struct {
	provider    EventProvider
	reconciler  *CalendarReconciler
	state       SyncStateStore
	freshness   time.Duration
	horizonDays int
}

func NewCalendarSync(provider EventProvider, reconciler *CalendarReconciler, state SyncStateStore, freshness time.Duration, horizonDays int) *CalendarSync {
	if freshness <= 0 {
		freshness = time.Hour
	}
	if horizonDays <= 0 {
		horizonDays = DefaultHorizonDays
	}
	return &CalendarSync{provider: provider, reconciler: reconciler, state: state, freshness: freshness, horizonDays: horizonDays}
}

// Sync fetches and reconciles events from yesterday through the horizon.
func (s *CalendarSync) Sync(ctx context.Context, ownerID uint, now time.Time, force bool) (SyncResult, error) {
	if !force {
		last, err := s.state.LastCalendarSync(ctx, ownerID)
		if err != nil {
			return SyncResult{}, err
		}
		if last != nil && now.Sub(*last) < s.freshness {
			appLog.Debug("calendar sync skipped; still fresh", "owner", ownerID, "last", last.Format(time.RFC3339))
			return SyncResult{Skipped: true}, nil
		}
	}

	from := now.AddDate(0, 0, -1)
	to := now.AddDate(0, 0, s.horizonDays)
	events, fetchErrs := s.provider.Events(ctx, from, to)

	var res SyncResult
	res.ReconcileResult = s.reconciler.Reconcile(ctx, ownerID, events)
	for _, ferr := range fetchErrs {
		res.Errors = append(res.Errors, fmt.Errorf("%w: %w", apperrors.ErrUpstream, ferr).Error())
	}

	if len(fetchErrs) > 0 && len(events) == 0 {
		return res, fmt.Errorf("%w: no calendar could be fetched", apperrors.ErrUpstream)
	}
	if len(fetchErrs) == 0 {
		if err := s.state.MarkCalendarSynced(ctx, ownerID, now); err != nil {
			return res, err
		}
	}
	appLog.Info("calendar sync completed", "owner", ownerID, "synced", res.Synced, "inserted", res.Inserted, "updated", res.Updated, "errors", len(res.Errors))
	return res, nil
}
