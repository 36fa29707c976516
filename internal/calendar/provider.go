// Package calendar adapts subscribed ICS calendar feeds into the flat list of
// timed events the reconciler consumes.
package calendar

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"timeblocks/internal/config"
	appLog "timeblocks/internal/log"
	"timeblocks/internal/model"
)

// ICSProvider fetches every configured calendar feed.
type ICSProvider struct {
	client  *http.Client
	sources []config.CalendarSource
}

func NewICSProvider(sources []config.CalendarSource) *ICSProvider {
	return &ICSProvider{
		client:  &http.Client{Timeout: 15 * time.Second},
		sources: sources,
	}
}

// Events returns timed events from all sources. A source that fails is reported
// in errs; the others are still returned. All-day events are dropped here.
func (p *ICSProvider) Events(ctx context.Context, from, to time.Time) ([]model.ExternalEvent, []error) {
	var (
		events []model.ExternalEvent
		errs   []error
	)
	for _, src := range p.sources {
		body, err := p.fetch(ctx, src)
		if err != nil {
			errs = append(errs, fmt.Errorf("calendar %s: %w", src.ID, err))
			appLog.Error("ics fetch failed", err, "calendar", src.ID)
			continue
		}
		parsed, err := Parse(src.ID, body, from, to)
		if err != nil {
			errs = append(errs, fmt.Errorf("calendar %s: %w", src.ID, err))
			continue
		}
		kept := 0
		for _, ev := range parsed {
			if ev.AllDay {
				continue
			}
			events = append(events, ev)
			kept++
		}
		appLog.Info("ics calendar loaded", "calendar", src.ID, "events", kept)
	}
	return events, errs
}

func (p *ICSProvider) fetch(ctx context.Context, src config.CalendarSource) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.New(resp.Status)
	}
	return io.ReadAll(resp.Body)
}
