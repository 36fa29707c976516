package service

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"timeblocks/internal/model"
)

// DayStats counts how today's blocks went. Abandoned sessions are not terminal
// and are reported separately; they never count as done.
type DayStats struct {
	Planned   int
	Done      int
	Aborted   int
	Skipped   int
	Abandoned int
}

// CompletionRate is done over blocks with a terminal outcome, in [0, 1].
func (s DayStats) CompletionRate() float64 {
	closed := s.Done + s.Aborted + s.Skipped
	if closed == 0 {
		return 0
	}
	return float64(s.Done) / float64(closed)
}

type AgendaBlockReader interface {
	ListBetween(ctx context.Context, ownerID uint, from, to time.Time) ([]model.Block, error)
}

// AgendaService builds human-readable summaries for daily notifications.
type AgendaService struct {
	blocks   AgendaBlockReader
	sessions SessionReader
}

func NewAgendaService(blocks AgendaBlockReader, sessions SessionReader) *AgendaService {
	return &AgendaService{blocks: blocks, sessions: sessions}
}

// Stats tallies today's blocks by the outcome of their latest session.
func (s *AgendaService) Stats(ctx context.Context, user model.User, now time.Time) (DayStats, []model.Block, map[string][]model.Session, error) {
	from := startOfDay(now)
	blocks, err := s.blocks.ListBetween(ctx, user.ID, from, from.AddDate(0, 0, 1))
	if err != nil {
		return DayStats{}, nil, nil, err
	}
	ids := make([]string, 0, len(blocks))
	for _, b := range blocks {
		ids = append(ids, b.ID)
	}
	sessions, err := s.sessions.ListForBlocks(ctx, user.ID, ids)
	if err != nil {
		return DayStats{}, nil, nil, err
	}

	stats := DayStats{Planned: len(blocks)}
	for _, b := range blocks {
		switch blockOutcome(sessions[b.ID]) {
		case model.OutcomeDone:
			stats.Done++
		case model.OutcomeAborted:
			stats.Aborted++
		case model.OutcomeSkipped:
			stats.Skipped++
		case model.OutcomeAbandoned:
			stats.Abandoned++
		}
	}
	return stats, blocks, sessions, nil
}

// DailySummary renders today's plan as Telegram HTML.
func (s *AgendaService) DailySummary(ctx context.Context, user model.User, now time.Time) (string, error) {
	stats, blocks, sessions, err := s.Stats(ctx, user, now)
	if err != nil {
		return "", err
	}

	var builder strings.Builder
	builder.WriteString("📋 <b>Daily plan</b>\n")
	builder.WriteString(fmt.Sprintf("🗓 %s\n\n", now.Format("Mon 02.01.2006")))

	if len(blocks) == 0 {
		builder.WriteString("— nothing planned today\n")
	}
	for _, b := range blocks {
		builder.WriteString(formatBlock(b, blockOutcome(sessions[b.ID]), now))
	}

	builder.WriteString(fmt.Sprintf("\n✅ %d done · ✖️ %d aborted · ⏭ %d skipped", stats.Done, stats.Aborted, stats.Skipped))
	if stats.Abandoned > 0 {
		builder.WriteString(fmt.Sprintf(" · ⏸ %d pending", stats.Abandoned))
	}
	if closed := stats.Done + stats.Aborted + stats.Skipped; closed > 0 {
		builder.WriteString(fmt.Sprintf("\n📈 completion %.0f%%", stats.CompletionRate()*100))
	}

	return strings.TrimSpace(builder.String()), nil
}

// blockOutcome is the terminal outcome if any session reached one, else the
// latest session's outcome.
func blockOutcome(sessions []model.Session) model.Outcome {
	for _, s := range sessions {
		if s.Outcome.Terminal() {
			return s.Outcome
		}
	}
	if latest := model.Latest(sessions); latest != nil {
		return latest.Outcome
	}
	return model.OutcomeNone
}

func formatBlock(b model.Block, outcome model.Outcome, now time.Time) string {
	icon := "▫️"
	switch {
	case outcome == model.OutcomeDone:
		icon = "✅"
	case outcome == model.OutcomeAborted:
		icon = "✖️"
	case outcome == model.OutcomeSkipped:
		icon = "⏭"
	case outcome == model.OutcomeAbandoned:
		icon = "⏸"
	case b.Contains(now):
		icon = "▶️"
	case b.PlannedEnd.Before(now):
		icon = "⚠️"
	}

	loc := now.Location()
	line := fmt.Sprintf("%s %s–%s %s <i>(%s)</i>",
		icon,
		b.PlannedStart.In(loc).Format("15:04"),
		b.PlannedEnd.In(loc).Format("15:04"),
		html.EscapeString(strings.TrimSpace(b.Title)),
		b.Type,
	)
	if b.Origin != model.OriginManual {
		line += " · " + string(b.Origin)
	}
	return line + "\n"
}
