package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// CalendarSource is one subscribed calendar feed.
type CalendarSource struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

type calendarsFile struct {
	Calendars []CalendarSource `yaml:"calendars"`
}

// Config keeps runtime settings for the planner.
type Config struct {
	TelegramToken     string
	DatabaseURL       string
	ReportInterval    time.Duration
	Location          *time.Location
	HorizonDays       int
	CalendarFreshness time.Duration
	UndoWindow        time.Duration
	LogLevel          string
	Calendars         []CalendarSource
}

// Load reads configuration from environment variables with sane defaults.
func Load() (Config, error) {
	cfg := Config{
		TelegramToken:     strings.TrimSpace(os.Getenv("TELEGRAM_TOKEN")),
		DatabaseURL:       strings.TrimSpace(os.Getenv("DATABASE_URL")),
		ReportInterval:    parseInterval(strings.TrimSpace(os.Getenv("REPORT_INTERVAL_HOURS")), time.Hour),
		HorizonDays:       parsePositiveInt(os.Getenv("ROUTINE_HORIZON_DAYS")),
		CalendarFreshness: parseInterval(strings.TrimSpace(os.Getenv("CALENDAR_FRESHNESS_MINUTES")), time.Minute),
		UndoWindow:        parseInterval(strings.TrimSpace(os.Getenv("UNDO_WINDOW_SECONDS")), time.Second),
		LogLevel:          strings.TrimSpace(os.Getenv("LOG_LEVEL")),
	}

	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = "timeblocks.db"
	}
	if cfg.ReportInterval == 0 {
		cfg.ReportInterval = 5 * time.Hour
	}
	if cfg.HorizonDays == 0 {
		cfg.HorizonDays = 7
	}
	if cfg.CalendarFreshness == 0 {
		cfg.CalendarFreshness = time.Hour
	}
	if cfg.UndoWindow == 0 {
		cfg.UndoWindow = 5 * time.Second
	}

	cfg.Location = time.Local
	if tz := strings.TrimSpace(os.Getenv("TIMEZONE")); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return cfg, fmt.Errorf("load timezone %q: %w", tz, err)
		}
		cfg.Location = loc
	}

	if path := strings.TrimSpace(os.Getenv("CALENDARS_FILE")); path != "" {
		sources, err := LoadCalendars(path)
		if err != nil {
			return cfg, err
		}
		cfg.Calendars = sources
	}

	return cfg, nil
}

// RequireTelegram reports whether the bot can be started with this config.
func (c Config) RequireTelegram() error {
	if c.TelegramToken == "" {
		return fmt.Errorf("TELEGRAM_TOKEN is required")
	}
	return nil
}

// LoadCalendars reads calendar sources from a YAML file.
func LoadCalendars(path string) ([]CalendarSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read calendars file: %w", err)
	}
	var file calendarsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse calendars file: %w", err)
	}
	seen := make(map[string]bool, len(file.Calendars))
	for i, src := range file.Calendars {
		src.ID = strings.TrimSpace(src.ID)
		src.URL = strings.TrimSpace(src.URL)
		if src.ID == "" || src.URL == "" {
			return nil, errors.New("calendars file: every calendar needs id and url")
		}
		if seen[src.ID] {
			return nil, fmt.Errorf("calendars file: duplicate id %q", src.ID)
		}
		seen[src.ID] = true
		file.Calendars[i] = src
	}
	return file.Calendars, nil
}

func parseInterval(raw string, unit time.Duration) time.Duration {
	if raw == "" {
		return 0
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil || n <= 0 {
		return 0
	}
	return time.Duration(n * float64(unit))
}

func parsePositiveInt(raw string) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n <= 0 {
		return 0
	}
	return n
}
