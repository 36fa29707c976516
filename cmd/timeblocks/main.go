package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"timeblocks/internal/bot"
	"timeblocks/internal/calendar"
	"timeblocks/internal/config"
	appLog "timeblocks/internal/log"
	"timeblocks/internal/model"
	"timeblocks/internal/repository"
	"timeblocks/internal/service"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "timeblocks",
		Short:         "Time-blocking planner with calendar reconciliation",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd())
	root.AddCommand(newExpandCmd())
	root.AddCommand(newSyncCmd())
	return root
}

// app holds the wired stores and services shared by every command.
type app struct {
	cfg      config.Config
	db       *gorm.DB
	users    *repository.UserRepository
	blocks   *repository.BlockRepository
	sessions *repository.SessionRepository
	routines *repository.RoutineRepository
	expander *service.RoutineExpander
	calendar *service.CalendarSync
}

func loadApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	appLog.SetLevel(appLog.ParseLevel(cfg.LogLevel))

	db, err := repository.NewDB(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("db: %w", err)
	}

	a := &app{
		cfg:      cfg,
		db:       db,
		users:    repository.NewUserRepository(db),
		blocks:   repository.NewBlockRepository(db),
		sessions: repository.NewSessionRepository(db),
		routines: repository.NewRoutineRepository(db),
	}
	a.expander = service.NewRoutineExpander(a.blocks, a.routines, cfg.HorizonDays)
	if len(cfg.Calendars) > 0 {
		a.calendar = service.NewCalendarSync(
			calendar.NewICSProvider(cfg.Calendars),
			service.NewCalendarReconciler(a.blocks),
			a.users,
			cfg.CalendarFreshness,
			cfg.HorizonDays,
		)
	}
	return a, nil
}

func (a *app) close() {
	if sqlDB, err := a.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

func (a *app) now() time.Time {
	return time.Now().In(a.cfg.Location)
}

// expandAll materializes routines for every user; one user's failure does not
// stop the others.
func (a *app) expandAll(ctx context.Context) error {
	users, err := a.users.ListAll(ctx)
	if err != nil {
		return err
	}
	var errs []error
	for _, u := range users {
		if _, err := a.expander.ExpandForOwner(ctx, u.ID, a.now()); err != nil {
			errs = append(errs, fmt.Errorf("user %d: %w", u.TelegramID, err))
		}
	}
	return errors.Join(errs...)
}

func (a *app) syncAll(ctx context.Context, force bool) error {
	if a.calendar == nil {
		return nil
	}
	users, err := a.users.ListAll(ctx)
	if err != nil {
		return err
	}
	var errs []error
	for _, u := range users {
		if _, err := a.calendar.Sync(ctx, u.ID, a.now(), force); err != nil {
			errs = append(errs, fmt.Errorf("user %d: %w", u.TelegramID, err))
		}
	}
	return errors.Join(errs...)
}

func (a *app) userByTelegramID(ctx context.Context, telegramID int64) (*model.User, error) {
	if telegramID == 0 {
		return nil, errors.New("--telegram-id is required")
	}
	return a.users.FindByTelegramID(ctx, telegramID)
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the Telegram bot with background jobs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.close()
			if err := a.cfg.RequireTelegram(); err != nil {
				return err
			}
			return serve(ctx, a)
		},
	}
}

func serve(ctx context.Context, a *app) error {
	deps := bot.Deps{
		Users:    a.users,
		Sessions: a.sessions,
		Resolver: service.NewResolverService(a.blocks, a.sessions),
		Blocks:   service.NewBlockService(a.blocks),
		Routines: service.NewRoutineService(a.routines, a.expander),
		Refactor: service.NewRefactorService(a.blocks, a.sessions),
		Calendar: a.calendar,
		Agenda:   service.NewAgendaService(a.blocks, a.sessions),
	}
	telegramBot, err := bot.New(a.cfg.TelegramToken, deps, &a.cfg)
	if err != nil {
		return fmt.Errorf("bot: %w", err)
	}

	scheduler := service.NewSchedulerService(a.cfg.Location)
	job := func(name string, timeout time.Duration, run func(context.Context) error) func() {
		return func() {
			jobCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			if err := run(jobCtx); err != nil && !errors.Is(err, context.Canceled) {
				appLog.Error("scheduled job failed", err, "job", name)
			}
		}
	}
	if _, err := scheduler.ScheduleDaily("00:05", job("expand routines", time.Minute, a.expandAll)); err != nil {
		return fmt.Errorf("schedule routine expansion: %w", err)
	}
	if a.calendar != nil {
		sync := func(ctx context.Context) error { return a.syncAll(ctx, false) }
		if _, err := scheduler.ScheduleInterval(a.cfg.CalendarFreshness, job("calendar sync", 2*time.Minute, sync)); err != nil {
			return fmt.Errorf("schedule calendar sync: %w", err)
		}
	}
	if a.cfg.ReportInterval > 0 {
		if _, err := scheduler.ScheduleInterval(a.cfg.ReportInterval, job("reports", 30*time.Second, telegramBot.SendDailyReports)); err != nil {
			return fmt.Errorf("schedule reports: %w", err)
		}
	}
	scheduler.Start()
	defer scheduler.Stop()

	// catch up on anything missed while the process was down
	go job("expand routines", time.Minute, a.expandAll)()

	appLog.Info("timeblocks bot started", "jobs", scheduler.Entries())
	if err := telegramBot.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("bot stopped with error: %w", err)
	}
	appLog.Info("shutdown complete")
	return nil
}

func newExpandCmd() *cobra.Command {
	var telegramID int64
	cmd := &cobra.Command{
		Use:   "expand",
		Short: "Materialize routine blocks for the coming days",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.close()

			ctx := cmd.Context()
			if telegramID == 0 {
				return a.expandAll(ctx)
			}
			user, err := a.userByTelegramID(ctx, telegramID)
			if err != nil {
				return err
			}
			created, err := a.expander.ExpandForOwner(ctx, user.ID, a.now())
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "created %d routine blocks\n", len(created))
			return nil
		},
	}
	cmd.Flags().Int64Var(&telegramID, "telegram-id", 0, "only expand for this Telegram user (default: all users)")
	return cmd
}

func newSyncCmd() *cobra.Command {
	var (
		telegramID int64
		force      bool
	)
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Reconcile external calendars into busy blocks",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.close()
			if a.calendar == nil {
				return errors.New("no calendars configured; set CALENDARS_FILE")
			}

			ctx := cmd.Context()
			if telegramID == 0 {
				return a.syncAll(ctx, force)
			}
			user, err := a.userByTelegramID(ctx, telegramID)
			if err != nil {
				return err
			}
			res, err := a.calendar.Sync(ctx, user.ID, a.now(), force)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if res.Skipped {
				_, _ = fmt.Fprintln(out, "calendar is fresh; use --force to refresh")
				return nil
			}
			_, _ = fmt.Fprintf(out, "synced %d (inserted %d, updated %d)\n", res.Synced, res.Inserted, res.Updated)
			for _, e := range res.Errors {
				_, _ = fmt.Fprintln(out, "error:", e)
			}
			return nil
		},
	}
	cmd.Flags().Int64Var(&telegramID, "telegram-id", 0, "only sync for this Telegram user (default: all users)")
	cmd.Flags().BoolVar(&force, "force", false, "ignore the freshness window")
	return cmd
}
