package bot

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"timeblocks/internal/apperrors"
	"timeblocks/internal/config"
	appLog "timeblocks/internal/log"
	"timeblocks/internal/model"
	"timeblocks/internal/repository"
	"timeblocks/internal/service"
)

const (
	menuLabelNow    = "▶️ Now"
	menuLabelPlan   = "📋 Plan"
	menuLabelStop   = "⏹ Stop"
	menuLabelDone   = "✅ Done"
	menuLabelUndo   = "↩️ Undo"
	menuLabelReport = "📈 Report"
)

// Deps bundles the stores and services the bot talks to.
type Deps struct {
	Users    *repository.UserRepository
	Sessions *repository.SessionRepository
	Resolver *service.ResolverService
	Blocks   *service.BlockService
	Routines *service.RoutineService
	Refactor *service.RefactorService
	Calendar *service.CalendarSync
	Agenda   *service.AgendaService
}

// Bot aggregates Telegram API with services.
type Bot struct {
	api    *tgbotapi.BotAPI
	deps   Deps
	config *config.Config

	mu        sync.Mutex
	timers    map[uint]*timer
	proposals map[uint][]model.Block
}

// timer is one user's live session with the chat it reports to.
type timer struct {
	chatID    int64
	lifecycle *service.Lifecycle
}

func New(token string, deps Deps, cfg *config.Config) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}

	appLog.Info("bot authorized", "account", api.Self.UserName)

	return &Bot{
		api:       api,
		deps:      deps,
		config:    cfg,
		timers:    make(map[uint]*timer),
		proposals: make(map[uint][]model.Block),
	}, nil
}

// Start begins polling updates until ctx is cancelled.
func (b *Bot) Start(ctx context.Context) error {
	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = 60
	updates := b.api.GetUpdatesChan(updateConfig)

	appLog.Info("start polling updates")

	go func() {
		<-ctx.Done()
		b.api.StopReceivingUpdates()
	}()
	go b.runTicker(ctx)

	for update := range updates {
		if update.Message == nil || update.Message.Chat == nil || !update.Message.Chat.IsPrivate() {
			continue
		}
		if err := b.handleMessage(ctx, update.Message); err != nil {
			appLog.Error("handle message", err, "chat", update.Message.Chat.ID)
		}
	}

	return nil
}

// liveTimer is a timer paired with the chat it reports to, copied under b.mu.
type liveTimer struct {
	chatID    int64
	lifecycle *service.Lifecycle
}

// runTicker drives every live timer once per tick.
func (b *Bot) runTicker(ctx context.Context) {
	ticker := time.NewTicker(service.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		tickTimers(ctx, b.liveTimers(), b.notifyAborted)
	}
}

func (b *Bot) liveTimers() []liveTimer {
	b.mu.Lock()
	defer b.mu.Unlock()
	live := make([]liveTimer, 0, len(b.timers))
	for _, t := range b.timers {
		live = append(live, liveTimer{chatID: t.chatID, lifecycle: t.lifecycle})
	}
	return live
}

// tickTimers ticks each timer and confirms countdowns that ran out. A failed
// confirm leaves the countdown expired, so the next tick retries it.
func tickTimers(ctx context.Context, live []liveTimer, aborted func(chatID int64, snap service.Snapshot)) {
	for _, t := range live {
		snap, _ := t.lifecycle.Handle(ctx, service.Command{Kind: service.CmdTick})
		if !snap.CountdownExpired() {
			continue
		}
		snap, err := t.lifecycle.Handle(ctx, service.Command{Kind: service.CmdConfirm})
		if err != nil {
			appLog.Error("confirm abort failed", err, "session", snap.SessionID)
			continue
		}
		aborted(t.chatID, snap)
	}
}

func (b *Bot) notifyAborted(chatID int64, snap service.Snapshot) {
	if err := b.sendText(chatID, fmt.Sprintf("✖️ <b>%s</b> aborted.", html.EscapeString(snap.BlockTitle))); err != nil {
		appLog.Error("send abort notice", err, "chat", chatID)
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) error {
	if msg.From == nil {
		return nil
	}

	if !msg.IsCommand() {
		if cmd, ok := menuAlias(msg.Text); ok {
			return b.handleCommand(ctx, msg, cmd, "")
		}
		return b.sendText(msg.Chat.ID, "I did not get that. Try /help for the list of commands.")
	}

	appLog.Debug("command received", "from", msg.From.ID, "command", msg.Command(), "args", msg.CommandArguments())
	return b.handleCommand(ctx, msg, msg.Command(), strings.TrimSpace(msg.CommandArguments()))
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message, command, args string) error {
	user, err := b.ensureUser(ctx, msg)
	if err != nil {
		return err
	}
	now := b.now()
	chatID := msg.Chat.ID

	var reply string
	switch command {
	case "help":
		reply = helpText
	case "start":
		reply, err = b.handleStart(ctx, user, chatID, now)
	case "now":
		reply, err = b.handleNow(ctx, user, chatID, now)
	case "plan":
		reply, err = b.handlePlan(ctx, user, now)
	case "add":
		reply, err = b.handleAdd(ctx, user, args, now)
	case "quick":
		reply, err = b.handleQuick(ctx, user, args, now)
	case "delete":
		reply, err = b.handleDelete(ctx, user, args)
	case "stop":
		reason, token := splitReason(args)
		reply, err = b.handleTimer(ctx, user, chatID, now, service.Command{Kind: service.CmdStop, Reason: reason, ResumeToken: token})
	case "undo":
		reply, err = b.handleTimer(ctx, user, chatID, now, service.Command{Kind: service.CmdUndo})
	case "abort":
		reply, err = b.handleTimer(ctx, user, chatID, now, service.Command{Kind: service.CmdConfirm})
	case "done":
		reply, err = b.handleTimer(ctx, user, chatID, now, service.Command{Kind: service.CmdDone, ResumeToken: args})
	case "skip":
		reply, err = b.handleSkip(ctx, user, chatID, args, now)
	case "refactor":
		reply, err = b.handleRefactor(ctx, user, now)
	case "apply":
		reply, err = b.handleApply(ctx, user)
	case "routine":
		reply, err = b.handleRoutine(ctx, user, args, now)
	case "routines":
		reply, err = b.handleRoutines(ctx, user)
	case "sync":
		reply, err = b.handleSync(ctx, user, args == "force", now)
	case "report":
		reply, err = b.deps.Agenda.DailySummary(ctx, *user, now)
	default:
		reply = "Command not supported. See /help."
	}

	if err != nil {
		if !isUserError(err) {
			appLog.Error("command failed", err, "command", command, "owner", user.ID)
		}
		reply = "⚠️ " + html.EscapeString(userMessage(err))
	}
	return b.sendText(chatID, reply)
}

// handleStart starts the block that is current right now, or greets the user
// when nothing is scheduled.
func (b *Bot) handleStart(ctx context.Context, user *model.User, chatID int64, now time.Time) (string, error) {
	t, cur, err := b.timerFor(ctx, user, chatID, now)
	if err != nil {
		return "", err
	}
	if cur == nil {
		name := strings.TrimSpace(user.FirstName)
		if name == "" {
			name = "there"
		}
		return fmt.Sprintf("👋 Hi, %s! Nothing is scheduled right now.\n\n%s", html.EscapeString(name), helpText), nil
	}
	block := cur.Block
	snap, err := t.lifecycle.Handle(ctx, service.Command{Kind: service.CmdStart, Block: &block})
	if err != nil {
		return "", err
	}
	text := fmt.Sprintf("▶️ Started <b>%s</b> until %s.", html.EscapeString(snap.BlockTitle), block.PlannedEnd.In(now.Location()).Format("15:04"))
	if block.StopCondition != nil {
		text += "\nStop when: " + html.EscapeString(*block.StopCondition)
	}
	return text, nil
}

func (b *Bot) handleNow(ctx context.Context, user *model.User, chatID int64, now time.Time) (string, error) {
	t, cur, err := b.timerFor(ctx, user, chatID, now)
	if err != nil {
		return "", err
	}
	snap := t.lifecycle.Snapshot()
	if snap.State == service.StateRunning || snap.State == service.StateStopping {
		return describeSnapshot(snap), nil
	}
	if cur == nil {
		return "🕳 No block right now.", nil
	}
	loc := now.Location()
	text := fmt.Sprintf("🧱 <b>%s</b> %s–%s <i>(%s)</i>",
		html.EscapeString(cur.Block.Title),
		cur.Block.PlannedStart.In(loc).Format("15:04"),
		cur.Block.PlannedEnd.In(loc).Format("15:04"),
		cur.Block.Type,
	)
	if cur.LatestSession != nil {
		text += "\nLast session: " + outcomeLabel(cur.LatestSession.Outcome)
		if token := cur.LatestSession.ResumeToken; token != nil {
			text += "\nResume with: " + html.EscapeString(*token)
		}
	} else {
		text += "\nSend /start to begin."
	}
	return text, nil
}

func (b *Bot) handlePlan(ctx context.Context, user *model.User, now time.Time) (string, error) {
	blocks, err := b.deps.Blocks.ListDay(ctx, user, now)
	if err != nil {
		return "", err
	}
	if len(blocks) == 0 {
		return "📋 Nothing planned today. Use /add or /quick.", nil
	}
	loc := now.Location()
	var builder strings.Builder
	builder.WriteString("📋 <b>Today</b>\n")
	for _, blk := range blocks {
		builder.WriteString(fmt.Sprintf("%s–%s %s <i>(%s)</i> <code>%s</code>\n",
			blk.PlannedStart.In(loc).Format("15:04"),
			blk.PlannedEnd.In(loc).Format("15:04"),
			html.EscapeString(blk.Title),
			blk.Type,
			blk.ID,
		))
	}
	return strings.TrimSpace(builder.String()), nil
}

func (b *Bot) handleAdd(ctx context.Context, user *model.User, args string, now time.Time) (string, error) {
	input, err := parseAddArgs(args, now)
	if err != nil {
		return "", err
	}
	block, err := b.deps.Blocks.CreateBlock(ctx, user, input)
	if err != nil {
		return "", err
	}
	return "🆕 Added " + describeBlock(*block, now.Location()), nil
}

func (b *Bot) handleQuick(ctx context.Context, user *model.User, args string, now time.Time) (string, error) {
	length, title, err := parseQuickArgs(args)
	if err != nil {
		return "", err
	}
	block, err := b.deps.Blocks.QuickAdd(ctx, user, title, length, now)
	if err != nil {
		return "", err
	}
	return "⚡️ Added " + describeBlock(*block, now.Location()) + "\nSend /start to begin.", nil
}

func (b *Bot) handleDelete(ctx context.Context, user *model.User, args string) (string, error) {
	if args == "" {
		return "Usage: /delete &lt;block id&gt; (ids are listed by /plan)", nil
	}
	if err := b.deps.Blocks.DeleteBlock(ctx, user, args); err != nil {
		return "", err
	}
	return "🗑 Block deleted.", nil
}

func (b *Bot) handleTimer(ctx context.Context, user *model.User, chatID int64, now time.Time, cmd service.Command) (string, error) {
	t, _, err := b.timerFor(ctx, user, chatID, now)
	if err != nil {
		return "", err
	}
	snap, err := t.lifecycle.Handle(ctx, cmd)
	if err != nil {
		return "", err
	}
	return describeSnapshot(snap), nil
}

func (b *Bot) handleSkip(ctx context.Context, user *model.User, chatID int64, reason string, now time.Time) (string, error) {
	t, cur, err := b.timerFor(ctx, user, chatID, now)
	if err != nil {
		return "", err
	}
	if cur == nil {
		return "🕳 No block to skip right now.", nil
	}
	block := cur.Block
	snap, err := t.lifecycle.Handle(ctx, service.Command{Kind: service.CmdSkip, Block: &block, Reason: reason})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("⏭ Skipped <b>%s</b>.", html.EscapeString(snap.BlockTitle)), nil
}

func (b *Bot) handleRefactor(ctx context.Context, user *model.User, now time.Time) (string, error) {
	proposal, err := b.deps.Refactor.Propose(ctx, user.ID, now)
	if err != nil {
		return "", err
	}
	b.mu.Lock()
	b.proposals[user.ID] = proposal
	b.mu.Unlock()

	if len(proposal) == 0 {
		return "👌 The rest of the day already fits.", nil
	}
	loc := now.Location()
	var builder strings.Builder
	builder.WriteString("🔀 <b>Proposed moves</b>\n")
	for _, blk := range proposal {
		builder.WriteString(fmt.Sprintf("• %s → %s–%s\n",
			html.EscapeString(blk.Title),
			blk.PlannedStart.In(loc).Format("15:04"),
			blk.PlannedEnd.In(loc).Format("15:04"),
		))
	}
	builder.WriteString("Send /apply to accept.")
	return builder.String(), nil
}

func (b *Bot) handleApply(ctx context.Context, user *model.User) (string, error) {
	b.mu.Lock()
	proposal, ok := b.proposals[user.ID]
	delete(b.proposals, user.ID)
	b.mu.Unlock()

	if !ok || len(proposal) == 0 {
		return "Nothing to apply. Run /refactor first.", nil
	}
	if err := b.deps.Refactor.Apply(ctx, user.ID, proposal); err != nil {
		return "", err
	}
	return fmt.Sprintf("✅ Moved %d blocks.", len(proposal)), nil
}

func (b *Bot) handleRoutine(ctx context.Context, user *model.User, args string, now time.Time) (string, error) {
	input, err := parseRoutineArgs(args)
	if err != nil {
		return "", err
	}
	routine, created, err := b.deps.Routines.Create(ctx, user, input, now)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("♻️ Routine <b>%s</b> saved, %d blocks planned.", html.EscapeString(routine.Title), len(created)), nil
}

func (b *Bot) handleRoutines(ctx context.Context, user *model.User) (string, error) {
	routines, err := b.deps.Routines.List(ctx, user)
	if err != nil {
		return "", err
	}
	if len(routines) == 0 {
		return "♻️ No routines yet. Example: /routine 09:30 15 1,2,3,4,5 Standup #admin", nil
	}
	var builder strings.Builder
	builder.WriteString("♻️ <b>Routines</b>\n")
	for _, r := range routines {
		builder.WriteString(fmt.Sprintf("• %s %s, %d min, days %s <i>(%s)</i>\n",
			r.StartTime, html.EscapeString(r.Title), r.DurationMinutes, r.RecurrenceDays, r.Type))
	}
	return strings.TrimSpace(builder.String()), nil
}

func (b *Bot) handleSync(ctx context.Context, user *model.User, force bool, now time.Time) (string, error) {
	if b.deps.Calendar == nil {
		return "No calendars configured.", nil
	}
	res, err := b.deps.Calendar.Sync(ctx, user.ID, now, force)
	if err != nil {
		return "", err
	}
	if res.Skipped {
		return "🔄 Calendar is fresh. Use /sync force to refresh anyway.", nil
	}
	text := fmt.Sprintf("🔄 Synced %d events (%d new, %d updated).", res.Synced, res.Inserted, res.Updated)
	if len(res.Errors) > 0 {
		text += fmt.Sprintf("\n⚠️ %d failed:\n%s", len(res.Errors), html.EscapeString(strings.Join(res.Errors, "\n")))
	}
	return text, nil
}

// SendDailyReports sends a summary to every known user.
func (b *Bot) SendDailyReports(ctx context.Context) error {
	users, err := b.deps.Users.ListAll(ctx)
	if err != nil {
		return err
	}
	now := b.now()
	for _, user := range users {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		text, err := b.deps.Agenda.DailySummary(ctx, user, now)
		if err != nil {
			appLog.Error("build summary", err, "owner", user.ID)
			continue
		}
		if err := b.sendText(user.ChatID, text); err != nil {
			appLog.Error("send summary", err, "chat", user.ChatID)
		}
	}
	return nil
}

// timerFor returns the user's timer, restoring an open session of the current
// block the first time it is asked for.
func (b *Bot) timerFor(ctx context.Context, user *model.User, chatID int64, now time.Time) (*timer, *service.Current, error) {
	cur, err := b.deps.Resolver.Resolve(ctx, user.ID, now)
	if err != nil {
		return nil, nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if t, ok := b.timers[user.ID]; ok {
		t.chatID = chatID
		return t, cur, nil
	}
	t := &timer{
		chatID: chatID,
		lifecycle: service.NewLifecycle(b.deps.Sessions,
			service.WithUndoWindow(b.config.UndoWindow),
			service.WithClock(b.now),
		),
	}
	if cur != nil && cur.LatestSession != nil && !cur.LatestSession.Outcome.Terminal() {
		if err := t.lifecycle.Restore(cur.Block, *cur.LatestSession); err != nil {
			appLog.Error("restore session", err, "owner", user.ID, "session", cur.LatestSession.ID)
		}
	}
	b.timers[user.ID] = t
	return t, cur, nil
}

func (b *Bot) now() time.Time {
	loc := time.Local
	if b.config != nil && b.config.Location != nil {
		loc = b.config.Location
	}
	return time.Now().In(loc)
}

func (b *Bot) ensureUser(ctx context.Context, msg *tgbotapi.Message) (*model.User, error) {
	from := msg.From
	return b.deps.Users.UpsertFromTelegram(ctx, from.ID, msg.Chat.ID, from.FirstName, from.LastName, from.UserName)
}

func (b *Bot) sendText(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = mainMenuKeyboard()
	_, err := b.api.Send(msg)
	return err
}

func mainMenuKeyboard() tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(menuLabelNow),
			tgbotapi.NewKeyboardButton(menuLabelPlan),
			tgbotapi.NewKeyboardButton(menuLabelReport),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(menuLabelStop),
			tgbotapi.NewKeyboardButton(menuLabelUndo),
			tgbotapi.NewKeyboardButton(menuLabelDone),
		),
	)
	kb.ResizeKeyboard = true
	kb.OneTimeKeyboard = false
	return kb
}

func menuAlias(text string) (string, bool) {
	switch strings.TrimSpace(text) {
	case menuLabelNow:
		return "now", true
	case menuLabelPlan:
		return "plan", true
	case menuLabelStop:
		return "stop", true
	case menuLabelDone:
		return "done", true
	case menuLabelUndo:
		return "undo", true
	case menuLabelReport:
		return "report", true
	}
	return "", false
}

func describeSnapshot(snap service.Snapshot) string {
	title := html.EscapeString(snap.BlockTitle)
	switch snap.State {
	case service.StateRunning:
		return fmt.Sprintf("⏱ <b>%s</b> running, %s elapsed.", title, snap.Elapsed)
	case service.StateStopping:
		return fmt.Sprintf("⏸ <b>%s</b> stopping in %s. /undo to resume, /abort to end now.", title, snap.UndoRemaining)
	case service.StateFinished:
		return fmt.Sprintf("%s <b>%s</b>.", outcomeLabel(snap.Outcome), title)
	}
	return "No session running. Send /start to begin the current block."
}

func describeBlock(blk model.Block, loc *time.Location) string {
	return fmt.Sprintf("<b>%s</b> %s–%s <i>(%s)</i>",
		html.EscapeString(blk.Title),
		blk.PlannedStart.In(loc).Format("15:04"),
		blk.PlannedEnd.In(loc).Format("15:04"),
		blk.Type,
	)
}

func outcomeLabel(o model.Outcome) string {
	switch o {
	case model.OutcomeDone:
		return "✅ done"
	case model.OutcomeAborted:
		return "✖️ aborted"
	case model.OutcomeSkipped:
		return "⏭ skipped"
	case model.OutcomeAbandoned:
		return "⏸ stopped"
	}
	return "⏱ in progress"
}

func isUserError(err error) bool {
	return errors.Is(err, apperrors.ErrValidation) ||
		errors.Is(err, apperrors.ErrNotFound) ||
		errors.Is(err, apperrors.ErrInvalidTransition) ||
		errors.Is(err, apperrors.ErrConflict)
}

func userMessage(err error) string {
	switch {
	case isUserError(err):
		return err.Error()
	case errors.Is(err, apperrors.ErrUpstream):
		return "calendar is unreachable, try again later"
	}
	return "something went wrong, try again later"
}

const helpText = "ℹ️ <b>Commands</b>\n" +
	"• /now — what to work on right now\n" +
	"• /plan — today's blocks\n" +
	"• /add HH:MM-HH:MM title [#focus|#admin|#recovery] — plan a block\n" +
	"• /quick minutes title — block starting now\n" +
	"• /delete id — remove a block\n" +
	"• /start — start the current block\n" +
	"• /stop [reason | next step] — stop with a short undo window\n" +
	"• /undo — resume a stopped session\n" +
	"• /abort — end a stopped session now\n" +
	"• /done [next step] — finish the session\n" +
	"• /skip [reason] — skip the current block\n" +
	"• /refactor, /apply — repack the rest of the day\n" +
	"• /routine HH:MM minutes 1,3,5 title [#type] — weekly routine\n" +
	"• /routines — list routines\n" +
	"• /sync [force] — pull external calendars\n" +
	"• /report — daily summary"
