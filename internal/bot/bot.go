// Package bot routes chat input to commands, the birth data dialogue and
// chart runs, and renders every reply through the message catalog.
package bot

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/natal-chart/internal/dialogue"
	"github.com/ashureev/natal-chart/internal/domain"
	"github.com/ashureev/natal-chart/internal/i18n"
	"github.com/ashureev/natal-chart/internal/orchestrator"
	"github.com/ashureev/natal-chart/internal/segment"
)

// Outbound message types.
const (
	TypeMessage = "message"
	TypeStatus  = "status"
	TypeWarning = "warning"
	TypeError   = "error"
	TypeChart   = "chart"
)

// Choice is a button offered with a message.
type Choice struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// Outbound is one message to a user.
type Outbound struct {
	Type    string   `json:"type"`
	Text    string   `json:"content"`
	Choices []Choice `json:"choices,omitempty"`
	// Part and Parts number chart segments, starting at 1.
	Part  int `json:"part,omitempty"`
	Parts int `json:"parts,omitempty"`
}

// Sender delivers outbound messages to every connection of a user.
type Sender interface {
	Send(ctx context.Context, userID string, msg Outbound) error
}

// Records is the subset of the record store used for commands.
type Records interface {
	GetBirthRecord(ctx context.Context, userID string) (*domain.BirthRecord, error)
	DeleteBirthRecord(ctx context.Context, userID string) (bool, error)
}

// Runner executes the chart pipeline.
type Runner interface {
	RunWithProgress(ctx context.Context, rec *domain.BirthRecord, progress orchestrator.ProgressFunc) orchestrator.Outcome
}

// Catalog renders localized text.
type Catalog interface {
	Text(lang, key string, vars i18n.Vars) string
	Lookup(lang, key string) (string, bool)
	Languages() []string
	Supports(lang string) bool
	Default() string
}

// Config tunes the bot.
type Config struct {
	// MessageLimit bounds cached chart parts replayed by /mychart and saved data reuse.
	MessageLimit int
	// RunTimeout caps one pipeline run.
	RunTimeout time.Duration
	// SendTimeout caps one outbound delivery.
	SendTimeout time.Duration
}

// Bot is the command layer shared by every transport.
type Bot struct {
	dialogue *dialogue.Engine
	runner   Runner
	records  Records
	catalog  Catalog
	sender   Sender
	cfg      Config
	logger   *slog.Logger

	runs *runRegistry
	wg   sync.WaitGroup
	root context.Context
	stop context.CancelFunc

	prefsMu sync.RWMutex
	prefs   map[string]string
}

// New creates a Bot. Runs outlive the request that started them and are
// bounded by Shutdown.
func New(engine *dialogue.Engine, runner Runner, records Records, catalog Catalog, sender Sender, cfg Config, logger *slog.Logger) *Bot {
	if cfg.MessageLimit <= 0 {
		cfg.MessageLimit = segment.Limit(4096, 96)
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = 5 * time.Minute
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	root, stop := context.WithCancel(context.Background())
	b := &Bot{
		dialogue: engine,
		runner:   runner,
		records:  records,
		catalog:  catalog,
		sender:   sender,
		cfg:      cfg,
		logger:   logger,
		runs:     newRunRegistry(),
		root:     root,
		stop:     stop,
		prefs:    make(map[string]string),
	}
	engine.Sessions().SetExpireHook(b.onDialogueExpired)
	return b
}

// ActiveRuns returns the number of in-flight pipeline runs.
func (b *Bot) ActiveRuns() int {
	return b.runs.count()
}

// Shutdown cancels in-flight runs and waits for them to return.
func (b *Bot) Shutdown(ctx context.Context) error {
	b.stop()
	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HandleText processes a free-text message or a slash command.
func (b *Bot) HandleText(ctx context.Context, userID, text string) {
	text = strings.TrimSpace(text)
	if cmd, ok := parseCommand(text); ok {
		b.handleCommand(ctx, userID, cmd)
		return
	}
	if reply, ok := b.dialogue.Handle(ctx, userID, dialogue.TextInput(text)); ok {
		b.handleReply(ctx, userID, reply)
		return
	}
	b.notify(ctx, userID, TypeMessage, "cmd.unknown", nil)
}

// HandleChoice processes a button press.
func (b *Bot) HandleChoice(ctx context.Context, userID, choice string) {
	if reply, ok := b.dialogue.Handle(ctx, userID, dialogue.ChoiceInput(choice)); ok {
		b.handleReply(ctx, userID, reply)
		return
	}
	if b.catalog.Supports(choice) {
		b.setLanguage(userID, choice)
		b.notify(ctx, userID, TypeMessage, "cmd.language_changed", nil)
		return
	}
	b.notify(ctx, userID, TypeMessage, "cmd.unknown", nil)
}

// Reject tells the user their message was refused, e.g. by the rate limiter.
func (b *Bot) Reject(ctx context.Context, userID, key string) {
	b.notify(ctx, userID, TypeError, key, nil)
}

func parseCommand(text string) (string, bool) {
	if !strings.HasPrefix(text, "/") {
		return "", false
	}
	cmd, _, _ := strings.Cut(text[1:], " ")
	// Strip a "@botname" suffix.
	cmd, _, _ = strings.Cut(cmd, "@")
	return strings.ToLower(cmd), true
}

func (b *Bot) handleCommand(ctx context.Context, userID, cmd string) {
	b.logger.Debug("Command received", "user_id", userID, "command", cmd)
	switch cmd {
	case "start":
		b.notify(ctx, userID, TypeMessage, "cmd.start", nil)
	case "createchart":
		b.createChart(ctx, userID)
	case "mydata":
		b.showData(ctx, userID)
	case "mychart":
		b.showChart(ctx, userID)
	case "deletedata":
		b.deleteData(ctx, userID)
	case "cancel":
		b.cancel(ctx, userID)
	case "language":
		b.send(ctx, userID, Outbound{
			Type:    TypeMessage,
			Text:    b.catalog.Text(b.language(ctx, userID), "cmd.language_prompt", nil),
			Choices: b.languageChoices(),
		})
	default:
		b.notify(ctx, userID, TypeMessage, "cmd.unknown", nil)
	}
}

func (b *Bot) createChart(ctx context.Context, userID string) {
	if b.runs.active(userID) {
		b.notify(ctx, userID, TypeError, "error.busy", nil)
		return
	}
	reply := b.dialogue.Start(ctx, userID, b.language(ctx, userID))
	b.handleReply(ctx, userID, reply)
}

func (b *Bot) showData(ctx context.Context, userID string) {
	rec, err := b.records.GetBirthRecord(ctx, userID)
	if err != nil {
		b.logger.Error("Failed to load birth record", "user_id", userID, "error", err)
		b.notify(ctx, userID, TypeError, "error.generic", nil)
		return
	}
	if rec == nil {
		b.notify(ctx, userID, TypeMessage, "mydata.none", nil)
		return
	}
	b.notify(ctx, userID, TypeMessage, "mydata.record", dialogue.RecordVars(rec))
}

func (b *Bot) showChart(ctx context.Context, userID string) {
	rec, err := b.records.GetBirthRecord(ctx, userID)
	if err != nil {
		b.logger.Error("Failed to load birth record", "user_id", userID, "error", err)
		b.notify(ctx, userID, TypeError, "error.generic", nil)
		return
	}
	if rec == nil || !rec.HasChart() {
		b.notify(ctx, userID, TypeMessage, "mychart.none", nil)
		return
	}
	b.sendParts(ctx, userID, segment.Split(rec.ChartText, b.cfg.MessageLimit))
}

func (b *Bot) deleteData(ctx context.Context, userID string) {
	existed, err := b.records.DeleteBirthRecord(ctx, userID)
	switch {
	case err != nil:
		b.logger.Error("Failed to delete birth record", "user_id", userID, "error", err)
		b.notify(ctx, userID, TypeError, "deletedata.failed", nil)
	case existed:
		b.logger.Info("Birth record deleted", "user_id", userID)
		b.notify(ctx, userID, TypeMessage, "deletedata.done", nil)
	default:
		b.notify(ctx, userID, TypeMessage, "deletedata.none", nil)
	}
}

func (b *Bot) cancel(ctx context.Context, userID string) {
	cancelled := false
	if reply, ok := b.dialogue.Cancel(userID); ok {
		b.handleReply(ctx, userID, reply)
		cancelled = true
	}
	if b.runs.discard(userID) {
		b.logger.Info("Chart run discarded", "user_id", userID)
		b.notify(ctx, userID, TypeStatus, "status.run_cancelled", nil)
		cancelled = true
	}
	if !cancelled {
		b.notify(ctx, userID, TypeMessage, "dialogue.nothing_to_cancel", nil)
	}
}

func (b *Bot) handleReply(ctx context.Context, userID string, reply dialogue.Reply) {
	if reply.Language != "" {
		b.setLanguage(userID, reply.Language)
	}
	lang := b.language(ctx, userID)

	for i, msg := range reply.Messages {
		out := Outbound{Type: TypeMessage, Text: b.catalog.Text(lang, msg.Key, msg.Vars)}
		if i == len(reply.Messages)-1 {
			out.Choices = b.choices(lang, reply.State, reply.Choices)
		}
		b.send(ctx, userID, out)
	}
	for _, w := range reply.Warnings {
		b.notify(ctx, userID, TypeWarning, w.Key, w.Vars)
	}

	switch reply.Outcome {
	case dialogue.End:
		if reply.Record.HasChart() {
			b.logger.Info("Delivering cached chart", "user_id", userID)
			b.sendParts(ctx, userID, segment.Split(reply.Record.ChartText, b.cfg.MessageLimit))
			return
		}
		b.startRun(userID, reply.Record, reply.Warnings)
	case dialogue.Completed:
		b.startRun(userID, reply.Record, reply.Warnings)
	}
}

func (b *Bot) choices(lang string, state dialogue.State, ids []string) []Choice {
	if len(ids) == 0 {
		return nil
	}
	if state == dialogue.StateChooseLanguage {
		return b.languageChoices()
	}
	out := make([]Choice, 0, len(ids))
	for _, id := range ids {
		out = append(out, Choice{ID: id, Label: b.catalog.Text(lang, "choice."+id, nil)})
	}
	return out
}

func (b *Bot) languageChoices() []Choice {
	langs := b.catalog.Languages()
	out := make([]Choice, 0, len(langs))
	for _, l := range langs {
		label := b.catalog.Text(l, "language.name", nil)
		out = append(out, Choice{ID: l, Label: label})
	}
	return out
}

// startRun executes the pipeline in the background. Run warnings whose key
// was already shown by the dialogue are not repeated.
func (b *Bot) startRun(userID string, rec *domain.BirthRecord, shown []dialogue.Message) {
	rn, ok := b.runs.start(b.root, userID)
	if !ok {
		b.notify(b.root, userID, TypeError, "error.busy", nil)
		return
	}
	lang := rec.Language
	if lang == "" {
		lang = b.language(b.root, userID)
		rec.Language = lang
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer b.runs.finish(userID, rn)

		ctx, cancel := context.WithTimeout(rn.ctx, b.cfg.RunTimeout)
		defer cancel()
		logger := b.logger.With("user_id", userID, "run_id", rn.id)
		logger.Info("Chart run started")

		out := b.runner.RunWithProgress(ctx, rec, func(stage orchestrator.Stage) {
			if rn.discarded.Load() {
				return
			}
			switch stage {
			case orchestrator.StageCalculating:
				b.notify(b.root, userID, TypeStatus, "status.calculating", nil)
			case orchestrator.StageGenerating:
				b.notify(b.root, userID, TypeStatus, "status.generating", nil)
			}
		})

		if rn.discarded.Load() {
			logger.Info("Discarding result of cancelled run", "result", out.Result)
			return
		}
		for _, w := range out.Warnings {
			if wasShown(shown, w.Key) {
				continue
			}
			b.notify(b.root, userID, TypeWarning, w.Key, w.Vars)
		}
		if out.Failure != nil {
			b.notify(b.root, userID, TypeError, out.Failure.Key, out.Failure.Vars)
			return
		}
		b.sendParts(b.root, userID, out.Parts)
	}()
}

func wasShown(shown []dialogue.Message, key string) bool {
	for _, m := range shown {
		if m.Key == key {
			return true
		}
	}
	return false
}

func (b *Bot) sendParts(ctx context.Context, userID string, parts []string) {
	for i, p := range parts {
		b.send(ctx, userID, Outbound{Type: TypeChart, Text: p, Part: i + 1, Parts: len(parts)})
	}
}

func (b *Bot) onDialogueExpired(userID string) {
	b.notify(b.root, userID, TypeMessage, "dialogue.expired", nil)
}

func (b *Bot) notify(ctx context.Context, userID, msgType, key string, vars i18n.Vars) {
	b.send(ctx, userID, Outbound{Type: msgType, Text: b.catalog.Text(b.language(ctx, userID), key, vars)})
}

func (b *Bot) send(ctx context.Context, userID string, msg Outbound) {
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.cfg.SendTimeout)
	defer cancel()
	if err := b.sender.Send(sendCtx, userID, msg); err != nil {
		b.logger.Debug("Failed to deliver message", "user_id", userID, "type", msg.Type, "error", err)
	}
}

// language resolves the user's language: explicit choice, then saved record, then default.
func (b *Bot) language(ctx context.Context, userID string) string {
	b.prefsMu.RLock()
	lang, ok := b.prefs[userID]
	b.prefsMu.RUnlock()
	if ok {
		return lang
	}
	if rec, err := b.records.GetBirthRecord(ctx, userID); err == nil && rec != nil && b.catalog.Supports(rec.Language) {
		b.setLanguage(userID, rec.Language)
		return rec.Language
	}
	return b.catalog.Default()
}

func (b *Bot) setLanguage(userID, lang string) {
	b.prefsMu.Lock()
	defer b.prefsMu.Unlock()
	b.prefs[userID] = lang
}
