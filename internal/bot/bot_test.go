package bot

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/natal-chart/internal/dialogue"
	"github.com/ashureev/natal-chart/internal/domain"
	"github.com/ashureev/natal-chart/internal/i18n"
	"github.com/ashureev/natal-chart/internal/orchestrator"
	"github.com/ashureev/natal-chart/internal/store"
)

type captureSender struct {
	mu   sync.Mutex
	msgs []Outbound
	ch   chan Outbound
}

func newCaptureSender() *captureSender {
	return &captureSender{ch: make(chan Outbound, 128)}
}

func (c *captureSender) Send(_ context.Context, _ string, msg Outbound) error {
	c.mu.Lock()
	c.msgs = append(c.msgs, msg)
	c.mu.Unlock()
	c.ch <- msg
	return nil
}

func (c *captureSender) last() Outbound {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.msgs) == 0 {
		return Outbound{}
	}
	return c.msgs[len(c.msgs)-1]
}

// waitFor drains messages until one of the given type arrives.
func (c *captureSender) waitFor(t *testing.T, msgType string) Outbound {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case m := <-c.ch:
			if m.Type == msgType {
				return m
			}
		case <-timeout:
			t.Fatalf("no %s message received", msgType)
		}
	}
}

type stubRunner struct {
	out     orchestrator.Outcome
	release chan struct{}
	mu      sync.Mutex
	records []*domain.BirthRecord
}

func (s *stubRunner) RunWithProgress(ctx context.Context, rec *domain.BirthRecord, progress orchestrator.ProgressFunc) orchestrator.Outcome {
	s.mu.Lock()
	s.records = append(s.records, rec)
	s.mu.Unlock()
	progress(orchestrator.StageCalculating)
	if s.release != nil {
		select {
		case <-s.release:
		case <-ctx.Done():
		}
	}
	progress(orchestrator.StageGenerating)
	return s.out
}

type fixture struct {
	bot    *Bot
	sender *captureSender
	repo   *store.MemoryStore
	runner *stubRunner
	cat    *i18n.Catalog
}

func newFixture(t *testing.T, runner *stubRunner) *fixture {
	t.Helper()
	cat, err := i18n.New("en", "ka")
	if err != nil {
		t.Fatalf("i18n.New() error = %v", err)
	}
	repo := store.NewMemory()
	engine := dialogue.NewEngine(repo, cat, dialogue.NewSessions(time.Minute, nil), dialogue.Options{})
	sender := newCaptureSender()
	b := New(engine, runner, repo, cat, sender, Config{}, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = b.Shutdown(ctx)
	})
	return &fixture{bot: b, sender: sender, repo: repo, runner: runner, cat: cat}
}

func (f *fixture) collect(t *testing.T, userID string) {
	t.Helper()
	ctx := context.Background()
	f.bot.HandleText(ctx, userID, "/createchart")
	f.bot.HandleChoice(ctx, userID, "en")
	for _, in := range []string{"Nino", "02.08.1990", "09:30", "Georgia", "Tbilisi"} {
		f.bot.HandleText(ctx, userID, in)
	}
}

func TestCreateChartDeliversParts(t *testing.T) {
	runner := &stubRunner{out: orchestrator.Outcome{Result: orchestrator.ResultOK, Parts: []string{"part one", "part two"}}}
	f := newFixture(t, runner)
	f.collect(t, "u1")

	if m := f.sender.waitFor(t, TypeStatus); !strings.Contains(m.Text, "Calculating") {
		t.Errorf("first status = %q", m.Text)
	}
	first := f.sender.waitFor(t, TypeChart)
	second := f.sender.waitFor(t, TypeChart)
	if first.Text != "part one" || first.Part != 1 || first.Parts != 2 || second.Part != 2 {
		t.Errorf("chart messages = %+v, %+v", first, second)
	}

	runner.mu.Lock()
	defer runner.mu.Unlock()
	if len(runner.records) != 1 || runner.records[0].City != "Tbilisi" {
		t.Fatalf("runner records = %+v", runner.records)
	}
}

func TestRunFailureIsReported(t *testing.T) {
	runner := &stubRunner{out: orchestrator.Outcome{
		Result:  orchestrator.ResultCityNotFound,
		Failure: &orchestrator.Notice{Key: "error.city_not_found", Vars: i18n.Vars{"city": "Atlantis"}},
	}}
	f := newFixture(t, runner)
	f.collect(t, "u1")

	m := f.sender.waitFor(t, TypeError)
	if !strings.Contains(m.Text, "Atlantis") {
		t.Errorf("error = %q", m.Text)
	}
}

func TestCancelDiscardsInFlightRun(t *testing.T) {
	runner := &stubRunner{
		out:     orchestrator.Outcome{Result: orchestrator.ResultOK, Parts: []string{"should not arrive"}},
		release: make(chan struct{}),
	}
	f := newFixture(t, runner)
	f.collect(t, "u1")
	f.sender.waitFor(t, TypeStatus)

	f.bot.HandleText(context.Background(), "u1", "/createchart")
	if m := f.sender.waitFor(t, TypeError); !strings.Contains(m.Text, "already being prepared") {
		t.Errorf("busy message = %q", m.Text)
	}

	f.bot.HandleText(context.Background(), "u1", "/cancel")
	if m := f.sender.waitFor(t, TypeStatus); !strings.Contains(m.Text, "cancelled") {
		t.Errorf("cancel status = %q", m.Text)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := f.bot.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	f.sender.mu.Lock()
	defer f.sender.mu.Unlock()
	for _, m := range f.sender.msgs {
		if m.Type == TypeChart {
			t.Fatalf("discarded run delivered %q", m.Text)
		}
	}
}

func TestReuseSavedDeliversCachedChart(t *testing.T) {
	ctx := context.Background()
	runner := &stubRunner{out: orchestrator.Outcome{Result: orchestrator.ResultOK, Parts: []string{"FRESH"}}}
	f := newFixture(t, runner)
	f.bot.cfg.MessageLimit = 20

	cached := "CACHED CHART\n\nfirst paragraph of text\n\nsecond paragraph"
	rec := &domain.BirthRecord{
		UserID: "u1", Name: "Nino", Year: 1990, Month: 8, Day: 2,
		Time: &domain.ClockTime{Hour: 9, Minute: 30}, City: "Tbilisi", Language: "en",
		ChartText: cached,
	}
	if err := f.repo.UpsertBirthRecord(ctx, rec); err != nil {
		t.Fatal(err)
	}

	f.bot.HandleText(ctx, "u1", "/createchart")
	f.bot.HandleChoice(ctx, "u1", "en")
	f.bot.HandleChoice(ctx, "u1", dialogue.ChoiceUseSaved)

	f.sender.mu.Lock()
	var parts []Outbound
	for _, m := range f.sender.msgs {
		if m.Type == TypeChart {
			parts = append(parts, m)
		}
	}
	f.sender.mu.Unlock()
	if len(parts) < 2 {
		t.Fatalf("cached chart parts = %+v", parts)
	}
	var joined []string
	for i, p := range parts {
		if p.Part != i+1 || p.Parts != len(parts) || len(p.Text) > 20 {
			t.Errorf("part %d = %+v", i, p)
		}
		joined = append(joined, p.Text)
	}
	if !strings.HasPrefix(joined[0], "CACHED CHART") || strings.Contains(strings.Join(joined, ""), "FRESH") {
		t.Errorf("delivered %q", joined)
	}

	runner.mu.Lock()
	calls := len(runner.records)
	runner.mu.Unlock()
	if calls != 0 {
		t.Errorf("reusing a cached chart ran the pipeline %d time(s)", calls)
	}
	if f.bot.ActiveRuns() != 0 {
		t.Errorf("active runs = %d", f.bot.ActiveRuns())
	}
	got, err := f.repo.GetBirthRecord(ctx, "u1")
	if err != nil || got == nil || got.ChartText != cached {
		t.Errorf("stored record changed: %+v, %v", got, err)
	}
}

func TestReuseSavedWithoutCacheRunsPipeline(t *testing.T) {
	ctx := context.Background()
	runner := &stubRunner{out: orchestrator.Outcome{Result: orchestrator.ResultOK, Parts: []string{"FRESH"}}}
	f := newFixture(t, runner)

	rec := &domain.BirthRecord{
		UserID: "u1", Name: "Nino", Year: 1990, Month: 8, Day: 2,
		Time: &domain.ClockTime{Hour: 9, Minute: 30}, City: "Tbilisi", Language: "en",
	}
	if err := f.repo.UpsertBirthRecord(ctx, rec); err != nil {
		t.Fatal(err)
	}

	f.bot.HandleText(ctx, "u1", "/createchart")
	f.bot.HandleChoice(ctx, "u1", "en")
	f.bot.HandleChoice(ctx, "u1", dialogue.ChoiceUseSaved)

	if m := f.sender.waitFor(t, TypeChart); m.Text != "FRESH" {
		t.Errorf("chart = %+v", m)
	}
	runner.mu.Lock()
	defer runner.mu.Unlock()
	if len(runner.records) != 1 || runner.records[0].Name != "Nino" {
		t.Errorf("runner records = %+v", runner.records)
	}
}

type failingUpserts struct {
	*store.MemoryStore
}

func (failingUpserts) UpsertBirthRecord(context.Context, *domain.BirthRecord) error {
	return errors.New("disk full")
}

func TestPersistenceWarningShownOnce(t *testing.T) {
	cat, err := i18n.New("en", "ka")
	if err != nil {
		t.Fatalf("i18n.New() error = %v", err)
	}
	repo := failingUpserts{store.NewMemory()}
	engine := dialogue.NewEngine(repo, cat, dialogue.NewSessions(time.Minute, nil), dialogue.Options{})
	runner := &stubRunner{out: orchestrator.Outcome{
		Result:   orchestrator.ResultOK,
		Parts:    []string{"chart"},
		Warnings: []orchestrator.Notice{{Key: "warn.persistence"}, {Key: "warn.geocoding"}},
	}}
	sender := newCaptureSender()
	b := New(engine, runner, repo, cat, sender, Config{}, nil)
	f := &fixture{bot: b, sender: sender, runner: runner, cat: cat}
	f.collect(t, "u1")
	f.sender.waitFor(t, TypeChart)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := b.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	persistence := cat.Text("en", "warn.persistence", nil)
	var seen, geocoding int
	sender.mu.Lock()
	defer sender.mu.Unlock()
	for _, m := range sender.msgs {
		if m.Type != TypeWarning {
			continue
		}
		if m.Text == persistence {
			seen++
		} else {
			geocoding++
		}
	}
	if seen != 1 || geocoding != 1 {
		t.Errorf("persistence warnings = %d, other warnings = %d", seen, geocoding)
	}
}

func TestCancelWithNothingActive(t *testing.T) {
	f := newFixture(t, &stubRunner{})
	f.bot.HandleText(context.Background(), "u1", "/cancel")
	if got := f.sender.last().Text; got != f.cat.Text("en", "dialogue.nothing_to_cancel", nil) {
		t.Errorf("reply = %q", got)
	}
}

func TestDataCommands(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &stubRunner{})

	f.bot.HandleText(ctx, "u1", "/mydata")
	if got := f.sender.last().Text; got != f.cat.Text("en", "mydata.none", nil) {
		t.Errorf("/mydata without record = %q", got)
	}
	f.bot.HandleText(ctx, "u1", "/mychart")
	if got := f.sender.last().Text; got != f.cat.Text("en", "mychart.none", nil) {
		t.Errorf("/mychart without chart = %q", got)
	}

	rec := &domain.BirthRecord{
		UserID: "u1", Name: "Nino", Year: 1990, Month: 8, Day: 2,
		Time: &domain.ClockTime{Hour: 9, Minute: 30}, City: "Tbilisi", Language: "ka",
		ChartText: "cached chart",
	}
	if err := f.repo.UpsertBirthRecord(ctx, rec); err != nil {
		t.Fatal(err)
	}

	f.bot.HandleText(ctx, "u2", "/mydata")
	if got := f.sender.last().Text; got != f.cat.Text("en", "mydata.none", nil) {
		t.Errorf("other user sees data: %q", got)
	}

	f.bot.HandleText(ctx, "u1", "/mydata")
	if got := f.sender.last().Text; !strings.Contains(got, "Nino") || !strings.Contains(got, "02/08/1990") {
		t.Errorf("/mydata = %q", got)
	}
	f.bot.HandleText(ctx, "u1", "/mychart")
	if m := f.sender.last(); m.Type != TypeChart || m.Text != "cached chart" {
		t.Errorf("/mychart = %+v", m)
	}

	f.bot.HandleText(ctx, "u1", "/deletedata")
	if got := f.sender.last().Text; got != f.cat.Text("ka", "deletedata.done", nil) {
		t.Errorf("/deletedata = %q", got)
	}
	f.bot.HandleText(ctx, "u1", "/deletedata")
	if got := f.sender.last().Text; got != f.cat.Text("ka", "deletedata.none", nil) {
		t.Errorf("second /deletedata = %q", got)
	}
}

func TestLanguageCommand(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &stubRunner{})

	f.bot.HandleText(ctx, "u1", "/language")
	m := f.sender.last()
	if len(m.Choices) != len(f.cat.Languages()) {
		t.Fatalf("choices = %+v", m.Choices)
	}
	f.bot.HandleChoice(ctx, "u1", "ka")
	if got := f.sender.last().Text; got != f.cat.Text("ka", "cmd.language_changed", nil) {
		t.Errorf("language changed reply = %q", got)
	}
	f.bot.HandleText(ctx, "u1", "/start")
	if got := f.sender.last().Text; got != f.cat.Text("ka", "cmd.start", nil) {
		t.Errorf("/start not localized: %q", got)
	}
}

func TestUnknownInput(t *testing.T) {
	f := newFixture(t, &stubRunner{})
	for _, in := range []string{"hello", "/nope", "/START@natalbot"} {
		f.bot.HandleText(context.Background(), "u1", in)
	}
	f.sender.mu.Lock()
	defer f.sender.mu.Unlock()
	unknown := f.cat.Text("en", "cmd.unknown", nil)
	if f.sender.msgs[0].Text != unknown || f.sender.msgs[1].Text != unknown {
		t.Errorf("unknown replies = %+v", f.sender.msgs[:2])
	}
	if f.sender.msgs[2].Text != f.cat.Text("en", "cmd.start", nil) {
		t.Errorf("/START@natalbot should map to /start")
	}
}

func TestDialogueChoicesAreLabelled(t *testing.T) {
	f := newFixture(t, &stubRunner{})
	ctx := context.Background()
	f.bot.HandleText(ctx, "u1", "/createchart")
	if m := f.sender.last(); len(m.Choices) == 0 || m.Choices[0].Label != "English" {
		t.Fatalf("language choices = %+v", m.Choices)
	}
	f.bot.HandleChoice(ctx, "u1", "en")
	f.bot.HandleText(ctx, "u1", "Nino")
	f.bot.HandleText(ctx, "u1", "1990-08-02")
	m := f.sender.last()
	if len(m.Choices) != 1 || m.Choices[0].ID != dialogue.ChoiceTimeUnknown || m.Choices[0].Label != "I don't know" {
		t.Errorf("time choices = %+v", m.Choices)
	}
}
