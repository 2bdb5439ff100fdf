// Package orchestrator runs the chart pipeline for one complete birth record:
// astrology computation, prompt assembly, text generation, section
// extraction, document assembly, persistence and segmentation.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ashureev/natal-chart/internal/astrology"
	"github.com/ashureev/natal-chart/internal/domain"
	"github.com/ashureev/natal-chart/internal/extract"
	"github.com/ashureev/natal-chart/internal/generation"
	"github.com/ashureev/natal-chart/internal/i18n"
	"github.com/ashureev/natal-chart/internal/segment"
)

// Astrology computes chart data.
type Astrology interface {
	Chart(ctx context.Context, rec *domain.BirthRecord) (*domain.AstrologyResult, error)
	Aspects(res *domain.AstrologyResult) ([]domain.Aspect, error)
	GeocodingDegraded() bool
}

// ChartStore caches rendered documents.
type ChartStore interface {
	SaveChartText(ctx context.Context, userID, text string) error
}

// Translator renders localized messages.
type Translator interface {
	Text(lang, key string, vars i18n.Vars) string
	Lookup(lang, key string) (string, bool)
}

// Observer receives pipeline measurements. All methods must be safe for concurrent use.
type Observer interface {
	RunFinished(result string, elapsed time.Duration)
	AdapterError(adapter, kind string)
	GenerationFinished(result string, elapsed time.Duration)
}

type nopObserver struct{}

func (nopObserver) RunFinished(string, time.Duration)        {}
func (nopObserver) AdapterError(string, string)              {}
func (nopObserver) GenerationFinished(string, time.Duration) {}

// Config tunes report assembly.
type Config struct {
	// MessageLimit is the byte budget per delivered part.
	MessageLimit int
	// MinSentences is the minimum sentence count requested per entry, by section id.
	MinSentences map[string]int
}

// DefaultConfig returns the standard limits.
func DefaultConfig() Config {
	return Config{
		MessageLimit: segment.Limit(4096, 96),
		MinSentences: map[string]int{
			domain.SectionSigns:   3,
			domain.SectionHouses:  2,
			domain.SectionAspects: 2,
		},
	}
}

// Notice is a localized message reference produced by a run.
type Notice struct {
	Key  string
	Vars i18n.Vars
}

// Run results.
const (
	ResultOK               = "ok"
	ResultDegraded         = "degraded"
	ResultCityNotFound     = "city_not_found"
	ResultComputationError = "computation_failed"
)

// Outcome is the result of one pipeline run.
type Outcome struct {
	Result   string
	Report   *domain.FinalReport
	Document string
	// Parts is Document split for delivery.
	Parts    []string
	Warnings []Notice
	// Failure is set when no chart could be produced.
	Failure *Notice
}

// Orchestrator sequences the external collaborators.
type Orchestrator struct {
	astro    Astrology
	gen      generation.Generator
	store    ChartStore
	tr       Translator
	cfg      Config
	logger   *slog.Logger
	observer Observer
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithObserver sets the metrics observer.
func WithObserver(obs Observer) Option {
	return func(o *Orchestrator) { o.observer = obs }
}

// New creates an Orchestrator.
func New(astro Astrology, gen generation.Generator, store ChartStore, tr Translator, cfg Config, opts ...Option) *Orchestrator {
	if cfg.MessageLimit <= 0 {
		cfg.MessageLimit = DefaultConfig().MessageLimit
	}
	if cfg.MinSentences == nil {
		cfg.MinSentences = DefaultConfig().MinSentences
	}
	o := &Orchestrator{
		astro:    astro,
		gen:      gen,
		store:    store,
		tr:       tr,
		cfg:      cfg,
		logger:   slog.Default(),
		observer: nopObserver{},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Stage names a pipeline phase reported to a ProgressFunc.
type Stage int

const (
	StageCalculating Stage = iota
	StageGenerating
)

// ProgressFunc is called as the run enters each stage.
type ProgressFunc func(Stage)

// Run executes the pipeline. Adapter failures never escape as errors: they
// become a Failure notice or degrade their section.
func (o *Orchestrator) Run(ctx context.Context, rec *domain.BirthRecord) Outcome {
	return o.RunWithProgress(ctx, rec, nil)
}

// RunWithProgress is Run with stage notifications.
func (o *Orchestrator) RunWithProgress(ctx context.Context, rec *domain.BirthRecord, progress ProgressFunc) Outcome {
	if progress == nil {
		progress = func(Stage) {}
	}
	start := time.Now()
	out := o.run(ctx, rec, progress)
	o.observer.RunFinished(out.Result, time.Since(start))
	o.logger.Info("Chart run finished",
		"user_id", rec.UserID,
		"result", out.Result,
		"parts", len(out.Parts),
		"duration", time.Since(start))
	return out
}

func (o *Orchestrator) run(ctx context.Context, rec *domain.BirthRecord, progress ProgressFunc) Outcome {
	lang := rec.Language
	var out Outcome

	if o.astro.GeocodingDegraded() {
		out.Warnings = append(out.Warnings, Notice{Key: "warn.geocoding"})
	}

	progress(StageCalculating)
	res, err := o.astro.Chart(ctx, rec)
	if err != nil {
		var cnf *astrology.CityNotFoundError
		if errors.As(err, &cnf) {
			o.observer.AdapterError("astrology", "city_not_found")
			o.logger.Info("City not found", "user_id", rec.UserID, "city", cnf.City)
			out.Result = ResultCityNotFound
			out.Failure = &Notice{Key: "error.city_not_found", Vars: i18n.Vars{"city": cnf.City}}
			return out
		}
		o.observer.AdapterError("astrology", "computation_failed")
		o.logger.Error("Chart computation failed", "user_id", rec.UserID, "error", err)
		out.Result = ResultComputationError
		out.Failure = &Notice{Key: "error.computation"}
		return out
	}

	aspects, err := o.astro.Aspects(res)
	if err != nil {
		o.observer.AdapterError("aspects", "invalid_data")
		o.logger.Warn("Aspect calculation failed", "user_id", rec.UserID, "error", err)
		out.Warnings = append(out.Warnings, Notice{Key: "warn.aspects"})
		aspects = nil
	}
	res.Aspects = aspects

	report := &domain.FinalReport{Header: o.header(rec, res)}

	progress(StageGenerating)
	genStart := time.Now()
	text, err := o.gen.Generate(ctx, buildPrompt(rec, res, o.englishName(lang), o.cfg.MinSentences))
	if err != nil {
		kind := "failed"
		var blocked *generation.BlockedError
		if errors.As(err, &blocked) {
			kind = "blocked"
		}
		o.observer.AdapterError("generation", kind)
		o.observer.GenerationFinished(kind, time.Since(genStart))
		o.logger.Warn("Interpretation generation failed", "user_id", rec.UserID, "kind", kind, "error", err)
		text = generation.Placeholder(err)
	} else {
		o.observer.GenerationFinished(ResultOK, time.Since(genStart))
	}

	report.Sections = o.sections(lang, extract.Parse(text))
	out.Report = report
	out.Document = report.Render()
	out.Result = ResultOK
	if report.HasSection(domain.SectionFailed) {
		out.Result = ResultDegraded
	} else if err := o.store.SaveChartText(ctx, rec.UserID, out.Document); err != nil {
		o.logger.Warn("Failed to cache chart text", "user_id", rec.UserID, "error", err)
		out.Warnings = append(out.Warnings, Notice{Key: "warn.persistence"})
	}
	out.Parts = segment.Split(out.Document, o.cfg.MessageLimit)
	return out
}

func (o *Orchestrator) sections(lang string, parsed extract.Result) []domain.ReportSection {
	var sections []domain.ReportSection
	add := func(id, body string) {
		sections = append(sections, domain.ReportSection{
			ID:    id,
			Title: o.tr.Text(lang, "section."+id, nil),
			Body:  body,
		})
	}

	for _, id := range domain.InterpretationSections() {
		if body, ok := parsed.Get(id); ok {
			add(id, body)
		}
	}
	if body, ok := parsed.Get(domain.SectionUnprocessed); ok {
		add(domain.SectionUnprocessed, body)
	}

	reason, failed := parsed.Get(domain.SectionFailed)
	if failed || len(sections) == 0 {
		body := o.tr.Text(lang, "notice.interpretation_failed", nil)
		if reason != "" {
			body += "\n" + o.tr.Text(lang, "notice.interpretation_reason", i18n.Vars{"reason": reason})
		}
		add(domain.SectionFailed, body)
	}
	return sections
}

func (o *Orchestrator) englishName(lang string) string {
	if name, ok := o.tr.Lookup(lang, "language.english_name"); ok {
		return name
	}
	return "English"
}
