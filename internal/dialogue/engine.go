// Package dialogue implements the multi-turn birth data collection conversation.
//
// The engine is transport-agnostic: it consumes one Input per turn and
// returns a Reply naming localized message keys and offered choices. Turns
// for the same user are serialized by a per-session mutex; different users
// proceed in parallel.
package dialogue

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/natal-chart/internal/domain"
	"github.com/ashureev/natal-chart/internal/i18n"
)

// Outcome tells the caller what a turn concluded.
type Outcome int

const (
	// Continue means the dialogue awaits more input.
	Continue Outcome = iota
	// Completed means a new record was collected.
	Completed
	// Cancelled means the user aborted the dialogue.
	Cancelled
	// End means the user chose to reuse the saved record.
	End
)

func (o Outcome) String() string {
	switch o {
	case Continue:
		return "continue"
	case Completed:
		return "completed"
	case Cancelled:
		return "cancelled"
	case End:
		return "end"
	}
	return "unknown"
}

// Discrete choice identifiers. Language choices use the language code.
const (
	ChoiceUseSaved    = "use_saved"
	ChoiceEnterNew    = "enter_new"
	ChoiceCancel      = "cancel"
	ChoiceTimeUnknown = "time_unknown"
)

// Input is one user turn: free text or a discrete choice.
type Input struct {
	Text   string
	Choice string
}

// TextInput wraps free text.
func TextInput(s string) Input { return Input{Text: s} }

// ChoiceInput wraps a discrete choice.
func ChoiceInput(id string) Input { return Input{Choice: id} }

// Message is a localized message reference.
type Message struct {
	Key  string
	Vars i18n.Vars
}

// Reply is the engine's answer to one turn.
type Reply struct {
	State    State
	Outcome  Outcome
	Language string
	Messages []Message
	Choices  []string
	// Record is set on Completed and End.
	Record   *domain.BirthRecord
	Warnings []Message
}

// RecordStore is the subset of the record repository the dialogue uses.
type RecordStore interface {
	GetBirthRecord(ctx context.Context, userID string) (*domain.BirthRecord, error)
	UpsertBirthRecord(ctx context.Context, rec *domain.BirthRecord) error
}

// Languages exposes the supported languages and their localized strings.
type Languages interface {
	Languages() []string
	Lookup(lang, key string) (string, bool)
}

// Options tunes an Engine.
type Options struct {
	Now       func() time.Time
	Logger    *slog.Logger
	OnOutcome func(Outcome)
}

// Engine drives dialogue sessions.
type Engine struct {
	store     RecordStore
	langs     Languages
	sessions  *Sessions
	now       func() time.Time
	logger    *slog.Logger
	onOutcome func(Outcome)
}

// NewEngine creates an Engine.
func NewEngine(store RecordStore, langs Languages, sessions *Sessions, opts Options) *Engine {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	sessions.now = opts.Now
	return &Engine{
		store:     store,
		langs:     langs,
		sessions:  sessions,
		now:       opts.Now,
		logger:    opts.Logger,
		onOutcome: opts.OnOutcome,
	}
}

// Sessions returns the underlying session store.
func (e *Engine) Sessions() *Sessions {
	return e.sessions
}

// Start begins a fresh dialogue for the user, replacing any in-progress one.
func (e *Engine) Start(_ context.Context, userID, language string) Reply {
	s := e.sessions.create(userID, language)
	s.mu.Lock()
	defer s.mu.Unlock()

	e.logger.Info("Dialogue started", "user_id", userID)
	return e.promptFor(s)
}

// Active reports whether the user has an in-progress dialogue.
func (e *Engine) Active(userID string) bool {
	_, ok := e.sessions.get(userID)
	return ok
}

// Handle processes one turn. ok is false when the user has no active dialogue.
func (e *Engine) Handle(ctx context.Context, userID string, in Input) (reply Reply, ok bool) {
	s, found := e.sessions.get(userID)
	if !found {
		return Reply{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Reply{}, false
	}
	s.lastActivity = e.now()

	if in.Choice == ChoiceCancel {
		return e.cancel(s), true
	}

	switch s.state {
	case StateChooseLanguage:
		reply = e.handleLanguage(ctx, s, in)
	case StateSavedDataChoice:
		reply = e.handleSavedChoice(s, in)
	case StateName:
		reply = e.handleField(s, in, func(v string) error {
			name, err := ParseName(v)
			if err == nil {
				s.record.Name = name
			}
			return err
		}, StateBirthDate)
	case StateBirthDate:
		reply = e.handleField(s, in, func(v string) error {
			y, m, d, err := ParseDate(v, e.now())
			if err == nil {
				s.record.Year, s.record.Month, s.record.Day = y, m, d
			}
			return err
		}, StateBirthTime)
	case StateBirthTime:
		reply = e.handleTime(s, in)
	case StateCountry:
		reply = e.handleField(s, in, func(v string) error {
			country, err := ParseCountry(v)
			if err == nil {
				s.record.Country = country
			}
			return err
		}, StateCity)
	case StateCity:
		reply = e.handleCity(ctx, s, in)
	default:
		reply = e.promptFor(s)
	}

	if reply.Outcome != Continue {
		e.finish(s, reply.Outcome)
	}
	return reply, true
}

// Cancel aborts the user's in-progress dialogue. The persisted record is untouched.
func (e *Engine) Cancel(userID string) (Reply, bool) {
	s, found := e.sessions.get(userID)
	if !found {
		return Reply{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Reply{}, false
	}
	return e.cancel(s), true
}

func (e *Engine) cancel(s *Session) Reply {
	e.finish(s, Cancelled)
	return Reply{
		State:    StateIdle,
		Outcome:  Cancelled,
		Language: s.language,
		Messages: []Message{{Key: "dialogue.cancelled"}},
	}
}

func (e *Engine) finish(s *Session, outcome Outcome) {
	e.sessions.remove(s)
	e.logger.Info("Dialogue finished", "user_id", s.userID, "outcome", outcome.String())
	if e.onOutcome != nil {
		e.onOutcome(outcome)
	}
}

func (e *Engine) handleLanguage(ctx context.Context, s *Session, in Input) Reply {
	lang, ok := e.matchLanguage(in)
	if !ok {
		return e.reprompt(s, Message{Key: "error.language"})
	}
	s.language = lang
	s.record.Language = lang

	saved, err := e.store.GetBirthRecord(ctx, s.userID)
	if err != nil {
		e.logger.Warn("Failed to load saved record", "user_id", s.userID, "error", err)
	}
	if saved != nil && saved.Complete() {
		s.saved = saved
		s.state = StateSavedDataChoice
	} else {
		s.state = StateName
	}
	return e.promptFor(s)
}

func (e *Engine) matchLanguage(in Input) (string, bool) {
	tok := in.Choice
	if tok == "" {
		tok = strings.TrimSpace(in.Text)
	}
	if tok == "" {
		return "", false
	}
	base, _, _ := strings.Cut(strings.ReplaceAll(tok, "_", "-"), "-")
	for _, lang := range e.langs.Languages() {
		if strings.EqualFold(tok, lang) || strings.EqualFold(base, lang) {
			return lang, true
		}
		for _, key := range []string{"language.name", "language.english_name"} {
			if name, ok := e.langs.Lookup(lang, key); ok && strings.EqualFold(tok, name) {
				return lang, true
			}
		}
	}
	return "", false
}

func (e *Engine) handleSavedChoice(s *Session, in Input) Reply {
	switch in.Choice {
	case ChoiceUseSaved:
		rec := s.saved.Clone()
		rec.Language = s.language
		return Reply{
			State:    StateIdle,
			Outcome:  End,
			Language: s.language,
			Record:   rec,
		}
	case ChoiceEnterNew:
		s.saved = nil
		s.state = StateName
		return e.promptFor(s)
	}
	return e.reprompt(s, Message{Key: "error.choice"})
}

func (e *Engine) handleField(s *Session, in Input, apply func(string) error, next State) Reply {
	if err := apply(in.Text); err != nil {
		return e.validationReply(s, err)
	}
	s.state = next
	return e.promptFor(s)
}

func (e *Engine) handleTime(s *Session, in Input) Reply {
	var (
		t       domain.ClockTime
		unknown bool
		err     error
	)
	if in.Choice == ChoiceTimeUnknown {
		t, unknown = domain.UnknownTime, true
	} else {
		word, _ := e.langs.Lookup(s.language, "time.unknown_word")
		t, unknown, err = ParseTime(in.Text, word)
	}
	if err != nil {
		return e.validationReply(s, err)
	}
	s.record.Time = &t
	s.record.TimeUnknown = unknown
	s.state = StateCountry
	return e.promptFor(s)
}

func (e *Engine) handleCity(ctx context.Context, s *Session, in Input) Reply {
	city, err := ParseCity(in.Text)
	if err != nil {
		return e.validationReply(s, err)
	}
	s.record.City = city

	rec := s.record.Clone()
	rec.UserID = s.userID
	rec.Language = s.language
	rec.ChartText = ""
	if !rec.Complete() {
		// Unreachable through the state machine; restart collection rather than emit a partial record.
		e.logger.Error("Collected record incomplete", "user_id", s.userID)
		s.record = domain.BirthRecord{Language: s.language}
		s.state = StateName
		return e.reprompt(s, Message{Key: "error.generic"})
	}

	reply := Reply{
		State:    StateIdle,
		Outcome:  Completed,
		Language: s.language,
		Record:   rec,
	}
	if err := e.store.UpsertBirthRecord(ctx, rec); err != nil {
		e.logger.Warn("Failed to persist birth record", "user_id", s.userID, "error", err)
		reply.Warnings = append(reply.Warnings, Message{Key: "warn.persistence"})
	}
	return reply
}

func (e *Engine) validationReply(s *Session, err error) Reply {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return e.reprompt(s, Message{Key: verr.Key, Vars: verr.Vars})
	}
	return e.reprompt(s, Message{Key: "error.generic"})
}

func (e *Engine) reprompt(s *Session, msg Message) Reply {
	reply := e.promptFor(s)
	reply.Messages = append([]Message{msg}, reply.Messages...)
	return reply
}

func (e *Engine) promptFor(s *Session) Reply {
	reply := Reply{State: s.state, Outcome: Continue, Language: s.language}
	switch s.state {
	case StateChooseLanguage:
		reply.Messages = []Message{{Key: "prompt.choose_language"}}
		reply.Choices = e.langs.Languages()
	case StateSavedDataChoice:
		reply.Messages = []Message{{Key: "prompt.saved_data", Vars: RecordVars(s.saved)}}
		reply.Choices = []string{ChoiceUseSaved, ChoiceEnterNew, ChoiceCancel}
	case StateName:
		reply.Messages = []Message{{Key: "prompt.name"}}
	case StateBirthDate:
		reply.Messages = []Message{{Key: "prompt.birth_date"}}
	case StateBirthTime:
		reply.Messages = []Message{{Key: "prompt.birth_time"}}
		reply.Choices = []string{ChoiceTimeUnknown}
	case StateCountry:
		reply.Messages = []Message{{Key: "prompt.country"}}
	case StateCity:
		reply.Messages = []Message{{Key: "prompt.city"}}
	}
	return reply
}

// RecordVars returns the template variables describing a record.
func RecordVars(rec *domain.BirthRecord) i18n.Vars {
	if rec == nil {
		return nil
	}
	return i18n.Vars{
		"name":     rec.Name,
		"date":     rec.DateString(),
		"time":     rec.TimeString(),
		"location": rec.Location(),
	}
}
