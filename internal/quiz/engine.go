// Package quiz drives one conversation through the archetype quiz: it reads the
// session, resolves content, applies picks and returns what the transport
// should send.
package quiz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"archetype-quiz/internal/content"
	"archetype-quiz/internal/domain"
	"archetype-quiz/internal/scoring"
	"archetype-quiz/internal/session"
)

const maxAttempts = 3

// errStale aborts an Update whose snapshot is no longer the stored version.
var errStale = errors.New("quiz: session changed since snapshot")

// ContentStore is the read side of quiz content.
type ContentStore interface {
	Config(ctx context.Context, key string) (string, error)
	Question(ctx context.Context, id int, variant string) (domain.Question, error)
	Answers(ctx context.Context, questionID int, variant string) ([]domain.Answer, error)
	Archetype(ctx context.Context, id, variant string) (domain.Archetype, error)
	AllArchetypes(ctx context.Context, variant string) ([]domain.Archetype, error)
}

// HealthReporter is implemented by content stores that can describe themselves.
type HealthReporter interface {
	Stats() content.Stats
	Probe(ctx context.Context) []content.PartitionStatus
}

type Engine struct {
	content        ContentStore
	sessions       session.Store
	logger         *slog.Logger
	admins         map[string]bool
	defaultVariant domain.Variant

	rngMu sync.Mutex
	rng   *rand.Rand
}

type Option func(*Engine)

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithAdmins lists the user ids allowed to run diagnostics.
func WithAdmins(ids ...string) Option {
	return func(e *Engine) {
		for _, id := range ids {
			if id = strings.TrimSpace(id); id != "" {
				e.admins[id] = true
			}
		}
	}
}

// WithRand sets the source used for answer shuffles and self-test scores.
func WithRand(rng *rand.Rand) Option {
	return func(e *Engine) {
		e.rng = rng
	}
}

// WithDefaultVariant sets the variant used by diagnostics for sessions without one.
func WithDefaultVariant(v domain.Variant) Option {
	return func(e *Engine) {
		if _, ok := domain.ParseVariant(string(v)); ok {
			e.defaultVariant = v
		}
	}
}

func NewEngine(cs ContentStore, ss session.Store, opts ...Option) (*Engine, error) {
	if cs == nil {
		return nil, errors.New("quiz: content store must not be nil")
	}
	if ss == nil {
		return nil, errors.New("quiz: session store must not be nil")
	}
	e := &Engine{
		content:        cs,
		sessions:       ss,
		logger:         slog.Default(),
		admins:         make(map[string]bool),
		defaultVariant: domain.DefaultVariant,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// decision is the outcome of evaluating one event against a snapshot. A nil
// next leaves the stored session alone.
type decision struct {
	next    *domain.Session
	actions []domain.Action
}

// Handle processes one event and returns the actions to execute in order.
// Content failures and rejected events are reported through actions; the error
// is non-nil only when the event carries no conversation or the session store
// fails.
func (e *Engine) Handle(ctx context.Context, ev domain.Event) ([]domain.Action, error) {
	ev.ConversationID = strings.TrimSpace(ev.ConversationID)
	if ev.ConversationID == "" {
		return nil, newError(ErrorInvalidEvent, "missing_conversation_id", nil)
	}

	var lead []domain.Action
	if ev.Kind == domain.EventSelection && ev.CallbackID != "" {
		lead = append(lead, ackCallback(ev.ConversationID, ev.CallbackID))
	}

	switch ev.Kind {
	case domain.EventCommand:
		switch ev.Name {
		case domain.CommandStart:
		case domain.CommandHelp:
			return e.help(ctx, ev), nil
		case domain.CommandSelfTest, domain.CommandHealth:
			if !e.admins[ev.UserID] {
				e.logger.Warn("diagnostic command rejected", "conversation_id", ev.ConversationID, "user_id", ev.UserID, "command", ev.Name)
				return nil, nil
			}
			if ev.Name == domain.CommandHealth {
				return e.health(ctx, ev), nil
			}
			return e.selfTest(ctx, ev)
		default:
			e.logger.Debug("unknown command ignored", "conversation_id", ev.ConversationID, "command", ev.Name)
			return nil, nil
		}
	case domain.EventSelection:
	default:
		return nil, newError(ErrorInvalidEvent, "unknown_event_kind", fmt.Errorf("kind %q", ev.Kind))
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		snap, err := e.sessions.GetOrCreate(ctx, ev.ConversationID)
		if err != nil {
			return nil, newError(ErrorInternal, "session_read", err)
		}
		// A restart replaces the whole session, so a broken one is not in its way.
		if err := snap.Validate(); err != nil && ev.Kind != domain.EventCommand {
			return e.recoverCorrupt(ctx, ev, snap, lead, err)
		}

		d := e.decide(ctx, snap, ev)
		if d.next == nil {
			return append(lead, d.actions...), nil
		}
		if err := d.next.Validate(); err != nil {
			return e.recoverCorrupt(ctx, ev, *d.next, lead, err)
		}

		stored, err := e.sessions.Update(ctx, ev.ConversationID, func(s *domain.Session) error {
			if s.Version != snap.Version {
				return errStale
			}
			next := d.next.Clone()
			next.Version = s.Version
			*s = next
			return nil
		})
		if errors.Is(err, errStale) || errors.Is(err, session.ErrConflict) {
			e.logger.Debug("session moved during transition, retrying",
				"conversation_id", ev.ConversationID, "attempt", attempt)
			continue
		}
		if err != nil {
			return nil, newError(ErrorInternal, "session_update", err)
		}

		e.logger.Info("quiz transition",
			"conversation_id", ev.ConversationID,
			"run_id", stored.RunID,
			"from", snap.Phase,
			"to", stored.Phase,
			"question_id", stored.CurrentQuestionID,
			"selections", len(stored.Selections),
		)
		return append(lead, d.actions...), nil
	}
	return lead, newError(ErrorInternal, "session_contention", session.ErrConflict)
}

func (e *Engine) decide(ctx context.Context, snap domain.Session, ev domain.Event) decision {
	if ev.Kind == domain.EventCommand {
		return e.restart(ctx, snap, ev)
	}

	p, err := parsePayload(ev.Payload)
	if err != nil {
		e.reject(ev, snap, "malformed_payload", err)
		return decision{}
	}

	want := map[payloadKind]domain.Phase{
		payloadGender: domain.PhaseAwaitingGender,
		payloadPromo:  domain.PhaseAwaitingPromo,
		payloadStart:  domain.PhaseAwaitingQuizStart,
		payloadAnswer: domain.PhaseQuestionActive,
		payloadResult: domain.PhaseAwaitingResultConfirm,
	}[p.kind]
	if snap.Phase != want {
		e.reject(ev, snap, "phase_mismatch", nil)
		return decision{}
	}

	switch p.kind {
	case payloadGender:
		return e.chooseVariant(ctx, snap, ev, p.variant)
	case payloadPromo:
		return e.acknowledgePromo(ctx, snap, ev)
	case payloadStart:
		return e.startQuiz(ctx, snap, ev)
	case payloadAnswer:
		return e.selectAnswer(ctx, snap, ev, p)
	case payloadResult:
		return e.revealResult(ctx, snap, ev)
	}
	return decision{}
}

func (e *Engine) restart(ctx context.Context, snap domain.Session, ev domain.Event) decision {
	texts, err := e.configs(ctx, keyWelcome1, keyGenderPrompt, keyButtonMale, keyButtonFemale)
	if err != nil {
		return e.contentFailure(ctx, ev, snap, err)
	}
	// The second welcome message is optional content.
	welcome2, err := e.content.Config(ctx, keyWelcome2)
	if err != nil {
		welcome2 = ""
	}

	next := snap.Clone()
	next.Reset()
	next.Phase = domain.PhaseAwaitingGender
	next.RunID = newUUID()

	conv := ev.ConversationID
	actions := []domain.Action{sendText(conv, texts[keyWelcome1], nil), typing(conv, introTypingDelay)}
	if welcome2 != "" {
		actions = append(actions, sendText(conv, welcome2, nil), typing(conv, introTypingDelay))
	}
	actions = append(actions, sendText(conv, texts[keyGenderPrompt], genderKeyboard(texts[keyButtonMale], texts[keyButtonFemale])))
	return decision{next: &next, actions: actions}
}

func (e *Engine) chooseVariant(ctx context.Context, snap domain.Session, ev domain.Event, raw string) decision {
	variant, ok := domain.ParseVariant(raw)
	if !ok {
		e.reject(ev, snap, "invalid_variant", fmt.Errorf("variant %q", raw))
		texts, err := e.configs(ctx, keyGenderPrompt, keyButtonMale, keyButtonFemale)
		if err != nil {
			return e.contentFailure(ctx, ev, snap, err)
		}
		return decision{actions: []domain.Action{
			sendText(ev.ConversationID, texts[keyGenderPrompt], genderKeyboard(texts[keyButtonMale], texts[keyButtonFemale])),
		}}
	}

	var (
		archetypes []domain.Archetype
		texts      map[string]string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		archetypes, err = e.content.AllArchetypes(gctx, string(variant))
		if err == nil && len(archetypes) == 0 {
			err = fmt.Errorf("no archetypes for %s: %w", variant, content.ErrNotFound)
		}
		return err
	})
	g.Go(func() error {
		var err error
		texts, err = e.configs(gctx, keyPromo, keyButtonNext)
		return err
	})
	if err := g.Wait(); err != nil {
		return e.contentFailure(ctx, ev, snap, err)
	}

	next := snap.Clone()
	next.Phase = domain.PhaseAwaitingPromo
	next.Variant = variant
	next.Scores, next.ArchetypeOrder = scoring.InitialScores(archetypes)

	actions := editKeyboard(ev.ConversationID, ev.MessageRef, nil)
	actions = append(actions, sendText(ev.ConversationID, texts[keyPromo], singleButton(texts[keyButtonNext], payloadPromoNext)))
	return decision{next: &next, actions: actions}
}

func (e *Engine) acknowledgePromo(ctx context.Context, snap domain.Session, ev domain.Event) decision {
	texts, err := e.configs(ctx, keyInstructions, keyButtonStart)
	if err != nil {
		return e.contentFailure(ctx, ev, snap, err)
	}
	next := snap.Clone()
	next.Phase = domain.PhaseAwaitingQuizStart

	actions := editKeyboard(ev.ConversationID, ev.MessageRef, nil)
	actions = append(actions, sendMarkdown(ev.ConversationID, texts[keyInstructions], singleButton(texts[keyButtonStart], payloadQuizStart)))
	return decision{next: &next, actions: actions}
}

func (e *Engine) startQuiz(ctx context.Context, snap domain.Session, ev domain.Event) decision {
	q, presented, err := e.loadQuestion(ctx, 1, snap.Variant)
	if err != nil {
		return e.contentFailure(ctx, ev, snap, err)
	}
	next := snap.Clone()
	next.Phase = domain.PhaseQuestionActive
	next.CurrentQuestionID = q.ID
	next.Selections = nil
	next.Presented = presented

	actions := editKeyboard(ev.ConversationID, ev.MessageRef, nil)
	actions = append(actions, sendMarkdown(ev.ConversationID, questionText(q), questionKeyboard(next)))
	return decision{next: &next, actions: actions}
}

func (e *Engine) selectAnswer(ctx context.Context, snap domain.Session, ev domain.Event, p payload) decision {
	if p.questionID != snap.CurrentQuestionID {
		e.reject(ev, snap, "stale_question", fmt.Errorf("payload question %d", p.questionID))
		return decision{}
	}
	if p.position < 1 || p.position > len(snap.Presented) {
		e.reject(ev, snap, "position_out_of_range", fmt.Errorf("position %d of %d", p.position, len(snap.Presented)))
		return decision{}
	}
	answer := snap.Presented[p.position-1]

	next := snap.Clone()
	selected, points, outcome := scoring.Select(next.Selections, answer, next.Scores)
	switch outcome {
	case scoring.Accepted:
	case scoring.UnknownCategory:
		return e.contentFailure(ctx, ev, snap,
			fmt.Errorf("answer %d category %q: %w", answer.ID, answer.CategoryID, content.ErrNotFound))
	default:
		e.reject(ev, snap, outcome.String(), nil)
		return decision{}
	}
	next.Selections = selected
	e.logger.Debug("answer accepted",
		"conversation_id", ev.ConversationID,
		"run_id", snap.RunID,
		"question_id", snap.CurrentQuestionID,
		"answer_id", answer.ID,
		"category_id", answer.CategoryID,
		"points", points,
	)

	conv := ev.ConversationID
	if len(selected) < domain.SelectionsPerQuestion {
		return decision{next: &next, actions: editKeyboard(conv, ev.MessageRef, questionKeyboard(next))}
	}

	if snap.CurrentQuestionID < domain.QuestionCount {
		q, presented, err := e.loadQuestion(ctx, snap.CurrentQuestionID+1, snap.Variant)
		if err != nil {
			return e.contentFailure(ctx, ev, snap, err)
		}
		next.CurrentQuestionID = q.ID
		next.Selections = nil
		next.Presented = presented

		actions := editKeyboard(conv, ev.MessageRef, nil)
		actions = append(actions, typing(conv, questionTypingDelay), sendMarkdown(conv, questionText(q), questionKeyboard(next)))
		return decision{next: &next, actions: actions}
	}

	texts, err := e.configs(ctx, keyResultPrompt, keyButtonShowResults)
	if err != nil {
		return e.contentFailure(ctx, ev, snap, err)
	}
	next.Phase = domain.PhaseAwaitingResultConfirm
	next.Selections = nil
	next.Presented = nil

	actions := editKeyboard(conv, ev.MessageRef, nil)
	actions = append(actions, sendText(conv, texts[keyResultPrompt], singleButton(texts[keyButtonShowResults], payloadResultShow)))
	return decision{next: &next, actions: actions}
}

func (e *Engine) revealResult(ctx context.Context, snap domain.Session, ev domain.Event) decision {
	res, ok := scoring.Resolve(scoring.Rank(snap.Scores, snap.ArchetypeOrder))
	if !ok {
		return e.contentFailure(ctx, ev, snap, errors.New("no scored archetypes"))
	}
	msgs, err := e.resultMessages(ctx, ev.ConversationID, snap.Variant, res)
	if err != nil {
		return e.contentFailure(ctx, ev, snap, err)
	}

	next := snap.Clone()
	next.Phase = domain.PhaseCompleted
	e.logger.Info("quiz completed",
		"conversation_id", ev.ConversationID,
		"run_id", snap.RunID,
		"primary", res.Primary,
		"secondary", res.Secondary,
	)

	actions := editKeyboard(ev.ConversationID, ev.MessageRef, nil)
	return decision{next: &next, actions: append(actions, msgs...)}
}

// resultMessages renders the primary description, the secondary block and the
// closing text.
func (e *Engine) resultMessages(ctx context.Context, conv string, variant domain.Variant, res scoring.Result) ([]domain.Action, error) {
	ids := append([]string{res.Primary}, res.Secondary...)
	archetypes := make([]domain.Archetype, len(ids))
	var texts map[string]string

	g, gctx := errgroup.WithContext(ctx)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			a, err := e.content.Archetype(gctx, id, string(variant))
			archetypes[i] = a
			return err
		})
	}
	g.Go(func() error {
		var err error
		texts, err = e.configs(gctx, keySecondaryHeader, keyFinalCTA)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	actions := []domain.Action{sendText(conv, archetypes[0].MainDescription, nil)}
	if len(archetypes) > 1 {
		descriptions := make([]string, 0, len(archetypes)-1)
		for _, a := range archetypes[1:] {
			descriptions = append(descriptions, a.SecondaryDescription)
		}
		actions = append(actions,
			typing(conv, resultTypingDelay),
			sendText(conv, secondaryText(texts[keySecondaryHeader], descriptions), nil),
		)
	}
	actions = append(actions, typing(conv, resultTypingDelay), sendText(conv, texts[keyFinalCTA], nil))
	return actions, nil
}

func (e *Engine) help(ctx context.Context, ev domain.Event) []domain.Action {
	text, err := e.content.Config(ctx, keyHelp)
	if err != nil {
		e.logger.Warn("help text unavailable", "conversation_id", ev.ConversationID, "err", err)
		return []domain.Action{e.errorMessage(ctx, ev.ConversationID)}
	}
	return []domain.Action{sendText(ev.ConversationID, text, nil)}
}

// loadQuestion fetches question id with its answers in presentation order.
func (e *Engine) loadQuestion(ctx context.Context, id int, variant domain.Variant) (domain.Question, []domain.Answer, error) {
	var (
		q       domain.Question
		answers []domain.Answer
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		q, err = e.content.Question(gctx, id, string(variant))
		return err
	})
	g.Go(func() error {
		var err error
		answers, err = e.content.Answers(gctx, id, string(variant))
		return err
	})
	if err := g.Wait(); err != nil {
		return domain.Question{}, nil, err
	}
	if len(answers) == 0 {
		return domain.Question{}, nil, fmt.Errorf("question %d has no answers: %w", id, content.ErrNotFound)
	}
	return q, e.shuffle(answers), nil
}

// configs resolves several config keys concurrently.
func (e *Engine) configs(ctx context.Context, keys ...string) (map[string]string, error) {
	var mu sync.Mutex
	out := make(map[string]string, len(keys))
	g, gctx := errgroup.WithContext(ctx)
	for _, key := range keys {
		key := key
		g.Go(func() error {
			v, err := e.content.Config(gctx, key)
			if err != nil {
				return err
			}
			mu.Lock()
			out[key] = v
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// contentFailure drops the transition and tells the user to restart.
func (e *Engine) contentFailure(ctx context.Context, ev domain.Event, snap domain.Session, err error) decision {
	code := ErrorContentNotFound
	if ctx.Err() != nil {
		code = ErrorUpstreamUnavailable
	}
	e.logger.Error("quiz transition aborted",
		"conversation_id", ev.ConversationID,
		"run_id", snap.RunID,
		"phase", snap.Phase,
		"code", code,
		"err", err,
	)
	return decision{actions: []domain.Action{e.errorMessage(ctx, ev.ConversationID)}}
}

// recoverCorrupt resets a session that violates its invariants.
func (e *Engine) recoverCorrupt(ctx context.Context, ev domain.Event, s domain.Session, lead []domain.Action, cause error) ([]domain.Action, error) {
	e.logger.Error("session reset",
		"conversation_id", ev.ConversationID,
		"run_id", s.RunID,
		"phase", s.Phase,
		"code", ErrorSessionCorruption,
		"err", cause,
	)
	if err := e.sessions.Clear(ctx, ev.ConversationID); err != nil {
		return nil, newError(ErrorInternal, "session_clear", err)
	}
	return append(lead, e.errorMessage(ctx, ev.ConversationID)), nil
}

func (e *Engine) reject(ev domain.Event, snap domain.Session, reason string, err error) {
	attrs := []any{
		"conversation_id", ev.ConversationID,
		"run_id", snap.RunID,
		"phase", snap.Phase,
		"code", ErrorInvalidEvent,
		"reason", reason,
		"payload", ev.Payload,
	}
	if err != nil {
		attrs = append(attrs, "err", err)
	}
	e.logger.Debug("event ignored", attrs...)
}

func (e *Engine) errorMessage(ctx context.Context, conv string) domain.Action {
	text, err := e.content.Config(ctx, keyErrorRestart)
	if err != nil || strings.TrimSpace(text) == "" {
		text = fallbackErrorText
	}
	return sendText(conv, text, nil)
}

func (e *Engine) shuffle(answers []domain.Answer) []domain.Answer {
	if e.rng == nil {
		return scoring.Shuffle(answers, nil)
	}
	e.rngMu.Lock()
	defer e.rngMu.Unlock()
	return scoring.Shuffle(answers, e.rng)
}

func (e *Engine) intn(n int) int {
	if e.rng == nil {
		return rand.Intn(n)
	}
	e.rngMu.Lock()
	defer e.rngMu.Unlock()
	return e.rng.Intn(n)
}

var newUUID = func() string {
	return uuid.NewString()
}
