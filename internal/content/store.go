package content

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"archetype-quiz/internal/domain"
)

const (
	defaultItemTTL      = 5 * time.Minute
	defaultListTTL      = time.Hour
	defaultFetchTimeout = 15 * time.Second
)

var (
	// ErrNotFound is returned for any lookup that cannot be satisfied, including
	// upstream failures.
	ErrNotFound = errors.New("content: not found")
	// ErrPartitionNotFound is returned by a Source for an unknown partition.
	ErrPartitionNotFound = errors.New("content: partition not found")
)

// Source is the row-oriented upstream behind the store. Rows returns the data
// rows of a partition in sheet order, header excluded; column 0 is the lookup key.
type Source interface {
	Rows(ctx context.Context, partition string) ([][]string, error)
}

// Store resolves quiz content through a per-method TTL cache.
type Store struct {
	source       Source
	router       *Router
	cache        *Cache
	logger       *slog.Logger
	itemTTL      time.Duration
	listTTL      time.Duration
	fetchTimeout time.Duration
}

type Option func(*Store)

// WithTTL overrides the per-item and full-list cache lifetimes. Non-positive
// values keep the defaults.
func WithTTL(item, list time.Duration) Option {
	return func(s *Store) {
		if item > 0 {
			s.itemTTL = item
		}
		if list > 0 {
			s.listTTL = list
		}
	}
}

func WithFetchTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.fetchTimeout = d
		}
	}
}

func WithCache(c *Cache) Option {
	return func(s *Store) {
		if c != nil {
			s.cache = c
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewStore builds a Store over source. router may be nil to use the default variant.
func NewStore(source Source, router *Router, opts ...Option) (*Store, error) {
	if source == nil {
		return nil, errors.New("content: source must not be nil")
	}
	s := &Store{
		source:       source,
		router:       router,
		cache:        NewCache(nil),
		logger:       slog.Default(),
		itemTTL:      defaultItemTTL,
		listTTL:      defaultListTTL,
		fetchTimeout: defaultFetchTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.router == nil {
		s.router = NewRouter(domain.DefaultVariant, s.logger)
	}
	return s, nil
}

// Config returns the shared configuration string for key with literal "\n"
// sequences turned into newlines.
func (s *Store) Config(ctx context.Context, key string) (string, error) {
	partition := s.router.Resolve(KindConfig, "")
	return cached(ctx, s.cache, "config|"+key, s.itemTTL, func(ctx context.Context) (string, error) {
		row, err := s.find(ctx, partition, key)
		if err != nil {
			return "", err
		}
		if len(row) < 2 {
			return "", s.notFound(partition, key, nil)
		}
		return strings.ReplaceAll(row[1], `\n`, "\n"), nil
	})
}

// Question returns question id of variant.
func (s *Store) Question(ctx context.Context, id int, variant string) (domain.Question, error) {
	v := s.router.Normalize(variant)
	partition := s.router.Resolve(KindQuestions, string(v))
	key := fmt.Sprintf("question|%s|%d", v, id)
	return cached(ctx, s.cache, key, s.itemTTL, func(ctx context.Context) (domain.Question, error) {
		row, err := s.find(ctx, partition, strconv.Itoa(id))
		if err != nil {
			return domain.Question{}, err
		}
		q := domain.Question{ID: id, Text: column(row, 1), Prompt: column(row, 2)}
		if q.Text == "" {
			return domain.Question{}, s.notFound(partition, strconv.Itoa(id), nil)
		}
		return q, nil
	})
}

// Answers returns the answers of question questionID in sheet order. An empty
// result is reported as ErrNotFound.
func (s *Store) Answers(ctx context.Context, questionID int, variant string) ([]domain.Answer, error) {
	v := s.router.Normalize(variant)
	partition := s.router.Resolve(KindAnswers, string(v))
	key := fmt.Sprintf("answers|%s|%d", v, questionID)
	answers, err := cached(ctx, s.cache, key, s.itemTTL, func(ctx context.Context) ([]domain.Answer, error) {
		rows, err := s.rows(ctx, partition)
		if err != nil {
			return nil, err
		}
		var out []domain.Answer
		for _, row := range rows {
			qid, err := strconv.Atoi(strings.TrimSpace(column(row, 1)))
			if err != nil || qid != questionID {
				continue
			}
			id, err := strconv.Atoi(strings.TrimSpace(column(row, 0)))
			if err != nil {
				s.logger.Warn("skipping answer row with malformed id", "partition", partition, "row", row)
				continue
			}
			out = append(out, domain.Answer{
				ID:         id,
				QuestionID: qid,
				Text:       column(row, 2),
				CategoryID: strings.TrimSpace(column(row, 3)),
			})
		}
		if len(out) == 0 {
			return nil, s.notFound(partition, strconv.Itoa(questionID), nil)
		}
		return out, nil
	})
	if err != nil {
		return []domain.Answer{}, err
	}
	return append([]domain.Answer(nil), answers...), nil
}

// Archetype returns archetype id of variant.
func (s *Store) Archetype(ctx context.Context, id, variant string) (domain.Archetype, error) {
	v := s.router.Normalize(variant)
	partition := s.router.Resolve(KindArchetypes, string(v))
	return cached(ctx, s.cache, "archetype|"+string(v)+"|"+id, s.itemTTL, func(ctx context.Context) (domain.Archetype, error) {
		row, err := s.find(ctx, partition, id)
		if err != nil {
			return domain.Archetype{}, err
		}
		return archetypeFromRow(row), nil
	})
}

// AllArchetypes returns every archetype of variant in sheet order. The order is
// the ranking tie-break.
func (s *Store) AllArchetypes(ctx context.Context, variant string) ([]domain.Archetype, error) {
	v := s.router.Normalize(variant)
	partition := s.router.Resolve(KindArchetypes, string(v))
	all, err := cached(ctx, s.cache, "archetypes|"+string(v), s.listTTL, func(ctx context.Context) ([]domain.Archetype, error) {
		rows, err := s.rows(ctx, partition)
		if err != nil {
			return nil, err
		}
		out := make([]domain.Archetype, 0, len(rows))
		seen := make(map[string]bool, len(rows))
		for _, row := range rows {
			a := archetypeFromRow(row)
			if a.ID == "" || seen[a.ID] {
				continue
			}
			seen[a.ID] = true
			out = append(out, a)
		}
		if len(out) == 0 {
			return nil, s.notFound(partition, "*", nil)
		}
		return out, nil
	})
	if err != nil {
		return []domain.Archetype{}, err
	}
	return append([]domain.Archetype(nil), all...), nil
}

// Stats reports cache counters.
func (s *Store) Stats() Stats {
	return s.cache.Stats()
}

// Warm loads the archetype lists of variants and probes configKey concurrently.
// A failure means the content source is unusable.
func (s *Store) Warm(ctx context.Context, configKey string, variants ...domain.Variant) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if _, err := s.Config(gctx, configKey); err != nil {
			return fmt.Errorf("content: warm config %q: %w", configKey, err)
		}
		return nil
	})
	for _, v := range variants {
		v := v
		g.Go(func() error {
			if _, err := s.AllArchetypes(gctx, string(v)); err != nil {
				return fmt.Errorf("content: warm archetypes %s: %w", v, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// PartitionStatus is the health of one upstream partition.
type PartitionStatus struct {
	Partition string `json:"partition"`
	Rows      int    `json:"rows"`
	Err       string `json:"error,omitempty"`
}

// Probe lists every partition straight from the source, bypassing the cache.
func (s *Store) Probe(ctx context.Context) []PartitionStatus {
	partitions := []string{s.router.Resolve(KindConfig, "")}
	for _, v := range []domain.Variant{domain.VariantFemale, domain.VariantMale} {
		for _, k := range []Kind{KindQuestions, KindAnswers, KindArchetypes} {
			partitions = append(partitions, s.router.Resolve(k, string(v)))
		}
	}

	var (
		mu  sync.Mutex
		out = make([]PartitionStatus, 0, len(partitions))
	)
	var g errgroup.Group
	for _, p := range partitions {
		p := p
		g.Go(func() error {
			st := PartitionStatus{Partition: p}
			fctx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
			defer cancel()
			rows, err := s.source.Rows(fctx, p)
			if err != nil {
				st.Err = err.Error()
			}
			st.Rows = len(rows)
			mu.Lock()
			out = append(out, st)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	sort.Slice(out, func(i, j int) bool { return out[i].Partition < out[j].Partition })
	return out
}

func (s *Store) rows(ctx context.Context, partition string) ([][]string, error) {
	fctx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
	defer cancel()
	rows, err := s.source.Rows(fctx, partition)
	if err != nil {
		return nil, s.notFound(partition, "", err)
	}
	return rows, nil
}

func (s *Store) find(ctx context.Context, partition, key string) ([]string, error) {
	rows, err := s.rows(ctx, partition)
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		if strings.TrimSpace(column(row, 0)) == key {
			return row, nil
		}
	}
	return nil, s.notFound(partition, key, nil)
}

// notFound logs the miss once at the fetch site and returns an ErrNotFound wrap.
func (s *Store) notFound(partition, key string, cause error) error {
	if cause != nil {
		s.logger.Error("content upstream fetch failed", "partition", partition, "key", key, "err", cause)
		return fmt.Errorf("content: %s: %w", partition, ErrNotFound)
	}
	s.logger.Warn("content key not found", "partition", partition, "key", key)
	return fmt.Errorf("content: %s/%s: %w", partition, key, ErrNotFound)
}

func archetypeFromRow(row []string) domain.Archetype {
	return domain.Archetype{
		ID:                   strings.TrimSpace(column(row, 0)),
		MainDescription:      column(row, 1),
		SecondaryDescription: column(row, 2),
	}
}

func column(row []string, i int) string {
	if i < len(row) {
		return row[i]
	}
	return ""
}
