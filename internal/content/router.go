package content

import (
	"log/slog"
	"strings"

	"archetype-quiz/internal/domain"
)

// Kind is a logical content partition family.
type Kind string

const (
	KindConfig     Kind = "Config"
	KindQuestions  Kind = "Questions"
	KindAnswers    Kind = "Answers"
	KindArchetypes Kind = "Archetypes"
)

// Router maps a content kind and a user variant onto a partition name.
type Router struct {
	fallback domain.Variant
	logger   *slog.Logger
}

// NewRouter returns a Router that substitutes fallback for unrecognized variants.
// An invalid fallback is replaced by domain.DefaultVariant.
func NewRouter(fallback domain.Variant, logger *slog.Logger) *Router {
	if _, ok := domain.ParseVariant(string(fallback)); !ok {
		fallback = domain.DefaultVariant
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{fallback: fallback, logger: logger}
}

// Normalize returns variant if recognized, else the fallback variant.
func (r *Router) Normalize(variant string) domain.Variant {
	if v, ok := domain.ParseVariant(variant); ok {
		return v
	}
	r.logger.Warn("unrecognized content variant, using fallback",
		"variant", variant, "fallback", string(r.fallback))
	return r.fallback
}

// Resolve returns the effective partition name. Config is shared by all variants.
func (r *Router) Resolve(kind Kind, variant string) string {
	if kind == KindConfig {
		return string(KindConfig)
	}
	v := string(r.Normalize(variant))
	return string(kind) + "_" + strings.ToUpper(v[:1]) + v[1:]
}
