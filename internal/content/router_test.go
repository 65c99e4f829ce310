package content

import (
	"testing"

	"github.com/stretchr/testify/require"

	"archetype-quiz/internal/domain"
)

func TestResolve(t *testing.T) {
	r := NewRouter(domain.DefaultVariant, nil)
	cases := []struct {
		kind    Kind
		variant string
		want    string
	}{
		{KindConfig, "male", "Config"},
		{KindConfig, "", "Config"},
		{KindQuestions, "male", "Questions_Male"},
		{KindAnswers, "female", "Answers_Female"},
		{KindArchetypes, "FEMALE", "Archetypes_Female"},
		{KindQuestions, "other", "Questions_Female"},
		{KindAnswers, "", "Answers_Female"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, r.Resolve(tc.kind, tc.variant), "kind=%s variant=%q", tc.kind, tc.variant)
	}
}

func TestResolve_OtherMatchesFemale(t *testing.T) {
	r := NewRouter(domain.DefaultVariant, nil)
	for _, k := range []Kind{KindQuestions, KindAnswers, KindArchetypes} {
		require.Equal(t, r.Resolve(k, "female"), r.Resolve(k, "other"))
	}
}

func TestNewRouter_InvalidFallback(t *testing.T) {
	r := NewRouter("robot", nil)
	require.Equal(t, domain.VariantFemale, r.Normalize("x"))

	r = NewRouter(domain.VariantMale, nil)
	require.Equal(t, domain.VariantMale, r.Normalize("x"))
}
