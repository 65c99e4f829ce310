package domain

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func activeSession() Session {
	return Session{
		ConversationID:    "c1",
		Phase:             PhaseQuestionActive,
		Variant:           VariantFemale,
		CurrentQuestionID: 2,
		Presented: []Answer{
			{ID: 4, QuestionID: 2, CategoryID: "a"},
			{ID: 5, QuestionID: 2, CategoryID: "b"},
			{ID: 6, QuestionID: 2, CategoryID: "c"},
		},
		Scores: map[string]int{"a": 0, "b": 0, "c": 0},
	}
}

func TestParseVariant(t *testing.T) {
	v, ok := ParseVariant(" Male ")
	require.True(t, ok)
	require.Equal(t, VariantMale, v)

	_, ok = ParseVariant("other")
	require.False(t, ok)
}

func TestValidate_HappyPath(t *testing.T) {
	s := activeSession()
	s.Selections = []int{5, 4}
	require.NoError(t, s.Validate())
}

func TestValidate_DuplicateSelection(t *testing.T) {
	s := activeSession()
	s.Selections = []int{5, 5}
	require.ErrorContains(t, s.Validate(), "twice")
}

func TestValidate_TooManySelections(t *testing.T) {
	s := activeSession()
	s.Selections = []int{4, 5, 6, 7}
	require.ErrorContains(t, s.Validate(), "exceed")
}

func TestValidate_UnpresentedSelection(t *testing.T) {
	s := activeSession()
	s.Selections = []int{9}
	require.ErrorContains(t, s.Validate(), "not presented")
}

func TestValidate_QuestionOutOfRange(t *testing.T) {
	s := activeSession()
	s.CurrentQuestionID = QuestionCount + 1
	require.ErrorContains(t, s.Validate(), "out of range")
}

func TestClone_DoesNotAlias(t *testing.T) {
	s := activeSession()
	s.Selections = []int{4}
	c := s.Clone()
	c.Selections[0] = 6
	c.Scores["a"] = 9
	require.Equal(t, 4, s.Selections[0])
	require.Equal(t, 0, s.Scores["a"])
}

func TestReset_KeepsIdentityAndVersion(t *testing.T) {
	s := activeSession()
	s.Version = 7
	s.Reset()
	require.Equal(t, "c1", s.ConversationID)
	require.Equal(t, PhaseIdle, s.Phase)
	require.Equal(t, int64(7), s.Version)
	require.Nil(t, s.Scores)
}
