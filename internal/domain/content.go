package domain

import "strings"

// Variant selects one of the two content partitions a user sees.
type Variant string

const (
	VariantMale   Variant = "male"
	VariantFemale Variant = "female"

	DefaultVariant = VariantFemale
)

const (
	QuestionCount         = 19
	SelectionsPerQuestion = 3
)

// ParseVariant reports whether raw names a supported variant.
func ParseVariant(raw string) (Variant, bool) {
	switch v := Variant(strings.ToLower(strings.TrimSpace(raw))); v {
	case VariantMale, VariantFemale:
		return v, true
	default:
		return "", false
	}
}

// Question is one quiz step. IDs run 1..QuestionCount within a variant.
type Question struct {
	ID     int
	Text   string
	Prompt string
}

// Answer belongs to exactly one question and scores for one archetype.
type Answer struct {
	ID         int
	QuestionID int
	Text       string
	CategoryID string
}

// Archetype is a scoring category together with its result texts.
type Archetype struct {
	ID                   string
	MainDescription      string
	SecondaryDescription string
}
