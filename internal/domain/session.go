package domain

import (
	"fmt"
	"time"
)

// Phase is the named state of a conversation's quiz progress.
type Phase string

const (
	PhaseIdle                  Phase = "idle"
	PhaseAwaitingGender        Phase = "awaiting_gender"
	PhaseAwaitingPromo         Phase = "awaiting_promo"
	PhaseAwaitingQuizStart     Phase = "awaiting_quiz_start"
	PhaseQuestionActive        Phase = "question_active"
	PhaseAwaitingResultConfirm Phase = "awaiting_result_confirm"
	PhaseCompleted             Phase = "completed"
)

// Session is the per-conversation quiz state.
type Session struct {
	ConversationID    string         `json:"conversationId"`
	RunID             string         `json:"runId,omitempty"`
	Phase             Phase          `json:"phase"`
	Variant           Variant        `json:"variant,omitempty"`
	CurrentQuestionID int            `json:"currentQuestionId,omitempty"`
	Selections        []int          `json:"selections,omitempty"`
	Presented         []Answer       `json:"presented,omitempty"`
	Scores            map[string]int `json:"scores,omitempty"`
	// ArchetypeOrder is the variant's archetype list order at score initialization.
	ArchetypeOrder []string  `json:"archetypeOrder,omitempty"`
	Version        int64     `json:"version"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// NewSession returns an idle session for conversationID.
func NewSession(conversationID string) Session {
	return Session{ConversationID: conversationID, Phase: PhaseIdle}
}

// Reset drops all quiz progress, keeping identity and version.
func (s *Session) Reset() {
	*s = Session{
		ConversationID: s.ConversationID,
		Phase:          PhaseIdle,
		Version:        s.Version,
		UpdatedAt:      s.UpdatedAt,
	}
}

// Clone returns a deep copy so callers can mutate without aliasing stored state.
func (s Session) Clone() Session {
	out := s
	if s.Selections != nil {
		out.Selections = append([]int(nil), s.Selections...)
	}
	if s.Presented != nil {
		out.Presented = append([]Answer(nil), s.Presented...)
	}
	if s.ArchetypeOrder != nil {
		out.ArchetypeOrder = append([]string(nil), s.ArchetypeOrder...)
	}
	if s.Scores != nil {
		out.Scores = make(map[string]int, len(s.Scores))
		for k, v := range s.Scores {
			out.Scores[k] = v
		}
	}
	return out
}

// Validate checks the structural invariants of an in-progress quiz.
func (s Session) Validate() error {
	if len(s.Selections) > SelectionsPerQuestion {
		return fmt.Errorf("domain: %d selections exceed limit %d", len(s.Selections), SelectionsPerQuestion)
	}
	seen := make(map[int]bool, len(s.Selections))
	for _, id := range s.Selections {
		if seen[id] {
			return fmt.Errorf("domain: answer %d selected twice", id)
		}
		seen[id] = true
		if !s.presents(id) {
			return fmt.Errorf("domain: answer %d was not presented", id)
		}
	}
	switch s.Phase {
	case PhaseQuestionActive:
		if s.CurrentQuestionID < 1 || s.CurrentQuestionID > QuestionCount {
			return fmt.Errorf("domain: question id %d out of range", s.CurrentQuestionID)
		}
		if len(s.Scores) == 0 {
			return fmt.Errorf("domain: phase %s without initialized scores", s.Phase)
		}
		if len(s.Presented) == 0 {
			return fmt.Errorf("domain: question %d has no presented answers", s.CurrentQuestionID)
		}
		for _, a := range s.Presented {
			if a.QuestionID != s.CurrentQuestionID {
				return fmt.Errorf("domain: presented answer %d belongs to question %d", a.ID, a.QuestionID)
			}
		}
	case PhaseAwaitingPromo, PhaseAwaitingQuizStart, PhaseAwaitingResultConfirm:
		if len(s.Scores) == 0 {
			return fmt.Errorf("domain: phase %s without initialized scores", s.Phase)
		}
	}
	return nil
}

func (s Session) presents(answerID int) bool {
	for _, a := range s.Presented {
		if a.ID == answerID {
			return true
		}
	}
	return false
}
