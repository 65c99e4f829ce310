package quiz

import (
	"fmt"
	"strings"
	"time"

	"archetype-quiz/internal/domain"
)

// Config partition keys used by the quiz flow.
const (
	keyWelcome1          = "welcome_sequence_1"
	keyWelcome2          = "welcome_sequence_2"
	keyGenderPrompt      = "gender_prompt"
	keyButtonMale        = "button_gender_male"
	keyButtonFemale      = "button_gender_female"
	keyPromo             = "promo_sequence"
	keyButtonNext        = "button_next"
	keyInstructions      = "quiz_instructions"
	keyButtonStart       = "button_start"
	keyResultPrompt      = "result_prompt"
	keyButtonShowResults = "button_show_results"
	keySecondaryHeader   = "secondary_header"
	keyFinalCTA          = "final_cta_text"
	keyHelp              = "help_text"
	keyErrorRestart      = "error_restart"
)

// RequiredConfigKeys lists the config entries every quiz run reads.
// welcome_sequence_2 is optional and not listed.
func RequiredConfigKeys() []string {
	return []string{
		keyWelcome1, keyGenderPrompt, keyButtonMale, keyButtonFemale,
		keyPromo, keyButtonNext, keyInstructions, keyButtonStart,
		keyResultPrompt, keyButtonShowResults, keySecondaryHeader, keyFinalCTA,
		keyHelp, keyErrorRestart,
	}
}

const (
	fallbackErrorText = "Something went wrong while loading the quiz. Send /start to begin again."

	introTypingDelay    = 800 * time.Millisecond
	questionTypingDelay = 1200 * time.Millisecond
	resultTypingDelay   = 1500 * time.Millisecond
)

var pickMarks = [domain.SelectionsPerQuestion]string{"1️⃣", "2️⃣", "3️⃣"}

func sendText(conv, text string, kb domain.Keyboard) domain.Action {
	return domain.Action{Type: domain.ActionSendText, ConversationID: conv, Text: text, Keyboard: kb}
}

func sendMarkdown(conv, text string, kb domain.Keyboard) domain.Action {
	a := sendText(conv, text, kb)
	a.Format = domain.FormatMarkdown
	return a
}

func typing(conv string, d time.Duration) domain.Action {
	return domain.Action{Type: domain.ActionTyping, ConversationID: conv, Delay: d}
}

func ackCallback(conv, callbackID string) domain.Action {
	return domain.Action{Type: domain.ActionAckCallback, ConversationID: conv, CallbackID: callbackID}
}

// editKeyboard replaces the keyboard under messageRef; a nil keyboard removes it.
// Events without a message reference yield no action.
func editKeyboard(conv, messageRef string, kb domain.Keyboard) []domain.Action {
	if messageRef == "" {
		return nil
	}
	return []domain.Action{{Type: domain.ActionEditKeyboard, ConversationID: conv, MessageRef: messageRef, Keyboard: kb}}
}

func singleButton(label, data string) domain.Keyboard {
	return domain.Keyboard{{{Text: label, Data: data}}}
}

func genderKeyboard(male, female string) domain.Keyboard {
	return domain.Keyboard{
		{{Text: male, Data: genderPayload(string(domain.VariantMale))}},
		{{Text: female, Data: genderPayload(string(domain.VariantFemale))}},
	}
}

func questionText(q domain.Question) string {
	if strings.TrimSpace(q.Prompt) == "" {
		return fmt.Sprintf("*%s*", q.Text)
	}
	return fmt.Sprintf("*%s*\n\n_%s_", q.Text, q.Prompt)
}

// questionKeyboard renders the presented answers, one per row, marking picks
// with their order.
func questionKeyboard(s domain.Session) domain.Keyboard {
	order := make(map[int]int, len(s.Selections))
	for i, id := range s.Selections {
		order[id] = i
	}
	kb := make(domain.Keyboard, 0, len(s.Presented))
	for i, a := range s.Presented {
		label := a.Text
		if idx, ok := order[a.ID]; ok {
			label = pickMarks[idx] + " ✅ " + a.Text
		}
		kb = append(kb, []domain.Button{{Text: label, Data: answerPayload(s.CurrentQuestionID, i+1)}})
	}
	return kb
}

func secondaryText(header string, descriptions []string) string {
	parts := make([]string, 0, len(descriptions)+1)
	if strings.TrimSpace(header) != "" {
		parts = append(parts, header)
	}
	parts = append(parts, descriptions...)
	return strings.Join(parts, "\n\n")
}
