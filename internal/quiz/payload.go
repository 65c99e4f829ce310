package quiz

import (
	"fmt"
	"strconv"
	"strings"
)

// Callback data written into inline buttons.
const (
	payloadGenderPrefix = "gender:"
	payloadPromoNext    = "promo:next"
	payloadQuizStart    = "quiz:start"
	payloadAnswerPrefix = "answer:"
	payloadResultShow   = "result:show"
)

type payloadKind int

const (
	payloadUnknown payloadKind = iota
	payloadGender
	payloadPromo
	payloadStart
	payloadAnswer
	payloadResult
)

// payload is a decoded button press.
type payload struct {
	kind       payloadKind
	variant    string
	questionID int
	position   int
}

func genderPayload(variant string) string {
	return payloadGenderPrefix + variant
}

// answerPayload carries the question id so presses on a keyboard from an earlier
// question can be told apart from presses on the current one.
func answerPayload(questionID, position int) string {
	return fmt.Sprintf("%s%d:%d", payloadAnswerPrefix, questionID, position)
}

func parsePayload(raw string) (payload, error) {
	raw = strings.TrimSpace(raw)
	switch {
	case raw == payloadPromoNext:
		return payload{kind: payloadPromo}, nil
	case raw == payloadQuizStart:
		return payload{kind: payloadStart}, nil
	case raw == payloadResultShow:
		return payload{kind: payloadResult}, nil
	case strings.HasPrefix(raw, payloadGenderPrefix):
		return payload{kind: payloadGender, variant: strings.TrimPrefix(raw, payloadGenderPrefix)}, nil
	case strings.HasPrefix(raw, payloadAnswerPrefix):
		parts := strings.Split(strings.TrimPrefix(raw, payloadAnswerPrefix), ":")
		if len(parts) != 2 {
			return payload{}, fmt.Errorf("malformed answer payload %q", raw)
		}
		qid, err := strconv.Atoi(parts[0])
		if err != nil {
			return payload{}, fmt.Errorf("malformed question id in %q: %w", raw, err)
		}
		pos, err := strconv.Atoi(parts[1])
		if err != nil {
			return payload{}, fmt.Errorf("malformed position in %q: %w", raw, err)
		}
		return payload{kind: payloadAnswer, questionID: qid, position: pos}, nil
	default:
		return payload{}, fmt.Errorf("unknown payload %q", raw)
	}
}
