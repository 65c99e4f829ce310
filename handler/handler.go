package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"archetype-quiz/internal/domain"
	"archetype-quiz/internal/quiz"
)

const correlationHeader = "X-Correlation-Id"

type Engine interface {
	Handle(ctx context.Context, ev domain.Event) ([]domain.Action, error)
}

type Handler struct {
	engine Engine
	logger *slog.Logger
}

type actionsResponse struct {
	Actions []domain.Action `json:"actions"`
}

// errorResponse carries whatever the engine produced before failing so the
// transport can still deliver it, including the callback acknowledgement.
type errorResponse struct {
	Error   string          `json:"error"`
	Actions []domain.Action `json:"actions,omitempty"`
}

// update is the subset of a Telegram webhook update the quiz reads.
type update struct {
	UpdateID      int64          `json:"update_id"`
	Message       *message       `json:"message"`
	CallbackQuery *callbackQuery `json:"callback_query"`
}

type message struct {
	MessageID int64  `json:"message_id"`
	From      *user  `json:"from"`
	Chat      chat   `json:"chat"`
	Text      string `json:"text"`
}

type callbackQuery struct {
	ID      string   `json:"id"`
	From    user     `json:"from"`
	Message *message `json:"message"`
	Data    string   `json:"data"`
}

type user struct {
	ID int64 `json:"id"`
}

type chat struct {
	ID int64 `json:"id"`
}

func NewHandler(engine Engine) (*Handler, error) {
	if engine == nil {
		return nil, errors.New("handler: engine must not be nil")
	}
	return &Handler{engine: engine, logger: slog.Default()}, nil
}

func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	correlationID := headerValue(req.Headers, correlationHeader)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	logger := h.logger.With("correlation_id", correlationID)

	var u update
	if err := json.Unmarshal([]byte(req.Body), &u); err != nil {
		logger.Warn("undecodable update", "err", err)
		return jsonResponse(http.StatusBadRequest, correlationID, errorResponse{Error: string(quiz.ErrorInvalidEvent)}), nil
	}

	ev, ok := toEvent(u)
	if !ok {
		logger.Debug("update ignored", "update_id", u.UpdateID)
		return jsonResponse(http.StatusOK, correlationID, actionsResponse{Actions: []domain.Action{}}), nil
	}

	actions, err := h.engine.Handle(ctx, ev)
	if err != nil {
		code := quiz.CodeOf(err)
		logger.Error("event failed", "conversation_id", ev.ConversationID, "code", code, "err", err)
		return jsonResponse(statusFor(code), correlationID, errorResponse{
			Error:   string(code),
			Actions: acknowledged(ev, actions),
		}), nil
	}
	if actions == nil {
		actions = []domain.Action{}
	}
	return jsonResponse(http.StatusOK, correlationID, actionsResponse{Actions: actions}), nil
}

// acknowledged returns actions with an ack_callback for ev prepended when ev is
// a button press the engine did not acknowledge.
func acknowledged(ev domain.Event, actions []domain.Action) []domain.Action {
	if ev.Kind != domain.EventSelection || ev.CallbackID == "" {
		return actions
	}
	for _, a := range actions {
		if a.Type == domain.ActionAckCallback {
			return actions
		}
	}
	ack := domain.Action{Type: domain.ActionAckCallback, ConversationID: ev.ConversationID, CallbackID: ev.CallbackID}
	return append([]domain.Action{ack}, actions...)
}

// toEvent maps an update onto a quiz event. Plain text messages and other
// update kinds are not quiz events.
func toEvent(u update) (domain.Event, bool) {
	if cq := u.CallbackQuery; cq != nil {
		ev := domain.Event{
			Kind:       domain.EventSelection,
			UserID:     strconv.FormatInt(cq.From.ID, 10),
			Payload:    cq.Data,
			CallbackID: cq.ID,
		}
		if cq.Message != nil {
			ev.ConversationID = strconv.FormatInt(cq.Message.Chat.ID, 10)
			ev.MessageRef = strconv.FormatInt(cq.Message.MessageID, 10)
		}
		return ev, true
	}

	m := u.Message
	if m == nil {
		return domain.Event{}, false
	}
	name, ok := commandName(m.Text)
	if !ok {
		return domain.Event{}, false
	}
	ev := domain.Event{
		Kind:           domain.EventCommand,
		ConversationID: strconv.FormatInt(m.Chat.ID, 10),
		Name:           name,
	}
	if m.From != nil {
		ev.UserID = strconv.FormatInt(m.From.ID, 10)
	}
	return ev, true
}

// commandName extracts "start" from "/start", "/start@quiz_bot" or "/start arg".
func commandName(text string) (string, bool) {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return "", false
	}
	name := strings.TrimPrefix(fields[0], "/")
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}
	name = strings.ToLower(name)
	return name, name != ""
}

func statusFor(code quiz.ErrorCode) int {
	switch code {
	case quiz.ErrorInvalidEvent:
		return http.StatusBadRequest
	case quiz.ErrorUpstreamUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func headerValue(headers map[string]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func jsonResponse(status int, correlationID string, body any) events.APIGatewayProxyResponse {
	raw, err := json.Marshal(body)
	if err != nil {
		status = http.StatusInternalServerError
		raw = []byte(`{"error":"INTERNAL_ERROR"}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":    "application/json",
			correlationHeader: correlationID,
		},
		Body: string(raw),
	}
}
