package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/require"

	"archetype-quiz/internal/domain"
	"archetype-quiz/internal/quiz"
)

type stubEngine struct {
	actions []domain.Action
	err     error
	calls   int
	ev      domain.Event
}

func (s *stubEngine) Handle(_ context.Context, ev domain.Event) ([]domain.Action, error) {
	s.calls++
	s.ev = ev
	return s.actions, s.err
}

func makeEvent(body string) events.APIGatewayProxyRequest {
	return events.APIGatewayProxyRequest{
		HTTPMethod: http.MethodPost,
		Path:       "/webhook",
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       body,
	}
}

func parseBody[T any](t *testing.T, body string) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal([]byte(body), &v))
	return v
}

func TestNewHandler_ValidatesDependency(t *testing.T) {
	_, err := NewHandler(nil)
	require.Error(t, err)
}

func TestHandle_Command(t *testing.T) {
	eng := &stubEngine{actions: []domain.Action{{Type: domain.ActionSendText, ConversationID: "100", Text: "hi"}}}
	h, err := NewHandler(eng)
	require.NoError(t, err)

	resp, err := h.Handle(context.Background(), makeEvent(`{"update_id":1,"message":{"message_id":5,"from":{"id":42},"chat":{"id":100},"text":"/start@quiz_bot"}}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, domain.Event{Kind: domain.EventCommand, ConversationID: "100", UserID: "42", Name: "start"}, eng.ev)

	out := parseBody[actionsResponse](t, resp.Body)
	require.Equal(t, eng.actions, out.Actions)
	require.NotEmpty(t, resp.Headers["X-Correlation-Id"])
}

func TestHandle_CallbackQuery(t *testing.T) {
	eng := &stubEngine{}
	h, err := NewHandler(eng)
	require.NoError(t, err)

	resp, err := h.Handle(context.Background(), makeEvent(`{"update_id":2,"callback_query":{"id":"cb-9","from":{"id":42},"message":{"message_id":77,"chat":{"id":100}},"data":"answer:3:2"}}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, domain.Event{
		Kind:           domain.EventSelection,
		ConversationID: "100",
		UserID:         "42",
		Payload:        "answer:3:2",
		MessageRef:     "77",
		CallbackID:     "cb-9",
	}, eng.ev)
	require.JSONEq(t, `{"actions":[]}`, resp.Body)
}

func TestHandle_IgnoresPlainText(t *testing.T) {
	eng := &stubEngine{}
	h, err := NewHandler(eng)
	require.NoError(t, err)

	resp, err := h.Handle(context.Background(), makeEvent(`{"update_id":3,"message":{"message_id":5,"chat":{"id":100},"text":"hello"}}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Zero(t, eng.calls)
}

func TestHandle_InvalidBody(t *testing.T) {
	h, err := NewHandler(&stubEngine{})
	require.NoError(t, err)

	resp, err := h.Handle(context.Background(), makeEvent(`not-json`))
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	out := parseBody[errorResponse](t, resp.Body)
	require.Equal(t, string(quiz.ErrorInvalidEvent), out.Error)
}

func TestHandle_MapsEngineErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{name: "invalid event", err: &quiz.Error{Code: quiz.ErrorInvalidEvent, Reason: "missing_conversation_id"}, status: http.StatusBadRequest, code: string(quiz.ErrorInvalidEvent)},
		{name: "upstream", err: &quiz.Error{Code: quiz.ErrorUpstreamUnavailable, Reason: "sheets"}, status: http.StatusBadGateway, code: string(quiz.ErrorUpstreamUnavailable)},
		{name: "internal", err: &quiz.Error{Code: quiz.ErrorInternal, Reason: "session_update"}, status: http.StatusInternalServerError, code: string(quiz.ErrorInternal)},
		{name: "unexpected", err: errors.New("boom"), status: http.StatusInternalServerError, code: string(quiz.ErrorInternal)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h, err := NewHandler(&stubEngine{err: tc.err})
			require.NoError(t, err)

			resp, err := h.Handle(context.Background(), makeEvent(`{"message":{"chat":{"id":1},"text":"/help"}}`))
			require.NoError(t, err)
			require.Equal(t, tc.status, resp.StatusCode)

			out := parseBody[errorResponse](t, resp.Body)
			require.Equal(t, tc.code, out.Error)
		})
	}
}

func TestHandle_EngineErrorStillAcknowledgesPress(t *testing.T) {
	body := `{"update_id":4,"callback_query":{"id":"cb-5","from":{"id":42},"message":{"message_id":77,"chat":{"id":100}},"data":"answer:3:2"}}`
	ack := domain.Action{Type: domain.ActionAckCallback, ConversationID: "100", CallbackID: "cb-5"}
	conflict := &quiz.Error{Code: quiz.ErrorInternal, Reason: "session_contention"}

	t.Run("engine produced no actions", func(t *testing.T) {
		h, err := NewHandler(&stubEngine{err: conflict})
		require.NoError(t, err)

		resp, err := h.Handle(context.Background(), makeEvent(body))
		require.NoError(t, err)
		require.Equal(t, http.StatusInternalServerError, resp.StatusCode)

		out := parseBody[errorResponse](t, resp.Body)
		require.Equal(t, string(quiz.ErrorInternal), out.Error)
		require.Equal(t, []domain.Action{ack}, out.Actions)
	})

	t.Run("engine ack is kept once", func(t *testing.T) {
		h, err := NewHandler(&stubEngine{err: conflict, actions: []domain.Action{ack}})
		require.NoError(t, err)

		resp, err := h.Handle(context.Background(), makeEvent(body))
		require.NoError(t, err)

		out := parseBody[errorResponse](t, resp.Body)
		require.Equal(t, []domain.Action{ack}, out.Actions)
	})

	t.Run("commands carry no ack", func(t *testing.T) {
		h, err := NewHandler(&stubEngine{err: conflict})
		require.NoError(t, err)

		resp, err := h.Handle(context.Background(), makeEvent(`{"message":{"chat":{"id":1},"text":"/start"}}`))
		require.NoError(t, err)
		require.JSONEq(t, `{"error":"INTERNAL_ERROR"}`, resp.Body)
	})
}

func TestHandle_UsesProvidedCorrelationID_CaseInsensitive(t *testing.T) {
	h, err := NewHandler(&stubEngine{})
	require.NoError(t, err)

	event := makeEvent(`{"message":{"chat":{"id":1},"text":"/start"}}`)
	event.Headers["x-correlation-id"] = "corr-123"
	resp, err := h.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, "corr-123", resp.Headers["X-Correlation-Id"])
}

func TestCommandName(t *testing.T) {
	cases := map[string]string{
		"/start":         "start",
		"/Help@quiz_bot": "help",
		"/selftest now":  "selftest",
	}
	for in, want := range cases {
		got, ok := commandName(in)
		require.True(t, ok, in)
		require.Equal(t, want, got)
	}
	for _, in := range []string{"", "start", "/", "/@bot"} {
		_, ok := commandName(in)
		require.False(t, ok, in)
	}
}
