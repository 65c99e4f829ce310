package domain

import "time"

// EventKind distinguishes slash commands from inline button presses.
type EventKind string

const (
	EventCommand   EventKind = "command"
	EventSelection EventKind = "selection"
)

// Command names recognized by the quiz.
const (
	CommandStart    = "start"
	CommandHelp     = "help"
	CommandSelfTest = "selftest"
	CommandHealth   = "health"
)

// Event is one inbound interaction from the chat transport.
type Event struct {
	Kind           EventKind
	ConversationID string
	UserID         string
	// Name is set for commands.
	Name string
	// Payload is the button callback data for selections.
	Payload string
	// MessageRef points at the message carrying the pressed keyboard.
	MessageRef string
	CallbackID string
}

// ActionType names an outbound transport operation.
type ActionType string

const (
	ActionSendText      ActionType = "send_text"
	ActionEditKeyboard  ActionType = "edit_keyboard"
	ActionDeleteMessage ActionType = "delete_message"
	ActionTyping        ActionType = "typing"
	ActionAckCallback   ActionType = "ack_callback"
)

// Format is the text markup of a send_text action.
type Format string

const (
	FormatPlain    Format = ""
	FormatMarkdown Format = "Markdown"
)

// Button is one inline keyboard button.
type Button struct {
	Text string `json:"text"`
	Data string `json:"data"`
}

// Keyboard is a list of button rows.
type Keyboard [][]Button

// Action is an outbound descriptor executed by the transport, in order.
type Action struct {
	Type           ActionType    `json:"type"`
	ConversationID string        `json:"conversationId"`
	Text           string        `json:"text,omitempty"`
	Format         Format        `json:"format,omitempty"`
	Keyboard       Keyboard      `json:"keyboard,omitempty"`
	MessageRef     string        `json:"messageRef,omitempty"`
	CallbackID     string        `json:"callbackId,omitempty"`
	Delay          time.Duration `json:"delay,omitempty"`
}
