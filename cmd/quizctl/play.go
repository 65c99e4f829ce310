package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"archetype-quiz/internal/domain"
)

type loader func(cmd *cobra.Command) (*app, error)

func newPlayCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "play",
		Short: "Take the quiz in the terminal",
		Long:  "Starts a quiz run. Type the number of a button to press it, a /command to send it, or quit to leave.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := load(cmd)
			if err != nil {
				return err
			}
			p := &player{handler: a.engine, out: cmd.OutOrStdout()}
			return p.run(cmd.Context(), cmd.InOrStdin())
		},
	}
}

type eventHandler interface {
	Handle(ctx context.Context, ev domain.Event) ([]domain.Action, error)
}

// player is a terminal transport: it prints send_text actions and keeps the
// most recent inline keyboard pressable by number.
type player struct {
	handler  eventHandler
	out      io.Writer
	lastRef  int
	keyboard domain.Keyboard
	kbRef    string
	presses  int
}

func (p *player) run(ctx context.Context, in io.Reader) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := p.dispatch(ctx, domain.Event{Kind: domain.EventCommand, Name: domain.CommandStart}); err != nil {
		return err
	}
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "quit" || line == "exit":
			return nil
		case strings.HasPrefix(line, "/"):
			name := strings.ToLower(strings.TrimPrefix(strings.Fields(line)[0], "/"))
			if err := p.dispatch(ctx, domain.Event{Kind: domain.EventCommand, Name: name}); err != nil {
				return err
			}
		default:
			button, ok := p.button(line)
			if !ok {
				fmt.Fprintf(p.out, "? choose a button number between 1 and %d\n", p.buttonCount())
				continue
			}
			p.presses++
			if err := p.dispatch(ctx, domain.Event{
				Kind:       domain.EventSelection,
				Payload:    button.Data,
				MessageRef: p.kbRef,
				CallbackID: "cb-" + strconv.Itoa(p.presses),
			}); err != nil {
				return err
			}
		}
	}
	return scanner.Err()
}

func (p *player) dispatch(ctx context.Context, ev domain.Event) error {
	ev.ConversationID = cliUser
	ev.UserID = cliUser
	actions, err := p.handler.Handle(ctx, ev)
	if err != nil {
		return err
	}
	p.render(actions)
	return nil
}

func (p *player) render(actions []domain.Action) {
	for _, a := range actions {
		switch a.Type {
		case domain.ActionSendText:
			fmt.Fprintln(p.out, a.Text)
			if len(a.Keyboard) > 0 {
				p.lastRef++
				p.kbRef = strconv.Itoa(p.lastRef)
				p.keyboard = a.Keyboard
				p.printKeyboard()
			}
		case domain.ActionEditKeyboard:
			if a.MessageRef != p.kbRef {
				continue
			}
			p.keyboard = a.Keyboard
			if len(a.Keyboard) > 0 {
				p.printKeyboard()
			}
		case domain.ActionDeleteMessage:
			if a.MessageRef == p.kbRef {
				p.keyboard = nil
			}
		}
	}
}

func (p *player) printKeyboard() {
	n := 0
	for _, row := range p.keyboard {
		for _, b := range row {
			n++
			fmt.Fprintf(p.out, "  [%d] %s\n", n, b.Text)
		}
	}
}

func (p *player) buttonCount() int {
	n := 0
	for _, row := range p.keyboard {
		n += len(row)
	}
	return n
}

func (p *player) button(input string) (domain.Button, bool) {
	idx, err := strconv.Atoi(input)
	if err != nil || idx < 1 {
		return domain.Button{}, false
	}
	for _, row := range p.keyboard {
		if idx <= len(row) {
			return row[idx-1], true
		}
		idx -= len(row)
	}
	return domain.Button{}, false
}
