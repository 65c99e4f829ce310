package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"archetype-quiz/internal/content"
	"archetype-quiz/internal/domain"
	"archetype-quiz/internal/quiz"
)

func newValidateCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check that the content file covers every question, answer and archetype",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := load(cmd)
			if err != nil {
				return err
			}
			problems := checkContent(cmd.Context(), a.content)
			for _, p := range problems {
				fmt.Fprintln(cmd.OutOrStdout(), p)
			}
			if len(problems) > 0 {
				return fmt.Errorf("content has %d problem(s)", len(problems))
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), "content ok")
			return err
		},
	}
}

func newSelfTestCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "selftest",
		Short: "Render the result messages for random scores",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCommand(cmd, load, domain.CommandSelfTest)
		},
	}
}

func newHealthCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show content cache counters and partition status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCommand(cmd, load, domain.CommandHealth)
		},
	}
}

func runCommand(cmd *cobra.Command, load loader, name string) error {
	a, err := load(cmd)
	if err != nil {
		return err
	}
	actions, err := a.engine.Handle(cmd.Context(), domain.Event{
		Kind:           domain.EventCommand,
		ConversationID: cliUser,
		UserID:         cliUser,
		Name:           name,
	})
	if err != nil {
		return err
	}
	return printTexts(cmd.OutOrStdout(), actions)
}

func printTexts(w io.Writer, actions []domain.Action) error {
	for _, a := range actions {
		if a.Type != domain.ActionSendText {
			continue
		}
		if _, err := fmt.Fprintln(w, a.Text); err != nil {
			return err
		}
	}
	return nil
}

// checkContent walks both variants the way a full quiz run would and reports
// every gap it finds.
func checkContent(ctx context.Context, store *content.Store) []string {
	var problems []string
	for _, key := range quiz.RequiredConfigKeys() {
		if _, err := store.Config(ctx, key); err != nil {
			problems = append(problems, fmt.Sprintf("config: missing %q", key))
		}
	}

	for _, v := range []domain.Variant{domain.VariantFemale, domain.VariantMale} {
		archetypes, err := store.AllArchetypes(ctx, string(v))
		if err != nil || len(archetypes) == 0 {
			problems = append(problems, fmt.Sprintf("%s: no archetypes", v))
			continue
		}
		known := make(map[string]bool, len(archetypes))
		for _, a := range archetypes {
			known[a.ID] = true
		}

		for id := 1; id <= domain.QuestionCount; id++ {
			if _, err := store.Question(ctx, id, string(v)); err != nil {
				problems = append(problems, fmt.Sprintf("%s: question %d missing", v, id))
			}
			answers, err := store.Answers(ctx, id, string(v))
			if errors.Is(err, content.ErrNotFound) || len(answers) < domain.SelectionsPerQuestion {
				problems = append(problems, fmt.Sprintf("%s: question %d has %d answers, need at least %d",
					v, id, len(answers), domain.SelectionsPerQuestion))
			}
			for _, a := range answers {
				if !known[a.CategoryID] {
					problems = append(problems, fmt.Sprintf("%s: answer %d of question %d points at unknown archetype %q",
						v, a.ID, id, a.CategoryID))
				}
			}
		}
	}
	return problems
}
