// Command quizctl runs the quiz against a local TOML content file: an
// interactive terminal session plus the content and diagnostic checks.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"archetype-quiz/internal/config"
	"archetype-quiz/internal/content"
	"archetype-quiz/internal/domain"
	"archetype-quiz/internal/integrations/tomlsource"
	"archetype-quiz/internal/quiz"
	"archetype-quiz/internal/session"
)

// cliUser is the conversation and user id of the terminal session. It is an
// admin so diagnostics work locally.
const cliUser = "cli"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type app struct {
	engine  *quiz.Engine
	content *content.Store
	cfg     config.Config
}

// newRootCmd builds the command tree. opts are appended to the engine options
// of every subcommand.
func newRootCmd(opts ...quiz.Option) *cobra.Command {
	v := viper.New()
	var verbose bool

	rootCmd := &cobra.Command{
		Use:           "quizctl",
		Short:         "Run and check the archetype quiz locally",
		Long:          "quizctl plays the archetype quiz in the terminal against a TOML content file and checks that the content is complete.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.PersistentFlags().String("content", "content.toml", "path to the TOML content file")
	rootCmd.PersistentFlags().String("variant", string(domain.DefaultVariant), "default content variant (male or female)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log engine decisions to stderr")
	_ = v.BindPFlag("content_file", rootCmd.PersistentFlags().Lookup("content"))
	_ = v.BindPFlag("default_variant", rootCmd.PersistentFlags().Lookup("variant"))

	load := func(cmd *cobra.Command) (*app, error) {
		return wireApp(v, logger(cmd.ErrOrStderr(), verbose), opts...)
	}

	rootCmd.AddCommand(
		newPlayCmd(load),
		newValidateCmd(load),
		newSelfTestCmd(load),
		newHealthCmd(load),
	)
	return rootCmd
}

func logger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func wireApp(v *viper.Viper, log *slog.Logger, opts ...quiz.Option) (*app, error) {
	v.Set("content_source", config.SourceTOML)
	cfg, err := config.Load(v)
	if err != nil {
		return nil, err
	}
	src, err := tomlsource.New(cfg.ContentFile)
	if err != nil {
		return nil, err
	}
	store, err := content.NewStore(src, content.NewRouter(cfg.DefaultVariant, log),
		content.WithTTL(cfg.ItemTTL, cfg.ListTTL),
		content.WithFetchTimeout(cfg.UpstreamTimeout),
		content.WithLogger(log),
	)
	if err != nil {
		return nil, fmt.Errorf("create content store: %w", err)
	}
	engineOpts := append([]quiz.Option{
		quiz.WithLogger(log),
		quiz.WithAdmins(cliUser),
		quiz.WithDefaultVariant(cfg.DefaultVariant),
	}, opts...)
	engine, err := quiz.NewEngine(store, session.NewMemoryStore(nil), engineOpts...)
	if err != nil {
		return nil, fmt.Errorf("create quiz engine: %w", err)
	}
	return &app{engine: engine, content: store, cfg: cfg}, nil
}
