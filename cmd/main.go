package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/spf13/viper"

	"archetype-quiz/handler"
	"archetype-quiz/internal/config"
	"archetype-quiz/internal/content"
	"archetype-quiz/internal/domain"
	"archetype-quiz/internal/integrations/paramstore"
	"archetype-quiz/internal/integrations/sheets"
	"archetype-quiz/internal/integrations/tomlsource"
	"archetype-quiz/internal/quiz"
	"archetype-quiz/internal/repository"
	"archetype-quiz/internal/session"
)

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	cfg, err := config.Load(viper.New())
	if err != nil {
		fatal("invalid configuration", err)
	}

	// ---- AWS SDK config ----
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		fatal("failed to load AWS config", err)
	}

	// ---- Content ----
	var source content.Source
	switch cfg.ContentSource {
	case config.SourceTOML:
		source, err = tomlsource.New(cfg.ContentFile)
		if err != nil {
			fatal("failed to open content file", err)
		}
	default:
		ssmClient, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
		if err != nil {
			fatal("failed to create SSM client", err)
		}
		spreadsheetID := cfg.SpreadsheetID
		if spreadsheetID == "" {
			params, err := ssmClient.Prefixed(ctx, cfg.ParamPrefix, "spreadsheet-id")
			if err != nil {
				fatal("failed to load spreadsheet id", err)
			}
			spreadsheetID = params["spreadsheet-id"]
		}
		source, err = sheets.NewClient(ssmClient, cfg.ParamPrefix, spreadsheetID, sheets.WithBaseURL(cfg.SheetsBaseURL))
		if err != nil {
			fatal("failed to create sheets client", err)
		}
	}

	router := content.NewRouter(cfg.DefaultVariant, slog.Default())
	store, err := content.NewStore(source, router,
		content.WithTTL(cfg.ItemTTL, cfg.ListTTL),
		content.WithFetchTimeout(cfg.UpstreamTimeout),
	)
	if err != nil {
		fatal("failed to create content store", err)
	}
	if err := store.Warm(ctx, "gender_prompt", domain.VariantFemale, domain.VariantMale); err != nil {
		fatal("content source unavailable", err)
	}

	// ---- Sessions ----
	var sessions session.Store = session.NewMemoryStore(nil)
	if cfg.SessionTable != "" {
		sessions, err = repository.New(awsdynamodb.NewFromConfig(awsCfg), cfg.SessionTable)
		if err != nil {
			fatal("failed to create session client", err)
		}
	}

	// ---- Handler ----
	engine, err := quiz.NewEngine(store, sessions,
		quiz.WithAdmins(cfg.AdminIDs...),
		quiz.WithDefaultVariant(cfg.DefaultVariant),
	)
	if err != nil {
		fatal("failed to create quiz engine", err)
	}

	h, err := handler.NewHandler(engine)
	if err != nil {
		fatal("failed to create handler", err)
	}

	slog.Info("quiz ready", "content_source", cfg.ContentSource, "persistent_sessions", cfg.SessionTable != "")
	lambda.Start(h.Handle)
}

func fatal(msg string, err error) {
	slog.Error(msg, "err", err)
	os.Exit(1)
}
