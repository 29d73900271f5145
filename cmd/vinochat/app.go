package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/kalambet/vinochat/internal/assistant"
	"github.com/kalambet/vinochat/internal/catalog"
	"github.com/kalambet/vinochat/internal/config"
	"github.com/kalambet/vinochat/internal/perflog"
	"github.com/kalambet/vinochat/internal/proxy"
	"github.com/kalambet/vinochat/internal/storage"
	"github.com/kalambet/vinochat/internal/websearch"
)

// app holds the components shared by the server and the console chat.
type app struct {
	cfg       config.Config
	catalog   *catalog.Catalog
	records   *storage.Store
	perf      *perflog.Logger
	llm       *proxy.Client
	assistant *assistant.Assistant
}

func setupLogging(cfg config.Config) {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.Log.SlogLevel()})))
}

func openApp(ctx context.Context, cfg config.Config) (*app, error) {
	cat, err := catalog.Open(cfg.Catalog.Path, cfg.Catalog.Table)
	if err != nil {
		return nil, fmt.Errorf("opening catalog: %w", err)
	}

	records, err := storage.Open(cfg.Storage.DataDir, cat)
	if err != nil {
		cat.Close()
		return nil, fmt.Errorf("opening records store: %w", err)
	}

	a := &app{
		cfg:     cfg,
		catalog: cat,
		records: records,
		perf:    perflog.New(cfg.Perf.Path, cfg.Perf.Enabled),
		llm:     proxy.NewClientWithBaseURL(cfg.LLM.APIKey, cfg.LLM.BaseURL),
	}

	// The completion loop and the lookup provider trip independently.
	var completer assistant.Completer
	var responder websearch.Responder
	if a.llm.Configured() {
		completer = proxy.NewBreaker("llm", a.llm, proxy.BreakerConfig{}, slog.Default())
		responder = proxy.NewBreaker("websearch", a.llm, proxy.BreakerConfig{}, slog.Default())
	} else {
		slog.Warn("app: OPENAI_API_KEY is not set, only deterministic answers are available")
	}

	search := websearch.New(responder, cfg.Search.Enabled, websearch.Config{
		Model:          cfg.Search.Model,
		ContextSize:    cfg.Search.ContextSize,
		Country:        cfg.Search.Country,
		City:           cfg.Search.City,
		AllowedDomains: cfg.Search.Domains(),
	}, slog.Default())

	caps, capsSource := assistant.LoadCapabilities(cfg.Assistant.CapabilitiesPath)
	a.assistant, err = assistant.New(ctx, assistant.Config{
		Catalog:             cat,
		Records:             records,
		LLM:                 completer,
		Search:              search,
		Table:               cfg.Catalog.Table,
		FastModel:           cfg.LLM.FastModel,
		ComplexModel:        cfg.LLM.ComplexModel,
		MaxHistoryMessages:  cfg.LLM.MaxHistoryMessages,
		MaxCompletionTokens: cfg.LLM.MaxCompletionTokens,
		Capabilities:        caps,
		CapabilitiesSource:  capsSource,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("building assistant: %w", err)
	}
	slog.Debug("app: ready", "catalog", cfg.Catalog.Path, "records", records.Path(), "capabilities", capsSource)
	return a, nil
}

func (a *app) Close() error {
	return errors.Join(a.perf.Close(), a.records.Close(), a.catalog.Close())
}
