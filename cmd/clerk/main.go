// Clerk is a chat assistant for store management: it turns merchant
// messages into previewed, confirmed, and audited catalog actions.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/bitmerchant/clerk/common/version"
	"github.com/bitmerchant/clerk/internal/clerk/api"
	"github.com/bitmerchant/clerk/internal/clerk/assistant"
	"github.com/bitmerchant/clerk/internal/clerk/catalog"
	"github.com/bitmerchant/clerk/internal/clerk/commands"
	"github.com/bitmerchant/clerk/internal/clerk/config"
	"github.com/bitmerchant/clerk/internal/clerk/engine"
	"github.com/bitmerchant/clerk/internal/clerk/nlp"
	"github.com/bitmerchant/clerk/internal/clerk/safety"
	"github.com/bitmerchant/clerk/internal/clerk/store"
)

func main() {
	configPath := flag.String("config", "clerk.yaml", "path to the YAML config file")
	flag.Parse()

	// A missing .env is fine; it only exists in development.
	_ = godotenv.Load()

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, nil)))
	slog.Info("starting clerk", "version", version.Info())

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "clerk: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	// Repository: SQLite when a path is configured, in-memory otherwise.
	var repo engine.Repository
	if cfg.Database.Path != "" {
		st, err := store.New(cfg.Database.Path)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer st.Close()
		repo = st
		slog.Info("using sqlite repository", "path", cfg.Database.Path)
	} else {
		repo = engine.NewMemoryRepository()
		slog.Info("using in-memory repository")
	}

	cat, err := buildCatalog(cfg)
	if err != nil {
		return err
	}

	validator := safety.NewValidator(safety.Limits{
		MaxPriceIncreasePct: cfg.Safety.MaxPriceIncreasePct,
		MaxPriceDecreasePct: cfg.Safety.MaxPriceDecreasePct,
		DailyActionCeiling:  cfg.Safety.DailyActionCeiling,
	}, repo)

	adapter := commands.New(cat, commands.Config{})

	eng := engine.New(repo, validator, adapter, engine.Config{
		ConfirmationTimeout: cfg.Engine.ConfirmationTimeout.Std(),
		Retention:           cfg.Engine.Retention.Std(),
		ConfirmThreshold:    cfg.Engine.ConfirmThreshold,
	})

	var enhancer *nlp.Enhancer
	if cfg.NLP.Enabled {
		provider := nlp.New(nlp.Config{
			APIKey:  cfg.NLP.APIKey,
			BaseURL: cfg.NLP.BaseURL,
			Model:   cfg.NLP.Model,
			Timeout: cfg.NLP.Timeout.Std(),
		})
		enhancer = nlp.NewEnhancer(provider)
		slog.Info("model escalation enabled", "model", cfg.NLP.Model)
	}

	storeInfo := safety.StoreInfo{Domain: cfg.Store.Domain, Name: cfg.Store.Name}
	asst := assistant.New(eng, enhancer, cat, storeInfo)
	server := api.New(asst, eng, storeInfo, cfg.Permissions)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	janitor := engine.NewJanitor(eng, cfg.Engine.SweepInterval.Std())
	go janitor.Run(ctx)

	httpServer := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", cfg.HTTP.Addr)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// buildCatalog selects the catalog backend. The memory backend ships with a
// few seeded products so the assistant is usable out of the box.
func buildCatalog(cfg *config.Config) (catalog.Service, error) {
	switch cfg.Catalog.Mode {
	case "http":
		return catalog.NewClient(catalog.ClientConfig{
			BaseURL: cfg.Catalog.BaseURL,
			Token:   cfg.Catalog.Token,
			Timeout: cfg.Catalog.Timeout.Std(),
		}), nil
	case "memory":
		mem := catalog.NewMemory()
		mem.Seed(sampleItems()...)
		return mem, nil
	default:
		return nil, fmt.Errorf("unknown catalog mode %q", cfg.Catalog.Mode)
	}
}

// sampleItems seeds the in-memory catalog for demos and local development.
func sampleItems() []catalog.Item {
	return []catalog.Item{
		{
			Title: "iPhone 15", Vendor: "Apple", Category: "Phones",
			Tags: []string{"apple", "phone"}, Status: catalog.StatusActive,
			Variants: []catalog.Variant{{SKU: "IPH15-128", Price: 999.00, Inventory: 12}},
		},
		{
			Title: "Infinix Note 30", Vendor: "Infinix", Category: "Phones",
			Tags: []string{"infinix", "phone"}, Status: catalog.StatusActive,
			Variants: []catalog.Variant{{SKU: "INF-N30", Price: 229.99, Inventory: 40}},
		},
		{
			Title: "AirPods Pro", Vendor: "Apple", Category: "Audio",
			Tags: []string{"apple", "headphones"}, Status: catalog.StatusActive,
			Variants: []catalog.Variant{{SKU: "APP-2", Price: 249.00, Inventory: 25}},
		},
	}
}
