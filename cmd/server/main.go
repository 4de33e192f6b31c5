package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"quizforge/internal/api"
	"quizforge/internal/chunker"
	"quizforge/internal/config"
	"quizforge/internal/db"
	"quizforge/internal/extract"
	"quizforge/internal/logger"
	"quizforge/internal/ontology"
	"quizforge/internal/pdftext"
	"quizforge/internal/provider"
	"quizforge/internal/quiz"
	"quizforge/internal/store"
)

func main() {
	cfg := config.Load()

	logg, err := logger.New(cfg.LogMode)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logg.Sync()

	conn, err := db.Open(cfg.Database)
	if err != nil {
		logg.Fatal("open database", "path", cfg.Database, "error", err)
	}

	st := store.New(conn)

	providers := buildProviders(cfg)
	if len(providers) == 0 {
		logg.Fatal("no providers configured; set OLLAMA_BASE_URL or a remote key set")
	}
	dispatcher := provider.NewDispatcher(
		providers,
		cfg.Gen.ProviderRetries,
		cfg.Gen.ProviderRetryDelay,
		cfg.Gen.GenerateTimeout,
		logg,
	)

	chunkCfg := chunker.Config{
		UnitTargetChars:    cfg.Gen.UnitTargetChars,
		LightPageChars:     cfg.Gen.LightPageChars,
		HeavyPageChars:     cfg.Gen.HeavyPageChars,
		ParagraphUnitChars: cfg.Gen.ParagraphUnitChars,
		MinUnitChars:       cfg.Gen.MinUnitChars,
		MaxUnits:           cfg.Gen.MaxUnits,
	}

	texts := pdftext.NewExtractor()
	sections := extract.NewService(dispatcher, chunkCfg, logg)
	quizzes := quiz.NewService(dispatcher, st, chunkCfg, cfg.Gen, logg)
	ontologies := ontology.NewExtractor(dispatcher, cfg.Gen.MinRelationships, logg)

	server := api.NewServer(st, texts, sections, quizzes, ontologies, dispatcher, cfg.UploadDir, logg)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	logg.Info("listening", "port", port, "providers", len(providers))

	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      server.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
	}

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Fatal("server failed", "error", err)
	}
}

// buildProviders assembles the dispatcher pool in priority order: the local
// Ollama backend first, then one entry per remote API key so key rotation
// and provider rotation share a mechanism.
func buildProviders(cfg config.Config) []provider.Provider {
	var out []provider.Provider
	if cfg.OllamaBaseURL != "" {
		out = append(out, provider.NewOllama(cfg.OllamaBaseURL, cfg.OllamaModel, cfg.Gen.GenerateTimeout))
	}
	for _, remote := range cfg.Remotes {
		for i, key := range remote.Keys {
			name := remote.Name
			if len(remote.Keys) > 1 {
				name = fmt.Sprintf("%s#%d", remote.Name, i+1)
			}
			out = append(out, provider.NewRemote(name, remote.BaseURL, remote.Model, key))
		}
	}
	return out
}
