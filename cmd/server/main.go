package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"lex-rag/internal/chromemdb"
	"lex-rag/internal/config"
	"lex-rag/internal/embedding"
	"lex-rag/internal/llmservice"
	"lex-rag/internal/logging"
	"lex-rag/internal/rag"
	"lex-rag/internal/server"
)

const configFilePath = "./configs/config.yaml"

func main() {
	configPath := flag.String("config", configFilePath, "Path to the config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Error loading config")
	}
	logger := logging.Setup(cfg.Log)

	if err := cfg.ValidateServer(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	idx, err := chromemdb.Open(cfg.Local.IndexPath, cfg.Local.Collection)
	if err != nil {
		log.Fatal().Err(err).Msg("Error loading vector index")
	}
	if err := idx.CheckEmbedder(embedding.IdentityOf(cfg.Local.Embedder)); err != nil {
		log.Fatal().Err(err).Msg("Embedder does not match the index")
	}

	embedder, err := embedding.New(cfg.Local.Embedder)
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing embedder")
	}
	model, err := llmservice.New(cfg.LLM)
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing LLM")
	}

	svc := rag.NewService(embedder, idx, llmservice.NewGenerator(model, cfg.LLM), cfg.Server.TopK)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := svc.Ready(ctx, idx.Manifest().Embedder.Dimension); err != nil {
		log.Fatal().Err(err).Msg("Embedding model unavailable")
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	if err := server.Run(ctx, addr, server.Handler(svc, logger)); err != nil {
		log.Fatal().Err(err).Msg("Server error")
	}
}
