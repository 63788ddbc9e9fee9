package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"lex-rag/internal/config"
	"lex-rag/internal/db"
	"lex-rag/internal/embedding"
	"lex-rag/internal/helper"
	"lex-rag/internal/ingest"
	"lex-rag/internal/logging"
	"lex-rag/internal/milvusdb"
)

const configFilePath = "./configs/config.yaml"

// closer releases a store's connection.
type closer func()

func main() {
	configPath := flag.String("config", configFilePath, "Path to the config file")
	filePath := flag.String("file", "", "Path to the document file (overrides hosted.file)")
	query := flag.String("query", "", "Retrieve the closest chunks for a question instead of ingesting")
	topK := flag.Int("top-k", 0, "Number of chunks to retrieve with -query (overrides hosted.top_k)")
	dryRun := flag.Bool("dry-run", false, "Print chunks without embedding or upserting")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Error loading config")
	}
	logging.Setup(cfg.Log)
	if *filePath != "" {
		cfg.Hosted.File = *filePath
	}
	if *topK > 0 {
		cfg.Hosted.TopK = *topK
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *dryRun {
		res, err := ingest.RunHosted(ctx, cfg.Hosted, nil, nil, ingest.Options{DryRun: true, Out: os.Stdout})
		if err != nil {
			log.Fatal().Err(err).Msg("Ingestion failed")
		}
		log.Info().Int("chunks", res.Chunks).Msg("Dry run finished")
		return
	}

	if err := cfg.ValidateHostedIngest(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	embedder, err := embedding.New(cfg.Hosted.Embedder)
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing embedder")
	}

	store, closeStore, err := openStore(ctx, cfg.Hosted)
	if err != nil {
		log.Fatal().Err(err).Msg("Error connecting to vector database")
	}
	defer closeStore()

	if *query != "" {
		matches, err := ingest.Retrieve(ctx, embedder, store, *query, cfg.Hosted.TopK)
		if err != nil {
			log.Error().Err(err).Msg("Retrieval failed")
			closeStore()
			os.Exit(1)
		}
		helper.PrettyPrint(os.Stdout, matches)
		return
	}

	res, err := ingest.RunHosted(ctx, cfg.Hosted, embedder, store, ingest.Options{})
	if err != nil {
		log.Error().Err(err).Msg("Ingestion failed")
		closeStore()
		os.Exit(1)
	}
	log.Info().Int("pages", res.Pages).Int("chunks", res.Chunks).Msg("Ingestion finished")
}

func openStore(ctx context.Context, cfg config.HostedConfig) (ingest.HostedStore, closer, error) {
	switch cfg.Backend {
	case config.BackendMilvus:
		s, err := milvusdb.Open(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		return s, func() {
			if err := s.Close(context.Background()); err != nil {
				log.Warn().Err(err).Msg("Error closing milvus client")
			}
		}, nil
	default:
		s, err := db.Open(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		return s, func() {
			if err := s.Close(); err != nil {
				log.Warn().Err(err).Msg("Error closing database")
			}
		}, nil
	}
}
