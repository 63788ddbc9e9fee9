package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"lex-rag/internal/chromemdb"
	"lex-rag/internal/config"
	"lex-rag/internal/embedding"
	"lex-rag/internal/helper"
	"lex-rag/internal/ingest"
	"lex-rag/internal/logging"
)

const configFilePath = "./configs/config.yaml"

func main() {
	configPath := flag.String("config", configFilePath, "Path to the config file")
	dir := flag.String("dir", "", "Directory of documents to index (overrides local.input_dir)")
	dryRun := flag.Bool("dry-run", false, "Print chunks without embedding or writing the index")
	exportPath := flag.String("export", "", "After building, export the index to this encrypted file")
	importPath := flag.String("import", "", "Restore the index from an exported file instead of building it")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Error loading config")
	}
	logging.Setup(cfg.Log)
	if *dir != "" {
		cfg.Local.InputDir = *dir
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *importPath != "" {
		m, err := chromemdb.Import(ctx, cfg.Local.IndexPath, *importPath, cfg.Local.EncryptionKey)
		if err != nil {
			log.Fatal().Err(err).Msg("Error importing index")
		}
		log.Info().Str("run_id", m.RunID).Int("chunks", m.Chunks).Msg("Index restored")
		return
	}

	if err := cfg.ValidateLocalIngest(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	embedder, err := embedding.New(cfg.Local.Embedder)
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing embedder")
	}

	res, err := ingest.RunLocal(ctx, cfg.Local, embedder, ingest.Options{DryRun: *dryRun, Out: os.Stdout})
	if err != nil {
		log.Fatal().Err(err).Msg("Ingestion failed")
	}
	log.Info().Int("documents", res.Documents).Int("pages", res.Pages).Int("chunks", res.Chunks).Msg("Ingestion finished")
	if *dryRun {
		return
	}
	helper.PrettyPrint(os.Stdout, res.Manifest)

	if *exportPath != "" {
		idx, err := chromemdb.Open(cfg.Local.IndexPath, cfg.Local.Collection)
		if err != nil {
			log.Fatal().Err(err).Msg("Error opening index")
		}
		if err := idx.Export(ctx, *exportPath, cfg.Local.EncryptionKey); err != nil {
			log.Fatal().Err(err).Msg("Error exporting index")
		}
		log.Info().Str("file", *exportPath).Msg("Index exported")
	}
}
