// main package for the voiceover batch tool.
//
// Usage:
//
//	voiceover [flags] <input.csv> <locale> <voice>
//
// One run submits every pending or failed row of the snapshot for
// conversion, polls each submitted job once, and records the outcome back
// into the snapshot. Re-run against the same snapshot to pick up jobs
// that were still converting.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/voiceover/internal/audiosync"
	"github.com/book-expert/voiceover/internal/config"
	"github.com/book-expert/voiceover/internal/core"
	"github.com/book-expert/voiceover/internal/csvstore"
	"github.com/book-expert/voiceover/internal/driver"
	"github.com/book-expert/voiceover/internal/playht"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// Environment variable names for the vendor credentials, kept from the
// original tooling so existing shells keep working.
const (
	envUserID = "PLAY_DOT_HT_USER_ID"
	envAPIKey = "PLAY_DOT_HT_API_KEY"
)

// Flag names and descriptions.
const (
	flagOutput         = "output"
	flagOverwriteInput = "overwrite-input"
	flagUserID         = "user-id"
	flagAPIKey         = "api-key"
	flagSyncAudio      = "sync-audio"

	flagOutputDesc         = "Output snapshot path (default tts_<timestamp>_<id>.csv)"
	flagOverwriteInputDesc = "Write statuses back into the input snapshot"
	flagUserIDDesc         = "Play.ht user id (default $" + envUserID + ")"
	flagAPIKeyDesc         = "Play.ht API key (default $" + envAPIKey + ")"
	flagSyncAudioDesc      = "Download completed audio and sync it to the object store"
)

const (
	usageText = "Usage: voiceover [flags] <input.csv> <locale> <voice>"

	positionalArgCount = 3

	defaultOutputFormat = "tts_%s_%s.csv"
	timestampFormat     = "20060102150405"
)

// appFlags holds the parsed command-line values.
type appFlags struct {
	inputPath      string
	locale         string
	voice          string
	outputPath     string
	overwriteInput bool
	userID         string
	apiKey         string
	syncAudio      bool
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	flags, err := parseFlags()
	if err != nil {
		return err
	}

	// Temporary logger for the bootstrap process; the final logger
	// location comes from the loaded configuration.
	bootstrapLog, err := logger.New(os.TempDir(), "voiceover-bootstrap.log")
	if err != nil {
		return fmt.Errorf("failed to create bootstrap logger: %w", err)
	}

	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logsDir := cfg.Paths.BaseLogsDir
	if logsDir == "" {
		logsDir = os.TempDir()
	}

	log, err := logger.New(logsDir, "voiceover.log")
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}

	defer func() {
		closeErr := log.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing logger: %v\n", closeErr)
		}
	}()

	return process(flags, cfg, log)
}

func parseFlags() (appFlags, error) {
	var flags appFlags

	flag.StringVar(&flags.outputPath, flagOutput, "", flagOutputDesc)
	flag.BoolVar(&flags.overwriteInput, flagOverwriteInput, false, flagOverwriteInputDesc)
	flag.StringVar(&flags.userID, flagUserID, "", flagUserIDDesc)
	flag.StringVar(&flags.apiKey, flagAPIKey, "", flagAPIKeyDesc)
	flag.BoolVar(&flags.syncAudio, flagSyncAudio, false, flagSyncAudioDesc)
	flag.Parse()

	if flag.NArg() != positionalArgCount {
		flag.Usage()

		return flags, fmt.Errorf("%s: got %d arguments", usageText, flag.NArg())
	}

	flags.inputPath = flag.Arg(0)
	flags.locale = flag.Arg(1)
	flags.voice = flag.Arg(2)

	if flags.userID == "" {
		flags.userID = os.Getenv(envUserID)
	}

	if flags.apiKey == "" {
		flags.apiKey = os.Getenv(envAPIKey)
	}

	return flags, nil
}

func process(flags appFlags, cfg *config.Config, log *logger.Logger) error {
	store, err := setupStore(flags, cfg, log)
	if err != nil {
		return err
	}

	client, err := playht.New(playht.Config{
		UserID:    flags.userID,
		AuthToken: flags.apiKey,
		BaseURL:   cfg.PlayHT.BaseURL,
		Timeout:   time.Duration(cfg.PlayHT.TimeoutSeconds) * time.Second,
	})
	if err != nil {
		return fmt.Errorf("failed to create play.ht client: %w", err)
	}

	transactions, err := store.ExtractTransactions()
	if err != nil {
		return fmt.Errorf("failed to extract transactions: %w", err)
	}

	batchDriver := driver.New(client, store, driver.Options{
		Workers:       cfg.PlayHT.Workers,
		RatePerMinute: cfg.PlayHT.RateLimitPerMinute,
	}, log)

	ctx := context.Background()

	err = batchDriver.Run(ctx, transactions)
	if err != nil {
		return fmt.Errorf("batch run failed: %w", err)
	}

	if !flags.syncAudio {
		return nil
	}

	return syncAudio(ctx, flags, cfg, store, log)
}

// setupStore selects the output target, seeds the namespaced status
// columns, and leaves the store ready for extraction and persistence.
func setupStore(flags appFlags, cfg *config.Config, log *logger.Logger) (*csvstore.Store, error) {
	store, err := csvstore.New(flags.inputPath, cfg.CSV.ItemIDColumn)
	if err != nil {
		return nil, fmt.Errorf("failed to open input snapshot: %w", err)
	}

	switch {
	case flags.overwriteInput && flags.outputPath != "":
		return nil, fmt.Errorf("%w and a distinct output file", csvstore.ErrOverwriteEnabled)
	case flags.overwriteInput:
		log.Warn("Input snapshot %s will be overwritten", flags.inputPath)

		err = store.SetOverwriteInput()
	default:
		outputPath := flags.outputPath
		if outputPath == "" {
			outputPath = fmt.Sprintf(defaultOutputFormat,
				time.Now().UTC().Format(timestampFormat), uuid.NewString())
			log.Info("No output file specified, creating %s", outputPath)
		}

		err = store.SetOutputFile(outputPath)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to select output target: %w", err)
	}

	err = store.Configure(flags.locale, flags.voice)
	if err != nil {
		return nil, fmt.Errorf("failed to configure store for %s/%s: %w",
			flags.locale, flags.voice, err)
	}

	return store, nil
}

// syncAudio re-reads the snapshot for final statuses and sweeps completed
// items into the audio directory and the object store. A NATS outage
// degrades to a local-only sync rather than failing the run.
func syncAudio(
	ctx context.Context,
	flags appFlags,
	cfg *config.Config,
	store core.StatusStore,
	log *logger.Logger,
) error {
	transactions, err := store.ExtractTransactions()
	if err != nil {
		return fmt.Errorf("failed to re-extract transactions for audio sync: %w", err)
	}

	var (
		objectStore core.ObjectStore
		publisher   audiosync.Publisher
	)

	natsURL := cfg.NATS.URL
	if natsURL == "" {
		natsURL = nats.DefaultURL
	}

	natsConnection, err := nats.Connect(natsURL)
	if err != nil {
		log.Warn("NATS unavailable at %s, syncing audio locally only: %v", natsURL, err)
	} else {
		defer natsConnection.Close()

		jetstreamContext, jsErr := natsConnection.JetStream()
		if jsErr != nil {
			log.Warn("JetStream unavailable, syncing audio locally only: %v", jsErr)
		} else {
			objectStore, err = audiosync.NewNatsStore(
				jetstreamContext, cfg.NATS.AudioObjectStoreBucket)
			if err != nil {
				log.Warn("Object store unavailable, syncing audio locally only: %v", err)

				objectStore = nil
			} else {
				publisher = natsConnection
			}
		}
	}

	syncer := audiosync.New(
		objectStore, publisher, cfg.NATS.AudioCreatedSubject, cfg.Paths.AudioDir, log)

	err = syncer.Sync(ctx, flags.locale, transactions)
	if err != nil {
		return fmt.Errorf("audio sync finished with failures: %w", err)
	}

	return nil
}
