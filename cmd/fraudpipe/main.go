package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fraudlab/pipeline/internal/config"
	"github.com/fraudlab/pipeline/internal/frame"
	"github.com/fraudlab/pipeline/internal/pipeline"
	"github.com/fraudlab/pipeline/internal/tune"
)

// Options for command-line flags
type Options struct {
	// Mode selects which pipeline stage to run
	Mode string

	// ConfigPath is an optional YAML configuration file
	ConfigPath string

	// Verbose switches the logger to debug level
	Verbose bool
}

func main() {
	opts := parseFlags()

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := buildLogger(cfg.LogLevel, opts.Verbose)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	runner := pipeline.NewRunner(cfg, log)

	switch opts.Mode {
	case "ingest":
		err = runner.RunIngestion()
	case "preprocess":
		err = runner.RunPreprocessing()
	case "features":
		err = runner.RunFeatures()
	case "train":
		err = runner.RunModel()
	case "tune":
		err = runTune(cfg, log)
	case "all":
		err = runner.RunAll()
	}
	if err != nil {
		log.Fatal("pipeline failed", zap.String("mode", opts.Mode), zap.Error(err))
	}
	log.Info("pipeline finished", zap.String("mode", opts.Mode))
}

func runTune(cfg config.Pipeline, log *zap.Logger) error {
	xTrain, err := frame.ReadIPC(filepath.Join(cfg.ArtifactsDir, pipeline.XTrainFile))
	if err != nil {
		return err
	}
	yTrain, err := frame.ReadIPC(filepath.Join(cfg.ArtifactsDir, pipeline.YTrainFile))
	if err != nil {
		return err
	}
	xTest, err := frame.ReadIPC(filepath.Join(cfg.ArtifactsDir, pipeline.XTestFile))
	if err != nil {
		return err
	}
	yTest, err := frame.ReadIPC(filepath.Join(cfg.ArtifactsDir, pipeline.YTestFile))
	if err != nil {
		return err
	}

	res, err := tune.Search(xTrain, yTrain, xTest, yTest, tune.Config{
		Trials:     cfg.Tune.Trials,
		Seed:       cfg.Tune.Seed,
		Oversample: cfg.Oversample,
		ModelsDir:  filepath.Join(cfg.ArtifactsDir, "tune"),
		Logger:     log,
	})
	if err != nil {
		return err
	}
	return res.WriteTrialsCSV(filepath.Join(cfg.ArtifactsDir, "tune", "trials.csv"))
}

func buildLogger(level string, verbose bool) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if verbose {
		level = "debug"
	}
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	zc.Level = zap.NewAtomicLevelAt(lvl)
	return zc.Build()
}

func parseFlags() *Options {
	opts := &Options{}

	flag.StringVar(&opts.Mode, "mode", "all", "Stage to run: 'all', 'ingest', 'preprocess', 'features', 'train' or 'tune'")
	flag.StringVar(&opts.ConfigPath, "config", "", "Path to a YAML configuration file")
	flag.BoolVar(&opts.Verbose, "verbose", false, "Enable verbose logging")

	flag.Parse()

	switch opts.Mode {
	case "all", "ingest", "preprocess", "features", "train", "tune":
		// Valid modes
	default:
		fmt.Printf("Invalid mode: %s\n", opts.Mode)
		flag.Usage()
		os.Exit(1)
	}

	return opts
}
