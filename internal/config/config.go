// Package config loads pipeline settings from defaults, an optional
// YAML file and FRAUDPIPE_ environment variables, in that precedence.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "FRAUDPIPE_"

// Boost holds the classifier hyperparameters.
type Boost struct {
	NumTrees        int     `koanf:"num_trees"`
	LearningRate    float64 `koanf:"learning_rate"`
	MaxDepth        int     `koanf:"max_depth"`
	Subsample       float64 `koanf:"subsample"`
	ColsampleByTree float64 `koanf:"colsample_bytree"`
	RegAlpha        float64 `koanf:"reg_alpha"`
	RegLambda       float64 `koanf:"reg_lambda"`
	MinChildWeight  float64 `koanf:"min_child_weight"`
	EvalMetric      string  `koanf:"eval_metric"`
	Seed            int64   `koanf:"seed"`
}

// Tune holds the hyperparameter search settings.
type Tune struct {
	Trials int   `koanf:"trials"`
	Seed   int64 `koanf:"seed"`
}

// Pipeline is the full pipeline configuration.
type Pipeline struct {
	DataDir      string `koanf:"data_dir"`
	ArtifactsDir string `koanf:"artifacts_dir"`
	ModelPath    string `koanf:"model_path"`

	Cutoff string `koanf:"cutoff"`
	Target string `koanf:"target"`

	Windows    []int     `koanf:"windows"`
	Tolerances []float64 `koanf:"tolerances"`

	ToDrop         []string `koanf:"to_drop"`
	ToThinkButDrop []string `koanf:"to_think_but_drop"`
	ToCategorize   []string `koanf:"to_categorize"`

	Oversample           bool `koanf:"oversample"`
	BadRateFromTrainOnly bool `koanf:"bad_rate_from_train_only"`

	Boost Boost `koanf:"boost"`
	Tune  Tune  `koanf:"tune"`

	LogLevel string `koanf:"log_level"`
}

// Default returns the baseline configuration.
func Default() Pipeline {
	return Pipeline{
		DataDir:      "data",
		ArtifactsDir: "artifacts",
		ModelPath:    "artifacts/model.json",
		Cutoff:       "2023-07-01",
		Target:       "is_fraud",
		Windows:      []int{2, 7},
		Tolerances:   []float64{10, 5},
		ToDrop: []string{
			"transaction_id", "user_id",
			"location_lat", "location_long",
			"time_prev",
			"country_users", "country_merchant", "transaction_country",
		},
		ToThinkButDrop: []string{"month_year_eom", "date", "year"},
		ToCategorize:   []string{"part_of_day"},
		Oversample:     true,
		Boost: Boost{
			NumTrees:        1250,
			LearningRate:    0.05,
			MaxDepth:        5,
			Subsample:       0.5,
			ColsampleByTree: 0.8,
			RegAlpha:        1.0,
			RegLambda:       1.0,
			MinChildWeight:  1.0,
			EvalMetric:      "auc",
			Seed:            42,
		},
		Tune:     Tune{Trials: 50, Seed: 42},
		LogLevel: "info",
	}
}

// Load builds the configuration from defaults, the optional YAML file at
// path, and FRAUDPIPE_ environment variables. Nested keys use a double
// underscore in the environment, as in FRAUDPIPE_BOOST__MAX_DEPTH.
func Load(path string) (Pipeline, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return Pipeline{}, fmt.Errorf("loading defaults: %w", err)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Pipeline{}, fmt.Errorf("loading %s: %w", path, err)
		}
	}
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(s, envPrefix)
		return strings.ReplaceAll(strings.ToLower(s), "__", ".")
	}), nil); err != nil {
		return Pipeline{}, fmt.Errorf("loading environment: %w", err)
	}

	var cfg Pipeline
	if err := k.Unmarshal("", &cfg); err != nil {
		return Pipeline{}, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Pipeline{}, err
	}
	return cfg, nil
}

// CutoffTime parses the train/test cutoff.
func (p Pipeline) CutoffTime() (time.Time, error) {
	for _, layout := range []string{"2006-01-02", "2006-01-02 15:04:05", time.RFC3339} {
		if t, err := time.Parse(layout, p.Cutoff); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("config: cannot parse cutoff %q", p.Cutoff)
}

// Validate checks the configuration for unusable values.
func (p Pipeline) Validate() error {
	if p.DataDir == "" {
		return fmt.Errorf("config: data_dir required")
	}
	if p.ArtifactsDir == "" {
		return fmt.Errorf("config: artifacts_dir required")
	}
	if p.Target == "" {
		return fmt.Errorf("config: target required")
	}
	if len(p.Windows) == 0 {
		return fmt.Errorf("config: at least one window required")
	}
	for _, w := range p.Windows {
		if w < 1 {
			return fmt.Errorf("config: window %d must be positive", w)
		}
	}
	if _, err := p.CutoffTime(); err != nil {
		return err
	}
	if p.Tune.Trials < 1 {
		return fmt.Errorf("config: tune.trials %d must be positive", p.Tune.Trials)
	}
	return nil
}
