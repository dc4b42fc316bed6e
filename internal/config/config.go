package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

// Config holds all familiar configuration. Values come from Default(), then
// the TOML file, then FAMILIAR_* environment variables (a .env file in the
// working directory is honored).
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Database DatabaseConfig `toml:"database"`
	Locale   LocaleConfig   `toml:"locale"`
	Identity IdentityConfig `toml:"identity"`
	Memory   MemoryConfig   `toml:"memory"`
	Patterns PatternsConfig `toml:"patterns"`
	Cache    CacheConfig    `toml:"cache"`
	Log      LogConfig      `toml:"log"`
}

type ServerConfig struct {
	Bind string `toml:"bind" env:"FAMILIAR_SERVER_BIND"`
	Port int    `toml:"port" env:"FAMILIAR_SERVER_PORT"`
}

type DatabaseConfig struct {
	Path string `toml:"path" env:"FAMILIAR_DATABASE_PATH"` // empty: ~/.familiar/familiar.db
}

type LocaleConfig struct {
	Locales []string `toml:"locales" env:"FAMILIAR_LOCALES"`
	Dir     string   `toml:"dir" env:"FAMILIAR_LOCALE_DIR"` // extra *.yaml tables, overriding embedded ones
}

// IdentityConfig tunes implicit speaker matching. The defaults are starting
// points, not calibrated values.
type IdentityConfig struct {
	Threshold        float64 `toml:"threshold" env:"FAMILIAR_IDENTITY_THRESHOLD"`
	Epsilon          float64 `toml:"epsilon" env:"FAMILIAR_IDENTITY_EPSILON"`
	TopicWeight      float64 `toml:"topic_weight" env:"FAMILIAR_IDENTITY_TOPIC_WEIGHT"`
	FormalityWeight  float64 `toml:"formality_weight" env:"FAMILIAR_IDENTITY_FORMALITY_WEIGHT"`
	EmotionWeight    float64 `toml:"emotion_weight" env:"FAMILIAR_IDENTITY_EMOTION_WEIGHT"`
	LearningRate     float64 `toml:"learning_rate" env:"FAMILIAR_IDENTITY_LEARNING_RATE"`
	ContinuityBonus  float64 `toml:"continuity_bonus" env:"FAMILIAR_IDENTITY_CONTINUITY_BONUS"`
	ContinuityDecay  float64 `toml:"continuity_decay" env:"FAMILIAR_IDENTITY_CONTINUITY_DECAY"` // per turn
	SilenceHalfLife  float64 `toml:"silence_half_life_minutes" env:"FAMILIAR_IDENTITY_SILENCE_HALF_LIFE"`
	AmbiguousPenalty float64 `toml:"ambiguous_penalty" env:"FAMILIAR_IDENTITY_AMBIGUOUS_PENALTY"`
	Analyzer         string  `toml:"analyzer" env:"FAMILIAR_IDENTITY_ANALYZER"` // "facts" or "none"
	AnalyzerWeight   float64 `toml:"analyzer_weight" env:"FAMILIAR_IDENTITY_ANALYZER_WEIGHT"`
}

type MemoryConfig struct {
	OverlapWeight    float64 `toml:"overlap_weight" env:"FAMILIAR_MEMORY_OVERLAP_WEIGHT"`
	ImportanceWeight float64 `toml:"importance_weight" env:"FAMILIAR_MEMORY_IMPORTANCE_WEIGHT"`
	RecencyWeight    float64 `toml:"recency_weight" env:"FAMILIAR_MEMORY_RECENCY_WEIGHT"`
	AccessWeight     float64 `toml:"access_weight" env:"FAMILIAR_MEMORY_ACCESS_WEIGHT"`

	HalfLives HalfLives `toml:"half_lives"`

	EmotionalDecayScale    float64 `toml:"emotional_decay_scale" env:"FAMILIAR_MEMORY_EMOTIONAL_DECAY_SCALE"`
	Reinforcement          float64 `toml:"reinforcement" env:"FAMILIAR_MEMORY_REINFORCEMENT"`
	DecayFloor             float64 `toml:"decay_floor" env:"FAMILIAR_MEMORY_DECAY_FLOOR"`
	MaxEntries             int     `toml:"max_entries" env:"FAMILIAR_MEMORY_MAX_ENTRIES"`
	MaxResults             int     `toml:"max_results" env:"FAMILIAR_MEMORY_MAX_RESULTS"`
	IncludeGlobal          bool    `toml:"include_global" env:"FAMILIAR_MEMORY_INCLUDE_GLOBAL"`
	ConsolidationThreshold float64 `toml:"consolidation_threshold" env:"FAMILIAR_MEMORY_CONSOLIDATION_THRESHOLD"`
	Schedule               string  `toml:"schedule" env:"FAMILIAR_MEMORY_SCHEDULE"` // cron expression for decay + consolidation
}

// HalfLives are recency half-lives in hours, per importance level.
type HalfLives struct {
	Trivial  float64 `toml:"trivial" env:"FAMILIAR_HALF_LIFE_TRIVIAL"`
	Low      float64 `toml:"low" env:"FAMILIAR_HALF_LIFE_LOW"`
	Medium   float64 `toml:"medium" env:"FAMILIAR_HALF_LIFE_MEDIUM"`
	High     float64 `toml:"high" env:"FAMILIAR_HALF_LIFE_HIGH"`
	Critical float64 `toml:"critical" env:"FAMILIAR_HALF_LIFE_CRITICAL"`
}

type PatternsConfig struct {
	MinSamples    int     `toml:"min_samples" env:"FAMILIAR_PATTERNS_MIN_SAMPLES"`
	TimeShare     float64 `toml:"time_share" env:"FAMILIAR_PATTERNS_TIME_SHARE"`
	DayShare      float64 `toml:"day_share" env:"FAMILIAR_PATTERNS_DAY_SHARE"`
	TopicShare    float64 `toml:"topic_share" env:"FAMILIAR_PATTERNS_TOPIC_SHARE"`
	ActionShare   float64 `toml:"action_share" env:"FAMILIAR_PATTERNS_ACTION_SHARE"`
	SequenceShare float64 `toml:"sequence_share" env:"FAMILIAR_PATTERNS_SEQUENCE_SHARE"`
	EmotionShare  float64 `toml:"emotion_share" env:"FAMILIAR_PATTERNS_EMOTION_SHARE"`
	MaxConfidence float64 `toml:"max_confidence" env:"FAMILIAR_PATTERNS_MAX_CONFIDENCE"`
	Boost         float64 `toml:"boost" env:"FAMILIAR_PATTERNS_BOOST"`
	SessionGap    float64 `toml:"session_gap_minutes" env:"FAMILIAR_PATTERNS_SESSION_GAP"`
}

type CacheConfig struct {
	ExtractionSize int64 `toml:"extraction_size" env:"FAMILIAR_CACHE_EXTRACTION_SIZE"` // 0 disables
}

type LogConfig struct {
	Level       string `toml:"level" env:"FAMILIAR_LOG_LEVEL"`
	Development bool   `toml:"development" env:"FAMILIAR_LOG_DEVELOPMENT"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Bind: "127.0.0.1",
			Port: 37778,
		},
		Locale: LocaleConfig{
			Locales: []string{"pt", "en"},
		},
		Identity: IdentityConfig{
			Threshold:        0.55,
			Epsilon:          0.05,
			TopicWeight:      0.6,
			FormalityWeight:  0.15,
			EmotionWeight:    0.25,
			LearningRate:     0.3,
			ContinuityBonus:  0.15,
			ContinuityDecay:  0.8,
			SilenceHalfLife:  30,
			AmbiguousPenalty: 0.5,
			Analyzer:         "facts",
			AnalyzerWeight:   0.1,
		},
		Memory: MemoryConfig{
			OverlapWeight:    0.55,
			ImportanceWeight: 0.2,
			RecencyWeight:    0.2,
			AccessWeight:     0.05,
			HalfLives: HalfLives{
				Trivial:  24,
				Low:      72,
				Medium:   168,
				High:     720,
				Critical: 8760,
			},
			EmotionalDecayScale:    0.5,
			Reinforcement:          0.1,
			DecayFloor:             0.1,
			MaxEntries:             10000,
			MaxResults:             10,
			IncludeGlobal:          true,
			ConsolidationThreshold: 0.8,
			Schedule:               "0 3 * * *",
		},
		Patterns: PatternsConfig{
			MinSamples:    5,
			TimeShare:     0.3,
			DayShare:      0.2,
			TopicShare:    0.15,
			ActionShare:   0.05,
			SequenceShare: 0.1,
			EmotionShare:  0.4,
			MaxConfidence: 0.9,
			Boost:         1.5,
			SessionGap:    30,
		},
		Cache: CacheConfig{
			ExtractionSize: 1024,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// DefaultPath returns the default config file path: ~/.familiar/config.toml
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, ".familiar", "config.toml"), nil
}

// Load builds a Config from defaults, the TOML file at path (a missing file
// is fine), and the environment. An empty path means DefaultPath().
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path == "" {
		p, err := DefaultPath()
		if err == nil {
			path = p
		}
	}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := toml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config %s: %w", path, err)
			}
		case errors.Is(err, fs.ErrNotExist):
		default:
			return cfg, fmt.Errorf("read config: %w", err)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate rejects values the scoring code cannot work with.
func (c *Config) Validate() error {
	id := c.Identity
	if id.Threshold <= 0 || id.Threshold > 1 {
		return fmt.Errorf("identity.threshold must be in (0,1], got %v", id.Threshold)
	}
	if id.Epsilon < 0 {
		return fmt.Errorf("identity.epsilon must be >= 0, got %v", id.Epsilon)
	}
	if id.TopicWeight < 0 || id.FormalityWeight < 0 || id.EmotionWeight < 0 || id.AnalyzerWeight < 0 {
		return errors.New("identity weights must be >= 0")
	}
	if id.LearningRate <= 0 || id.LearningRate > 1 {
		return fmt.Errorf("identity.learning_rate must be in (0,1], got %v", id.LearningRate)
	}
	for name, v := range map[string]float64{
		"identity.continuity_decay":  id.ContinuityDecay,
		"identity.continuity_bonus":  id.ContinuityBonus,
		"identity.ambiguous_penalty": id.AmbiguousPenalty,
	} {
		if err := unit(name, v); err != nil {
			return err
		}
	}
	switch id.Analyzer {
	case "", "none", "facts":
	default:
		return fmt.Errorf("identity.analyzer: unknown analyzer %q", id.Analyzer)
	}

	m := c.Memory
	if m.OverlapWeight < 0 || m.ImportanceWeight < 0 || m.RecencyWeight < 0 || m.AccessWeight < 0 {
		return errors.New("memory weights must be >= 0")
	}
	hl := m.HalfLives
	if hl.Trivial <= 0 || hl.Low <= 0 || hl.Medium <= 0 || hl.High <= 0 || hl.Critical <= 0 {
		return errors.New("memory.half_lives must all be > 0")
	}
	if m.DecayFloor <= 0 || m.DecayFloor > 1 {
		return fmt.Errorf("memory.decay_floor must be in (0,1], got %v", m.DecayFloor)
	}
	if m.ConsolidationThreshold <= 0 || m.ConsolidationThreshold > 1 {
		return fmt.Errorf("memory.consolidation_threshold must be in (0,1], got %v", m.ConsolidationThreshold)
	}
	if m.MaxEntries < 0 {
		return fmt.Errorf("memory.max_entries must be >= 0, got %d", m.MaxEntries)
	}

	if c.Patterns.MinSamples < 1 {
		return fmt.Errorf("patterns.min_samples must be >= 1, got %d", c.Patterns.MinSamples)
	}
	if c.Patterns.MaxConfidence <= 0 || c.Patterns.MaxConfidence > 1 {
		return fmt.Errorf("patterns.max_confidence must be in (0,1], got %v", c.Patterns.MaxConfidence)
	}
	p := c.Patterns
	for name, v := range map[string]float64{
		"patterns.time_share":     p.TimeShare,
		"patterns.day_share":      p.DayShare,
		"patterns.topic_share":    p.TopicShare,
		"patterns.action_share":   p.ActionShare,
		"patterns.sequence_share": p.SequenceShare,
		"patterns.emotion_share":  p.EmotionShare,
	} {
		if err := unit(name, v); err != nil {
			return err
		}
	}
	return nil
}

func unit(name string, v float64) error {
	if v < 0 || v > 1 {
		return fmt.Errorf("%s must be in [0,1], got %v", name, v)
	}
	return nil
}

// ListenAddr returns the bind:port address string.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Bind, c.Server.Port)
}
