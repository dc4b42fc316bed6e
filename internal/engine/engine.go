// Package engine wires familiar's components together: it identifies who is
// speaking, files and recalls their memories, mines their habits and keeps
// everything persisted in SQLite.
package engine

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lazypower/familiar/internal/config"
	"github.com/lazypower/familiar/internal/fingerprint"
	"github.com/lazypower/familiar/internal/identity"
	"github.com/lazypower/familiar/internal/lexicon"
	"github.com/lazypower/familiar/internal/memory"
	"github.com/lazypower/familiar/internal/patterns"
	"github.com/lazypower/familiar/internal/store"
)

// activityLimit bounds how much of each profile's utterance and action
// history is kept in memory for pattern mining.
const activityLimit = 1000

// Engine is the single logical writer over profiles and memories. Every
// mutating call is serialized by one lock; persistence is handed to a
// background writer so callers never wait on disk.
type Engine struct {
	cfg config.Config
	log *zap.Logger
	now func() time.Time

	db       *store.DB
	writer   *store.Writer
	lex      *lexicon.Lexicon
	ext      *fingerprint.Extractor
	profiles *identity.Store
	ident    *identity.Identifier
	memories *memory.Store
	miner    *patterns.Miner

	mu         sync.Mutex
	utterances map[string][]time.Time
	actions    map[string][]patterns.Event

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// Open opens the configured database and builds an Engine over it.
func Open(cfg config.Config, logger *zap.Logger, opts ...Option) (*Engine, error) {
	path := cfg.Database.Path
	if path == "" {
		var err error
		if path, err = store.DefaultDBPath(); err != nil {
			return nil, err
		}
	}
	db, err := store.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	e, err := New(db, cfg, logger, opts...)
	if err != nil {
		db.Close()
		return nil, err
	}
	return e, nil
}

// New builds an Engine over an open database and loads its state. Records
// that cannot be decoded are logged and skipped. The Engine owns db from
// here on and closes it in Close.
func New(db *store.DB, cfg config.Config, logger *zap.Logger, opts ...Option) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		cfg:        cfg,
		log:        logger.Named("engine"),
		now:        time.Now,
		db:         db,
		utterances: map[string][]time.Time{},
		actions:    map[string][]patterns.Event{},
		stopCh:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}

	lx, err := lexicon.Load(lexicon.FoldNormalizer{}, cfg.Locale.Dir, cfg.Locale.Locales...)
	if err != nil {
		return nil, fmt.Errorf("load lexicon: %w", err)
	}
	e.lex = lx
	if e.ext, err = fingerprint.New(lx, fingerprint.WithCache(cfg.Cache.ExtractionSize)); err != nil {
		return nil, err
	}

	e.writer = store.NewWriter(db, logger)
	e.profiles = identity.NewStore(lx.Normalizer,
		identity.WithBackend(e.writer),
		identity.WithLearningRate(cfg.Identity.LearningRate))
	e.ident = identity.NewIdentifier(e.profiles, e.ext,
		identity.NewAnalyzer(cfg.Identity.Analyzer, lx),
		identityConfig(cfg.Identity), logger)
	e.memories, err = memory.NewStore(lx, memoryConfig(cfg.Memory),
		memory.WithBackend(e.writer),
		memory.WithClock(func() time.Time { return e.now() }),
		memory.WithLogger(logger))
	if err != nil {
		e.writer.Close()
		return nil, err
	}
	e.miner = patterns.NewMiner(source{e}, patternsConfig(cfg.Patterns))

	if err := e.load(); err != nil {
		e.writer.Close()
		return nil, err
	}
	return e, nil
}

func (e *Engine) load() error {
	profiles, skipped, err := e.db.LoadProfiles()
	if err != nil {
		return fmt.Errorf("load profiles: %w", err)
	}
	current, err := e.db.GetState(identity.CurrentKey)
	if err != nil {
		return fmt.Errorf("load current profile: %w", err)
	}
	skipped = append(skipped, e.profiles.Load(profiles, current)...)

	mems, memSkipped, err := e.db.LoadMemories()
	if err != nil {
		return fmt.Errorf("load memories: %w", err)
	}
	skipped = append(skipped, memSkipped...)
	skipped = append(skipped, e.memories.Load(mems)...)

	for _, err := range skipped {
		e.log.Warn("skipped corrupt record", zap.Error(err))
	}

	utts, err := e.db.RecentUtterances(activityLimit)
	if err != nil {
		return err
	}
	for _, u := range utts {
		e.utterances[u.ProfileID] = append(e.utterances[u.ProfileID], time.UnixMilli(u.CreatedAt))
	}
	acts, err := e.db.RecentActions(activityLimit)
	if err != nil {
		return err
	}
	for _, a := range acts {
		e.actions[a.ProfileID] = append(e.actions[a.ProfileID], patterns.Event{Name: a.Action, At: time.UnixMilli(a.CreatedAt)})
	}

	e.log.Info("state loaded",
		zap.Int("profiles", e.profiles.Len()),
		zap.Int("memories", e.memories.Len()),
		zap.Int("skipped", len(skipped)))
	return nil
}

// Flush blocks until every change made so far is on disk.
func (e *Engine) Flush() {
	e.writer.Flush()
}

// Close stops maintenance, drains pending writes and closes the database.
func (e *Engine) Close() error {
	e.Stop()
	e.writer.Close()
	e.ext.Close()
	return e.db.Close()
}

// DBPath is the path of the backing database.
func (e *Engine) DBPath() string {
	return e.db.Path
}

// Ping checks the database connection.
func (e *Engine) Ping() error {
	return e.db.Ping()
}

// Config returns the configuration the engine was built with.
func (e *Engine) Config() config.Config {
	return e.cfg
}

func identityConfig(c config.IdentityConfig) identity.Config {
	return identity.Config{
		Threshold:        c.Threshold,
		Epsilon:          c.Epsilon,
		TopicWeight:      c.TopicWeight,
		FormalityWeight:  c.FormalityWeight,
		EmotionWeight:    c.EmotionWeight,
		AnalyzerWeight:   c.AnalyzerWeight,
		ContinuityBonus:  c.ContinuityBonus,
		ContinuityDecay:  c.ContinuityDecay,
		SilenceHalfLife:  minutes(c.SilenceHalfLife),
		AmbiguousPenalty: c.AmbiguousPenalty,
	}
}

func memoryConfig(c config.MemoryConfig) memory.Config {
	return memory.Config{
		OverlapWeight:    c.OverlapWeight,
		ImportanceWeight: c.ImportanceWeight,
		RecencyWeight:    c.RecencyWeight,
		AccessWeight:     c.AccessWeight,
		HalfLives: map[memory.Importance]time.Duration{
			memory.Trivial:  hours(c.HalfLives.Trivial),
			memory.Low:      hours(c.HalfLives.Low),
			memory.Medium:   hours(c.HalfLives.Medium),
			memory.High:     hours(c.HalfLives.High),
			memory.Critical: hours(c.HalfLives.Critical),
		},
		EmotionalDecayScale: c.EmotionalDecayScale,
		Reinforcement:       c.Reinforcement,
		DecayFloor:          c.DecayFloor,
		MaxEntries:          c.MaxEntries,
	}
}

func patternsConfig(c config.PatternsConfig) patterns.Config {
	return patterns.Config{
		MinSamples:    c.MinSamples,
		TimeShare:     c.TimeShare,
		DayShare:      c.DayShare,
		TopicShare:    c.TopicShare,
		ActionShare:   c.ActionShare,
		SequenceShare: c.SequenceShare,
		EmotionShare:  c.EmotionShare,
		MaxConfidence: c.MaxConfidence,
		Boost:         c.Boost,
		SessionGap:    minutes(c.SessionGap),
	}
}

func minutes(m float64) time.Duration { return time.Duration(m * float64(time.Minute)) }
func hours(h float64) time.Duration   { return time.Duration(h * float64(time.Hour)) }
