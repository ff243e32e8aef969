package storage

import (
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/teranos/entitystore/am"
)

// ConsistencyMode selects when builders check consistency after merges.
type ConsistencyMode string

const (
	ModeSync     ConsistencyMode = am.ConsistencySync
	ModeAsync    ConsistencyMode = am.ConsistencyAsync
	ModeDisabled ConsistencyMode = am.ConsistencyDisabled
)

// strictness orders modes; higher is stricter.
func (m ConsistencyMode) strictness() int {
	switch m {
	case ModeSync:
		return 2
	case ModeAsync:
		return 1
	default:
		return 0
	}
}

// Engine selects the replace-by-source implementation.
type Engine string

const (
	EngineGraph Engine = am.EngineGraph
	EngineTree  Engine = am.EngineTree
)

// Options configures a builder.
type Options struct {
	// Mode overrides the process-wide consistency mode when set.
	Mode ConsistencyMode
	// Strict returns reported failures as errors.
	Strict bool
	// CaptureWriterStacks records the stack of every write from the start.
	CaptureWriterStacks bool
	Engine              Engine
	// ReportsPerMinute and ReportBurst throttle report attachments.
	ReportsPerMinute float64
	ReportBurst      int
	// MaxAttachmentEntities caps storage dumps; 0 means no cap.
	MaxAttachmentEntities int
	Logger                *zap.SugaredLogger
	// Checker runs async consistency checks; nil uses the shared worker.
	Checker *Checker
}

// Option mutates Options.
type Option func(*Options)

// WithConsistencyMode overrides the consistency mode.
func WithConsistencyMode(mode ConsistencyMode) Option {
	return func(o *Options) { o.Mode = mode }
}

// WithStrict turns reports into returned errors.
func WithStrict(strict bool) Option {
	return func(o *Options) { o.Strict = strict }
}

// WithEngine selects the replace-by-source engine.
func WithEngine(e Engine) Option {
	return func(o *Options) { o.Engine = e }
}

// WithLogger sets the builder logger.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(o *Options) { o.Logger = l }
}

// WithChecker sets the async consistency worker.
func WithChecker(c *Checker) Option {
	return func(o *Options) { o.Checker = c }
}

// WithCaptureWriterStacks records writer stacks from the first write.
func WithCaptureWriterStacks(capture bool) Option {
	return func(o *Options) { o.CaptureWriterStacks = capture }
}

// WithReportLimits sets report throttling and the dump size cap.
func WithReportLimits(perMinute float64, burst, maxEntities int) Option {
	return func(o *Options) {
		o.ReportsPerMinute = perMinute
		o.ReportBurst = burst
		o.MaxAttachmentEntities = maxEntities
	}
}

// OptionsFromConfig maps the storage section of cfg to builder options. The
// consistency mode is not included: it is resolved process-wide, see
// ConfigModeProvider.
func OptionsFromConfig(cfg *am.Config) []Option {
	s := cfg.Storage
	return []Option{
		WithStrict(s.Strict),
		WithEngine(Engine(s.ReplaceBySource.Engine)),
		WithCaptureWriterStacks(s.CaptureWriterStacks),
		WithReportLimits(s.Reports.PerMinute, s.Reports.Burst, s.Reports.MaxAttachmentEntities),
	}
}

func defaultOptions() Options {
	return Options{
		Engine:                EngineGraph,
		ReportsPerMinute:      6,
		ReportBurst:           2,
		MaxAttachmentEntities: 500,
	}
}

func buildOptions(opts []Option) Options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.Engine == "" {
		o.Engine = EngineGraph
	}
	return o
}

type limiterKey struct {
	perMinute float64
	burst     int
}

// limiters shares one report limiter between builders with equal settings.
var limiters sync.Map // limiterKey -> *rate.Limiter

func reportLimiter(perMinute float64, burst int) *rate.Limiter {
	key := limiterKey{perMinute, burst}
	if l, ok := limiters.Load(key); ok {
		return l.(*rate.Limiter)
	}
	limit := rate.Limit(perMinute / 60)
	if perMinute <= 0 {
		limit = 0
	}
	l, _ := limiters.LoadOrStore(key, rate.NewLimiter(limit, burst))
	return l.(*rate.Limiter)
}
