// Package am loads entitystore configuration ("I am") from TOML files and
// ENTITYSTORE_* environment variables through viper.
package am

// Config represents the entitystore configuration
type Config struct {
	Log     LogConfig     `mapstructure:"log" toml:"log" yaml:"log" json:"log"`
	Storage StorageConfig `mapstructure:"storage" toml:"storage" yaml:"storage" json:"storage"`
}

// LogConfig configures the global zap logger
type LogConfig struct {
	JSON  bool   `mapstructure:"json" toml:"json" yaml:"json" json:"json"`     // JSON output instead of console
	Level string `mapstructure:"level" toml:"level" yaml:"level" json:"level"` // debug, info, warn, error
}

// StorageConfig configures builders, merges and consistency checking
type StorageConfig struct {
	// Consistency checking after merges: sync, async or disabled
	ConsistencyMode string `mapstructure:"consistency_mode" toml:"consistency_mode" yaml:"consistency_mode" json:"consistency_mode"`

	// Strict turns reported failures (collisions, broken references) into returned errors
	Strict bool `mapstructure:"strict" toml:"strict" yaml:"strict" json:"strict"`

	// CaptureWriterStacks records a stack trace on every builder write from the start
	CaptureWriterStacks bool `mapstructure:"capture_writer_stacks" toml:"capture_writer_stacks" yaml:"capture_writer_stacks" json:"capture_writer_stacks"`

	ReplaceBySource ReplaceBySourceConfig `mapstructure:"replace_by_source" toml:"replace_by_source" yaml:"replace_by_source" json:"replace_by_source"`
	Reports         ReportsConfig         `mapstructure:"reports" toml:"reports" yaml:"reports" json:"reports"`
	Async           AsyncConfig           `mapstructure:"async" toml:"async" yaml:"async" json:"async"`
}

// ReplaceBySourceConfig selects the replace-by-source engine
type ReplaceBySourceConfig struct {
	Engine string `mapstructure:"engine" toml:"engine" yaml:"engine" json:"engine"` // graph (default) or tree
}

// ReportsConfig throttles diagnostic attachments on failure reports
type ReportsConfig struct {
	PerMinute             float64 `mapstructure:"per_minute" toml:"per_minute" yaml:"per_minute" json:"per_minute"`                                           // attachment dumps per minute
	Burst                 int     `mapstructure:"burst" toml:"burst" yaml:"burst" json:"burst"`                                                               // dumps allowed back to back
	MaxAttachmentEntities int     `mapstructure:"max_attachment_entities" toml:"max_attachment_entities" yaml:"max_attachment_entities" json:"max_attachment_entities"` // 0 = unlimited
}

// AsyncConfig configures the background consistency worker
type AsyncConfig struct {
	QueueSize int `mapstructure:"queue_size" toml:"queue_size" yaml:"queue_size" json:"queue_size"` // pending checks before new ones are dropped
}

// Consistency modes
const (
	ConsistencySync     = "sync"
	ConsistencyAsync    = "async"
	ConsistencyDisabled = "disabled"
)

// Replace-by-source engines
const (
	EngineGraph = "graph"
	EngineTree  = "tree"
)

// File system constants
const (
	DefaultDirPermissions  = 0755 // Standard directory permissions (rwxr-xr-x)
	DefaultFilePermissions = 0644 // Standard file permissions (rw-r--r--)
)
