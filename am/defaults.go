package am

import "github.com/spf13/viper"

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Logging
	v.SetDefault("log.json", false)
	v.SetDefault("log.level", "info")

	// Storage
	v.SetDefault("storage.consistency_mode", ConsistencySync)
	v.SetDefault("storage.strict", false)
	v.SetDefault("storage.capture_writer_stacks", false)
	v.SetDefault("storage.replace_by_source.engine", EngineGraph)

	// Reports: a few full dumps per minute, the rest are logged without attachments
	v.SetDefault("storage.reports.per_minute", 6.0)
	v.SetDefault("storage.reports.burst", 2)
	v.SetDefault("storage.reports.max_attachment_entities", 500)

	// Async consistency worker
	v.SetDefault("storage.async.queue_size", 16)
}
