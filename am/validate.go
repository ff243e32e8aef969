package am

import "github.com/teranos/entitystore/errors"

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	switch c.Storage.ConsistencyMode {
	case ConsistencySync, ConsistencyAsync, ConsistencyDisabled:
	default:
		return errors.Newf("storage.consistency_mode must be one of sync, async, disabled, got %q", c.Storage.ConsistencyMode)
	}

	switch c.Storage.ReplaceBySource.Engine {
	case EngineGraph, EngineTree:
	default:
		return errors.Newf("storage.replace_by_source.engine must be graph or tree, got %q", c.Storage.ReplaceBySource.Engine)
	}

	// Zero means no attachments at all, negative is invalid
	if c.Storage.Reports.PerMinute < 0 {
		return errors.Newf("storage.reports.per_minute must be >= 0, got %f", c.Storage.Reports.PerMinute)
	}
	if c.Storage.Reports.Burst < 0 {
		return errors.Newf("storage.reports.burst must be >= 0, got %d", c.Storage.Reports.Burst)
	}
	if c.Storage.Reports.MaxAttachmentEntities < 0 {
		return errors.Newf("storage.reports.max_attachment_entities must be >= 0, got %d", c.Storage.Reports.MaxAttachmentEntities)
	}

	if c.Storage.ConsistencyMode == ConsistencyAsync && c.Storage.Async.QueueSize <= 0 {
		return errors.Newf("storage.async.queue_size must be > 0 in async mode, got %d", c.Storage.Async.QueueSize)
	}

	return nil
}
