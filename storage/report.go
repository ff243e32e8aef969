package storage

import (
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/teranos/entitystore/logger"
	"github.com/teranos/entitystore/storage/storeerror"
)

// reporter raises storage reports: a structured error log line with a report
// id, attachments when the shared limiter allows them, and a returned error
// in strict mode.
type reporter struct {
	builderID   string
	log         *zap.SugaredLogger
	limiter     *rate.Limiter
	strict      bool
	maxEntities int
}

func newReporter(builderID string, log *zap.SugaredLogger, opts Options) *reporter {
	return &reporter{
		builderID:   builderID,
		log:         log,
		limiter:     reportLimiter(opts.ReportsPerMinute, opts.ReportBurst),
		strict:      opts.Strict,
		maxEntities: opts.MaxAttachmentEntities,
	}
}

// report logs se. attach adds dumps to se and runs only when the limiter
// allows it. The returned error is nil unless the builder is strict.
func (r *reporter) report(msg string, se *storeerror.StoreError, attach func(*storeerror.StoreError)) error {
	se.ReportID = uuid.NewString()
	se.WithContext(logger.FieldBuilderID, r.builderID)
	if attach != nil && r.limiter.Allow() {
		attach(se)
	}
	r.log.Errorw(msg, se.ToLogFields()...)
	recordReport(se.Category)
	if r.strict {
		return se
	}
	return nil
}

// attachStorage returns an attach function dumping rd under name.
func (r *reporter) attachStorage(name string, rd Reader) func(*storeerror.StoreError) {
	return func(se *storeerror.StoreError) {
		se.WithAttachment(name, Dump(rd, r.maxEntities))
	}
}
