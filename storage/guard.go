package storage

import (
	"bytes"
	"runtime"
	"strconv"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/teranos/entitystore/logger"
	"github.com/teranos/entitystore/storage/storeerror"
)

// writerGuard detects builders written from two goroutines at once. It never
// blocks: a second writer is reported, and from then on every write records
// its stack so the next report shows both sides.
type writerGuard struct {
	builderID string
	log       *zap.SugaredLogger
	owner     atomic.Uint64 // goroutine id of the active writer, 0 when idle
	capture   atomic.Bool
	lastStack atomic.Pointer[string]
	conflicts atomic.Int64
}

func newWriterGuard(builderID string, log *zap.SugaredLogger, capture bool) *writerGuard {
	g := &writerGuard{builderID: builderID, log: log}
	g.capture.Store(capture)
	return g
}

// enter marks the calling goroutine as the writer and returns the function
// that releases it. Nested calls from the same goroutine are no-ops.
func (g *writerGuard) enter(op string) func() {
	gid := goroutineID()
	if g.owner.CompareAndSwap(0, gid) {
		if g.capture.Load() {
			stack := string(stackTrace())
			g.lastStack.Store(&stack)
		}
		return func() { g.owner.CompareAndSwap(gid, 0) }
	}
	other := g.owner.Load()
	if other == gid {
		return func() {}
	}
	g.conflicts.Add(1)
	wasCapturing := g.capture.Swap(true)
	se := storeerror.Newf(storeerror.CategoryConcurrentWrite,
		"builder written by goroutine %d while goroutine %d is writing", gid, other).
		WithContext(logger.FieldBuilderID, g.builderID).
		WithContext(logger.FieldOperation, op)
	if last := g.lastStack.Load(); last != nil && wasCapturing {
		se.WithAttachment("previous_writer_stack", *last)
	}
	g.log.Errorw("Concurrent builder write", se.ToLogFields()...)
	recordReport(se.Category)
	return func() {}
}

// Conflicts returns how many concurrent writes were detected.
func (g *writerGuard) Conflicts() int64 {
	return g.conflicts.Load()
}

func stackTrace() []byte {
	buf := make([]byte, 8192)
	return buf[:runtime.Stack(buf, false)]
}

// goroutineID parses the id from the "goroutine N [" header of the current
// stack.
func goroutineID() uint64 {
	var buf [64]byte
	b := buf[:runtime.Stack(buf[:], false)]
	b = bytes.TrimPrefix(b, []byte("goroutine "))
	if i := bytes.IndexByte(b, ' '); i > 0 {
		b = b[:i]
	}
	id, err := strconv.ParseUint(string(b), 10, 64)
	if err != nil {
		return 0
	}
	return id
}
