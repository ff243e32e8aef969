package storage

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/teranos/entitystore/entity"
	"github.com/teranos/entitystore/storage/changelog"
	"github.com/teranos/entitystore/storage/testutil"
)

// resetMode forgets the resolved consistency mode and its providers for the
// duration of the test.
func resetMode(t *testing.T) {
	t.Helper()
	reset := func() {
		modeState.mu.Lock()
		defer modeState.mu.Unlock()
		modeState.providers = nil
		modeState.resolved = false
		modeState.mode = ""
	}
	reset()
	t.Cleanup(reset)
}

func newTestBuilder(t *testing.T, s *testutil.Schema, opts ...Option) *Builder {
	t.Helper()
	base := []Option{
		WithConsistencyMode(ModeSync),
		WithLogger(zaptest.NewLogger(t).Sugar()),
	}
	return NewBuilder(s.Reg, append(base, opts...)...)
}

// observedBuilder returns a builder whose log lines at or above level are
// captured.
func observedBuilder(t *testing.T, s *testutil.Schema, level zapcore.Level, opts ...Option) (*Builder, *observer.ObservedLogs) {
	t.Helper()
	log, logs := observedLogger(level)
	opts = append(opts, WithLogger(log))
	return newTestBuilder(t, s, opts...), logs
}

// observedLogger returns a logger recording entries at or above level.
func observedLogger(level zapcore.Level) (*zap.SugaredLogger, *observer.ObservedLogs) {
	core, logs := observer.New(level)
	return zap.New(core).Sugar(), logs
}

// moduleTree is a module with one content root holding two source roots.
type moduleTree struct {
	module, root, src1, src2 entity.EntityID
}

func addModule(t *testing.T, b *Builder, s *testutil.Schema, name string, src entity.Source) moduleTree {
	t.Helper()
	var mt moduleTree
	var err error
	mt.module, err = b.AddEntity(testutil.NewModule(name, src))
	require.NoError(t, err)
	mt.root, err = b.AddEntity(testutil.NewContentRoot("/"+name, src), ParentRef(s.ModuleContentRoots, mt.module))
	require.NoError(t, err)
	mt.src1, err = b.AddEntity(testutil.NewSourceRoot("/"+name+"/src", src), ParentRef(s.ContentRootSourceRoots, mt.root))
	require.NoError(t, err)
	mt.src2, err = b.AddEntity(testutil.NewSourceRoot("/"+name+"/test", src), ParentRef(s.ContentRootSourceRoots, mt.root))
	require.NoError(t, err)
	return mt
}

// changeKinds returns the primary kind of every logged change.
func changeKinds(b *Builder) map[entity.EntityID]changelog.Kind {
	out := map[entity.EntityID]changelog.Kind{}
	for id, ch := range b.Changes() {
		out[id] = ch.Primary.Kind
	}
	return out
}

func requireConsistent(t *testing.T, r Reader) {
	t.Helper()
	require.NoError(t, CheckConsistency(t.Context(), r))
}
