package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/entitystore/am"
	"github.com/teranos/entitystore/storage/testutil"
)

type fixedMode ConsistencyMode

func (m fixedMode) ConsistencyMode() ConsistencyMode { return ConsistencyMode(m) }

func TestResolvedMode_DefaultsToSync(t *testing.T) {
	resetMode(t)
	assert.Equal(t, ModeSync, ResolvedMode())
}

func TestResolvedMode_StrictestProviderWins(t *testing.T) {
	resetMode(t)
	RegisterModeProvider(fixedMode(ModeDisabled))
	RegisterModeProvider(fixedMode(ModeAsync))
	assert.Equal(t, ModeAsync, ResolvedMode())

	RegisterModeProvider(fixedMode(ModeSync))
	assert.Equal(t, ModeAsync, ResolvedMode(), "providers registered late are ignored")
}

func TestResolvedMode_AllDisabled(t *testing.T) {
	resetMode(t)
	RegisterModeProvider(fixedMode(ModeDisabled))
	assert.Equal(t, ModeDisabled, ResolvedMode())
}

func TestConfigModeProvider(t *testing.T) {
	resetMode(t)
	cfg := am.Default()
	assert.Equal(t, ModeSync, ConfigModeProvider{Config: cfg}.ConsistencyMode())
	assert.Equal(t, ModeSync, ConfigModeProvider{}.ConsistencyMode())

	cfg.Storage.ConsistencyMode = am.ConsistencyAsync
	RegisterModeProvider(ConfigModeProvider{Config: cfg})
	assert.Equal(t, ModeAsync, ResolvedMode())
}

func TestBuilderMode(t *testing.T) {
	resetMode(t)
	RegisterModeProvider(fixedMode(ModeDisabled))
	s := testutil.NewSchema()
	log := zaptest.NewLogger(t).Sugar()

	assert.Equal(t, ModeDisabled, NewBuilder(s.Reg, WithLogger(log)).mode())
	assert.Equal(t, ModeAsync, NewBuilder(s.Reg, WithLogger(log), WithConsistencyMode(ModeAsync)).mode())
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := am.Default()
	cfg.Storage.Strict = true
	cfg.Storage.CaptureWriterStacks = true
	cfg.Storage.ReplaceBySource.Engine = am.EngineTree
	cfg.Storage.Reports.PerMinute = 12
	cfg.Storage.Reports.Burst = 3
	cfg.Storage.Reports.MaxAttachmentEntities = 50

	o := buildOptions(OptionsFromConfig(cfg))
	assert.True(t, o.Strict)
	assert.True(t, o.CaptureWriterStacks)
	assert.Equal(t, EngineTree, o.Engine)
	assert.Equal(t, 12.0, o.ReportsPerMinute)
	assert.Equal(t, 3, o.ReportBurst)
	assert.Equal(t, 50, o.MaxAttachmentEntities)
	assert.Empty(t, o.Mode, "the mode is resolved process-wide")
}

func TestBuildOptions_Defaults(t *testing.T) {
	o := buildOptions([]Option{WithEngine("")})
	assert.Equal(t, EngineGraph, o.Engine)
	assert.Equal(t, 500, o.MaxAttachmentEntities)
}

func TestReportLimiter_SharedPerSettings(t *testing.T) {
	assert.Same(t, reportLimiter(6, 2), reportLimiter(6, 2))
	assert.NotSame(t, reportLimiter(6, 2), reportLimiter(60, 2))
	assert.False(t, reportLimiter(0, 0).Allow())
}
