package storage

import (
	"sync"

	"github.com/teranos/entitystore/am"
	"github.com/teranos/entitystore/logger"
)

// ModeProvider contributes to the process-wide consistency mode.
type ModeProvider interface {
	ConsistencyMode() ConsistencyMode
}

// ConfigModeProvider reads the mode from the storage configuration.
type ConfigModeProvider struct {
	Config *am.Config
}

// ConsistencyMode implements ModeProvider.
func (p ConfigModeProvider) ConsistencyMode() ConsistencyMode {
	if p.Config == nil {
		return ModeSync
	}
	return ConsistencyMode(p.Config.Storage.ConsistencyMode)
}

var modeState struct {
	mu        sync.Mutex
	providers []ModeProvider
	resolved  bool
	mode      ConsistencyMode
}

// RegisterModeProvider adds p to the providers consulted on first use.
// Providers registered after the mode was resolved are ignored with a
// warning.
func RegisterModeProvider(p ModeProvider) {
	modeState.mu.Lock()
	defer modeState.mu.Unlock()
	if modeState.resolved {
		logger.Warnw("Consistency mode already resolved, ignoring provider",
			logger.FieldMode, string(modeState.mode))
		return
	}
	modeState.providers = append(modeState.providers, p)
}

// ResolvedMode returns the process-wide consistency mode. It is computed once
// from the registered providers; the strictest wins. Without providers the
// mode is sync.
func ResolvedMode() ConsistencyMode {
	modeState.mu.Lock()
	defer modeState.mu.Unlock()
	if modeState.resolved {
		return modeState.mode
	}
	mode := ModeSync
	if len(modeState.providers) > 0 {
		mode = ModeDisabled
		for _, p := range modeState.providers {
			if m := p.ConsistencyMode(); m.strictness() > mode.strictness() {
				mode = m
			}
		}
	}
	modeState.mode = mode
	modeState.resolved = true
	logger.Debugw("Consistency mode resolved", logger.FieldMode, string(mode))
	return mode
}
