package action

import (
	"strings"
	"sync"
)

type FeatureFlags interface {
	Enabled(flag string) bool
}

type StaticFlags struct {
	mu      sync.RWMutex
	enabled map[string]bool
}

func NewStaticFlags(flags ...string) *StaticFlags {
	f := &StaticFlags{enabled: make(map[string]bool)}
	for _, flag := range flags {
		flag = strings.TrimSpace(flag)
		if flag != "" {
			f.enabled[flag] = true
		}
	}
	return f
}

func (f *StaticFlags) Enabled(flag string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.enabled[flag]
}

func (f *StaticFlags) Set(flag string, on bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if on {
		f.enabled[flag] = true
	} else {
		delete(f.enabled, flag)
	}
}
