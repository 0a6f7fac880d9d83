package connection

import (
	"log/slog"
	"sync"
)

var (
	defaultMu     sync.Mutex
	defaultCfg    = DefaultManagerConfig()
	defaultLogger *slog.Logger
	defaultMgr    *Manager
)

// InitDefault sets the configuration of the process-wide manager. It must run
// before the first Default call; afterwards it returns false and changes nothing.
func InitDefault(cfg ManagerConfig, logger *slog.Logger) bool {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	if defaultMgr != nil {
		return false
	}
	defaultCfg = cfg
	defaultLogger = logger
	return true
}

// Default returns the process-wide manager, creating it on first use.
func Default() *Manager {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	if defaultMgr == nil {
		defaultMgr = NewManager(defaultCfg, defaultLogger)
	}
	return defaultMgr
}
