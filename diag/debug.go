package diag

import (
	"log"
	"strings"
	"sync"
)

// Debug flags used across the kernel.
const (
	FlagAll       = '+'
	FlagThread    = 't'
	FlagAddrSpace = 'a'
	FlagInterrupt = 'i'
	FlagMachine   = 'm'
)

var (
	debugMux   sync.RWMutex
	debugFlags string
)

// DebugInit sets the enabled debug flags. "+" enables every flag, an empty
// string disables debug output.
func DebugInit(flags string) {
	debugMux.Lock()
	debugFlags = flags
	debugMux.Unlock()
}

// IsEnabled reports whether debug output for flag is on.
func IsEnabled(flag byte) bool {
	debugMux.RLock()
	defer debugMux.RUnlock()
	if debugFlags == "" {
		return false
	}
	return strings.IndexByte(debugFlags, flag) != -1 || strings.IndexByte(debugFlags, FlagAll) != -1
}

// Debugf logs when flag is enabled.
func Debugf(flag byte, format string, args ...interface{}) {
	if !IsEnabled(flag) {
		return
	}
	log.Printf(format, args...)
}
