// Package verbose traces raw protocol lines when wire tracing is enabled.
package verbose

import (
	"fmt"
	"sync/atomic"

	"github.com/dougsko/js8emu/pkg/logging"
)

// MaxLogBytes is the longest payload prefix written to the trace
const MaxLogBytes = 200

var enabled atomic.Bool

// SetEnabled sets the global wire tracing flag
func SetEnabled(enable bool) {
	enabled.Store(enable)
}

// IsEnabled returns whether wire tracing is enabled
func IsEnabled() bool {
	return enabled.Load()
}

// Inbound traces a line received from the client of iface
func Inbound(iface string, line []byte) {
	if enabled.Load() {
		logging.Debug("wire", fmt.Sprintf("RX <- %-12s %s", iface, Truncate(line)))
	}
}

// Outbound traces a payload written to the client of iface
func Outbound(iface string, payload []byte) {
	if enabled.Load() {
		logging.Debug("wire", fmt.Sprintf("TX -> %-12s %s", iface, Truncate(payload)))
	}
}

// Truncate quotes p, cut to MaxLogBytes with a trailing "..." when longer
func Truncate(p []byte) string {
	if len(p) > MaxLogBytes {
		return fmt.Sprintf("%q...", p[:MaxLogBytes])
	}
	return fmt.Sprintf("%q", p)
}
