//go:build unix

package platform

import (
	"os"
	"syscall"

	"github.com/alem-hub/study-timer/internal/application/lifecycle"
)

func lifecycleSignals() map[os.Signal]lifecycle.Signal {
	return map[os.Signal]lifecycle.Signal{
		syscall.SIGUSR1: lifecycle.SignalBackground,
		syscall.SIGUSR2: lifecycle.SignalForeground,
	}
}
