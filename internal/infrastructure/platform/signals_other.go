//go:build !unix

package platform

import (
	"os"

	"github.com/alem-hub/study-timer/internal/application/lifecycle"
)

func lifecycleSignals() map[os.Signal]lifecycle.Signal {
	return nil
}
