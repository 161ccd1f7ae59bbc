//go:build !unix

package daemon

import (
	"fmt"
	"os"
)

const detachEnv = "PIDGIN_DAEMON_CHILD"

// InChild reports whether this process is the detached child.
func InChild() bool {
	return os.Getenv(detachEnv) == "1"
}

// Detach is unsupported on platforms without sessions; run in the
// foreground instead.
func Detach(string) (int, error) {
	return 0, fmt.Errorf("daemon mode is not supported on this platform")
}
