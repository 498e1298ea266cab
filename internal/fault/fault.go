// Package fault implements the one abort path every Fatal-class
// condition in the datapath shares: log (if a logger is configured),
// then panic. Shared-memory corruption — a buffer magic that no
// longer matches, a byte count that disagrees with its own header —
// means the segment cannot be trusted, and per spec the only safe
// response is to stop the process rather than keep operating on it,
// the same way the original's datapath calls abort(3) in place.
package fault

import (
	"fmt"

	"github.com/nsaaslink/go-nsaas/internal/interfaces"
)

// Abort logs op/msg as a fatal error, then panics. It is the single
// choke point internal packages use for unrecoverable corruption so
// the root package's unexported abortOnCorruption can share it without
// an import cycle (root imports these internal packages, not the
// other way around).
func Abort(logger interfaces.Logger, op, msg string) {
	if logger != nil {
		logger.Errorf("nsaas: fatal corruption detected in %s: %s", op, msg)
	}
	panic(fmt.Sprintf("nsaas: fatal corruption in %s: %s", op, msg))
}
