package nsaas

import "github.com/nsaaslink/go-nsaas/internal/constants"

// Re-exported wire and sizing constants, kept at the root so callers never
// need to import internal/constants directly.
const (
	MsgMaxLen             = constants.MsgMaxLen
	DefaultDescRingSize   = constants.DefaultDescRingSize
	DefaultBufferCount    = constants.DefaultBufferCount
	DefaultMSS            = constants.DefaultMSS
	DefaultControllerPath = constants.DefaultControllerPath
	DefaultControlRetries = constants.DefaultControlRetries
	ReleaseBatchSize      = constants.ReleaseBatchSize
)
