package nsaas

import (
	"time"

	"github.com/nsaaslink/go-nsaas/internal/constants"
)

// Config carries everything the spec leaves as implicit constants:
// the controller socket path, channel sizing requested at attach time,
// and the control-ring retry budget. Zero-value fields are filled in
// by DefaultConfig's values where Attach is called with a partially
// populated Config.
type Config struct {
	// ControllerPath is the well-known AF_UNIX socket the controller
	// listens on for register/attach requests.
	ControllerPath string

	// DescRingSize is the descriptor ring size requested at attach
	// time (NSAAS_CHANNEL_INFO_DESC_RING_SIZE_DEFAULT in the original).
	// Must be a power of two; the controller may clamp it.
	DescRingSize uint32

	// BufferCount is the buffer pool size requested at attach time.
	// Must be a power of two; the controller may clamp it.
	BufferCount uint32

	// MSS is the maximum payload bytes per buffer. This is informational
	// on the application side — the controller's segment sizing is
	// authoritative once attach returns.
	MSS uint32

	// ControlRetries bounds how many times a control-ring request
	// (connect/listen) polls ctrl-cq before giving up.
	ControlRetries int

	// ControlPollInterval is the sleep between control-ring polls.
	ControlPollInterval time.Duration

	// PreferHugePages is carried in Config but not read: Bind always
	// tries MAP_HUGETLB first and, if the kernel rejects it, falls back
	// to a normal shared mapping, whatever this field holds.
	PreferHugePages bool

	// Logger receives lifecycle and protocol-level log lines. Nil
	// disables logging.
	Logger Logger

	// Observer receives per-operation metrics. Nil installs NoOpObserver.
	Observer Observer
}

// DefaultConfig returns the reference values the original nsaas_attach
// requests when the caller doesn't override them.
func DefaultConfig() Config {
	return Config{
		ControllerPath:       constants.DefaultControllerPath,
		DescRingSize:         constants.DefaultDescRingSize,
		BufferCount:          constants.DefaultBufferCount,
		MSS:                  constants.DefaultMSS,
		ControlRetries:       constants.DefaultControlRetries,
		ControlPollInterval:  constants.DefaultControlPollInterval,
		PreferHugePages:      true,
	}
}

// withDefaults fills zero-valued fields of c from DefaultConfig,
// letting callers pass a partially populated Config to Attach.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ControllerPath == "" {
		c.ControllerPath = d.ControllerPath
	}
	if c.DescRingSize == 0 {
		c.DescRingSize = d.DescRingSize
	}
	if c.BufferCount == 0 {
		c.BufferCount = d.BufferCount
	}
	if c.MSS == 0 {
		c.MSS = d.MSS
	}
	if c.ControlRetries == 0 {
		c.ControlRetries = d.ControlRetries
	}
	if c.ControlPollInterval == 0 {
		c.ControlPollInterval = d.ControlPollInterval
	}
	if c.Observer == nil {
		c.Observer = NoOpObserver{}
	}
	return c
}
