package smarterid

import (
	"time"
)

// Configuration constants for smarterid operations
const (
	// Lock retry configuration
	DefaultMaxRetries      = 3
	DefaultInitialBackoff  = 100 * time.Millisecond
	DefaultBackoffMultiple = 2
	DefaultJitterPercent   = 0.5 // 50% jitter to avoid thundering herd

	// Generator state configuration
	DefaultStateKey          = "smarterid/state.json"
	DefaultStateSaveInterval = 10 * time.Second
	DefaultLockTTL           = 5 * time.Second

	// Redis circuit breaker configuration
	DefaultBreakerFailures = 5
	DefaultBreakerReset    = 30 * time.Second

	// File backend configuration
	DefaultFilePermissions = 0644
	DefaultDirPermissions  = 0755
)

// Node modes accepted by GeneratorConfig.NodeMode.
const (
	NodeModeHardware = "hardware" // first MAC address, random fallback
	NodeModeRandom   = "random"   // random node with the multicast bit set
	NodeModeStatic   = "static"   // GeneratorConfig.StaticNode
)

// RetryConfig holds configuration for retry operations with exponential backoff
type RetryConfig struct {
	MaxRetries      int
	InitialBackoff  time.Duration
	BackoffMultiple int
	JitterPercent   float64
}

// DefaultRetryConfig returns the default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      DefaultMaxRetries,
		InitialBackoff:  DefaultInitialBackoff,
		BackoffMultiple: DefaultBackoffMultiple,
		JitterPercent:   DefaultJitterPercent,
	}
}

// Validate checks if the RetryConfig is valid
func (c RetryConfig) Validate() error {
	if c.MaxRetries < 0 {
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "MaxRetries",
			"value":  c.MaxRetries,
			"reason": "must be non-negative",
		})
	}
	if c.InitialBackoff <= 0 {
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "InitialBackoff",
			"value":  c.InitialBackoff,
			"reason": "must be positive",
		})
	}
	if c.BackoffMultiple < 1 {
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "BackoffMultiple",
			"value":  c.BackoffMultiple,
			"reason": "must be >= 1",
		})
	}
	if c.JitterPercent < 0 || c.JitterPercent > 1 {
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "JitterPercent",
			"value":  c.JitterPercent,
			"reason": "must be between 0 and 1",
		})
	}
	return nil
}

// backoff returns the wait before retry attempt i (0-based).
func (c RetryConfig) backoff(i int) time.Duration {
	d := c.InitialBackoff
	for ; i > 0; i-- {
		d *= time.Duration(c.BackoffMultiple)
	}
	return d + time.Duration(float64(d)*c.JitterPercent)
}

// GeneratorConfig configures how a Generator sources its node id and
// persists version 1 state.
type GeneratorConfig struct {
	NodeMode   string // hardware, random or static
	StaticNode string // MAC-style node id, required for static mode
	Interface  string // optional interface name for hardware mode

	StateKey          string        // key of the state object on the backend
	StateSaveInterval time.Duration // 0 saves after every version 1 UUID
	LockTTL           time.Duration // TTL of the distributed state lock
}

// DefaultGeneratorConfig returns the default generator configuration
func DefaultGeneratorConfig() GeneratorConfig {
	return GeneratorConfig{
		NodeMode:          NodeModeHardware,
		StateKey:          DefaultStateKey,
		StateSaveInterval: DefaultStateSaveInterval,
		LockTTL:           DefaultLockTTL,
	}
}

// Validate checks if the GeneratorConfig is valid
func (c GeneratorConfig) Validate() error {
	switch c.NodeMode {
	case NodeModeHardware, NodeModeRandom:
	case NodeModeStatic:
		if _, err := ParseNode(c.StaticNode); err != nil {
			return WithContext(ErrInvalidConfig, map[string]interface{}{
				"field":  "StaticNode",
				"value":  c.StaticNode,
				"reason": "must be a 48-bit MAC address",
			})
		}
	default:
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "NodeMode",
			"value":  c.NodeMode,
			"reason": "must be hardware, random or static",
		})
	}
	if c.StateKey == "" {
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "StateKey",
			"reason": "state key is required",
		})
	}
	if c.StateSaveInterval < 0 {
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "StateSaveInterval",
			"value":  c.StateSaveInterval,
			"reason": "must be non-negative",
		})
	}
	if c.LockTTL <= 0 {
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "LockTTL",
			"value":  c.LockTTL,
			"reason": "must be positive",
		})
	}
	return nil
}

// NodeSource builds the node source described by the configuration.
func (c GeneratorConfig) NodeSource() (NodeSource, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	switch c.NodeMode {
	case NodeModeStatic:
		n, err := ParseNode(c.StaticNode)
		if err != nil {
			return nil, err
		}
		return StaticNode(n), nil
	case NodeModeRandom:
		return RandomNode{}, nil
	default:
		return HardwareNode{Interface: c.Interface, Fallback: RandomNode{}}, nil
	}
}
