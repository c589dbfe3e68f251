// internal/config/normalize.go
package config

const (
	DefaultTransport               = "tcp"
	DefaultTimeoutMs               = 500
	DefaultMinPeriodMs             = 1000
	DefaultMinControllerIntervalMs = 100
	DefaultMaxRetries              = 3
	DefaultRetryDelayMs            = 100
	DefaultReconnectDelayMs        = 5000
	DefaultQueueSize               = 32
	DefaultTopicPrefix             = "pasd"
	DefaultClientID                = "pasdbus"
	DefaultLogLevel                = "info"
	DefaultLogFormat               = "console"
)

// Normalize fills defaults for every unset field.
// It is allowed to mutate configuration.
// It MUST be called only after Validate().
func Normalize(cfg *Config) {
	if cfg == nil {
		return
	}

	// ------------------------------------------------------------
	// BUS
	// ------------------------------------------------------------

	if cfg.Bus.Transport == "" {
		cfg.Bus.Transport = DefaultTransport
	}
	if cfg.Bus.TimeoutMs == 0 {
		cfg.Bus.TimeoutMs = DefaultTimeoutMs
	}

	// ------------------------------------------------------------
	// POLL + QUEUE
	// ------------------------------------------------------------

	p := &cfg.Poll
	if p.MinPeriodMs == 0 {
		p.MinPeriodMs = DefaultMinPeriodMs
	}
	p.MinControllerIntervalMs = orDefault(p.MinControllerIntervalMs, DefaultMinControllerIntervalMs)
	if p.MaxRetries == 0 {
		p.MaxRetries = DefaultMaxRetries
	}
	p.RetryDelayMs = orDefault(p.RetryDelayMs, DefaultRetryDelayMs)
	p.ReconnectDelayMs = orDefault(p.ReconnectDelayMs, DefaultReconnectDelayMs)
	if cfg.Queue.Size == 0 {
		cfg.Queue.Size = DefaultQueueSize
	}

	// ------------------------------------------------------------
	// BRIDGES
	// ------------------------------------------------------------

	if cfg.MQTT.Broker != "" {
		if cfg.MQTT.TopicPrefix == "" {
			cfg.MQTT.TopicPrefix = DefaultTopicPrefix
		}
		if cfg.MQTT.ClientID == "" {
			cfg.MQTT.ClientID = DefaultClientID
		}
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = DefaultLogFormat
	}
}

func orDefault(v *int, def int) *int {
	if v != nil {
		return v
	}
	return &def
}

// Ms returns the value of an optional millisecond setting, 0 when unset.
func Ms(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}
