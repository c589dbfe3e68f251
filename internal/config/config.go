// internal/config/config.go
package config

type Config struct {
	Bus             BusConfig          `yaml:"bus"`
	Poll            PollConfig         `yaml:"poll"`
	Queue           QueueConfig        `yaml:"queue"`
	RegisterMap     string             `yaml:"register_map"` // empty: embedded map
	Controllers     []ControllerConfig `yaml:"controllers"`
	Attached        []string           `yaml:"attached"` // absent: every controller
	FollowPortPower string             `yaml:"follow_port_power"`
	Filters         []FilterConfig     `yaml:"filters"`
	MQTT            MQTTConfig         `yaml:"mqtt"`
	Metrics         MetricsConfig      `yaml:"metrics"`
	Log             LogConfig          `yaml:"log"`
}

// ---- BUS ----

type BusConfig struct {
	Transport string `yaml:"transport"` // tcp | rtu | ascii
	Endpoint  string `yaml:"endpoint"`
	TimeoutMs int    `yaml:"timeout_ms"`

	// serial framings only
	BaudRate int    `yaml:"baud_rate"`
	DataBits int    `yaml:"data_bits"`
	StopBits int    `yaml:"stop_bits"`
	Parity   string `yaml:"parity"`

	Debug bool `yaml:"debug"` // frame dumps to the log
}

// ---- POLL ----

// Delays where 0 is a valid setting are pointers; nil takes the default.
type PollConfig struct {
	MinPeriodMs             int  `yaml:"min_period_ms"`
	MinControllerIntervalMs *int `yaml:"min_controller_interval_ms"`
	MaxRetries              int  `yaml:"max_retries"`
	RetryDelayMs            *int `yaml:"retry_delay_ms"`
	ReconnectDelayMs        *int `yaml:"reconnect_delay_ms"`
	RereadStaticOnReconnect bool `yaml:"reread_static_on_reconnect"`
}

// ---- QUEUE ----

type QueueConfig struct {
	Size     int  `yaml:"size"`
	FailFast bool `yaml:"fail_fast"`
}

// ---- CONTROLLERS ----

type ControllerConfig struct {
	ID       string `yaml:"id"`
	Kind     string `yaml:"kind"` // fndh | smartbox | fncc
	Station  uint8  `yaml:"station"`
	Port     int    `yaml:"port"`     // hub port feeding this controller
	Revision int    `yaml:"revision"` // 0: detect
}

// ---- FILTERS ----

// FilterConfig is a low-pass filter constant written once at start-up.
type FilterConfig struct {
	Controller string `yaml:"controller"`
	Register   string `yaml:"register"`
	Value      int    `yaml:"value"`
}

// ---- MQTT ----

type MQTTConfig struct {
	Broker      string `yaml:"broker"` // empty: bridge disabled
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	QoS         byte   `yaml:"qos"`
}

// ---- METRICS ----

type MetricsConfig struct {
	Listen string `yaml:"listen"` // empty: no endpoint
}

// ---- LOG ----

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // console | json
}
