package dash_config

import (
	"time"

	"github.com/hashicorp/hcl"
	"github.com/juju/errors"
	"github.com/temoto/ets2dash/helpers"
	"github.com/temoto/ets2dash/log2"
)

const (
	DefaultHost             = "localhost"
	DefaultPort             = 21212
	DefaultLogLevel         = "info"
	DefaultMqttTopic        = "ets2/truck/speed"
	DefaultMqttClientID     = "ets2dash"
	DefaultMqttTimeoutMs    = 5000
	DefaultEmulatorListen   = ":21212"
	DefaultEmulatorInterval = 500 // plugin sends at most every 500ms
)

type Config struct {
	Host          string `hcl:"host"`
	Port          int    `hcl:"port"`
	ReadTimeoutMs int    `hcl:"read_timeout_ms"`
	LogLevel      string `hcl:"log_level"`

	Mqtt struct {
		Enable           bool   `hcl:"enable"`
		BrokerURL        string `hcl:"broker_url"`
		ClientID         string `hcl:"client_id"`
		Topic            string `hcl:"topic"`
		Qos              int    `hcl:"qos"`
		Retained         bool   `hcl:"retained"`
		NetworkTimeoutMs int    `hcl:"network_timeout_ms"`
	} `hcl:"mqtt"`

	Emulator struct {
		Listen     string `hcl:"listen"`
		IntervalMs int    `hcl:"interval_ms"`
	} `hcl:"emulator"`
}

func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

func (c *Config) ReadTimeout() time.Duration {
	return time.Duration(c.ReadTimeoutMs) * time.Millisecond
}
func (c *Config) MqttTimeout() time.Duration {
	return time.Duration(c.Mqtt.NetworkTimeoutMs) * time.Millisecond
}
func (c *Config) EmulatorInterval() time.Duration {
	return time.Duration(c.Emulator.IntervalMs) * time.Millisecond
}

func (c *Config) Validate() error {
	errs := make([]error, 0, 4)
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, errors.NotValidf("port=%d", c.Port))
	}
	if c.ReadTimeoutMs < 0 {
		errs = append(errs, errors.NotValidf("read_timeout_ms=%d", c.ReadTimeoutMs))
	}
	if _, err := log2.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if c.Mqtt.Enable {
		if c.Mqtt.BrokerURL == "" {
			errs = append(errs, errors.NotValidf("mqtt enabled with empty broker_url"))
		}
		if c.Mqtt.Qos < 0 || c.Mqtt.Qos > 2 {
			errs = append(errs, errors.NotValidf("mqtt qos=%d", c.Mqtt.Qos))
		}
	}
	if c.Emulator.IntervalMs < 0 {
		errs = append(errs, errors.NotValidf("emulator interval_ms=%d", c.Emulator.IntervalMs))
	}
	return helpers.FoldErrors(errs)
}

func (c *Config) applyDefaults() {
	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.Mqtt.ClientID == "" {
		c.Mqtt.ClientID = DefaultMqttClientID
	}
	if c.Mqtt.Topic == "" {
		c.Mqtt.Topic = DefaultMqttTopic
	}
	if c.Mqtt.NetworkTimeoutMs == 0 {
		c.Mqtt.NetworkTimeoutMs = DefaultMqttTimeoutMs
	}
	if c.Emulator.Listen == "" {
		c.Emulator.Listen = DefaultEmulatorListen
	}
	if c.Emulator.IntervalMs == 0 {
		c.Emulator.IntervalMs = DefaultEmulatorInterval
	}
}

// Parse reads HCL source, applies defaults and validates.
func Parse(source string, b []byte) (*Config, error) {
	c := &Config{}
	if err := hcl.Unmarshal(b, c); err != nil {
		return nil, errors.Annotatef(err, "config unmarshal source=%s", source)
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, errors.Annotatef(err, "config source=%s", source)
	}
	return c, nil
}

// ReadConfig with empty name returns defaults.
func ReadConfig(log *log2.Log, fs FullReader, name string) (*Config, error) {
	if name == "" {
		log.Debugf("config: no file, using defaults")
		return Default(), nil
	}
	norm := fs.Normalize(name)
	log.Debugf("config reading source='%s' path=%s", name, norm)
	b, err := fs.ReadAll(norm)
	if err != nil {
		return nil, errors.Annotatef(err, "config source=%s", name)
	}
	if b == nil {
		return nil, errors.NotFoundf("config source=%s path=%s", name, norm)
	}
	return Parse(name, b)
}

func MustReadConfig(log *log2.Log, fs FullReader, name string) *Config {
	c, err := ReadConfig(log, fs, name)
	if err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
	return c
}
