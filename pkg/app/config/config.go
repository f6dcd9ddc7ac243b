package config

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/womat/debug"
	"gopkg.in/yaml.v2"

	"ws28xx/pkg/datastore"
	"ws28xx/pkg/session"
	"ws28xx/pkg/station"
)

// Config defines the struct of global config and the struct of the configuration file.
// Durations are given as integers in the file and converted by LoadConfig.
type Config struct {
	Flag      FlagConfig      `yaml:"-"`
	StateFile string          `yaml:"statefile"`
	USB       USBConfig       `yaml:"usb"`
	Radio     RadioConfig     `yaml:"radio"`
	Station   StationConfig   `yaml:"station"`
	Gpio      GpioConfig      `yaml:"gpio"`
	Debug     DebugConfig     `yaml:"debug"`
	Webserver WebserverConfig `yaml:"webserver"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
}

// FlagConfig defines the configured flags (parameters)
type FlagConfig struct {
	Debug      string
	ConfigFile string
}

// USBConfig defines the usb host configuration.
type USBConfig struct {
	TimeoutInt int           `yaml:"timeout"`
	Timeout    time.Duration `yaml:"-"`
	// RetryInt is the first back-off in seconds after the transceiver failed, it doubles up to RetryMaxInt.
	RetryInt    int           `yaml:"retry"`
	Retry       time.Duration `yaml:"-"`
	RetryMaxInt int           `yaml:"retrymax"`
	RetryMax    time.Duration `yaml:"-"`
}

// RadioConfig defines the radio session configuration.
type RadioConfig struct {
	Band              string          `yaml:"band"`
	IntervalInt       int             `yaml:"interval"`
	PreambleInt       int             `yaml:"preamble"`
	PairingInt        int             `yaml:"pairing"`
	BufferCheckGapInt int             `yaml:"buffercheckgap"`
	TimeZone          string          `yaml:"timezone"`
	Location          *time.Location  `yaml:"-"`
	Session           session.Options `yaml:"-"`
}

// StationConfig defines the request and polling configuration.
type StationConfig struct {
	PollInt      int    `yaml:"poll"`
	TimeoutInt   int    `yaml:"timeout"`
	TTL          int    `yaml:"ttl"`
	PairingTTL   int    `yaml:"pairingttl"`
	MaxHistory   int    `yaml:"maxhistory"`
	CommInterval uint16 `yaml:"comminterval"`

	Requests datastore.Options `yaml:"-"`
	Poll     station.Options   `yaml:"-"`
}

// GpioConfig defines the pairing button. A negative line disables the button.
type GpioConfig struct {
	Chip          string        `yaml:"chip"`
	Line          int           `yaml:"line"`
	Terminator    string        `yaml:"terminator"`
	BounceTimeInt int           `yaml:"bouncetime"`
	BounceTime    time.Duration `yaml:"-"`
}

// WebserverConfig defines the struct of the webserver and webservice configuration and configuration file
type WebserverConfig struct {
	URL         string          `yaml:"url"`
	Webservices map[string]bool `yaml:"webservices"`
}

// MQTTConfig defines the struct of the mqtt client configuration and configuration file
type MQTTConfig struct {
	Connection string `yaml:"connection"`
	ClientID   string `yaml:"clientid"`
	Topic      string `yaml:"topic"`
}

// DebugConfig defines the struct of the debug configuration and configuration file
type DebugConfig struct {
	File       io.WriteCloser `yaml:"-"`
	Flag       int            `yaml:"-"`
	FlagString string         `yaml:"flag"`
	FileString string         `yaml:"file"`
}

func NewConfig() *Config {
	return &Config{
		Flag:      FlagConfig{},
		StateFile: "/opt/womat/data/ws28xx.db",
		USB: USBConfig{
			TimeoutInt:  1000,
			RetryInt:    5,
			RetryMaxInt: 300,
		},
		Radio: RadioConfig{
			Band:              string(session.BandEU),
			IntervalInt:       100,
			PreambleInt:       5,
			PairingInt:        90,
			BufferCheckGapInt: 600,
			TimeZone:          "Local",
		},
		Station: StationConfig{
			PollInt:      30,
			TimeoutInt:   60,
			TTL:          600,
			PairingTTL:   3000,
			MaxHistory:   20,
			CommInterval: 3,
		},
		Gpio: GpioConfig{
			Chip:          "gpiochip0",
			Line:          -1,
			Terminator:    "pullup",
			BounceTimeInt: 50,
		},
		Debug: DebugConfig{
			FileString: "stderr",
			FlagString: "standard",
		},
		Webserver: WebserverConfig{
			URL: "http://0.0.0.0:4000",
			Webservices: map[string]bool{
				"version": true,
				"health":  true,
				"data":    true,
				"pair":    true,
				"time":    true,
			},
		},
		MQTT: MQTTConfig{
			Connection: "",
			ClientID:   "ws28xx",
			Topic:      "weather/ws28xx",
		},
	}
}

func (c *Config) LoadConfig() error {
	if err := c.readConfigFile(); err != nil {
		return fmt.Errorf("error reading config file %q: %w", c.Flag.ConfigFile, err)
	}

	if c.Flag.Debug != "" {
		c.Debug.FlagString = c.Flag.Debug
	}
	if err := c.setDebugConfig(); err != nil {
		return fmt.Errorf("unable to open debug file %q: %w", c.Debug.FileString, err)
	}

	return c.Apply()
}

func (c *Config) readConfigFile() error {
	file, err := os.Open(c.Flag.ConfigFile)
	if err != nil {
		return err
	}
	defer func() { _ = file.Close() }()

	decoder := yaml.NewDecoder(file)
	if err = decoder.Decode(c); err != nil {
		return err
	}

	return nil
}

// Apply converts the integer settings and fills the component options.
func (c *Config) Apply() error {
	band := session.Band(c.Radio.Band)
	if _, err := band.Hz(); err != nil {
		return err
	}

	loc, err := time.LoadLocation(c.Radio.TimeZone)
	if err != nil {
		return fmt.Errorf("time zone %q: %w", c.Radio.TimeZone, err)
	}
	c.Radio.Location = loc

	c.USB.Timeout = time.Duration(c.USB.TimeoutInt) * time.Millisecond
	c.USB.Retry = time.Duration(c.USB.RetryInt) * time.Second
	c.USB.RetryMax = time.Duration(c.USB.RetryMaxInt) * time.Second
	if c.USB.RetryMax < c.USB.Retry {
		c.USB.RetryMax = c.USB.Retry
	}
	c.Gpio.BounceTime = time.Duration(c.Gpio.BounceTimeInt) * time.Millisecond

	c.Radio.Session = session.Options{
		Band:           band,
		Interval:       time.Duration(c.Radio.IntervalInt) * time.Millisecond,
		Preamble:       time.Duration(c.Radio.PreambleInt) * time.Second,
		PairingTimeout: time.Duration(c.Radio.PairingInt) * time.Second,
		BufferCheckGap: time.Duration(c.Radio.BufferCheckGapInt) * time.Second,
		Location:       loc,
	}

	timeout := time.Duration(c.Station.TimeoutInt) * time.Second
	c.Station.Requests = datastore.Options{
		RequestTTL:       c.Station.TTL,
		PairingTTL:       c.Station.PairingTTL,
		Timeout:          timeout,
		CommModeInterval: c.Station.CommInterval,
	}
	c.Station.Poll = station.Options{
		PollInterval:   time.Duration(c.Station.PollInt) * time.Second,
		RequestTimeout: timeout,
		MaxHistory:     c.Station.MaxHistory,
	}
	return nil
}

func (c *Config) setDebugConfig() (err error) {
	// defines Debug section of global.Config
	switch c.Debug.FlagString {
	case "trace", "full":
		c.Debug.Flag = debug.Full
	case "debug":
		c.Debug.Flag = debug.Warning | debug.Info | debug.Error | debug.Fatal | debug.Debug
	case "standard":
		c.Debug.Flag = debug.Standard
	}

	switch c.Debug.FileString {
	case "stderr":
		c.Debug.File = os.Stderr
	case "stdout":
		c.Debug.File = os.Stdout
	default:
		if c.Debug.File, err = os.OpenFile(c.Debug.FileString, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o666); err != nil {
			return
		}
	}

	return
}
