// Package config loads podiumd settings.
//
// Sources are layered: built-in defaults, then an optional TOML file, then
// PODIUM_* environment variables. Command-line flags are applied last by the
// binary.
package config

import (
	"fmt"
	"os"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"github.com/google/uuid"

	"github.com/vinayprograms/podium/bus"
	"github.com/vinayprograms/podium/failover"
)

// EnvPrefix prefixes every environment variable.
const EnvPrefix = "PODIUM_"

// Config is the full daemon configuration.
type Config struct {
	Broker    BrokerConfig    `toml:"broker" envPrefix:"BROKER_"`
	Device    DeviceConfig    `toml:"device" envPrefix:"DEVICE_"`
	API       APIConfig       `toml:"api" envPrefix:"API_"`
	Failover  FailoverConfig  `toml:"failover"`
	Session   SessionConfig   `toml:"session" envPrefix:"SESSION_"`
	Health    HealthConfig    `toml:"health" envPrefix:"HEALTH_"`
	Auth      AuthConfig      `toml:"auth" envPrefix:"AUTH_"`
	Deck      DeckConfig      `toml:"deck" envPrefix:"DECK_"`
	Journal   JournalConfig   `toml:"journal" envPrefix:"JOURNAL_"`
	Telemetry TelemetryConfig `toml:"telemetry" envPrefix:"OTEL_"`

	LogLevel string `toml:"log_level" env:"LOG_LEVEL"`
}

// BrokerConfig locates the publish/subscribe transport.
type BrokerConfig struct {
	Kind           string        `toml:"kind" env:"KIND"`
	Host           string        `toml:"host" env:"HOST"`
	Port           int           `toml:"port" env:"PORT"`
	Username       string        `toml:"username" env:"USERNAME"`
	Password       string        `toml:"password" env:"PASSWORD"`
	TopicPrefix    string        `toml:"topic_prefix" env:"TOPIC_PREFIX"`
	ConnectTimeout time.Duration `toml:"connect_timeout" env:"CONNECT_TIMEOUT"`
}

// DeviceConfig identifies this device.
type DeviceConfig struct {
	Role string `toml:"role" env:"ROLE"`
	// ID defaults to "<role>-<uuid>".
	ID string `toml:"id" env:"ID"`
}

// APIConfig configures the client server.
type APIConfig struct {
	Host string `toml:"host" env:"HOST"`
	Port int    `toml:"port" env:"PORT"`

	// ClientQueue is the per-client outbound queue depth.
	ClientQueue int `toml:"client_queue" env:"CLIENT_QUEUE"`

	// CommandRate is commands per second per client; 0 disables limiting.
	CommandRate  float64 `toml:"command_rate" env:"COMMAND_RATE"`
	CommandBurst int     `toml:"command_burst" env:"COMMAND_BURST"`
}

// FailoverConfig holds the liveness timing.
type FailoverConfig struct {
	BackupCheckInterval time.Duration `toml:"backup_check_interval" env:"BACKUP_CHECK_INTERVAL"`
	HealthCheckInterval time.Duration `toml:"health_check_interval" env:"HEALTH_CHECK_INTERVAL"`
	Timeout             time.Duration `toml:"failover_timeout" env:"FAILOVER_TIMEOUT"`

	// SnapshotEvery forces a snapshot into every Nth active heartbeat.
	SnapshotEvery int `toml:"snapshot_every" env:"SNAPSHOT_EVERY"`
}

// SessionConfig seeds the initial session.
type SessionConfig struct {
	TotalSlides  int `toml:"total_slides" env:"TOTAL_SLIDES"`
	TimerSeconds int `toml:"timer_seconds" env:"TIMER_SECONDS"`
}

// HealthConfig configures the health sampler.
type HealthConfig struct {
	DiskPath string `toml:"disk_path" env:"DISK_PATH"`
	// NetworkAddr defaults to the broker address.
	NetworkAddr string `toml:"network_addr" env:"NETWORK_ADDR"`
}

// AuthConfig selects the authorizer.
type AuthConfig struct {
	Mode   string `toml:"mode" env:"MODE"`
	Secret string `toml:"secret" env:"SECRET"`
	Issuer string `toml:"issuer" env:"ISSUER"`
}

// DeckConfig selects the slide-deck actuator.
type DeckConfig struct {
	Kind    string        `toml:"kind" env:"KIND"`
	Program string        `toml:"program" env:"PROGRAM"`
	Args    []string      `toml:"args" env:"ARGS" envSeparator:","`
	Timeout time.Duration `toml:"timeout" env:"TIMEOUT"`
	Queue   int           `toml:"queue" env:"QUEUE"`
}

// JournalConfig selects the journal backend. An empty Path keeps it in
// memory.
type JournalConfig struct {
	Path string `toml:"path" env:"PATH"`
}

// TelemetryConfig enables OTLP trace export when Endpoint is set.
type TelemetryConfig struct {
	Endpoint string `toml:"endpoint" env:"ENDPOINT"`
	Protocol string `toml:"protocol" env:"PROTOCOL"`
	Debug    bool   `toml:"debug" env:"DEBUG"`
}

// Auth modes.
const (
	AuthOpen = "open"
	AuthJWT  = "jwt"
)

// Deck kinds.
const (
	DeckLog  = "log"
	DeckExec = "exec"
)

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Broker: BrokerConfig{
			Kind:           bus.KindMQTT,
			Host:           "localhost",
			Port:           1883,
			TopicPrefix:    bus.DefaultPrefix,
			ConnectTimeout: 5 * time.Second,
		},
		Device: DeviceConfig{Role: string(failover.RoleMain)},
		API: APIConfig{
			Host:         "0.0.0.0",
			Port:         8000,
			ClientQueue:  32,
			CommandRate:  10,
			CommandBurst: 20,
		},
		Failover: FailoverConfig{
			BackupCheckInterval: 10 * time.Second,
			HealthCheckInterval: 5 * time.Second,
			Timeout:             15 * time.Second,
			SnapshotEvery:       3,
		},
		Session: SessionConfig{TotalSlides: 30, TimerSeconds: 600},
		Health:  HealthConfig{DiskPath: "/"},
		Auth:    AuthConfig{Mode: AuthOpen},
		Deck:    DeckConfig{Kind: DeckLog, Timeout: 5 * time.Second, Queue: 16},
		Telemetry: TelemetryConfig{
			Protocol: "http",
		},
		LogLevel: "info",
	}
}

// Load builds the configuration from defaults, the TOML file at path (when
// not empty) and the environment, then validates it.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	opts := env.Options{
		Prefix:  EnvPrefix,
		FuncMap: map[reflect.Type]env.ParserFunc{reflect.TypeOf(time.Duration(0)): parseDuration},
	}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.Fill()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("config file: %w", err)
	}
	md, err := toml.DecodeFile(path, c)
	if err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		sort.Strings(keys)
		return fmt.Errorf("%s: unknown keys: %s", path, strings.Join(keys, ", "))
	}
	for _, d := range durationKeys {
		if md.Type(d.key...) == "Integer" {
			p := d.field(c)
			*p = time.Duration(*p) * time.Second
		}
	}
	return nil
}

// durationKeys accept either a duration string ("15s") or bare integer
// seconds (15), as older configs wrote them.
var durationKeys = []struct {
	key   []string
	field func(*Config) *time.Duration
}{
	{[]string{"broker", "connect_timeout"}, func(c *Config) *time.Duration { return &c.Broker.ConnectTimeout }},
	{[]string{"failover", "backup_check_interval"}, func(c *Config) *time.Duration { return &c.Failover.BackupCheckInterval }},
	{[]string{"failover", "health_check_interval"}, func(c *Config) *time.Duration { return &c.Failover.HealthCheckInterval }},
	{[]string{"failover", "failover_timeout"}, func(c *Config) *time.Duration { return &c.Failover.Timeout }},
	{[]string{"deck", "timeout"}, func(c *Config) *time.Duration { return &c.Deck.Timeout }},
}

// parseDuration reads "15s"-style values or bare integer seconds.
func parseDuration(v string) (interface{}, error) {
	if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return nil, fmt.Errorf("invalid duration %q: use seconds or a value like \"15s\"", v)
	}
	return d, nil
}

// Fill derives values left empty: the device id and the health check
// address.
func (c *Config) Fill() {
	c.Device.Role = strings.ToUpper(strings.TrimSpace(c.Device.Role))
	if c.Device.ID == "" {
		c.Device.ID = strings.ToLower(c.Device.Role) + "-" + uuid.NewString()
	}
	if c.Health.NetworkAddr == "" && c.Broker.Kind != bus.KindMemory {
		c.Health.NetworkAddr = c.BusConfig().Addr()
	}
}

// Role returns the parsed device role.
func (c *Config) Role() failover.Role {
	return failover.Role(c.Device.Role)
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if _, err := failover.ParseRole(c.Device.Role); err != nil {
		return err
	}
	switch c.Broker.Kind {
	case bus.KindMemory, bus.KindNATS, bus.KindRedis, bus.KindMQTT:
	default:
		return fmt.Errorf("unknown broker kind %q", c.Broker.Kind)
	}
	if c.Broker.Kind != bus.KindMemory {
		if c.Broker.Host == "" {
			return fmt.Errorf("broker host is required")
		}
		if err := checkPort("broker port", c.Broker.Port); err != nil {
			return err
		}
	}
	if c.Broker.TopicPrefix == "" {
		return fmt.Errorf("topic_prefix is required")
	}
	if err := bus.ValidateSubject(c.Broker.TopicPrefix + "heartbeat"); err != nil {
		return fmt.Errorf("topic_prefix: %w", err)
	}
	if err := checkPort("api port", c.API.Port); err != nil {
		return err
	}
	if c.API.ClientQueue <= 0 {
		return fmt.Errorf("client_queue must be positive")
	}
	if c.API.CommandRate < 0 {
		return fmt.Errorf("command_rate must be >= 0")
	}

	f := c.Failover
	if f.BackupCheckInterval <= 0 || f.HealthCheckInterval <= 0 || f.Timeout <= 0 {
		return fmt.Errorf("backup_check_interval, health_check_interval and failover_timeout must be positive")
	}
	if f.HealthCheckInterval >= f.Timeout {
		return fmt.Errorf("health_check_interval (%s) must be below failover_timeout (%s)", f.HealthCheckInterval, f.Timeout)
	}
	if f.BackupCheckInterval >= f.Timeout {
		return fmt.Errorf("backup_check_interval (%s) must be below failover_timeout (%s)", f.BackupCheckInterval, f.Timeout)
	}
	if f.SnapshotEvery < 1 {
		return fmt.Errorf("snapshot_every must be >= 1")
	}

	if c.Session.TotalSlides <= 0 {
		return fmt.Errorf("total_slides must be positive")
	}
	if c.Session.TimerSeconds < 0 {
		return fmt.Errorf("timer_seconds must be >= 0")
	}

	switch c.Auth.Mode {
	case AuthOpen:
	case AuthJWT:
		if c.Auth.Secret == "" {
			return fmt.Errorf("auth mode jwt requires a secret")
		}
	default:
		return fmt.Errorf("unknown auth mode %q", c.Auth.Mode)
	}

	switch c.Deck.Kind {
	case DeckLog:
	case DeckExec:
		if c.Deck.Program == "" {
			return fmt.Errorf("deck kind exec requires a program")
		}
	default:
		return fmt.Errorf("unknown deck kind %q", c.Deck.Kind)
	}
	return nil
}

func checkPort(name string, port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("%s %d out of range", name, port)
	}
	return nil
}

// BusConfig converts the broker section for bus.Open.
func (c *Config) BusConfig() bus.BrokerConfig {
	return bus.BrokerConfig{
		Kind:           c.Broker.Kind,
		Host:           c.Broker.Host,
		Port:           c.Broker.Port,
		Username:       c.Broker.Username,
		Password:       c.Broker.Password,
		ClientID:       c.Device.ID,
		ConnectTimeout: c.Broker.ConnectTimeout,
	}
}

// APIAddr returns host:port for the client server.
func (c *Config) APIAddr() string {
	return fmt.Sprintf("%s:%d", c.API.Host, c.API.Port)
}
