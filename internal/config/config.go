package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/multierr"

	"github.com/DoyleJ11/checker-lobby/internal/logging"
)

// EnvPrefix is prepended to every flag name to form its environment
// variable, e.g. --broadcast-interval -> LOBBY_BROADCAST_INTERVAL.
const EnvPrefix = "LOBBY"

// Config holds all configuration for the server.
type Config struct {
	Bind              string
	Port              int
	BroadcastInterval time.Duration
	WriteTimeout      time.Duration
	AssignmentTimeout time.Duration
	ShutdownTimeout   time.Duration
	Origins           []string
	LogLevel          string
	LogFormat         string
}

func Default() Config {
	return Config{
		Bind:              "0.0.0.0",
		Port:              8080,
		BroadcastInterval: time.Second,
		WriteTimeout:      3 * time.Second,
		AssignmentTimeout: 5 * time.Second,
		ShutdownTimeout:   5 * time.Second,
		LogLevel:          "info",
		LogFormat:         logging.FormatJSON,
	}
}

// RegisterFlags registers one flag per field, using the current values as
// defaults.
func (c *Config) RegisterFlags(flags *pflag.FlagSet) {
	flags.StringVarP(&c.Bind, "bind", "b", c.Bind, "address to bind to (env: LOBBY_BIND)")
	flags.IntVarP(&c.Port, "port", "p", c.Port, "port to listen on (env: LOBBY_PORT)")
	flags.DurationVar(&c.BroadcastInterval, "broadcast-interval", c.BroadcastInterval, "interval between slot snapshots on each presence connection (env: LOBBY_BROADCAST_INTERVAL)")
	flags.DurationVar(&c.WriteTimeout, "write-timeout", c.WriteTimeout, "timeout for a single websocket write (env: LOBBY_WRITE_TIMEOUT)")
	flags.DurationVar(&c.AssignmentTimeout, "assignment-timeout", c.AssignmentTimeout, "upper bound on one assignment round trip inside the server (env: LOBBY_ASSIGNMENT_TIMEOUT)")
	flags.DurationVar(&c.ShutdownTimeout, "shutdown-timeout", c.ShutdownTimeout, "grace period for in-flight requests on shutdown (env: LOBBY_SHUTDOWN_TIMEOUT)")
	flags.StringSliceVar(&c.Origins, "origin", c.Origins, "allowed websocket origin patterns, repeatable (env: LOBBY_ORIGIN)")
	flags.StringVar(&c.LogLevel, "log-level", c.LogLevel, "debug, info, warn or error (env: LOBBY_LOG_LEVEL)")
	flags.StringVar(&c.LogFormat, "log-format", c.LogFormat, "json or console (env: LOBBY_LOG_FORMAT)")
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var err error
	if c.Port < 1 || c.Port > 65535 {
		err = multierr.Append(err, fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.Port))
	}
	if c.BroadcastInterval <= 0 {
		err = multierr.Append(err, fmt.Errorf("broadcast interval must be positive: %s", c.BroadcastInterval))
	}
	if c.WriteTimeout <= 0 {
		err = multierr.Append(err, fmt.Errorf("write timeout must be positive: %s", c.WriteTimeout))
	}
	if c.AssignmentTimeout <= 0 {
		err = multierr.Append(err, fmt.Errorf("assignment timeout must be positive: %s", c.AssignmentTimeout))
	}
	if c.ShutdownTimeout < 0 {
		err = multierr.Append(err, fmt.Errorf("shutdown timeout must not be negative: %s", c.ShutdownTimeout))
	}
	if c.LogFormat != logging.FormatJSON && c.LogFormat != logging.FormatConsole {
		err = multierr.Append(err, fmt.Errorf("unknown log format %q", c.LogFormat))
	}
	return err
}

// Address returns the listen address (host:port).
func (c *Config) Address() string {
	return net.JoinHostPort(c.Bind, strconv.Itoa(c.Port))
}

// ApplyEnv loads the optional dotenv files and then copies every
// LOBBY_* variable into the matching flag, unless that flag was set on the
// command line.
func ApplyEnv(flags *pflag.FlagSet, envFiles ...string) error {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load env file: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	var err error
	flags.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			if setErr := flags.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name))); setErr != nil {
				err = multierr.Append(err, fmt.Errorf("%s_%s: %w", EnvPrefix, envName(f.Name), setErr))
			}
		}
	})
	return err
}

func envName(flag string) string {
	return strings.ToUpper(strings.ReplaceAll(flag, "-", "_"))
}
