package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	Model    ModelConfig   `mapstructure:"model"`
	Runtime  RuntimeConfig `mapstructure:"runtime"`
	Server   ServerConfig  `mapstructure:"server"`
	LogLevel string        `mapstructure:"log_level"`
}

type ModelConfig struct {
	Path        string            `mapstructure:"path"`
	Format      string            `mapstructure:"format"`
	SHA256      string            `mapstructure:"sha256"`
	Optimize    bool              `mapstructure:"optimize"`
	InputNames  []string          `mapstructure:"input_names"`
	OutputNames []string          `mapstructure:"output_names"`
	Facts       map[string]string `mapstructure:"facts"`
}

type RuntimeConfig struct {
	Backend        string `mapstructure:"backend"`
	Threads        int    `mapstructure:"threads"`
	ORTLibraryPath string `mapstructure:"ort_library_path"`
	ORTVersion     string `mapstructure:"ort_version"`
	ORTAPIVersion  uint32 `mapstructure:"ort_api_version"`
}

type ServerConfig struct {
	ListenAddr      string `mapstructure:"listen_addr"`
	Workers         int    `mapstructure:"workers"`
	RequestTimeout  int    `mapstructure:"request_timeout"`
	MaxBodyBytes    int64  `mapstructure:"max_body_bytes"`
	ShutdownTimeout int    `mapstructure:"shutdown_timeout"`
}

type LoadOptions struct {
	Cmd        flagBinder
	ConfigFile string
	Defaults   Config
}

type flagBinder interface {
	Flags() *pflag.FlagSet
}

func DefaultConfig() Config {
	return Config{
		Model: ModelConfig{
			Path:     "models/model.onnx",
			Format:   "",
			Optimize: true,
		},
		Runtime: RuntimeConfig{
			Backend:       BackendReference,
			Threads:       4,
			ORTAPIVersion: 23,
		},
		Server: ServerConfig{
			ListenAddr:      ":8080",
			Workers:         2,
			RequestTimeout:  60,
			MaxBodyBytes:    8 << 20,
			ShutdownTimeout: 30,
		},
		LogLevel: "info",
	}
}

// flagKeys maps each flag to the config key it overrides.
var flagKeys = map[string]string{
	"model":                    "model.path",
	"format":                   "model.format",
	"sha256":                   "model.sha256",
	"optimize":                 "model.optimize",
	"input-names":              "model.input_names",
	"output-names":             "model.output_names",
	"backend":                  "runtime.backend",
	"runtime-threads":          "runtime.threads",
	"runtime-ort-library-path": "runtime.ort_library_path",
	"ort-lib":                  "runtime.ort_library_path",
	"runtime-ort-version":      "runtime.ort_version",
	"runtime-ort-api-version":  "runtime.ort_api_version",
	"server-listen-addr":       "server.listen_addr",
	"workers":                  "server.workers",
	"request-timeout":          "server.request_timeout",
	"max-body-bytes":           "server.max_body_bytes",
	"shutdown-timeout":         "server.shutdown_timeout",
	"log-level":                "log_level",
}

func RegisterFlags(fs *pflag.FlagSet, defaults Config) {
	fs.String("model", defaults.Model.Path, "Model file path or http(s) URL")
	fs.String("format", defaults.Model.Format, "Model format: onnx, yaml or typed (default: from file extension)")
	fs.String("sha256", defaults.Model.SHA256, "Expected sha256 of a remote model")
	fs.Bool("optimize", defaults.Model.Optimize, "Resolve an optimized plan instead of running shape inference per call")
	fs.StringSlice("input-names", defaults.Model.InputNames, "Select and order graph inputs by name")
	fs.StringSlice("output-names", defaults.Model.OutputNames, "Select and order graph outputs by name")
	fs.StringArray("fact", nil, "Input fact as index=fact, e.g. 0=float32[1,3,224,224] (repeatable)")
	fs.String("backend", defaults.Runtime.Backend, "Inference backend: reference|ort")
	fs.Int("runtime-threads", defaults.Runtime.Threads, "ONNX Runtime intra-op thread count")
	fs.String("runtime-ort-library-path", defaults.Runtime.ORTLibraryPath, "Path to ONNX Runtime shared library")
	fs.String("ort-lib", defaults.Runtime.ORTLibraryPath, "Path to ONNX Runtime shared library (alias for --runtime-ort-library-path)")
	fs.String("runtime-ort-version", defaults.Runtime.ORTVersion, "Expected ONNX Runtime version")
	fs.Uint32("runtime-ort-api-version", defaults.Runtime.ORTAPIVersion, "ONNX Runtime C API version")
	fs.String("server-listen-addr", defaults.Server.ListenAddr, "HTTP listen address")
	fs.Int("workers", defaults.Server.Workers, "Max concurrent model runs in the HTTP server")
	fs.Int("request-timeout", defaults.Server.RequestTimeout, "Per-request timeout in seconds")
	fs.Int64("max-body-bytes", defaults.Server.MaxBodyBytes, "Max HTTP request body size")
	fs.Int("shutdown-timeout", defaults.Server.ShutdownTimeout, "Graceful shutdown timeout in seconds")
	fs.String("log-level", defaults.LogLevel, "Log level: debug|info|warn|error")
}

func Load(opts LoadOptions) (Config, error) {
	v := viper.New()

	setDefaults(v, opts.Defaults)
	if opts.Cmd != nil {
		if err := bindFlags(v, opts.Cmd.Flags()); err != nil {
			return Config{}, err
		}
	}

	v.SetEnvPrefix("GRAPHBRIDGE")
	replacer := strings.NewReplacer("-", "_", ".", "_", "__", "_")
	v.SetEnvKeyReplacer(replacer)
	if err := v.BindEnv("runtime.ort_library_path", "GRAPHBRIDGE_ORT_LIB", "ORT_LIBRARY_PATH"); err != nil {
		return Config{}, fmt.Errorf("bind ort env vars: %w", err)
	}
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	} else {
		v.SetConfigName("graphbridge")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	if opts.Cmd != nil {
		if f := opts.Cmd.Flags().Lookup("fact"); f != nil && f.Changed {
			entries, err := opts.Cmd.Flags().GetStringArray("fact")
			if err != nil {
				return Config{}, err
			}
			facts, err := factFlagValues(entries)
			if err != nil {
				return Config{}, err
			}
			cfg.Model.Facts = facts
		}
	}

	backend, err := NormalizeBackend(cfg.Runtime.Backend)
	if err != nil {
		return Config{}, err
	}
	cfg.Runtime.Backend = backend

	return cfg, nil
}

// bindFlags binds every registered flag to its nested key so a flag wins
// only when it was set on the command line. The --ort-lib alias is bound
// only when used, since two flags cannot share one key.
func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	for name, key := range flagKeys {
		f := fs.Lookup(name)
		if f == nil {
			continue
		}
		if name == "ort-lib" && !f.Changed {
			continue
		}
		if name == "runtime-ort-library-path" {
			if alias := fs.Lookup("ort-lib"); alias != nil && alias.Changed {
				continue
			}
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag %q: %w", name, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper, c Config) {
	v.SetDefault("model.path", c.Model.Path)
	v.SetDefault("model.format", c.Model.Format)
	v.SetDefault("model.sha256", c.Model.SHA256)
	v.SetDefault("model.optimize", c.Model.Optimize)
	v.SetDefault("model.input_names", c.Model.InputNames)
	v.SetDefault("model.output_names", c.Model.OutputNames)
	v.SetDefault("model.facts", c.Model.Facts)
	v.SetDefault("runtime.backend", c.Runtime.Backend)
	v.SetDefault("runtime.threads", c.Runtime.Threads)
	v.SetDefault("runtime.ort_library_path", c.Runtime.ORTLibraryPath)
	v.SetDefault("runtime.ort_version", c.Runtime.ORTVersion)
	v.SetDefault("runtime.ort_api_version", c.Runtime.ORTAPIVersion)
	v.SetDefault("server.listen_addr", c.Server.ListenAddr)
	v.SetDefault("server.workers", c.Server.Workers)
	v.SetDefault("server.request_timeout", c.Server.RequestTimeout)
	v.SetDefault("server.max_body_bytes", c.Server.MaxBodyBytes)
	v.SetDefault("server.shutdown_timeout", c.Server.ShutdownTimeout)
	v.SetDefault("log_level", c.LogLevel)
}
