package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. SDB_LISTEN_PORT.
const EnvPrefix = "SDB"

// Config is the sdb binary configuration.
type Config struct {
	Listen      ListenConfig `mapstructure:"listen" yaml:"listen"`
	Keyword     string       `mapstructure:"keyword" yaml:"keyword"`
	SourceMap   string       `mapstructure:"source_map" yaml:"source_map"`
	Prompt      string       `mapstructure:"prompt" yaml:"prompt"`
	HistoryFile string       `mapstructure:"history_file" yaml:"history_file"`
	Demo        DemoConfig   `mapstructure:"demo" yaml:"demo"`
}

// ListenConfig is where `sdb serve` accepts remote clients.
type ListenConfig struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port int    `mapstructure:"port" yaml:"port"`
}

// DemoConfig shapes the demo program the binary debugs.
type DemoConfig struct {
	Workers int `mapstructure:"workers" yaml:"workers"`
}

func Default() Config {
	return Config{
		Listen: ListenConfig{
			Host: "127.0.0.1",
			Port: 9501,
		},
		Keyword: "sdb",
		Prompt:  "> ",
		Demo: DemoConfig{
			Workers: 3,
		},
	}
}

// Load reads .env from the working directory, then the YAML file at path
// (sdb.yaml in the working directory when path is empty), then SDB_*
// environment overrides. Missing .env or a missing default file are not
// errors.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()
	v := viper.New()
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("sdb")
		v.AddConfigPath(".")
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("listen.host", cfg.Listen.Host)
	v.SetDefault("listen.port", cfg.Listen.Port)
	v.SetDefault("keyword", cfg.Keyword)
	v.SetDefault("source_map", cfg.SourceMap)
	v.SetDefault("prompt", cfg.Prompt)
	v.SetDefault("history_file", cfg.HistoryFile)
	v.SetDefault("demo.workers", cfg.Demo.Workers)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, err
		}
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	cfg.SourceMap = os.ExpandEnv(cfg.SourceMap)
	cfg.HistoryFile = os.ExpandEnv(cfg.HistoryFile)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Listen.Host) == "" {
		return fmt.Errorf("listen.host is required")
	}
	if c.Listen.Port < 0 || c.Listen.Port > 65535 {
		return fmt.Errorf("listen.port %d out of range", c.Listen.Port)
	}
	if strings.ContainsAny(c.Keyword, " \t\r\n") {
		return fmt.Errorf("keyword must be a single word")
	}
	if c.Demo.Workers < 0 {
		return fmt.Errorf("demo.workers must not be negative")
	}
	return nil
}

// Addr is the listen address in host:port form.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Listen.Host, strconv.Itoa(c.Listen.Port))
}

func (c Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}
