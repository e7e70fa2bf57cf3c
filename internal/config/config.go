// File: internal/config/config.go
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type SSHConfig struct {
	Port        int    `yaml:"port"`
	HostKeyPath string `yaml:"host_key_path"`
}

type P2PConfig struct {
	Port           int      `yaml:"port"`
	BootstrapNodes []string `yaml:"bootstrap_nodes"`
	KeyPath        string   `yaml:"key_path"` // persistent node identity; empty means ephemeral
	Bootstrap      bool     `yaml:"bootstrap"`
	LowWater       int      `yaml:"low_water"`
	HighWater      int      `yaml:"high_water"`
}

type ChatConfig struct {
	DefaultRoom         string `yaml:"default_room"`
	MaxMessageSize      int    `yaml:"max_message_size"`
	MaxMessagesInMemory int    `yaml:"max_messages_in_memory"`
	RateLimit           int    `yaml:"rate_limit"`
	MaxNickLength       int    `yaml:"max_nick_length"`
	MaxRoomNameLength   int    `yaml:"max_room_name_length"`
}

type LogConfig struct {
	Level  string `yaml:"level"`  // trace|debug|info|warn|error
	Format string `yaml:"format"` // json|console
}

type MetricsConfig struct {
	Port int `yaml:"port"`
}

type Config struct {
	SSH     SSHConfig     `yaml:"ssh"`
	P2P     P2PConfig     `yaml:"p2p"`
	Chat    ChatConfig    `yaml:"chat"`
	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`

	Runtime RuntimeConfig `yaml:"-"`
}

// Load reads the optional YAML file, then applies environment overrides
// and defaults. A missing config file is not an error; everything can be
// configured through the environment.
func Load(path string, dev bool) (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(b, &cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		case os.IsNotExist(err):
			// fall through to env + defaults
		default:
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	applyEnv(&cfg)
	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	cfg.Runtime.Dev = dev
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	envInt("SSH_PORT", &cfg.SSH.Port)
	envStr("SSH_HOST_KEY_PATH", &cfg.SSH.HostKeyPath)
	envInt("P2P_PORT", &cfg.P2P.Port)
	envStr("P2P_KEY_PATH", &cfg.P2P.KeyPath)
	envBool("IS_BOOTSTRAP", &cfg.P2P.Bootstrap)
	if v := os.Getenv("BOOTSTRAP_NODES"); v != "" {
		var nodes []string
		for _, addr := range strings.Split(v, ",") {
			if addr = strings.TrimSpace(addr); addr != "" {
				nodes = append(nodes, addr)
			}
		}
		cfg.P2P.BootstrapNodes = nodes
	}
	envStr("DEFAULT_ROOM", &cfg.Chat.DefaultRoom)
	envInt("MAX_MESSAGE_SIZE", &cfg.Chat.MaxMessageSize)
	envInt("MAX_MESSAGES_IN_MEMORY", &cfg.Chat.MaxMessagesInMemory)
	envInt("RATE_LIMIT", &cfg.Chat.RateLimit)
	envInt("MAX_NICK_LENGTH", &cfg.Chat.MaxNickLength)
	envInt("MAX_ROOM_NAME_LENGTH", &cfg.Chat.MaxRoomNameLength)
	envStr("LOG_LEVEL", &cfg.Log.Level)
	envStr("LOG_FORMAT", &cfg.Log.Format)
	envInt("METRICS_PORT", &cfg.Metrics.Port)
}

func applyDefaults(cfg *Config) {
	if cfg.SSH.Port == 0 {
		cfg.SSH.Port = 2222
	}
	if cfg.SSH.HostKeyPath == "" {
		cfg.SSH.HostKeyPath = "./keys/host.key"
	}
	if cfg.P2P.Port == 0 {
		cfg.P2P.Port = 4001
	}
	if cfg.P2P.LowWater <= 0 {
		cfg.P2P.LowWater = 10
	}
	if cfg.P2P.HighWater <= 0 {
		cfg.P2P.HighWater = 1000
	}
	if cfg.Chat.DefaultRoom == "" {
		cfg.Chat.DefaultRoom = "lobby"
	}
	if cfg.Chat.MaxMessageSize <= 0 {
		cfg.Chat.MaxMessageSize = 4096
	}
	if cfg.Chat.MaxMessagesInMemory <= 0 {
		cfg.Chat.MaxMessagesInMemory = 100
	}
	if cfg.Chat.RateLimit <= 0 {
		cfg.Chat.RateLimit = 10
	}
	if cfg.Chat.MaxNickLength <= 0 {
		cfg.Chat.MaxNickLength = 32
	}
	if cfg.Chat.MaxRoomNameLength <= 0 {
		cfg.Chat.MaxRoomNameLength = 32
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = 2112
	}
}

func validate(cfg *Config) error {
	if cfg.SSH.Port < 0 || cfg.SSH.Port > 65535 {
		return fmt.Errorf("ssh.port out of range: %d", cfg.SSH.Port)
	}
	if cfg.P2P.Port < 0 || cfg.P2P.Port > 65535 {
		return fmt.Errorf("p2p.port out of range: %d", cfg.P2P.Port)
	}
	if cfg.P2P.LowWater > cfg.P2P.HighWater {
		return fmt.Errorf("p2p.low_water %d exceeds p2p.high_water %d", cfg.P2P.LowWater, cfg.P2P.HighWater)
	}
	return nil
}

func envStr(name string, dst *string) {
	if v := os.Getenv(name); v != "" {
		*dst = v
	}
}

func envInt(name string, dst *int) {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envBool(name string, dst *bool) {
	if v := os.Getenv(name); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
