package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode     string         `mapstructure:"mode"`
	Log      LogConfig      `mapstructure:"log"`
	Server   ServerConfig   `mapstructure:"server"`
	Store    StoreConfig    `mapstructure:"store"`
	Relay    RelayConfig    `mapstructure:"relay"`
	ICE      ICEConfig      `mapstructure:"ice"`
	Transfer TransferConfig `mapstructure:"transfer"`
	Library  LibraryConfig  `mapstructure:"library"`
	Media    MediaConfig    `mapstructure:"media"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

type ServerConfig struct {
	Port       int           `mapstructure:"port"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	Secret     string        `mapstructure:"secret"`
	SendBuffer int           `mapstructure:"send_buffer"`
	// PublishLimit envelopes per PublishWindow and client.
	PublishLimit  int           `mapstructure:"publish_limit"`
	PublishWindow time.Duration `mapstructure:"publish_window"`
}

type StoreConfig struct {
	Path       string        `mapstructure:"path"`
	Retention  time.Duration `mapstructure:"retention"`
	PruneEvery time.Duration `mapstructure:"prune_every"`
}

type RelayConfig struct {
	URL          string        `mapstructure:"url"`
	ReplayWindow time.Duration `mapstructure:"replay_window"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
}

type TURNServer struct {
	URLs       []string `mapstructure:"urls"`
	Username   string   `mapstructure:"username"`
	Credential string   `mapstructure:"credential"`
}

type ICEConfig struct {
	STUN     []string     `mapstructure:"stun"`
	TURN     []TURNServer `mapstructure:"turn"`
	Loopback bool         `mapstructure:"loopback"`
}

type TransferConfig struct {
	ChunkSize     int           `mapstructure:"chunk_size"`
	HighWaterMark uint64        `mapstructure:"high_water_mark"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	Strict        bool          `mapstructure:"strict"`
	MaxBytes      int           `mapstructure:"max_bytes"`
}

type LibraryConfig struct {
	SpoolDir string `mapstructure:"spool_dir"`
}

type MediaConfig struct {
	File      string `mapstructure:"file"`
	RecordDir string `mapstructure:"record_dir"`
}

var (
	ErrNoSTUN = errors.New("at least one STUN server is required")
	ErrNoTURN = errors.New("at least one TURN server is required")
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", true)

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_limit", 1<<20)
	v.SetDefault("server.ping_period", "54s")
	v.SetDefault("server.secret", "music-party")
	v.SetDefault("server.send_buffer", 64)
	v.SetDefault("server.publish_limit", 200)
	v.SetDefault("server.publish_window", "10s")

	v.SetDefault("store.path", "party.db")
	v.SetDefault("store.retention", "1h")
	v.SetDefault("store.prune_every", "5m")

	v.SetDefault("relay.url", "ws://localhost:8080/api/ws/relay")
	v.SetDefault("relay.replay_window", "2m")
	v.SetDefault("relay.dial_timeout", "10s")

	v.SetDefault("ice.stun", []string{"stun:stun.l.google.com:19302", "stun:stun1.l.google.com:19302"})
	v.SetDefault("ice.turn", []map[string]any{{
		"urls":       []string{"turn:openrelay.metered.ca:80"},
		"username":   "openrelayproject",
		"credential": "openrelayproject",
	}})
	v.SetDefault("ice.loopback", false)

	v.SetDefault("transfer.chunk_size", 16*1024)
	v.SetDefault("transfer.high_water_mark", 1024*1024)
	v.SetDefault("transfer.poll_interval", "50ms")
	v.SetDefault("transfer.strict", false)
	v.SetDefault("transfer.max_bytes", 256<<20)

	v.SetDefault("library.spool_dir", "")
	v.SetDefault("media.file", "")
	v.SetDefault("media.record_dir", "")
}

// Load reads config/config.<CONFIG_ENV>.yaml over the defaults. PARTY_*
// environment variables override both, e.g. PARTY_SERVER_PORT.
func Load() (*Config, error) {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return LoadFile(fmt.Sprintf("config/config.%s.yaml", env))
}

func LoadFile(fileName string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)
	v.SetEnvPrefix("PARTY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read config %s: %w", fileName, err)
		}
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Server.Port).Msg("config ready")
	return &cfg, nil
}

// Validate checks what a peer needs before opening a session.
func (c *Config) Validate() error {
	var errs []error
	if len(c.ICE.STUN) == 0 {
		errs = append(errs, ErrNoSTUN)
	}
	turn := 0
	for _, t := range c.ICE.TURN {
		turn += len(t.URLs)
	}
	if turn == 0 {
		errs = append(errs, ErrNoTURN)
	}
	if c.Transfer.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("transfer.chunk_size must be positive, got %d", c.Transfer.ChunkSize))
	}
	return errors.Join(errs...)
}

// ICEServers converts the ICE section for pion.
func (c ICEConfig) ICEServers() []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, 0, 1+len(c.TURN))
	if len(c.STUN) > 0 {
		out = append(out, webrtc.ICEServer{URLs: c.STUN})
	}
	for _, t := range c.TURN {
		out = append(out, webrtc.ICEServer{
			URLs:       t.URLs,
			Username:   t.Username,
			Credential: t.Credential,
		})
	}
	return out
}

// ZerologLevel parses the log level, falling back to info.
func (c LogConfig) ZerologLevel() zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(c.Level))
	if err != nil || c.Level == "" {
		return zerolog.InfoLevel
	}
	return lvl
}
