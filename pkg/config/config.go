package config

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"

	"cryptomid-go/pkg/buffers"
	"cryptomid-go/pkg/pipe"
	"cryptomid-go/pkg/transform"
)

// EnvPrefix prefixes every environment override, e.g. CRYPTOMID_KEY.
const EnvPrefix = "CRYPTOMID"

type Config struct {
	ListenAddr       string        `mapstructure:"listen_address"`
	Key              string        `mapstructure:"key"` // base64
	IV               string        `mapstructure:"iv"`  // base64
	Pipeline         []string      `mapstructure:"pipeline"`
	ContentType      string        `mapstructure:"content_type"`
	PlainContentType string        `mapstructure:"plain_content_type"`
	ChunkSize        int           `mapstructure:"chunk_size"`
	PipeDepth        int           `mapstructure:"pipe_depth"`
	BodyLimit        string        `mapstructure:"body_limit"`
	LogLevel         string        `mapstructure:"log_level"`
	LogDB            string        `mapstructure:"log_db"`
	ShutdownTimeout  time.Duration `mapstructure:"shutdown_timeout"`
	ConfigFile       string        `mapstructure:"config_file"`
}

func DefaultConfig() *Config {
	return &Config{
		ListenAddr:       ":8080",
		Pipeline:         []string{transform.NameAESCBC, transform.NameBase64},
		ContentType:      "application/jose",
		PlainContentType: "application/json",
		ChunkSize:        buffers.DefaultChunkSize,
		PipeDepth:        pipe.DefaultDepth,
		BodyLimit:        "4M",
		LogLevel:         "info",
		LogDB:            "",
		ShutdownTimeout:  10 * time.Second,
		ConfigFile:       "cryptomid.yaml",
	}
}

func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("listen_address", cfg.ListenAddr)
	v.SetDefault("key", cfg.Key)
	v.SetDefault("iv", cfg.IV)
	v.SetDefault("pipeline", cfg.Pipeline)
	v.SetDefault("content_type", cfg.ContentType)
	v.SetDefault("plain_content_type", cfg.PlainContentType)
	v.SetDefault("chunk_size", cfg.ChunkSize)
	v.SetDefault("pipe_depth", cfg.PipeDepth)
	v.SetDefault("body_limit", cfg.BodyLimit)
	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("log_db", cfg.LogDB)
	v.SetDefault("shutdown_timeout", cfg.ShutdownTimeout)
}

// Load reads configuration from file and environment, then applies
// overrides (typically command-line flags) on top. An empty configFile
// searches the usual locations and tolerates a missing file; an explicit
// path must exist.
func Load(configFile string, overrides map[string]any) (*Config, error) {
	cfg := DefaultConfig()
	v := viper.New()
	setDefaults(v, cfg)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("cryptomid")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/cryptomid/")
		v.AddConfigPath("$HOME/.cryptomid")
	}
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: %w", err)
		}
	}

	for k, val := range overrides {
		v.Set(k, val)
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg.ConfigFile = v.ConfigFileUsed()
	return cfg, nil
}

// KeyMaterial decodes the configured key and IV.
func (c *Config) KeyMaterial() (transform.Key, error) {
	key, err := base64.StdEncoding.DecodeString(c.Key)
	if err != nil {
		return transform.Key{}, fmt.Errorf("%w: key is not base64: %w", transform.ErrCipherConfiguration, err)
	}
	iv, err := base64.StdEncoding.DecodeString(c.IV)
	if err != nil {
		return transform.Key{}, fmt.Errorf("%w: iv is not base64: %w", transform.ErrCipherConfiguration, err)
	}
	return transform.Key{Key: key, IV: iv}, nil
}

// Processor validates the key material and builds the codec pipeline.
// Every error it returns is fatal at startup.
func (c *Config) Processor() (*transform.PayloadProcessor, error) {
	if len(c.Pipeline) == 0 {
		return nil, errors.New("config: pipeline must name at least one transform")
	}
	key, err := c.KeyMaterial()
	if err != nil {
		return nil, err
	}
	p, err := transform.NewProcessorFromNames(c.Pipeline, key)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return p, nil
}

// Validate checks everything the server needs before it starts listening.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return errors.New("config: listen_address is required")
	}
	if c.ContentType == "" || c.PlainContentType == "" {
		return errors.New("config: content types must not be empty")
	}
	if c.ContentType == c.PlainContentType {
		return fmt.Errorf("config: content_type and plain_content_type are both %q", c.ContentType)
	}
	if c.ChunkSize < 0 || c.ChunkSize > buffers.MaxChunkSize {
		return fmt.Errorf("config: chunk_size %d out of range", c.ChunkSize)
	}
	if c.PipeDepth < 0 {
		return fmt.Errorf("config: pipe_depth %d out of range", c.PipeDepth)
	}
	_, err := c.Processor()
	return err
}

// GenerateKeyMaterial returns a random base64 key of keySize bytes and a
// random base64 IV.
func GenerateKeyMaterial(keySize int) (key, iv string, err error) {
	switch keySize {
	case 16, 24, 32:
	default:
		return "", "", fmt.Errorf("%w: key size %d", transform.ErrCipherConfiguration, keySize)
	}
	k := make([]byte, keySize)
	i := make([]byte, 16)
	if _, err := rand.Read(k); err != nil {
		return "", "", err
	}
	if _, err := rand.Read(i); err != nil {
		return "", "", err
	}
	return base64.StdEncoding.EncodeToString(k), base64.StdEncoding.EncodeToString(i), nil
}
