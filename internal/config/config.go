package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

const (
	envPrefix             = "HIVE"
	defaultDatabaseDir    = "db"
	defaultLogLevel       = "info"
	defaultHTTPAddress    = "0.0.0.0:8080"
	defaultHashAlgorithm  = "sha512"
	defaultHashIterations = 100000
	defaultHashSalt       = "hive-default-salt"
)

// AppConfig captures runtime configuration for the archiver.
type AppConfig struct {
	DatabaseDir    string
	LogLevel       string
	HTTPAddress    string
	AdminToken     string
	HashAlgorithm  string
	HashIterations int
	HashSalt       string
	// IgnoredChannels maps a guild id to channel ids whose messages are
	// never archived.
	IgnoredChannels map[string][]string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("database.dir", defaultDatabaseDir)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("hash.algorithm", defaultHashAlgorithm)
	configViper.SetDefault("hash.iterations", defaultHashIterations)
	configViper.SetDefault("hash.salt", defaultHashSalt)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		DatabaseDir:     configViper.GetString("database.dir"),
		LogLevel:        configViper.GetString("log.level"),
		HTTPAddress:     configViper.GetString("http.address"),
		AdminToken:      configViper.GetString("http.admin_token"),
		HashAlgorithm:   configViper.GetString("hash.algorithm"),
		HashIterations:  configViper.GetInt("hash.iterations"),
		HashSalt:        configViper.GetString("hash.salt"),
		IgnoredChannels: parseIgnoredChannels(configViper.GetStringMapString("ingest.ignored_channels")),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.DatabaseDir) == "" {
		return fmt.Errorf("database.dir is required")
	}
	if strings.TrimSpace(c.HashSalt) == "" {
		return fmt.Errorf("hash.salt is required")
	}
	if c.HashIterations <= 0 {
		return fmt.Errorf("hash.iterations must be positive")
	}
	return nil
}

func parseIgnoredChannels(raw map[string]string) map[string][]string {
	if len(raw) == 0 {
		return nil
	}
	ignored := make(map[string][]string, len(raw))
	for guildID, channelList := range raw {
		for _, channelID := range strings.Split(channelList, ",") {
			channelID = strings.TrimSpace(channelID)
			if channelID != "" {
				ignored[guildID] = append(ignored[guildID], channelID)
			}
		}
	}
	return ignored
}
