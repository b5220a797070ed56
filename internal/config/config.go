package config

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds application level configuration aggregated from env/config files.
type Config struct {
	Server struct {
		Addr           string
		AllowedOrigins []string
		StaticDir      string
	}
	Database struct {
		Path string
	}
	Auth struct {
		SessionSecret   string
		SessionTTLHours int
		CookieSecure    bool
	}
	Push struct {
		TokenTTLSeconds int
		Buffer          int
	}
	Ingest struct {
		MaxConcurrent int
	}
	SoundCloud struct {
		BaseURL           string
		PageSize          int
		RequestsPerSecond float64
	}
	Storage struct {
		Bucket    string
		KeyPrefix string
		Region    string
		Endpoint  string
	}
	AWS struct {
		Profile string
	}
	Log struct {
		Level string
	}
}

// Load reads configuration from environment variables and an optional config file.
// An empty configFile means "look for config.* in the working directory".
func Load(configFile string) (Config, error) {
	// .env is optional; values already present in the environment win.
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("SOUNDSHELF")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", configFile, err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		_ = v.ReadInConfig() // optional file
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", "0.0.0.0:8080")
	v.SetDefault("server.allowedorigins", []string{})
	v.SetDefault("server.staticdir", "")
	v.SetDefault("database.path", "data/soundshelf.db")
	v.SetDefault("auth.sessionsecret", "")
	v.SetDefault("auth.sessionttlhours", 24*30)
	v.SetDefault("auth.cookiesecure", false)
	v.SetDefault("push.tokenttlseconds", 60)
	v.SetDefault("push.buffer", 32)
	v.SetDefault("ingest.maxconcurrent", 4)
	v.SetDefault("soundcloud.baseurl", "https://api-v2.soundcloud.com")
	v.SetDefault("soundcloud.pagesize", 50)
	v.SetDefault("soundcloud.requestspersecond", 4.0)
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.keyprefix", "soundshelf-snapshots")
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("aws.profile", "")
	v.SetDefault("log.level", "info")
}

// Validate rejects configurations the server cannot start with.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Auth.SessionSecret) == "" {
		return fmt.Errorf("auth session secret is required")
	}
	if len(c.Auth.SessionSecret) < 16 {
		return fmt.Errorf("auth session secret must be at least 16 bytes")
	}
	if c.Auth.SessionTTLHours <= 0 {
		return fmt.Errorf("auth session ttl must be positive")
	}
	if c.Push.TokenTTLSeconds <= 0 {
		return fmt.Errorf("push token ttl must be positive")
	}
	if c.SoundCloud.PageSize <= 0 || c.SoundCloud.PageSize > 200 {
		return fmt.Errorf("soundcloud page size must be between 1 and 200")
	}
	return nil
}

// ArchiveEnabled reports whether ingestion snapshots should be uploaded.
func (c Config) ArchiveEnabled() bool {
	return strings.TrimSpace(c.Storage.Bucket) != ""
}
