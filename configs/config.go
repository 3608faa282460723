package config

import (
	"os"
	"strconv"
	"time"

	"github.com/maheshrc27/crosspost/internal/models"
)

type R2 struct {
	AccountID  string
	AccessKey  string
	SecretKey  string
	BucketName string
	PublicURL  string
}

type LinkedIn struct {
	AccessToken string
	OrgID       string
	PersonURN   string
}

type Meta struct {
	AccessToken         string
	InstagramBusinessID string
	FacebookPageID      string
}

type Youtube struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
}

type X struct {
	APIKey       string
	APISecret    string
	AccessToken  string
	AccessSecret string
}

type Telegram struct {
	BotToken  string
	ChatID    string
	ChannelID string
}

type Reddit struct {
	ClientID     string
	ClientSecret string
	Username     string
	Password     string
	Subreddit    string
}

type Config struct {
	DatabaseURL string
	LogLevel    string
	LogFormat   string
	Port        string
	SecretKey   string
	FrontendURL string

	PollInterval   time.Duration
	MaxRetries     int
	RetryBackoff   time.Duration
	PublishTimeout time.Duration

	MediaDir              string
	MediaDownloadTimeout  time.Duration
	UploadDir             string
	UploadRetention       time.Duration
	UploadCleanupInterval time.Duration
	KeepAliveURL          string

	DiscordWebhookURL string

	R2       R2
	LinkedIn LinkedIn
	Meta     Meta
	Youtube  Youtube
	X        X
	Telegram Telegram
	Reddit   Reddit
}

func LoadConfig() *Config {
	return &Config{
		DatabaseURL: getEnv("DATABASE_URL", "crosspost.db"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogFormat:   getEnv("LOG_FORMAT", "console"),
		Port:        getEnv("PORT", "3000"),
		SecretKey:   getEnv("APP_SECRET_KEY", ""),
		FrontendURL: getEnv("FRONTEND_URL", "*"),

		PollInterval:   getEnvDuration("POLL_INTERVAL", 5*time.Minute),
		MaxRetries:     getEnvInt("MAX_RETRIES", 3),
		RetryBackoff:   getEnvDuration("RETRY_BACKOFF", 2*time.Second),
		PublishTimeout: getEnvDuration("PUBLISH_TIMEOUT", 10*time.Minute),

		MediaDir:              getEnv("MEDIA_DIR", os.TempDir()+"/crosspost_videos"),
		MediaDownloadTimeout:  getEnvDuration("MEDIA_DOWNLOAD_TIMEOUT", 120*time.Second),
		UploadDir:             getEnv("UPLOAD_DIR", "uploads"),
		UploadRetention:       getEnvDuration("UPLOAD_RETENTION", 48*time.Hour),
		UploadCleanupInterval: getEnvDuration("UPLOAD_CLEANUP_INTERVAL", 6*time.Hour),
		KeepAliveURL:          getEnv("KEEP_ALIVE_URL", ""),

		DiscordWebhookURL: getEnv("DISCORD_WEBHOOK_URL", ""),

		R2: R2{
			AccountID:  getEnv("R2_ACCOUNT_ID", ""),
			AccessKey:  getEnv("R2_ACCESS_KEY", ""),
			SecretKey:  getEnv("R2_SECRET_KEY", ""),
			BucketName: getEnv("R2_BUCKET_NAME", ""),
			PublicURL:  getEnv("R2_PUBLIC_URL", ""),
		},
		LinkedIn: LinkedIn{
			AccessToken: getEnv("LINKEDIN_ACCESS_TOKEN", ""),
			OrgID:       getEnv("LINKEDIN_ORG_ID", ""),
			PersonURN:   getEnv("LINKEDIN_PERSON_URN", ""),
		},
		Meta: Meta{
			AccessToken:         getEnv("META_ACCESS_TOKEN", ""),
			InstagramBusinessID: getEnv("INSTAGRAM_BUSINESS_ID", ""),
			FacebookPageID:      getEnv("FACEBOOK_PAGE_ID", ""),
		},
		Youtube: Youtube{
			ClientID:     getEnv("YOUTUBE_CLIENT_ID", ""),
			ClientSecret: getEnv("YOUTUBE_CLIENT_SECRET", ""),
			RefreshToken: getEnv("YOUTUBE_REFRESH_TOKEN", ""),
		},
		X: X{
			APIKey:       getEnv("X_API_KEY", ""),
			APISecret:    getEnv("X_API_SECRET", ""),
			AccessToken:  getEnv("X_ACCESS_TOKEN", ""),
			AccessSecret: getEnv("X_ACCESS_SECRET", ""),
		},
		Telegram: Telegram{
			BotToken:  getEnv("TELEGRAM_BOT_TOKEN", ""),
			ChatID:    getEnv("TELEGRAM_CHAT_ID", ""),
			ChannelID: getEnv("TELEGRAM_CHANNEL_ID", ""),
		},
		Reddit: Reddit{
			ClientID:     getEnv("REDDIT_CLIENT_ID", ""),
			ClientSecret: getEnv("REDDIT_CLIENT_SECRET", ""),
			Username:     getEnv("REDDIT_USERNAME", ""),
			Password:     getEnv("REDDIT_PASSWORD", ""),
			Subreddit:    getEnv("REDDIT_SUBREDDIT", ""),
		},
	}
}

// PlatformConfigured reports whether every credential the platform needs is set.
func (c *Config) PlatformConfigured(p models.Platform) bool {
	switch p {
	case models.PlatformLinkedIn:
		return c.LinkedIn.AccessToken != "" && (c.LinkedIn.OrgID != "" || c.LinkedIn.PersonURN != "")
	case models.PlatformInstagram:
		return c.Meta.AccessToken != "" && c.Meta.InstagramBusinessID != ""
	case models.PlatformFacebook:
		return c.Meta.AccessToken != "" && c.Meta.FacebookPageID != ""
	case models.PlatformYoutube:
		return c.Youtube.ClientID != "" && c.Youtube.ClientSecret != "" && c.Youtube.RefreshToken != ""
	case models.PlatformX:
		return c.X.APIKey != "" && c.X.APISecret != "" && c.X.AccessToken != "" && c.X.AccessSecret != ""
	case models.PlatformTelegram:
		return c.Telegram.BotToken != "" && c.Telegram.ChannelID != ""
	case models.PlatformReddit:
		r := c.Reddit
		return r.ClientID != "" && r.ClientSecret != "" && r.Username != "" && r.Password != "" && r.Subreddit != ""
	}
	return false
}

// R2Configured reports whether media can be staged to and fetched from R2.
func (c *Config) R2Configured() bool {
	return c.R2.AccountID != "" && c.R2.AccessKey != "" && c.R2.SecretKey != "" && c.R2.BucketName != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil || n <= 0 {
		return defaultValue
	}
	return n
}

// getEnvDuration accepts Go duration strings ("5m", "90s") or a bare number of seconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	if n, err := strconv.Atoi(value); err == nil && n > 0 {
		return time.Duration(n) * time.Second
	}
	return defaultValue
}
