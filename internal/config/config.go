package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"commentry/internal/models"
)

type Config struct {
	// Server
	Port          string
	SiteURL       string
	SessionSecret string
	CORSOrigins   []string

	// Database
	DatabaseURL string

	// Moderation
	AdminPasswordHash string // bcrypt
	CodeSecret        string // key for approval code digests

	// Mail
	SMTPHost        string
	SMTPPort        string
	SMTPUser        string
	SMTPPass        string
	SMTPFrom        string
	MailFromName    string
	MailQueueSize   int
	MailMaxAttempts int
	MailRetryDelay  time.Duration

	// Spam
	SpamWords         []string
	SpamMaxLinks      int
	SpamPurgeInterval time.Duration

	// Comment fields, keyed by field name
	FieldNames []string
	Fields     map[string]models.FieldConfig
}

func Load() *Config {
	cfg := &Config{
		Port:              getEnv("PORT", "8080"),
		SiteURL:           strings.TrimSuffix(getEnv("SITE_URL", "http://localhost:8080"), "/"),
		SessionSecret:     getEnv("SESSION_SECRET", "secret_key_change_me"),
		CORSOrigins:       getEnvList("CORS_ORIGINS", []string{"*"}),
		DatabaseURL:       getEnv("DATABASE_URL", "host=localhost user=postgres password=postgres dbname=commentry port=5432 sslmode=disable TimeZone=UTC"),
		AdminPasswordHash: getEnv("ADMIN_PASSWORD_HASH", ""),
		CodeSecret:        getEnv("CODE_SECRET", ""),
		SMTPHost:          getEnv("SMTP_HOST", ""),
		SMTPPort:          getEnv("SMTP_PORT", "587"),
		SMTPUser:          getEnv("SMTP_USER", ""),
		SMTPPass:          getEnv("SMTP_PASS", ""),
		SMTPFrom:          getEnv("SMTP_FROM", ""),
		MailFromName:      getEnv("MAIL_FROM_NAME", "Comments"),
		MailQueueSize:     getEnvInt("MAIL_QUEUE_SIZE", 500),
		MailMaxAttempts:   getEnvInt("MAIL_MAX_ATTEMPTS", 3),
		MailRetryDelay:    getEnvDuration("MAIL_RETRY_DELAY", 5*time.Second),
		SpamWords:         getEnvList("SPAM_WORDS", nil),
		SpamMaxLinks:      getEnvInt("SPAM_MAX_LINKS", 3),
		SpamPurgeInterval: getEnvDuration("SPAM_PURGE_INTERVAL", 6*time.Hour),
		FieldNames:        getEnvList("COMMENT_FIELDS", []string{"comments"}),
	}

	// 所有评论字段共用同一组默认配置
	base := models.FieldConfig{
		MaxDepth:            getEnvInt("COMMENTS_MAX_DEPTH", 3),
		ModerationMode:      models.ParseModerationMode(getEnv("COMMENTS_MODERATION", "all")),
		NotifySpamToAdmin:   getEnvBool("COMMENTS_NOTIFY_SPAM", false),
		DeleteSpamAfterDays: getEnvInt("COMMENTS_DELETE_SPAM_DAYS", 3),
		UseNotify:           getEnvBool("COMMENTS_USE_NOTIFY", true),
		NotificationEmail:   getEnv("COMMENTS_NOTIFY_EMAIL", ""),
		UseVotes:            getEnvBool("COMMENTS_USE_VOTES", false),
		UseStars:            getEnvBool("COMMENTS_USE_STARS", false),
		UseWebsite:          getEnvBool("COMMENTS_USE_WEBSITE", true),
		DoubleOptIn:         getEnvBool("COMMENTS_DOUBLE_OPT_IN", true),
		SubcodeSiteWide:     getEnvBool("COMMENTS_SUBCODE_SITEWIDE", false),
		SortNewest:          getEnvBool("COMMENTS_SORT_NEWEST", false),
	}
	cfg.Fields = make(map[string]models.FieldConfig, len(cfg.FieldNames))
	for _, name := range cfg.FieldNames {
		field := base
		field.Name = name
		cfg.Fields[name] = field
	}
	return cfg
}

// Field returns the configuration of a comments field.
func (c *Config) Field(name string) (models.FieldConfig, bool) {
	f, ok := c.Fields[name]
	return f, ok
}

// MailEnabled reports whether every SMTP setting needed to send is present.
func (c *Config) MailEnabled() bool {
	return c.SMTPHost != "" && c.SMTPPort != "" && c.SMTPUser != "" && c.SMTPPass != "" && c.SMTPFrom != ""
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

func getEnvList(key string, defaultVal []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}
