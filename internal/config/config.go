package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// DevUser is a relay-side development account: an opaque bearer token
// mapped to a username/password pair. Production auth (JWT issuance,
// refresh tokens) is out of scope for the dev relay.
type DevUser struct {
	Username string
	Password string
	Token    string
}

type Config struct {
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	ServerPort string
	ServerHost string

	// Worker pool configuration for the relay's persistence queue
	PersistWorkers   int
	PersistQueueSize int

	// Optional cross-instance fanout
	RedisAddr string

	// Relay development accounts, RELAY_USERS="user:pass:token,..."
	DevUsers []DevUser

	// Agent settings
	RelayURL   string // ws:// base of the relay
	APIBaseURL string // http:// base of the document API
	AuthToken  string
	Username   string
	Password   string
	DocumentID string
	UserID     string
	CachePath  string // bbolt snapshot cache

	// Observability
	JaegerEndpoint string
}

func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", "postgres"),
		DBName:     getEnv("DB_NAME", "draftsync"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),

		ServerPort: getEnv("SERVER_PORT", "8080"),
		ServerHost: getEnv("SERVER_HOST", "localhost"),

		PersistWorkers:   getEnvInt("PERSIST_WORKERS", 2),
		PersistQueueSize: getEnvInt("PERSIST_QUEUE_SIZE", 256),

		RedisAddr: getEnv("REDIS_ADDR", ""),

		RelayURL:   getEnv("RELAY_URL", "ws://localhost:8080"),
		APIBaseURL: getEnv("API_BASE_URL", "http://localhost:8080"),
		AuthToken:  getEnv("AUTH_TOKEN", ""),
		Username:   getEnv("DRAFTSYNC_USER", ""),
		Password:   getEnv("DRAFTSYNC_PASSWORD", ""),
		DocumentID: getEnv("DOCUMENT_ID", ""),
		UserID:     getEnv("USER_ID", ""),
		CachePath:  getEnv("CACHE_PATH", ".draftsync/cache.db"),

		JaegerEndpoint: getEnv("JAEGER_ENDPOINT", "http://localhost:14268/api/traces"),
	}

	users, err := parseDevUsers(getEnv("RELAY_USERS", "dev:dev:dev-token"))
	if err != nil {
		return nil, err
	}
	cfg.DevUsers = users

	return cfg, nil
}

func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName, c.DBSSLMode)
}

// UserForToken resolves a bearer token to a dev account.
func (c *Config) UserForToken(token string) (DevUser, bool) {
	for _, u := range c.DevUsers {
		if u.Token == token {
			return u, true
		}
	}
	return DevUser{}, false
}

// UserForCredentials resolves a username/password pair to a dev account.
func (c *Config) UserForCredentials(username, password string) (DevUser, bool) {
	for _, u := range c.DevUsers {
		if u.Username == username && u.Password == password {
			return u, true
		}
	}
	return DevUser{}, false
}

func parseDevUsers(raw string) ([]DevUser, error) {
	if raw == "" {
		return nil, nil
	}

	var users []DevUser
	for _, entry := range strings.Split(raw, ",") {
		parts := strings.Split(strings.TrimSpace(entry), ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("invalid RELAY_USERS entry %q (want user:pass:token)", entry)
		}
		users = append(users, DevUser{Username: parts[0], Password: parts[1], Token: parts[2]})
	}
	return users, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
