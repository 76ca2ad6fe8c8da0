package config

import (
	"encoding/json"
	"errors"
	"os"
	"sync"
	"time"

	"github.com/life-stream-dev/life-stream-go-chat-relay/internal/utils"
)

const (
	FileName        = "config.json"
	JWTSecretEnvKey = "CHAT_JWT_SECRET"
)

type DatabaseConfig struct {
	Host               string `json:"host"`
	Port               uint64 `json:"port"`
	Username           string `json:"username"`
	Password           string `json:"password"`
	Database           string `json:"database"`
	UseTLS             bool   `json:"use_tls"`
	InMemory           bool   `json:"in_memory"`
	ConnectTimeout     string `json:"connect_timeout"`
	SocketTimeout      string `json:"socket_timeout"`
	ConnectIdleTimeout string `json:"connect_idle_timeout"`
	OperationTimeout   string `json:"operation_timeout"`
	Heartbeat          string `json:"heartbeat"`
	MinPoolSize        uint64 `json:"min_pool_size"`
	MaxPoolSize        uint64 `json:"max_pool_size"`
}

type RedisConfig struct {
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	Key      string `json:"key"`
	TTL      string `json:"ttl"`
}

// Enabled reports whether the presence mirror should be started.
func (r RedisConfig) Enabled() bool {
	return r.Address != ""
}

type AuthConfig struct {
	JWTSecret     string `json:"jwt_secret"`
	CookieName    string `json:"cookie_name"`
	TokenTTL      string `json:"token_ttl"`
	UserCacheSize int    `json:"user_cache_size"`
	UserCacheTTL  string `json:"user_cache_ttl"`
}

type RelayConfig struct {
	PingInterval    string `json:"ping_interval"`
	PongTimeout     string `json:"pong_timeout"`
	WriteTimeout    string `json:"write_timeout"`
	VerifyTimeout   string `json:"verify_timeout"`
	SendBuffer      int    `json:"send_buffer"`
	MaxMessageSize  int64  `json:"max_message_size"`
	CloseUnverified bool   `json:"close_unverified"`
	UploadDir       string `json:"upload_dir"`
}

func (r RelayConfig) PingIntervalDuration() time.Duration {
	return utils.ParseStringTimeOr(r.PingInterval, 3500*time.Millisecond)
}

func (r RelayConfig) PongTimeoutDuration() time.Duration {
	return utils.ParseStringTimeOr(r.PongTimeout, time.Second)
}

func (r RelayConfig) WriteTimeoutDuration() time.Duration {
	return utils.ParseStringTimeOr(r.WriteTimeout, 10*time.Second)
}

func (r RelayConfig) VerifyTimeoutDuration() time.Duration {
	return utils.ParseStringTimeOr(r.VerifyTimeout, 5*time.Second)
}

type HTTPConfig struct {
	AllowedOrigins []string `json:"allowed_origins"`
}

type Config struct {
	Database  DatabaseConfig `json:"database"`
	Redis     RedisConfig    `json:"redis"`
	Auth      AuthConfig     `json:"auth"`
	Relay     RelayConfig    `json:"relay"`
	HTTP      HTTPConfig     `json:"http"`
	DebugMode bool           `json:"debug_mode"`
	AppName   string         `json:"app_name"`
	AppPort   int            `json:"app_port"`
}

var (
	config      Config
	initialized = false
	mu          sync.Mutex
)

// Default returns the configuration written when no config file exists.
func Default() Config {
	return Config{
		Database: DatabaseConfig{
			Host:               "127.0.0.1",
			Port:               27017,
			Database:           "chat",
			ConnectTimeout:     "10s",
			SocketTimeout:      "30s",
			ConnectIdleTimeout: "5m",
			OperationTimeout:   "5s",
			Heartbeat:          "10s",
			MinPoolSize:        1,
			MaxPoolSize:        50,
		},
		Redis: RedisConfig{
			Key: "chat:online",
			TTL: "1m",
		},
		Auth: AuthConfig{
			CookieName:    "token",
			TokenTTL:      "7d",
			UserCacheSize: 1024,
			UserCacheTTL:  "1m",
		},
		Relay: RelayConfig{
			PingInterval:   "3500ms",
			PongTimeout:    "1000ms",
			WriteTimeout:   "10s",
			VerifyTimeout:  "5s",
			SendBuffer:     64,
			MaxMessageSize: 16 << 20,
			UploadDir:      "uploads",
		},
		AppName: "life-stream-chat-relay",
		AppPort: 4000,
	}
}

// ReadConfig loads FileName from the working directory.
func ReadConfig() (Config, error) {
	return ReadConfigFrom(FileName)
}

func ReadConfigFrom(path string) (Config, error) {
	mu.Lock()
	defer mu.Unlock()

	bytes, err := os.ReadFile(path)
	if err != nil {
		data, _ := json.MarshalIndent(Default(), "", "\t")
		_ = os.WriteFile(path, data, 0644)
		return Default(), errors.New("the configuration file does not exist and has been created. Please try again after editing the configuration file")
	}

	loaded := Default()
	if err = json.Unmarshal(bytes, &loaded); err != nil {
		return loaded, errors.New("the configuration file does not contain valid JSON")
	}

	if secret := os.Getenv(JWTSecretEnvKey); secret != "" {
		loaded.Auth.JWTSecret = secret
	}
	if loaded.Auth.JWTSecret == "" {
		return loaded, errors.New("auth.jwt_secret is empty, set it in the configuration file or via " + JWTSecretEnvKey)
	}

	config = loaded
	initialized = true
	return config, nil
}

func GetConfig() (Config, error) {
	mu.Lock()
	ok := initialized
	mu.Unlock()
	if ok {
		return config, nil
	}
	return ReadConfig()
}
