package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Application settings
type Config struct {
	Server   ServerConfig
	Logging  LoggingConfig
	Sync     SyncConfig
	External ExternalConfig
	Networks NetworksConfig
}

// Server settings
type ServerConfig struct {
	Port           string
	RequestTimeout time.Duration
}

type SyncConfig struct {
	WorkerPoolSize       int
	RequestTimeout       time.Duration
	AuthFlowTimeout      time.Duration
	AuthRetries          int
	AuthBackoff          time.Duration
	PageDelay            time.Duration
	PageSize             int
	MaxPages             int
	MaxDays              int
	ReportingCurrency    string
	AuthFailureThreshold int
	ProxyFailureLimit    int
	UserAgent            string
}

type ExternalConfig struct {
	SinkURL         string
	SinkSecret      string
	CaptchaAPIURL   string
	CaptchaAPIKey   string
	CaptchaPoll     time.Duration
	CaptchaMaxPolls int
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	KafkaBrokers    []string
	KafkaTopic      string
	GoogleAPIKey    string
	CredentialsKey  string
	Proxies         []string
}

// Endpoints of one affiliate network. Not every network uses all three.
type NetworkEndpoints struct {
	BaseURL string
	AuthURL string
	APIURL  string
}

type NetworksConfig map[string]NetworkEndpoints

// Logging settings
type LoggingConfig struct {
	Level string
}

var defaultEndpoints = NetworksConfig{
	"admitad": {
		BaseURL: "https://api.admitad.com",
		AuthURL: "https://api.admitad.com/token/",
		APIURL:  "https://api.admitad.com",
	},
	"boostiny": {
		APIURL: "https://api.boostiny.com",
	},
	"optimise": {
		BaseURL: "https://app.optimisemedia.com",
		AuthURL: "https://auth.optimisemedia.com",
		APIURL:  "https://api.optimisemedia.com",
	},
	"marketeers": {
		BaseURL: "https://app.marketeers.io",
		APIURL:  "https://api.marketeers.io",
	},
	"arabclicks": {
		BaseURL: "https://publishers.arabclicks.com",
	},
	"omolaat": {},
}

func Load() (*Config, error) {
	config := &Config{
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			RequestTimeout: getDurationEnv("SERVER_REQUEST_TIMEOUT", "200s"),
		},
		Sync: SyncConfig{
			WorkerPoolSize:       getIntEnv("WORKER_POOL_SIZE", 5),
			RequestTimeout:       getDurationEnv("REQUEST_TIMEOUT", "30s"),
			AuthFlowTimeout:      getDurationEnv("AUTH_FLOW_TIMEOUT", "180s"),
			AuthRetries:          getIntEnv("AUTH_RETRIES", 2),
			AuthBackoff:          getDurationEnv("AUTH_BACKOFF", "3s"),
			PageDelay:            getDurationEnv("PAGE_DELAY", "100ms"),
			PageSize:             getIntEnv("PAGE_SIZE", 500),
			MaxPages:             getIntEnv("MAX_PAGES", 50),
			MaxDays:              getIntEnv("MAX_SYNC_DAYS", 366),
			ReportingCurrency:    strings.ToUpper(getEnv("REPORTING_CURRENCY", "USD")),
			AuthFailureThreshold: getIntEnv("AUTH_FAILURE_THRESHOLD", 3),
			ProxyFailureLimit:    getIntEnv("PROXY_FAILURE_LIMIT", 3),
			UserAgent: getEnv("USER_AGENT",
				"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"),
		},
		External: ExternalConfig{
			SinkURL:         getEnv("SINK_URL", ""),
			SinkSecret:      getEnv("SINK_SECRET", ""),
			CaptchaAPIURL:   getEnv("CAPTCHA_API_URL", "https://2captcha.com"),
			CaptchaAPIKey:   getEnv("CAPTCHA_API_KEY", ""),
			CaptchaPoll:     getDurationEnv("CAPTCHA_POLL_INTERVAL", "5s"),
			CaptchaMaxPolls: getIntEnv("CAPTCHA_MAX_POLLS", 24),
			RedisAddr:       getEnv("REDIS_ADDR", ""),
			RedisPassword:   getEnv("REDIS_PASSWORD", ""),
			RedisDB:         getIntEnv("REDIS_DB", 0),
			KafkaBrokers:    getListEnv("KAFKA_BROKERS"),
			KafkaTopic:      getEnv("KAFKA_SYNC_LOG_TOPIC", "affsync.sync-logs"),
			GoogleAPIKey:    getEnv("GOOGLE_API_KEY", ""),
			CredentialsKey:  getEnv("CREDENTIALS_KEY", ""),
			Proxies:         getListEnv("PROXIES"),
		},
		Networks: loadNetworks(),
		Logging: LoggingConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
	}

	return config, nil
}

// Endpoints for a network, empty when unknown.
func (n NetworksConfig) Endpoints(network string) NetworkEndpoints {
	return n[network]
}

func loadNetworks() NetworksConfig {
	networks := make(NetworksConfig, len(defaultEndpoints))
	for name, endpoints := range defaultEndpoints {
		prefix := strings.ToUpper(name)
		networks[name] = NetworkEndpoints{
			BaseURL: getEnv(prefix+"_BASE_URL", endpoints.BaseURL),
			AuthURL: getEnv(prefix+"_AUTH_URL", endpoints.AuthURL),
			APIURL:  getEnv(prefix+"_API_URL", endpoints.APIURL),
		}
	}
	return networks
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getDurationEnv(key, defaultValue string) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	duration, _ := time.ParseDuration(defaultValue)
	return duration
}

// comma separated, blanks dropped
func getListEnv(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
