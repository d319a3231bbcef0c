package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	Port                  string
	AllowedOrigin         string
	DatabaseURL           string
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	RegisterID            string
	AuthSecret            string
	AccessTokenTTLMinutes int
	ManagerPIN            string
	LogLevel              string
	LogFormat             string
	LogOutput             string
	PrinterKind           string
	PrinterDevice         string
	PrintJobDelayMS       int
	BusinessName          string
	BusinessAddress       string
	CurrencyPrefix        string
	Timezone              string
}

// LoadDotEnv reads an optional .env file into the process environment.
// Variables already set take precedence.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	existing := make([]string, 0, len(paths))
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return godotenv.Load(existing...)
}

func Load() Config {
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	tokenTTL, err := strconv.Atoi(getEnv("ACCESS_TOKEN_TTL_MINUTES", "480"))
	if err != nil || tokenTTL < 1 {
		tokenTTL = 480
	}
	printDelay, err := strconv.Atoi(getEnv("PRINT_JOB_DELAY_MS", "500"))
	if err != nil || printDelay < 0 {
		printDelay = 500
	}

	cfg := Config{
		Port:                  getEnv("PORT", "8080"),
		AllowedOrigin:         getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
		RedisDB:               redisDB,
		RegisterID:            getEnv("REGISTER_ID", "register-1"),
		AuthSecret:            strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes: tokenTTL,
		ManagerPIN:            strings.TrimSpace(os.Getenv("MANAGER_PIN")),
		LogLevel:              getEnv("LOG_LEVEL", "info"),
		LogFormat:             getEnv("LOG_FORMAT", "console"),
		LogOutput:             getEnv("LOG_OUTPUT", "stdout"),
		PrinterKind:           strings.ToLower(getEnv("PRINTER_KIND", "none")),
		PrinterDevice:         getEnv("PRINTER_DEVICE", "/dev/usb/lp0"),
		PrintJobDelayMS:       printDelay,
		BusinessName:          getEnv("BUSINESS_NAME", "RageFit Gym"),
		BusinessAddress:       getEnv("BUSINESS_ADDRESS", "Tagum City, Davao Region"),
		CurrencyPrefix:        getEnv("CURRENCY_PREFIX", "P"),
		Timezone:              getEnv("TIMEZONE", "Asia/Manila"),
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}
