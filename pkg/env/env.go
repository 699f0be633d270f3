package env

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/jaywantadh/xferstream/pkg/logging"
)

func LoadEnv() {
	err := godotenv.Load()

	if err != nil {
		logging.Log.Debug("No .env file found, using system envs")
	}
}

func GetEnv(key string, fallback string) string {
	if value, exist := os.LookupEnv(key); exist {
		return value
	}
	return fallback
}

// GetEnvInt returns the integer value of key, or fallback when it is unset or malformed.
func GetEnvInt(key string, fallback int) int {
	value, exist := os.LookupEnv(key)
	if !exist {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return n
}
