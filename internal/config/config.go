package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"time"
)

const DefaultMuteCacheTTL = 5 * time.Minute

type Config struct {
	DatabaseDSN    string
	ServerAddr     string
	SigningKey     []byte
	AllowedOrigins []string
	// RedisAddr is optional; without it mute lists are read from the database.
	RedisAddr    string
	MuteCacheTTL time.Duration
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	if base64Secret == "" {
		return nil, errors.New("empty secret")
	}

	return base64.StdEncoding.DecodeString(base64Secret)
}

func NewConfig(serverAddr, databaseDSN, base64Secret string, allowedOrigins []string, redisAddr string, muteCacheTTL time.Duration) (*Config, error) {
	if serverAddr == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}
	if databaseDSN == "" {
		return nil, fmt.Errorf("database DSN cannot be empty")
	}
	if base64Secret == "" {
		return nil, fmt.Errorf("signing secret cannot be empty")
	}
	if muteCacheTTL < 0 {
		return nil, fmt.Errorf("mute cache ttl cannot be negative")
	}
	if muteCacheTTL == 0 {
		muteCacheTTL = DefaultMuteCacheTTL
	}

	signingKey, err := decodeSigningSecret(base64Secret)
	if err != nil {
		return nil, fmt.Errorf("decode signing secret: %w", err)
	}

	return &Config{
		DatabaseDSN:    databaseDSN,
		ServerAddr:     serverAddr,
		SigningKey:     signingKey,
		AllowedOrigins: allowedOrigins,
		RedisAddr:      redisAddr,
		MuteCacheTTL:   muteCacheTTL,
	}, nil
}
