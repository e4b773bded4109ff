// Package config loads client configuration from files and the environment.
//
// It uses Viper to read YAML or INI files, godotenv for .env files, and
// maps prefixed environment variables onto config keys. The transport
// settings live under one section (default "sdk"); retry, rate limiting and
// logging sit beside it.
//
// # Usage
//
//	cfg, err := config.Load("billing", config.WithConfigFile("billing.yml"))
//	backend, err := nethttp.New(cfg.Settings, nethttp.WithRetry(cfg.Retry))
//
// Environment variables override file values using the SDK_ prefix
// (e.g., SDK_BASE_URL, SDK_RETRY_MAX_ATTEMPTS).
package config
