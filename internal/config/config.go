// Package config содержит логику чтения конфигурации сервиса picopai.
package config

import (
	"flag"
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации сервиса picopai.
type Config struct {
	RunAddress            string `env:"RUN_ADDRESS"`
	DatabaseURI           string `env:"DATABASE_URI"`
	PaymentGatewayAddress string `env:"PAYMENT_GATEWAY_ADDRESS"`
	AuthSecret            string `env:"AUTH_SECRET"`

	// EnforceNonNegativeBalance запрещает списания ниже нуля.
	EnforceNonNegativeBalance bool `env:"ENFORCE_NON_NEGATIVE_BALANCE" envDefault:"true"`
	// RestoreCapacityOnReject возвращает место в задании при отклонении работы.
	RestoreCapacityOnReject bool `env:"RESTORE_CAPACITY_ON_REJECT" envDefault:"false"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envGatewayAddress := cfg.PaymentGatewayAddress
	envAuthSecret := cfg.AuthSecret

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.PaymentGatewayAddress, "g", "", "payment gateway address")
	flag.StringVar(&cfg.AuthSecret, "s", "picopai-secret", "auth cookie signing secret")
	// Для булевых политик значение из окружения служит умолчанием флага.
	flag.BoolVar(&cfg.EnforceNonNegativeBalance, "enforce-balance", cfg.EnforceNonNegativeBalance, "reject debits below zero balance")
	flag.BoolVar(&cfg.RestoreCapacityOnReject, "restore-capacity", cfg.RestoreCapacityOnReject, "restore task capacity when a submission is rejected")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envGatewayAddress != "" {
		cfg.PaymentGatewayAddress = envGatewayAddress
	}
	if envAuthSecret != "" {
		cfg.AuthSecret = envAuthSecret
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}

	return cfg, nil
}
