package main

import (
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

// Config contém os padrões do caixa, lidos de variáveis de ambiente.
// As flags da linha de comando têm precedência.
type Config struct {
	Endpoints []string      `env:"POS_ENDPOINTS" default:"http://localhost:5000,http://localhost:5001"`
	Timeout   time.Duration `env:"POS_TIMEOUT" default:"5s"`
	UserID    string        `env:"POS_USER_ID"`
	Role      string        `env:"POS_USER_ROLE" default:"cashier"`
}

// LoadConfig lê o .env (se existir) e as variáveis de ambiente
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("ℹ️ No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, &env.Options{SliceSep: ","}); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}
	return &cfg, nil
}
