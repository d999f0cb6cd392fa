package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"prediction-ledger/internal/auth"
	"prediction-ledger/internal/config"
)

// Mints a service token for the protected sync endpoints.
func main() {
	service := flag.String("service", "ops", "service name embedded in the token claims")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	auth.InitJWT(cfg.App.JWTSecret)

	token, err := auth.GenerateToken(*service, *ttl)
	if err != nil {
		log.Fatalf("Failed to generate token: %v", err)
	}

	fmt.Println(token)
}
