package main

import (
	"flag"
	"fmt"
	"log"

	"orgo-sync-server/internal/config"
	"orgo-sync-server/pkg/jwt"
)

// tokengen mints operator JWTs for the HTTP API. The server has no
// login endpoint; operator identity is issued out of band.
func main() {
	subject := flag.String("subject", "", "operator subject (required)")
	tenant := flag.String("tenant", "", "tenant id the token is scoped to (required)")
	ttl := flag.Duration("ttl", 0, "token lifetime (defaults to JWT_EXPIRATION)")
	flag.Parse()

	if *subject == "" || *tenant == "" {
		flag.Usage()
		log.Fatal("both -subject and -tenant are required")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	expiration := cfg.JWT.Expiration
	if *ttl > 0 {
		expiration = *ttl
	}

	token, err := jwt.GenerateToken(*subject, *tenant, expiration, cfg.JWT.Secret)
	if err != nil {
		log.Fatalf("Failed to generate token: %v", err)
	}

	fmt.Println(token)
}
