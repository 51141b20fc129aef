package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/af-corp/relay-router/internal/auth"
	"github.com/jackc/pgx/v5"
)

func main() {
	name := flag.String("name", "", "human-friendly key name (required)")
	env := flag.String("env", "prod", "environment prefix")
	models := flag.String("models", "", "comma-separated model allow-list (empty = all models)")
	rpm := flag.Int("rpm", 0, "requests-per-minute limit (0 = default)")
	tpm := flag.Int("tpm", 0, "tokens-per-minute limit (0 = default)")
	expires := flag.String("expires", "365d", "expiry duration (e.g., 365d, 720h)")
	dbURL := flag.String("db-url", "", "database URL (overrides env)")
	flag.Parse()

	if *name == "" {
		flag.Usage()
		fmt.Fprintln(os.Stderr, "\nerror: -name is required")
		os.Exit(1)
	}

	// Generate key
	rawKey, err := auth.GenerateKey(*env)
	if err != nil {
		log.Fatalf("failed to generate key: %v", err)
	}

	keyHash := auth.HashKey(rawKey)
	keyPrefix := auth.KeyPrefix(rawKey)

	// Parse expiry
	dur, err := auth.ParseDuration(*expires)
	if err != nil {
		log.Fatalf("invalid expires: %v", err)
	}
	expiresAt := time.Now().Add(dur)

	// Connect to database
	dsn := *dbURL
	if dsn == "" {
		dsn = os.Getenv("DATABASE_URL")
	}
	if dsn == "" {
		host := envOrDefault("DB_HOST", "localhost")
		port := envOrDefault("DB_PORT", "5432")
		u := envOrDefault("DB_USER", "relay")
		pass := envOrDefault("DB_PASSWORD", "relay-dev")
		dbname := envOrDefault("DB_NAME", "relay")
		dsn = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", u, pass, host, port, dbname)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer conn.Close(ctx)

	allowList := []string{}
	if *models != "" {
		for _, m := range strings.Split(*models, ",") {
			if m = strings.TrimSpace(m); m != "" {
				allowList = append(allowList, m)
			}
		}
	}
	allowedModels, _ := json.Marshal(allowList)

	// Insert key
	var keyID string
	err = conn.QueryRow(ctx, `
		INSERT INTO api_keys (key_hash, key_prefix, name, allowed_models, rpm_limit, tpm_limit, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`, keyHash, keyPrefix, *name, allowedModels, nilIfZero(*rpm), nilIfZero(*tpm), expiresAt).Scan(&keyID)
	if err != nil {
		log.Fatalf("failed to insert key: %v", err)
	}

	fmt.Println("=== Relay API Key Generated ===")
	fmt.Println()
	fmt.Printf("  Key ID:     %s\n", keyID)
	fmt.Printf("  Key Prefix: %s\n", keyPrefix)
	fmt.Printf("  Name:       %s\n", *name)
	if len(allowList) > 0 {
		fmt.Printf("  Models:     %s\n", strings.Join(allowList, ", "))
	}
	if *rpm > 0 {
		fmt.Printf("  RPM Limit:  %d\n", *rpm)
	}
	fmt.Printf("  Expires:    %s\n", expiresAt.Format(time.RFC3339))
	fmt.Println()
	fmt.Println("  API Key (save this, it will NOT be shown again):")
	fmt.Printf("  %s\n", rawKey)
	fmt.Println()
	fmt.Println("================================")
}

func nilIfZero(v int) *int {
	if v == 0 {
		return nil
	}
	return &v
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
