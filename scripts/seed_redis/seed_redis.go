package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file — using system environment variables")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     redisGetEnv("REDIS_ADDR", "localhost:6379"),
		Password: redisGetEnv("REDIS_PASSWORD", ""),
		DB:       0,
	})
	defer client.Close()

	ctx := context.Background()

	fmt.Println("Connecting to Redis...")
	if err := client.Ping(ctx).Err(); err != nil {
		log.Fatalf("Connection failed: %v\n\nMake sure Redis is running:\n  docker-compose up -d redis", err)
	}
	fmt.Println("✓ Connected")

	step1_access_limits(ctx, client)

	fmt.Println("\n✅ Redis seeded successfully")
	fmt.Println("   Run next: go run ./scripts/mock_feed")
}

func step1_access_limits(ctx context.Context, client *redis.Client) {
	fmt.Println("\n── Step 1: Seeding access limits ───────────────")

	// Key pattern: access:limit:{api_key} → max historical records.
	// Maintained in production by the authorization service; these are
	// development values.
	accessLimits := map[string]string{
		"access:limit:dashboard_key": "10000",
		"access:limit:analyst_key":   "50000",
		"access:limit:test_key":      "1000",
	}

	for key, limit := range accessLimits {
		if err := client.Set(ctx, key, limit, 0).Err(); err != nil {
			log.Fatalf("Failed to set key %s: %v", key, err)
		}
		fmt.Printf("  ✓ %-30s → %s\n", key, limit)
	}
}

func redisGetEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
