package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"remindme/internal/config"
	"remindme/internal/logging"
	"remindme/internal/store"

	"github.com/joho/godotenv"
)

func main() {
	var (
		envFile string
		count   int
		days    int
		seed    int64
	)
	flag.StringVar(&envFile, "env", ".env", "Environment file to load (.env, .prod.env, etc)")
	flag.IntVar(&count, "count", 20, "Number of reminders to create")
	flag.IntVar(&days, "days", 14, "Spread first fire times over this many days from now")
	flag.Int64Var(&seed, "seed", time.Now().UnixNano(), "Random seed")
	flag.Parse()

	if err := godotenv.Load(envFile); err != nil {
		log.Printf("No %s file loaded, using the environment", envFile)
	}

	ownerStr := os.Getenv("SEED_USER_TG_ID")
	if ownerStr == "" {
		log.Fatal("SEED_USER_TG_ID environment variable is not set. Please set it to the Telegram ID of the user you want to seed reminders for.")
	}
	owner, err := strconv.ParseInt(ownerStr, 10, 64)
	if err != nil {
		log.Fatalf("Invalid SEED_USER_TG_ID: %v", err)
	}

	cfg, err := config.StoreFromEnv()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	logger := logging.GetLogger(cfg.LogLevel, cfg.LogFormat)
	backend, err := store.OpenBackend(store.BackendConfig{
		Kind:         cfg.StoreBackend,
		SnapshotPath: cfg.SnapshotPath,
		SQLitePath:   cfg.SQLitePath,
		DatabaseURL:  cfg.DatabaseURL,
	}, logger)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	s := store.New(backend, logger)
	defer s.Close()

	seeder := NewSeeder(s, owner, seed)
	fmt.Printf("Starting reminder seed for user with TG ID: %d\n", owner)

	n, err := seeder.SeedReminders(context.Background(), time.Now(), count, days)
	if err != nil {
		log.Fatalf("Failed to seed reminders: %v", err)
	}
	fmt.Printf("Seeded %d reminders. Restart the server to arm them.\n", n)
}
