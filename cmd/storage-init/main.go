package main

import (
	"context"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"kanban-tracker/storage"
)

func main() {
	_ = godotenv.Load()
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		log.SetLevel(log.DebugLevel)
	}
	log.Info("storage init starting")

	connStr := os.Getenv("STORAGE_CONNECTION_STRING")
	if connStr == "" {
		log.Fatal("missing STORAGE_CONNECTION_STRING")
	}
	table := strings.TrimSpace(os.Getenv("TASKS_TABLE"))
	if table == "" {
		table = "tasks"
	}

	store, err := storage.New(connStr)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}
	if err := store.EnsureCollection(context.Background(), table); err != nil {
		log.Fatalf("create table %s: %v", table, err)
	}

	log.WithField("table", table).Info("storage init complete")
}
