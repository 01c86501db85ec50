// Seeds the message template table with the built-in defaults so a new
// installation has editable starting points for every notification kind.
// Existing rows are overwritten; run once per environment.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/clinichq/arrivals/internal/storage"
	"github.com/clinichq/arrivals/internal/templates"
)

func main() {
	_ = godotenv.Load()

	databaseURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if databaseURL == "" {
		log.Fatal("DATABASE_URL is required")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	store := storage.NewStore(pool)
	for _, kind := range templates.Kinds() {
		body := templates.Defaults[kind]
		if err := store.SaveTemplate(ctx, templates.Template{Kind: kind, Body: body}); err != nil {
			log.Fatalf("seed %s template: %v", kind, err)
		}
		fmt.Printf("seeded %s template\n", kind)
	}
}
