package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"voyagedesk.app/internal/migrate"
	"voyagedesk.app/internal/obs"
)

func main() {
	log := obs.Logger()
	var (
		dsn     = flag.String("dsn", os.Getenv("VOYAGE_POSTGRES_DSN"), "PostgreSQL DSN")
		dir     = flag.String("migrations", "", "Directory of SQL migrations (defaults to the embedded set)")
		timeout = flag.Duration("timeout", 30*time.Second, "Overall timeout")
	)
	flag.Parse()

	if *dsn == "" {
		log.Fatal().Msg("missing DSN: provide via -dsn or VOYAGE_POSTGRES_DSN")
	}
	if len(flag.Args()) == 0 {
		log.Fatal().Msg("usage: migrate [up|down|status]")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	db, err := sql.Open("pgx", *dsn)
	if err != nil {
		log.Fatal().Err(err).Msg("open db")
	}
	defer db.Close()

	files := migrate.Embedded()
	if *dir != "" {
		files = os.DirFS(*dir)
	}
	mgr := migrate.NewManager(db, files)

	switch flag.Arg(0) {
	case "up":
		var applied []string
		applied, err = mgr.Up(ctx)
		if err == nil {
			log.Info().Strs("applied", applied).Msg("migrate_up")
		}
	case "down":
		var reverted string
		reverted, err = mgr.Down(ctx)
		if err == nil {
			log.Info().Str("reverted", reverted).Msg("migrate_down")
		}
	case "status":
		var statuses []migrate.MigrationStatus
		statuses, err = mgr.Status(ctx)
		if err == nil {
			for _, s := range statuses {
				state := "pending"
				if s.Applied {
					state = "applied"
				}
				fmt.Printf("%-40s %s\n", s.Name, state)
			}
		}
	default:
		log.Fatal().Str("command", flag.Arg(0)).Msg("unknown command")
	}
	if err != nil {
		log.Fatal().Err(err).Str("command", flag.Arg(0)).Msg("migrate failed")
	}
}
