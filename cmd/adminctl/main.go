// adminctl provisions admin accounts in the primary store. Bypass login
// authenticates only against admin_accounts, so the first admin must be
// seeded here before the gateway's /admin surface is usable.
package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/lanonasis/authgate/pkg/admin/admininfra"
	"github.com/lanonasis/authgate/pkg/admin/adminsrv"
	"github.com/lanonasis/authgate/pkg/config"
)

func main() {
	email := flag.String("email", "", "admin email address")
	password := flag.String("password", "", "admin password (falls back to ADMIN_PASSWORD)")
	flag.Parse()

	if *password == "" {
		*password = os.Getenv("ADMIN_PASSWORD")
	}
	if *email == "" || *password == "" {
		log.Fatal().Msg("usage: adminctl -email <address> -password <password>")
	}

	cfg, err := config.LoadAdminCtl()
	if err != nil {
		log.Fatal().Err(err).Msg("configuration invalid")
	}

	db, err := sqlx.Connect("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to primary database")
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	provisioner := adminsrv.NewProvisioner(admininfra.NewPostgresRepository(db), cfg.OAuth.BcryptCost)
	account, err := provisioner.CreateAccount(ctx, *email, *password)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create admin account")
	}
	log.Info().
		Str("admin_id", account.ID.String()).
		Str("email", account.Email).
		Msg("admin account created")
}
