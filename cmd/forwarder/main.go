// The forwarder drains the auth outbox into the read-side Postgres and
// runs the scheduled purge of expired credentials. It is the only process
// that writes to the read side.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/lanonasis/authgate/pkg/config"
	"github.com/lanonasis/authgate/pkg/eventlog"
	"github.com/lanonasis/authgate/pkg/eventlog/eventloginfra"
	"github.com/lanonasis/authgate/pkg/oauth/oauthinfra"
	"github.com/lanonasis/authgate/pkg/session/sessioninfra"
)

func main() {
	cfg, err := config.LoadForwarder()
	if err != nil {
		log.Fatal().Err(err).Msg("configuration invalid")
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	primary, err := sqlx.Connect("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to primary database")
	}
	defer primary.Close()

	readside, err := sqlx.Connect("postgres", cfg.Database.ReadsideURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to read-side database")
	}
	defer readside.Close()

	outbox := eventloginfra.NewPostgresEventLog(primary)
	applier := eventloginfra.NewReadsideApplier(readside)
	forwarder := eventlog.NewForwarder(outbox, applier, log.Logger,
		eventlog.WithBatchSize(cfg.Outbox.BatchSize),
		eventlog.WithPollInterval(cfg.Outbox.PollInterval),
		eventlog.WithMaxAttempts(cfg.Outbox.MaxAttempts),
		eventlog.WithMaxBackoff(cfg.Outbox.MaxBackoff),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	scheduler := startPurgeSchedule(ctx, primary)
	defer scheduler.Stop()

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		sig := <-sigChan
		log.Info().Str("signal", sig.String()).Msg("shutting down")
		cancel()
	}()

	if err := forwarder.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("forwarder stopped with error")
	}
}

// startPurgeSchedule deletes long-expired credentials hourly. Retention
// lag keeps rows around briefly for incident forensics.
func startPurgeSchedule(ctx context.Context, db *sqlx.DB) *cron.Cron {
	store := oauthinfra.NewStore(db, eventloginfra.NewPostgresEventLog(db), oauthinfra.StoreOptions{})
	sessions := sessioninfra.NewPostgresRepository(db, eventloginfra.NewPostgresEventLog(db))

	const retention = 24 * time.Hour

	c := cron.New()
	_, err := c.AddFunc("@hourly", func() {
		purgeCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
		defer cancel()

		if n, err := store.PurgeExpiredCodes(purgeCtx, retention); err != nil {
			log.Error().Err(err).Msg("code purge failed")
		} else if n > 0 {
			log.Info().Int64("deleted", n).Msg("purged expired authorization codes")
		}
		if n, err := store.PurgeExpiredTokens(purgeCtx, retention); err != nil {
			log.Error().Err(err).Msg("token purge failed")
		} else if n > 0 {
			log.Info().Int64("deleted", n).Msg("purged expired tokens")
		}
		if n, err := store.PurgeExpiredDevices(purgeCtx, retention); err != nil {
			log.Error().Err(err).Msg("device purge failed")
		} else if n > 0 {
			log.Info().Int64("deleted", n).Msg("purged expired device authorizations")
		}
		if n, err := sessions.PurgeExpired(purgeCtx, retention); err != nil {
			log.Error().Err(err).Msg("session purge failed")
		} else if n > 0 {
			log.Info().Int64("deleted", n).Msg("purged expired sessions")
		}
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to schedule purge")
	}
	c.Start()
	return c
}
