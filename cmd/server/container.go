// Composition root for the gateway process. This is the only place that
// knows about every module.
package main

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/lanonasis/authgate/pkg/admin/adminhttp"
	"github.com/lanonasis/authgate/pkg/admin/admininfra"
	"github.com/lanonasis/authgate/pkg/admin/adminsrv"
	"github.com/lanonasis/authgate/pkg/apikey/apikeyhttp"
	"github.com/lanonasis/authgate/pkg/apikey/apikeyinfra"
	"github.com/lanonasis/authgate/pkg/apikey/apikeysrv"
	"github.com/lanonasis/authgate/pkg/audit"
	"github.com/lanonasis/authgate/pkg/auth"
	"github.com/lanonasis/authgate/pkg/config"
	"github.com/lanonasis/authgate/pkg/eventlog/eventloginfra"
	"github.com/lanonasis/authgate/pkg/health"
	"github.com/lanonasis/authgate/pkg/keystore/keystorehttp"
	"github.com/lanonasis/authgate/pkg/keystore/keystoreinfra"
	"github.com/lanonasis/authgate/pkg/keystore/keystoresrv"
	"github.com/lanonasis/authgate/pkg/oauth/oauthhttp"
	"github.com/lanonasis/authgate/pkg/oauth/oauthinfra"
	"github.com/lanonasis/authgate/pkg/oauth/oauthsrv"
	"github.com/lanonasis/authgate/pkg/ratelimit"
	"github.com/lanonasis/authgate/pkg/session/sessionhttp"
	"github.com/lanonasis/authgate/pkg/session/sessioninfra"
	"github.com/lanonasis/authgate/pkg/session/sessionsrv"
	"github.com/lanonasis/authgate/pkg/user/userinfra"
)

// Container holds shared infrastructure and the composed modules.
type Container struct {
	Config *config.Config

	DB    *sqlx.DB
	Redis *redis.Client

	EventLog *eventloginfra.PostgresEventLog
	Limiter  *ratelimit.Limiter
	Audit    *audit.Recorder

	OAuthHandler    *oauthhttp.Handler
	SessionHandler  *sessionhttp.Handler
	APIKeyHandler   *apikeyhttp.Handler
	KeystoreHandler *keystorehttp.Handler
	AdminHandler    *adminhttp.Handler
	HealthHandler   *health.Handler

	AuthMW *auth.Middleware
}

func NewContainer(cfg *config.Config) *Container {
	c := &Container{Config: cfg}
	c.initInfrastructure()
	c.initModules()
	return c
}

func (c *Container) initInfrastructure() {
	db, err := sqlx.Connect("postgres", c.Config.Database.URL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	db.SetMaxOpenConns(c.Config.Database.MaxOpenConns)
	db.SetMaxIdleConns(c.Config.Database.MaxIdleConns)
	db.SetConnMaxLifetime(c.Config.Database.ConnMaxLifetime)
	c.DB = db
	log.Info().Msg("database connected")

	c.Redis = redis.NewClient(&redis.Options{
		Addr:     c.Config.Redis.Address(),
		Password: c.Config.Redis.Password,
		DB:       c.Config.Redis.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Redis.Ping(ctx).Err(); err != nil {
		// Redis only backs the client cache and the rate limiter; both
		// degrade gracefully, so a cold Redis does not block startup.
		log.Warn().Err(err).Msg("redis unreachable, starting degraded")
	} else {
		log.Info().Msg("redis connected")
	}
}

func (c *Container) initModules() {
	cfg := c.Config

	c.EventLog = eventloginfra.NewPostgresEventLog(c.DB)
	c.Limiter = ratelimit.NewLimiter(c.Redis)
	c.Audit = audit.NewRecorder(c.EventLog)

	// OAuth protocol engine.
	store := oauthinfra.NewStore(c.DB, c.EventLog, oauthinfra.StoreOptions{
		BcryptCost:      cfg.OAuth.BcryptCost,
		AccessTokenTTL:  cfg.OAuth.AccessTokenTTL,
		RefreshTokenTTL: cfg.OAuth.RefreshTokenTTL,
	})
	cache := oauthinfra.NewRedisCache(c.Redis)
	oauthSvc := oauthsrv.NewOAuthService(store, store, store, store, cache, oauthsrv.ServiceOptions{
		CodeTTL:        cfg.OAuth.AuthCodeTTL,
		DeviceTTL:      cfg.OAuth.DeviceCodeTTL,
		DeviceInterval: int(cfg.OAuth.DeviceInterval.Seconds()),
		AuthBaseURL:    cfg.Server.AuthBaseURL,
		RequirePKCE:    cfg.OAuth.RequirePKCE,
		AllowPlainPKCE: cfg.OAuth.AllowPlainPKCE,
		EnforceState:   cfg.OAuth.EnforceState,
	})
	c.OAuthHandler = oauthhttp.NewHandler(oauthSvc, cfg.Server.AuthBaseURL)

	// Users, sessions, login bridge.
	users := userinfra.NewPostgresRepository(c.DB, c.EventLog)
	sessions := sessioninfra.NewPostgresRepository(c.DB, c.EventLog)
	idp := sessioninfra.NewHTTPIdentityProvider(cfg.Identity.ProviderURL, cfg.Identity.ServiceKey)
	jwtSvc := auth.NewJWTService(cfg.Session.JWTSecret, cfg.Session.TTL, "lanonasis-auth")
	sessionSvc := sessionsrv.NewSessionService(sessions, users, idp, jwtSvc, cfg.Session.TTL)
	c.SessionHandler = sessionhttp.NewHandler(sessionSvc,
		cfg.Session.CookieDomain, cfg.Server.DashboardURL, cfg.Session.TTL, cfg.IsProduction())

	// API keys.
	keys := apikeyinfra.NewPostgresRepository(c.DB, c.EventLog)
	apikeySvc := apikeysrv.NewAPIKeyService(keys, users)
	c.APIKeyHandler = apikeyhttp.NewHandler(apikeySvc)

	// Stored third-party credentials.
	encKey, err := cfg.Keystore.Key()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid keystore encryption key")
	}
	encryptor, err := keystoreinfra.NewAESGCMEncryptor(encKey)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize keystore encryptor")
	}
	keystoreSvc := keystoresrv.NewKeystoreService(
		keystoreinfra.NewPostgresProjects(c.DB),
		keystoreinfra.NewPostgresStoredKeys(c.DB),
		encryptor,
	)
	c.KeystoreHandler = keystorehttp.NewHandler(keystoreSvc)

	// Admin bypass.
	admins := admininfra.NewPostgresRepository(c.DB)
	adminSvc := adminsrv.NewAdminService(admins, users, sessions, store, cache, jwtSvc, cfg.OAuth.BcryptCost)
	c.AdminHandler = adminhttp.NewHandler(adminSvc)

	// Request authentication.
	c.AuthMW = auth.NewMiddleware(jwtSvc, sessionSvc, oauthSvc, apikeySvc)

	c.HealthHandler = health.NewHandler(c.DB, c.Redis, c.EventLog, version)
}

func (c *Container) Cleanup() {
	if c.DB != nil {
		if err := c.DB.Close(); err != nil {
			log.Error().Err(err).Msg("error closing database")
		}
	}
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			log.Error().Err(err).Msg("error closing redis")
		}
	}
}
