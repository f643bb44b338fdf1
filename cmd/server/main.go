package main

import (
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/lanonasis/authgate/pkg/config"
	"github.com/lanonasis/authgate/pkg/errx"
	"github.com/lanonasis/authgate/pkg/kernel"
	"github.com/lanonasis/authgate/pkg/ratelimit"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("configuration invalid")
	}
	setupLogging(cfg)

	log.Info().Str("version", version).Str("env", cfg.Env).Msg("starting auth gateway")

	container := NewContainer(cfg)
	defer container.Cleanup()

	app := fiber.New(fiber.Config{
		AppName:               "Lanonasis Auth Gateway",
		DisableStartupMessage: true,
		ErrorHandler:          globalErrorHandler,
		BodyLimit:             1 * 1024 * 1024,
	})

	app.Use(recover.New(recover.Config{EnableStackTrace: true}))
	app.Use(requestid.New(requestid.Config{
		Header:     "X-Request-ID",
		Generator:  uuid.NewString,
		ContextKey: string(kernel.RequestIDKey),
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: cfg.Server.CORSOrigin,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-API-Key, X-Request-ID",
		AllowMethods: "GET, POST, PUT, DELETE, PATCH, HEAD, OPTIONS",
	}))
	app.Use(requestLogger())

	registerRoutes(app, container)

	app.Use(notFoundHandler)

	go func() {
		addr := ":" + strconv.Itoa(cfg.Server.Port)
		log.Info().Str("addr", addr).Msg("listening")
		if err := app.Listen(addr); err != nil {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("shutting down")

	if err := app.ShutdownWithTimeout(cfg.Server.ShutdownTimeout); err != nil {
		log.Error().Err(err).Msg("forced shutdown")
	}
}

func registerRoutes(app *fiber.App, c *Container) {
	mw := c.AuthMW
	rl := c.Limiter

	c.HealthHandler.RegisterRoutes(app)
	c.OAuthHandler.RegisterMetadata(app)

	// OAuth endpoints, mounted at both the bare and the versioned prefix.
	for _, prefix := range []string{"/oauth", "/api/v1/oauth"} {
		g := app.Group(prefix, mw.Optional())
		g.Get("/authorize", rl.Middleware("authorize", ratelimit.AuthorizeLimit))
		g.Post("/token",
			rl.Middleware("token", ratelimit.TokenLimit),
			c.Audit.Middleware("oauth.token"))
		g.Post("/revoke", rl.Middleware("revoke", ratelimit.RevokeLimit))
		c.OAuthHandler.RegisterRoutes(g)
	}

	// Browser login bridge.
	web := app.Group("/web", mw.Optional())
	web.Post("/login",
		rl.Middleware("login", ratelimit.LoginLimit),
		c.Audit.Middleware("session.login"))
	c.SessionHandler.RegisterRoutes(web)

	// Admin bypass.
	adminGroup := app.Group("/admin")
	adminGroup.Post("/bypass-login",
		rl.Middleware("admin-bypass", ratelimit.AdminBypassLimit),
		c.Audit.Middleware("admin.bypass"))
	c.AdminHandler.RegisterPublicRoutes(adminGroup)
	c.AdminHandler.RegisterProtectedRoutes(adminGroup.Group("", mw.Authenticate(), mw.RequireAdmin()))

	// First-party REST API. The generic budget is configurable; the
	// per-endpoint OAuth and login budgets above are fixed policy.
	apiLimit := ratelimit.APILimit
	if rate := c.Config.Rate; rate.MaxRequests > 0 && rate.WindowMS > 0 {
		apiLimit = ratelimit.Config{
			Limit:  rate.MaxRequests,
			Window: time.Duration(rate.WindowMS) * time.Millisecond,
		}
	}
	api := app.Group("/api/v1", rl.Middleware("api", apiLimit), mw.Authenticate())
	c.APIKeyHandler.RegisterRoutes(api.Group("/api-keys"))
	c.KeystoreHandler.RegisterRoutes(api.Group("/projects"))
}

func setupLogging(cfg *config.Config) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.LogFormat == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}

func requestLogger() fiber.Handler {
	return func(c *fiber.Ctx) error {
		err := c.Next()
		log.Info().
			Str("method", c.Method()).
			Str("path", c.Path()).
			Int("status", c.Response().StatusCode()).
			Str("ip", c.IP()).
			Str("request_id", c.GetRespHeader("X-Request-ID")).
			Msg("request")
		return err
	}
}

func globalErrorHandler(c *fiber.Ctx, err error) error {
	log.Error().
		Err(err).
		Str("method", c.Method()).
		Str("path", c.Path()).
		Str("request_id", c.GetRespHeader("X-Request-ID")).
		Msg("request error")
	return errx.HandleFiber(c, err)
}

func notFoundHandler(c *fiber.Ctx) error {
	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
		"code":    "NOT_FOUND",
		"message": "The requested endpoint does not exist",
		"path":    c.Path(),
		"method":  c.Method(),
	})
}
