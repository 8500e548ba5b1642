package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/gofiber/fiber/v2"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-router"
	"github.com/joho/godotenv"

	auth "github.com/goliatone/go-account-auth"
	"github.com/goliatone/go-account-auth/activitymap"
	"github.com/goliatone/go-account-auth/media"
)

type serverConfig struct {
	Addr            string        `env:"HTTP_ADDR" envDefault:"0.0.0.0:8080"`
	ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	BodyLimit       int           `env:"HTTP_BODY_LIMIT" envDefault:"6291456"`
	Trace           bool          `env:"LOG_TRACE" envDefault:"false"`
}

func main() {
	os.Exit(exitCode(os.Stderr, run()))
}

// exitCode reports err on w. The logger may not exist yet when run fails, so
// the error is always written here.
func exitCode(w io.Writer, err error) int {
	if err == nil {
		return 0
	}
	fmt.Fprintf(w, "authd: %v\n", err)
	return 1
}

func loadServerConfig() (serverConfig, error) {
	var cfg serverConfig
	if err := env.Parse(&cfg); err != nil {
		return serverConfig{}, goerrors.Wrap(err, goerrors.CategoryValidation, "invalid server config")
	}
	return cfg, nil
}

func run() error {
	// a missing .env is fine, the environment may already be populated
	_ = godotenv.Load()

	srvCfg, err := loadServerConfig()
	if err != nil {
		return err
	}

	lgr := newLogger(srvCfg.Trace)
	logger := lgr.GetLogger("main")

	settings, err := auth.LoadSettingsFromEnv()
	if err != nil {
		logger.Error("invalid auth settings", "error", err)
		return err
	}

	dbCfg, err := auth.LoadDatabaseConfigFromEnv()
	if err != nil {
		logger.Error("invalid database settings", "error", err)
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := auth.OpenDatabase(dbCfg)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		return err
	}
	defer db.Close()

	if err := auth.MigrateDatabase(ctx, db, dbCfg); err != nil {
		logger.Error("failed to migrate database", "error", err)
		return err
	}

	opts := []auth.ServiceOption{
		auth.WithServiceLogger(lgr.GetLogger("auth")),
		auth.WithServiceNotifier(auth.NewLogNotifier(lgr.GetLogger("notifier"))),
		auth.WithServiceActivitySink(activitymap.NewLogSink(lgr.GetLogger("activity"))),
	}

	mediaCfg, err := media.LoadConfigFromEnv()
	if err != nil {
		logger.Error("invalid media settings", "error", err)
		return err
	}
	if mediaCfg.Enabled() {
		uploader, err := media.NewS3Uploader(ctx, mediaCfg)
		if err != nil {
			logger.Error("failed to configure media storage", "error", err)
			return err
		}
		opts = append(opts, auth.WithServiceUploader(uploader))
	} else {
		logger.Warn("S3_BUCKET not set, avatar and cover uploads are disabled")
	}

	store := auth.NewAccountStore(db)
	service, err := auth.NewService(settings, store, opts...)
	if err != nil {
		logger.Error("failed to build auth service", "error", err)
		return err
	}

	app, srv := newHTTPServer(srvCfg, lgr)
	srv.Router().WithLogger(lgr.GetLogger("router"))

	srv.Router().Get("/healthz", func(c router.Context) error {
		if err := db.PingContext(c.Context()); err != nil {
			return err
		}
		return c.NoContent(http.StatusNoContent)
	})

	auth.RegisterAccountRoutes(srv.Router(), service, settings,
		auth.WithControllerLogger(lgr.GetLogger("controller")),
	)

	errc := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", srvCfg.Addr)
		errc <- srv.Serve(srvCfg.Addr)
	}()

	select {
	case err := <-errc:
		if err != nil {
			logger.Error("server stopped", "error", err)
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("gracefully shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), srvCfg.ShutdownTimeout)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		logger.Error("shutdown failed", "error", err)
		return err
	}
	return nil
}

// newHTTPServer returns the go-router server and the fiber app behind it, which
// is kept for shutdown.
func newHTTPServer(cfg serverConfig, lgr *glog.BaseLogger) (*fiber.App, router.Server[*fiber.App]) {
	var app *fiber.App
	srv := router.NewFiberAdapter(func(_ *fiber.App) *fiber.App {
		app = fiber.New(fiber.Config{
			AppName:               "authd",
			DisableStartupMessage: true,
			BodyLimit:             cfg.BodyLimit,
			ErrorHandler:          auth.ErrorHandler(lgr.GetLogger("http")),
		})
		return app
	})
	return app, srv
}

func newLogger(trace bool) *glog.BaseLogger {
	if trace {
		return glog.NewLogger(
			glog.WithLoggerTypePretty(),
			glog.WithLevel(glog.Trace),
			glog.WithName("authd"),
			glog.WithAddSource(true),
			glog.WithRichErrorHandler(goerrors.ToSlogAttributes),
		)
	}
	return glog.NewLogger(
		glog.WithLoggerTypePretty(),
		glog.WithName("authd"),
		glog.WithAddSource(false),
		glog.WithRichErrorHandler(goerrors.ToSlogAttributes),
	)
}
