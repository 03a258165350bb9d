package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-grants"
	"github.com/goliatone/go-grants/action"
	"github.com/goliatone/go-grants/activitymap"
	"github.com/goliatone/go-grants/config"
	"github.com/goliatone/go-grants/logging"
	"github.com/goliatone/go-grants/middleware/jwtware"
	"github.com/goliatone/go-grants/repository"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
	"github.com/sirupsen/logrus"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

type App struct {
	config *config.Config
	logger *logrus.Logger
	db     *bun.DB
	store  grants.Store
	ctrl   *grants.HTTPController
	srv    router.Server[*fiber.App]
}

func (a *App) GetLogger(name string) grants.Logger {
	return logging.NewAdapter(a.logger, name)
}

func main() {
	configPath := flag.String("config", "grantd.toml", "path to the TOML configuration file")
	envFile := flag.String("env", ".env", "path to an optional .env file")
	flag.Parse()

	cfg, err := config.Load(*envFile, *configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "grantd: %v\n", err)
		os.Exit(1)
	}

	lgr, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "grantd: %v\n", err)
		os.Exit(1)
	}

	lgr.Debugf("configuration: %v", print.MaybePrettyJSON(cfg.Server))

	app := &App{
		config: cfg,
		logger: lgr,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := WithPersistence(ctx, app); err != nil {
		lgr.Fatal(err)
	}

	if err := WithGrants(ctx, app); err != nil {
		lgr.Fatal(err)
	}

	if err := WithHTTPServer(ctx, app); err != nil {
		lgr.Fatal(err)
	}

	app.srv.Serve(cfg.Server.Addr)
	lgr.Infof("grantd listening on %s%s", cfg.Server.Addr, cfg.Server.BasePath)

	errs, ectx := errgroup.WithContext(ctx)

	errs.Go(func() error {
		return RunSweeper(ectx, app.store, cfg.Server.SweepInterval.Std(), app.GetLogger("sweeper"))
	})

	errs.Go(func() error {
		sig := WaitExitSignal(ectx)
		lgr.Infof("shutting down: %v", sig)
		cancel()
		return nil
	})

	if err := errs.Wait(); err != nil {
		lgr.Error(err)
	}

	if app.db != nil {
		_ = app.db.Close()
	}
}

func WithPersistence(ctx context.Context, app *App) error {
	if app.config.Database.Driver == "memory" {
		app.store = grants.NewMemoryStore()
		return nil
	}

	db, err := sql.Open(sqliteshim.ShimName, app.config.Database.DSN)
	if err != nil {
		return err
	}

	app.db = bun.NewDB(db, sqlitedialect.New())

	mngr := repository.NewRepositoryManager(app.db)
	mngr.MustValidate()

	if err := mngr.Migrate(ctx); err != nil {
		return err
	}

	app.store = mngr.Grants()
	return nil
}

func WithGrants(_ context.Context, app *App) error {
	cfg := app.config
	opts := cfg.GrantOptions()

	clients, err := cfg.ClientRegistry()
	if err != nil {
		return err
	}

	identities, err := cfg.IdentityProvider()
	if err != nil {
		return err
	}

	activity := grants.ActivitySinkFunc(func(_ context.Context, e grants.ActivityEvent) error {
		record := activitymap.Normalize(e)
		app.logger.WithFields(logrus.Fields(record.Fields())).Info("grant activity")
		return nil
	})

	invoker := action.NewInvoker(
		action.WithLogger(app.GetLogger("action")),
		action.WithDefaultTimeout(cfg.Invoker.DefaultTimeout.Std()),
		action.WithRateLimit(rate.Limit(cfg.Invoker.RateLimit), cfg.Invoker.Burst),
		action.WithMaxResponseBytes(cfg.Invoker.MaxResponseBytes),
	)

	tokens := grants.NewTokenService([]byte(opts.SigningKey), opts.Issuer, app.GetLogger("tokens"))

	issuer := grants.NewTokenIssuer(opts, tokens,
		grants.WithPreIssueActions(cfg.ActionResolver(), invoker),
		grants.WithIssuerLogger(app.GetLogger("issuer")),
		grants.WithIssuerActivitySink(activity),
	)

	authCode := grants.NewAuthCodeFlow(opts, app.store, clients, identities, issuer,
		grants.WithLogger(app.GetLogger("authcode")),
		grants.WithActivitySink(activity),
	)

	device := grants.NewDeviceFlow(opts, app.store, clients, identities, issuer,
		grants.WithLogger(app.GetLogger("device")),
		grants.WithActivitySink(activity),
	)

	app.ctrl = grants.NewHTTPController(authCode, device, clients, grants.HTTPConfig{
		LoginPage:   cfg.Server.LoginPage,
		ConsentPage: cfg.Server.ConsentPage,
		TokenGuard: jwtware.New(jwtware.Config{
			TokenValidator: tokens,
			RequiredScopes: []string{"openid"},
		}),
	}, app.GetLogger("http"))

	return nil
}

func WithHTTPServer(_ context.Context, app *App) error {
	srv := router.NewFiberAdapter(func(a *fiber.App) *fiber.App {
		return router.DefaultFiberOptions(fiber.New(fiber.Config{
			UnescapePath:      true,
			EnablePrintRoutes: false,
			StrictRouting:     false,
		}))
	})

	app.ctrl.RegisterRoutes(srv.Router().Group(app.config.Server.BasePath))

	app.srv = srv
	return nil
}

// RunSweeper removes expired grant state every interval until ctx is done.
func RunSweeper(ctx context.Context, store grants.Store, interval time.Duration, logger grants.Logger) error {
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			removed, err := store.Sweep(ctx, now)
			if err != nil {
				logger.Error("sweep failed: %v", err)
				continue
			}
			if removed > 0 {
				logger.Debug("swept %d expired records", removed)
			}
		}
	}
}

// WaitExitSignal blocks until an exit signal arrives or ctx is done.
func WaitExitSignal(ctx context.Context) os.Signal {
	ch := make(chan os.Signal, 3)
	signal.Notify(ch,
		syscall.SIGINT,
		syscall.SIGQUIT,
		syscall.SIGTERM,
	)
	defer signal.Stop(ch)

	select {
	case sig := <-ch:
		return sig
	case <-ctx.Done():
		return nil
	}
}
