package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	pkgconfig "github.com/tendant/simple-twofa/pkg/config"
	"github.com/tendant/simple-twofa/pkg/enforcement"
	"github.com/tendant/simple-twofa/pkg/login"
	"github.com/tendant/simple-twofa/pkg/loginflow"
	loginapi "github.com/tendant/simple-twofa/pkg/loginflow/api"
	"github.com/tendant/simple-twofa/pkg/notification"
	"github.com/tendant/simple-twofa/pkg/reset"
	resetapi "github.com/tendant/simple-twofa/pkg/reset/api"
	"github.com/tendant/simple-twofa/pkg/router"
	"github.com/tendant/simple-twofa/pkg/sessions"
	"github.com/tendant/simple-twofa/pkg/tokengenerator"
	"github.com/tendant/simple-twofa/pkg/twofa"
	twofaapi "github.com/tendant/simple-twofa/pkg/twofa/api"
)

func main() {
	config, err := pkgconfig.Load(".env")
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	setupLogger(config)

	if err := config.Validate(); err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, config); err != nil {
		slog.Error("Server stopped with error", "error", err)
		os.Exit(1)
	}
}

func setupLogger(config pkgconfig.Config) {
	opts := &slog.HandlerOptions{
		AddSource: true, // Enables line number & file path
		Level:     config.SlogLevel(),
	}
	var handler slog.Handler = slog.NewTextHandler(os.Stdout, opts)
	if config.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func run(ctx context.Context, config pkgconfig.Config) error {
	var checks []func(ctx context.Context) error

	var pool *pgxpool.Pool
	if config.PersistenceType == "postgres" {
		var err error
		pool, err = pgxpool.New(ctx, config.Database.ToDatabaseURL())
		if err != nil {
			slog.Error("Failed creating dbpool", "db", config.Database.Database, "host", config.Database.Host, "port", config.Database.Port, "user", config.Database.User)
			return err
		}
		defer pool.Close()
		checks = append(checks, pool.Ping)
	}

	accountStore, err := twofa.NewAccountStore(config.PersistenceType, twofa.RepositoryConfig{
		Pool:    pool,
		DataDir: config.DataDir,
	})
	if err != nil {
		return err
	}
	slog.Info("Account store ready", "type", config.PersistenceType)

	var rdb *redis.Client
	if config.PendingLoginStore == "redis" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     config.Redis.Addr,
			Password: config.Redis.Password,
			DB:       config.Redis.DB,
		})
		defer rdb.Close()
		checks = append(checks, func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
	}

	pendingStore, err := loginflow.NewPendingLoginStore(config.PendingLoginStore, redisOrNil(rdb))
	if err != nil {
		return err
	}

	var usedCodes loginflow.UsedCodeCache
	var revocations sessions.RevocationStore = sessions.NewInMemoryRevocationStore()
	if rdb != nil {
		revocations = sessions.NewRedisRevocationStore(rdb)
		if config.TwoFA.ReplayGuard {
			usedCodes = loginflow.NewRedisUsedCodeCache(rdb)
		}
	} else if config.TwoFA.ReplayGuard {
		usedCodes = loginflow.NewInMemoryUsedCodeCache()
	}

	hasher, err := login.NewPasswordHasher(config.PasswordHashAlgorithm)
	if err != nil {
		return err
	}
	queryTimeout, _ := config.QueryTimeoutDuration()
	loginService := login.NewLoginService(accountStore,
		login.WithPasswordHasher(hasher),
		login.WithQueryTimeout(queryTimeout),
	)

	verifier := twofa.NewVerifier()
	vault := twofa.NewBackupCodeVault(accountStore,
		twofa.WithBackupCodeCount(config.TwoFA.BackupCodeCount),
		twofa.WithLowThreshold(config.TwoFA.BackupLowThreshold),
	)
	twoFactorService := twofa.NewTwoFactorService(accountStore,
		twofa.WithProvisioner(twofa.NewProvisioner(accountStore, config.TwoFA.Issuer)),
		twofa.WithVerifier(verifier),
		twofa.WithVault(vault),
		twofa.WithCredentialVerifier(hasher),
		twofa.WithQueryTimeout(queryTimeout),
	)

	pendingTTL, _ := config.TwoFA.PendingLoginTTLDuration()
	coordinator, err := loginflow.NewCoordinator(loginflow.ServiceDependencies{
		Authenticator:   loginService,
		Accounts:        accountStore,
		Verifier:        verifier,
		Vault:           vault,
		Pending:         pendingStore,
		UsedCodes:       usedCodes,
		PendingLoginTTL: pendingTTL,
	}, loginflow.WithQueryTimeout(queryTimeout))
	if err != nil {
		return err
	}

	emailNotifier, err := notification.NewEmailNotifier(config.Email.ToSMTPConfig())
	if err != nil {
		return err
	}
	notificationManager, err := notification.NewNotificationManagerWithOptions(emailNotifier, notification.WithDefaultTemplates())
	if err != nil {
		return err
	}

	resetTTL, _ := config.TwoFA.ResetCodeTTLDuration()
	sendTimeout, _ := config.Email.SendTimeoutDuration()
	resetService, err := reset.NewService(accountStore, notificationManager,
		reset.WithResetCodeTTL(resetTTL),
		reset.WithSendTimeout(sendTimeout),
		reset.WithQueryTimeout(queryTimeout),
	)
	if err != nil {
		return err
	}
	// let in-flight reset mails finish before exiting
	defer resetService.Wait()

	generator, err := tokengenerator.NewJwtTokenGenerator(config.Session.Secret, config.Session.Issuer, config.Session.Audience)
	if err != nil {
		return err
	}
	sessionTTL, _ := config.Session.TTLDuration()
	cookieSetter := tokengenerator.NewCookieSetter(true, config.Session.CookieSecure)
	sessionManager := sessions.NewManager(generator,
		sessions.WithCookieName(config.Session.CookieName),
		sessions.WithCookieSetter(cookieSetter),
		sessions.WithTTL(sessionTTL),
		sessions.WithRevocationStore(revocations),
	)

	policyOpts := []enforcement.Option{enforcement.WithSetupPath(config.TwoFA.SetupPath)}
	if len(config.TwoFA.AllowPaths) > 0 {
		policyOpts = append(policyOpts, enforcement.WithAllowPaths(config.TwoFA.AllowPaths...))
	}
	policy := enforcement.NewPolicy(twoFactorService, policyOpts...)

	readTimeout, writeTimeout, requestTimeout, shutdownTimeout := config.Server.Timeouts()
	handler := router.NewRouter(router.Config{
		LoginHandle:    loginapi.NewHandle(coordinator, sessionManager, loginapi.WithPendingCookieSetter(cookieSetter)),
		TwoFaHandle:    twofaapi.NewHandle(twoFactorService),
		ResetHandle:    resetapi.NewHandle(resetService),
		Sessions:       sessionManager,
		Policy:         policy,
		AllowedOrigins: config.Server.AllowedOrigins,
		RequestTimeout: requestTimeout,
		Healthz: func(ctx context.Context) error {
			for _, check := range checks {
				if err := check(ctx); err != nil {
					return err
				}
			}
			return nil
		},
		AppRoutes: func(r chi.Router) {
			r.Get("/me", func(w http.ResponseWriter, r *http.Request) {
				accountID, _ := sessions.AccountIDFromContext(r.Context())
				render.JSON(w, r, map[string]string{"account_id": accountID.String()})
			})
		},
	})

	server := &http.Server{
		Addr:         config.Server.Addr,
		Handler:      handler,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Starting server", "addr", config.Server.Addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// redisOrNil keeps a nil *redis.Client from becoming a non-nil interface
func redisOrNil(rdb *redis.Client) redis.UniversalClient {
	if rdb == nil {
		return nil
	}
	return rdb
}
