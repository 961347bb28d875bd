package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"

	"voyagedesk.app/internal/audit"
	"voyagedesk.app/internal/auth"
	"voyagedesk.app/internal/cache"
	"voyagedesk.app/internal/config"
	"voyagedesk.app/internal/httpapi"
	"voyagedesk.app/internal/migrate"
	"voyagedesk.app/internal/obs"
	"voyagedesk.app/internal/store/pg"
)

var (
	version = "0.1.0"
	commit  = "none"
)

func main() {
	configPath := flag.String("config", os.Getenv("VOYAGE_CONFIG"), "Optional config file (yaml, toml or json)")
	flag.Parse()

	log := obs.Logger()
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	if err := obs.SetLevel(cfg.Log.Level); err != nil {
		log.Fatal().Err(err).Msg("log level")
	}
	log = obs.Logger()
	obs.Init()
	obs.InitBuildInfo(version, commit)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		store auth.Store
		pgs   *pg.Store
		probe httpapi.ReadyProbe
	)
	if cfg.Postgres.DSN != "" {
		pgs, err = pg.Open(cfg.Postgres.DSN)
		if err != nil {
			log.Fatal().Err(err).Msg("open postgres")
		}
		defer pgs.Close()
		if cfg.Postgres.AutoMigrate {
			mctx, cancel := context.WithTimeout(ctx, 30*time.Second)
			applied, err := migrate.NewManager(pgs.DB(), migrate.Embedded()).Up(mctx)
			cancel()
			if err != nil {
				log.Fatal().Err(err).Msg("apply migrations")
			}
			log.Info().Strs("applied", applied).Msg("migrations_applied")
		}
		store, probe.DB = pgs, pgs
	} else {
		log.Warn().Msg("postgres.dsn not set, using in-memory store")
		store = auth.NewMemoryStore()
	}

	catalog := auth.DefaultCatalog()
	var (
		agencies auth.AgencyDirectory = store
		dirOpts  []auth.DirectoryOption
	)
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		ac, err := cache.NewAgencyCache(rdb, store, cache.WithTTL(cfg.Redis.CacheTTL))
		if err != nil {
			log.Fatal().Err(err).Msg("agency cache")
		}
		agencies, probe.Cache = ac, ac
		dirOpts = append(dirOpts, auth.WithInvalidator(ac))
	}

	directory, err := auth.NewDirectoryService(store, catalog, dirOpts...)
	if err != nil {
		log.Fatal().Err(err).Msg("directory")
	}

	sinks := audit.MultiSink{audit.LogSink{}}
	if pgs != nil && cfg.Audit.Database {
		sinks = append(sinks, pgs.DecisionLog())
	}
	auditSink := audit.NewAsyncSink(sinks, cfg.Audit.Buffer, cfg.Audit.Timeout)

	model, err := auth.NewModel(catalog, agencies, auth.WithAuditSink(auditSink))
	if err != nil {
		log.Fatal().Err(err).Msg("authorization model")
	}
	identity, err := auth.NewService(store,
		auth.WithTokenSecret(cfg.Auth.TokenSecret),
		auth.WithIssuer(cfg.Auth.Issuer),
		auth.WithAccessTTL(cfg.Auth.AccessTTL),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("identity service")
	}

	if cfg.Auth.BootstrapEmail != "" {
		if err := bootstrapSuperadmin(ctx, directory, cfg.Auth.BootstrapEmail, cfg.Auth.BootstrapPassword); err != nil {
			log.Fatal().Err(err).Msg("bootstrap superadmin")
		}
	}

	api, err := httpapi.New(model, identity, directory, probe, httpapi.Options{
		Version:        version,
		RateLimitRPS:   cfg.HTTP.RateLimitRPS,
		RateLimitBurst: cfg.HTTP.RateLimitBurst,
		MaxBodyBytes:   cfg.HTTP.MaxBodyBytes,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		TrustedProxies: cfg.HTTP.TrustedProxies,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("http api")
	}

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	health := httpapi.NewGRPCHealth(probe)
	grpcSrv := grpc.NewServer()
	health.Register(grpcSrv)
	go health.Run(ctx, 10*time.Second)

	errCh := make(chan error, 2)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", version).Msg("http_listen")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	if cfg.GRPC.Addr != "" {
		lis, err := net.Listen("tcp", cfg.GRPC.Addr)
		if err != nil {
			log.Fatal().Err(err).Msg("grpc listen")
		}
		go func() {
			log.Info().Str("addr", cfg.GRPC.Addr).Msg("grpc_listen")
			if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				errCh <- err
			}
		}()
	}

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting_down")
	case err := <-errCh:
		log.Error().Err(err).Msg("server_failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	health.Shutdown()
	obs.SetReady(false)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http_shutdown")
	}
	grpcSrv.GracefulStop()
	if err := auditSink.Close(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("audit_flush")
	}
	log.Info().Msg("stopped")
}

// bootstrapSuperadmin provisions the configured platform operator once.
func bootstrapSuperadmin(ctx context.Context, directory *auth.DirectoryService, email, password string) error {
	user, err := directory.CreateSuperadmin(ctx, email, password)
	if errors.Is(err, auth.ErrConflict) {
		obs.Logger().Info().Str("email", email).Msg("bootstrap_superadmin_exists")
		return nil
	}
	if err != nil {
		return err
	}
	obs.Logger().Info().Str("user_id", user.ID).Msg("bootstrap_superadmin_created")
	return nil
}
