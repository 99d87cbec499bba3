package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	httpapi "github.com/CZERTAINLY/CZERTAINLY-Core-sub003/internal/api/http"
	"github.com/CZERTAINLY/CZERTAINLY-Core-sub003/internal/application/approval"
	"github.com/CZERTAINLY/CZERTAINLY-Core-sub003/internal/application/compliance"
	"github.com/CZERTAINLY/CZERTAINLY-Core-sub003/internal/application/profile"
	"github.com/CZERTAINLY/CZERTAINLY-Core-sub003/internal/application/trigger"
	"github.com/CZERTAINLY/CZERTAINLY-Core-sub003/internal/config"
	domainApproval "github.com/CZERTAINLY/CZERTAINLY-Core-sub003/internal/domain/approval"
	"github.com/CZERTAINLY/CZERTAINLY-Core-sub003/internal/domain/certificate"
	domainCompliance "github.com/CZERTAINLY/CZERTAINLY-Core-sub003/internal/domain/compliance"
	domainProfile "github.com/CZERTAINLY/CZERTAINLY-Core-sub003/internal/domain/profile"
	domainTrigger "github.com/CZERTAINLY/CZERTAINLY-Core-sub003/internal/domain/trigger"
	"github.com/CZERTAINLY/CZERTAINLY-Core-sub003/internal/infrastructure/connector"
	"github.com/CZERTAINLY/CZERTAINLY-Core-sub003/internal/infrastructure/memory"
	"github.com/CZERTAINLY/CZERTAINLY-Core-sub003/internal/infrastructure/metrics"
	"github.com/CZERTAINLY/CZERTAINLY-Core-sub003/internal/infrastructure/postgres"
	"github.com/CZERTAINLY/CZERTAINLY-Core-sub003/internal/infrastructure/rediscache"
	"github.com/CZERTAINLY/CZERTAINLY-Core-sub003/internal/infrastructure/sse"
)

type repositories struct {
	profiles           domainProfile.Repository
	approvals          domainApproval.Repository
	index              domainCompliance.IndexRepository
	complianceProfiles domainCompliance.ProfileRepository
	certificates       certificate.Repository
	triggers           domainTrigger.Repository
	objects            domainTrigger.ObjectStore
	close              func()
}

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("config error")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}
	logger = logger.Level(cfg.Log.LogLevel())

	ctx := context.Background()
	repos, err := openRepositories(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("storage error")
	}
	defer repos.close()

	// infrastructure
	sseHub := sse.NewHub(logger)
	m := metrics.New()
	client := connector.NewClient(connector.Config{RetryMax: cfg.Compliance.ConnectorRetries}, logger)

	var cache compliance.ExistenceCache
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn().Err(err).Msg("redis unreachable, index lookups fall through to the store")
		}
		cache = rediscache.NewExistenceCache(rdb, cfg.Redis.TTL)
	}

	// services
	approvalSvc := approval.NewService(repos.approvals, repos.profiles, sseHub, m, logger,
		approval.WithVoteRetry(cfg.Approval.VoteRetryMaxElapsed))
	profileSvc := profile.NewService(repos.profiles, repos.approvals, sseHub, logger)
	index := compliance.NewIndex(repos.index, cache, logger)
	engine := compliance.NewEngine(repos.certificates, repos.complianceProfiles, index, client, sseHub, m, compliance.Config{
		ConnectorTimeout:     cfg.Compliance.ConnectorTimeout,
		ConnectorConcurrency: cfg.Compliance.ConnectorConcurrency,
		BatchWorkers:         cfg.Compliance.BatchWorkers,
	}, logger)
	triggerSvc := trigger.NewService(repos.triggers, repos.objects, approvalSvc, sseHub, logger)
	approvalSvc.RegisterExecutor(approval.AnyResource, trigger.ApprovalAction, triggerSvc)

	// API server
	apiServer := httpapi.NewServer(profileSvc, approvalSvc, engine, index, triggerSvc, sseHub, m.Handler(), logger)

	httpServer := &http.Server{
		Addr:        cfg.Server.Addr,
		Handler:     apiServer.Router(),
		ReadTimeout: cfg.Server.ReadTimeout,
		IdleTimeout: 60 * time.Second,
	}

	// background loops
	loopCtx, stopLoops := context.WithCancel(ctx)
	var loops sync.WaitGroup

	loops.Add(1)
	go func() {
		defer loops.Done()
		ticker := time.NewTicker(cfg.Approval.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				n, err := approvalSvc.ExpireApprovals(loopCtx, cfg.Approval.SweepBatch)
				if err != nil && !errors.Is(err, context.Canceled) {
					logger.Error().Err(err).Msg("approval expiry sweep failed")
				} else if n > 0 {
					logger.Info().Int("expired", n).Msg("approval expiry sweep")
				}
			}
		}
	}()

	if cfg.Compliance.ScheduleInterval > 0 {
		loops.Add(1)
		go func() {
			defer loops.Done()
			ticker := time.NewTicker(cfg.Compliance.ScheduleInterval)
			defer ticker.Stop()
			for {
				select {
				case <-loopCtx.Done():
					return
				case <-ticker.C:
					if _, err := engine.CheckAll(loopCtx); err != nil && !errors.Is(err, context.Canceled) {
						logger.Error().Err(err).Msg("scheduled compliance check failed")
					}
				}
			}
		}()
	}

	// start server
	go func() {
		logger.Info().Str("addr", cfg.Server.Addr).Str("db", cfg.Database.Driver).Msg("http server started")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	// graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info().Msg("shutting down")

	// Closing the hub ends open event streams so Shutdown does not wait on them.
	sseHub.Stop()
	ctxShutdown, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctxShutdown); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
	stopLoops()
	loops.Wait()
	engine.Wait()
}

func openRepositories(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*repositories, error) {
	if cfg.Database.Driver == config.DriverMemory {
		logger.Warn().Msg("using in-memory storage, state is lost on restart")
		profiles := memory.NewProfileRepository()
		return &repositories{
			profiles:           profiles,
			approvals:          memory.NewApprovalRepositoryFor(profiles),
			index:              memory.NewIndexRepository(),
			complianceProfiles: memory.NewComplianceProfileRepository(),
			certificates:       memory.NewCertificateRepository(),
			triggers:           memory.NewTriggerRepository(),
			objects:            memory.NewObjectStore(),
			close:              func() {},
		}, nil
	}

	pool, err := postgres.NewPool(ctx, cfg.Database.URL)
	if err != nil {
		return nil, err
	}
	if cfg.Database.Migrate {
		if err := postgres.RunMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
	}
	return &repositories{
		profiles:           postgres.NewProfileRepository(pool),
		approvals:          postgres.NewApprovalRepository(pool),
		index:              postgres.NewIndexRepository(pool),
		complianceProfiles: postgres.NewComplianceProfileRepository(pool),
		certificates:       postgres.NewCertificateRepository(pool),
		triggers:           postgres.NewTriggerRepository(pool),
		objects:            postgres.NewObjectStore(pool),
		close:              pool.Close,
	}, nil
}
