package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/0gfoundation/0g-vault/internal/api"
	"github.com/0gfoundation/0g-vault/internal/auth"
	"github.com/0gfoundation/0g-vault/internal/config"
	"github.com/0gfoundation/0g-vault/internal/cosign"
	"github.com/0gfoundation/0g-vault/internal/order"
	"github.com/0gfoundation/0g-vault/internal/settler"
	"github.com/0gfoundation/0g-vault/internal/vault"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync() //nolint:errcheck

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("config load failed", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Redis ─────────────────────────────────────────────────────────────────
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal("redis ping failed", zap.Error(err))
	}

	// ── Co-signer key ─────────────────────────────────────────────────────────
	var cosignerAddr common.Address
	if cfg.Cosign.Enabled {
		key, err := cosign.ParseKey(cfg.Cosign.PrivateKey)
		if err != nil {
			log.Fatal("invalid COSIGNER_KEY", zap.Error(err))
		}
		cosignerAddr = crypto.PubkeyToAddress(key.PublicKey)
		run(ctx, cancel, cfg, rdb, func(sys *vault.System) api.Cosigner {
			cs := cosign.NewSigner(key, sys.Domains(), policyFrom(cfg.Cosign), rdb, log)
			log.Info("co-signer enabled", zap.String("address", cs.Address().Hex()))
			return cs
		}, cosignerAddr, log)
		return
	}
	log.Warn("co-signer disabled; orders need externally gathered co-signatures")
	run(ctx, cancel, cfg, rdb, func(*vault.System) api.Cosigner { return nil }, cosignerAddr, log)
}

// run assembles the vault, starts the settlers and servers, and blocks until
// SIGTERM or SIGINT.
func run(
	ctx context.Context,
	cancel context.CancelFunc,
	cfg *config.Config,
	rdb *redis.Client,
	newCosigner func(*vault.System) api.Cosigner,
	cosignerAddr common.Address,
	log *zap.Logger,
) {
	// ── Vault ─────────────────────────────────────────────────────────────────
	dep, err := vault.FromConfig(cfg, cosignerAddr)
	if err != nil {
		log.Fatal("vault deployment config invalid", zap.Error(err))
	}
	sys, err := vault.New(dep, nil, log)
	if err != nil {
		log.Fatal("vault assembly failed", zap.Error(err))
	}
	cs := newCosigner(sys)

	// ── Settlers (one per queue) ──────────────────────────────────────────────
	queues := []common.Address{dep.MintQueue, dep.RedeemQueue}
	reportDeadLetters(ctx, rdb, queues, log)
	settlers := startSettlers(ctx, queues, cfg.Settler, rdb, sys, log)

	// ── HTTP server ───────────────────────────────────────────────────────────
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: newRouter(api.NewHandler(sys, cs, rdb, log), rdb),
	}
	go func() {
		log.Info("HTTP server starting", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	// ── gRPC health ───────────────────────────────────────────────────────────
	gsrv, hs := newHealthServer()
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.GRPCPort))
	if err != nil {
		log.Fatal("gRPC listen failed", zap.Error(err))
	}
	go func() {
		log.Info("gRPC health server starting", zap.Int("port", cfg.Server.GRPCPort))
		if err := gsrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			log.Error("gRPC server error", zap.Error(err))
		}
	}()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)
	<-quit

	log.Info("shutting down...")
	hs.Shutdown()
	cancel()
	settlers.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeoutSec)*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}
	gsrv.GracefulStop()
	log.Info("shutdown complete")
}

// startSettlers runs one settler per queue. The returned group is done once
// every settler has recorded or requeued its in-flight item and stopped.
func startSettlers(ctx context.Context, queues []common.Address, cfg config.SettlerConfig, rdb *redis.Client, s settler.Settler, log *zap.Logger) *sync.WaitGroup {
	var wg sync.WaitGroup
	for _, q := range queues {
		wg.Add(1)
		go func(q common.Address) {
			defer wg.Done()
			settler.Run(ctx, settler.Config{
				Queue:        q,
				PollTimeout:  time.Duration(cfg.PollTimeoutSec) * time.Second,
				RetryBackoff: time.Duration(cfg.RetryBackoffMs) * time.Millisecond,
			}, rdb, s, log)
		}(q)
	}
	return &wg
}

// newRouter mounts the API under /v1. Operator routes sit behind the signed
// request middleware.
func newRouter(h *api.Handler, rdb *redis.Client) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	h.Register(r.Group("/v1"), r.Group("/v1", auth.Middleware(rdb)))
	return r
}

// newHealthServer reports SERVING for the whole server until Shutdown.
func newHealthServer() (*grpc.Server, *health.Server) {
	gsrv := grpc.NewServer()
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus("vaultd", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(gsrv, hs)
	return gsrv, hs
}

func policyFrom(c config.CosignConfig) cosign.Policy {
	return cosign.Policy{
		MaxDeadline:    time.Duration(c.MaxDeadlineSec) * time.Second,
		MaxSlippageBps: c.MaxSlippageBps,
	}
}

// reportDeadLetters logs the dead-letter backlog left by a previous run.
// Entries are never replayed automatically.
func reportDeadLetters(ctx context.Context, rdb *redis.Client, queues []common.Address, log *zap.Logger) map[common.Address]int64 {
	out := make(map[common.Address]int64, len(queues))
	for _, q := range queues {
		n, err := rdb.LLen(ctx, fmt.Sprintf(order.DLQKeyFmt, q.Hex())).Result()
		if err != nil {
			log.Error("reportDeadLetters: llen", zap.String("queue", q.Hex()), zap.Error(err))
			continue
		}
		out[q] = n
		if n > 0 {
			log.Warn("dead-lettered orders awaiting review", zap.String("queue", q.Hex()), zap.Int64("count", n))
		}
	}
	return out
}
