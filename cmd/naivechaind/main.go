package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/naivechain/internal/api"
	"github.com/jmerrifield20/naivechain/internal/auth"
	"github.com/jmerrifield20/naivechain/internal/config"
	"github.com/jmerrifield20/naivechain/internal/node"
	"github.com/jmerrifield20/naivechain/internal/peer"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 15 * time.Second

var cfgFile string

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "naivechaind",
	Short: "Run a naivechain node",
	Long: `naivechaind runs a single chain node. It serves the admin HTTP API on
http.port and accepts peer websocket connections on p2p.port. Peers listed in
the configuration (or the PEERS environment variable) are dialled at startup.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		logger, err := newLogger(cfg.Log)
		if err != nil {
			return fmt.Errorf("build logger: %w", err)
		}
		defer logger.Sync() //nolint:errcheck

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := run(ctx, cfg, logger); err != nil {
			logger.Error("node exited with error", zap.Error(err))
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.Flags().StringVar(&cfgFile, "config", "", "config file (default ./configs/naivechain.yaml or ./naivechain.yaml)")
}

func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	}
	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	zc.Level = level
	return zc.Build()
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	// ── Node + peer transport ─────────────────────────────────────────────────
	n := node.New(logger)
	transport := peer.NewTransport(peer.Config{
		SendQueue:        cfg.P2P.SendQueue,
		MaxMessageBytes:  cfg.P2P.MaxMessageBytes,
		HandshakeTimeout: cfg.P2P.HandshakeTimeout,
	}, n, logger.Named("p2p"))
	n.SetDialer(transport)

	admin := auth.NewIssuer(cfg.Admin.Secret, cfg.Admin.TokenTTL)
	if !admin.Enabled() {
		logger.Warn("admin.secret is empty; mineBlock and addPeer are open to any client")
	}

	// ── HTTP Router ───────────────────────────────────────────────────────────
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := api.NewRouter(ctx, api.RouterConfig{
		CORSOrigins:  cfg.HTTP.CORSOrigins,
		RateLimitRPS: cfg.HTTP.RateLimitRPS,
	}, n, admin, logger.Named("http"))

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	p2pSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.P2P.Port),
		Handler:           transport,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return n.Run(gctx) })
	g.Go(func() error {
		logger.Info("admin HTTP listening", zap.Int("port", cfg.HTTP.Port))
		return listen(httpSrv)
	})
	g.Go(func() error {
		logger.Info("p2p websocket listening", zap.Int("port", cfg.P2P.Port))
		return listen(p2pSrv)
	})

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down node...")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpSrv.Shutdown(sctx); err != nil {
			logger.Error("HTTP shutdown error", zap.Error(err))
		}
		if err := p2pSrv.Shutdown(sctx); err != nil {
			logger.Error("p2p shutdown error", zap.Error(err))
		}
		return nil
	})

	if len(cfg.Peers) > 0 {
		logger.Info("connecting to initial peers", zap.Strings("peers", cfg.Peers))
		if err := n.Connect(cfg.Peers); err != nil {
			logger.Warn("initial peer connect", zap.Error(err))
		}
	}

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("node stopped")
	return nil
}

// listen runs srv until it is shut down.
func listen(srv *http.Server) error {
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen %s: %w", srv.Addr, err)
	}
	return nil
}
