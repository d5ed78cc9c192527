// Command peld is the BMC PEL daemon binary. It loads a YAML configuration
// file, opens the PEL repository and message registry, starts the
// host-notification transport, the durable delivery queue, the optional
// fleet-index mirror, and the gRPC/REST bus surfaces, and shuts down
// gracefully on SIGTERM or SIGINT.
package main

import (
	"context"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"

	"github.com/openbmc/pel-logd/internal/bus/rest"
	"github.com/openbmc/pel-logd/internal/config"
	"github.com/openbmc/pel-logd/internal/extension"
	"github.com/openbmc/pel-logd/internal/fleetindex"
	"github.com/openbmc/pel-logd/internal/manager"
	"github.com/openbmc/pel-logd/internal/notifier"
	"github.com/openbmc/pel-logd/internal/pel/registry"
	"github.com/openbmc/pel-logd/internal/pel/section"
	"github.com/openbmc/pel-logd/internal/queue"
	"github.com/openbmc/pel-logd/internal/repository"
	"github.com/openbmc/pel-logd/internal/sysinfo"

	busgrpc "github.com/openbmc/pel-logd/internal/bus/grpc"
	pelpb "github.com/openbmc/pel-logd/proto/pel"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "/etc/pel-logd/config.yaml", "path to the daemon's YAML configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pel-logd: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)
	logger.Info("pel daemon starting", slog.String("bmc_id", cfg.BMCID))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	regFile, err := os.Open(cfg.RegistryPath)
	if err != nil {
		logger.Error("failed to open message registry", slog.Any("error", err))
		os.Exit(1)
	}
	reg, err := registry.Parse(regFile)
	regFile.Close()
	if err != nil {
		logger.Error("failed to parse message registry", slog.Any("error", err))
		os.Exit(1)
	}

	repo, err := repository.New(repository.Config{
		LogDir:      cfg.Repository.LogDir,
		ArchiveDir:  cfg.Repository.ArchiveDir,
		DBPath:      cfg.Repository.DBPath,
		MaxRepoSize: cfg.Repository.MaxRepoSize,
		MaxNumPELs:  cfg.Repository.MaxNumPELs,
	}, logger)
	if err != nil {
		logger.Error("failed to open repository", slog.Any("error", err))
		os.Exit(1)
	}
	defer repo.Close()

	watcher, err := repository.NewWatcher(repo, logger)
	if err != nil {
		logger.Error("failed to start repository reconciliation watcher", slog.Any("error", err))
		os.Exit(1)
	}
	watcher.Start(ctx)
	defer watcher.Stop()

	idAlloc := repository.NewIDAllocator(filepath.Join(filepath.Dir(cfg.Repository.DBPath), "next_id"))

	ext := extension.Default

	var mirror *fleetindex.Mirror
	if cfg.FleetIndex != nil {
		mirror, err = fleetindex.New(ctx, cfg.FleetIndex.ConnStr, cfg.BMCID,
			cfg.FleetIndex.BatchSize, cfg.FleetIndex.FlushInterval)
		if err != nil {
			logger.Error("failed to start fleet index mirror", slog.Any("error", err))
			os.Exit(1)
		}
		defer mirror.Close(context.Background())

		ext.RegisterPostCreate(func(obmcLogID uint32) {
			attrs, ok := repo.Get(obmcLogID)
			if !ok {
				return
			}
			pelID, _ := repo.PELIDForOBMC(obmcLogID)
			if err := mirror.Record(ctx, fleetindex.Entry{
				BMCID:      cfg.BMCID,
				OBMCLogID:  obmcLogID,
				PELID:      pelID,
				Creator:    byte(attrs.Creator),
				Severity:   uint8(attrs.Severity),
				SizeOnDisk: attrs.SizeOnDisk,
				CreatedAt:  time.Now().UTC(),
			}); err != nil {
				logger.Warn("fleet index: failed to record PEL", slog.Any("error", err))
			}
		})
		ext.RegisterPostDelete(func(obmcLogID uint32) {
			if err := mirror.Forget(ctx, obmcLogID); err != nil {
				logger.Warn("fleet index: failed to forget PEL", slog.Any("error", err))
			}
		})
		logger.Info("fleet index mirror enabled")
	}

	n := notifier.New(nil, logger)
	transport := notifier.NewGRPCTransport(notifier.GRPCConfig{
		HostAddr:       cfg.HostNotifier.HostAddr,
		CertPath:       cfg.HostNotifier.CertPath,
		KeyPath:        cfg.HostNotifier.KeyPath,
		CAPath:         cfg.HostNotifier.CAPath,
		BMCID:          cfg.BMCID,
		InitialBackoff: cfg.HostNotifier.InitialBackoff,
		MaxBackoff:     cfg.HostNotifier.MaxBackoff,
		DialTimeout:    cfg.HostNotifier.DialTimeout,
	}, n, logger)
	n.SetTransport(transport)
	if err := transport.Start(ctx); err != nil {
		logger.Error("failed to start host notifier transport", slog.Any("error", err))
		os.Exit(1)
	}
	defer transport.Stop()

	deliveryQueue, err := queue.New(filepath.Join(cfg.Repository.LogDir, "..", "delivery.db"))
	if err != nil {
		logger.Error("failed to open delivery queue", slog.Any("error", err))
		os.Exit(1)
	}
	defer deliveryQueue.Close()

	worker := queue.NewWorker(deliveryQueue, n, logger, 0, 0, func(obmcLogID, _ uint32) {
		if err := repo.SetHostState(obmcLogID, section.TransAcked); err != nil {
			logger.Warn("manager: failed recording host ack", slog.Any("error", err))
		}
	})
	go worker.Run(ctx)

	opts := []manager.Option{
		manager.WithExtensionRegistry(ext),
		manager.WithBadPELPath(filepath.Join(cfg.Repository.LogDir, "..", "badPEL")),
		manager.WithDeliveryQueue(deliveryQueue),
		manager.WithCreatorVersion(cfg.CreatorVersion),
	}
	if cfg.QuiesceOnError {
		opts = append(opts, manager.WithQuiesceOnError(func(obmcLogID uint32) {
			logger.Error("manager: quiesce-on-error triggered; no D-Bus quiesce surface wired, logging only",
				slog.Uint64("obmc_log_id", uint64(obmcLogID)))
		}))
	}

	mgr, err := manager.New(reg, repo, idAlloc, sysinfo.New(cfg.System), logger, opts...)
	if err != nil {
		logger.Error("failed to construct manager", slog.Any("error", err))
		os.Exit(1)
	}

	grpcTLS, err := loadServerTLS(cfg.Bus.TLS)
	if err != nil {
		logger.Error("failed to load bus TLS credentials", slog.Any("error", err))
		os.Exit(1)
	}
	grpcServer := grpc.NewServer(grpc.Creds(credentials.NewTLS(grpcTLS)))
	pelpb.RegisterPELServiceServer(grpcServer, busgrpc.NewServer(mgr, repo, logger))

	grpcLis, err := net.Listen("tcp", cfg.Bus.GRPCAddr)
	if err != nil {
		logger.Error("failed to listen for gRPC bus", slog.Any("error", err))
		os.Exit(1)
	}

	var pubKey *rsa.PublicKey
	if cfg.Bus.JWTPublicKeyPath != "" {
		pem, err := os.ReadFile(cfg.Bus.JWTPublicKeyPath)
		if err != nil {
			logger.Error("failed to read JWT public key", slog.Any("error", err))
			os.Exit(1)
		}
		pubKey, err = rest.ParseRSAPublicKey(pem)
		if err != nil {
			logger.Error("failed to parse JWT public key", slog.Any("error", err))
			os.Exit(1)
		}
		logger.Info("REST bus JWT validation enabled")
	} else {
		logger.Warn("bus.jwt_public_key_path not configured; REST bus authentication disabled")
	}

	restSrv := rest.NewServer(mgr, repo)
	httpServer := &http.Server{
		Addr:         cfg.Bus.RESTAddr,
		Handler:      rest.NewRouter(restSrv, pubKey),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	grpcErrCh := make(chan error, 1)
	go func() {
		logger.Info("gRPC bus listening", slog.String("addr", cfg.Bus.GRPCAddr))
		grpcErrCh <- grpcServer.Serve(grpcLis)
	}()

	httpErrCh := make(chan error, 1)
	go func() {
		logger.Info("REST bus listening", slog.String("addr", cfg.Bus.RESTAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			httpErrCh <- fmt.Errorf("REST bus: %w", err)
			return
		}
		httpErrCh <- nil
	}()

	healthServer := &http.Server{Addr: cfg.HealthAddr, Handler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})}
	go func() {
		logger.Info("health endpoint listening", slog.String("addr", cfg.HealthAddr))
		_ = healthServer.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
	case err := <-grpcErrCh:
		if err != nil {
			logger.Error("gRPC bus error", slog.Any("error", err))
		}
	case err := <-httpErrCh:
		if err != nil {
			logger.Error("REST bus error", slog.Any("error", err))
		}
	}

	logger.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	_ = healthServer.Shutdown(shutdownCtx)
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("REST bus shutdown error", slog.Any("error", err))
	}

	stopped := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-shutdownCtx.Done():
		logger.Warn("gRPC graceful stop timed out; forcing stop")
		grpcServer.Stop()
	}

	logger.Info("pel daemon exited cleanly")
}

// loadServerTLS builds a server-side mTLS config for the gRPC bus: it
// presents cfg.CertPath/KeyPath as its identity and verifies client
// certificates against cfg.CAPath.
func loadServerTLS(cfg config.TLSConfig) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(cfg.CertPath, cfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("load server cert/key: %w", err)
	}
	caPEM, err := os.ReadFile(cfg.CAPath)
	if err != nil {
		return nil, fmt.Errorf("read CA cert: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caPEM) {
		return nil, fmt.Errorf("no certificates found in %s", cfg.CAPath)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientCAs:    pool,
		ClientAuth:   tls.RequireAndVerifyClientCert,
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// newLogger constructs a *slog.Logger that writes JSON-structured log
// records to stderr at the requested minimum level.
func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}
