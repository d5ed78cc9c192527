package notifier

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"

	hostpelpb "github.com/openbmc/pel-logd/proto/hostpel"
)

const (
	defaultInitialBackoff = 1 * time.Second
	defaultMaxBackoff     = 30 * time.Second
	defaultDialTimeout    = 10 * time.Second
)

// GRPCConfig configures the host-notifier's gRPC transport (spec §6).
type GRPCConfig struct {
	// HostAddr is the "host:port" of the host-side HostNotifier server.
	HostAddr string

	// CertPath/KeyPath/CAPath configure mTLS the same way the dashboard
	// transport does; the BMC-to-host channel runs over the same
	// certificate-based trust model.
	CertPath string
	KeyPath  string
	CAPath   string

	BMCID string

	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	DialTimeout    time.Duration
}

func (c *GRPCConfig) applyDefaults() {
	if c.InitialBackoff == 0 {
		c.InitialBackoff = defaultInitialBackoff
	}
	if c.MaxBackoff == 0 {
		c.MaxBackoff = defaultMaxBackoff
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = defaultDialTimeout
	}
}

// GRPCTransport implements Transport by delivering PELs over the
// HostNotifier gRPC service and feeding responses it receives on the
// Responses stream back into a Notifier via HandleResponse. Connection
// loss is handled with exponential-backoff reconnection, mirroring
// internal/transport/grpctransport.go.
type GRPCTransport struct {
	cfg    GRPCConfig
	logger *slog.Logger
	creds  credentials.TransportCredentials

	notifier *Notifier

	mu     sync.RWMutex
	client hostpelpb.HostNotifierClient

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewGRPCTransport returns a GRPCTransport that feeds responses into n.
// Call Start to begin connecting.
func NewGRPCTransport(cfg GRPCConfig, n *Notifier, logger *slog.Logger) *GRPCTransport {
	cfg.applyDefaults()
	return &GRPCTransport{cfg: cfg, notifier: n, logger: logger}
}

// Start loads mTLS credentials and launches the background connection loop.
func (t *GRPCTransport) Start(ctx context.Context) error {
	creds, err := t.loadTLSCredentials()
	if err != nil {
		return fmt.Errorf("notifier: %w", err)
	}
	t.creds = creds

	connectCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel

	t.wg.Add(1)
	go t.connectLoop(connectCtx)
	return nil
}

// Stop cancels the connection loop and waits for it to exit.
func (t *GRPCTransport) Stop() {
	if t.cancel != nil {
		t.cancel()
	}
	t.wg.Wait()
}

// SendPEL implements Transport by issuing a Deliver RPC on the active
// connection.
func (t *GRPCTransport) SendPEL(ctx context.Context, instanceID uint8, pel []byte) error {
	t.mu.RLock()
	client := t.client
	t.mu.RUnlock()

	if client == nil {
		return fmt.Errorf("notifier: not connected to host")
	}

	ack, err := client.Deliver(ctx, &hostpelpb.PELDelivery{
		InstanceId: uint32(instanceID),
		PelBytes:   pel,
	})
	if err != nil {
		return fmt.Errorf("notifier: Deliver: %w", err)
	}
	if !ack.GetAcceptedForDelivery() {
		return fmt.Errorf("notifier: host refused delivery: %s", ack.GetError())
	}
	return nil
}

func (t *GRPCTransport) connectLoop(ctx context.Context) {
	defer t.wg.Done()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = t.cfg.InitialBackoff
	b.MaxInterval = t.cfg.MaxBackoff
	b.MaxElapsedTime = 0
	b.Reset()

	for {
		if ctx.Err() != nil {
			return
		}

		t.logger.Info("notifier: connecting to host", slog.String("addr", t.cfg.HostAddr))

		wasConnected, err := t.connect(ctx)

		if ctx.Err() != nil {
			return
		}
		if wasConnected {
			b.Reset()
		}
		if err != nil {
			t.logger.Warn("notifier: connection ended", slog.Any("error", err))
		}

		wait := b.NextBackOff()
		if wait == backoff.Stop {
			t.logger.Error("notifier: backoff exhausted; giving up")
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

func (t *GRPCTransport) connect(ctx context.Context) (wasConnected bool, err error) {
	conn, err := grpc.NewClient(t.cfg.HostAddr, grpc.WithTransportCredentials(t.creds))
	if err != nil {
		return false, fmt.Errorf("dial %s: %w", t.cfg.HostAddr, err)
	}
	defer conn.Close()

	client := hostpelpb.NewHostNotifierClient(conn)

	dialCtx, dialCancel := context.WithTimeout(ctx, t.cfg.DialTimeout)
	stream, err := client.Responses(dialCtx, &hostpelpb.ResponseStreamRequest{BmcId: t.cfg.BMCID})
	dialCancel()
	if err != nil {
		return false, fmt.Errorf("Responses: %w", err)
	}

	t.mu.Lock()
	t.client = client
	t.mu.Unlock()

	t.logger.Info("notifier: connected to host", slog.String("addr", t.cfg.HostAddr))

	streamErr := t.drainResponses(stream)

	t.mu.Lock()
	t.client = nil
	t.mu.Unlock()

	return true, streamErr
}

func (t *GRPCTransport) drainResponses(stream hostpelpb.HostNotifier_ResponsesClient) error {
	for {
		resp, err := stream.Recv()
		if err != nil {
			return err
		}
		reason := RejectNone
		switch resp.GetRejectReason() {
		case hostpelpb.RejectReason_REJECT_REASON_BAD_PEL:
			reason = RejectBadPEL
		case hostpelpb.RejectReason_REJECT_REASON_HOST_FULL:
			reason = RejectHostFull
		}
		t.notifier.HandleResponse(uint8(resp.GetInstanceId()), resp.GetAccepted(), reason)
	}
}

func (t *GRPCTransport) loadTLSCredentials() (credentials.TransportCredentials, error) {
	cert, err := tls.LoadX509KeyPair(t.cfg.CertPath, t.cfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("load BMC cert/key (%s, %s): %w", t.cfg.CertPath, t.cfg.KeyPath, err)
	}

	caPEM, err := os.ReadFile(t.cfg.CAPath)
	if err != nil {
		return nil, fmt.Errorf("read CA cert %s: %w", t.cfg.CAPath, err)
	}
	caPool := x509.NewCertPool()
	if !caPool.AppendCertsFromPEM(caPEM) {
		return nil, fmt.Errorf("parse CA cert from %s: no certificates found", t.cfg.CAPath)
	}

	serverName, _, splitErr := net.SplitHostPort(t.cfg.HostAddr)
	if splitErr != nil {
		serverName = t.cfg.HostAddr
	}

	return credentials.NewTLS(&tls.Config{
		Certificates: []tls.Certificate{cert},
		RootCAs:      caPool,
		ServerName:   serverName,
		MinVersion:   tls.VersionTLS12,
	}), nil
}
