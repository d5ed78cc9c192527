// Package notifier implements the async host-notification protocol (spec
// §6): a single outstanding PEL is sent to the host at a time, tracked
// through an explicit state machine, with a 10-second response timeout and
// rejection handling (BadPEL, HostFull). Grounded on the single-in-flight
// instance-id discipline in pldm_interface.cpp (original_source) and the
// exponential-backoff reconnect shape of internal/transport/grpctransport.go.
package notifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/openbmc/pel-logd/internal/instanceid"
)

// State is the host-notifier's per-request state (spec §6).
type State int

const (
	StateIdle State = iota
	StateAllocatingInstance
	StateSending
	StateAwaitingResponse
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAllocatingInstance:
		return "allocating_instance"
	case StateSending:
		return "sending"
	case StateAwaitingResponse:
		return "awaiting_response"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// RejectReason is why the host rejected a PEL (spec §6).
type RejectReason int

const (
	RejectNone RejectReason = iota
	RejectBadPEL
	RejectHostFull
)

// ResponseTimeout is how long the notifier waits for the host to respond
// to an outstanding PEL before treating it as a failure (spec §6).
const ResponseTimeout = 10 * time.Second

// ErrBusy is returned by Notify when another PEL is already outstanding;
// the protocol allows only one PEL in flight at a time.
var ErrBusy = errors.New("notifier: another PEL is already outstanding")

// ErrTimeout is the failure reason recorded when the host never responds.
var ErrTimeout = errors.New("notifier: host did not respond within timeout")

// ErrRejectedBadPEL/ErrRejectedHostFull are the failure reasons recorded for
// the two rejection cases the protocol defines.
var (
	ErrRejectedBadPEL  = errors.New("notifier: host rejected PEL as malformed")
	ErrRejectedHostFull = errors.New("notifier: host rejected PEL: queue full")
)

// Transport delivers a PEL to the host side and is implemented by the gRPC
// client in grpc_transport.go; tests supply a fake.
type Transport interface {
	SendPEL(ctx context.Context, instanceID uint8, pel []byte) error
}

type inFlight struct {
	instanceID uint8
	done       chan struct{}
	err        error
}

// Notifier drives the single-in-flight host-notification state machine.
type Notifier struct {
	transport Transport
	pool      *instanceid.Pool
	logger    *slog.Logger
	timeout   time.Duration

	mu      sync.Mutex
	state   State
	current *inFlight
}

// New returns a Notifier using transport to deliver PELs. transport may be
// nil if it isn't available yet (e.g. GRPCTransport needs a *Notifier to
// feed responses into before it can be constructed itself); call
// SetTransport once it is.
func New(transport Transport, logger *slog.Logger) *Notifier {
	return &Notifier{
		transport: transport,
		pool:      instanceid.NewPool(),
		logger:    logger,
		timeout:   ResponseTimeout,
	}
}

// SetTransport installs or replaces the Transport a Notifier delivers
// through. Not safe to call while a Notify call is outstanding.
func (n *Notifier) SetTransport(transport Transport) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.transport = transport
}

// State returns the notifier's current state.
func (n *Notifier) State() State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

// Notify sends pel to the host and blocks until the host responds, the
// response timeout elapses, or ctx is cancelled. It returns ErrBusy
// immediately if a PEL is already outstanding (spec §6).
func (n *Notifier) Notify(ctx context.Context, pel []byte) error {
	n.mu.Lock()
	if n.state != StateIdle && n.state != StateDone && n.state != StateFailed {
		n.mu.Unlock()
		return ErrBusy
	}
	n.state = StateAllocatingInstance
	n.mu.Unlock()

	id, err := n.pool.Allocate()
	if err != nil {
		n.setState(StateFailed)
		return fmt.Errorf("notifier: %w", err)
	}

	fl := &inFlight{instanceID: id, done: make(chan struct{})}

	n.mu.Lock()
	n.state = StateSending
	n.current = fl
	n.mu.Unlock()

	if err := n.transport.SendPEL(ctx, id, pel); err != nil {
		n.finish(fl, fmt.Errorf("notifier: send: %w", err))
		return fl.err
	}

	n.setState(StateAwaitingResponse)

	timer := time.NewTimer(n.timeout)
	defer timer.Stop()

	select {
	case <-fl.done:
		return fl.err
	case <-timer.C:
		n.finish(fl, ErrTimeout)
		return fl.err
	case <-ctx.Done():
		n.finish(fl, ctx.Err())
		return fl.err
	}
}

// HandleResponse is called by the bus layer when the host acknowledges or
// rejects the outstanding PEL. It is a no-op if instanceID does not match
// the currently outstanding request (a late/duplicate response).
func (n *Notifier) HandleResponse(instanceID uint8, accepted bool, reason RejectReason) {
	n.mu.Lock()
	fl := n.current
	n.mu.Unlock()

	if fl == nil || fl.instanceID != instanceID {
		if n.logger != nil {
			n.logger.Warn("notifier: response for unknown/stale instance id",
				slog.Int("instance_id", int(instanceID)))
		}
		return
	}

	var err error
	if !accepted {
		switch reason {
		case RejectBadPEL:
			err = ErrRejectedBadPEL
		case RejectHostFull:
			err = ErrRejectedHostFull
		default:
			err = fmt.Errorf("notifier: host rejected PEL")
		}
	}
	n.finish(fl, err)
}

func (n *Notifier) finish(fl *inFlight, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.current != fl {
		// Already finished by a racing timeout/response; don't double-free.
		return
	}
	fl.err = err
	if err != nil {
		n.state = StateFailed
	} else {
		n.state = StateDone
	}
	n.pool.Free(fl.instanceID) //nolint:errcheck
	n.current = nil
	close(fl.done)
}

func (n *Notifier) setState(s State) {
	n.mu.Lock()
	n.state = s
	n.mu.Unlock()
}
