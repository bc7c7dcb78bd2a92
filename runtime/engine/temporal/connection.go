package temporal

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"

	"github.com/modulith/orchestration/runtime/execution"
	"github.com/modulith/orchestration/runtime/retry"
	"github.com/modulith/orchestration/runtime/telemetry"
)

// DefaultNamespace is used when Options.Namespace is empty.
const DefaultNamespace = "default"

// DialFunc establishes a Temporal client. client.DialContext is used when
// Options.Dial is nil.
type DialFunc func(ctx context.Context, opts client.Options) (client.Client, error)

type (
	// Options configures a ConnectionManager.
	Options struct {
		// HostPort is the address of the Temporal frontend. Required.
		HostPort string
		// Namespace is the Temporal namespace. Defaults to DefaultNamespace.
		Namespace string
		// Identity is reported to the cluster by the client and its workers.
		Identity string
		// Retry bounds connection attempts. MaxAttempts defaults to 3. Every
		// dial failure except context cancellation consumes one attempt.
		Retry retry.Config
		// Instrumentation toggles OTEL tracing and metrics.
		Instrumentation InstrumentationOptions
		// Logger records dial attempts. Defaults to a noop logger.
		Logger telemetry.Logger
		// Dial overrides client.DialContext.
		Dial DialFunc
	}

	// ConnectionManager lazily establishes and caches the process-wide
	// Temporal client. It is safe for concurrent use.
	ConnectionManager struct {
		clientOpts client.Options
		retry      retry.Config
		dial       DialFunc
		logger     telemetry.Logger
		inst       *instrumentation

		mu     sync.Mutex
		client client.Client
	}
)

// NewConnectionManager validates opts and returns a manager. No connection is
// attempted until Client is called.
func NewConnectionManager(opts Options) (*ConnectionManager, error) {
	if opts.HostPort == "" {
		return nil, errors.New("temporal connection: host port is required")
	}
	ns := opts.Namespace
	if ns == "" {
		ns = DefaultNamespace
	}
	rc := opts.Retry
	if rc.MaxAttempts <= 0 {
		def := retry.DefaultConfig()
		def.Retryable = rc.Retryable
		rc = def
	}
	if rc.Retryable == nil {
		rc.Retryable = retry.Always
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	dial := opts.Dial
	if dial == nil {
		dial = client.DialContext
	}
	inst, err := configureInstrumentation(opts.Instrumentation)
	if err != nil {
		return nil, err
	}
	clientOpts := client.Options{
		HostPort:  opts.HostPort,
		Namespace: ns,
		Identity:  opts.Identity,
	}
	applyClientInstrumentation(&clientOpts, inst)
	return &ConnectionManager{
		clientOpts: clientOpts,
		retry:      rc,
		dial:       dial,
		logger:     logger,
		inst:       inst,
	}, nil
}

// Address returns the configured Temporal frontend address.
func (m *ConnectionManager) Address() string {
	return m.clientOpts.HostPort
}

// Namespace returns the configured Temporal namespace.
func (m *ConnectionManager) Namespace() string {
	return m.clientOpts.Namespace
}

// Client returns the cached client, dialing it first if needed. The manager
// lock is held across the dial so concurrent first callers share a single
// connection. On exhaustion of the retry budget it returns an
// *execution.Error of kind execution.ErrConnection.
func (m *ConnectionManager) Client(ctx context.Context) (client.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client != nil {
		return m.client, nil
	}

	var c client.Client
	attempts, err := retry.Do(ctx, m.retry, func(ctx context.Context) error {
		dialed, err := m.dial(ctx, m.clientOpts)
		if err != nil {
			m.logger.Warn(ctx, "temporal dial failed", "address", m.clientOpts.HostPort, "err", err)
			return err
		}
		c = dialed
		return nil
	})
	if err != nil {
		var exhausted *retry.ExhaustedError
		if errors.As(err, &exhausted) {
			err = exhausted.LastError
		}
		cerr := &execution.Error{
			Kind:     execution.ErrConnection,
			Address:  m.clientOpts.HostPort,
			Attempts: attempts,
			Err:      err,
		}
		m.logger.Error(ctx, "temporal connection unavailable", "address", m.clientOpts.HostPort, "attempts", attempts, "err", cerr)
		return nil, cerr
	}
	m.logger.Info(ctx, "temporal connected", "address", m.clientOpts.HostPort, "namespace", m.clientOpts.Namespace, "attempts", attempts)
	m.client = c
	return c, nil
}

// WorkerOptions returns base with the manager's tracing interceptor applied.
func (m *ConnectionManager) WorkerOptions(base worker.Options) worker.Options {
	if m.clientOpts.Identity != "" && base.Identity == "" {
		base.Identity = m.clientOpts.Identity
	}
	applyWorkerInstrumentation(&base, m.inst)
	return base
}

// Name implements health.Pinger.
func (m *ConnectionManager) Name() string {
	return "temporal"
}

// Ping implements health.Pinger by checking the health of the frontend.
func (m *ConnectionManager) Ping(ctx context.Context) error {
	c, err := m.Client(ctx)
	if err != nil {
		return err
	}
	if _, err := c.CheckHealth(ctx, &client.CheckHealthRequest{}); err != nil {
		return fmt.Errorf("temporal health check: %w", err)
	}
	return nil
}

// Close closes the cached client, if any. The next call to Client dials again.
func (m *ConnectionManager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client != nil {
		m.client.Close()
		m.client = nil
	}
}
