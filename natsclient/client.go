package natsclient

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/agentsdk/errors"
	"github.com/c360/agentsdk/metric"
)

// ConnectionStatus represents the state of the NATS connection
type ConnectionStatus int

// Possible connection statuses
const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
	StatusCircuitOpen
)

// String returns the string representation of ConnectionStatus
func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	case StatusCircuitOpen:
		return "circuit_open"
	default:
		return "unknown"
	}
}

// Error messages
var (
	ErrNotConnected = stderrors.New("not connected to NATS")
	ErrCircuitOpen  = stderrors.New("circuit breaker is open")
)

// Status holds runtime status information for the client
type Status struct {
	Status          ConnectionStatus
	FailureCount    int32
	LastFailureTime time.Time
	RTT             time.Duration
}

// Client owns one NATS connection and the JetStream context the store
// binding opens its key/value buckets through. Repeated failures open a
// circuit breaker that rejects calls until its backoff elapses.
type Client struct {
	url      string
	status   atomic.Value // ConnectionStatus
	failures atomic.Int32
	logger   *slog.Logger

	conn *nats.Conn
	js   jetstream.JetStream

	// Circuit breaker
	lastFailure      atomic.Value // time.Time
	backoff          atomic.Value // time.Duration
	circuitFailures  atomic.Int32
	circuitThreshold int32
	maxBackoff       time.Duration

	maxReconnects int
	reconnectWait time.Duration
	pingInterval  time.Duration
	timeout       time.Duration
	drainTimeout  time.Duration

	// Cleared on close
	username string
	password string
	token    string

	tlsEnabled  bool
	tlsCertFile string
	tlsKeyFile  string
	tlsCAFile   string

	clientName string

	metrics         *metric.Metrics
	kvMetrics       *bucketMetrics
	metricsCancel   context.CancelFunc

	onReconnect    func()
	onHealthChange func(bool)

	healthInterval time.Duration
	healthDone     chan struct{}

	mu      sync.RWMutex
	closeMu sync.Mutex
	closed  atomic.Bool
}

// NewClient creates a disconnected client for url. url may list several
// servers separated by commas.
func NewClient(url string, opts ...ClientOption) (*Client, error) {
	c := &Client{
		url:              url,
		logger:           slog.Default(),
		maxReconnects:    -1,
		reconnectWait:    2 * time.Second,
		pingInterval:     30 * time.Second,
		healthInterval:   10 * time.Second,
		circuitThreshold: 5,
		maxBackoff:       time.Minute,
		timeout:          5 * time.Second,
		drainTimeout:     30 * time.Second,
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, errors.WrapInvalid(err, "Client", "NewClient", "apply option")
		}
	}
	c.logger = c.logger.With("component", "natsclient")

	c.status.Store(StatusDisconnected)
	c.backoff.Store(time.Second)
	c.lastFailure.Store(time.Time{})

	c.logger.Debug("Created NATS client", "url", url)
	return c, nil
}

// URL returns the NATS server URL
func (m *Client) URL() string {
	return m.url
}

// Status returns the current connection status
func (m *Client) Status() ConnectionStatus {
	val := m.status.Load()
	if val == nil {
		return StatusDisconnected
	}
	return val.(ConnectionStatus)
}

// GetConnection returns the current NATS connection
func (m *Client) GetConnection() *nats.Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.conn
}

func (m *Client) setStatus(status ConnectionStatus) {
	m.status.Store(status)
	m.metrics.RecordNATSStatus(status == StatusConnected)
	if status == StatusCircuitOpen {
		m.metrics.RecordCircuitBreakerState(1)
	}
}

// IsHealthy returns true if the connection is healthy
func (m *Client) IsHealthy() bool {
	return m.Status() == StatusConnected
}

// Failures returns the current failure count
func (m *Client) Failures() int32 {
	return m.failures.Load()
}

// Backoff returns the current backoff duration
func (m *Client) Backoff() time.Duration {
	return m.backoff.Load().(time.Duration)
}

func (m *Client) growBackoff() time.Duration {
	current := m.backoff.Load().(time.Duration)
	next := current * 2
	if next > m.maxBackoff {
		next = m.maxBackoff
	}
	m.backoff.Store(next)
	return current
}

// recordFailure counts a failed store call and opens the circuit once
// circuitThreshold failures accumulate in one round.
func (m *Client) recordFailure() {
	total := m.failures.Add(1)
	m.lastFailure.Store(time.Now())
	round := m.circuitFailures.Add(1)

	m.logger.Debug("Recorded NATS failure", "failures", total, "circuit_failures", round)

	if round < m.circuitThreshold {
		return
	}

	current := m.Status()
	if current == StatusCircuitOpen {
		m.growBackoff()
		m.circuitFailures.Store(0)
		m.logger.Warn("Circuit breaker still open", "backoff", m.Backoff())
		return
	}
	if !m.status.CompareAndSwap(current, StatusCircuitOpen) {
		return
	}
	m.metrics.RecordNATSStatus(false)
	m.metrics.RecordCircuitBreakerState(1)

	wait := m.growBackoff()
	m.circuitFailures.Store(0)
	m.logger.Warn("Circuit breaker opened", "failures", round, "backoff", wait)
	time.AfterFunc(wait, m.testCircuit)
}

func (m *Client) resetCircuit() {
	m.failures.Store(0)
	m.circuitFailures.Store(0)
	m.backoff.Store(time.Second)
	m.lastFailure.Store(time.Time{})

	if m.status.CompareAndSwap(StatusCircuitOpen, StatusDisconnected) {
		m.metrics.RecordCircuitBreakerState(0)
	}
}

// testCircuit half-opens the breaker so the next call may try again.
func (m *Client) testCircuit() {
	if m.status.CompareAndSwap(StatusCircuitOpen, StatusDisconnected) {
		m.logger.Debug("Circuit breaker half-open")
		m.metrics.RecordCircuitBreakerState(0)
	}
}

// WaitForConnection waits for the connection to be established
func (m *Client) WaitForConnection(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return errors.WrapTransient(ctx.Err(), "Client", "WaitForConnection", "wait for connection")
		case <-ticker.C:
			if m.IsHealthy() {
				return nil
			}
		}
	}
}

// ConnectionOptions returns the NATS connection options
func (m *Client) ConnectionOptions() []nats.Option {
	opts := []nats.Option{
		nats.MaxReconnects(m.maxReconnects),
		nats.ReconnectWait(m.reconnectWait),
		nats.PingInterval(m.pingInterval),
		nats.Timeout(m.timeout),
		nats.DrainTimeout(m.drainTimeout),
		nats.DisconnectErrHandler(m.handleDisconnect),
		nats.ReconnectHandler(m.handleReconnect),
		nats.ClosedHandler(m.handleClosed),
		nats.ErrorHandler(m.handleError),
	}

	if m.username != "" && m.password != "" {
		opts = append(opts, nats.UserInfo(m.username, m.password))
	}
	if m.token != "" {
		opts = append(opts, nats.Token(m.token))
	}
	if m.tlsEnabled {
		if m.tlsCertFile != "" && m.tlsKeyFile != "" {
			opts = append(opts, nats.ClientCert(m.tlsCertFile, m.tlsKeyFile))
		}
		if m.tlsCAFile != "" {
			opts = append(opts, nats.RootCAs(m.tlsCAFile))
		}
	}
	if m.clientName != "" {
		opts = append(opts, nats.Name(m.clientName))
	}
	return opts
}

// GetStatus returns current status information
func (m *Client) GetStatus() *Status {
	status := &Status{
		Status:          m.Status(),
		FailureCount:    m.failures.Load(),
		LastFailureTime: m.lastFailure.Load().(time.Time),
	}
	if rtt, err := m.RTT(); err == nil {
		status.RTT = rtt
	}
	return status
}

// Connect establishes the connection and its JetStream context. It fails
// fast with ErrCircuitOpen while the breaker is open.
func (m *Client) Connect(ctx context.Context) error {
	if m.Status() == StatusCircuitOpen {
		return ErrCircuitOpen
	}

	m.setStatus(StatusConnecting)
	m.logger.Info("Connecting to NATS", "url", m.url)

	opts := m.ConnectionOptions()
	connectDone := make(chan error, 1)
	go func() {
		conn, err := nats.Connect(m.url, opts...)
		if err != nil {
			connectDone <- err
			return
		}
		js, err := jetstream.New(conn)
		if err != nil {
			conn.Close()
			connectDone <- err
			return
		}

		m.mu.Lock()
		m.conn = conn
		m.js = js
		m.mu.Unlock()
		connectDone <- nil
	}()

	var err error
	select {
	case err = <-connectDone:
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err != nil {
		m.recordFailure()
		if m.Status() == StatusCircuitOpen {
			return ErrCircuitOpen
		}
		m.setStatus(StatusDisconnected)
		return errors.WrapTransient(err, "Client", "Connect", "establish connection")
	}

	m.setStatus(StatusConnected)
	m.resetCircuit()
	m.logger.Info("Connected to NATS", "url", m.url)

	if m.healthInterval > 0 {
		m.startHealthMonitoring()
	}
	if m.kvMetrics != nil {
		m.metricsCancel = m.kvMetrics.startPoller(context.Background(), bucketPollInterval)
	}

	m.mu.RLock()
	onHealthChange := m.onHealthChange
	m.mu.RUnlock()
	if onHealthChange != nil {
		onHealthChange(true)
	}
	return nil
}

// Close drains and closes the connection. Only the first call does work.
func (m *Client) Close(ctx context.Context) error {
	m.closeMu.Lock()
	defer m.closeMu.Unlock()

	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}

	m.stopHealthMonitoring()
	if m.metricsCancel != nil {
		m.metricsCancel()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var drainErr error
	if m.conn != nil {
		drainTimeout := m.drainTimeout
		if deadline, ok := ctx.Deadline(); ok {
			if remaining := time.Until(deadline); remaining > 0 && remaining < drainTimeout {
				drainTimeout = remaining
			}
		}

		conn := m.conn
		drainDone := make(chan error, 1)
		go func() {
			drainDone <- conn.Drain()
		}()

		select {
		case err := <-drainDone:
			if err != nil {
				drainErr = errors.Wrap(err, "Client", "Close", "drain connection")
			}
		case <-time.After(drainTimeout):
			drainErr = errors.WrapTransient(
				fmt.Errorf("drain timeout after %v", drainTimeout),
				"Client", "Close", "drain connection")
		case <-ctx.Done():
			drainErr = errors.Wrap(ctx.Err(), "Client", "Close", "drain connection")
		}
		if drainErr != nil {
			m.logger.Error("Drain failed, force closing", "error", drainErr)
		}

		conn.Close()
		m.conn = nil
		m.js = nil
	}

	m.username = ""
	m.password = ""
	m.token = ""

	m.setStatus(StatusDisconnected)
	return drainErr
}

// RTT returns the round-trip time to the NATS server
func (m *Client) RTT() (time.Duration, error) {
	m.mu.RLock()
	conn := m.conn
	m.mu.RUnlock()

	if conn == nil || !conn.IsConnected() {
		return 0, ErrNotConnected
	}
	return conn.RTT()
}

// JetStream returns the JetStream context
func (m *Client) JetStream() (jetstream.JetStream, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.js == nil {
		return nil, errors.WrapTransient(ErrNotConnected, "Client", "JetStream", "get JetStream context")
	}
	return m.js, nil
}

// ready returns the JetStream context if the breaker and connection allow a
// call.
func (m *Client) ready() (jetstream.JetStream, error) {
	switch m.Status() {
	case StatusCircuitOpen:
		return nil, ErrCircuitOpen
	case StatusConnected:
	default:
		return nil, ErrNotConnected
	}
	js, err := m.JetStream()
	if err != nil {
		m.recordFailure()
		return nil, err
	}
	return js, nil
}

// CreateKeyValueBucket opens cfg.Bucket, creating it if it does not exist.
func (m *Client) CreateKeyValueBucket(ctx context.Context, cfg jetstream.KeyValueConfig) (jetstream.KeyValue, error) {
	js, err := m.ready()
	if err != nil {
		return nil, err
	}

	if bucket, err := js.KeyValue(ctx, cfg.Bucket); err == nil {
		m.resetCircuit()
		m.kvMetrics.track(cfg.Bucket, bucket)
		return bucket, nil
	}

	bucket, err := js.CreateKeyValue(ctx, cfg)
	if err != nil && isAlreadyExistsError(err) {
		// Lost a creation race with another agent.
		bucket, err = js.KeyValue(ctx, cfg.Bucket)
	}
	if err != nil {
		m.recordFailure()
		m.kvMetrics.recordError("create_bucket")
		return nil, errors.Wrap(err, "Client", "CreateKeyValueBucket",
			fmt.Sprintf("create bucket %s", cfg.Bucket))
	}

	m.logger.Info("Created KV bucket", "bucket", cfg.Bucket)
	m.resetCircuit()
	m.kvMetrics.track(cfg.Bucket, bucket)
	return bucket, nil
}

// GetKeyValueBucket opens an existing bucket. A missing bucket returns an
// error matching jetstream.ErrBucketNotFound and does not count against the
// circuit breaker.
func (m *Client) GetKeyValueBucket(ctx context.Context, name string) (jetstream.KeyValue, error) {
	js, err := m.ready()
	if err != nil {
		return nil, err
	}

	bucket, err := js.KeyValue(ctx, name)
	if err != nil {
		if stderrors.Is(err, jetstream.ErrBucketNotFound) {
			return nil, err
		}
		m.recordFailure()
		m.kvMetrics.recordError("get_bucket")
		return nil, errors.WrapTransient(err, "Client", "GetKeyValueBucket", fmt.Sprintf("open bucket %s", name))
	}

	m.resetCircuit()
	m.kvMetrics.track(name, bucket)
	return bucket, nil
}

// OnHealthChange sets a callback for health status changes
func (m *Client) OnHealthChange(fn func(bool)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onHealthChange = fn
}

func (m *Client) handleDisconnect(_ *nats.Conn, err error) {
	m.setStatus(StatusReconnecting)
	m.logger.Warn("NATS disconnected", "error", err)

	m.mu.RLock()
	onHealthChange := m.onHealthChange
	m.mu.RUnlock()

	if onHealthChange != nil {
		go onHealthChange(false)
	}
}

func (m *Client) handleReconnect(_ *nats.Conn) {
	m.setStatus(StatusConnected)
	m.resetCircuit()
	m.metrics.RecordNATSReconnect()
	m.logger.Info("NATS reconnected")

	m.mu.RLock()
	onReconnect := m.onReconnect
	onHealthChange := m.onHealthChange
	m.mu.RUnlock()

	if onReconnect != nil {
		go onReconnect()
	}
	if onHealthChange != nil {
		go onHealthChange(true)
	}
}

func (m *Client) handleClosed(_ *nats.Conn) {
	m.setStatus(StatusDisconnected)

	m.mu.RLock()
	onHealthChange := m.onHealthChange
	m.mu.RUnlock()

	if onHealthChange != nil {
		go onHealthChange(false)
	}
}

func (m *Client) handleError(_ *nats.Conn, _ *nats.Subscription, err error) {
	m.logger.Error("NATS error", "error", err)
}

func (m *Client) startHealthMonitoring() {
	m.stopHealthMonitoring()

	m.mu.Lock()
	done := make(chan struct{})
	m.healthDone = done
	interval := m.healthInterval
	m.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		lastHealthy := m.IsHealthy()

		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				rtt, err := m.RTT()
				healthy := err == nil
				if healthy {
					m.metrics.RecordNATSRTT(rtt)
				}

				if healthy && m.Status() == StatusReconnecting {
					m.setStatus(StatusConnected)
				} else if !healthy && m.Status() == StatusConnected {
					m.setStatus(StatusReconnecting)
				}

				if healthy != lastHealthy {
					m.mu.RLock()
					onHealthChange := m.onHealthChange
					m.mu.RUnlock()
					if onHealthChange != nil {
						onHealthChange(healthy)
					}
				}
				lastHealthy = healthy
			}
		}
	}()
}

func (m *Client) stopHealthMonitoring() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.healthDone != nil {
		close(m.healthDone)
		m.healthDone = nil
	}
}

func isAlreadyExistsError(err error) bool {
	if err == nil {
		return false
	}
	if stderrors.Is(err, jetstream.ErrBucketExists) || stderrors.Is(err, jetstream.ErrStreamNameAlreadyInUse) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "already exists") ||
		strings.Contains(errStr, "already in use")
}
