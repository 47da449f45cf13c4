package natsclient

import (
	"context"
	"fmt"
	"testing"
	"time"

	gonats "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// TestClient is a Client connected to a NATS server running in a
// testcontainers container.
type TestClient struct {
	container testcontainers.Container
	Client    *Client
	URL       string
	cleanup   func()
}

type testConfig struct {
	jetstream    bool
	kvBuckets    []string
	natsVersion  string
	timeout      time.Duration
	startTimeout time.Duration
	clientOpts   []ClientOption
}

// TestOption configures a test client
type TestOption func(*testConfig)

// WithJetStream enables JetStream on the server
func WithJetStream() TestOption {
	return func(cfg *testConfig) {
		cfg.jetstream = true
	}
}

// WithKVBuckets pre-creates KV buckets; it implies JetStream
func WithKVBuckets(buckets ...string) TestOption {
	return func(cfg *testConfig) {
		cfg.jetstream = true
		cfg.kvBuckets = append(cfg.kvBuckets, buckets...)
	}
}

// WithNATSVersion selects the server image tag
func WithNATSVersion(version string) TestOption {
	return func(cfg *testConfig) {
		cfg.natsVersion = version
	}
}

// WithFastStartup shortens connect and container start timeouts
func WithFastStartup() TestOption {
	return func(cfg *testConfig) {
		cfg.timeout = 2 * time.Second
		cfg.startTimeout = 10 * time.Second
	}
}

// WithClientOptions passes extra options to the client under test
func WithClientOptions(opts ...ClientOption) TestOption {
	return func(cfg *testConfig) {
		cfg.clientOpts = append(cfg.clientOpts, opts...)
	}
}

// NewSharedTestClient starts a container for use in TestMain. The caller
// must call Terminate.
func NewSharedTestClient(opts ...TestOption) (*TestClient, error) {
	cfg := &testConfig{
		natsVersion:  "2.11.7-alpine",
		timeout:      5 * time.Second,
		startTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	ctx := context.Background()

	args := []string{"--port", "4222", "--http_port", "8222"}
	if cfg.jetstream {
		args = append(args, "--js")
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "nats:" + cfg.natsVersion,
			ExposedPorts: []string{"4222/tcp", "8222/tcp"},
			Cmd:          args,
			WaitingFor: wait.ForAll(
				wait.ForListeningPort("4222/tcp"),
				wait.ForHTTP("/").WithPort("8222/tcp").WithStartupTimeout(cfg.startTimeout),
			),
		},
		Started: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start NATS container: %w", err)
	}
	terminate := func() { _ = container.Terminate(context.Background()) }

	host, err := container.Host(ctx)
	if err != nil {
		terminate()
		return nil, fmt.Errorf("failed to get container host: %w", err)
	}
	port, err := container.MappedPort(ctx, "4222")
	if err != nil {
		terminate()
		return nil, fmt.Errorf("failed to get mapped port: %w", err)
	}
	url := fmt.Sprintf("nats://%s:%s", host, port.Port())

	clientOpts := append([]ClientOption{
		WithTimeout(cfg.timeout),
		WithMaxReconnects(0),
		WithHealthInterval(0),
	}, cfg.clientOpts...)
	client, err := NewClient(url, clientOpts...)
	if err != nil {
		terminate()
		return nil, fmt.Errorf("failed to create NATS client: %w", err)
	}

	connectCtx, cancel := context.WithTimeout(ctx, cfg.timeout)
	defer cancel()
	if err := client.Connect(connectCtx); err != nil {
		terminate()
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	tc := &TestClient{
		container: container,
		Client:    client,
		URL:       url,
		cleanup: func() {
			_ = client.Close(context.Background())
			terminate()
		},
	}

	for _, name := range cfg.kvBuckets {
		if _, err := tc.CreateKVBucket(ctx, name); err != nil {
			tc.cleanup()
			return nil, fmt.Errorf("failed to create KV bucket %s: %w", name, err)
		}
	}
	return tc, nil
}

// NewTestClient starts a container and terminates it when the test ends
func NewTestClient(t testing.TB, opts ...TestOption) *TestClient {
	t.Helper()

	tc, err := NewSharedTestClient(opts...)
	if err != nil {
		t.Fatalf("NATS test client: %v", err)
	}
	t.Cleanup(func() { _ = tc.Terminate() })
	return tc
}

// Terminate closes the client and the container. Calls after the first are
// no-ops.
func (tc *TestClient) Terminate() error {
	if tc.cleanup != nil {
		tc.cleanup()
		tc.cleanup = nil
	}
	return nil
}

// GetNativeConnection returns the underlying NATS connection
func (tc *TestClient) GetNativeConnection() *gonats.Conn {
	return tc.Client.GetConnection()
}

// CreateKVBucket creates a bucket with default settings
func (tc *TestClient) CreateKVBucket(ctx context.Context, name string) (jetstream.KeyValue, error) {
	return tc.Client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{Bucket: name})
}
