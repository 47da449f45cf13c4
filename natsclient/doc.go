// Package natsclient manages the NATS connection behind the store binding.
//
// A Client wraps one nats.Conn and its JetStream context. It tracks the
// connection through Disconnected, Connecting, Connected and Reconnecting,
// and counts failed calls. After a threshold of failures in one round (five
// by default) the circuit opens: calls fail fast with ErrCircuitOpen until the
// backoff elapses. The backoff doubles each round up to a maximum.
//
//	client, err := natsclient.NewClient("nats://localhost:4222",
//	    natsclient.WithLogger(logger),
//	    natsclient.WithMetrics(registry),
//	)
//	if err != nil {
//	    return err
//	}
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	defer client.Close(ctx)
//
// # Key/value buckets
//
// CreateKeyValueBucket opens or creates a bucket; GetKeyValueBucket only
// opens one and reports a missing bucket as jetstream.ErrBucketNotFound. A
// KVStore adds per-call timeouts, a maximum value size and
// UpdateWithRetry, a read-modify-write loop that retries revision conflicts
// with pkg/retry.
//
// WatchAll follows JetStream semantics: the current value of every key is
// replayed, a nil entry marks the end of the replay, and updates follow.
//
// # Testing
//
// NewTestClient starts a NATS server in a container with testcontainers-go.
// Tests using it carry the integration build tag.
package natsclient
