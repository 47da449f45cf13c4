// Package worker provides a generic bounded worker pool.
//
// A Pool runs a fixed number of goroutines over a bounded queue. Submit never
// blocks and reports ErrQueueFull under backpressure; SubmitWait waits for room
// until its context is done. Stop closes the queue and drains what was
// already accepted.
//
//	pool, err := worker.NewPool(4, 64,
//	    func(ctx context.Context, job Job) error { return job.Run(ctx) },
//	    worker.WithMetricsRegistry[Job](registry, "mutations"),
//	)
//	if err != nil {
//	    return err
//	}
//	_ = pool.Start(ctx)
//	defer pool.Stop(5 * time.Second)
//
// Statistics are always tracked and available from Stats. With a metrics
// registry the pool also exports agentsdk_<prefix>_* Prometheus metrics:
// queue depth, utilization, submitted, processed, failed, dropped and a
// processing duration histogram.
//
// The agent driver uses a pool for out-of-band state mutations, each run
// under the dispatch scoped lock.
package worker
