// Package retry provides exponential backoff with jitter for transient store
// failures: the initial NATS connect, bucket lookups during mounting, and the
// compare-and-set loop behind read-modify-write updates.
//
// Errors wrapped with NonRetryable stop the loop immediately:
//
//	err := retry.Do(ctx, retry.Quick(), func() error {
//	    rev, err := bucket.Update(ctx, key, value, last)
//	    if isConflict(err) {
//	        return err // retried
//	    }
//	    return retry.NonRetryable(err)
//	})
package retry
