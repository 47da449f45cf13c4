package testutil

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/c360/agentsdk/errors"
	"github.com/c360/agentsdk/store"
	"github.com/c360/agentsdk/store/memstore"
)

// Seed stores value as JSON under key in region, adding the region if the
// store does not have it yet.
func Seed(t testing.TB, st *memstore.Store, region, key string, value any) uint64 {
	t.Helper()
	data, err := json.Marshal(value)
	if err != nil {
		t.Fatalf("seed %s/%s: %v", region, key, err)
	}
	rev, err := st.AddRegion(region).Put(context.Background(), key, data)
	if err != nil {
		t.Fatalf("seed %s/%s: %v", region, key, err)
	}
	return rev
}

// FaultyStore fails every bucket lookup with Err, or with a transient
// errors.ErrStorageUnavailable when Err is nil.
type FaultyStore struct {
	Err error
}

// Bucket implements store.Store.
func (f FaultyStore) Bucket(_ context.Context, region string) (store.Bucket, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	return nil, errors.WrapTransient(errors.ErrStorageUnavailable, "FaultyStore", "Bucket", "open "+region)
}
