package manager_test

import (
	"context"
	"fmt"
	stderrors "errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/agentsdk/errors"
	"github.com/c360/agentsdk/iterator"
	"github.com/c360/agentsdk/manager"
	"github.com/c360/agentsdk/metric"
	"github.com/c360/agentsdk/mount"
	"github.com/c360/agentsdk/store"
	"github.com/c360/agentsdk/store/memstore"
	"github.com/c360/agentsdk/testutil"
)

type portKey string

type port struct {
	Speed int  `json:"speed"`
	Up    bool `json:"up"`
}

type portCodec = manager.JSONCodec[portKey, port]

func newPorts(opts ...manager.Option) *manager.Manager[portKey, port] {
	return manager.New[portKey, port]("ports", portCodec{}, opts...)
}

// mountAll runs both mount phases for mgrs against st and returns the feeds.
func mountAll(t *testing.T, st store.Store, participants ...mount.Participant) *mount.Mounted {
	t.Helper()
	reg := mount.NewRegistry()
	for _, p := range participants {
		reg.Register(p)
	}
	g := mount.NewGroup()
	reg.DoMounts(g)
	m, err := mount.Apply(t.Context(), st, g, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	reg.MountsComplete(m)
	return m
}

// pump applies the next n feed entries of region to mgr.
func pump(t *testing.T, m *mount.Mounted, region string, mgr interface{ Apply(*store.Entry) }, n int) {
	t.Helper()
	for _, f := range m.Feeds() {
		if f.Region != region {
			continue
		}
		for i := 0; i < n; i++ {
			select {
			case e := <-f.Updates:
				require.NotNil(t, e)
				mgr.Apply(e)
			case <-time.After(2 * time.Second):
				t.Fatalf("timed out waiting for change %d on %s", i+1, region)
			}
		}
		return
	}
	t.Fatalf("no feed for region %s", region)
}

func seeded(t *testing.T) *memstore.Store {
	t.Helper()
	st := memstore.New("ports")
	b, _ := st.Region("ports")
	_, err := b.Put(context.Background(), "eth0", []byte(`{"speed":1000,"up":true}`))
	require.NoError(t, err)
	_, err = b.Put(context.Background(), "eth1", []byte(`{"speed":100}`))
	require.NoError(t, err)
	return st
}

func TestManager_SnapshotLoadedAtMount(t *testing.T) {
	mgr := newPorts()
	assert.Equal(t, manager.StatusUnmounted, mgr.Status())

	mountAll(t, seeded(t), mgr)

	assert.Equal(t, manager.StatusMounted, mgr.Status())
	assert.Equal(t, 2, mgr.Len())
	v, ok := mgr.Get("eth0")
	assert.True(t, ok)
	assert.Equal(t, port{Speed: 1000, Up: true}, v)
	assert.True(t, mgr.Exists("eth1"))

	v, ok = mgr.Get("eth9")
	assert.False(t, ok, "absence is explicit")
	assert.Equal(t, port{}, v)
}

func TestManager_AccessBeforeMountIsViolation(t *testing.T) {
	hook := testutil.CapturePanicHook(t)
	mgr := newPorts()

	calls := map[string]func(){
		"Get":    func() { mgr.Get("eth0") },
		"Exists": func() { mgr.Exists("eth0") },
		"Len":    func() { mgr.Len() },
		"Iter":   func() { mgr.Iter(iterator.Start[portKey]()) },
		"Cursor": func() { mgr.Cursor(iterator.Start[portKey]()) },
		"Set":    func() { _ = mgr.Set(context.Background(), "eth0", port{}) },
		"Delete": func() { _ = mgr.Delete(context.Background(), "eth0") },
	}
	for name, call := range calls {
		msg := testutil.ExpectViolation(t, call)
		assert.Contains(t, msg, name)
		assert.Contains(t, msg, "before mounting")
	}
	assert.Equal(t, len(calls), hook.Count())
}

func TestManager_MalformedConstruction(t *testing.T) {
	testutil.CapturePanicHook(t)

	testutil.ExpectViolation(t, func() { manager.New[portKey, port]("", portCodec{}) })
	testutil.ExpectViolation(t, func() { manager.New[portKey, port]("ports", nil) })
	testutil.ExpectViolation(t, func() {
		manager.New[portKey, port]("ports", portCodec{}, manager.WithMode(store.AccessMode(9)))
	})
}

func TestManager_IdempotentRegistration(t *testing.T) {
	mgr := newPorts()
	m := mountAll(t, seeded(t), mgr)

	rec := testutil.NewRecorder[portKey, port]()
	h := manager.NewHandler(mgr, rec)
	mgr.AddHandler(h)
	mgr.AddHandler(h)
	h.WatchAll(true)
	h.WatchAll(true)
	assert.Equal(t, 1, mgr.HandlerCount())

	b, _, _ := m.Region("ports")
	_, err := b.Put(context.Background(), "eth2", []byte(`{"speed":10}`))
	require.NoError(t, err)
	pump(t, m, "ports", mgr, 1)

	assert.Equal(t, 1, rec.Len(), "one change must be delivered once")
}

func TestManager_IdempotentUnregistration(t *testing.T) {
	mgr := newPorts()
	mountAll(t, seeded(t), mgr)

	h := manager.NewHandler(mgr, testutil.NewRecorder[portKey, port]())
	assert.NotPanics(t, func() {
		mgr.RemoveHandler(h)
		mgr.RemoveHandler(h)
		mgr.RemoveHandler(nil)
	})

	h.WatchOne("eth0", true)
	assert.Equal(t, 1, mgr.HandlerCount())
	mgr.RemoveHandler(h)
	mgr.RemoveHandler(h)
	assert.Equal(t, 0, mgr.HandlerCount())
	assert.False(t, h.Watching("eth0"), "removal clears scopes")
}

func TestManager_ScopeDedup(t *testing.T) {
	mgr := newPorts()
	mountAll(t, seeded(t), mgr)

	rec := testutil.NewRecorder[portKey, port]()
	h := manager.NewHandler(mgr, rec)
	h.WatchAll(true)
	h.WatchOne("eth0", true)

	mgr.Apply(&store.Entry{Region: "ports", Key: "eth0", Value: []byte(`{"speed":10}`), Revision: 100})
	assert.Equal(t, 1, rec.Len())
}

func TestManager_ScopeResolution(t *testing.T) {
	mgr := newPorts()
	mountAll(t, seeded(t), mgr)

	all := testutil.NewRecorder[portKey, port]()
	one := testutil.NewRecorder[portKey, port]()
	none := testutil.NewRecorder[portKey, port]()

	manager.NewHandler(mgr, all).WatchAll(true)
	manager.NewHandler(mgr, one).WatchOne("eth1", true)
	idle := manager.NewHandler(mgr, none)
	idle.WatchOne("eth1", true)
	idle.WatchOne("eth1", false)
	assert.Equal(t, 3, mgr.HandlerCount(), "disabling the last scope keeps the handler registered")

	mgr.Apply(&store.Entry{Key: "eth0", Value: []byte(`{}`), Revision: 100})
	mgr.Apply(&store.Entry{Key: "eth1", Value: []byte(`{}`), Revision: 101})

	assert.Equal(t, []portKey{"eth0", "eth1"}, all.Keys())
	assert.Equal(t, []portKey{"eth1"}, one.Keys())
	assert.Equal(t, 0, none.Len())
}

func TestManager_DeliveryInRegistrationOrder(t *testing.T) {
	mgr := newPorts()
	mountAll(t, seeded(t), mgr)

	log := &testutil.CallLog{}
	for _, name := range []string{"first", "second", "third"} {
		h := manager.NewHandler(mgr, manager.ObserverFunc[portKey, port](func(manager.Change[portKey, port]) {
			log.Add(name)
		}))
		h.WatchAll(true)
	}

	mgr.Apply(&store.Entry{Key: "eth0", Value: []byte(`{}`), Revision: 100})
	assert.Equal(t, []string{"first", "second", "third"}, log.Calls())
}

func TestManager_ChangeRecords(t *testing.T) {
	mgr := newPorts()
	m := mountAll(t, seeded(t), mgr)

	rec := testutil.NewRecorder[portKey, port]()
	manager.NewHandler(mgr, rec).WatchAll(true)

	b, _, _ := m.Region("ports")
	ctx := context.Background()
	rev3, err := b.Put(ctx, "eth0", []byte(`{"speed":40000,"up":true}`))
	require.NoError(t, err)
	require.NoError(t, b.Delete(ctx, "eth1"))
	rev5, err := b.Put(ctx, "eth2", []byte(`{"speed":1}`))
	require.NoError(t, err)
	pump(t, m, "ports", mgr, 3)

	want := []manager.Change[portKey, port]{
		{Key: "eth0", Op: store.OpPut, Value: port{Speed: 40000, Up: true}, Previous: port{Speed: 1000, Up: true}, HadPrevious: true, Revision: rev3},
		{Key: "eth1", Op: store.OpDelete, Previous: port{Speed: 100}, HadPrevious: true, Revision: rev3 + 1},
		{Key: "eth2", Op: store.OpPut, Value: port{Speed: 1}, Revision: rev5},
	}
	if diff := cmp.Diff(want, rec.Changes()); diff != "" {
		t.Errorf("delivered changes mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 2, mgr.Len())
	assert.False(t, mgr.Exists("eth1"))
}

func TestManager_IgnoresReplayedRevisions(t *testing.T) {
	mgr := newPorts()
	mountAll(t, seeded(t), mgr)

	rec := testutil.NewRecorder[portKey, port]()
	manager.NewHandler(mgr, rec).WatchAll(true)

	// revision 1 is already part of the snapshot
	mgr.Apply(&store.Entry{Key: "eth0", Value: []byte(`{"speed":1}`), Revision: 1})
	// deleting an absent key changes nothing
	mgr.Apply(&store.Entry{Key: "eth9", Op: store.OpDelete, Revision: 50})
	// undecodable entries are dropped
	mgr.Apply(&store.Entry{Key: "eth0", Value: []byte(`not json`), Revision: 51})
	mgr.Apply(&store.Entry{Key: "", Value: []byte(`{}`), Revision: 52})

	assert.Equal(t, 0, rec.Len())
	v, _ := mgr.Get("eth0")
	assert.Equal(t, 1000, v.Speed)
}

func TestManager_HandlerRemovedDuringDelivery(t *testing.T) {
	mgr := newPorts()
	mountAll(t, seeded(t), mgr)

	second := testutil.NewRecorder[portKey, port]()
	h2 := manager.NewHandler(mgr, second)

	h1 := manager.NewHandler(mgr, manager.ObserverFunc[portKey, port](func(manager.Change[portKey, port]) {
		h2.Close()
	}))
	h1.WatchAll(true)
	h2.WatchAll(true)

	mgr.Apply(&store.Entry{Key: "eth0", Value: []byte(`{}`), Revision: 100})
	assert.Equal(t, 0, second.Len(), "unsubscription takes effect for later deliveries")
	assert.Nil(t, h2.Manager())
}

func TestManager_IterationInKeyOrder(t *testing.T) {
	mgr := newPorts()
	mountAll(t, seeded(t), mgr)
	mgr.Apply(&store.Entry{Key: "eth2", Value: []byte(`{"speed":2}`), Revision: 100})

	var keys []portKey
	for k := range mgr.Iter(iterator.Start[portKey]()) {
		keys = append(keys, k)
	}
	assert.Equal(t, []portKey{"eth0", "eth1", "eth2"}, keys)

	// bookmark at the second-to-last key leaves exactly one entry
	c := mgr.Cursor(iterator.After[portKey]("eth1"))
	require.True(t, c.Next())
	assert.Equal(t, portKey("eth2"), c.Key())
	assert.Equal(t, 2, c.Value().Speed)
	assert.False(t, c.Next())

	// bookmark at the last key yields nothing
	assert.False(t, mgr.Cursor(iterator.After[portKey]("eth2")).Next())
}

func TestManager_CursorFollowsLiveIndex(t *testing.T) {
	mgr := newPorts()
	mountAll(t, seeded(t), mgr)

	c := mgr.Cursor(iterator.Start[portKey]())
	require.True(t, c.Next())
	assert.Equal(t, portKey("eth0"), c.Key())

	// a key added ahead of the cursor is visited, a removed one is skipped
	mgr.Apply(&store.Entry{Key: "eth05", Value: []byte(`{"speed":5}`), Revision: 100})
	mgr.Apply(&store.Entry{Key: "eth1", Op: store.OpDelete, Revision: 101})

	require.True(t, c.Next())
	assert.Equal(t, portKey("eth05"), c.Key())
	assert.Equal(t, 5, c.Value().Speed)
	assert.False(t, c.Next())

	var keys []portKey
	for k := range mgr.Iter(iterator.Start[portKey]()) {
		keys = append(keys, k)
	}
	assert.Equal(t, []portKey{"eth0", "eth05"}, keys)
}

func TestManager_CursorAllocationsIndependentOfSize(t *testing.T) {
	allocs := func(n int) float64 {
		st := memstore.New("ports")
		b, _ := st.Region("ports")
		keys := make([]portKey, n)
		for i := range keys {
			keys[i] = portKey(fmt.Sprintf("eth%05d", i))
			_, err := b.Put(context.Background(), string(keys[i]), []byte(`{"speed":1}`))
			require.NoError(t, err)
		}
		mgr := newPorts()
		mountAll(t, st, mgr)
		require.Equal(t, n, mgr.Len())

		return testing.AllocsPerRun(50, func() {
			c := mgr.Cursor(iterator.After(keys[n-2]))
			for c.Next() {
				_ = c.Value()
			}
		})
	}

	small, large := allocs(8), allocs(8192)
	assert.Equal(t, small, large, "opening a cursor near the end must not copy the key set")
}

func TestManager_SetDeleteWriteThrough(t *testing.T) {
	mgr := newPorts(manager.WithMode(store.ReadWrite))
	m := mountAll(t, seeded(t), mgr)
	ctx := context.Background()

	require.NoError(t, mgr.Set(ctx, "eth5", port{Speed: 25000}))
	_, ok := mgr.Get("eth5")
	assert.False(t, ok, "view updates when the feed delivers the write")

	pump(t, m, "ports", mgr, 1)
	v, ok := mgr.Get("eth5")
	require.True(t, ok)
	assert.Equal(t, 25000, v.Speed)

	require.NoError(t, mgr.Delete(ctx, "eth5"))
	pump(t, m, "ports", mgr, 1)
	assert.False(t, mgr.Exists("eth5"))
}

func TestManager_Update(t *testing.T) {
	mgr := newPorts(manager.WithMode(store.ReadWrite))
	m := mountAll(t, seeded(t), mgr)
	ctx := context.Background()

	err := mgr.Update(ctx, "eth0", func(cur port, ok bool) (port, error) {
		assert.True(t, ok)
		cur.Up = false
		return cur, nil
	})
	require.NoError(t, err)

	err = mgr.Update(ctx, "eth7", func(cur port, ok bool) (port, error) {
		assert.False(t, ok)
		assert.Equal(t, port{}, cur)
		return port{Speed: 10}, nil
	})
	require.NoError(t, err)

	pump(t, m, "ports", mgr, 2)
	v, _ := mgr.Get("eth0")
	assert.Equal(t, port{Speed: 1000, Up: false}, v)
	v, _ = mgr.Get("eth7")
	assert.Equal(t, port{Speed: 10}, v)

	rejected := stderrors.New("rejected")
	err = mgr.Update(ctx, "eth0", func(port, bool) (port, error) { return port{}, rejected })
	assert.ErrorIs(t, err, rejected)
}

func TestManager_UpdateOnStubSkipsFn(t *testing.T) {
	mgr := manager.NewStub[portKey, port]("ports", portCodec{}, manager.WithMode(store.ReadWrite))
	mountAll(t, seeded(t), mgr)

	err := mgr.Update(context.Background(), "eth0", func(port, bool) (port, error) {
		t.Fatal("fn must not run on a stub")
		return port{}, nil
	})
	assert.NoError(t, err)
}

func TestManager_WriteRequiresReadWrite(t *testing.T) {
	mgr := newPorts()
	mountAll(t, seeded(t), mgr)

	err := mgr.Set(context.Background(), "eth0", port{})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrReadOnly)
	assert.True(t, errors.IsInvalid(err))

	err = mgr.Delete(context.Background(), "eth0")
	assert.ErrorIs(t, err, errors.ErrReadOnly)
}

func TestManager_StubDomain(t *testing.T) {
	tests := []struct {
		name string
		mgr  *manager.Manager[portKey, port]
		st   *memstore.Store
	}{
		{"constructed as stub", manager.NewStub[portKey, port]("ports", portCodec{}, manager.WithMode(store.ReadWrite)), seeded(t)},
		{"region missing from store", newPorts(manager.WithMode(store.ReadWrite)), memstore.New()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mgr := tt.mgr
			m := mountAll(t, tt.st, mgr)
			assert.Equal(t, manager.StatusStub, mgr.Status())
			assert.Empty(t, m.Feeds())

			rec := testutil.NewRecorder[portKey, port]()
			manager.NewHandler(mgr, rec).WatchAll(true)

			v, ok := mgr.Get("eth0")
			assert.False(t, ok)
			assert.Equal(t, port{}, v)
			assert.False(t, mgr.Exists("eth0"))
			assert.Equal(t, 0, mgr.Len())
			assert.False(t, mgr.Cursor(iterator.Start[portKey]()).Next())

			require.NoError(t, mgr.Set(context.Background(), "eth0", port{Speed: 1}))
			require.NoError(t, mgr.Delete(context.Background(), "eth0"))
			mgr.Apply(&store.Entry{Key: "eth0", Value: []byte(`{}`), Revision: 100})

			assert.False(t, mgr.Exists("eth0"), "commands have no observable effect")
			assert.Equal(t, 0, rec.Len(), "stubs never notify")
		})
	}
}

func TestManager_StaleKeepsServingView(t *testing.T) {
	var transitions []manager.Status
	mgr := newPorts(manager.WithStatusListener(func(region string, s manager.Status) {
		assert.Equal(t, "ports", region)
		transitions = append(transitions, s)
	}))
	mountAll(t, seeded(t), mgr)

	mgr.MarkStale(true)
	assert.Equal(t, manager.StatusStale, mgr.Status())
	assert.True(t, mgr.Exists("eth0"))

	mgr.Apply(&store.Entry{Key: "eth3", Value: []byte(`{}`), Revision: 100})
	assert.True(t, mgr.Exists("eth3"))

	mgr.MarkStale(false)
	assert.Equal(t, []manager.Status{manager.StatusMounted, manager.StatusStale, manager.StatusMounted}, transitions)
}

func TestManager_ResyncDeliversMissedChanges(t *testing.T) {
	mgr := newPorts()
	mountAll(t, seeded(t), mgr)

	rec := testutil.NewRecorder[portKey, port]()
	manager.NewHandler(mgr, rec).WatchAll(true)

	mgr.MarkStale(true)
	require.Equal(t, manager.StatusStale, mgr.Status())

	// eth0 is unchanged, eth1 went away and eth2 appeared while stale
	mgr.Resync([]store.Entry{
		{Region: "ports", Key: "eth0", Value: []byte(`{"speed":1000,"up":true}`), Revision: 1},
		{Region: "ports", Key: "eth2", Value: []byte(`{"speed":10}`), Revision: 7},
	})

	assert.Equal(t, manager.StatusMounted, mgr.Status())
	want := []manager.Change[portKey, port]{
		{Key: "eth2", Op: store.OpPut, Value: port{Speed: 10}, Revision: 7},
		{Key: "eth1", Op: store.OpDelete, Previous: port{Speed: 100}, HadPrevious: true},
	}
	if diff := cmp.Diff(want, rec.Changes()); diff != "" {
		t.Errorf("resync changes mismatch (-want +got):\n%s", diff)
	}

	var keys []portKey
	for k := range mgr.Iter(iterator.Start[portKey]()) {
		keys = append(keys, k)
	}
	assert.Equal(t, []portKey{"eth0", "eth2"}, keys)
}

func TestManager_NotifyOnlyWhenServing(t *testing.T) {
	t.Run("stub", func(t *testing.T) {
		mgr := manager.NewStub[portKey, port]("ports", portCodec{})
		mountAll(t, seeded(t), mgr)
		rec := testutil.NewRecorder[portKey, port]()
		manager.NewHandler(mgr, rec).WatchAll(true)

		mgr.Notify(manager.Change[portKey, port]{Key: "eth0"})
		assert.Equal(t, 0, rec.Len())
	})

	t.Run("unmounted", func(t *testing.T) {
		mgr := newPorts()
		rec := testutil.NewRecorder[portKey, port]()
		manager.NewHandler(mgr, rec).WatchAll(true)

		mgr.Notify(manager.Change[portKey, port]{Key: "eth0"})
		assert.Equal(t, 0, rec.Len())
	})

	t.Run("closed", func(t *testing.T) {
		mgr := newPorts()
		mountAll(t, seeded(t), mgr)
		rec := testutil.NewRecorder[portKey, port]()
		manager.NewHandler(mgr, rec).WatchAll(true)
		mgr.Close()

		mgr.Notify(manager.Change[portKey, port]{Key: "eth0"})
		assert.Equal(t, 0, rec.Len())
	})

	t.Run("mounted", func(t *testing.T) {
		mgr := newPorts()
		mountAll(t, seeded(t), mgr)
		rec := testutil.NewRecorder[portKey, port]()
		manager.NewHandler(mgr, rec).WatchAll(true)

		mgr.Notify(manager.Change[portKey, port]{Key: "eth0"})
		assert.Equal(t, 1, rec.Len())
	})
}

func TestManager_CloseDetachesHandlers(t *testing.T) {
	mgr := newPorts()
	mountAll(t, seeded(t), mgr)

	rec := testutil.NewRecorder[portKey, port]()
	h := manager.NewHandler(mgr, rec)
	h.WatchAll(true)

	mgr.Close()
	mgr.Close()

	assert.Nil(t, h.Manager())
	assert.Equal(t, 0, mgr.HandlerCount())
	assert.NotPanics(t, func() {
		h.WatchAll(true)
		h.WatchOne("eth0", true)
		h.Close()
	})
	assert.False(t, h.WatchingAll())
	assert.Equal(t, 0, mgr.HandlerCount(), "watch calls after teardown are checked no-ops")

	mgr.Apply(&store.Entry{Key: "eth0", Value: []byte(`{}`), Revision: 100})
	assert.Equal(t, 0, rec.Len())
}

func TestManager_Metrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	mgr := newPorts(manager.WithMetrics(registry.CoreMetrics()))
	mountAll(t, seeded(t), mgr)

	manager.NewHandler(mgr, testutil.NewRecorder[portKey, port]()).WatchAll(true)
	mgr.Apply(&store.Entry{Key: "eth0", Value: []byte(`{}`), Revision: 100})

	families, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["agentsdk_dispatch_notifications_total"])
	assert.True(t, names["agentsdk_manager_handlers"])
	assert.True(t, names["agentsdk_manager_status"])
}
