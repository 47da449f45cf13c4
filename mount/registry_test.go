package mount_test

import (
	"testing"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/agentsdk/metric"
	"github.com/c360/agentsdk/mount"
	"github.com/c360/agentsdk/store"
	"github.com/c360/agentsdk/store/memstore"
	"github.com/c360/agentsdk/testutil"
)

func TestRegistry_LIFOOrderBothPhases(t *testing.T) {
	log := &testutil.CallLog{}
	reg := mount.NewRegistry()

	reg.Register(testutil.NewParticipant("A", log))
	reg.Register(testutil.NewParticipant("B", log))
	reg.Register(testutil.NewParticipant("C", log))

	reg.DoMounts(mount.NewGroup())
	reg.MountsComplete(mustApply(t, mount.NewGroup()))

	assert.Equal(t, []string{
		"mount:C", "mount:B", "mount:A",
		"complete:C", "complete:B", "complete:A",
	}, log.Calls())
	assert.Equal(t, mount.Complete, reg.Phase())
}

func TestRegistry_CompletionFollowsAllMounts(t *testing.T) {
	log := &testutil.CallLog{}
	reg := mount.NewRegistry()

	first := testutil.NewParticipant("first", log)
	second := testutil.NewParticipant("second", log)
	// second observes that first already declared its region
	var sawFirst bool
	second.OnCompleteFunc = func(acc mount.Accessor) {
		_, _, sawFirst = acc.Region("intf")
	}
	first.Requires = []mount.Requirement{{Region: "intf", Mode: store.ReadNotify}}

	reg.Register(second)
	reg.Register(first)

	g := mount.NewGroup()
	reg.DoMounts(g)

	st := memstore.New("intf")
	m, err := mount.Apply(t.Context(), st, g, nil)
	require.NoError(t, err)
	defer m.Close()

	reg.MountsComplete(m)
	assert.True(t, sawFirst)
}

func TestRegistry_DuplicateRegistrationIsNoOp(t *testing.T) {
	log := &testutil.CallLog{}
	reg := mount.NewRegistry()
	p := testutil.NewParticipant("A", log)

	reg.Register(p)
	reg.Register(p)
	assert.Equal(t, 1, reg.Len())

	reg.DoMounts(mount.NewGroup())
	assert.Equal(t, []string{"mount:A"}, log.Calls())
}

func TestRegistry_LateRegistrationDuringMountIsFatal(t *testing.T) {
	hook := testutil.CapturePanicHook(t)
	log := &testutil.CallLog{}
	reg := mount.NewRegistry()

	late := testutil.NewParticipant("late", log)
	injector := testutil.NewParticipant("injector", log)
	injector.OnMountFunc = func(*mount.Group) {
		reg.Register(late)
	}
	reg.Register(injector)

	msg := testutil.ExpectViolation(t, func() { reg.DoMounts(mount.NewGroup()) })
	assert.Contains(t, msg, "mounting phase")
	require.Equal(t, 1, hook.Count(), "the panic hook must see the violation")
	assert.Equal(t, 1, reg.Len(), "late participant must not be accepted")
}

func TestRegistry_LateRegistrationAfterCompleteIsFatal(t *testing.T) {
	hook := testutil.CapturePanicHook(t)
	reg := mount.NewRegistry()
	reg.DoMounts(mount.NewGroup())
	reg.MountsComplete(mustApply(t, mount.NewGroup()))

	testutil.ExpectViolation(t, func() {
		reg.Register(testutil.NewParticipant("late", &testutil.CallLog{}))
	})
	assert.Equal(t, 1, hook.Count())
	assert.Equal(t, 0, reg.Len())
}

func TestRegistry_PhaseMisuse(t *testing.T) {
	tests := []struct {
		name string
		run  func(reg *mount.Registry)
	}{
		{"complete before mounts", func(reg *mount.Registry) {
			reg.MountsComplete(mustApply(t, mount.NewGroup()))
		}},
		{"mounts twice", func(reg *mount.Registry) {
			reg.DoMounts(mount.NewGroup())
			reg.DoMounts(mount.NewGroup())
		}},
		{"complete twice", func(reg *mount.Registry) {
			reg.DoMounts(mount.NewGroup())
			reg.MountsComplete(mustApply(t, mount.NewGroup()))
			reg.MountsComplete(mustApply(t, mount.NewGroup()))
		}},
		{"nil participant", func(reg *mount.Registry) {
			reg.Register(nil)
		}},
		{"nil group", func(reg *mount.Registry) {
			reg.DoMounts(nil)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hook := testutil.CapturePanicHook(t)
			reg := mount.NewRegistry()
			testutil.ExpectViolation(t, func() { tt.run(reg) })
			assert.Equal(t, 1, hook.Count())
		})
	}
}

func TestRegistry_RecordsPhaseMetric(t *testing.T) {
	metrics := metric.NewMetricsRegistry().CoreMetrics()
	reg := mount.NewRegistry(mount.WithMetrics(metrics))

	assert.Equal(t, 0.0, promtest.ToFloat64(metrics.MountPhase))

	reg.DoMounts(mount.NewGroup())
	assert.Equal(t, 1.0, promtest.ToFloat64(metrics.MountPhase))

	reg.MountsComplete(mustApply(t, mount.NewGroup()))
	assert.Equal(t, 2.0, promtest.ToFloat64(metrics.MountPhase))
	assert.Equal(t, "complete", reg.Phase().String())
}

func TestGroup_RequireKeepsWidestMode(t *testing.T) {
	g := mount.NewGroup()
	g.Require("intf", store.ReadOnly)
	g.Require("bgp", store.ReadWrite)
	g.Require("intf", store.ReadWrite)
	g.Require("intf", store.ReadNotify)
	g.Require("bgp", store.ReadOnly)

	assert.Equal(t, []mount.Requirement{
		{Region: "intf", Mode: store.ReadWrite},
		{Region: "bgp", Mode: store.ReadWrite},
	}, g.Requirements())

	mode, ok := g.Mode("intf")
	assert.True(t, ok)
	assert.Equal(t, store.ReadWrite, mode)
	_, ok = g.Mode("vrf")
	assert.False(t, ok)
}

func TestGroup_MalformedRequire(t *testing.T) {
	testutil.CapturePanicHook(t)
	g := mount.NewGroup()

	testutil.ExpectViolation(t, func() { g.Require("", store.ReadOnly) })
	testutil.ExpectViolation(t, func() { g.Require("intf", store.AccessMode(0)) })
	assert.Equal(t, 0, g.Len())
}

func TestGroup_RequireAfterMountPhaseIsFatal(t *testing.T) {
	testutil.CapturePanicHook(t)
	g := mount.NewGroup()
	mount.NewRegistry().DoMounts(g)

	testutil.ExpectViolation(t, func() { g.Require("intf", store.ReadOnly) })
}

func mustApply(t *testing.T, g *mount.Group) *mount.Mounted {
	t.Helper()
	m, err := mount.Apply(t.Context(), memstore.New(), g, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}
