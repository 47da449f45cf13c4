package manager_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/c360/agentsdk/manager"
	"github.com/c360/agentsdk/testutil"
)

func TestNewHandler_NilManagerIsViolation(t *testing.T) {
	hook := testutil.CapturePanicHook(t)

	msg := testutil.ExpectViolation(t, func() {
		manager.NewHandler[portKey, port](nil, testutil.NewRecorder[portKey, port]())
	})
	assert.Contains(t, msg, "nil manager")

	testutil.ExpectViolation(t, func() {
		manager.NewHandler[portKey, port](newPorts(), nil)
	})
	assert.Equal(t, 2, hook.Count())
}

func TestHandler_StartsUninterested(t *testing.T) {
	mgr := newPorts()
	h := manager.NewHandler(mgr, testutil.NewRecorder[portKey, port]())

	assert.Same(t, mgr, h.Manager())
	assert.False(t, h.WatchingAll())
	assert.False(t, h.Watching("eth0"))
	assert.Equal(t, 0, mgr.HandlerCount(), "construction registers no interest")
}

func TestHandler_WatchToggles(t *testing.T) {
	mgr := newPorts()
	h := manager.NewHandler(mgr, testutil.NewRecorder[portKey, port]())

	h.WatchOne("eth0", false)
	assert.Equal(t, 0, mgr.HandlerCount(), "disabling an unwatched scope is a no-op")

	h.WatchOne("eth0", true)
	h.WatchOne("eth0", true)
	assert.True(t, h.Watching("eth0"))
	assert.False(t, h.Watching("eth1"))

	h.WatchAll(true)
	assert.True(t, h.Watching("eth1"))
	h.WatchAll(false)
	assert.False(t, h.Watching("eth1"))
	assert.True(t, h.Watching("eth0"))
	assert.Equal(t, 1, mgr.HandlerCount())
}

func TestHandler_CloseRemovesOnce(t *testing.T) {
	mgr := newPorts()
	h := manager.NewHandler(mgr, testutil.NewRecorder[portKey, port]())
	other := manager.NewHandler(mgr, testutil.NewRecorder[portKey, port]())
	h.WatchAll(true)
	other.WatchAll(true)

	h.Close()
	h.Close()
	assert.Nil(t, h.Manager())
	assert.Equal(t, 1, mgr.HandlerCount())

	// a handler that never watched anything closes cleanly
	idle := manager.NewHandler(mgr, testutil.NewRecorder[portKey, port]())
	idle.Close()
	assert.Equal(t, 1, mgr.HandlerCount())
}

func TestHandler_IDsUniquePerManager(t *testing.T) {
	mgr := newPorts()
	a := manager.NewHandler(mgr, testutil.NewRecorder[portKey, port]())
	b := manager.NewHandler(mgr, testutil.NewRecorder[portKey, port]())
	assert.NotEqual(t, a.ID(), b.ID())
}

func TestManager_AddForeignHandlerIsViolation(t *testing.T) {
	testutil.CapturePanicHook(t)
	a := newPorts()
	b := manager.New[portKey, port]("ports-b", portCodec{})
	h := manager.NewHandler(a, testutil.NewRecorder[portKey, port]())

	testutil.ExpectViolation(t, func() { b.AddHandler(h) })
	assert.Equal(t, 0, b.HandlerCount())
}
