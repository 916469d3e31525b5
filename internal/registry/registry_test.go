package registry

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/gray-logic-orchestrator/internal/dispatch"
	"github.com/nerrad567/gray-logic-orchestrator/internal/paramset"
	"github.com/nerrad567/gray-logic-orchestrator/internal/policy"
	"github.com/nerrad567/gray-logic-orchestrator/internal/port"
	"github.com/nerrad567/gray-logic-orchestrator/internal/protocol"
	"github.com/nerrad567/gray-logic-orchestrator/internal/provision"
)

const (
	waitFor = 10 * time.Second
	tick    = 10 * time.Millisecond
)

type node struct {
	reg    *Registry
	store  *provision.Memory
	cancel context.CancelFunc
	waited chan error
	once   sync.Once
}

func startNode(t *testing.T) *node {
	t.Helper()
	store := provision.NewMemory()
	reg := New(Options{
		Transport: port.NewHub(),
		Store:     store,
		Dispatch:  dispatch.Config{RetryPeriod: 50 * time.Millisecond, RetryTimeout: time.Minute},
		Backoff:   50 * time.Millisecond,
	})
	reg.SetDistributor(provision.NewDistributor(store, provision.DistributorOptions{Host: "local", Local: reg}))

	ctx, cancel := context.WithCancel(context.Background())
	reg.Start(ctx)
	n := &node{reg: reg, store: store, cancel: cancel, waited: make(chan error, 1)}
	go func() { n.waited <- reg.Wait() }()
	t.Cleanup(n.stop)
	return n
}

func (n *node) stop() {
	n.once.Do(func() {
		n.cancel()
		<-n.waited
	})
}

func stateOf(r *Registry, name string) protocol.State {
	d, ok := r.Get(name)
	if !ok {
		return protocol.StateDisabled
	}
	return d.Status().State
}

func TestCreate_RunsDevice(t *testing.T) {
	n := startNode(t)

	_, err := n.reg.Create("leaf", nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return stateOf(n.reg, "leaf") == protocol.StateIdle }, waitFor, tick)

	res, err := n.reg.Command(context.Background(), "leaf", "CLAIM")
	require.NoError(t, err)
	assert.Equal(t, protocol.NoError, res)
	assert.Eventually(t, func() bool { return stateOf(n.reg, "leaf") == protocol.StateClaimed }, waitFor, tick)

	list := n.reg.List()
	require.Len(t, list, 1)
	assert.Equal(t, "leaf", list[0].Name)
	assert.Equal(t, 1, n.reg.Count())
}

func TestCreate_Errors(t *testing.T) {
	_, err := New(Options{Transport: port.NewHub()}).Create("early", nil)
	assert.ErrorIs(t, err, ErrNotStarted)

	n := startNode(t)
	_, err = n.reg.Create("dup", nil)
	require.NoError(t, err)
	_, err = n.reg.Create("dup", nil)
	assert.ErrorIs(t, err, ErrDeviceExists)

	_, err = n.reg.Create("odd", paramset.Set{KeyPolicy: "chaotic"})
	assert.ErrorIs(t, err, policy.ErrUnknownPolicy)

	_, err = n.reg.Command(context.Background(), "nobody", "CLAIM")
	assert.ErrorIs(t, err, ErrDeviceNotFound)
}

func TestLaunch(t *testing.T) {
	n := startNode(t)
	ctx := context.Background()

	err := n.reg.Launch(ctx, provision.LaunchRequest{Name: "dish1", Ref: "missing"})
	assert.ErrorIs(t, err, provision.ErrNotFound)

	require.NoError(t, n.store.Put(ctx, "dish1", paramset.Set{"policy": "passive"}))
	require.NoError(t, n.reg.Launch(ctx, provision.LaunchRequest{Name: "dish1", Ref: "dish1"}))
	first, ok := n.reg.Get("dish1")
	require.True(t, ok)

	require.NoError(t, n.reg.Launch(ctx, provision.LaunchRequest{Name: "dish1", Ref: "dish1"}))
	again, _ := n.reg.Get("dish1")
	assert.Same(t, first, again, "a running device is not relaunched")
}

func TestDestroy_Idempotent(t *testing.T) {
	n := startNode(t)
	_, err := n.reg.Create("temp", nil)
	require.NoError(t, err)

	n.reg.Destroy("temp")
	n.reg.Destroy("temp")
	_, ok := n.reg.Get("temp")
	assert.False(t, ok)
}

func TestScheduledTreeRunsToCompletion(t *testing.T) {
	n := startNode(t)
	ctx := context.Background()

	now := time.Now()
	require.NoError(t, n.store.Put(ctx, "night", paramset.Set{
		"children":         "dish1",
		"child.dish1.type": "dish",
		"schedule.claim":   strconv.FormatInt(now.Add(-time.Second).Unix(), 10),
		"schedule.stop":    strconv.FormatInt(now.Add(3*time.Second).Unix(), 10),
	}))

	_, err := n.reg.Create("station", nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return stateOf(n.reg, "station") == protocol.StateIdle }, waitFor, tick)

	res, err := n.reg.Command(ctx, "station", "SCHEDULE night")
	require.NoError(t, err)
	require.Equal(t, protocol.NoError, res)

	// The child is launched from its distributed blob and both claim.
	require.Eventually(t, func() bool {
		return stateOf(n.reg, "station") == protocol.StateClaimed && stateOf(n.reg, "dish1") == protocol.StateClaimed
	}, waitFor, tick)

	blob, err := n.store.Get(ctx, "dish1")
	require.NoError(t, err)
	assert.Equal(t, "station", blob["parents"])

	// At the stop instant the whole tree releases and goes away.
	assert.Eventually(t, func() bool { return n.reg.Count() == 0 }, waitFor, tick)
}

func TestWait_StopsDevices(t *testing.T) {
	n := startNode(t)
	d, err := n.reg.Create("leaf", nil)
	require.NoError(t, err)

	n.stop()

	select {
	case <-d.Done():
	case <-time.After(waitFor):
		t.Fatal("device did not stop")
	}
	assert.Zero(t, n.reg.Count())

	_, err = n.reg.Create("late", nil)
	assert.ErrorIs(t, err, ErrStopped)
}
