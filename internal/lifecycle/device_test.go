package lifecycle_test

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/nerrad567/gray-logic-orchestrator/internal/dispatch"
	"github.com/nerrad567/gray-logic-orchestrator/internal/lifecycle"
	"github.com/nerrad567/gray-logic-orchestrator/internal/paramset"
	"github.com/nerrad567/gray-logic-orchestrator/internal/policy"
	"github.com/nerrad567/gray-logic-orchestrator/internal/port"
	"github.com/nerrad567/gray-logic-orchestrator/internal/protocol"
)

// ─── Test Harness ───────────────────────────────────────────────

type published struct {
	device string
	name   string
	value  any
}

type recordingSink struct {
	mu     sync.Mutex
	events []published
}

func (s *recordingSink) Publish(device, name string, value any) {
	s.mu.Lock()
	s.events = append(s.events, published{device, name, value})
	s.mu.Unlock()
}

func (s *recordingSink) states(device string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, e := range s.events {
		if e.device == device && e.name == "state" {
			out = append(out, e.value.(string))
		}
	}
	return out
}

func (s *recordingSink) values(device, name string) []any {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []any
	for _, e := range s.events {
		if e.device == device && e.name == name {
			out = append(out, e.value)
		}
	}
	return out
}

// configStore serves blobs and doubles as a synchronous distributor.
type configStore struct {
	mu    sync.Mutex
	blobs map[string]paramset.Set
}

func (c *configStore) Get(_ context.Context, ref string) (paramset.Set, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	set, ok := c.blobs[ref]
	if !ok {
		return nil, fmt.Errorf("no blob %q", ref)
	}
	return set.Clone(), nil
}

func (c *configStore) put(ref string, set paramset.Set) {
	c.mu.Lock()
	c.blobs[ref] = set.Clone()
	c.mu.Unlock()
}

func (c *configStore) Distribute(_ string, spec lifecycle.ChildSpec, done func(error)) {
	c.put(spec.Ref, spec.Params)
	done(nil)
}

type world struct {
	t       *testing.T
	hub     *port.Hub
	clk     *testingclock.FakeClock
	sink    *recordingSink
	configs *configStore

	mu        sync.Mutex
	destroyed []string
	devices   []*lifecycle.Device
}

func newWorld(t *testing.T) *world {
	return &world{
		t:       t,
		hub:     port.NewHub(),
		clk:     testingclock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
		sink:    &recordingSink{},
		configs: &configStore{blobs: make(map[string]paramset.Set)},
	}
}

func (w *world) Destroy(name string) {
	w.mu.Lock()
	w.destroyed = append(w.destroyed, name)
	w.mu.Unlock()
}

func (w *world) add(name string, params paramset.Set, p lifecycle.Policy) *lifecycle.Device {
	w.t.Helper()
	d, err := lifecycle.New(lifecycle.Options{
		Name:        name,
		Params:      params,
		Policy:      p,
		Transport:   w.hub,
		Clock:       w.clk,
		Sink:        w.sink,
		Configs:     w.configs,
		Distributor: w.configs,
		Supervisor:  w,
		Dispatch:    dispatch.Config{RetryPeriod: 10 * time.Second, RetryTimeout: time.Hour},
		Backoff:     3 * time.Second,
	})
	require.NoError(w.t, err)
	d.Boot()
	w.devices = append(w.devices, d)
	w.settle()
	return d
}

func (w *world) settle() {
	w.t.Helper()
	for round := 0; round < 1000; round++ {
		busy := false
		for _, d := range w.devices {
			if d.Step() {
				busy = true
			}
		}
		if !busy {
			return
		}
	}
	w.t.Fatal("devices never went quiet")
}

func (w *world) step(d time.Duration) {
	w.clk.Step(d)
	w.settle()
}

func (w *world) command(d *lifecycle.Device, text string) protocol.Result {
	w.t.Helper()
	reply := d.Submit(text)
	w.settle()
	select {
	case r := <-reply:
		return r
	default:
		w.t.Fatalf("%s: no reply to %q", d.Name(), text)
		return protocol.NoError
	}
}

func (w *world) epoch(offset time.Duration) string {
	return strconv.FormatInt(w.clk.Now().Add(offset).Unix(), 10)
}

func state(d *lifecycle.Device) protocol.State {
	return d.Status().State
}

// station with dish children d1 and d2 at the given quorum; only d1 runs.
func stationWithTwoDishes(t *testing.T, required string) (*world, *lifecycle.Device, *lifecycle.Device) {
	t.Helper()
	w := newWorld(t)
	station := w.add("station", paramset.Set{
		"children":         "d1,d2",
		"child.d1.type":    "dish",
		"child.d2.type":    "dish",
		"quality.required": required,
	}, policy.Quorum{})
	d1 := w.add("d1", paramset.Set{"parents": "station"}, policy.Quorum{})

	require.Equal(t, protocol.StateIdle, state(station))
	require.Equal(t, protocol.StateIdle, state(d1))
	return w, station, d1
}

// ─── Construction ───────────────────────────────────────────────

func TestNew_RequiresName(t *testing.T) {
	_, err := lifecycle.New(lifecycle.Options{})
	assert.ErrorIs(t, err, lifecycle.ErrNoName)
}

func TestNew_InvalidScheduleDisables(t *testing.T) {
	w := newWorld(t)
	d := w.add("bad", paramset.Set{
		"schedule.claim": w.epoch(time.Hour),
		"schedule.stop":  w.epoch(time.Minute),
	}, nil)

	assert.Equal(t, protocol.StateDisabled, state(d))
	assert.Equal(t, protocol.Disabled, w.command(d, "CLAIM"))
	assert.Equal(t, protocol.Disabled, w.command(d, "SCHEDULE anything"))
	assert.Equal(t, []string{"DISABLED"}, w.sink.states("bad"))
}

func TestStart_BecomesIdleWhenListening(t *testing.T) {
	w := newWorld(t)
	d := w.add("leaf", nil, nil)

	assert.Equal(t, protocol.StateIdle, state(d))
	assert.Equal(t, []string{"INITIAL", "IDLE"}, w.sink.states("leaf"))
}

type idleWatcher struct {
	lifecycle.BasePolicy
	seen *[]protocol.State
}

func (p idleWatcher) Idle(s lifecycle.Scope, t lifecycle.Transition) lifecycle.Transition {
	for _, c := range s.Children() {
		*p.seen = append(*p.seen, c.State)
	}
	return t
}

func TestStart_PolicySeesReportsHeardWhileInitial(t *testing.T) {
	w := newWorld(t)
	var seen []protocol.State
	station := w.add("station", paramset.Set{"parents": "top", "children": "d1"}, idleWatcher{seen: &seen})
	d1 := w.add("d1", paramset.Set{"parents": "station"}, nil)
	require.Equal(t, protocol.StateInitial, state(station))

	require.Equal(t, protocol.NoError, w.command(d1, "CLAIM"))
	require.Equal(t, protocol.StateClaimed, state(d1))
	assert.Empty(t, seen, "no policy calls before the station is idle")

	w.add("top", paramset.Set{"children": "station"}, nil)
	w.step(3 * time.Second)

	require.Equal(t, protocol.StateIdle, state(station))
	assert.Equal(t, []protocol.State{protocol.StateClaimed}, seen)
}

// ─── Commands ───────────────────────────────────────────────────

func TestCommand_LeafWalksTheLifecycle(t *testing.T) {
	w := newWorld(t)
	d := w.add("leaf", nil, nil)

	steps := []struct {
		command string
		want    protocol.State
	}{
		{"CLAIM", protocol.StateClaimed},
		{"PREPARE", protocol.StateSuspended},
		{"RESUME", protocol.StateActive},
		{"SUSPEND", protocol.StateSuspended},
		{"RESUME", protocol.StateActive},
		{"RELEASE", protocol.StateIdle},
	}
	for _, s := range steps {
		require.Equal(t, protocol.NoError, w.command(d, s.command), s.command)
		require.Equal(t, s.want, state(d), s.command)
	}

	assert.Equal(t, []string{
		"INITIAL", "IDLE",
		"CLAIMING", "CLAIMED",
		"PREPARING", "SUSPENDED",
		"ACTIVE", "SUSPENDED", "ACTIVE",
		"RELEASING", "IDLE",
	}, w.sink.states("leaf"))
	assert.False(t, d.Exited(), "a plain release returns to idle")
}

func TestCommand_InvalidInState(t *testing.T) {
	tests := []struct {
		name    string
		setup   []string
		command string
	}{
		{"prepare while idle", nil, "PREPARE"},
		{"resume while idle", nil, "RESUME"},
		{"suspend while idle", nil, "SUSPEND"},
		{"claim while claimed", []string{"CLAIM"}, "CLAIM"},
		{"resume while claimed", []string{"CLAIM"}, "RESUME"},
		{"suspend while suspended", []string{"CLAIM", "PREPARE"}, "SUSPEND"},
		{"prepare while active", []string{"CLAIM", "PREPARE", "RESUME"}, "PREPARE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := newWorld(t)
			d := w.add("leaf", nil, nil)
			for _, c := range tt.setup {
				require.Equal(t, protocol.NoError, w.command(d, c))
			}
			before := state(d)

			assert.Equal(t, protocol.InvalidState, w.command(d, tt.command))
			assert.Equal(t, before, state(d))
		})
	}
}

func TestCommand_ParseErrorsLeaveStateAlone(t *testing.T) {
	w := newWorld(t)
	d := w.add("leaf", nil, nil)

	res, err := d.Command(context.Background(), "LAUNCH")
	require.NoError(t, err)
	assert.Equal(t, protocol.UnknownCommand, res)

	res, err = d.Command(context.Background(), "CLAIM now")
	require.NoError(t, err)
	assert.Equal(t, protocol.IncorrectParameterCount, res)

	res, err = d.Command(context.Background(), "SCHEDULE")
	require.NoError(t, err)
	assert.Equal(t, protocol.IncorrectParameterCount, res)

	assert.Equal(t, protocol.StateIdle, state(d))
}

type vetoPolicy struct {
	lifecycle.BasePolicy
}

func (vetoPolicy) Claim(lifecycle.Scope) protocol.Result { return protocol.LowQuality }

func TestCommand_EntryActionCanVeto(t *testing.T) {
	w := newWorld(t)
	d := w.add("leaf", nil, vetoPolicy{})

	assert.Equal(t, protocol.LowQuality, w.command(d, "CLAIM"))
	assert.Equal(t, protocol.StateIdle, state(d))
}

// ─── Quorum scenarios ───────────────────────────────────────────

func TestScenario_HalfQuorumClaims(t *testing.T) {
	w, station, d1 := stationWithTwoDishes(t, "50")

	require.Equal(t, protocol.NoError, w.command(station, "CLAIM"))
	assert.Equal(t, protocol.StateClaiming, state(station))

	require.Equal(t, protocol.NoError, w.command(d1, "CLAIM"))

	assert.Equal(t, protocol.StateClaimed, state(d1))
	assert.Equal(t, protocol.StateClaimed, state(station))
}

func TestScenario_FullQuorumFallsBackWithLowQuality(t *testing.T) {
	w := newWorld(t)
	top := w.add("top", paramset.Set{"children": "station"}, lifecycle.BasePolicy{})
	station := w.add("station", paramset.Set{
		"parents":       "top",
		"children":      "d1,d2",
		"child.d1.type": "dish",
		"child.d2.type": "dish",
	}, policy.Quorum{})
	d1 := w.add("d1", paramset.Set{"parents": "station"}, policy.Quorum{})

	require.Equal(t, protocol.NoError, w.command(station, "CLAIM"))
	require.Equal(t, protocol.NoError, w.command(d1, "CLAIM"))

	assert.Equal(t, protocol.StateIdle, state(station))
	assert.Equal(t, []string{"INITIAL", "IDLE", "CLAIMING", "IDLE"}, w.sink.states("station"))

	// The parent heard CLAIMED(LowQuality) and keeps the station idle.
	children := top.Status().Children
	require.Len(t, children, 1)
	assert.Equal(t, protocol.StateIdle, children[0].State)
}

func TestScenario_ReportsClimbTheTree(t *testing.T) {
	w := newWorld(t)
	top := w.add("top", paramset.Set{"children": "station"}, policy.Quorum{})
	station := w.add("station", paramset.Set{"parents": "top", "children": "d1"}, policy.Quorum{})
	d1 := w.add("d1", paramset.Set{"parents": "station"}, policy.Quorum{})

	require.Equal(t, protocol.NoError, w.command(top, "CLAIM"))
	require.Equal(t, protocol.NoError, w.command(station, "CLAIM"))
	assert.Equal(t, protocol.StateClaiming, state(top))

	require.Equal(t, protocol.NoError, w.command(d1, "CLAIM"))

	assert.Equal(t, protocol.StateClaimed, state(station))
	assert.Equal(t, protocol.StateClaimed, state(top))
}

func TestScenario_CommandsPropagateDown(t *testing.T) {
	w := newWorld(t)
	station := w.add("station", paramset.Set{"children": "d1"}, policy.Quorum{})
	d1 := w.add("d1", paramset.Set{"parents": "station"}, policy.Quorum{})

	require.Equal(t, protocol.NoError, w.command(station, "CLAIM"))
	require.Equal(t, protocol.NoError, w.command(d1, "CLAIM"))
	require.Equal(t, protocol.StateClaimed, state(station))

	require.Equal(t, protocol.NoError, w.command(station, "PREPARE"))
	require.Equal(t, protocol.NoError, w.command(d1, "PREPARE"))
	require.Equal(t, protocol.StateSuspended, state(station))

	require.Equal(t, protocol.NoError, w.command(station, "RESUME"))
	assert.Equal(t, protocol.StateActive, state(d1))
	assert.Equal(t, protocol.StateActive, station.Status().Children[0].State)

	require.Equal(t, protocol.NoError, w.command(station, "SUSPEND"))
	assert.Equal(t, protocol.StateSuspended, state(d1))

	require.Equal(t, protocol.NoError, w.command(station, "RELEASE"))
	assert.Equal(t, protocol.StateIdle, state(d1))
	assert.Equal(t, protocol.StateIdle, state(station))
}

func TestScenario_TransitionTimeout(t *testing.T) {
	w := newWorld(t)
	station := w.add("station", paramset.Set{"children": "d1", "lifecycle.timeout": "30"}, policy.Quorum{})
	w.add("d1", paramset.Set{"parents": "station"}, policy.Quorum{})

	require.Equal(t, protocol.NoError, w.command(station, "CLAIM"))
	w.step(29 * time.Second)
	assert.Equal(t, protocol.StateClaiming, state(station))

	w.step(time.Second)
	assert.Equal(t, protocol.StateIdle, state(station))
}

// A release cutting a claim or prepare short must not report the
// interrupted phase as done; the parent only hears RELEASED.
func TestScenario_InterruptedWaitReportsOnlyTheRelease(t *testing.T) {
	claiming := []string{"station CLAIM", "d1 CLAIM"}
	preparing := []string{"station CLAIM", "d1 CLAIM", "x CLAIM", "station PREPARE", "d1 PREPARE"}
	stationClaiming := []string{"INITIAL", "IDLE", "CLAIMING", "IDLE"}
	stationPreparing := []string{"INITIAL", "IDLE", "CLAIMING", "CLAIMED", "PREPARING", "CLAIMED"}

	tests := []struct {
		name      string
		setup     []string
		interrupt string
		station   []string
		d1        []string
		exited    bool
	}{
		{
			name: "release during claiming", setup: claiming, interrupt: "RELEASE",
			station: stationClaiming,
			d1:      []string{"INITIAL", "IDLE", "CLAIMING", "RELEASING", "IDLE"},
		},
		{
			name: "cancel during claiming", setup: claiming, interrupt: "CANCELSCHEDULE",
			station: stationClaiming,
			d1:      []string{"INITIAL", "IDLE", "CLAIMING", "RELEASING", "GOINGDOWN"},
			exited:  true,
		},
		{
			name: "release during preparing", setup: preparing, interrupt: "RELEASE",
			station: stationPreparing,
			d1:      []string{"INITIAL", "IDLE", "CLAIMING", "CLAIMED", "PREPARING", "RELEASING", "IDLE"},
		},
		{
			name: "cancel during preparing", setup: preparing, interrupt: "CANCELSCHEDULE",
			station: stationPreparing,
			d1:      []string{"INITIAL", "IDLE", "CLAIMING", "CLAIMED", "PREPARING", "RELEASING", "GOINGDOWN"},
			exited:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := newWorld(t)
			station := w.add("station", paramset.Set{"children": "d1"}, policy.Quorum{})
			d1 := w.add("d1", paramset.Set{"parents": "station", "children": "x"}, policy.Quorum{})
			x := w.add("x", paramset.Set{"parents": "d1"}, policy.Quorum{})
			devices := map[string]*lifecycle.Device{"station": station, "d1": d1, "x": x}

			for _, step := range tt.setup {
				name, cmd, _ := strings.Cut(step, " ")
				require.Equal(t, protocol.NoError, w.command(devices[name], cmd), step)
			}
			require.True(t, state(d1).Waiting(), "d1 is %s", state(d1))

			require.Equal(t, protocol.NoError, w.command(d1, tt.interrupt))

			assert.Equal(t, tt.station, w.sink.states("station"))
			assert.Equal(t, tt.d1, w.sink.states("d1"))
			assert.Equal(t, tt.exited, d1.Exited())

			children := station.Status().Children
			require.Len(t, children, 1)
			assert.Equal(t, protocol.StateIdle, children[0].State)
		})
	}
}

// A partitioned child keeps its connection and its last recorded state, so
// only its outstanding report holds the release.
func TestScenario_ReleasingWaitsForUnreportedChild(t *testing.T) {
	tests := []struct {
		name          string
		command       string
		heal          bool
		station       protocol.State
		stationExited bool
		child         protocol.State
		childExited   bool
	}{
		{"release answered after the partition heals", "RELEASE", true,
			protocol.StateIdle, false, protocol.StateIdle, false},
		{"cancel answered after the partition heals", "CANCELSCHEDULE", true,
			protocol.StateGoingDown, true, protocol.StateGoingDown, true},
		{"release gives up at the timeout", "RELEASE", false,
			protocol.StateIdle, false, protocol.StateClaimed, false},
		{"cancel gives up at the timeout", "CANCELSCHEDULE", false,
			protocol.StateGoingDown, true, protocol.StateClaimed, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := newWorld(t)
			station := w.add("station", paramset.Set{"children": "d1", "lifecycle.timeout": "30"}, policy.Quorum{})
			d1 := w.add("d1", paramset.Set{"parents": "station"}, policy.Quorum{})
			require.Equal(t, protocol.NoError, w.command(station, "CLAIM"))
			require.Equal(t, protocol.NoError, w.command(d1, "CLAIM"))
			require.Equal(t, protocol.StateClaimed, state(station))

			w.hub.Partition("d1", true)
			require.Equal(t, protocol.NoError, w.command(station, tt.command))

			assert.Equal(t, protocol.StateReleasing, state(station))
			assert.False(t, station.Exited())
			assert.Equal(t, 1, station.Status().PendingEvents)

			// One failed retry later the station is still waiting.
			w.step(10 * time.Second)
			assert.Equal(t, protocol.StateReleasing, state(station))

			if tt.heal {
				w.hub.Partition("d1", false)
				w.step(10 * time.Second)
			} else {
				w.step(20 * time.Second)
			}

			assert.Equal(t, tt.station, state(station))
			assert.Equal(t, tt.stationExited, station.Exited())
			assert.Equal(t, tt.child, state(d1))
			assert.Equal(t, tt.childExited, d1.Exited())
		})
	}
}

// ─── Delivery ───────────────────────────────────────────────────

func TestReports_SurviveAPartition(t *testing.T) {
	w := newWorld(t)
	station := w.add("station", paramset.Set{"children": "d1"}, policy.Quorum{})
	d1 := w.add("d1", paramset.Set{"parents": "station"}, policy.Quorum{})
	require.Equal(t, protocol.NoError, w.command(station, "CLAIM"))

	w.hub.Partition("station", true)
	require.Equal(t, protocol.NoError, w.command(d1, "CLAIM"))
	assert.Equal(t, 1, d1.Status().PendingEvents)
	assert.Equal(t, protocol.StateClaiming, state(station))

	w.hub.Partition("station", false)
	w.step(10 * time.Second)

	assert.Zero(t, d1.Status().PendingEvents)
	assert.Equal(t, protocol.StateClaimed, state(station))
}

// ─── Scheduling ─────────────────────────────────────────────────

func TestSchedule_PastClaimFiresAtOnce(t *testing.T) {
	w := newWorld(t)
	d := w.add("leaf", nil, nil)
	w.configs.put("plan", paramset.Set{
		"schedule.claim": w.epoch(-10 * time.Second),
		"schedule.stop":  w.epoch(10 * time.Second),
	})

	require.Equal(t, protocol.NoError, w.command(d, "SCHEDULE plan"))
	assert.Equal(t, protocol.StateIdle, state(d))

	w.step(0)
	assert.Equal(t, protocol.StateClaimed, state(d))

	w.step(9 * time.Second)
	assert.Equal(t, protocol.StateClaimed, state(d))

	w.step(time.Second)
	assert.True(t, d.Exited())
	assert.Equal(t, protocol.StateGoingDown, state(d))
	assert.Equal(t, []string{"leaf"}, w.destroyed)
	assert.Len(t, w.sink.values("leaf", "stopTime"), 1)
}

func TestSchedule_ReadoptingTheSameScheduleDoesNotRefire(t *testing.T) {
	w := newWorld(t)
	plan := paramset.Set{
		"schedule.claim": w.epoch(-10 * time.Second),
		"schedule.stop":  w.epoch(time.Hour),
	}
	d := w.add("leaf", plan, nil)
	w.step(0)
	require.Equal(t, protocol.StateClaimed, state(d))
	require.Equal(t, protocol.NoError, w.command(d, "RELEASE"))
	require.Equal(t, protocol.StateIdle, state(d))

	// The parent hands the child the blob it was launched with.
	w.configs.put("plan", plan)
	require.Equal(t, protocol.NoError, w.command(d, "SCHEDULE plan"))
	w.step(0)

	assert.Equal(t, protocol.StateIdle, state(d), "the claim already fired")
	assert.Len(t, w.sink.values("leaf", "claimTime"), 1)

	// A moved instant re-arms the fired slot as before.
	w.configs.put("moved", paramset.Set{
		"schedule.claim": w.epoch(-5 * time.Second),
		"schedule.stop":  w.epoch(time.Hour),
	})
	require.Equal(t, protocol.NoError, w.command(d, "SCHEDULE moved"))
	w.step(0)

	assert.Equal(t, protocol.StateClaimed, state(d))
	assert.Len(t, w.sink.values("leaf", "claimTime"), 2)
}

func TestSchedule_Rejections(t *testing.T) {
	w := newWorld(t)
	d := w.add("leaf", nil, nil)
	w.configs.put("backwards", paramset.Set{
		"schedule.claim": w.epoch(time.Hour),
		"schedule.stop":  w.epoch(time.Minute),
	})

	assert.Equal(t, protocol.InvalidSchedule, w.command(d, "SCHEDULE backwards"))
	assert.Equal(t, protocol.InvalidSchedule, w.command(d, "SCHEDULE missing"))
	assert.Equal(t, protocol.StateIdle, state(d))
}

func TestSchedule_DistributesToChildren(t *testing.T) {
	w := newWorld(t)
	station := w.add("station", nil, policy.Quorum{})
	d1 := w.add("d1", paramset.Set{"parents": "station"}, policy.Quorum{})
	require.Equal(t, protocol.StateInitial, state(d1), "undeclared child is turned away")

	claim := w.clk.Now().Add(time.Minute).Truncate(time.Second)
	w.configs.put("night", paramset.Set{
		"children":              "d1",
		"child.d1.type":         "dish",
		"child.d1.quality.type": "feed",
		"schedule.claim":        strconv.FormatInt(claim.Unix(), 10),
		"schedule.stop":         w.epoch(time.Hour),
		"lifecycle.timeout":     "45",
	})
	require.Equal(t, protocol.NoError, w.command(station, "SCHEDULE night"))

	blob, err := w.configs.Get(context.Background(), "d1")
	require.NoError(t, err)
	assert.Equal(t, "station", blob["parents"])
	assert.Equal(t, "d1", blob["name"])
	assert.Equal(t, "dish", blob["type"])
	assert.Equal(t, "feed", blob["quality.type"])
	assert.Equal(t, "45", blob["lifecycle.timeout"])

	// The child redials, is accepted, and the buffered SCHEDULE follows.
	w.step(3 * time.Second)
	assert.Equal(t, protocol.StateIdle, state(d1))
	w.step(10 * time.Second)

	st := d1.Status()
	require.NotNil(t, st.Schedule.Claim)
	assert.True(t, claim.Equal(*st.Schedule.Claim))

	w.step(time.Minute)
	assert.Equal(t, protocol.StateClaimed, state(d1))
	assert.Equal(t, protocol.StateClaimed, state(station))
}

func TestSchedule_DeferredUntilIdle(t *testing.T) {
	w := newWorld(t)
	d1 := w.add("d1", paramset.Set{
		"parents":        "station",
		"schedule.claim": w.epoch(-time.Second),
	}, policy.Quorum{})

	w.step(0)
	require.Equal(t, protocol.StateInitial, state(d1))

	w.add("station", paramset.Set{"children": "d1"}, policy.Quorum{})
	w.step(3 * time.Second)

	assert.Equal(t, protocol.StateClaimed, state(d1))
}

func TestCancelSchedule_TearsDownTheTree(t *testing.T) {
	w := newWorld(t)
	station := w.add("station", paramset.Set{"children": "d1"}, policy.Quorum{})
	d1 := w.add("d1", paramset.Set{"parents": "station"}, policy.Quorum{})
	require.Equal(t, protocol.NoError, w.command(station, "CLAIM"))
	require.Equal(t, protocol.NoError, w.command(d1, "CLAIM"))
	require.Equal(t, protocol.StateClaimed, state(station))

	assert.Equal(t, protocol.NoError, w.command(station, "CANCELSCHEDULE"))

	assert.True(t, d1.Exited())
	assert.True(t, station.Exited())
	assert.ElementsMatch(t, []string{"d1", "station"}, w.destroyed)
	assert.Equal(t, "GOINGDOWN", w.sink.states("station")[len(w.sink.states("station"))-1])
}

// ─── Run loop ───────────────────────────────────────────────────

func TestRun_ServesCommandsUntilCancelled(t *testing.T) {
	d, err := lifecycle.New(lifecycle.Options{Name: "solo", Transport: port.NewHub()})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- d.Run(ctx) }()

	require.Eventually(t, func() bool {
		return d.Status().State == protocol.StateIdle
	}, 5*time.Second, 10*time.Millisecond)

	res, err := d.Command(ctx, "CLAIM")
	require.NoError(t, err)
	assert.Equal(t, protocol.NoError, res)
	assert.Eventually(t, func() bool {
		return d.Status().State == protocol.StateClaimed
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	<-d.Done()

	_, err = d.Command(context.Background(), "RELEASE")
	assert.ErrorIs(t, err, lifecycle.ErrStopped)
}
