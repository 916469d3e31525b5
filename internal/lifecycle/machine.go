package lifecycle

import (
	"context"
	"errors"
	"time"

	"github.com/nerrad567/gray-logic-orchestrator/internal/paramset"
	"github.com/nerrad567/gray-logic-orchestrator/internal/port"
	"github.com/nerrad567/gray-logic-orchestrator/internal/protocol"
	"github.com/nerrad567/gray-logic-orchestrator/internal/quality"
	"github.com/nerrad567/gray-logic-orchestrator/internal/schedule"
)

// origin records where a command came from so the result goes back there.
type origin struct {
	reply  chan<- protocol.Result
	parent string
	timer  bool
	slot   schedule.Slot
}

// ─── Commands ───────────────────────────────────────────────────

func (d *Device) execute(cmd protocol.Command, o origin) {
	switch d.state {
	case protocol.StateDisabled:
		d.respond(cmd.Kind, o, protocol.Disabled)
		return
	case protocol.StateGoingDown:
		d.respond(cmd.Kind, o, protocol.InvalidState)
		return
	}

	switch cmd.Kind {
	case protocol.KindSchedule:
		d.fetchSchedule(cmd.Args[0], o)
	case protocol.KindCancelSchedule:
		// Answer first: a leaf may be gone by the time the cancel completes.
		d.respond(cmd.Kind, o, protocol.NoError)
		d.cancelSchedule()
	default:
		d.respond(cmd.Kind, o, d.transition(cmd.Kind, o))
	}
}

func (d *Device) transition(kind protocol.Kind, o origin) protocol.Result {
	s := d.scope()
	switch kind {
	case protocol.KindClaim:
		if d.state != protocol.StateIdle {
			return protocol.InvalidState
		}
		if r := d.policy.Claim(s); r != protocol.NoError {
			return r
		}
		d.enter(protocol.StateClaiming, protocol.NoError)

	case protocol.KindPrepare:
		if d.state != protocol.StateClaimed {
			return protocol.InvalidState
		}
		if r := d.policy.Prepare(s); r != protocol.NoError {
			return r
		}
		d.enter(protocol.StatePreparing, protocol.NoError)

	case protocol.KindResume:
		if d.state != protocol.StateSuspended {
			return protocol.InvalidState
		}
		if r := d.policy.Resume(s); r != protocol.NoError {
			return r
		}
		d.propagate(protocol.KindResume)
		d.enter(protocol.StateActive, protocol.NoError)

	case protocol.KindSuspend:
		if d.state != protocol.StateActive {
			return protocol.InvalidState
		}
		if r := d.policy.Suspend(s); r != protocol.NoError {
			return r
		}
		d.propagate(protocol.KindSuspend)
		d.enter(protocol.StateSuspended, protocol.NoError)

	case protocol.KindRelease:
		if !releasable(d.state) {
			return protocol.InvalidState
		}
		if r := d.policy.Release(s); r != protocol.NoError {
			return r
		}
		if o.timer && o.slot == schedule.SlotStop {
			d.finishing = true
		}
		d.propagate(protocol.KindRelease)
		d.enter(protocol.StateReleasing, protocol.NoError)

	default:
		return protocol.UnknownCommand
	}
	return protocol.NoError
}

func releasable(s protocol.State) bool {
	switch s {
	case protocol.StateIdle, protocol.StateClaiming, protocol.StateClaimed,
		protocol.StatePreparing, protocol.StateSuspended, protocol.StateActive:
		return true
	}
	return false
}

func (d *Device) cancelSchedule() {
	d.scheduler.Cancel()
	d.deferred = nil
	d.propagate(protocol.KindCancelSchedule)
	d.finishing = true

	if d.state == protocol.StateReleasing {
		d.evaluate(TriggerEntry)
		return
	}
	if r := d.policy.Release(d.scope()); r != protocol.NoError {
		d.logger.Warn("release action failed during cancel, releasing anyway", "result", r)
	}
	d.enter(protocol.StateReleasing, protocol.NoError)
}

// respond routes a command result back to its origin.
//
// Parents get an immediate reply only for SCHEDULE, CANCELSCHEDULE and
// rejected commands. An accepted lifecycle command is answered by the state
// report the device sends when it gets there.
func (d *Device) respond(kind protocol.Kind, o origin, res protocol.Result) {
	commandsTotal.WithLabelValues(kind.String(), res.String()).Inc()

	if o.reply != nil {
		o.reply <- res
	}
	if o.parent != "" && (res != protocol.NoError || kind == protocol.KindSchedule || kind == protocol.KindCancelSchedule) {
		d.sendTo(d.tree.Parent(o.parent), protocol.Report(kind.Reply(), res))
	}
	if res != protocol.NoError {
		d.logger.Warn("command rejected", "command", kind, "result", res, "state", d.state, "timer", o.timer, "parent", o.parent)
		return
	}
	d.logger.Debug("command accepted", "command", kind, "state", d.state)
}

// ─── Scheduling ─────────────────────────────────────────────────

func (d *Device) scheduleFired(slot schedule.Slot, kind protocol.Kind) {
	if d.state == protocol.StateInitial {
		d.logger.Debug("deferring scheduled command until idle", "command", kind)
		d.deferred = append(d.deferred, slot)
		return
	}
	d.execute(protocol.Command{Kind: kind}, origin{timer: true, slot: slot})
}

func (d *Device) replayDeferred() {
	slots := d.deferred
	d.deferred = nil
	for _, slot := range slots {
		if d.exited {
			return
		}
		d.execute(protocol.Command{Kind: slot.Command()}, origin{timer: true, slot: slot})
	}
}

func (d *Device) scheduleChanged(slot schedule.Slot, at time.Time) {
	d.sink.Publish(d.name, slot.Property(), at)
}

func (d *Device) fetchSchedule(ref string, o origin) {
	if d.configs == nil {
		d.logger.Warn("no configuration source, cannot schedule", "ref", ref)
		d.respond(protocol.KindSchedule, o, protocol.InvalidSchedule)
		return
	}

	ctx, timeout, configs := d.ctx, d.fetchTimeout, d.configs
	d.async(func() {
		fctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		set, err := configs.Get(fctx, ref)
		d.box.post(func() { d.adopt(ref, set, err, o) })
	})
}

// adopt replaces the configuration with a fetched blob.
func (d *Device) adopt(ref string, set paramset.Set, err error, o origin) {
	switch d.state {
	case protocol.StateDisabled:
		d.respond(protocol.KindSchedule, o, protocol.Disabled)
		return
	case protocol.StateGoingDown:
		d.respond(protocol.KindSchedule, o, protocol.InvalidState)
		return
	}

	if err != nil {
		d.logger.Warn("configuration fetch failed", "ref", ref, "error", err)
		res := protocol.InvalidSchedule
		if errors.Is(err, context.DeadlineExceeded) {
			res = protocol.Timeout
		}
		d.respond(protocol.KindSchedule, o, res)
		return
	}

	sched, err := schedule.Parse(set)
	if err != nil {
		d.logger.Warn("rejecting schedule", "ref", ref, "error", err)
		d.respond(protocol.KindSchedule, o, protocol.InvalidSchedule)
		return
	}

	d.params = set.Clone()
	d.sched = sched
	d.declareTree()
	// Re-adopting the armed schedule must not re-arm slots that already fired.
	var changed []schedule.Slot
	if !sched.Equal(d.scheduler.Current()) {
		changed = d.scheduler.Apply(sched)
	}
	d.logger.Info("schedule adopted", "ref", ref, "changed", len(changed))
	d.distribute()
	d.respond(protocol.KindSchedule, o, protocol.NoError)
}

func (d *Device) declareTree() {
	children := make(map[string]string)
	for _, key := range d.params.List(KeyChildren) {
		children[key] = d.params.String("child."+key+"."+KeyType, "")
	}
	d.tree.Declare(children, d.params.List(KeyParents))
}

// distribute hands every child its configuration and then schedules it.
func (d *Device) distribute() {
	for _, key := range d.params.List(KeyChildren) {
		spec := ChildSpec{
			Name:   key,
			Host:   d.params.String("child."+key+".host", ""),
			Ref:    key,
			Params: d.childConfig(key),
		}
		if d.distributor == nil {
			d.sendTo(d.tree.Child(key), protocol.Schedule(spec.Ref))
			continue
		}
		d.distributor.Distribute(d.name, spec, func(err error) {
			d.box.post(func() {
				if err != nil {
					d.logger.Warn("child configuration not delivered", "child", key, "error", err)
					return
				}
				d.sendTo(d.tree.Child(key), protocol.Schedule(spec.Ref))
			})
		})
	}
}

// childConfig derives the blob for child key: its own child.<key>.* keys,
// the parent's schedule unless the child overrides it, and the parent link.
func (d *Device) childConfig(key string) paramset.Set {
	cfg := d.params.Subset("child." + key)
	for _, slot := range schedule.Slots {
		if v, ok := d.params[slot.Key()]; ok && !cfg.Has(slot.Key()) {
			cfg[slot.Key()] = v
		}
	}
	if !cfg.Has(KeyTimeout) && d.params.Has(KeyTimeout) {
		cfg[KeyTimeout] = d.params[KeyTimeout]
	}
	cfg[KeyName] = key
	cfg[KeyParents] = d.name
	if extra := d.policy.ChildConfig(d.scope(), key); extra != nil {
		cfg = cfg.Merge(extra)
	}
	return cfg
}

// ─── Peer events ────────────────────────────────────────────────

// handlePeer is the state machine's link in the port handler chain.
func (d *Device) handlePeer(ev port.Event) port.Outcome {
	if ev.Kind != port.Data {
		return port.NotHandled
	}
	msg := ev.Message

	if key, ok := d.tree.ChildFor(ev.Conn); ok {
		switch {
		case msg.Kind.IsReport():
			d.childReport(key, msg)
		case msg.Result != protocol.NoError:
			d.logger.Warn("child rejected request", "child", key, "reply", msg.Kind, "result", msg.Result)
		default:
			d.logger.Debug("child replied", "child", key, "reply", msg.Kind)
		}
		return port.Handled
	}

	if parent, ok := d.tree.ParentFor(ev.Conn); ok {
		if !msg.Kind.IsRequest() {
			d.logger.Warn("ignoring non-request from parent", "parent", parent, "kind", msg.Kind)
			return port.Handled
		}
		cmd := protocol.Command{Kind: msg.Kind}
		if msg.Kind == protocol.KindSchedule {
			if msg.ConfigRef == "" {
				d.respond(msg.Kind, origin{parent: parent}, protocol.IncorrectParameterCount)
				return port.Handled
			}
			cmd.Args = []string{msg.ConfigRef}
		}
		d.execute(cmd, origin{parent: parent})
		return port.Handled
	}

	d.logger.Debug("ignoring event from unknown peer", "peer", ev.Peer, "kind", msg.Kind)
	return port.NotHandled
}

// childReport records a child's progress and gives the policy one look.
func (d *Device) childReport(key string, msg protocol.Event) {
	childReportsTotal.WithLabelValues(msg.Kind.String(), msg.Result.String()).Inc()

	if st, ok := reportedState(msg.Kind, msg.Result); ok {
		d.tree.SetChildState(key, st)
	} else {
		d.tree.ClearChildPending(key)
	}
	d.logger.Debug("child reported", "child", key, "kind", msg.Kind, "result", msg.Result)

	d.evaluate(TriggerReport)
}

// ─── Transitions ────────────────────────────────────────────────

func (d *Device) proposal(trigger Trigger) Transition {
	if !d.state.Waiting() {
		return Stay(d.state)
	}
	if trigger == TriggerTimeout {
		return Transition{Next: Fallback(d.state, d.finishing), Result: protocol.Timeout}
	}
	return Transition{Next: Target(d.state, d.finishing), Result: protocol.NoError}
}

// evaluate runs the policy method for the current state once.
func (d *Device) evaluate(trigger Trigger) {
	d.trigger = trigger
	proposal := d.proposal(trigger)
	s := d.scope()

	var next Transition
	switch d.state {
	case protocol.StateIdle:
		next = d.policy.Idle(s, proposal)
	case protocol.StateClaiming:
		next = d.policy.Claiming(s, proposal)
	case protocol.StateClaimed:
		next = d.policy.Claimed(s, proposal)
	case protocol.StatePreparing:
		next = d.policy.Preparing(s, proposal)
	case protocol.StateSuspended:
		next = d.policy.Suspended(s, proposal)
	case protocol.StateActive:
		next = d.policy.Active(s, proposal)
	case protocol.StateReleasing:
		next = d.policy.Releasing(s, proposal)
	default:
		return
	}

	if next.Next == d.state {
		return
	}
	if !d.reachable(next.Next) {
		d.logger.Warn("policy proposed an unreachable state, staying", "state", d.state, "proposed", next.Next)
		return
	}
	d.enter(next.Next, next.Result)
}

func (d *Device) reachable(to protocol.State) bool {
	switch to {
	case protocol.StateDisabled, protocol.StateInitial:
		return false
	case protocol.StateGoingDown:
		return d.state == protocol.StateReleasing
	}
	return true
}

// enter makes to the current state and runs everything tied to the change.
func (d *Device) enter(to protocol.State, result protocol.Result) {
	from := d.state
	if from == to {
		return
	}

	if from.Waiting() {
		d.timers.Cancel(d.timeoutID)
		d.timeoutID = 0
		d.tree.ClearPending()
	}
	if to == protocol.StateGoingDown {
		// Nothing may fire once the device is seen going down.
		d.scheduler.Cancel()
		d.timers.CancelAll()
		d.timeoutID = 0
	}

	d.state = to
	transitionsTotal.WithLabelValues(from.String(), to.String()).Inc()
	d.logger.Info("state changed", "from", from, "to", to, "result", result)
	d.publishState()

	if kind, ok := reportFor(from, to); ok {
		d.report(kind, result)
	}

	switch {
	case to == protocol.StateGoingDown:
		d.goDown()
	case to.Waiting():
		d.tree.MarkPending()
		d.armTimeout()
		d.evaluate(TriggerEntry)
	case from == protocol.StateInitial && to == protocol.StateIdle:
		// Reports that arrived during INITIAL only updated the tree.
		d.evaluate(TriggerReport)
		d.replayDeferred()
	}
}

func (d *Device) armTimeout() {
	timeout, err := d.params.Duration(KeyTimeout, d.defaultTimeout)
	if err != nil || timeout <= 0 {
		d.logger.Warn("invalid transition timeout, using default", "value", d.params[KeyTimeout])
		timeout = d.defaultTimeout
	}
	state := d.state
	d.timeoutID = d.timers.After(timeout, func() {
		d.timeoutID = 0
		if d.state != state {
			return
		}
		d.logger.Warn("transition timed out", "state", state, "after", timeout)
		d.evaluate(TriggerTimeout)
	})
}

func (d *Device) report(kind protocol.Kind, result protocol.Result) {
	for _, p := range d.tree.Parents() {
		d.sendTo(p, protocol.Report(kind, result))
	}
}

func (d *Device) propagate(kind protocol.Kind) {
	for _, key := range d.tree.ChildKeys() {
		d.sendTo(d.tree.Child(key), protocol.NewEvent(kind))
	}
}

func (d *Device) sendTo(to port.Sender, ev protocol.Event) {
	if err := d.dispatcher.Send(to, ev); err != nil {
		d.logger.Error("send failed", "peer", to.Name(), "kind", ev.Kind, "error", err)
	}
}

func (d *Device) goDown() {
	d.logger.Info("device finished, requesting destruction")
	d.dispatcher.Flush()
	d.dispatcher.Close()
	d.tree.Close()
	d.box.close()
	d.exited = true
	if d.supervisor != nil {
		d.supervisor.Destroy(d.name)
	}
}

func (d *Device) deliveryFailed(peer string, ev protocol.Event) {
	d.sink.Publish(d.name, "deliveryFailed", peer+" "+ev.Kind.String())
}

func (d *Device) publishState() {
	d.sink.Publish(d.name, "state", d.state.String())
}

// ─── Scope ──────────────────────────────────────────────────────

type deviceScope struct {
	d *Device
}

func (d *Device) scope() Scope { return deviceScope{d: d} }

func (s deviceScope) Name() string               { return s.d.name }
func (s deviceScope) State() protocol.State      { return s.d.state }
func (s deviceScope) Params() paramset.Set       { return s.d.params.Clone() }
func (s deviceScope) Trigger() Trigger           { return s.d.trigger }
func (s deviceScope) Children() []quality.Member { return s.d.tree.Members() }
func (s deviceScope) Logger() Logger             { return s.d.logger }
func (s deviceScope) Outstanding(filter string) int {
	return quality.Outstanding(filter, s.d.tree.Members())
}
