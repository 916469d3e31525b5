package lifecycle

import "github.com/nerrad567/gray-logic-orchestrator/internal/protocol"

// Boot runs the start-up steps of Run without starting the loop and makes
// configuration fetches synchronous.
func (d *Device) Boot() {
	d.async = func(fn func()) { fn() }
	d.start()
}

// Step runs everything queued on the mailbox. It reports whether anything
// ran.
func (d *Device) Step() bool {
	fns := d.box.take()
	for _, fn := range fns {
		if d.exited {
			break
		}
		fn()
		d.afterEvent()
	}
	return len(fns) > 0
}

// Exited reports whether the device reached GOINGDOWN.
func (d *Device) Exited() bool {
	return d.exited
}

// Submit queues a command without waiting for the loop.
func (d *Device) Submit(text string) <-chan protocol.Result {
	reply := make(chan protocol.Result, 1)
	cmd, res := protocol.ParseCommand(text)
	if res != protocol.NoError {
		reply <- res
		return reply
	}
	d.submit(cmd, reply)
	return reply
}

// ReportFor exposes the transition-to-report mapping.
var ReportFor = reportFor
