package agent

// Pump switches the physical fill pump relay.
//
// Implementations must be idempotent: starting a running pump or stopping
// a stopped one is a no-op, not an error. The state machine is the single
// source of truth for whether the pump is logically running; Pump only
// mirrors that state onto hardware.
type Pump interface {
	Start() error
	Stop() error
}

// NopPump is a Pump with no hardware behind it. Used when the agent runs
// with a simulated sensor that models the pump itself, or in tests.
type NopPump struct{}

func (NopPump) Start() error { return nil }
func (NopPump) Stop() error  { return nil }
