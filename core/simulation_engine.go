package core

// SimulationEngine steps a Network a fixed number of ticks, advancing a
// clock before each one. It is the superloop used by the simulator and by
// tests that need many ticks.
type SimulationEngine struct {
	Network       *Network
	advance       func()
	ticks         int
	tickListeners []func(int)
}

// NewSimulationEngine builds an engine over network. advance, when non-nil, runs
// before every tick (typically TimeController.Step or Advance).
func NewSimulationEngine(network *Network, advance func()) *SimulationEngine {
	return &SimulationEngine{Network: network, advance: advance}
}

// RegisterTickListener adds a callback run after every tick with the
// zero-based tick number.
func (se *SimulationEngine) RegisterTickListener(fn func(int)) {
	se.tickListeners = append(se.tickListeners, fn)
}

// Run executes ticks ticks.
func (se *SimulationEngine) Run(ticks int) {
	for i := 0; i < ticks; i++ {
		if se.advance != nil {
			se.advance()
		}
		se.Network.MainProcess()
		for _, fn := range se.tickListeners {
			fn(se.ticks)
		}
		se.ticks++
	}
}

// RunUntil ticks until done reports true or limit ticks ran. It returns the
// number of ticks executed.
func (se *SimulationEngine) RunUntil(limit int, done func() bool) int {
	for i := 0; i < limit; i++ {
		if done() {
			return i
		}
		se.Run(1)
	}
	return limit
}
