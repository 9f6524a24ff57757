package core

import (
	"fmt"
)

const defaultMaxControllers = 4

// NetworkConfig sizes the controller table.
type NetworkConfig struct {
	// MaxControllers defaults to 4.
	MaxControllers int
}

// Network owns every controller of the process. Controllers are added during
// setup and kept for the process lifetime. Like Controller, a Network is
// driven from a single goroutine.
type Network struct {
	controllers []*Controller
	byName      map[string]*Controller
}

// NewNetwork builds an empty controller table.
func NewNetwork(cfg NetworkConfig) *Network {
	capacity := orDefault(cfg.MaxControllers, defaultMaxControllers)
	return &Network{
		controllers: make([]*Controller, 0, capacity),
		byName:      make(map[string]*Controller, capacity),
	}
}

// AddController creates a controller bound to driver and registers it.
func (n *Network) AddController(cfg ControllerConfig, driver CommunicationInterface, opts ...Option) (*Controller, error) {
	if cfg.Name == "" {
		cfg.Name = fmt.Sprintf("ctrl%d", len(n.controllers))
	}
	if _, exists := n.byName[cfg.Name]; exists {
		return nil, fmt.Errorf("%w: %q", ErrControllerExists, cfg.Name)
	}
	if len(n.controllers) == cap(n.controllers) {
		return nil, fmt.Errorf("%w: %d controllers registered", ErrCapacityExceeded, cap(n.controllers))
	}
	c, err := NewController(cfg, driver, opts...)
	if err != nil {
		return nil, err
	}
	n.controllers = append(n.controllers, c)
	n.byName[cfg.Name] = c
	return c, nil
}

// Controller looks a controller up by name.
func (n *Network) Controller(name string) (*Controller, error) {
	c, ok := n.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrControllerNotFound, name)
	}
	return c, nil
}

// Controllers returns the controllers in registration order.
func (n *Network) Controllers() []*Controller {
	return append([]*Controller(nil), n.controllers...)
}

// MainProcess runs one tick on every controller in registration order.
func (n *Network) MainProcess() {
	for _, c := range n.controllers {
		c.MainProcess()
	}
}
