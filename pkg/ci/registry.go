package ci

import (
	"fmt"
	"sync"
)

var (
	mu      sync.RWMutex
	drivers = map[string]func(Config) Driver{}
)

// Register makes a Driver constructor available under name. It is typically
// called from an init() function in the file that implements the driver.
func Register(name string, newDriver func(Config) Driver) {
	mu.Lock()
	defer mu.Unlock()
	drivers[name] = newDriver
}

// Get constructs the Driver registered under name, or returns an error if
// name was never registered.
func Get(name string, cfg Config) (Driver, error) {
	mu.RLock()
	defer mu.RUnlock()
	newDriver, ok := drivers[name]
	if !ok {
		return nil, fmt.Errorf("ci: unknown driver %q (available: %v)", name, Names())
	}
	return newDriver(cfg), nil
}

// Default constructs the "concourse" driver. Panics if it was never
// registered, which only happens if this package's concourse.go was dropped
// from the build.
func Default(cfg Config) Driver {
	d, err := Get("concourse", cfg)
	if err != nil {
		panic("ci: no default driver registered — concourse.go's init() did not run")
	}
	return d
}

// Names returns the names of every registered driver.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(drivers))
	for name := range drivers {
		names = append(names, name)
	}
	return names
}
