package adapter

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/leapstack-labs/thelook/pkg/core"
)

// Role is a position an adapter can take in the pipeline. Roles combine
// as bit flags.
type Role uint8

const (
	// RoleSource holds the raw relations and evaluates the extraction.
	RoleSource Role = 1 << iota
	// RoleDestination receives the loaded tables.
	RoleDestination
)

func (r Role) String() string {
	var parts []string
	if r&RoleSource != 0 {
		parts = append(parts, "source")
	}
	if r&RoleDestination != 0 {
		parts = append(parts, "destination")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "+")
}

// Factory builds an unconnected adapter.
type Factory func(*slog.Logger) Adapter

type registration struct {
	roles   Role
	factory Factory
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]registration)
)

// Register makes an adapter type available in the given roles.
// Called by adapter implementations in their init() functions.
func Register(name string, roles Role, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = registration{roles: roles, factory: factory}
}

// Lookup returns the factory of an adapter type and the roles it serves.
func Lookup(name string) (Factory, Role, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	r, ok := registry[name]
	return r.factory, r.roles, ok
}

// Supports returns nil when name is registered for role, and an
// UnknownAdapterError otherwise.
func Supports(name string, role Role) error {
	_, roles, ok := Lookup(name)
	if ok && roles&role == role {
		return nil
	}
	return &UnknownAdapterError{
		Type:       name,
		Role:       role,
		Registered: ok,
		Available:  Names(role),
	}
}

// NewAdapter creates an adapter of cfg.Type for role.
// The logger parameter is passed to the adapter constructor (nil uses discard logger).
func NewAdapter(cfg core.AdapterConfig, role Role, logger *slog.Logger) (Adapter, error) {
	if cfg.Type == "" {
		return nil, fmt.Errorf("adapter type not specified")
	}
	if err := Supports(cfg.Type, role); err != nil {
		return nil, err
	}
	factory, _, _ := Lookup(cfg.Type)
	return factory(logger), nil
}

// Names returns the sorted adapter types registered for role. A zero
// role lists every type.
func Names(role Role) []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name, r := range registry {
		if r.roles&role == role {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// UnknownAdapterError is returned when a type is not registered, or is
// registered but cannot serve the requested role.
type UnknownAdapterError struct {
	Type       string
	Role       Role
	Registered bool
	Available  []string
}

func (e *UnknownAdapterError) Error() string {
	if e.Registered {
		return fmt.Sprintf("adapter type %q cannot be used as %s\nAvailable %s adapters: %v\nHint: Check %s.type in thelook.yaml",
			e.Type, e.Role, e.Role, e.Available, e.Role)
	}
	return fmt.Sprintf("unknown adapter type %q\nAvailable %s adapters: %v\nHint: Check %s.type in thelook.yaml",
		e.Type, e.Role, e.Available, e.Role)
}
