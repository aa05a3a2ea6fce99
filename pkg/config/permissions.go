package config

import (
	"errors"
	"fmt"
	"maps"
	"sync"

	"github.com/table-talk25/TableTalk-app-sub000/pkg/state"
)

var (
	ErrPermissionExists   = errors.New("permission already registered")
	ErrPermissionReserved = errors.New("permission name is built in")
	ErrUnknownPermission  = errors.New("unknown permission")
	ErrTooManyPermissions = errors.New("permission bitmap is full")
)

// Custom permissions take the bits after the built-in ones.
var permissions = struct {
	sync.RWMutex
	byName  map[string]state.Permission
	nextBit uint
}{
	byName:  maps.Clone(state.BuiltInPerms),
	nextBit: uint(len(state.BuiltInPerms)),
}

// RegisterPermission adds a custom permission declared in the config file.
func RegisterPermission(name string) error {
	permissions.Lock()
	defer permissions.Unlock()

	if _, ok := state.BuiltInPerms[name]; ok {
		return fmt.Errorf("%w: %s", ErrPermissionReserved, name)
	}
	if _, ok := permissions.byName[name]; ok {
		return fmt.Errorf("%w: %s", ErrPermissionExists, name)
	}
	if permissions.nextBit >= 64 {
		return fmt.Errorf("%w: cannot add %s", ErrTooManyPermissions, name)
	}
	permissions.byName[name] = state.Permission(1) << permissions.nextBit
	permissions.nextBit++
	return nil
}

// CompilePermissions ORs the named permissions into one bitmap.
func CompilePermissions(names []string) (state.Permission, error) {
	permissions.RLock()
	defer permissions.RUnlock()

	var bitmap state.Permission
	for _, name := range names {
		perm, ok := permissions.byName[name]
		if !ok {
			return 0, fmt.Errorf("%w: %s", ErrUnknownPermission, name)
		}
		bitmap |= perm
	}
	return bitmap, nil
}

// GetAllRegistered returns a copy of the registry.
func GetAllRegistered() map[string]state.Permission {
	permissions.RLock()
	defer permissions.RUnlock()
	return maps.Clone(permissions.byName)
}
