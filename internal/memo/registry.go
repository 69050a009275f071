package memo

import (
	"fmt"
	"reflect"
	"sync"
)

// KeyFunc produces the memoization payload for a value of a registered
// type. The payload must itself be fingerprintable.
type KeyFunc func(v any) (any, error)

var (
	keyFuncMu sync.RWMutex
	keyFuncs  = map[reflect.Type]KeyFunc{}
)

// RegisterKeyFunc installs a process-wide key function for a type that
// cannot (or should not) implement the Keyer hook itself, e.g. third-party
// types. Registering the same type twice is an error - overrides are
// process-wide configuration, expected to happen once at startup.
func RegisterKeyFunc(t reflect.Type, fn KeyFunc) error {
	if t == nil || fn == nil {
		return fmt.Errorf("register key func: type and func must be non-nil")
	}

	keyFuncMu.Lock()
	defer keyFuncMu.Unlock()

	if _, exists := keyFuncs[t]; exists {
		return fmt.Errorf("register key func: %s already registered", t)
	}
	keyFuncs[t] = fn
	return nil
}

// UnregisterKeyFunc removes a registered key function. Used by tests.
func UnregisterKeyFunc(t reflect.Type) {
	keyFuncMu.Lock()
	defer keyFuncMu.Unlock()
	delete(keyFuncs, t)
}

func lookupKeyFunc(t reflect.Type) KeyFunc {
	keyFuncMu.RLock()
	defer keyFuncMu.RUnlock()
	return keyFuncs[t]
}
