package plugin

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"firestige.xyz/anansi/internal/core"
)

type registry[F any] struct {
	mu        sync.RWMutex
	factories map[string]F
}

func (r *registry[F]) register(name string, f F, isNil bool) {
	if name == "" {
		panic("plugin: empty name")
	}
	if isNil {
		panic("plugin: nil factory for " + name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.factories == nil {
		r.factories = make(map[string]F)
	}
	if _, dup := r.factories[name]; dup {
		panic("plugin: duplicate registration of " + name)
	}
	r.factories[name] = f
}

func (r *registry[F]) get(name string) (F, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[name]
	if !ok {
		var zero F
		return zero, fmt.Errorf("%w: %s", core.ErrPluginNotFound, name)
	}
	return f, nil
}

func (r *registry[F]) names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for n := range r.factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Reset drops every registration. Tests only.
func (r *registry[F]) Reset() {
	r.mu.Lock()
	r.factories = nil
	r.mu.Unlock()
}

var observerReg = &registry[Factory]{}

// RegisterObserver registers an observer factory. It panics on an empty
// name, a nil factory or a duplicate name.
func RegisterObserver(name string, f Factory) {
	observerReg.register(name, f, f == nil)
}

// GetObserverFactory returns the factory registered under name.
func GetObserverFactory(name string) (Factory, error) {
	return observerReg.get(name)
}

// ObserverNames returns the registered names, sorted.
func ObserverNames() []string {
	return observerReg.names()
}

// BuildObservers runs every registered factory in name order and returns
// the enabled observers. On error the ones already built are closed.
func BuildObservers(env Env) ([]Observer, error) {
	var built []Observer
	for _, name := range ObserverNames() {
		f, err := GetObserverFactory(name)
		if err != nil {
			return nil, err
		}
		o, err := f(env)
		if err != nil {
			return nil, errors.Join(fmt.Errorf("observer %s: %w", name, err), CloseAll(built))
		}
		if o != nil {
			built = append(built, o)
		}
	}
	return built, nil
}

// CloseAll closes observers in reverse order and joins their errors.
func CloseAll(observers []Observer) error {
	var errs []error
	for i := len(observers) - 1; i >= 0; i-- {
		if err := observers[i].Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", observers[i].Name(), err))
		}
	}
	return errors.Join(errs...)
}
