package algorithm

import (
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// ErrUnknownAlgorithm 未注册的算法
var ErrUnknownAlgorithm = errors.New("unknown sharding algorithm")

// Factory builds an algorithm from its properties.
type Factory func(props Props) (Algorithm, error)

type registration struct {
	kind    Kind
	factory Factory
}

// Registry maps configuration-time algorithm names to their factories.
// Algorithms are created once while a rule is built, never per query.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]registration
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: map[string]registration{}}
}

// DefaultRegistry returns a registry holding the built-in algorithms.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register("MOD", KindStandard, NewMod)
	r.Register("HASH_MOD", KindStandard, NewHashMod)
	r.Register("XXHASH_MOD", KindStandard, NewXXHashMod)
	r.Register("INLINE", KindStandard, NewInline)
	r.Register("BOUNDARY_RANGE", KindStandard, NewBoundaryRange)
	r.Register("VOLUME_RANGE", KindStandard, NewVolumeRange)
	r.Register("COMPLEX_INLINE", KindComplex, NewComplexInline)
	r.Register("HINT_INLINE", KindHint, NewHintInline)
	return r
}

// Register adds or replaces an algorithm factory.
func (r *Registry) Register(name string, kind Kind, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[strings.ToUpper(name)] = registration{kind: kind, factory: f}
}

// Create builds the named algorithm.
func (r *Registry) Create(name string, props Props) (Algorithm, Kind, error) {
	r.mu.RLock()
	reg, ok := r.factories[strings.ToUpper(strings.TrimSpace(name))]
	r.mu.RUnlock()
	if !ok {
		return nil, 0, errors.Wrapf(ErrUnknownAlgorithm, "%q", name)
	}
	a, err := reg.factory(props)
	if err != nil {
		return nil, 0, errors.Wrapf(err, "create %s", name)
	}
	return a, reg.kind, nil
}

// NewStrategy creates the named algorithm and wraps it in a strategy.
func (r *Registry) NewStrategy(name string, columns []string, props Props) (*Strategy, error) {
	if strings.TrimSpace(name) == "" || strings.EqualFold(name, "NONE") {
		return NoneStrategy(), nil
	}
	a, kind, err := r.Create(name, props)
	if err != nil {
		return nil, err
	}
	return NewStrategy(kind, columns, a)
}
