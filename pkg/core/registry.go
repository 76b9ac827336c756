// Copyright The FastFlight Authors
// SPDX-License-Identifier: Apache-2.0

package core

import (
	"reflect"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/fastflight/fastflight-go/pkg/ferror"
)

// Service is any data service implementation: the pull form (DataService),
// the push form (ChannelProducer), or both. StreamOf normalizes either form
// into a RecordStream.
type Service = any

// ServiceFactory produces a fresh service instance. Instances are cheap;
// the server creates one per request.
type ServiceFactory func() Service

type entry struct {
	tag       string
	paramType reflect.Type // the struct type, not a pointer
	factory   ServiceFactory
	aliases   []string
}

type snapshot struct {
	// byTag holds canonical tags and aliases; alias keys point at the same
	// entry as their canonical tag.
	byTag map[string]*entry
}

// Registry binds parameter tags to (parameter type, service factory) pairs.
// Registration happens at process start-up; lookups are concurrent and
// lock-free, reading an immutable snapshot swapped under a write mutex.
type Registry struct {
	mu   sync.Mutex
	snap atomic.Pointer[snapshot]
}

func NewRegistry() *Registry {
	r := &Registry{}
	r.snap.Store(&snapshot{byTag: map[string]*entry{}})
	return r
}

var defaultRegistry = NewRegistry()

// DefaultRegistry is the process-wide registry used by FromBytes and the
// package-level Register helpers.
func DefaultRegistry() *Registry { return defaultRegistry }

// Register binds proto's tag to its parameter type and service factory.
// Re-registering the same parameter type is a no-op that keeps the first
// factory; a tag already bound to a different parameter type fails.
func (r *Registry) Register(proto Params, factory ServiceFactory) error {
	t := reflect.TypeOf(proto)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return ferror.Newf(ferror.Internal, "params must be a struct type, got %s", t.Kind())
	}
	tag := TagFor(proto)
	if _, err := ToBytes(proto); err != nil {
		// Rejects types that shadow the reserved param_type key up front.
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	snap := r.snap.Load()
	if existing, ok := snap.byTag[tag]; ok {
		if existing.paramType == t {
			return nil
		}
		return ferror.Newf(ferror.Internal, "params type %q is already registered by %s", tag, existing.paramType)
	}
	next := snap.clone()
	next.byTag[tag] = &entry{tag: tag, paramType: t, factory: factory}
	r.snap.Store(next)
	return nil
}

// MustRegister panics on registration failure; intended for init-time use.
func (r *Registry) MustRegister(proto Params, factory ServiceFactory) {
	if err := r.Register(proto, factory); err != nil {
		panic(err)
	}
}

// RegisterAlias maps a user-chosen short name onto proto's triple. Alias
// collisions with any existing tag or alias fail.
func (r *Registry) RegisterAlias(alias string, proto Params) error {
	tag := TagFor(proto)
	r.mu.Lock()
	defer r.mu.Unlock()
	snap := r.snap.Load()
	ent, ok := snap.byTag[tag]
	if !ok {
		return ferror.Newf(ferror.UnknownParamType, "params type %q is not registered", tag)
	}
	if existing, clash := snap.byTag[alias]; clash {
		if existing == ent {
			return nil
		}
		return ferror.Newf(ferror.Internal, "alias %q is already registered by %s", alias, existing.paramType)
	}
	next := snap.clone()
	ne := next.byTag[tag]
	ne.aliases = append(ne.aliases, alias)
	next.byTag[alias] = ne
	r.snap.Store(next)
	return nil
}

// Unregister removes the triple and its aliases. No-op when absent.
func (r *Registry) Unregister(tag string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap := r.snap.Load()
	ent, ok := snap.byTag[tag]
	if !ok {
		return
	}
	next := snap.clone()
	delete(next.byTag, ent.tag)
	for _, alias := range ent.aliases {
		delete(next.byTag, alias)
	}
	r.snap.Store(next)
}

func (s *snapshot) clone() *snapshot {
	next := &snapshot{byTag: make(map[string]*entry, len(s.byTag)+1)}
	for k, v := range s.byTag {
		cp := *v
		next.byTag[k] = &cp
	}
	// Re-point alias keys at their canonical entry's copy.
	for k, v := range next.byTag {
		if k != v.tag {
			next.byTag[k] = next.byTag[v.tag]
		}
	}
	return next
}

func (r *Registry) entry(tag string) (*entry, bool) {
	ent, ok := r.snap.Load().byTag[tag]
	return ent, ok
}

// NewService resolves a tag (or alias) to a fresh service instance.
func (r *Registry) NewService(tag string) (Service, error) {
	ent, ok := r.entry(tag)
	if !ok {
		return nil, ferror.Newf(ferror.Unavailable, "no data service registered for %q", tag)
	}
	return ent.factory(), nil
}

// ParamType resolves a tag (or alias) to its registered parameter type.
func (r *Registry) ParamType(tag string) (reflect.Type, error) {
	ent, ok := r.entry(tag)
	if !ok {
		return nil, ferror.Newf(ferror.UnknownParamType, "params type %q is not registered", tag)
	}
	return ent.paramType, nil
}

// RegisteredTags returns the sorted canonical tag set (aliases excluded).
func (r *Registry) RegisteredTags() []string {
	snap := r.snap.Load()
	tags := make([]string, 0, len(snap.byTag))
	for k, v := range snap.byTag {
		if k == v.tag {
			tags = append(tags, k)
		}
	}
	sort.Strings(tags)
	return tags
}

// Register binds proto to factory in the default registry.
func Register(proto Params, factory ServiceFactory) error {
	return defaultRegistry.Register(proto, factory)
}

// MustRegister binds proto to factory in the default registry or panics.
func MustRegister(proto Params, factory ServiceFactory) {
	defaultRegistry.MustRegister(proto, factory)
}

// RegisterAlias adds an alias in the default registry.
func RegisterAlias(alias string, proto Params) error {
	return defaultRegistry.RegisterAlias(alias, proto)
}
