// Package cvar is the console variable registry.
package cvar

import (
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

var (
	ErrUnknown  = errors.New("unknown variable")
	ErrReadOnly = errors.New("variable is read-only")
	ErrExists   = errors.New("variable already registered")
)

// Flags describe who may see or change a variable.
type Flags uint8

const (
	// Server variables are reported to RULE_INFO queries.
	Server Flags = 1 << iota
	// ReadOnly variables cannot be changed from the console.
	ReadOnly
)

// Var is one console variable.
type Var struct {
	Name    string
	Default string
	Flags   Flags

	mu       sync.RWMutex
	value    string
	onChange func(*Var)
}

// String returns the current value.
func (v *Var) String() string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.value
}

// Int returns the value as an integer, or 0.
func (v *Var) Int() int {
	n, err := strconv.Atoi(v.String())
	if err != nil {
		f, _ := strconv.ParseFloat(v.String(), 64)
		return int(f)
	}
	return n
}

// Float returns the value as a float, or 0.
func (v *Var) Float() float64 {
	f, _ := strconv.ParseFloat(v.String(), 64)
	return f
}

// Bool reports whether the value is non-zero.
func (v *Var) Bool() bool {
	return v.Float() != 0
}

// OnChange registers fn to run after every Set.
func (v *Var) OnChange(fn func(*Var)) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.onChange = fn
}

func (v *Var) set(value string) {
	v.mu.Lock()
	v.value = value
	fn := v.onChange
	v.mu.Unlock()

	if fn != nil {
		fn(v)
	}
}

// Registry holds variables in name order.
type Registry struct {
	vars []*Var
	mu   sync.RWMutex
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a variable with its default value.
func (r *Registry) Register(name, def string, flags Flags) (*Var, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.search(name)
	if i < len(r.vars) && strings.EqualFold(r.vars[i].Name, name) {
		return r.vars[i], errors.Wrap(ErrExists, name)
	}

	v := &Var{Name: name, Default: def, Flags: flags, value: def}
	r.vars = append(r.vars, nil)
	copy(r.vars[i+1:], r.vars[i:])
	r.vars[i] = v
	return v, nil
}

// MustRegister is Register for package setup; it panics on a duplicate name.
func (r *Registry) MustRegister(name, def string, flags Flags) *Var {
	v, err := r.Register(name, def, flags)
	if err != nil {
		panic(err)
	}
	return v
}

func (r *Registry) search(name string) int {
	key := strings.ToLower(name)
	return sort.Search(len(r.vars), func(i int) bool {
		return strings.ToLower(r.vars[i].Name) >= key
	})
}

// Get finds a variable by name, ignoring case.
func (r *Registry) Get(name string) *Var {
	r.mu.RLock()
	defer r.mu.RUnlock()

	i := r.search(name)
	if i < len(r.vars) && strings.EqualFold(r.vars[i].Name, name) {
		return r.vars[i]
	}
	return nil
}

// Set changes a variable from the console.
func (r *Registry) Set(name, value string) error {
	v := r.Get(name)
	if v == nil {
		return errors.Wrap(ErrUnknown, name)
	}
	if v.Flags&ReadOnly != 0 {
		return errors.Wrap(ErrReadOnly, name)
	}
	v.set(value)
	return nil
}

// ForceSet changes a variable even if it is read-only.
func (r *Registry) ForceSet(name, value string) error {
	v := r.Get(name)
	if v == nil {
		return errors.Wrap(ErrUnknown, name)
	}
	v.set(value)
	return nil
}

// Next returns the first variable after prev with any of mask's flags.
// An empty prev starts at the beginning.
func (r *Registry) Next(prev string, mask Flags) (*Var, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	i := 0
	if prev != "" {
		i = r.search(prev)
		if i < len(r.vars) && strings.EqualFold(r.vars[i].Name, prev) {
			i++
		}
	}
	for ; i < len(r.vars); i++ {
		if r.vars[i].Flags&mask != 0 {
			return r.vars[i], true
		}
	}
	return nil, false
}

// All returns every variable in name order.
func (r *Registry) All() []*Var {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*Var(nil), r.vars...)
}
