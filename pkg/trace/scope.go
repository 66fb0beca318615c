package trace

import (
	"errors"
	"fmt"
	"reflect"
	"sync"
)

// ErrReadOnly is returned when assigning to a variable whose type can not
// be written from the debugger.
var ErrReadOnly = errors.New("variable is read only")

// Globals holds variables visible from every frame. Frame scopes shadow it.
var Globals = NewScope()

// Scope is an ordered set of named variables exposed to the debugger.
// Each variable is bound to a pointer owned by the host program; the
// debugger reads and writes through it.
//
// Writable kinds are bool, integers, floats and strings. Other kinds are
// visible but read only.
type Scope struct {
	mu    sync.Mutex
	names []string
	vars  map[string]reflect.Value
}

// NewScope returns an empty scope.
func NewScope() *Scope {
	return &Scope{vars: make(map[string]reflect.Value)}
}

// Bind exposes the variable ptr points to under name and returns s, so
// that calls can be chained. Binding an existing name replaces it. Bind
// panics if ptr is not a non-nil pointer.
func (s *Scope) Bind(name string, ptr interface{}) *Scope {
	v := reflect.ValueOf(ptr)
	if v.Kind() != reflect.Ptr || v.IsNil() {
		panic(fmt.Sprintf("trace: Bind(%q) needs a non-nil pointer, got %T", name, ptr))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.vars[name]; !ok {
		s.names = append(s.names, name)
	}
	s.vars[name] = v.Elem()
	return s
}

// Unbind removes name from s.
func (s *Scope) Unbind(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.vars[name]; !ok {
		return
	}
	delete(s.vars, name)
	for i := range s.names {
		if s.names[i] == name {
			s.names = append(s.names[:i], s.names[i+1:]...)
			break
		}
	}
}

// Names returns the bound names in binding order.
func (s *Scope) Names() []string {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.names...)
}

// Lookup returns the variable bound to name.
func (s *Scope) Lookup(name string) (reflect.Value, bool) {
	if s == nil {
		return reflect.Value{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vars[name]
	return v, ok
}

// Get returns the current value of the variable bound to name.
func (s *Scope) Get(name string) (interface{}, bool) {
	v, ok := s.Lookup(name)
	if !ok {
		return nil, false
	}
	return v.Interface(), true
}

// Set assigns x to the variable bound to name. x must be a bool, int64,
// uint64, float64 or string compatible with the variable's kind; integer
// values that overflow the variable are rejected.
func (s *Scope) Set(name string, x interface{}) error {
	v, ok := s.Lookup(name)
	if !ok {
		return fmt.Errorf("%s is not defined", name)
	}
	return assign(name, v, x)
}

func assign(name string, v reflect.Value, x interface{}) error {
	mismatch := func() error {
		return fmt.Errorf("cannot assign %T to %s (type %s)", x, name, v.Type())
	}
	switch v.Kind() {
	case reflect.Bool:
		b, ok := x.(bool)
		if !ok {
			return mismatch()
		}
		v.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		var n int64
		switch x := x.(type) {
		case int64:
			n = x
		case uint64:
			if int64(x) < 0 {
				return fmt.Errorf("%d overflows %s (type %s)", x, name, v.Type())
			}
			n = int64(x)
		default:
			return mismatch()
		}
		if v.OverflowInt(n) {
			return fmt.Errorf("%d overflows %s (type %s)", n, name, v.Type())
		}
		v.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		var n uint64
		switch x := x.(type) {
		case int64:
			if x < 0 {
				return fmt.Errorf("%d overflows %s (type %s)", x, name, v.Type())
			}
			n = uint64(x)
		case uint64:
			n = x
		default:
			return mismatch()
		}
		if v.OverflowUint(n) {
			return fmt.Errorf("%d overflows %s (type %s)", n, name, v.Type())
		}
		v.SetUint(n)
	case reflect.Float32, reflect.Float64:
		switch x := x.(type) {
		case float64:
			v.SetFloat(x)
		case int64:
			v.SetFloat(float64(x))
		case uint64:
			v.SetFloat(float64(x))
		default:
			return mismatch()
		}
	case reflect.String:
		str, ok := x.(string)
		if !ok {
			return mismatch()
		}
		v.SetString(str)
	default:
		return fmt.Errorf("%s (type %s): %w", name, v.Type(), ErrReadOnly)
	}
	return nil
}
