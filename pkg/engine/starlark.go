package engine

import (
	"fmt"
	"reflect"
	"sort"

	"go.starlark.net/resolve"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"github.com/go-delve/attach/pkg/trace"
)

func init() {
	resolve.AllowNestedDef = true
	resolve.AllowLambda = true
	resolve.AllowFloat = true
	resolve.AllowSet = true
	resolve.AllowBitwise = true
	resolve.AllowRecursion = true
	resolve.AllowGlobalReassign = true
}

const stdinName = "<stdin>"

func (d *Debugger) newThread() *starlark.Thread {
	return &starlark.Thread{
		Name:  "dlv-attach",
		Print: func(_ *starlark.Thread, msg string) { fmt.Fprintln(d.io, msg) },
	}
}

// scopes returns the scopes visible at the current stop, innermost first.
func (d *Debugger) scopes() []*trace.Scope {
	var r []*trace.Scope
	if d.frame != nil && d.frame.Scope != nil {
		r = append(r, d.frame.Scope)
	}
	return append(r, trace.Globals)
}

// lookupVar finds the Go variable bound to name.
func (d *Debugger) lookupVar(name string) (*trace.Scope, bool) {
	for _, sc := range d.scopes() {
		if _, ok := sc.Lookup(name); ok {
			return sc, true
		}
	}
	return nil, false
}

// env builds the starlark environment for the current stop: session
// globals, shadowed by bound globals, shadowed by the frame's variables.
func (d *Debugger) env() starlark.StringDict {
	env := starlark.StringDict{}
	for k, v := range d.globals {
		env[k] = v
	}
	scopes := d.scopes()
	for i := len(scopes) - 1; i >= 0; i-- {
		for _, name := range scopes[i].Names() {
			v, _ := scopes[i].Lookup(name)
			env[name] = goToStarlark(v)
		}
	}
	return env
}

// eval evaluates a single expression.
func (d *Debugger) eval(expr string) (starlark.Value, error) {
	return starlark.Eval(d.newThread(), stdinName, expr, d.env())
}

// exec executes src. A sole expression is printed when its value is not
// None. Assignments to bound variables are written to the host program.
func (d *Debugger) exec(src string) error {
	f, err := syntax.Parse(stdinName, src, 0)
	if err != nil {
		return err
	}
	thread := d.newThread()
	if expr := soleExpr(f); expr != nil {
		v, err := starlark.EvalExpr(thread, expr, d.env())
		if err != nil {
			return evalError(err)
		}
		if v != starlark.None {
			fmt.Fprintln(d.io, v)
		}
		return nil
	}
	for _, stmt := range f.Stmts {
		if err := d.execStmt(thread, f, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (d *Debugger) execStmt(thread *starlark.Thread, f *syntax.File, stmt syntax.Stmt) error {
	if assign, ok := stmt.(*syntax.AssignStmt); ok {
		if id, ok := assign.LHS.(*syntax.Ident); ok {
			return d.assign(thread, id.Name, assign)
		}
	}

	env := d.env()
	prog, err := starlark.FileProgram(&syntax.File{Path: f.Path, Stmts: []syntax.Stmt{stmt}}, env.Has)
	if err != nil {
		return err
	}
	globals, err := prog.Init(thread, env)
	for name, v := range globals {
		if serr := d.store(name, v); serr != nil && err == nil {
			err = serr
		}
	}
	return evalError(err)
}

// assign handles name = expr and name op= expr. Statements of this form
// are evaluated directly so that the right hand side sees the current
// value of name.
func (d *Debugger) assign(thread *starlark.Thread, name string, stmt *syntax.AssignStmt) error {
	env := d.env()
	v, err := starlark.EvalExpr(thread, stmt.RHS, env)
	if err != nil {
		return evalError(err)
	}
	if stmt.Op != syntax.EQ {
		cur, ok := env[name]
		if !ok {
			return fmt.Errorf("name %s is not defined", name)
		}
		v, err = starlark.Binary(stmt.Op-syntax.PLUS_EQ+syntax.PLUS, cur, v)
		if err != nil {
			return err
		}
	}
	return d.store(name, v)
}

// store writes v to the Go variable bound to name, or to the session
// globals when name is not bound.
func (d *Debugger) store(name string, v starlark.Value) error {
	sc, ok := d.lookupVar(name)
	if !ok {
		d.globals[name] = v
		return nil
	}
	x, err := starlarkToGo(v)
	if err != nil {
		return fmt.Errorf("cannot assign to %s: %v", name, err)
	}
	return sc.Set(name, x)
}

func soleExpr(f *syntax.File) syntax.Expr {
	if len(f.Stmts) == 1 {
		if stmt, ok := f.Stmts[0].(*syntax.ExprStmt); ok {
			return stmt.X
		}
	}
	return nil
}

func evalError(err error) error {
	if evalErr, ok := err.(*starlark.EvalError); ok {
		return fmt.Errorf("%s", evalErr.Msg)
	}
	return err
}

// goToStarlark converts a bound Go variable into a starlark value.
// Containers are copied, so changes made to them from starlark are not
// seen by the host program.
func goToStarlark(v reflect.Value) starlark.Value {
	switch v.Kind() {
	case reflect.Bool:
		return starlark.Bool(v.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return starlark.MakeInt64(v.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return starlark.MakeUint64(v.Uint())
	case reflect.Float32, reflect.Float64:
		return starlark.Float(v.Float())
	case reflect.String:
		return starlark.String(v.String())
	case reflect.Slice, reflect.Array:
		if v.Kind() == reflect.Slice && v.IsNil() {
			return starlark.None
		}
		elems := make([]starlark.Value, v.Len())
		for i := range elems {
			elems[i] = goToStarlark(v.Index(i))
		}
		return starlark.NewList(elems)
	case reflect.Map:
		if v.IsNil() {
			return starlark.None
		}
		keys := v.MapKeys()
		sort.Slice(keys, func(i, j int) bool {
			return fmt.Sprint(keys[i].Interface()) < fmt.Sprint(keys[j].Interface())
		})
		r := starlark.NewDict(len(keys))
		for _, k := range keys {
			if err := r.SetKey(goToStarlark(k), goToStarlark(v.MapIndex(k))); err != nil {
				r.SetKey(starlark.String(fmt.Sprint(k.Interface())), goToStarlark(v.MapIndex(k)))
			}
		}
		return r
	case reflect.Ptr, reflect.Interface:
		if v.IsNil() {
			return starlark.None
		}
		return goToStarlark(v.Elem())
	}
	if v.CanInterface() {
		return starlark.String(fmt.Sprintf("%v", v.Interface()))
	}
	return starlark.String(v.Type().String())
}

// starlarkToGo converts a scalar starlark value into the representation
// accepted by trace.Scope.Set.
func starlarkToGo(v starlark.Value) (interface{}, error) {
	switch v := v.(type) {
	case starlark.Bool:
		return bool(v), nil
	case starlark.Int:
		if n, ok := v.Int64(); ok {
			return n, nil
		}
		if n, ok := v.Uint64(); ok {
			return n, nil
		}
		return nil, fmt.Errorf("%s out of range", v)
	case starlark.Float:
		return float64(v), nil
	case starlark.String:
		return string(v), nil
	}
	return nil, fmt.Errorf("unsupported type %s", v.Type())
}
