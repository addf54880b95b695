package extension

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"
)

// baseClassSource builds a capability base class from its category and name.
const baseClassSource = `(function (category, name) {
	const Base = class {
		constructor() { this._active = false; }
		activate() { this._active = true; return true; }
		deactivate() { this._active = false; return true; }
		get active() { return this._active === true; }
		get category() { return category; }
		get name() { return this.constructor.name; }
	};
	Object.defineProperty(Base, "name", { value: name });
	return Base;
})`

// implementsSource reports whether cls implements the capability whose base
// class is base and whose required methods are methods. An empty methods
// list allows only nominal matches.
const implementsSource = `(function (cls, base, methods) {
	if (typeof cls !== "function" || cls === base) return false;
	const proto = cls.prototype;
	if (proto === null || typeof proto !== "object") return false;
	if (proto instanceof base) return true;
	if (methods.length === 0) return false;
	return methods.every(function (m) { return typeof proto[m] === "function"; });
})`

// getSource reads a property, running getters inside the runtime.
const getSource = `(function (obj, key) { return obj[key]; })`

// Unit is one loaded extension unit. Its runtime stays alive for as long as
// the registry holding it, so registered types can be constructed later.
type Unit struct {
	// Prefix is <package>.extension.<dotted path>.
	Prefix string
	// Package is the name of the contributing package.
	Package string
	// Source is the file that was evaluated.
	Source string

	mu         sync.Mutex
	vm         *goja.Runtime
	timeout    time.Duration
	logger     *zap.Logger
	decls      []declaration
	declared   map[string]bool
	bases      map[string]*goja.Object
	implements goja.Callable
	get        goja.Callable
}

type declaration struct {
	name  string
	value goja.Value
}

// match is a declaration implementing one capability.
type match struct {
	decl       declaration
	capability Capability
}

// Declared returns the registered names in registration order.
func (u *Unit) Declared() []string {
	names := make([]string, len(u.decls))
	for i, d := range u.decls {
		names[i] = d.name
	}
	return names
}

type loader struct {
	caps    []Capability
	timeout time.Duration
	logger  *zap.Logger
}

// load evaluates the unit at source under prefix.
func (l *loader) load(ctx context.Context, pkg, prefix, source string) (*Unit, error) {
	src, err := os.ReadFile(source)
	if err != nil {
		return nil, &LoadError{Prefix: prefix, Cause: err}
	}
	prog, err := goja.Compile(source, string(src), false)
	if err != nil {
		return nil, &LoadError{Prefix: prefix, Cause: err}
	}

	u := &Unit{
		Prefix:   prefix,
		Package:  pkg,
		Source:   source,
		vm:       goja.New(),
		timeout:  l.timeout,
		logger:   l.logger.With(zap.String("unit", prefix)),
		declared: make(map[string]bool),
		bases:    make(map[string]*goja.Object, len(l.caps)),
	}
	if err := u.setup(l.caps); err != nil {
		return nil, &LoadError{Prefix: prefix, Cause: err}
	}
	if _, err := u.guard(ctx, func() (goja.Value, error) {
		return u.vm.RunProgram(prog)
	}); err != nil {
		return nil, &LoadError{Prefix: prefix, Cause: err}
	}
	return u, nil
}

// setup prepares the unit's global scope.
func (u *Unit) setup(caps []Capability) error {
	for _, name := range []string{"require", "process", "module", "exports"} {
		if err := u.vm.Set(name, goja.Undefined()); err != nil {
			return err
		}
	}
	noop := func(goja.FunctionCall) goja.Value { return goja.Undefined() }
	if err := u.vm.Set("setTimeout", noop); err != nil {
		return err
	}
	if err := u.vm.Set("setInterval", noop); err != nil {
		return err
	}

	console := u.vm.NewObject()
	for _, level := range []string{"log", "info", "warn", "error", "debug"} {
		if err := console.Set(level, u.consoleFunc(level)); err != nil {
			return err
		}
	}
	if err := u.vm.Set("console", console); err != nil {
		return err
	}
	if err := u.vm.Set("register", u.register); err != nil {
		return err
	}

	factory, err := u.compileFunc(baseClassSource)
	if err != nil {
		return fmt.Errorf("base class factory: %w", err)
	}
	for _, c := range caps {
		v, err := factory(goja.Undefined(), u.vm.ToValue(c.Category), u.vm.ToValue(c.Name))
		if err != nil {
			return fmt.Errorf("base class %s: %w", c.Name, err)
		}
		base := v.ToObject(u.vm)
		u.bases[c.Category] = base
		if err := u.vm.Set(c.Name, base); err != nil {
			return err
		}
	}

	u.implements, err = u.compileFunc(implementsSource)
	if err != nil {
		return fmt.Errorf("implements check: %w", err)
	}
	u.get, err = u.compileFunc(getSource)
	if err != nil {
		return fmt.Errorf("property accessor: %w", err)
	}
	return nil
}

func (u *Unit) compileFunc(src string) (goja.Callable, error) {
	v, err := u.vm.RunString(src)
	if err != nil {
		return nil, err
	}
	fn, ok := goja.AssertFunction(v)
	if !ok {
		return nil, errors.New("not a function")
	}
	return fn, nil
}

// register backs the register(value[, name]) global.
func (u *Unit) register(call goja.FunctionCall) goja.Value {
	value := call.Argument(0)
	name := ""
	if arg := call.Argument(1); !goja.IsUndefined(arg) && !goja.IsNull(arg) {
		name = arg.String()
	} else if obj, ok := value.(*goja.Object); ok {
		if v := obj.Get("name"); v != nil && !goja.IsUndefined(v) {
			name = v.String()
		}
	}

	switch {
	case name == "":
		panic(u.vm.NewTypeError("register: value needs a name"))
	case !identifier.MatchString(name):
		panic(u.vm.NewTypeError(fmt.Sprintf("register: %q is not a valid name", name)))
	case u.declared[name]:
		panic(u.vm.NewTypeError(fmt.Sprintf("register: %q registered twice", name)))
	}
	u.declared[name] = true
	u.decls = append(u.decls, declaration{name: name, value: value})
	return goja.Undefined()
}

func (u *Unit) consoleFunc(level string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			parts[i] = arg.String()
		}
		msg := strings.Join(parts, " ")
		switch level {
		case "warn":
			u.logger.Warn(msg)
		case "error":
			u.logger.Error(msg)
		case "debug":
			u.logger.Debug(msg)
		default:
			u.logger.Info(msg)
		}
		return goja.Undefined()
	}
}

// matches returns the declarations implementing each capability, in
// declaration order then capability order.
func (u *Unit) matches(ctx context.Context, caps []Capability) ([]match, error) {
	var out []match
	_, err := u.guard(ctx, func() (goja.Value, error) {
		for _, d := range u.decls {
			for _, c := range caps {
				var methods []any
				for _, m := range c.structural() {
					methods = append(methods, m)
				}
				ok, err := u.implements(goja.Undefined(), d.value, u.bases[c.Category], u.vm.NewArray(methods...))
				if err != nil {
					return nil, fmt.Errorf("check %s against %s: %w", d.name, c.Name, err)
				}
				if ok.ToBoolean() {
					out = append(out, match{decl: d, capability: c})
				}
			}
		}
		return nil, nil
	})
	return out, err
}

// guard runs fn on the unit's runtime, interrupting it when ctx is done or
// the unit timeout elapses.
func (u *Unit) guard(ctx context.Context, fn func() (goja.Value, error)) (goja.Value, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	var expired <-chan time.Time
	if u.timeout > 0 {
		timer := time.NewTimer(u.timeout)
		defer timer.Stop()
		expired = timer.C
	}

	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		select {
		case <-expired:
			u.vm.Interrupt("execution timeout exceeded")
		case <-ctx.Done():
			u.vm.Interrupt("context cancelled")
		case <-done:
		}
	}()

	v, err := fn()
	close(done)
	<-stopped
	u.vm.ClearInterrupt()
	return v, err
}
