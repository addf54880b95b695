package extension

import (
	"context"
	"fmt"

	"github.com/dop251/goja"
)

// Type is a registered extension type.
type Type struct {
	// Name is the qualified name, <unit prefix>.<TypeName>.
	Name string
	// TypeName is the name the unit registered the type under.
	TypeName   string
	Capability Capability
	Unit       *Unit

	ctor goja.Value
}

// New constructs an instance of t.
func (t *Type) New(ctx context.Context, args ...any) (*Instance, error) {
	vm := t.Unit.vm
	var obj *goja.Object
	_, err := t.Unit.guard(ctx, func() (goja.Value, error) {
		vals := make([]goja.Value, len(args))
		for i, a := range args {
			vals[i] = vm.ToValue(a)
		}
		o, err := vm.New(t.ctor, vals...)
		obj = o
		return o, err
	})
	if err != nil {
		return nil, fmt.Errorf("construct %s: %w", t.Name, err)
	}
	return &Instance{typ: t, obj: obj}, nil
}

// Instance is a constructed extension. It carries the base capability
// contract; capability-specific operations go through Call.
type Instance struct {
	typ *Type
	obj *goja.Object
}

// Type returns the type the instance was built from.
func (i *Instance) Type() *Type { return i.typ }

// Category is the category the instance's type was registered under.
func (i *Instance) Category() string { return i.typ.Capability.Category }

// Activate marks the instance active.
func (i *Instance) Activate(ctx context.Context) (bool, error) {
	v, err := i.invoke(ctx, "activate")
	if err != nil {
		return false, err
	}
	return v.ToBoolean(), nil
}

// Deactivate marks the instance inactive.
func (i *Instance) Deactivate(ctx context.Context) (bool, error) {
	v, err := i.invoke(ctx, "deactivate")
	if err != nil {
		return false, err
	}
	return v.ToBoolean(), nil
}

// Active reports the instance's active property.
func (i *Instance) Active() bool {
	v, err := i.property("active")
	if err != nil || v == nil {
		return false
	}
	return v.ToBoolean()
}

// Name returns the instance's name property, falling back to the type name.
func (i *Instance) Name() string {
	v, err := i.property("name")
	if err != nil || v == nil || goja.IsUndefined(v) || goja.IsNull(v) || v.String() == "" {
		return i.typ.TypeName
	}
	return v.String()
}

// Call invokes method with args and exports its result.
func (i *Instance) Call(ctx context.Context, method string, args ...any) (any, error) {
	v, err := i.invoke(ctx, method, args...)
	if err != nil {
		return nil, err
	}
	if goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, nil
	}
	return v.Export(), nil
}

func (i *Instance) invoke(ctx context.Context, method string, args ...any) (goja.Value, error) {
	vm := i.typ.Unit.vm
	v, err := i.typ.Unit.guard(ctx, func() (goja.Value, error) {
		m, err := i.typ.Unit.get(goja.Undefined(), i.obj, vm.ToValue(method))
		if err != nil {
			return nil, err
		}
		fn, ok := goja.AssertFunction(m)
		if !ok {
			return nil, fmt.Errorf("%w: %s.%s", ErrMethodNotFound, i.typ.Name, method)
		}
		vals := make([]goja.Value, len(args))
		for n, a := range args {
			vals[n] = vm.ToValue(a)
		}
		return fn(i.obj, vals...)
	})
	if err != nil {
		return nil, fmt.Errorf("%s.%s: %w", i.typ.Name, method, err)
	}
	return v, nil
}

func (i *Instance) property(name string) (goja.Value, error) {
	return i.typ.Unit.guard(context.Background(), func() (goja.Value, error) {
		return i.typ.Unit.get(goja.Undefined(), i.obj, i.typ.Unit.vm.ToValue(name))
	})
}
