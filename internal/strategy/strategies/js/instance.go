package js

import (
	"context"
	"errors"
	"fmt"

	"github.com/dop251/goja"
	"github.com/sirupsen/logrus"
)

// ErrFunctionMissing is returned when a requested handler is not defined.
var ErrFunctionMissing = errors.New("strategy function missing")

// Instance is one goja runtime executing a module. It is driven from the executor's
// goroutine only; calls may nest when a handler triggers order callbacks.
type Instance struct {
	module *Module
	rt     *goja.Runtime
	export *goja.Object
	depth  int
}

// NewInstance runs module in a fresh runtime with console bound to logger.
func NewInstance(module *Module, logger logrus.FieldLogger) (*Instance, error) {
	if module == nil {
		return nil, fmt.Errorf("strategy instance: module required")
	}
	rt := goja.New()
	export, err := runModule(rt, module.Program, logger)
	if err != nil {
		return nil, fmt.Errorf("strategy instance: execute %s: %w", module.Path, err)
	}
	return &Instance{module: module, rt: rt, export: export}, nil
}

// Runtime exposes the underlying VM for value conversion.
func (i *Instance) Runtime() *goja.Runtime { return i.rt }

// Call invokes the named module export.
func (i *Instance) Call(ctx context.Context, function string, args ...any) (goja.Value, error) {
	return i.invoke(ctx, i.export, function, goja.Undefined(), args)
}

// CallMethod invokes method on target with target bound as this.
func (i *Instance) CallMethod(ctx context.Context, target *goja.Object, method string, args ...any) (goja.Value, error) {
	if target == nil {
		return nil, fmt.Errorf("strategy instance: target required")
	}
	return i.invoke(ctx, target, method, target, args)
}

func (i *Instance) invoke(ctx context.Context, holder *goja.Object, name string, this goja.Value, args []any) (goja.Value, error) {
	value := holder.Get(name)
	if value == nil || goja.IsUndefined(value) || goja.IsNull(value) {
		return nil, ErrFunctionMissing
	}
	callable, ok := goja.AssertFunction(value)
	if !ok {
		return nil, fmt.Errorf("strategy instance: %q is not callable", name)
	}
	params := make([]goja.Value, len(args))
	for idx, arg := range args {
		params[idx] = i.rt.ToValue(arg)
	}

	// only the outermost call owns the interrupt
	if i.depth == 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		fired := make(chan struct{})
		stop := context.AfterFunc(ctx, func() {
			i.rt.Interrupt(ctx.Err())
			close(fired)
		})
		defer func() {
			if !stop() {
				<-fired
			}
			i.rt.ClearInterrupt()
		}()
	}
	i.depth++
	defer func() { i.depth-- }()

	res, err := callable(this, params...)
	if err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			if cause, ok := interrupted.Value().(error); ok {
				return nil, cause
			}
		}
		return nil, err
	}
	return res, nil
}
