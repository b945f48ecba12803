package validator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dop251/goja"
)

// jsValidator runs a CommonJS-style module on goja. The module exports either
// a function, or an object with a "validator" or "validate" function; a global
// validate function is accepted too. Functions may be async.
type jsValidator struct {
	name    string
	program *goja.Program
	opts    Options
}

func newJSValidator(name, source string, opts Options) (*jsValidator, error) {
	program, err := goja.Compile(name, source, false)
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", name, err)
	}

	v := &jsValidator{name: name, program: program, opts: opts}

	// Fail at load time rather than on the first save.
	vm, module := v.newRuntime()
	if _, err := vm.RunProgram(program); err != nil {
		return nil, fmt.Errorf("load %s: %w", name, err)
	}
	if _, err := v.entryPoint(vm, module); err != nil {
		return nil, err
	}
	return v, nil
}

func (v *jsValidator) newRuntime() (*goja.Runtime, *goja.Object) {
	vm := goja.New()

	module := vm.NewObject()
	exports := vm.NewObject()
	_ = module.Set("exports", exports)
	_ = vm.Set("module", module)
	_ = vm.Set("exports", exports)
	_ = vm.Set("require", func(call goja.FunctionCall) goja.Value {
		panic(vm.NewGoError(fmt.Errorf("require(%s) is not available to validators", call.Argument(0).String())))
	})

	console := vm.NewObject()
	_ = console.Set("log", v.consoleFunc(log.Info))
	_ = console.Set("info", v.consoleFunc(log.Info))
	_ = console.Set("warn", v.consoleFunc(log.Warn))
	_ = console.Set("error", v.consoleFunc(log.Error))
	_ = vm.Set("console", console)

	return vm, module
}

func (v *jsValidator) consoleFunc(sink func(string, ...interface{})) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		parts := make([]string, 0, len(call.Arguments))
		for _, arg := range call.Arguments {
			parts = append(parts, arg.String())
		}
		sink("%s: %s", v.name, strings.Join(parts, " "))
		return goja.Undefined()
	}
}

func (v *jsValidator) entryPoint(vm *goja.Runtime, module *goja.Object) (goja.Callable, error) {
	exported := module.Get("exports")
	if fn, ok := goja.AssertFunction(exported); ok {
		return fn, nil
	}
	if obj, ok := exported.(*goja.Object); ok {
		for _, key := range []string{"validator", "validate"} {
			if fn, ok := goja.AssertFunction(obj.Get(key)); ok {
				return fn, nil
			}
		}
	}
	if fn, ok := goja.AssertFunction(vm.Get("validate")); ok {
		return fn, nil
	}
	return nil, fmt.Errorf("%s: no validator function exported", v.name)
}

func (v *jsValidator) Validate(ctx context.Context, filename, content, root string) error {
	ctx, cancel := withTimeout(ctx, v.opts.timeout())
	defer cancel()

	vm, module := v.newRuntime()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			vm.Interrupt(ctx.Err())
		case <-stop:
		}
	}()

	if _, err := vm.RunProgram(v.program); err != nil {
		return fmt.Errorf("load %s: %w", v.name, err)
	}

	fn, err := v.entryPoint(vm, module)
	if err != nil {
		return err
	}

	result, err := fn(goja.Undefined(), vm.ToValue(filename), vm.ToValue(content), vm.ToValue(root))
	if err != nil {
		return v.failure(err)
	}

	if result == nil {
		return nil
	}
	promise, ok := result.Export().(*goja.Promise)
	if !ok {
		return nil
	}

	switch promise.State() {
	case goja.PromiseStateFulfilled:
		return nil
	case goja.PromiseStateRejected:
		return v.rejection(promise.Result())
	default:
		return fmt.Errorf("%s: validator promise did not settle", v.name)
	}
}

func (v *jsValidator) failure(err error) error {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		return fmt.Errorf("%s interrupted: %v", v.name, interrupted.Value())
	}
	var exception *goja.Exception
	if errors.As(err, &exception) {
		return v.rejection(exception.Value())
	}
	return fmt.Errorf("%s: %w", v.name, err)
}

// rejection turns a thrown or rejected JS value into an error. Only an object
// carrying validationErrorMessage yields a *ValidationError.
func (v *jsValidator) rejection(value goja.Value) error {
	if value == nil || goja.IsUndefined(value) || goja.IsNull(value) {
		return fmt.Errorf("%s: rejected without a reason", v.name)
	}
	if obj, ok := value.(*goja.Object); ok {
		msg := obj.Get("validationErrorMessage")
		if msg != nil && !goja.IsUndefined(msg) && !goja.IsNull(msg) && msg.String() != "" {
			return &ValidationError{Message: msg.String()}
		}
	}
	return fmt.Errorf("%s: %s", v.name, value.String())
}
