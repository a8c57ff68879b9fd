// Package js runs strategies written in JavaScript on an embedded goja runtime. A script is
// a CommonJS-style module exporting optional metadata and a create(env) function that
// returns the handler object.
package js

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dop251/goja"
	"github.com/sirupsen/logrus"

	"github.com/coachpo/meltica-replay/internal/strategy"
	"github.com/coachpo/meltica-replay/internal/strategy/strategies"
)

// Scheme prefixes registry names that resolve to script files, as in "js:cross.js".
const Scheme = "js"

// Module is a compiled strategy script.
type Module struct {
	Path     string
	Hash     string
	Metadata strategies.Metadata
	Program  *goja.Program
}

// Register makes "js:<path>" names resolvable through reg.
func Register(reg *strategies.Registry) {
	reg.RegisterResolver(Scheme, Resolve)
}

// Resolve compiles the script at path and returns a factory for it. The script is compiled
// once and each built strategy gets its own runtime.
func Resolve(path string) (strategies.Factory, error) {
	module, err := Load(path)
	if err != nil {
		return nil, err
	}
	return func(fn strategies.Facade, params map[string]any) (strategy.Strategy, error) {
		return NewStrategy(module, fn, params)
	}, nil
}

// Load reads and compiles the script at path.
func Load(path string) (*Module, error) {
	clean := filepath.Clean(strings.TrimSpace(path))
	if clean == "." {
		return nil, fmt.Errorf("js strategy: script path required")
	}
	if !isJavaScriptFile(clean) {
		return nil, fmt.Errorf("js strategy: %q must use a .js extension", clean)
	}
	// #nosec G304 -- the script path comes from the operator's backtest config.
	source, err := os.ReadFile(clean)
	if err != nil {
		return nil, fmt.Errorf("js strategy: read %q: %w", clean, err)
	}
	prog, err := goja.Compile(clean, string(source), true)
	if err != nil {
		return nil, fmt.Errorf("js strategy: compile %q: %w", clean, err)
	}
	meta, err := extractMetadata(prog, clean)
	if err != nil {
		return nil, fmt.Errorf("js strategy: %s: %w", clean, err)
	}
	sum := sha256.Sum256(source)
	return &Module{
		Path:     clean,
		Hash:     hex.EncodeToString(sum[:]),
		Metadata: meta,
		Program:  prog,
	}, nil
}

func isJavaScriptFile(name string) bool {
	lower := strings.ToLower(name)
	return strings.HasSuffix(lower, ".js") || strings.HasSuffix(lower, ".mjs")
}

// extractMetadata runs the module once in a scratch runtime. The name defaults to the file
// name without extension.
func extractMetadata(program *goja.Program, path string) (strategies.Metadata, error) {
	rt := goja.New()
	exports, err := runModule(rt, program, nil)
	if err != nil {
		return strategies.Metadata{}, err
	}
	if _, ok := goja.AssertFunction(exports.Get("create")); !ok {
		return strategies.Metadata{}, fmt.Errorf("create export must be a function")
	}

	var meta strategies.Metadata
	if raw := exports.Get("metadata"); raw != nil && !goja.IsUndefined(raw) && !goja.IsNull(raw) {
		if err := rt.ExportTo(raw, &meta); err != nil {
			return strategies.Metadata{}, fmt.Errorf("metadata export invalid: %w", err)
		}
	}
	meta.Name = strings.ToLower(strings.TrimSpace(meta.Name))
	if meta.Name == "" {
		base := filepath.Base(path)
		meta.Name = strings.ToLower(strings.TrimSuffix(base, filepath.Ext(base)))
	}
	return meta, nil
}

func runModule(rt *goja.Runtime, program *goja.Program, logger logrus.FieldLogger) (*goja.Object, error) {
	rt.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))
	module := rt.NewObject()
	exports := rt.NewObject()
	if err := module.Set("exports", exports); err != nil {
		return nil, fmt.Errorf("module init: %w", err)
	}
	if err := rt.Set("exports", exports); err != nil {
		return nil, fmt.Errorf("module init: %w", err)
	}
	if err := rt.Set("module", module); err != nil {
		return nil, fmt.Errorf("module init: %w", err)
	}
	if err := rt.Set("console", buildConsole(rt, logger)); err != nil {
		return nil, fmt.Errorf("module init: %w", err)
	}
	if _, err := rt.RunProgram(program); err != nil {
		return nil, fmt.Errorf("module run: %w", err)
	}
	value := module.Get("exports")
	if value == nil || goja.IsUndefined(value) || goja.IsNull(value) {
		return nil, fmt.Errorf("module exports must be an object")
	}
	object, ok := value.(*goja.Object)
	if !ok {
		return nil, fmt.Errorf("module exports must be an object")
	}
	return object, nil
}

// buildConsole maps console.* onto logger levels. A nil logger discards output.
func buildConsole(rt *goja.Runtime, logger logrus.FieldLogger) *goja.Object {
	console := rt.NewObject()
	bind := func(name string, level logrus.Level) {
		_ = console.Set(name, func(call goja.FunctionCall) goja.Value {
			if logger != nil {
				logger.WithField("source", "script").Log(level, joinArgs(call.Arguments))
			}
			return goja.Undefined()
		})
	}
	bind("log", logrus.InfoLevel)
	bind("info", logrus.InfoLevel)
	bind("debug", logrus.DebugLevel)
	bind("warn", logrus.WarnLevel)
	bind("error", logrus.ErrorLevel)
	return console
}

func joinArgs(args []goja.Value) string {
	var builder strings.Builder
	for i, arg := range args {
		if i > 0 {
			builder.WriteByte(' ')
		}
		builder.WriteString(arg.String())
	}
	return builder.String()
}
