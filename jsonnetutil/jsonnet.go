package jsonnetutil

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/go-jsonnet"
	"github.com/google/go-jsonnet/ast"
	aliasimporter "github.com/mashiike/go-jsonnet-alias-importer"
)

var nativeFunctions = []*jsonnet.NativeFunction{
	{
		Name:   "env",
		Params: []ast.Identifier{"name", "default"},
		Func: func(args []any) (any, error) {
			key, ok := args[0].(string)
			if !ok {
				return nil, fmt.Errorf("env: name must be a string")
			}
			if v := os.Getenv(key); v != "" {
				return v, nil
			}
			return args[1], nil
		},
	},
	{
		Name:   "mustEnv",
		Params: []ast.Identifier{"name"},
		Func: func(args []any) (any, error) {
			key, ok := args[0].(string)
			if !ok {
				return nil, fmt.Errorf("mustEnv: name must be a string")
			}
			if v, ok := os.LookupEnv(key); ok {
				return v, nil
			}
			return nil, fmt.Errorf("mustEnv: %s is not set", key)
		},
	},
}

// VM evaluates fxchat config files. Files may call std.native("env") and
// std.native("mustEnv"), and import libraries from the "includes" alias.
type VM struct {
	vm       *jsonnet.VM
	importer *aliasimporter.AliasImpoter
	includes bool
}

func MakeVM() *VM {
	vm := jsonnet.MakeVM()
	importer := aliasimporter.New()
	vm.Importer(importer)
	for _, f := range nativeFunctions {
		vm.NativeFunction(f)
	}
	return &VM{
		vm:       vm,
		importer: importer,
	}
}

func (vm *VM) ExtVars(extVars map[string]string) {
	for k, v := range extVars {
		vm.vm.ExtVar(k, v)
	}
}

func (vm *VM) Includes(fsys fs.FS) {
	vm.importer.Register("includes", fsys)
	vm.importer.ClearCache()
	vm.includes = true
}

func (vm *VM) Evaluate(filename, snippet string) (string, error) {
	jsonStr, err := vm.vm.EvaluateAnonymousSnippet(filename, snippet)
	if err != nil {
		return "", fmt.Errorf("evaluate %s: %w", filename, err)
	}
	return jsonStr, nil
}

// EvaluateFile evaluates the file at path and decodes the result into v.
// Plain JSON files are valid jsonnet and go through the same path.
// The directory of path is registered as "includes" unless Includes was called.
func (vm *VM) EvaluateFile(path string, v any) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if !vm.includes {
		vm.Includes(os.DirFS(filepath.Dir(path)))
	}
	jsonStr, err := vm.Evaluate(path, string(raw))
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(jsonStr), v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
