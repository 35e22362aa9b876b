package schemarev

import (
	"context"
	"errors"
	"fmt"
	"io"

	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"
)

// Parse compiles a Lua revision script. The script declares the globals
// revision, down_revision, branch_labels, depends_on and message, and the
// functions upgrade and downgrade, which run in a fresh Lua state each time
// the revision is applied or reverted.
func Parse(ctx context.Context, r io.Reader, name string) (*Revision, error) {
	chunk, err := parse.Parse(r, name)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", name, err)
	}
	proto, err := lua.Compile(chunk, name)
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", name, err)
	}

	l := newLState(ctx, &luaBinding{ctx: ctx})
	defer l.Close()
	if err := runProto(l, proto); err != nil {
		return nil, fmt.Errorf("load %s: %w", name, err)
	}

	rev := &Revision{}
	if rev.ID, err = globalString(l, "revision", true); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if rev.Down, err = globalString(l, "down_revision", false); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if rev.Message, err = globalString(l, "message", false); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if rev.BranchLabels, err = globalStrings(l, "branch_labels"); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if rev.DependsOn, err = globalStrings(l, "depends_on"); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	for _, fn := range []string{"upgrade", "downgrade"} {
		if l.GetGlobal(fn).Type() != lua.LTFunction {
			return nil, fmt.Errorf("%s: missing function %s", name, fn)
		}
	}
	rev.UpFunc = scriptFunc(proto, name, "upgrade")
	rev.DownFunc = scriptFunc(proto, name, "downgrade")

	return rev, nil
}

func scriptFunc(proto *lua.FunctionProto, name, fn string) func(context.Context, *Ops) error {
	return func(ctx context.Context, ops *Ops) error {
		b := &luaBinding{ctx: ctx, ops: ops}
		l := newLState(ctx, b)
		defer l.Close()

		if err := runProto(l, proto); err != nil {
			return fmt.Errorf("load %s: %w", name, err)
		}
		if err := l.CallByParam(lua.P{Fn: l.GetGlobal(fn), NRet: 0, Protect: true}); err != nil {
			return b.scriptError(err)
		}
		return nil
	}
}

func newLState(ctx context.Context, b *luaBinding) *lua.LState {
	l := lua.NewState()
	l.SetContext(ctx)
	l.PreloadModule(luaOpModuleName, b.loader)
	return l
}

func runProto(l *lua.LState, proto *lua.FunctionProto) error {
	l.Push(l.NewFunctionFromProto(proto))
	return l.PCall(0, lua.MultRet, nil)
}

func globalString(l *lua.LState, key string, required bool) (string, error) {
	switch v := l.GetGlobal(key).(type) {
	case lua.LString:
		return string(v), nil
	default:
		if v == lua.LNil {
			if required {
				return "", fmt.Errorf("missing %s", key)
			}
			return "", nil
		}
		return "", fmt.Errorf("%s must be a string, got %s", key, v.Type())
	}
}

// globalStrings accepts nil, a string, or a sequence of strings.
func globalStrings(l *lua.LState, key string) ([]string, error) {
	switch v := l.GetGlobal(key).(type) {
	case lua.LString:
		return []string{string(v)}, nil
	case *lua.LTable:
		var out []string
		var err error
		v.ForEach(func(_, item lua.LValue) {
			s, ok := item.(lua.LString)
			if !ok {
				err = errors.Join(err, fmt.Errorf("%s entries must be strings, got %s", key, item.Type()))
				return
			}
			out = append(out, string(s))
		})
		return out, err
	default:
		if v == lua.LNil {
			return nil, nil
		}
		return nil, fmt.Errorf("%s must be a string or a list of strings, got %s", key, v.Type())
	}
}
