package schemarev

import (
	"context"
	"fmt"
	"strings"

	lua "github.com/yuin/gopher-lua"
)

const (
	luaOpModuleName       = "op"
	luaBatchTypeName      = "batch"
	luaColumnTypeName     = "column"
	luaColumnTypeTypeName = "column_type"
)

// luaBinding connects the op module of one Lua state to the Ops of the
// running revision. ops is nil while a script is only being parsed.
type luaBinding struct {
	ctx context.Context
	ops *Ops
	err error
}

func (b *luaBinding) loader(l *lua.LState) int {
	mtBatch := l.NewTypeMetatable(luaBatchTypeName)
	l.SetField(mtBatch, "__index", l.SetFuncs(l.NewTable(), batchMethods))

	l.NewTypeMetatable(luaColumnTypeName)

	mtType := l.NewTypeMetatable(luaColumnTypeTypeName)
	l.SetField(mtType, "__tostring", l.NewFunction(luaColumnTypeString))

	exports := map[string]lua.LGFunction{
		"batch_alter_table": b.batchAlterTable,
		"add_column":        b.addColumn,
		"drop_column":       b.dropColumn,
		"execute":           b.execute,
		"column":            luaColumn,
		"DateTime":          luaTypeFunc(DateTime),
		"Integer":           luaTypeFunc(Integer),
		"Text":              luaTypeFunc(Text),
		"Boolean":           luaTypeFunc(Boolean),
		"String":            luaString,
	}
	l.Push(l.SetFuncs(l.NewTable(), exports))
	return 1
}

// raise hands err to the script as a Lua error and remembers it, so the
// caller can return the Go error instead of its string form.
func (b *luaBinding) raise(l *lua.LState, err error) int {
	b.err = err
	l.RaiseError("%s", err.Error())
	return 0
}

func (b *luaBinding) checkOps(l *lua.LState, fn string) *Ops {
	if b.ops == nil {
		l.RaiseError("op.%s called outside upgrade or downgrade", fn)
	}
	return b.ops
}

func (b *luaBinding) batchAlterTable(l *lua.LState) int {
	ops := b.checkOps(l, "batch_alter_table")
	table := l.CheckString(1)
	fn := l.CheckFunction(2)
	optsTable := l.OptTable(3, nil)

	var opts []BatchOption
	if optsTable != nil {
		if v := optsTable.RawGetString("recreate"); v != lua.LNil {
			r, err := ParseRecreate(v.String())
			if err != nil {
				l.ArgError(3, err.Error())
			}
			opts = append(opts, WithRecreate(r))
		}
	}

	err := ops.BatchAlterTable(b.ctx, table, func(batch *Batch) error {
		ud := l.NewUserData()
		ud.Value = batch
		l.SetMetatable(ud, l.GetTypeMetatable(luaBatchTypeName))
		return l.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}, ud)
	}, opts...)
	if err != nil {
		return b.raise(l, err)
	}
	return 0
}

func (b *luaBinding) addColumn(l *lua.LState) int {
	ops := b.checkOps(l, "add_column")
	table := l.CheckString(1)
	col := checkColumn(l, 2)
	if err := ops.AddColumn(b.ctx, table, col); err != nil {
		return b.raise(l, err)
	}
	return 0
}

func (b *luaBinding) dropColumn(l *lua.LState) int {
	ops := b.checkOps(l, "drop_column")
	table := l.CheckString(1)
	name := l.CheckString(2)
	if err := ops.DropColumn(b.ctx, table, name); err != nil {
		return b.raise(l, err)
	}
	return 0
}

func (b *luaBinding) execute(l *lua.LState) int {
	ops := b.checkOps(l, "execute")
	q, args := checkQueryArgs(l, 1)
	if err := ops.Execute(b.ctx, q, args...); err != nil {
		return b.raise(l, err)
	}
	return 0
}

var batchMethods = map[string]lua.LGFunction{
	"add_column":  luaBatchAddColumn,
	"drop_column": luaBatchDropColumn,
}

func checkBatch(l *lua.LState) *Batch {
	ud := l.CheckUserData(1)
	if v, ok := ud.Value.(*Batch); ok {
		return v
	}
	l.ArgError(1, "batch expected")
	return nil
}

func luaBatchAddColumn(l *lua.LState) int {
	b := checkBatch(l)
	b.AddColumn(checkColumn(l, 2))
	return 0
}

func luaBatchDropColumn(l *lua.LState) int {
	b := checkBatch(l)
	b.DropColumn(l.CheckString(2))
	return 0
}

// luaColumn builds a column: op.column(name, type [, {nullable=true, default="..."}]).
// Columns are nullable unless stated otherwise.
func luaColumn(l *lua.LState) int {
	col := Column{
		Name:     l.CheckString(1),
		Type:     checkColumnType(l, 2),
		Nullable: true,
	}

	if opts := l.OptTable(3, nil); opts != nil {
		if v := opts.RawGetString("nullable"); v != lua.LNil {
			nullable, ok := v.(lua.LBool)
			if !ok {
				l.ArgError(3, "nullable must be a boolean")
			}
			col.Nullable = bool(nullable)
		}
		if v := opts.RawGetString("default"); v != lua.LNil {
			def, ok := v.(lua.LString)
			if !ok {
				l.ArgError(3, "default must be a string")
			}
			col.Default = string(def)
		}
	}

	ud := l.NewUserData()
	ud.Value = col
	l.SetMetatable(ud, l.GetTypeMetatable(luaColumnTypeName))
	l.Push(ud)
	return 1
}

func checkColumn(l *lua.LState, n int) Column {
	ud := l.CheckUserData(n)
	if v, ok := ud.Value.(Column); ok {
		return v
	}
	l.ArgError(n, "column expected")
	return Column{}
}

func pushColumnType(l *lua.LState, t ColumnType) {
	ud := l.NewUserData()
	ud.Value = t
	l.SetMetatable(ud, l.GetTypeMetatable(luaColumnTypeTypeName))
	l.Push(ud)
}

func luaTypeFunc(fn func() ColumnType) lua.LGFunction {
	return func(l *lua.LState) int {
		pushColumnType(l, fn())
		return 1
	}
}

func luaString(l *lua.LState) int {
	n := l.OptInt(1, 0)
	if n < 0 {
		l.ArgError(1, "length must not be negative")
	}
	pushColumnType(l, String(n))
	return 1
}

func checkColumnType(l *lua.LState, n int) ColumnType {
	ud := l.CheckUserData(n)
	if v, ok := ud.Value.(ColumnType); ok {
		return v
	}
	l.ArgError(n, "column type expected")
	return ColumnType{}
}

func luaColumnTypeString(l *lua.LState) int {
	l.Push(lua.LString(checkColumnType(l, 1).String()))
	return 1
}

func checkQueryArgs(l *lua.LState, start int) (string, []any) {
	q := l.CheckString(start)

	var args []any
	top := l.GetTop()
	for i := start + 1; i <= top; i++ {
		lv := l.Get(i)
		switch lv.Type() {
		case lua.LTNil:
			args = append(args, nil)
		case lua.LTBool:
			args = append(args, bool(lv.(lua.LBool)))
		case lua.LTNumber:
			args = append(args, float64(lv.(lua.LNumber)))
		case lua.LTString:
			args = append(args, string(lv.(lua.LString)))
		default:
			l.ArgError(i, fmt.Sprintf("unsupported type for query param: %s", lv.Type().String()))
		}
	}

	return q, args
}

// scriptError prefers the Go error raised through the binding when it is the
// one that ended the script.
func (b *luaBinding) scriptError(err error) error {
	if b.err != nil && strings.Contains(err.Error(), b.err.Error()) {
		return b.err
	}
	return err
}
