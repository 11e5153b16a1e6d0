// Package lua runs tool scripts written in Lua.
package lua

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/zupport/zupport/internal/fileio"
)

// Result is what a script's run(params) returned.
type Result struct {
	// Outputs holds the returned table, keyed by field name. A bare
	// string return is stored under "result".
	Outputs map[string]any
}

// RunTool runs the Lua script at scriptPath and calls its global
// run(params) function. params are passed as a table.
//
// run signals failure by returning false, 0, or raising an error. It may
// return a table of outputs or a string. Returning nothing, true or a
// non-zero number is success.
//
// Scripts get the base, package, table, string and math libraries. The
// zupport module (parse_name, glob, log) and a minimal os module
// (getenv, time) are loaded with require. The standard io and os
// libraries are not available.
func RunTool(ctx context.Context, scriptPath string, params map[string]any, logger *slog.Logger) (*Result, error) {
	if logger == nil {
		logger = slog.Default()
	}
	lState := lua.NewState(lua.Options{SkipOpenLibs: true})
	defer lState.Close()
	if err := openSafeLibs(lState); err != nil {
		return nil, err
	}
	lState.SetContext(ctx)

	lState.PreloadModule("os", osModuleLoader)
	lState.PreloadModule("zupport", zupportModuleLoader(logger))

	absPath, err := filepath.Abs(scriptPath)
	if err != nil {
		return nil, fmt.Errorf("script path: %w", err)
	}
	if err := lState.DoFile(absPath); err != nil {
		return nil, fmt.Errorf("load script: %w", err)
	}

	fn := lState.GetGlobal("run")
	if fn.Type() == lua.LTNil {
		return nil, fmt.Errorf("script must define global function run(params)")
	}
	if fn.Type() != lua.LTFunction {
		return nil, fmt.Errorf("run must be a function, got %s", fn.Type().String())
	}

	lState.Push(fn)
	lState.Push(toLua(lState, params))
	if err := lState.PCall(1, 1, nil); err != nil {
		return nil, fmt.Errorf("run(): %w", err)
	}

	ret := lState.Get(-1)
	lState.Pop(1)

	switch ret.Type() {
	case lua.LTNil:
		return &Result{}, nil
	case lua.LTBool:
		if ret == lua.LFalse {
			return nil, fmt.Errorf("run() reported failure")
		}
		return &Result{}, nil
	case lua.LTNumber:
		if ret.(lua.LNumber) == 0 {
			return nil, fmt.Errorf("run() reported failure")
		}
		return &Result{}, nil
	case lua.LTString:
		return &Result{Outputs: map[string]any{"result": ret.String()}}, nil
	case lua.LTTable:
		out, _ := fromLua(ret).(map[string]any)
		if out == nil {
			// an array table
			out = map[string]any{"result": fromLua(ret)}
		}
		return &Result{Outputs: out}, nil
	default:
		return nil, fmt.Errorf("run() must return nothing, a boolean, a string or a table, got %s", ret.Type().String())
	}
}

var safeLibs = []struct {
	name string
	open lua.LGFunction
}{
	{lua.LoadLibName, lua.OpenPackage},
	{lua.BaseLibName, lua.OpenBase},
	{lua.TabLibName, lua.OpenTable},
	{lua.StringLibName, lua.OpenString},
	{lua.MathLibName, lua.OpenMath},
}

func openSafeLibs(lState *lua.LState) error {
	for _, lib := range safeLibs {
		err := lState.CallByParam(lua.P{
			Fn:      lState.NewFunction(lib.open),
			NRet:    0,
			Protect: true,
		}, lua.LString(lib.name))
		if err != nil {
			return fmt.Errorf("open %s library: %w", lib.name, err)
		}
	}
	// scripts must not read or run other files
	lState.SetGlobal("dofile", lua.LNil)
	lState.SetGlobal("loadfile", lua.LNil)
	return nil
}

func toLua(L *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(val)
	case string:
		return lua.LString(val)
	case int:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case float64:
		return lua.LNumber(val)
	case []any:
		tbl := L.NewTable()
		for _, item := range val {
			tbl.Append(toLua(L, item))
		}
		return tbl
	case []string:
		tbl := L.NewTable()
		for _, item := range val {
			tbl.Append(lua.LString(item))
		}
		return tbl
	case map[string]any:
		tbl := L.NewTable()
		for k, item := range val {
			L.SetField(tbl, k, toLua(L, item))
		}
		return tbl
	default:
		return lua.LString(fmt.Sprint(val))
	}
}

// fromLua converts tables with only consecutive integer keys to []any
// and other tables to map[string]any.
func fromLua(v lua.LValue) any {
	switch val := v.(type) {
	case *lua.LNilType:
		return nil
	case lua.LBool:
		return bool(val)
	case lua.LString:
		return string(val)
	case lua.LNumber:
		return float64(val)
	case *lua.LTable:
		n := val.Len()
		count := 0
		val.ForEach(func(lua.LValue, lua.LValue) { count++ })
		if n > 0 && n == count {
			arr := make([]any, 0, n)
			for i := 1; i <= n; i++ {
				arr = append(arr, fromLua(val.RawGetInt(i)))
			}
			return arr
		}
		m := make(map[string]any, count)
		val.ForEach(func(k, item lua.LValue) {
			m[k.String()] = fromLua(item)
		})
		return m
	default:
		return val.String()
	}
}

// zupportModuleLoader exposes file name parsing and logging to scripts.
func zupportModuleLoader(logger *slog.Logger) lua.LGFunction {
	return func(lState *lua.LState) int {
		mod := lState.NewTable()
		lState.SetField(mod, "parse_name", lState.NewFunction(func(ls *lua.LState) int {
			name := ls.CheckString(1)
			template := ls.CheckString(2)
			p, err := fileio.NewParsedFileName(name, template)
			if err != nil {
				ls.Push(lua.LNil)
				ls.Push(lua.LString(err.Error()))
				return 2
			}
			ls.Push(toLua(ls, p.Tags()))
			return 1
		}))
		lState.SetField(mod, "glob", lState.NewFunction(func(ls *lua.LState) int {
			dir := ls.CheckString(1)
			wildcard := ls.OptString(2, "*")
			files, err := filepath.Glob(filepath.Join(dir, wildcard))
			if err != nil {
				ls.Push(lua.LNil)
				ls.Push(lua.LString(err.Error()))
				return 2
			}
			sort.Strings(files)
			ls.Push(toLua(ls, files))
			return 1
		}))
		lState.SetField(mod, "log", lState.NewFunction(func(ls *lua.LState) int {
			msg := ls.CheckString(1)
			switch ls.OptString(2, "info") {
			case "debug":
				logger.Debug(msg)
			case "warning", "warn":
				logger.Warn(msg)
			case "error":
				logger.Error(msg)
			default:
				logger.Info(msg)
			}
			return 0
		}))
		lState.Push(mod)
		return 1
	}
}

// osModuleLoader provides a minimal os module: getenv and time.
func osModuleLoader(lState *lua.LState) int {
	mod := lState.NewTable()
	lState.SetField(mod, "getenv", lState.NewFunction(func(ls *lua.LState) int {
		key := ls.CheckString(1)
		val := os.Getenv(key)
		ls.Push(lua.LString(val))
		return 1
	}))
	lState.SetField(mod, "time", lState.NewFunction(func(ls *lua.LState) int {
		ls.Push(lua.LNumber(time.Now().Unix()))
		return 1
	}))
	lState.Push(mod)
	return 1
}
