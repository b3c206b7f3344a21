package transform

import (
	"fmt"
	"sync/atomic"

	lua "github.com/yuin/gopher-lua"
)

// budgetKey carries the per-execution operation budget through the VM's
// context so builtins and conversions can debit it.
type budgetKey struct{}

// budget is the in-engine operation counter. Every host-boundary
// operation (builtin call, conversion step) debits one unit; exhaustion
// aborts the script.
type budget struct {
	remaining atomic.Int64
	tripped   atomic.Bool
}

func newBudget(max int64) *budget {
	b := &budget{}
	b.remaining.Store(max)
	return b
}

// spend debits n units and reports whether the budget still holds.
func (b *budget) spend(n int64) bool {
	if b.remaining.Add(-n) < 0 {
		b.tripped.Store(true)
		return false
	}
	return true
}

func (b *budget) exhausted() bool {
	return b.tripped.Load()
}

// budgetOf extracts the execution budget from a VM, if any.
func budgetOf(L *lua.LState) *budget {
	ctx := L.Context()
	if ctx == nil {
		return nil
	}
	if b, ok := ctx.Value(budgetKey{}).(*budget); ok {
		return b
	}
	return nil
}

// debit charges the running script one operation; it raises a Lua error
// when the budget is gone.
func debit(L *lua.LState) {
	if b := budgetOf(L); b != nil && !b.spend(1) {
		L.RaiseError("operation limit exceeded")
	}
}

// toLua converts a JSON-equivalent Go value into a Lua value, enforcing
// the depth, string and collection ceilings as it goes.
func toLua(L *lua.LState, v interface{}, limits Limits, b *budget, depth int) (lua.LValue, error) {
	if depth > limits.MaxDepth {
		return nil, fmt.Errorf("value depth exceeds %d", limits.MaxDepth)
	}
	if b != nil && !b.spend(1) {
		return nil, fmt.Errorf("operation limit exceeded")
	}

	switch t := v.(type) {
	case nil:
		return lua.LNil, nil
	case bool:
		return lua.LBool(t), nil
	case float64:
		return lua.LNumber(t), nil
	case int:
		return lua.LNumber(t), nil
	case int64:
		return lua.LNumber(t), nil
	case string:
		if len(t) > limits.MaxString {
			return nil, fmt.Errorf("string exceeds %d bytes", limits.MaxString)
		}
		return lua.LString(t), nil
	case []interface{}:
		if len(t) > limits.MaxEntries {
			return nil, fmt.Errorf("array exceeds %d entries", limits.MaxEntries)
		}
		tbl := L.NewTable()
		for _, item := range t {
			lv, err := toLua(L, item, limits, b, depth+1)
			if err != nil {
				return nil, err
			}
			tbl.Append(lv)
		}
		return tbl, nil
	case map[string]interface{}:
		if len(t) > limits.MaxEntries {
			return nil, fmt.Errorf("map exceeds %d entries", limits.MaxEntries)
		}
		tbl := L.NewTable()
		for k, val := range t {
			lv, err := toLua(L, val, limits, b, depth+1)
			if err != nil {
				return nil, err
			}
			tbl.RawSetString(k, lv)
		}
		return tbl, nil
	default:
		return nil, fmt.Errorf("unsupported value type %T", v)
	}
}

// fromLua converts a Lua value back into a JSON-equivalent Go value,
// enforcing the same ceilings on the way out.
func fromLua(v lua.LValue, limits Limits, b *budget, depth int) (interface{}, error) {
	if depth > limits.MaxDepth {
		return nil, fmt.Errorf("value depth exceeds %d", limits.MaxDepth)
	}
	if b != nil && !b.spend(1) {
		return nil, fmt.Errorf("operation limit exceeded")
	}

	switch t := v.(type) {
	case *lua.LNilType:
		return nil, nil
	case lua.LBool:
		return bool(t), nil
	case lua.LNumber:
		return float64(t), nil
	case lua.LString:
		if len(t) > limits.MaxString {
			return nil, fmt.Errorf("string exceeds %d bytes", limits.MaxString)
		}
		return string(t), nil
	case *lua.LTable:
		// Sequential integer keys from 1 make an array.
		maxn := t.MaxN()
		if maxn > 0 {
			if maxn > limits.MaxEntries {
				return nil, fmt.Errorf("array exceeds %d entries", limits.MaxEntries)
			}
			arr := make([]interface{}, 0, maxn)
			for i := 1; i <= maxn; i++ {
				item, err := fromLua(t.RawGetInt(i), limits, b, depth+1)
				if err != nil {
					return nil, err
				}
				arr = append(arr, item)
			}
			return arr, nil
		}

		obj := make(map[string]interface{})
		var convErr error
		t.ForEach(func(k, val lua.LValue) {
			if convErr != nil {
				return
			}
			ks, ok := k.(lua.LString)
			if !ok {
				return
			}
			if len(obj) >= limits.MaxEntries {
				convErr = fmt.Errorf("map exceeds %d entries", limits.MaxEntries)
				return
			}
			item, err := fromLua(val, limits, b, depth+1)
			if err != nil {
				convErr = err
				return
			}
			obj[string(ks)] = item
		})
		if convErr != nil {
			return nil, convErr
		}
		return obj, nil
	default:
		return v.String(), nil
	}
}
