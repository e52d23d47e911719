// Package plugin implements spec.md §4.G's PluginHook: pre/post
// interception for every public operation, able to mutate the request
// model or reject it with a validation error.
//
// original_source/manager/src/plugin/lua shows the original shipped a Lua
// plugin runtime binding meta constructors into the VM's globals
// (buildin.rs); this module reimplements that contract with
// yuin/gopher-lua, the idiomatic embeddable Lua VM for Go.
package plugin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	lua "github.com/yuin/gopher-lua"
	"github.com/yummyio/yummy/internal/v1/logging"
	"github.com/yummyio/yummy/internal/v1/metrics"
	"github.com/yummyio/yummy/internal/v1/model"
	"go.uber.org/zap"
)

// Context is the narrow state surface a plugin may touch, per spec.md
// §4.G: "Plugins cannot access other sessions' sockets directly; they
// interact with state through a narrow context".
type Context interface {
	GetUserMeta(ctx context.Context, user model.UserID, key string) (model.UserMeta, bool, error)
	SetUserMeta(ctx context.Context, user model.UserID, key string, value model.UserMeta) error
	GetUserMetas(ctx context.Context, user model.UserID) (map[string]model.UserMeta, error)
	RemoveUserMeta(ctx context.Context, user model.UserID, key string) error
	RemoveUserMetas(ctx context.Context, user model.UserID) error
}

// Model is the mutable request/response payload a hook script can read
// and rewrite, exposed as field-level get/set rather than raw struct
// access so the plugin ABI stays decoupled from Go's in-memory layout
// (spec.md §9).
type Model map[string]any

func (m Model) Get(key string) any    { return m[key] }
func (m Model) Set(key string, v any) { m[key] = v }

// Host runs the pre_<op>/post_<op> Lua hooks for every registered script,
// in registration order, per spec.md §4.G.
type Host struct {
	mu      sync.Mutex
	scripts []string // absolute paths to .lua files, registration order
	ctx     Context
}

// NewHost loads every ".lua" file directly under dir (non-recursive) as a
// plugin, sorted by filename for a deterministic registration order. An
// empty dir disables plugins entirely (Host.PreHook/PostHook become no-ops).
func NewHost(dir string, pluginCtx Context) (*Host, error) {
	h := &Host{ctx: pluginCtx}
	if dir == "" {
		return h, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("plugin: cannot read script dir %q: %w", dir, err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".lua") {
			continue
		}
		h.scripts = append(h.scripts, filepath.Join(dir, e.Name()))
	}
	return h, nil
}

// PreHook runs pre_<op>(model) for every registered script. A plugin may
// mutate model's fields in place; returning false (optionally followed by
// a message string) from the Lua function rejects the operation with a
// ValidationError carrying that message (spec.md §4.G/§7).
func (h *Host) PreHook(ctx context.Context, op string, m Model) error {
	return h.run(ctx, "pre_"+op, op, m, nil)
}

// PostHook runs post_<op>(model, success) for every registered script.
// Post hooks observe the outcome but their rejection is still surfaced as
// a validation error to the caller, per spec.md §4.G's symmetric contract.
func (h *Host) PostHook(ctx context.Context, op string, m Model, success bool) error {
	return h.run(ctx, "post_"+op, op, m, &success)
}

func (h *Host) run(ctx context.Context, fnName, op string, m Model, success *bool) error {
	if h == nil || len(h.scripts) == 0 {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, path := range h.scripts {
		if err := h.runScript(ctx, path, fnName, op, m, success); err != nil {
			return err
		}
	}
	return nil
}

func (h *Host) runScript(ctx context.Context, path, fnName, op string, m Model, success *bool) error {
	L := lua.NewState()
	defer L.Close()

	bindContext(L, ctx, h.ctx)

	if err := L.DoFile(path); err != nil {
		logging.Error(ctx, "plugin script failed to load", zap.String("path", path), zap.Error(err))
		return model.NewInternalError(err.Error())
	}

	fn := L.GetGlobal(fnName)
	if fn.Type() != lua.LTFunction {
		return nil // script doesn't implement this hook
	}

	table := modelToLua(L, m)
	args := []lua.LValue{table}
	if success != nil {
		args = append(args, lua.LBool(*success))
	}

	if err := L.CallByParam(lua.P{Fn: fn, NRet: 2, Protect: true}, args...); err != nil {
		logging.Error(ctx, "plugin hook errored", zap.String("fn", fnName), zap.Error(err))
		return model.NewInternalError(err.Error())
	}

	ret1 := L.Get(-2)
	ret2 := L.Get(-1)
	L.Pop(2)

	// A script returning `false, "message"` rejects the operation.
	if b, ok := ret1.(lua.LBool); ok && !bool(b) {
		reason := ""
		if s, ok := ret2.(lua.LString); ok {
			reason = string(s)
		}
		metrics.PluginRejections.WithLabelValues(fnName).Inc()
		return model.NewValidationError(reason)
	}

	luaToModel(table, m)
	return nil
}

func modelToLua(L *lua.LState, m Model) *lua.LTable {
	t := L.NewTable()
	for k, v := range m {
		t.RawSetString(k, goToLua(L, v))
	}
	return t
}

func luaToModel(t *lua.LTable, m Model) {
	t.ForEach(func(k, v lua.LValue) {
		key, ok := k.(lua.LString)
		if !ok {
			return
		}
		m[string(key)] = luaToGo(v)
	})
}

func goToLua(L *lua.LState, v any) lua.LValue {
	switch t := v.(type) {
	case nil:
		return lua.LNil
	case string:
		return lua.LString(t)
	case bool:
		return lua.LBool(t)
	case int:
		return lua.LNumber(t)
	case int64:
		return lua.LNumber(t)
	case float64:
		return lua.LNumber(t)
	case []string:
		arr := L.NewTable()
		for i, s := range t {
			arr.RawSetInt(i+1, lua.LString(s))
		}
		return arr
	default:
		return lua.LString(fmt.Sprintf("%v", t))
	}
}

func luaValueToMeta(v lua.LValue, access model.UserAccess) model.UserMeta {
	switch t := v.(type) {
	case lua.LNumber:
		return model.NumberMeta(float64(t), access)
	case lua.LString:
		return model.StringMeta(string(t), access)
	case lua.LBool:
		return model.BoolMeta(bool(t), access)
	default:
		return model.NullMeta(access)
	}
}

func luaToGo(v lua.LValue) any {
	switch t := v.(type) {
	case lua.LString:
		return string(t)
	case lua.LNumber:
		return float64(t)
	case lua.LBool:
		return bool(t)
	case *lua.LNilType:
		return nil
	default:
		return v.String()
	}
}

// bindContext exposes get_user_meta/set_user_meta/get_user_metas/
// remove_user_meta/remove_user_metas as Lua globals backed by pluginCtx,
// the narrow state surface spec.md §4.G describes.
func bindContext(L *lua.LState, ctx context.Context, pluginCtx Context) {
	if pluginCtx == nil {
		return
	}
	L.SetGlobal("get_user_meta", L.NewFunction(func(L *lua.LState) int {
		user := model.UserID(L.CheckString(1))
		key := L.CheckString(2)
		v, ok, err := pluginCtx.GetUserMeta(ctx, user, key)
		if err != nil || !ok {
			L.Push(lua.LNil)
			return 1
		}
		L.Push(goToLua(L, v.Value()))
		return 1
	}))
	L.SetGlobal("set_user_meta", L.NewFunction(func(L *lua.LState) int {
		user := model.UserID(L.CheckString(1))
		key := L.CheckString(2)
		val := L.CheckAny(3)
		access := model.UserAccess(L.OptInt(4, int(model.UserAccessUser)))
		_ = pluginCtx.SetUserMeta(ctx, user, key, luaValueToMeta(val, access))
		return 0
	}))
	L.SetGlobal("get_user_metas", L.NewFunction(func(L *lua.LState) int {
		user := model.UserID(L.CheckString(1))
		metas, err := pluginCtx.GetUserMetas(ctx, user)
		if err != nil {
			L.Push(lua.LNil)
			return 1
		}
		t := L.NewTable()
		for k, v := range metas {
			t.RawSetString(k, goToLua(L, v.Value()))
		}
		L.Push(t)
		return 1
	}))
	L.SetGlobal("remove_user_meta", L.NewFunction(func(L *lua.LState) int {
		user := model.UserID(L.CheckString(1))
		key := L.CheckString(2)
		_ = pluginCtx.RemoveUserMeta(ctx, user, key)
		return 0
	}))
	L.SetGlobal("remove_user_metas", L.NewFunction(func(L *lua.LState) int {
		user := model.UserID(L.CheckString(1))
		_ = pluginCtx.RemoveUserMetas(ctx, user)
		return 0
	}))
}
