package plugin

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yummyio/yummy/internal/v1/model"
)

// fakeContext is an in-memory stand-in for plugin.Context.
type fakeContext struct {
	metas map[model.UserID]map[string]model.UserMeta
}

func newFakeContext() *fakeContext {
	return &fakeContext{metas: make(map[model.UserID]map[string]model.UserMeta)}
}

func (f *fakeContext) GetUserMeta(_ context.Context, user model.UserID, key string) (model.UserMeta, bool, error) {
	v, ok := f.metas[user][key]
	return v, ok, nil
}

func (f *fakeContext) SetUserMeta(_ context.Context, user model.UserID, key string, value model.UserMeta) error {
	if f.metas[user] == nil {
		f.metas[user] = make(map[string]model.UserMeta)
	}
	f.metas[user][key] = value
	return nil
}

func (f *fakeContext) GetUserMetas(_ context.Context, user model.UserID) (map[string]model.UserMeta, error) {
	return f.metas[user], nil
}

func (f *fakeContext) RemoveUserMeta(_ context.Context, user model.UserID, key string) error {
	delete(f.metas[user], key)
	return nil
}

func (f *fakeContext) RemoveUserMetas(_ context.Context, user model.UserID) error {
	delete(f.metas, user)
	return nil
}

func writeScript(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestNewHost_EmptyDirDisablesPlugins(t *testing.T) {
	h, err := NewHost("", newFakeContext())
	require.NoError(t, err)

	m := Model{"x": 1}
	assert.NoError(t, h.PreHook(context.Background(), "join_to_room", m))
	assert.NoError(t, h.PostHook(context.Background(), "join_to_room", m, true))
}

func TestPreHook_MutatesModel(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "mutate.lua", `
function pre_join_to_room(model)
  model.greeting = "hello"
  return true
end
`)
	h, err := NewHost(dir, newFakeContext())
	require.NoError(t, err)

	m := Model{}
	require.NoError(t, h.PreHook(context.Background(), "join_to_room", m))
	assert.Equal(t, "hello", m.Get("greeting"))
}

func TestPreHook_RejectsOperation(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "reject.lua", `
function pre_join_to_room(model)
  return false, "room is full"
end
`)
	h, err := NewHost(dir, newFakeContext())
	require.NoError(t, err)

	err = h.PreHook(context.Background(), "join_to_room", Model{})
	require.Error(t, err)
	var verr *model.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "room is full", verr.Message)
}

func TestPreHook_MissingFunctionIsNoop(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "other.lua", `
function pre_update_room(model)
  return true
end
`)
	h, err := NewHost(dir, newFakeContext())
	require.NoError(t, err)

	assert.NoError(t, h.PreHook(context.Background(), "join_to_room", Model{}))
}

func TestPostHook_ReceivesSuccessFlag(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "post.lua", `
function post_join_to_room(model, success)
  model.was_success = success
  return true
end
`)
	h, err := NewHost(dir, newFakeContext())
	require.NoError(t, err)

	m := Model{}
	require.NoError(t, h.PostHook(context.Background(), "join_to_room", m, true))
	assert.Equal(t, true, m.Get("was_success"))
}

func TestBindContext_SetAndGetUserMeta(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "meta.lua", `
function pre_join_to_room(model)
  set_user_meta("user-1", "score", 42)
  model.score = get_user_meta("user-1", "score")
  return true
end
`)
	fctx := newFakeContext()
	h, err := NewHost(dir, fctx)
	require.NoError(t, err)

	m := Model{}
	require.NoError(t, h.PreHook(context.Background(), "join_to_room", m))
	assert.Equal(t, float64(42), m.Get("score"))

	v, ok, err := fctx.GetUserMeta(context.Background(), "user-1", "score")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 42.0, v.Value())
}

func TestScriptsRunInRegistrationOrder(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "a_first.lua", `
function pre_join_to_room(model)
  model.order = (model.order or "") .. "a"
  return true
end
`)
	writeScript(t, dir, "b_second.lua", `
function pre_join_to_room(model)
  model.order = (model.order or "") .. "b"
  return true
end
`)
	h, err := NewHost(dir, newFakeContext())
	require.NoError(t, err)

	m := Model{}
	require.NoError(t, h.PreHook(context.Background(), "join_to_room", m))
	assert.Equal(t, "ab", m.Get("order"))
}
