package session

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/yummyio/yummy/internal/v1/model"
)

func TestGetString(t *testing.T) {
	m := map[string]any{"name": "alice", "count": 3}
	s, ok := getString(m, "name")
	assert.True(t, ok)
	assert.Equal(t, "alice", s)

	_, ok = getString(m, "count")
	assert.False(t, ok, "a non-string value must not coerce")

	_, ok = getString(m, "missing")
	assert.False(t, ok)
}

func TestGetStringPtr(t *testing.T) {
	m := map[string]any{"name": "bob"}
	assert.Equal(t, "bob", *getStringPtr(m, "name"))
	assert.Nil(t, getStringPtr(m, "missing"))
}

func TestGetBool(t *testing.T) {
	m := map[string]any{"flag": true}
	assert.True(t, getBool(m, "flag"))
	assert.False(t, getBool(m, "missing"))
}

func TestGetBoolPtr(t *testing.T) {
	m := map[string]any{"flag": false}
	ptr := getBoolPtr(m, "flag")
	assert.NotNil(t, ptr)
	assert.False(t, *ptr)
	assert.Nil(t, getBoolPtr(m, "missing"))
}

func TestGetFloatAndInt(t *testing.T) {
	m := map[string]any{"max": float64(10)}
	f, ok := getFloat(m, "max")
	assert.True(t, ok)
	assert.Equal(t, 10.0, f)

	i, ok := getInt(m, "max")
	assert.True(t, ok)
	assert.Equal(t, 10, i)

	assert.Equal(t, 10, *getIntPtr(m, "max"))
	assert.Nil(t, getIntPtr(m, "missing"))
}

func TestGetStringSlice(t *testing.T) {
	m := map[string]any{"tags": []any{"a", "b", 3}}
	tags := getStringSlice(m, "tags")
	assert.Equal(t, []string{"a", "b"}, tags, "non-string entries must be dropped, not zero-valued")

	assert.Nil(t, getStringSlice(m, "missing"))
}

func TestParseMetaMap(t *testing.T) {
	raw := map[string]any{
		"nickname": map[string]any{"value": "Bobby", "access": float64(1)},
		"score":    map[string]any{"value": float64(42), "access": float64(2)},
		"active":   map[string]any{"value": true, "access": float64(0)},
		"cleared":  map[string]any{"access": float64(0)},
	}
	metas := parseMetaMap[model.UserAccess](raw)

	assert.Equal(t, "Bobby", metas["nickname"].Value())
	assert.Equal(t, model.UserAccess(1), metas["nickname"].Access)
	assert.Equal(t, 42.0, metas["score"].Value())
	assert.Equal(t, true, metas["active"].Value())
	assert.True(t, metas["cleared"].IsNull())
}

func TestParseMetaMap_NotAnObject(t *testing.T) {
	assert.Nil(t, parseMetaMap[model.UserAccess]("not-a-map"))
}

func TestParseMetaAction(t *testing.T) {
	assert.Equal(t, model.MetaActionRemoveUnusedMetas, parseMetaAction(map[string]any{"meta_action": "RemoveUnusedMetas"}))
	assert.Equal(t, model.MetaActionRemoveAllMetas, parseMetaAction(map[string]any{"meta_action": "RemoveAllMetas"}))
	assert.Equal(t, model.MetaActionOnlyAddOrUpdate, parseMetaAction(map[string]any{}))
	assert.Equal(t, model.MetaActionOnlyAddOrUpdate, parseMetaAction(map[string]any{"meta_action": "garbage"}))
}

func TestEncodeMetaRoundTrip(t *testing.T) {
	original := model.StringMeta[model.UserAccess]("hi", model.UserAccessUser)
	encoded := encodeMeta(original)
	assert.Equal(t, "hi", encoded["value"])
	assert.Equal(t, int(model.UserAccessUser), encoded["access"])

	metas := map[string]model.MetaValue[model.UserAccess]{"greeting": original}
	out := encodeMetaMap(metas)
	assert.Equal(t, "hi", out["greeting"].(map[string]any)["value"])
}
