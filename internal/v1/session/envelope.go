package session

import "github.com/yummyio/yummy/internal/v1/model"

// getString/getBool/getFloat/getStringSlice pull typed fields out of a
// decoded JSON object (plugin.Model is a map[string]any), mirroring how a
// dynamically-typed wire envelope is read in every example that decodes
// into map[string]any before dispatch.
func getString(m map[string]any, key string) (string, bool) {
	v, ok := m[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func getStringPtr(m map[string]any, key string) *string {
	if s, ok := getString(m, key); ok {
		return &s
	}
	return nil
}

func getBool(m map[string]any, key string) bool {
	b, _ := m[key].(bool)
	return b
}

func getBoolPtr(m map[string]any, key string) *bool {
	v, ok := m[key]
	if !ok {
		return nil
	}
	b, ok := v.(bool)
	if !ok {
		return nil
	}
	return &b
}

func getFloat(m map[string]any, key string) (float64, bool) {
	v, ok := m[key]
	if !ok {
		return 0, false
	}
	f, ok := v.(float64)
	return f, ok
}

func getInt(m map[string]any, key string) (int, bool) {
	f, ok := getFloat(m, key)
	return int(f), ok
}

func getIntPtr(m map[string]any, key string) *int {
	if i, ok := getInt(m, key); ok {
		return &i
	}
	return nil
}

func getStringSlice(m map[string]any, key string) []string {
	raw, ok := m[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// parseMetaMap decodes a `metas` field sent as {key: {"value": any,
// "access": int}} into the tagged-union map UserService/RoomService expect.
func parseMetaMap[A model.AccessRank](raw any) map[string]model.MetaValue[A] {
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]model.MetaValue[A], len(obj))
	for k, v := range obj {
		out[k] = parseMetaEntry[A](v)
	}
	return out
}

func parseMetaEntry[A model.AccessRank](v any) model.MetaValue[A] {
	entry, ok := v.(map[string]any)
	if !ok {
		return model.NullMeta[A](0)
	}
	access := A(0)
	if f, ok := entry["access"].(float64); ok {
		access = A(int(f))
	}
	switch val := entry["value"].(type) {
	case float64:
		return model.NumberMeta[A](val, access)
	case string:
		return model.StringMeta[A](val, access)
	case bool:
		return model.BoolMeta[A](val, access)
	default:
		return model.NullMeta[A](access)
	}
}

func parseMetaAction(m map[string]any) model.MetaActionKind {
	s, _ := getString(m, "meta_action")
	switch s {
	case "RemoveUnusedMetas":
		return model.MetaActionRemoveUnusedMetas
	case "RemoveAllMetas":
		return model.MetaActionRemoveAllMetas
	default:
		return model.MetaActionOnlyAddOrUpdate
	}
}

// encodeMeta renders a meta's tagged union back onto the wire as
// {"value": ..., "access": N}, the mirror of parseMetaEntry.
func encodeMeta[A model.AccessRank](v model.MetaValue[A]) map[string]any {
	return map[string]any{"value": v.Value(), "access": int(v.Access)}
}

func encodeMetaMap[A model.AccessRank](metas map[string]model.MetaValue[A]) map[string]any {
	out := make(map[string]any, len(metas))
	for k, v := range metas {
		out[k] = encodeMeta(v)
	}
	return out
}
