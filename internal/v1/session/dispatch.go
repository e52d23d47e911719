package session

import (
	"context"

	"github.com/yummyio/yummy/internal/v1/authservice"
	"github.com/yummyio/yummy/internal/v1/model"
	"github.com/yummyio/yummy/internal/v1/plugin"
	"github.com/yummyio/yummy/internal/v1/roomservice"
	"github.com/yummyio/yummy/internal/v1/statestore"
	"github.com/yummyio/yummy/internal/v1/userservice"
)

// dispatch routes one decoded envelope to the matching domain service call,
// per spec.md §6's request catalog. The returned map becomes the success
// reply's payload fields.
func (co *Coordinator) dispatch(ctx context.Context, wc *connection, typ string, m plugin.Model) (map[string]any, error) {
	switch typ {
	case "EmailAuth":
		email, _ := getString(m, "email")
		password, _ := getString(m, "password")
		result, err := co.auth.EmailAuth(ctx, email, password, getBool(m, "if_not_exist_create"))
		if err != nil {
			return nil, err
		}
		co.registerSession(wc, result.UserID, result.SessionID)
		return authResultFields(result), nil

	case "DeviceIdAuth":
		id, _ := getString(m, "id")
		result, err := co.auth.DeviceIdAuth(ctx, id)
		if err != nil {
			return nil, err
		}
		co.registerSession(wc, result.UserID, result.SessionID)
		return authResultFields(result), nil

	case "CustomIdAuth":
		id, _ := getString(m, "id")
		result, err := co.auth.CustomIdAuth(ctx, id)
		if err != nil {
			return nil, err
		}
		co.registerSession(wc, result.UserID, result.SessionID)
		return authResultFields(result), nil

	case "RefreshToken":
		token, _ := getString(m, "token")
		newToken, err := co.auth.RefreshToken(ctx, token)
		if err != nil {
			return nil, err
		}
		return map[string]any{"token": newToken}, nil

	case "RestoreToken":
		token, _ := getString(m, "token")
		result, err := co.auth.RestoreToken(ctx, token)
		if err != nil {
			return nil, err
		}
		co.registerSession(wc, result.UserID, result.SessionID)
		return authResultFields(result), nil

	case "Logout":
		userID, session, bound := wc.identity()
		if !bound {
			return nil, model.ErrTokenNotValid
		}
		if err := co.auth.Logout(ctx, userID, session); err != nil {
			return nil, err
		}
		return nil, nil

	case "Me":
		actorID, _, bound := wc.identity()
		if !bound {
			return nil, model.ErrTokenNotValid
		}
		info, err := co.users.Me(ctx, actorID)
		if err != nil {
			return nil, err
		}
		return userInfoFields(info), nil

	case "GetUser":
		actorID, _, bound := wc.identity()
		if !bound {
			return nil, model.ErrTokenNotValid
		}
		target, _ := getString(m, "user_id")
		actorType, err := co.store.GetUserType(ctx, actorID)
		if err != nil {
			return nil, model.ErrCacheCouldNotRead
		}
		info, err := co.users.User(ctx, model.UserID(target), actorID, actorType)
		if err != nil {
			return nil, err
		}
		return userInfoFields(info), nil

	case "UpdateUser":
		actorID, _, bound := wc.identity()
		if !bound {
			return nil, model.ErrTokenNotValid
		}
		actorType, err := co.store.GetUserType(ctx, actorID)
		if err != nil {
			return nil, model.ErrCacheCouldNotRead
		}
		target := actorID
		if t, ok := getString(m, "user_id"); ok && t != "" {
			target = model.UserID(t)
		}
		info, err := co.users.UpdateUser(ctx, actorID, actorType, target, updateUserRequest(m))
		if err != nil {
			return nil, err
		}
		return userInfoFields(info), nil

	case "CreateRoom":
		actorID, _, bound := wc.identity()
		if !bound {
			return nil, model.ErrTokenNotValid
		}
		actorType, err := co.store.GetUserType(ctx, actorID)
		if err != nil {
			return nil, model.ErrCacheCouldNotRead
		}
		roomID, err := co.rooms.CreateRoom(ctx, actorID, actorType, createRoomRequest(m))
		if err != nil {
			return nil, err
		}
		return map[string]any{"room_id": roomID}, nil

	case "JoinToRoom":
		actorID, session, bound := wc.identity()
		if !bound {
			return nil, model.ErrTokenNotValid
		}
		room, _ := getString(m, "room")
		requestedType := model.RoomUserTypeUser
		if rt, ok := getInt(m, "room_user_type"); ok {
			requestedType = model.RoomUserType(rt)
		}
		result, err := co.rooms.JoinToRoom(ctx, model.RoomID(room), actorID, session, requestedType)
		if err != nil {
			return nil, err
		}
		return map[string]any{"requested": result.Requested}, nil

	case "DisconnectFromRoom":
		actorID, session, bound := wc.identity()
		if !bound {
			return nil, model.ErrTokenNotValid
		}
		room, _ := getString(m, "room")
		if err := co.rooms.DisconnectFromRoomRequest(ctx, model.RoomID(room), actorID, session); err != nil {
			return nil, err
		}
		return nil, nil

	case "UpdateRoom":
		actorID, session, bound := wc.identity()
		if !bound {
			return nil, model.ErrTokenNotValid
		}
		actorType, err := co.store.GetUserType(ctx, actorID)
		if err != nil {
			return nil, model.ErrCacheCouldNotRead
		}
		room, _ := getString(m, "room")
		if err := co.rooms.UpdateRoom(ctx, model.RoomID(room), actorID, actorType, session, updateRoomRequest(m)); err != nil {
			return nil, err
		}
		return nil, nil

	case "Kick", "KickUserFromRoom":
		actorID, session, bound := wc.identity()
		if !bound {
			return nil, model.ErrTokenNotValid
		}
		room, _ := getString(m, "room")
		target, _ := getString(m, "user_id")
		if err := co.rooms.KickUserFromRoom(ctx, model.RoomID(room), actorID, session, model.UserID(target), getBool(m, "ban")); err != nil {
			return nil, err
		}
		return nil, nil

	case "ProcessWaitingUser":
		actorID, session, bound := wc.identity()
		if !bound {
			return nil, model.ErrTokenNotValid
		}
		room, _ := getString(m, "room")
		target, _ := getString(m, "user_id")
		status := getBool(m, "status")
		if err := co.rooms.ProcessWaitingUser(ctx, model.RoomID(room), actorID, session, model.UserID(target), status); err != nil {
			return nil, err
		}
		return nil, nil

	case "WaitingRoomJoins":
		_, session, bound := wc.identity()
		if !bound {
			return nil, model.ErrTokenNotValid
		}
		room, _ := getString(m, "room")
		waiting, err := co.rooms.WaitingRoomJoins(ctx, model.RoomID(room), session)
		if err != nil {
			return nil, err
		}
		out := make(map[string]any, len(waiting))
		for user, rt := range waiting {
			out[string(user)] = int(rt)
		}
		return map[string]any{"waiting": out}, nil

	case "MessageToRoom":
		actorID, session, bound := wc.identity()
		if !bound {
			return nil, model.ErrTokenNotValid
		}
		room, _ := getString(m, "room")
		if err := co.rooms.MessageToRoom(ctx, model.RoomID(room), actorID, session, m["message"]); err != nil {
			return nil, err
		}
		return nil, nil

	case "Play":
		actorID, session, bound := wc.identity()
		if !bound {
			return nil, model.ErrTokenNotValid
		}
		room, _ := getString(m, "room")
		if err := co.rooms.Play(ctx, model.RoomID(room), actorID, session, m["message"]); err != nil {
			return nil, err
		}
		return nil, nil

	case "RoomListRequest":
		access := model.RoomAccessAnonymous
		if _, _, bound := wc.identity(); bound {
			access = model.RoomAccessUser
		}
		tag := getStringPtr(m, "tag")
		fields := roomFields(m)
		rooms, err := co.rooms.RoomListRequest(ctx, tag, access, fields)
		if err != nil {
			return nil, err
		}
		return map[string]any{"rooms": encodeRoomInfos(rooms)}, nil

	case "GetRoomRequest":
		access := model.RoomAccessAnonymous
		actorID, session, bound := wc.identity()
		if bound {
			access = model.RoomAccessUser
		}
		room, _ := getString(m, "room")
		if bound {
			if rt, err := co.roomAccessFor(ctx, model.RoomID(room), actorID, session); err == nil {
				access = rt
			}
		}
		fields := roomFields(m)
		info, err := co.rooms.GetRoomRequest(ctx, model.RoomID(room), access, fields)
		if err != nil {
			return nil, err
		}
		return encodeRoomInfo(info), nil

	default:
		return nil, model.NewValidationError("unknown request type: " + typ)
	}
}

// roomAccessFor resolves a bound caller's effective room-meta access level
// for GetRoomRequest, per spec.md §4.F: a member sees metas up to their
// RoomUserType's rank, not just the generic "User" default.
func (co *Coordinator) roomAccessFor(ctx context.Context, room model.RoomID, userID model.UserID, session model.SessionID) (model.RoomAccess, error) {
	conns, err := co.store.GetConnections(ctx, room)
	if err != nil {
		return model.RoomAccessUser, err
	}
	info, ok := conns[session]
	if !ok {
		return model.RoomAccessUser, nil
	}
	return model.EffectiveRoomAccess(info.RoomUserType), nil
}

func authResultFields(r *authservice.Result) map[string]any {
	return map[string]any{
		"token": r.Token, "user_id": r.UserID, "session_id": r.SessionID,
		"name": r.Name, "email": r.Email,
	}
}

func updateUserRequest(m plugin.Model) userservice.UpdateRequest {
	return userservice.UpdateRequest{
		Name:       getStringPtr(m, "name"),
		Email:      getStringPtr(m, "email"),
		Password:   getStringPtr(m, "password"),
		DeviceID:   getStringPtr(m, "device_id"),
		CustomID:   getStringPtr(m, "custom_id"),
		UserType:   userTypePtr(m),
		Metas:      parseMetaMap[model.UserAccess](m["metas"]),
		MetaAction: parseMetaAction(m),
	}
}

func userTypePtr(m plugin.Model) *model.UserType {
	if i, ok := getInt(m, "user_type"); ok {
		t := model.UserType(i)
		return &t
	}
	return nil
}

func userInfoFields(info *userservice.Info) map[string]any {
	out := map[string]any{
		"user_id": info.UserID, "user_type": int(info.Type), "metas": encodeMetaMap(info.Metas),
	}
	if info.Name != nil {
		out["name"] = *info.Name
	}
	if info.Email != nil {
		out["email"] = *info.Email
	}
	return out
}

func createRoomRequest(m plugin.Model) roomservice.CreateRoomRequest {
	req := roomservice.CreateRoomRequest{
		Name:                getStringPtr(m, "name"),
		Description:         getStringPtr(m, "description"),
		MaxUser:             0,
		Tags:                getStringSlice(m, "tags"),
		Metas:               parseMetaMap[model.RoomAccess](m["metas"]),
		JoinRequestRequired: getBool(m, "join_request_required"),
	}
	if at, ok := getInt(m, "access_type"); ok {
		req.AccessType = model.RoomAccessType(at)
	}
	if mu, ok := getInt(m, "max_user"); ok {
		req.MaxUser = mu
	}
	return req
}

func updateRoomRequest(m plugin.Model) roomservice.UpdateRoomRequest {
	req := roomservice.UpdateRoomRequest{
		Name:                getStringPtr(m, "name"),
		Description:         getStringPtr(m, "description"),
		MaxUser:             getIntPtr(m, "max_user"),
		Tags:                getStringSlice(m, "tags"),
		Metas:               parseMetaMap[model.RoomAccess](m["metas"]),
		MetaAction:          parseMetaAction(m),
		JoinRequestRequired: getBoolPtr(m, "join_request_required"),
	}
	if at, ok := getInt(m, "access_type"); ok {
		t := model.RoomAccessType(at)
		req.AccessType = &t
	}
	if perms, ok := m["user_permission"].(map[string]any); ok {
		req.UserPermission = make(map[model.UserID]model.RoomUserType, len(perms))
		for user, v := range perms {
			if f, ok := v.(float64); ok {
				req.UserPermission[model.UserID(user)] = model.RoomUserType(int(f))
			}
		}
	}
	return req
}

func roomFields(m plugin.Model) []statestore.RoomField {
	names := getStringSlice(m, "members")
	if len(names) == 0 {
		return nil
	}
	out := make([]statestore.RoomField, 0, len(names))
	for _, n := range names {
		out = append(out, statestore.RoomField(n))
	}
	return out
}

func encodeRoomInfo(info *statestore.RoomInfo) map[string]any {
	out := map[string]any{"room_id": info.RoomID}
	if info.Name != nil {
		out["name"] = *info.Name
	}
	if info.Description != nil {
		out["description"] = *info.Description
	}
	if info.AccessType != nil {
		out["access_type"] = int(*info.AccessType)
	}
	if info.MaxUser != nil {
		out["max_user"] = *info.MaxUser
	}
	if info.Tags != nil {
		out["tags"] = info.Tags
	}
	if info.InsertDate != nil {
		out["insert_date"] = *info.InsertDate
	}
	if info.JoinRequestRequired != nil {
		out["join_request_required"] = *info.JoinRequestRequired
	}
	if info.ConnectionCount != nil {
		out["connection_count"] = *info.ConnectionCount
	}
	if info.Metas != nil {
		out["metas"] = encodeMetaMap(info.Metas)
	}
	return out
}

func encodeRoomInfos(rooms []statestore.RoomInfo) []map[string]any {
	out := make([]map[string]any, len(rooms))
	for i := range rooms {
		out[i] = encodeRoomInfo(&rooms[i])
	}
	return out
}
