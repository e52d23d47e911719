package statestore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yummyio/yummy/internal/v1/model"
)

func newTestReplicated(t *testing.T) (*Replicated, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)

	store, err := NewReplicated(mr.Addr(), "", "yummytest")
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = store.Close()
		mr.Close()
	})
	return store, mr
}

func TestReplicated_SessionLifecycle(t *testing.T) {
	store, _ := newTestReplicated(t)
	ctx := context.Background()

	name := "alice"
	session, err := store.NewSession(ctx, "user-1", &name, model.UserTypeUser)
	require.NoError(t, err)
	assert.NotEmpty(t, session)

	online, err := store.IsUserOnline(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, online)

	sessOnline, err := store.IsSessionOnline(ctx, session)
	require.NoError(t, err)
	assert.True(t, sessOnline)

	userType, err := store.GetUserType(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, model.UserTypeUser, userType)

	removedLast, err := store.CloseSession(ctx, "user-1", session)
	require.NoError(t, err)
	assert.True(t, removedLast)

	online, err = store.IsUserOnline(ctx, "user-1")
	require.NoError(t, err)
	assert.False(t, online)
}

func TestReplicated_GetUserType_NotFound(t *testing.T) {
	store, _ := newTestReplicated(t)
	_, err := store.GetUserType(context.Background(), "ghost")
	assert.ErrorIs(t, err, model.ErrUserNotFound)
}

func TestReplicated_JoinAndDisconnect_DestroysEmptyRoom(t *testing.T) {
	store, _ := newTestReplicated(t)
	ctx := context.Background()

	require.NoError(t, store.CreateRoom(ctx, CreateRoomParams{Room: "room-1", MaxUser: 2, InsertDate: time.Now().Unix()}))

	session, err := store.NewSession(ctx, "user-1", nil, model.UserTypeUser)
	require.NoError(t, err)

	require.NoError(t, store.JoinToRoom(ctx, "room-1", "user-1", session, model.RoomUserTypeUser))

	exists, err := store.RoomExists(ctx, "room-1")
	require.NoError(t, err)
	assert.True(t, exists)

	destroyed, err := store.DisconnectFromRoom(ctx, "room-1", "user-1", session)
	require.NoError(t, err)
	assert.True(t, destroyed)

	exists, err = store.RoomExists(ctx, "room-1")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestReplicated_JoinToRoom_RespectsMaxUsers(t *testing.T) {
	store, _ := newTestReplicated(t)
	ctx := context.Background()

	require.NoError(t, store.CreateRoom(ctx, CreateRoomParams{Room: "room-1", MaxUser: 1, InsertDate: time.Now().Unix()}))

	s1, err := store.NewSession(ctx, "user-1", nil, model.UserTypeUser)
	require.NoError(t, err)
	require.NoError(t, store.JoinToRoom(ctx, "room-1", "user-1", s1, model.RoomUserTypeUser))

	s2, err := store.NewSession(ctx, "user-2", nil, model.UserTypeUser)
	require.NoError(t, err)

	err = store.JoinToRoom(ctx, "room-1", "user-2", s2, model.RoomUserTypeUser)
	assert.ErrorIs(t, err, model.ErrRoomHasMaxUsers)
}

func TestReplicated_JoinToRoom_AlreadyInRoom(t *testing.T) {
	store, _ := newTestReplicated(t)
	ctx := context.Background()

	require.NoError(t, store.CreateRoom(ctx, CreateRoomParams{Room: "room-1", InsertDate: time.Now().Unix()}))
	session, err := store.NewSession(ctx, "user-1", nil, model.UserTypeUser)
	require.NoError(t, err)
	require.NoError(t, store.JoinToRoom(ctx, "room-1", "user-1", session, model.RoomUserTypeUser))

	err = store.JoinToRoom(ctx, "room-1", "user-1", session, model.RoomUserTypeUser)
	assert.ErrorIs(t, err, model.ErrUserAlreadyInRoom)
}

func TestReplicated_JoinToRoomRequest_AlreadyRequested(t *testing.T) {
	store, _ := newTestReplicated(t)
	ctx := context.Background()

	require.NoError(t, store.CreateRoom(ctx, CreateRoomParams{Room: "room-1", InsertDate: time.Now().Unix()}))
	session, err := store.NewSession(ctx, "user-1", nil, model.UserTypeUser)
	require.NoError(t, err)

	require.NoError(t, store.JoinToRoomRequest(ctx, "room-1", "user-1", session, model.RoomUserTypeUser))
	err = store.JoinToRoomRequest(ctx, "room-1", "user-1", session, model.RoomUserTypeUser)
	assert.ErrorIs(t, err, model.ErrAlreadyRequested)
}

func TestReplicated_RemoveUserFromWaitingList(t *testing.T) {
	store, _ := newTestReplicated(t)
	ctx := context.Background()

	require.NoError(t, store.CreateRoom(ctx, CreateRoomParams{Room: "room-1", InsertDate: time.Now().Unix()}))
	session, err := store.NewSession(ctx, "user-1", nil, model.UserTypeUser)
	require.NoError(t, err)
	require.NoError(t, store.JoinToRoomRequest(ctx, "room-1", "user-1", session, model.RoomUserTypeModerator))

	gotSession, gotType, err := store.RemoveUserFromWaitingList(ctx, "user-1", "room-1")
	require.NoError(t, err)
	assert.Equal(t, session, gotSession)
	assert.Equal(t, model.RoomUserTypeModerator, gotType)

	_, _, err = store.RemoveUserFromWaitingList(ctx, "user-1", "room-1")
	assert.ErrorIs(t, err, model.ErrUserNotInTheRoom)
}

func TestReplicated_BanUserFromRoom(t *testing.T) {
	store, _ := newTestReplicated(t)
	ctx := context.Background()

	banned, err := store.IsUserBannedFromRoom(ctx, "room-1", "user-1")
	require.NoError(t, err)
	assert.False(t, banned)

	require.NoError(t, store.BanUserFromRoom(ctx, "room-1", "user-1"))

	banned, err = store.IsUserBannedFromRoom(ctx, "room-1", "user-1")
	require.NoError(t, err)
	assert.True(t, banned)
}

func TestReplicated_SetUsersRoomType_DoesNotChangeConnectionCount(t *testing.T) {
	store, _ := newTestReplicated(t)
	ctx := context.Background()

	require.NoError(t, store.CreateRoom(ctx, CreateRoomParams{Room: "room-1", InsertDate: time.Now().Unix()}))
	session, err := store.NewSession(ctx, "user-1", nil, model.UserTypeUser)
	require.NoError(t, err)
	require.NoError(t, store.JoinToRoom(ctx, "room-1", "user-1", session, model.RoomUserTypeUser))

	before, err := store.GetRoomInfo(ctx, "room-1", model.RoomAccessOwner, []RoomField{RoomFieldConnectionCount})
	require.NoError(t, err)

	require.NoError(t, store.SetUsersRoomType(ctx, "user-1", "room-1", model.RoomUserTypeModerator))

	after, err := store.GetRoomInfo(ctx, "room-1", model.RoomAccessOwner, []RoomField{RoomFieldConnectionCount})
	require.NoError(t, err)
	assert.Equal(t, *before.ConnectionCount, *after.ConnectionCount)

	conns, err := store.GetConnections(ctx, "room-1")
	require.NoError(t, err)
	assert.Equal(t, model.RoomUserTypeModerator, conns[session].RoomUserType)
}

func TestReplicated_UpdateRoomMeta(t *testing.T) {
	store, _ := newTestReplicated(t)
	ctx := context.Background()

	require.NoError(t, store.CreateRoom(ctx, CreateRoomParams{Room: "room-1", InsertDate: time.Now().Unix()}))

	updates := map[string]model.RoomMeta{
		"topic": model.StringMeta[model.RoomAccess]("chat", model.RoomAccessUser),
	}
	require.NoError(t, store.UpdateRoomMeta(ctx, "room-1", updates, nil))

	info, err := store.GetRoomInfo(ctx, "room-1", model.RoomAccessOwner, []RoomField{RoomFieldMetas})
	require.NoError(t, err)
	assert.Equal(t, "chat", info.Metas["topic"].Value())

	require.NoError(t, store.UpdateRoomMeta(ctx, "room-1", nil, []string{"topic"}))
	info, err = store.GetRoomInfo(ctx, "room-1", model.RoomAccessOwner, []RoomField{RoomFieldMetas})
	require.NoError(t, err)
	_, ok := info.Metas["topic"]
	assert.False(t, ok)
}

func TestReplicated_UpdateRoomInfo_TagIndex(t *testing.T) {
	store, _ := newTestReplicated(t)
	ctx := context.Background()

	require.NoError(t, store.CreateRoom(ctx, CreateRoomParams{Room: "room-1", InsertDate: time.Now().Unix(), Tags: []string{"old"}}))

	newName := "renamed"
	require.NoError(t, store.UpdateRoomInfo(ctx, "room-1", &newName, nil, nil, nil, []string{"fresh"}, nil))

	info, err := store.GetRoomInfo(ctx, "room-1", model.RoomAccessOwner, []RoomField{RoomFieldName, RoomFieldTags})
	require.NoError(t, err)
	assert.Equal(t, newName, *info.Name)
	assert.Equal(t, []string{"fresh"}, info.Tags)

	rooms, err := store.GetRooms(ctx, strPtr("old"), model.RoomAccessOwner, []RoomField{RoomFieldName})
	require.NoError(t, err)
	assert.Empty(t, rooms)

	rooms, err = store.GetRooms(ctx, strPtr("fresh"), model.RoomAccessOwner, []RoomField{RoomFieldName})
	require.NoError(t, err)
	require.Len(t, rooms, 1)
}

func TestReplicated_GetRoomInfo_FiltersMetasByAccess(t *testing.T) {
	store, _ := newTestReplicated(t)
	ctx := context.Background()

	require.NoError(t, store.CreateRoom(ctx, CreateRoomParams{
		Room:       "room-1",
		InsertDate: time.Now().Unix(),
		Metas: map[string]model.RoomMeta{
			"public":  model.StringMeta[model.RoomAccess]("visible", model.RoomAccessUser),
			"private": model.StringMeta[model.RoomAccess]("hidden", model.RoomAccessOwner),
		},
	}))

	info, err := store.GetRoomInfo(ctx, "room-1", model.RoomAccessUser, []RoomField{RoomFieldMetas})
	require.NoError(t, err)
	_, hasPublic := info.Metas["public"]
	_, hasPrivate := info.Metas["private"]
	assert.True(t, hasPublic)
	assert.False(t, hasPrivate)
}

func TestReplicated_GetRoomInfo_NotFound(t *testing.T) {
	store, _ := newTestReplicated(t)
	_, err := store.GetRoomInfo(context.Background(), "ghost-room", model.RoomAccessOwner, nil)
	assert.ErrorIs(t, err, model.ErrRoomNotFound)
}

func TestReplicated_GetJoinRequests(t *testing.T) {
	store, _ := newTestReplicated(t)
	ctx := context.Background()

	require.NoError(t, store.CreateRoom(ctx, CreateRoomParams{Room: "room-1", InsertDate: time.Now().Unix()}))
	session, err := store.NewSession(ctx, "user-1", nil, model.UserTypeUser)
	require.NoError(t, err)
	require.NoError(t, store.JoinToRoomRequest(ctx, "room-1", "user-1", session, model.RoomUserTypeUser))

	requests, err := store.GetJoinRequests(ctx, "room-1")
	require.NoError(t, err)
	assert.Equal(t, model.RoomUserTypeUser, requests["user-1"])
}
