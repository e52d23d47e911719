// Package statestore implements spec.md §4.A: the source of truth for
// online presence, sessions, room membership, room metadata, bans, and
// join requests, behind one interface with two interchangeable backends
// (in-process and Redis-replicated).
package statestore

import (
	"context"

	"github.com/yummyio/yummy/internal/v1/model"
)

// RoomField names the room attributes GetRoomInfo/GetRooms can project,
// mirroring spec.md §4.A's `fields[]` projection list.
type RoomField string

const (
	RoomFieldName                RoomField = "name"
	RoomFieldDescription         RoomField = "description"
	RoomFieldAccessType          RoomField = "access_type"
	RoomFieldMaxUser             RoomField = "max_user"
	RoomFieldTags                RoomField = "tags"
	RoomFieldInsertDate          RoomField = "insert_date"
	RoomFieldJoinRequestRequired RoomField = "join_request_required"
	RoomFieldConnectionCount     RoomField = "connection_count"
	RoomFieldMetas               RoomField = "metas"
)

// AllRoomFields is the "empty means all" default used by RoomListRequest
// and GetRoomRequest (spec.md §4.F).
var AllRoomFields = []RoomField{
	RoomFieldName, RoomFieldDescription, RoomFieldAccessType, RoomFieldMaxUser,
	RoomFieldTags, RoomFieldInsertDate, RoomFieldJoinRequestRequired,
	RoomFieldConnectionCount, RoomFieldMetas,
}

// RoomInfo is the projection result of GetRoomInfo/GetRooms: one entry per
// requested field that is actually populated, `Metas` already filtered to
// the caller's access level.
type RoomInfo struct {
	RoomID               model.RoomID
	Name                 *string
	Description          *string
	AccessType           *model.RoomAccessType
	MaxUser              *int
	Tags                 []string
	InsertDate           *int64
	JoinRequestRequired  *bool
	ConnectionCount      *int64
	Metas                map[string]model.RoomMeta
}

// CreateRoomParams bundles CreateRoom's arguments (spec.md §4.A).
type CreateRoomParams struct {
	Room                model.RoomID
	InsertDate          int64
	Name                *string
	Description         *string
	AccessType          model.RoomAccessType
	MaxUser             int
	Tags                []string
	Metas               map[string]model.RoomMeta
	JoinRequestRequired bool
}

// StateStore is the uniform contract spec.md §4.A describes, implemented by
// both the in-process backend (Memory) and the Redis-replicated backend
// (Replicated).
type StateStore interface {
	// Presence
	NewSession(ctx context.Context, user model.UserID, name *string, userType model.UserType) (model.SessionID, error)
	CloseSession(ctx context.Context, user model.UserID, session model.SessionID) (removed bool, err error)
	IsUserOnline(ctx context.Context, user model.UserID) (bool, error)
	IsSessionOnline(ctx context.Context, session model.SessionID) (bool, error)
	GetUserType(ctx context.Context, user model.UserID) (model.UserType, error)

	// Room lifecycle
	CreateRoom(ctx context.Context, p CreateRoomParams) error

	// Membership
	JoinToRoom(ctx context.Context, room model.RoomID, user model.UserID, session model.SessionID, roomUserType model.RoomUserType) error
	JoinToRoomRequest(ctx context.Context, room model.RoomID, user model.UserID, session model.SessionID, roomUserType model.RoomUserType) error
	RemoveUserFromWaitingList(ctx context.Context, user model.UserID, room model.RoomID) (model.SessionID, model.RoomUserType, error)
	DisconnectFromRoom(ctx context.Context, room model.RoomID, user model.UserID, session model.SessionID) (roomDestroyed bool, err error)

	// Moderation
	BanUserFromRoom(ctx context.Context, room model.RoomID, user model.UserID) error
	IsUserBannedFromRoom(ctx context.Context, room model.RoomID, user model.UserID) (bool, error)
	SetUsersRoomType(ctx context.Context, user model.UserID, room model.RoomID, newType model.RoomUserType) error
	UpdateRoomMeta(ctx context.Context, room model.RoomID, updates map[string]model.RoomMeta, remove []string) error
	UpdateRoomInfo(ctx context.Context, room model.RoomID, name, description *string, accessType *model.RoomAccessType, maxUser *int, tags []string, joinRequestRequired *bool) error

	// Introspection
	GetRoomInfo(ctx context.Context, room model.RoomID, accessLevel model.RoomAccess, fields []RoomField) (*RoomInfo, error)
	GetRooms(ctx context.Context, tag *string, accessLevel model.RoomAccess, fields []RoomField) ([]RoomInfo, error)
	GetJoinRequests(ctx context.Context, room model.RoomID) (map[model.UserID]model.RoomUserType, error)
	GetUsersFromRoom(ctx context.Context, room model.RoomID) ([]model.UserID, error)
	GetUserRooms(ctx context.Context, session model.SessionID) ([]model.RoomID, error)
	GetConnections(ctx context.Context, room model.RoomID) (map[model.SessionID]model.ConnectionInfo, error)
	RoomExists(ctx context.Context, room model.RoomID) (bool, error)
}
