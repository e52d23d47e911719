// Package model holds the domain types shared by every engine component:
// identifiers, access-level rankings, meta values, and the in-memory
// shapes of users/sessions/rooms that StateStore backends manage.
package model

// UserID, SessionID and RoomID are opaque 128-bit identifiers (UUIDs)
// carried as their string representation everywhere above the storage
// layer, matching the teacher's ClientIdType/RoomIdType string-alias style.
type UserID string
type SessionID string
type RoomID string

// UserType is a user's global privilege tier.
type UserType int

const (
	UserTypeUser UserType = iota + 1
	UserTypeMod
	UserTypeAdmin
)

func (t UserType) String() string {
	switch t {
	case UserTypeUser:
		return "User"
	case UserTypeMod:
		return "Mod"
	case UserTypeAdmin:
		return "Admin"
	default:
		return "Unknown"
	}
}

// RoomUserType is a member's role within a specific room.
type RoomUserType int

const (
	RoomUserTypeUser RoomUserType = iota + 1
	RoomUserTypeModerator
	RoomUserTypeOwner
)

func (t RoomUserType) String() string {
	switch t {
	case RoomUserTypeUser:
		return "User"
	case RoomUserTypeModerator:
		return "Moderator"
	case RoomUserTypeOwner:
		return "Owner"
	default:
		return "Unknown"
	}
}

// RoomAccessType governs who may discover/join a room without an explicit
// invitation; it is distinct from RoomAccess (the meta visibility rank).
type RoomAccessType int

const (
	RoomAccessTypePublic RoomAccessType = iota
	RoomAccessTypePrivate
	RoomAccessTypeFriend
)

// UserAccess is the monotonic rank controlling visibility of user metas.
// Anonymous < User < Friend < Me < Moderator < Admin < System.
type UserAccess int

const (
	UserAccessAnonymous UserAccess = iota
	UserAccessUser
	UserAccessFriend
	UserAccessMe
	UserAccessModerator
	UserAccessAdmin
	UserAccessSystem
)

// RoomAccess is the monotonic rank controlling visibility of room metas.
// Anonymous < User < Moderator < Owner < Admin < System.
type RoomAccess int

const (
	RoomAccessAnonymous RoomAccess = iota
	RoomAccessUser
	RoomAccessModerator
	RoomAccessOwner
	RoomAccessAdmin
	RoomAccessSystem
)

// EffectiveRoomAccess maps a member's RoomUserType to the RoomAccess rank
// used to filter room metas for them, per spec.md §4.F's "effective access
// level computed like users" rule.
func EffectiveRoomAccess(t RoomUserType) RoomAccess {
	switch t {
	case RoomUserTypeOwner:
		return RoomAccessOwner
	case RoomUserTypeModerator:
		return RoomAccessModerator
	default:
		return RoomAccessUser
	}
}

// MetaKind discriminates the tagged union carried by MetaValue.
type MetaKind int

const (
	MetaNull MetaKind = iota
	MetaNumber
	MetaString
	MetaBool
	MetaList
)

// AccessRank is the constraint satisfied by UserAccess and RoomAccess: both
// are monotonic integer ranks that MetaValue can compare and filter on.
type AccessRank interface {
	~int
}

// MetaValue is the tagged union `{Null | Number | String | Bool | List}`
// from spec.md §3, parameterized over the access-level token that scopes
// its visibility (UserAccess for user metas, RoomAccess for room metas).
type MetaValue[A AccessRank] struct {
	Kind   MetaKind        `json:"-"`
	Number float64         `json:"-"`
	Str    string          `json:"-"`
	Bool   bool            `json:"-"`
	List   []MetaValue[A]  `json:"-"`
	Access A               `json:"access"`
}

func NullMeta[A AccessRank](access A) MetaValue[A] {
	return MetaValue[A]{Kind: MetaNull, Access: access}
}

func NumberMeta[A AccessRank](v float64, access A) MetaValue[A] {
	return MetaValue[A]{Kind: MetaNumber, Number: v, Access: access}
}

func StringMeta[A AccessRank](v string, access A) MetaValue[A] {
	return MetaValue[A]{Kind: MetaString, Str: v, Access: access}
}

func BoolMeta[A AccessRank](v bool, access A) MetaValue[A] {
	return MetaValue[A]{Kind: MetaBool, Bool: v, Access: access}
}

func ListMeta[A AccessRank](v []MetaValue[A], access A) MetaValue[A] {
	return MetaValue[A]{Kind: MetaList, List: v, Access: access}
}

// IsNull reports whether the meta value is the Null variant; UpdateUser and
// UpdateRoom treat a Null value in an OnlyAddOrUpdate merge as a delete.
func (m MetaValue[A]) IsNull() bool { return m.Kind == MetaNull }

// Value returns the Go value held by the tagged union, for JSON encoding.
func (m MetaValue[A]) Value() any {
	switch m.Kind {
	case MetaNumber:
		return m.Number
	case MetaString:
		return m.Str
	case MetaBool:
		return m.Bool
	case MetaList:
		out := make([]any, len(m.List))
		for i, v := range m.List {
			out[i] = v.Value()
		}
		return out
	default:
		return nil
	}
}

type UserMeta = MetaValue[UserAccess]
type RoomMeta = MetaValue[RoomAccess]

// MetaActionKind is spec.md §4.E/§4.F's `meta_action` discriminator shared
// by UpdateUser and UpdateRoom.
type MetaActionKind int

const (
	MetaActionOnlyAddOrUpdate MetaActionKind = iota
	MetaActionRemoveUnusedMetas
	MetaActionRemoveAllMetas
)

// ConnectionInfo is a room's per-session membership record (spec.md §3).
type ConnectionInfo struct {
	UserID       UserID
	RoomUserType RoomUserType
}

// JoinRequest is a pending join-approval entry, keyed by SessionID on the
// room side and by RoomID on the user side (spec.md §3/§4.A).
type JoinRequest struct {
	UserID       UserID
	RoomUserType RoomUserType
}
