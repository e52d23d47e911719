package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMetaValue_Value(t *testing.T) {
	assert.Equal(t, 42.0, NumberMeta[UserAccess](42, UserAccessMe).Value())
	assert.Equal(t, "hi", StringMeta[UserAccess]("hi", UserAccessMe).Value())
	assert.Equal(t, true, BoolMeta[UserAccess](true, UserAccessMe).Value())
	assert.Nil(t, NullMeta[UserAccess](UserAccessMe).Value())

	list := ListMeta[UserAccess]([]MetaValue[UserAccess]{
		NumberMeta[UserAccess](1, UserAccessMe),
		StringMeta[UserAccess]("a", UserAccessMe),
	}, UserAccessMe)
	assert.Equal(t, []any{1.0, "a"}, list.Value())
}

func TestMetaValue_IsNull(t *testing.T) {
	assert.True(t, NullMeta[UserAccess](UserAccessMe).IsNull())
	assert.False(t, NumberMeta[UserAccess](0, UserAccessMe).IsNull())
}

func TestEffectiveRoomAccess(t *testing.T) {
	assert.Equal(t, RoomAccessOwner, EffectiveRoomAccess(RoomUserTypeOwner))
	assert.Equal(t, RoomAccessModerator, EffectiveRoomAccess(RoomUserTypeModerator))
	assert.Equal(t, RoomAccessUser, EffectiveRoomAccess(RoomUserTypeUser))
}

func TestAccessRankOrdering(t *testing.T) {
	assert.Less(t, int(UserAccessAnonymous), int(UserAccessUser))
	assert.Less(t, int(UserAccessUser), int(UserAccessFriend))
	assert.Less(t, int(UserAccessFriend), int(UserAccessMe))
	assert.Less(t, int(UserAccessMe), int(UserAccessModerator))
	assert.Less(t, int(UserAccessModerator), int(UserAccessAdmin))
	assert.Less(t, int(UserAccessAdmin), int(UserAccessSystem))

	assert.Less(t, int(RoomAccessAnonymous), int(RoomAccessUser))
	assert.Less(t, int(RoomAccessUser), int(RoomAccessModerator))
	assert.Less(t, int(RoomAccessModerator), int(RoomAccessOwner))
	assert.Less(t, int(RoomAccessOwner), int(RoomAccessAdmin))
	assert.Less(t, int(RoomAccessAdmin), int(RoomAccessSystem))
}

func TestUserTypeString(t *testing.T) {
	assert.Equal(t, "User", UserTypeUser.String())
	assert.Equal(t, "Mod", UserTypeMod.String())
	assert.Equal(t, "Admin", UserTypeAdmin.String())
	assert.Equal(t, "Unknown", UserType(99).String())
}

func TestRoomUserTypeString(t *testing.T) {
	assert.Equal(t, "User", RoomUserTypeUser.String())
	assert.Equal(t, "Moderator", RoomUserTypeModerator.String())
	assert.Equal(t, "Owner", RoomUserTypeOwner.String())
	assert.Equal(t, "Unknown", RoomUserType(99).String())
}
