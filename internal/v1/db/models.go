// Package db implements spec.md §6's external "DB" collaborator: the
// persistent relational store for users/rooms that survives process
// restarts, grounded on xkayo32-pytake's gorm/sqlite/postgres stack
// (internal/database, internal/database/models).
package db

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// BaseModel mirrors the teacher's BaseModel (UUID primary key, timestamps,
// soft delete).
type BaseModel struct {
	ID        uuid.UUID      `gorm:"type:uuid;primary_key" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

func (b *BaseModel) BeforeCreate(tx *gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	return nil
}

// User is the persisted row backing spec.md §3's online User record once a
// session closes: email/device/custom-id identities, password hash, and
// global user type.
type User struct {
	BaseModel
	Email      *string `gorm:"uniqueIndex" json:"email,omitempty"`
	Password   string  `gorm:"-" json:"-"`
	PasswordHash string `json:"-"`
	DeviceID   *string `gorm:"uniqueIndex" json:"device_id,omitempty"`
	CustomID   *string `gorm:"uniqueIndex" json:"custom_id,omitempty"`
	Name       *string `json:"name,omitempty"`
	UserType   int     `gorm:"default:1" json:"user_type"`
}

// UserMeta is a typed key/value attached to a user with an access level
// (spec.md §3's MetaValue<UserAccess>).
type UserMeta struct {
	BaseModel
	UserID uuid.UUID `gorm:"type:uuid;index;not null" json:"user_id"`
	Key    string    `gorm:"index:idx_user_meta_key,not null" json:"key"`
	Kind   int       `json:"kind"`
	Value  string    `json:"value"`
	Access int       `json:"access"`
}

// Room is the persisted row created by RoomService.CreateRoom; it carries
// the attributes that must survive a restart. Live membership/connection
// state lives only in StateStore, per spec.md §4.O.
type Room struct {
	BaseModel
	Name                string  `json:"name"`
	Description         string  `json:"description"`
	AccessType          int     `json:"access_type"`
	MaxUser             int     `json:"max_user"`
	OwnerUserID         uuid.UUID `gorm:"type:uuid;index" json:"owner_user_id"`
	JoinRequestRequired bool    `json:"join_request_required"`
	InsertDate          int64   `json:"insert_date"`
}

// RoomUser records a room's membership roster for audit/restart purposes;
// StateStore is authoritative for live connections, this row is the
// durable ledger entry (spec.md §6 schema: room_users).
type RoomUser struct {
	BaseModel
	RoomID       uuid.UUID `gorm:"type:uuid;index;not null" json:"room_id"`
	UserID       uuid.UUID `gorm:"type:uuid;index;not null" json:"user_id"`
	RoomUserType int       `json:"room_user_type"`
}

// RoomMeta is a typed key/value attached to a room (spec.md §3's
// MetaValue<RoomAccess>), persisted alongside the room row.
type RoomMeta struct {
	BaseModel
	RoomID uuid.UUID `gorm:"type:uuid;index;not null" json:"room_id"`
	Key    string    `gorm:"index:idx_room_meta_key,not null" json:"key"`
	Kind   int       `json:"kind"`
	Value  string    `json:"value"`
	Access int       `json:"access"`
}

// RoomTag is the persisted half of the tag inverted index (spec.md §6
// schema: room_tag); StateStore keeps the live, queryable copy.
type RoomTag struct {
	BaseModel
	RoomID uuid.UUID `gorm:"type:uuid;index;not null" json:"room_id"`
	Tag    string    `gorm:"index;not null" json:"tag"`
}
