package db

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DB is the thin data-access contract spec.md §6 names as an external
// collaborator ("the persistent relational store for users/rooms") and
// SPEC_FULL.md §4.O asks this module to implement concretely.
type DB interface {
	FindUserByEmail(ctx context.Context, email string) (*User, error)
	FindUserByDeviceID(ctx context.Context, deviceID string) (*User, error)
	FindUserByCustomID(ctx context.Context, customID string) (*User, error)
	GetUser(ctx context.Context, id uuid.UUID) (*User, error)
	CreateUser(ctx context.Context, u *User) error
	UpdateUser(ctx context.Context, u *User) error

	ListUserMetas(ctx context.Context, userID uuid.UUID) ([]UserMeta, error)
	UpsertUserMeta(ctx context.Context, m *UserMeta) error
	DeleteUserMeta(ctx context.Context, userID uuid.UUID, key string) error
	DeleteUserMetas(ctx context.Context, userID uuid.UUID, keys []string) error

	CreateRoom(ctx context.Context, r *Room) error
	GetRoom(ctx context.Context, id uuid.UUID) (*Room, error)
	AddRoomUser(ctx context.Context, ru *RoomUser) error

	UpsertRoomMeta(ctx context.Context, m *RoomMeta) error
	DeleteRoomMeta(ctx context.Context, roomID uuid.UUID, key string) error
	ReplaceRoomTags(ctx context.Context, roomID uuid.UUID, tags []string) error

	Ping(ctx context.Context) error
}

// Gorm is the gorm-backed DB implementation: sqlite for tests/single-node
// runs, postgres for production, matching the teacher's driver split
// (gorm.io/driver/sqlite, gorm.io/driver/postgres already in go.mod).
type Gorm struct {
	conn *gorm.DB
}

// Connect opens dsn with the postgres driver when it looks like a
// connection string (contains "host=" or a postgres:// scheme), otherwise
// falls back to sqlite — this lets DB_DSN default to an in-memory sqlite
// database for local runs and tests while still supporting production
// postgres.
func Connect(dsn string) (*Gorm, error) {
	var dialector gorm.Dialector
	if strings.HasPrefix(dsn, "postgres://") || strings.Contains(dsn, "host=") {
		dialector = postgres.Open(dsn)
	} else {
		dialector = sqlite.Open(dsn)
	}

	conn, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	if err := conn.AutoMigrate(&User{}, &UserMeta{}, &Room{}, &RoomUser{}, &RoomMeta{}, &RoomTag{}); err != nil {
		return nil, err
	}

	return &Gorm{conn: conn}, nil
}

func (g *Gorm) Ping(ctx context.Context) error {
	sqlDB, err := g.conn.DB()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return sqlDB.PingContext(ctx)
}

func (g *Gorm) FindUserByEmail(ctx context.Context, email string) (*User, error) {
	var u User
	if err := g.conn.WithContext(ctx).Where("email = ?", email).First(&u).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}

func (g *Gorm) FindUserByDeviceID(ctx context.Context, deviceID string) (*User, error) {
	var u User
	if err := g.conn.WithContext(ctx).Where("device_id = ?", deviceID).First(&u).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}

func (g *Gorm) FindUserByCustomID(ctx context.Context, customID string) (*User, error) {
	var u User
	if err := g.conn.WithContext(ctx).Where("custom_id = ?", customID).First(&u).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}

func (g *Gorm) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	var u User
	if err := g.conn.WithContext(ctx).First(&u, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}

func (g *Gorm) CreateUser(ctx context.Context, u *User) error {
	if u.Password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.Password), bcrypt.DefaultCost)
		if err != nil {
			return err
		}
		u.PasswordHash = string(hash)
		u.Password = ""
	}
	return g.conn.WithContext(ctx).Create(u).Error
}

func (g *Gorm) UpdateUser(ctx context.Context, u *User) error {
	if u.Password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.Password), bcrypt.DefaultCost)
		if err != nil {
			return err
		}
		u.PasswordHash = string(hash)
		u.Password = ""
	}
	return g.conn.WithContext(ctx).Save(u).Error
}

// CheckPassword verifies a plaintext password against the stored hash.
func CheckPassword(u *User, password string) bool {
	if u.PasswordHash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) == nil
}

func (g *Gorm) ListUserMetas(ctx context.Context, userID uuid.UUID) ([]UserMeta, error) {
	var metas []UserMeta
	if err := g.conn.WithContext(ctx).Where("user_id = ?", userID).Find(&metas).Error; err != nil {
		return nil, err
	}
	return metas, nil
}

func (g *Gorm) UpsertUserMeta(ctx context.Context, m *UserMeta) error {
	var existing UserMeta
	err := g.conn.WithContext(ctx).Where("user_id = ? AND key = ?", m.UserID, m.Key).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return g.conn.WithContext(ctx).Create(m).Error
	}
	if err != nil {
		return err
	}
	existing.Kind = m.Kind
	existing.Value = m.Value
	existing.Access = m.Access
	return g.conn.WithContext(ctx).Save(&existing).Error
}

func (g *Gorm) DeleteUserMeta(ctx context.Context, userID uuid.UUID, key string) error {
	return g.conn.WithContext(ctx).Where("user_id = ? AND key = ?", userID, key).Delete(&UserMeta{}).Error
}

func (g *Gorm) DeleteUserMetas(ctx context.Context, userID uuid.UUID, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	return g.conn.WithContext(ctx).Where("user_id = ? AND key IN ?", userID, keys).Delete(&UserMeta{}).Error
}

func (g *Gorm) CreateRoom(ctx context.Context, r *Room) error {
	return g.conn.WithContext(ctx).Create(r).Error
}

func (g *Gorm) GetRoom(ctx context.Context, id uuid.UUID) (*Room, error) {
	var r Room
	if err := g.conn.WithContext(ctx).First(&r, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &r, nil
}

func (g *Gorm) AddRoomUser(ctx context.Context, ru *RoomUser) error {
	return g.conn.WithContext(ctx).Create(ru).Error
}

func (g *Gorm) UpsertRoomMeta(ctx context.Context, m *RoomMeta) error {
	var existing RoomMeta
	err := g.conn.WithContext(ctx).Where("room_id = ? AND key = ?", m.RoomID, m.Key).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return g.conn.WithContext(ctx).Create(m).Error
	}
	if err != nil {
		return err
	}
	existing.Kind = m.Kind
	existing.Value = m.Value
	existing.Access = m.Access
	return g.conn.WithContext(ctx).Save(&existing).Error
}

func (g *Gorm) DeleteRoomMeta(ctx context.Context, roomID uuid.UUID, key string) error {
	return g.conn.WithContext(ctx).Where("room_id = ? AND key = ?", roomID, key).Delete(&RoomMeta{}).Error
}

func (g *Gorm) ReplaceRoomTags(ctx context.Context, roomID uuid.UUID, tags []string) error {
	return g.conn.Transaction(func(tx *gorm.DB) error {
		if err := tx.WithContext(ctx).Where("room_id = ?", roomID).Delete(&RoomTag{}).Error; err != nil {
			return err
		}
		for _, t := range tags {
			if err := tx.WithContext(ctx).Create(&RoomTag{RoomID: roomID, Tag: t}).Error; err != nil {
				return err
			}
		}
		return nil
	})
}
