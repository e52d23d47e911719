package userservice

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yummyio/yummy/internal/v1/db"
	"github.com/yummyio/yummy/internal/v1/model"
)

type fakeDB struct {
	mu    sync.Mutex
	users map[uuid.UUID]*db.User
	metas map[uuid.UUID]map[string]db.UserMeta
}

func newFakeDB() *fakeDB {
	return &fakeDB{
		users: make(map[uuid.UUID]*db.User),
		metas: make(map[uuid.UUID]map[string]db.UserMeta),
	}
}

func (f *fakeDB) addUser(name, email string) uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := uuid.New()
	n, e := name, email
	f.users[id] = &db.User{Name: &n, Email: &e, UserType: int(model.UserTypeUser)}
	f.metas[id] = make(map[string]db.UserMeta)
	return id
}

func (f *fakeDB) FindUserByEmail(context.Context, string) (*db.User, error)    { return nil, nil }
func (f *fakeDB) FindUserByDeviceID(context.Context, string) (*db.User, error) { return nil, nil }
func (f *fakeDB) FindUserByCustomID(context.Context, string) (*db.User, error) { return nil, nil }

func (f *fakeDB) GetUser(_ context.Context, id uuid.UUID) (*db.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.users[id], nil
}

func (f *fakeDB) CreateUser(context.Context, *db.User) error { return nil }

func (f *fakeDB) UpdateUser(_ context.Context, u *db.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[u.ID] = u
	return nil
}

func (f *fakeDB) ListUserMetas(_ context.Context, userID uuid.UUID) ([]db.UserMeta, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rows := make([]db.UserMeta, 0, len(f.metas[userID]))
	for _, v := range f.metas[userID] {
		rows = append(rows, v)
	}
	return rows, nil
}

func (f *fakeDB) UpsertUserMeta(_ context.Context, m *db.UserMeta) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.metas[m.UserID] == nil {
		f.metas[m.UserID] = make(map[string]db.UserMeta)
	}
	f.metas[m.UserID][m.Key] = *m
	return nil
}

func (f *fakeDB) DeleteUserMeta(_ context.Context, userID uuid.UUID, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.metas[userID], key)
	return nil
}

func (f *fakeDB) DeleteUserMetas(_ context.Context, userID uuid.UUID, keys []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range keys {
		delete(f.metas[userID], k)
	}
	return nil
}

func (f *fakeDB) CreateRoom(context.Context, *db.Room) error                  { return nil }
func (f *fakeDB) GetRoom(context.Context, uuid.UUID) (*db.Room, error)        { return nil, nil }
func (f *fakeDB) AddRoomUser(context.Context, *db.RoomUser) error             { return nil }
func (f *fakeDB) UpsertRoomMeta(context.Context, *db.RoomMeta) error          { return nil }
func (f *fakeDB) DeleteRoomMeta(context.Context, uuid.UUID, string) error     { return nil }
func (f *fakeDB) ReplaceRoomTags(context.Context, uuid.UUID, []string) error  { return nil }
func (f *fakeDB) Ping(context.Context) error                                 { return nil }

func TestEffectiveAccess(t *testing.T) {
	assert.Equal(t, model.UserAccessSystem, EffectiveAccess(model.UserTypeUser, false, true))
	assert.Equal(t, model.UserAccessMe, EffectiveAccess(model.UserTypeUser, true, false))
	assert.Equal(t, model.UserAccessAdmin, EffectiveAccess(model.UserTypeAdmin, false, false))
	assert.Equal(t, model.UserAccessModerator, EffectiveAccess(model.UserTypeMod, false, false))
	assert.Equal(t, model.UserAccessUser, EffectiveAccess(model.UserTypeUser, false, false))
}

func TestService_Me(t *testing.T) {
	fdb := newFakeDB()
	id := fdb.addUser("Alice", "alice@example.com")
	svc := New(fdb, 10)

	info, err := svc.Me(context.Background(), model.UserID(id.String()))
	require.NoError(t, err)
	assert.Equal(t, "Alice", *info.Name)
}

func TestService_Get_UserNotFound(t *testing.T) {
	fdb := newFakeDB()
	svc := New(fdb, 10)

	_, err := svc.Me(context.Background(), model.UserID(uuid.New().String()))
	assert.ErrorIs(t, err, model.ErrUserNotFound)
}

func TestService_Get_FiltersMetasByAccess(t *testing.T) {
	fdb := newFakeDB()
	id := fdb.addUser("Bob", "bob@example.com")
	ctx := context.Background()
	require.NoError(t, fdb.UpsertUserMeta(ctx, &db.UserMeta{UserID: id, Key: "nick", Kind: int(model.MetaString), Value: "Bobby", Access: int(model.UserAccessUser)}))
	require.NoError(t, fdb.UpsertUserMeta(ctx, &db.UserMeta{UserID: id, Key: "secret", Kind: int(model.MetaString), Value: "hidden", Access: int(model.UserAccessAdmin)}))

	svc := New(fdb, 10)

	info, err := svc.User(ctx, model.UserID(id.String()), model.UserID(uuid.New().String()), model.UserTypeUser)
	require.NoError(t, err)
	_, hasNick := info.Metas["nick"]
	_, hasSecret := info.Metas["secret"]
	assert.True(t, hasNick)
	assert.False(t, hasSecret, "a User-rank viewer must not see an Admin-scoped meta")
}

func TestService_UpdateUser_SelfUpdate(t *testing.T) {
	fdb := newFakeDB()
	id := fdb.addUser("Carl", "carl@example.com")
	svc := New(fdb, 10)
	userID := model.UserID(id.String())

	newName := "Carlos"
	info, err := svc.UpdateUser(context.Background(), userID, model.UserTypeUser, userID, UpdateRequest{
		Name:       &newName,
		MetaAction: model.MetaActionOnlyAddOrUpdate,
	})
	require.NoError(t, err)
	assert.Equal(t, "Carlos", *info.Name)
}

func TestService_UpdateUser_RejectsOthersWithoutPrivilege(t *testing.T) {
	fdb := newFakeDB()
	id := fdb.addUser("Dana", "dana@example.com")
	svc := New(fdb, 10)

	newName := "Hacked"
	_, err := svc.UpdateUser(context.Background(), model.UserID(uuid.New().String()), model.UserTypeUser, model.UserID(id.String()), UpdateRequest{
		Name:       &newName,
		MetaAction: model.MetaActionOnlyAddOrUpdate,
	})
	assert.ErrorIs(t, err, model.ErrUserDoesNotHaveEnoughPermission)
}

func TestService_UpdateUser_RejectsUserTypeChangeByNonAdmin(t *testing.T) {
	fdb := newFakeDB()
	id := fdb.addUser("Eve", "eve@example.com")
	svc := New(fdb, 10)
	userID := model.UserID(id.String())

	mod := model.UserTypeMod
	_, err := svc.UpdateUser(context.Background(), userID, model.UserTypeUser, userID, UpdateRequest{
		UserType:   &mod,
		MetaAction: model.MetaActionOnlyAddOrUpdate,
	})
	assert.ErrorIs(t, err, model.ErrUserDoesNotHaveEnoughPermission)
}

func TestService_UpdateUser_RejectsShortPassword(t *testing.T) {
	fdb := newFakeDB()
	id := fdb.addUser("Frank", "frank@example.com")
	svc := New(fdb, 10)
	userID := model.UserID(id.String())

	short := "ab"
	_, err := svc.UpdateUser(context.Background(), userID, model.UserTypeUser, userID, UpdateRequest{
		Password:   &short,
		MetaAction: model.MetaActionOnlyAddOrUpdate,
	})
	assert.ErrorIs(t, err, model.ErrPasswordIsTooSmall)
}

func TestService_UpdateUser_RejectsChangingExistingEmail(t *testing.T) {
	fdb := newFakeDB()
	id := fdb.addUser("Gina", "gina@example.com")
	svc := New(fdb, 10)
	userID := model.UserID(id.String())

	newEmail := "new@example.com"
	_, err := svc.UpdateUser(context.Background(), userID, model.UserTypeUser, userID, UpdateRequest{
		Email:      &newEmail,
		MetaAction: model.MetaActionOnlyAddOrUpdate,
	})
	assert.ErrorIs(t, err, model.ErrCannotChangeEmail)
}

func TestService_UpdateUser_RejectsEmptyRequest(t *testing.T) {
	fdb := newFakeDB()
	id := fdb.addUser("Hank", "hank@example.com")
	svc := New(fdb, 10)
	userID := model.UserID(id.String())

	_, err := svc.UpdateUser(context.Background(), userID, model.UserTypeUser, userID, UpdateRequest{
		MetaAction: model.MetaActionOnlyAddOrUpdate,
	})
	assert.ErrorIs(t, err, model.ErrUpdateInformationMissing)
}

func TestService_UpdateUser_RejectsMetaAboveActorAccess(t *testing.T) {
	fdb := newFakeDB()
	id := fdb.addUser("Ivy", "ivy@example.com")
	svc := New(fdb, 10)
	userID := model.UserID(id.String())

	_, err := svc.UpdateUser(context.Background(), userID, model.UserTypeUser, userID, UpdateRequest{
		Metas: map[string]model.UserMeta{
			"admin_only": model.StringMeta[model.UserAccess]("nope", model.UserAccessAdmin),
		},
		MetaAction: model.MetaActionOnlyAddOrUpdate,
	})
	assert.Error(t, err)
}

func TestService_UpdateUser_MetaCountCap(t *testing.T) {
	fdb := newFakeDB()
	id := fdb.addUser("Jack", "jack@example.com")
	svc := New(fdb, 1)
	userID := model.UserID(id.String())

	_, err := svc.UpdateUser(context.Background(), userID, model.UserTypeUser, userID, UpdateRequest{
		Metas: map[string]model.UserMeta{
			"a": model.StringMeta[model.UserAccess]("1", model.UserAccessMe),
			"b": model.StringMeta[model.UserAccess]("2", model.UserAccessMe),
		},
		MetaAction: model.MetaActionOnlyAddOrUpdate,
	})
	assert.ErrorIs(t, err, model.ErrMetaLimitOverToMaximum)
}

func TestPluginContext_SetGetRemoveUserMeta(t *testing.T) {
	fdb := newFakeDB()
	id := fdb.addUser("Kara", "kara@example.com")
	svc := New(fdb, 10)
	userID := model.UserID(id.String())
	ctx := context.Background()

	require.NoError(t, svc.SetUserMeta(ctx, userID, "score", model.NumberMeta[model.UserAccess](10, model.UserAccessUser)))

	v, ok, err := svc.GetUserMeta(ctx, userID, "score")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 10.0, v.Value())

	metas, err := svc.GetUserMetas(ctx, userID)
	require.NoError(t, err)
	assert.Contains(t, metas, "score")

	require.NoError(t, svc.RemoveUserMeta(ctx, userID, "score"))
	_, ok, err = svc.GetUserMeta(ctx, userID, "score")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPluginContext_RemoveUserMetas(t *testing.T) {
	fdb := newFakeDB()
	id := fdb.addUser("Liam", "liam@example.com")
	svc := New(fdb, 10)
	userID := model.UserID(id.String())
	ctx := context.Background()

	require.NoError(t, svc.SetUserMeta(ctx, userID, "a", model.StringMeta[model.UserAccess]("1", model.UserAccessUser)))
	require.NoError(t, svc.SetUserMeta(ctx, userID, "b", model.StringMeta[model.UserAccess]("2", model.UserAccessUser)))

	require.NoError(t, svc.RemoveUserMetas(ctx, userID))

	metas, err := svc.GetUserMetas(ctx, userID)
	require.NoError(t, err)
	assert.Empty(t, metas)
}
