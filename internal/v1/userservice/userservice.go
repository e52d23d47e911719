// Package userservice implements spec.md §4.E's UserService: profile reads
// filtered by the viewer's effective access level, and UpdateUser's field
// and meta-policy validation.
//
// Grounded on the teacher's internal/v1/room/admin_helpers.go (permission
// gating by role) and internal/v1/types/types.go (typed request/response
// shapes), generalized to users instead of rooms. User-meta storage reads
// go through cache.Cache (spec.md §4.B) fronting db.DB, exactly the
// "CacheLayer used by StateStore for user-information/metadata reads"
// wiring SPEC_FULL.md §4.B calls for.
package userservice

import (
	"context"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/yummyio/yummy/internal/v1/cache"
	"github.com/yummyio/yummy/internal/v1/db"
	"github.com/yummyio/yummy/internal/v1/metrics"
	"github.com/yummyio/yummy/internal/v1/model"
)

// Info is a profile projection returned to a caller, with Metas already
// filtered to the viewer's effective access level (spec.md §4.E).
type Info struct {
	UserID model.UserID
	Name   *string
	Email  *string
	Type   model.UserType
	Metas  map[string]model.UserMeta
}

// UpdateRequest bundles spec.md §4.E's UpdateUser fields. Nil means "not
// supplied"; Metas/MetaAction are applied per the declared meta_action.
type UpdateRequest struct {
	Name     *string
	Email    *string
	Password *string
	DeviceID *string
	CustomID *string
	UserType *model.UserType
	Metas    map[string]model.UserMeta
	MetaAction model.MetaActionKind
}

// Service implements UserService atop the DB collaborator, with a
// single-flight read-through cache for user metas.
type Service struct {
	db          db.DB
	metaCache   *cache.Cache[string, map[string]model.UserMeta]
	maxUserMeta int
}

// New builds a UserService. maxUserMeta is spec.md §6's max_user_meta.
func New(database db.DB, maxUserMeta int) *Service {
	s := &Service{db: database, maxUserMeta: maxUserMeta}
	s.metaCache = cache.New("user_meta", cache.ResourceFunc[string, map[string]model.UserMeta](s.loadMetas))
	return s
}

func (s *Service) loadMetas(ctx context.Context, userID string) (map[string]model.UserMeta, error) {
	id, err := uuid.Parse(userID)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.ListUserMetas(ctx, id)
	if err != nil {
		return nil, err
	}
	out := make(map[string]model.UserMeta, len(rows))
	for _, r := range rows {
		out[r.Key] = dbMetaToModel(r)
	}
	return out, nil
}

// EffectiveAccess implements spec.md §4.E's viewer→access-level mapping:
// self is always Me; a privileged system caller is System; otherwise the
// viewer's global UserType decides (Admin→Admin, Mod→Moderator, User→User).
func EffectiveAccess(viewerType model.UserType, isSelf, isSystem bool) model.UserAccess {
	switch {
	case isSystem:
		return model.UserAccessSystem
	case isSelf:
		return model.UserAccessMe
	case viewerType == model.UserTypeAdmin:
		return model.UserAccessAdmin
	case viewerType == model.UserTypeMod:
		return model.UserAccessModerator
	default:
		return model.UserAccessUser
	}
}

// Me implements spec.md §4.E's GetUserInformation Me(self) variant.
func (s *Service) Me(ctx context.Context, self model.UserID) (*Info, error) {
	return s.get(ctx, self, model.UserAccessMe)
}

// User implements the User{target, requester} variant: viewerType is the
// requester's global UserType, used only when requester != target.
func (s *Service) User(ctx context.Context, target model.UserID, requester model.UserID, viewerType model.UserType) (*Info, error) {
	access := EffectiveAccess(viewerType, requester == target, false)
	return s.get(ctx, target, access)
}

// UserViaSystem implements the privileged UserViaSystem{target} variant.
func (s *Service) UserViaSystem(ctx context.Context, target model.UserID) (*Info, error) {
	return s.get(ctx, target, model.UserAccessSystem)
}

// Anonymous implements the unauthenticated viewer case (spec.md §4.E's
// "anonymous→Anonymous" mapping): target's profile as seen at Anonymous
// access.
func (s *Service) Anonymous(ctx context.Context, target model.UserID) (*Info, error) {
	return s.get(ctx, target, model.UserAccessAnonymous)
}

func (s *Service) get(ctx context.Context, target model.UserID, access model.UserAccess) (*Info, error) {
	id, err := uuid.Parse(string(target))
	if err != nil {
		return nil, model.ErrUserNotFound
	}
	u, err := s.db.GetUser(ctx, id)
	if err != nil {
		return nil, model.ErrCacheCouldNotRead
	}
	if u == nil {
		return nil, model.ErrUserNotFound
	}

	metas, err := s.metaCache.Get(ctx, string(target))
	if err != nil {
		return nil, model.ErrCacheCouldNotRead
	}

	return &Info{
		UserID: target,
		Name:   u.Name,
		Email:  u.Email,
		Type:   model.UserType(u.UserType),
		Metas:  filterMetas(metas, access),
	}, nil
}

func filterMetas(metas map[string]model.UserMeta, access model.UserAccess) map[string]model.UserMeta {
	out := make(map[string]model.UserMeta, len(metas))
	for k, v := range metas {
		if v.Access <= access {
			out[k] = v
		}
	}
	return out
}

// UpdateUser implements spec.md §4.E's UpdateUser{...}. actorID/actorType
// identify the caller; target is the user being modified (equal to actorID
// for a self-update).
func (s *Service) UpdateUser(ctx context.Context, actorID model.UserID, actorType model.UserType, target model.UserID, req UpdateRequest) (*Info, error) {
	isSelf := actorID == target
	if !isSelf && actorType != model.UserTypeMod && actorType != model.UserTypeAdmin {
		metrics.AuthOperations.WithLabelValues("update_user", "rejected").Inc()
		return nil, model.ErrUserDoesNotHaveEnoughPermission
	}
	if req.UserType != nil && actorType != model.UserTypeAdmin {
		return nil, model.ErrUserDoesNotHaveEnoughPermission
	}
	if req.Name == nil && req.Email == nil && req.Password == nil && req.DeviceID == nil &&
		req.CustomID == nil && req.UserType == nil && req.Metas == nil && req.MetaAction == model.MetaActionOnlyAddOrUpdate {
		return nil, model.ErrUpdateInformationMissing
	}
	if req.Password != nil {
		trimmed := strings.TrimSpace(*req.Password)
		if len(trimmed) < 4 {
			return nil, model.ErrPasswordIsTooSmall
		}
	}

	id, err := uuid.Parse(string(target))
	if err != nil {
		return nil, model.ErrUserNotFound
	}
	u, err := s.db.GetUser(ctx, id)
	if err != nil {
		return nil, model.ErrCacheCouldNotRead
	}
	if u == nil {
		return nil, model.ErrUserNotFound
	}

	if req.Email != nil && u.Email != nil {
		return nil, model.ErrCannotChangeEmail
	}

	if req.Name != nil {
		u.Name = req.Name
	}
	if req.Email != nil {
		u.Email = req.Email
	}
	if req.Password != nil {
		u.Password = *req.Password
	}
	if req.DeviceID != nil {
		u.DeviceID = req.DeviceID
	}
	if req.CustomID != nil {
		u.CustomID = req.CustomID
	}
	if req.UserType != nil {
		u.UserType = int(*req.UserType)
	}

	access := EffectiveAccess(actorType, isSelf, false)
	if err := s.applyMetaPolicy(ctx, id, access, req.Metas, req.MetaAction); err != nil {
		return nil, err
	}

	if err := s.db.UpdateUser(ctx, u); err != nil {
		return nil, model.ErrCacheCouldNotRead
	}
	s.metaCache.Remove(string(target))

	metrics.AuthOperations.WithLabelValues("update_user", "ok").Inc()
	return s.get(ctx, target, model.UserAccessSystem)
}

// applyMetaPolicy implements spec.md §4.E's meta_action switch, validating
// per-key access-level ceilings and the total meta-count cap before
// writing through to the DB.
func (s *Service) applyMetaPolicy(ctx context.Context, userID uuid.UUID, actorAccess model.UserAccess, supplied map[string]model.UserMeta, action model.MetaActionKind) error {
	existing, err := s.metaCache.Get(ctx, userID.String())
	if err != nil {
		return model.ErrCacheCouldNotRead
	}

	for key, v := range supplied {
		if v.Access > actorAccess {
			return model.NewMetaAccessLevelError(key)
		}
	}

	final := make(map[string]model.UserMeta, len(existing))
	for k, v := range existing {
		final[k] = v
	}

	switch action {
	case model.MetaActionOnlyAddOrUpdate:
		for k, v := range supplied {
			if v.IsNull() {
				delete(final, k)
				continue
			}
			final[k] = v
		}
	case model.MetaActionRemoveUnusedMetas:
		for k, v := range existing {
			if v.Access <= actorAccess {
				delete(final, k)
			}
		}
		for k, v := range supplied {
			final[k] = v
		}
	case model.MetaActionRemoveAllMetas:
		for k, v := range existing {
			if v.Access <= actorAccess {
				delete(final, k)
			}
		}
	}

	if len(final) > s.maxUserMeta {
		return model.ErrMetaLimitOverToMaximum
	}

	for k := range existing {
		if _, ok := final[k]; !ok {
			if err := s.db.DeleteUserMeta(ctx, userID, k); err != nil {
				return model.ErrCacheCouldNotRead
			}
		}
	}
	for k, v := range final {
		if old, ok := existing[k]; ok && metaEqual(old, v) {
			continue
		}
		row := modelMetaToDB(userID, k, v)
		if err := s.db.UpsertUserMeta(ctx, row); err != nil {
			return model.ErrCacheCouldNotRead
		}
	}

	return nil
}

// metaEqual compares the scalar variants (user metas never carry the List
// kind in this implementation, so equality never needs to recurse).
func metaEqual(a, b model.UserMeta) bool {
	return a.Kind == b.Kind && a.Number == b.Number && a.Str == b.Str && a.Bool == b.Bool && a.Access == b.Access
}

// GetUserMeta/SetUserMeta/GetUserMetas/RemoveUserMeta/RemoveUserMetas
// implement plugin.Context, the narrow state surface spec.md §4.G grants a
// plugin script: read/write a user's own metas without touching sessions
// or other users' sockets. Plugin writes run at system access so they are
// never rejected by a meta's per-key access ceiling.
func (s *Service) GetUserMeta(ctx context.Context, user model.UserID, key string) (model.UserMeta, bool, error) {
	metas, err := s.metaCache.Get(ctx, string(user))
	if err != nil {
		return model.UserMeta{}, false, model.ErrCacheCouldNotRead
	}
	v, ok := metas[key]
	return v, ok, nil
}

func (s *Service) GetUserMetas(ctx context.Context, user model.UserID) (map[string]model.UserMeta, error) {
	metas, err := s.metaCache.Get(ctx, string(user))
	if err != nil {
		return nil, model.ErrCacheCouldNotRead
	}
	return metas, nil
}

func (s *Service) SetUserMeta(ctx context.Context, user model.UserID, key string, value model.UserMeta) error {
	id, err := uuid.Parse(string(user))
	if err != nil {
		return model.ErrUserNotFound
	}
	if err := s.applyMetaPolicy(ctx, id, model.UserAccessSystem, map[string]model.UserMeta{key: value}, model.MetaActionOnlyAddOrUpdate); err != nil {
		return err
	}
	s.metaCache.Remove(string(user))
	return nil
}

func (s *Service) RemoveUserMeta(ctx context.Context, user model.UserID, key string) error {
	return s.SetUserMeta(ctx, user, key, model.NullMeta[model.UserAccess](model.UserAccessSystem))
}

func (s *Service) RemoveUserMetas(ctx context.Context, user model.UserID) error {
	id, err := uuid.Parse(string(user))
	if err != nil {
		return model.ErrUserNotFound
	}
	if err := s.applyMetaPolicy(ctx, id, model.UserAccessSystem, nil, model.MetaActionRemoveAllMetas); err != nil {
		return err
	}
	s.metaCache.Remove(string(user))
	return nil
}

func dbMetaToModel(r db.UserMeta) model.UserMeta {
	access := model.UserAccess(r.Access)
	switch model.MetaKind(r.Kind) {
	case model.MetaNumber:
		f, _ := strconv.ParseFloat(r.Value, 64)
		return model.NumberMeta(f, access)
	case model.MetaBool:
		return model.BoolMeta(r.Value == "true", access)
	case model.MetaString:
		return model.StringMeta(r.Value, access)
	default:
		return model.NullMeta(access)
	}
}

func modelMetaToDB(userID uuid.UUID, key string, v model.UserMeta) *db.UserMeta {
	row := &db.UserMeta{UserID: userID, Key: key, Kind: int(v.Kind), Access: int(v.Access)}
	switch v.Kind {
	case model.MetaNumber:
		row.Value = strconv.FormatFloat(v.Number, 'g', -1, 64)
	case model.MetaString:
		row.Value = v.Str
	case model.MetaBool:
		if v.Bool {
			row.Value = "true"
		} else {
			row.Value = "false"
		}
	}
	return row
}
