// Package roomservice implements spec.md §4.F's RoomService: every
// membership- and metadata-mutating operation flows through StateStore,
// and all of them except UpdateRoom then emit bus events to the affected
// members; UpdateRoom publishes no event.
//
// Grounded on the teacher's internal/v1/room/room.go (role-gated mutating
// operations) and internal/v1/room/handlers.go (request → StateStore →
// broadcast pipeline), generalized from the video-room's screenshare/
// raise-hand vocabulary to Yummy's join/kick/meta/message vocabulary.
package roomservice

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/yummyio/yummy/internal/v1/authservice"
	"github.com/yummyio/yummy/internal/v1/bus"
	"github.com/yummyio/yummy/internal/v1/db"
	"github.com/yummyio/yummy/internal/v1/logging"
	"github.com/yummyio/yummy/internal/v1/metrics"
	"github.com/yummyio/yummy/internal/v1/model"
	"github.com/yummyio/yummy/internal/v1/statestore"
	"go.uber.org/zap"
)

// Server-initiated event names (spec.md §6).
const (
	EventRoomCreated              = "RoomCreated"
	EventUserJoinedToRoom         = "UserJoinedToRoom"
	EventJoinToRoom               = "JoinToRoom"
	EventNewJoinRequest           = "NewJoinRequest"
	EventJoinRequested            = "JoinRequested"
	EventJoinRequestDeclined      = "JoinRequestDeclined"
	EventDisconnectedFromRoom     = "DisconnectedFromRoom"
	EventUserDisconnectedFromRoom = "UserDisconnectedFromRoom"
	EventMessageFromRoom          = "MessageFromRoom"
	EventPlay                     = "Play"
)

// Service implements RoomService atop a StateStore, the DB collaborator,
// and a MessageBus for fan-out.
type Service struct {
	store statestore.StateStore
	db    db.DB
	bus   bus.MessageBus

	maxRoomMeta int
}

// New builds a RoomService. maxRoomMeta is spec.md §6's max_room_meta. It
// subscribes to AuthService's session-lifecycle topic so a session whose
// reconnect grace timer expires has its room memberships torn down even
// though the client never sent an explicit DisconnectFromRoom (spec.md
// §4.C/§4.D).
func New(store statestore.StateStore, database db.DB, messageBus bus.MessageBus, maxRoomMeta int) *Service {
	s := &Service{store: store, db: database, bus: messageBus, maxRoomMeta: maxRoomMeta}
	messageBus.Subscribe(context.Background(), authservice.SessionLifecycleTopic, s.handleSessionLifecycleEvent)
	return s
}

// handleSessionLifecycleEvent reacts to AuthService's RoomUserDisconnect
// event: the session is already closed in StateStore by the time this
// runs, so the room list travels in the event payload rather than being
// re-read here.
func (s *Service) handleSessionLifecycleEvent(p bus.PubSubPayload) {
	if p.Event != authservice.EventRoomUserDisconnect {
		return
	}
	var payload authservice.RoomUserDisconnectPayload
	if err := json.Unmarshal(p.Payload, &payload); err != nil {
		logging.Error(context.Background(), "failed to decode session lifecycle payload", zap.Error(err))
		return
	}
	for _, room := range payload.Rooms {
		if err := s.DisconnectFromRoomRequest(context.Background(), room, payload.UserID, payload.SessionID); err != nil {
			logging.Error(context.Background(), "failed to tear down room membership after grace timeout",
				zap.String("room", string(room)), zap.String("user", string(payload.UserID)), zap.Error(err))
		}
	}
}

// CreateRoomRequest bundles spec.md §4.F's CreateRoom fields.
type CreateRoomRequest struct {
	Name                *string
	Description         *string
	AccessType          model.RoomAccessType
	MaxUser             int
	Tags                []string
	Metas               map[string]model.RoomMeta
	JoinRequestRequired bool
}

// CreateRoom implements spec.md §4.F's CreateRoom: a DB row, the creator
// recorded as Owner in the DB's room users, the creator's meta-insertion
// privileges computed from their global UserType, and a StateStore mirror.
// The mirror starts with no connections: the creator is not a live member
// of the room in StateStore until a JoinToRoom. Emits RoomCreated to the
// creator only.
func (s *Service) CreateRoom(ctx context.Context, creator model.UserID, creatorType model.UserType, req CreateRoomRequest) (model.RoomID, error) {
	creatorID, err := uuid.Parse(string(creator))
	if err != nil {
		return "", model.ErrUserNotFound
	}

	access := model.RoomAccessOwner
	if creatorType == model.UserTypeAdmin {
		access = model.RoomAccessAdmin
	}
	for key, v := range req.Metas {
		if v.Access > access {
			return "", model.NewMetaAccessLevelError(key)
		}
	}
	if len(req.Metas) > s.maxRoomMeta {
		return "", model.ErrMetaLimitOverToMaximum
	}

	name, desc := "", ""
	if req.Name != nil {
		name = *req.Name
	}
	if req.Description != nil {
		desc = *req.Description
	}

	row := &db.Room{
		Name:                name,
		Description:         desc,
		AccessType:          int(req.AccessType),
		MaxUser:             req.MaxUser,
		OwnerUserID:         creatorID,
		JoinRequestRequired: req.JoinRequestRequired,
		InsertDate:          time.Now().Unix(),
	}
	if err := s.db.CreateRoom(ctx, row); err != nil {
		return "", model.ErrCacheCouldNotRead
	}
	if err := s.db.AddRoomUser(ctx, &db.RoomUser{RoomID: row.ID, UserID: creatorID, RoomUserType: int(model.RoomUserTypeOwner)}); err != nil {
		return "", model.ErrCacheCouldNotRead
	}
	for key, v := range req.Metas {
		if err := s.db.UpsertRoomMeta(ctx, modelMetaToDB(row.ID, key, v)); err != nil {
			return "", model.ErrCacheCouldNotRead
		}
	}
	if len(req.Tags) > 0 {
		if err := s.db.ReplaceRoomTags(ctx, row.ID, req.Tags); err != nil {
			return "", model.ErrCacheCouldNotRead
		}
	}

	roomID := model.RoomID(row.ID.String())
	if err := s.store.CreateRoom(ctx, statestore.CreateRoomParams{
		Room: roomID, InsertDate: row.InsertDate, Name: req.Name, Description: req.Description,
		AccessType: req.AccessType, MaxUser: req.MaxUser, Tags: req.Tags, Metas: req.Metas,
		JoinRequestRequired: req.JoinRequestRequired,
	}); err != nil {
		return "", model.ErrCacheCouldNotRead
	}

	metrics.RoomOperations.WithLabelValues("create_room", "ok").Inc()
	s.bus.PublishDirect(ctx, string(creator), EventRoomCreated, map[string]any{"room_id": roomID}, string(creator))
	return roomID, nil
}

// JoinResult is returned to the caller so the ConnectionCoordinator can
// decide which reply envelope to send; all bus notifications are already
// dispatched by the time it returns.
type JoinResult struct {
	Requested bool // true when the room required approval
}

// JoinToRoom implements spec.md §4.F's JoinToRoom.
func (s *Service) JoinToRoom(ctx context.Context, room model.RoomID, user model.UserID, session model.SessionID, requestedType model.RoomUserType) (*JoinResult, error) {
	banned, err := s.store.IsUserBannedFromRoom(ctx, room, user)
	if err != nil {
		return nil, model.ErrCacheCouldNotRead
	}
	if banned {
		return nil, model.ErrBannedFromRoom
	}

	info, err := s.store.GetRoomInfo(ctx, room, model.RoomAccessSystem, []statestore.RoomField{statestore.RoomFieldJoinRequestRequired})
	if err != nil {
		return nil, err
	}
	requireApproval := info.JoinRequestRequired != nil && *info.JoinRequestRequired

	if requireApproval {
		if err := s.store.JoinToRoomRequest(ctx, room, user, session, requestedType); err != nil {
			return nil, err
		}
		s.notifyOwnersAndMods(ctx, room, EventNewJoinRequest, map[string]any{"room": room, "user": user, "user_type": requestedType})
		s.bus.PublishDirect(ctx, string(user), EventJoinRequested, map[string]any{"room": room}, string(user))
		metrics.RoomOperations.WithLabelValues("join_to_room_request", "ok").Inc()
		return &JoinResult{Requested: true}, nil
	}

	if err := s.completeJoin(ctx, room, user, session, requestedType); err != nil {
		return nil, err
	}
	return &JoinResult{Requested: false}, nil
}

// completeJoin performs the membership commit and the two-sided broadcast
// shared by JoinToRoom's direct path and ProcessWaitingUser's acceptance
// path (spec.md §4.F).
func (s *Service) completeJoin(ctx context.Context, room model.RoomID, user model.UserID, session model.SessionID, roomUserType model.RoomUserType) error {
	existingMembers, err := s.store.GetUsersFromRoom(ctx, room)
	if err != nil && err != model.ErrRoomNotFound {
		return model.ErrCacheCouldNotRead
	}

	if err := s.store.JoinToRoom(ctx, room, user, session, roomUserType); err != nil {
		return err
	}

	for _, member := range existingMembers {
		if member == user {
			continue
		}
		s.bus.PublishDirect(ctx, string(member), EventUserJoinedToRoom, map[string]any{"user": user, "room": room}, string(user))
	}

	access := model.EffectiveRoomAccess(roomUserType)
	info, err := s.store.GetRoomInfo(ctx, room, access, statestore.AllRoomFields)
	if err != nil {
		return model.ErrCacheCouldNotRead
	}
	users, err := s.store.GetUsersFromRoom(ctx, room)
	if err != nil {
		return model.ErrCacheCouldNotRead
	}
	s.bus.PublishDirect(ctx, string(user), EventJoinToRoom, map[string]any{
		"room": room, "room_name": info.Name, "users": users, "metas": info.Metas,
	}, string(user))

	metrics.RoomOperations.WithLabelValues("join_to_room", "ok").Inc()
	return nil
}

// ProcessWaitingUser implements spec.md §4.F's ProcessWaitingUser.
func (s *Service) ProcessWaitingUser(ctx context.Context, room model.RoomID, actor model.UserID, actorSession model.SessionID, target model.UserID, status bool) error {
	if err := s.requireModerator(ctx, room, actorSession); err != nil {
		return err
	}

	session, roomUserType, err := s.store.RemoveUserFromWaitingList(ctx, target, room)
	if err != nil {
		return err
	}

	if !status {
		s.bus.PublishDirect(ctx, string(target), EventJoinRequestDeclined, map[string]any{"room": room}, string(actor))
		metrics.RoomOperations.WithLabelValues("process_waiting_user", "declined").Inc()
		return nil
	}

	if err := s.completeJoin(ctx, room, target, session, roomUserType); err != nil {
		return err
	}
	metrics.RoomOperations.WithLabelValues("process_waiting_user", "accepted").Inc()
	return nil
}

// KickUserFromRoom implements spec.md §4.F's KickUserFromRoom.
func (s *Service) KickUserFromRoom(ctx context.Context, room model.RoomID, actor model.UserID, actorSession model.SessionID, target model.UserID, ban bool) error {
	if err := s.requireModerator(ctx, room, actorSession); err != nil {
		return err
	}

	targetSession, err := s.sessionOf(ctx, room, target)
	if err != nil {
		return err
	}

	if err := s.leaveRoom(ctx, room, target, targetSession); err != nil {
		return err
	}
	if ban {
		if err := s.store.BanUserFromRoom(ctx, room, target); err != nil {
			return model.ErrCacheCouldNotRead
		}
	}
	s.bus.PublishDirect(ctx, string(target), EventDisconnectedFromRoom, map[string]any{"room": room}, string(actor))
	metrics.RoomOperations.WithLabelValues("kick_user", "ok").Inc()
	return nil
}

// DisconnectFromRoomRequest implements spec.md §4.F's self-removal, which
// is idempotent: a missing membership is silently tolerated.
func (s *Service) DisconnectFromRoomRequest(ctx context.Context, room model.RoomID, user model.UserID, session model.SessionID) error {
	err := s.leaveRoom(ctx, room, user, session)
	if err == model.ErrUserCouldNotFoundInRoom {
		return nil
	}
	return err
}

// leaveRoom performs the StateStore disconnect and broadcasts
// UserDisconnectedFromRoom to the remaining members before the operation
// returns, per spec.md §5's ordering guarantee.
func (s *Service) leaveRoom(ctx context.Context, room model.RoomID, user model.UserID, session model.SessionID) error {
	remaining, _ := s.store.GetUsersFromRoom(ctx, room)

	_, err := s.store.DisconnectFromRoom(ctx, room, user, session)
	if err != nil {
		return err
	}

	for _, member := range remaining {
		if member == user {
			continue
		}
		s.bus.PublishDirect(ctx, string(member), EventUserDisconnectedFromRoom, map[string]any{"user": user, "room": room}, string(user))
	}
	return nil
}

// UpdateRoomRequest bundles spec.md §4.F's UpdateRoom fields.
type UpdateRoomRequest struct {
	Name                *string
	Description         *string
	AccessType          *model.RoomAccessType
	MaxUser             *int
	Tags                []string
	Metas               map[string]model.RoomMeta
	MetaAction          model.MetaActionKind
	UserPermission      map[model.UserID]model.RoomUserType
	JoinRequestRequired *bool
}

// UpdateRoom implements spec.md §4.F's UpdateRoom. Only an Owner/Moderator
// (or global Admin) may call it; at least one mutating field is required.
func (s *Service) UpdateRoom(ctx context.Context, room model.RoomID, actor model.UserID, actorType model.UserType, actorSession model.SessionID, req UpdateRoomRequest) error {
	actorRoomType, err := s.requireModerator(ctx, room, actorSession)
	if err != nil {
		return err
	}

	if req.Name == nil && req.Description == nil && req.AccessType == nil && req.MaxUser == nil &&
		req.Tags == nil && req.Metas == nil && req.UserPermission == nil && req.JoinRequestRequired == nil &&
		req.MetaAction == model.MetaActionOnlyAddOrUpdate {
		return model.ErrUpdateInformationMissing
	}

	access := model.EffectiveRoomAccess(actorRoomType)
	if actorType == model.UserTypeAdmin {
		access = model.RoomAccessAdmin
	}

	if err := s.applyMetaPolicy(ctx, room, access, req.Metas, req.MetaAction); err != nil {
		return err
	}

	if err := s.store.UpdateRoomInfo(ctx, room, req.Name, req.Description, req.AccessType, req.MaxUser, req.Tags, req.JoinRequestRequired); err != nil {
		return err
	}

	roomUUID, parseErr := uuid.Parse(string(room))
	if parseErr == nil && req.Tags != nil {
		_ = s.db.ReplaceRoomTags(ctx, roomUUID, req.Tags)
	}

	for target, newType := range req.UserPermission {
		if err := s.store.SetUsersRoomType(ctx, target, room, newType); err != nil {
			return err
		}
	}

	metrics.RoomOperations.WithLabelValues("update_room", "ok").Inc()
	return nil
}

func (s *Service) applyMetaPolicy(ctx context.Context, room model.RoomID, actorAccess model.RoomAccess, supplied map[string]model.RoomMeta, action model.MetaActionKind) error {
	info, err := s.store.GetRoomInfo(ctx, room, model.RoomAccessSystem, []statestore.RoomField{statestore.RoomFieldMetas})
	if err != nil {
		return err
	}
	existing := info.Metas

	for key, v := range supplied {
		if v.Access > actorAccess {
			return model.NewMetaAccessLevelError(key)
		}
	}

	final := make(map[string]model.RoomMeta, len(existing))
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

	if len(final) > s.maxRoomMeta {
		return model.ErrMetaLimitOverToMaximum
	}

	var remove []string
	for k := range existing {
		if _, ok := final[k]; !ok {
			remove = append(remove, k)
		}
	}
	updates := make(map[string]model.RoomMeta)
	for k, v := range final {
		if old, ok := existing[k]; ok && roomMetaEqual(old, v) {
			continue
		}
		updates[k] = v
	}

	if err := s.store.UpdateRoomMeta(ctx, room, updates, remove); err != nil {
		return err
	}

	if roomUUID, parseErr := uuid.Parse(string(room)); parseErr == nil {
		for _, k := range remove {
			_ = s.db.DeleteRoomMeta(ctx, roomUUID, k)
		}
		for k, v := range updates {
			_ = s.db.UpsertRoomMeta(ctx, modelMetaToDB(roomUUID, k, v))
		}
	}

	return nil
}

// MessageToRoom implements spec.md §4.F's MessageToRoom: sender must be a
// member; fan-out delivers MessageFromRoom to every current member,
// including the sender, per spec.md §9's broadcast-targeting note.
func (s *Service) MessageToRoom(ctx context.Context, room model.RoomID, sender model.UserID, senderSession model.SessionID, message any) error {
	return s.broadcast(ctx, room, sender, senderSession, EventMessageFromRoom, message)
}

// Play implements spec.md §4.F's Play, identical fan-out semantics to
// MessageToRoom but under the "Play" event name.
func (s *Service) Play(ctx context.Context, room model.RoomID, sender model.UserID, senderSession model.SessionID, message any) error {
	return s.broadcast(ctx, room, sender, senderSession, EventPlay, message)
}

func (s *Service) broadcast(ctx context.Context, room model.RoomID, sender model.UserID, senderSession model.SessionID, event string, message any) error {
	if _, err := s.sessionRoomType(ctx, room, senderSession); err != nil {
		return model.ErrUserNotBelongToRoom
	}
	members, err := s.store.GetUsersFromRoom(ctx, room)
	if err != nil {
		return err
	}
	for _, member := range members {
		s.bus.PublishDirect(ctx, string(member), event, map[string]any{"room": room, "user": sender, "message": message}, string(sender))
	}
	metrics.RoomOperations.WithLabelValues(event, "ok").Inc()
	return nil
}

// RoomListRequest implements spec.md §4.F's RoomListRequest.
func (s *Service) RoomListRequest(ctx context.Context, tag *string, access model.RoomAccess, members []statestore.RoomField) ([]statestore.RoomInfo, error) {
	if len(members) == 0 {
		members = statestore.AllRoomFields
	}
	return s.store.GetRooms(ctx, tag, access, members)
}

// GetRoomRequest implements spec.md §4.F's GetRoomRequest.
func (s *Service) GetRoomRequest(ctx context.Context, room model.RoomID, access model.RoomAccess, members []statestore.RoomField) (*statestore.RoomInfo, error) {
	if len(members) == 0 {
		members = statestore.AllRoomFields
	}
	return s.store.GetRoomInfo(ctx, room, access, members)
}

// WaitingRoomJoins implements spec.md §4.F's WaitingRoomJoins: Owner/
// Moderator only.
func (s *Service) WaitingRoomJoins(ctx context.Context, room model.RoomID, actorSession model.SessionID) (map[model.UserID]model.RoomUserType, error) {
	if _, err := s.requireModerator(ctx, room, actorSession); err != nil {
		return nil, err
	}
	return s.store.GetJoinRequests(ctx, room)
}

// requireModerator resolves actorSession's RoomUserType in room and
// rejects with UserDoesNotHaveEnoughPermission unless it is Owner or
// Moderator.
func (s *Service) requireModerator(ctx context.Context, room model.RoomID, actorSession model.SessionID) (model.RoomUserType, error) {
	t, err := s.sessionRoomType(ctx, room, actorSession)
	if err != nil {
		return 0, model.ErrUserNotBelongToRoom
	}
	if t != model.RoomUserTypeOwner && t != model.RoomUserTypeModerator {
		return 0, model.ErrUserDoesNotHaveEnoughPermission
	}
	return t, nil
}

func (s *Service) sessionRoomType(ctx context.Context, room model.RoomID, session model.SessionID) (model.RoomUserType, error) {
	conns, err := s.store.GetConnections(ctx, room)
	if err != nil {
		return 0, err
	}
	info, ok := conns[session]
	if !ok {
		return 0, model.ErrUserNotBelongToRoom
	}
	return info.RoomUserType, nil
}

func (s *Service) sessionOf(ctx context.Context, room model.RoomID, user model.UserID) (model.SessionID, error) {
	conns, err := s.store.GetConnections(ctx, room)
	if err != nil {
		return "", err
	}
	for session, info := range conns {
		if info.UserID == user {
			return session, nil
		}
	}
	return "", model.ErrUserCouldNotFoundInRoom
}

// notifyOwnersAndMods fans a payload out to every Owner/Moderator
// currently connected to room.
func (s *Service) notifyOwnersAndMods(ctx context.Context, room model.RoomID, event string, payload any) {
	conns, err := s.store.GetConnections(ctx, room)
	if err != nil {
		return
	}
	notified := make(map[model.UserID]struct{})
	for _, info := range conns {
		if info.RoomUserType != model.RoomUserTypeOwner && info.RoomUserType != model.RoomUserTypeModerator {
			continue
		}
		if _, done := notified[info.UserID]; done {
			continue
		}
		notified[info.UserID] = struct{}{}
		s.bus.PublishDirect(ctx, string(info.UserID), event, payload, "")
	}
}

func roomMetaEqual(a, b model.RoomMeta) bool {
	return a.Kind == b.Kind && a.Number == b.Number && a.Str == b.Str && a.Bool == b.Bool && a.Access == b.Access
}

func modelMetaToDB(roomID uuid.UUID, key string, v model.RoomMeta) *db.RoomMeta {
	row := &db.RoomMeta{RoomID: roomID, Key: key, Kind: int(v.Kind), Access: int(v.Access)}
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
