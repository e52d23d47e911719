package statestore

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/yummyio/yummy/internal/v1/metrics"
	"github.com/yummyio/yummy/internal/v1/model"
)

// onlineUser is the in-process "User (online record)" of spec.md §3.
type onlineUser struct {
	mu           sync.Mutex
	userID       model.UserID
	displayName  *string
	userType     model.UserType
	sessions     map[model.SessionID]struct{}
	joinRequests map[model.RoomID]model.SessionID
	joinedRooms  map[model.RoomID]model.SessionID
}

// room is the in-process "Room" of spec.md §3. Its own mutex guards every
// substructure below (connections, bans, requests, metas); connectionCount
// is a separate atomic so reads don't contend with the mutex.
type room struct {
	roomID              model.RoomID
	name                *string
	description         *string
	accessType          model.RoomAccessType
	maxUser             int
	insertDate          int64
	joinRequestRequired bool
	connectionCount     atomic.Int64

	mu              sync.RWMutex
	tags            []string
	connections     map[model.SessionID]model.ConnectionInfo
	bannedUsers     map[model.UserID]struct{}
	joinRequests    map[model.SessionID]model.JoinRequest
	joinReqByUser   map[model.UserID]model.SessionID
	metas           map[string]model.RoomMeta
}

// Memory is the in-process StateStore backend: five mutexed maps plus
// per-room substructures, grounded on the teacher's Hub/Room mutex-per-map
// discipline (session/hub.go, session/room.go). Compound operations touch
// one map's lock at a time rather than nesting locks, so the fixed
// acquisition order spec.md §4.A prescribes for deadlock avoidance is
// trivially satisfied: no two map locks are ever held simultaneously.
type Memory struct {
	roomsMu sync.Mutex
	rooms   map[model.RoomID]*room

	usersMu sync.Mutex
	users   map[model.UserID]*onlineUser

	sessionUserMu sync.Mutex
	sessionToUser map[model.SessionID]model.UserID

	sessionRoomMu sync.Mutex
	sessionToRoom map[model.SessionID]map[model.RoomID]struct{}

	tagMu sync.Mutex
	tagIndex map[string]map[model.RoomID]struct{}
}

// NewMemory constructs an empty in-process StateStore.
func NewMemory() *Memory {
	return &Memory{
		rooms:         make(map[model.RoomID]*room),
		users:         make(map[model.UserID]*onlineUser),
		sessionToUser: make(map[model.SessionID]model.UserID),
		sessionToRoom: make(map[model.SessionID]map[model.RoomID]struct{}),
		tagIndex:      make(map[string]map[model.RoomID]struct{}),
	}
}

func (m *Memory) NewSession(_ context.Context, user model.UserID, name *string, userType model.UserType) (model.SessionID, error) {
	session := model.SessionID(uuid.NewString())

	m.usersMu.Lock()
	u, ok := m.users[user]
	if !ok {
		u = &onlineUser{
			userID:       user,
			displayName:  name,
			userType:     userType,
			sessions:     make(map[model.SessionID]struct{}),
			joinRequests: make(map[model.RoomID]model.SessionID),
			joinedRooms:  make(map[model.RoomID]model.SessionID),
		}
		m.users[user] = u
	}
	u.mu.Lock()
	u.sessions[session] = struct{}{}
	u.mu.Unlock()
	m.usersMu.Unlock()

	m.sessionUserMu.Lock()
	m.sessionToUser[session] = user
	m.sessionUserMu.Unlock()

	metrics.IncSession()
	return session, nil
}

func (m *Memory) CloseSession(_ context.Context, user model.UserID, session model.SessionID) (bool, error) {
	removed := false

	m.usersMu.Lock()
	u, ok := m.users[user]
	if ok {
		u.mu.Lock()
		delete(u.sessions, session)
		empty := len(u.sessions) == 0
		u.mu.Unlock()
		if empty {
			delete(m.users, user)
			removed = true
		}
	}
	m.usersMu.Unlock()

	m.sessionUserMu.Lock()
	delete(m.sessionToUser, session)
	m.sessionUserMu.Unlock()

	m.sessionRoomMu.Lock()
	delete(m.sessionToRoom, session)
	m.sessionRoomMu.Unlock()

	metrics.DecSession()
	return removed, nil
}

func (m *Memory) IsUserOnline(_ context.Context, user model.UserID) (bool, error) {
	m.usersMu.Lock()
	defer m.usersMu.Unlock()
	_, ok := m.users[user]
	return ok, nil
}

func (m *Memory) IsSessionOnline(_ context.Context, session model.SessionID) (bool, error) {
	m.sessionUserMu.Lock()
	defer m.sessionUserMu.Unlock()
	_, ok := m.sessionToUser[session]
	return ok, nil
}

func (m *Memory) GetUserType(_ context.Context, user model.UserID) (model.UserType, error) {
	m.usersMu.Lock()
	defer m.usersMu.Unlock()
	u, ok := m.users[user]
	if !ok {
		return 0, model.ErrUserNotFound
	}
	return u.userType, nil
}

func (m *Memory) CreateRoom(_ context.Context, p CreateRoomParams) error {
	r := &room{
		roomID:              p.Room,
		name:                p.Name,
		description:         p.Description,
		accessType:          p.AccessType,
		maxUser:             p.MaxUser,
		insertDate:          p.InsertDate,
		joinRequestRequired: p.JoinRequestRequired,
		tags:                append([]string(nil), p.Tags...),
		connections:         make(map[model.SessionID]model.ConnectionInfo),
		bannedUsers:         make(map[model.UserID]struct{}),
		joinRequests:        make(map[model.SessionID]model.JoinRequest),
		joinReqByUser:       make(map[model.UserID]model.SessionID),
		metas:               make(map[string]model.RoomMeta),
	}
	for k, v := range p.Metas {
		r.metas[k] = v
	}

	m.roomsMu.Lock()
	m.rooms[p.Room] = r
	m.roomsMu.Unlock()

	m.tagMu.Lock()
	for _, tag := range r.tags {
		set, ok := m.tagIndex[tag]
		if !ok {
			set = make(map[model.RoomID]struct{})
			m.tagIndex[tag] = set
		}
		set[p.Room] = struct{}{}
	}
	m.tagMu.Unlock()

	metrics.ActiveRooms.Inc()
	return nil
}

func (m *Memory) getRoom(id model.RoomID) (*room, bool) {
	m.roomsMu.Lock()
	defer m.roomsMu.Unlock()
	r, ok := m.rooms[id]
	return r, ok
}

// JoinToRoom performs the ordered check-then-mutate sequence of spec.md
// §4.A: load room, check capacity, check the session isn't already a
// member, then atomically insert the connection, bump the counter, and
// update the two back-references (session→room, user→joined room).
func (m *Memory) JoinToRoom(_ context.Context, roomID model.RoomID, user model.UserID, session model.SessionID, roomUserType model.RoomUserType) error {
	r, ok := m.getRoom(roomID)
	if !ok {
		return model.ErrRoomNotFound
	}

	r.mu.Lock()
	if r.maxUser != 0 && int(r.connectionCount.Load()) >= r.maxUser {
		r.mu.Unlock()
		return model.ErrRoomHasMaxUsers
	}
	if _, exists := r.connections[session]; exists {
		r.mu.Unlock()
		return model.ErrUserAlreadyInRoom
	}
	r.connections[session] = model.ConnectionInfo{UserID: user, RoomUserType: roomUserType}
	r.connectionCount.Add(1)
	r.mu.Unlock()

	m.sessionRoomMu.Lock()
	set, ok := m.sessionToRoom[session]
	if !ok {
		set = make(map[model.RoomID]struct{})
		m.sessionToRoom[session] = set
	}
	set[roomID] = struct{}{}
	m.sessionRoomMu.Unlock()

	m.usersMu.Lock()
	if u, ok := m.users[user]; ok {
		u.mu.Lock()
		u.joinedRooms[roomID] = session
		u.mu.Unlock()
	}
	m.usersMu.Unlock()

	metrics.RoomMembers.WithLabelValues(string(roomID)).Set(float64(r.connectionCount.Load()))
	return nil
}

func (m *Memory) JoinToRoomRequest(_ context.Context, roomID model.RoomID, user model.UserID, session model.SessionID, roomUserType model.RoomUserType) error {
	r, ok := m.getRoom(roomID)
	if !ok {
		return model.ErrRoomNotFound
	}

	m.usersMu.Lock()
	u, ok := m.users[user]
	m.usersMu.Unlock()
	if !ok {
		return model.ErrUserNotFound
	}

	r.mu.Lock()
	if r.maxUser != 0 && int(r.connectionCount.Load()) >= r.maxUser {
		r.mu.Unlock()
		return model.ErrRoomHasMaxUsers
	}
	if _, already := r.joinReqByUser[user]; already {
		r.mu.Unlock()
		return model.ErrAlreadyRequested
	}
	r.joinRequests[session] = model.JoinRequest{UserID: user, RoomUserType: roomUserType}
	r.joinReqByUser[user] = session
	r.mu.Unlock()

	u.mu.Lock()
	u.joinRequests[roomID] = session
	u.mu.Unlock()
	return nil
}

func (m *Memory) RemoveUserFromWaitingList(_ context.Context, user model.UserID, roomID model.RoomID) (model.SessionID, model.RoomUserType, error) {
	m.usersMu.Lock()
	u, ok := m.users[user]
	m.usersMu.Unlock()
	if !ok {
		return "", 0, model.ErrUserNotFound
	}

	u.mu.Lock()
	session, ok := u.joinRequests[roomID]
	if ok {
		delete(u.joinRequests, roomID)
	}
	u.mu.Unlock()
	if !ok {
		return "", 0, model.ErrUserNotInTheRoom
	}

	r, ok := m.getRoom(roomID)
	if !ok {
		return "", 0, model.ErrRoomNotFound
	}
	r.mu.Lock()
	req, ok := r.joinRequests[session]
	delete(r.joinRequests, session)
	delete(r.joinReqByUser, user)
	r.mu.Unlock()
	if !ok {
		return "", 0, model.ErrUserNotInTheRoom
	}
	return session, req.RoomUserType, nil
}

// DisconnectFromRoom implements spec.md §4.A's four-step teardown and
// reports whether the room was destroyed as a result (connection_count
// reaching zero). A session that isn't a member is reported as a failure
// with no mutation, per spec.md §8's round-trip property.
func (m *Memory) DisconnectFromRoom(_ context.Context, roomID model.RoomID, user model.UserID, session model.SessionID) (bool, error) {
	m.usersMu.Lock()
	u, ok := m.users[user]
	m.usersMu.Unlock()
	if !ok {
		return false, model.ErrUserCouldNotFoundInRoom
	}

	u.mu.Lock()
	joinedSession, inRoom := u.joinedRooms[roomID]
	inRoom = inRoom && joinedSession == session
	if inRoom {
		delete(u.joinedRooms, roomID)
	}
	u.mu.Unlock()
	if !inRoom {
		return false, model.ErrUserCouldNotFoundInRoom
	}

	m.sessionRoomMu.Lock()
	if set, ok := m.sessionToRoom[session]; ok {
		delete(set, roomID)
		if len(set) == 0 {
			delete(m.sessionToRoom, session)
		}
	}
	m.sessionRoomMu.Unlock()

	r, ok := m.getRoom(roomID)
	if !ok {
		return false, model.ErrRoomNotFound
	}

	r.mu.Lock()
	delete(r.connections, session)
	remaining := r.connectionCount.Add(-1)
	r.mu.Unlock()

	if remaining > 0 {
		metrics.RoomMembers.WithLabelValues(string(roomID)).Set(float64(remaining))
		return false, nil
	}

	m.destroyRoom(roomID, r)
	return true, nil
}

// destroyRoom removes a room and all of its indices once its last
// connection has left (spec.md §3 invariant 4, §4.F room lifecycle).
func (m *Memory) destroyRoom(roomID model.RoomID, r *room) {
	m.roomsMu.Lock()
	delete(m.rooms, roomID)
	m.roomsMu.Unlock()

	m.tagMu.Lock()
	r.mu.RLock()
	tags := append([]string(nil), r.tags...)
	r.mu.RUnlock()
	for _, tag := range tags {
		if set, ok := m.tagIndex[tag]; ok {
			delete(set, roomID)
			if len(set) == 0 {
				delete(m.tagIndex, tag)
			}
		}
	}
	m.tagMu.Unlock()

	metrics.ActiveRooms.Dec()
	metrics.RoomMembers.DeleteLabelValues(string(roomID))
}

func (m *Memory) BanUserFromRoom(_ context.Context, roomID model.RoomID, user model.UserID) error {
	r, ok := m.getRoom(roomID)
	if !ok {
		return model.ErrRoomNotFound
	}
	r.mu.Lock()
	r.bannedUsers[user] = struct{}{}
	r.mu.Unlock()
	return nil
}

func (m *Memory) IsUserBannedFromRoom(_ context.Context, roomID model.RoomID, user model.UserID) (bool, error) {
	r, ok := m.getRoom(roomID)
	if !ok {
		return false, nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, banned := r.bannedUsers[user]
	return banned, nil
}

// SetUsersRoomType changes a member's RoomUserType in place. Per spec.md §9
// ("set_users_room_type counter bug"), connection_count and the connections
// map membership are left untouched — only the role value changes.
func (m *Memory) SetUsersRoomType(_ context.Context, user model.UserID, roomID model.RoomID, newType model.RoomUserType) error {
	m.usersMu.Lock()
	u, ok := m.users[user]
	m.usersMu.Unlock()
	if !ok {
		return model.ErrUserNotFound
	}

	u.mu.Lock()
	session, inRoom := u.joinedRooms[roomID]
	u.mu.Unlock()
	if !inRoom {
		return model.ErrUserNotInTheRoom
	}

	r, ok := m.getRoom(roomID)
	if !ok {
		return model.ErrRoomNotFound
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	info, ok := r.connections[session]
	if !ok {
		return model.ErrUserNotInTheRoom
	}
	info.RoomUserType = newType
	r.connections[session] = info
	return nil
}

func (m *Memory) UpdateRoomMeta(_ context.Context, roomID model.RoomID, updates map[string]model.RoomMeta, remove []string) error {
	r, ok := m.getRoom(roomID)
	if !ok {
		return model.ErrRoomNotFound
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, v := range updates {
		r.metas[k] = v
	}
	for _, k := range remove {
		delete(r.metas, k)
	}
	return nil
}

func (m *Memory) UpdateRoomInfo(_ context.Context, roomID model.RoomID, name, description *string, accessType *model.RoomAccessType, maxUser *int, tags []string, joinRequestRequired *bool) error {
	r, ok := m.getRoom(roomID)
	if !ok {
		return model.ErrRoomNotFound
	}

	r.mu.Lock()
	if name != nil {
		r.name = name
	}
	if description != nil {
		r.description = description
	}
	if accessType != nil {
		r.accessType = *accessType
	}
	if maxUser != nil {
		r.maxUser = *maxUser
	}
	if joinRequestRequired != nil {
		r.joinRequestRequired = *joinRequestRequired
	}
	oldTags := r.tags
	if tags != nil {
		r.tags = append([]string(nil), tags...)
	}
	r.mu.Unlock()

	if tags != nil {
		m.tagMu.Lock()
		for _, tag := range oldTags {
			if set, ok := m.tagIndex[tag]; ok {
				delete(set, roomID)
				if len(set) == 0 {
					delete(m.tagIndex, tag)
				}
			}
		}
		for _, tag := range tags {
			set, ok := m.tagIndex[tag]
			if !ok {
				set = make(map[model.RoomID]struct{})
				m.tagIndex[tag] = set
			}
			set[roomID] = struct{}{}
		}
		m.tagMu.Unlock()
	}
	return nil
}

func wantsField(fields []RoomField, f RoomField) bool {
	if len(fields) == 0 {
		return true
	}
	for _, want := range fields {
		if want == f {
			return true
		}
	}
	return false
}

func (m *Memory) GetRoomInfo(_ context.Context, roomID model.RoomID, accessLevel model.RoomAccess, fields []RoomField) (*RoomInfo, error) {
	r, ok := m.getRoom(roomID)
	if !ok {
		return nil, model.ErrRoomNotFound
	}
	return projectRoom(r, accessLevel, fields), nil
}

func projectRoom(r *room, accessLevel model.RoomAccess, fields []RoomField) *RoomInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	info := &RoomInfo{RoomID: r.roomID}
	if wantsField(fields, RoomFieldName) {
		info.Name = r.name
	}
	if wantsField(fields, RoomFieldDescription) {
		info.Description = r.description
	}
	if wantsField(fields, RoomFieldAccessType) {
		at := r.accessType
		info.AccessType = &at
	}
	if wantsField(fields, RoomFieldMaxUser) {
		mu := r.maxUser
		info.MaxUser = &mu
	}
	if wantsField(fields, RoomFieldTags) {
		info.Tags = append([]string(nil), r.tags...)
	}
	if wantsField(fields, RoomFieldInsertDate) {
		id := r.insertDate
		info.InsertDate = &id
	}
	if wantsField(fields, RoomFieldJoinRequestRequired) {
		j := r.joinRequestRequired
		info.JoinRequestRequired = &j
	}
	if wantsField(fields, RoomFieldConnectionCount) {
		cc := r.connectionCount.Load()
		info.ConnectionCount = &cc
	}
	if wantsField(fields, RoomFieldMetas) {
		metas := make(map[string]model.RoomMeta)
		for k, v := range r.metas {
			if v.Access <= accessLevel {
				metas[k] = v
			}
		}
		info.Metas = metas
	}
	return info
}

func (m *Memory) GetRooms(_ context.Context, tag *string, accessLevel model.RoomAccess, fields []RoomField) ([]RoomInfo, error) {
	var ids []model.RoomID
	if tag != nil {
		m.tagMu.Lock()
		set := m.tagIndex[*tag]
		for id := range set {
			ids = append(ids, id)
		}
		m.tagMu.Unlock()
	} else {
		m.roomsMu.Lock()
		for id := range m.rooms {
			ids = append(ids, id)
		}
		m.roomsMu.Unlock()
	}

	out := make([]RoomInfo, 0, len(ids))
	for _, id := range ids {
		r, ok := m.getRoom(id)
		if !ok {
			continue
		}
		out = append(out, *projectRoom(r, accessLevel, fields))
	}
	return out, nil
}

func (m *Memory) GetJoinRequests(_ context.Context, roomID model.RoomID) (map[model.UserID]model.RoomUserType, error) {
	r, ok := m.getRoom(roomID)
	if !ok {
		return nil, model.ErrRoomNotFound
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[model.UserID]model.RoomUserType, len(r.joinRequests))
	for _, req := range r.joinRequests {
		out[req.UserID] = req.RoomUserType
	}
	return out, nil
}

func (m *Memory) GetUsersFromRoom(_ context.Context, roomID model.RoomID) ([]model.UserID, error) {
	r, ok := m.getRoom(roomID)
	if !ok {
		return nil, model.ErrRoomNotFound
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.UserID, 0, len(r.connections))
	for _, info := range r.connections {
		out = append(out, info.UserID)
	}
	return out, nil
}

func (m *Memory) GetUserRooms(_ context.Context, session model.SessionID) ([]model.RoomID, error) {
	m.sessionRoomMu.Lock()
	defer m.sessionRoomMu.Unlock()
	set, ok := m.sessionToRoom[session]
	if !ok {
		return nil, nil
	}
	out := make([]model.RoomID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out, nil
}

func (m *Memory) GetConnections(_ context.Context, roomID model.RoomID) (map[model.SessionID]model.ConnectionInfo, error) {
	r, ok := m.getRoom(roomID)
	if !ok {
		return nil, model.ErrRoomNotFound
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[model.SessionID]model.ConnectionInfo, len(r.connections))
	for k, v := range r.connections {
		out[k] = v
	}
	return out, nil
}

func (m *Memory) RoomExists(_ context.Context, roomID model.RoomID) (bool, error) {
	_, ok := m.getRoom(roomID)
	return ok, nil
}
