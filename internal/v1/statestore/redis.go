package statestore

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"github.com/yummyio/yummy/internal/v1/metrics"
	"github.com/yummyio/yummy/internal/v1/model"
)

// Replicated is the Redis-backed StateStore of spec.md §4.A: every
// operation is expressed as an atomic pipeline against the namespaced key
// layout enumerated there. It is grounded on the teacher's
// `internal/v1/bus/redis.go` circuit-breaker/pipeline discipline, reused
// here for a key/value contract instead of pub/sub.
type Replicated struct {
	client *redis.Client
	cb     *gobreaker.CircuitBreaker
	prefix string
}

// NewReplicated dials Redis and wraps it in a circuit breaker, mirroring
// bus.NewService's connection setup.
func NewReplicated(addr, password, prefix string) (*Replicated, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DialTimeout:  10 * time.Second,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis state store: %w", err)
	}

	st := gobreaker.Settings{
		Name:        "statestore",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     15 * time.Second,
		OnStateChange: func(name string, from, to gobreaker.State) {
			var v float64
			switch to {
			case gobreaker.StateOpen:
				v = 1
			case gobreaker.StateHalfOpen:
				v = 2
			}
			metrics.CircuitBreakerState.WithLabelValues("statestore").Set(v)
		},
	}

	if prefix == "" {
		prefix = "yummy"
	}
	return &Replicated{client: client, cb: gobreaker.NewCircuitBreaker(st), prefix: prefix}, nil
}

func (r *Replicated) Close() error { return r.client.Close() }

func (r *Replicated) Ping(ctx context.Context) error { return r.client.Ping(ctx).Err() }

// key builders for the namespace spec.md §4.A enumerates.
func (r *Replicated) kOnlineUsers() string            { return r.prefix + ":online-users" }
func (r *Replicated) kSessionUser() string            { return r.prefix + ":session-user" }
func (r *Replicated) kUser(u model.UserID) string      { return r.prefix + ":users:" + string(u) }
func (r *Replicated) kRooms() string                  { return r.prefix + ":rooms" }
func (r *Replicated) kRoom(rm model.RoomID) string     { return r.prefix + ":room:" + string(rm) }
func (r *Replicated) kRoomSessions(rm model.RoomID) string {
	return r.prefix + ":room-sessions:" + string(rm)
}
func (r *Replicated) kUserRoom(u model.UserID) string { return r.prefix + ":user-room:" + string(u) }
func (r *Replicated) kSessionRoom(s model.SessionID) string {
	return r.prefix + ":session-room:" + string(s)
}
func (r *Replicated) kRoomTag(rm model.RoomID) string { return r.prefix + ":room-tag:" + string(rm) }
func (r *Replicated) kTag(tag string) string          { return r.prefix + ":tag:" + tag }
func (r *Replicated) kRoomMetaVal(rm model.RoomID) string {
	return r.prefix + ":room-meta-val:" + string(rm)
}
func (r *Replicated) kRoomMetaType(rm model.RoomID) string {
	return r.prefix + ":room-meta-type:" + string(rm)
}
func (r *Replicated) kRoomMetaAcc(rm model.RoomID) string {
	return r.prefix + ":room-meta-acc:" + string(rm)
}
func (r *Replicated) kRoomBanned(rm model.RoomID) string {
	return r.prefix + ":room-banned:" + string(rm)
}
func (r *Replicated) kRoomRequest(rm model.RoomID) string {
	return r.prefix + ":room-request:" + string(rm)
}
func (r *Replicated) kUserJRequest(u model.UserID) string {
	return r.prefix + ":user-jrequest:" + string(u)
}

// execute runs fn through the circuit breaker and translates backend
// failures to CacheCouldNotRead, per spec.md §4.A's failure semantics:
// fatal to the operation, never partial (every mutation here is a single
// pipeline/transaction).
func (r *Replicated) execute(fn func() (any, error)) (any, error) {
	v, err := r.cb.Execute(fn)
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			metrics.CircuitBreakerFailures.WithLabelValues("statestore").Inc()
		}
		return nil, model.ErrCacheCouldNotRead
	}
	return v, nil
}

func (r *Replicated) NewSession(ctx context.Context, user model.UserID, name *string, userType model.UserType) (model.SessionID, error) {
	session := model.SessionID(uuid.NewString())

	_, err := r.execute(func() (any, error) {
		pipe := r.client.TxPipeline()
		pipe.SAdd(ctx, r.kOnlineUsers(), string(user))
		pipe.HSet(ctx, r.kSessionUser(), string(session), string(user))
		fields := map[string]any{"type": int(userType)}
		if name != nil {
			fields["name"] = *name
		}
		pipe.HSet(ctx, r.kUser(user), fields)
		pipe.SAdd(ctx, r.kUserRoom(user)+":sessions", string(session))
		_, err := pipe.Exec(ctx)
		return nil, err
	})
	if err != nil {
		return "", err
	}
	metrics.IncSession()
	return session, nil
}

func (r *Replicated) CloseSession(ctx context.Context, user model.UserID, session model.SessionID) (bool, error) {
	res, err := r.execute(func() (any, error) {
		pipe := r.client.TxPipeline()
		pipe.HDel(ctx, r.kSessionUser(), string(session))
		pipe.SRem(ctx, r.kUserRoom(user)+":sessions", string(session))
		pipe.Del(ctx, r.kSessionRoom(session))
		card := pipe.SCard(ctx, r.kUserRoom(user)+":sessions")
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, err
		}
		remaining, _ := card.Result()
		removed := remaining == 0
		if removed {
			r.client.SRem(ctx, r.kOnlineUsers(), string(user))
			r.client.Del(ctx, r.kUser(user))
		}
		return removed, nil
	})
	if err != nil {
		return false, err
	}
	metrics.DecSession()
	return res.(bool), nil
}

func (r *Replicated) IsUserOnline(ctx context.Context, user model.UserID) (bool, error) {
	res, err := r.execute(func() (any, error) { return r.client.SIsMember(ctx, r.kOnlineUsers(), string(user)).Result() })
	if err != nil {
		return false, err
	}
	return res.(bool), nil
}

func (r *Replicated) IsSessionOnline(ctx context.Context, session model.SessionID) (bool, error) {
	res, err := r.execute(func() (any, error) { return r.client.HExists(ctx, r.kSessionUser(), string(session)).Result() })
	if err != nil {
		return false, err
	}
	return res.(bool), nil
}

func (r *Replicated) GetUserType(ctx context.Context, user model.UserID) (model.UserType, error) {
	res, err := r.execute(func() (any, error) { return r.client.HGet(ctx, r.kUser(user), "type").Result() })
	if err != nil {
		if err == model.ErrCacheCouldNotRead {
			return 0, err
		}
		return 0, model.ErrUserNotFound
	}
	n, convErr := strconv.Atoi(res.(string))
	if convErr != nil {
		return 0, model.ErrUserNotFound
	}
	return model.UserType(n), nil
}

func (r *Replicated) CreateRoom(ctx context.Context, p CreateRoomParams) error {
	_, err := r.execute(func() (any, error) {
		pipe := r.client.TxPipeline()
		pipe.SAdd(ctx, r.kRooms(), string(p.Room))
		fields := map[string]any{
			"max-user": p.MaxUser,
			"access":   int(p.AccessType),
			"idate":    p.InsertDate,
			"join":     boolToInt(p.JoinRequestRequired),
		}
		if p.Name != nil {
			fields["name"] = *p.Name
		}
		if p.Description != nil {
			fields["desc"] = *p.Description
		}
		pipe.HSet(ctx, r.kRoom(p.Room), fields)
		if len(p.Tags) > 0 {
			tagMembers := make([]any, len(p.Tags))
			for i, t := range p.Tags {
				tagMembers[i] = t
				pipe.SAdd(ctx, r.kTag(t), string(p.Room))
			}
			pipe.SAdd(ctx, r.kRoomTag(p.Room), tagMembers...)
		}
		for key, v := range p.Metas {
			pipe.HSet(ctx, r.kRoomMetaVal(p.Room), key, encodeMetaValue(v))
			pipe.HSet(ctx, r.kRoomMetaType(p.Room), key, int(v.Kind))
			pipe.HSet(ctx, r.kRoomMetaAcc(p.Room), key, int(v.Access))
		}
		_, err := pipe.Exec(ctx)
		return nil, err
	})
	if err == nil {
		metrics.ActiveRooms.Inc()
	}
	return err
}

func (r *Replicated) JoinToRoom(ctx context.Context, roomID model.RoomID, user model.UserID, session model.SessionID, roomUserType model.RoomUserType) error {
	exists, err := r.client.SIsMember(ctx, r.kRooms(), string(roomID)).Result()
	if err != nil {
		return model.ErrCacheCouldNotRead
	}
	if !exists {
		return model.ErrRoomNotFound
	}

	maxUserStr, _ := r.client.HGet(ctx, r.kRoom(roomID), "max-user").Result()
	maxUser, _ := strconv.Atoi(maxUserStr)
	count, err := r.client.HLen(ctx, r.kRoomSessions(roomID)).Result()
	if err != nil {
		return model.ErrCacheCouldNotRead
	}
	if maxUser != 0 && int(count) >= maxUser {
		return model.ErrRoomHasMaxUsers
	}
	already, err := r.client.HExists(ctx, r.kRoomSessions(roomID), string(session)).Result()
	if err != nil {
		return model.ErrCacheCouldNotRead
	}
	if already {
		return model.ErrUserAlreadyInRoom
	}

	_, err = r.execute(func() (any, error) {
		pipe := r.client.TxPipeline()
		pipe.HSet(ctx, r.kRoomSessions(roomID), string(session), int(roomUserType))
		pipe.SAdd(ctx, r.kSessionRoom(session), string(roomID))
		pipe.HSet(ctx, r.kUserRoom(user), string(roomID), string(session))
		_, e := pipe.Exec(ctx)
		return nil, e
	})
	if err != nil {
		return err
	}
	newCount, _ := r.client.HLen(ctx, r.kRoomSessions(roomID)).Result()
	metrics.RoomMembers.WithLabelValues(string(roomID)).Set(float64(newCount))
	return nil
}

func (r *Replicated) JoinToRoomRequest(ctx context.Context, roomID model.RoomID, user model.UserID, session model.SessionID, roomUserType model.RoomUserType) error {
	exists, err := r.client.SIsMember(ctx, r.kRooms(), string(roomID)).Result()
	if err != nil {
		return model.ErrCacheCouldNotRead
	}
	if !exists {
		return model.ErrRoomNotFound
	}
	online, err := r.client.HExists(ctx, r.kUser(user), "type").Result()
	if err != nil {
		return model.ErrCacheCouldNotRead
	}
	if !online {
		return model.ErrUserNotFound
	}
	fields, err := r.client.HGetAll(ctx, r.kRoomRequest(roomID)).Result()
	if err != nil {
		return model.ErrCacheCouldNotRead
	}
	if _, already := fields[string(user)]; already {
		return model.ErrAlreadyRequested
	}

	_, err = r.execute(func() (any, error) {
		pipe := r.client.TxPipeline()
		pipe.HSet(ctx, r.kRoomRequest(roomID), string(user), joinRequestValue(session, roomUserType))
		pipe.HSet(ctx, r.kUserJRequest(user), string(roomID), string(session))
		_, e := pipe.Exec(ctx)
		return nil, e
	})
	return err
}

func (r *Replicated) RemoveUserFromWaitingList(ctx context.Context, user model.UserID, roomID model.RoomID) (model.SessionID, model.RoomUserType, error) {
	raw, err := r.client.HGet(ctx, r.kRoomRequest(roomID), string(user)).Result()
	if err == redis.Nil {
		return "", 0, model.ErrUserNotInTheRoom
	}
	if err != nil {
		return "", 0, model.ErrCacheCouldNotRead
	}
	session, roomUserType := parseJoinRequestValue(raw)

	_, err = r.execute(func() (any, error) {
		pipe := r.client.TxPipeline()
		pipe.HDel(ctx, r.kRoomRequest(roomID), string(user))
		pipe.HDel(ctx, r.kUserJRequest(user), string(roomID))
		_, e := pipe.Exec(ctx)
		return nil, e
	})
	if err != nil {
		return "", 0, err
	}
	return session, roomUserType, nil
}

func (r *Replicated) DisconnectFromRoom(ctx context.Context, roomID model.RoomID, user model.UserID, session model.SessionID) (bool, error) {
	joinedSession, err := r.client.HGet(ctx, r.kUserRoom(user), string(roomID)).Result()
	if err == redis.Nil || (err == nil && joinedSession != string(session)) {
		return false, model.ErrUserCouldNotFoundInRoom
	}
	if err != nil {
		return false, model.ErrCacheCouldNotRead
	}

	res, err := r.execute(func() (any, error) {
		pipe := r.client.TxPipeline()
		pipe.HDel(ctx, r.kUserRoom(user), string(roomID))
		pipe.SRem(ctx, r.kSessionRoom(session), string(roomID))
		pipe.HDel(ctx, r.kRoomSessions(roomID), string(session))
		count := pipe.HLen(ctx, r.kRoomSessions(roomID))
		if _, e := pipe.Exec(ctx); e != nil {
			return nil, e
		}
		return count.Val(), nil
	})
	if err != nil {
		return false, err
	}

	remaining := res.(int64)
	if remaining > 0 {
		metrics.RoomMembers.WithLabelValues(string(roomID)).Set(float64(remaining))
		return false, nil
	}

	_, err = r.execute(func() (any, error) {
		tags, _ := r.client.SMembers(ctx, r.kRoomTag(roomID)).Result()
		pipe := r.client.TxPipeline()
		pipe.SRem(ctx, r.kRooms(), string(roomID))
		pipe.Del(ctx, r.kRoom(roomID), r.kRoomSessions(roomID), r.kRoomBanned(roomID),
			r.kRoomRequest(roomID), r.kRoomMetaVal(roomID), r.kRoomMetaType(roomID),
			r.kRoomMetaAcc(roomID), r.kRoomTag(roomID))
		for _, t := range tags {
			pipe.SRem(ctx, r.kTag(t), string(roomID))
		}
		_, e := pipe.Exec(ctx)
		return nil, e
	})
	if err != nil {
		return true, err
	}
	metrics.ActiveRooms.Dec()
	metrics.RoomMembers.DeleteLabelValues(string(roomID))
	return true, nil
}

func (r *Replicated) BanUserFromRoom(ctx context.Context, roomID model.RoomID, user model.UserID) error {
	_, err := r.execute(func() (any, error) { return nil, r.client.SAdd(ctx, r.kRoomBanned(roomID), string(user)).Err() })
	return err
}

func (r *Replicated) IsUserBannedFromRoom(ctx context.Context, roomID model.RoomID, user model.UserID) (bool, error) {
	res, err := r.execute(func() (any, error) { return r.client.SIsMember(ctx, r.kRoomBanned(roomID), string(user)).Result() })
	if err != nil {
		return false, err
	}
	return res.(bool), nil
}

// SetUsersRoomType intentionally does not touch room-sessions cardinality,
// mirroring Memory.SetUsersRoomType's fix of spec.md §9's counter bug.
func (r *Replicated) SetUsersRoomType(ctx context.Context, user model.UserID, roomID model.RoomID, newType model.RoomUserType) error {
	session, err := r.client.HGet(ctx, r.kUserRoom(user), string(roomID)).Result()
	if err == redis.Nil {
		return model.ErrUserNotInTheRoom
	}
	if err != nil {
		return model.ErrCacheCouldNotRead
	}
	_, err = r.execute(func() (any, error) {
		return nil, r.client.HSet(ctx, r.kRoomSessions(roomID), session, int(newType)).Err()
	})
	return err
}

func (r *Replicated) UpdateRoomMeta(ctx context.Context, roomID model.RoomID, updates map[string]model.RoomMeta, remove []string) error {
	_, err := r.execute(func() (any, error) {
		pipe := r.client.TxPipeline()
		for k, v := range updates {
			pipe.HSet(ctx, r.kRoomMetaVal(roomID), k, encodeMetaValue(v))
			pipe.HSet(ctx, r.kRoomMetaType(roomID), k, int(v.Kind))
			pipe.HSet(ctx, r.kRoomMetaAcc(roomID), k, int(v.Access))
		}
		for _, k := range remove {
			pipe.HDel(ctx, r.kRoomMetaVal(roomID), k)
			pipe.HDel(ctx, r.kRoomMetaType(roomID), k)
			pipe.HDel(ctx, r.kRoomMetaAcc(roomID), k)
		}
		_, e := pipe.Exec(ctx)
		return nil, e
	})
	return err
}

func (r *Replicated) UpdateRoomInfo(ctx context.Context, roomID model.RoomID, name, description *string, accessType *model.RoomAccessType, maxUser *int, tags []string, joinRequestRequired *bool) error {
	_, err := r.execute(func() (any, error) {
		fields := map[string]any{}
		if name != nil {
			fields["name"] = *name
		}
		if description != nil {
			fields["desc"] = *description
		}
		if accessType != nil {
			fields["access"] = int(*accessType)
		}
		if maxUser != nil {
			fields["max-user"] = *maxUser
		}
		if joinRequestRequired != nil {
			fields["join"] = boolToInt(*joinRequestRequired)
		}
		pipe := r.client.TxPipeline()
		if len(fields) > 0 {
			pipe.HSet(ctx, r.kRoom(roomID), fields)
		}
		if tags != nil {
			oldTags, _ := r.client.SMembers(ctx, r.kRoomTag(roomID)).Result()
			for _, t := range oldTags {
				pipe.SRem(ctx, r.kTag(t), string(roomID))
			}
			pipe.Del(ctx, r.kRoomTag(roomID))
			for _, t := range tags {
				pipe.SAdd(ctx, r.kRoomTag(roomID), t)
				pipe.SAdd(ctx, r.kTag(t), string(roomID))
			}
		}
		_, e := pipe.Exec(ctx)
		return nil, e
	})
	return err
}

func (r *Replicated) GetRoomInfo(ctx context.Context, roomID model.RoomID, accessLevel model.RoomAccess, fields []RoomField) (*RoomInfo, error) {
	exists, err := r.client.SIsMember(ctx, r.kRooms(), string(roomID)).Result()
	if err != nil {
		return nil, model.ErrCacheCouldNotRead
	}
	if !exists {
		return nil, model.ErrRoomNotFound
	}

	hash, err := r.client.HGetAll(ctx, r.kRoom(roomID)).Result()
	if err != nil {
		return nil, model.ErrCacheCouldNotRead
	}
	info := &RoomInfo{RoomID: roomID}
	if wantsField(fields, RoomFieldName) {
		if v, ok := hash["name"]; ok {
			info.Name = &v
		}
	}
	if wantsField(fields, RoomFieldDescription) {
		if v, ok := hash["desc"]; ok {
			info.Description = &v
		}
	}
	if wantsField(fields, RoomFieldAccessType) {
		if v, ok := hash["access"]; ok {
			n, _ := strconv.Atoi(v)
			at := model.RoomAccessType(n)
			info.AccessType = &at
		}
	}
	if wantsField(fields, RoomFieldMaxUser) {
		if v, ok := hash["max-user"]; ok {
			n, _ := strconv.Atoi(v)
			info.MaxUser = &n
		}
	}
	if wantsField(fields, RoomFieldInsertDate) {
		if v, ok := hash["idate"]; ok {
			n, _ := strconv.ParseInt(v, 10, 64)
			info.InsertDate = &n
		}
	}
	if wantsField(fields, RoomFieldJoinRequestRequired) {
		if v, ok := hash["join"]; ok {
			j := v == "1"
			info.JoinRequestRequired = &j
		}
	}
	if wantsField(fields, RoomFieldTags) {
		tags, _ := r.client.SMembers(ctx, r.kRoomTag(roomID)).Result()
		info.Tags = tags
	}
	if wantsField(fields, RoomFieldConnectionCount) {
		n, _ := r.client.HLen(ctx, r.kRoomSessions(roomID)).Result()
		info.ConnectionCount = &n
	}
	if wantsField(fields, RoomFieldMetas) {
		metas, err := r.loadMetas(ctx, roomID, accessLevel)
		if err != nil {
			return nil, err
		}
		info.Metas = metas
	}
	return info, nil
}

func (r *Replicated) loadMetas(ctx context.Context, roomID model.RoomID, accessLevel model.RoomAccess) (map[string]model.RoomMeta, error) {
	vals, err := r.client.HGetAll(ctx, r.kRoomMetaVal(roomID)).Result()
	if err != nil {
		return nil, model.ErrCacheCouldNotRead
	}
	types, err := r.client.HGetAll(ctx, r.kRoomMetaType(roomID)).Result()
	if err != nil {
		return nil, model.ErrCacheCouldNotRead
	}
	accs, err := r.client.HGetAll(ctx, r.kRoomMetaAcc(roomID)).Result()
	if err != nil {
		return nil, model.ErrCacheCouldNotRead
	}
	out := make(map[string]model.RoomMeta)
	for k, raw := range vals {
		accN, _ := strconv.Atoi(accs[k])
		access := model.RoomAccess(accN)
		if access > accessLevel {
			continue
		}
		kindN, _ := strconv.Atoi(types[k])
		out[k] = decodeMetaValue(model.MetaKind(kindN), access, raw)
	}
	return out, nil
}

func (r *Replicated) GetRooms(ctx context.Context, tag *string, accessLevel model.RoomAccess, fields []RoomField) ([]RoomInfo, error) {
	var ids []string
	var err error
	if tag != nil {
		ids, err = r.client.SMembers(ctx, r.kTag(*tag)).Result()
	} else {
		ids, err = r.client.SMembers(ctx, r.kRooms()).Result()
	}
	if err != nil {
		return nil, model.ErrCacheCouldNotRead
	}
	out := make([]RoomInfo, 0, len(ids))
	for _, id := range ids {
		info, err := r.GetRoomInfo(ctx, model.RoomID(id), accessLevel, fields)
		if err != nil {
			continue
		}
		out = append(out, *info)
	}
	return out, nil
}

func (r *Replicated) GetJoinRequests(ctx context.Context, roomID model.RoomID) (map[model.UserID]model.RoomUserType, error) {
	fields, err := r.client.HGetAll(ctx, r.kRoomRequest(roomID)).Result()
	if err != nil {
		return nil, model.ErrCacheCouldNotRead
	}
	out := make(map[model.UserID]model.RoomUserType, len(fields))
	for user, raw := range fields {
		_, roomUserType := parseJoinRequestValue(raw)
		out[model.UserID(user)] = roomUserType
	}
	return out, nil
}

func (r *Replicated) GetUsersFromRoom(ctx context.Context, roomID model.RoomID) ([]model.UserID, error) {
	sessions, err := r.client.HGetAll(ctx, r.kRoomSessions(roomID)).Result()
	if err != nil {
		return nil, model.ErrCacheCouldNotRead
	}
	userRoomKeys, err := r.client.Keys(ctx, r.prefix+":user-room:*").Result()
	if err != nil {
		return nil, model.ErrCacheCouldNotRead
	}
	sessionSet := make(map[string]struct{}, len(sessions))
	for s := range sessions {
		sessionSet[s] = struct{}{}
	}
	var out []model.UserID
	for _, key := range userRoomKeys {
		session, err := r.client.HGet(ctx, key, string(roomID)).Result()
		if err != nil {
			continue
		}
		if _, ok := sessionSet[session]; ok {
			user := key[len(r.prefix+":user-room:"):]
			out = append(out, model.UserID(user))
		}
	}
	return out, nil
}

func (r *Replicated) GetUserRooms(ctx context.Context, session model.SessionID) ([]model.RoomID, error) {
	ids, err := r.client.SMembers(ctx, r.kSessionRoom(session)).Result()
	if err != nil {
		return nil, model.ErrCacheCouldNotRead
	}
	out := make([]model.RoomID, len(ids))
	for i, id := range ids {
		out[i] = model.RoomID(id)
	}
	return out, nil
}

func (r *Replicated) GetConnections(ctx context.Context, roomID model.RoomID) (map[model.SessionID]model.ConnectionInfo, error) {
	sessions, err := r.client.HGetAll(ctx, r.kRoomSessions(roomID)).Result()
	if err != nil {
		return nil, model.ErrCacheCouldNotRead
	}
	users, err := r.GetUsersFromRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	byUser := make(map[model.UserID]struct{}, len(users))
	for _, u := range users {
		byUser[u] = struct{}{}
	}
	out := make(map[model.SessionID]model.ConnectionInfo, len(sessions))
	for s, raw := range sessions {
		n, _ := strconv.Atoi(raw)
		user, _ := r.client.HGet(ctx, r.kSessionUser(), s).Result()
		out[model.SessionID(s)] = model.ConnectionInfo{UserID: model.UserID(user), RoomUserType: model.RoomUserType(n)}
	}
	return out, nil
}

func (r *Replicated) RoomExists(ctx context.Context, roomID model.RoomID) (bool, error) {
	res, err := r.client.SIsMember(ctx, r.kRooms(), string(roomID)).Result()
	if err != nil {
		return false, model.ErrCacheCouldNotRead
	}
	return res, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func joinRequestValue(session model.SessionID, roomUserType model.RoomUserType) string {
	return string(session) + "|" + strconv.Itoa(int(roomUserType))
}

func parseJoinRequestValue(raw string) (model.SessionID, model.RoomUserType) {
	for i := len(raw) - 1; i >= 0; i-- {
		if raw[i] == '|' {
			n, _ := strconv.Atoi(raw[i+1:])
			return model.SessionID(raw[:i]), model.RoomUserType(n)
		}
	}
	return model.SessionID(raw), 0
}

func encodeMetaValue[A model.AccessRank](v model.MetaValue[A]) string {
	b, _ := json.Marshal(v.Value())
	return string(b)
}

func decodeMetaValue(kind model.MetaKind, access model.RoomAccess, raw string) model.RoomMeta {
	switch kind {
	case model.MetaNumber:
		var n float64
		_ = json.Unmarshal([]byte(raw), &n)
		return model.NumberMeta(n, access)
	case model.MetaString:
		var s string
		_ = json.Unmarshal([]byte(raw), &s)
		return model.StringMeta(s, access)
	case model.MetaBool:
		var b bool
		_ = json.Unmarshal([]byte(raw), &b)
		return model.BoolMeta(b, access)
	case model.MetaList:
		return model.NullMeta[model.RoomAccess](access)
	default:
		return model.NullMeta[model.RoomAccess](access)
	}
}
