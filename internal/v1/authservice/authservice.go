// Package authservice implements spec.md §4.C's AuthService: the identity
// entry point that finds-or-creates a user, enforces the one-connection-
// per-user policy, mints/refreshes signed session tokens, and runs the
// per-session reconnect grace timer.
//
// Grounded on the teacher's internal/v1/session/hub.go (JWT-gated entry,
// TokenValidator interface) and internal/v1/auth/validator.go (token
// issuance), generalized from "validate an externally-issued Auth0 token"
// to "own the full login/refresh/restore/logout lifecycle" per spec.md §4.C.
package authservice

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/yummyio/yummy/internal/v1/auth"
	"github.com/yummyio/yummy/internal/v1/bus"
	"github.com/yummyio/yummy/internal/v1/db"
	"github.com/yummyio/yummy/internal/v1/logging"
	"github.com/yummyio/yummy/internal/v1/metrics"
	"github.com/yummyio/yummy/internal/v1/model"
	"github.com/yummyio/yummy/internal/v1/statestore"
	"go.uber.org/zap"
)

// EventUserConnected is published to the user's direct topic on login;
// EventRoomUserDisconnect is published on SessionLifecycleTopic when a grace
// timer expires and is handled by RoomService. ConnectionCoordinator's
// per-user subscription drops both rather than forwarding them to a socket.
const (
	EventUserConnected      = "UserConnected"
	EventRoomUserDisconnect = "RoomUserDisconnect"
)

// SessionLifecycleTopic is the bus topic session lifecycle events are
// published to, distinct from any room or per-user topic. RoomService
// subscribes here to learn about sessions whose reconnect grace timer
// expired, so it can tear down their room memberships (spec.md §4.C/§4.D).
const SessionLifecycleTopic = "system:session-lifecycle"

// RoomUserDisconnectPayload is published when a session's grace timer
// expires, so RoomService can tear down that session's room memberships.
// Rooms is captured before the session record is closed, since closing it
// clears the session's room index.
type RoomUserDisconnectPayload struct {
	UserID    model.UserID    `json:"userId"`
	SessionID model.SessionID `json:"sessionId"`
	Rooms     []model.RoomID  `json:"rooms"`
}

// Result is what every successful auth operation returns: a signed token
// plus the session/user it was minted for.
type Result struct {
	Token     string
	UserID    model.UserID
	SessionID model.SessionID
	Name      string
	Email     string
}

// Service implements spec.md §4.C atop a StateStore, the DB collaborator,
// and a TokenService. It owns the mutexed map of reconnect-grace timers
// (spec.md §5: "arming/cancelling are serialized per session").
type Service struct {
	store   statestore.StateStore
	db      db.DB
	tokens  *auth.TokenService
	bus     bus.MessageBus
	restoreWait time.Duration

	mu     sync.Mutex
	timers map[model.SessionID]*time.Timer
}

// New builds an AuthService. restoreWait is spec.md §6's
// connection_restore_wait_timeout.
func New(store statestore.StateStore, database db.DB, tokens *auth.TokenService, messageBus bus.MessageBus, restoreWait time.Duration) *Service {
	return &Service{
		store:       store,
		db:          database,
		tokens:      tokens,
		bus:         messageBus,
		restoreWait: restoreWait,
		timers:      make(map[model.SessionID]*time.Timer),
	}
}

// EmailAuth implements spec.md §4.C's EmailAuth{email, password, if_not_exist_create}.
func (s *Service) EmailAuth(ctx context.Context, email, password string, ifNotExistCreate bool) (*Result, error) {
	u, err := s.db.FindUserByEmail(ctx, email)
	if err != nil {
		metrics.AuthOperations.WithLabelValues("email_auth", "error").Inc()
		return nil, model.ErrCacheCouldNotRead
	}

	switch {
	case u != nil:
		if !db.CheckPassword(u, password) {
			metrics.AuthOperations.WithLabelValues("email_auth", "rejected").Inc()
			return nil, model.ErrEmailOrPasswordNotValid
		}
	case u == nil && ifNotExistCreate:
		u = &db.User{Email: &email, Password: password, UserType: int(model.UserTypeUser)}
		if err := s.db.CreateUser(ctx, u); err != nil {
			metrics.AuthOperations.WithLabelValues("email_auth", "error").Inc()
			return nil, model.ErrCacheCouldNotRead
		}
	default:
		metrics.AuthOperations.WithLabelValues("email_auth", "rejected").Inc()
		return nil, model.ErrEmailOrPasswordNotValid
	}

	return s.login(ctx, "email_auth", u)
}

// DeviceIdAuth implements spec.md §4.C's DeviceIdAuth{id}: find-or-create by device id.
func (s *Service) DeviceIdAuth(ctx context.Context, deviceID string) (*Result, error) {
	u, err := s.db.FindUserByDeviceID(ctx, deviceID)
	if err != nil {
		return nil, model.ErrCacheCouldNotRead
	}
	if u == nil {
		u = &db.User{DeviceID: &deviceID, UserType: int(model.UserTypeUser)}
		if err := s.db.CreateUser(ctx, u); err != nil {
			return nil, model.ErrCacheCouldNotRead
		}
	}
	return s.login(ctx, "device_id_auth", u)
}

// CustomIdAuth implements spec.md §4.C's CustomIdAuth{id}: find-or-create by custom id.
func (s *Service) CustomIdAuth(ctx context.Context, customID string) (*Result, error) {
	u, err := s.db.FindUserByCustomID(ctx, customID)
	if err != nil {
		return nil, model.ErrCacheCouldNotRead
	}
	if u == nil {
		u = &db.User{CustomID: &customID, UserType: int(model.UserTypeUser)}
		if err := s.db.CreateUser(ctx, u); err != nil {
			return nil, model.ErrCacheCouldNotRead
		}
	}
	return s.login(ctx, "custom_id_auth", u)
}

// login enforces the one-connection-per-user rule, opens a new session, and
// issues a token. Shared by all three find-or-create auth entry points.
func (s *Service) login(ctx context.Context, op string, u *db.User) (*Result, error) {
	userID := model.UserID(u.ID.String())

	online, err := s.store.IsUserOnline(ctx, userID)
	if err != nil {
		return nil, model.ErrCacheCouldNotRead
	}
	if online {
		metrics.AuthOperations.WithLabelValues(op, "rejected").Inc()
		return nil, model.ErrOnlyOneConnectionAllowedPerUser
	}

	session, err := s.store.NewSession(ctx, userID, u.Name, model.UserType(u.UserType))
	if err != nil {
		return nil, model.ErrCacheCouldNotRead
	}

	result, err := s.issue(u, userID, session)
	if err != nil {
		metrics.AuthOperations.WithLabelValues(op, "error").Inc()
		return nil, err
	}

	metrics.AuthOperations.WithLabelValues(op, "ok").Inc()
	s.bus.PublishDirect(ctx, string(userID), EventUserConnected, result, string(userID))
	return result, nil
}

func (s *Service) issue(u *db.User, userID model.UserID, session model.SessionID) (*Result, error) {
	name, email := "", ""
	if u.Name != nil {
		name = *u.Name
	}
	if u.Email != nil {
		email = *u.Email
	}

	token, err := s.tokens.IssueToken(string(userID), string(session), name, email)
	if err != nil {
		return nil, model.ErrTokenCouldNotGenerated
	}

	return &Result{Token: token, UserID: userID, SessionID: session, Name: name, Email: email}, nil
}

// RefreshToken implements spec.md §4.C's RefreshToken{token}: validate and
// reissue with the same claims but an extended exp. The session identity is
// unchanged, so no StateStore mutation is required.
func (s *Service) RefreshToken(ctx context.Context, token string) (string, error) {
	newToken, err := s.tokens.RefreshToken(token)
	if err != nil {
		return "", model.ErrTokenNotValid
	}
	return newToken, nil
}

// RestoreToken implements spec.md §4.C's RestoreToken{token}: if the
// token's session is still online, cancel any pending grace timer and reuse
// it; otherwise mint a brand new session (a different SessionId/token pair,
// per spec.md §8 scenario S4).
func (s *Service) RestoreToken(ctx context.Context, token string) (*Result, error) {
	claims, err := s.tokens.ValidateToken(token)
	if err != nil {
		return nil, model.ErrTokenNotValid
	}

	userID := model.UserID(claims.UserID)
	session := model.SessionID(claims.SessionID)

	online, err := s.store.IsSessionOnline(ctx, session)
	if err != nil {
		return nil, model.ErrCacheCouldNotRead
	}

	if online {
		s.StopUserTimeout(session)
		newToken, err := s.tokens.IssueToken(claims.UserID, claims.SessionID, claims.Name, claims.Email)
		if err != nil {
			return nil, model.ErrTokenCouldNotGenerated
		}
		return &Result{Token: newToken, UserID: userID, SessionID: session, Name: claims.Name, Email: claims.Email}, nil
	}

	userType, err := s.store.GetUserType(ctx, userID)
	if err == model.ErrUserNotFound {
		// No session of the user is left in the store; read the type from the DB.
		uid, parseErr := uuid.Parse(claims.UserID)
		if parseErr != nil {
			return nil, model.ErrTokenNotValid
		}
		u, dbErr := s.db.GetUser(ctx, uid)
		if dbErr != nil || u == nil {
			return nil, model.ErrUserNotFound
		}
		userType, err = model.UserType(u.UserType), nil
	}
	if err != nil {
		return nil, model.ErrCacheCouldNotRead
	}
	var namePtr *string
	if claims.Name != "" {
		namePtr = &claims.Name
	}
	newSession, err := s.store.NewSession(ctx, userID, namePtr, userType)
	if err != nil {
		return nil, model.ErrCacheCouldNotRead
	}
	newToken, err := s.tokens.IssueToken(claims.UserID, string(newSession), claims.Name, claims.Email)
	if err != nil {
		return nil, model.ErrTokenCouldNotGenerated
	}
	return &Result{Token: newToken, UserID: userID, SessionID: newSession, Name: claims.Name, Email: claims.Email}, nil
}

// Logout implements spec.md §4.C's Logout: close the session immediately
// and cancel any pending grace timer.
func (s *Service) Logout(ctx context.Context, userID model.UserID, session model.SessionID) error {
	s.StopUserTimeout(session)
	_, err := s.store.CloseSession(ctx, userID, session)
	if err != nil {
		return model.ErrCacheCouldNotRead
	}
	metrics.AuthOperations.WithLabelValues("logout", "ok").Inc()
	return nil
}

// StartUserTimeout arms the reconnect grace timer for session (spec.md
// §4.C/§4.D). On expiry the session is forcibly closed and a
// RoomUserDisconnect event is published so RoomService can tear down
// memberships.
func (s *Service) StartUserTimeout(userID model.UserID, session model.SessionID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.timers[session]; ok {
		existing.Stop()
	}

	s.timers[session] = time.AfterFunc(s.restoreWait, func() {
		s.onTimeout(userID, session)
	})
}

// StopUserTimeout cancels session's reconnect grace timer, if any.
func (s *Service) StopUserTimeout(session model.SessionID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.timers[session]; ok {
		t.Stop()
		delete(s.timers, session)
	}
}

func (s *Service) onTimeout(userID model.UserID, session model.SessionID) {
	s.mu.Lock()
	delete(s.timers, session)
	s.mu.Unlock()

	ctx := context.Background()

	// CloseSession clears the session's room index, so the rooms it belonged
	// to must be captured first for RoomService's teardown to have anything
	// to act on.
	rooms, err := s.store.GetUserRooms(ctx, session)
	if err != nil {
		logging.Error(ctx, "grace timer: failed to read session rooms before close", zap.String("session", string(session)), zap.Error(err))
	}

	if _, err := s.store.CloseSession(ctx, userID, session); err != nil {
		logging.Error(ctx, "grace timer: failed to close expired session", zap.String("session", string(session)), zap.Error(err))
		return
	}

	s.bus.Publish(ctx, SessionLifecycleTopic, EventRoomUserDisconnect,
		RoomUserDisconnectPayload{UserID: userID, SessionID: session, Rooms: rooms}, string(userID), nil)
}
