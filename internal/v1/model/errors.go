package model

import (
	"errors"
	"fmt"
)

// Error kinds surfaced to clients, per spec.md §7. Sentinel errors are used
// where the wire representation needs no payload; the two parameterized
// kinds (MetaAccessLevelCannotBeBiggerThanUsersAccessLevel and Validation)
// carry their own typed wrapper below.
var (
	// Auth
	ErrEmailOrPasswordNotValid        = errors.New("email_or_password_not_valid")
	ErrTokenCouldNotGenerated         = errors.New("token_could_not_generated")
	ErrTokenNotValid                  = errors.New("token_not_valid")
	ErrOnlyOneConnectionAllowedPerUser = errors.New("only_one_connection_allowed_per_user")

	// User
	ErrUserNotFound             = errors.New("user_not_found")
	ErrUpdateInformationMissing = errors.New("update_information_missing")
	ErrCannotChangeEmail        = errors.New("cannot_change_email")
	ErrPasswordIsTooSmall       = errors.New("password_is_too_small")
	ErrMetaLimitOverToMaximum   = errors.New("meta_limit_over_to_maximum")

	// Room
	ErrRoomNotFound                   = errors.New("room_not_found")
	ErrRoomHasMaxUsers                = errors.New("room_has_max_users")
	ErrUserAlreadyInRoom              = errors.New("user_already_in_room")
	ErrUserCouldNotFoundInRoom        = errors.New("user_could_not_found_in_room")
	ErrUserNotBelongToRoom            = errors.New("user_not_belong_to_room")
	ErrUserDoesNotHaveEnoughPermission = errors.New("user_does_not_have_enough_permission")
	ErrAlreadyRequested               = errors.New("already_requested")
	ErrBannedFromRoom                 = errors.New("banned_from_room")
	ErrUserNotInTheRoom               = errors.New("user_not_in_the_room")

	// Infra
	ErrCacheCouldNotRead = errors.New("cache_could_not_read")
)

// MetaAccessLevelError is `MetaAccessLevelCannotBeBiggerThanUsersAccessLevel(key)`:
// a client-visible error that carries the offending meta key beyond its kind.
type MetaAccessLevelError struct {
	Key string
}

func (e *MetaAccessLevelError) Error() string {
	return fmt.Sprintf("meta_access_level_cannot_be_bigger_than_users_access_level: %s", e.Key)
}

func NewMetaAccessLevelError(key string) error {
	return &MetaAccessLevelError{Key: key}
}

// ValidationError is a plugin's rejection of an operation (spec.md §7's
// `Validation(message)`); its message is propagated verbatim to the caller.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func NewValidationError(message string) error {
	return &ValidationError{Message: message}
}

// InternalError is a plugin's `Internal(trace)`: logged server-side, mapped
// to a generic failure for the client.
type InternalError struct {
	Trace string
}

func (e *InternalError) Error() string { return "internal_error" }

func NewInternalError(trace string) error {
	return &InternalError{Trace: trace}
}
