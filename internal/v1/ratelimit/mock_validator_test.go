package ratelimit

import (
	"fmt"

	"github.com/yummyio/yummy/internal/v1/auth"
)

// MockValidator is a mock token validator for testing
type MockValidator struct {
	ValidateTokenFunc func(tokenString string) (*auth.CustomClaims, error)
}

// ValidateToken returns ValidateTokenFunc's result, or an error when it is unset
func (m *MockValidator) ValidateToken(tokenString string) (*auth.CustomClaims, error) {
	if m.ValidateTokenFunc != nil {
		return m.ValidateTokenFunc(tokenString)
	}
	// Default: return error (invalid token)
	return nil, fmt.Errorf("invalid token")
}
