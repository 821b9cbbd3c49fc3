package auth

import "github.com/golang-jwt/jwt/v5"

type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// Claims are the only supported JWT claims shape for this service.
// Family invariant: FamilyID must be present for all activity; the family is
// the tenancy boundary for sessions, presence and badges.
// DeviceID identifies the physical device holding the token; every device of
// a participant carries its own token so device-level races can be attributed.
type Claims struct {
	jwt.RegisteredClaims

	UserID    string    `json:"user_id"`
	FamilyID  string    `json:"family_id"`
	Role      string    `json:"role"`
	DeviceID  string    `json:"device_id"`
	TokenType TokenType `json:"token_type"`
}
