package auth

import "github.com/golang-jwt/jwt/v5"

const RoleOperator = "operator"

// Claims are the only supported JWT claims shape for this service.
// Tokens are issued to operators of the gateway, not to callers; there
// is no multi-tenant dimension here.
type Claims struct {
	jwt.RegisteredClaims

	Role string `json:"role"`
}
