package common

import (
	"github.com/golang-jwt/jwt/v5"
)

// Claims is the payload of bearer tokens issued by the external identity
// service. Only uid is required by this service.
type Claims struct {
	UserID string `json:"uid"`
	Email  string `json:"eml,omitempty"`
	Role   string `json:"rol,omitempty"`
	jwt.RegisteredClaims
}
