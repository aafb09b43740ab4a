package tenancy

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	pkgError "github.com/wafleet/wafleet/pkg/error"
)

// rpcTokenTTL bounds how long an intercepted RPC token stays replayable.
const rpcTokenTTL = 2 * time.Minute

// RPCClaims is the cross-tenancy token payload: iss is the source tenancy,
// aud the target, data the operation payload.
type RPCClaims struct {
	Data map[string]any `json:"data"`
	jwt.RegisteredClaims
}

// SignToken builds an RPC token signed with the source tenancy's shared
// secret as recorded in the server catalog.
func SignToken(source, target, secret string, data map[string]any) (string, error) {
	now := time.Now()
	claims := &RPCClaims{
		Data: data,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    source,
			Audience:  jwt.ClaimStrings{target},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(rpcTokenTTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// VerifyToken validates signature, issuer and audience against the caller's
// declared identity.
func VerifyToken(tokenString, source, target, secret string) (*RPCClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &RPCClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, pkgError.RPCError{Message: fmt.Sprintf("invalid RPC token: %v", err)}
	}

	claims, ok := token.Claims.(*RPCClaims)
	if !ok || !token.Valid {
		return nil, pkgError.RPCError{Message: "invalid RPC token"}
	}
	if claims.Issuer != source {
		return nil, pkgError.RPCError{Message: "token issuer does not match X-Source-Server"}
	}

	audOK := false
	for _, aud := range claims.Audience {
		if aud == target {
			audOK = true
			break
		}
	}
	if !audOK {
		return nil, pkgError.RPCError{Message: "token audience does not match this server"}
	}
	return claims, nil
}
