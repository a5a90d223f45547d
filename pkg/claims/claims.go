// Package claims decodes caller identity for the permission and trace gates.
// Claims arrive either as a pre-decoded map (the wire contract of the outer
// layer) or as a signed JWT; both paths fail closed on anything malformed.
package claims

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Mindburn-Labs/gatehouse/pkg/kernelerr"
)

// Claims is the kernel's view of a caller identity.
type Claims struct {
	Subject   string
	Roles     []string
	TenantID  string
	TokenID   string
	ExpiresAt *time.Time
}

// FromMap decodes claims from a generic mapping with required keys "sub" and
// "roles", optional "exp" (Unix seconds), "jti", and "tenant_id". Every
// malformed shape is a distinct malformed-claims error.
func FromMap(m map[string]any) (*Claims, error) {
	if m == nil {
		return nil, kernelerr.New(kernelerr.CodeMalformedClaims, "claims are absent")
	}

	sub, err := requireString(m, "sub")
	if err != nil {
		return nil, err
	}

	rawRoles, ok := m["roles"]
	if !ok {
		return nil, kernelerr.New(kernelerr.CodeMalformedClaims, `claims missing required field "roles"`)
	}
	roles, err := decodeRoles(rawRoles)
	if err != nil {
		return nil, err
	}

	c := &Claims{Subject: sub, Roles: roles}

	if raw, ok := m["exp"]; ok {
		exp, err := decodeUnix(raw)
		if err != nil {
			return nil, err
		}
		c.ExpiresAt = &exp
	}
	if raw, ok := m["jti"]; ok {
		jti, ok := raw.(string)
		if !ok {
			return nil, kernelerr.Newf(kernelerr.CodeMalformedClaims, `claims field "jti" must be a string, got %T`, raw)
		}
		c.TokenID = jti
	}
	if raw, ok := m["tenant_id"]; ok {
		tenant, ok := raw.(string)
		if !ok {
			return nil, kernelerr.Newf(kernelerr.CodeMalformedClaims, `claims field "tenant_id" must be a string, got %T`, raw)
		}
		c.TenantID = tenant
	}

	return c, nil
}

// TokenClaims is the JWT layout carrying kernel claims.
type TokenClaims struct {
	jwt.RegisteredClaims
	TenantID string   `json:"tenant_id,omitempty"`
	Roles    []string `json:"roles,omitempty"`
}

// ParseHS256 verifies an HMAC-signed JWT and extracts kernel claims. Expired
// tokens and anything else the parser rejects are typed kernel errors.
func ParseHS256(tokenString string, key []byte) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &TokenClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return key, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, kernelerr.Wrap(kernelerr.CodeTokenExpired, err, "token is expired")
		}
		return nil, kernelerr.Wrap(kernelerr.CodeMalformedClaims, err, "token rejected")
	}

	tc, ok := token.Claims.(*TokenClaims)
	if !ok || !token.Valid {
		return nil, kernelerr.New(kernelerr.CodeMalformedClaims, "token claims have unexpected shape")
	}
	if tc.Subject == "" {
		return nil, kernelerr.New(kernelerr.CodeMalformedClaims, `token missing "sub"`)
	}
	if tc.Roles == nil {
		return nil, kernelerr.New(kernelerr.CodeMalformedClaims, `token missing "roles"`)
	}

	c := &Claims{
		Subject:  tc.Subject,
		Roles:    append([]string(nil), tc.Roles...),
		TenantID: tc.TenantID,
		TokenID:  tc.ID,
	}
	if tc.ExpiresAt != nil {
		exp := tc.ExpiresAt.Time.UTC()
		c.ExpiresAt = &exp
	}
	return c, nil
}

// SignHS256 mints an HMAC-signed JWT for the given claims, used by the demo
// binary and tests.
func SignHS256(c *Claims, key []byte, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	tc := TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        c.TokenID,
			Subject:   c.Subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    "gatehouse",
		},
		TenantID: c.TenantID,
		Roles:    c.Roles,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, tc).SignedString(key)
}

func requireString(m map[string]any, key string) (string, error) {
	raw, ok := m[key]
	if !ok {
		return "", kernelerr.Newf(kernelerr.CodeMalformedClaims, "claims missing required field %q", key)
	}
	s, ok := raw.(string)
	if !ok {
		return "", kernelerr.Newf(kernelerr.CodeMalformedClaims, "claims field %q must be a string, got %T", key, raw)
	}
	if s == "" {
		return "", kernelerr.Newf(kernelerr.CodeMalformedClaims, "claims field %q is empty", key)
	}
	return s, nil
}

func decodeRoles(raw any) ([]string, error) {
	switch v := raw.(type) {
	case []string:
		return append([]string(nil), v...), nil
	case []any:
		out := make([]string, 0, len(v))
		for _, elem := range v {
			s, ok := elem.(string)
			if !ok {
				return nil, kernelerr.Newf(kernelerr.CodeMalformedClaims, "roles entries must be strings, got %T", elem)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, kernelerr.Newf(kernelerr.CodeMalformedClaims, `claims field "roles" must be a list, got %T`, raw)
	}
}

func decodeUnix(raw any) (time.Time, error) {
	switch v := raw.(type) {
	case float64:
		return time.Unix(int64(v), 0).UTC(), nil
	case int:
		return time.Unix(int64(v), 0).UTC(), nil
	case int64:
		return time.Unix(v, 0).UTC(), nil
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return time.Time{}, kernelerr.Wrapf(kernelerr.CodeMalformedClaims, err, `claims field "exp" is not numeric`)
		}
		return time.Unix(n, 0).UTC(), nil
	default:
		return time.Time{}, kernelerr.Newf(kernelerr.CodeMalformedClaims, `claims field "exp" must be numeric, got %T`, raw)
	}
}
