// Package auth verifies bearer tokens presented to the API.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Modes.
const (
	ModeOff  = "off"
	ModeDev  = "dev"
	ModeHMAC = "hmac"
)

// Roles.
const (
	RoleAdmin  = "admin"
	RoleSolver = "solver"
	RoleViewer = "viewer"
)

var (
	ErrNoToken   = errors.New("missing bearer token")
	ErrBadToken  = errors.New("invalid token")
	ErrExpired   = errors.New("token expired")
	ErrForbidden = errors.New("forbidden")
)

// Verifier validates bearer tokens. In dev mode a token is "subject:role";
// in hmac mode it is an HS256 JWT with sub, role and optional exp claims.
type Verifier struct {
	Mode       string
	HMACSecret []byte
	now        func() time.Time
}

type Principal struct {
	Subject string
	Role    string
}

func (p Principal) IsAdmin() bool { return p.Role == RoleAdmin }

// CanSolve reports whether p may submit runs.
func (p Principal) CanSolve() bool { return p.Role == RoleAdmin || p.Role == RoleSolver }

func NewVerifier(mode, secret string) *Verifier {
	if mode == "" {
		mode = ModeOff
	}
	return &Verifier{Mode: strings.ToLower(mode), HMACSecret: []byte(secret), now: time.Now}
}

// Anonymous is the principal used when authentication is off.
var Anonymous = Principal{Role: RoleAdmin}

// Verify checks token and returns its principal.
func (v *Verifier) Verify(token string) (Principal, error) {
	switch v.Mode {
	case ModeOff:
		return Anonymous, nil
	case ModeDev:
		sub, role, ok := strings.Cut(token, ":")
		if !ok || sub == "" || role == "" {
			return Principal{}, fmt.Errorf("%w: expected subject:role", ErrBadToken)
		}
		return Principal{Subject: sub, Role: strings.ToLower(role)}, nil
	case ModeHMAC:
		return v.verifyJWT(token)
	}
	return Principal{}, fmt.Errorf("unsupported auth mode %q", v.Mode)
}

// FromHeader extracts and verifies the bearer token of an Authorization
// header value.
func (v *Verifier) FromHeader(authz string) (Principal, error) {
	if v.Mode == ModeOff {
		return Anonymous, nil
	}
	if len(authz) < 7 || !strings.EqualFold(authz[:7], "bearer ") {
		return Principal{}, ErrNoToken
	}
	return v.Verify(strings.TrimSpace(authz[7:]))
}

func (v *Verifier) verifyJWT(token string) (Principal, error) {
	segs := strings.Split(token, ".")
	if len(segs) != 3 {
		return Principal{}, fmt.Errorf("%w: not a JWT", ErrBadToken)
	}
	var hdr struct {
		Alg string `json:"alg"`
	}
	if err := decodeSegment(segs[0], &hdr); err != nil {
		return Principal{}, err
	}
	if hdr.Alg != "HS256" {
		return Principal{}, fmt.Errorf("%w: unsupported alg %q", ErrBadToken, hdr.Alg)
	}
	sig, err := base64.RawURLEncoding.DecodeString(segs[2])
	if err != nil {
		return Principal{}, fmt.Errorf("%w: signature encoding", ErrBadToken)
	}
	mac := hmac.New(sha256.New, v.HMACSecret)
	mac.Write([]byte(segs[0] + "." + segs[1]))
	if !hmac.Equal(mac.Sum(nil), sig) {
		return Principal{}, fmt.Errorf("%w: bad signature", ErrBadToken)
	}
	var claims struct {
		Sub  string `json:"sub"`
		Role string `json:"role"`
		Exp  int64  `json:"exp"`
	}
	if err := decodeSegment(segs[1], &claims); err != nil {
		return Principal{}, err
	}
	if claims.Exp != 0 && v.now().Unix() >= claims.Exp {
		return Principal{}, ErrExpired
	}
	if claims.Sub == "" {
		return Principal{}, fmt.Errorf("%w: missing sub claim", ErrBadToken)
	}
	role := strings.ToLower(claims.Role)
	if role == "" {
		role = RoleViewer
	}
	return Principal{Subject: claims.Sub, Role: role}, nil
}

func decodeSegment(seg string, v any) error {
	b, err := base64.RawURLEncoding.DecodeString(seg)
	if err != nil {
		return fmt.Errorf("%w: segment encoding", ErrBadToken)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("%w: %v", ErrBadToken, err)
	}
	return nil
}

// SignHS256 issues an HS256 token for sub and role, used by tooling and
// tests. A zero ttl means no expiry.
func SignHS256(secret []byte, sub, role string, ttl time.Duration) string {
	enc := base64.RawURLEncoding
	hdr := enc.EncodeToString([]byte(`{"alg":"HS256","typ":"JWT"}`))
	claims := map[string]any{"sub": sub, "role": role}
	if ttl > 0 {
		claims["exp"] = time.Now().Add(ttl).Unix()
	}
	body, _ := json.Marshal(claims)
	payload := enc.EncodeToString(body)
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(hdr + "." + payload))
	return hdr + "." + payload + "." + enc.EncodeToString(mac.Sum(nil))
}
