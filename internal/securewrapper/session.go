package securewrapper

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dafelhub/dataplatform/internal/apperrors"
	"github.com/dafelhub/dataplatform/internal/vault"
)

// Token is an opaque, HMAC-signed session token a Wrapper's Subject can be
// resumed from across process boundaries. Supplements spec §4.6's
// in-process session binding with the JWT-style session resumption from
// original_source/security/jwt_manager.py, which the distilled spec
// dropped in favor of an opaque subject context.
type Token struct {
	Subject   Subject
	Database  string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type tokenPayload struct {
	Subject   Subject   `json:"subject"`
	Database  string    `json:"database"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// IssueToken signs a session for subject/database valid for ttl, using
// v's current-version HMAC key, mirroring the original's short-lived
// session tokens without adopting JWT's header/claims/signature wire
// format — the vault's Hmac already gives tamper-evidence.
func IssueToken(v *vault.Vault, subject Subject, database string, ttl time.Duration) (string, error) {
	now := time.Now()
	payload := tokenPayload{Subject: subject, Database: database, IssuedAt: now, ExpiresAt: now.Add(ttl)}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", apperrors.New(apperrors.KindUnknown, "securewrapper.IssueToken", err)
	}
	encoded := base64.RawURLEncoding.EncodeToString(raw)
	sig := v.Hmac([]byte(encoded))
	return fmt.Sprintf("%s.%s", encoded, base64.RawURLEncoding.EncodeToString(sig)), nil
}

// ParseToken validates the signature and expiry of a token minted by
// IssueToken and returns the embedded session claims.
func ParseToken(v *vault.Vault, token string) (Token, error) {
	parts := strings.SplitN(token, ".", 2)
	if len(parts) != 2 {
		return Token{}, apperrors.New(apperrors.KindInvalidConfig, "securewrapper.ParseToken", fmt.Errorf("malformed token"))
	}
	sig, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return Token{}, apperrors.New(apperrors.KindInvalidConfig, "securewrapper.ParseToken", err)
	}
	if !v.VerifyHmac([]byte(parts[0]), sig) {
		return Token{}, apperrors.New(apperrors.KindAuthenticationFailed, "securewrapper.ParseToken", fmt.Errorf("signature verification failed"))
	}
	raw, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return Token{}, apperrors.New(apperrors.KindInvalidConfig, "securewrapper.ParseToken", err)
	}
	var payload tokenPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return Token{}, apperrors.New(apperrors.KindInvalidConfig, "securewrapper.ParseToken", err)
	}
	if time.Now().After(payload.ExpiresAt) {
		return Token{}, apperrors.New(apperrors.KindAuthenticationFailed, "securewrapper.ParseToken", fmt.Errorf("session expired"))
	}
	return Token{Subject: payload.Subject, Database: payload.Database, IssuedAt: payload.IssuedAt, ExpiresAt: payload.ExpiresAt}, nil
}
