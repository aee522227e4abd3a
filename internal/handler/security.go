package handler

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// APIKeyHeader carries the admin API key.
const APIKeyHeader = "api_key"

// SecurityHandler authenticates admin requests. Keys are never stored:
// only their HMAC-SHA256 under a server-side pepper is configured.
type SecurityHandler struct {
	pepper []byte
	hashes [][]byte
}

// NewSecurityHandler accepts hex-encoded key hashes; malformed entries are
// skipped. With no valid hashes every admin request is rejected.
func NewSecurityHandler(pepper []byte, hexHashes []string) *SecurityHandler {
	s := &SecurityHandler{pepper: pepper}
	for _, h := range hexHashes {
		b, err := hex.DecodeString(strings.TrimSpace(h))
		if err != nil || len(b) != sha256.Size {
			continue
		}
		s.hashes = append(s.hashes, b)
	}
	return s
}

// HashKey returns the hex digest to configure for key.
func HashKey(pepper []byte, key string) string {
	mac := hmac.New(sha256.New, pepper)
	mac.Write([]byte(key))
	return hex.EncodeToString(mac.Sum(nil))
}

// Authenticate reports whether key matches a configured hash. Every hash
// is compared in constant time.
func (s *SecurityHandler) Authenticate(key string) bool {
	if key == "" {
		return false
	}
	mac := hmac.New(sha256.New, s.pepper)
	mac.Write([]byte(key))
	sum := mac.Sum(nil)

	match := 0
	for _, h := range s.hashes {
		match |= subtle.ConstantTimeCompare(sum, h)
	}
	return match == 1
}

// Middleware rejects requests without a valid api_key header or bearer token.
func (s *SecurityHandler) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(APIKeyHeader)
		if key == "" {
			key = strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
		}
		if !s.Authenticate(key) {
			zctx.From(r.Context()).Debug("Admin request rejected", zap.Bool("key_present", key != ""))
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}
