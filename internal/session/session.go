// Package session holds the externally-minted sessions the gateway trusts.
// The hub does no authentication itself: an auth layer mints a session via
// the mint endpoint (or directly through Create) and hands the token to the
// client, which presents it on the socket handshake.
package session

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"
)

// CookieName is where browser clients carry the session token.
const CookieName = "calhub_session"

// Session is an authenticated user attached to a connection handshake.
type Session struct {
	UserID    string
	Email     string
	CreatedAt time.Time
}

// Source is the read side the gateway consumes.
type Source interface {
	Lookup(token string) (Session, bool)
}

// Store is an in-memory token-keyed session store with expiry.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]Session
	ttl      time.Duration
}

func NewStore(ttl time.Duration) *Store {
	return &Store{
		sessions: make(map[string]Session),
		ttl:      ttl,
	}
}

// Create stores a new session and returns its token.
func (s *Store) Create(userID, email string) (string, error) {
	token, err := generateToken()
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[token] = Session{
		UserID:    userID,
		Email:     email,
		CreatedAt: time.Now(),
	}
	return token, nil
}

// Lookup returns the session for a token if it exists and has not expired.
func (s *Store) Lookup(token string) (Session, bool) {
	s.mu.RLock()
	sess, ok := s.sessions[token]
	s.mu.RUnlock()
	if !ok {
		return Session{}, false
	}
	if s.ttl > 0 && time.Since(sess.CreatedAt) > s.ttl {
		s.mu.Lock()
		delete(s.sessions, token)
		s.mu.Unlock()
		return Session{}, false
	}
	return sess, true
}

// TokenFromRequest extracts the session token from the handshake request:
// the session cookie first, then an Authorization bearer token.
func TokenFromRequest(r *http.Request) string {
	if c, err := r.Cookie(CookieName); err == nil && c.Value != "" {
		return c.Value
	}
	auth := r.Header.Get("Authorization")
	if tok, ok := strings.CutPrefix(auth, "Bearer "); ok {
		return tok
	}
	return ""
}

// MintHandler lets an external auth layer mint socket sessions:
// POST {"userId": ..., "email": ...} with the shared key in X-Mint-Key.
// Responds {"token": ...}.
func MintHandler(store *Store, mintKey string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if mintKey == "" || r.Header.Get("X-Mint-Key") != mintKey {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		var body struct {
			UserID string `json:"userId"`
			Email  string `json:"email"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.UserID == "" || body.Email == "" {
			http.Error(w, "userId and email are required", http.StatusBadRequest)
			return
		}
		token, err := store.Create(body.UserID, body.Email)
		if err != nil {
			http.Error(w, "failed to create session", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"token": token})
	})
}

func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
