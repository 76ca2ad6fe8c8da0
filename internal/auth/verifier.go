package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/life-stream-dev/life-stream-go-chat-relay/internal/connection"
	"github.com/life-stream-dev/life-stream-go-chat-relay/internal/database"
	"github.com/life-stream-dev/life-stream-go-chat-relay/internal/logger"
)

// Verifier turns a session token into a connection identity. Users that no longer
// exist are rejected; lookups are cached for a short time.
type Verifier struct {
	tokens *Tokens
	users  database.UserStore
	cache  *expirable.LRU[string, connection.Identity]
}

func NewVerifier(tokens *Tokens, users database.UserStore, cacheSize int, cacheTTL time.Duration) *Verifier {
	if cacheSize <= 0 {
		cacheSize = 1024
	}
	return &Verifier{
		tokens: tokens,
		users:  users,
		cache:  expirable.NewLRU[string, connection.Identity](cacheSize, nil, cacheTTL),
	}
}

func (v *Verifier) Verify(ctx context.Context, credential string) (connection.Identity, error) {
	claims, err := v.tokens.Parse(credential)
	if err != nil {
		return connection.Identity{}, err
	}

	if identity, ok := v.cache.Get(claims.UserID); ok {
		return identity, nil
	}

	user, err := v.users.FindByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, database.ErrUserNotFound) {
			return connection.Identity{}, fmt.Errorf("%w: %w", ErrInvalidCredential, err)
		}
		return connection.Identity{}, err
	}

	identity := connection.Identity{UserID: user.ID.Hex(), Username: user.Username}
	v.cache.Add(claims.UserID, identity)
	logger.DebugF("Identity %s (%s) verified", identity.UserID, identity.Username)
	return identity, nil
}

// Forget drops a cached identity, e.g. after account removal.
func (v *Verifier) Forget(userID string) {
	v.cache.Remove(userID)
}

// CredentialFromRequest extracts the session token from the named cookie.
func CredentialFromRequest(r *http.Request, cookieName string) string {
	cookie, err := r.Cookie(cookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}
