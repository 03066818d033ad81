package server

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"tailscale.com/client/tailscale/apitype"
)

// UserInfo identifies the caller.
type UserInfo struct {
	Login       string `json:"login"`
	DisplayName string `json:"display_name"`
}

type ctxKey int

const (
	userIDKey ctxKey = iota
	userInfoKey
)

var devUser = UserInfo{Login: "local", DisplayName: "Local Dev User"}

// DevIdentity attributes every request to the local development user (ID 1).
func DevIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), userIDKey, 1)
		ctx = context.WithValue(ctx, userInfoKey, devUser)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userIDFromContext(r *http.Request) int {
	if id, ok := r.Context().Value(userIDKey).(int); ok {
		return id
	}
	return 1
}

func userInfoFromContext(r *http.Request) UserInfo {
	if info, ok := r.Context().Value(userInfoKey).(UserInfo); ok {
		return info
	}
	return devUser
}

// RequestUserID returns the user ID the identity middleware attached to r.
func RequestUserID(r *http.Request) int {
	return userIDFromContext(r)
}

// WhoIser resolves a tailnet peer address, as the tsnet local client does.
type WhoIser interface {
	WhoIs(ctx context.Context, remoteAddr string) (*apitype.WhoIsResponse, error)
}

// UserResolver maps a login to a stored user ID.
type UserResolver interface {
	GetOrCreateUser(ctx context.Context, login, displayName string) (int, error)
}

// TailscaleIdentity attributes each request to the tailnet user behind the
// connection. Resolved logins are cached for the life of the process.
func TailscaleIdentity(who WhoIser, users UserResolver, log *slog.Logger) func(http.Handler) http.Handler {
	var cache sync.Map // login -> int
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res, err := who.WhoIs(r.Context(), r.RemoteAddr)
			if err != nil || res.UserProfile == nil {
				log.Warn("whois failed", "remote", r.RemoteAddr, "error", err)
				writeJSON(w, http.StatusForbidden, map[string]string{"error": "unknown tailnet peer"})
				return
			}
			info := UserInfo{Login: res.UserProfile.LoginName, DisplayName: res.UserProfile.DisplayName}

			id, ok := cache.Load(info.Login)
			if !ok {
				uid, err := users.GetOrCreateUser(r.Context(), info.Login, info.DisplayName)
				if err != nil {
					log.Error("resolving user", "login", info.Login, "error", err)
					writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "resolving user"})
					return
				}
				cache.Store(info.Login, uid)
				id = uid
			}

			ctx := context.WithValue(r.Context(), userIDKey, id.(int))
			ctx = context.WithValue(ctx, userInfoKey, info)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, userInfoFromContext(r))
}
