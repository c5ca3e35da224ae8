package httpserver

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/time/rate"

	"papervenue/internal/auth"
	"papervenue/internal/httputil"
)

type ctxKey string

const userIDKey ctxKey = "user_id"

func WithAuth(svc *auth.Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authz := r.Header.Get("Authorization")
			parts := strings.SplitN(authz, " ", 2)
			if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
				httputil.WriteJSON(w, http.StatusUnauthorized, httputil.ErrorResponse{Error: "missing bearer token"})
				return
			}
			userID, err := svc.ParseToken(parts[1])
			if err != nil {
				httputil.WriteJSON(w, http.StatusUnauthorized, httputil.ErrorResponse{Error: "invalid token"})
				return
			}
			ctx := context.WithValue(r.Context(), userIDKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func UserID(r *http.Request) (int64, bool) {
	v := r.Context().Value(userIDKey)
	if v == nil {
		return 0, false
	}
	id, ok := v.(int64)
	return id, ok
}

// OrderRateLimiter throttles order submission per user with a token bucket.
type OrderRateLimiter struct {
	mu       sync.Mutex
	limiters map[int64]*rate.Limiter
	r        rate.Limit
	burst    int
}

func NewOrderRateLimiter(perSecond float64, burst int) *OrderRateLimiter {
	return &OrderRateLimiter{
		limiters: make(map[int64]*rate.Limiter),
		r:        rate.Limit(perSecond),
		burst:    burst,
	}
}

func (l *OrderRateLimiter) limiter(userID int64) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[userID]
	if !ok {
		lim = rate.NewLimiter(l.r, l.burst)
		l.limiters[userID] = lim
	}
	return lim
}

func (l *OrderRateLimiter) Allow(userID int64) bool {
	return l.limiter(userID).Allow()
}

func (l *OrderRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := UserID(r)
		if ok && !l.Allow(userID) {
			httputil.WriteJSON(w, http.StatusTooManyRequests, httputil.ErrorResponse{Error: "too many orders"})
			return
		}
		next.ServeHTTP(w, r)
	})
}
