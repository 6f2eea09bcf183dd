package api

import (
	"net/http"
	"sync"

	"golang.org/x/time/rate"

	"github.com/vault-engine/internal/types"
)

// RateLimiter manages rate limiting for API requests
type RateLimiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.RWMutex

	// Rate limits per caller role (requests per second)
	userLimit     rate.Limit
	operatorLimit rate.Limit

	// Burst size (number of requests that can be made in a burst)
	burstSize int
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(userRPS, operatorRPS int) *RateLimiter {
	return &RateLimiter{
		limiters:      make(map[string]*rate.Limiter),
		userLimit:     rate.Limit(userRPS),
		operatorLimit: rate.Limit(operatorRPS),
		burstSize:     10, // Allow bursts of 10 requests
	}
}

// getLimiter returns the rate limiter for a specific account and role
func (rl *RateLimiter) getLimiter(accountID string, role types.AccountRole) *rate.Limiter {
	rl.mu.RLock()
	limiter, exists := rl.limiters[accountID]
	rl.mu.RUnlock()

	if exists {
		return limiter
	}

	var limit rate.Limit
	switch role {
	case types.RoleOperator:
		limit = rl.operatorLimit
	default:
		limit = rl.userLimit
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	// Double-check in case another goroutine created it
	if limiter, exists := rl.limiters[accountID]; exists {
		return limiter
	}

	limiter = rate.NewLimiter(limit, rl.burstSize)
	rl.limiters[accountID] = limiter

	return limiter
}

// RateLimitMiddleware creates a middleware that enforces rate limiting
func RateLimitMiddleware(rl *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			accountID := r.Header.Get("X-Account-ID")
			if accountID == "" {
				// No account ID - fall back to the caller's address
				accountID = r.RemoteAddr
			}

			role := types.AccountRole(r.Header.Get("X-Account-Role"))
			if role == "" {
				role = types.RoleUser
			}

			limiter := rl.getLimiter(accountID, role)

			if !limiter.Allow() {
				respondJSON(w, http.StatusTooManyRequests, ErrorResponse{Error: &types.ServiceError{
					Code:    "RATE_LIMIT_EXCEEDED",
					Message: "Rate limit exceeded. Please try again later.",
					Details: map[string]interface{}{
						"role":  role,
						"limit": limiter.Limit(),
					},
				}})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
