package auth

import (
	"context"
)

type contextKey string

const authContextKey contextKey = "relay_auth"

// AuthInfo holds authenticated identity information extracted from an API key.
type AuthInfo struct {
	KeyID         string
	Name          string
	AllowedModels []string
	RPMLimit      *int
	TPMLimit      *int
}

// ModelAllowed reports whether a key may request a specific model. An empty
// allow-list means every model is permitted.
func (a *AuthInfo) ModelAllowed(model string) bool {
	if len(a.AllowedModels) == 0 {
		return true
	}
	for _, m := range a.AllowedModels {
		if m == model {
			return true
		}
	}
	return false
}

func ContextWithAuth(ctx context.Context, info *AuthInfo) context.Context {
	return context.WithValue(ctx, authContextKey, info)
}

func AuthFromContext(ctx context.Context) (*AuthInfo, bool) {
	info, ok := ctx.Value(authContextKey).(*AuthInfo)
	return info, ok
}
