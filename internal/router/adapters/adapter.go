// Package adapters implements the backend adapter contract: one call to one
// upstream provider, converted to the canonical request/response types and a
// classified error. Adapters hold no routing state; all failure bookkeeping
// happens in the router stores based on the returned error class.
package adapters

import (
	"context"

	"github.com/af-corp/relay-router/internal/types"
)

// Adapter performs a single provider call. Implementations must be
// side-effect free beyond the HTTP call itself: no shared mutable state with
// the routing core.
type Adapter interface {
	Name() string
	// Invoke sends the request to the given provider model and returns the
	// normalized response. Failures are returned as *Error so the caller can
	// classify them (rate limited / transient / fatal).
	Invoke(ctx context.Context, model string, req *types.RelayRequest) (*types.RelayResponse, error)
}
