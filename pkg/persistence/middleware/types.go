package middleware

import "github.com/aretw0/remodel/pkg/ports"

// Middleware allows wrapping a Backend to add behavior.
type Middleware func(ports.Backend) ports.Backend

// Chain applies middlewares so that the first one is the outermost.
func Chain(b ports.Backend, mws ...Middleware) ports.Backend {
	for i := len(mws) - 1; i >= 0; i-- {
		b = mws[i](b)
	}
	return b
}
