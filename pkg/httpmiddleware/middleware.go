// Package httpmiddleware provides net/http middlewares shared by every
// OctoHub server.
package httpmiddleware

import "net/http"

// Middleware wraps an http.Handler.
type Middleware func(http.Handler) http.Handler

// Wrap applies middlewares to h. The first middleware is the outermost one,
// so Wrap(h, a, b) serves requests as a(b(h)).
func Wrap(h http.Handler, middlewares ...Middleware) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

// Chain composes middlewares into one, in the same order as Wrap.
func Chain(middlewares ...Middleware) Middleware {
	return func(h http.Handler) http.Handler {
		return Wrap(h, middlewares...)
	}
}
