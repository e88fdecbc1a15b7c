// Package handlers contains the HTTP handlers for the campaign API: order
// creation for the checkout widget, the Razorpay webhook receiver and the
// public campaign stats endpoint.
//
// Handlers depend on small interfaces declared next to them, so tests can
// substitute fakes without touching storage or the gateway.
package handlers

import (
	"time"

	"github.com/go-chi/chi/v5"

	"campaignfund/internal/core"
)

// isoMillis is the timestamp layout used in response bodies.
const isoMillis = "2006-01-02T15:04:05.000Z07:00"

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(isoMillis)
}

// routeRegistrar is implemented by every handler in this package.
type routeRegistrar interface {
	RegisterRoutes(r chi.Router)
}

// Registrar adapts a handler to core.RouteRegistrar.
func Registrar(h routeRegistrar) core.RouteRegistrar {
	return h.RegisterRoutes
}
