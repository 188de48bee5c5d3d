package main

import (
	"net/http"
	"time"

	"github.com/justinas/alice"
)

func (app *application) routes() http.Handler {
	mux := http.NewServeMux()

	// The event stream is exempt from the handler timeout; everything else
	// must respond promptly.
	bounded := alice.New(func(next http.Handler) http.Handler {
		return timeoutHandler(next, 10*time.Second)
	})

	mux.Handle("GET /api/healthy", bounded.ThenFunc(app.healthy))
	mux.Handle("POST /api/intake/parse", bounded.ThenFunc(app.parseIntake))
	mux.Handle("POST /api/investigations", bounded.ThenFunc(app.createInvestigation))
	mux.Handle("POST /api/investigations/{id}/start", bounded.ThenFunc(app.startInvestigation))
	mux.Handle("GET /api/investigations/{id}", bounded.ThenFunc(app.getInvestigation))
	mux.Handle("GET /api/investigations/{id}/results", bounded.ThenFunc(app.getResults))
	mux.Handle("GET /api/investigations/{id}/events", http.HandlerFunc(app.streamEvents))

	return app.recoverPanic(app.logRequest(secureHeaders(mux)))
}
