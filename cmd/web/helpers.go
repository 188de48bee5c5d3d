package main

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/myrjola/callagent/internal/errors"
)

const maxRequestBody = 1 << 20

func (app *application) serverError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		method = r.Method
		uri    = r.URL.RequestURI()
	)

	app.logger.LogAttrs(r.Context(), slog.LevelError, "server error",
		slog.String("method", method), slog.String("uri", uri), errors.SlogError(err))
	app.writeJSON(w, r, http.StatusInternalServerError,
		map[string]string{"error": http.StatusText(http.StatusInternalServerError)})
}

func (app *application) clientError(w http.ResponseWriter, r *http.Request, status int, message string) {
	var (
		method = r.Method
		uri    = r.URL.RequestURI()
	)

	app.logger.Debug(message, "method", method, "uri", uri, "status", status)
	app.writeJSON(w, r, status, map[string]string{"error": message})
}

func (app *application) notFound(w http.ResponseWriter, r *http.Request) {
	app.clientError(w, r, http.StatusNotFound, http.StatusText(http.StatusNotFound))
}

func (app *application) writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		app.logger.LogAttrs(r.Context(), slog.LevelError, "encode response", errors.SlogError(err))
	}
}

// readJSON decodes the request body into v. The body is capped so a broken
// client cannot exhaust memory.
func (app *application) readJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(v); err != nil {
		return errors.Wrap(err, "decode request body")
	}
	return nil
}
