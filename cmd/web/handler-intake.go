package main

import (
	"net/http"

	"github.com/myrjola/callagent/internal/ai"
	"github.com/myrjola/callagent/internal/errors"
)

type parseIntakeRequest struct {
	Text string `json:"text"`
}

// parseIntake turns a freeform note into a structured intake proposal. The
// caller reviews the proposal before creating an investigation from it.
func (app *application) parseIntake(w http.ResponseWriter, r *http.Request) {
	var req parseIntakeRequest
	if err := app.readJSON(w, r, &req); err != nil {
		app.clientError(w, r, http.StatusBadRequest, "invalid JSON body")
		return
	}

	parsed, err := app.aiClient.ParseIntake(r.Context(), req.Text)
	if err != nil {
		if errors.Is(err, ai.ErrIntakeTooShort) || errors.Is(err, ai.ErrIntakeNoContacts) {
			app.clientError(w, r, http.StatusUnprocessableEntity, err.Error())
			return
		}
		app.serverError(w, r, err)
		return
	}
	app.writeJSON(w, r, http.StatusOK, parsed)
}
