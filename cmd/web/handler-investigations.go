package main

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/myrjola/callagent/internal/errors"
	"github.com/myrjola/callagent/internal/logging"
	"github.com/myrjola/callagent/internal/models"
	"github.com/myrjola/callagent/internal/repositories"
)

type createInvestigationRequest struct {
	Requirement string                `json:"requirement"`
	Concurrency int                   `json:"concurrency"`
	Contacts    []models.ContactInput `json:"contacts"`
}

func (app *application) createInvestigation(w http.ResponseWriter, r *http.Request) {
	var req createInvestigationRequest
	if err := app.readJSON(w, r, &req); err != nil {
		app.clientError(w, r, http.StatusBadRequest, "invalid JSON body")
		return
	}

	req.Requirement = strings.TrimSpace(req.Requirement)
	if req.Requirement == "" {
		app.clientError(w, r, http.StatusUnprocessableEntity, "requirement is required")
		return
	}
	if len(req.Contacts) == 0 {
		app.clientError(w, r, http.StatusUnprocessableEntity, "at least one contact is required")
		return
	}
	for _, contact := range req.Contacts {
		if strings.TrimSpace(contact.Name) == "" || strings.TrimSpace(contact.Phone) == "" {
			app.clientError(w, r, http.StatusUnprocessableEntity, "every contact needs a name and a phone number")
			return
		}
	}

	id, err := app.investigations.Create(r.Context(), req.Requirement, req.Concurrency, req.Contacts)
	if err != nil {
		app.serverError(w, r, err)
		return
	}
	app.writeJSON(w, r, http.StatusCreated, map[string]string{"id": id})
}

// startInvestigation kicks off the calls in the background and responds
// immediately. Progress is observable through the event stream.
func (app *application) startInvestigation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	investigation, err := app.investigations.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, repositories.ErrInvestigationNotFound) {
			app.notFound(w, r)
			return
		}
		app.serverError(w, r, err)
		return
	}
	if investigation.Status == models.InvestigationStatusRunning {
		app.clientError(w, r, http.StatusConflict, "investigation is already running")
		return
	}

	// The run outlives the request, so it gets a fresh context.
	runCtx := logging.WithAttrs(context.Background(), slog.String("investigation_id", id))
	go func() {
		if runErr := app.orchestrator.RunInvestigation(runCtx, id); runErr != nil {
			app.logger.LogAttrs(runCtx, slog.LevelError, "investigation run failed", errors.SlogError(runErr))
		}
	}()

	app.writeJSON(w, r, http.StatusAccepted, map[string]string{"id": id, "status": "starting"})
}

func (app *application) getInvestigation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	snapshot, err := app.investigations.Snapshot(r.Context(), id)
	if err != nil {
		if errors.Is(err, repositories.ErrInvestigationNotFound) {
			app.notFound(w, r)
			return
		}
		app.serverError(w, r, err)
		return
	}
	app.writeJSON(w, r, http.StatusOK, snapshot)
}

func (app *application) getResults(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	results, err := app.investigations.Results(r.Context(), id)
	if err != nil {
		if errors.Is(err, repositories.ErrInvestigationNotFound) {
			app.notFound(w, r)
			return
		}
		app.serverError(w, r, err)
		return
	}
	app.writeJSON(w, r, http.StatusOK, results)
}
