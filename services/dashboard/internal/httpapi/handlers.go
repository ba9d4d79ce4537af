package httpapi

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"floorsight/services/dashboard/internal/feed"
	"floorsight/services/dashboard/internal/queue"
)

// overview is the combined payload the dashboard loads on startup and
// receives over the event stream. Chart history stays out of it; clients
// fetch that per machine.
type overview struct {
	Machines []feed.Snapshot `json:"machines"`
	Queue    []queue.Item    `json:"queue"`
	Activity []feed.Event    `json:"activity"`
}

// overviewActivityLimit bounds the activity slice carried by overview
// payloads; the full log stays available under /v1/activity.
const overviewActivityLimit = 20

func (a *API) overview() overview {
	ids := a.agg.Machines()
	machines := make([]feed.Snapshot, 0, len(ids))
	for _, id := range ids {
		if snap, ok := a.agg.LatestSnapshot(id); ok {
			machines = append(machines, snap)
		}
	}

	activity := a.agg.ActivityLog()
	if len(activity) > overviewActivityLimit {
		activity = activity[:overviewActivityLimit]
	}

	return overview{
		Machines: machines,
		Queue:    a.agg.QueueSnapshot(),
		Activity: activity,
	}
}

func (a *API) handleOverview(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, a.overview())
}

func (a *API) handleMachines(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"machines": a.agg.Machines()})
}

func (a *API) handleMachine(w http.ResponseWriter, r *http.Request) {
	machineID := chi.URLParam(r, "machineID")
	snap, ok := a.agg.LatestSnapshot(machineID)
	if !ok {
		respondError(w, http.StatusNotFound, errors.New("unknown machine"))
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"snapshot": snap})
}

func (a *API) handleHistory(w http.ResponseWriter, r *http.Request) {
	machineID := chi.URLParam(r, "machineID")
	respondJSON(w, http.StatusOK, map[string]any{"history": a.agg.History(machineID)})
}

func (a *API) handleMarkers(w http.ResponseWriter, r *http.Request) {
	machineID := chi.URLParam(r, "machineID")
	switch r.URL.Query().Get("kind") {
	case "":
		respondJSON(w, http.StatusOK, map[string]any{
			"predictions": a.agg.PredictionMarkers(machineID),
			"failures":    a.agg.FailureMarkers(machineID),
		})
	case "prediction":
		respondJSON(w, http.StatusOK, map[string]any{
			"predictions": a.agg.PredictionMarkers(machineID),
		})
	case "failure":
		respondJSON(w, http.StatusOK, map[string]any{
			"failures": a.agg.FailureMarkers(machineID),
		})
	default:
		respondError(w, http.StatusBadRequest, errors.New("kind must be prediction or failure"))
	}
}

func (a *API) handleActivity(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"events": a.agg.ActivityLog()})
}

func (a *API) handleClearActivity(w http.ResponseWriter, _ *http.Request) {
	a.agg.ClearActivity()
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleQueue(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"queue": a.agg.QueueSnapshot()})
}
