package api

import (
	"errors"
	"log"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/samber/lo"
	"github.com/susu3304/paycollect/internal/db"
	"github.com/susu3304/paycollect/internal/roster"
)

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type rosterResponse struct {
	*roster.Snapshot
	Unpaid []string `json:"unpaid_ids"`
}

func (a *API) handleRoster(w http.ResponseWriter, r *http.Request) {
	snap, err := a.roster.Get(r.Context())
	if errors.Is(err, roster.ErrUnavailable) {
		http.Error(w, "roster unavailable", http.StatusServiceUnavailable)
		return
	}
	if err != nil {
		log.Printf("api: failed to load roster: %v", err)
		http.Error(w, "failed to load roster", http.StatusInternalServerError)
		return
	}

	unpaid, _ := lo.Difference(snap.ParticipantIDs, snap.PaidIDs)
	writeJSON(w, http.StatusOK, rosterResponse{Snapshot: snap, Unpaid: unpaid})
}

func (a *API) handleListAssignments(w http.ResponseWriter, r *http.Request) {
	list, err := a.assignments.ListAssignments(r.Context())
	if err != nil {
		log.Printf("api: failed to list assignments: %v", err)
		http.Error(w, "failed to list assignments", http.StatusInternalServerError)
		return
	}

	switch r.URL.Query().Get("submitted") {
	case "true":
		list = lo.Filter(list, func(x db.Assignment, _ int) bool { return x.Submitted() })
	case "false":
		list = lo.Reject(list, func(x db.Assignment, _ int) bool { return x.Submitted() })
	}
	if list == nil {
		list = []db.Assignment{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (a *API) handleGetAssignment(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	asg, err := a.assignments.GetAssignment(r.Context(), key)
	if errors.Is(err, db.ErrNotFound) {
		http.Error(w, "assignment not found", http.StatusNotFound)
		return
	}
	if err != nil {
		log.Printf("api: failed to get assignment %s: %v", key, err)
		http.Error(w, "failed to get assignment", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, asg)
}

func (a *API) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.sync.Status())
}

// handleSyncNow runs one synchronization pass outside the poll schedule.
func (a *API) handleSyncNow(w http.ResponseWriter, r *http.Request) {
	if claims, ok := ClaimsFrom(r.Context()); ok {
		log.Printf("api: manual sync requested by %s (%s)", claims.Username, claims.UserID)
	}
	changed, err := a.sync.SyncOnce(r.Context())
	if err != nil {
		log.Printf("api: manual sync failed: %v", err)
		writeJSON(w, http.StatusBadGateway, map[string]interface{}{
			"error":  err.Error(),
			"status": a.sync.Status(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"changed": changed,
		"status":  a.sync.Status(),
	})
}
