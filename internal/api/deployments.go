package api

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/hatchery-sh/hatchery/internal/engine"
	"github.com/hatchery-sh/hatchery/internal/model"
	"github.com/hatchery-sh/hatchery/internal/platform/maas"
	"github.com/hatchery-sh/hatchery/internal/store"
)

type submitRequest struct {
	MachineID    string   `json:"machine_id"`
	ImageID      string   `json:"image_id"`
	BootConfigID string   `json:"boot_config_id"`
	EggIDs       []string `json:"egg_ids"`
	EggGroupIDs  []string `json:"egg_group_ids"`
}

func (s *Server) handleSubmitDeployment(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid request body: "+err.Error())
		return
	}
	if req.MachineID == "" || req.ImageID == "" || req.BootConfigID == "" {
		writeBadRequest(w, "machine_id, image_id, and boot_config_id are required")
		return
	}

	d, err := s.engine.Submit(r.Context(), engine.SubmitRequest{
		MachineID:    req.MachineID,
		ImageID:      req.ImageID,
		BootConfigID: req.BootConfigID,
		EggIDs:       req.EggIDs,
		EggGroupIDs:  req.EggGroupIDs,
		Principal:    principal(r),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

func (s *Server) handleListDeployments(w http.ResponseWriter, r *http.Request) {
	filter := store.DeploymentFilter{
		MachineID: r.URL.Query().Get("machine_id"),
		Status:    model.DeploymentStatus(r.URL.Query().Get("status")),
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeBadRequest(w, "limit must be a non-negative integer")
			return
		}
		filter.Limit = limit
	}

	deployments, err := s.store.ListDeployments(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	if deployments == nil {
		deployments = []*model.Deployment{}
	}
	writeJSON(w, http.StatusOK, deployments)
}

func (s *Server) handleGetDeployment(w http.ResponseWriter, r *http.Request) {
	d, err := s.store.GetDeployment(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleCancelDeployment(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Cancel(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	d, err := s.store.GetDeployment(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleRetryDeployment(w http.ResponseWriter, r *http.Request) {
	d, err := s.engine.Retry(r.Context(), r.PathValue("id"), principal(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

func (s *Server) handleDeploymentLogs(w http.ResponseWriter, r *http.Request) {
	// A missing deployment is a 404, not an empty log.
	if _, err := s.store.GetDeployment(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	events, err := s.store.ListDeploymentEvents(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if events == nil {
		events = []*model.DeploymentEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

// handleWebhook ingests backend-pushed machine snapshots. The payload is
// identical to a poll row, and revision checking makes replays no-ops.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	secret := r.Header.Get("X-Hatchery-Secret")
	if subtle.ConstantTimeCompare([]byte(secret), []byte(s.webhookSecret)) != 1 {
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "invalid webhook secret", Code: "unauthorized"})
		return
	}

	// Backend payloads carry fields beyond the snapshot shape; unknown
	// keys are tolerated here, unlike in our own API bodies.
	var snap maas.MachineSnapshot
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(&snap); err != nil {
		writeBadRequest(w, "invalid snapshot body: "+err.Error())
		return
	}
	if snap.SystemID == "" {
		writeBadRequest(w, "system_id is required")
		return
	}

	if err := s.tracker.Observe(r.Context(), &snap); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
