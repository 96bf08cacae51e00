package api

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/hatchery-sh/hatchery/internal/model"
)

// Machines are owned by the tracker; the API exposes them read-only.

func (s *Server) handleListMachines(w http.ResponseWriter, r *http.Request) {
	includeRemoved := r.URL.Query().Get("include_removed") == "true"
	machines, err := s.store.ListMachines(r.Context(), includeRemoved)
	if err != nil {
		writeError(w, err)
		return
	}
	if machines == nil {
		machines = []*model.Machine{}
	}
	writeJSON(w, http.StatusOK, machines)
}

func (s *Server) handleGetMachine(w http.ResponseWriter, r *http.Request) {
	m, err := s.store.GetMachine(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleListEggs(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") == "true"
	eggs, err := s.store.ListEggs(r.Context(), activeOnly)
	if err != nil {
		writeError(w, err)
		return
	}
	if eggs == nil {
		eggs = []*model.Egg{}
	}
	writeJSON(w, http.StatusOK, eggs)
}

func (s *Server) handleCreateEgg(w http.ResponseWriter, r *http.Request) {
	var egg model.Egg
	if err := decodeJSON(r, &egg); err != nil {
		writeBadRequest(w, "invalid request body: "+err.Error())
		return
	}
	if egg.Name == "" || egg.Type == "" {
		writeBadRequest(w, "name and type are required")
		return
	}
	switch egg.Type {
	case model.EggSnap, model.EggCloudInit, model.EggLXDContainer, model.EggLXDVM:
	default:
		writeBadRequest(w, "unknown egg type "+string(egg.Type))
		return
	}
	if egg.ID == "" {
		egg.ID = uuid.NewString()
	}
	if err := s.store.CreateEgg(r.Context(), &egg); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, &egg)
}

func (s *Server) handleGetEgg(w http.ResponseWriter, r *http.Request) {
	egg, err := s.store.GetEgg(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, egg)
}

func (s *Server) handleUpdateEgg(w http.ResponseWriter, r *http.Request) {
	var egg model.Egg
	if err := decodeJSON(r, &egg); err != nil {
		writeBadRequest(w, "invalid request body: "+err.Error())
		return
	}
	egg.ID = r.PathValue("id")
	if egg.Name == "" || egg.Type == "" {
		writeBadRequest(w, "name and type are required")
		return
	}
	if err := s.store.UpdateEgg(r.Context(), &egg); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, &egg)
}

func (s *Server) handleDeleteEgg(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteEgg(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListEggGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := s.store.ListEggGroups(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if groups == nil {
		groups = []*model.EggGroup{}
	}
	writeJSON(w, http.StatusOK, groups)
}

func (s *Server) handleCreateEggGroup(w http.ResponseWriter, r *http.Request) {
	var group model.EggGroup
	if err := decodeJSON(r, &group); err != nil {
		writeBadRequest(w, "invalid request body: "+err.Error())
		return
	}
	if group.Name == "" {
		writeBadRequest(w, "name is required")
		return
	}
	if len(group.EggIDs) == 0 {
		writeBadRequest(w, "egg_ids must not be empty")
		return
	}
	if group.ID == "" {
		group.ID = uuid.NewString()
	}
	if err := s.store.CreateEggGroup(r.Context(), &group); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, &group)
}

func (s *Server) handleGetEggGroup(w http.ResponseWriter, r *http.Request) {
	group, err := s.store.GetEggGroup(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, group)
}

func (s *Server) handleDeleteEggGroup(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteEggGroup(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListImages(w http.ResponseWriter, r *http.Request) {
	images, err := s.store.ListImages(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if images == nil {
		images = []*model.Image{}
	}
	writeJSON(w, http.StatusOK, images)
}

// handleCreateImage registers an image manually, outside the upstream sync
// pipeline. Manually registered images default to testing: they still have
// to pass a validation deployment before the engine treats them as active.
func (s *Server) handleCreateImage(w http.ResponseWriter, r *http.Request) {
	var img model.Image
	if err := decodeJSON(r, &img); err != nil {
		writeBadRequest(w, "invalid request body: "+err.Error())
		return
	}
	if img.Name == "" || img.Version == "" || img.Architecture == "" {
		writeBadRequest(w, "name, version, and architecture are required")
		return
	}
	if img.ID == "" {
		img.ID = uuid.NewString()
	}
	if img.Status == "" {
		img.Status = model.ImageTesting
	}
	if err := s.store.CreateImage(r.Context(), &img); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, &img)
}

func (s *Server) handleGetImage(w http.ResponseWriter, r *http.Request) {
	img, err := s.store.GetImage(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, img)
}

func (s *Server) handleDeleteImage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	img, err := s.store.GetImage(ctx, id)
	if err != nil {
		writeError(w, err)
		return
	}
	if img.Status == model.ImageActive {
		writeJSON(w, http.StatusConflict, errorBody{
			Error: "cannot delete the active image for a track; promote a replacement first",
			Code:  "conflict",
		})
		return
	}
	active, err := s.store.CountActiveDeploymentsForImage(ctx, id)
	if err != nil {
		writeError(w, err)
		return
	}
	if active > 0 {
		writeJSON(w, http.StatusConflict, errorBody{
			Error: "image is referenced by an active deployment",
			Code:  "conflict",
		})
		return
	}
	if err := s.store.DeleteImage(ctx, id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListBootConfigs(w http.ResponseWriter, r *http.Request) {
	configs, err := s.store.ListBootConfigs(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if configs == nil {
		configs = []*model.BootConfig{}
	}
	writeJSON(w, http.StatusOK, configs)
}

func (s *Server) handleCreateBootConfig(w http.ResponseWriter, r *http.Request) {
	var bc model.BootConfig
	if err := decodeJSON(r, &bc); err != nil {
		writeBadRequest(w, "invalid request body: "+err.Error())
		return
	}
	if msg := validateBootConfig(&bc); msg != "" {
		writeBadRequest(w, msg)
		return
	}
	if bc.ID == "" {
		bc.ID = uuid.NewString()
	}
	if err := s.store.CreateBootConfig(r.Context(), &bc); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, &bc)
}

func (s *Server) handleGetBootConfig(w http.ResponseWriter, r *http.Request) {
	bc, err := s.store.GetBootConfig(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bc)
}

func (s *Server) handleUpdateBootConfig(w http.ResponseWriter, r *http.Request) {
	var bc model.BootConfig
	if err := decodeJSON(r, &bc); err != nil {
		writeBadRequest(w, "invalid request body: "+err.Error())
		return
	}
	bc.ID = r.PathValue("id")
	if msg := validateBootConfig(&bc); msg != "" {
		writeBadRequest(w, msg)
		return
	}
	if err := s.store.UpdateBootConfig(r.Context(), &bc); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, &bc)
}

func (s *Server) handleDeleteBootConfig(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteBootConfig(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func validateBootConfig(bc *model.BootConfig) string {
	if bc.Name == "" || bc.Template == "" {
		return "name and template are required"
	}
	switch bc.BootType {
	case model.BootUEFI, model.BootBIOS, model.BootBoth:
		return ""
	default:
		return "boot_type must be uefi, bios, or both"
	}
}
