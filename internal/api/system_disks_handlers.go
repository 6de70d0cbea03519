package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/jbweber/homelab/brain/internal/domain"
	"github.com/jbweber/homelab/brain/internal/efi"
	"github.com/jbweber/homelab/brain/internal/systemdisk"
	"github.com/jbweber/homelab/brain/internal/workflow"
)

// SystemDisks groups system disk handlers for testability
type SystemDisks struct {
	store SystemDisksStore
}

func NewSystemDisks(store SystemDisksStore) *SystemDisks {
	return &SystemDisks{store: store}
}

type SystemDiskResponse struct {
	ID          string `json:"id"`
	ImageID     string `json:"image_id"`
	GatewayID   string `json:"gateway_id"`
	GatewayIP   string `json:"gateway_ip"`
	Cluster     string `json:"cluster"`
	SizeGB      int64  `json:"size_gb"`
	Flatten     bool   `json:"flatten"`
	PoolPath    string `json:"pool_path"`
	BlockID     int64  `json:"block_id"`
	Description string `json:"description"`
}

// WorkflowResponse reports a finished disk workflow with its degradation flags
type WorkflowResponse struct {
	Disk            SystemDiskResponse `json:"system_disk"`
	FirstBootStatus workflow.Status    `json:"firstboot_status"`
	EFIStatus       workflow.Status    `json:"efi_status"`
	RemovedEntries  []efi.BootEntry    `json:"removed_boot_entries,omitempty"`
}

type RebuildRequest struct {
	ImageID string `json:"image_id"`
}

type DescriptionRequest struct {
	Description string `json:"description"`
}

func systemDiskResponse(d domain.SystemDisk) SystemDiskResponse {
	return SystemDiskResponse{
		ID:          d.ID,
		ImageID:     d.ImageID,
		GatewayID:   d.GatewayID,
		GatewayIP:   d.GatewayIP,
		Cluster:     d.Cluster,
		SizeGB:      d.SizeGB,
		Flatten:     d.Flatten,
		PoolPath:    d.PoolPath,
		BlockID:     d.BlockID,
		Description: d.Description,
	}
}

func workflowResponse(res systemdisk.Result) WorkflowResponse {
	return WorkflowResponse{
		Disk:            systemDiskResponse(res.Disk),
		FirstBootStatus: res.FirstBootStatus,
		EFIStatus:       res.EFIStatus,
		RemovedEntries:  res.RemovedEntries,
	}
}

func (s *SystemDisks) ListHandler(w http.ResponseWriter, r *http.Request) {
	disks, err := s.store.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	response := make([]SystemDiskResponse, len(disks))
	for i, d := range disks {
		response[i] = systemDiskResponse(d)
	}
	writeJSON(w, r, http.StatusOK, response)
}

func (s *SystemDisks) GetHandler(w http.ResponseWriter, r *http.Request) {
	d, err := s.store.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, systemDiskResponse(d))
}

func (s *SystemDisks) CreateHandler(w http.ResponseWriter, r *http.Request) {
	var req systemdisk.CreateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := s.store.Create(detach(r), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, workflowResponse(res))
}

func (s *SystemDisks) DeleteHandler(w http.ResponseWriter, r *http.Request) {
	res, err := s.store.Delete(detach(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, workflowResponse(res))
}

func (s *SystemDisks) RebuildHandler(w http.ResponseWriter, r *http.Request) {
	var req RebuildRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := s.store.Rebuild(detach(r), chi.URLParam(r, "id"), req.ImageID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, workflowResponse(res))
}

func (s *SystemDisks) UploadHandler(w http.ResponseWriter, r *http.Request) {
	var req systemdisk.UploadRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	img, err := s.store.Upload(detach(r), chi.URLParam(r, "id"), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, imageResponse(img))
}

func (s *SystemDisks) UpdateHandler(w http.ResponseWriter, r *http.Request) {
	var req DescriptionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	d, err := s.store.UpdateDescription(r.Context(), chi.URLParam(r, "id"), req.Description)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, systemDiskResponse(d))
}
