package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/jbweber/homelab/brain/internal/domain"
	"github.com/jbweber/homelab/brain/internal/efi"
	"github.com/jbweber/homelab/brain/internal/service"
)

// Hosts groups host handlers for testability
type Hosts struct {
	store HostsStore
}

func NewHosts(store HostsStore) *Hosts {
	return &Hosts{store: store}
}

// HostResponse is the public form of a host. The saved password is never returned.
type HostResponse struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Description    string `json:"description"`
	IP             string `json:"ip"`
	MAC            string `json:"mac"`
	Gateway        string `json:"gateway"`
	BMCIP          string `json:"bmc_ip,omitempty"`
	OSUser         string `json:"os_user,omitempty"`
	HasCredentials bool   `json:"has_credentials"`
}

type CredentialsRequest struct {
	User     string `json:"user"`
	Password string `json:"password"`
}

type BootNextRequest struct {
	BootNum string `json:"boot_num"` // four hex digits, e.g. 0003
}

type CleanupResponse struct {
	Removed []efi.BootEntry `json:"removed"`
}

func (h *Hosts) response(host domain.Host) HostResponse {
	return HostResponse{
		ID:             host.ID,
		Name:           host.Name,
		Description:    host.Description,
		IP:             host.IP,
		MAC:            host.MAC,
		Gateway:        host.Gateway,
		BMCIP:          h.store.BMCAddress(host),
		OSUser:         host.OSUser,
		HasCredentials: host.HasCredentials(),
	}
}

func (h *Hosts) ListHandler(w http.ResponseWriter, r *http.Request) {
	hosts, err := h.store.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	response := make([]HostResponse, len(hosts))
	for i, host := range hosts {
		response[i] = h.response(host)
	}
	writeJSON(w, r, http.StatusOK, response)
}

func (h *Hosts) CreateHandler(w http.ResponseWriter, r *http.Request) {
	var req service.HostRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	host, err := h.store.Register(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, h.response(host))
}

func (h *Hosts) GetHandler(w http.ResponseWriter, r *http.Request) {
	host, err := h.store.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, h.response(host))
}

func (h *Hosts) UpdateHandler(w http.ResponseWriter, r *http.Request) {
	var patch service.HostPatch
	if !decodeJSON(w, r, &patch) {
		return
	}
	host, err := h.store.Update(r.Context(), chi.URLParam(r, "id"), patch)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, h.response(host))
}

func (h *Hosts) DeleteHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Hosts) CredentialsHandler(w http.ResponseWriter, r *http.Request) {
	var req CredentialsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	host, err := h.store.SetCredentials(r.Context(), chi.URLParam(r, "id"), req.User, req.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, h.response(host))
}

func (h *Hosts) BootEntriesHandler(w http.ResponseWriter, r *http.Request) {
	table, err := h.store.BootEntries(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeUpstreamError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, table)
}

func (h *Hosts) BootNextHandler(w http.ResponseWriter, r *http.Request) {
	var req BootNextRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	num, err := strconv.ParseUint(req.BootNum, 16, 16)
	if err != nil {
		writeJSON(w, r, http.StatusBadRequest, ErrorResponse{Error: "boot_num must be a hex boot entry number"})
		return
	}
	if err := h.store.SetBootNext(detach(r), chi.URLParam(r, "id"), uint16(num)); err != nil {
		writeUpstreamError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Hosts) VerifyHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.store.VerifyCredentials(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeUpstreamError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]bool{"verified": true})
}

func (h *Hosts) CleanupHandler(w http.ResponseWriter, r *http.Request) {
	removed, err := h.store.CleanupBootEntries(detach(r), chi.URLParam(r, "id"))
	if err != nil {
		writeUpstreamError(w, r, err)
		return
	}
	if removed == nil {
		removed = []efi.BootEntry{}
	}
	writeJSON(w, r, http.StatusOK, CleanupResponse{Removed: removed})
}
