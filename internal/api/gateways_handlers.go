package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/jbweber/homelab/brain/internal/domain"
	"github.com/jbweber/homelab/brain/internal/service"
)

// Gateways groups gateway handlers for testability
type Gateways struct {
	store GatewaysStore
}

func NewGateways(store GatewaysStore) *Gateways {
	return &Gateways{store: store}
}

type GatewayResponse struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	Description      string `json:"description"`
	IP               string `json:"ip"`
	HostID           string `json:"host_id"`
	CloudDiskEnabled bool   `json:"clouddisk_enable"`
}

func gatewayResponse(g domain.Gateway) GatewayResponse {
	return GatewayResponse{
		ID:               g.ID,
		Name:             g.Name,
		Description:      g.Description,
		IP:               g.IP,
		HostID:           g.HostID,
		CloudDiskEnabled: g.CloudDiskEnabled,
	}
}

func (g *Gateways) ListHandler(w http.ResponseWriter, r *http.Request) {
	gateways, err := g.store.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	response := make([]GatewayResponse, len(gateways))
	for i, gw := range gateways {
		response[i] = gatewayResponse(gw)
	}
	writeJSON(w, r, http.StatusOK, response)
}

func (g *Gateways) CreateHandler(w http.ResponseWriter, r *http.Request) {
	var req service.GatewayRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	gw, err := g.store.Register(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, gatewayResponse(gw))
}

func (g *Gateways) GetHandler(w http.ResponseWriter, r *http.Request) {
	gw, err := g.store.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, gatewayResponse(gw))
}

func (g *Gateways) UpdateHandler(w http.ResponseWriter, r *http.Request) {
	var patch service.GatewayPatch
	if !decodeJSON(w, r, &patch) {
		return
	}
	gw, err := g.store.Update(detach(r), chi.URLParam(r, "id"), patch)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, gatewayResponse(gw))
}

func (g *Gateways) DeleteHandler(w http.ResponseWriter, r *http.Request) {
	if err := g.store.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
