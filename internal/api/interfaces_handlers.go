package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/jbweber/homelab/brain/internal/domain"
	"github.com/jbweber/homelab/brain/internal/service"
)

// Interfaces groups network interface handlers for testability
type Interfaces struct {
	store InterfacesStore
}

func NewInterfaces(store InterfacesStore) *Interfaces {
	return &Interfaces{store: store}
}

type InterfaceResponse struct {
	ID          string   `json:"id"`
	GatewayID   string   `json:"gateway_id"`
	IP          string   `json:"ip"`
	VLAN        int      `json:"vlan"`
	Gateway     string   `json:"gateway"`
	MTU         int      `json:"mtu"`
	MAC         string   `json:"mac"`
	DNS         []string `json:"dns"`
	DeviceID    string   `json:"device_id"`
	Description string   `json:"description"`
	IfName      string   `json:"ifname,omitempty"` // name on the host, reported by the gateway
}

func interfaceResponse(n domain.NetworkInterface) InterfaceResponse {
	dns := n.DNS
	if dns == nil {
		dns = []string{}
	}
	return InterfaceResponse{
		ID:          n.ID,
		GatewayID:   n.GatewayID,
		IP:          n.IP,
		VLAN:        n.VLAN,
		Gateway:     n.Gateway,
		MTU:         n.MTU,
		MAC:         n.MAC,
		DNS:         dns,
		DeviceID:    n.DeviceID,
		Description: n.Description,
	}
}

func (i *Interfaces) ListHandler(w http.ResponseWriter, r *http.Request) {
	nics, err := i.store.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	response := make([]InterfaceResponse, len(nics))
	for n, nic := range nics {
		response[n] = interfaceResponse(nic)
	}
	writeJSON(w, r, http.StatusOK, response)
}

func (i *Interfaces) CreateHandler(w http.ResponseWriter, r *http.Request) {
	var req service.InterfaceRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	nic, err := i.store.Create(detach(r), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, interfaceResponse(nic))
}

func (i *Interfaces) GetHandler(w http.ResponseWriter, r *http.Request) {
	view, err := i.store.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	response := interfaceResponse(view.NetworkInterface)
	response.IfName = view.IfName
	writeJSON(w, r, http.StatusOK, response)
}

func (i *Interfaces) UpdateHandler(w http.ResponseWriter, r *http.Request) {
	var req DescriptionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	nic, err := i.store.UpdateDescription(r.Context(), chi.URLParam(r, "id"), req.Description)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, interfaceResponse(nic))
}

func (i *Interfaces) DeleteHandler(w http.ResponseWriter, r *http.Request) {
	if err := i.store.Delete(detach(r), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
