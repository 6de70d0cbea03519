package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/jbweber/homelab/brain/internal/domain"
	"github.com/jbweber/homelab/brain/internal/service"
)

// Images groups image handlers for testability
type Images struct {
	store ImagesStore
}

func NewImages(store ImagesStore) *Images {
	return &Images{store: store}
}

type ImageResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Location    string `json:"location"`
	Cluster     string `json:"cluster"`
	MinSizeGB   int64  `json:"min_size_gb"`
	Managed     bool   `json:"managed"`
}

func imageResponse(img domain.Image) ImageResponse {
	return ImageResponse{
		ID:          img.ID,
		Name:        img.Name,
		Description: img.Description,
		Location:    img.Location,
		Cluster:     img.Cluster,
		MinSizeGB:   img.MinSizeGB,
		Managed:     img.Managed,
	}
}

func (i *Images) ListHandler(w http.ResponseWriter, r *http.Request) {
	images, err := i.store.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	response := make([]ImageResponse, len(images))
	for n, img := range images {
		response[n] = imageResponse(img)
	}
	writeJSON(w, r, http.StatusOK, response)
}

func (i *Images) CreateHandler(w http.ResponseWriter, r *http.Request) {
	var req service.ImageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	img, err := i.store.Register(detach(r), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, imageResponse(img))
}

func (i *Images) GetHandler(w http.ResponseWriter, r *http.Request) {
	img, err := i.store.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, imageResponse(img))
}

func (i *Images) UpdateHandler(w http.ResponseWriter, r *http.Request) {
	var patch service.ImagePatch
	if !decodeJSON(w, r, &patch) {
		return
	}
	img, err := i.store.Update(r.Context(), chi.URLParam(r, "id"), patch)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, imageResponse(img))
}

func (i *Images) DeleteHandler(w http.ResponseWriter, r *http.Request) {
	if err := i.store.Delete(detach(r), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
