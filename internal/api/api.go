package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/jbweber/homelab/brain/internal/domain"
	"github.com/jbweber/homelab/brain/internal/efi"
	"github.com/jbweber/homelab/brain/internal/service"
	"github.com/jbweber/homelab/brain/internal/systemdisk"
)

// HostsStore defines the host operations used by the host handlers
type HostsStore interface {
	List(ctx context.Context) ([]domain.Host, error)
	Get(ctx context.Context, id string) (domain.Host, error)
	Register(ctx context.Context, req service.HostRequest) (domain.Host, error)
	Update(ctx context.Context, id string, patch service.HostPatch) (domain.Host, error)
	Delete(ctx context.Context, id string) error
	SetCredentials(ctx context.Context, id, user, password string) (domain.Host, error)
	BootEntries(ctx context.Context, id string) (efi.BootTable, error)
	SetBootNext(ctx context.Context, id string, num uint16) error
	VerifyCredentials(ctx context.Context, id string) error
	CleanupBootEntries(ctx context.Context, id string) ([]efi.BootEntry, error)
	BMCAddress(h domain.Host) string
}

// GatewaysStore defines the gateway operations used by the gateway handlers
type GatewaysStore interface {
	List(ctx context.Context) ([]domain.Gateway, error)
	Get(ctx context.Context, id string) (domain.Gateway, error)
	Register(ctx context.Context, req service.GatewayRequest) (domain.Gateway, error)
	Update(ctx context.Context, id string, patch service.GatewayPatch) (domain.Gateway, error)
	Delete(ctx context.Context, id string) error
}

// ImagesStore defines the image operations used by the image handlers
type ImagesStore interface {
	List(ctx context.Context) ([]domain.Image, error)
	Get(ctx context.Context, id string) (domain.Image, error)
	Register(ctx context.Context, req service.ImageRequest) (domain.Image, error)
	Update(ctx context.Context, id string, patch service.ImagePatch) (domain.Image, error)
	Delete(ctx context.Context, id string) error
}

// SystemDisksStore defines the disk workflows used by the system disk handlers
type SystemDisksStore interface {
	List(ctx context.Context) ([]domain.SystemDisk, error)
	Get(ctx context.Context, id string) (domain.SystemDisk, error)
	Create(ctx context.Context, req systemdisk.CreateRequest) (systemdisk.Result, error)
	Delete(ctx context.Context, id string) (systemdisk.Result, error)
	Rebuild(ctx context.Context, id, imageID string) (systemdisk.Result, error)
	Upload(ctx context.Context, id string, req systemdisk.UploadRequest) (domain.Image, error)
	UpdateDescription(ctx context.Context, id, description string) (domain.SystemDisk, error)
}

// InterfacesStore defines the interface operations used by the interface handlers
type InterfacesStore interface {
	List(ctx context.Context) ([]domain.NetworkInterface, error)
	Get(ctx context.Context, id string) (service.InterfaceView, error)
	Create(ctx context.Context, req service.InterfaceRequest) (domain.NetworkInterface, error)
	Delete(ctx context.Context, id string) error
	UpdateDescription(ctx context.Context, id, description string) (domain.NetworkInterface, error)
}

// Stores bundles the backends of every handler group.
type Stores struct {
	Hosts       HostsStore
	Gateways    GatewaysStore
	Images      ImagesStore
	SystemDisks SystemDisksStore
	Interfaces  InterfacesStore
}

// API holds the handler groups and the process logger
type API struct {
	stores  Stores
	log     *logrus.Logger
	metrics http.Handler
}

// NewAPI creates a new API. metrics may be nil to leave /metrics unrouted.
func NewAPI(log *logrus.Logger, stores Stores, metrics http.Handler) *API {
	return &API{stores: stores, log: log, metrics: metrics}
}

// RegisterRoutes registers all API endpoints to the given chi router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Use(middleware.RequestID)
	r.Use(requestLogger(a.log))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", healthHandler)
	if a.metrics != nil {
		r.Method(http.MethodGet, "/metrics", a.metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		hosts := NewHosts(a.stores.Hosts)
		r.Route("/hosts", func(r chi.Router) {
			r.Get("/", hosts.ListHandler)
			r.Post("/", hosts.CreateHandler)
			r.Get("/{id}", hosts.GetHandler)
			r.Patch("/{id}", hosts.UpdateHandler)
			r.Delete("/{id}", hosts.DeleteHandler)
			r.Put("/{id}/credentials", hosts.CredentialsHandler)
			r.Get("/{id}/boot-entries", hosts.BootEntriesHandler)
			r.Put("/{id}/boot-next", hosts.BootNextHandler)
			r.Post("/{id}/verify-credentials", hosts.VerifyHandler)
			r.Post("/{id}/efi-cleanup", hosts.CleanupHandler)
		})

		gateways := NewGateways(a.stores.Gateways)
		r.Route("/gateways", func(r chi.Router) {
			r.Get("/", gateways.ListHandler)
			r.Post("/", gateways.CreateHandler)
			r.Get("/{id}", gateways.GetHandler)
			r.Patch("/{id}", gateways.UpdateHandler)
			r.Delete("/{id}", gateways.DeleteHandler)
		})

		images := NewImages(a.stores.Images)
		r.Route("/images", func(r chi.Router) {
			r.Get("/", images.ListHandler)
			r.Post("/", images.CreateHandler)
			r.Get("/{id}", images.GetHandler)
			r.Patch("/{id}", images.UpdateHandler)
			r.Delete("/{id}", images.DeleteHandler)
		})

		disks := NewSystemDisks(a.stores.SystemDisks)
		r.Route("/system-disks", func(r chi.Router) {
			r.Get("/", disks.ListHandler)
			r.Post("/", disks.CreateHandler)
			r.Get("/{id}", disks.GetHandler)
			r.Patch("/{id}", disks.UpdateHandler)
			r.Delete("/{id}", disks.DeleteHandler)
			r.Post("/{id}/rebuild", disks.RebuildHandler)
			r.Post("/{id}/upload", disks.UploadHandler)
		})

		nics := NewInterfaces(a.stores.Interfaces)
		r.Route("/interfaces", func(r chi.Router) {
			r.Get("/", nics.ListHandler)
			r.Post("/", nics.CreateHandler)
			r.Get("/{id}", nics.GetHandler)
			r.Patch("/{id}", nics.UpdateHandler)
			r.Delete("/{id}", nics.DeleteHandler)
		})
	})
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}
