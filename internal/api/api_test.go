package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jbweber/homelab/brain/internal/domain"
	"github.com/jbweber/homelab/brain/internal/efi"
	"github.com/jbweber/homelab/brain/internal/metrics"
	"github.com/jbweber/homelab/brain/internal/remote"
	"github.com/jbweber/homelab/brain/internal/repository"
	"github.com/jbweber/homelab/brain/internal/service"
	"github.com/jbweber/homelab/brain/internal/systemdisk"
	"github.com/jbweber/homelab/brain/internal/testutil"
	"github.com/jbweber/homelab/brain/internal/workflow"
)

const (
	testCluster = "10.20.0.5"
	testSnap    = "brain_snap"
	rootUUID    = "0f6e1c59-9a4b-4d2c-8a43-1a2b3c4d5e6f"
)

type testEnv struct {
	router  *chi.Mux
	hook    *logtest.Hook
	storage *testutil.FakeStorage
	agent   *testutil.FakeAgent
}

func setupTestAPI(t *testing.T) *testEnv {
	t.Helper()
	log, hook := logtest.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)

	env := &testEnv{
		hook:    hook,
		storage: testutil.NewFakeStorage(),
		agent:   testutil.NewFakeAgent(1),
	}
	shell := testutil.NewFakeShell()
	fw := testutil.NewFakeFirmware(shell)
	fw.AttachDisk("/dev/sda", 500*domain.GiB, rootUUID)
	fw.AddEntry("rocky", rootUUID)
	env.storage.AddImage("images/ubuntu22", "", 20*domain.GiB)

	collector := metrics.NewCollector()
	registry := prometheus.NewRegistry()
	registry.MustRegister(collector)

	inv := repository.NewInventory(testutil.NewTestDatastore(t))
	boot := efi.NewManager(shell, efi.Options{Loader: `\EFI\BOOT\BOOTX64.EFI`, SizeTolerance: domain.GiB})
	stores := Stores{
		Hosts:      service.NewHosts(inv, boot, 2, 254),
		Gateways:   service.NewGateways(inv, env.agent),
		Images:     service.NewImages(inv, env.storage, testSnap, collector),
		Interfaces: service.NewInterfaces(inv, env.agent, collector),
		SystemDisks: systemdisk.NewService(inv, env.storage, env.agent, boot, systemdisk.Options{
			ClonePool:    "compute",
			ImagePool:    "images",
			SnapshotName: testSnap,
			Nameservers:  []string{"10.0.0.50"},
		}, collector),
	}

	env.router = chi.NewRouter()
	NewAPI(log, stores, promhttp.HandlerFor(registry, promhttp.HandlerOpts{})).RegisterRoutes(env.router)
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

// seed registers a host, a gateway serving it and an image.
func (e *testEnv) seed(t *testing.T) (HostResponse, GatewayResponse, ImageResponse) {
	t.Helper()
	w := e.do(t, "POST", "/api/v1/hosts", map[string]string{
		"name": "host1", "ip": "192.168.10.21", "mac": "52:54:00:12:34:56", "gateway": "192.168.10.1",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	host := decode[HostResponse](t, w)

	w = e.do(t, "POST", "/api/v1/gateways", map[string]string{
		"name": "gw1", "ip": "192.168.20.21", "host_id": host.ID,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	gw := decode[GatewayResponse](t, w)

	w = e.do(t, "POST", "/api/v1/images", map[string]any{
		"name": "ubuntu22", "location": "images/ubuntu22", "cluster": testCluster, "min_size_gb": 20,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	img := decode[ImageResponse](t, w)
	return host, gw, img
}

func TestHealthz(t *testing.T) {
	e := setupTestAPI(t)
	w := e.do(t, "GET", "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestRequestLogging(t *testing.T) {
	e := setupTestAPI(t)
	w := e.do(t, "GET", "/api/v1/hosts/missing", nil)

	assert.Equal(t, http.StatusNotFound, w.Code)
	reqID := w.Header().Get(middleware.RequestIDHeader)
	assert.NotEmpty(t, reqID)

	last := e.hook.LastEntry()
	require.NotNil(t, last)
	assert.Equal(t, "request handled", last.Message)
	assert.Equal(t, reqID, last.Data["request_id"])
	assert.Equal(t, http.StatusNotFound, last.Data["status"])

	req := httptest.NewRequest("GET", "/healthz", nil)
	req.Header.Set(middleware.RequestIDHeader, "abc-123")
	w = httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	assert.Equal(t, "abc-123", w.Header().Get(middleware.RequestIDHeader))
}

func TestHosts_Lifecycle(t *testing.T) {
	e := setupTestAPI(t)
	host, _, _ := e.seed(t)

	assert.Equal(t, "192.168.254.21", host.BMCIP)
	assert.False(t, host.HasCredentials)

	w := e.do(t, "POST", "/api/v1/hosts", map[string]string{
		"name": "host1", "ip": "192.168.10.22", "mac": "52:54:00:12:34:57",
	})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = e.do(t, "PATCH", "/api/v1/hosts/"+host.ID, map[string]string{"description": "rack 3"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "rack 3", decode[HostResponse](t, w).Description)

	w = e.do(t, "PUT", "/api/v1/hosts/"+host.ID+"/credentials", map[string]string{"user": "root", "password": "s3cret"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[HostResponse](t, w).HasCredentials)
	assert.NotContains(t, w.Body.String(), "s3cret")

	w = e.do(t, "PUT", "/api/v1/hosts/"+host.ID+"/credentials", map[string]string{"user": "root"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(t, "DELETE", "/api/v1/hosts/"+host.ID, nil)
	assert.Equal(t, http.StatusConflict, w.Code, "a gateway still serves the host")

	w = e.do(t, "GET", "/api/v1/hosts", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]HostResponse](t, w), 1)
}

func TestHosts_InvalidJSON(t *testing.T) {
	e := setupTestAPI(t)
	req := httptest.NewRequest("POST", "/api/v1/hosts", strings.NewReader("{"))
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHosts_BootEntries(t *testing.T) {
	e := setupTestAPI(t)
	host, _, _ := e.seed(t)

	w := e.do(t, "GET", "/api/v1/hosts/"+host.ID+"/boot-entries", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code, "no saved credentials")

	w = e.do(t, "PUT", "/api/v1/hosts/"+host.ID+"/credentials", map[string]string{"user": "root", "password": "pw"})
	require.Equal(t, http.StatusOK, w.Code)

	w = e.do(t, "GET", "/api/v1/hosts/"+host.ID+"/boot-entries", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	table := decode[efi.BootTable](t, w)
	require.Len(t, table.Entries, 1)
	assert.Equal(t, "rocky", table.Entries[0].Label)

	w = e.do(t, "PUT", "/api/v1/hosts/"+host.ID+"/boot-next", BootNextRequest{BootNum: "zz"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(t, "PUT", "/api/v1/hosts/"+host.ID+"/boot-next", BootNextRequest{BootNum: "0009"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = e.do(t, "POST", "/api/v1/hosts/"+host.ID+"/efi-cleanup", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Empty(t, decode[CleanupResponse](t, w).Removed)
}

func TestGateways_Lifecycle(t *testing.T) {
	e := setupTestAPI(t)
	_, gw, _ := e.seed(t)
	assert.False(t, gw.CloudDiskEnabled)

	w := e.do(t, "PATCH", "/api/v1/gateways/"+gw.ID, map[string]bool{"clouddisk_enable": true})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, decode[GatewayResponse](t, w).CloudDiskEnabled)

	w = e.do(t, "POST", "/api/v1/gateways", map[string]string{"name": "gw2", "ip": "192.168.20.22", "host_id": "nope"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = e.do(t, "DELETE", "/api/v1/gateways/"+gw.ID, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = e.do(t, "GET", "/api/v1/gateways/"+gw.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSystemDisks_Lifecycle(t *testing.T) {
	e := setupTestAPI(t)
	_, gw, img := e.seed(t)

	w := e.do(t, "POST", "/api/v1/system-disks", map[string]any{
		"image_id":    img.ID,
		"gateway_id":  gw.ID,
		"size_gb":     40,
		"description": "web01",
		"system_user": map[string]string{"name": "ubuntu", "password": "secret"},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode[WorkflowResponse](t, w)
	assert.Equal(t, workflow.StatusOK, created.FirstBootStatus)
	assert.Equal(t, workflow.StatusDegraded, created.EFIStatus, "host has no credentials")
	assert.Equal(t, int64(40), created.Disk.SizeGB)
	assert.Equal(t, "compute/"+created.Disk.ID, created.Disk.PoolPath)

	w = e.do(t, "DELETE", "/api/v1/images/"+img.ID, nil)
	assert.Equal(t, http.StatusConflict, w.Code, "the disk was cloned from the image")

	w = e.do(t, "PATCH", "/api/v1/system-disks/"+created.Disk.ID, DescriptionRequest{Description: "web02"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "web02", decode[SystemDiskResponse](t, w).Description)

	w = e.do(t, "GET", "/api/v1/system-disks", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]SystemDiskResponse](t, w), 1)

	w = e.do(t, "DELETE", "/api/v1/system-disks/"+created.Disk.ID, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, created.Disk.ID, decode[WorkflowResponse](t, w).Disk.ID)

	w = e.do(t, "GET", "/api/v1/system-disks/"+created.Disk.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = e.do(t, "GET", "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `brain_workflow_step_total{outcome="succeeded",step="clone",workflow="provision"} 1`)
}

func TestSystemDisks_StepFailure(t *testing.T) {
	e := setupTestAPI(t)
	_, gw, img := e.seed(t)
	e.storage.FailOn("clone", errors.New("cluster down"))

	w := e.do(t, "POST", "/api/v1/system-disks", map[string]any{
		"image_id":    img.ID,
		"gateway_id":  gw.ID,
		"size_gb":     40,
		"system_user": map[string]string{"name": "ubuntu", "password": "secret"},
	})
	assert.Equal(t, http.StatusBadGateway, w.Code)
	resp := decode[ErrorResponse](t, w)
	assert.Equal(t, "clone", resp.Step)
	assert.Contains(t, resp.Error, "cluster down")

	w = e.do(t, "GET", "/api/v1/system-disks", nil)
	assert.Empty(t, decode[[]SystemDiskResponse](t, w))
}

func TestInterfaces_Lifecycle(t *testing.T) {
	e := setupTestAPI(t)
	_, gw, _ := e.seed(t)

	w := e.do(t, "POST", "/api/v1/interfaces", map[string]any{
		"gateway_id": gw.ID, "ip": "192.168.30.10/24", "gateway": "192.168.30.1", "vlan": 30,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	nic := decode[InterfaceResponse](t, w)
	assert.Equal(t, 1500, nic.MTU)
	assert.True(t, strings.HasPrefix(nic.MAC, "02:00:"), nic.MAC)

	w = e.do(t, "DELETE", "/api/v1/gateways/"+gw.ID, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = e.do(t, "POST", "/api/v1/interfaces", map[string]any{
		"gateway_id": gw.ID, "ip": "192.168.30.0/24", "gateway": "192.168.30.1",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code, "network address")

	w = e.do(t, "PATCH", "/api/v1/interfaces/"+nic.ID, DescriptionRequest{Description: "storage"})
	require.Equal(t, http.StatusOK, w.Code)

	w = e.do(t, "GET", "/api/v1/interfaces/"+nic.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	got := decode[InterfaceResponse](t, w)
	assert.Equal(t, "storage", got.Description)
	assert.Empty(t, got.IfName)

	w = e.do(t, "DELETE", "/api/v1/interfaces/"+nic.ID, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, e.agent.NetDevices(gw.IP))
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
		step string
	}{
		{"not found", fmt.Errorf("host x: %w", repository.ErrNotFound), http.StatusNotFound, ""},
		{"no boot entry", fmt.Errorf("boot entry 0009: %w", efi.ErrNoEntry), http.StatusNotFound, ""},
		{"duplicate", repository.ErrDuplicate, http.StatusConflict, ""},
		{"in use", repository.ErrInUse, http.StatusConflict, ""},
		{"invalid", repository.ErrInvalidEntity, http.StatusBadRequest, ""},
		{"collision", systemdisk.ErrPathCollision, http.StatusInternalServerError, ""},
		{"timeout", &workflow.StepError{Workflow: "create", Step: "boot entry create", Err: remote.ErrTimeout}, http.StatusGatewayTimeout, ""},
		{"step", &workflow.StepError{Workflow: "create", Step: "resize", Err: errors.New("quota")}, http.StatusBadGateway, "resize"},
		{"unknown", errors.New("boom"), http.StatusTeapot, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, step := statusFor(tt.err, http.StatusTeapot)
			assert.Equal(t, tt.want, status)
			assert.Equal(t, tt.step, step)
		})
	}
}
