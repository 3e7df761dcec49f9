package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"diskmesh/internal/domain"
	"diskmesh/internal/repository/sqlite"
	"diskmesh/internal/service"
	"diskmesh/internal/spatial"
	"diskmesh/internal/topology"
)

func c(x int) domain.Coordinate { return domain.At(0, x, 64, 0) }

type testServer struct {
	world *spatial.Grid
	srv   *httptest.Server
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	world := spatial.NewGrid()
	notifier := service.NewNotifier()
	registry := service.NewRegistry(store, notifier)
	detector := topology.NewDetector(world)
	guard := topology.NewGuard(world, registry)
	reconciler := service.NewReconciler(store, registry, world, notifier)
	engine := service.NewEngine(world, store, detector, guard, registry, reconciler, notifier)

	srv := httptest.NewServer(New(engine, reconciler, world).Routes())
	t.Cleanup(srv.Close)
	return &testServer{world: world, srv: srv}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, s.srv.URL+path, &buf)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func (s *testServer) build(t *testing.T) string {
	t.Helper()
	for i, k := range []domain.NodeKind{domain.KindServer, domain.KindBay, domain.KindTerminal} {
		resp := s.do(t, http.MethodPost, "/api/nodes", PlaceRequest{At: c(i), Kind: k, OwnerID: "u1"})
		require.Equal(t, http.StatusCreated, resp.StatusCode)
	}
	return domain.NetworkID(c(0))
}

func TestPlaceAndListNetworks(t *testing.T) {
	s := newTestServer(t)
	id := s.build(t)

	resp := s.do(t, http.MethodGet, "/api/networks", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var networks []domain.Network
	decodeBody(t, resp, &networks)
	require.Len(t, networks, 1)
	assert.Equal(t, id, networks[0].ID)

	resp = s.do(t, http.MethodGet, "/api/networks/"+id, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var network domain.Network
	decodeBody(t, resp, &network)
	assert.Len(t, network.Members, 3)
	assert.Equal(t, "u1", network.OwnerID)
}

func TestPlaceConflict(t *testing.T) {
	s := newTestServer(t)
	s.build(t)

	resp := s.do(t, http.MethodPost, "/api/nodes", PlaceRequest{At: c(3), Kind: domain.KindServer})
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	var body ErrorResponse
	decodeBody(t, resp, &body)
	require.NotNil(t, body.Conflict)
	assert.Equal(t, domain.ReasonDuplicateServer, body.Conflict.Reason)

	_, occupied := s.world.KindAt(c(3))
	assert.False(t, occupied)
}

func TestCheckAndInspect(t *testing.T) {
	s := newTestServer(t)
	s.build(t)

	resp := s.do(t, http.MethodGet, "/api/check?at=0:3:64:0&kind=cable", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = s.do(t, http.MethodGet, "/api/check?at=0:1:64:0&kind=cable", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = s.do(t, http.MethodGet, "/api/inspect?at=0:1:64:0", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var det DetectionResponse
	decodeBody(t, resp, &det)
	assert.Equal(t, "valid", det.Outcome)
	require.NotNil(t, det.Snapshot)
	assert.Equal(t, c(0), det.Snapshot.Server)
}

func TestBadRequests(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
		want   int
	}{
		{"bad coordinate", http.MethodGet, "/api/inspect?at=nope", nil, http.StatusBadRequest},
		{"missing coordinate", http.MethodGet, "/api/inspect", nil, http.StatusBadRequest},
		{"unknown kind", http.MethodPost, "/api/nodes", PlaceRequest{At: c(0), Kind: "anvil"}, http.StatusBadRequest},
		{"unknown network", http.MethodGet, "/api/networks/net_0_9_9_9", nil, http.StatusNotFound},
		{"remove empty", http.MethodDelete, "/api/nodes/0:5:64:0", nil, http.StatusNotFound},
		{"not a bay", http.MethodPut, "/api/bays/0:5:64:0/slots/0", service.DiskSpec{OwnerID: "u1"}, http.StatusBadRequest},
		{"bad index", http.MethodPut, "/api/bays/0:5:64:0/slots/x", service.DiskSpec{}, http.StatusBadRequest},
		{"unknown disk", http.MethodGet, "/api/disks/missing", nil, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := s.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestDiskLifecycle(t *testing.T) {
	s := newTestServer(t)
	id := s.build(t)

	resp := s.do(t, http.MethodPut, "/api/bays/0:1:64:0/slots/2", service.DiskSpec{ID: "d1", OwnerID: "u1", OwnerName: "Ada", Tier: domain.Tier2})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var disk domain.Disk
	decodeBody(t, resp, &disk)
	assert.Equal(t, id, disk.NetworkID)
	assert.Equal(t, domain.Tier2.MaxCells(), disk.MaxCells)

	resp = s.do(t, http.MethodPut, "/api/bays/0:1:64:0/slots/2", service.DiskSpec{ID: "d2", OwnerID: "u1"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = s.do(t, http.MethodDelete, "/api/disks/d1", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = s.do(t, http.MethodDelete, "/api/nodes/0:1:64:0", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var res service.RemoveResult
	decodeBody(t, resp, &res)
	require.Len(t, res.Removed, 1)
	assert.Equal(t, []string{"d1"}, res.Removed[0].EjectedDisks)
	assert.Equal(t, []string{id}, res.Unregistered)

	resp = s.do(t, http.MethodDelete, "/api/disks/d1", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestPeripheralsAndReconcile(t *testing.T) {
	s := newTestServer(t)
	s.build(t)

	resp := s.do(t, http.MethodPost, "/api/nodes", PlaceRequest{At: domain.At(0, 0, 65, 0), Kind: domain.KindExporter})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = s.do(t, http.MethodGet, "/api/peripherals", nil)
	var peripherals []domain.Peripheral
	decodeBody(t, resp, &peripherals)
	require.Len(t, peripherals, 1)
	assert.True(t, peripherals[0].Network.IsAttached())

	resp = s.do(t, http.MethodPut, "/api/peripherals/"+peripherals[0].ID+"/enabled", map[string]bool{"enabled": false})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var p domain.Peripheral
	decodeBody(t, resp, &p)
	assert.False(t, p.Enabled)

	resp = s.do(t, http.MethodPost, "/api/reconcile", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var rec service.ReconcileResult
	decodeBody(t, resp, &rec)
	assert.Equal(t, 1, rec.Checked)
}

func TestRescanAndOrphans(t *testing.T) {
	s := newTestServer(t)
	id := s.build(t)

	resp := s.do(t, http.MethodPut, "/api/bays/0:1:64:0/slots/0", service.DiskSpec{ID: "d1", OwnerID: "u1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Tear the server out behind the engine's back.
	s.world.Remove(c(0))

	resp = s.do(t, http.MethodPost, "/api/rescan", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var res service.RescanResult
	decodeBody(t, resp, &res)
	assert.Equal(t, []string{id}, res.Unregistered)

	resp = s.do(t, http.MethodGet, "/api/orphans", nil)
	var slots []domain.DriveSlot
	decodeBody(t, resp, &slots)
	require.Len(t, slots, 1)
	assert.Equal(t, domain.Orphaned(id), slots[0].Network)
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t)
	resp := s.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
