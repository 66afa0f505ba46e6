package server

import (
	"bufio"
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/leapmap/internal/mapconfig"
	"github.com/leapstack-labs/leapmap/internal/reconcile"
	"github.com/leapstack-labs/leapmap/internal/session"
	"github.com/leapstack-labs/leapmap/internal/sqlruntime"
	"github.com/leapstack-labs/leapmap/internal/state"
	"github.com/leapstack-labs/leapmap/internal/testutil"
	"github.com/leapstack-labs/leapmap/pkg/adapters/duckdb"
	"github.com/leapstack-labs/leapmap/pkg/core"
)

const testDoc = `{
  "basemap": "positron",
  "layers": [
    {"id": "cells", "layerType": "hex", "data": [
      {"hex": "8928308280fffff", "pct": 61.5},
      {"hex": "8928308280bffff", "pct": 12}
    ]},
    {"id": "parks", "layerType": "vector", "tooltipColumns": ["name"],
     "data": {"type": "Feature", "geometry": {"type": "Point", "coordinates": [10, 20]}, "properties": {"name": "Park"}}},
    {"id": "tiles", "layerType": "raster", "tileUrl": "https://t/{z}/{x}/{y}.png"}
  ]
}`

type fixture struct {
	server  *Server
	session *session.Session
	http    *httptest.Server
	mapR    *reconcile.Recorder
	overlay *reconcile.Recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	logger := testutil.NewTestLogger(t)

	adp := duckdb.New(logger)
	require.NoError(t, adp.Connect(ctx, core.AdapterConfig{Path: ":memory:"}))
	t.Cleanup(func() { _ = adp.Close() })
	rt, err := sqlruntime.New(adp, sqlruntime.Options{Logger: logger})
	require.NoError(t, err)
	t.Cleanup(rt.Close)

	mapR := reconcile.NewRecorder("map")
	overlay := reconcile.NewRecorder("overlay")
	sess, err := session.New(session.Options{Map: mapR, Overlay: overlay, Runtime: rt, Logger: logger})
	require.NoError(t, err)
	t.Cleanup(sess.Close)
	res, err := sess.Load(ctx, []byte(testDoc), mapconfig.FormatJSON)
	require.NoError(t, err)
	require.True(t, res.Valid, mapconfig.FormatErrors(res))

	snaps, err := state.Open(ctx, ":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = snaps.Close() })

	srv := New(Config{
		Session:   sess,
		Snapshots: snaps,
		Renderers: []Inspector{mapR, overlay},
		Logger:    logger,
	})
	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(hs.Close)
	return &fixture{server: srv, session: sess, http: hs, mapR: mapR, overlay: overlay}
}

func (f *fixture) do(t *testing.T, method, path, body string, out any) int {
	t.Helper()
	req, err := http.NewRequest(method, f.http.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	if out != nil && resp.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func ids(views []LayerView) []string {
	out := make([]string, len(views))
	for i, v := range views {
		out[i] = v.ID
	}
	return out
}

func TestListAndGetLayers(t *testing.T) {
	f := newFixture(t)

	var layers []LayerView
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/api/layers", "", &layers))
	assert.Equal(t, []string{"cells", "parks", "tiles"}, ids(layers))
	assert.True(t, layers[0].Derived)

	var one map[string]any
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/api/layers/parks", "", &one))
	assert.Equal(t, "parks", one["id"])
	cfg := one["config"].(map[string]any)
	assert.Equal(t, "vector", cfg["layerType"])

	var errBody errorBody
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/layers/missing", "", &errBody))
	assert.Contains(t, errBody.Error, "unknown layer")
}

func TestAddLayer(t *testing.T) {
	f := newFixture(t)

	var created LayerView
	status := f.do(t, http.MethodPost, "/api/layers?order=0",
		`{"id": "roads", "type": "mvt", "tileUrl": "https://t/{z}/{x}/{y}.pbf", "sourceLayer": "roads"}`, &created)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "roads", created.ID)
	assert.Equal(t, 0, created.Order)

	var invalid core.ValidationResult
	require.Equal(t, http.StatusUnprocessableEntity, f.do(t, http.MethodPost, "/api/layers", `{"layerType": "circl"}`, &invalid))
	assert.False(t, invalid.Valid)

	var errBody errorBody
	assert.Equal(t, http.StatusConflict, f.do(t, http.MethodPost, "/api/layers",
		`{"id": "roads", "layerType": "raster", "tileUrl": "https://t/{z}/{x}/{y}.png"}`, &errBody))
}

func TestPatchLayer_MergesStyle(t *testing.T) {
	f := newFixture(t)

	var view LayerView
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPatch, "/api/layers/parks",
		`{"name": "City parks", "style": {"opacity": 0.3}}`, &view))
	assert.Equal(t, "City parks", view.Config.Name)

	st, err := f.session.Get("parks")
	require.NoError(t, err)
	require.NotNil(t, st.Config.Style.Opacity)
	assert.InDelta(t, 0.3, *st.Config.Style.Opacity, 1e-9)

	var errBody errorBody
	assert.Equal(t, http.StatusUnprocessableEntity, f.do(t, http.MethodPatch, "/api/layers/parks", `{"visible": "yes"}`, &errBody))
}

func TestVisibilityAndMove(t *testing.T) {
	f := newFixture(t)

	var view LayerView
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/layers/parks/visibility", `{"visible": false}`, &view))
	assert.False(t, view.Visible)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/layers/parks/visibility", "", &view))
	assert.True(t, view.Visible, "empty body toggles")

	var layers []LayerView
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/layers/tiles/move", `{"to": "top"}`, &layers))
	assert.Equal(t, []string{"tiles", "cells", "parks"}, ids(layers))
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/layers/tiles/move", `{"order": 2}`, &layers))
	assert.Equal(t, []string{"cells", "parks", "tiles"}, ids(layers))

	var errBody errorBody
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/api/layers/tiles/move", `{"to": "sideways"}`, &errBody))
}

func TestDeleteLayer(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, http.StatusNoContent, f.do(t, http.MethodDelete, "/api/layers/parks", "", nil))
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodDelete, "/api/layers/parks", "", &errorBody{}))
	assert.Equal(t, 2, f.session.Store().Len())
}

func TestApplySQLAndGeoJSON(t *testing.T) {
	f := newFixture(t)

	var res sqlruntime.Result
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/layers/cells/sql", `{"sql": "pct > 50"}`, &res))
	assert.Equal(t, 1, res.Count)
	assert.Equal(t, "cells", res.LayerID)

	var fc map[string]any
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/api/layers/cells/geojson", "", &fc))
	assert.Equal(t, "FeatureCollection", fc["type"])
	assert.Len(t, fc["features"], 1)

	var errBody errorBody
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/layers/tiles/geojson", "", &errBody))
	assert.Equal(t, http.StatusBadGateway, f.do(t, http.MethodPost, "/api/layers/tiles/sql", `{"sql": "1 = 1"}`, &errBody))
}

func TestColorsAndRender(t *testing.T) {
	f := newFixture(t)

	var resolved map[string]any
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/api/layers/parks/colors/fillColor", "", &resolved))
	assert.NotEmpty(t, resolved["kind"])
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/api/layers/parks/colors/width", "", &errorBody{}))

	var render renderResponse
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/api/render", "", &render))
	assert.ElementsMatch(t, []string{"cells", "parks", "tiles"}, render.Drawn)
	assert.Contains(t, render.Renderers, "map")
	require.Contains(t, render.Renderers, "overlay")
	require.Len(t, render.Renderers["overlay"].Layers, 1)
	assert.Equal(t, "cells-hex", render.Renderers["overlay"].Layers[0].ID)
}

func TestPick(t *testing.T) {
	f := newFixture(t)

	var hit pickResponse
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/api/pick?x=10&y=20&radius=0.01", "", &hit))
	assert.Equal(t, "parks", hit.Layer)
	assert.Equal(t, map[string]any{"name": "Park"}, hit.Properties)

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/api/pick?x=10", "", &errorBody{}))
}

func TestValidateAndMap(t *testing.T) {
	f := newFixture(t)

	var vr validateResponse
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/validate?format=yaml",
		"layers:\n  - type: polygon\n    dataUrl: https://x/a.geojson\n", &vr))
	assert.True(t, vr.Result.Valid)
	layers := vr.Normalized.(map[string]any)["layers"].([]any)
	assert.Equal(t, "vector", layers[0].(map[string]any)["layerType"])

	var doc core.ValidationResult
	require.Equal(t, http.StatusUnprocessableEntity, f.do(t, http.MethodPut, "/api/map", `{"layers": [{"layerType": "nope"}]}`, &doc))
	assert.Equal(t, 3, f.session.Store().Len(), "invalid document leaves the map alone")

	require.Equal(t, http.StatusOK, f.do(t, http.MethodPut, "/api/map",
		`{"basemap": "dark-matter", "layers": [{"id": "only", "layerType": "raster", "tileUrl": "https://t/{z}/{x}/{y}.png"}]}`, &doc))
	var m map[string]any
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/api/map", "", &m))
	assert.Equal(t, "dark-matter", m["basemap"])
	assert.Len(t, m["layers"], 1)
}

func TestPutMap_StyleEditPatchesInPlace(t *testing.T) {
	f := newFixture(t)
	f.mapR.ClearCalls()
	f.overlay.ClearCalls()

	edited := strings.Replace(testDoc,
		`"tileUrl": "https://t/{z}/{x}/{y}.png"}`,
		`"tileUrl": "https://t/{z}/{x}/{y}.png", "style": {"opacity": 0.5}}`, 1)
	require.NotEqual(t, testDoc, edited)

	var res core.ValidationResult
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPut, "/api/map", edited, &res))
	assert.True(t, res.Valid)

	assert.Empty(t, f.mapR.CallsOf(reconcile.OpRemoveSource), "no layer is rebuilt")
	assert.Empty(t, f.overlay.CallsOf(reconcile.OpRemoveSource))
	assert.Equal(t, []reconcile.Call{{Op: reconcile.OpSetPaintProperty, ID: "tiles-raster", Name: "raster-opacity"}},
		f.mapR.CallsOf(reconcile.OpSetPaintProperty))
	raster, ok := f.mapR.Layer("tiles-raster")
	require.True(t, ok)
	assert.Equal(t, 0.5, raster.Paint["raster-opacity"])
	assert.True(t, f.session.Runtime().Loaded("cells"), "hex table survives the edit")
}

func TestSnapshots(t *testing.T) {
	f := newFixture(t)

	var snap state.Snapshot
	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/api/snapshots", `{"name": "baseline"}`, &snap))
	assert.Equal(t, 3, snap.LayerCount)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/api/snapshots", `{}`, &errorBody{}))

	f.session.Store().Remove("parks")
	f.session.Store().SetVisible("tiles", false)

	var list []state.Snapshot
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/api/snapshots", "", &list))
	require.Len(t, list, 1)

	var exp map[string]any
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/snapshots/"+snap.ID+"/restore", "", &exp))
	assert.Equal(t, 3, f.session.Store().Len())
	st, err := f.session.Get("tiles")
	require.NoError(t, err)
	assert.True(t, st.Visible)

	assert.Equal(t, http.StatusNoContent, f.do(t, http.MethodDelete, "/api/snapshots/"+snap.ID, "", nil))
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/snapshots/"+snap.ID, "", &errorBody{}))
}

func TestEvents_StreamsStoreChanges(t *testing.T) {
	f := newFixture(t)
	stop := f.server.Forward()
	defer stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.http.URL+"/api/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	lines := make(chan string, 64)
	go func() {
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()

	waitFor := func(substr string) {
		t.Helper()
		for {
			select {
			case line, ok := <-lines:
				require.True(t, ok, "stream closed before %q", substr)
				if strings.Contains(line, substr) {
					return
				}
			case <-ctx.Done():
				t.Fatalf("timed out waiting for %q", substr)
			}
		}
	}

	waitFor(`"kind":"hello"`)
	require.Eventually(t, func() bool { return f.server.Notifier().Len() == 1 }, time.Second, 10*time.Millisecond)

	f.session.Store().SetVisible("parks", false)
	waitFor(`"kind":"visibility"`)
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	logger := testutil.NewTestLogger(t)

	path := filepath.Join(t.TempDir(), "map.yaml")
	write := func(body string) {
		require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	}
	write("layers:\n  - id: a\n    layerType: raster\n    tileUrl: https://t/{z}/{x}/{y}.png\n")

	sess, err := session.New(session.Options{Logger: logger})
	require.NoError(t, err)
	defer sess.Close()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	_, err = sess.Load(ctx, data, mapconfig.FormatYAML)
	require.NoError(t, err)

	srv := New(Config{Session: sess, MapFile: path, Watch: true, Debounce: 20 * time.Millisecond, Logger: logger})
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	done := make(chan error, 1)
	go func() { done <- srv.ServeListener(ctx, ln) }()

	// Give the watcher time to register the directory.
	require.Eventually(t, func() bool {
		write("layers:\n  - id: a\n    layerType: raster\n    tileUrl: https://t/{z}/{x}/{y}.png\n  - id: b\n    layerType: raster\n    tileUrl: https://u/{z}/{x}/{y}.png\n")
		time.Sleep(50 * time.Millisecond)
		return sess.Store().Len() == 2
	}, 3*time.Second, 100*time.Millisecond)

	write("layers: [{layerType: circl}]\n")
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 2, sess.Store().Len(), "invalid edits keep the current map")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
