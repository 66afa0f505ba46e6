package layerstore

import (
	"math/rand/v2"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/leapmap/internal/testutil"
	"github.com/leapstack-labs/leapmap/pkg/color"
	"github.com/leapstack-labs/leapmap/pkg/core"
)

func vectorLayer(id string) core.LayerConfig {
	return core.LayerConfig{ID: id, Source: &core.VectorSource{DataURL: "https://example.com/" + id + ".geojson"}}
}

func newStore(t *testing.T) *Store {
	t.Helper()
	return New(WithLogger(testutil.NewTestLogger(t)))
}

func orders(s *Store) map[string]int {
	out := map[string]int{}
	for _, st := range s.List() {
		out[st.Config.ID] = st.Order
	}
	return out
}

func assertDense(t *testing.T, s *Store) {
	t.Helper()
	list := s.List()
	for i, st := range list {
		assert.Equal(t, i, st.Order, "layer %s", st.Config.ID)
	}
	assert.Equal(t, len(list), s.Len())
}

func TestAdd_DefaultOrder(t *testing.T) {
	s := newStore(t)
	_, ok := s.Add(vectorLayer("a"))
	require.True(t, ok)
	_, ok = s.Add(vectorLayer("b"))
	require.True(t, ok)

	assert.Equal(t, map[string]int{"a": 0, "b": 1}, orders(s))

	_, ok = s.Add(vectorLayer("a"))
	assert.False(t, ok, "duplicate id")
	_, ok = s.Add(core.LayerConfig{ID: "x"})
	assert.False(t, ok, "no source")
}

func TestAdd_WithOrderShifts(t *testing.T) {
	s := newStore(t)
	s.Init([]core.LayerConfig{vectorLayer("a"), vectorLayer("b"), vectorLayer("c")})

	_, ok := s.Add(vectorLayer("x"), WithOrder(1))
	require.True(t, ok)
	assert.Equal(t, map[string]int{"a": 0, "x": 1, "b": 2, "c": 3}, orders(s))

	_, ok = s.Add(vectorLayer("y"), WithOrder(99))
	require.True(t, ok)
	assert.Equal(t, 4, orders(s)["y"])

	_, ok = s.Add(vectorLayer("z"), WithOrder(-3))
	require.True(t, ok)
	assert.Equal(t, 0, orders(s)["z"])
	assertDense(t, s)
}

func TestAdd_GeneratesIDs(t *testing.T) {
	counter := NewIDCounter()
	s := New(WithIDCounter(counter))

	id, ok := s.Add(core.LayerConfig{Source: &core.RasterSource{TileURL: "u"}})
	require.True(t, ok)
	assert.Equal(t, "layer-1", id)

	// A user-supplied id that collides with the sequence is skipped over.
	_, ok = s.Add(vectorLayer("layer-2"))
	require.True(t, ok)
	id, _ = s.Add(core.LayerConfig{Source: &core.RasterSource{TileURL: "u"}})
	assert.Equal(t, "layer-3", id)

	counter.Reset()
	other := New(WithIDCounter(counter))
	id, _ = other.Add(core.LayerConfig{Source: &core.RasterSource{TileURL: "u"}})
	assert.Equal(t, "layer-1", id)
	assert.Same(t, counter, other.IDs())
}

func TestRemove(t *testing.T) {
	s := newStore(t)
	s.Init([]core.LayerConfig{vectorLayer("a"), vectorLayer("b"), vectorLayer("c")})

	assert.True(t, s.Remove("b"))
	assert.Equal(t, map[string]int{"a": 0, "c": 1}, orders(s))
	assert.False(t, s.Remove("b"))
	assert.False(t, s.Remove("missing"))
}

func TestRemove_DropsGeometry(t *testing.T) {
	s := newStore(t)
	s.Add(vectorLayer("a"))
	fc := geojson.NewFeatureCollection()
	fc.Append(geojson.NewFeature(orb.Point{1, 2}))
	require.True(t, s.SetGeoJSON("a", fc))

	got, ok := s.GeoJSON("a")
	require.True(t, ok)
	assert.Same(t, fc, got)

	s.Remove("a")
	s.Add(vectorLayer("a"))
	_, ok = s.GeoJSON("a")
	assert.False(t, ok, "a re-added layer starts without geometry")
	assert.False(t, s.SetGeoJSON("missing", fc))
}

func TestUpdate_MergesStyle(t *testing.T) {
	s := newStore(t)
	cfg := vectorLayer("a")
	cfg.Style.FillColor = color.CSS("#ff0000")
	lw := 2.0
	cfg.Style.LineWidth = &lw
	s.Add(cfg)

	opacity := 0.5
	require.True(t, s.Update("a", core.LayerPatch{Style: &core.Style{Opacity: &opacity}}))

	st, ok := s.Get("a")
	require.True(t, ok)
	assert.Equal(t, color.CSS("#ff0000"), st.Config.Style.FillColor)
	assert.Equal(t, 0.5, *st.Config.Style.Opacity)
	assert.Equal(t, 2.0, *st.Config.Style.LineWidth)
}

func TestUpdate_RejectsTypeChange(t *testing.T) {
	s := newStore(t)
	s.Add(vectorLayer("a"))

	assert.False(t, s.Update("a", core.LayerPatch{Source: &core.RasterSource{TileURL: "u"}}))
	assert.False(t, s.Update("missing", core.LayerPatch{}))

	st, _ := s.Get("a")
	assert.Equal(t, core.LayerVector, st.Config.Type())
}

func TestUpdate_VisibleFollowsPatch(t *testing.T) {
	s := newStore(t)
	s.Add(vectorLayer("a"))
	hidden := false
	require.True(t, s.Update("a", core.LayerPatch{Visible: &hidden}))

	st, _ := s.Get("a")
	assert.False(t, st.Visible)
}

func TestReplace_SwapsWholeConfig(t *testing.T) {
	s := newStore(t)
	opacity := 0.3
	a := vectorLayer("a")
	a.Style = core.Style{Opacity: &opacity, FillColor: color.CSS("#00ff00")}
	s.Init([]core.LayerConfig{vectorLayer("top"), a})

	hidden := false
	next := vectorLayer("ignored")
	next.Visible = &hidden
	next.Style = core.Style{FillColor: color.CSS("#ff0000")}
	require.True(t, s.Replace("a", next))

	st, _ := s.Get("a")
	assert.Equal(t, "a", st.Config.ID, "id is kept")
	assert.Equal(t, 1, st.Order, "order is kept")
	assert.Nil(t, st.Config.Style.Opacity, "unset style fields are cleared")
	assert.False(t, st.Visible)

	assert.False(t, s.Replace("a", core.LayerConfig{Source: &core.RasterSource{TileURL: "https://t/{z}/{x}/{y}.png"}}))
	assert.False(t, s.Replace("missing", next))
}

func TestSourceChange_DropsGeometry(t *testing.T) {
	s := newStore(t)
	s.Init([]core.LayerConfig{vectorLayer("a"), vectorLayer("b")})
	fc := geojson.NewFeatureCollection()
	fc.Append(geojson.NewFeature(orb.Point{1, 2}))
	require.True(t, s.SetGeoJSON("a", fc))
	require.True(t, s.SetGeoJSON("b", fc))

	restyled := vectorLayer("a")
	restyled.Style = core.Style{FillColor: color.CSS("#ff0000")}
	require.True(t, s.Replace("a", restyled))
	_, ok := s.GeoJSON("a")
	assert.True(t, ok, "same source keeps geometry")

	require.True(t, s.Replace("a", vectorLayer("other")))
	_, ok = s.GeoJSON("a")
	assert.False(t, ok, "new source drops geometry")
	st, _ := s.Get("a")
	assert.Nil(t, st.GeoJSON)

	require.True(t, s.Update("b", core.LayerPatch{Source: &core.VectorSource{DataURL: "https://example.com/moved.geojson"}}))
	_, ok = s.GeoJSON("b")
	assert.False(t, ok)
}

func TestVisibility_DoesNotChangeOrder(t *testing.T) {
	s := newStore(t)
	s.Init([]core.LayerConfig{vectorLayer("a"), vectorLayer("b"), vectorLayer("c")})
	before := orders(s)

	assert.True(t, s.SetVisible("b", false))
	v, ok := s.ToggleVisible("a")
	assert.True(t, ok)
	assert.False(t, v)
	assert.Equal(t, 2, s.SetVisibleBatch(map[string]bool{"a": true, "c": false, "missing": false, "b": false}))

	assert.Equal(t, before, orders(s))
	assert.Equal(t, map[string]bool{"a": true, "b": false, "c": false}, s.Export().Visibility)

	assert.False(t, s.SetVisible("missing", true))
	_, ok = s.ToggleVisible("missing")
	assert.False(t, ok)
}

func TestMoveUp_TopIsNoop(t *testing.T) {
	s := newStore(t)
	s.Add(vectorLayer("a"))
	s.Add(vectorLayer("b"))

	assert.False(t, s.MoveUp("a"))
	assert.Equal(t, map[string]int{"a": 0, "b": 1}, orders(s))

	assert.False(t, s.MoveDown("b"))
	assert.Equal(t, map[string]int{"a": 0, "b": 1}, orders(s))

	assert.True(t, s.MoveUp("b"))
	assert.Equal(t, map[string]int{"b": 0, "a": 1}, orders(s))
	assert.True(t, s.MoveDown("b"))
	assert.Equal(t, map[string]int{"a": 0, "b": 1}, orders(s))
}

func TestReorder(t *testing.T) {
	s := newStore(t)
	s.Init([]core.LayerConfig{vectorLayer("a"), vectorLayer("b"), vectorLayer("c"), vectorLayer("d")})

	assert.True(t, s.Reorder("d", 1))
	assert.Equal(t, map[string]int{"a": 0, "d": 1, "b": 2, "c": 3}, orders(s))

	assert.True(t, s.MoveToTop("c"))
	assert.Equal(t, map[string]int{"c": 0, "a": 1, "d": 2, "b": 3}, orders(s))

	assert.True(t, s.MoveToBottom("c"))
	assert.Equal(t, map[string]int{"a": 0, "d": 1, "b": 2, "c": 3}, orders(s))

	assert.False(t, s.MoveToBottom("c"))
	assert.False(t, s.Reorder("missing", 0))
	assert.True(t, s.Reorder("a", 100))
	assert.Equal(t, 3, orders(s)["a"])
}

func TestOrderDensity_RandomOperations(t *testing.T) {
	s := New()
	r := rand.New(rand.NewPCG(1, 2))
	var ids []string

	for range 500 {
		switch op := r.IntN(5); {
		case op == 0 || len(ids) == 0:
			id, ok := s.Add(core.LayerConfig{Source: &core.MVTSource{TileURL: "u"}}, WithOrder(r.IntN(len(ids)+2)-1))
			require.True(t, ok)
			ids = append(ids, id)
		case op == 1:
			i := r.IntN(len(ids))
			s.Remove(ids[i])
			ids = append(ids[:i], ids[i+1:]...)
		case op == 2:
			s.Reorder(ids[r.IntN(len(ids))], r.IntN(len(ids)+2)-1)
		case op == 3:
			s.MoveUp(ids[r.IntN(len(ids))])
		default:
			s.MoveDown(ids[r.IntN(len(ids))])
		}
		assertDense(t, s)
	}
}

func TestExport_RoundTrip(t *testing.T) {
	s := newStore(t)
	hidden := false
	b := vectorLayer("b")
	b.Visible = &hidden
	s.Init([]core.LayerConfig{vectorLayer("a"), b, {Source: &core.PMTilesSource{PMTilesURL: "p"}}})
	s.SetVisible("a", false)
	s.MoveToTop("b")

	first := s.Export()
	s.Init(first.Layers)
	second := s.Export()

	assert.Equal(t, first, second)
	assert.Equal(t, []string{"b", "a", "layer-1"}, []string{second.Layers[0].ID, second.Layers[1].ID, second.Layers[2].ID})
}

func TestClear(t *testing.T) {
	s := newStore(t)
	s.Init([]core.LayerConfig{vectorLayer("a"), vectorLayer("b")})
	var got []Event
	s.OnAll(func(ev Event) { got = append(got, ev) })

	s.Clear()
	assert.Zero(t, s.Len())
	require.Len(t, got, 1)
	assert.Equal(t, EventBatch, got[0].Kind)
	assert.Len(t, got[0].Changes, 2)

	s.Clear()
	assert.Len(t, got, 1, "clearing an empty store emits nothing")
}

func TestInit_SkipsDuplicateIDs(t *testing.T) {
	s := newStore(t)
	s.Init([]core.LayerConfig{vectorLayer("a"), vectorLayer("a"), vectorLayer("b")})
	assert.Equal(t, map[string]int{"a": 0, "b": 1}, orders(s))
}

// =============================================================================
// Events
// =============================================================================

func TestEvents_KindAndWildcard(t *testing.T) {
	s := newStore(t)
	var kinds []EventKind
	var adds []string
	s.OnAll(func(ev Event) { kinds = append(kinds, ev.Kind) })
	unsubscribe := s.On(EventAdd, func(ev Event) { adds = append(adds, ev.ID) })

	s.Add(vectorLayer("a"))
	s.Add(vectorLayer("b"))
	s.SetVisible("a", false)
	s.SetVisible("a", false)
	s.MoveDown("a")
	opacity := 0.3
	s.Update("b", core.LayerPatch{Style: &core.Style{Opacity: &opacity}})
	s.SetGeoJSON("b", geojson.NewFeatureCollection())
	unsubscribe()
	s.Add(vectorLayer("c"))
	s.Remove("c")

	assert.Equal(t, []string{"a", "b"}, adds)
	assert.Equal(t, []EventKind{
		EventAdd, EventAdd, EventVisibility, EventReorder, EventUpdate, EventGeoJSON, EventAdd, EventRemove,
	}, kinds)
}

func TestEvents_BeforeAfterSnapshots(t *testing.T) {
	s := newStore(t)
	s.Add(vectorLayer("a"))
	var ev Event
	s.On(EventUpdate, func(e Event) { ev = e })

	name := "Parcels"
	s.Update("a", core.LayerPatch{Name: &name})

	require.NotNil(t, ev.Before)
	require.NotNil(t, ev.After)
	assert.Equal(t, "a", ev.Before.Config.DisplayName())
	assert.Equal(t, "Parcels", ev.After.Config.DisplayName())
	assert.Equal(t, "a", ev.LayerID())
}

func TestEvents_ListenerSeesCompletedMutation(t *testing.T) {
	s := newStore(t)
	s.Init([]core.LayerConfig{vectorLayer("a"), vectorLayer("b")})

	var seen map[string]int
	s.On(EventRemove, func(Event) { seen = orders(s) })
	s.Remove("a")

	assert.Equal(t, map[string]int{"b": 0}, seen)
}

func TestEvents_NestedMutationsAreQueued(t *testing.T) {
	s := newStore(t)
	var log []string
	s.On(EventAdd, func(ev Event) {
		log = append(log, "add:"+ev.ID)
		if ev.ID == "a" {
			s.SetVisible("a", false)
			log = append(log, "after-set-visible")
		}
	})
	s.On(EventAdd, func(ev Event) { log = append(log, "second:"+ev.ID) })
	s.On(EventVisibility, func(ev Event) { log = append(log, "visibility:"+ev.ID) })

	s.Add(vectorLayer("a"))

	assert.Equal(t, []string{"add:a", "after-set-visible", "second:a", "visibility:a"}, log)
}

func TestEvents_ListenerPanicDoesNotStopDispatch(t *testing.T) {
	s := newStore(t)
	var delivered bool
	s.On(EventAdd, func(Event) { panic("boom") })
	s.On(EventAdd, func(Event) { delivered = true })

	s.Add(vectorLayer("a"))
	assert.True(t, delivered)

	delivered = false
	s.Add(vectorLayer("b"))
	assert.True(t, delivered, "dispatcher recovered")
}

func TestEvents_SetVisibleBatch(t *testing.T) {
	s := newStore(t)
	s.Init([]core.LayerConfig{vectorLayer("a"), vectorLayer("b")})
	var got []Event
	s.OnAll(func(ev Event) { got = append(got, ev) })

	s.SetVisibleBatch(map[string]bool{"a": false, "b": false})
	require.Len(t, got, 1)
	assert.Equal(t, EventBatch, got[0].Kind)
	require.Len(t, got[0].Changes, 2)
	assert.Equal(t, "a", got[0].Changes[0].LayerID())
	assert.True(t, got[0].Changes[0].Before.Visible)
	assert.False(t, got[0].Changes[0].After.Visible)
}
