package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/leapstack-labs/leapmap/internal/layerstore"
	"github.com/leapstack-labs/leapmap/internal/mapconfig"
	"github.com/leapstack-labs/leapmap/internal/reconcile"
	"github.com/leapstack-labs/leapmap/pkg/core"
)

// LayerView is the API form of one layer.
type LayerView struct {
	ID      string           `json:"id"`
	Order   int              `json:"order"`
	Visible bool             `json:"visible"`
	Config  core.LayerConfig `json:"config"`
	// Derived is true when SQL-derived geometry is held for the layer.
	Derived bool   `json:"derived"`
	Failure string `json:"failure,omitempty"`
}

func (s *Server) view(st core.LayerState, failures map[string]error) LayerView {
	v := LayerView{
		ID:      st.Config.ID,
		Order:   st.Order,
		Visible: st.Visible,
		Config:  st.Config,
		Derived: st.GeoJSON != nil,
	}
	if err := failures[st.Config.ID]; err != nil {
		v.Failure = err.Error()
	}
	return v
}

func formatParam(r *http.Request) mapconfig.Format {
	return mapconfig.Format(r.URL.Query().Get("format"))
}

// =============================================================================
// Map
// =============================================================================

func (s *Server) getMap(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.session.Document())
}

func (s *Server) putMap(w http.ResponseWriter, r *http.Request) {
	data, err := readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	cfg, result, err := mapconfig.Load(data, formatParam(r))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if cfg == nil {
		writeJSON(w, http.StatusUnprocessableEntity, result)
		return
	}
	if err := s.session.Reload(r.Context(), cfg); err != nil {
		s.logger.Warn("reload finished with layer failures", "error", err)
	}
	s.notifier.Broadcast("reload")
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) getExport(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.session.Store().Export())
}

type validateResponse struct {
	Result     core.ValidationResult `json:"result"`
	Normalized any                   `json:"normalized"`
}

func (s *Server) postValidate(w http.ResponseWriter, r *http.Request) {
	data, err := readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	raw, err := mapconfig.Parse(data, formatParam(r))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	normalized := mapconfig.NormalizeInputs(raw)
	writeJSON(w, http.StatusOK, validateResponse{
		Result:     mapconfig.Validate(normalized),
		Normalized: normalized,
	})
}

type renderResponse struct {
	Drawn     []string                           `json:"drawn"`
	Renderers map[string]reconcile.RecorderState `json:"renderers"`
}

func (s *Server) getRender(w http.ResponseWriter, _ *http.Request) {
	resp := renderResponse{
		Drawn:     s.session.Engine().Drawn(),
		Renderers: make(map[string]reconcile.RecorderState, len(s.renderers)),
	}
	for _, ins := range s.renderers {
		resp.Renderers[ins.Name()] = ins.State()
	}
	writeJSON(w, http.StatusOK, resp)
}

type pickResponse struct {
	Layer      string         `json:"layer,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
}

func (s *Server) getPick(w http.ResponseWriter, r *http.Request) {
	var q reconcile.PickQuery
	for name, dst := range map[string]*float64{"x": &q.X, "y": &q.Y, "radius": &q.Radius} {
		raw := r.URL.Query().Get(name)
		if raw == "" {
			if name == "radius" {
				continue
			}
			writeError(w, http.StatusBadRequest, fmt.Errorf("missing query parameter %q", name))
			return
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid %s: %w", name, err))
			return
		}
		*dst = v
	}
	layer, props, err := s.session.Engine().Pick(r.Context(), q)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pickResponse{Layer: layer, Properties: props})
}

func (s *Server) getFailures(w http.ResponseWriter, _ *http.Request) {
	out := make(map[string]string)
	for id, err := range s.session.Failures() {
		out[id] = err.Error()
	}
	writeJSON(w, http.StatusOK, out)
}

// =============================================================================
// Layers
// =============================================================================

func (s *Server) listLayers(w http.ResponseWriter, _ *http.Request) {
	failures := s.session.Failures()
	states := s.session.Store().List()
	out := make([]LayerView, len(states))
	for i, st := range states {
		out[i] = s.view(st, failures)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getLayer(w http.ResponseWriter, r *http.Request) {
	st, err := s.session.Get(chi.URLParam(r, "id"))
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.view(st, s.session.Failures()))
}

// addLayer validates one layer object the way a document layer is validated
// and adds it, at ?order=n when given.
func (s *Server) addLayer(w http.ResponseWriter, r *http.Request) {
	var raw map[string]any
	if err := decodeBody(r, &raw); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	normalized := mapconfig.NormalizeInputs(map[string]any{"layers": []any{raw}})
	if result := mapconfig.Validate(normalized); !result.Valid {
		writeJSON(w, http.StatusUnprocessableEntity, result)
		return
	}
	cfg, err := mapconfig.Decode(normalized)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}

	var opts []layerstore.AddOption
	if raw := r.URL.Query().Get("order"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid order: %w", err))
			return
		}
		opts = append(opts, layerstore.WithOrder(n))
	}

	id, ok := s.session.Store().Add(cfg.Layers[0], opts...)
	if !ok {
		writeError(w, http.StatusConflict, fmt.Errorf("layer %q already exists", cfg.Layers[0].ID))
		return
	}
	if err := s.session.Hydrate(r.Context()); err != nil {
		s.logger.Warn("hydration incomplete", "layer", id, "error", err)
	}
	st, err := s.session.Get(id)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, s.view(st, s.session.Failures()))
}

// patchLayer merges name, visibility, tooltip columns and style into a
// layer. Style keys accept the same aliases as a document.
func (s *Server) patchLayer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	st, err := s.session.Get(id)
	if err != nil {
		fail(w, err)
		return
	}
	var raw map[string]any
	if err := decodeBody(r, &raw); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	patch, err := decodePatch(raw, st.Config.Type())
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	if !s.session.Store().Update(id, patch) {
		writeError(w, http.StatusConflict, fmt.Errorf("layer %q rejected the patch", id))
		return
	}
	st, _ = s.session.Get(id)
	writeJSON(w, http.StatusOK, s.view(st, s.session.Failures()))
}

func decodePatch(raw map[string]any, lt core.LayerType) (core.LayerPatch, error) {
	var patch core.LayerPatch
	layer := map[string]any{"layerType": string(lt)}
	for k, v := range raw {
		layer[k] = v
	}
	normalized := mapconfig.NormalizeInputs(map[string]any{"layers": []any{layer}})
	root, _ := normalized.(map[string]any)
	layers, _ := root["layers"].([]any)
	if len(layers) != 1 {
		return patch, errors.New("patch must be an object")
	}
	m, _ := layers[0].(map[string]any)

	if v, ok := m["name"]; ok {
		name, ok := v.(string)
		if !ok {
			return patch, errors.New("name must be a string")
		}
		patch.Name = &name
	}
	if v, ok := m["visible"]; ok {
		visible, ok := v.(bool)
		if !ok {
			return patch, errors.New("visible must be a boolean")
		}
		patch.Visible = &visible
	}
	if v, ok := m["tooltipColumns"]; ok {
		cols, ok := v.([]any)
		if !ok {
			return patch, errors.New("tooltipColumns must be a list")
		}
		patch.TooltipColumns = make([]string, 0, len(cols))
		for _, c := range cols {
			name, ok := c.(string)
			if !ok {
				return patch, errors.New("tooltipColumns must contain strings")
			}
			patch.TooltipColumns = append(patch.TooltipColumns, name)
		}
	}
	if v, ok := m["style"]; ok {
		sm, ok := v.(map[string]any)
		if !ok {
			return patch, errors.New("style must be an object")
		}
		style, err := mapconfig.DecodeStyle(sm)
		if err != nil {
			return patch, fmt.Errorf("style: %w", err)
		}
		patch.Style = &style
	}
	return patch, nil
}

func (s *Server) deleteLayer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.session.Store().Remove(id) {
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown layer: %s", id))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type visibilityRequest struct {
	Visible *bool `json:"visible"`
}

// setVisibility sets visibility, or toggles it when the body omits it.
func (s *Server) setVisibility(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req visibilityRequest
	if r.ContentLength != 0 {
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	var ok bool
	if req.Visible == nil {
		_, ok = s.session.Store().ToggleVisible(id)
	} else {
		ok = s.session.Store().SetVisible(id, *req.Visible)
	}
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown layer: %s", id))
		return
	}
	st, _ := s.session.Get(id)
	writeJSON(w, http.StatusOK, s.view(st, s.session.Failures()))
}

type moveRequest struct {
	// To is one of up, down, top or bottom.
	To    string `json:"to"`
	Order *int   `json:"order"`
}

func (s *Server) moveLayer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.session.Get(id); err != nil {
		fail(w, err)
		return
	}
	var req moveRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	store := s.session.Store()
	switch {
	case req.Order != nil:
		store.Reorder(id, *req.Order)
	case req.To == "up":
		store.MoveUp(id)
	case req.To == "down":
		store.MoveDown(id)
	case req.To == "top":
		store.MoveToTop(id)
	case req.To == "bottom":
		store.MoveToBottom(id)
	default:
		writeError(w, http.StatusBadRequest, fmt.Errorf("move needs order or to=up|down|top|bottom, got %q", req.To))
		return
	}
	s.listLayers(w, r)
}

type sqlRequest struct {
	SQL string `json:"sql"`
}

func (s *Server) applySQL(w http.ResponseWriter, r *http.Request) {
	var req sqlRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	res, err := s.session.ApplySQL(r.Context(), chi.URLParam(r, "id"), req.SQL)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) getGeoJSON(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.session.Get(id); err != nil {
		fail(w, err)
		return
	}
	fc, ok := s.session.Store().GeoJSON(id)
	if !ok || fc == nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("layer %q has no derived geometry", id))
		return
	}
	w.Header().Set("Content-Type", "application/geo+json")
	data, err := fc.MarshalJSON()
	if err != nil {
		fail(w, err)
		return
	}
	_, _ = w.Write(data)
}

func (s *Server) getColors(w http.ResponseWriter, r *http.Request) {
	resolved, err := s.session.Compile(chi.URLParam(r, "id"), chi.URLParam(r, "prop"))
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resolved)
}
