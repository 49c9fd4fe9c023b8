package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/gaspardpetit/detpay/internal/bridge"
	"github.com/gaspardpetit/detpay/internal/clientstore"
	"github.com/gaspardpetit/detpay/internal/logx"
	"github.com/gaspardpetit/detpay/internal/notify"
	"github.com/gaspardpetit/detpay/internal/render"
	"github.com/gaspardpetit/detpay/internal/surface"
)

// HeaderSurfaceID carries the id of the surface an embed response rendered.
const HeaderSurfaceID = "X-Surface-ID"

const replayLimit = 64

var queryAttributes = []string{
	surface.AttrClientID,
	surface.AttrRedirectURI,
	surface.AttrDataContext,
	surface.AttrDebug,
	surface.AttrBaseSrc,
	surface.AttrAutoSubmit,
	surface.AttrMethod,
	surface.AttrTarget,
	surface.AttrSandbox,
	surface.AttrAllow,
	surface.AttrReferrerPolicy,
	surface.AttrTitle,
	surface.AttrLoading,
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) getClient(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	cfg, err := s.store.Get(r.Context(), id)
	if errors.Is(err, clientstore.ErrNotFound) {
		http.Error(w, "client not found", http.StatusNotFound)
		return
	}
	if err != nil {
		logx.Log.Error().Err(err).Str("client_id", id).Msg("client lookup failed")
		http.Error(w, "client lookup failed", http.StatusInternalServerError)
		return
	}
	cfg.Nonce = uuid.NewString()
	writeJSON(w, http.StatusOK, cfg)
}

// attributesFromQuery maps query parameters onto surface attributes. A
// parameter present without a value is a present boolean attribute.
func attributesFromQuery(r *http.Request) map[string]string {
	q := r.URL.Query()
	attrs := map[string]string{}
	for _, name := range queryAttributes {
		if vs, ok := q[name]; ok {
			attrs[name] = firstOrEmpty(vs)
		}
	}
	for k, vs := range q {
		if strings.HasPrefix(k, "data-") {
			attrs[k] = firstOrEmpty(vs)
		}
	}
	return attrs
}

func firstOrEmpty(vs []string) string {
	if len(vs) == 0 {
		return ""
	}
	return vs[0]
}

// documentBase is the URL a relative base-src resolves against.
func documentBase(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if p := r.Header.Get("X-Forwarded-Proto"); p != "" {
		scheme = p
	}
	return scheme + "://" + r.Host + r.URL.Path
}

func (s *Server) embed(element, defaultBase string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		page := render.NewPage()
		events := notify.NewHub(replayLimit)
		events.OriginPatterns = originPatterns(s.cfg.AllowedOrigins)
		var hub *bridge.Hub
		platform := surface.Platform{Navigator: render.FormNavigator{Page: page}}
		if element == surface.ElementFrame {
			hub = bridge.NewHub()
			platform.Channel = hub
		}
		sf, err := s.elements.Create(element, surface.Deps{
			Fetcher:      s.fetcher,
			Renderer:     page,
			Host:         events,
			DefaultBase:  defaultBase,
			DocumentBase: documentBase(r),
			Attributes:   attributesFromQuery(r),
		}, platform)
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		if frame, ok := sf.(*surface.Frame); ok && hub != nil {
			hub.OnConnect = func(*bridge.Conn) { frame.NotifyLoad() }
		}
		sess := &session{surface: sf, page: page, bridge: hub, events: events}
		s.sessions.add(sess)

		// The surface outlives this request; its fetch is bounded by the
		// resolver timeout instead.
		if err := sf.Attach(context.Background()); err != nil {
			s.sessions.Remove(sf.ID())
			http.Error(w, "surface unavailable", http.StatusServiceUnavailable)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
		st, err := sf.Wait(ctx)
		cancel()
		log := logx.Log.With().Str("surface", sf.ID()).Str("element", element).Logger()
		if err != nil {
			log.Warn().Err(err).Msg("surface did not settle before the request deadline")
		} else {
			log.Debug().Str("state", st.String()).Msg("surface rendered")
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set(HeaderSurfaceID, sf.ID())
		if err := page.Render(w, render.Meta{SurfaceID: sf.ID(), EventsPath: "/events/" + sf.ID(), ParentOrigins: s.parentOrigins}); err != nil {
			log.Error().Err(err).Msg("render page")
		}
	}
}

func (s *Server) serveBridge(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessions.lookup(chi.URLParam(r, "key"))
	if !ok || sess.bridge == nil {
		http.NotFound(w, r)
		return
	}
	sess.bridge.ServeHTTP(w, r)
}

func (s *Server) serveEvents(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessions.lookup(chi.URLParam(r, "key"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	sess.events.ServeHTTP(w, r)
}

type surfaceStatus struct {
	ID          string `json:"id"`
	Kind        string `json:"kind"`
	State       string `json:"state"`
	Destination string `json:"destination,omitempty"`
	View        string `json:"view"`
}

func (s *Server) getSurface(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessions.lookup(chi.URLParam(r, "id"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	sf := sess.surface
	writeJSON(w, http.StatusOK, surfaceStatus{
		ID:          sf.ID(),
		Kind:        sf.Kind(),
		State:       sf.State().String(),
		Destination: sf.Destination(),
		View:        sess.page.View(),
	})
}

func (s *Server) deleteSurface(w http.ResponseWriter, r *http.Request) {
	if !s.sessions.Remove(chi.URLParam(r, "id")) {
		http.NotFound(w, r)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
