// Package httpapi exposes the cache over the endpoint table in spec.md §6:
// health, live (non-mutating) evaluation, cached top-25 in several
// encodings, and per-site lookups.
package httpapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"proxy-fleet-evaluator/internal/cache"
	"proxy-fleet-evaluator/internal/descriptor"
)

// Server wires the cache onto a plain net/http.ServeMux. No router library
// is pulled in: the route set is small and static, and nothing in the
// corpus models this better than http.ServeMux's prefix matching.
type Server struct {
	c   *cache.Cache
	log *logrus.Logger
	mux *http.ServeMux
}

// New builds a Server with every route registered.
func New(c *cache.Cache, log *logrus.Logger) *Server {
	s := &Server{c: c, log: log, mux: http.NewServeMux()}
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/servers/live", s.handleLive)
	s.mux.HandleFunc("/cache", s.handleCache)
	s.mux.HandleFunc("/cache/raw", s.handleCacheRaw)
	s.mux.HandleFunc("/cache/base64", s.handleCacheBase64)
	s.mux.HandleFunc("/cache/all/base64", s.handleCacheAllBase64)
	s.mux.HandleFunc("/subscription/site-specific", s.handleSiteSpecific)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	if s.c.IsProcessing() {
		writeError(w, http.StatusTooManyRequests, "a refresh is already in progress")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Minute)
	defer cancel()

	servers, err := s.c.Live(ctx)
	if err != nil {
		if errors.Is(err, cache.ErrBusy) {
			writeError(w, http.StatusTooManyRequests, "a refresh is already in progress")
			return
		}
		s.log.WithError(err).Error("live evaluation failed")
		writeError(w, http.StatusInternalServerError, "evaluation failed")
		return
	}
	if len(servers) == 0 {
		writeError(w, http.StatusServiceUnavailable, "no reachable servers")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":   len(servers),
		"servers": servers,
	})
}

func (s *Server) handleCache(w http.ResponseWriter, r *http.Request) {
	servers, ok := s.c.GetTop25()
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "cache not ready")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":   len(servers),
		"servers": servers,
	})
}

func (s *Server) handleCacheRaw(w http.ResponseWriter, r *http.Request) {
	servers, ok := s.c.GetTop25()
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "cache not ready")
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(joinRawURIs(servers)))
}

func (s *Server) handleCacheBase64(w http.ResponseWriter, r *http.Request) {
	servers, ok := s.c.GetTop25()
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "cache not ready")
		return
	}
	writePlainBase64(w, joinRawURIs(servers))
}

func (s *Server) handleCacheAllBase64(w http.ResponseWriter, r *http.Request) {
	servers, ok := s.c.GetAll()
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "cache not ready")
		return
	}
	writePlainBase64(w, joinRawURIs(servers))
}

func (s *Server) handleSiteSpecific(w http.ResponseWriter, r *http.Request) {
	url := r.URL.Query().Get("url")
	if url == "" {
		writeError(w, http.StatusBadRequest, "missing url parameter")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Minute)
	defer cancel()

	servers, err := s.c.GetSiteSpecific(ctx, url)
	if err != nil {
		switch {
		case errors.Is(err, cache.ErrBusy):
			writeError(w, http.StatusTooManyRequests, "a refresh is already in progress")
		case errors.Is(err, cache.ErrNotReady):
			writeError(w, http.StatusServiceUnavailable, "cache not ready")
		default:
			s.log.WithError(err).Error("site-specific evaluation failed")
			writeError(w, http.StatusInternalServerError, "evaluation failed")
		}
		return
	}
	if len(servers) == 0 {
		writeError(w, http.StatusNotFound, "no reachable servers for "+url)
		return
	}
	writePlainBase64(w, joinRawURIs(servers))
}

func joinRawURIs(servers []*descriptor.ServerDescriptor) string {
	lines := make([]string, len(servers))
	for i, d := range servers {
		lines[i] = d.RawURI
	}
	return strings.Join(lines, "\n")
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writePlainBase64(w http.ResponseWriter, raw string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(base64.StdEncoding.EncodeToString([]byte(raw))))
}
