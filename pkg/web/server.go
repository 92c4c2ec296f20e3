// Package web serves a small inspection API over the merged
// configuration: which services are registered, which prefixes they
// claim and what the build cache knows.
package web

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hashicorp/go-hclog"

	"github.com/scl-tools/rpmrh/pkg/config"
	"github.com/scl-tools/rpmrh/pkg/service"
	"github.com/scl-tools/rpmrh/pkg/storage"
)

// Server wraps up the request routers serving the inspection API.
type Server struct {
	l hclog.Logger
	r chi.Router
	n *http.Server

	ctx   *config.Context
	cache *storage.BuildCache
}

// New initializes the server with its default routers.
func New(l hclog.Logger, ctx *config.Context, cache *storage.BuildCache) *Server {
	s := Server{
		l:     l.Named("web"),
		r:     chi.NewRouter(),
		n:     &http.Server{},
		ctx:   ctx,
		cache: cache,
	}

	s.r.Use(middleware.Logger)
	s.r.Use(middleware.Heartbeat("/healthz"))

	s.r.Get("/", s.rootIndex)
	s.r.Get("/services", s.dumpServices)
	s.r.Get("/cache/{nevra}", s.dumpCacheEntry)

	return &s
}

// Serve binds and serves forever.
func (s *Server) Serve(bind string) error {
	s.l.Info("HTTP is starting", "bind", bind)
	s.n.Addr = bind
	s.n.Handler = s.r
	return s.n.ListenAndServe()
}

func (s *Server) rootIndex(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte("rpmrh inspection API; see /services and /cache/{nevra}\n"))
}

type serviceInfo struct {
	Type           string   `json:"type"`
	TagPrefixes    []string `json:"tag_prefixes,omitempty"`
	TargetPrefixes []string `json:"target_prefixes,omitempty"`
}

func (s *Server) dumpServices(w http.ResponseWriter, r *http.Request) {
	var out []serviceInfo
	for _, svc := range s.ctx.Services.AllServices() {
		info := serviceInfo{Type: svc.Type()}
		if repo, ok := svc.(service.Repository); ok {
			info.TagPrefixes = repo.TagPrefixes()
		}
		if builder, ok := svc.(service.Builder); ok {
			info.TargetPrefixes = builder.TargetPrefixes()
		}
		out = append(out, info)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}

func (s *Server) dumpCacheEntry(w http.ResponseWriter, r *http.Request) {
	if s.cache == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	built, ok := s.cache.Get(chi.URLParam(r, "nevra"))
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(built)
}
