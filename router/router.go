// Package router implements the Router / auth gate: the
// HTTP route table for the three Smart HTTP endpoints, gzip-transparent
// request bodies, and the AuthZ check gating every request before it
// reaches RepoActor.
package router

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"gitserve/authz"
	"gitserve/gitobj"
	"gitserve/giterr"
	"gitserve/internal/logging"
	"gitserve/metrics"
	"gitserve/notify"
	"gitserve/protocol"
	"gitserve/repoactor"
	"gitserve/rescache"
)

// Server wires the registry and auth gate into an http.Handler using Go
// 1.22's http.ServeMux pattern-route style
// (`mux.HandleFunc("METHOD /path", handler)`). metrics, cache, and hub are
// all optional bonus wiring: a zero-value Server (via New with no options)
// still serves the three required wire endpoints.
type Server struct {
	registry *repoactor.Registry
	auth     authz.AuthZ

	metrics *metrics.Metrics
	cache   *rescache.Cache
	hub     *notify.Hub
}

// Option configures optional Server wiring.
type Option func(*Server)

// WithMetrics exposes /metrics and records request counts/latency/pack
// bytes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithResultCache fronts the browse endpoints with a fingerprinted,
// TTL'd cache.
func WithResultCache(c *rescache.Cache) Option {
	return func(s *Server) { s.cache = c }
}

// WithNotifyHub broadcasts a RefUpdateEvent over WebSocket for every ref a
// receive-pack successfully updates, and serves the subscription endpoint.
func WithNotifyHub(h *notify.Hub) Option {
	return func(s *Server) { s.hub = h }
}

func New(registry *repoactor.Registry, auth authz.AuthZ, opts ...Option) *Server {
	s := &Server{registry: registry, auth: auth}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{owner}/{repo}/info/refs", s.infoRefs)
	mux.HandleFunc("POST /{owner}/{repo}/git-upload-pack", s.uploadPack)
	mux.HandleFunc("POST /{owner}/{repo}/git-receive-pack", s.receivePack)
	NewBrowseHandler(s, s.cache).Register(mux)

	if s.hub != nil {
		mux.HandleFunc("GET /{owner}/{repo}/ws", s.serveWS)
	}

	var h http.Handler = mux
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
		h = s.instrument(mux)
	}
	return gzipDecompress(h)
}

// instrument wraps next with request-count and latency recording, grounded
// on the same per-route labeling yoshihikoueno-smart-git-proxy's metrics
// middleware uses.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		route := r.Method + " " + routeShape(r.URL.Path)
		s.metrics.RequestsTotal.WithLabelValues(route).Inc()
		s.metrics.RequestLatency.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

func normalizeRepoName(repo string) string {
	return strings.TrimSuffix(repo, ".git")
}

// routeShape collapses "/alice/demo/info/refs" into "/{owner}/{repo}/info/refs"
// so the metrics label cardinality stays bounded by route count, not repo
// count.
func routeShape(path string) string {
	parts := strings.SplitN(strings.TrimPrefix(path, "/"), "/", 3)
	if len(parts) < 3 {
		return path
	}
	return "/{owner}/{repo}/" + parts[2]
}

func basicCreds(r *http.Request) authz.Credentials {
	user, pass, _ := r.BasicAuth()
	return authz.Credentials{Username: user, Password: pass}
}

func requireAuth(w http.ResponseWriter) bool {
	w.Header().Set("WWW-Authenticate", `Basic realm="gitserve"`)
	http.Error(w, "authentication required", http.StatusUnauthorized)
	return false
}

func (s *Server) checkAccess(w http.ResponseWriter, r *http.Request, owner, repo string, op authz.Op) bool {
	err := s.auth.Check(r.Context(), owner, repo, op, basicCreds(r))
	if err == nil {
		return true
	}
	switch giterr.KindOf(err) {
	case giterr.NotFound:
		http.Error(w, "repository not found", http.StatusNotFound)
	case giterr.Unauthorized:
		return requireAuth(w)
	default:
		logging.From(r.Context()).Error().Err(err).Msg("authz check failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
	return false
}

func (s *Server) infoRefs(w http.ResponseWriter, r *http.Request) {
	owner, repo := r.PathValue("owner"), normalizeRepoName(r.PathValue("repo"))
	service := r.URL.Query().Get("service")

	op := authz.OpRead
	if service == "git-receive-pack" {
		op = authz.OpWrite
	}
	if !s.checkAccess(w, r, owner, repo, op) {
		return
	}

	actor, err := s.registry.Get(owner, repo)
	if err != nil {
		http.Error(w, "failed to open repository", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", fmt.Sprintf("application/x-%s-advertisement", service))
	w.Header().Set("Cache-Control", "no-cache")

	_ = actor.Read(func(gr *gitobj.Repository) error {
		refs, err := gr.ListRefs()
		if err != nil {
			return err
		}
		if service == "git-receive-pack" {
			return protocol.AdvertiseReceivePackV0(w, refs)
		}
		return protocol.AdvertiseUploadPackV2(w)
	})
}

func (s *Server) uploadPack(w http.ResponseWriter, r *http.Request) {
	owner, repo := r.PathValue("owner"), normalizeRepoName(r.PathValue("repo"))
	if !s.checkAccess(w, r, owner, repo, authz.OpRead) {
		return
	}
	actor, err := s.registry.Get(owner, repo)
	if err != nil {
		http.Error(w, "failed to open repository", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/x-git-upload-pack-result")
	w.Header().Set("Cache-Control", "no-cache")

	req, err := protocol.ParseUploadPackRequest(r.Body)
	if err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	var packBytesOut int
	err = actor.Read(func(gr *gitobj.Repository) error {
		switch req.Command {
		case "ls-refs":
			refs, err := gr.ListRefs()
			if err != nil {
				return err
			}
			return protocol.LsRefs(w, refs, gr, protocol.ParseLsRefsArgs(req.Args))
		case "fetch":
			cw := &countingWriter{w: w}
			err := protocol.Fetch(cw, gr, protocol.ParseFetchArgs(req.Args))
			packBytesOut = cw.n
			return err
		default:
			return fmt.Errorf("unsupported command %q", req.Command)
		}
	})
	if s.metrics != nil && packBytesOut > 0 {
		s.metrics.PackBytes.WithLabelValues("out").Add(float64(packBytesOut))
	}
	if err != nil {
		logging.From(r.Context()).Error().Err(err).Str("owner", owner).Str("repo", repo).Msg("upload-pack failed")
	}
}

func (s *Server) receivePack(w http.ResponseWriter, r *http.Request) {
	owner, repo := r.PathValue("owner"), normalizeRepoName(r.PathValue("repo"))
	if !s.checkAccess(w, r, owner, repo, authz.OpWrite) {
		return
	}
	actor, err := s.registry.Get(owner, repo)
	if err != nil {
		http.Error(w, "failed to open repository", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/x-git-receive-pack-result")
	w.Header().Set("Cache-Control", "no-cache")

	req, err := protocol.ParseReceivePackRequest(r.Body)
	if err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	if s.metrics != nil {
		s.metrics.PackBytes.WithLabelValues("in").Add(float64(len(req.Pack)))
	}

	var results []gitobj.RefResult
	err = actor.Mutate(func(gr *gitobj.Repository) error {
		res, applyErr := protocol.ReceivePackWithResults(w, gr, req)
		results = res
		return applyErr
	})
	if err != nil {
		logging.From(r.Context()).Error().Err(err).Str("owner", owner).Str("repo", repo).Msg("receive-pack failed")
	}
	s.broadcastRefUpdates(owner, repo, req.Commands, results)
}

func (s *Server) broadcastRefUpdates(owner, repo string, commands []gitobj.RefCommand, results []gitobj.RefResult) {
	if s.hub == nil {
		return
	}
	for i, res := range results {
		if !res.OK || i >= len(commands) {
			continue
		}
		cmd := commands[i]
		s.hub.BroadcastRefUpdate(notify.RefUpdateEvent{
			Type:     "ref_update",
			Owner:    owner,
			Repo:     repo,
			Ref:      cmd.Name,
			OldOID:   cmd.OldOID.String(),
			NewOID:   cmd.NewOID.String(),
			AtUnixNS: time.Now().UnixNano(),
		})
	}
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	owner, repo := r.PathValue("owner"), normalizeRepoName(r.PathValue("repo"))
	if !s.checkAccess(w, r, owner, repo, authz.OpRead) {
		return
	}
	s.hub.ServeWS(w, r, owner, repo)
}

// countingWriter tallies bytes written, for the upload-pack PackBytes
// metric, without buffering the response.
type countingWriter struct {
	w io.Writer
	n int
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += n
	return n, err
}
