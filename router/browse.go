package router

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"gitserve/authz"
	"gitserve/gitobj"
	"gitserve/giterr"
	"gitserve/internal/logging"
	"gitserve/readapi"
	"gitserve/rescache"
)

// BrowseHandler exposes ReadAPI over HTTP for the (external) browsing
// layer, fronted by an optional ResultCache: every call's key includes the
// ref's current OID, so a cache entry invalidates itself the moment a push
// moves that ref.
type BrowseHandler struct {
	srv   *Server
	cache *rescache.Cache
}

// NewBrowseHandler wires ReadAPI's query surface behind the same registry
// and auth gate the wire endpoints use. cache may be nil to disable
// ResultCache fronting.
func NewBrowseHandler(srv *Server, cache *rescache.Cache) *BrowseHandler {
	return &BrowseHandler{srv: srv, cache: cache}
}

// Register adds the browse routes to mux.
func (h *BrowseHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /{owner}/{repo}/branches", h.branches)
	mux.HandleFunc("GET /{owner}/{repo}/log", h.log)
	mux.HandleFunc("GET /{owner}/{repo}/tree/{ref}", h.tree)
	mux.HandleFunc("GET /{owner}/{repo}/blob/{ref}", h.blob)
	mux.HandleFunc("GET /{owner}/{repo}/commit/{oid}", h.commit)
}

func (h *BrowseHandler) withRepo(w http.ResponseWriter, r *http.Request) (owner, repo string, gr func(func(*gitobj.Repository) error) error, ok bool) {
	owner = r.PathValue("owner")
	repo = normalizeRepoName(r.PathValue("repo"))
	if !h.srv.checkAccess(w, r, owner, repo, authz.OpRead) {
		return "", "", nil, false
	}
	actor, err := h.srv.registry.Get(owner, repo)
	if err != nil {
		http.Error(w, "failed to open repository", http.StatusInternalServerError)
		return "", "", nil, false
	}
	return owner, repo, actor.Read, true
}

// cached runs key through the ResultCache (if configured), computing and
// JSON-encoding value on a miss via fn. op labels the CacheHits/CacheMisses
// metric ("branches", "log", "tree", "blob").
func (h *BrowseHandler) cached(w http.ResponseWriter, op, key string, fn func() (interface{}, error)) {
	if h.cache == nil {
		h.compute(w, fn)
		return
	}
	if raw, ok := h.cache.Get(key); ok {
		if h.srv.metrics != nil {
			h.srv.metrics.CacheHits.WithLabelValues(op).Inc()
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(raw)
		return
	}
	if h.srv.metrics != nil {
		h.srv.metrics.CacheMisses.WithLabelValues(op).Inc()
	}
	v, err := fn()
	if err != nil {
		writeBrowseError(w, err)
		return
	}
	raw, err := json.Marshal(v)
	if err != nil {
		writeBrowseError(w, err)
		return
	}
	h.cache.Set(key, raw)
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(raw)
}

func (h *BrowseHandler) compute(w http.ResponseWriter, fn func() (interface{}, error)) {
	v, err := fn()
	if err != nil {
		writeBrowseError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeBrowseError(w http.ResponseWriter, err error) {
	if giterr.KindOf(err) == giterr.NotFound || errors.Is(err, giterr.ErrNotFound) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	logging.L().Error().Err(err).Msg("browse: read failed")
	http.Error(w, "internal error", http.StatusInternalServerError)
}

// refOID resolves ref for use as the cache key's invalidating fingerprint.
func refOID(gr func(func(*gitobj.Repository) error) error, ref string) string {
	var oid gitobj.OID
	_ = gr(func(repo *gitobj.Repository) error {
		o, err := repo.ResolveRef(ref)
		if err == nil {
			oid = o
		}
		return nil
	})
	return oid.String()
}

func (h *BrowseHandler) branches(w http.ResponseWriter, r *http.Request) {
	owner, repo, gr, ok := h.withRepo(w, r)
	if !ok {
		return
	}
	key := rescache.Key(owner+"/"+repo, "branches", refOID(gr, "HEAD"))
	h.cached(w, "branches", key, func() (interface{}, error) {
		var out []string
		err := gr(func(gitRepo *gitobj.Repository) error {
			names, err := readapi.Branches(gitRepo)
			out = names
			return err
		})
		return out, err
	})
}

func (h *BrowseHandler) log(w http.ResponseWriter, r *http.Request) {
	owner, repo, gr, ok := h.withRepo(w, r)
	if !ok {
		return
	}
	ref := r.URL.Query().Get("ref")
	if ref == "" {
		ref = "HEAD"
	}
	path := r.URL.Query().Get("path")
	depth, _ := strconv.Atoi(r.URL.Query().Get("depth"))

	key := rescache.Key(owner+"/"+repo, "log", refOID(gr, ref), ref, path, strconv.Itoa(depth))
	h.cached(w, "log", key, func() (interface{}, error) {
		var out []readapi.CommitInfo
		err := gr(func(gitRepo *gitobj.Repository) error {
			commits, err := readapi.Log(gitRepo, ref, depth, path)
			out = commits
			return err
		})
		return out, err
	})
}

func (h *BrowseHandler) tree(w http.ResponseWriter, r *http.Request) {
	owner, repo, gr, ok := h.withRepo(w, r)
	if !ok {
		return
	}
	ref := r.PathValue("ref")
	path := r.URL.Query().Get("path")

	key := rescache.Key(owner+"/"+repo, "tree", refOID(gr, ref), ref, path)
	h.cached(w, "tree", key, func() (interface{}, error) {
		var out []readapi.TreeEntry
		err := gr(func(gitRepo *gitobj.Repository) error {
			entries, err := readapi.Tree(gitRepo, ref, path)
			out = entries
			return err
		})
		return out, err
	})
}

func (h *BrowseHandler) blob(w http.ResponseWriter, r *http.Request) {
	owner, repo, gr, ok := h.withRepo(w, r)
	if !ok {
		return
	}
	ref := r.PathValue("ref")
	path := r.URL.Query().Get("path")
	if path == "" {
		http.Error(w, "path query parameter is required", http.StatusBadRequest)
		return
	}

	key := rescache.Key(owner+"/"+repo, "blob", refOID(gr, ref), ref, path)
	h.cached(w, "blob", key, func() (interface{}, error) {
		var out readapi.BlobResult
		err := gr(func(gitRepo *gitobj.Repository) error {
			res, err := readapi.Blob(gitRepo, ref, path)
			out = res
			return err
		})
		return out, err
	})
}

func (h *BrowseHandler) commit(w http.ResponseWriter, r *http.Request) {
	_, _, gr, ok := h.withRepo(w, r)
	if !ok {
		return
	}
	oid := gitobj.ParseOID(r.PathValue("oid"))

	// Commit content is immutable once written, so this never needs the
	// cache: the oid itself is already the fingerprint.
	h.compute(w, func() (interface{}, error) {
		var info readapi.CommitInfo
		var changes []readapi.Change
		err := gr(func(gitRepo *gitobj.Repository) error {
			i, c, err := readapi.CommitWithChanges(gitRepo, oid)
			info, changes = i, c
			return err
		})
		return struct {
			Commit  readapi.CommitInfo `json:"commit"`
			Changes []readapi.Change   `json:"changes"`
		}{info, changes}, err
	})
}
