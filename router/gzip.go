package router

import (
	"compress/gzip"
	"io"
	"net/http"
)

// gzipDecompress transparently decompresses gzip-encoded request bodies,
// adapted from helixml's gzipDecompressMiddleware — git clients may send
// gzip-compressed POST bodies for upload-pack/receive-pack.
func gzipDecompress(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Encoding") == "gzip" {
			gz, err := gzip.NewReader(r.Body)
			if err != nil {
				http.Error(w, "failed to decompress request", http.StatusBadRequest)
				return
			}
			r.Body = &gzipReadCloser{gzReader: gz, original: r.Body}
			r.Header.Del("Content-Encoding")
		}
		next.ServeHTTP(w, r)
	})
}

type gzipReadCloser struct {
	gzReader *gzip.Reader
	original io.ReadCloser
}

func (g *gzipReadCloser) Read(p []byte) (int, error) { return g.gzReader.Read(p) }

func (g *gzipReadCloser) Close() error {
	if err := g.gzReader.Close(); err != nil {
		g.original.Close()
		return err
	}
	return g.original.Close()
}
