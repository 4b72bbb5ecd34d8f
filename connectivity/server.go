package connectivity

import (
	"io"
	"net/http"
	"path"
)

const maxHTTPRequestBody int64 = 10 << 20

// LocalHandler serves POST /{service} by calling the local handler of that
// service. Routes are ignored, so two routers pointing at each other cannot
// loop. It is the peer of HTTPFactory: mount it under a prefix and point a
// route endpoint at prefix/service.
func (r *Router) LocalHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		service := path.Base(req.URL.Path)

		r.mu.RLock()
		h := r.locals[service]
		r.mu.RUnlock()
		if h == nil {
			http.Error(w, (&ErrServiceNotFound{Service: service}).Error(), http.StatusNotFound)
			return
		}

		payload, err := io.ReadAll(http.MaxBytesReader(w, req.Body, maxHTTPRequestBody))
		if err != nil {
			http.Error(w, err.Error(), http.StatusRequestEntityTooLarge)
			return
		}
		resp, err := h(req.Context(), payload)
		if err != nil {
			r.logger.WarnContext(req.Context(), "connectivity: local handler failed", "service", service, "error", err)
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(resp)
	})
}
