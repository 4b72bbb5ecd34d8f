package cleaner

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/webcleaner/reconcile"
	"github.com/hazyhaar/webcleaner/shield"
)

// RegisterHTTP mounts the rule API on r. {origin} is the path-escaped
// origin or page URL.
//
//	GET    /sites                        list sites
//	GET    /sites/{origin}               site flags
//	GET    /sites/{origin}/rules?kind=   rule set
//	POST   /sites/{origin}/rules         {"selector","kind"} append one rule
//	PUT    /sites/{origin}/rules         {"rules","kind"} replace the rule set
//	DELETE /sites/{origin}/rules         {"selector","kind"} remove one rule
//	DELETE /sites/{origin}               reset the site
//	PUT    /sites/{origin}/disabled      {"disabled"}
//	GET    /stats
//	GET    /healthz
func (c *Cleaner) RegisterHTTP(r chi.Router) {
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/stats", c.httpStats)
	r.Route("/sites", func(r chi.Router) {
		r.Get("/", c.httpListSites)
		r.Route("/{origin}", func(r chi.Router) {
			r.Get("/", c.httpGetSite)
			r.Delete("/", c.httpResetSite)
			r.Get("/rules", c.httpGetRules)
			r.Post("/rules", c.httpAddRule)
			r.Put("/rules", c.httpSetRules)
			r.Delete("/rules", c.httpRemoveRule)
			r.Put("/disabled", c.httpSetDisabled)
		})
	})
}

// Handler returns a chi router with the shield stack and the rule API.
func (c *Cleaner) Handler() http.Handler {
	r := chi.NewRouter()
	for _, mw := range shield.APIStack(c.logger) {
		r.Use(mw)
	}
	c.RegisterHTTP(r)
	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

// errorStatus maps domain errors to HTTP codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, ErrNoOrigin), errors.Is(err, ErrUnknownKind),
		errors.Is(err, reconcile.ErrSelectorInvalid):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// fail writes err with its mapped status. Server-side failures are logged
// with the request's logger so they carry the request ID.
func (c *Cleaner) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := errorStatus(err)
	if code >= http.StatusInternalServerError {
		shield.GetLogger(r.Context()).Error("cleaner: http request failed", "status", code, "error", err)
	}
	writeError(w, code, err)
}

// origin resolves the {origin} path parameter.
func (c *Cleaner) origin(w http.ResponseWriter, r *http.Request) (string, bool) {
	raw, err := url.PathUnescape(chi.URLParam(r, "origin"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return "", false
	}
	origin, err := c.Origin(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return "", false
	}
	return origin, true
}

func kindOf(s string) (string, error) {
	switch s {
	case "":
		return KindBlur, nil
	case KindBlur, KindEnlarge:
		return s, nil
	}
	return "", ErrUnknownKind
}

type ruleBody struct {
	Kind     string   `json:"kind"`
	Selector string   `json:"selector"`
	Rules    []string `json:"rules"`
	Disabled *bool    `json:"disabled"`
}

func decodeBody(w http.ResponseWriter, r *http.Request) (*ruleBody, string, bool) {
	var body ruleBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		code := http.StatusBadRequest
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			code = http.StatusRequestEntityTooLarge
		}
		writeError(w, code, err)
		return nil, "", false
	}
	kind, err := kindOf(body.Kind)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return nil, "", false
	}
	return &body, kind, true
}

func (c *Cleaner) httpStats(w http.ResponseWriter, r *http.Request) {
	st, err := c.Stats(r.Context())
	if err != nil {
		c.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (c *Cleaner) httpListSites(w http.ResponseWriter, r *http.Request) {
	sites, err := c.ListSites(r.Context())
	if err != nil {
		c.fail(w, r, err)
		return
	}
	if sites == nil {
		sites = []OriginSummary{}
	}
	writeJSON(w, http.StatusOK, sites)
}

func (c *Cleaner) httpGetSite(w http.ResponseWriter, r *http.Request) {
	origin, ok := c.origin(w, r)
	if !ok {
		return
	}
	site, err := c.GetSite(r.Context(), origin)
	if err != nil {
		c.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, site)
}

func (c *Cleaner) httpResetSite(w http.ResponseWriter, r *http.Request) {
	origin, ok := c.origin(w, r)
	if !ok {
		return
	}
	if err := c.ResetSite(r.Context(), origin); err != nil {
		c.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (c *Cleaner) httpGetRules(w http.ResponseWriter, r *http.Request) {
	origin, ok := c.origin(w, r)
	if !ok {
		return
	}
	kind, err := kindOf(r.URL.Query().Get("kind"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	rules, err := c.GetRules(r.Context(), origin, kind)
	if err != nil {
		c.fail(w, r, err)
		return
	}
	if rules == nil {
		rules = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"origin": origin, "kind": kind, "rules": rules})
}

func (c *Cleaner) httpAddRule(w http.ResponseWriter, r *http.Request) {
	origin, ok := c.origin(w, r)
	if !ok {
		return
	}
	body, kind, ok := decodeBody(w, r)
	if !ok {
		return
	}
	if err := validSelector(body.Selector); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	added, err := c.SaveRule(r.Context(), origin, kind, body.Selector)
	if err != nil {
		c.fail(w, r, err)
		return
	}
	code := http.StatusOK
	if added {
		code = http.StatusCreated
	}
	writeJSON(w, code, map[string]any{"origin": origin, "kind": kind, "selector": body.Selector, "added": added})
}

func (c *Cleaner) httpSetRules(w http.ResponseWriter, r *http.Request) {
	origin, ok := c.origin(w, r)
	if !ok {
		return
	}
	body, kind, ok := decodeBody(w, r)
	if !ok {
		return
	}
	for _, sel := range body.Rules {
		if err := validSelector(sel); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	if err := c.SetRules(r.Context(), origin, kind, body.Rules); err != nil {
		c.fail(w, r, err)
		return
	}
	rules := body.Rules
	if rules == nil {
		rules = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"origin": origin, "kind": kind, "rules": rules})
}

func (c *Cleaner) httpRemoveRule(w http.ResponseWriter, r *http.Request) {
	origin, ok := c.origin(w, r)
	if !ok {
		return
	}
	body, kind, ok := decodeBody(w, r)
	if !ok {
		return
	}
	if err := c.RemoveRule(r.Context(), origin, kind, body.Selector); err != nil {
		c.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (c *Cleaner) httpSetDisabled(w http.ResponseWriter, r *http.Request) {
	origin, ok := c.origin(w, r)
	if !ok {
		return
	}
	body, _, ok := decodeBody(w, r)
	if !ok {
		return
	}
	if body.Disabled == nil {
		writeError(w, http.StatusBadRequest, errors.New(`"disabled" is required`))
		return
	}
	if err := c.SetDisabled(r.Context(), origin, *body.Disabled); err != nil {
		c.fail(w, r, err)
		return
	}
	site, err := c.GetSite(r.Context(), origin)
	if err != nil {
		c.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, site)
}
