package composeapi

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/c360studio/repoforge/dispatch"
	"github.com/c360studio/repoforge/manifest"
)

// maxRequestBodySize limits POST body sizes to prevent DoS.
const maxRequestBodySize = 1 << 20 // 1 MB

// dispatchStatusNote documents dispatch_status semantics in every compose
// response so callers need not consult external docs.
const dispatchStatusNote = "dispatch_status ok: handed to the worker; " +
	"skipped: no dispatch credentials configured, re-submit or dispatch manually; " +
	"failed: first attempt failed, background retries may still deliver"

// RegisterHTTPHandlers registers all compose-api HTTP handlers under the
// given prefix. The prefix should be the path segment without a trailing
// slash (e.g. "api/v1"). Handlers are registered as:
//
//	GET       <prefix>/health
//	GET|POST  <prefix>/discover
//	POST      <prefix>/compose
//	POST      <prefix>/chat
func (c *Component) RegisterHTTPHandlers(prefix string, mux *http.ServeMux) {
	// Normalise: ensure leading slash and trailing slash.
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix = prefix + "/"
	}

	mux.HandleFunc(prefix+"health", c.instrument("health", c.handleHealth))
	mux.HandleFunc(prefix+"discover", c.instrument("discover", c.requireAuth(c.handleDiscover)))
	mux.HandleFunc(prefix+"compose", c.instrument("compose", c.requireAuth(c.handleCompose)))
	mux.HandleFunc(prefix+"chat", c.instrument("chat", c.requireAuth(c.handleChat)))
}

// statusRecorder captures the status code for metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (c *Component) instrument(endpoint string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		httpRequests.WithLabelValues(endpoint, strconv.Itoa(rec.status)).Inc()
	}
}

// requireAuth enforces the bearer token when one is configured. An empty
// API key disables authentication (development mode).
func (c *Component) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if c.config.APIKey == "" {
			next(w, r)
			return
		}
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if subtle.ConstantTimeCompare([]byte(token), []byte(c.config.APIKey)) != 1 {
			writeError(w, http.StatusUnauthorized, "authentication",
				"missing or invalid bearer token", nil, "set the Authorization: Bearer header")
			return
		}
		next(w, r)
	}
}

// ----------------------------------------------------------------------------
// GET /health
// ----------------------------------------------------------------------------

func (c *Component) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"service":   ServiceName,
		"version":   Version,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// ----------------------------------------------------------------------------
// POST /compose
// ----------------------------------------------------------------------------

// ComposeResponse is the response body for POST /compose.
type ComposeResponse struct {
	Status         string `json:"status"`
	SystemName     string `json:"system_name"`
	DispatchEvent  string `json:"dispatch_event"`
	DispatchStatus string `json:"dispatch_status"`
	InitiatedAt    string `json:"initiated_at"`
	ManifestPath   string `json:"manifest_path"`
	JobID          string `json:"job_id,omitempty"`
	Note           string `json:"note"`
}

// handleCompose validates the manifest and hands it to the dispatcher. The
// request succeeds as long as the manifest is valid; dispatch_status reports
// how forwarding went.
func (c *Component) handleCompose(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Overflow on the bounded request budget returns 503, not queuing.
	select {
	case c.sem <- struct{}{}:
		defer func() { <-c.sem }()
	default:
		writeError(w, http.StatusServiceUnavailable, "overloaded",
			"compose request budget exhausted", nil, "retry after a short backoff")
		return
	}

	start := time.Now()
	defer func() { composeDuration.Observe(time.Since(start).Seconds()) }()

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	var m manifest.Manifest
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
		writeError(w, http.StatusBadRequest, "malformed_json",
			"request body is not valid JSON", nil, "send a JSON manifest")
		return
	}

	if err := m.Validate(); err != nil {
		fields := map[string]string{}
		var verrs manifest.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				fields[fe.Field] = fe.Message
			}
		}
		writeError(w, http.StatusUnprocessableEntity, "manifest_invalid",
			"manifest failed schema validation", fields, "fix the listed fields and resubmit")
		return
	}

	rec := dispatch.NewRecord(&m)
	status := c.dispatcher.Dispatch(r.Context(), rec)
	dispatches.WithLabelValues(string(status)).Inc()

	resp := ComposeResponse{
		Status:         "dispatched",
		SystemName:     m.SystemName,
		DispatchEvent:  rec.EventType,
		DispatchStatus: string(status),
		InitiatedAt:    rec.Payload.InitiatedAt,
		ManifestPath:   rec.Payload.ManifestPath,
		Note:           dispatchStatusNote,
	}

	if c.jobs != nil {
		if job, err := c.jobs.CreateJob(r.Context(), &m, false, c.config.OutputRoot); err != nil {
			c.logger.Warn("Cannot record compose job", "error", err)
		} else {
			resp.JobID = job.ID
		}
	}

	c.logger.Info("Manifest accepted",
		"system", m.SystemName,
		"org", m.Org,
		"dispatch_status", status)
	writeJSON(w, http.StatusOK, resp)
}

// ----------------------------------------------------------------------------
// Helpers
// ----------------------------------------------------------------------------

// errorBody is the error envelope every non-2xx response carries: machine
// kind, human message, offending fields, and a suggested next action.
type errorBody struct {
	Kind    string            `json:"kind"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
	Hint    string            `json:"hint,omitempty"`
}

func writeError(w http.ResponseWriter, status int, kind, message string, fields map[string]string, hint string) {
	writeJSON(w, status, map[string]errorBody{"error": {
		Kind:    kind,
		Message: message,
		Fields:  fields,
		Hint:    hint,
	}})
}

// writeJSON marshals v as JSON and writes it to w with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Response is already partially written; nothing to recover.
		_ = err
	}
}
