// Package httpapi exposes the thin HTTP surface around catalog runs: start a
// run, leave a comment for the next run, and read a run's assembled context
// document. The heavy lifting lives in internal/workflow; these handlers only
// translate HTTP into Temporal/store calls.
package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.temporal.io/sdk/client"

	"github.com/brojonat/cataloger/internal/catalogerr"
	"github.com/brojonat/cataloger/internal/contextdoc"
	"github.com/brojonat/cataloger/internal/observability"
	"github.com/brojonat/cataloger/internal/sandbox"
	"github.com/brojonat/cataloger/internal/store"
	"github.com/brojonat/cataloger/internal/workflow"
)

// Server holds the dependencies the HTTP surface needs: a Temporal client to
// start runs, the object store to read context/comments from directly, and
// an optional shared-secret bearer token.
type Server struct {
	Temporal   client.Client
	TaskQueue  string
	Store      *store.CatalogStore
	StoreCreds sandbox.StoreCreds
	AuthToken  string
	Logger     *observability.Logger
	Metrics    *observability.Metrics
	Tracer     *observability.Tracer
}

func (s *Server) tracer() *observability.Tracer {
	if s.Tracer != nil {
		return s.Tracer
	}
	return observability.NoopTracer()
}

// Mount attaches every route to mux.
func (s *Server) Mount(mux *http.ServeMux) {
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.Handle("/catalog", s.instrument("/catalog", s.auth(http.HandlerFunc(s.handleStartRun))))
	mux.Handle("/catalog/comment", s.instrument("/catalog/comment", s.auth(http.HandlerFunc(s.handleComment))))
	mux.Handle("/catalog/context", s.instrument("/catalog/context", s.auth(http.HandlerFunc(s.handleContext))))
	mux.Handle("/catalog/databases", s.instrument("/catalog/databases", s.auth(http.HandlerFunc(s.handleListDatabases))))
	mux.Handle("/catalog/runs", s.instrument("/catalog/runs", s.auth(http.HandlerFunc(s.handleListRuns))))
	mux.Handle("/catalog/files", s.instrument("/catalog/files", s.auth(http.HandlerFunc(s.handleListFiles))))
	mux.Handle("/catalog/file", s.instrument("/catalog/file", s.auth(http.HandlerFunc(s.handleReadFile))))
}

// statusRecorder captures the status code a handler wrote, defaulting to 200
// since http.ResponseWriter doesn't expose it once WriteHeader is skipped.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) instrument(path string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx, span := s.tracer().TraceHTTPRequest(r.Context(), r.Method, path)
		defer span.End()
		r = r.WithContext(ctx)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.Metrics.RecordHTTPRequest(r.Method, path, strconv.Itoa(rec.status), time.Since(start).Seconds())
	})
}

func (s *Server) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.AuthToken == "" {
			next.ServeHTTP(w, r)
			return
		}
		header := r.Header.Get("Authorization")
		token := strings.TrimPrefix(header, "Bearer ")
		if token == header || subtle.ConstantTimeCompare([]byte(token), []byte(s.AuthToken)) != 1 {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// startRunRequest mirrors the documented POST /catalog body: a read-only
// database connection, the tables to catalog, and the bucket prefix the
// run's artifacts are published under.
type startRunRequest struct {
	DBConnectionString string   `json:"db_connection_string"`
	Tables             []string `json:"tables"`
	S3Prefix           string   `json:"s3_prefix"`
}

type startRunResponse struct {
	Timestamp  string `json:"timestamp"`
	CatalogURI string `json:"catalog_uri"`
	SummaryURI string `json:"summary_uri"`
	S3Prefix   string `json:"s3_prefix"`
}

// handleStartRun starts a catalog workflow and blocks for its result: the
// documented response carries the artifact URIs a caller needs immediately,
// so this thin layer waits on the durable workflow rather than returning a
// bare workflow/run ID.
func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req startRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.S3Prefix) == "" || strings.TrimSpace(req.DBConnectionString) == "" {
		http.Error(w, "s3_prefix and db_connection_string are required", http.StatusBadRequest)
		return
	}

	in := workflow.Input{
		DBConnectionString: req.DBConnectionString,
		Tables:             req.Tables,
		Prefix:             req.S3Prefix,
		StoreCreds:         s.StoreCreds,
	}
	opts := client.StartWorkflowOptions{
		ID:        "catalog-" + req.S3Prefix + "-" + time.Now().UTC().Format("20060102T150405Z"),
		TaskQueue: s.TaskQueue,
	}
	run, err := s.Temporal.ExecuteWorkflow(r.Context(), opts, workflow.Run, in)
	if err != nil {
		s.writeError(w, err)
		return
	}

	var out workflow.Output
	if err := run.Get(r.Context(), &out); err != nil {
		s.writeError(w, err)
		return
	}

	bucket := s.StoreCreds.Bucket
	s.writeJSON(w, http.StatusOK, startRunResponse{
		Timestamp:  out.Timestamp,
		CatalogURI: fmt.Sprintf("s3://%s/%s", bucket, out.CatalogKey),
		SummaryURI: fmt.Sprintf("s3://%s/%s", bucket, out.SummaryKey),
		S3Prefix:   out.Prefix,
	})
}

// commentRequest mirrors the documented POST /catalog/comment body.
type commentRequest struct {
	Prefix    string `json:"prefix"`
	Timestamp string `json:"timestamp"`
	User      string `json:"user"`
	Comment   string `json:"comment"`
}

type commentResponse struct {
	URI       string `json:"uri"`
	User      string `json:"user"`
	Timestamp string `json:"timestamp"`
}

func (s *Server) handleComment(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req commentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Prefix) == "" || strings.TrimSpace(req.Comment) == "" {
		http.Error(w, "prefix and comment are required", http.StatusBadRequest)
		return
	}

	timestamp := req.Timestamp
	if timestamp == "" {
		latest, err := s.latestTimestamp(r.Context(), req.Prefix)
		if err != nil {
			s.writeError(w, err)
			return
		}
		timestamp = latest
	}
	key, err := s.Store.WriteComment(r.Context(), req.Prefix, timestamp, req.User, req.Comment)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, commentResponse{
		URI:       fmt.Sprintf("s3://%s/%s", s.StoreCreds.Bucket, key),
		User:      req.User,
		Timestamp: timestamp,
	})
}

func (s *Server) handleContext(w http.ResponseWriter, r *http.Request) {
	prefix := r.URL.Query().Get("prefix")
	if strings.TrimSpace(prefix) == "" {
		http.Error(w, "prefix query parameter is required", http.StatusBadRequest)
		return
	}
	timestamp := r.URL.Query().Get("timestamp")

	html, err := contextdoc.Assemble(r.Context(), s.Store, prefix, timestamp)
	if err != nil {
		s.writeError(w, err)
		return
	}

	strip, _ := strconv.ParseBool(r.URL.Query().Get("strip_tags"))
	if strip {
		stripped := contextdoc.StripTags(html)
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte("<pre>" + contextdoc.EscapeHTML(stripped) + "</pre>"))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(html))
}

// handleListDatabases lists every cataloged customer/database prefix, the
// two-level directory convention list_prefixes walks.
func (s *Server) handleListDatabases(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	prefixes, err := s.Store.ListPrefixes(r.Context(), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"databases": prefixes})
}

// handleListRuns lists a prefix's run timestamps, newest first.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	prefix := r.URL.Query().Get("prefix")
	if strings.TrimSpace(prefix) == "" {
		http.Error(w, "prefix query parameter is required", http.StatusBadRequest)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	timestamps, err := s.Store.ListTimestamps(r.Context(), prefix, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"prefix": prefix, "timestamps": timestamps})
}

// handleListFiles lists a run's files grouped by kind, defaulting to the
// latest run when timestamp is omitted.
func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	prefix := r.URL.Query().Get("prefix")
	if strings.TrimSpace(prefix) == "" {
		http.Error(w, "prefix query parameter is required", http.StatusBadRequest)
		return
	}
	timestamp := r.URL.Query().Get("timestamp")
	if timestamp == "" {
		latest, err := s.latestTimestamp(r.Context(), prefix)
		if err != nil {
			s.writeError(w, err)
			return
		}
		timestamp = latest
	}
	files, err := s.Store.ListAllFiles(r.Context(), prefix, timestamp)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"prefix": prefix, "timestamp": timestamp, "files": files})
}

// handleReadFile returns one run's HTML file, e.g. catalog.html or
// recent_summary.html, by name.
func (s *Server) handleReadFile(w http.ResponseWriter, r *http.Request) {
	prefix := r.URL.Query().Get("prefix")
	timestamp := r.URL.Query().Get("timestamp")
	filename := r.URL.Query().Get("filename")
	if strings.TrimSpace(prefix) == "" || strings.TrimSpace(timestamp) == "" || strings.TrimSpace(filename) == "" {
		http.Error(w, "prefix, timestamp, and filename query parameters are required", http.StatusBadRequest)
		return
	}
	html, ok, err := s.Store.ReadHTML(r.Context(), prefix, timestamp, filename)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !ok {
		http.Error(w, "file not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(html))
}

func (s *Server) latestTimestamp(ctx context.Context, prefix string) (string, error) {
	timestamps, err := s.Store.ListTimestamps(ctx, prefix, 1)
	if err != nil {
		return "", err
	}
	if len(timestamps) == 0 {
		return "", catalogerr.New(catalogerr.StoreNotFound, "httpapi.comment", "no runs recorded for prefix %s", prefix)
	}
	return timestamps[0], nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var cerr *catalogerr.Error
	if errors.As(err, &cerr) {
		switch cerr.Kind {
		case catalogerr.BadRequest, catalogerr.ConfigMissing:
			status = http.StatusBadRequest
		case catalogerr.Unauthorized:
			status = http.StatusUnauthorized
		case catalogerr.StoreNotFound:
			status = http.StatusNotFound
		case catalogerr.PoolExhausted:
			status = http.StatusServiceUnavailable
		}
	}
	if s.Logger != nil {
		s.Logger.Error(context.Background(), "http request failed", "error", err)
	}
	http.Error(w, err.Error(), status)
}
