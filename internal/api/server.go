package api

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/trace.report/internal/config"
	"github.com/banshee-data/trace.report/internal/db"
	"github.com/banshee-data/trace.report/internal/features"
	"github.com/banshee-data/trace.report/internal/httputil"
	"github.com/banshee-data/trace.report/internal/integrity"
	"github.com/banshee-data/trace.report/internal/monitoring"
	"github.com/banshee-data/trace.report/internal/recording"
	"github.com/banshee-data/trace.report/internal/traceplot"
	"github.com/banshee-data/trace.report/internal/version"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// MaxRecordingBytes bounds an uploaded recording. A 30 minute phone and
// board recording is roughly 40 MB of JSON.
const MaxRecordingBytes = 128 << 20

const defaultListLimit = 50

// Server exposes recording validation and stored reports over HTTP.
type Server struct {
	validator *integrity.Validator
	store     *db.ReportStore
	cfg       *config.CheckConfig
}

// NewServer creates a Server. store may be nil, in which case reports are
// returned but not persisted and the /api/reports routes are not served.
func NewServer(v *integrity.Validator, store *db.ReportStore, cfg *config.CheckConfig) *Server {
	if cfg == nil {
		cfg = config.EmptyCheckConfig()
	}
	return &Server{validator: v, store: store, cfg: cfg}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/validate", s.validateRecording)
	mux.HandleFunc("/api/chart", s.chartRecording)
	mux.HandleFunc("/api/features", s.recordingFeatures)
	mux.HandleFunc("/api/rules", s.showRules)
	mux.HandleFunc("/api/version", s.showVersion)
	if s.store != nil {
		mux.HandleFunc("/api/reports", s.listReports)
		mux.HandleFunc("/api/reports/{id}", s.reportByID)
	}
	return mux
}

// readRecording parses the request body as a recording. On failure it has
// already written the error response.
func (s *Server) readRecording(w http.ResponseWriter, r *http.Request) (*recording.Recording, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxRecordingBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httputil.RequestTooLarge(w, tooLarge.Limit)
			return nil, false
		}
		httputil.BadRequest(w, fmt.Sprintf("failed to read body: %v", err))
		return nil, false
	}
	rec, err := recording.Parse(body, s.cfg.GetAnchorPolicy())
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return nil, false
	}
	return rec, true
}

func (s *Server) validateRecording(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w, http.MethodPost)
		return
	}
	source := r.URL.Query().Get("source")
	if source == "" {
		source = "upload"
	}

	rec, ok := s.readRecording(w, r)
	if !ok {
		return
	}
	report := db.NewReport(source, rec, rec.Validate(s.validator))

	if s.store != nil {
		if err := s.store.Insert(report); err != nil {
			httputil.InternalServerError(w, fmt.Sprintf("failed to store report: %v", err))
			return
		}
		monitoring.Logf("report %s: %s %s (%d errors, %d warnings)",
			report.ReportID, source, report.Verdict.Overall,
			report.Verdict.ErrorCount, report.Verdict.WarningCount)
	}
	httputil.WriteJSONOK(w, report)
}

func (s *Server) chartRecording(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w, http.MethodPost)
		return
	}
	keys := splitKeys(r.URL.Query().Get("keys"))
	if len(keys) == 0 {
		keys = features.AccelKeys[:]
	}
	title := r.URL.Query().Get("source")
	if title == "" {
		title = "recording"
	}

	rec, ok := s.readRecording(w, r)
	if !ok {
		return
	}

	var buf bytes.Buffer
	if err := traceplot.RenderHTML(&buf, rec.Series, keys, title, s.cfg.GetPlotMaxPoints()); err != nil {
		if errors.Is(err, traceplot.ErrNoTraces) {
			httputil.BadRequest(w, fmt.Sprintf("none of %s present in recording", strings.Join(keys, ",")))
			return
		}
		httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	buf.WriteTo(w)
}

func (s *Server) recordingFeatures(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w, http.MethodPost)
		return
	}
	rec, ok := s.readRecording(w, r)
	if !ok {
		return
	}
	windows, err := features.Extract(rec.Series, s.cfg.WindowConfig())
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, windows)
}

func (s *Server) showRules(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	httputil.WriteJSONOK(w, s.validator.Rules())
}

func (s *Server) showVersion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	httputil.WriteJSONOK(w, version.Current())
}

func (s *Server) listReports(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}

	limit := defaultListLimit
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 {
			httputil.BadRequest(w, "invalid 'limit' parameter")
			return
		}
		limit = parsed
	}

	reports, err := s.store.List(limit)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to list reports: %v", err))
		return
	}
	httputil.WriteJSONOK(w, reports)
}

func (s *Server) reportByID(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	switch r.Method {
	case http.MethodGet:
		report, err := s.store.Get(id)
		if errors.Is(err, db.ErrReportNotFound) {
			httputil.NotFound(w, err.Error())
			return
		}
		if err != nil {
			httputil.InternalServerError(w, fmt.Sprintf("failed to load report: %v", err))
			return
		}
		httputil.WriteJSONOK(w, report)

	case http.MethodDelete:
		err := s.store.Delete(id)
		if errors.Is(err, db.ErrReportNotFound) {
			httputil.NotFound(w, err.Error())
			return
		}
		if err != nil {
			httputil.InternalServerError(w, fmt.Sprintf("failed to delete report: %v", err))
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		httputil.MethodNotAllowed(w, http.MethodGet, http.MethodDelete)
	}
}

func splitKeys(s string) []string {
	var keys []string
	for _, k := range strings.Split(s, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}
