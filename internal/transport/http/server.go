package http

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ev-telemetry/processing/internal/analysis"
	"ev-telemetry/processing/internal/buffer"
	"ev-telemetry/processing/internal/domain"
	"ev-telemetry/processing/internal/limits"
	"ev-telemetry/processing/internal/pipeline"
	"ev-telemetry/processing/internal/store"
)

// Server exposes the on-demand analytics API. Every analytics handler
// works on a buffer snapshot, so requests run in parallel with each
// other and with live ingestion.
type Server struct {
	buf       *buffer.Buffer
	proc      *pipeline.Processor
	sessions  *store.SessionStore
	redis     *store.RedisStore
	ingest    chan<- []byte
	segCfg    analysis.SegmentConfig
	limitware *LimitMiddleware
}

func NewServer(
	buf *buffer.Buffer,
	proc *pipeline.Processor,
	sessions *store.SessionStore,
	redis *store.RedisStore,
	ingest chan<- []byte,
	resolver *limits.Resolver,
) *Server {
	return &Server{
		buf:       buf,
		proc:      proc,
		sessions:  sessions,
		redis:     redis,
		ingest:    ingest,
		segCfg:    analysis.DefaultSegmentConfig(),
		limitware: NewLimitMiddleware(resolver),
	}
}

func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/ingest", s.handleIngest).Methods("POST")
	r.HandleFunc("/session", s.handleSession).Methods("GET")
	r.HandleFunc("/sessions", s.handleListSessions).Methods("GET")
	r.Handle("/sessions/{session_id}/load", s.limitware.Wrap(http.HandlerFunc(s.handleLoadSession))).Methods("POST")
	r.HandleFunc("/analytics/statistics", s.handleStatistics).Methods("GET")
	r.HandleFunc("/analytics/histogram", s.handleHistogram).Methods("GET")
	r.HandleFunc("/analytics/segments", s.handleSegments).Methods("GET")
	r.HandleFunc("/analytics/laps", s.handleLaps).Methods("GET")
	r.HandleFunc("/analytics/energy", s.handleEnergy).Methods("GET")
	r.HandleFunc("/analytics/whatif", s.handleWhatIf).Methods("GET")
	r.HandleFunc("/analytics/downsample", s.handleDownsample).Methods("GET")
	r.HandleFunc("/stats", s.handleStats).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")
	r.HandleFunc("/status", s.handleStatus).Methods("GET")
	return r
}

// handleIngest accepts a single record or an array of records, feeding
// the same single-writer channel the pub/sub transport uses.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var payloads []json.RawMessage
	if len(raw) > 0 && raw[0] == '[' {
		if err := json.Unmarshal(raw, &payloads); err != nil {
			writeError(w, http.StatusBadRequest, "invalid batch body")
			return
		}
	} else {
		payloads = []json.RawMessage{raw}
	}

	accepted := 0
	for _, p := range payloads {
		select {
		case s.ingest <- []byte(p):
			accepted++
		default:
		}
	}
	writeJSON(w, http.StatusAccepted, map[string]int{"accepted": accepted, "received": len(payloads)})
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.buf.Session())
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	if s.sessions == nil {
		writeError(w, http.StatusServiceUnavailable, "session store not configured")
		return
	}
	sessions, err := s.sessions.ListSessions(r.Context(), queryInt(r, "limit", 100))
	if err != nil {
		log.Printf("listing sessions: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleLoadSession(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["session_id"]
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "session_id required")
		return
	}

	limit := HistoryLimit(r.Context())
	if requested := queryInt(r, "limit", 0); requested > 0 && requested < limit {
		limit = requested
	}

	loaded, err := s.proc.LoadHistorical(r.Context(), sessionID, limit)
	if err != nil {
		log.Printf("historical load: %v", err)
		writeError(w, http.StatusBadGateway, "historical load failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session_id": sessionID,
		"loaded":     loaded,
		"limit":      limit,
	})
}

func (s *Server) handleStatistics(w http.ResponseWriter, r *http.Request) {
	field := r.URL.Query().Get("field")
	values, ok := fieldSeries(s.buf.Snapshot(), field)
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown field")
		return
	}
	writeJSON(w, http.StatusOK, analysis.ComputeStatistics(values))
}

func (s *Server) handleHistogram(w http.ResponseWriter, r *http.Request) {
	field := r.URL.Query().Get("field")
	values, ok := fieldSeries(s.buf.Snapshot(), field)
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown field")
		return
	}
	bins := queryInt(r, "bins", 20)
	writeJSON(w, http.StatusOK, analysis.BuildHistogram(values, bins))
}

func (s *Server) handleSegments(w http.ResponseWriter, r *http.Request) {
	segments := analysis.DetectSegments(s.buf.Snapshot(), s.segCfg)
	if segments == nil {
		segments = []domain.Segment{}
	}
	writeJSON(w, http.StatusOK, segments)
}

func (s *Server) handleLaps(w http.ResponseWriter, r *http.Request) {
	laps := analysis.DetectLaps(s.buf.Snapshot(), s.segCfg)
	if laps == nil {
		laps = []domain.Lap{}
	}
	writeJSON(w, http.StatusOK, laps)
}

func (s *Server) handleEnergy(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, analysis.ComputeEnergyBreakdown(s.buf.Snapshot(), s.segCfg))
}

func (s *Server) handleWhatIf(w http.ResponseWriter, r *http.Request) {
	optimal, err := strconv.ParseFloat(r.URL.Query().Get("optimal_speed"), 64)
	if err != nil || optimal <= 0 {
		writeError(w, http.StatusBadRequest, "optimal_speed must be a positive number")
		return
	}
	writeJSON(w, http.StatusOK, analysis.ComputeWhatIf(s.buf.Snapshot(), optimal))
}

func (s *Server) handleDownsample(w http.ResponseWriter, r *http.Request) {
	field := r.URL.Query().Get("field")
	series, ok := pointSeries(s.buf.Snapshot(), field)
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown field")
		return
	}
	target := queryInt(r, "target", 500)
	out := analysis.Downsample(series, target)
	if out == nil {
		out = []analysis.Point{}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session":           s.buf.Session(),
		"buffer_len":        s.buf.Len(),
		"validation_errors": s.buf.ValidationErrors(),
		"evicted":           s.buf.Evicted(),
		"parse_errors":      s.proc.ParseErrors(),
		"detector":          s.proc.DetectorStats(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := map[string]string{"service": "ok"}
	code := http.StatusOK
	if s.redis != nil {
		if err := s.redis.Ping(ctx); err != nil {
			status["redis"] = err.Error()
			code = http.StatusServiceUnavailable
		} else {
			status["redis"] = "ok"
		}
	}
	if s.sessions != nil {
		if err := s.sessions.Ping(ctx); err != nil {
			status["db"] = err.Error()
			code = http.StatusServiceUnavailable
		} else {
			status["db"] = "ok"
		}
	}
	writeJSON(w, code, status)
}

// fieldSeries pulls one numeric series out of the snapshot. Derived
// fields skip records where the value was never computed.
func fieldSeries(records []*domain.TelemetryRecord, field string) ([]float64, bool) {
	values := make([]float64, 0, len(records))
	for _, rec := range records {
		v, ok := recordField(rec, field)
		if ok == fieldUnknown {
			return nil, false
		}
		if ok == fieldPresent {
			values = append(values, v)
		}
	}
	return values, true
}

func pointSeries(records []*domain.TelemetryRecord, field string) ([]analysis.Point, bool) {
	points := make([]analysis.Point, 0, len(records))
	for _, rec := range records {
		v, ok := recordField(rec, field)
		if ok == fieldUnknown {
			return nil, false
		}
		if ok == fieldPresent {
			points = append(points, analysis.Point{
				X: float64(rec.Timestamp.UnixNano()) / 1e9,
				Y: v,
			})
		}
	}
	return points, true
}

type fieldState int

const (
	fieldPresent fieldState = iota
	fieldMissing
	fieldUnknown
)

func recordField(rec *domain.TelemetryRecord, field string) (float64, fieldState) {
	switch field {
	case "speed_ms":
		return rec.SpeedMS, fieldPresent
	case "voltage_v":
		return rec.VoltageV, fieldPresent
	case "current_a":
		return rec.CurrentA, fieldPresent
	case "power_w":
		return rec.PowerW, fieldPresent
	case "energy_j":
		return rec.EnergyJ, fieldPresent
	case "distance_m":
		return rec.DistanceM, fieldPresent
	case "altitude":
		return rec.Altitude, fieldPresent
	case "throttle_pct":
		return rec.ThrottlePct, fieldPresent
	case "brake_pct":
		return rec.BrakePct, fieldPresent
	case "speed_kmh":
		if rec.SpeedKmh == nil {
			return 0, fieldMissing
		}
		return *rec.SpeedKmh, fieldPresent
	case "g_force":
		if rec.GForce == nil {
			return 0, fieldMissing
		}
		return *rec.GForce, fieldPresent
	case "rolling_efficiency":
		if rec.RollingEfficiency == nil {
			return 0, fieldMissing
		}
		return *rec.RollingEfficiency, fieldPresent
	case "quality_score":
		if rec.QualityScore == nil {
			return 0, fieldMissing
		}
		return *rec.QualityScore, fieldPresent
	default:
		return 0, fieldUnknown
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func queryInt(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
