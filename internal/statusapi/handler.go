package statusapi

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

	"github.com/scorecast/scorecast/internal/cycles"
	"github.com/scorecast/scorecast/internal/jobs"
	"github.com/scorecast/scorecast/internal/locks"
)

var ErrInvalidConfig = errors.New("statusapi: invalid config")

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 200
)

type Config struct {
	// AuthToken guards the force-release endpoint. Empty disables the
	// endpoint entirely rather than leaving it open.
	AuthToken string

	Now func() time.Time
}

// NewHandler builds the operator-facing status API: health and system status
// reads, job execution history, and a guarded lock force-release for stuck
// holders.
func NewHandler(cfg Config, health *jobs.Health, records jobs.Store, lockStore locks.Store, cycleStore cycles.Store) (http.Handler, error) {
	if health == nil || records == nil || lockStore == nil || cycleStore == nil {
		return nil, fmt.Errorf("%w: nil dependency", ErrInvalidConfig)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	h := &handler{
		cfg:     cfg,
		health:  health,
		records: records,
		locks:   lockStore,
		cycles:  cycleStore,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", h.handleHealthz)
	mux.HandleFunc("GET /v1/status", h.handleStatus)
	mux.HandleFunc("GET /v1/jobs/{job}/history", h.handleJobHistory)
	mux.HandleFunc("POST /v1/locks/{job}/force-release", h.handleForceRelease)
	return mux, nil
}

type handler struct {
	cfg Config

	health  *jobs.Health
	records jobs.Store
	locks   locks.Store
	cycles  cycles.Store
}

func (h *handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	report, err := h.health.Check(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"version": "v1",
			"error":   "internal",
		})
		return
	}
	code := http.StatusOK
	if !report.Healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"version": "v1",
		"healthy": report.Healthy,
		"issues":  report.Issues,
	})
}

func (h *handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.health.SystemStatus(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"version": "v1",
			"error":   "internal",
		})
		return
	}

	now := h.cfg.Now()
	heldLocks := make([]map[string]any, 0, len(st.HeldLocks))
	for _, l := range st.HeldLocks {
		heldLocks = append(heldLocks, map[string]any{
			"job":      l.JobName,
			"holder":   l.HolderID,
			"lockedAt": l.LockedAt.UTC().Format(time.RFC3339),
		})
	}
	jobStatuses := make([]map[string]any, 0, len(st.Jobs))
	for _, j := range st.Jobs {
		jobStatuses = append(jobStatuses, recordJSON(j.Latest))
	}

	resp := map[string]any{
		"version":   "v1",
		"time":      now.UTC().Format(time.RFC3339),
		"heldLocks": heldLocks,
		"jobs":      jobStatuses,
	}

	if c, err := h.cycles.Current(r.Context(), now); err == nil {
		resp["currentCycle"] = map[string]any{
			"id":       strconv.FormatUint(c.ID, 10),
			"phase":    string(c.Phase(now)),
			"entities": len(c.Entities),
			"endsAt":   c.EndTime.UTC().Format(time.RFC3339),
		}
	} else if !errors.Is(err, cycles.ErrNotFound) {
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"version": "v1",
			"error":   "internal",
		})
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) handleJobHistory(w http.ResponseWriter, r *http.Request) {
	job := strings.TrimSpace(r.PathValue("job"))
	if job == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"version": "v1",
			"error":   "invalid_job",
		})
		return
	}

	limit := defaultHistoryLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxHistoryLimit {
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"version": "v1",
				"error":   "invalid_limit",
			})
			return
		}
		limit = n
	}

	recs, err := h.records.History(r.Context(), job, limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"version": "v1",
			"error":   "internal",
		})
		return
	}

	out := make([]map[string]any, 0, len(recs))
	for _, rec := range recs {
		out = append(out, recordJSON(rec))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"version": "v1",
		"job":     job,
		"history": out,
	})
}

func (h *handler) handleForceRelease(w http.ResponseWriter, r *http.Request) {
	if h.cfg.AuthToken == "" {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"version": "v1",
			"error":   "force_release_disabled",
		})
		return
	}
	if !h.authorized(r) {
		w.Header().Set("WWW-Authenticate", "Bearer")
		writeJSON(w, http.StatusUnauthorized, map[string]any{
			"version": "v1",
			"error":   "unauthorized",
		})
		return
	}

	job := strings.TrimSpace(r.PathValue("job"))
	if job == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"version": "v1",
			"error":   "invalid_job",
		})
		return
	}

	released, err := h.releaseWithDeadline(r.Context(), job)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"version": "v1",
			"error":   "internal",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"version":  "v1",
		"job":      job,
		"released": released,
	})
}

// releaseWithDeadline bounds the store write so a hung connection cannot pin
// the operator's request forever.
func (h *handler) releaseWithDeadline(ctx context.Context, job string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return h.locks.ForceRelease(ctx, job)
}

func (h *handler) authorized(r *http.Request) bool {
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	token, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(strings.TrimSpace(token)), []byte(h.cfg.AuthToken)) == 1
}

func recordJSON(rec jobs.ExecutionRecord) map[string]any {
	out := map[string]any{
		"job":       rec.JobName,
		"execution": rec.ExecutionID,
		"status":    string(rec.Status),
		"startedAt": rec.StartedAt.UTC().Format(time.RFC3339),
		"duration":  rec.Duration.String(),
	}
	if rec.Error != "" {
		out["error"] = rec.Error
	}
	if len(rec.Result) > 0 {
		out["result"] = json.RawMessage(rec.Result)
	}
	return out
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
