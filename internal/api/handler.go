// Package api exposes the daemon's HTTP control surface: job submission and
// inspection, run history, watched accounts, and session management.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/justaman045/Instagram-Content-Analyzer/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

// SessionControl is the slice of the session layer the API needs.
type SessionControl interface {
	Invalidate(accountID string) error
}

type Deps struct {
	Store    *storage.Store
	Sessions SessionControl
	// Account is the automation account all sessions belong to.
	Account string
	// MaxAttempts is the default attempt budget for new jobs.
	MaxAttempts int
	Token       string
}

func NewAppHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/jobs", handleCreateJob(deps))
		r.Get("/jobs", handleListJobs(deps))
		r.Get("/jobs/{id}", handleGetJob(deps))
		r.Delete("/jobs/{id}", handleCancelJob(deps))
		r.Get("/jobs/{id}/runs", handleListRuns(deps))

		r.Get("/status", handleStatus(deps))
		r.Delete("/history", handlePruneHistory(deps))

		r.Get("/accounts", handleListAccounts(deps))
		r.Post("/accounts", handleAddAccount(deps))
		r.Delete("/accounts/{username}", handleRemoveAccount(deps))

		r.Put("/session", handlePutSession(deps))
		r.Delete("/session", handleDeleteSession(deps))
	})

	return r
}

type CreateJobRequest struct {
	Kind         string          `json:"kind"`
	Target       string          `json:"target"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	IntervalSecs int             `json:"interval_secs,omitempty"`
	SkipIfMissed bool            `json:"skip_if_missed,omitempty"`
	MaxAttempts  int             `json:"max_attempts,omitempty"`
	RunAt        string          `json:"run_at,omitempty"` // RFC3339; defaults to now
}

// JobResponse is the wire form of a job.
type JobResponse struct {
	ID             string `json:"id"`
	Kind           string `json:"kind"`
	Target         string `json:"target"`
	State          string `json:"state"`
	IntervalSecs   int    `json:"interval_secs,omitempty"`
	SkipIfMissed   bool   `json:"skip_if_missed,omitempty"`
	AttemptCount   int    `json:"attempt_count"`
	MaxAttempts    int    `json:"max_attempts"`
	NextEligibleAt string `json:"next_eligible_at,omitempty"`
	LastError      string `json:"last_error,omitempty"`
	CreatedAt      string `json:"created_at"`
	UpdatedAt      string `json:"updated_at"`
}

type RunResponse struct {
	JobID         string `json:"job_id"`
	AttemptNumber int    `json:"attempt_number"`
	StartedAt     string `json:"started_at"`
	FinishedAt    string `json:"finished_at"`
	Outcome       string `json:"outcome"`
	ErrorDetail   string `json:"error_detail,omitempty"`
}

func handleCreateJob(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req CreateJobRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		kind := storage.JobKind(req.Kind)
		if !storage.ValidKind(kind) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "unknown job kind %q", req.Kind)
			return
		}
		if req.Target == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "target is required")
			return
		}
		if req.IntervalSecs < 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "interval_secs must not be negative")
			return
		}

		now := time.Now().UTC()
		eligible := now
		if req.RunAt != "" {
			t, err := time.Parse(time.RFC3339, req.RunAt)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid run_at: %v", err)
				return
			}
			eligible = t.UTC()
		}

		maxAttempts := req.MaxAttempts
		if maxAttempts <= 0 {
			maxAttempts = deps.MaxAttempts
		}

		job := storage.Job{
			ID:             uuid.New().String(),
			Kind:           kind,
			Target:         req.Target,
			Payload:        string(req.Payload),
			Interval:       time.Duration(req.IntervalSecs) * time.Second,
			SkipIfMissed:   req.SkipIfMissed,
			State:          storage.StatePending,
			MaxAttempts:    maxAttempts,
			NextEligibleAt: eligible,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := deps.Store.CreateJob(job); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to create job: %v", err)
			return
		}

		w.WriteHeader(http.StatusCreated)
		writeJSON(w, jobResponse(job))
	}
}

func handleListJobs(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state := storage.JobState(r.URL.Query().Get("state"))
		limit := parseIntParam(r, "limit", 50, 500)

		jobs, err := deps.Store.ListJobs(state, limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list jobs: %v", err)
			return
		}

		out := make([]JobResponse, 0, len(jobs))
		for _, j := range jobs {
			out = append(out, jobResponse(j))
		}
		writeJSON(w, out)
	}
}

func handleGetJob(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := deps.Store.GetJob(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "job not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get job: %v", err)
			return
		}
		writeJSON(w, jobResponse(job))
	}
}

func handleCancelJob(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		err := deps.Store.CancelJob(id, time.Now().UTC())
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "job not found")
			return
		}
		if err != nil {
			// Only pending jobs can be cancelled; anything else is a state
			// conflict, not a server fault.
			httpError(w, http.StatusConflict, "conflict", "%v", err)
			return
		}
		writeJSON(w, map[string]string{"status": "cancelled"})
	}
}

func handleListRuns(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if _, err := deps.Store.GetJob(id); errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "job not found")
			return
		} else if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get job: %v", err)
			return
		}

		records, err := deps.Store.RunRecords(id)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list runs: %v", err)
			return
		}

		out := make([]RunResponse, 0, len(records))
		for _, rec := range records {
			out = append(out, RunResponse{
				JobID:         rec.JobID,
				AttemptNumber: rec.AttemptNumber,
				StartedAt:     rec.StartedAt.Format(time.RFC3339),
				FinishedAt:    rec.FinishedAt.Format(time.RFC3339),
				Outcome:       string(rec.Outcome),
				ErrorDetail:   rec.ErrorDetail,
			})
		}
		writeJSON(w, out)
	}
}

// handlePruneHistory removes terminal jobs and their run records older than
// the given window. The daemon sweeps on its own cadence; this exists so
// operators can force a prune without waiting for it.
func handlePruneHistory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		days := parseIntParam(r, "days", 30, 3650)
		cutoff := time.Now().UTC().Add(-time.Duration(days) * 24 * time.Hour)

		n, err := deps.Store.PruneTerminalJobs(cutoff)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to prune history: %v", err)
			return
		}
		writeJSON(w, map[string]any{"status": "pruned", "count": n})
	}
}

func handleStatus(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := deps.Store.JobStats()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to read job stats: %v", err)
			return
		}

		sessionStatus := "absent"
		if sess, err := deps.Store.GetSession(deps.Account); err == nil {
			sessionStatus = string(sess.Status)
		}

		jobs := make(map[string]int, len(stats))
		for state, n := range stats {
			jobs[string(state)] = n
		}
		writeJSON(w, map[string]any{
			"jobs":    jobs,
			"session": sessionStatus,
		})
	}
}

func handleListAccounts(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accounts, err := deps.Store.ListAccounts()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list accounts: %v", err)
			return
		}

		out := make([]map[string]string, 0, len(accounts))
		for _, a := range accounts {
			out = append(out, map[string]string{
				"username": a.Username,
				"added_at": a.AddedAt.Format(time.RFC3339),
			})
		}
		writeJSON(w, out)
	}
}

func handleAddAccount(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req struct {
			Usernames []string `json:"usernames"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		usernames := storage.NormalizeUsernames(req.Usernames)
		if len(usernames) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "usernames is required")
			return
		}

		now := time.Now().UTC()
		for _, u := range usernames {
			if err := deps.Store.AddAccount(u, now); err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "failed to add account %s: %v", u, err)
				return
			}
		}
		writeJSON(w, map[string]any{"status": "added", "usernames": usernames})
	}
}

func handleRemoveAccount(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		username := chi.URLParam(r, "username")
		if err := deps.Store.RemoveAccount(username); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				httpError(w, http.StatusNotFound, "not_found", "account not found")
				return
			}
			httpError(w, http.StatusInternalServerError, "api_error", "failed to remove account: %v", err)
			return
		}
		writeJSON(w, map[string]string{"status": "removed"})
	}
}

// handlePutSession seeds or replaces the automation account's session. The
// daemon otherwise reads the session file, so this exists for operators who
// rotate credentials without touching the filesystem.
func handlePutSession(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req struct {
			Credential string `json:"credential"`
			ExpiresAt  string `json:"expires_at,omitempty"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Credential == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "credential is required")
			return
		}

		sess := storage.Session{
			AccountID:      deps.Account,
			CredentialBlob: req.Credential,
			IssuedAt:       time.Now().UTC(),
			Status:         storage.SessionValid,
		}
		if req.ExpiresAt != "" {
			t, err := time.Parse(time.RFC3339, req.ExpiresAt)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid expires_at: %v", err)
				return
			}
			exp := t.UTC()
			sess.ExpiresAt = &exp
		}
		if err := deps.Store.SaveSession(sess); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save session: %v", err)
			return
		}
		writeJSON(w, map[string]string{"status": "saved"})
	}
}

func handleDeleteSession(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Sessions.Invalidate(deps.Account); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to invalidate session: %v", err)
			return
		}
		writeJSON(w, map[string]string{"status": "revoked"})
	}
}

func jobResponse(j storage.Job) JobResponse {
	resp := JobResponse{
		ID:           j.ID,
		Kind:         string(j.Kind),
		Target:       j.Target,
		State:        string(j.State),
		IntervalSecs: int(j.Interval / time.Second),
		SkipIfMissed: j.SkipIfMissed,
		AttemptCount: j.AttemptCount,
		MaxAttempts:  j.MaxAttempts,
		LastError:    j.LastError,
		CreatedAt:    j.CreatedAt.Format(time.RFC3339),
		UpdatedAt:    j.UpdatedAt.Format(time.RFC3339),
	}
	if !j.State.Terminal() {
		resp.NextEligibleAt = j.NextEligibleAt.Format(time.RFC3339)
	}
	return resp
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v <= 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
