package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"agentflow/internal/dispatch"
	"agentflow/internal/domain"
	"agentflow/internal/schedule"
)

type Server struct {
	r          *chi.Mux
	dispatcher *dispatch.Dispatcher
	store      schedule.Store
}

func NewServer(dispatcher *dispatch.Dispatcher, store schedule.Store) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)

	s := &Server{r: r, dispatcher: dispatcher, store: store}

	r.Get("/health", s.health)
	r.Post("/api/tasks", s.submitTask)
	r.Get("/api/tasks", s.listTasks)
	r.Get("/api/tasks/{id}", s.getTask)
	r.Post("/api/schedules", s.createSchedule)
	r.Get("/api/schedules", s.listSchedules)
	r.Get("/api/schedules/{id}", s.getSchedule)
	r.Put("/api/schedules/{id}", s.updateSchedule)
	r.Delete("/api/schedules/{id}", s.deleteSchedule)
	r.Post("/api/schedules/{id}/toggle", s.toggleSchedule)
	r.Get("/api/schedules/{id}/deliveries", s.listDeliveries)

	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

type submitReq struct {
	Text string `json:"text"`
}

type submitResp struct {
	ID string `json:"id"`
}

func (s *Server) submitTask(w http.ResponseWriter, r *http.Request) {
	var req submitReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	if req.Text == "" {
		http.Error(w, "text is required", 400)
		return
	}
	id, err := s.dispatcher.SubmitRequest(req.Text)
	if err != nil {
		http.Error(w, err.Error(), 503)
		return
	}
	writeJSON(w, http.StatusAccepted, submitResp{ID: id})
}

type taskResp struct {
	ID         string         `json:"id"`
	Kind       string         `json:"kind"`
	Status     string         `json:"status"`
	WorkerType string         `json:"worker_type,omitempty"`
	Source     string         `json:"source,omitempty"`
	Confidence float64        `json:"confidence,omitempty"`
	Rationale  string         `json:"rationale,omitempty"`
	Result     *domain.Result `json:"result,omitempty"`
	Error      string         `json:"error,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

func toTaskResp(t domain.Task) taskResp {
	resp := taskResp{
		ID:        t.ID,
		Kind:      t.Kind,
		Status:    string(t.Status),
		Result:    t.Result,
		Error:     t.Error,
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt,
	}
	if t.Decision != nil {
		resp.WorkerType = string(t.Decision.WorkerType)
		resp.Source = string(t.Decision.Source)
		resp.Confidence = t.Decision.Confidence
		resp.Rationale = t.Decision.Rationale
	}
	return resp
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	t, ok := s.dispatcher.Get(chi.URLParam(r, "id"))
	if !ok {
		http.Error(w, "task not found", 404)
		return
	}
	writeJSON(w, http.StatusOK, toTaskResp(t))
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	tasks := s.dispatcher.List()
	out := make([]taskResp, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, toTaskResp(t))
	}
	writeJSON(w, http.StatusOK, out)
}

type scheduleReq struct {
	Topic           string         `json:"topic"`
	Recipient       string         `json:"recipient"`
	TimeOfDay       string         `json:"time_of_day"`
	Cadence         domain.Cadence `json:"cadence"`
	SubjectTemplate string         `json:"subject_template"`
	Enabled         *bool          `json:"enabled"`
}

func (req *scheduleReq) validate() error {
	if req.Topic == "" {
		return errors.New("topic is required")
	}
	if req.Recipient == "" {
		return errors.New("recipient is required")
	}
	switch req.Cadence.Kind {
	case domain.CadenceCron:
		if _, err := schedule.ParseCronExpr(req.Cadence.Expr); err != nil {
			return err
		}
	case domain.CadenceDaily, domain.CadenceWeekly, domain.CadenceMonthly:
		if _, _, err := schedule.ParseTimeOfDay(req.TimeOfDay); err != nil {
			return err
		}
		if req.Cadence.Kind == domain.CadenceWeekly && (req.Cadence.DayOfWeek < 0 || req.Cadence.DayOfWeek > 6) {
			return errors.New("day_of_week must be 0..6")
		}
		if req.Cadence.Kind == domain.CadenceMonthly && (req.Cadence.DayOfMonth < 1 || req.Cadence.DayOfMonth > 31) {
			return errors.New("day_of_month must be 1..31")
		}
	default:
		return errors.New("cadence kind must be daily, weekly, monthly or cron")
	}
	return nil
}

type scheduleResp struct {
	ID              string         `json:"id"`
	Topic           string         `json:"topic"`
	Recipient       string         `json:"recipient"`
	TimeOfDay       string         `json:"time_of_day"`
	Cadence         domain.Cadence `json:"cadence"`
	SubjectTemplate string         `json:"subject_template"`
	Enabled         bool           `json:"enabled"`
	LastFiredAt     *time.Time     `json:"last_fired_at,omitempty"`
}

func toScheduleResp(e domain.ScheduleEntry) scheduleResp {
	return scheduleResp{
		ID:              e.ID,
		Topic:           e.Topic,
		Recipient:       e.Recipient,
		TimeOfDay:       e.TimeOfDay,
		Cadence:         e.Cadence,
		SubjectTemplate: e.SubjectTemplate,
		Enabled:         e.Enabled,
		LastFiredAt:     e.LastFiredAt,
	}
}

func (s *Server) createSchedule(w http.ResponseWriter, r *http.Request) {
	var req scheduleReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	if err := req.validate(); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	id, err := s.store.Create(r.Context(), domain.ScheduleEntry{
		Topic:           req.Topic,
		Recipient:       req.Recipient,
		TimeOfDay:       req.TimeOfDay,
		Cadence:         req.Cadence,
		SubjectTemplate: req.SubjectTemplate,
		Enabled:         enabled,
	})
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	writeJSON(w, http.StatusCreated, submitResp{ID: id})
}

func (s *Server) listSchedules(w http.ResponseWriter, r *http.Request) {
	entries, err := s.store.List(r.Context())
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	out := make([]scheduleResp, 0, len(entries))
	for _, e := range entries {
		out = append(out, toScheduleResp(e))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getSchedule(w http.ResponseWriter, r *http.Request) {
	e, err := s.store.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toScheduleResp(e))
}

func (s *Server) updateSchedule(w http.ResponseWriter, r *http.Request) {
	var req scheduleReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	if err := req.validate(); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	id := chi.URLParam(r, "id")
	existing, err := s.store.Get(r.Context(), id)
	if err != nil {
		writeStoreErr(w, err)
		return
	}
	enabled := existing.Enabled
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	err = s.store.Update(r.Context(), domain.ScheduleEntry{
		ID:              id,
		Topic:           req.Topic,
		Recipient:       req.Recipient,
		TimeOfDay:       req.TimeOfDay,
		Cadence:         req.Cadence,
		SubjectTemplate: req.SubjectTemplate,
		Enabled:         enabled,
	})
	if err != nil {
		writeStoreErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) deleteSchedule(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeStoreErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) toggleSchedule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	e, err := s.store.Get(r.Context(), id)
	if err != nil {
		writeStoreErr(w, err)
		return
	}
	if err := s.store.SetEnabled(r.Context(), id, !e.Enabled); err != nil {
		writeStoreErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": !e.Enabled})
}

type attemptResp struct {
	Number     int       `json:"number"`
	OccurredAt time.Time `json:"occurred_at"`
	Outcome    string    `json:"outcome"`
	Error      string    `json:"error,omitempty"`
}

func (s *Server) listDeliveries(w http.ResponseWriter, r *http.Request) {
	attempts, err := s.store.ListAttempts(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	out := make([]attemptResp, 0, len(attempts))
	for _, a := range attempts {
		out = append(out, attemptResp{Number: a.Number, OccurredAt: a.OccurredAt, Outcome: string(a.Outcome), Error: a.Error})
	}
	writeJSON(w, http.StatusOK, out)
}

func writeStoreErr(w http.ResponseWriter, err error) {
	if errors.Is(err, schedule.ErrNotFound) {
		http.Error(w, "schedule not found", 404)
		return
	}
	http.Error(w, err.Error(), 500)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
