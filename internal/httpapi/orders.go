package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"kitstudio/internal/core"
	"kitstudio/pkg/domain"
)

// flexTime accepts RFC 3339 timestamps and plain YYYY-MM-DD dates.
type flexTime struct{ time.Time }

func parseFlexTime(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q", raw)
	}
	return t, nil
}

func (f *flexTime) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("date must be a string")
	}
	t, err := parseFlexTime(raw)
	if err != nil {
		return err
	}
	f.Time = t
	return nil
}

// rangeQuery reads the optional from/to bounds of a listing.
func rangeQuery(r *http.Request) (time.Time, time.Time, error) {
	from, err := parseFlexTime(r.URL.Query().Get("from"))
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	to, err := parseFlexTime(r.URL.Query().Get("to"))
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return from, to, nil
}

type workItemRequest struct {
	Client             *string   `json:"client"`
	OrderNumber        *string   `json:"orderNumber"`
	DeliveryDate       *flexTime `json:"deliveryDate"`
	PackageType        *string   `json:"packageType"`
	RemakeType         *string   `json:"remakeType"`
	Key                *string   `json:"key"`
	BPM                *int      `json:"bpm"`
	RevisionsRemaining *int      `json:"revisionsRemaining"`
	Status             *string   `json:"status"`
	TaskID             *string   `json:"taskId"`
}

func (req workItemRequest) apply(item *domain.WorkItem) {
	if req.Client != nil {
		item.Client = strings.TrimSpace(*req.Client)
	}
	if req.OrderNumber != nil {
		item.OrderNumber = strings.TrimSpace(*req.OrderNumber)
	}
	if req.DeliveryDate != nil {
		item.DeliveryDate = req.DeliveryDate.Time
	}
	if req.PackageType != nil {
		item.PackageType = *req.PackageType
	}
	if req.RemakeType != nil {
		item.RemakeType = *req.RemakeType
	}
	if req.Key != nil {
		item.Key = domain.NormalizeKey(*req.Key)
	}
	if req.BPM != nil {
		item.BPM = *req.BPM
	}
	if req.RevisionsRemaining != nil {
		item.RevisionsRemaining = *req.RevisionsRemaining
	}
}

func (s *Server) handleListWorkItems(w http.ResponseWriter, r *http.Request) {
	items, err := s.Service.ListWorkItems(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if items == nil {
		items = []domain.WorkItem{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"workItems": items})
}

// handleCreateWorkItem stores an order together with its Kanban task.
func (s *Server) handleCreateWorkItem(w http.ResponseWriter, r *http.Request) {
	var req workItemRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var item domain.WorkItem
	req.apply(&item)
	if req.Status != nil {
		status, err := domain.ParseDeliveryStatus(*req.Status)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		item.Status = status
	}
	item.TaskID = req.TaskID
	created, _, err := s.Service.CreateWorkItem(r.Context(), item)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"workItem": created})
}

func (s *Server) handleUpdateWorkItem(w http.ResponseWriter, r *http.Request) {
	var req workItemRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Status != nil || req.TaskID != nil {
		writeError(w, http.StatusBadRequest, "status and taskId change through the status route")
		return
	}
	updated, _, err := s.Service.UpdateWorkItem(r.Context(), mux.Vars(r)["id"], func(item *domain.WorkItem) error {
		req.apply(item)
		return nil
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"workItem": updated})
}

// handleWorkItemStatus changes the order status; the linked task follows.
func (s *Server) handleWorkItemStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status string `json:"status"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	status, err := domain.ParseDeliveryStatus(req.Status)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	updated, res, err := s.Service.UpdateWorkItemStatus(r.Context(), mux.Vars(r)["id"], status)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"workItem": updated, "violations": res.Violations})
}

func (s *Server) handleDeleteWorkItem(w http.ResponseWriter, r *http.Request) {
	if _, err := s.Service.DeleteWorkItem(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title  string    `json:"title"`
		Column string    `json:"column"`
		Course string    `json:"course"`
		Due    *flexTime `json:"due"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	task := domain.Task{Title: strings.TrimSpace(req.Title), Course: req.Course, Column: domain.ColumnTodo}
	if req.Column != "" {
		col, err := domain.ParseTaskColumn(req.Column)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		task.Column = col
	}
	if req.Due != nil && !req.Due.IsZero() {
		due := req.Due.Time
		task.Due = &due
	}
	created, _, err := s.Service.CreateTask(r.Context(), task)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"task": created})
}

func (s *Server) handleMoveTask(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Column string `json:"column"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	task, _, err := s.Service.MoveTask(r.Context(), mux.Vars(r)["id"], domain.TaskColumn(req.Column))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"task": task})
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	if _, err := s.Service.DeleteTask(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	from, to, err := rangeQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	events, err := s.Service.ListCalendarEvents(r.Context(), from, to)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if events == nil {
		events = []domain.CalendarEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (s *Server) handleCreateEvent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title    string   `json:"title"`
		Start    flexTime `json:"start"`
		End      flexTime `json:"end"`
		AllDay   bool     `json:"allDay"`
		Location string   `json:"location"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	event := domain.CalendarEvent{Title: req.Title, Start: req.Start.Time, End: req.End.Time, AllDay: req.AllDay, Location: req.Location}
	created, _, err := s.Service.CreateCalendarEvent(r.Context(), event)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"event": created})
}

func (s *Server) handleDeleteEvent(w http.ResponseWriter, r *http.Request) {
	if _, err := s.Service.DeleteCalendarEvent(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRecordIncome(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Source      string    `json:"source"`
		AmountCents int64     `json:"amountCents"`
		Currency    string    `json:"currency"`
		ReceivedAt  *flexTime `json:"receivedAt"`
		WorkItemID  *string   `json:"workItemId"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	entry := domain.IncomeEntry{
		Source:      req.Source,
		AmountCents: req.AmountCents,
		Currency:    strings.ToUpper(strings.TrimSpace(req.Currency)),
		WorkItemID:  req.WorkItemID,
		ReceivedAt:  time.Now().UTC(),
	}
	if entry.Currency == "" {
		entry.Currency = "USD"
	}
	if req.ReceivedAt != nil && !req.ReceivedAt.IsZero() {
		entry.ReceivedAt = req.ReceivedAt.Time
	}
	created, _, err := s.Service.RecordIncome(r.Context(), entry)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"income": created})
}

func (s *Server) handleIncomeSummary(w http.ResponseWriter, r *http.Request) {
	from, to, err := rangeQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	totals, err := s.Service.IncomeSummary(r.Context(), from, to)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if totals == nil {
		totals = []core.IncomeTotal{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"totals": totals, "from": from, "to": to})
}
