package user

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-user-admin/internal/auth"
	"github.com/ovaphlow/pitchfork/service-user-admin/internal/notify"
	"github.com/ovaphlow/pitchfork/service-user-admin/internal/user/entity"
)

// MaxBodyBytes bounds a create or update request body.
const MaxBodyBytes = 1 << 20

// Handler exposes the user listing and its mutations as JSON endpoints.
type Handler struct {
	svc    *UserService
	events *notify.Broker
	logger *zap.SugaredLogger
}

// NewHandler constructs a Handler. events may be nil, in which case the
// change stream is not served.
func NewHandler(svc *UserService, events *notify.Broker, logger *zap.SugaredLogger) *Handler {
	return &Handler{svc: svc, events: events, logger: logger}
}

// List serves GET /users?page=&pageSize=&search=&status=.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := h.svc.List(r.Context(), entity.ListQuery{
		Page:     atoiOrZero(q.Get("page")),
		PageSize: atoiOrZero(q.Get("pageSize")),
		Search:   q.Get("search"),
		Status:   q.Get("status"),
	})
	if err != nil {
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load users"})
		return
	}
	h.writeJSON(w, http.StatusOK, page)
}

// atoiOrZero maps unparsable values to zero so the service applies its
// defaults.
func atoiOrZero(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.Stats(r.Context())
	if err != nil {
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load user stats"})
		return
	}
	h.writeJSON(w, http.StatusOK, st)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	u, err := h.svc.Get(r.Context(), r.PathValue("id"))
	switch {
	case err == nil:
		h.writeJSON(w, http.StatusOK, u)
	case errors.Is(err, ErrNotFound):
		h.writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	default:
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load user"})
	}
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var in entity.Input
	if !h.decode(w, r, &in) {
		return
	}
	h.writeResult(w, r, http.StatusCreated, h.svc.Create(r.Context(), in))
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	var in entity.Input
	if !h.decode(w, r, &in) {
		return
	}
	h.writeResult(w, r, http.StatusOK, h.svc.Update(r.Context(), r.PathValue("id"), in))
}

func (h *Handler) ToggleStatus(w http.ResponseWriter, r *http.Request) {
	h.writeResult(w, r, http.StatusOK, h.svc.ToggleStatus(r.Context(), r.PathValue("id")))
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	h.writeResult(w, r, http.StatusOK, h.svc.Delete(r.Context(), r.PathValue("id")))
}

// Events streams listing changes as server-sent events until the client
// goes away.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		http.NotFound(w, r)
		return
	}
	rc := http.NewResponseController(w)
	changes, cancel := h.events.Subscribe()
	defer func() {
		cancel()
		h.logger.Debugw("event stream closed", "subscribers", h.events.Subscribers())
	}()
	h.logger.Debugw("event stream opened", "subscribers", h.events.Subscribers())

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		h.logger.Debugw("event stream not flushable", "err", err)
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case c, ok := <-changes:
			if !ok {
				return
			}
			payload, err := json.Marshal(c)
			if err != nil {
				continue
			}
			if _, err := w.Write([]byte("event: change\ndata: " + string(payload) + "\n\n")); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	body := http.MaxBytesReader(w, r.Body, MaxBodyBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		h.logger.Debugw("invalid user payload", "err", err)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeJSON(w, http.StatusRequestEntityTooLarge, ActionResult{Error: "payload too large"})
			return false
		}
		h.writeJSON(w, http.StatusBadRequest, ActionResult{Error: "invalid payload"})
		return false
	}
	return true
}

func (h *Handler) writeResult(w http.ResponseWriter, r *http.Request, okStatus int, res ActionResult) {
	status := okStatus
	switch {
	case res.Success:
		actor, _ := auth.SubjectFrom(r.Context())
		h.logger.Infow("user changed", "method", r.Method, "path", r.URL.Path, "actor", actor)
	case errors.Is(res.Err, ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(res.Err, ErrConflict):
		status = http.StatusConflict
	case errors.Is(res.Err, ErrNotFound):
		status = http.StatusNotFound
	default:
		status = http.StatusInternalServerError
	}
	h.writeJSON(w, status, res)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
