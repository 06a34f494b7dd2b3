package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"

	"github.com/DoyleJ11/checker-lobby/internal/engine"
	"github.com/DoyleJ11/checker-lobby/internal/hub"
	"github.com/DoyleJ11/checker-lobby/internal/lobby"
	"github.com/DoyleJ11/checker-lobby/pkg/types"
)

const qrSize = 320

type API struct {
	hub     *hub.Hub
	logger  *zap.Logger
	timeout time.Duration
}

func NewAPI(h *hub.Hub, logger *zap.Logger, timeout time.Duration) *API {
	return &API{hub: h, logger: logger, timeout: timeout}
}

// CreateSession mints a new session id. Joining does not require one made
// here; any well-formed id is accepted.
func (a *API) CreateSession(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.NewV7()
	if err != nil {
		a.respondError(w, r, http.StatusInternalServerError, types.CodeInternal, "failed to generate session id")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), a.timeout)
	defer cancel()

	if _, err := a.hub.Ensure(ctx, id); err != nil {
		a.respondError(w, r, http.StatusInternalServerError, types.CodeInternal, "failed to create session")
		return
	}

	respondJSON(w, http.StatusCreated, types.SessionCreated{SessionID: id})
}

func (a *API) GetSession(w http.ResponseWriter, r *http.Request) {
	lb, ctx, cancel, ok := a.resolve(w, r)
	if !ok {
		return
	}
	defer cancel()

	v, err := lb.View(ctx)
	if err != nil {
		a.internalError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, types.SessionView{
		SessionID: lb.ID(),
		Slots:     v.State.Views(),
		Watchers:  v.Watchers,
	})
}

func (a *API) AssignSlot(w http.ResponseWriter, r *http.Request) {
	var req types.AssignRequest
	if !a.decode(w, r, &req) {
		return
	}
	slot, ok := a.slot(w, r)
	if !ok {
		return
	}
	lb, ctx, cancel, ok := a.resolve(w, r)
	if !ok {
		return
	}
	defer cancel()

	res, err := lb.Assign(ctx, slot, req.Name)
	if err != nil {
		a.assignmentError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (a *API) ReassignSlot(w http.ResponseWriter, r *http.Request) {
	var req types.SecretRequest
	if !a.decode(w, r, &req) {
		return
	}
	slot, ok := a.slot(w, r)
	if !ok {
		return
	}
	lb, ctx, cancel, ok := a.resolve(w, r)
	if !ok {
		return
	}
	defer cancel()

	res, err := lb.Reassign(ctx, slot, req.Secret)
	if err != nil {
		a.assignmentError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (a *API) UnassignSlot(w http.ResponseWriter, r *http.Request) {
	var req types.SecretRequest
	if !a.decode(w, r, &req) {
		return
	}
	slot, ok := a.slot(w, r)
	if !ok {
		return
	}
	lb, ctx, cancel, ok := a.resolve(w, r)
	if !ok {
		return
	}
	defer cancel()

	if err := lb.Unassign(ctx, slot, req.Secret); err != nil {
		a.assignmentError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SessionQR renders a PNG QR code pointing at the session's game page.
func (a *API) SessionQR(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		a.respondError(w, r, http.StatusBadRequest, types.CodeInvalidSession, "invalid session id")
		return
	}

	// Derive scheme (respecting TLS and X-Forwarded-Proto if present).
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}

	png, err := qrcode.Encode(scheme+"://"+r.Host+"/games/"+id.String(), qrcode.Medium, qrSize)
	if err != nil {
		a.internalError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(png)))
	_, _ = w.Write(png)
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// resolve parses the {id} URL parameter and returns its lobby, creating it
// on first reference. The returned context bounds the lobby round trip.
func (a *API) resolve(w http.ResponseWriter, r *http.Request) (*lobby.Lobby, context.Context, context.CancelFunc, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		a.respondError(w, r, http.StatusBadRequest, types.CodeInvalidSession, "invalid session id")
		return nil, nil, nil, false
	}

	ctx, cancel := context.WithTimeout(r.Context(), a.timeout)
	lb, err := a.hub.Ensure(ctx, id)
	if err != nil {
		cancel()
		a.internalError(w, r, err)
		return nil, nil, nil, false
	}
	return lb, ctx, cancel, true
}

func (a *API) slot(w http.ResponseWriter, r *http.Request) (int, bool) {
	slot, err := strconv.Atoi(chi.URLParam(r, "slot"))
	if err != nil {
		a.respondError(w, r, http.StatusBadRequest, types.CodeInvalidSlot, "invalid player slot")
		return 0, false
	}
	return slot, true
}

// decode reads a JSON body into v. An empty body leaves v at its zero value.
func (a *API) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(v)
	if err != nil && !errors.Is(err, io.EOF) {
		a.respondError(w, r, http.StatusBadRequest, types.CodeBadRequest, "invalid request body")
		return false
	}
	return true
}

func (a *API) assignmentError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, engine.ErrInvalidSlot):
		a.respondError(w, r, http.StatusBadRequest, types.CodeInvalidSlot, "that player slot is not available")
	case errors.Is(err, engine.ErrAlreadyAssigned):
		a.respondError(w, r, http.StatusConflict, types.CodeAlreadyAssigned, "slot already taken")
	case errors.Is(err, engine.ErrInvalidSecret):
		a.respondError(w, r, http.StatusForbidden, types.CodeInvalidSecret, "could not verify your identity")
	default:
		a.internalError(w, r, err)
	}
}

func (a *API) internalError(w http.ResponseWriter, r *http.Request, err error) {
	a.logger.Error("request failed",
		zap.String("path", r.URL.Path),
		zap.String("request_id", middleware.GetReqID(r.Context())),
		zap.Error(err),
	)
	status := http.StatusInternalServerError
	if errors.Is(err, context.DeadlineExceeded) {
		status = http.StatusServiceUnavailable
	}
	a.respondError(w, r, status, types.CodeInternal, strings.ToLower(http.StatusText(status)))
}

func (a *API) respondError(w http.ResponseWriter, r *http.Request, status int, code types.ErrorCode, message string) {
	a.logger.Debug("request rejected",
		zap.String("path", r.URL.Path),
		zap.String("code", string(code)),
	)
	respondJSON(w, status, types.ErrorResponse{Error: code, Message: message})
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
