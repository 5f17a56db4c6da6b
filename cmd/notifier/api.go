// cmd/notifier/api.go
package main

import (
	"encoding/json"
	"errors"
	"net/http"

	stderrors "guardian-notify/internal/common/errors"
	"guardian-notify/internal/common/logger"
	"guardian-notify/internal/models"
	"guardian-notify/internal/notify"
	"guardian-notify/internal/offline"
)

// newAPIHandler exposes the notification core to the UI layer. The routes
// mirror the core operations one-to-one; anything richer (auth, pagination)
// belongs to the gateway in front of this service.
func newAPIHandler(service *notify.Service, engine *offline.Engine, log logger.Logger) http.Handler {
	api := &apiServer{service: service, engine: engine, logger: log}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/events", api.handleEvent)
	mux.HandleFunc("/api/notifications", api.listNotifications)
	mux.HandleFunc("/api/notifications/cancel", api.cancelNotification)
	mux.HandleFunc("/api/notifications/ack", api.acknowledgeNotification)
	mux.HandleFunc("/api/sync/conflicts", api.listConflicts)
	mux.HandleFunc("/api/sync/resolve", api.resolveConflict)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

type apiServer struct {
	service *notify.Service
	engine  *offline.Engine
	logger  logger.Logger
}

func (a *apiServer) handleEvent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var event models.TriggerEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	outcome, err := a.service.HandleEvent(r.Context(), &event)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, outcome)
}

func (a *apiServer) listNotifications(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	items, err := a.service.Notifications(r.Context())
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, items)
}

func (a *apiServer) cancelNotification(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		ID          string      `json:"id"`
		CancelledBy string      `json:"cancelledBy"`
		Role        models.Role `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	cancelled, err := a.service.Cancel(r.Context(), req.ID, req.CancelledBy, req.Role)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, cancelled)
}

func (a *apiServer) acknowledgeNotification(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		ID      string `json:"id"`
		AckedBy string `json:"ackedBy"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	acked, err := a.service.Acknowledge(r.Context(), req.ID, req.AckedBy)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, acked)
}

func (a *apiServer) listConflicts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	conflicts, err := a.engine.OpenConflicts(r.Context())
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, conflicts)
}

func (a *apiServer) resolveConflict(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		ID            string                    `json:"id"`
		Resolution    models.ConflictResolution `json:"resolution"`
		MergedPayload json.RawMessage           `json:"mergedPayload,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	item, err := a.engine.ResolveConflict(r.Context(), req.ID, req.Resolution, req.MergedPayload)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, item)
}

func (a *apiServer) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Error("write response", map[string]interface{}{"error": err.Error()})
	}
}

// writeError maps internal error codes onto HTTP statuses.
func (a *apiServer) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var stdErr *stderrors.StandardError
	if errors.As(err, &stdErr) {
		switch stdErr.Code {
		case stderrors.ErrCodeEventValidationFailed,
			stderrors.ErrCodeMissingTemplateVariables,
			stderrors.ErrCodeInvalidResolution:
			status = http.StatusBadRequest
		case stderrors.ErrCodeNotificationNotFound,
			stderrors.ErrCodeTemplateNotFound,
			stderrors.ErrCodeSyncItemNotFound:
			status = http.StatusNotFound
		case stderrors.ErrCodeCancelNotPermitted:
			status = http.StatusForbidden
		case stderrors.ErrCodeCancelTooLate,
			stderrors.ErrCodeIllegalTransition,
			stderrors.ErrCodeSyncConflict:
			status = http.StatusConflict
		case stderrors.ErrCodeStoreUnavailable,
			stderrors.ErrCodeSyncBackendUnavailable,
			stderrors.ErrCodeDeliveryFailed:
			status = http.StatusServiceUnavailable
		}
		a.writeJSON(w, status, stdErr)
		return
	}
	http.Error(w, err.Error(), status)
}
