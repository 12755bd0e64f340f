package admin

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"betsweb/cmd/identity"
	"betsweb/cmd/identity/ids"
	"betsweb/cmd/internal/session"
	v1 "betsweb/shared/contracts/notify/v1"
)

const defaultMaxBodyBytes = 16 << 10 // 16 KiB

// Broadcaster fans a notification out to connected clients.
type Broadcaster interface {
	Broadcast(n v1.Notification) int
}

// Handler wires the admin HTTP endpoints to the session ledger, the
// identity provider, and the notify gateway.
type Handler struct {
	log          *slog.Logger
	ledger       *session.Ledger
	idp          identity.Provider
	broadcaster  Broadcaster
	maxBodyBytes int64
}

// NewHandler constructs an admin Handler.
func NewHandler(log *slog.Logger, ledger *session.Ledger, idp identity.Provider, broadcaster Broadcaster) (*Handler, error) {
	if ledger == nil {
		return nil, errors.New("admin: nil ledger")
	}
	if idp == nil {
		return nil, errors.New("admin: nil identity provider")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		log:          log,
		ledger:       ledger,
		idp:          idp,
		broadcaster:  broadcaster,
		maxBodyBytes: defaultMaxBodyBytes,
	}, nil
}

// Register wires admin routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("/admin/force-logout", h.handleForceLogout)
	mux.HandleFunc("/admin/announce", h.handleAnnounce)
	mux.HandleFunc("/logout", h.handleBeacon)
}

// ---- handlers ----

func (h *Handler) handleForceLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	caller, err := h.caller(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthenticated", "valid bearer token required")
		return
	}

	var req forceLogoutRequest
	if err := decodeJSON(w, r, h.maxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	err = h.ledger.ForceReleaseAll(r.Context(), caller, strings.TrimSpace(req.UID))
	switch {
	case err == nil:
		h.log.Info("admin.force_logout", "caller_uid", caller.UID, "uid", req.UID)
		writeJSON(w, http.StatusOK, successResponse{
			Success: true,
			Message: "All sessions for user " + req.UID + " were released.",
		})

	case errors.Is(err, session.ErrUnauthenticated):
		writeError(w, http.StatusUnauthorized, "unauthenticated", "caller identity required")
	case errors.Is(err, session.ErrPermissionDenied):
		writeError(w, http.StatusForbidden, "permission_denied", "admin privileges required")
	case errors.Is(err, session.ErrInvalidArgument):
		writeError(w, http.StatusBadRequest, "invalid_argument", "uid is required")
	default:
		h.log.Error("admin.force_logout.fail", "caller_uid", caller.UID, "uid", req.UID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

func (h *Handler) handleAnnounce(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	caller, err := h.caller(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthenticated", "valid bearer token required")
		return
	}
	if !caller.Role.CanForceLogout() {
		writeError(w, http.StatusForbidden, "permission_denied", "admin privileges required")
		return
	}
	if h.broadcaster == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "broadcast not configured")
		return
	}

	var req announceRequest
	if err := decodeJSON(w, r, h.maxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "invalid_argument", "message is required")
		return
	}

	now := time.Now().UTC()
	id, err := ids.NewULID(now)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}

	n := v1.Notification{
		ID:        id,
		Type:      req.Type,
		Title:     req.Title,
		Message:   req.Message,
		Data:      req.Data,
		Timestamp: now.UnixMilli(),
	}
	if n.Type == "" {
		n.Type = v1.DefaultType
	}
	if n.Title == "" {
		n.Title = v1.DefaultTitle
	}

	delivered := h.broadcaster.Broadcast(n)
	h.log.Info("admin.announce", "caller_uid", caller.UID, "type", n.Type, "delivered", delivered)
	writeJSON(w, http.StatusOK, announceResponse{Success: true, Delivered: delivered, ID: id})
}

// handleBeacon serves the browser-unload beacon. Beacons cannot read the
// response, so the endpoint always answers 204; the stale-session
// reconciler remains the authoritative cleanup.
func (h *Handler) handleBeacon(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req beaconRequest
	if err := decodeJSON(w, r, h.maxBodyBytes, &req); err == nil {
		uid := strings.TrimSpace(req.UID)
		if uid != "" {
			if err := h.ledger.ReleaseOldest(r.Context(), uid); err != nil {
				h.log.Warn("admin.beacon.release.fail", "uid", uid, "err", err)
			}
		}
	}

	w.WriteHeader(http.StatusNoContent)
}

// caller authenticates the bearer token into a session.Caller.
func (h *Handler) caller(r *http.Request) (session.Caller, error) {
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return session.Caller{}, identity.ErrInvalidToken
	}

	principal, err := h.idp.Authenticate(r.Context(), strings.TrimSpace(auth[len(prefix):]))
	if err != nil {
		return session.Caller{}, err
	}

	return session.Caller{
		UID:  principal.UID,
		Role: session.Role(strings.ToLower(principal.Role)),
	}, nil
}
