package hiatus

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"skin-accounts/internal/account"
	"skin-accounts/internal/respond"
)

type Store interface {
	FindHiatus(ctx context.Context, uuid string) (account.Account, error)
	TouchHiatusLaunch(ctx context.Context, id int64, at int64) error
	TouchHiatusPing(ctx context.Context, id int64, at int64) error
}

type Handler struct {
	store  Store
	logger *zap.Logger
	now    func() time.Time
}

func NewHandler(store Store, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{store: store, logger: logger, now: time.Now}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /hiatus/launch", h.Launch)
	mux.HandleFunc("POST /hiatus/exit", h.Exit)
	mux.HandleFunc("POST /hiatus/ping", h.Ping)
}

type result struct {
	Success bool   `json:"success"`
	Msg     string `json:"msg,omitempty"`
}

func (h *Handler) Launch(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, "launch", func(ctx context.Context, acc account.Account, at int64) (string, error) {
		return "launch updated", h.store.TouchHiatusLaunch(ctx, acc.ID, at)
	})
}

func (h *Handler) Ping(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, "ping", func(ctx context.Context, acc account.Account, at int64) (string, error) {
		return "ping updated", h.store.TouchHiatusPing(ctx, acc.ID, at)
	})
}

func (h *Handler) Exit(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, "exit", func(ctx context.Context, acc account.Account, at int64) (string, error) {
		return "", nil
	})
}

type touchFunc func(ctx context.Context, acc account.Account, at int64) (string, error)

// serve answers soft failures with 200 and success=false so the client
// keeps running.
func (h *Handler) serve(w http.ResponseWriter, r *http.Request, event string, touch touchFunc) {
	auth, err := ParseAuth(r.Header.Get("Authorization"), r.Header.Get("User-Agent"))
	if err != nil {
		respond.JSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": err.Error()})
		return
	}
	h.logger.Debug("hiatus_"+event, zap.String("uuid", auth.UUID), zap.String("mod_version", auth.ModVersion))

	acc, err := h.store.FindHiatus(r.Context(), auth.UUID)
	if errors.Is(err, account.ErrNotFound) {
		respond.JSON(w, http.StatusOK, result{Msg: "Account not found or hiatus disabled"})
		return
	}
	if err != nil {
		respond.Internal(w, r, h.logger, "hiatus_lookup_failed", err, "internal server error")
		return
	}

	switch verify(auth, acc) {
	case verdictUUIDMismatch:
		h.logger.Warn("hiatus_uuid_mismatch", zap.String("account_uuid", acc.UUID), zap.String("uuid", auth.UUID))
		respond.JSON(w, http.StatusOK, result{Msg: "uuid mismatch"})
		return
	case verdictNoConfig:
		respond.JSON(w, http.StatusOK, result{})
		return
	case verdictHashMismatch:
		respond.JSON(w, http.StatusOK, result{Msg: "hash mismatch"})
		return
	}

	msg, err := touch(r.Context(), acc, h.now().Unix())
	if err != nil {
		respond.Internal(w, r, h.logger, "hiatus_update_failed", err, "internal server error")
		return
	}
	respond.JSON(w, http.StatusOK, map[string]any{"success": true, "msg": msg})
}
