package accounts

import (
	"errors"
	"net/http"
	"strings"

	"papervenue/internal/auth"
	"papervenue/internal/bankruptcy"
	"papervenue/internal/config"
	"papervenue/internal/httputil"
	"papervenue/internal/ledger"
	"papervenue/internal/marketdata"
)

type Handler struct {
	ledger *ledger.Service
	bank   *bankruptcy.Service
	auth   *auth.Service
	cfg    config.Trading
}

func NewHandler(ledgerSvc *ledger.Service, bank *bankruptcy.Service, authSvc *auth.Service, cfg config.Trading) *Handler {
	return &Handler{ledger: ledgerSvc, bank: bank, auth: authSvc, cfg: cfg}
}

type registerRequest struct {
	Name string `json:"name"`
}

// Register creates a participant with the initial balance and hands back a
// token.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "name is required"})
		return
	}
	u, err := h.ledger.CreateUser(r.Context(), name, h.cfg.InitialBalance)
	if err != nil {
		writeError(w, err)
		return
	}
	token, err := h.auth.IssueToken(u.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, map[string]any{"user": u, "token": token})
}

// Portfolio returns the mark-to-market valuation used for both the UI and
// the insolvency check.
func (h *Handler) Portfolio(w http.ResponseWriter, r *http.Request, userID int64) {
	v, err := h.bank.Valuation(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, v)
}

func (h *Handler) Positions(w http.ResponseWriter, r *http.Request, userID int64) {
	positions, err := h.ledger.ListPositions(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, positions)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ledger.ErrUserNotFound):
		status = http.StatusNotFound
	case errors.Is(err, marketdata.ErrPriceUnavailable):
		status = http.StatusServiceUnavailable
	}
	httputil.WriteJSON(w, status, httputil.ErrorResponse{Error: err.Error()})
}
