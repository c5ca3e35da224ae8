package orders

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"papervenue/internal/dlock"
	"papervenue/internal/httputil"
	"papervenue/internal/ledger"
	"papervenue/internal/marketdata"
	"papervenue/internal/types"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

type placeOrderRequest struct {
	RequestID  string `json:"request_id"`
	Symbol     string `json:"symbol"`
	Side       string `json:"side"`
	Kind       string `json:"kind"`
	Qty        string `json:"qty"`
	LimitPrice string `json:"limit_price"`
	Leverage   int32  `json:"leverage"`
}

func (h *Handler) Place(w http.ResponseWriter, r *http.Request, userID int64) {
	var req placeOrderRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	symbol := strings.ToUpper(strings.TrimSpace(req.Symbol))
	if symbol == "" {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "symbol is required"})
		return
	}
	qty, err := decimal.NewFromString(req.Qty)
	if err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "invalid qty"})
		return
	}
	var limit *decimal.Decimal
	if req.LimitPrice != "" {
		p, err := decimal.NewFromString(req.LimitPrice)
		if err != nil {
			httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "invalid limit_price"})
			return
		}
		limit = &p
	}
	o, err := h.svc.Place(r.Context(), userID, PlaceRequest{
		RequestID:  req.RequestID,
		Symbol:     symbol,
		Side:       types.OrderSide(req.Side),
		Kind:       types.OrderKind(req.Kind),
		Quantity:   qty,
		LimitPrice: limit,
		Leverage:   req.Leverage,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, o)
}

func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request, userID int64) {
	orderID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "invalid order id"})
		return
	}
	if err := h.svc.Cancel(r.Context(), userID, orderID); err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request, userID int64) {
	orderID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "invalid order id"})
		return
	}
	o, err := h.svc.Get(r.Context(), userID, orderID)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, o)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request, userID int64) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	out, err := h.svc.ListByUser(r.Context(), userID, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) Latest(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	out, err := h.svc.ListLatest(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

// writeError maps the order-flow sentinels onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	httputil.WriteJSON(w, statusFor(err), httputil.ErrorResponse{Error: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrOrderNotFound),
		errors.Is(err, ledger.ErrUserNotFound),
		errors.Is(err, marketdata.ErrInstrumentNotFound):
		return http.StatusNotFound
	case errors.Is(err, dlock.ErrDuplicateRequest),
		errors.Is(err, ErrOrderCannotCancel):
		return http.StatusConflict
	case errors.Is(err, dlock.ErrLockTimeout):
		return http.StatusLocked
	case errors.Is(err, ledger.ErrInsufficientFunds),
		errors.Is(err, ledger.ErrInsufficientFrozen),
		errors.Is(err, ledger.ErrInsufficientPosition):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ledger.ErrUserBankrupt):
		return http.StatusForbidden
	case errors.Is(err, marketdata.ErrPriceUnavailable),
		errors.Is(err, ErrNotInTradingHours):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrInvalidQuantity),
		errors.Is(err, ErrInvalidOrder),
		errors.Is(err, ErrNotTradable),
		errors.Is(err, ErrLeverageInvalid),
		errors.Is(err, ErrLimitPriceOutOfBand):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
