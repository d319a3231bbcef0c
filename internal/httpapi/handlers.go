package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"ragefit/pos/internal/domain"
	"ragefit/pos/internal/service"
)

type addItemRequest struct {
	ItemID string `json:"item_id"`
}

type adjustQuantityRequest struct {
	Delta int `json:"delta"`
}

type assignMemberRequest struct {
	MemberID    string `json:"member_id"`
	DisplayName string `json:"display_name"`
}

type noteRequest struct {
	Note string `json:"note"`
}

type discountRequest struct {
	Type  string          `json:"type"`
	Value decimal.Decimal `json:"value"`
}

type managerPINRequest struct {
	ManagerPIN string `json:"manager_pin"`
}

type saveItemRequest struct {
	ManagerPIN string               `json:"manager_pin"`
	Item       domain.InventoryItem `json:"item"`
}

type restockRequest struct {
	ManagerPIN string `json:"manager_pin"`
	Quantity   int    `json:"quantity"`
}

type startShiftRequest struct {
	StartingCash decimal.Decimal `json:"starting_cash"`
}

// endShiftRequest carries either a denomination count or a bare total.
// When Counts is present the total is derived from it.
type endShiftRequest struct {
	ActualCash decimal.Decimal `json:"actual_cash"`
	Counts     map[string]int  `json:"counts,omitempty"`
}

type countCashRequest struct {
	Counts map[string]int `json:"counts"`
}

func (a *API) handleInventory(w http.ResponseWriter, r *http.Request) {
	items, err := a.engine.ListInventory(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (a *API) handleListSales(w http.ResponseWriter, r *http.Request) {
	status := strings.TrimSpace(r.URL.Query().Get("status"))
	switch status {
	case "", domain.SaleStatusUnpaid, domain.SaleStatusPaid, domain.SaleStatusRefunded:
	default:
		writeError(w, http.StatusBadRequest, errors.New("unknown sale status"))
		return
	}
	sales, err := a.engine.ListSales(r.Context(), status)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sales)
}

func (a *API) handleOpenSale(w http.ResponseWriter, r *http.Request) {
	sale, err := sessionFrom(r).OpenOrGetActiveSale(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sale)
}

func (a *API) handleGetSale(w http.ResponseWriter, r *http.Request) {
	sale, err := a.engine.GetSale(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sale)
}

func (a *API) handleResumeSale(w http.ResponseWriter, r *http.Request) {
	sale, err := sessionFrom(r).ResumeSale(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sale)
}

func (a *API) handleAddItem(w http.ResponseWriter, r *http.Request) {
	var req addItemRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(req.ItemID) == "" {
		writeError(w, http.StatusBadRequest, errors.New("item_id is required"))
		return
	}
	sale, err := sessionFrom(r).AddItem(r.Context(), saleIDParam(r), req.ItemID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sale)
}

func (a *API) handleAdjustQuantity(w http.ResponseWriter, r *http.Request) {
	index, ok := lineIndexParam(w, r)
	if !ok {
		return
	}
	var req adjustQuantityRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	result, err := sessionFrom(r).AdjustQuantity(r.Context(), r.PathValue("id"), index, req.Delta)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleRemoveItem(w http.ResponseWriter, r *http.Request) {
	index, ok := lineIndexParam(w, r)
	if !ok {
		return
	}
	result, err := sessionFrom(r).RemoveItem(r.Context(), r.PathValue("id"), index)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleAssignMember(w http.ResponseWriter, r *http.Request) {
	var req assignMemberRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	sale, err := sessionFrom(r).AssignMember(r.Context(), r.PathValue("id"), req.MemberID, req.DisplayName)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sale)
}

func (a *API) handleSetNote(w http.ResponseWriter, r *http.Request) {
	var req noteRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	sale, err := sessionFrom(r).SetNote(r.Context(), r.PathValue("id"), req.Note)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sale)
}

func (a *API) handleApplyDiscount(w http.ResponseWriter, r *http.Request) {
	var req discountRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	sale, err := sessionFrom(r).ApplyDiscount(r.Context(), r.PathValue("id"), req.Type, req.Value)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sale)
}

func (a *API) handleCommitDiscount(w http.ResponseWriter, r *http.Request) {
	sale, err := sessionFrom(r).CommitDiscount(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sale)
}

func (a *API) handleClearDiscount(w http.ResponseWriter, r *http.Request) {
	sale, err := sessionFrom(r).ClearPendingDiscount(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sale)
}

func (a *API) handlePayment(w http.ResponseWriter, r *http.Request) {
	var req service.PaymentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	result, err := sessionFrom(r).ProcessPayment(r.Context(), r.PathValue("id"), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleVoid(w http.ResponseWriter, r *http.Request) {
	saleID := r.PathValue("id")
	if err := sessionFrom(r).VoidSale(r.Context(), saleID); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "sale_id": saleID})
}

func (a *API) handleRefund(w http.ResponseWriter, r *http.Request) {
	var req managerPINRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if !a.checkManagerPIN(w, r, "refund", req.ManagerPIN) {
		return
	}
	result, err := sessionFrom(r).RefundSale(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// checkManagerPIN writes the rejection itself and reports whether the
// request may proceed.
func (a *API) checkManagerPIN(w http.ResponseWriter, r *http.Request, action, pin string) bool {
	if !a.pinLimiter.Allow("pin:" + action + ":" + clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many manager pin attempts"))
		return false
	}
	if !a.auth.ValidateManagerPIN(pin) {
		writeError(w, http.StatusForbidden, errors.New("invalid manager pin"))
		return false
	}
	return true
}

func (a *API) handleSaveItem(w http.ResponseWriter, r *http.Request) {
	var req saveItemRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if !a.checkManagerPIN(w, r, "inventory", req.ManagerPIN) {
		return
	}
	item, created, err := sessionFrom(r).SaveItem(r.Context(), req.Item)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, item)
}

func (a *API) handleRestockItem(w http.ResponseWriter, r *http.Request) {
	var req restockRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if !a.checkManagerPIN(w, r, "inventory", req.ManagerPIN) {
		return
	}
	item, err := sessionFrom(r).RestockItem(r.Context(), r.PathValue("id"), req.Quantity)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (a *API) handleDeleteItem(w http.ResponseWriter, r *http.Request) {
	var req managerPINRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if !a.checkManagerPIN(w, r, "inventory", req.ManagerPIN) {
		return
	}
	if err := sessionFrom(r).DeleteItem(r.Context(), r.PathValue("id")); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

func (a *API) handleReprint(w http.ResponseWriter, r *http.Request) {
	job, err := sessionFrom(r).ReprintReceipt(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (a *API) handleListShifts(w http.ResponseWriter, r *http.Request) {
	shifts, err := a.engine.ListShifts(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, shifts)
}

func (a *API) handleActiveShift(w http.ResponseWriter, r *http.Request) {
	shift, err := a.engine.ActiveShift(r.Context())
	if err != nil {
		status := statusFor(err)
		if errors.Is(err, service.ErrNoActiveShift) {
			status = http.StatusNotFound
		}
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusOK, shift)
}

func (a *API) handleSuggestedFloat(w http.ResponseWriter, r *http.Request) {
	amount, err := a.engine.SuggestedStartingCash(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"starting_cash": amount})
}

func (a *API) handleStartShift(w http.ResponseWriter, r *http.Request) {
	var req startShiftRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	shift, err := sessionFrom(r).StartShift(r.Context(), req.StartingCash)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, shift)
}

func (a *API) handleListMovements(w http.ResponseWriter, r *http.Request) {
	movements, err := a.engine.ListCashMovements(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, movements)
}

func (a *API) handleCashMovement(w http.ResponseWriter, r *http.Request) {
	var req service.CashMovementRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	movement, err := sessionFrom(r).RecordCashMovement(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, movement)
}

func (a *API) handleCountCash(w http.ResponseWriter, r *http.Request) {
	var req countCashRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	total, breakdown, err := service.CountCash(req.Counts)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total":         total,
		"denominations": breakdown,
	})
}

func (a *API) handleRequestEndShift(w http.ResponseWriter, r *http.Request) {
	var req endShiftRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	actual := req.ActualCash
	var denominations []domain.Denomination
	if len(req.Counts) > 0 {
		total, breakdown, err := service.CountCash(req.Counts)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		actual, denominations = total, breakdown
	}
	review, err := sessionFrom(r).RequestEndShift(r.Context(), actual, denominations)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, review)
}

func (a *API) handleCurrentReview(w http.ResponseWriter, r *http.Request) {
	review, err := sessionFrom(r).CurrentReview(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, review)
}

func (a *API) handleConfirmEndShift(w http.ResponseWriter, r *http.Request) {
	shift, err := sessionFrom(r).ConfirmEndShift(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, shift)
}

func (a *API) handleCancelEndShift(w http.ResponseWriter, r *http.Request) {
	if err := sessionFrom(r).CancelEndShift(r.Context()); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (a *API) handlePrintJobs(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	writeJSON(w, http.StatusOK, map[string]any{
		"connected": sess.PrinterConnected(),
		"jobs":      sess.PrintJobs(),
	})
}

func (a *API) handleRetryPrint(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"retried": sessionFrom(r).RetryFailedJobs()})
}

func (a *API) handleClearPrint(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"cleared": sessionFrom(r).ClearPrintQueue()})
}

// handlePrinterConnect reconnects the configured printer. Device paths
// never come from the request.
func (a *API) handlePrinterConnect(w http.ResponseWriter, r *http.Request) {
	if a.printer == nil {
		writeError(w, http.StatusConflict, errors.New("no printer configured"))
		return
	}
	if err := sessionFrom(r).ConnectPrinter(r.Context(), a.printer); err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "connected": true})
}

func (a *API) handlePrinterDisconnect(w http.ResponseWriter, r *http.Request) {
	if err := sessionFrom(r).DisconnectPrinter(r.Context()); err != nil {
		a.log.Warn().Err(err).Msg("printer close")
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "connected": false})
}

func (a *API) handleDrawerOpen(w http.ResponseWriter, r *http.Request) {
	job, err := sessionFrom(r).OpenCashDrawer(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (a *API) handleActivity(w http.ResponseWriter, r *http.Request) {
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 100, 1000)
	logs, err := a.engine.ListActivity(r.Context(), limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, logs)
}

func (a *API) handleListCashiers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.auth.ListCashiers(r.Context()))
}

func (a *API) handleCreateCashier(w http.ResponseWriter, r *http.Request) {
	var req domain.OperatorCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	operator, err := a.auth.CreateCashier(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	writeJSON(w, http.StatusCreated, operator)
}

// saleIDParam resolves the "active" alias to the session's current sale,
// which AddItem treats as open-or-create.
func saleIDParam(r *http.Request) string {
	id := r.PathValue("id")
	if id == "active" {
		return ""
	}
	return id
}

func lineIndexParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil || index < 0 {
		writeError(w, http.StatusBadRequest, errors.New("line index must be a non-negative integer"))
		return 0, false
	}
	return index, true
}
