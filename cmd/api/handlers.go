package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/nemonet1337/zaiCostLedger/pkg/inventory"
)

// LedgerAPI is the engine surface served over HTTP
// HTTPで公開する台帳エンジンの操作
type LedgerAPI interface {
	inventory.LedgerService
	inventory.MasterDataManager
}

// Handlers holds HTTP handlers for the ledger API
// 台帳API用のHTTPハンドラーを保持
type Handlers struct {
	ledger LedgerAPI
	ping   func(ctx context.Context) error
	logger *zap.Logger
}

// NewHandlers creates new HTTP handlers
// 新しいHTTPハンドラーを作成
func NewHandlers(ledger LedgerAPI, ping func(ctx context.Context) error, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{
		ledger: ledger,
		ping:   ping,
		logger: logger,
	}
}

// APIResponse represents standard API response format
// 標準的なAPIレスポンス形式を表現
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Details interface{} `json:"details,omitempty"`
}

// ApprovalRequest carries the approver's comment
// 承認・却下コメントを表現
type ApprovalRequest struct {
	Comment string `json:"comment"`
}

// NCRStatusRequest represents an NCR status change
// 不適合報告のステータス変更リクエストを表現
type NCRStatusRequest struct {
	Status inventory.NCRStatus `json:"status"`
	Notes  string              `json:"notes"`
}

// CreateItemRequest represents request to register an item
// 商品登録リクエストを表現
type CreateItemRequest struct {
	ID       string `json:"id"`
	Code     string `json:"code"`
	Name     string `json:"name"`
	Unit     string `json:"unit"`
	Category string `json:"category"`
	IsActive *bool  `json:"is_active"`
}

// CreateLocationRequest represents request to register a location
// ロケーション登録リクエストを表現
type CreateLocationRequest struct {
	ID       string                 `json:"id"`
	Code     string                 `json:"code"`
	Name     string                 `json:"name"`
	Type     inventory.LocationType `json:"type"`
	IsActive *bool                  `json:"is_active"`
}

// ReconciliationResponse wraps a reconciliation with its origin
// 照合結果と算出元を表現
type ReconciliationResponse struct {
	Reconciliation *inventory.Reconciliation `json:"reconciliation"`
	AutoCalculated bool                      `json:"auto_calculated"`
}

// HealthCheck handles health check requests
// ヘルスチェックリクエストを処理
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	if h.ping != nil {
		if err := h.ping(r.Context()); err != nil {
			h.logger.Warn("ヘルスチェックに失敗しました", zap.Error(err))
			h.sendError(w, http.StatusServiceUnavailable, "ストレージに接続できません", nil)
			return
		}
	}

	h.sendSuccess(w, map[string]interface{}{
		"status":    status,
		"timestamp": time.Now(),
		"service":   "zaiCostLedger",
	})
}

// PostDelivery handles delivery posting
// 納品計上リクエストを処理
func (h *Handlers) PostDelivery(w http.ResponseWriter, r *http.Request) {
	var req inventory.DeliveryRequest
	if !h.decode(w, r, &req) {
		return
	}
	result, err := h.ledger.PostDelivery(r.Context(), req)
	h.respond(w, result, err)
}

// PostIssue handles issue posting
// 払出計上リクエストを処理
func (h *Handlers) PostIssue(w http.ResponseWriter, r *http.Request) {
	var req inventory.IssueRequest
	if !h.decode(w, r, &req) {
		return
	}
	issue, err := h.ledger.PostIssue(r.Context(), req)
	h.respond(w, issue, err)
}

// CreateTransfer handles transfer requests
// 移動依頼リクエストを処理
func (h *Handlers) CreateTransfer(w http.ResponseWriter, r *http.Request) {
	var req inventory.TransferRequest
	if !h.decode(w, r, &req) {
		return
	}
	transfer, err := h.ledger.CreateTransfer(r.Context(), req)
	h.respond(w, transfer, err)
}

// GetTransfer handles transfer lookups
// 移動依頼取得リクエストを処理
func (h *Handlers) GetTransfer(w http.ResponseWriter, r *http.Request) {
	transfer, err := h.ledger.GetTransfer(r.Context(), mux.Vars(r)["transferId"])
	h.respond(w, transfer, err)
}

// ApproveTransfer handles transfer approvals
// 移動承認リクエストを処理
func (h *Handlers) ApproveTransfer(w http.ResponseWriter, r *http.Request) {
	transfer, err := h.ledger.ApproveTransfer(r.Context(), mux.Vars(r)["transferId"], inventory.UserFromContext(r.Context()))
	h.respond(w, transfer, err)
}

// RejectTransfer handles transfer rejections
// 移動却下リクエストを処理
func (h *Handlers) RejectTransfer(w http.ResponseWriter, r *http.Request) {
	var req ApprovalRequest
	if !h.decode(w, r, &req) {
		return
	}
	transfer, err := h.ledger.RejectTransfer(r.Context(), mux.Vars(r)["transferId"], inventory.UserFromContext(r.Context()), req.Comment)
	h.respond(w, transfer, err)
}

// CreatePeriod handles draft period creation
// 期間作成リクエストを処理
func (h *Handlers) CreatePeriod(w http.ResponseWriter, r *http.Request) {
	var req inventory.CreatePeriodRequest
	if !h.decode(w, r, &req) {
		return
	}
	period, err := h.ledger.CreatePeriod(r.Context(), req)
	h.respond(w, period, err)
}

// OpenPeriod handles create-and-activate requests
// 期間開始リクエストを処理
func (h *Handlers) OpenPeriod(w http.ResponseWriter, r *http.Request) {
	var req inventory.OpenPeriodRequest
	if !h.decode(w, r, &req) {
		return
	}
	period, err := h.ledger.OpenPeriod(r.Context(), req)
	h.respond(w, period, err)
}

// GetPeriod handles period lookups
// 期間取得リクエストを処理
func (h *Handlers) GetPeriod(w http.ResponseWriter, r *http.Request) {
	period, err := h.ledger.GetPeriod(r.Context(), mux.Vars(r)["periodId"])
	h.respond(w, period, err)
}

// SetPrice handles price book edits
// 価格表設定リクエストを処理
func (h *Handlers) SetPrice(w http.ResponseWriter, r *http.Request) {
	var req inventory.PriceInput
	if !h.decode(w, r, &req) {
		return
	}
	entry, err := h.ledger.SetPrice(r.Context(), inventory.SetPriceRequest{
		PeriodID: mux.Vars(r)["periodId"],
		ItemID:   req.ItemID,
		Price:    req.Price,
	})
	h.respond(w, entry, err)
}

// ActivatePeriod handles DRAFT→OPEN requests
// 期間有効化リクエストを処理
func (h *Handlers) ActivatePeriod(w http.ResponseWriter, r *http.Request) {
	period, err := h.ledger.ActivatePeriod(r.Context(), mux.Vars(r)["periodId"])
	h.respond(w, period, err)
}

// ListPeriodLocations handles period location listings
// 期間の拠点一覧リクエストを処理
func (h *Handlers) ListPeriodLocations(w http.ResponseWriter, r *http.Request) {
	list, err := h.ledger.ListPeriodLocations(r.Context(), mux.Vars(r)["periodId"])
	h.respond(w, list, err)
}

// MarkLocationReady handles location readiness
// 拠点準備完了リクエストを処理
func (h *Handlers) MarkLocationReady(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	pl, err := h.ledger.MarkLocationReady(r.Context(), vars["periodId"], vars["locationId"])
	h.respond(w, pl, err)
}

// ReopenLocation handles location reopening
// 拠点再開リクエストを処理
func (h *Handlers) ReopenLocation(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	pl, err := h.ledger.ReopenLocation(r.Context(), vars["periodId"], vars["locationId"])
	h.respond(w, pl, err)
}

// RequestClose handles close requests
// 締め申請リクエストを処理
func (h *Handlers) RequestClose(w http.ResponseWriter, r *http.Request) {
	period, err := h.ledger.RequestClose(r.Context(), mux.Vars(r)["periodId"])
	h.respond(w, period, err)
}

// WithdrawClose handles withdrawal of a close request
// 締め申請取り下げリクエストを処理
func (h *Handlers) WithdrawClose(w http.ResponseWriter, r *http.Request) {
	period, err := h.ledger.WithdrawClose(r.Context(), mux.Vars(r)["periodId"])
	h.respond(w, period, err)
}

// ApproveClose handles close approvals
// 締め承認リクエストを処理
func (h *Handlers) ApproveClose(w http.ResponseWriter, r *http.Request) {
	period, err := h.ledger.ApproveClose(r.Context(), mux.Vars(r)["periodId"])
	h.respond(w, period, err)
}

// ClosePeriod handles period closing
// 期間締めリクエストを処理
func (h *Handlers) ClosePeriod(w http.ResponseWriter, r *http.Request) {
	result, err := h.ledger.ClosePeriod(r.Context(), mux.Vars(r)["periodId"])
	h.respond(w, result, err)
}

// RollForward handles roll-forward into the next period
// 次期間への繰越リクエストを処理
func (h *Handlers) RollForward(w http.ResponseWriter, r *http.Request) {
	var opts inventory.RollForwardOptions
	if r.ContentLength != 0 && !h.decode(w, r, &opts) {
		return
	}
	period, err := h.ledger.RollForward(r.Context(), mux.Vars(r)["periodId"], opts)
	h.respond(w, period, err)
}

// GetReconciliation handles reconciliation lookups
// 照合取得リクエストを処理
func (h *Handlers) GetReconciliation(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	rec, auto, err := h.ledger.GetOrComputeReconciliation(r.Context(), vars["periodId"], vars["locationId"])
	if err != nil {
		h.sendDomainError(w, err)
		return
	}
	h.sendSuccess(w, ReconciliationResponse{Reconciliation: rec, AutoCalculated: auto})
}

// SaveAdjustments handles reconciliation adjustment saves
// 照合調整保存リクエストを処理
func (h *Handlers) SaveAdjustments(w http.ResponseWriter, r *http.Request) {
	var req inventory.SaveAdjustmentsRequest
	if !h.decode(w, r, &req) {
		return
	}
	vars := mux.Vars(r)
	req.PeriodID = vars["periodId"]
	req.LocationID = vars["locationId"]
	rec, err := h.ledger.SaveReconciliationAdjustments(r.Context(), req)
	h.respond(w, rec, err)
}

// RecordMandays handles manday entries
// 人日記録リクエストを処理
func (h *Handlers) RecordMandays(w http.ResponseWriter, r *http.Request) {
	var req inventory.MandayRequest
	if !h.decode(w, r, &req) {
		return
	}
	vars := mux.Vars(r)
	req.PeriodID = vars["periodId"]
	req.LocationID = vars["locationId"]
	entry, err := h.ledger.RecordMandays(r.Context(), req)
	h.respond(w, entry, err)
}

// CreateNCR handles manual NCR creation
// 手動不適合報告の作成リクエストを処理
func (h *Handlers) CreateNCR(w http.ResponseWriter, r *http.Request) {
	var req inventory.ManualNCRRequest
	if !h.decode(w, r, &req) {
		return
	}
	ncr, err := h.ledger.CreateManualNCR(r.Context(), req)
	h.respond(w, ncr, err)
}

// GetNCR handles NCR lookups
// 不適合報告取得リクエストを処理
func (h *Handlers) GetNCR(w http.ResponseWriter, r *http.Request) {
	ncr, err := h.ledger.GetNCR(r.Context(), mux.Vars(r)["ncrId"])
	h.respond(w, ncr, err)
}

// UpdateNCRStatus handles NCR status changes
// 不適合報告ステータス変更リクエストを処理
func (h *Handlers) UpdateNCRStatus(w http.ResponseWriter, r *http.Request) {
	var req NCRStatusRequest
	if !h.decode(w, r, &req) {
		return
	}
	ncr, err := h.ledger.UpdateNCRStatus(r.Context(), mux.Vars(r)["ncrId"], req.Status, req.Notes)
	h.respond(w, ncr, err)
}

// GetStock handles single stock lookups
// 在庫照会リクエストを処理
func (h *Handlers) GetStock(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	stock, err := h.ledger.GetStock(r.Context(), vars["locationId"], vars["itemId"])
	h.respond(w, stock, err)
}

// GetStockByLocation handles location stock listings
// 拠点別在庫照会リクエストを処理
func (h *Handlers) GetStockByLocation(w http.ResponseWriter, r *http.Request) {
	stocks, err := h.ledger.GetStockByLocation(r.Context(), mux.Vars(r)["locationId"])
	h.respond(w, stocks, err)
}

// GetValuation handles location valuation requests
// 拠点評価額リクエストを処理
func (h *Handlers) GetValuation(w http.ResponseWriter, r *http.Request) {
	valuation, err := h.ledger.GetLocationValuation(r.Context(), mux.Vars(r)["locationId"])
	h.respond(w, valuation, err)
}

// CreateItem handles create item requests
// 商品作成リクエストを処理
func (h *Handlers) CreateItem(w http.ResponseWriter, r *http.Request) {
	var req CreateItemRequest
	if !h.decode(w, r, &req) {
		return
	}
	item := &inventory.Item{
		ID:       req.ID,
		Code:     req.Code,
		Name:     req.Name,
		Unit:     req.Unit,
		Category: req.Category,
		IsActive: req.IsActive == nil || *req.IsActive,
	}
	err := h.ledger.CreateItem(r.Context(), item)
	h.respond(w, item, err)
}

// GetItem handles get item requests
// 商品取得リクエストを処理
func (h *Handlers) GetItem(w http.ResponseWriter, r *http.Request) {
	item, err := h.ledger.GetItem(r.Context(), mux.Vars(r)["itemId"])
	h.respond(w, item, err)
}

// CreateLocation handles create location requests
// ロケーション作成リクエストを処理
func (h *Handlers) CreateLocation(w http.ResponseWriter, r *http.Request) {
	var req CreateLocationRequest
	if !h.decode(w, r, &req) {
		return
	}
	location := &inventory.Location{
		ID:       req.ID,
		Code:     req.Code,
		Name:     req.Name,
		Type:     req.Type,
		IsActive: req.IsActive == nil || *req.IsActive,
	}
	err := h.ledger.CreateLocation(r.Context(), location)
	h.respond(w, location, err)
}

// GetLocation handles get location requests
// ロケーション取得リクエストを処理
func (h *Handlers) GetLocation(w http.ResponseWriter, r *http.Request) {
	location, err := h.ledger.GetLocation(r.Context(), mux.Vars(r)["locationId"])
	h.respond(w, location, err)
}

// ListLocations handles list location requests
// ロケーション一覧リクエストを処理
func (h *Handlers) ListLocations(w http.ResponseWriter, r *http.Request) {
	locations, err := h.ledger.ListLocations(r.Context())
	h.respond(w, locations, err)
}

// ヘルパーメソッド

func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.sendError(w, http.StatusBadRequest, "無効なリクエスト形式です", nil)
		return false
	}
	return true
}

func (h *Handlers) respond(w http.ResponseWriter, data interface{}, err error) {
	if err != nil {
		h.sendDomainError(w, err)
		return
	}
	h.sendSuccess(w, data)
}

// statusFor maps engine errors to HTTP status codes
// エンジンのエラーをHTTPステータスに対応付け
func statusFor(err error) int {
	switch {
	case errors.Is(err, inventory.ErrValidation), errors.Is(err, inventory.ErrSameLocation):
		return http.StatusBadRequest
	case inventory.IsNotFound(err):
		return http.StatusNotFound
	case inventory.IsConflict(err):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// errorDetails exposes the structured part of domain errors
// ドメインエラーの詳細情報を取り出す
func errorDetails(err error) interface{} {
	var shortage *inventory.InsufficientStockError
	if errors.As(err, &shortage) {
		return shortage.Shortages
	}
	var notReady *inventory.LocationsNotReadyError
	if errors.As(err, &notReady) {
		return map[string]interface{}{"locations": notReady.Names()}
	}
	var transition *inventory.InvalidStatusTransitionError
	if errors.As(err, &transition) {
		return transition
	}
	var validation *inventory.ValidationError
	if errors.As(err, &validation) {
		return validation
	}
	return nil
}

func (h *Handlers) sendDomainError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("リクエスト処理に失敗しました", zap.Error(err))
		h.sendError(w, status, "内部エラーが発生しました", nil)
		return
	}
	h.sendError(w, status, err.Error(), errorDetails(err))
}

// sendSuccess sends a successful API response
// 成功APIレスポンスを送信
func (h *Handlers) sendSuccess(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	response := APIResponse{
		Success: true,
		Data:    data,
	}

	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.logger.Error("レスポンス送信に失敗しました", zap.Error(err))
	}
}

// sendError sends an error API response
// エラーAPIレスポンスを送信
func (h *Handlers) sendError(w http.ResponseWriter, statusCode int, message string, details interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := APIResponse{
		Success: false,
		Error:   message,
		Details: details,
	}

	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.logger.Error("エラーレスポンス送信に失敗しました", zap.Error(err))
	}
}
