package inventory

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// TransferWorkflow moves stock between locations through an approval step
// 承認を経て拠点間で在庫を移動する
type TransferWorkflow struct {
	ledger *StockLedger
	logger *zap.Logger
	now    func() time.Time
}

// NewTransferWorkflow creates a new transfer workflow
// 新しい移動ワークフローを作成
func NewTransferWorkflow(ledger *StockLedger, logger *zap.Logger, now func() time.Time) *TransferWorkflow {
	if now == nil {
		now = time.Now
	}
	return &TransferWorkflow{ledger: ledger, logger: logger, now: now}
}

// Create records a PENDING_APPROVAL transfer with the source WAC frozen per line.
// The stock check here is advisory; approval checks again.
// 移動依頼を作成（移動元単価を明細に固定）
func (w *TransferWorkflow) Create(ctx context.Context, tx Store, req TransferRequest, user string) (*Transfer, error) {
	if req.FromLocationID == req.ToLocationID {
		return nil, ErrSameLocation
	}
	if _, err := tx.GetLocation(ctx, req.FromLocationID); err != nil {
		return nil, wrapStorage("get_location", "移動元ロケーション取得に失敗しました", err)
	}
	if _, err := tx.GetLocation(ctx, req.ToLocationID); err != nil {
		return nil, wrapStorage("get_location", "移動先ロケーション取得に失敗しました", err)
	}

	requests := make([]stockRequest, 0, len(req.Lines))
	for _, in := range req.Lines {
		if _, err := tx.GetItem(ctx, in.ItemID); err != nil {
			return nil, wrapStorage("get_item", "商品取得に失敗しました", err)
		}
		requests = append(requests, stockRequest{itemID: in.ItemID, quantity: in.Quantity})
	}
	if err := w.ledger.CheckAvailability(ctx, tx, req.FromLocationID, requests); err != nil {
		return nil, err
	}

	now := w.now()
	transfer := &Transfer{
		ID:             NewID(),
		TransferNumber: newDocumentNumber("TRF", now),
		FromLocationID: req.FromLocationID,
		ToLocationID:   req.ToLocationID,
		Status:         TransferStatusPendingApproval,
		RequestedBy:    user,
		RequestDate:    now,
		Notes:          req.Notes,
	}

	total := decimal.Zero
	for _, in := range req.Lines {
		stock, err := w.ledger.Read(ctx, tx, req.FromLocationID, in.ItemID)
		if err != nil {
			return nil, err
		}
		value := RoundMoney(in.Quantity.Mul(stock.WAC))
		total = total.Add(value)
		transfer.Lines = append(transfer.Lines, TransferLine{
			ID:                NewID(),
			TransferID:        transfer.ID,
			ItemID:            in.ItemID,
			RequestedQuantity: in.Quantity,
			WACAtTransfer:     stock.WAC,
			LineValue:         value,
		})
	}
	transfer.TotalValue = total

	if err := tx.CreateTransfer(ctx, transfer); err != nil {
		return nil, wrapStorage("create_transfer", "移動依頼の登録に失敗しました", err)
	}

	w.logger.Info("移動依頼を作成しました",
		zap.String("transfer_id", transfer.ID),
		zap.String("from_location_id", transfer.FromLocationID),
		zap.String("to_location_id", transfer.ToLocationID),
		zap.Int("lines", len(transfer.Lines)),
		zap.String("total_value", transfer.TotalValue.String()),
	)
	return transfer, nil
}

// Approve re-validates source stock and moves every line inside the caller's
// unit of work. The transfer ends COMPLETED.
// 移動依頼を承認し在庫を移動
func (w *TransferWorkflow) Approve(ctx context.Context, tx Store, transferID, approver string) (*Transfer, error) {
	transfer, err := tx.GetTransferForUpdate(ctx, transferID)
	if err != nil {
		return nil, wrapStorage("get_transfer", "移動依頼の取得に失敗しました", err)
	}
	if !transfer.Status.CanTransitionTo(TransferStatusApproved) {
		return nil, NewInvalidStatusTransitionError("transfer", transfer.ID, string(transfer.Status), string(TransferStatusApproved))
	}

	// 承認日を含む開始中の期間に計上される
	now := w.now()
	period, err := openPeriodAt(ctx, tx, now)
	if err != nil {
		return nil, err
	}
	for _, locationID := range []string{transfer.FromLocationID, transfer.ToLocationID} {
		if err := requireOpenLocation(ctx, tx, period, locationID); err != nil {
			return nil, err
		}
	}

	requests := make([]stockRequest, 0, len(transfer.Lines))
	keys := make([]StockKey, 0, 2*len(transfer.Lines))
	for _, line := range transfer.Lines {
		requests = append(requests, stockRequest{itemID: line.ItemID, quantity: line.RequestedQuantity})
		keys = append(keys,
			StockKey{LocationID: transfer.FromLocationID, ItemID: line.ItemID},
			StockKey{LocationID: transfer.ToLocationID, ItemID: line.ItemID},
		)
	}
	if err := w.ledger.LockAll(ctx, tx, keys); err != nil {
		return nil, err
	}
	if err := w.ledger.CheckAvailability(ctx, tx, transfer.FromLocationID, requests); err != nil {
		return nil, err
	}

	for _, line := range transfer.Lines {
		if _, err := w.ledger.Consume(ctx, tx, transfer.FromLocationID, line.ItemID, line.RequestedQuantity); err != nil {
			return nil, err
		}
		if _, err := w.ledger.Receive(ctx, tx, transfer.ToLocationID, line.ItemID, line.RequestedQuantity, line.WACAtTransfer); err != nil {
			return nil, err
		}
	}

	transfer.Status = TransferStatusApproved
	transfer.ApprovedBy = approver
	transfer.ApprovalDate = &now
	if !transfer.Status.CanTransitionTo(TransferStatusCompleted) {
		return nil, NewInvalidStatusTransitionError("transfer", transfer.ID, string(transfer.Status), string(TransferStatusCompleted))
	}
	transfer.Status = TransferStatusCompleted
	transfer.TransferDate = &now

	if err := tx.UpdateTransfer(ctx, transfer); err != nil {
		return nil, wrapStorage("update_transfer", "移動依頼の更新に失敗しました", err)
	}

	w.logger.Info("移動依頼を承認しました",
		zap.String("transfer_id", transfer.ID),
		zap.String("approved_by", approver),
		zap.String("period_id", period.ID),
		zap.String("total_value", transfer.TotalValue.String()),
	)
	return transfer, nil
}

// Reject closes a pending transfer without moving stock. A comment is required.
// 移動依頼を却下（在庫移動なし）
func (w *TransferWorkflow) Reject(ctx context.Context, tx Store, transferID, approver, comment string) (*Transfer, error) {
	if strings.TrimSpace(comment) == "" {
		return nil, NewValidationError("comment", "却下理由が必要です", comment)
	}
	transfer, err := tx.GetTransferForUpdate(ctx, transferID)
	if err != nil {
		return nil, wrapStorage("get_transfer", "移動依頼の取得に失敗しました", err)
	}
	if !transfer.Status.CanTransitionTo(TransferStatusRejected) {
		return nil, NewInvalidStatusTransitionError("transfer", transfer.ID, string(transfer.Status), string(TransferStatusRejected))
	}

	now := w.now()
	transfer.Status = TransferStatusRejected
	transfer.ApprovedBy = approver
	transfer.ApprovalDate = &now
	transfer.ApprovalComment = comment

	if err := tx.UpdateTransfer(ctx, transfer); err != nil {
		return nil, wrapStorage("update_transfer", "移動依頼の更新に失敗しました", err)
	}

	w.logger.Info("移動依頼を却下しました",
		zap.String("transfer_id", transfer.ID),
		zap.String("rejected_by", approver),
	)
	return transfer, nil
}
