package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nemonet1337/zaiCostLedger/pkg/inventory"
)

// CreateDelivery records a delivery header and its lines
// 納品ヘッダーと明細を記録
func (t *pgTx) CreateDelivery(ctx context.Context, d *inventory.Delivery) error {
	query := `
		INSERT INTO deliveries (id, delivery_number, location_id, period_id, supplier, delivery_date, total_amount, has_variance, posted_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := t.tx.ExecContext(ctx, query,
		d.ID, d.DeliveryNumber, d.LocationID, d.PeriodID, d.Supplier, d.DeliveryDate,
		d.TotalAmount, d.HasVariance, d.PostedBy, d.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return duplicate("納品")
		}
		return fmt.Errorf("納品記録に失敗しました: %w", err)
	}

	lineQuery := `
		INSERT INTO delivery_lines (id, delivery_id, item_id, quantity, unit_price, period_price, variance, line_total)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	for _, line := range d.Lines {
		_, err := t.tx.ExecContext(ctx, lineQuery,
			line.ID, d.ID, line.ItemID, line.Quantity, line.UnitPrice,
			nullDecimal(line.PeriodPrice), line.Variance, line.LineTotal,
		)
		if err != nil {
			return fmt.Errorf("納品明細の記録に失敗しました: %w", err)
		}
	}
	return nil
}

// SumDeliveries totals delivery amounts of a location within a period
// 期間内の拠点の納品金額合計
func (t *pgTx) SumDeliveries(ctx context.Context, periodID, locationID string) (decimal.Decimal, error) {
	query := `
		SELECT COALESCE(SUM(total_amount), 0)
		FROM deliveries WHERE period_id = $1 AND location_id = $2`

	var total decimal.Decimal
	if err := t.tx.QueryRowContext(ctx, query, periodID, locationID).Scan(&total); err != nil {
		return decimal.Zero, fmt.Errorf("納品合計の取得に失敗しました: %w", err)
	}
	return total, nil
}

// CreateIssue records an issue header and its lines
// 払出ヘッダーと明細を記録
func (t *pgTx) CreateIssue(ctx context.Context, issue *inventory.Issue) error {
	query := `
		INSERT INTO issues (id, issue_number, location_id, period_id, cost_centre, issue_date, total_value, posted_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := t.tx.ExecContext(ctx, query,
		issue.ID, issue.IssueNumber, issue.LocationID, issue.PeriodID, issue.CostCentre,
		issue.IssueDate, issue.TotalValue, issue.PostedBy, issue.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return duplicate("払出")
		}
		return fmt.Errorf("払出記録に失敗しました: %w", err)
	}

	lineQuery := `
		INSERT INTO issue_lines (id, issue_id, item_id, quantity, wac, line_value)
		VALUES ($1, $2, $3, $4, $5, $6)`

	for _, line := range issue.Lines {
		if _, err := t.tx.ExecContext(ctx, lineQuery,
			line.ID, issue.ID, line.ItemID, line.Quantity, line.WAC, line.LineValue,
		); err != nil {
			return fmt.Errorf("払出明細の記録に失敗しました: %w", err)
		}
	}
	return nil
}

// SumIssues totals issue values of a location within a period
// 期間内の拠点の払出金額合計
func (t *pgTx) SumIssues(ctx context.Context, periodID, locationID string) (decimal.Decimal, error) {
	query := `
		SELECT COALESCE(SUM(total_value), 0)
		FROM issues WHERE period_id = $1 AND location_id = $2`

	var total decimal.Decimal
	if err := t.tx.QueryRowContext(ctx, query, periodID, locationID).Scan(&total); err != nil {
		return decimal.Zero, fmt.Errorf("払出合計の取得に失敗しました: %w", err)
	}
	return total, nil
}

const transferColumns = `id, transfer_number, from_location_id, to_location_id, status, requested_by, request_date,
	approved_by, approval_date, approval_comment, transfer_date, notes, total_value`

// CreateTransfer records a transfer and its lines
// 移動依頼と明細を記録
func (t *pgTx) CreateTransfer(ctx context.Context, tr *inventory.Transfer) error {
	query := `
		INSERT INTO transfers (` + transferColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := t.tx.ExecContext(ctx, query,
		tr.ID, tr.TransferNumber, tr.FromLocationID, tr.ToLocationID, string(tr.Status), tr.RequestedBy, tr.RequestDate,
		tr.ApprovedBy, nullTime(tr.ApprovalDate), tr.ApprovalComment, nullTime(tr.TransferDate), tr.Notes, tr.TotalValue,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return duplicate("移動依頼")
		}
		return fmt.Errorf("移動依頼の記録に失敗しました: %w", err)
	}

	lineQuery := `
		INSERT INTO transfer_lines (id, transfer_id, item_id, requested_quantity, wac_at_transfer, line_value)
		VALUES ($1, $2, $3, $4, $5, $6)`

	for _, line := range tr.Lines {
		if _, err := t.tx.ExecContext(ctx, lineQuery,
			line.ID, tr.ID, line.ItemID, line.RequestedQuantity, line.WACAtTransfer, line.LineValue,
		); err != nil {
			return fmt.Errorf("移動明細の記録に失敗しました: %w", err)
		}
	}
	return nil
}

// GetTransfer retrieves a transfer with its lines
// 移動依頼を明細付きで取得
func (t *pgTx) GetTransfer(ctx context.Context, transferID string) (*inventory.Transfer, error) {
	return t.getTransfer(ctx, `SELECT `+transferColumns+` FROM transfers WHERE id = $1`, transferID)
}

// GetTransferForUpdate retrieves a transfer and locks its row until commit
// 移動依頼を取得しコミットまで行ロック
func (t *pgTx) GetTransferForUpdate(ctx context.Context, transferID string) (*inventory.Transfer, error) {
	return t.getTransfer(ctx, `SELECT `+transferColumns+` FROM transfers WHERE id = $1 FOR UPDATE`, transferID)
}

func (t *pgTx) getTransfer(ctx context.Context, query, transferID string) (*inventory.Transfer, error) {
	var tr inventory.Transfer
	var status string
	var approvalDate, transferDate sql.NullTime
	err := t.tx.QueryRowContext(ctx, query, transferID).Scan(
		&tr.ID, &tr.TransferNumber, &tr.FromLocationID, &tr.ToLocationID, &status, &tr.RequestedBy, &tr.RequestDate,
		&tr.ApprovedBy, &approvalDate, &tr.ApprovalComment, &transferDate, &tr.Notes, &tr.TotalValue,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, inventory.ErrTransferNotFound
		}
		return nil, fmt.Errorf("移動依頼の取得に失敗しました: %w", err)
	}
	tr.Status = inventory.TransferStatus(status)
	tr.ApprovalDate = timePtr(approvalDate)
	tr.TransferDate = timePtr(transferDate)

	lineQuery := `
		SELECT id, transfer_id, item_id, requested_quantity, wac_at_transfer, line_value
		FROM transfer_lines WHERE transfer_id = $1 ORDER BY id`

	rows, err := t.tx.QueryContext(ctx, lineQuery, transferID)
	if err != nil {
		return nil, fmt.Errorf("移動明細の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var line inventory.TransferLine
		if err := rows.Scan(&line.ID, &line.TransferID, &line.ItemID, &line.RequestedQuantity, &line.WACAtTransfer, &line.LineValue); err != nil {
			return nil, fmt.Errorf("移動明細データの読み込みに失敗しました: %w", err)
		}
		tr.Lines = append(tr.Lines, line)
	}
	return &tr, rows.Err()
}

// UpdateTransfer updates the status and approval fields of a transfer
// 移動依頼のステータスと承認情報を更新
func (t *pgTx) UpdateTransfer(ctx context.Context, tr *inventory.Transfer) error {
	query := `
		UPDATE transfers
		SET status = $2, approved_by = $3, approval_date = $4, approval_comment = $5, transfer_date = $6, notes = $7
		WHERE id = $1`

	result, err := t.tx.ExecContext(ctx, query,
		tr.ID, string(tr.Status), tr.ApprovedBy, nullTime(tr.ApprovalDate), tr.ApprovalComment,
		nullTime(tr.TransferDate), tr.Notes,
	)
	if err != nil {
		return fmt.Errorf("移動依頼の更新に失敗しました: %w", err)
	}
	return requireRow(result, inventory.ErrTransferNotFound)
}

// SumCompletedTransfers totals completed transfer values into and out of a
// location whose transfer date lies within [from, to]
// 期間内に完了した拠点の移動入・移動出の金額合計
func (t *pgTx) SumCompletedTransfers(ctx context.Context, locationID string, from, to time.Time) (decimal.Decimal, decimal.Decimal, error) {
	query := `
		SELECT
			COALESCE(SUM(CASE WHEN to_location_id = $1 THEN total_value END), 0),
			COALESCE(SUM(CASE WHEN from_location_id = $1 THEN total_value END), 0)
		FROM transfers
		WHERE status = 'COMPLETED'
		  AND (from_location_id = $1 OR to_location_id = $1)
		  AND transfer_date BETWEEN $2 AND $3`

	var in, out decimal.Decimal
	if err := t.tx.QueryRowContext(ctx, query, locationID, from, to).Scan(&in, &out); err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("移動合計の取得に失敗しました: %w", err)
	}
	return in, out, nil
}

// NextNCRSequence increments and returns the NCR counter of a year
// 年別NCR連番を採番
func (t *pgTx) NextNCRSequence(ctx context.Context, year int) (int, error) {
	query := `
		INSERT INTO ncr_sequences (year, last_value) VALUES ($1, 1)
		ON CONFLICT (year) DO UPDATE SET last_value = ncr_sequences.last_value + 1
		RETURNING last_value`

	var seq int
	if err := t.tx.QueryRowContext(ctx, query, year).Scan(&seq); err != nil {
		return 0, fmt.Errorf("NCR連番の採番に失敗しました: %w", err)
	}
	return seq, nil
}

const ncrColumns = `id, ncr_number, location_id, delivery_id, delivery_line_id, type, auto_generated, reason,
	quantity, value, status, resolved_at, resolution_notes, created_by, created_at`

// CreateNCR records a new NCR
// 新しい不適合報告を記録
func (t *pgTx) CreateNCR(ctx context.Context, ncr *inventory.NCR) error {
	query := `
		INSERT INTO ncrs (` + ncrColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	_, err := t.tx.ExecContext(ctx, query,
		ncr.ID, ncr.NCRNumber, ncr.LocationID, nullString(ncr.DeliveryID), nullString(ncr.DeliveryLineID),
		string(ncr.Type), ncr.AutoGenerated, ncr.Reason, ncr.Quantity, ncr.Value, string(ncr.Status),
		nullTime(ncr.ResolvedAt), ncr.ResolutionNotes, ncr.CreatedBy, ncr.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return duplicate("NCR番号")
		}
		return fmt.Errorf("不適合報告の記録に失敗しました: %w", err)
	}
	return nil
}

// GetNCR retrieves an NCR by ID
// IDで不適合報告を取得
func (t *pgTx) GetNCR(ctx context.Context, ncrID string) (*inventory.NCR, error) {
	return t.getNCR(ctx, `SELECT `+ncrColumns+` FROM ncrs WHERE id = $1`, ncrID)
}

// GetNCRForUpdate retrieves an NCR and locks its row until commit
// 不適合報告を取得しコミットまで行ロック
func (t *pgTx) GetNCRForUpdate(ctx context.Context, ncrID string) (*inventory.NCR, error) {
	return t.getNCR(ctx, `SELECT `+ncrColumns+` FROM ncrs WHERE id = $1 FOR UPDATE`, ncrID)
}

func (t *pgTx) getNCR(ctx context.Context, query, ncrID string) (*inventory.NCR, error) {
	var ncr inventory.NCR
	var deliveryID, lineID sql.NullString
	var ncrType, status string
	var resolvedAt sql.NullTime
	err := t.tx.QueryRowContext(ctx, query, ncrID).Scan(
		&ncr.ID, &ncr.NCRNumber, &ncr.LocationID, &deliveryID, &lineID, &ncrType, &ncr.AutoGenerated, &ncr.Reason,
		&ncr.Quantity, &ncr.Value, &status, &resolvedAt, &ncr.ResolutionNotes, &ncr.CreatedBy, &ncr.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, inventory.ErrNCRNotFound
		}
		return nil, fmt.Errorf("不適合報告の取得に失敗しました: %w", err)
	}
	ncr.DeliveryID = stringPtr(deliveryID)
	ncr.DeliveryLineID = stringPtr(lineID)
	ncr.Type = inventory.NCRType(ncrType)
	ncr.Status = inventory.NCRStatus(status)
	ncr.ResolvedAt = timePtr(resolvedAt)
	return &ncr, nil
}

// UpdateNCR updates the lifecycle fields of an NCR
// 不適合報告のステータス情報を更新
func (t *pgTx) UpdateNCR(ctx context.Context, ncr *inventory.NCR) error {
	query := `
		UPDATE ncrs SET status = $2, resolved_at = $3, resolution_notes = $4
		WHERE id = $1`

	result, err := t.tx.ExecContext(ctx, query, ncr.ID, string(ncr.Status), nullTime(ncr.ResolvedAt), ncr.ResolutionNotes)
	if err != nil {
		return fmt.Errorf("不適合報告の更新に失敗しました: %w", err)
	}
	return requireRow(result, inventory.ErrNCRNotFound)
}

const reconciliationColumns = `period_id, location_id, opening_stock, receipts, transfers_in, transfers_out, issues,
	closing_stock, back_charges, credits, condemnations, adjustments, total_adjustments, base_consumption,
	consumption, total_mandays, manday_cost, saved_by, saved_at`

// GetReconciliation retrieves the saved reconciliation of a location
// 保存済みの拠点照合を取得
func (t *pgTx) GetReconciliation(ctx context.Context, periodID, locationID string) (*inventory.Reconciliation, error) {
	query := `SELECT ` + reconciliationColumns + ` FROM reconciliations WHERE period_id = $1 AND location_id = $2`

	var r inventory.Reconciliation
	var mandayCost decimal.NullDecimal
	var savedAt sql.NullTime
	err := t.tx.QueryRowContext(ctx, query, periodID, locationID).Scan(
		&r.PeriodID, &r.LocationID, &r.OpeningStock, &r.Receipts, &r.TransfersIn, &r.TransfersOut, &r.Issues,
		&r.ClosingStock, &r.BackCharges, &r.Credits, &r.Condemnations, &r.Adjustments, &r.TotalAdjustments,
		&r.BaseConsumption, &r.Consumption, &r.TotalMandays, &mandayCost, &r.SavedBy, &savedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, inventory.ErrReconciliationNotFound
		}
		return nil, fmt.Errorf("照合記録の取得に失敗しました: %w", err)
	}
	r.MandayCost = decimalPtr(mandayCost)
	r.SavedAt = timePtr(savedAt)
	return &r, nil
}

// SaveReconciliation upserts a reconciliation
// 照合記録を登録または更新
func (t *pgTx) SaveReconciliation(ctx context.Context, r *inventory.Reconciliation) error {
	query := `
		INSERT INTO reconciliations (` + reconciliationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		ON CONFLICT (period_id, location_id) DO UPDATE SET
			opening_stock = EXCLUDED.opening_stock, receipts = EXCLUDED.receipts,
			transfers_in = EXCLUDED.transfers_in, transfers_out = EXCLUDED.transfers_out,
			issues = EXCLUDED.issues, closing_stock = EXCLUDED.closing_stock,
			back_charges = EXCLUDED.back_charges, credits = EXCLUDED.credits,
			condemnations = EXCLUDED.condemnations, adjustments = EXCLUDED.adjustments,
			total_adjustments = EXCLUDED.total_adjustments, base_consumption = EXCLUDED.base_consumption,
			consumption = EXCLUDED.consumption, total_mandays = EXCLUDED.total_mandays,
			manday_cost = EXCLUDED.manday_cost, saved_by = EXCLUDED.saved_by, saved_at = EXCLUDED.saved_at`

	_, err := t.tx.ExecContext(ctx, query,
		r.PeriodID, r.LocationID, r.OpeningStock, r.Receipts, r.TransfersIn, r.TransfersOut, r.Issues,
		r.ClosingStock, r.BackCharges, r.Credits, r.Condemnations, r.Adjustments, r.TotalAdjustments,
		r.BaseConsumption, r.Consumption, r.TotalMandays, nullDecimal(r.MandayCost), r.SavedBy, nullTime(r.SavedAt),
	)
	if err != nil {
		return fmt.Errorf("照合記録の保存に失敗しました: %w", err)
	}
	return nil
}

// SaveMandays upserts the manday count of one day
// 日別人日を登録または更新
func (t *pgTx) SaveMandays(ctx context.Context, e *inventory.MandayEntry) error {
	query := `
		INSERT INTO manday_entries (period_id, location_id, entry_date, count)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (period_id, location_id, entry_date) DO UPDATE SET count = EXCLUDED.count`

	if _, err := t.tx.ExecContext(ctx, query, e.PeriodID, e.LocationID, e.Date, e.Count); err != nil {
		return fmt.Errorf("人日の保存に失敗しました: %w", err)
	}
	return nil
}

// SumMandays totals the mandays of a location within a period
// 期間内の拠点の人日合計
func (t *pgTx) SumMandays(ctx context.Context, periodID, locationID string) (decimal.Decimal, error) {
	query := `
		SELECT COALESCE(SUM(count), 0)
		FROM manday_entries WHERE period_id = $1 AND location_id = $2`

	var total decimal.Decimal
	if err := t.tx.QueryRowContext(ctx, query, periodID, locationID).Scan(&total); err != nil {
		return decimal.Zero, fmt.Errorf("人日合計の取得に失敗しました: %w", err)
	}
	return total, nil
}
