package inventory

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Common ledger errors
// 共通の台帳エラー定義

var (
	// ErrItemNotFound is returned when an item doesn't exist
	// 商品が存在しない場合のエラー
	ErrItemNotFound = errors.New("商品が見つかりません")

	// ErrLocationNotFound is returned when a location doesn't exist
	// ロケーションが存在しない場合のエラー
	ErrLocationNotFound = errors.New("ロケーションが見つかりません")

	// ErrStockNotFound is returned when a stock row has never been created
	// 在庫記録が存在しない場合のエラー
	ErrStockNotFound = errors.New("在庫記録が見つかりません")

	// ErrPeriodNotFound is returned when a period doesn't exist
	// 期間が存在しない場合のエラー
	ErrPeriodNotFound = errors.New("期間が見つかりません")

	// ErrPeriodLocationNotFound is returned when a location is not part of a period
	// 期間に拠点が登録されていない場合のエラー
	ErrPeriodLocationNotFound = errors.New("期間の拠点が見つかりません")

	// ErrTransferNotFound is returned when a transfer doesn't exist
	// 移動依頼が存在しない場合のエラー
	ErrTransferNotFound = errors.New("移動依頼が見つかりません")

	// ErrNCRNotFound is returned when an NCR doesn't exist
	// 不適合報告が存在しない場合のエラー
	ErrNCRNotFound = errors.New("不適合報告が見つかりません")

	// ErrReconciliationNotFound is returned when no reconciliation is saved
	// 照合記録が保存されていない場合のエラー
	ErrReconciliationNotFound = errors.New("照合記録が見つかりません")

	// ErrPriceNotFound is returned when no price book entry exists
	// 価格表の登録がない場合のエラー
	ErrPriceNotFound = errors.New("価格表の登録が見つかりません")

	// ErrInsufficientStock is returned when there's not enough stock
	// 在庫不足の場合のエラー
	ErrInsufficientStock = errors.New("在庫が不足しています")

	// ErrPeriodClosed is returned when posting against a period that is not OPEN
	// 期間が開始状態でない場合のエラー
	ErrPeriodClosed = errors.New("期間が開始状態ではありません")

	// ErrSameLocation is returned when a transfer has identical source and destination
	// 移動元と移動先が同じ場合のエラー
	ErrSameLocation = errors.New("移動元と移動先が同じです")

	// ErrInvalidStatusTransition is returned when a status change is not permitted
	// 許可されていないステータス遷移のエラー
	ErrInvalidStatusTransition = errors.New("無効なステータス遷移です")

	// ErrLocationsNotReady is returned when closing a period with non-ready locations
	// 準備未完了の拠点がある場合のエラー
	ErrLocationsNotReady = errors.New("準備が完了していない拠点があります")

	// ErrValidation is returned for malformed input
	// 入力不正のエラー
	ErrValidation = errors.New("入力が不正です")

	// ErrDuplicate is returned when a unique key already exists
	// 一意キー重複のエラー
	ErrDuplicate = errors.New("既に存在します")
)

// ValidationError represents a validation error with details
// 詳細付きバリデーションエラーを表現
type ValidationError struct {
	Field   string `json:"field"`   // エラーフィールド
	Message string `json:"message"` // エラーメッセージ
	Value   string `json:"value"`   // 無効な値
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("バリデーションエラー [%s]: %s (値: %s)", e.Field, e.Message, e.Value)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// StockShortage describes one deficient line
// 在庫不足の1明細
type StockShortage struct {
	ItemID    string          `json:"item_id"`   // 商品ID
	ItemName  string          `json:"item_name"` // 商品名
	Requested decimal.Decimal `json:"requested"` // 要求数量
	Available decimal.Decimal `json:"available"` // 利用可能数量
}

// InsufficientStockError names every deficient item of a request
// 不足しているすべての品目を保持する在庫不足エラー
type InsufficientStockError struct {
	LocationID string          `json:"location_id"`
	Shortages  []StockShortage `json:"shortages"`
}

func (e *InsufficientStockError) Error() string {
	parts := make([]string, 0, len(e.Shortages))
	for _, s := range e.Shortages {
		name := s.ItemName
		if name == "" {
			name = s.ItemID
		}
		parts = append(parts, fmt.Sprintf("%s (要求: %s, 在庫: %s)", name, s.Requested.String(), s.Available.String()))
	}
	return fmt.Sprintf("在庫が不足しています: %s", strings.Join(parts, ", "))
}

func (e *InsufficientStockError) Unwrap() error {
	return ErrInsufficientStock
}

// InvalidStatusTransitionError carries the rejected transition
// 拒否されたステータス遷移を保持
type InvalidStatusTransitionError struct {
	Entity string `json:"entity"` // 対象エンティティ
	ID     string `json:"id"`     // ID
	From   string `json:"from"`   // 現在ステータス
	To     string `json:"to"`     // 遷移先ステータス
}

func (e *InvalidStatusTransitionError) Error() string {
	return fmt.Sprintf("無効なステータス遷移です [%s:%s]: %s -> %s", e.Entity, e.ID, e.From, e.To)
}

func (e *InvalidStatusTransitionError) Unwrap() error {
	return ErrInvalidStatusTransition
}

// PriceLockedError is returned when a price is edited after its period left DRAFT
// 期間開始後の価格変更エラー
type PriceLockedError struct {
	PeriodID string       `json:"period_id"`
	ItemID   string       `json:"item_id"`
	Status   PeriodStatus `json:"status"`
}

func (e *PriceLockedError) Error() string {
	return fmt.Sprintf("価格表は固定されています [期間:%s 商品:%s 状態:%s]", e.PeriodID, e.ItemID, e.Status)
}

func (e *PriceLockedError) Unwrap() error {
	return ErrInvalidStatusTransition
}

// NotReadyLocation identifies a location blocking a period close
// 締めを妨げている拠点
type NotReadyLocation struct {
	LocationID string               `json:"location_id"`
	Name       string               `json:"name"`
	Status     PeriodLocationStatus `json:"status"`
}

// LocationsNotReadyError lists the locations that are not READY
// 準備未完了の拠点一覧を保持
type LocationsNotReadyError struct {
	PeriodID  string             `json:"period_id"`
	Locations []NotReadyLocation `json:"locations"`
}

// Names returns the display names of the blocking locations
// 未完了拠点の表示名を返す
func (e *LocationsNotReadyError) Names() []string {
	names := make([]string, 0, len(e.Locations))
	for _, l := range e.Locations {
		if l.Name != "" {
			names = append(names, l.Name)
		} else {
			names = append(names, l.LocationID)
		}
	}
	return names
}

func (e *LocationsNotReadyError) Error() string {
	return fmt.Sprintf("準備が完了していない拠点があります: %s", strings.Join(e.Names(), ", "))
}

func (e *LocationsNotReadyError) Unwrap() error {
	return ErrLocationsNotReady
}

// StorageError represents a storage layer error
// ストレージ層のエラーを表現
type StorageError struct {
	Operation string `json:"operation"` // 操作名
	Message   string `json:"message"`   // エラーメッセージ
	Cause     error  `json:"cause"`     // 原因エラー
}

func (e *StorageError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("ストレージエラー [%s]: %s (原因: %v)", e.Operation, e.Message, e.Cause)
	}
	return fmt.Sprintf("ストレージエラー [%s]: %s", e.Operation, e.Message)
}

func (e *StorageError) Unwrap() error {
	return e.Cause
}

// NewValidationError creates a new validation error
// 新しいバリデーションエラーを作成
func NewValidationError(field, message, value string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
	}
}

// NewInvalidStatusTransitionError creates a new status transition error
// 新しいステータス遷移エラーを作成
func NewInvalidStatusTransitionError(entity, id, from, to string) *InvalidStatusTransitionError {
	return &InvalidStatusTransitionError{
		Entity: entity,
		ID:     id,
		From:   from,
		To:     to,
	}
}

// NewStorageError creates a new storage error
// 新しいストレージエラーを作成
func NewStorageError(operation, message string, cause error) *StorageError {
	return &StorageError{
		Operation: operation,
		Message:   message,
		Cause:     cause,
	}
}

// wrapStorage leaves domain errors untouched and wraps everything else
// ドメインエラー以外をストレージエラーで包む
func wrapStorage(operation, message string, err error) error {
	if err == nil {
		return nil
	}
	if isDomainError(err) {
		return err
	}
	return NewStorageError(operation, message, err)
}

func isDomainError(err error) bool {
	for _, target := range []error{
		ErrItemNotFound, ErrLocationNotFound, ErrStockNotFound, ErrPeriodNotFound,
		ErrPeriodLocationNotFound, ErrTransferNotFound, ErrNCRNotFound,
		ErrReconciliationNotFound, ErrPriceNotFound, ErrInsufficientStock,
		ErrPeriodClosed, ErrSameLocation, ErrInvalidStatusTransition,
		ErrLocationsNotReady, ErrValidation, ErrDuplicate,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsNotFound returns true if the error indicates a missing resource
// リソース未検出エラーか判定
func IsNotFound(err error) bool {
	return errors.Is(err, ErrItemNotFound) ||
		errors.Is(err, ErrLocationNotFound) ||
		errors.Is(err, ErrPeriodNotFound) ||
		errors.Is(err, ErrPeriodLocationNotFound) ||
		errors.Is(err, ErrTransferNotFound) ||
		errors.Is(err, ErrNCRNotFound) ||
		errors.Is(err, ErrReconciliationNotFound)
}

// IsConflict returns true if the error is a business rule conflict with current state
// 現在の状態と矛盾する業務ルール違反か判定
func IsConflict(err error) bool {
	return errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrPeriodClosed) ||
		errors.Is(err, ErrInvalidStatusTransition) ||
		errors.Is(err, ErrLocationsNotReady) ||
		errors.Is(err, ErrDuplicate)
}
