package inventory

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var (
	requestValidator = newRequestValidator()
	idPattern        = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
)

// newRequestValidator builds the struct validator used for request types.
// decimal.Decimal is presented to the validator as float64 so numeric tags work.
func newRequestValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := d.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})
	v.RegisterStructValidation(quantityScaleLevel,
		DeliveryLineInput{}, IssueLineInput{}, TransferLineInput{}, ManualNCRLine{})
	// エラーのフィールド名にはJSONタグ名を使用
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// quantityScaleLevel rejects line quantities finer than QuantityPlaces,
// which the ledger would otherwise round away silently
func quantityScaleLevel(sl validator.StructLevel) {
	var q decimal.Decimal
	switch line := sl.Current().Interface().(type) {
	case DeliveryLineInput:
		q = line.Quantity
	case IssueLineInput:
		q = line.Quantity
	case TransferLineInput:
		q = line.Quantity
	case ManualNCRLine:
		q = line.Quantity
	default:
		return
	}
	if !q.Equal(RoundQuantity(q)) {
		sl.ReportError(q.String(), "quantity", "Quantity", "qscale", strconv.Itoa(int(QuantityPlaces)))
	}
}

// validateRequest runs struct-tag validation and maps the first failure to *ValidationError
// リクエストを検証し最初のエラーをValidationErrorに変換
func validateRequest(req interface{}) error {
	err := requestValidator.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return NewValidationError(fieldPath(fe), validationMessage(fe), fmt.Sprintf("%v", fe.Value()))
	}
	return NewValidationError("request", err.Error(), "")
}

// fieldPath drops the top-level struct name from the namespace
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "必須項目です"
	case "gt":
		return fmt.Sprintf("%sより大きい値である必要があります", fe.Param())
	case "gte":
		return fmt.Sprintf("%s以上である必要があります", fe.Param())
	case "min":
		if fe.Kind() == reflect.Slice {
			return fmt.Sprintf("%s件以上の明細が必要です", fe.Param())
		}
		return fmt.Sprintf("%s以上である必要があります", fe.Param())
	case "max":
		return fmt.Sprintf("%s文字以下である必要があります", fe.Param())
	case "qscale":
		return fmt.Sprintf("小数%s桁以内である必要があります", fe.Param())
	default:
		return fmt.Sprintf("検証に失敗しました (%s)", fe.Tag())
	}
}

// validateDateRange checks that both dates are set and start is not after end
// 期間の日付範囲をバリデーション
func validateDateRange(start, end time.Time) error {
	if start.IsZero() {
		return NewValidationError("start_date", "開始日が指定されていません", "")
	}
	if end.IsZero() {
		return NewValidationError("end_date", "終了日が指定されていません", "")
	}
	if end.Before(start) {
		return NewValidationError("end_date", "終了日は開始日以降である必要があります", end.Format("2006-01-02"))
	}
	return nil
}

// ValidateItemID 商品IDの形式をバリデーション
func ValidateItemID(itemID string) error {
	if itemID == "" {
		return NewValidationError("item_id", "商品IDが空です", itemID)
	}
	if len(itemID) > 255 {
		return NewValidationError("item_id", "商品IDが長すぎます", itemID)
	}
	// 英数字、ハイフン、アンダースコアのみ許可
	if !idPattern.MatchString(itemID) {
		return NewValidationError("item_id", "商品IDに無効な文字が含まれています", itemID)
	}
	return nil
}

// ValidateLocationID ロケーションIDの形式をバリデーション
func ValidateLocationID(locationID string) error {
	if locationID == "" {
		return NewValidationError("location_id", "ロケーションIDが空です", locationID)
	}
	if len(locationID) > 255 {
		return NewValidationError("location_id", "ロケーションIDが長すぎます", locationID)
	}
	if !idPattern.MatchString(locationID) {
		return NewValidationError("location_id", "ロケーションIDに無効な文字が含まれています", locationID)
	}
	return nil
}

// ValidateItem 商品全体をバリデーション
func ValidateItem(item *Item) error {
	if item == nil {
		return NewValidationError("item", "商品が指定されていません", "nil")
	}
	if err := ValidateItemID(item.ID); err != nil {
		return err
	}
	if strings.TrimSpace(item.Name) == "" {
		return NewValidationError("name", "商品名が空です", item.Name)
	}
	if len(item.Name) > 500 {
		return NewValidationError("name", "商品名が長すぎます", item.Name)
	}
	if len(item.Unit) > 20 {
		return NewValidationError("unit", "単位が長すぎます", item.Unit)
	}
	return nil
}

// ValidateLocation ロケーション全体をバリデーション
func ValidateLocation(location *Location) error {
	if location == nil {
		return NewValidationError("location", "ロケーションが指定されていません", "nil")
	}
	if err := ValidateLocationID(location.ID); err != nil {
		return err
	}
	if strings.TrimSpace(location.Name) == "" {
		return NewValidationError("name", "ロケーション名が空です", location.Name)
	}
	switch location.Type {
	case LocationTypeKitchen, LocationTypeStore, LocationTypeCentral, LocationTypeSatellite:
	default:
		return NewValidationError("type", "無効な拠点種別です", string(location.Type))
	}
	return nil
}
