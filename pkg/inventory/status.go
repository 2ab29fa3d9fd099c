package inventory

// Status types and their transition tables. Every status change in the
// engine goes through one of the Can/Transition helpers below.
// ステータス型と遷移表

// TransferStatus is the state of a transfer request
// 移動依頼のステータス
type TransferStatus string

const (
	TransferStatusDraft           TransferStatus = "DRAFT"            // 下書き
	TransferStatusPendingApproval TransferStatus = "PENDING_APPROVAL" // 承認待ち
	TransferStatusApproved        TransferStatus = "APPROVED"         // 承認済み
	TransferStatusRejected        TransferStatus = "REJECTED"         // 却下
	TransferStatusCompleted       TransferStatus = "COMPLETED"        // 完了
)

var transferTransitions = map[TransferStatus][]TransferStatus{
	TransferStatusDraft:           {TransferStatusPendingApproval},
	TransferStatusPendingApproval: {TransferStatusApproved, TransferStatusRejected},
	TransferStatusApproved:        {TransferStatusCompleted},
}

// CanTransitionTo reports whether the transfer may move to next
// 指定ステータスへ遷移可能か判定
func (s TransferStatus) CanTransitionTo(next TransferStatus) bool {
	return allowed(transferTransitions, s, next)
}

// NCRStatus is the state of a non-conformance report
// 不適合報告のステータス
type NCRStatus string

const (
	NCRStatusOpen     NCRStatus = "OPEN"     // 起票
	NCRStatusSent     NCRStatus = "SENT"     // 送付済み
	NCRStatusCredited NCRStatus = "CREDITED" // クレジット済み
	NCRStatusRejected NCRStatus = "REJECTED" // 却下
	NCRStatusResolved NCRStatus = "RESOLVED" // 解決
)

var ncrTransitions = map[NCRStatus][]NCRStatus{
	NCRStatusOpen: {NCRStatusSent},
	NCRStatusSent: {NCRStatusCredited, NCRStatusRejected, NCRStatusResolved},
}

// CanTransitionTo reports whether the NCR may move to next
// 指定ステータスへ遷移可能か判定
func (s NCRStatus) CanTransitionTo(next NCRStatus) bool {
	return allowed(ncrTransitions, s, next)
}

// IsTerminal reports whether the NCR is resolved in some way
// 終端ステータスか判定
func (s NCRStatus) IsTerminal() bool {
	return s == NCRStatusCredited || s == NCRStatusRejected || s == NCRStatusResolved
}

// PeriodStatus is the state of an accounting period
// 会計期間のステータス
type PeriodStatus string

const (
	PeriodStatusDraft        PeriodStatus = "DRAFT"         // 準備中
	PeriodStatusOpen         PeriodStatus = "OPEN"          // 開始
	PeriodStatusPendingClose PeriodStatus = "PENDING_CLOSE" // 締め申請中
	PeriodStatusApproved     PeriodStatus = "APPROVED"      // 締め承認済み
	PeriodStatusClosed       PeriodStatus = "CLOSED"        // 締め済み
)

var periodTransitions = map[PeriodStatus][]PeriodStatus{
	PeriodStatusDraft:        {PeriodStatusOpen},
	PeriodStatusOpen:         {PeriodStatusPendingClose},
	PeriodStatusPendingClose: {PeriodStatusApproved, PeriodStatusOpen},
	PeriodStatusApproved:     {PeriodStatusClosed},
}

// CanTransitionTo reports whether the period may move to next
// 指定ステータスへ遷移可能か判定
func (s PeriodStatus) CanTransitionTo(next PeriodStatus) bool {
	return allowed(periodTransitions, s, next)
}

// PeriodLocationStatus is the readiness state of a location within a period
// 期間内の拠点の準備ステータス
type PeriodLocationStatus string

const (
	PeriodLocationOpen   PeriodLocationStatus = "OPEN"   // 未完了
	PeriodLocationReady  PeriodLocationStatus = "READY"  // 準備完了
	PeriodLocationClosed PeriodLocationStatus = "CLOSED" // 締め済み
)

var periodLocationTransitions = map[PeriodLocationStatus][]PeriodLocationStatus{
	PeriodLocationOpen:  {PeriodLocationReady},
	PeriodLocationReady: {PeriodLocationOpen, PeriodLocationClosed},
}

// CanTransitionTo reports whether the period location may move to next
// 指定ステータスへ遷移可能か判定
func (s PeriodLocationStatus) CanTransitionTo(next PeriodLocationStatus) bool {
	return allowed(periodLocationTransitions, s, next)
}

func allowed[S ~string](table map[S][]S, from, to S) bool {
	for _, s := range table[from] {
		if s == to {
			return true
		}
	}
	return false
}
