package domain

// OrderSide represents the side of an order (BUY or SELL).
type OrderSide string

const (
	Buy  OrderSide = "BUY"
	Sell OrderSide = "SELL"
)

// Direction is the side of a trading session.
type Direction string

const (
	Long  Direction = "long"
	Short Direction = "short"
)

// EntrySignal is the outcome of evaluating entry conditions against live bars.
type EntrySignal string

const (
	SignalNone  EntrySignal = "none"
	SignalLong  EntrySignal = "long"
	SignalShort EntrySignal = "short"
)

// TrancheState tracks a tranche through its lifecycle.
// StoppedOut, TargetHit and Cancelled are terminal.
type TrancheState string

const (
	TranchePending    TrancheState = "Pending"
	TrancheWorking    TrancheState = "Working"
	TrancheFilled     TrancheState = "Filled"
	TrancheStoppedOut TrancheState = "StoppedOut"
	TrancheTargetHit  TrancheState = "TargetHit"
	TrancheCancelled  TrancheState = "Cancelled"
)

// CloseReason indicates why a tranche was closed.
type CloseReason string

const (
	CloseReasonTarget       CloseReason = "TARGET"
	CloseReasonStop         CloseReason = "STOP"
	CloseReasonTrail        CloseReason = "TRAIL"
	CloseReasonSessionClose CloseReason = "SESSION_CLOSE"
	CloseReasonSwingEMA     CloseReason = "SWING_EMA"
	CloseReasonSwingAge     CloseReason = "SWING_AGE"
	CloseReasonManual       CloseReason = "MANUAL"
	CloseReasonUnprotected  CloseReason = "UNPROTECTED"
	CloseReasonUnknown      CloseReason = "UNKNOWN"
)
