package domain

import "time"

// OpeningRange is the high/low price band established during the opening
// window. Immutable once computed.
type OpeningRange struct {
	High       float64
	Low        float64
	ComputedAt time.Time
}

// Tranche is one of three independently parameterized bracket order sets
// within a session. Mutated only by fill/cancel events observed through the
// gateway and by the position monitor.
type Tranche struct {
	ID            int // 1..3
	EntryOrderID  string
	StopOrderID   string
	TargetOrderID string
	EntryPrice    float64
	StopPrice     float64
	TargetPrice   float64
	Quantity      int64
	State         TrancheState
	SwingEligible bool
	FilledAt      time.Time
	ClosedAt      time.Time
	ExitPrice     float64
	CloseReason   CloseReason
}

// IsTerminal reports whether the tranche has reached a terminal state.
func (t *Tranche) IsTerminal() bool {
	switch t.State {
	case TrancheStoppedOut, TrancheTargetHit, TrancheCancelled:
		return true
	}
	return false
}

// Session is the per-symbol trading session record. Exclusively owned by the
// worker handling its symbol; never shared across goroutines.
type Session struct {
	Symbol       string
	Direction    Direction
	Range        *OpeningRange
	EntryCutoff  time.Time // no new entries after this point
	SessionClose time.Time // non-swing tranches are flattened here
	Tranches     []*Tranche
	Abandoned    bool
}

// AllClosed reports whether every tranche has reached a terminal state.
func (s *Session) AllClosed() bool {
	for _, t := range s.Tranches {
		if !t.IsTerminal() {
			return false
		}
	}
	return true
}

// OpenSwingTranches returns filled, swing-eligible tranches still open.
func (s *Session) OpenSwingTranches() []*Tranche {
	var out []*Tranche
	for _, t := range s.Tranches {
		if t.State == TrancheFilled && t.SwingEligible {
			out = append(out, t)
		}
	}
	return out
}
