package turbo

import "sync/atomic"

type counters struct {
	passes       atomic.Int64
	created      atomic.Int64
	anchorMisses atomic.Int64
	signals      atomic.Int64
	staleSignals atomic.Int64
	rebinds      atomic.Int64
	clicks       atomic.Int64
	states       atomic.Int64
	toggles      atomic.Int64
	globalWrites atomic.Int64
	errors       atomic.Int64
}

// Stats are point-in-time counters.
type Stats struct {
	Mode         bool   `json:"mode"`
	Context      string `json:"context"`
	Running      bool   `json:"running"`
	Passes       int64  `json:"passes"`
	Created      int64  `json:"controls_created"`
	AnchorMisses int64  `json:"anchor_misses"`
	Signals      int64  `json:"signals"`
	StaleSignals int64  `json:"stale_signals"`
	Rebinds      int64  `json:"frame_rebinds"`
	Clicks       int64  `json:"clicks"`
	States       int64  `json:"states"`
	Toggles      int64  `json:"toggles"`
	GlobalWrites int64  `json:"global_writes"`
	Errors       int64  `json:"errors"`
	BindingCalls int64  `json:"binding_calls,omitempty"` // CDP pages only
}

// bindingCounter is implemented by pages that receive events through a
// Runtime binding.
type bindingCounter interface {
	BindingCalls() int64
}

// Stats returns the current counters.
func (e *Engine) Stats() Stats {
	s := Stats{
		Mode:         e.mode.Load(),
		Context:      e.Context().String(),
		Running:      e.running.Load(),
		Passes:       e.stats.passes.Load(),
		Created:      e.stats.created.Load(),
		AnchorMisses: e.stats.anchorMisses.Load(),
		Signals:      e.stats.signals.Load(),
		StaleSignals: e.stats.staleSignals.Load(),
		Rebinds:      e.stats.rebinds.Load(),
		Clicks:       e.stats.clicks.Load(),
		States:       e.stats.states.Load(),
		Toggles:      e.stats.toggles.Load(),
		GlobalWrites: e.stats.globalWrites.Load(),
		Errors:       e.stats.errors.Load(),
	}
	if bc, ok := e.page.(bindingCounter); ok {
		s.BindingCalls = bc.BindingCalls()
	}
	return s
}
