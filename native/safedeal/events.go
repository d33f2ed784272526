package safedeal

import (
	"strconv"

	"safedeal/core/types"
	"safedeal/crypto"
)

const (
	EventTypeDealCreated       = "safedeal.created"
	EventTypeDeferredQuote     = "safedeal.deferred_quote"
	EventTypeDeferredScheduled = "safedeal.scheduled"
	EventTypeDealCompleted     = "safedeal.completed"
	EventTypeDealDisputed      = "safedeal.disputed"
	EventTypeProcessCalled     = "safedeal.process_called"
	EventTypeDealState         = "safedeal.state"
	EventTypeProcessSkipped    = "safedeal.process_skipped"
	EventTypeDealAutoReleased  = "safedeal.auto_released"
	EventTypeDealAutoRefunded  = "safedeal.auto_refunded"
	SkipReasonNotActive        = "notActive"
	SkipReasonBeforeDeadline   = "beforeDeadline"
	autoExecutionScheduled     = "scheduled"
	autoExecutionManual        = "manual"
)

type dealEvent struct {
	evt *types.Event
}

func (e dealEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e dealEvent) Event() *types.Event { return e.evt }

func formatID(id uint64) string { return strconv.FormatUint(id, 10) }

// NewCreatedEvent describes a freshly stored deal.
func NewCreatedEvent(d *Deal, executionPeriod uint64, scheduled bool) *types.Event {
	attrs := dealAttributes(d)
	if scheduled {
		attrs["autoExecution"] = autoExecutionScheduled
		attrs["executionPeriod"] = strconv.FormatUint(executionPeriod, 10)
	} else {
		attrs["autoExecution"] = autoExecutionManual
	}
	return &types.Event{Type: EventTypeDealCreated, Attributes: attrs}
}

// NewDeferredQuoteEvent reports the booking fee quoted for the settlement call.
func NewDeferredQuoteEvent(id uint64, slot types.Slot, fee, maxGas uint64) *types.Event {
	return &types.Event{Type: EventTypeDeferredQuote, Attributes: map[string]string{
		"id":           formatID(id),
		"targetPeriod": strconv.FormatUint(slot.Period, 10),
		"targetThread": strconv.FormatUint(uint64(slot.Thread), 10),
		"bookingFee":   strconv.FormatUint(fee, 10),
		"maxGas":       strconv.FormatUint(maxGas, 10),
	}}
}

// NewScheduledEvent reports a booked settlement call.
func NewScheduledEvent(id uint64, callID string, slot types.Slot, fee uint64) *types.Event {
	return &types.Event{Type: EventTypeDeferredScheduled, Attributes: map[string]string{
		"id":              formatID(id),
		"callId":          callID,
		"executionPeriod": strconv.FormatUint(slot.Period, 10),
		"executionThread": strconv.FormatUint(uint64(slot.Thread), 10),
		"bookingFee":      strconv.FormatUint(fee, 10),
	}}
}

// NewCompletedEvent reports a client-approved release.
func NewCompletedEvent(d *Deal) *types.Event {
	return &types.Event{Type: EventTypeDealCompleted, Attributes: map[string]string{
		"id":         formatID(d.ID),
		"freelancer": crypto.FormatAccount(d.Freelancer),
		"amount":     strconv.FormatUint(d.Amount, 10),
	}}
}

// NewDisputedEvent reports a dispute and the party that raised it.
func NewDisputedEvent(d *Deal, by [20]byte) *types.Event {
	return &types.Event{Type: EventTypeDealDisputed, Attributes: map[string]string{
		"id":         formatID(d.ID),
		"disputedBy": crypto.FormatAccount(by),
	}}
}

// NewProcessCalledEvent is emitted on every processDeal invocation.
func NewProcessCalledEvent(id uint64, caller [20]byte, currentPeriod uint64) *types.Event {
	return &types.Event{Type: EventTypeProcessCalled, Attributes: map[string]string{
		"id":            formatID(id),
		"caller":        crypto.FormatAccount(caller),
		"currentPeriod": strconv.FormatUint(currentPeriod, 10),
	}}
}

// NewStateEvent snapshots the deal as seen by processDeal.
func NewStateEvent(d *Deal) *types.Event {
	return &types.Event{Type: EventTypeDealState, Attributes: map[string]string{
		"id":       formatID(d.ID),
		"status":   d.Status.String(),
		"deadline": strconv.FormatUint(d.DeadlineSlot, 10),
		"mode":     d.Mode.String(),
	}}
}

// NewSkippedEvent reports a processDeal call that changed nothing.
func NewSkippedEvent(d *Deal, reason string, currentPeriod uint64) *types.Event {
	attrs := map[string]string{
		"id":     formatID(d.ID),
		"reason": reason,
	}
	switch reason {
	case SkipReasonNotActive:
		attrs["status"] = d.Status.String()
	case SkipReasonBeforeDeadline:
		attrs["current"] = strconv.FormatUint(currentPeriod, 10)
		attrs["deadline"] = strconv.FormatUint(d.DeadlineSlot, 10)
	}
	return &types.Event{Type: EventTypeProcessSkipped, Attributes: attrs}
}

// NewAutoReleasedEvent reports a deadline payout to the freelancer.
func NewAutoReleasedEvent(d *Deal) *types.Event {
	return &types.Event{Type: EventTypeDealAutoReleased, Attributes: map[string]string{
		"id":         formatID(d.ID),
		"freelancer": crypto.FormatAccount(d.Freelancer),
		"amount":     strconv.FormatUint(d.Amount, 10),
	}}
}

// NewAutoRefundedEvent reports a deadline refund to the client.
func NewAutoRefundedEvent(d *Deal) *types.Event {
	return &types.Event{Type: EventTypeDealAutoRefunded, Attributes: map[string]string{
		"id":     formatID(d.ID),
		"client": crypto.FormatAccount(d.Client),
		"amount": strconv.FormatUint(d.Amount, 10),
	}}
}

func dealAttributes(d *Deal) map[string]string {
	attrs := make(map[string]string)
	if d == nil {
		return attrs
	}
	attrs["id"] = formatID(d.ID)
	attrs["client"] = crypto.FormatAccount(d.Client)
	attrs["freelancer"] = crypto.FormatAccount(d.Freelancer)
	attrs["assetType"] = d.AssetType.String()
	if d.AssetType == AssetToken {
		attrs["token"] = crypto.FormatAccount(d.Token)
	}
	attrs["amount"] = strconv.FormatUint(d.Amount, 10)
	attrs["deadline"] = strconv.FormatUint(d.DeadlineSlot, 10)
	attrs["mode"] = d.Mode.String()
	attrs["createdSlot"] = strconv.FormatUint(d.CreatedSlot, 10)
	return attrs
}
