package token

import (
	"strconv"

	"github.com/holiman/uint256"

	"safedeal/core/types"
	"safedeal/crypto"
)

const (
	EventTypeTransfer = "token.transfer"
	EventTypeApproval = "token.approval"
)

// TransferEvent records a balance movement. A zero From marks a mint.
type TransferEvent struct {
	Token  [20]byte
	From   [20]byte
	To     [20]byte
	Amount uint64
}

func (TransferEvent) EventType() string { return EventTypeTransfer }

func (e TransferEvent) Event() *types.Event {
	return &types.Event{Type: EventTypeTransfer, Attributes: map[string]string{
		"token":  crypto.FormatAccount(e.Token),
		"from":   crypto.FormatAccount(e.From),
		"to":     crypto.FormatAccount(e.To),
		"amount": strconv.FormatUint(e.Amount, 10),
	}}
}

// ApprovalEvent records the new allowance of a spender.
type ApprovalEvent struct {
	Token   [20]byte
	Owner   [20]byte
	Spender [20]byte
	Amount  *uint256.Int
}

func (ApprovalEvent) EventType() string { return EventTypeApproval }

func (e ApprovalEvent) Event() *types.Event {
	amount := "0"
	if e.Amount != nil {
		amount = e.Amount.Dec()
	}
	return &types.Event{Type: EventTypeApproval, Attributes: map[string]string{
		"token":   crypto.FormatAccount(e.Token),
		"owner":   crypto.FormatAccount(e.Owner),
		"spender": crypto.FormatAccount(e.Spender),
		"amount":  amount,
	}}
}
