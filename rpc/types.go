package rpc

import (
	"strconv"

	"safedeal/core"
	"safedeal/core/types"
	"safedeal/crypto"
	"safedeal/native/safedeal"
)

// DealResult is the JSON view of a deal.
type DealResult struct {
	ID           uint64 `json:"id"`
	Client       string `json:"client"`
	Freelancer   string `json:"freelancer"`
	AssetType    string `json:"assetType"`
	Token        string `json:"token,omitempty"`
	Amount       string `json:"amount"`
	DeadlineSlot uint64 `json:"deadlineSlot"`
	Mode         string `json:"mode"`
	Status       string `json:"status"`
	CreatedSlot  uint64 `json:"createdSlot"`
	Note         string `json:"note,omitempty"`
}

func dealResult(d *safedeal.Deal) DealResult {
	out := DealResult{
		ID:           d.ID,
		Client:       crypto.FormatAccount(d.Client),
		Freelancer:   crypto.FormatAccount(d.Freelancer),
		AssetType:    d.AssetType.String(),
		Amount:       strconv.FormatUint(d.Amount, 10),
		DeadlineSlot: d.DeadlineSlot,
		Mode:         d.Mode.String(),
		Status:       d.Status.String(),
		CreatedSlot:  d.CreatedSlot,
		Note:         d.Note,
	}
	if d.AssetType == safedeal.AssetToken {
		out.Token = crypto.FormatAccount(d.Token)
	}
	return out
}

// DealIDsResult lists deal ids associated with an address.
type DealIDsResult struct {
	Address string   `json:"address"`
	DealIDs []uint64 `json:"dealIds"`
}

// BalanceResult reports the native account of an address.
type BalanceResult struct {
	Address string `json:"address"`
	Balance string `json:"balance"`
	Nonce   uint64 `json:"nonce"`
}

// TokenBalanceResult reports an allowed-token balance.
type TokenBalanceResult struct {
	Address  string `json:"address"`
	Balance  string `json:"balance"`
	Symbol   string `json:"symbol"`
	Decimals uint8  `json:"decimals"`
}

// AllowanceResult reports a token approval.
type AllowanceResult struct {
	Owner     string `json:"owner"`
	Spender   string `json:"spender"`
	Allowance string `json:"allowance"`
}

// DeferredCallResult is the JSON view of a booked call.
type DeferredCallResult struct {
	ID       string     `json:"id"`
	Sender   string     `json:"sender"`
	Target   string     `json:"target"`
	Function string     `json:"function"`
	Slot     types.Slot `json:"slot"`
	MaxGas   uint64     `json:"maxGas"`
	Coins    uint64     `json:"coins"`
	Fee      uint64     `json:"fee"`
	Executed bool       `json:"executed"`
	Failed   bool       `json:"failed"`
	Error    string     `json:"error,omitempty"`
}

func deferredCallResult(c *core.DeferredCall) DeferredCallResult {
	return DeferredCallResult{
		ID:       c.ID,
		Sender:   crypto.FormatAccount(c.Sender),
		Target:   crypto.FormatAccount(c.Target),
		Function: c.Function,
		Slot:     c.Slot,
		MaxGas:   c.MaxGas,
		Coins:    c.Coins,
		Fee:      c.Fee,
		Executed: c.Executed,
		Failed:   c.Failed,
		Error:    c.Error,
	}
}

// QuoteResult prices a deferred call booking.
type QuoteResult struct {
	Slot types.Slot `json:"slot"`
	Fee  uint64     `json:"fee"`
}

// ReadResult carries the hex-encoded return value of a read-only call.
type ReadResult struct {
	Result string `json:"result"`
}
