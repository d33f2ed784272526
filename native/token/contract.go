package token

import (
	"safedeal/core/types"
	"safedeal/native/common"
)

// Entry point names.
const (
	FnTransfer          = "transfer"
	FnTransferFrom      = "transferFrom"
	FnApprove           = "approve"
	FnIncreaseAllowance = "increaseAllowance"
	FnBalanceOf         = "balanceOf"
	FnAllowance         = "allowance"
	FnName              = "name"
	FnSymbol            = "symbol"
	FnDecimals          = "decimals"
	FnTotalSupply       = "totalSupply"
)

type TransferArgs struct {
	To     [20]byte
	Amount uint64
}

type TransferFromArgs struct {
	From   [20]byte
	To     [20]byte
	Amount uint64
}

type ApproveArgs struct {
	Spender [20]byte
	Amount  uint64
}

type OwnerArgs struct {
	Owner [20]byte
}

type AllowanceArgs struct {
	Owner   [20]byte
	Spender [20]byte
}

// Metadata describes the token.
type Metadata struct {
	Name     string
	Symbol   string
	Decimals uint8
}

// Contract exposes a Ledger as a callable fungible token.
type Contract struct {
	ledger *Ledger
	meta   Metadata
	router common.Router
}

// NewContract wraps ledger with the standard token entry points.
func NewContract(ledger *Ledger, meta Metadata) *Contract {
	c := &Contract{ledger: ledger, meta: meta}
	c.router = common.Router{
		FnTransfer:          {Mutating: true, Handler: c.transfer},
		FnTransferFrom:      {Mutating: true, Handler: c.transferFrom},
		FnApprove:           {Mutating: true, Handler: c.approve},
		FnIncreaseAllowance: {Mutating: true, Handler: c.increaseAllowance},
		FnBalanceOf:         {Handler: c.balanceOf},
		FnAllowance:         {Handler: c.allowance},
		FnName:              {Handler: func(types.CallContext, []byte) (interface{}, error) { return c.meta.Name, nil }},
		FnSymbol:            {Handler: func(types.CallContext, []byte) (interface{}, error) { return c.meta.Symbol, nil }},
		FnDecimals:          {Handler: func(types.CallContext, []byte) (interface{}, error) { return c.meta.Decimals, nil }},
		FnTotalSupply: {Handler: func(types.CallContext, []byte) (interface{}, error) {
			return c.ledger.TotalSupply()
		}},
	}
	return c
}

// Ledger returns the backing ledger.
func (c *Contract) Ledger() *Ledger { return c.ledger }

// Metadata returns the token metadata.
func (c *Contract) Metadata() Metadata { return c.meta }

// Invoke implements common.Contract.
func (c *Contract) Invoke(ctx types.CallContext, function string, args []byte) ([]byte, error) {
	return c.router.Dispatch(ctx, function, args)
}

func (c *Contract) transfer(ctx types.CallContext, raw []byte) (interface{}, error) {
	var args TransferArgs
	if err := common.DecodeArgs(FnTransfer, raw, &args); err != nil {
		return nil, err
	}
	if err := c.ledger.Transfer(ctx.Caller, args.To, args.Amount); err != nil {
		return nil, err
	}
	return true, nil
}

func (c *Contract) transferFrom(ctx types.CallContext, raw []byte) (interface{}, error) {
	var args TransferFromArgs
	if err := common.DecodeArgs(FnTransferFrom, raw, &args); err != nil {
		return nil, err
	}
	if err := c.ledger.TransferFrom(ctx.Caller, args.From, args.To, args.Amount); err != nil {
		return nil, err
	}
	return true, nil
}

func (c *Contract) approve(ctx types.CallContext, raw []byte) (interface{}, error) {
	var args ApproveArgs
	if err := common.DecodeArgs(FnApprove, raw, &args); err != nil {
		return nil, err
	}
	return nil, c.ledger.Approve(ctx.Caller, args.Spender, args.Amount)
}

func (c *Contract) increaseAllowance(ctx types.CallContext, raw []byte) (interface{}, error) {
	var args ApproveArgs
	if err := common.DecodeArgs(FnIncreaseAllowance, raw, &args); err != nil {
		return nil, err
	}
	return nil, c.ledger.IncreaseAllowance(ctx.Caller, args.Spender, args.Amount)
}

func (c *Contract) balanceOf(_ types.CallContext, raw []byte) (interface{}, error) {
	var args OwnerArgs
	if err := common.DecodeArgs(FnBalanceOf, raw, &args); err != nil {
		return nil, err
	}
	return c.ledger.BalanceOf(args.Owner)
}

func (c *Contract) allowance(_ types.CallContext, raw []byte) (interface{}, error) {
	var args AllowanceArgs
	if err := common.DecodeArgs(FnAllowance, raw, &args); err != nil {
		return nil, err
	}
	return c.ledger.Allowance(args.Owner, args.Spender)
}
