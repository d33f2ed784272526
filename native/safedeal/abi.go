package safedeal

import (
	"safedeal/core/types"
	"safedeal/native/common"
)

// Entry point names.
const (
	FnCreateDealForNativeCoin = "createDealForNativeCoin"
	FnCreateDealForToken      = "createDealForToken"
	FnApproveAndRelease       = "approveAndRelease"
	FnRaiseDispute            = "raiseDispute"
	FnGetDeal                 = "getDeal"
	FnGetDealsByClient        = "getDealsByClient"
	FnGetDealsByFreelancer    = "getDealsByFreelancer"
	FnGetNextDealID           = "getNextDealId"
)

// CreateNativeArgs are the arguments of createDealForNativeCoin.
type CreateNativeArgs struct {
	Freelancer   [20]byte
	DeadlineSlot uint64
	Mode         uint8
	Note         string
}

// CreateTokenArgs are the arguments of createDealForToken.
type CreateTokenArgs struct {
	Freelancer   [20]byte
	Token        [20]byte
	Amount       uint64
	DeadlineSlot uint64
	Mode         uint8
	Note         string
}

// DealIDArgs carries a single deal id.
type DealIDArgs struct {
	ID uint64
}

// AddressArgs carries a single account address.
type AddressArgs struct {
	Address [20]byte
}

// Contract exposes the engine through named entry points.
type Contract struct {
	engine *Engine
	router common.Router
}

// NewContract wires the entry points to engine.
func NewContract(engine *Engine) *Contract {
	c := &Contract{engine: engine}
	c.router = common.Router{
		FnCreateDealForNativeCoin: {Mutating: true, Handler: c.createDealForNativeCoin},
		FnCreateDealForToken:      {Mutating: true, Handler: c.createDealForToken},
		FnApproveAndRelease:       {Mutating: true, Handler: c.approveAndRelease},
		FnRaiseDispute:            {Mutating: true, Handler: c.raiseDispute},
		FnProcessDeal:             {Mutating: true, Handler: c.processDeal},
		FnGetDeal:                 {Handler: c.getDeal},
		FnGetDealsByClient:        {Handler: c.getDealsByClient},
		FnGetDealsByFreelancer:    {Handler: c.getDealsByFreelancer},
		FnGetNextDealID:           {Handler: c.getNextDealID},
	}
	return c
}

// Engine returns the underlying state machine.
func (c *Contract) Engine() *Engine { return c.engine }

// Invoke implements common.Contract.
func (c *Contract) Invoke(ctx types.CallContext, function string, args []byte) ([]byte, error) {
	return c.router.Dispatch(ctx, function, args)
}

func (c *Contract) createDealForNativeCoin(ctx types.CallContext, raw []byte) (interface{}, error) {
	var args CreateNativeArgs
	if err := common.DecodeArgs(FnCreateDealForNativeCoin, raw, &args); err != nil {
		return nil, err
	}
	deal, err := c.engine.CreateDealForNativeCoin(ctx, args.Freelancer, args.DeadlineSlot, Mode(args.Mode), args.Note)
	if err != nil {
		return nil, err
	}
	return deal.ID, nil
}

func (c *Contract) createDealForToken(ctx types.CallContext, raw []byte) (interface{}, error) {
	var args CreateTokenArgs
	if err := common.DecodeArgs(FnCreateDealForToken, raw, &args); err != nil {
		return nil, err
	}
	deal, err := c.engine.CreateDealForToken(ctx, args.Freelancer, args.Token, args.Amount, args.DeadlineSlot, Mode(args.Mode), args.Note)
	if err != nil {
		return nil, err
	}
	return deal.ID, nil
}

func decodeDealID(function string, raw []byte) (uint64, error) {
	var args DealIDArgs
	if err := common.DecodeArgs(function, raw, &args); err != nil {
		return 0, err
	}
	return args.ID, nil
}

func (c *Contract) approveAndRelease(ctx types.CallContext, raw []byte) (interface{}, error) {
	id, err := decodeDealID(FnApproveAndRelease, raw)
	if err != nil {
		return nil, err
	}
	return nil, c.engine.ApproveAndRelease(ctx, id)
}

func (c *Contract) raiseDispute(ctx types.CallContext, raw []byte) (interface{}, error) {
	id, err := decodeDealID(FnRaiseDispute, raw)
	if err != nil {
		return nil, err
	}
	return nil, c.engine.RaiseDispute(ctx, id)
}

func (c *Contract) processDeal(ctx types.CallContext, raw []byte) (interface{}, error) {
	id, err := decodeDealID(FnProcessDeal, raw)
	if err != nil {
		return nil, err
	}
	return nil, c.engine.ProcessDeal(ctx, id)
}

func (c *Contract) getDeal(_ types.CallContext, raw []byte) (interface{}, error) {
	id, err := decodeDealID(FnGetDeal, raw)
	if err != nil {
		return nil, err
	}
	return c.engine.GetDeal(id)
}

func (c *Contract) getDealsByClient(_ types.CallContext, raw []byte) (interface{}, error) {
	var args AddressArgs
	if err := common.DecodeArgs(FnGetDealsByClient, raw, &args); err != nil {
		return nil, err
	}
	return c.engine.DealsByClient(args.Address)
}

func (c *Contract) getDealsByFreelancer(_ types.CallContext, raw []byte) (interface{}, error) {
	var args AddressArgs
	if err := common.DecodeArgs(FnGetDealsByFreelancer, raw, &args); err != nil {
		return nil, err
	}
	return c.engine.DealsByFreelancer(args.Address)
}

func (c *Contract) getNextDealID(types.CallContext, []byte) (interface{}, error) {
	return c.engine.NextDealID()
}
