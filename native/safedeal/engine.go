package safedeal

import (
	"fmt"

	"github.com/holiman/uint256"

	"safedeal/core/events"
	"safedeal/core/types"
	"safedeal/native/common"
	"safedeal/native/token"
)

// Default settlement parameters.
const (
	DefaultExecutionReserve       uint64 = 1_000_000_000
	DefaultMaxGasForExecution     uint64 = 20_000_000
	DefaultExecutionBufferPeriods uint64 = 1
)

// FnProcessDeal is the entry point booked for deadline settlement.
const FnProcessDeal = "processDeal"

// MaxSettlementParamsSize is the encoded size of the settlement call
// arguments for the largest deal id.
const MaxSettlementParamsSize = 10

// MaxSettlementFee is the highest booking fee a settlement call can be quoted
// under the given pricing. The congestion premium never exceeds baseFee, so
// the bound is 2*baseFee + maxGas*gasPrice + byteFee*MaxSettlementParamsSize.
// ok is false when the bound does not fit in a uint64.
func MaxSettlementFee(baseFee, gasPrice, byteFee, maxGas uint64) (fee uint64, ok bool) {
	total := new(uint256.Int).Mul(uint256.NewInt(baseFee), uint256.NewInt(2))
	total.Add(total, new(uint256.Int).Mul(uint256.NewInt(maxGas), uint256.NewInt(gasPrice)))
	total.Add(total, new(uint256.Int).Mul(uint256.NewInt(byteFee), uint256.NewInt(MaxSettlementParamsSize)))
	if !total.IsUint64() {
		return 0, false
	}
	return total.Uint64(), true
}

type engineState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVGetList(key []byte, out interface{}) error
}

// engineHost exposes the chain primitives the contract needs beyond storage.
type engineHost interface {
	// TransferCoins moves native coins out of the executing contract.
	TransferCoins(ctx types.CallContext, to [20]byte, amount uint64) error
	// Call invokes another contract with the executing contract as caller.
	Call(ctx types.CallContext, target [20]byte, function string, args []byte, coins uint64) ([]byte, error)
	DeferredCallQuote(slot types.Slot, maxGas, paramsSize uint64) (uint64, error)
	// DeferredCallRegister books a future call and charges the booking fee to
	// the executing contract.
	DeferredCallRegister(ctx types.CallContext, target [20]byte, function string, slot types.Slot, maxGas uint64, params []byte, coins uint64) (string, error)
}

// Params configures settlement behaviour.
type Params struct {
	// AllowedToken is the only token accepted by createDealForToken.
	AllowedToken [20]byte
	// ExecutionReserve is withheld from attached coins to pay for the
	// deferred settlement booking.
	ExecutionReserve       uint64
	MaxGasForExecution     uint64
	ExecutionBufferPeriods uint64
	// AutoExecution books a processDeal call at creation. When disabled the
	// full attached amount is escrowed and settlement relies on external
	// processDeal calls.
	AutoExecution bool
}

// DefaultParams returns the production settlement parameters.
func DefaultParams(allowedToken [20]byte) Params {
	return Params{
		AllowedToken:           allowedToken,
		ExecutionReserve:       DefaultExecutionReserve,
		MaxGasForExecution:     DefaultMaxGasForExecution,
		ExecutionBufferPeriods: DefaultExecutionBufferPeriods,
		AutoExecution:          true,
	}
}

// Engine implements the SafeDeal escrow state machine on top of the host
// chain's storage, transfer and scheduling primitives.
type Engine struct {
	state   engineState
	host    engineHost
	emitter events.Emitter
	params  Params
}

// NewEngine creates an engine with a no-op emitter. Callers can override the
// emitter via SetEmitter.
func NewEngine(params Params) *Engine {
	return &Engine{emitter: events.NoopEmitter{}, params: params}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetHost configures the chain primitives used by the engine.
func (e *Engine) SetHost(host engineHost) { e.host = host }

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// Params returns the active settlement parameters.
func (e *Engine) Params() Params { return e.params }

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(dealEvent{evt: event})
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.host == nil {
		return errNilHost
	}
	return nil
}

func validateTerms(ctx types.CallContext, freelancer [20]byte, deadlineSlot uint64, mode Mode, note string) error {
	if !mode.Valid() {
		return ErrInvalidMode
	}
	if deadlineSlot <= ctx.Slot.Period {
		return fmt.Errorf("%w: deadline %d, current period %d", ErrDeadlineNotInFuture, deadlineSlot, ctx.Slot.Period)
	}
	if ctx.Caller == freelancer {
		return ErrSelfDeal
	}
	if len(note) > MaxNoteLength {
		return ErrNoteTooLong
	}
	return nil
}

// CreateDealForNativeCoin escrows the coins attached to the call. With
// auto-execution enabled the execution reserve is withheld to book the
// settlement call.
func (e *Engine) CreateDealForNativeCoin(ctx types.CallContext, freelancer [20]byte, deadlineSlot uint64, mode Mode, note string) (*Deal, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := validateTerms(ctx, freelancer, deadlineSlot, mode, note); err != nil {
		return nil, err
	}
	amount := ctx.Coins
	if e.params.AutoExecution {
		if ctx.Coins <= e.params.ExecutionReserve {
			return nil, fmt.Errorf("%w: attached %d, reserve %d", ErrInsufficientReserve, ctx.Coins, e.params.ExecutionReserve)
		}
		amount = ctx.Coins - e.params.ExecutionReserve
	}
	if amount == 0 {
		return nil, ErrZeroAmount
	}
	deal := &Deal{
		Client:       ctx.Caller,
		Freelancer:   freelancer,
		AssetType:    AssetNativeCoin,
		Amount:       amount,
		DeadlineSlot: deadlineSlot,
		Mode:         mode,
		Status:       StatusActive,
		CreatedSlot:  ctx.Slot.Period,
		Note:         note,
	}
	return e.openDeal(ctx, deal)
}

// CreateDealForToken pulls amount of the allowed token from the caller. The
// caller must have approved the contract beforehand.
func (e *Engine) CreateDealForToken(ctx types.CallContext, freelancer, tokenAddr [20]byte, amount, deadlineSlot uint64, mode Mode, note string) (*Deal, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if amount == 0 {
		return nil, ErrZeroAmount
	}
	if !e.params.AutoExecution && ctx.Coins > 0 {
		return nil, fmt.Errorf("%w: attached %d", ErrUnexpectedCoins, ctx.Coins)
	}
	if tokenAddr != e.params.AllowedToken || tokenAddr == ([20]byte{}) {
		return nil, ErrTokenNotAllowed
	}
	if err := validateTerms(ctx, freelancer, deadlineSlot, mode, note); err != nil {
		return nil, err
	}
	pulled, err := e.host.Call(ctx, tokenAddr, token.FnTransferFrom, common.MustEncodeArgs(&token.TransferFromArgs{
		From:   ctx.Caller,
		To:     ctx.Callee,
		Amount: amount,
	}), 0)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenTransferFailed, err)
	}
	var ok bool
	if err := common.DecodeResult(pulled, &ok); err != nil || !ok {
		return nil, ErrTokenTransferFailed
	}
	if e.params.AutoExecution && ctx.Coins < e.params.ExecutionReserve {
		return nil, fmt.Errorf("%w: attached %d, reserve %d", ErrInsufficientReserve, ctx.Coins, e.params.ExecutionReserve)
	}
	deal := &Deal{
		Client:       ctx.Caller,
		Freelancer:   freelancer,
		AssetType:    AssetToken,
		Token:        tokenAddr,
		Amount:       amount,
		DeadlineSlot: deadlineSlot,
		Mode:         mode,
		Status:       StatusActive,
		CreatedSlot:  ctx.Slot.Period,
		Note:         note,
	}
	return e.openDeal(ctx, deal)
}

// openDeal assigns the id, persists the deal with its indexes and books the
// settlement call.
func (e *Engine) openDeal(ctx types.CallContext, deal *Deal) (*Deal, error) {
	id, err := e.allocateDealID()
	if err != nil {
		return nil, err
	}
	deal.ID = id
	if err := e.storeDeal(deal); err != nil {
		return nil, err
	}
	if err := e.appendIndex(clientIndexKey(deal.Client), id); err != nil {
		return nil, err
	}
	if err := e.appendIndex(freelancerIndexKey(deal.Freelancer), id); err != nil {
		return nil, err
	}
	executionPeriod := deal.DeadlineSlot + e.params.ExecutionBufferPeriods
	if e.params.AutoExecution {
		if err := e.scheduleSettlement(ctx, deal, executionPeriod); err != nil {
			return nil, err
		}
	}
	e.emit(NewCreatedEvent(deal, executionPeriod, e.params.AutoExecution))
	return deal.Clone(), nil
}

func (e *Engine) scheduleSettlement(ctx types.CallContext, deal *Deal, executionPeriod uint64) error {
	target := types.Slot{Period: executionPeriod, Thread: ctx.Slot.Thread}
	params := common.MustEncodeArgs(&DealIDArgs{ID: deal.ID})
	fee, err := e.host.DeferredCallQuote(target, e.params.MaxGasForExecution, uint64(len(params)))
	if err != nil {
		return fmt.Errorf("safedeal: quote settlement call: %w", err)
	}
	// The fee is burned from the contract balance and must come out of the
	// withheld reserve, never out of escrowed funds.
	if fee > e.params.ExecutionReserve {
		return fmt.Errorf("%w: booking fee %d exceeds reserve %d", ErrInsufficientReserve, fee, e.params.ExecutionReserve)
	}
	e.emit(NewDeferredQuoteEvent(deal.ID, target, fee, e.params.MaxGasForExecution))
	callID, err := e.host.DeferredCallRegister(ctx, ctx.Callee, FnProcessDeal, target, e.params.MaxGasForExecution, params, 0)
	if err != nil {
		return fmt.Errorf("safedeal: book settlement call: %w", err)
	}
	e.emit(NewScheduledEvent(deal.ID, callID, target, fee))
	return nil
}

// ApproveAndRelease pays the freelancer early. Only the client may call it
// and only while the deal is Active.
func (e *Engine) ApproveAndRelease(ctx types.CallContext, id uint64) error {
	if err := e.ready(); err != nil {
		return err
	}
	deal, err := e.loadDeal(id)
	if err != nil {
		return err
	}
	if ctx.Caller != deal.Client {
		return fmt.Errorf("%w: only the client can approve and release", ErrUnauthorized)
	}
	if deal.Status != StatusActive {
		return fmt.Errorf("%w: status %s", ErrDealNotActive, deal.Status)
	}
	if err := e.payout(ctx, deal, deal.Freelancer); err != nil {
		return err
	}
	deal.Status = StatusCompleted
	if err := e.storeDeal(deal); err != nil {
		return err
	}
	e.emit(NewCompletedEvent(deal))
	return nil
}

// RaiseDispute freezes an Active deal. Either party may call it. Disputed
// funds stay in the contract.
func (e *Engine) RaiseDispute(ctx types.CallContext, id uint64) error {
	if err := e.ready(); err != nil {
		return err
	}
	deal, err := e.loadDeal(id)
	if err != nil {
		return err
	}
	if ctx.Caller != deal.Client && ctx.Caller != deal.Freelancer {
		return fmt.Errorf("%w: only the client or freelancer can raise a dispute", ErrUnauthorized)
	}
	if deal.Status != StatusActive {
		return fmt.Errorf("%w: status %s", ErrDealNotActive, deal.Status)
	}
	deal.Status = StatusDisputed
	if err := e.storeDeal(deal); err != nil {
		return err
	}
	e.emit(NewDisputedEvent(deal, ctx.Caller))
	return nil
}

// ProcessDeal settles an Active deal whose deadline has been reached. Anyone
// may call it; calls on non-Active deals or before the deadline are no-ops.
func (e *Engine) ProcessDeal(ctx types.CallContext, id uint64) error {
	if err := e.ready(); err != nil {
		return err
	}
	e.emit(NewProcessCalledEvent(id, ctx.Caller, ctx.Slot.Period))
	deal, err := e.loadDeal(id)
	if err != nil {
		return err
	}
	e.emit(NewStateEvent(deal))
	if deal.Status != StatusActive {
		e.emit(NewSkippedEvent(deal, SkipReasonNotActive, ctx.Slot.Period))
		return nil
	}
	if ctx.Slot.Period < deal.DeadlineSlot {
		e.emit(NewSkippedEvent(deal, SkipReasonBeforeDeadline, ctx.Slot.Period))
		return nil
	}
	if deal.Mode == ModeAutoRelease {
		if err := e.payout(ctx, deal, deal.Freelancer); err != nil {
			return err
		}
		deal.Status = StatusCompleted
		if err := e.storeDeal(deal); err != nil {
			return err
		}
		e.emit(NewAutoReleasedEvent(deal))
		return nil
	}
	if err := e.payout(ctx, deal, deal.Client); err != nil {
		return err
	}
	deal.Status = StatusRefunded
	if err := e.storeDeal(deal); err != nil {
		return err
	}
	e.emit(NewAutoRefundedEvent(deal))
	return nil
}

func (e *Engine) payout(ctx types.CallContext, deal *Deal, to [20]byte) error {
	if deal.AssetType == AssetNativeCoin {
		return e.host.TransferCoins(ctx, to, deal.Amount)
	}
	out, err := e.host.Call(ctx, deal.Token, token.FnTransfer, common.MustEncodeArgs(&token.TransferArgs{
		To:     to,
		Amount: deal.Amount,
	}), 0)
	if err != nil {
		return fmt.Errorf("safedeal: token payout: %w", err)
	}
	var ok bool
	if err := common.DecodeResult(out, &ok); err != nil || !ok {
		return ErrTokenTransferFailed
	}
	return nil
}

// GetDeal returns a copy of the stored deal.
func (e *Engine) GetDeal(id uint64) (*Deal, error) {
	deal, err := e.loadDeal(id)
	if err != nil {
		return nil, err
	}
	return deal.Clone(), nil
}

// DealsByClient lists deal ids created by addr in creation order.
func (e *Engine) DealsByClient(addr [20]byte) ([]uint64, error) {
	return e.loadIndex(clientIndexKey(addr))
}

// DealsByFreelancer lists deal ids naming addr as freelancer in creation order.
func (e *Engine) DealsByFreelancer(addr [20]byte) ([]uint64, error) {
	return e.loadIndex(freelancerIndexKey(addr))
}

// NextDealID returns the id the next created deal will receive.
func (e *Engine) NextDealID() (uint64, error) {
	return e.nextDealID()
}
