package core

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/holiman/uint256"

	"safedeal/core/events"
	"safedeal/core/genesis"
	"safedeal/core/state"
	"safedeal/core/types"
	"safedeal/crypto"
	"safedeal/native/common"
	"safedeal/native/safedeal"
	"safedeal/native/token"
	"safedeal/observability"
	"safedeal/storage"
)

var (
	ErrWrongNetwork     = errors.New("node: call signed for another network")
	ErrNonceMismatch    = errors.New("node: nonce mismatch")
	ErrUnknownContract  = errors.New("node: unknown contract")
	ErrCallDepth        = errors.New("node: call depth exceeded")
	ErrFaucetDisabled   = errors.New("node: faucet disabled")
	ErrReceiptNotFound  = errors.New("node: receipt not found")
	ErrSlotNotAdvancing = errors.New("node: target slot is not after the current slot")
)

// Built-in contract addresses.
var (
	SafeDealAddress = crypto.ContractAddress("safedeal").Bytes20()
	TokenAddress    = crypto.ContractAddress("token").Bytes20()
)

var (
	genesisTimeKey = []byte("chain/genesis")
	currentSlotKey = []byte("chain/slot")
)

func receiptKey(id string) []byte { return []byte("receipt/" + id) }

const defaultMaxCallDepth = 8

// Config wires the runtime.
type Config struct {
	Network string
	// Genesis, when set, provides the genesis time and allocations applied on
	// first start. Otherwise GenesisTime is used.
	Genesis      *genesis.GenesisSpec
	GenesisTime  time.Time
	T0           time.Duration
	Threads      uint8
	Scheduler    SchedulerConfig
	SafeDeal     safedeal.Params
	Token        token.Metadata
	AllowFaucet  bool
	MaxCallDepth int
}

// Status summarises the chain.
type Status struct {
	Network         string     `json:"network"`
	Slot            types.Slot `json:"slot"`
	GenesisTime     time.Time  `json:"genesisTime"`
	T0Millis        int64      `json:"t0Millis"`
	Threads         uint8      `json:"threads"`
	SafeDeal        string     `json:"safedeal"`
	Token           string     `json:"token"`
	NextDealID      uint64     `json:"nextDealId"`
	Burned          string     `json:"burned"`
	EventSequence   int64      `json:"eventSequence"`
	AutoExecution   bool       `json:"autoExecution"`
	FaucetAvailable bool       `json:"faucetAvailable"`
}

// Node executes calls against the built-in contracts and moves chain time
// forward. All state-changing work is serialized behind one mutex and each
// execution either commits as a whole or leaves no trace.
type Node struct {
	mu sync.Mutex

	cfg       Config
	db        storage.Database
	state     *state.Manager
	clock     *Clock
	scheduler *Scheduler
	contracts map[[20]byte]common.Contract
	buffer    *events.Buffer
	journal   events.Journal
	feed      *events.Feed

	engine *safedeal.Engine
	ledger *token.Ledger
	tokenC *token.Contract

	slot        types.Slot
	callDepth   int
	pendingFees uint64

	logger  *slog.Logger
	metrics interface {
		RecordCall(string, error)
		RecordEvent(string)
		RecordDeferred(error)
		SetPeriod(uint64)
		AddBookingFee(uint64)
	}
}

// NewNode opens the runtime over db. Genesis is applied on the first start
// only; later starts resume from the persisted slot.
func NewNode(db storage.Database, journal events.Journal, cfg Config, logger *slog.Logger) (*Node, error) {
	if db == nil {
		return nil, fmt.Errorf("node: database required")
	}
	if journal == nil {
		journal = events.NewMemoryJournal()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Genesis != nil {
		if cfg.Network == "" {
			cfg.Network = cfg.Genesis.Network
		}
		if cfg.Network != cfg.Genesis.Network {
			return nil, fmt.Errorf("node: network %q does not match genesis %q", cfg.Network, cfg.Genesis.Network)
		}
		if cfg.Genesis.Token != nil {
			cfg.Token = token.Metadata{
				Name:     cfg.Genesis.Token.Name,
				Symbol:   cfg.Genesis.Token.Symbol,
				Decimals: cfg.Genesis.Token.Decimals,
			}
		}
	}
	if cfg.Network == "" {
		return nil, fmt.Errorf("node: network required")
	}
	if cfg.MaxCallDepth <= 0 {
		cfg.MaxCallDepth = defaultMaxCallDepth
	}
	if cfg.SafeDeal.AllowedToken == ([20]byte{}) {
		cfg.SafeDeal.AllowedToken = TokenAddress
	}

	n := &Node{
		cfg:       cfg,
		db:        db,
		state:     state.NewManager(db),
		buffer:    &events.Buffer{},
		journal:   journal,
		feed:      events.NewFeed(),
		contracts: make(map[[20]byte]common.Contract),
		logger:    logger.With(slog.String("component", "node")),
		metrics:   observability.Chain(),
	}

	n.ledger = token.NewLedger(TokenAddress)
	n.ledger.SetState(n.state)
	n.ledger.SetEmitter(n.buffer)
	n.tokenC = token.NewContract(n.ledger, cfg.Token)

	n.engine = safedeal.NewEngine(cfg.SafeDeal)
	n.engine.SetState(n.state)
	n.engine.SetHost(&chainHost{node: n})
	n.engine.SetEmitter(n.buffer)

	n.contracts[SafeDealAddress] = safedeal.NewContract(n.engine)
	n.contracts[TokenAddress] = n.tokenC

	genesisTime, err := n.loadOrApplyGenesis()
	if err != nil {
		return nil, err
	}
	clock, err := NewClock(genesisTime, cfg.T0, cfg.Threads)
	if err != nil {
		return nil, err
	}
	n.clock = clock
	n.scheduler = NewScheduler(n.state, cfg.Scheduler, cfg.Threads)

	if _, err := n.state.KVGet(currentSlotKey, &n.slot); err != nil {
		return nil, fmt.Errorf("node: load slot: %w", err)
	}
	n.metrics.SetPeriod(n.slot.Period)
	n.logger.Info("node ready",
		slog.String("network", cfg.Network),
		slog.String("slot", n.slot.String()),
		slog.String("safedeal", crypto.FormatAccount(SafeDealAddress)),
		slog.String("token", crypto.FormatAccount(TokenAddress)))
	return n, nil
}

func (n *Node) loadOrApplyGenesis() (time.Time, error) {
	raw, err := n.state.Get(genesisTimeKey)
	if err != nil {
		return time.Time{}, fmt.Errorf("node: load genesis: %w", err)
	}
	if len(raw) == 8 {
		return time.Unix(0, int64(binary.BigEndian.Uint64(raw))).UTC(), nil
	}

	ts := n.cfg.GenesisTime
	if n.cfg.Genesis != nil {
		ts = n.cfg.Genesis.GenesisTimestamp()
		if err := genesis.Apply(n.cfg.Genesis, n.state, n.ledger); err != nil {
			n.state.Discard()
			return time.Time{}, fmt.Errorf("node: apply genesis: %w", err)
		}
	}
	if ts.IsZero() {
		ts = time.Now()
	}
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(ts.UnixNano()))
	if err := n.state.Put(genesisTimeKey, buf); err != nil {
		return time.Time{}, err
	}
	n.buffer.Reset()
	if err := n.state.Commit(); err != nil {
		return time.Time{}, err
	}
	n.logger.Info("genesis applied", slog.Time("genesisTime", ts))
	return ts.UTC(), nil
}

// Close releases the event feed and journal. The database is owned by the
// caller.
func (n *Node) Close() error {
	n.feed.Close()
	return n.journal.Close()
}

// Network returns the network name calls must be signed for.
func (n *Node) Network() string { return n.cfg.Network }

// Clock exposes slot timing.
func (n *Node) Clock() *Clock { return n.clock }

// CurrentSlot returns the last processed slot.
func (n *Node) CurrentSlot() types.Slot {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.slot
}

// SubmitCall verifies and executes a signed call. A failing call leaves no
// state, nonce change, receipt or event behind.
func (n *Node) SubmitCall(call *types.Call) (*types.Receipt, error) {
	if call == nil {
		return nil, fmt.Errorf("node: nil call")
	}
	if call.Network != n.cfg.Network {
		return nil, fmt.Errorf("%w: got %q, want %q", ErrWrongNetwork, call.Network, n.cfg.Network)
	}
	from, err := call.From20()
	if err != nil {
		return nil, err
	}
	hash, err := call.Hash32()
	if err != nil {
		return nil, err
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	account, err := n.state.GetAccount(from)
	if err != nil {
		return nil, err
	}
	if account.Nonce != call.Nonce {
		return nil, fmt.Errorf("%w: expected %d, got %d", ErrNonceMismatch, account.Nonce, call.Nonce)
	}
	contract, ok := n.contracts[call.Target]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownContract, crypto.FormatAccount(call.Target))
	}

	ctx := types.CallContext{
		Caller: from,
		Callee: call.Target,
		Coins:  call.Coins,
		Slot:   n.slot,
		TxHash: hash,
	}
	n.buffer.Reset()
	n.pendingFees = 0
	result, err := n.execute(contract, ctx, call.Function, call.Args, from)
	n.metrics.RecordCall(call.Function, err)
	if err != nil {
		n.abort()
		n.logger.Debug("call failed",
			slog.String("txHash", events.FormatHash(hash)),
			slog.String("function", call.Function),
			slog.Any("error", err))
		return nil, err
	}
	if err := n.state.IncrementNonce(from); err != nil {
		n.abort()
		return nil, err
	}
	receipt := &types.Receipt{
		TxHash:   events.FormatHash(hash),
		Slot:     n.slot,
		Caller:   crypto.FormatAccount(from),
		Target:   crypto.FormatAccount(call.Target),
		Function: call.Function,
		Coins:    call.Coins,
		Events:   n.buffer.Events(),
	}
	if len(result) > 0 {
		receipt.Result = "0x" + hex.EncodeToString(result)
	}
	if err := n.finish(receipt.TxHash, receipt); err != nil {
		return nil, err
	}
	return receipt, nil
}

// execute moves the attached coins to the callee and dispatches.
func (n *Node) execute(contract common.Contract, ctx types.CallContext, function string, args []byte, coinSource [20]byte) ([]byte, error) {
	if err := n.state.TransferCoins(coinSource, ctx.Callee, ctx.Coins); err != nil {
		return nil, fmt.Errorf("node: attach coins: %w", err)
	}
	return contract.Invoke(ctx, function, args)
}

func (n *Node) abort() {
	n.state.Discard()
	n.buffer.Reset()
	n.pendingFees = 0
	n.callDepth = 0
}

// finish stores the receipt, commits and publishes the buffered events.
func (n *Node) finish(id string, receipt *types.Receipt) error {
	encoded, err := json.Marshal(receipt)
	if err != nil {
		n.abort()
		return err
	}
	if err := n.state.Put(receiptKey(id), encoded); err != nil {
		n.abort()
		return err
	}
	if err := n.state.Commit(); err != nil {
		n.abort()
		return err
	}
	if n.pendingFees > 0 {
		n.metrics.AddBookingFee(n.pendingFees)
		n.pendingFees = 0
	}
	n.publish(receipt.Slot, receipt.TxHash, receipt.Events)
	n.buffer.Reset()
	return nil
}

func (n *Node) publish(slot types.Slot, txHash string, evts []*types.Event) {
	if len(evts) == 0 {
		return
	}
	now := n.clock.now().Unix()
	records := make([]events.Record, 0, len(evts))
	for _, evt := range evts {
		n.metrics.RecordEvent(evt.Type)
		records = append(records, events.Record{
			Type:       evt.Type,
			Attributes: evt.Attributes,
			Period:     slot.Period,
			Thread:     slot.Thread,
			TxHash:     txHash,
			Timestamp:  now,
		})
	}
	stored, err := n.journal.Append(records)
	if err != nil {
		n.logger.Error("append events to journal", slog.Any("error", err))
		return
	}
	n.feed.Publish(stored)
}

// Read runs a read-only function against committed state. Any writes are
// discarded.
func (n *Node) Read(caller, target [20]byte, function string, args []byte) ([]byte, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	contract, ok := n.contracts[target]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownContract, crypto.FormatAccount(target))
	}
	defer n.abort()
	return contract.Invoke(types.CallContext{
		Caller:   caller,
		Callee:   target,
		Slot:     n.slot,
		ReadOnly: true,
	}, function, args)
}

// AdvanceTo processes every slot up to and including target, running the
// deferred calls booked for each. On failure the clock stays at the last
// persisted slot so the next advance revisits the calls that did not run.
func (n *Node) AdvanceTo(target types.Slot) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.slot.Before(target) {
		return nil
	}
	start := n.slot
	for n.slot.Before(target) {
		n.slot = n.slot.Next(n.cfg.Threads)
		due, err := n.scheduler.Due(n.slot)
		if err != nil {
			n.slot = start
			return err
		}
		for _, call := range due {
			if err := n.runDeferred(call, n.slot); err != nil {
				n.slot = start
				return err
			}
		}
	}
	if err := n.state.KVPut(currentSlotKey, n.slot); err != nil {
		n.abort()
		n.slot = start
		return err
	}
	if err := n.state.Commit(); err != nil {
		n.abort()
		n.slot = start
		return err
	}
	n.metrics.SetPeriod(n.slot.Period)
	return nil
}

// AdvancePeriods moves chain time forward by the given number of periods.
func (n *Node) AdvancePeriods(periods uint64) (types.Slot, error) {
	if periods == 0 {
		return n.CurrentSlot(), ErrSlotNotAdvancing
	}
	current := n.CurrentSlot()
	target := types.Slot{Period: current.Period + periods, Thread: current.Thread}
	if err := n.AdvanceTo(target); err != nil {
		return types.Slot{}, err
	}
	return target, nil
}

// runDeferred executes one booked call atomically. A failing call is
// recorded as failed and its attached coins return to the sender; only a
// storage failure aborts the advance.
func (n *Node) runDeferred(call *DeferredCall, slot types.Slot) error {
	n.buffer.Reset()
	n.pendingFees = 0
	snap := n.state.Snapshot()

	var execErr error
	contract, ok := n.contracts[call.Target]
	if !ok {
		execErr = fmt.Errorf("%w: %s", ErrUnknownContract, crypto.FormatAccount(call.Target))
	} else {
		_, execErr = n.execute(contract, types.CallContext{
			Caller: call.Sender,
			Callee: call.Target,
			Coins:  call.Coins,
			Slot:   slot,
		}, call.Function, call.Params, DeferredCallsAddress)
	}
	if execErr != nil {
		n.state.RevertToSnapshot(snap)
		n.buffer.Reset()
		n.pendingFees = 0
		n.callDepth = 0
		if err := n.state.TransferCoins(DeferredCallsAddress, call.Sender, call.Coins); err != nil {
			n.abort()
			return err
		}
		n.logger.Warn("deferred call failed",
			slog.String("callId", call.ID),
			slog.String("function", call.Function),
			slog.String("slot", slot.String()),
			slog.Any("error", execErr))
	}
	n.metrics.RecordDeferred(execErr)
	if err := n.scheduler.MarkExecuted(call.ID, execErr); err != nil {
		n.abort()
		return err
	}
	executed := events.DeferredExecuted{
		CallID:   call.ID,
		Target:   call.Target,
		Function: call.Function,
		Slot:     slot,
	}
	if execErr != nil {
		executed.Err = execErr.Error()
	}
	n.buffer.Emit(executed)
	receipt := &types.Receipt{
		TxHash:   call.ID,
		Slot:     slot,
		Caller:   crypto.FormatAccount(call.Sender),
		Target:   crypto.FormatAccount(call.Target),
		Function: call.Function,
		Coins:    call.Coins,
		Events:   n.buffer.Events(),
	}
	return n.finish(call.ID, receipt)
}

// Faucet credits coins and tokens on development networks.
func (n *Node) Faucet(to [20]byte, coins, tokens uint64) error {
	if !n.cfg.AllowFaucet {
		return ErrFaucetDisabled
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.buffer.Reset()
	if err := n.state.AddBalance(to, uint256.NewInt(coins)); err != nil {
		n.abort()
		return err
	}
	if err := n.ledger.Mint(to, tokens); err != nil {
		n.abort()
		return err
	}
	n.buffer.Emit(events.Faucet{To: to, Coins: coins, Tokens: tokens})
	if err := n.state.Commit(); err != nil {
		n.abort()
		return err
	}
	n.publish(n.slot, "", n.buffer.Events())
	n.buffer.Reset()
	return nil
}

// query runs fn under the node lock and drops anything it staged.
func (n *Node) query(fn func() error) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	defer n.abort()
	return fn()
}

// Status reports the chain position and built-in contract addresses.
func (n *Node) Status() (*Status, error) {
	out := &Status{
		Network:         n.cfg.Network,
		GenesisTime:     n.clock.Genesis(),
		T0Millis:        n.clock.T0().Milliseconds(),
		Threads:         n.clock.Threads(),
		SafeDeal:        crypto.FormatAccount(SafeDealAddress),
		Token:           crypto.FormatAccount(TokenAddress),
		AutoExecution:   n.cfg.SafeDeal.AutoExecution,
		FaucetAvailable: n.cfg.AllowFaucet,
	}
	err := n.query(func() error {
		out.Slot = n.slot
		next, err := n.engine.NextDealID()
		if err != nil {
			return err
		}
		out.NextDealID = next
		burned, err := n.state.Burned()
		if err != nil {
			return err
		}
		out.Burned = burned.Dec()
		seq, err := n.journal.LastSequence()
		if err != nil {
			return err
		}
		out.EventSequence = seq
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Account returns the native account of addr.
func (n *Node) Account(addr [20]byte) (*state.Account, error) {
	var out *state.Account
	err := n.query(func() error {
		account, err := n.state.GetAccount(addr)
		out = account
		return err
	})
	return out, err
}

// TokenBalance returns the allowed token balance of owner.
func (n *Node) TokenBalance(owner [20]byte) (*uint256.Int, error) {
	var out *uint256.Int
	err := n.query(func() error {
		bal, err := n.ledger.BalanceOf(owner)
		out = bal
		return err
	})
	return out, err
}

// TokenAllowance returns how much spender may move on behalf of owner.
func (n *Node) TokenAllowance(owner, spender [20]byte) (*uint256.Int, error) {
	var out *uint256.Int
	err := n.query(func() error {
		allowance, err := n.ledger.Allowance(owner, spender)
		out = allowance
		return err
	})
	return out, err
}

// TokenMetadata describes the allowed token.
func (n *Node) TokenMetadata() token.Metadata { return n.tokenC.Metadata() }

// GetDeal returns the stored deal.
func (n *Node) GetDeal(id uint64) (*safedeal.Deal, error) {
	var out *safedeal.Deal
	err := n.query(func() error {
		deal, err := n.engine.GetDeal(id)
		out = deal
		return err
	})
	return out, err
}

// DealsByClient lists the ids of deals created by addr.
func (n *Node) DealsByClient(addr [20]byte) ([]uint64, error) {
	var out []uint64
	err := n.query(func() error {
		ids, err := n.engine.DealsByClient(addr)
		out = ids
		return err
	})
	return out, err
}

// DealsByFreelancer lists the ids of deals naming addr as freelancer.
func (n *Node) DealsByFreelancer(addr [20]byte) ([]uint64, error) {
	var out []uint64
	err := n.query(func() error {
		ids, err := n.engine.DealsByFreelancer(addr)
		out = ids
		return err
	})
	return out, err
}

// NextDealID returns the id the next deal will receive.
func (n *Node) NextDealID() (uint64, error) {
	var out uint64
	err := n.query(func() error {
		next, err := n.engine.NextDealID()
		out = next
		return err
	})
	return out, err
}

// Receipt loads the receipt of a transaction hash or deferred call id.
func (n *Node) Receipt(id string) (*types.Receipt, error) {
	var out *types.Receipt
	err := n.query(func() error {
		raw, err := n.state.Get(receiptKey(id))
		if err != nil {
			return err
		}
		if raw == nil {
			return ErrReceiptNotFound
		}
		out = new(types.Receipt)
		return json.Unmarshal(raw, out)
	})
	return out, err
}

// DeferredCall loads a booked call.
func (n *Node) DeferredCall(id string) (*DeferredCall, error) {
	var out *DeferredCall
	err := n.query(func() error {
		call, err := n.scheduler.Get(id)
		out = call
		return err
	})
	return out, err
}

// Quote prices a deferred call booking at target from the current slot.
func (n *Node) Quote(target types.Slot, maxGas, paramsSize uint64) (uint64, error) {
	var out uint64
	err := n.query(func() error {
		fee, err := n.scheduler.Quote(n.slot, target, maxGas, paramsSize)
		out = fee
		return err
	})
	return out, err
}

// EventsSince returns committed events after the given sequence.
func (n *Node) EventsSince(after int64, limit int) ([]events.Record, error) {
	return n.journal.Since(after, limit)
}

// Subscribe streams events committed from now on.
func (n *Node) Subscribe(buffer int) (<-chan events.Record, func(), error) {
	return n.feed.Subscribe(buffer)
}

// chainHost exposes the node primitives to contracts.
type chainHost struct {
	node *Node
}

func (h *chainHost) TransferCoins(ctx types.CallContext, to [20]byte, amount uint64) error {
	if amount == 0 {
		return nil
	}
	if err := h.node.state.TransferCoins(ctx.Callee, to, amount); err != nil {
		return err
	}
	h.node.buffer.Emit(events.Transfer{From: ctx.Callee, To: to, Amount: amount})
	return nil
}

// Call runs a nested invocation with the current contract as caller. A
// failing nested call rolls back only its own writes and events.
func (h *chainHost) Call(ctx types.CallContext, target [20]byte, function string, args []byte, coins uint64) ([]byte, error) {
	n := h.node
	if n.callDepth >= n.cfg.MaxCallDepth {
		return nil, ErrCallDepth
	}
	contract, ok := n.contracts[target]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownContract, crypto.FormatAccount(target))
	}
	snap := n.state.Snapshot()
	mark := n.buffer.Mark()
	n.callDepth++
	defer func() { n.callDepth-- }()
	out, err := n.execute(contract, types.CallContext{
		Caller:   ctx.Callee,
		Callee:   target,
		Coins:    coins,
		Slot:     ctx.Slot,
		TxHash:   ctx.TxHash,
		ReadOnly: ctx.ReadOnly,
	}, function, args, ctx.Callee)
	if err != nil {
		n.state.RevertToSnapshot(snap)
		n.buffer.Truncate(mark)
		return nil, err
	}
	return out, nil
}

func (h *chainHost) DeferredCallQuote(slot types.Slot, maxGas, paramsSize uint64) (uint64, error) {
	return h.node.scheduler.Quote(h.node.slot, slot, maxGas, paramsSize)
}

func (h *chainHost) DeferredCallRegister(ctx types.CallContext, target [20]byte, function string, slot types.Slot, maxGas uint64, params []byte, coins uint64) (string, error) {
	call, err := h.node.scheduler.Register(ctx.Slot, ctx.Callee, target, function, slot, maxGas, params, coins)
	if err != nil {
		return "", err
	}
	h.node.pendingFees += call.Fee
	return call.ID, nil
}
