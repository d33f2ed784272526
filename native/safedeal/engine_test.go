package safedeal

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/ethereum/go-ethereum/rlp"

	"safedeal/core/events"
	"safedeal/core/types"
	"safedeal/native/common"
	"safedeal/native/token"
)

type mockState struct {
	values map[string][]byte
}

func newMockState() *mockState { return &mockState{values: make(map[string][]byte)} }

func (m *mockState) KVGet(key []byte, out interface{}) (bool, error) {
	raw, ok := m.values[string(key)]
	if !ok {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	return true, rlp.DecodeBytes(raw, out)
}

func (m *mockState) KVPut(key []byte, value interface{}) error {
	raw, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	m.values[string(key)] = raw
	return nil
}

func (m *mockState) KVGetList(key []byte, out interface{}) error {
	raw, ok := m.values[string(key)]
	if !ok {
		return rlp.DecodeBytes([]byte{0xc0}, out)
	}
	return rlp.DecodeBytes(raw, out)
}

type booking struct {
	target   [20]byte
	function string
	slot     types.Slot
	maxGas   uint64
	params   []byte
	payer    [20]byte
}

type mockHost struct {
	coins     map[[20]byte]uint64
	contracts map[[20]byte]common.Contract
	bookings  []booking
	fee       uint64
	quoteErr  error
}

func newMockHost() *mockHost {
	return &mockHost{
		coins:     make(map[[20]byte]uint64),
		contracts: make(map[[20]byte]common.Contract),
		fee:       1_000,
	}
}

func (h *mockHost) TransferCoins(ctx types.CallContext, to [20]byte, amount uint64) error {
	if h.coins[ctx.Callee] < amount {
		return fmt.Errorf("insufficient contract balance")
	}
	h.coins[ctx.Callee] -= amount
	h.coins[to] += amount
	return nil
}

func (h *mockHost) Call(ctx types.CallContext, target [20]byte, function string, args []byte, coins uint64) ([]byte, error) {
	contract, ok := h.contracts[target]
	if !ok {
		return nil, fmt.Errorf("no contract at target")
	}
	nested := types.CallContext{Caller: ctx.Callee, Callee: target, Coins: coins, Slot: ctx.Slot}
	return contract.Invoke(nested, function, args)
}

func (h *mockHost) DeferredCallQuote(types.Slot, uint64, uint64) (uint64, error) {
	return h.fee, h.quoteErr
}

func (h *mockHost) DeferredCallRegister(ctx types.CallContext, target [20]byte, function string, slot types.Slot, maxGas uint64, params []byte, _ uint64) (string, error) {
	if h.coins[ctx.Callee] < h.fee {
		return "", fmt.Errorf("contract cannot pay booking fee")
	}
	h.coins[ctx.Callee] -= h.fee
	h.bookings = append(h.bookings, booking{target: target, function: function, slot: slot, maxGas: maxGas, params: params, payer: ctx.Callee})
	return fmt.Sprintf("D%d", len(h.bookings)), nil
}

func newTestAddress(fill byte) [20]byte {
	var addr [20]byte
	copy(addr[:], bytes.Repeat([]byte{fill}, 20))
	return addr
}

var (
	contractAddr   = newTestAddress(0xC0)
	tokenAddr      = newTestAddress(0xEE)
	clientAddr     = newTestAddress(0x01)
	freelancerAddr = newTestAddress(0x02)
	strangerAddr   = newTestAddress(0x03)
)

type harness struct {
	engine *Engine
	state  *mockState
	host   *mockHost
	events *events.Buffer
	token  *token.Contract
}

func newHarness(t *testing.T, mutate func(*Params)) *harness {
	t.Helper()
	params := DefaultParams(tokenAddr)
	if mutate != nil {
		mutate(&params)
	}
	state := newMockState()
	host := newMockHost()
	buf := &events.Buffer{}

	ledger := token.NewLedger(tokenAddr)
	ledger.SetState(newMockState())
	tok := token.NewContract(ledger, token.Metadata{Name: "USD Coin (bridged)", Symbol: "USDC.e", Decimals: 6})
	host.contracts[tokenAddr] = tok

	engine := NewEngine(params)
	engine.SetState(state)
	engine.SetHost(host)
	engine.SetEmitter(buf)
	return &harness{engine: engine, state: state, host: host, events: buf, token: tok}
}

// callCtx simulates the host moving attached coins into the contract.
func (h *harness) callCtx(caller [20]byte, coins uint64, period uint64) types.CallContext {
	h.host.coins[contractAddr] += coins
	return types.CallContext{Caller: caller, Callee: contractAddr, Coins: coins, Slot: types.Slot{Period: period, Thread: 7}}
}

func (h *harness) eventTypes() []string {
	out := make([]string, 0)
	for _, evt := range h.events.Events() {
		out = append(out, evt.Type)
	}
	return out
}

func TestCreateDealForNativeCoinStoresIndexesAndSchedules(t *testing.T) {
	h := newHarness(t, nil)
	coins := DefaultExecutionReserve + 5_000_000_000

	deal, err := h.engine.CreateDealForNativeCoin(h.callCtx(clientAddr, coins, 100), freelancerAddr, 110, ModeAutoRelease, "website")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if deal.ID != 1 || deal.Amount != 5_000_000_000 || deal.Status != StatusActive || deal.CreatedSlot != 100 {
		t.Fatalf("unexpected deal %+v", deal)
	}

	next, _ := h.engine.NextDealID()
	if next != 2 {
		t.Fatalf("expected next id 2, got %d", next)
	}
	byClient, _ := h.engine.DealsByClient(clientAddr)
	byFreelancer, _ := h.engine.DealsByFreelancer(freelancerAddr)
	if len(byClient) != 1 || byClient[0] != 1 || len(byFreelancer) != 1 || byFreelancer[0] != 1 {
		t.Fatalf("unexpected indexes client=%v freelancer=%v", byClient, byFreelancer)
	}

	if len(h.host.bookings) != 1 {
		t.Fatalf("expected one booking, got %d", len(h.host.bookings))
	}
	b := h.host.bookings[0]
	if b.slot != (types.Slot{Period: 111, Thread: 7}) || b.function != FnProcessDeal || b.target != contractAddr || b.maxGas != DefaultMaxGasForExecution {
		t.Fatalf("unexpected booking %+v", b)
	}
	var args DealIDArgs
	if err := rlp.DecodeBytes(b.params, &args); err != nil || args.ID != 1 {
		t.Fatalf("unexpected booking params %+v err=%v", args, err)
	}
	if got := h.host.coins[contractAddr]; got != coins-h.host.fee {
		t.Fatalf("contract should hold escrow plus remaining reserve, got %d", got)
	}

	got := h.eventTypes()
	want := []string{EventTypeDeferredQuote, EventTypeDeferredScheduled, EventTypeDealCreated}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("unexpected events %v", got)
	}
	created := h.events.Events()[2]
	if created.Attributes["autoExecution"] != "scheduled" || created.Attributes["executionPeriod"] != "111" || created.Attributes["amount"] != "5000000000" {
		t.Fatalf("unexpected created attributes %+v", created.Attributes)
	}
}

func TestCreateDealValidation(t *testing.T) {
	tests := []struct {
		name       string
		freelancer [20]byte
		deadline   uint64
		mode       Mode
		coins      uint64
		note       string
		wantErr    error
	}{
		{name: "invalid mode", freelancer: freelancerAddr, deadline: 20, mode: Mode(2), coins: 2 * DefaultExecutionReserve, wantErr: ErrInvalidMode},
		{name: "deadline equals current", freelancer: freelancerAddr, deadline: 10, mode: ModeAutoRelease, coins: 2 * DefaultExecutionReserve, wantErr: ErrDeadlineNotInFuture},
		{name: "deadline in past", freelancer: freelancerAddr, deadline: 3, mode: ModeAutoRefund, coins: 2 * DefaultExecutionReserve, wantErr: ErrDeadlineNotInFuture},
		{name: "self deal", freelancer: clientAddr, deadline: 20, mode: ModeAutoRelease, coins: 2 * DefaultExecutionReserve, wantErr: ErrSelfDeal},
		{name: "coins equal reserve", freelancer: freelancerAddr, deadline: 20, mode: ModeAutoRelease, coins: DefaultExecutionReserve, wantErr: ErrInsufficientReserve},
		{name: "note too long", freelancer: freelancerAddr, deadline: 20, mode: ModeAutoRelease, coins: 2 * DefaultExecutionReserve, note: string(make([]byte, MaxNoteLength+1)), wantErr: ErrNoteTooLong},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, nil)
			_, err := h.engine.CreateDealForNativeCoin(h.callCtx(clientAddr, tc.coins, 10), tc.freelancer, tc.deadline, tc.mode, tc.note)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
			next, _ := h.engine.NextDealID()
			if next != 1 {
				t.Fatalf("failed create must not consume an id, next=%d", next)
			}
			if len(h.host.bookings) != 0 || len(h.events.Events()) != 0 {
				t.Fatalf("failed create must not book or emit")
			}
		})
	}
}

func TestApproveAndRelease(t *testing.T) {
	h := newHarness(t, nil)
	deal, err := h.engine.CreateDealForNativeCoin(h.callCtx(clientAddr, DefaultExecutionReserve+700, 1), freelancerAddr, 50, ModeAutoRefund, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := h.engine.ApproveAndRelease(h.callCtx(freelancerAddr, 0, 2), deal.ID); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if err := h.engine.ApproveAndRelease(h.callCtx(clientAddr, 0, 2), deal.ID); err != nil {
		t.Fatalf("approve: %v", err)
	}
	stored, _ := h.engine.GetDeal(deal.ID)
	if stored.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s", stored.Status)
	}
	if h.host.coins[freelancerAddr] != 700 {
		t.Fatalf("freelancer expected 700, got %d", h.host.coins[freelancerAddr])
	}
	if err := h.engine.ApproveAndRelease(h.callCtx(clientAddr, 0, 3), deal.ID); !errors.Is(err, ErrDealNotActive) {
		t.Fatalf("expected not active on second approve, got %v", err)
	}
	if err := h.engine.RaiseDispute(h.callCtx(clientAddr, 0, 3), deal.ID); !errors.Is(err, ErrDealNotActive) {
		t.Fatalf("expected not active on dispute after completion, got %v", err)
	}
}

func TestDisputeFreezesDeal(t *testing.T) {
	h := newHarness(t, nil)
	deal, err := h.engine.CreateDealForNativeCoin(h.callCtx(clientAddr, DefaultExecutionReserve+1, 1), freelancerAddr, 5, ModeAutoRelease, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := h.engine.RaiseDispute(h.callCtx(strangerAddr, 0, 2), deal.ID); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if err := h.engine.RaiseDispute(h.callCtx(freelancerAddr, 0, 2), deal.ID); err != nil {
		t.Fatalf("dispute: %v", err)
	}
	last := h.events.Events()[len(h.events.Events())-1]
	if last.Type != EventTypeDealDisputed || last.Attributes["disputedBy"] == "" {
		t.Fatalf("unexpected dispute event %+v", last)
	}

	h.events.Reset()
	if err := h.engine.ProcessDeal(h.callCtx(strangerAddr, 0, 9), deal.ID); err != nil {
		t.Fatalf("process after dispute must be a no-op, got %v", err)
	}
	evts := h.events.Events()
	if len(evts) != 3 || evts[2].Type != EventTypeProcessSkipped || evts[2].Attributes["reason"] != SkipReasonNotActive {
		t.Fatalf("unexpected events %v", h.eventTypes())
	}
	if h.host.coins[freelancerAddr] != 0 {
		t.Fatalf("disputed funds must stay locked")
	}

	h.events.Reset()
	contractBefore := h.host.coins[contractAddr]
	if err := h.engine.ApproveAndRelease(h.callCtx(clientAddr, 0, 10), deal.ID); !errors.Is(err, ErrDealNotActive) {
		t.Fatalf("expected approve on disputed deal to fail with not active, got %v", err)
	}
	if len(h.events.Events()) != 0 {
		t.Fatalf("rejected approve must not emit, got %v", h.eventTypes())
	}
	if h.host.coins[contractAddr] != contractBefore || h.host.coins[freelancerAddr] != 0 || h.host.coins[clientAddr] != 0 {
		t.Fatalf("rejected approve moved coins: contract=%d freelancer=%d client=%d",
			h.host.coins[contractAddr], h.host.coins[freelancerAddr], h.host.coins[clientAddr])
	}
	if stored, _ := h.engine.GetDeal(deal.ID); stored.Status != StatusDisputed {
		t.Fatalf("deal must stay disputed, got %s", stored.Status)
	}
}

func TestProcessDealBeforeDeadlineKeepsDealActive(t *testing.T) {
	tests := []struct {
		name  string
		asset AssetType
		mode  Mode
	}{
		{name: "native auto release", asset: AssetNativeCoin, mode: ModeAutoRelease},
		{name: "native auto refund", asset: AssetNativeCoin, mode: ModeAutoRefund},
		{name: "token auto release", asset: AssetToken, mode: ModeAutoRelease},
		{name: "token auto refund", asset: AssetToken, mode: ModeAutoRefund},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, nil)
			var (
				deal *Deal
				err  error
			)
			switch tc.asset {
			case AssetNativeCoin:
				deal, err = h.engine.CreateDealForNativeCoin(h.callCtx(clientAddr, DefaultExecutionReserve+500, 1), freelancerAddr, 20, tc.mode, "")
			case AssetToken:
				if err := h.token.Ledger().Mint(clientAddr, 500); err != nil {
					t.Fatalf("mint: %v", err)
				}
				if err := h.token.Ledger().Approve(clientAddr, contractAddr, 500); err != nil {
					t.Fatalf("approve: %v", err)
				}
				deal, err = h.engine.CreateDealForToken(h.callCtx(clientAddr, DefaultExecutionReserve, 1), freelancerAddr, tokenAddr, 500, 20, tc.mode, "")
			}
			if err != nil {
				t.Fatalf("create: %v", err)
			}
			contractCoins := h.host.coins[contractAddr]
			for _, period := range []uint64{1, 10, 19} {
				h.events.Reset()
				if err := h.engine.ProcessDeal(h.callCtx(strangerAddr, 0, period), deal.ID); err != nil {
					t.Fatalf("process at %d: %v", period, err)
				}
				evts := h.events.Events()
				if evts[len(evts)-1].Type != EventTypeProcessSkipped || evts[len(evts)-1].Attributes["reason"] != SkipReasonBeforeDeadline {
					t.Fatalf("period %d: expected beforeDeadline skip, got %v", period, h.eventTypes())
				}
				stored, _ := h.engine.GetDeal(deal.ID)
				if stored.Status != StatusActive {
					t.Fatalf("period %d: deal must stay active, got %s", period, stored.Status)
				}
			}
			if h.host.coins[contractAddr] != contractCoins || h.host.coins[freelancerAddr] != 0 || h.host.coins[clientAddr] != 0 {
				t.Fatalf("early process moved coins")
			}
			if paid, _ := h.token.Ledger().BalanceOf(freelancerAddr); paid.Sign() != 0 {
				t.Fatalf("early process moved tokens to freelancer: %s", paid)
			}
			if refunded, _ := h.token.Ledger().BalanceOf(clientAddr); refunded.Sign() != 0 {
				t.Fatalf("early process refunded tokens: %s", refunded)
			}
		})
	}
}

func TestProcessDealLifecycle(t *testing.T) {
	h := newHarness(t, nil)
	deal, err := h.engine.CreateDealForNativeCoin(h.callCtx(clientAddr, DefaultExecutionReserve+900, 1), freelancerAddr, 10, ModeAutoRefund, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	h.events.Reset()
	if err := h.engine.ProcessDeal(h.callCtx(strangerAddr, 0, 9), deal.ID); err != nil {
		t.Fatalf("process before deadline: %v", err)
	}
	evts := h.events.Events()
	if evts[len(evts)-1].Attributes["reason"] != SkipReasonBeforeDeadline {
		t.Fatalf("expected beforeDeadline skip, got %v", h.eventTypes())
	}
	if stored, _ := h.engine.GetDeal(deal.ID); stored.Status != StatusActive {
		t.Fatalf("deal must stay active before the deadline")
	}

	if err := h.engine.ProcessDeal(h.callCtx(strangerAddr, 0, 10), deal.ID); err != nil {
		t.Fatalf("process at deadline: %v", err)
	}
	stored, _ := h.engine.GetDeal(deal.ID)
	if stored.Status != StatusRefunded || h.host.coins[clientAddr] != 900 {
		t.Fatalf("expected refund to client, status=%s client=%d", stored.Status, h.host.coins[clientAddr])
	}

	if err := h.engine.ProcessDeal(h.callCtx(strangerAddr, 0, 11), deal.ID); err != nil {
		t.Fatalf("repeat process must be a no-op, got %v", err)
	}
	if h.host.coins[clientAddr] != 900 {
		t.Fatalf("repeat process must not pay twice")
	}
}

func TestProcessDealAutoRelease(t *testing.T) {
	h := newHarness(t, nil)
	deal, err := h.engine.CreateDealForNativeCoin(h.callCtx(clientAddr, DefaultExecutionReserve+40, 1), freelancerAddr, 4, ModeAutoRelease, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	h.events.Reset()
	if err := h.engine.ProcessDeal(h.callCtx(contractAddr, 0, 5), deal.ID); err != nil {
		t.Fatalf("process: %v", err)
	}
	if h.host.coins[freelancerAddr] != 40 {
		t.Fatalf("freelancer expected 40, got %d", h.host.coins[freelancerAddr])
	}
	got := h.eventTypes()
	want := []string{EventTypeProcessCalled, EventTypeDealState, EventTypeDealAutoReleased}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("unexpected events %v", got)
	}
}

func TestUnknownDeal(t *testing.T) {
	h := newHarness(t, nil)
	ctx := h.callCtx(clientAddr, 0, 1)
	if _, err := h.engine.GetDeal(42); !errors.Is(err, ErrDealNotFound) {
		t.Fatalf("get: expected not found, got %v", err)
	}
	if err := h.engine.ApproveAndRelease(ctx, 42); !errors.Is(err, ErrDealNotFound) {
		t.Fatalf("approve: expected not found, got %v", err)
	}
	if err := h.engine.RaiseDispute(ctx, 42); !errors.Is(err, ErrDealNotFound) {
		t.Fatalf("dispute: expected not found, got %v", err)
	}
	if err := h.engine.ProcessDeal(ctx, 42); !errors.Is(err, ErrDealNotFound) {
		t.Fatalf("process: expected not found, got %v", err)
	}
}

func TestCreateDealForToken(t *testing.T) {
	h := newHarness(t, nil)
	if err := h.token.Ledger().Mint(clientAddr, 100_000_000); err != nil {
		t.Fatalf("mint: %v", err)
	}

	_, err := h.engine.CreateDealForToken(h.callCtx(clientAddr, DefaultExecutionReserve, 1), freelancerAddr, tokenAddr, 50_000_000, 10, ModeAutoRelease, "")
	if !errors.Is(err, ErrTokenTransferFailed) {
		t.Fatalf("expected transfer failure without approval, got %v", err)
	}

	if err := h.token.Ledger().Approve(clientAddr, contractAddr, 50_000_000); err != nil {
		t.Fatalf("approve: %v", err)
	}
	_, err = h.engine.CreateDealForToken(h.callCtx(clientAddr, DefaultExecutionReserve, 1), freelancerAddr, newTestAddress(0xEF), 50_000_000, 10, ModeAutoRelease, "")
	if !errors.Is(err, ErrTokenNotAllowed) {
		t.Fatalf("expected token not allowed, got %v", err)
	}
	_, err = h.engine.CreateDealForToken(h.callCtx(clientAddr, DefaultExecutionReserve, 1), freelancerAddr, tokenAddr, 0, 10, ModeAutoRelease, "")
	if !errors.Is(err, ErrZeroAmount) {
		t.Fatalf("expected zero amount, got %v", err)
	}

	deal, err := h.engine.CreateDealForToken(h.callCtx(clientAddr, DefaultExecutionReserve, 1), freelancerAddr, tokenAddr, 50_000_000, 10, ModeAutoRelease, "logo")
	if err != nil {
		t.Fatalf("create token deal: %v", err)
	}
	if deal.AssetType != AssetToken || deal.Token != tokenAddr || deal.Amount != 50_000_000 {
		t.Fatalf("unexpected deal %+v", deal)
	}
	held, _ := h.token.Ledger().BalanceOf(contractAddr)
	if held.Uint64() != 50_000_000 {
		t.Fatalf("contract should hold the escrowed tokens, got %s", held)
	}

	if err := h.engine.ProcessDeal(h.callCtx(strangerAddr, 0, 10), deal.ID); err != nil {
		t.Fatalf("process: %v", err)
	}
	paid, _ := h.token.Ledger().BalanceOf(freelancerAddr)
	if paid.Uint64() != 50_000_000 {
		t.Fatalf("freelancer expected tokens, got %s", paid)
	}
}

func TestCreateDealForTokenRequiresReserve(t *testing.T) {
	h := newHarness(t, nil)
	if err := h.token.Ledger().Mint(clientAddr, 10); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := h.token.Ledger().Approve(clientAddr, contractAddr, 10); err != nil {
		t.Fatalf("approve: %v", err)
	}
	_, err := h.engine.CreateDealForToken(h.callCtx(clientAddr, DefaultExecutionReserve-1, 1), freelancerAddr, tokenAddr, 10, 5, ModeAutoRefund, "")
	if !errors.Is(err, ErrInsufficientReserve) {
		t.Fatalf("expected reserve error, got %v", err)
	}
}

func TestKeeperModeEscrowsFullAmount(t *testing.T) {
	h := newHarness(t, func(p *Params) { p.AutoExecution = false })
	deal, err := h.engine.CreateDealForNativeCoin(h.callCtx(clientAddr, 300, 1), freelancerAddr, 5, ModeAutoRelease, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if deal.Amount != 300 {
		t.Fatalf("expected full amount escrowed, got %d", deal.Amount)
	}
	if len(h.host.bookings) != 0 {
		t.Fatalf("keeper mode must not book calls")
	}
	evts := h.events.Events()
	if len(evts) != 1 || evts[0].Attributes["autoExecution"] != "manual" {
		t.Fatalf("unexpected events %+v", evts)
	}
	if _, err := h.engine.CreateDealForNativeCoin(h.callCtx(clientAddr, 0, 1), freelancerAddr, 5, ModeAutoRelease, ""); !errors.Is(err, ErrZeroAmount) {
		t.Fatalf("expected zero amount in keeper mode, got %v", err)
	}
}

func TestIndexesPreserveCreationOrder(t *testing.T) {
	h := newHarness(t, func(p *Params) { p.AutoExecution = false })
	other := newTestAddress(0x04)
	pairs := []struct{ client, freelancer [20]byte }{
		{clientAddr, freelancerAddr},
		{other, clientAddr},
		{clientAddr, other},
	}
	for _, p := range pairs {
		if _, err := h.engine.CreateDealForNativeCoin(h.callCtx(p.client, 10, 1), p.freelancer, 9, ModeAutoRelease, ""); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	byClient, _ := h.engine.DealsByClient(clientAddr)
	asFreelancer, _ := h.engine.DealsByFreelancer(clientAddr)
	none, _ := h.engine.DealsByClient(strangerAddr)
	if fmt.Sprint(byClient) != "[1 3]" || fmt.Sprint(asFreelancer) != "[2]" || len(none) != 0 {
		t.Fatalf("unexpected indexes client=%v freelancer=%v stranger=%v", byClient, asFreelancer, none)
	}
}

func TestQuoteFailureAbortsCreate(t *testing.T) {
	h := newHarness(t, nil)
	h.host.quoteErr = errors.New("slot full")
	if _, err := h.engine.CreateDealForNativeCoin(h.callCtx(clientAddr, 2*DefaultExecutionReserve, 1), freelancerAddr, 5, ModeAutoRelease, ""); err == nil {
		t.Fatalf("expected quote failure to abort creation")
	}
}

func TestBookingFeeAboveReserveAbortsCreate(t *testing.T) {
	h := newHarness(t, func(p *Params) { p.ExecutionReserve = 500 })
	h.host.fee = 501
	coins := uint64(500 + 1_000_000)
	_, err := h.engine.CreateDealForNativeCoin(h.callCtx(clientAddr, coins, 1), freelancerAddr, 5, ModeAutoRelease, "")
	if !errors.Is(err, ErrInsufficientReserve) {
		t.Fatalf("expected reserve error, got %v", err)
	}
	if len(h.host.bookings) != 0 {
		t.Fatalf("fee above reserve must not book")
	}
	if got := h.host.coins[contractAddr]; got != coins {
		t.Fatalf("escrowed coins must not pay the booking fee, contract holds %d", got)
	}

	h.host.fee = 500
	deal, err := h.engine.CreateDealForNativeCoin(h.callCtx(clientAddr, coins, 1), freelancerAddr, 5, ModeAutoRelease, "")
	if err != nil {
		t.Fatalf("fee equal to reserve must be accepted: %v", err)
	}
	if got := h.host.coins[contractAddr]; got != 2*coins-500 || got < deal.Amount {
		t.Fatalf("unexpected contract balance %d for escrow %d", got, deal.Amount)
	}
}

func TestMaxSettlementFee(t *testing.T) {
	encoded := common.MustEncodeArgs(&DealIDArgs{ID: ^uint64(0)})
	if len(encoded) != MaxSettlementParamsSize {
		t.Fatalf("settlement args encode to %d bytes, bound is %d", len(encoded), MaxSettlementParamsSize)
	}
	fee, ok := MaxSettlementFee(10_000_000, 1, 1_000, DefaultMaxGasForExecution)
	if !ok || fee != 2*10_000_000+DefaultMaxGasForExecution+10_000 {
		t.Fatalf("unexpected bound %d ok=%v", fee, ok)
	}
	if fee > DefaultExecutionReserve {
		t.Fatalf("default reserve %d does not cover bound %d", DefaultExecutionReserve, fee)
	}
	if _, ok := MaxSettlementFee(^uint64(0), 1, 0, 1); ok {
		t.Fatalf("expected overflow to be reported")
	}
}

func TestKeeperModeTokenDealRejectsCoins(t *testing.T) {
	h := newHarness(t, func(p *Params) { p.AutoExecution = false })
	if err := h.token.Ledger().Mint(clientAddr, 100); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := h.token.Ledger().Approve(clientAddr, contractAddr, 100); err != nil {
		t.Fatalf("approve: %v", err)
	}
	_, err := h.engine.CreateDealForToken(h.callCtx(clientAddr, 1, 1), freelancerAddr, tokenAddr, 100, 5, ModeAutoRelease, "")
	if !errors.Is(err, ErrUnexpectedCoins) {
		t.Fatalf("expected attached coins to be rejected, got %v", err)
	}
	if held, _ := h.token.Ledger().BalanceOf(contractAddr); held.Sign() != 0 {
		t.Fatalf("rejected create must not pull tokens, contract holds %s", held)
	}

	deal, err := h.engine.CreateDealForToken(h.callCtx(clientAddr, 0, 1), freelancerAddr, tokenAddr, 100, 5, ModeAutoRelease, "")
	if err != nil {
		t.Fatalf("create without coins: %v", err)
	}
	if deal.Amount != 100 || len(h.host.bookings) != 0 {
		t.Fatalf("unexpected keeper token deal %+v bookings=%d", deal, len(h.host.bookings))
	}
}
