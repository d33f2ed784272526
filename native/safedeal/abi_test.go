package safedeal

import (
	"errors"
	"testing"

	"safedeal/core/types"
	"safedeal/native/common"
)

func TestContractDispatchesEntryPoints(t *testing.T) {
	h := newHarness(t, nil)
	contract := NewContract(h.engine)

	ctx := h.callCtx(clientAddr, DefaultExecutionReserve+10, 3)
	out, err := contract.Invoke(ctx, FnCreateDealForNativeCoin, common.MustEncodeArgs(&CreateNativeArgs{
		Freelancer:   freelancerAddr,
		DeadlineSlot: 8,
		Mode:         uint8(ModeAutoRefund),
		Note:         "translation",
	}))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	var id uint64
	if err := common.DecodeResult(out, &id); err != nil || id != 1 {
		t.Fatalf("unexpected id %d err=%v", id, err)
	}

	read := types.CallContext{Callee: contractAddr, ReadOnly: true, Slot: types.Slot{Period: 3}}
	out, err = contract.Invoke(read, FnGetDeal, common.MustEncodeArgs(&DealIDArgs{ID: id}))
	if err != nil {
		t.Fatalf("getDeal: %v", err)
	}
	var deal Deal
	if err := common.DecodeResult(out, &deal); err != nil {
		t.Fatalf("decode deal: %v", err)
	}
	if deal.Note != "translation" || deal.Mode != ModeAutoRefund || deal.Amount != 10 {
		t.Fatalf("unexpected deal %+v", deal)
	}

	out, err = contract.Invoke(read, FnGetDealsByFreelancer, common.MustEncodeArgs(&AddressArgs{Address: freelancerAddr}))
	if err != nil {
		t.Fatalf("getDealsByFreelancer: %v", err)
	}
	var ids []uint64
	if err := common.DecodeResult(out, &ids); err != nil || len(ids) != 1 || ids[0] != 1 {
		t.Fatalf("unexpected ids %v err=%v", ids, err)
	}

	out, err = contract.Invoke(read, FnGetNextDealID, nil)
	if err != nil {
		t.Fatalf("getNextDealId: %v", err)
	}
	var next uint64
	if err := common.DecodeResult(out, &next); err != nil || next != 2 {
		t.Fatalf("unexpected next id %d err=%v", next, err)
	}

	if _, err := contract.Invoke(read, FnRaiseDispute, common.MustEncodeArgs(&DealIDArgs{ID: id})); !errors.Is(err, common.ErrReadOnly) {
		t.Fatalf("expected read-only rejection, got %v", err)
	}
	if _, err := contract.Invoke(ctx, FnCreateDealForNativeCoin, common.MustEncodeArgs(&CreateNativeArgs{
		Freelancer:   freelancerAddr,
		DeadlineSlot: 8,
		Mode:         7,
	})); !errors.Is(err, ErrInvalidMode) {
		t.Fatalf("expected invalid mode, got %v", err)
	}
}

func TestParseModeAndStatus(t *testing.T) {
	for input, want := range map[string]Mode{"release": ModeAutoRelease, "1": ModeAutoRefund, "Auto-Refund": ModeAutoRefund} {
		got, err := ParseMode(input)
		if err != nil || got != want {
			t.Fatalf("ParseMode(%q) = %v, %v", input, got, err)
		}
	}
	if _, err := ParseMode("2"); !errors.Is(err, ErrInvalidMode) {
		t.Fatalf("expected invalid mode, got %v", err)
	}
	status, err := ParseStatus("Disputed")
	if err != nil || status != StatusDisputed {
		t.Fatalf("unexpected status %v err=%v", status, err)
	}
	if !StatusRefunded.Terminal() || StatusActive.Terminal() {
		t.Fatalf("terminal classification wrong")
	}
}
