package token

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"safedeal/core/events"
)

var (
	errNilState = errors.New("token: state not configured")
	// ErrInsufficientBalance is returned when the holder cannot cover a debit.
	ErrInsufficientBalance = errors.New("token: insufficient balance")
	// ErrInsufficientAllowance is returned when a spender exceeds its approval.
	ErrInsufficientAllowance = errors.New("token: insufficient allowance")
	// ErrOverflow guards 256-bit balance arithmetic.
	ErrOverflow = errors.New("token: arithmetic overflow")
)

type ledgerState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

// Ledger keeps balances and allowances for a single fungible token.
type Ledger struct {
	state   ledgerState
	address [20]byte
	emitter events.Emitter
}

// NewLedger returns a ledger for the token deployed at address.
func NewLedger(address [20]byte) *Ledger {
	return &Ledger{address: address, emitter: events.NoopEmitter{}}
}

// SetState configures the state backend used by the ledger.
func (l *Ledger) SetState(state ledgerState) { l.state = state }

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (l *Ledger) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		l.emitter = events.NoopEmitter{}
		return
	}
	l.emitter = emitter
}

// Address returns the token contract address.
func (l *Ledger) Address() [20]byte { return l.address }

func (l *Ledger) balanceKey(owner [20]byte) []byte {
	key := make([]byte, 0, 6+20+9+20)
	key = append(key, "token/"...)
	key = append(key, l.address[:]...)
	key = append(key, "/balance/"...)
	return append(key, owner[:]...)
}

func (l *Ledger) allowanceKey(owner, spender [20]byte) []byte {
	key := make([]byte, 0, 6+20+11+40)
	key = append(key, "token/"...)
	key = append(key, l.address[:]...)
	key = append(key, "/allowance/"...)
	key = append(key, owner[:]...)
	return append(key, spender[:]...)
}

func (l *Ledger) supplyKey() []byte {
	key := append([]byte("token/"), l.address[:]...)
	return append(key, "/supply"...)
}

func (l *Ledger) load(key []byte) (*uint256.Int, error) {
	if l == nil || l.state == nil {
		return nil, errNilState
	}
	value := new(uint256.Int)
	if _, err := l.state.KVGet(key, value); err != nil {
		return nil, err
	}
	return value, nil
}

func (l *Ledger) store(key []byte, value *uint256.Int) error {
	if l == nil || l.state == nil {
		return errNilState
	}
	return l.state.KVPut(key, value)
}

// BalanceOf returns the holder's balance.
func (l *Ledger) BalanceOf(owner [20]byte) (*uint256.Int, error) {
	return l.load(l.balanceKey(owner))
}

// Allowance returns how much spender may move on behalf of owner.
func (l *Ledger) Allowance(owner, spender [20]byte) (*uint256.Int, error) {
	return l.load(l.allowanceKey(owner, spender))
}

// TotalSupply returns the minted supply.
func (l *Ledger) TotalSupply() (*uint256.Int, error) {
	return l.load(l.supplyKey())
}

// Mint creates amount new tokens for to.
func (l *Ledger) Mint(to [20]byte, amount uint64) error {
	if amount == 0 {
		return nil
	}
	value := uint256.NewInt(amount)
	supply, err := l.TotalSupply()
	if err != nil {
		return err
	}
	next, overflow := new(uint256.Int).AddOverflow(supply, value)
	if overflow {
		return ErrOverflow
	}
	if err := l.credit(to, value); err != nil {
		return err
	}
	if err := l.store(l.supplyKey(), next); err != nil {
		return err
	}
	l.emitter.Emit(TransferEvent{Token: l.address, To: to, Amount: amount})
	return nil
}

func (l *Ledger) credit(to [20]byte, amount *uint256.Int) error {
	bal, err := l.BalanceOf(to)
	if err != nil {
		return err
	}
	next, overflow := new(uint256.Int).AddOverflow(bal, amount)
	if overflow {
		return ErrOverflow
	}
	return l.store(l.balanceKey(to), next)
}

// Transfer moves amount from one holder to another.
func (l *Ledger) Transfer(from, to [20]byte, amount uint64) error {
	value := uint256.NewInt(amount)
	bal, err := l.BalanceOf(from)
	if err != nil {
		return err
	}
	if bal.Lt(value) {
		return fmt.Errorf("%w: have %s, need %d", ErrInsufficientBalance, bal.Dec(), amount)
	}
	if err := l.store(l.balanceKey(from), new(uint256.Int).Sub(bal, value)); err != nil {
		return err
	}
	if err := l.credit(to, value); err != nil {
		return err
	}
	l.emitter.Emit(TransferEvent{Token: l.address, From: from, To: to, Amount: amount})
	return nil
}

// Approve sets the allowance of spender over owner's tokens.
func (l *Ledger) Approve(owner, spender [20]byte, amount uint64) error {
	if err := l.store(l.allowanceKey(owner, spender), uint256.NewInt(amount)); err != nil {
		return err
	}
	l.emitter.Emit(ApprovalEvent{Token: l.address, Owner: owner, Spender: spender, Amount: uint256.NewInt(amount)})
	return nil
}

// IncreaseAllowance adds amount to the existing allowance.
func (l *Ledger) IncreaseAllowance(owner, spender [20]byte, amount uint64) error {
	current, err := l.Allowance(owner, spender)
	if err != nil {
		return err
	}
	next, overflow := new(uint256.Int).AddOverflow(current, uint256.NewInt(amount))
	if overflow {
		return ErrOverflow
	}
	if err := l.store(l.allowanceKey(owner, spender), next); err != nil {
		return err
	}
	l.emitter.Emit(ApprovalEvent{Token: l.address, Owner: owner, Spender: spender, Amount: next})
	return nil
}

// TransferFrom lets spender move amount from owner to to, consuming allowance.
func (l *Ledger) TransferFrom(spender, owner, to [20]byte, amount uint64) error {
	value := uint256.NewInt(amount)
	allowance, err := l.Allowance(owner, spender)
	if err != nil {
		return err
	}
	if allowance.Lt(value) {
		return fmt.Errorf("%w: have %s, need %d", ErrInsufficientAllowance, allowance.Dec(), amount)
	}
	if err := l.Transfer(owner, to, amount); err != nil {
		return err
	}
	return l.store(l.allowanceKey(owner, spender), new(uint256.Int).Sub(allowance, value))
}
