package state

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
)

var (
	// ErrInsufficientBalance is returned when a debit exceeds the account balance.
	ErrInsufficientBalance = errors.New("state: insufficient balance")
	// ErrBalanceOverflow guards credits that would exceed 256 bits.
	ErrBalanceOverflow = errors.New("state: balance overflow")
)

var (
	accountPrefix = []byte("account:")
	burnedKey     = []byte("supply/burned")
)

// Account holds the native coin balance and replay nonce of an address.
type Account struct {
	Nonce   uint64
	Balance *uint256.Int
}

func accountKey(addr [20]byte) []byte {
	buf := make([]byte, len(accountPrefix)+len(addr))
	copy(buf, accountPrefix)
	copy(buf[len(accountPrefix):], addr[:])
	return buf
}

// GetAccount loads the account or returns an empty one.
func (m *Manager) GetAccount(addr [20]byte) (*Account, error) {
	account := new(Account)
	ok, err := m.KVGet(accountKey(addr), account)
	if err != nil {
		return nil, fmt.Errorf("state: load account: %w", err)
	}
	if !ok || account.Balance == nil {
		account.Balance = new(uint256.Int)
	}
	return account, nil
}

// PutAccount persists the account.
func (m *Manager) PutAccount(addr [20]byte, account *Account) error {
	if account == nil {
		return fmt.Errorf("state: nil account")
	}
	stored := &Account{Nonce: account.Nonce, Balance: account.Balance}
	if stored.Balance == nil {
		stored.Balance = new(uint256.Int)
	}
	return m.KVPut(accountKey(addr), stored)
}

// Balance returns the native coin balance of addr.
func (m *Manager) Balance(addr [20]byte) (*uint256.Int, error) {
	account, err := m.GetAccount(addr)
	if err != nil {
		return nil, err
	}
	return account.Balance, nil
}

// AddBalance credits amount to addr.
func (m *Manager) AddBalance(addr [20]byte, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return nil
	}
	account, err := m.GetAccount(addr)
	if err != nil {
		return err
	}
	sum, overflow := new(uint256.Int).AddOverflow(account.Balance, amount)
	if overflow {
		return ErrBalanceOverflow
	}
	account.Balance = sum
	return m.PutAccount(addr, account)
}

// SubBalance debits amount from addr.
func (m *Manager) SubBalance(addr [20]byte, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return nil
	}
	account, err := m.GetAccount(addr)
	if err != nil {
		return err
	}
	if account.Balance.Lt(amount) {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientBalance, account.Balance.Dec(), amount.Dec())
	}
	account.Balance = new(uint256.Int).Sub(account.Balance, amount)
	return m.PutAccount(addr, account)
}

// TransferCoins moves native coins between two accounts.
func (m *Manager) TransferCoins(from, to [20]byte, amount uint64) error {
	if amount == 0 {
		return nil
	}
	value := uint256.NewInt(amount)
	if err := m.SubBalance(from, value); err != nil {
		return err
	}
	return m.AddBalance(to, value)
}

// IncrementNonce bumps the replay nonce of addr.
func (m *Manager) IncrementNonce(addr [20]byte) error {
	account, err := m.GetAccount(addr)
	if err != nil {
		return err
	}
	account.Nonce++
	return m.PutAccount(addr, account)
}

// Burn removes amount from addr and records it in the burned supply counter.
func (m *Manager) Burn(addr [20]byte, amount uint64) error {
	if amount == 0 {
		return nil
	}
	if err := m.SubBalance(addr, uint256.NewInt(amount)); err != nil {
		return err
	}
	total, err := m.Burned()
	if err != nil {
		return err
	}
	sum, overflow := new(uint256.Int).AddOverflow(total, uint256.NewInt(amount))
	if overflow {
		return ErrBalanceOverflow
	}
	return m.KVPut(burnedKey, sum)
}

// Burned returns the total amount of coins destroyed by fees.
func (m *Manager) Burned() (*uint256.Int, error) {
	total := new(uint256.Int)
	if _, err := m.KVGet(burnedKey, total); err != nil {
		return nil, err
	}
	return total, nil
}
