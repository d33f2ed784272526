package types

import "fmt"

// Slot identifies a position in chain time. Periods advance every T0 and are
// split into one slot per thread.
type Slot struct {
	Period uint64 `json:"period"`
	Thread uint8  `json:"thread"`
}

// Before reports whether s comes strictly before other.
func (s Slot) Before(other Slot) bool {
	if s.Period != other.Period {
		return s.Period < other.Period
	}
	return s.Thread < other.Thread
}

// Next returns the slot following s on a chain with the given thread count.
func (s Slot) Next(threads uint8) Slot {
	if threads == 0 || s.Thread+1 >= threads {
		return Slot{Period: s.Period + 1}
	}
	return Slot{Period: s.Period, Thread: s.Thread + 1}
}

func (s Slot) String() string {
	return fmt.Sprintf("%d/%d", s.Period, s.Thread)
}

// CallContext describes the environment a contract function runs in.
type CallContext struct {
	// Caller is the account or contract that invoked the function.
	Caller [20]byte
	// Callee is the address of the executing contract.
	Callee [20]byte
	// Coins were transferred to Callee as part of this invocation.
	Coins uint64
	Slot  Slot
	// TxHash is zero for deferred executions.
	TxHash [32]byte
	// ReadOnly is set for queries; state changes are discarded afterwards.
	ReadOnly bool
}

// Receipt records the outcome of an executed call.
type Receipt struct {
	TxHash   string   `json:"txHash"`
	Slot     Slot     `json:"slot"`
	Caller   string   `json:"caller"`
	Target   string   `json:"target"`
	Function string   `json:"function"`
	Coins    uint64   `json:"coins"`
	Result   string   `json:"result,omitempty"`
	Events   []*Event `json:"events"`
}
