package safedeal

import (
	"fmt"
	"strings"
)

// Status represents the lifecycle state of a deal. Only Active, Completed,
// Refunded and Disputed are reachable; Pending and Expired are reserved.
type Status uint8

const (
	StatusPending Status = iota
	StatusActive
	StatusCompleted
	StatusRefunded
	StatusDisputed
	StatusExpired
)

// Valid reports whether the status value is within the supported range.
func (s Status) Valid() bool {
	return s <= StatusExpired
}

// Terminal reports whether the deal can no longer change.
func (s Status) Terminal() bool {
	return s != StatusPending && s != StatusActive
}

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusActive:
		return "active"
	case StatusCompleted:
		return "completed"
	case StatusRefunded:
		return "refunded"
	case StatusDisputed:
		return "disputed"
	case StatusExpired:
		return "expired"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// ParseStatus accepts the String form of a status.
func ParseStatus(v string) (Status, error) {
	for s := StatusPending; s <= StatusExpired; s++ {
		if strings.EqualFold(strings.TrimSpace(v), s.String()) {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown deal status %q", v)
}

// Mode selects what happens when an Active deal passes its deadline.
type Mode uint8

const (
	ModeAutoRelease Mode = iota
	ModeAutoRefund
)

func (m Mode) Valid() bool { return m <= ModeAutoRefund }

func (m Mode) String() string {
	switch m {
	case ModeAutoRelease:
		return "auto-release"
	case ModeAutoRefund:
		return "auto-refund"
	default:
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
}

// ParseMode accepts "release"/"refund", the String form, or the numeric value.
func ParseMode(v string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "0", "release", "auto-release":
		return ModeAutoRelease, nil
	case "1", "refund", "auto-refund":
		return ModeAutoRefund, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidMode, v)
	}
}

// AssetType identifies what a deal escrows.
type AssetType uint8

const (
	AssetNativeCoin AssetType = iota
	AssetToken
)

func (a AssetType) String() string {
	switch a {
	case AssetNativeCoin:
		return "native"
	case AssetToken:
		return "token"
	default:
		return fmt.Sprintf("asset(%d)", uint8(a))
	}
}

// MaxNoteLength bounds the informational note stored with a deal.
const MaxNoteLength = 512

// Deal is a single escrow agreement between a client and a freelancer.
type Deal struct {
	ID           uint64
	Client       [20]byte
	Freelancer   [20]byte
	AssetType    AssetType
	Token        [20]byte
	Amount       uint64
	DeadlineSlot uint64
	Mode         Mode
	Status       Status
	CreatedSlot  uint64
	Note         string
}

// Clone returns a copy of the deal so callers can mutate it safely.
func (d *Deal) Clone() *Deal {
	if d == nil {
		return nil
	}
	clone := *d
	return &clone
}

// SanitizeDeal validates a stored deal definition and returns a copy.
func SanitizeDeal(d *Deal) (*Deal, error) {
	if d == nil {
		return nil, fmt.Errorf("nil deal")
	}
	clone := d.Clone()
	if clone.ID == 0 {
		return nil, fmt.Errorf("deal id must be positive")
	}
	if clone.Client == clone.Freelancer {
		return nil, ErrSelfDeal
	}
	if clone.Amount == 0 {
		return nil, ErrZeroAmount
	}
	if !clone.Mode.Valid() {
		return nil, ErrInvalidMode
	}
	if !clone.Status.Valid() {
		return nil, fmt.Errorf("invalid deal status: %d", clone.Status)
	}
	switch clone.AssetType {
	case AssetNativeCoin:
		if clone.Token != ([20]byte{}) {
			return nil, fmt.Errorf("native deal must not reference a token")
		}
	case AssetToken:
		if clone.Token == ([20]byte{}) {
			return nil, fmt.Errorf("token deal requires a token address")
		}
	default:
		return nil, fmt.Errorf("invalid asset type: %d", clone.AssetType)
	}
	if len(clone.Note) > MaxNoteLength {
		return nil, ErrNoteTooLong
	}
	return clone, nil
}
