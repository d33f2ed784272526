package common

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"

	"safedeal/core/types"
)

var (
	// ErrUnknownFunction is returned when a contract has no entry point with the requested name.
	ErrUnknownFunction = errors.New("unknown function")
	// ErrReadOnly is returned when a state-changing entry point is invoked by a query.
	ErrReadOnly = errors.New("function not callable in read-only context")
)

// Contract is a native program addressable on chain.
type Contract interface {
	// Invoke runs the named entry point with RLP-encoded arguments and returns
	// the RLP-encoded result.
	Invoke(ctx types.CallContext, function string, args []byte) ([]byte, error)
}

// DecodeArgs decodes RLP arguments into out. Empty input is accepted for
// functions without parameters.
func DecodeArgs(function string, args []byte, out interface{}) error {
	if out == nil {
		if len(args) != 0 {
			return fmt.Errorf("%s: unexpected arguments", function)
		}
		return nil
	}
	if err := rlp.DecodeBytes(args, out); err != nil {
		return fmt.Errorf("%s: decode arguments: %w", function, err)
	}
	return nil
}

// EncodeArgs encodes an argument tuple.
func EncodeArgs(args interface{}) ([]byte, error) {
	return rlp.EncodeToBytes(args)
}

// MustEncodeArgs is EncodeArgs for arguments known to be encodable.
func MustEncodeArgs(args interface{}) []byte {
	encoded, err := rlp.EncodeToBytes(args)
	if err != nil {
		panic(err)
	}
	return encoded
}

// EncodeResult encodes a return value. A nil value yields an empty result.
func EncodeResult(v interface{}) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return rlp.EncodeToBytes(v)
}

// DecodeResult decodes a return value produced by EncodeResult.
func DecodeResult(result []byte, out interface{}) error {
	return rlp.DecodeBytes(result, out)
}

// Function routes a single entry point.
type Function struct {
	// Mutating entry points are rejected in read-only contexts.
	Mutating bool
	Handler  func(ctx types.CallContext, args []byte) (interface{}, error)
}

// Router dispatches calls by function name.
type Router map[string]Function

// Dispatch invokes the named function and encodes its result.
func (r Router) Dispatch(ctx types.CallContext, function string, args []byte) ([]byte, error) {
	fn, ok := r[function]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFunction, function)
	}
	if fn.Mutating && ctx.ReadOnly {
		return nil, fmt.Errorf("%w: %s", ErrReadOnly, function)
	}
	result, err := fn.Handler(ctx, args)
	if err != nil {
		return nil, err
	}
	return EncodeResult(result)
}
