package common

import (
	"errors"
	"testing"

	"safedeal/core/types"
)

type pairArgs struct {
	A uint64
	B string
}

func TestRouterDispatch(t *testing.T) {
	router := Router{
		"echo": {Handler: func(_ types.CallContext, args []byte) (interface{}, error) {
			var in pairArgs
			if err := DecodeArgs("echo", args, &in); err != nil {
				return nil, err
			}
			return in.A + 1, nil
		}},
		"write": {Mutating: true, Handler: func(types.CallContext, []byte) (interface{}, error) {
			return nil, nil
		}},
	}

	out, err := router.Dispatch(types.CallContext{}, "echo", MustEncodeArgs(&pairArgs{A: 41, B: "x"}))
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	var got uint64
	if err := DecodeResult(out, &got); err != nil || got != 42 {
		t.Fatalf("unexpected result %d err=%v", got, err)
	}

	if _, err := router.Dispatch(types.CallContext{}, "missing", nil); !errors.Is(err, ErrUnknownFunction) {
		t.Fatalf("expected ErrUnknownFunction, got %v", err)
	}
	if _, err := router.Dispatch(types.CallContext{ReadOnly: true}, "write", nil); !errors.Is(err, ErrReadOnly) {
		t.Fatalf("expected ErrReadOnly, got %v", err)
	}
	if _, err := router.Dispatch(types.CallContext{}, "echo", []byte{0xff}); err == nil {
		t.Fatalf("expected decode failure")
	}
}
