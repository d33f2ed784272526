package types

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
)

// Call is a signed request to invoke a function on a contract. Coins attached
// to the call move from the signer to the target before the function runs.
type Call struct {
	Network  string        `json:"network"`
	Nonce    uint64        `json:"nonce"`
	Target   [20]byte      `json:"target"`
	Function string        `json:"function"`
	Args     hexutil.Bytes `json:"args"`
	Coins    uint64        `json:"coins"`
	MaxGas   uint64        `json:"maxGas"`

	// Signature
	R *big.Int `json:"r"`
	S *big.Int `json:"s"`
	V *big.Int `json:"v"`

	from []byte
}

type unsignedCall struct {
	Network  string
	Nonce    uint64
	Target   [20]byte
	Function string
	Args     []byte
	Coins    uint64
	MaxGas   uint64
}

// Hash returns keccak256 over the RLP encoding of the unsigned fields.
func (c *Call) Hash() ([]byte, error) {
	encoded, err := rlp.EncodeToBytes(&unsignedCall{
		Network:  c.Network,
		Nonce:    c.Nonce,
		Target:   c.Target,
		Function: c.Function,
		Args:     c.Args,
		Coins:    c.Coins,
		MaxGas:   c.MaxGas,
	})
	if err != nil {
		return nil, err
	}
	return crypto.Keccak256(encoded), nil
}

// Hash32 is Hash as a fixed array.
func (c *Call) Hash32() ([32]byte, error) {
	var out [32]byte
	h, err := c.Hash()
	if err != nil {
		return out, err
	}
	copy(out[:], h)
	return out, nil
}

func (c *Call) Sign(privKey *ecdsa.PrivateKey) error {
	hash, err := c.Hash()
	if err != nil {
		return err
	}
	sig, err := crypto.Sign(hash, privKey)
	if err != nil {
		return err
	}
	c.R = new(big.Int).SetBytes(sig[:32])
	c.S = new(big.Int).SetBytes(sig[32:64])
	c.V = new(big.Int).SetBytes([]byte{sig[64] + 27})
	c.from = nil
	return nil
}

// From recovers the signer address.
func (c *Call) From() ([]byte, error) {
	if c.from != nil {
		return c.from, nil
	}
	if c.R == nil || c.S == nil || c.V == nil {
		return nil, errors.New("call: missing signature")
	}
	if c.R.BitLen() > 256 || c.S.BitLen() > 256 {
		return nil, errors.New("call: malformed signature")
	}
	v := c.V.Uint64()
	if v != 27 && v != 28 {
		return nil, fmt.Errorf("call: invalid recovery id %d", v)
	}
	hash, err := c.Hash()
	if err != nil {
		return nil, err
	}
	sig := make([]byte, 65)
	copy(sig[32-len(c.R.Bytes()):32], c.R.Bytes())
	copy(sig[64-len(c.S.Bytes()):64], c.S.Bytes())
	sig[64] = byte(v - 27)
	pubKey, err := crypto.SigToPub(hash, sig)
	if err != nil {
		return nil, err
	}
	c.from = crypto.PubkeyToAddress(*pubKey).Bytes()
	return c.from, nil
}

// From20 is From as a fixed array.
func (c *Call) From20() ([20]byte, error) {
	var out [20]byte
	from, err := c.From()
	if err != nil {
		return out, err
	}
	copy(out[:], from)
	return out, nil
}
