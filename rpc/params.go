package rpc

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"safedeal/core"
	"safedeal/crypto"
)

// parseUintParam accepts a JSON number, a decimal string or a 0x-prefixed
// hex string.
func parseUintParam(raw json.RawMessage) (uint64, error) {
	var num uint64
	if err := json.Unmarshal(raw, &num); err == nil {
		return num, nil
	}
	var str string
	if err := json.Unmarshal(raw, &str); err != nil {
		return 0, fmt.Errorf("expected unsigned integer")
	}
	str = strings.TrimSpace(str)
	if strings.HasPrefix(str, "0x") || strings.HasPrefix(str, "0X") {
		return strconv.ParseUint(str[2:], 16, 64)
	}
	return strconv.ParseUint(str, 10, 64)
}

func parseAddressParam(raw json.RawMessage) ([20]byte, error) {
	var str string
	if err := json.Unmarshal(raw, &str); err != nil {
		return [20]byte{}, fmt.Errorf("expected bech32 address string")
	}
	return resolveAddress(str)
}

// resolveAddress decodes a bech32 address. The built-in contract names are
// accepted as aliases.
func resolveAddress(value string) ([20]byte, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "safedeal":
		return core.SafeDealAddress, nil
	case "token":
		return core.TokenAddress, nil
	}
	return crypto.ParseAddress20(strings.TrimSpace(value))
}
