package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"safedeal/core"
	"safedeal/native/token"
)

func runTokenCommand(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, tokenUsage())
		return 1
	}
	switch args[0] {
	case "approve":
		return runTokenApprove(args[1:], stdout, stderr)
	case "transfer":
		return runTokenTransfer(args[1:], stdout, stderr)
	case "balance":
		if len(args) != 2 {
			return printError(stderr, "usage: safedeal-cli token balance <address>")
		}
		if _, err := requireAddress("address", args[1]); err != nil {
			return printError(stderr, err.Error())
		}
		return runQuery("token_balanceOf", []interface{}{strings.TrimSpace(args[1])}, stdout, stderr)
	case "allowance":
		return runTokenAllowance(args[1:], stdout, stderr)
	case "help", "-h", "--help":
		fmt.Fprintln(stdout, tokenUsage())
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown token subcommand: %s\n", args[0])
		fmt.Fprintln(stderr, tokenUsage())
		return 1
	}
}

func runTokenApprove(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("token approve", stderr)
	keyPath := fs.String("key", "wallet.keystore", "owner keystore")
	spender := fs.String("spender", "safedeal", "spender address (default: the escrow contract)")
	amount := fs.String("amount", "", "allowance to grant")
	nonce := fs.Int64("nonce", -1, "explicit account nonce (default: fetched from the node)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	spenderAddr, err := requireAddress("spender", *spender)
	if err != nil {
		return printError(stderr, err.Error())
	}
	value, err := parseAmount("amount", *amount)
	if err != nil {
		return printError(stderr, err.Error())
	}
	status, code := fetchStatus(stderr)
	if code != 0 {
		return code
	}
	return submitSignedCall(status, signedCallOptions{
		keyPath:  *keyPath,
		nonce:    *nonce,
		target:   core.TokenAddress,
		function: token.FnApprove,
		args:     token.ApproveArgs{Spender: spenderAddr, Amount: value},
	}, stdout, stderr)
}

func runTokenTransfer(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("token transfer", stderr)
	keyPath := fs.String("key", "wallet.keystore", "sender keystore")
	to := fs.String("to", "", "recipient address")
	amount := fs.String("amount", "", "amount to transfer")
	nonce := fs.Int64("nonce", -1, "explicit account nonce (default: fetched from the node)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	recipient, err := requireAddress("to", *to)
	if err != nil {
		return printError(stderr, err.Error())
	}
	value, err := parseAmount("amount", *amount)
	if err != nil {
		return printError(stderr, err.Error())
	}
	status, code := fetchStatus(stderr)
	if code != 0 {
		return code
	}
	return submitSignedCall(status, signedCallOptions{
		keyPath:  *keyPath,
		nonce:    *nonce,
		target:   core.TokenAddress,
		function: token.FnTransfer,
		args:     token.TransferArgs{To: recipient, Amount: value},
	}, stdout, stderr)
}

func runTokenAllowance(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("token allowance", stderr)
	owner := fs.String("owner", "", "owner address")
	spender := fs.String("spender", "safedeal", "spender address")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if _, err := requireAddress("owner", *owner); err != nil {
		return printError(stderr, err.Error())
	}
	if _, err := requireAddress("spender", *spender); err != nil {
		return printError(stderr, err.Error())
	}
	return runQuery("token_allowance", []interface{}{strings.TrimSpace(*owner), strings.TrimSpace(*spender)}, stdout, stderr)
}

func runDevCommand(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, devUsage())
		return 1
	}
	switch args[0] {
	case "faucet":
		fs := newFlagSet("dev faucet", stderr)
		address := fs.String("address", "", "recipient address")
		coins := fs.Uint64("coins", 0, "native coins to mint")
		tokens := fs.Uint64("tokens", 0, "allowed tokens to mint")
		if err := fs.Parse(args[1:]); err != nil {
			return 1
		}
		if _, err := requireAddress("address", *address); err != nil {
			return printError(stderr, err.Error())
		}
		if *coins == 0 && *tokens == 0 {
			return printError(stderr, "--coins or --tokens is required")
		}
		params := map[string]interface{}{
			"address": strings.TrimSpace(*address),
			"coins":   *coins,
			"tokens":  *tokens,
		}
		return runPrivileged("dev_faucet", []interface{}{params}, stdout, stderr)
	case "advance":
		fs := newFlagSet("dev advance", stderr)
		periods := fs.Uint64("periods", 1, "periods to advance")
		if err := fs.Parse(args[1:]); err != nil {
			return 1
		}
		if *periods == 0 {
			return printError(stderr, "--periods must be positive")
		}
		return runPrivileged("dev_advancePeriods", []interface{}{*periods}, stdout, stderr)
	default:
		fmt.Fprintf(stderr, "Unknown dev subcommand: %s\n", args[0])
		fmt.Fprintln(stderr, devUsage())
		return 1
	}
}

func runPrivileged(method string, params []interface{}, stdout, stderr io.Writer) int {
	result, rpcErr, err := rpcCall(method, params, true)
	if err != nil {
		return handleRPCCallError(stderr, err)
	}
	if rpcErr != nil {
		return handleRPCError(stderr, rpcErr)
	}
	writeRPCResult(stdout, json.RawMessage(result))
	return 0
}

func tokenUsage() string {
	return strings.TrimSpace(`Usage: safedeal-cli token <subcommand> [flags]

Subcommands:
  approve    --amount N [--spender ADDR]   Grant an allowance (default spender: the escrow)
  transfer   --to ADDR --amount N
  balance    <address>
  allowance  --owner ADDR [--spender ADDR]
`)
}

func devUsage() string {
	return strings.TrimSpace(`Usage: safedeal-cli dev <subcommand> [flags]

Subcommands:
  faucet   --address ADDR [--coins N] [--tokens N]
  advance  [--periods N]
`)
}
