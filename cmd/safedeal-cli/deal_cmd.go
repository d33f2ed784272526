package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"safedeal/core"
	"safedeal/core/types"
	"safedeal/crypto"
	"safedeal/native/common"
	"safedeal/native/safedeal"
)

type chainStatus struct {
	Network string     `json:"network"`
	Slot    types.Slot `json:"slot"`
}

type accountState struct {
	Nonce uint64 `json:"nonce"`
}

// signedCallOptions describes a state-changing call before nonce and network
// are resolved against the node.
type signedCallOptions struct {
	keyPath  string
	nonce    int64
	target   [20]byte
	function string
	args     interface{}
	coins    uint64
}

func runDealCommand(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, dealUsage())
		return 1
	}
	switch args[0] {
	case "create":
		return runDealCreate(args[1:], stdout, stderr)
	case "create-token":
		return runDealCreateToken(args[1:], stdout, stderr)
	case "approve":
		return runDealAction("approve", safedeal.FnApproveAndRelease, args[1:], stdout, stderr)
	case "dispute":
		return runDealAction("dispute", safedeal.FnRaiseDispute, args[1:], stdout, stderr)
	case "process":
		return runDealAction("process", safedeal.FnProcessDeal, args[1:], stdout, stderr)
	case "get":
		return runDealGet(args[1:], stdout, stderr)
	case "list":
		return runDealList(args[1:], stdout, stderr)
	case "next-id":
		return runQuery("safedeal_getNextDealId", nil, stdout, stderr)
	case "help", "-h", "--help":
		fmt.Fprintln(stdout, dealUsage())
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown deal subcommand: %s\n", args[0])
		fmt.Fprintln(stderr, dealUsage())
		return 1
	}
}

func runDealCreate(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("deal create", stderr)
	keyPath := fs.String("key", "wallet.keystore", "client keystore")
	freelancer := fs.String("freelancer", "", "freelancer address")
	coins := fs.String("coins", "", "coins to escrow, including the execution reserve")
	deadline := fs.String("deadline", "", "deadline period, absolute or +N relative to the current period")
	mode := fs.String("mode", "release", "settlement at the deadline: release or refund")
	note := fs.String("note", "", "free-form deal description")
	nonce := fs.Int64("nonce", -1, "explicit account nonce (default: fetched from the node)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	freelancerAddr, err := requireAddress("freelancer", *freelancer)
	if err != nil {
		return printError(stderr, err.Error())
	}
	amount, err := parseAmount("coins", *coins)
	if err != nil {
		return printError(stderr, err.Error())
	}
	parsedMode, err := safedeal.ParseMode(*mode)
	if err != nil {
		return printError(stderr, err.Error())
	}
	status, code := fetchStatus(stderr)
	if code != 0 {
		return code
	}
	deadlinePeriod, err := resolveDeadline(*deadline, status.Slot.Period)
	if err != nil {
		return printError(stderr, err.Error())
	}
	return submitSignedCall(status, signedCallOptions{
		keyPath:  *keyPath,
		nonce:    *nonce,
		target:   core.SafeDealAddress,
		function: safedeal.FnCreateDealForNativeCoin,
		args: safedeal.CreateNativeArgs{
			Freelancer:   freelancerAddr,
			DeadlineSlot: deadlinePeriod,
			Mode:         uint8(parsedMode),
			Note:         *note,
		},
		coins: amount,
	}, stdout, stderr)
}

func runDealCreateToken(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("deal create-token", stderr)
	keyPath := fs.String("key", "wallet.keystore", "client keystore")
	freelancer := fs.String("freelancer", "", "freelancer address")
	tokenAddr := fs.String("token", "token", "token address (default: the built-in token)")
	amount := fs.String("amount", "", "token amount to escrow")
	coins := fs.String("coins", "0", "coins attached as the execution reserve")
	deadline := fs.String("deadline", "", "deadline period, absolute or +N relative to the current period")
	mode := fs.String("mode", "release", "settlement at the deadline: release or refund")
	note := fs.String("note", "", "free-form deal description")
	nonce := fs.Int64("nonce", -1, "explicit account nonce (default: fetched from the node)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	freelancerAddr, err := requireAddress("freelancer", *freelancer)
	if err != nil {
		return printError(stderr, err.Error())
	}
	tokenTarget, err := requireAddress("token", *tokenAddr)
	if err != nil {
		return printError(stderr, err.Error())
	}
	tokenAmount, err := parseAmount("amount", *amount)
	if err != nil {
		return printError(stderr, err.Error())
	}
	reserve, err := strconv.ParseUint(strings.TrimSpace(*coins), 10, 64)
	if err != nil {
		return printError(stderr, fmt.Sprintf("invalid --coins: %v", err))
	}
	parsedMode, err := safedeal.ParseMode(*mode)
	if err != nil {
		return printError(stderr, err.Error())
	}
	status, code := fetchStatus(stderr)
	if code != 0 {
		return code
	}
	deadlinePeriod, err := resolveDeadline(*deadline, status.Slot.Period)
	if err != nil {
		return printError(stderr, err.Error())
	}
	return submitSignedCall(status, signedCallOptions{
		keyPath:  *keyPath,
		nonce:    *nonce,
		target:   core.SafeDealAddress,
		function: safedeal.FnCreateDealForToken,
		args: safedeal.CreateTokenArgs{
			Freelancer:   freelancerAddr,
			Token:        tokenTarget,
			Amount:       tokenAmount,
			DeadlineSlot: deadlinePeriod,
			Mode:         uint8(parsedMode),
			Note:         *note,
		},
		coins: reserve,
	}, stdout, stderr)
}

func runDealAction(name, function string, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("deal "+name, stderr)
	keyPath := fs.String("key", "wallet.keystore", "signer keystore")
	id := fs.Uint64("id", 0, "deal id")
	nonce := fs.Int64("nonce", -1, "explicit account nonce (default: fetched from the node)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *id == 0 {
		return printError(stderr, "--id is required")
	}
	status, code := fetchStatus(stderr)
	if code != 0 {
		return code
	}
	return submitSignedCall(status, signedCallOptions{
		keyPath:  *keyPath,
		nonce:    *nonce,
		target:   core.SafeDealAddress,
		function: function,
		args:     safedeal.DealIDArgs{ID: *id},
	}, stdout, stderr)
}

func runDealGet(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("deal get", stderr)
	id := fs.Uint64("id", 0, "deal id")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *id == 0 {
		return printError(stderr, "--id is required")
	}
	return runQuery("safedeal_getDeal", []interface{}{*id}, stdout, stderr)
}

func runDealList(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("deal list", stderr)
	address := fs.String("address", "", "participant address")
	role := fs.String("role", "client", "participant role: client or freelancer")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if _, err := requireAddress("address", *address); err != nil {
		return printError(stderr, err.Error())
	}
	var method string
	switch strings.ToLower(strings.TrimSpace(*role)) {
	case "client":
		method = "safedeal_getDealsByClient"
	case "freelancer":
		method = "safedeal_getDealsByFreelancer"
	default:
		return printError(stderr, fmt.Sprintf("unknown role %q", *role))
	}
	return runQuery(method, []interface{}{strings.TrimSpace(*address)}, stdout, stderr)
}

func fetchStatus(stderr io.Writer) (chainStatus, int) {
	raw, rpcErr, err := rpcCall("chain_status", nil, false)
	if err != nil {
		return chainStatus{}, handleRPCCallError(stderr, err)
	}
	if rpcErr != nil {
		return chainStatus{}, handleRPCError(stderr, rpcErr)
	}
	var status chainStatus
	if err := json.Unmarshal(raw, &status); err != nil {
		return chainStatus{}, printError(stderr, fmt.Sprintf("decode chain status: %v", err))
	}
	return status, 0
}

// submitSignedCall loads the signer, resolves the nonce, signs the call and
// submits it through safedeal_sendCall. The receipt is printed on success.
func submitSignedCall(status chainStatus, opts signedCallOptions, stdout, stderr io.Writer) int {
	key, err := loadSigningKey(opts.keyPath)
	if err != nil {
		return printError(stderr, err.Error())
	}
	encoded, err := common.EncodeArgs(opts.args)
	if err != nil {
		return printError(stderr, fmt.Sprintf("encode arguments: %v", err))
	}
	var nonce uint64
	if opts.nonce >= 0 {
		nonce = uint64(opts.nonce)
	} else {
		sender := key.PubKey().Address().String()
		raw, rpcErr, err := rpcCall("account_getBalance", []interface{}{sender}, false)
		if err != nil {
			return handleRPCCallError(stderr, err)
		}
		if rpcErr != nil {
			return handleRPCError(stderr, rpcErr)
		}
		var account accountState
		if err := json.Unmarshal(raw, &account); err != nil {
			return printError(stderr, fmt.Sprintf("decode account: %v", err))
		}
		nonce = account.Nonce
	}
	call := &types.Call{
		Network:  status.Network,
		Nonce:    nonce,
		Target:   opts.target,
		Function: opts.function,
		Args:     encoded,
		Coins:    opts.coins,
	}
	if err := call.Sign(key.PrivateKey); err != nil {
		return printError(stderr, fmt.Sprintf("sign call: %v", err))
	}
	return runQuery("safedeal_sendCall", []interface{}{call}, stdout, stderr)
}

func requireAddress(name, value string) ([20]byte, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return [20]byte{}, fmt.Errorf("--%s is required", name)
	}
	switch strings.ToLower(trimmed) {
	case "safedeal":
		return core.SafeDealAddress, nil
	case "token":
		return core.TokenAddress, nil
	}
	addr, err := crypto.ParseAddress20(trimmed)
	if err != nil {
		return [20]byte{}, fmt.Errorf("invalid --%s: %v", name, err)
	}
	return addr, nil
}

func parseAmount(name, value string) (uint64, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0, fmt.Errorf("--%s is required", name)
	}
	amount, err := strconv.ParseUint(trimmed, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid --%s: %v", name, err)
	}
	if amount == 0 {
		return 0, fmt.Errorf("--%s must be positive", name)
	}
	return amount, nil
}

// resolveDeadline accepts an absolute period or "+N" relative to current.
func resolveDeadline(value string, current uint64) (uint64, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0, fmt.Errorf("--deadline is required")
	}
	if strings.HasPrefix(trimmed, "+") {
		offset, err := strconv.ParseUint(trimmed[1:], 10, 64)
		if err != nil || offset == 0 {
			return 0, fmt.Errorf("invalid relative --deadline %q", trimmed)
		}
		return current + offset, nil
	}
	period, err := strconv.ParseUint(trimmed, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid --deadline: %v", err)
	}
	if period <= current {
		return 0, fmt.Errorf("--deadline %d is not after the current period %d", period, current)
	}
	return period, nil
}

func dealUsage() string {
	return strings.TrimSpace(`Usage: safedeal-cli deal <subcommand> [flags]

Subcommands:
  create        --freelancer ADDR --coins N --deadline P|+N [--mode release|refund] [--note TEXT]
  create-token  --freelancer ADDR --amount N --deadline P|+N [--token ADDR] [--coins RESERVE] [--mode ...]
  approve       --id ID     Release escrowed funds to the freelancer (client only)
  dispute       --id ID     Freeze the deal in Disputed (client or freelancer)
  process       --id ID     Settle a deal whose deadline has passed
  get           --id ID
  list          --address ADDR [--role client|freelancer]
  next-id
`)
}
