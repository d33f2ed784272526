package config

import (
	"fmt"
	"strings"

	"safedeal/native/safedeal"
)

// MaxThreads bounds Chain.Threads.
const MaxThreads = 64

func (c *Config) Validate() error {
	if strings.TrimSpace(c.NetworkName) == "" {
		return fmt.Errorf("NetworkName must be set")
	}
	if c.Chain.Threads == 0 || c.Chain.Threads > MaxThreads {
		return fmt.Errorf("chain: Threads must be between 1 and %d", MaxThreads)
	}
	if c.Chain.T0Millis < uint64(c.Chain.Threads) {
		return fmt.Errorf("chain: T0Millis must be at least Threads")
	}
	if _, err := c.GenesisTime(); err != nil {
		return err
	}
	if c.SafeDeal.MaxGasForExecution == 0 {
		return fmt.Errorf("safedeal: MaxGasForExecution must be positive")
	}
	if c.SafeDeal.MaxGasForExecution > c.Scheduler.MaxGasPerSlot {
		return fmt.Errorf("safedeal: MaxGasForExecution exceeds scheduler.MaxGasPerSlot")
	}
	if c.SafeDeal.ExecutionBufferPeriods == 0 {
		return fmt.Errorf("safedeal: ExecutionBufferPeriods must be positive")
	}
	if c.SafeDeal.AutoExecution {
		maxFee, ok := safedeal.MaxSettlementFee(c.Scheduler.BaseFee, c.Scheduler.GasPrice, c.Scheduler.ByteFee, c.SafeDeal.MaxGasForExecution)
		if !ok {
			return fmt.Errorf("scheduler: settlement booking fee overflows")
		}
		if c.SafeDeal.ExecutionReserve == 0 || c.SafeDeal.ExecutionReserve < maxFee {
			return fmt.Errorf("safedeal: ExecutionReserve %d must cover the settlement booking fee of up to %d", c.SafeDeal.ExecutionReserve, maxFee)
		}
	}
	if _, err := c.AllowedToken(); err != nil {
		return fmt.Errorf("safedeal: AllowedToken: %w", err)
	}
	if c.Scheduler.MaxBookingPeriods == 0 {
		return fmt.Errorf("scheduler: MaxBookingPeriods must be positive")
	}
	if strings.TrimSpace(c.Token.Symbol) == "" {
		return fmt.Errorf("token: Symbol must be set")
	}
	if c.RPC.CallsPerSecond < 0 || c.RPC.CallBurst < 0 {
		return fmt.Errorf("rpc: rate limits must not be negative")
	}
	return nil
}
