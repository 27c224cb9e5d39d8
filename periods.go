/*
periods.go — reporting period bookkeeping.

A period is open or closed, nothing more. Reports are accepted only while the
period is open; averages can be requested only after it closes, so the set of
reports feeding an aggregate is frozen.
*/
package main

import (
	"fmt"
	"strings"

	"github.com/hyperledger/fabric-contract-api-go/v2/contractapi"
)

func periodKey(periodID string) string { return keyPeriodPrefix + periodID }

// periodState returns "", "open" or "closed" for a period id.
func periodState(ctx contractapi.TransactionContextInterface, periodID string) (string, error) {
	raw, err := ctx.GetStub().GetState(periodKey(periodID))
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// OpenPeriod marks a reporting period as open. Owner only.
func (c *CarbonContract) OpenPeriod(ctx contractapi.TransactionContextInterface, periodID string) error {
	if err := requireNotPaused(ctx); err != nil {
		return err
	}
	if err := requireOwner(ctx); err != nil {
		return err
	}
	periodID = strings.TrimSpace(periodID)
	if periodID == "" {
		return fmt.Errorf("period id empty")
	}
	st, err := periodState(ctx, periodID)
	if err != nil {
		return err
	}
	if st == "closed" {
		// Closed periods stay closed; aggregates over them must stay stable.
		return fmt.Errorf("period already closed")
	}
	if err := ctx.GetStub().PutState(periodKey(periodID), []byte("open")); err != nil {
		return err
	}
	if p, _ := getParams(ctx); p.EmitEvents {
		_ = ctx.GetStub().SetEvent(eventPeriodOpened, mustJSON(map[string]any{
			"period": periodID, "time": nowUnix(ctx),
		}))
	}
	return nil
}

// ClosePeriod marks a reporting period as closed. Owner only.
func (c *CarbonContract) ClosePeriod(ctx contractapi.TransactionContextInterface, periodID string) error {
	if err := requireNotPaused(ctx); err != nil {
		return err
	}
	if err := requireOwner(ctx); err != nil {
		return err
	}
	st, err := periodState(ctx, periodID)
	if err != nil {
		return err
	}
	if st != "open" {
		return fmt.Errorf("period not open")
	}
	if err := ctx.GetStub().PutState(periodKey(periodID), []byte("closed")); err != nil {
		return err
	}
	if p, _ := getParams(ctx); p.EmitEvents {
		_ = ctx.GetStub().SetEvent(eventPeriodClosed, mustJSON(map[string]any{
			"period": periodID, "time": nowUnix(ctx),
		}))
	}
	return nil
}
