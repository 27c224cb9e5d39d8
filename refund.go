/*
refund.go — the refund/compensation engine.

Both failure paths (late oracle callback, user claim after expiry) converge
on issueRefund, which is the final double-payment guard: the refunded latch
is checked again here even though every caller already checked it, and it is
set before the payout is applied. Order matters — latch first, money second —
so a re-entrant or duplicate invocation inside the same transaction sees the
terminal state and is rejected.

Atomicity: a Fabric transaction commits its write set all-or-nothing, so any
error returned from this function aborts the staged latch mutation along with
everything else and the request stays claimable. The one read that could fail
after the latch write (the recipient account) is therefore done up front,
before the first mutation.
*/
package main

import (
	"fmt"

	"github.com/hyperledger/fabric-contract-api-go/v2/contractapi"
)

// issueRefund disburses the partial refund for req exactly once and returns
// the payout amount. reason is "timeout" or "user-claimed".
func (c *CarbonContract) issueRefund(ctx contractapi.TransactionContextInterface, req *CallbackRequest, reason string) (uint64, error) {
	if req.Refunded {
		return 0, fmt.Errorf("already refunded")
	}
	if req.Fulfilled {
		return 0, fmt.Errorf("cannot refund a completed request")
	}

	// Transfer feasibility before any mutation.
	recipient, err := loadAccount(ctx, req.Requester)
	if err != nil {
		return 0, err
	}
	if recipient == nil {
		return 0, fmt.Errorf("refund recipient account not found")
	}

	payout := req.EscrowedAmount * refundNumerator / refundDenominator
	retained := req.EscrowedAmount - payout
	now := nowUnix(ctx)

	// Latch before payout.
	req.Refunded = true
	req.RefundedAt = now
	req.RefundReason = reason
	if err := saveRequest(ctx, req); err != nil {
		return 0, err
	}

	if err := subCounter(ctx, keyEscrowPool, req.EscrowedAmount); err != nil {
		return 0, err
	}
	if _, err := addCounter(ctx, keyFeesRetained, retained); err != nil {
		return 0, err
	}
	recipient.Balance += payout
	if err := saveAccount(ctx, recipient); err != nil {
		return 0, err
	}

	if p, _ := getParams(ctx); p.EmitEvents {
		_ = ctx.GetStub().SetEvent(eventRefundIssued, mustJSON(map[string]any{
			"requestID": req.ID,
			"recipient": req.Requester,
			"amount":    payout,
			"retained":  retained,
			"reason":    reason,
			"time":      now,
		}))
	}
	return payout, nil
}
