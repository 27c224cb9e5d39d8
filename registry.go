/*
registry.go — the callback request registry.

Single source of truth for "has this request been resolved yet". Every
outstanding decryption/computation request is a REQ::<id> record with two
monotone one-way latches (fulfilled, refunded) that are never both set. The
request is created synchronously, the oracle is triggered fire-and-forget via
an OracleRequested event, and exactly one of two later transactions resolves
it: an on-time Fulfill, or the refund path (late Fulfill or ClaimRefund after
expiry). Fabric's serialized transaction execution is the lock; within it the
latches are ordinary booleans.

Request ids come from the REQSEQ counter: monotone, never reused.
*/
package main

import (
	"encoding/json"
	"fmt"

	"github.com/hyperledger/fabric-contract-api-go/v2/contractapi"
)

// Request kinds. The short timeout class covers plain decryptions; compound
// calculations get the long class.
const (
	kindDecryptEmissions = "DecryptEmissions"
	kindVerifyThreshold  = "VerifyThreshold"
	kindCalculateAverage = "CalculateAverage"
	kindCompareReports   = "CompareReports"
)

// CallbackRequest is the registry record for one outstanding oracle request.
//
// Fulfilled and Refunded are one-way latches: each transitions false→true at
// most once, and never both. EscrowedAmount is disbursed exactly once — either
// wholly consumed as the oracle service fee on fulfillment, or split 90/10
// between the requester and fee retention on refund. ExpiresAt is immutable.
type CallbackRequest struct {
	ID             string          `json:"id"`
	Requester      string          `json:"requester"`
	Kind           string          `json:"kind"`
	CreatedAt      int64           `json:"createdAt"`
	ExpiresAt      int64           `json:"expiresAt"`
	Fulfilled      bool            `json:"fulfilled"`
	Refunded       bool            `json:"refunded"`
	EscrowedAmount uint64          `json:"escrowedAmount"`
	Payload        json.RawMessage `json:"payload"`
	CipherHex      string          `json:"cipherHex"`
	CachedResult   string          `json:"cachedResult,omitempty"`
	FulfilledAt    int64           `json:"fulfilledAt,omitempty"`
	RefundedAt     int64           `json:"refundedAt,omitempty"`
	RefundReason   string          `json:"refundReason,omitempty"`
}

// RequestStatus is the public view of a request. No cached result, no
// ciphertext — those stay behind the requester/owner read path.
type RequestStatus struct {
	ID             string          `json:"id"`
	Requester      string          `json:"requester"`
	Kind           string          `json:"kind"`
	CreatedAt      int64           `json:"createdAt"`
	ExpiresAt      int64           `json:"expiresAt"`
	Fulfilled      bool            `json:"fulfilled"`
	Refunded       bool            `json:"refunded"`
	EscrowedAmount uint64          `json:"escrowedAmount"`
	Payload        json.RawMessage `json:"payload"`
}

func requestKey(id string) string { return keyRequestPrefix + id }

func timeoutForKind(kind string) int64 {
	switch kind {
	case kindCalculateAverage, kindCompareReports:
		return timeoutLongSecs
	default:
		return timeoutShortSecs
	}
}

func minFeeForKind(kind string) uint64 {
	switch kind {
	case kindCalculateAverage:
		return minFeeAverage
	case kindCompareReports:
		return minFeeCompare
	case kindVerifyThreshold:
		return minFeeThreshold
	default:
		return minFeeDecrypt
	}
}

// loadRequest fetches a request record, erroring when the id is unknown.
func loadRequest(ctx contractapi.TransactionContextInterface, requestID string) (*CallbackRequest, error) {
	raw, err := ctx.GetStub().GetState(requestKey(requestID))
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, fmt.Errorf("request not found")
	}
	var r CallbackRequest
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("request json: %w", err)
	}
	return &r, nil
}

func saveRequest(ctx contractapi.TransactionContextInterface, r *CallbackRequest) error {
	return ctx.GetStub().PutState(requestKey(r.ID), mustJSON(r))
}

// createRequest escrows the fee, allocates an id, stores the record and
// triggers the oracle asynchronously. All preconditions are checked before
// the debit, so a rejected request never takes escrow.
func (c *CarbonContract) createRequest(ctx contractapi.TransactionContextInterface, requester, kind string, payload any, ct Ciphertext, feePaid uint64) (string, error) {
	if feePaid < minFeeForKind(kind) {
		return "", fmt.Errorf("insufficient fee")
	}
	if err := debitAccount(ctx, requester, feePaid); err != nil {
		return "", err
	}
	if _, err := addCounter(ctx, keyEscrowPool, feePaid); err != nil {
		return "", err
	}

	seq, err := addCounter(ctx, keyRequestSeq, 1)
	if err != nil {
		return "", err
	}
	id := fmt.Sprintf("REQ-%06d", seq)
	now := nowUnix(ctx)

	req := &CallbackRequest{
		ID:             id,
		Requester:      requester,
		Kind:           kind,
		CreatedAt:      now,
		ExpiresAt:      now + timeoutForKind(kind),
		EscrowedAmount: feePaid,
		Payload:        mustJSON(payload),
		CipherHex:      ctToHex(ct),
	}
	if err := saveRequest(ctx, req); err != nil {
		return "", err
	}

	// Fire-and-forget oracle trigger. The gateway subscribes to this event;
	// nothing here blocks on its response.
	if p, _ := getParams(ctx); p.EmitEvents {
		_ = ctx.GetStub().SetEvent(eventRequestCreated, mustJSON(map[string]any{
			"requestID": id, "requester": requester, "kind": kind,
			"escrow": feePaid, "expiresAt": req.ExpiresAt, "time": now,
		}))
		_ = ctx.GetStub().SetEvent(eventOracleRequested, mustJSON(map[string]any{
			"requestID": id, "kind": kind, "cipherHex": req.CipherHex,
			"expiresAt": req.ExpiresAt,
		}))
	}
	return id, nil
}

/* Request-type entry points (verifier only) */

// RequestDecryption opens a DecryptEmissions request against a submitted
// report. Short timeout class.
func (c *CarbonContract) RequestDecryption(ctx contractapi.TransactionContextInterface, companyID, periodID string, feePaid uint64) (string, error) {
	if err := requireNotPaused(ctx); err != nil {
		return "", err
	}
	verifier, err := requireVerifier(ctx)
	if err != nil {
		return "", err
	}
	ct, err := loadReportCiphertext(ctx, periodID, companyID)
	if err != nil {
		return "", err
	}
	payload := map[string]string{"company": companyID, "period": periodID}
	return c.createRequest(ctx, verifier, kindDecryptEmissions, payload, ct, feePaid)
}

// RequestThresholdCheck opens a VerifyThreshold request: the oracle decrypts
// an encrypted exceeds-threshold flag, never the raw emission value. Short
// timeout class.
func (c *CarbonContract) RequestThresholdCheck(ctx contractapi.TransactionContextInterface, companyID, periodID string, threshold, feePaid uint64) (string, error) {
	if err := requireNotPaused(ctx); err != nil {
		return "", err
	}
	verifier, err := requireVerifier(ctx)
	if err != nil {
		return "", err
	}
	ct, err := loadReportCiphertext(ctx, periodID, companyID)
	if err != nil {
		return "", err
	}
	tc, err := c.he.Encrypt(threshold)
	if err != nil {
		return "", err
	}
	flag, err := c.he.Compare(ct, tc)
	if err != nil {
		return "", err
	}
	payload := map[string]any{"company": companyID, "period": periodID, "threshold": threshold}
	return c.createRequest(ctx, verifier, kindVerifyThreshold, payload, flag, feePaid)
}

// RequestAverage opens a CalculateAverage request over all reports of a
// closed period. The homomorphic sum is divided by the report count through
// the obfuscated-divide transform before the ciphertext leaves for the
// oracle. Long timeout class.
func (c *CarbonContract) RequestAverage(ctx contractapi.TransactionContextInterface, periodID string, feePaid uint64) (string, error) {
	if err := requireNotPaused(ctx); err != nil {
		return "", err
	}
	verifier, err := requireVerifier(ctx)
	if err != nil {
		return "", err
	}
	st, err := periodState(ctx, periodID)
	if err != nil {
		return "", err
	}
	if st != "closed" {
		return "", fmt.Errorf("period not closed")
	}

	reports, err := iterPeriodReports(ctx, periodID)
	if err != nil {
		return "", err
	}
	if len(reports) == 0 {
		return "", fmt.Errorf("no reports for period")
	}

	var sum Ciphertext
	for _, ct := range reports {
		if sum == nil {
			sum = ct
			continue
		}
		sum, err = c.he.Add(sum, ct)
		if err != nil {
			return "", err
		}
	}
	count, err := c.he.Encrypt(uint64(len(reports)))
	if err != nil {
		return "", err
	}
	avg, err := c.obfuscatedDivide(ctx, verifier, sum, count)
	if err != nil {
		return "", err
	}

	payload := map[string]any{"period": periodID, "reports": len(reports)}
	return c.createRequest(ctx, verifier, kindCalculateAverage, payload, avg, feePaid)
}

// RequestComparison opens a CompareReports request between two companies'
// reports in the same period. The oracle sees only an encrypted ordering
// flag. Long timeout class.
func (c *CarbonContract) RequestComparison(ctx contractapi.TransactionContextInterface, companyA, companyB, periodID string, feePaid uint64) (string, error) {
	if err := requireNotPaused(ctx); err != nil {
		return "", err
	}
	verifier, err := requireVerifier(ctx)
	if err != nil {
		return "", err
	}
	ctA, err := loadReportCiphertext(ctx, periodID, companyA)
	if err != nil {
		return "", err
	}
	ctB, err := loadReportCiphertext(ctx, periodID, companyB)
	if err != nil {
		return "", err
	}
	flag, err := c.he.Compare(ctA, ctB)
	if err != nil {
		return "", err
	}
	payload := map[string]string{"companyA": companyA, "companyB": companyB, "period": periodID}
	return c.createRequest(ctx, verifier, kindCompareReports, payload, flag, feePaid)
}

/* Resolution paths */

// Fulfill delivers a plaintext result from the oracle.
//
// Lateness is classified here, not at the oracle: a delivery after ExpiresAt
// is not an error — it is rerouted to the refund engine with reason "timeout"
// and reported via a CallbackFailed event. Duplicate deliveries against a
// terminal request are observable no-ops so the oracle needs no idempotency
// of its own.
func (c *CarbonContract) Fulfill(ctx contractapi.TransactionContextInterface, requestID, result string) (string, error) {
	if err := requireNotPaused(ctx); err != nil {
		return "", err
	}
	caller, err := callerID(ctx)
	if err != nil {
		return "", err
	}
	oracle, err := oracleID(ctx)
	if err != nil {
		return "", err
	}
	if oracle == "" || caller != oracle {
		return "", fmt.Errorf("not authorized: oracle only")
	}

	req, err := loadRequest(ctx, requestID)
	if err != nil {
		return "", err
	}
	now := nowUnix(ctx)

	if req.Fulfilled {
		return fmt.Sprintf(`{"requestID":%q,"status":"already-fulfilled"}`, requestID), nil
	}
	if req.Refunded {
		return fmt.Sprintf(`{"requestID":%q,"status":"already-refunded"}`, requestID), nil
	}

	if now > req.ExpiresAt {
		// Late callback: expected alternate path, not an error.
		payout, err := c.issueRefund(ctx, req, "timeout")
		if err != nil {
			return "", err
		}
		if p, _ := getParams(ctx); p.EmitEvents {
			_ = ctx.GetStub().SetEvent(eventCallbackFailed, mustJSON(map[string]any{
				"requestID": requestID, "reason": "timeout",
				"refunded": payout, "time": now,
			}))
		}
		return fmt.Sprintf(`{"requestID":%q,"status":"timeout","refunded":%d}`, requestID, payout), nil
	}

	req.Fulfilled = true
	req.CachedResult = result
	req.FulfilledAt = now
	if err := saveRequest(ctx, req); err != nil {
		return "", err
	}
	// Escrow is spent as the oracle service fee.
	if err := subCounter(ctx, keyEscrowPool, req.EscrowedAmount); err != nil {
		return "", err
	}
	if _, err := addCounter(ctx, keyFeesRetained, req.EscrowedAmount); err != nil {
		return "", err
	}

	if p, _ := getParams(ctx); p.EmitEvents {
		_ = ctx.GetStub().SetEvent(eventCallbackFulfilled, mustJSON(map[string]any{
			"requestID": requestID, "kind": req.Kind, "time": now,
		}))
	}
	return fmt.Sprintf(`{"requestID":%q,"status":"fulfilled"}`, requestID), nil
}

// ClaimRefund lets the original requester (or the owner, as administrative
// override) recover 90% of the escrow once the request has expired
// unresolved. The refunded latch makes whichever of ClaimRefund and a late
// Fulfill is processed first win; the loser is rejected here or in the
// engine.
func (c *CarbonContract) ClaimRefund(ctx contractapi.TransactionContextInterface, requestID string) (string, error) {
	if err := requireNotPaused(ctx); err != nil {
		return "", err
	}
	caller, err := callerID(ctx)
	if err != nil {
		return "", err
	}
	req, err := loadRequest(ctx, requestID)
	if err != nil {
		return "", err
	}
	own, err := ownerID(ctx)
	if err != nil {
		return "", err
	}
	if caller != req.Requester && (own == "" || caller != own) {
		return "", fmt.Errorf("not the requester")
	}
	if req.Fulfilled {
		return "", fmt.Errorf("cannot refund a completed request")
	}
	if req.Refunded {
		return "", fmt.Errorf("already refunded")
	}
	if nowUnix(ctx) <= req.ExpiresAt {
		return "", fmt.Errorf("not yet expired")
	}
	payout, err := c.issueRefund(ctx, req, "user-claimed")
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(`{"requestID":%q,"status":"refunded","payout":%d}`, requestID, payout), nil
}

/* Reads */

// GetResult returns the cached plaintext result. Requester or owner only, and
// only after fulfillment.
func (c *CarbonContract) GetResult(ctx contractapi.TransactionContextInterface, requestID string) (string, error) {
	caller, err := callerID(ctx)
	if err != nil {
		return "", err
	}
	req, err := loadRequest(ctx, requestID)
	if err != nil {
		return "", err
	}
	own, err := ownerID(ctx)
	if err != nil {
		return "", err
	}
	if caller != req.Requester && (own == "" || caller != own) {
		return "", fmt.Errorf("not authorized")
	}
	if !req.Fulfilled {
		return "", fmt.Errorf("not fulfilled")
	}
	return req.CachedResult, nil
}

// IsExpired reports whether a request's deadline has passed. Pure read;
// expiry is only ever acted on lazily by Fulfill/ClaimRefund.
func (c *CarbonContract) IsExpired(ctx contractapi.TransactionContextInterface, requestID string) (bool, error) {
	req, err := loadRequest(ctx, requestID)
	if err != nil {
		return false, err
	}
	return nowUnix(ctx) > req.ExpiresAt, nil
}

// GetRequestStatus returns the public view of a request. Anyone may call.
func (c *CarbonContract) GetRequestStatus(ctx contractapi.TransactionContextInterface, requestID string) (*RequestStatus, error) {
	req, err := loadRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	return &RequestStatus{
		ID:             req.ID,
		Requester:      req.Requester,
		Kind:           req.Kind,
		CreatedAt:      req.CreatedAt,
		ExpiresAt:      req.ExpiresAt,
		Fulfilled:      req.Fulfilled,
		Refunded:       req.Refunded,
		EscrowedAmount: req.EscrowedAmount,
		Payload:        req.Payload,
	}, nil
}
