// -----------------------------------------------------------------------------
// CarbonContract (Go, Fabric v3)
// Purpose: Confidential corporate carbon-emission reporting over an opaque
// homomorphic-arithmetic capability, with an asynchronous decryption oracle.
// Role in system: Companies register, get verified, and submit encrypted
// emission reports into a PDC; verifiers open callback requests against the
// Gateway/KMS oracle; the request registry enforces expiry, at-most-once
// fulfillment, and at-most-once partial refund when the oracle times out.
// Key dependencies: Hyperledger Fabric contractapi; private data collection
// "reports_pdc"; an off-chain gateway that subscribes to emitted events and
// later invokes Fulfill with plaintext results.
// -----------------------------------------------------------------------------

/*
The chaincode does not expose any HTTP endpoints. A separate gateway/KMS
service is expected to subscribe to OracleRequested events, perform the
decryption/computation off-chain, and invoke Fulfill on this contract.
*/
package main

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/hyperledger/fabric-contract-api-go/v2/contractapi"
)

/* Keys & constants (single namespace for this chaincode) */

const (
	// Collections
	reportsPDC = "reports_pdc"

	// World state prefixes (public)
	keyRequestPrefix = "REQ::"    // REQ::<id> → CallbackRequest JSON
	keyAccountPrefix = "ACCT::"   // ACCT::<clientID> → Account JSON
	keyRolePrefix    = "ROLE::"   // ROLE::<role>::<clientID> → "1"
	keyReportPrefix  = "REP::"    // REP::<period>::<company> → ReportMeta JSON
	keyPeriodPrefix  = "PERIOD::" // PERIOD::<id> → "open"/"closed"

	keyOwner        = "OWNER"        // ClientID of the contract owner
	keyOracle       = "ORACLE"       // ClientID of the designated oracle
	keyPaused       = "PAUSED"       // "1" while the contract is paused
	keyParams       = "PARAMS"       // Global Params JSON
	keyRequestSeq   = "REQSEQ"       // Monotonic request id counter
	keyEscrowPool   = "ESCROWPOOL"   // Sum of escrow locked by pending requests
	keyFeesRetained = "FEESRETAINED" // Service fees + refund retention accrued
	keyObfNonce     = "OBFNONCE"     // Privacy-transform nonce counter
)

const (
	eventCompanyRegistered = "CompanyRegistered"
	eventCompanyVerified   = "CompanyVerified"
	eventCreditsDeposited  = "CreditsDeposited"
	eventReportSubmitted   = "ReportSubmitted"
	eventPeriodOpened      = "PeriodOpened"
	eventPeriodClosed      = "PeriodClosed"
	eventPaused            = "Paused"
	eventUnpaused          = "Unpaused"

	eventRequestCreated    = "RequestCreated"
	eventOracleRequested   = "OracleRequested"
	eventCallbackFulfilled = "CallbackFulfilled"
	eventCallbackFailed    = "CallbackFailed" // Late oracle delivery → refund path
	eventRefundIssued      = "RefundIssued"
)

// Fee, timeout and retention constants are fixed at deployment. Changing them
// means a new chaincode version, never an in-place mutation.
const (
	timeoutShortSecs = 3600      // DecryptEmissions, VerifyThreshold
	timeoutLongSecs  = 24 * 3600 // CalculateAverage, CompareReports

	minFeeDecrypt   uint64 = 100
	minFeeThreshold uint64 = 100
	minFeeAverage   uint64 = 250
	minFeeCompare   uint64 = 250

	// Refund split: 90% back to the requester, 10% retained to offset the
	// oracle-trigger cost already incurred.
	refundNumerator   uint64 = 90
	refundDenominator uint64 = 100
)

/* Types & small data models */

// CarbonContract implements the Fabric contract for confidential emission
// reporting.
//
// Responsibilities:
// - Maintain company accounts, roles, credits and reporting periods.
// - Accept encrypted emission reports into the reports private data collection.
// - Own the callback request registry: create, fulfill, refund; the single
//   source of truth for "has this request been resolved yet".
type CarbonContract struct {
	contractapi.Contract
	he HomomorphicEngine
}

// NewCarbonContract wires the contract to a homomorphic engine. Production
// deployments inject the coprocessor binding; tests inject the clear backend.
func NewCarbonContract(he HomomorphicEngine) *CarbonContract {
	return &CarbonContract{he: he}
}

// Params contains runtime toggles used by the contract.
//
// Values are stored on-chain (PARAMS) and merged over defaults on read.
type Params struct {
	EmitEvents bool `json:"EMIT_EVENTS"` // Default true: emit events
}

/* Small helpers */

// mustJSON marshals v and ignores errors (used for events and small writes).
func mustJSON(v any) []byte { b, _ := json.Marshal(v); return b }

// sha256Hex returns the SHA-256 hash of a byte slice, hex-encoded.
func sha256Hex(b []byte) string {
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:])
}

// nowUnix returns the transaction timestamp in Unix seconds. This is the only
// clock the state machine sees; expiry is evaluated lazily against it.
func nowUnix(ctx contractapi.TransactionContextInterface) int64 {
	ts, _ := ctx.GetStub().GetTxTimestamp()
	if ts == nil {
		return 0
	}
	return ts.GetSeconds()
}

// getParams reads the contract runtime parameters from world state.
func getParams(ctx contractapi.TransactionContextInterface) (*Params, error) {
	p := &Params{EmitEvents: true}
	if b, err := ctx.GetStub().GetState(keyParams); err == nil && b != nil {
		var on Params
		if json.Unmarshal(b, &on) == nil {
			return &on, nil
		}
	}
	return p, nil
}

// SetParams writes runtime parameters to world state. Owner only.
func (c *CarbonContract) SetParams(ctx contractapi.TransactionContextInterface, paramsJSON string) error {
	if err := requireOwner(ctx); err != nil {
		return err
	}
	cur, err := getParams(ctx)
	if err != nil {
		return err
	}

	jsCur, _ := json.Marshal(cur)
	var merged map[string]any
	_ = json.Unmarshal(jsCur, &merged)

	var upd map[string]any
	if err := json.Unmarshal([]byte(paramsJSON), &upd); err != nil {
		return fmt.Errorf("bad params json: %w", err)
	}
	for k, v := range upd {
		merged[k] = v
	}

	js, _ := json.Marshal(merged)
	if err := ctx.GetStub().PutState(keyParams, js); err != nil {
		return err
	}

	if params, _ := getParams(ctx); params.EmitEvents {
		keys := make([]string, 0, len(upd))
		for k := range upd {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		_ = ctx.GetStub().SetEvent("ParamsUpdated", mustJSON(map[string]any{
			"hash": sha256Hex(js),
			"keys": keys,
			"time": nowUnix(ctx),
		}))
	}
	return nil
}

// GetParams reads back the stored runtime parameters.
func (c *CarbonContract) GetParams(ctx contractapi.TransactionContextInterface) (*Params, error) {
	return getParams(ctx)
}

/* Counters */

// getCounter reads a decimal uint64 counter, defaulting to zero.
func getCounter(ctx contractapi.TransactionContextInterface, key string) (uint64, error) {
	raw, err := ctx.GetStub().GetState(key)
	if err != nil {
		return 0, err
	}
	if raw == nil {
		return 0, nil
	}
	v, err := strconv.ParseUint(string(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt counter %s: %w", key, err)
	}
	return v, nil
}

// putCounter writes a decimal uint64 counter.
func putCounter(ctx contractapi.TransactionContextInterface, key string, v uint64) error {
	return ctx.GetStub().PutState(key, []byte(strconv.FormatUint(v, 10)))
}

// addCounter bumps a counter by delta and returns the new value.
func addCounter(ctx contractapi.TransactionContextInterface, key string, delta uint64) (uint64, error) {
	v, err := getCounter(ctx, key)
	if err != nil {
		return 0, err
	}
	v += delta
	return v, putCounter(ctx, key, v)
}

// subCounter decrements a counter, guarding against underflow. An underflow
// here means the escrow accounting was violated somewhere upstream.
func subCounter(ctx contractapi.TransactionContextInterface, key string, delta uint64) error {
	v, err := getCounter(ctx, key)
	if err != nil {
		return err
	}
	if v < delta {
		return fmt.Errorf("counter %s underflow", key)
	}
	return putCounter(ctx, key, v-delta)
}

/* Health */

// Ping is a simple health check used by deployment tooling and test harnesses.
func (c *CarbonContract) Ping(ctx contractapi.TransactionContextInterface) (string, error) {
	return "OK:" + ctx.GetStub().GetTxID(), nil
}
