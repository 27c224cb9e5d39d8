// Harness_test.go
//
// Purpose: Minimal, deterministic test harness for the CarbonContract chaincode.
// Role: Provides an in-memory world-state/private-data “ledger”, a mocked Fabric
// ChaincodeStub (via gomock), a settable client identity, and a settable
// Transaction clock. It lets tests drive the contract — including the
// Expiry/refund paths that depend on tx-timestamp progression — without real
// Peers, orderers, or crypto material.
// Key deps:
// - Hyperledger Fabric Go SDKs: chaincode-go/shim, contractapi, protos (msp, queryresult)
// - gomock for stub expectations and return paths
// - Google protobuf/timestamppb for stable TxTimestamp values
// - Local fakes package: github.com/BillieWintheiser/CarbonEmissionTracker/fakes
// Notes:
// - This harness makes defensive copies of byte slices to avoid aliasing between
// The test code and the “ledger” maps.
// - The clock (h.now) and caller (h.as) are plain fields; tests mutate them
// Between contract calls to simulate separate transactions.

package main

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"math/big"
	"sort"
	"strconv"
	"strings"
	testing "testing"
	"time"

	queryresult "github.com/hyperledger/fabric-protos-go-apiv2/ledger/queryresult"
	msp "github.com/hyperledger/fabric-protos-go-apiv2/msp"

	f "github.com/BillieWintheiser/CarbonEmissionTracker/fakes"
	"github.com/golang/mock/gomock"
	"github.com/hyperledger/fabric-chaincode-go/v2/pkg/cid"
	"github.com/hyperledger/fabric-chaincode-go/v2/shim"
	contractapi "github.com/hyperledger/fabric-contract-api-go/v2/contractapi"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/timestamppb"
)

const (
	testOwner    = "x509::CN=registry-admin::OU=admin"
	testVerifier = "x509::CN=auditor-1::OU=audit"
	testOracle   = "x509::CN=gateway-kms::OU=oracle"
	testCompanyA = "x509::CN=acme-steel::OU=client"
	testCompanyB = "x509::CN=volt-motors::OU=client"
	testCompanyC = "x509::CN=nordic-cement::OU=client"

	testPeriod = "2026-Q1"

	testBaseTime int64 = 1760000000
)

/* in-memory WS/PDC harness */

// MemWorld is a tiny in-memory ledger used by the mock stub.
// It tracks world state (ws), private data (pdc), emitted events, and op counts.
type memWorld struct {
	ws     map[string][]byte
	pdc    map[string]map[string][]byte
	events []struct {
		name    string
		payload []byte
	}
	opsCounts struct {
		getState, putState, delState int
		getPDC, putPDC               int
		setEvent                     int
	}
}

// NewMemWorld allocates an empty memWorld.
// Params: none.
// Returns: pointer to a zeroed, ready-to-use memWorld.
func newMemWorld() *memWorld {
	return &memWorld{ws: make(map[string][]byte), pdc: make(map[string]map[string][]byte)}
}

// GetState simulates GetState on the in-mem world state.
// Copies the value before returning to avoid aliasing in tests.
// Params: key (string).
// Returns: value ([]byte) or nil, error (always nil here).
func (m *memWorld) getState(key string) ([]byte, error) {
	m.opsCounts.getState++
	if v, ok := m.ws[key]; ok {
		return append([]byte(nil), v...), nil // Copy for safety
	}
	return nil, nil
}

// PutState simulates PutState on the in-mem world state.
// Params: key, value.
// Returns: error (always nil here).
func (m *memWorld) putState(key string, val []byte) error {
	m.opsCounts.putState++
	m.ws[key] = append([]byte(nil), val...) // Copy for safety
	return nil
}

// DelState simulates DelState on the in-mem world state.
// Params: key.
// Returns: error (always nil here).
func (m *memWorld) delState(key string) error {
	m.opsCounts.delState++
	delete(m.ws, key)
	return nil
}

// GetPDC simulates GetPrivateData from a named collection.
// Params: coll, key.
// Returns: value or nil, error (always nil here).
func (m *memWorld) getPDC(coll, key string) ([]byte, error) {
	m.opsCounts.getPDC++
	if c, ok := m.pdc[coll]; ok {
		if v, ok2 := c[key]; ok2 {
			return append([]byte(nil), v...), nil // Copy for safety
		}
	}
	return nil, nil
}

// PutPDC simulates PutPrivateData into a named collection.
// Lazily creates the collection map if needed.
// Params: coll, key, value.
// Returns: error (always nil here).
func (m *memWorld) putPDC(coll, key string, val []byte) error {
	m.opsCounts.putPDC++
	c := m.pdc[coll]
	if c == nil {
		c = make(map[string][]byte)
		m.pdc[coll] = c
	}
	c[key] = append([]byte(nil), val...) // Copy for safety
	return nil
}

// SetEvent records a chaincode event into the in-mem log.
// Params: name, payload.
// Returns: error (always nil here).
func (m *memWorld) setEvent(name string, payload []byte) error {
	m.opsCounts.setEvent++
	m.events = append(m.events, struct {
		name    string
		payload []byte
	}{name: name, payload: append([]byte(nil), payload...)}) // Copy for safety
	return nil
}

// MemWSIter is a simple iterator over a pre-materialized slice of keys/values.
// It implements the subset of shim.StateQueryIteratorInterface used by tests.
type memWSIter struct {
	keys []string
	vals [][]byte
	i    int
}

// HasNext tells whether another KV is available.
// Params: none.
// Returns: bool.
func (it *memWSIter) HasNext() bool { return it.i < len(it.keys) }

// Next returns the current KV and advances the iterator.
// Params: none.
// Returns: *queryresult.KV, error when past the end.
func (it *memWSIter) Next() (*queryresult.KV, error) {
	if !it.HasNext() {
		return nil, fmt.Errorf("iterator exhausted")
	}
	kv := &queryresult.KV{Key: it.keys[it.i], Value: it.vals[it.i]}
	it.i++
	return kv, nil
}

// Close is a no-op to satisfy the interface.
// Params: none.
// Returns: error (always nil here).
func (it *memWSIter) Close() error { return nil }

// IterWSRange materializes a range scan over world state (ws).
// It honors [start, end) lexicographic bounds and sorts keys for deterministic order.
// Params: start, end.
// Returns: an iterator over the selected KV slice.
func (m *memWorld) iterWSRange(start, end string) *memWSIter {
	if m.ws == nil {
		return &memWSIter{}
	}
	var keys []string
	for k := range m.ws {
		if (start == "" || k >= start) && (end == "" || k < end) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	vals := make([][]byte, len(keys))
	for i, k := range keys {
		vals[i] = append([]byte(nil), m.ws[k]...) // Copy for safety
	}
	return &memWSIter{keys: keys, vals: vals}
}

/* client identity stand-in */

// FakeIdentity is a minimal cid.ClientIdentity whose id the harness mutates
// Between calls to impersonate different actors.
type fakeIdentity struct{ id string }

// GetID returns the current impersonated identity string.
func (fi *fakeIdentity) GetID() (string, error) { return fi.id, nil }

// GetMSPID returns a fixed test MSP id.
func (fi *fakeIdentity) GetMSPID() (string, error) { return "CarbonMSP", nil }

// GetAttributeValue reports no attributes; the contract does not use ABAC.
func (fi *fakeIdentity) GetAttributeValue(string) (string, bool, error) { return "", false, nil }

// AssertAttributeValue is a no-op to satisfy the interface.
func (fi *fakeIdentity) AssertAttributeValue(string, string) error { return nil }

// GetX509Certificate is not used by the tests; it returns nil.
func (fi *fakeIdentity) GetX509Certificate() (*x509.Certificate, error) { return nil, nil }

/* tx context w/ real stub (no gomock ctx) */

// SimpleTxCtx adapts a raw shim.ChaincodeStubInterface to a contractapi TransactionContext.
// It carries the fakeIdentity so authorization paths see the impersonated caller.
type simpleTxCtx struct {
	s  shim.ChaincodeStubInterface
	id *fakeIdentity
}

// GetStub returns the underlying ChaincodeStubInterface.
func (c *simpleTxCtx) GetStub() shim.ChaincodeStubInterface { return c.s }

// GetClientIdentity returns the settable fake identity.
func (c *simpleTxCtx) GetClientIdentity() cid.ClientIdentity { return c.id }

/* test harness (single definition) */

// TestHarness bundles the mock controller, stub, in-mem ledger, and the contract under test.
// It also tracks a mutable txID, clock and caller to let tests simulate a
// Sequence of distinct transactions from different identities.
type testHarness struct {
	ctrl  *gomock.Controller
	ctx   contractapi.TransactionContextInterface
	stub  *f.MockChaincodeStubInterface
	mem   *memWorld
	cc    *CarbonContract
	t     *testing.T
	txID  string
	now   int64
	ident *fakeIdentity
	txSeq int
}

// newHarness builds a mocked Fabric transaction context for unit tests.
// It wires world state and private data collections to in-memory maps.
func newHarness(t *testing.T) *testHarness {
	t.Helper()

	ctrl := gomock.NewController(t)
	stub := f.NewMockChaincodeStubInterface(ctrl)
	ident := &fakeIdentity{id: testOwner}
	txctx := &simpleTxCtx{s: stub, id: ident}
	mem := newMemWorld()

	h := &testHarness{
		ctrl: ctrl, ctx: txctx, stub: stub, mem: mem,
		cc: NewCarbonContract(newClearEngine()), t: t,
		txID: "tx-0001", now: testBaseTime, ident: ident, txSeq: 1,
	}

	// Provide a valid creator so contract code can parse MSP/attributes if it wants.
	stub.EXPECT().GetCreator().AnyTimes().Return(devSerializedIdentity("CarbonMSP"), nil)

	// Return the current harness txID; tests may override it per case.
	stub.EXPECT().GetTxID().AnyTimes().DoAndReturn(func() string { return h.txID })

	// The tx timestamp tracks the harness clock; advance() moves it forward.
	stub.EXPECT().
		GetTxTimestamp().
		AnyTimes().
		DoAndReturn(func() (*timestamppb.Timestamp, error) {
			return &timestamppb.Timestamp{Seconds: h.now}, nil
		})

	// Stable channel ID used by the contract.
	stub.EXPECT().GetChannelID().AnyTimes().Return("carbonchan-01")

	// Wire world state and PDC to the in-mem maps.
	stub.EXPECT().GetState(gomock.Any()).AnyTimes().DoAndReturn(mem.getState)
	stub.EXPECT().PutState(gomock.Any(), gomock.Any()).AnyTimes().DoAndReturn(mem.putState)
	stub.EXPECT().DelState(gomock.Any()).AnyTimes().DoAndReturn(mem.delState)
	stub.EXPECT().GetPrivateData(gomock.Any(), gomock.Any()).AnyTimes().DoAndReturn(mem.getPDC)
	stub.EXPECT().PutPrivateData(gomock.Any(), gomock.Any(), gomock.Any()).AnyTimes().DoAndReturn(mem.putPDC)

	// World-state range queries (used by iterPeriodReports over REP:: keys).
	stub.EXPECT().
		GetStateByRange(gomock.Any(), gomock.Any()).
		AnyTimes().
		DoAndReturn(func(start, end string) (shim.StateQueryIteratorInterface, error) {
			return mem.iterWSRange(start, end), nil
		})

	// Capture events into the in-mem log for assertions.
	stub.EXPECT().SetEvent(gomock.Any(), gomock.Any()).AnyTimes().DoAndReturn(mem.setEvent)

	return h
}

/* small helpers */

// As switches the impersonated caller and bumps the txID, modeling a fresh
// Transaction from that identity.
// Params: clientID.
// Returns: none.
func (h *testHarness) as(clientID string) {
	h.ident.id = clientID
	h.txSeq++
	h.txID = fmt.Sprintf("tx-%04d", h.txSeq)
}

// Advance moves the harness clock forward by secs.
// Params: secs.
// Returns: none.
func (h *testHarness) advance(secs int64) { h.now += secs }

// SetupActors bootstraps the owner and designates the standard test verifier
// And oracle identities.
// Params: none.
// Returns: none (fails the test on error).
func (h *testHarness) setupActors() {
	h.t.Helper()
	h.as(testOwner)
	requireNoErr(h.t, h.cc.Bootstrap(h.ctx))
	requireNoErr(h.t, h.cc.AddVerifier(h.ctx, testVerifier))
	requireNoErr(h.t, h.cc.SetOracle(h.ctx, testOracle))
}

// OnboardCompany registers clientID as a company and has the test verifier
// Verify it.
// Params: clientID, name.
// Returns: none (fails the test on error).
func (h *testHarness) onboardCompany(clientID, name string) {
	h.t.Helper()
	h.as(clientID)
	requireNoErr(h.t, h.cc.RegisterCompany(h.ctx, name))
	h.as(testVerifier)
	requireNoErr(h.t, h.cc.VerifyCompany(h.ctx, clientID))
}

// Deposit credits an identity's balance via the contract API.
// Params: clientID, amount.
// Returns: none (fails the test on error).
func (h *testHarness) deposit(clientID string, amount uint64) {
	h.t.Helper()
	h.as(clientID)
	requireNoErr(h.t, h.cc.DepositCredits(h.ctx, amount))
}

// OpenPeriod opens a reporting period as the owner.
// Params: periodID.
// Returns: none (fails the test on error).
func (h *testHarness) openPeriod(periodID string) {
	h.t.Helper()
	h.as(testOwner)
	requireNoErr(h.t, h.cc.OpenPeriod(h.ctx, periodID))
}

// ClosePeriod closes a reporting period as the owner.
// Params: periodID.
// Returns: none (fails the test on error).
func (h *testHarness) closePeriod(periodID string) {
	h.t.Helper()
	h.as(testOwner)
	requireNoErr(h.t, h.cc.ClosePeriod(h.ctx, periodID))
}

// SubmitReport encrypts v with the clear backend and submits it as company.
// Params: company, periodID, v (plaintext emission total).
// Returns: none (fails the test on error).
func (h *testHarness) submitReport(company, periodID string, v uint64) {
	h.t.Helper()
	h.as(company)
	_, err := h.cc.SubmitReport(h.ctx, periodID, encHex(h.t, v))
	requireNoErr(h.t, err)
}

// SeedDecryptScenario provisions actors, a funded verifier, one verified
// Company with a submitted report, and opens a DecryptEmissions request.
// Params: value (plaintext emissions), fee (escrow amount).
// Returns: the new request id.
func (h *testHarness) seedDecryptScenario(value, fee uint64) string {
	h.t.Helper()
	h.setupActors()
	h.onboardCompany(testCompanyA, "Acme Steel")
	h.deposit(testVerifier, 1000)
	h.openPeriod(testPeriod)
	h.submitReport(testCompanyA, testPeriod, value)
	h.as(testVerifier)
	id, err := h.cc.RequestDecryption(h.ctx, testCompanyA, testPeriod, fee)
	requireNoErr(h.t, err)
	return id
}

// Balance reads an account balance straight from the in-mem world state.
// Params: clientID.
// Returns: balance (0 when the account is absent).
func (h *testHarness) balance(clientID string) uint64 {
	h.t.Helper()
	raw, ok := h.mem.ws[accountKey(clientID)]
	if !ok {
		return 0
	}
	var a Account
	if err := json.Unmarshal(raw, &a); err != nil {
		h.t.Fatalf("bad account json for %s: %v", clientID, err)
	}
	return a.Balance
}

// Counter reads a decimal counter key straight from the in-mem world state.
// Params: key.
// Returns: value (0 when absent).
func (h *testHarness) counter(key string) uint64 {
	h.t.Helper()
	raw, ok := h.mem.ws[key]
	if !ok {
		return 0
	}
	v, err := strconv.ParseUint(string(raw), 10, 64)
	if err != nil {
		h.t.Fatalf("corrupt counter %s: %v", key, err)
	}
	return v
}

// ReadRequest fetches a CallbackRequest record from the in-mem world state.
// It fails the test if the record is missing or malformed.
// Params: requestID.
// Returns: the decoded record.
func (h *testHarness) readRequest(requestID string) CallbackRequest {
	h.t.Helper()
	raw, ok := h.mem.ws[requestKey(requestID)]
	if !ok {
		h.t.Fatalf("missing request record %s", requestID)
	}
	var r CallbackRequest
	if err := json.Unmarshal(raw, &r); err != nil {
		h.t.Fatalf("bad request json for %s: %v", requestID, err)
	}
	return r
}

// EventCount counts occurrences of a named event in the in-mem log.
// Params: name.
// Returns: count.
func (h *testHarness) eventCount(name string) int {
	n := 0
	for _, e := range h.mem.events {
		if e.name == name {
			n++
		}
	}
	return n
}

// LastEvent decodes the payload of the most recent occurrence of a named
// Event. It fails the test when the event was never emitted.
// Params: name.
// Returns: decoded payload map.
func (h *testHarness) lastEvent(name string) map[string]any {
	h.t.Helper()
	for i := len(h.mem.events) - 1; i >= 0; i-- {
		if h.mem.events[i].name != name {
			continue
		}
		var out map[string]any
		if err := json.Unmarshal(h.mem.events[i].payload, &out); err != nil {
			h.t.Fatalf("bad event payload for %s: %v", name, err)
		}
		return out
	}
	h.t.Fatalf("event %s never emitted", name)
	return nil
}

// RequireNoErr fails the test immediately if err != nil, labeling it unexpected.
// Params: t, err.
// Returns: none.
func requireNoErr(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// RequireErrContains asserts that err is non-nil and its message contains wantSubstr (case-insensitive).
// Params: t, err, wantSubstr (may be empty to assert only non-nil).
// Returns: none.
func requireErrContains(t *testing.T, err error, wantSubstr string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error containing %q, got nil", wantSubstr)
	}
	if wantSubstr != "" && !strings.Contains(strings.ToLower(err.Error()), strings.ToLower(wantSubstr)) {
		t.Fatalf("error %q does not contain %q", err.Error(), wantSubstr)
	}
}

/* ciphertext helpers (clear backend) */

// EncHex produces a clear-backend handle for v, hex encoded for submission.
// Params: t, v.
// Returns: hex handle string.
func encHex(t *testing.T, v uint64) string {
	t.Helper()
	ct, err := newClearEngine().Encrypt(v)
	requireNoErr(t, err)
	return ctToHex(ct)
}

// DecHex recovers the plaintext behind a hex-encoded clear-backend handle.
// Params: t, s.
// Returns: plaintext value.
func decHex(t *testing.T, s string) uint64 {
	t.Helper()
	ct, err := ctFromHex(s)
	requireNoErr(t, err)
	v, err := clearDecode(ct)
	requireNoErr(t, err)
	return v
}

/* tiny identity helper */

// DevSerializedIdentity generates a minimal SerializedIdentity with a self-signed cert.
// It’s good enough for GetCreator parsing in contract code.
// Params: ms (MSP ID).
// Returns: raw serialized identity bytes.
func devSerializedIdentity(ms string) []byte {
	key, _ := rsa.GenerateKey(rand.Reader, 1024)
	tpl := &x509.Certificate{SerialNumber: big.NewInt(1), NotBefore: time.Now().Add(-time.Hour), NotAfter: time.Now().Add(time.Hour)}
	der, _ := x509.CreateCertificate(rand.Reader, tpl, tpl, &key.PublicKey, key)
	pemCert := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	sid := &msp.SerializedIdentity{Mspid: ms, IdBytes: pemCert}
	b, _ := proto.Marshal(sid)
	return b
}
