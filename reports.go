/*
reports.go — encrypted emission reports.

The ciphertext never touches public world state: it lives in the reports
private data collection under REPORT::<period>::<company>, while a public
meta record (REP::<period>::<company>) carries only the submission timestamp,
tx id and a hash of the ciphertext for audit linkage. Resubmission while the
period is open overwrites — latest report wins.
*/
package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hyperledger/fabric-contract-api-go/v2/contractapi"
)

// ReportMeta is the public per-report metadata stored at REP::<period>::<company>.
type ReportMeta struct {
	Company     string `json:"company"`
	Period      string `json:"period"`
	Status      string `json:"status"` // "submitted"
	CipherHash  string `json:"cipherHash"`
	TxID        string `json:"txID"`
	SubmittedAt int64  `json:"submittedAt"`
}

func reportMetaKey(periodID, companyID string) string {
	return keyReportPrefix + periodID + "::" + companyID
}

func reportDataKey(periodID, companyID string) string {
	return fmt.Sprintf("REPORT::%s::%s", periodID, companyID)
}

// SubmitReport stores an encrypted emission total for the caller in the given
// period. The caller must be a verified company and the period must be open.
func (c *CarbonContract) SubmitReport(ctx contractapi.TransactionContextInterface, periodID, ciphertextHex string) (string, error) {
	if err := requireNotPaused(ctx); err != nil {
		return "", err
	}
	caller, err := callerID(ctx)
	if err != nil {
		return "", err
	}
	a, err := loadAccount(ctx, caller)
	if err != nil {
		return "", err
	}
	if a == nil || !a.Registered {
		return "", fmt.Errorf("company not registered")
	}
	if !a.Verified {
		return "", fmt.Errorf("company not verified")
	}
	periodID = strings.TrimSpace(periodID)
	st, err := periodState(ctx, periodID)
	if err != nil {
		return "", err
	}
	if st != "open" {
		return "", fmt.Errorf("period not open")
	}
	ct, err := ctFromHex(ciphertextHex)
	if err != nil {
		return "", err
	}

	txID := ctx.GetStub().GetTxID()
	when := nowUnix(ctx)

	if err := ctx.GetStub().PutPrivateData(reportsPDC, reportDataKey(periodID, caller), []byte(ctToHex(ct))); err != nil {
		return "", err
	}
	meta := &ReportMeta{
		Company:     caller,
		Period:      periodID,
		Status:      "submitted",
		CipherHash:  sha256Hex(ct),
		TxID:        txID,
		SubmittedAt: when,
	}
	if err := ctx.GetStub().PutState(reportMetaKey(periodID, caller), mustJSON(meta)); err != nil {
		return "", err
	}

	if p, _ := getParams(ctx); p.EmitEvents {
		_ = ctx.GetStub().SetEvent(eventReportSubmitted, mustJSON(map[string]any{
			"company": caller, "period": periodID, "txID": txID,
			"cipherHash": meta.CipherHash, "time": when,
		}))
	}
	return fmt.Sprintf(`{"txID":%q,"period":%q,"cipherHash":%q,"status":"submitted"}`,
		txID, periodID, meta.CipherHash), nil
}

// GetReportMeta returns the public metadata for a company's report in a period.
func (c *CarbonContract) GetReportMeta(ctx contractapi.TransactionContextInterface, periodID, companyID string) (*ReportMeta, error) {
	raw, err := ctx.GetStub().GetState(reportMetaKey(periodID, companyID))
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, fmt.Errorf("report not found")
	}
	var m ReportMeta
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// loadReportCiphertext fetches the encrypted report for (period, company) from
// the PDC. Errors with "report not found" when either the meta or the private
// payload is missing.
func loadReportCiphertext(ctx contractapi.TransactionContextInterface, periodID, companyID string) (Ciphertext, error) {
	raw, err := ctx.GetStub().GetState(reportMetaKey(periodID, companyID))
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, fmt.Errorf("report not found")
	}
	data, err := ctx.GetStub().GetPrivateData(reportsPDC, reportDataKey(periodID, companyID))
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, fmt.Errorf("report not found")
	}
	return ctFromHex(string(data))
}

// iterPeriodReports scans the public REP::<period>:: metas and resolves each
// company's ciphertext from the PDC. Corrupt entries are skipped rather than
// failing the whole aggregate.
func iterPeriodReports(ctx contractapi.TransactionContextInterface, periodID string) (map[string]Ciphertext, error) {
	startKey := keyReportPrefix + periodID + "::"
	endKey := keyReportPrefix + periodID + "::~"

	it, err := ctx.GetStub().GetStateByRange(startKey, endKey)
	if err != nil {
		return nil, err
	}
	defer it.Close()

	out := make(map[string]Ciphertext)
	for it.HasNext() {
		kv, err := it.Next()
		if err != nil {
			return nil, err
		}
		company := strings.TrimPrefix(kv.Key, startKey)
		if company == kv.Key || company == "" {
			continue
		}
		data, err := ctx.GetStub().GetPrivateData(reportsPDC, reportDataKey(periodID, company))
		if err != nil {
			return nil, err
		}
		if data == nil {
			continue
		}
		ct, err := ctFromHex(string(data))
		if err != nil {
			continue
		}
		out[company] = ct
	}
	return out, nil
}

// GetObfuscatedEmissions returns a noise-shifted copy of a company's report
// ciphertext for public dashboards. The additive noise is not removable by
// plain arithmetic on the reader's side; true values come only through the
// oracle decryption path.
func (c *CarbonContract) GetObfuscatedEmissions(ctx contractapi.TransactionContextInterface, periodID, companyID string) (string, error) {
	caller, err := callerID(ctx)
	if err != nil {
		return "", err
	}
	ct, err := loadReportCiphertext(ctx, periodID, companyID)
	if err != nil {
		return "", err
	}
	shifted, err := c.obfuscateValue(ctx, caller, ct)
	if err != nil {
		return "", err
	}
	return ctToHex(shifted), nil
}
