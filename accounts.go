/*
accounts.go — company accounts and the credit ledger.

Simple key-value bookkeeping (ACCT::<clientID>) that the core request
registry depends on: registration and verification flags gate report
submission, and the credit balance is the denomination fees are escrowed in
and refunds are paid back to. Balances are plain non-negative counters.
*/
package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hyperledger/fabric-contract-api-go/v2/contractapi"
)

// Account is the per-identity record for companies and verifiers alike.
type Account struct {
	ClientID     string `json:"clientID"`
	Name         string `json:"name,omitempty"`
	Registered   bool   `json:"registered"`
	Verified     bool   `json:"verified"`
	Balance      uint64 `json:"balance"`
	RegisteredAt int64  `json:"registeredAt,omitempty"`
	VerifiedAt   int64  `json:"verifiedAt,omitempty"`
}

func accountKey(clientID string) string { return keyAccountPrefix + clientID }

// loadAccount fetches an account, nil when absent.
func loadAccount(ctx contractapi.TransactionContextInterface, clientID string) (*Account, error) {
	raw, err := ctx.GetStub().GetState(accountKey(clientID))
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	var a Account
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("account json: %w", err)
	}
	return &a, nil
}

func saveAccount(ctx contractapi.TransactionContextInterface, a *Account) error {
	return ctx.GetStub().PutState(accountKey(a.ClientID), mustJSON(a))
}

// ensureAccount loads or lazily creates an unregistered account shell. Used by
// the deposit path so verifiers can fund themselves before registering a
// company profile.
func ensureAccount(ctx contractapi.TransactionContextInterface, clientID string) (*Account, error) {
	a, err := loadAccount(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if a == nil {
		a = &Account{ClientID: clientID}
	}
	return a, nil
}

// debitAccount removes amount from a balance, failing before any write when
// funds are short. No partial debits.
func debitAccount(ctx contractapi.TransactionContextInterface, clientID string, amount uint64) error {
	a, err := loadAccount(ctx, clientID)
	if err != nil {
		return err
	}
	if a == nil || a.Balance < amount {
		return fmt.Errorf("insufficient credits")
	}
	a.Balance -= amount
	return saveAccount(ctx, a)
}

// creditAccount adds amount to a balance. The account must exist; refund
// feasibility is checked by the caller before any state is mutated.
func creditAccount(ctx contractapi.TransactionContextInterface, clientID string, amount uint64) error {
	a, err := loadAccount(ctx, clientID)
	if err != nil {
		return err
	}
	if a == nil {
		return fmt.Errorf("account not found")
	}
	a.Balance += amount
	return saveAccount(ctx, a)
}

/* Company lifecycle */

// RegisterCompany records the caller as a reporting company. Registration is
// self-service; verification is a separate verifier action.
func (c *CarbonContract) RegisterCompany(ctx contractapi.TransactionContextInterface, name string) error {
	if err := requireNotPaused(ctx); err != nil {
		return err
	}
	caller, err := callerID(ctx)
	if err != nil {
		return err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("company name empty")
	}
	a, err := ensureAccount(ctx, caller)
	if err != nil {
		return err
	}
	if a.Registered {
		return fmt.Errorf("already registered")
	}
	a.Name = name
	a.Registered = true
	a.RegisteredAt = nowUnix(ctx)
	if err := saveAccount(ctx, a); err != nil {
		return err
	}
	if p, _ := getParams(ctx); p.EmitEvents {
		_ = ctx.GetStub().SetEvent(eventCompanyRegistered, mustJSON(map[string]any{
			"company": caller, "nameHash": sha256Hex([]byte(name)), "time": a.RegisteredAt,
		}))
	}
	return nil
}

// VerifyCompany marks a registered company as verified. Verifier role only.
func (c *CarbonContract) VerifyCompany(ctx contractapi.TransactionContextInterface, companyID string) error {
	if err := requireNotPaused(ctx); err != nil {
		return err
	}
	verifier, err := requireVerifier(ctx)
	if err != nil {
		return err
	}
	a, err := loadAccount(ctx, companyID)
	if err != nil {
		return err
	}
	if a == nil || !a.Registered {
		return fmt.Errorf("company not registered")
	}
	if a.Verified {
		return fmt.Errorf("already verified")
	}
	a.Verified = true
	a.VerifiedAt = nowUnix(ctx)
	if err := saveAccount(ctx, a); err != nil {
		return err
	}
	if p, _ := getParams(ctx); p.EmitEvents {
		_ = ctx.GetStub().SetEvent(eventCompanyVerified, mustJSON(map[string]any{
			"company": companyID, "verifier": verifier, "time": a.VerifiedAt,
		}))
	}
	return nil
}

// DepositCredits adds credits to the caller's balance. This is the on-ledger
// face of the external payment rail; settlement happens off-chain.
func (c *CarbonContract) DepositCredits(ctx contractapi.TransactionContextInterface, amount uint64) error {
	if err := requireNotPaused(ctx); err != nil {
		return err
	}
	caller, err := callerID(ctx)
	if err != nil {
		return err
	}
	if amount == 0 {
		return fmt.Errorf("deposit amount zero")
	}
	a, err := ensureAccount(ctx, caller)
	if err != nil {
		return err
	}
	a.Balance += amount
	if err := saveAccount(ctx, a); err != nil {
		return err
	}
	if p, _ := getParams(ctx); p.EmitEvents {
		_ = ctx.GetStub().SetEvent(eventCreditsDeposited, mustJSON(map[string]any{
			"account": caller, "amount": amount, "time": nowUnix(ctx),
		}))
	}
	return nil
}

// GetCompany returns the public account record for an identity.
func (c *CarbonContract) GetCompany(ctx contractapi.TransactionContextInterface, companyID string) (*Account, error) {
	a, err := loadAccount(ctx, companyID)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, fmt.Errorf("account not found")
	}
	return a, nil
}
