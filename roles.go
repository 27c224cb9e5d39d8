/*
roles.go — ownership, role sets and the pause gate.

Role membership lives in world state (ROLE::<role>::<clientID>), never in
package globals, so every entry point does an explicit capability check
against the ledger. The owner and the oracle are singletons (OWNER, ORACLE
keys). PAUSED gates every mutating operation.
*/
package main

import (
	"fmt"
	"strings"

	"github.com/hyperledger/fabric-contract-api-go/v2/contractapi"
)

const (
	roleVerifier = "verifier"
	rolePauser   = "pauser"
)

// callerID resolves the invoking client's identity string. All authorization
// in this contract keys off this value.
func callerID(ctx contractapi.TransactionContextInterface) (string, error) {
	ci := ctx.GetClientIdentity()
	if ci == nil {
		return "", fmt.Errorf("no client identity")
	}
	id, err := ci.GetID()
	if err != nil {
		return "", fmt.Errorf("resolve client identity: %w", err)
	}
	if strings.TrimSpace(id) == "" {
		return "", fmt.Errorf("empty client identity")
	}
	return id, nil
}

func roleKey(role, clientID string) string {
	return keyRolePrefix + role + "::" + clientID
}

// hasRole reports role membership from world state.
func hasRole(ctx contractapi.TransactionContextInterface, role, clientID string) (bool, error) {
	raw, err := ctx.GetStub().GetState(roleKey(role, clientID))
	if err != nil {
		return false, err
	}
	return raw != nil, nil
}

// ownerID returns the stored owner identity, empty if unbootstrapped.
func ownerID(ctx contractapi.TransactionContextInterface) (string, error) {
	raw, err := ctx.GetStub().GetState(keyOwner)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// oracleID returns the designated oracle identity, empty if unset.
func oracleID(ctx contractapi.TransactionContextInterface) (string, error) {
	raw, err := ctx.GetStub().GetState(keyOracle)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// requireOwner rejects callers other than the contract owner.
func requireOwner(ctx contractapi.TransactionContextInterface) error {
	caller, err := callerID(ctx)
	if err != nil {
		return err
	}
	own, err := ownerID(ctx)
	if err != nil {
		return err
	}
	if own == "" || caller != own {
		return fmt.Errorf("not authorized: owner only")
	}
	return nil
}

// requireVerifier rejects callers without the verifier role. The owner is not
// implicitly a verifier; roles are granted explicitly.
func requireVerifier(ctx contractapi.TransactionContextInterface) (string, error) {
	caller, err := callerID(ctx)
	if err != nil {
		return "", err
	}
	ok, err := hasRole(ctx, roleVerifier, caller)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("not authorized: verifier only")
	}
	return caller, nil
}

// requireNotPaused gates mutating operations on the process-wide pause flag.
func requireNotPaused(ctx contractapi.TransactionContextInterface) error {
	raw, err := ctx.GetStub().GetState(keyPaused)
	if err != nil {
		return err
	}
	if raw != nil {
		return fmt.Errorf("paused")
	}
	return nil
}

/* Admin / Setup */

// Bootstrap binds the first caller as contract owner and grants them the
// pauser role. Subsequent calls are rejected.
func (c *CarbonContract) Bootstrap(ctx contractapi.TransactionContextInterface) error {
	caller, err := callerID(ctx)
	if err != nil {
		return err
	}
	own, err := ownerID(ctx)
	if err != nil {
		return err
	}
	if own != "" {
		return fmt.Errorf("already bootstrapped")
	}
	if err := ctx.GetStub().PutState(keyOwner, []byte(caller)); err != nil {
		return err
	}
	return ctx.GetStub().PutState(roleKey(rolePauser, caller), []byte("1"))
}

// SetOracle designates the single identity permitted to call Fulfill. Only
// this identity is trusted to deliver authentic plaintext results.
func (c *CarbonContract) SetOracle(ctx contractapi.TransactionContextInterface, clientID string) error {
	if err := requireOwner(ctx); err != nil {
		return err
	}
	clientID = strings.TrimSpace(clientID)
	if clientID == "" {
		return fmt.Errorf("oracle identity empty")
	}
	return ctx.GetStub().PutState(keyOracle, []byte(clientID))
}

// AddVerifier grants the verifier role. Owner only.
func (c *CarbonContract) AddVerifier(ctx contractapi.TransactionContextInterface, clientID string) error {
	if err := requireOwner(ctx); err != nil {
		return err
	}
	if strings.TrimSpace(clientID) == "" {
		return fmt.Errorf("verifier identity empty")
	}
	return ctx.GetStub().PutState(roleKey(roleVerifier, clientID), []byte("1"))
}

// RemoveVerifier revokes the verifier role. Owner only.
func (c *CarbonContract) RemoveVerifier(ctx contractapi.TransactionContextInterface, clientID string) error {
	if err := requireOwner(ctx); err != nil {
		return err
	}
	return ctx.GetStub().DelState(roleKey(roleVerifier, clientID))
}

// AddPauser grants the pauser role. Owner only.
func (c *CarbonContract) AddPauser(ctx contractapi.TransactionContextInterface, clientID string) error {
	if err := requireOwner(ctx); err != nil {
		return err
	}
	if strings.TrimSpace(clientID) == "" {
		return fmt.Errorf("pauser identity empty")
	}
	return ctx.GetStub().PutState(roleKey(rolePauser, clientID), []byte("1"))
}

// Pause halts all mutating operations. Pauser role required.
func (c *CarbonContract) Pause(ctx contractapi.TransactionContextInterface) error {
	caller, err := callerID(ctx)
	if err != nil {
		return err
	}
	ok, err := hasRole(ctx, rolePauser, caller)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("not authorized: pauser only")
	}
	if err := ctx.GetStub().PutState(keyPaused, []byte("1")); err != nil {
		return err
	}
	if p, _ := getParams(ctx); p.EmitEvents {
		_ = ctx.GetStub().SetEvent(eventPaused, mustJSON(map[string]any{
			"by": caller, "time": nowUnix(ctx),
		}))
	}
	return nil
}

// Unpause resumes mutating operations. Pauser role required.
func (c *CarbonContract) Unpause(ctx contractapi.TransactionContextInterface) error {
	caller, err := callerID(ctx)
	if err != nil {
		return err
	}
	ok, err := hasRole(ctx, rolePauser, caller)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("not authorized: pauser only")
	}
	if err := ctx.GetStub().DelState(keyPaused); err != nil {
		return err
	}
	if p, _ := getParams(ctx); p.EmitEvents {
		_ = ctx.GetStub().SetEvent(eventUnpaused, mustJSON(map[string]any{
			"by": caller, "time": nowUnix(ctx),
		}))
	}
	return nil
}
