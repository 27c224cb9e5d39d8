/*
privacy.go — privacy transforms around the homomorphic capability.

Two stateless transforms (plus one nonce counter in world state):

  - obfuscatedDivide: scales numerator and divisor by the same random
    multiplier before dividing, so ciphertext access patterns observed at the
    engine boundary do not correspond to the unscaled inputs. Numerically a
    no-op: (n·r)/(d·r) == n/d under integer division with exact scaling.
  - obfuscateValue: adds bounded random noise for public-view copies.

The randomness is seeded from chain-observable inputs only (tx timestamp, a
monotonic nonce, the tx id, the caller identity). A motivated observer who
sees the transaction before finalization can reconstruct it. That is
best-effort obfuscation, not a security boundary; do not upgrade it to a
cryptographic guarantee without revisiting the threat model.
*/
package main

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/hyperledger/fabric-contract-api-go/v2/contractapi"
)

const (
	multiplierMin  = 1000
	multiplierSpan = 9000 // r ∈ [1000, 10000)
	noiseSpan      = 100  // noise ∈ [0, 100)
)

// drawEntropy advances the OBFNONCE counter and hashes the seed mix down to a
// uint64. Each draw consumes a fresh nonce so back-to-back draws in one
// transaction differ.
func drawEntropy(ctx contractapi.TransactionContextInterface, caller string) (uint64, error) {
	nonce, err := addCounter(ctx, keyObfNonce, 1)
	if err != nil {
		return 0, err
	}
	h := sha256.New()
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(nowUnix(ctx)))
	h.Write(ts[:])
	var nb [8]byte
	binary.BigEndian.PutUint64(nb[:], nonce)
	h.Write(nb[:])
	h.Write([]byte(ctx.GetStub().GetTxID()))
	h.Write([]byte(caller))
	sum := h.Sum(nil)
	return binary.BigEndian.Uint64(sum[:8]), nil
}

// randomMultiplier draws r uniformly-ish from [1000, 10000).
func randomMultiplier(ctx contractapi.TransactionContextInterface, caller string) (uint64, error) {
	e, err := drawEntropy(ctx, caller)
	if err != nil {
		return 0, err
	}
	return multiplierMin + e%multiplierSpan, nil
}

// obfuscatedDivide computes numerator/divisor homomorphically with both sides
// scaled by the same random multiplier. Integer division semantics.
func (c *CarbonContract) obfuscatedDivide(ctx contractapi.TransactionContextInterface, caller string, numerator, divisor Ciphertext) (Ciphertext, error) {
	r, err := randomMultiplier(ctx, caller)
	if err != nil {
		return nil, err
	}
	rc, err := c.he.Encrypt(r)
	if err != nil {
		return nil, err
	}
	scaledNum, err := c.he.Multiply(numerator, rc)
	if err != nil {
		return nil, fmt.Errorf("scale numerator: %w", err)
	}
	scaledDiv, err := c.he.Multiply(divisor, rc)
	if err != nil {
		return nil, fmt.Errorf("scale divisor: %w", err)
	}
	return c.he.Divide(scaledNum, scaledDiv)
}

// obfuscateValue shifts a ciphertext by additive noise in [0, 100). Lossy by
// design: consumers of the shifted value see an offset total.
func (c *CarbonContract) obfuscateValue(ctx contractapi.TransactionContextInterface, caller string, value Ciphertext) (Ciphertext, error) {
	e, err := drawEntropy(ctx, caller)
	if err != nil {
		return nil, err
	}
	nc, err := c.he.Encrypt(e % noiseSpan)
	if err != nil {
		return nil, err
	}
	return c.he.Add(value, nc)
}
