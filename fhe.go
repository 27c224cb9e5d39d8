/*
fhe.go — opaque homomorphic-arithmetic capability.

The contract never decrypts anything. All emission values enter the ledger as
ciphertext handles produced off-chain by reporters, and all arithmetic over
them goes through the HomomorphicEngine injected into the contract at
construction time. Decryption exists only behind the Gateway/KMS oracle, which
delivers plaintext results asynchronously via Fulfill.

clearEngine is the development/test backend: it encodes plaintext uint64
values into tagged handles and performs the arithmetic in the clear. It keeps
the same interface shape a real FHE coprocessor binding would have, so the
request/refund state machine can be exercised without any cryptography.
*/
package main

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

// Ciphertext is an opaque handle to an encrypted value. The contract treats it
// as bytes; only the engine (or the off-chain KMS) can interpret it.
type Ciphertext []byte

// HomomorphicEngine is the injected arithmetic capability over ciphertexts.
//
// Compare returns an encrypted flag: Enc(1) when a > b, Enc(0) otherwise.
// Divide uses integer division semantics. Neither operation reveals plaintext
// to the contract.
type HomomorphicEngine interface {
	Encrypt(v uint64) (Ciphertext, error)
	Add(a, b Ciphertext) (Ciphertext, error)
	Multiply(a, b Ciphertext) (Ciphertext, error)
	Divide(a, b Ciphertext) (Ciphertext, error)
	Compare(a, b Ciphertext) (Ciphertext, error)
}

/* clear backend (development / unit tests) */

// clearMagic tags handles produced by the clear backend so malformed inputs
// fail early instead of decoding garbage.
var clearMagic = []byte("CET1")

type clearEngine struct{}

// newClearEngine returns the plaintext stand-in backend.
func newClearEngine() *clearEngine { return &clearEngine{} }

func (e *clearEngine) Encrypt(v uint64) (Ciphertext, error) {
	buf := make([]byte, len(clearMagic)+8)
	copy(buf, clearMagic)
	binary.BigEndian.PutUint64(buf[len(clearMagic):], v)
	return Ciphertext(buf), nil
}

// clearDecode recovers the plaintext from a clear-backend handle.
func clearDecode(c Ciphertext) (uint64, error) {
	if len(c) != len(clearMagic)+8 || !bytes.HasPrefix(c, clearMagic) {
		return 0, fmt.Errorf("bad ciphertext handle")
	}
	return binary.BigEndian.Uint64(c[len(clearMagic):]), nil
}

func (e *clearEngine) binop(a, b Ciphertext, f func(x, y uint64) (uint64, error)) (Ciphertext, error) {
	x, err := clearDecode(a)
	if err != nil {
		return nil, err
	}
	y, err := clearDecode(b)
	if err != nil {
		return nil, err
	}
	z, err := f(x, y)
	if err != nil {
		return nil, err
	}
	return e.Encrypt(z)
}

func (e *clearEngine) Add(a, b Ciphertext) (Ciphertext, error) {
	return e.binop(a, b, func(x, y uint64) (uint64, error) { return x + y, nil })
}

func (e *clearEngine) Multiply(a, b Ciphertext) (Ciphertext, error) {
	return e.binop(a, b, func(x, y uint64) (uint64, error) { return x * y, nil })
}

func (e *clearEngine) Divide(a, b Ciphertext) (Ciphertext, error) {
	return e.binop(a, b, func(x, y uint64) (uint64, error) {
		if y == 0 {
			return 0, fmt.Errorf("divide by zero")
		}
		return x / y, nil
	})
}

func (e *clearEngine) Compare(a, b Ciphertext) (Ciphertext, error) {
	return e.binop(a, b, func(x, y uint64) (uint64, error) {
		if x > y {
			return 1, nil
		}
		return 0, nil
	})
}

/* hex transport helpers */

// ctToHex encodes a handle for storage in world state / event payloads.
func ctToHex(c Ciphertext) string { return hex.EncodeToString(c) }

// ctFromHex parses a handle previously produced by ctToHex (or submitted by a
// reporter). Rejects odd-length or non-hex input.
func ctFromHex(s string) (Ciphertext, error) {
	if s == "" {
		return nil, fmt.Errorf("empty ciphertext hex")
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("bad ciphertext hex: %w", err)
	}
	return Ciphertext(b), nil
}
