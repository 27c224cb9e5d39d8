// Privacy_test.go
//
// Purpose: Pin the numeric contracts of the privacy transforms: multiplier
// And noise bounds, exactness of the scaled division, and the nonce advance
// That keeps back-to-back draws distinct.

package main

import "testing"

// The random multiplier always lands in [1000, 10000).
func TestRandomMultiplierRange(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 50; i++ {
		r, err := randomMultiplier(h.ctx, "entropy-probe")
		requireNoErr(t, err)
		if r < multiplierMin || r >= multiplierMin+multiplierSpan {
			t.Fatalf("draw %d: multiplier %d out of [%d, %d)", i, r, multiplierMin, multiplierMin+multiplierSpan)
		}
	}
}

// Scaling numerator and divisor by the same multiplier never changes the
// integer quotient.
func TestObfuscatedDivideExact(t *testing.T) {
	h := newHarness(t)
	eng := newClearEngine()

	cases := []struct{ n, d, want uint64 }{
		{63, 3, 21},
		{100, 7, 14},
		{5, 2, 2},
		{999, 1000, 0},
		{1, 1, 1},
	}
	for _, tc := range cases {
		cn, err := eng.Encrypt(tc.n)
		requireNoErr(t, err)
		cd, err := eng.Encrypt(tc.d)
		requireNoErr(t, err)
		out, err := h.cc.obfuscatedDivide(h.ctx, "divide-probe", cn, cd)
		requireNoErr(t, err)
		got, err := clearDecode(out)
		requireNoErr(t, err)
		if got != tc.want {
			t.Fatalf("%d/%d = %d, want %d", tc.n, tc.d, got, tc.want)
		}
	}
}

// Additive noise stays within [0, 100), so a shifted value v lands in
// [v, v+100).
func TestObfuscateValueBounds(t *testing.T) {
	h := newHarness(t)
	eng := newClearEngine()

	const v uint64 = 500
	for i := 0; i < 20; i++ {
		ct, err := eng.Encrypt(v)
		requireNoErr(t, err)
		shifted, err := h.cc.obfuscateValue(h.ctx, "noise-probe", ct)
		requireNoErr(t, err)
		got, err := clearDecode(shifted)
		requireNoErr(t, err)
		if got < v || got >= v+noiseSpan {
			t.Fatalf("draw %d: shifted value %d out of [%d, %d)", i, got, v, v+noiseSpan)
		}
	}
}

// Each draw consumes a fresh nonce, so two draws inside one transaction
// differ and the counter reflects every draw.
func TestEntropyNonceAdvances(t *testing.T) {
	h := newHarness(t)

	a, err := drawEntropy(h.ctx, "same-caller")
	requireNoErr(t, err)
	b, err := drawEntropy(h.ctx, "same-caller")
	requireNoErr(t, err)
	if a == b {
		t.Fatalf("consecutive draws identical: %d", a)
	}
	if got := h.counter(keyObfNonce); got != 2 {
		t.Fatalf("nonce counter = %d, want 2", got)
	}
}
