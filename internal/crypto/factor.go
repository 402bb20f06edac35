package crypto

import (
	"fmt"
	"math/bits"
)

// factorize splits the handshake's composite pq (a product of two primes
// below 2^32) using Brent's cycle variant of Pollard's rho. Returns the
// factors with p < q.
func factorize(pq uint64) (p, q uint64, err error) {
	if pq < 4 {
		return 0, 0, fmt.Errorf("crypto: pq too small: %d", pq)
	}
	if pq%2 == 0 {
		return ordered(2, pq/2)
	}

	for c := uint64(1); c < 64; c++ {
		if f := rho(pq, c); f != 0 && f != pq {
			return ordered(f, pq/f)
		}
	}
	return 0, 0, fmt.Errorf("crypto: failed to factorize pq %d", pq)
}

func ordered(a, b uint64) (uint64, uint64, error) {
	if a > b {
		a, b = b, a
	}
	return a, b, nil
}

// rho runs one Pollard-rho walk x -> x^2 + c mod n.
func rho(n, c uint64) uint64 {
	f := func(x uint64) uint64 { return addMod(mulMod(x, x, n), c, n) }

	x, y, d := uint64(2), uint64(2), uint64(1)
	for d == 1 {
		x = f(x)
		y = f(f(y))
		diff := x - y
		if x < y {
			diff = y - x
		}
		if diff == 0 {
			return 0
		}
		d = gcd(diff, n)
	}
	return d
}

func gcd(a, b uint64) uint64 {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

func mulMod(a, b, m uint64) uint64 {
	hi, lo := bits.Mul64(a, b)
	_, rem := bits.Div64(hi%m, lo, m)
	return rem
}

func addMod(a, b, m uint64) uint64 {
	a %= m
	b %= m
	if a >= m-b {
		return a - (m - b)
	}
	return a + b
}
