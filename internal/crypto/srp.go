package crypto

import (
	"crypto/sha256"
	"crypto/sha512"
	"errors"
	"io"
	"math/big"

	"golang.org/x/crypto/pbkdf2"
)

// ErrSRPParams reports an unusable two-factor challenge: out-of-range
// server values or a malformed modulus.
var ErrSRPParams = errors.New("crypto: invalid srp parameters")

// SRPInput is the two-factor challenge as received from the server.
type SRPInput struct {
	SrpID int64
	G     int32
	P     []byte
	Salt1 []byte
	Salt2 []byte
	B     []byte
}

// SRPProof is the client's answer: the ephemeral public value A and the
// session proof M1, both 256-byte big-endian.
type SRPProof struct {
	SrpID int64
	A     []byte
	M1    []byte
}

const srpGroupSize = 256

// ComputeSRP answers a password challenge. The password never leaves
// this function; only the derived proof does. randSrc is injectable for
// deterministic tests and is crypto/rand in production.
func ComputeSRP(randSrc io.Reader, in SRPInput, password []byte) (*SRPProof, error) {
	if len(in.P) != srpGroupSize {
		return nil, ErrSRPParams
	}
	p := new(big.Int).SetBytes(in.P)
	g := big.NewInt(int64(in.G))
	gB := new(big.Int).SetBytes(in.B)
	if err := checkDHContribution(gB, p); err != nil {
		return nil, ErrSRPParams
	}

	x := new(big.Int).SetBytes(passwordHash(password, in.Salt1, in.Salt2))

	// k = H(p | g), with g padded to the group size like every other
	// exponentiation operand.
	k := new(big.Int).SetBytes(h(in.P, pad256(g)))

	one := big.NewInt(1)
	pMinusOne := new(big.Int).Sub(p, one)
	for {
		aRaw := make([]byte, srpGroupSize)
		if _, err := io.ReadFull(randSrc, aRaw); err != nil {
			return nil, err
		}
		a := new(big.Int).SetBytes(aRaw)
		gA := new(big.Int).Exp(g, a, p)
		if checkDHContribution(gA, p) != nil {
			continue
		}

		u := new(big.Int).SetBytes(h(pad256(gA), pad256(gB)))
		if u.Sign() == 0 {
			continue
		}

		// t = B - k*g^x, the server's value stripped of its verifier blind.
		v := new(big.Int).Exp(g, x, p)
		t := new(big.Int).Sub(gB, new(big.Int).Mod(new(big.Int).Mul(k, v), p))
		t.Mod(t, p)
		if t.Sign() == 0 || t.Cmp(pMinusOne) >= 0 {
			return nil, ErrSRPParams
		}

		exp := new(big.Int).Add(a, new(big.Int).Mul(u, x))
		sA := new(big.Int).Exp(t, exp, p)
		kA := h(pad256(sA))

		m1 := h(
			xor32(h(in.P), h(pad256(g))),
			h(in.Salt1),
			h(in.Salt2),
			pad256(gA),
			pad256(gB),
			kA,
		)
		return &SRPProof{SrpID: in.SrpID, A: pad256(gA), M1: m1}, nil
	}
}

// passwordHash runs the two-factor KDF chain: salted SHA-256 rounds
// around a 100000-iteration PBKDF2-HMAC-SHA512 core.
func passwordHash(password, salt1, salt2 []byte) []byte {
	ph1 := saltedHash(saltedHash(password, salt1), salt2)
	stretched := pbkdf2.Key(ph1, salt1, 100000, 64, sha512.New)
	return saltedHash(stretched, salt2)
}

// saltedHash is H(salt | data | salt).
func saltedHash(data, salt []byte) []byte {
	return h(salt, data, salt)
}

func h(parts ...[]byte) []byte {
	hash := sha256.New()
	for _, p := range parts {
		hash.Write(p)
	}
	return hash.Sum(nil)
}

func xor32(a, b []byte) []byte {
	out := make([]byte, len(a))
	for i := range out {
		out[i] = a[i] ^ b[i]
	}
	return out
}

func pad256(v *big.Int) []byte {
	return v.FillBytes(make([]byte, srpGroupSize))
}
