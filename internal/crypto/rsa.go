package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"encoding/binary"
	"encoding/pem"
	"fmt"
	"math/big"

	"github.com/nexgram/nexgram/pkg/tl"
)

// serverKeys maps RSA key fingerprints to the public keys this client
// trusts. Populated from the built-in production key; additional keys
// (e.g. for test servers) can be registered before connecting.
var serverKeys = make(map[int64]*rsa.PublicKey)

// productionKeyPEM is the Telegram production RSA public key distributed
// with official clients.
const productionKeyPEM = `-----BEGIN RSA PUBLIC KEY-----
MIIBCgKCAQEA6LszBcC1LGzyr992NzE0ieY+BSaOW622Aa9Bd4ZHLl+TuFQ4lo4g
5nKaMBwK/BIb9xUfg0Q29/2mgIR6Zr9krM7HjuIcCzFvDtr+L0GQjae9H0pRB2OO
62cECs5HKhT5DZ98K33vmWiLowc621dQuwKWSQKjWf50XYFw42h21P2KXUGyp2y/
+aEyZ+uVgLLQbRA1dEjSDZ2iGRy12Mk5gpYc397aYp438fsJoHIgJ2lgMv5h7WY9
t6N/byY9Nw9p21Og3AoXSL2q/2IJ1WRUhebgAdGVMlV1fkuOQoEzR7EdpqtQD9Cs
5+bfo3Nhmcyvk5ftB0WkJ9z6bNZ7yxrP8wIDAQAB
-----END RSA PUBLIC KEY-----`

func init() {
	if err := RegisterServerKey(productionKeyPEM); err != nil {
		panic(fmt.Sprintf("crypto: built-in server key: %v", err))
	}
}

// RegisterServerKey adds a PEM-encoded RSA public key to the trusted set
// under its computed fingerprint.
func RegisterServerKey(pemData string) error {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return fmt.Errorf("crypto: no PEM block in server key")
	}

	var key *rsa.PublicKey
	switch block.Type {
	case "RSA PUBLIC KEY":
		k, err := x509.ParsePKCS1PublicKey(block.Bytes)
		if err != nil {
			return fmt.Errorf("crypto: parse server key: %w", err)
		}
		key = k
	case "PUBLIC KEY":
		k, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return fmt.Errorf("crypto: parse server key: %w", err)
		}
		pub, ok := k.(*rsa.PublicKey)
		if !ok {
			return fmt.Errorf("crypto: server key is %T, not RSA", k)
		}
		key = pub
	default:
		return fmt.Errorf("crypto: unexpected PEM type %q", block.Type)
	}

	serverKeys[keyFingerprint(key)] = key
	return nil
}

// keyFingerprint computes the TL fingerprint of an RSA key: the low
// 8 bytes of SHA1 over the TL serialization of (n, e) as byte strings.
func keyFingerprint(key *rsa.PublicKey) int64 {
	e := tl.NewEncoder()
	e.PutBytes(key.N.Bytes())
	e.PutBytes(big.NewInt(int64(key.E)).Bytes())
	sum := sha1.Sum(e.Bytes())
	return int64(binary.LittleEndian.Uint64(sum[12:20]))
}

// selectServerKey picks the first fingerprint offered by the server that
// matches a trusted key. ok is false when none match.
func selectServerKey(fingerprints []int64) (fp int64, key *rsa.PublicKey, ok bool) {
	for _, f := range fingerprints {
		if k, found := serverKeys[f]; found {
			return f, k, true
		}
	}
	return 0, nil, false
}

// rsaPad encrypts data for the handshake: SHA1 prefix, random fill to
// 255 bytes, then textbook RSA under the server key. Only handshake inner
// data ever goes through this path.
func rsaPad(key *rsa.PublicKey, data []byte) ([]byte, error) {
	if len(data) > 255-sha1.Size {
		return nil, fmt.Errorf("crypto: rsa payload too large: %d bytes", len(data))
	}

	padded := make([]byte, 255)
	h := sha1.Sum(data)
	copy(padded, h[:])
	copy(padded[sha1.Size:], data)
	if _, err := rand.Read(padded[sha1.Size+len(data):]); err != nil {
		return nil, fmt.Errorf("crypto: rsa padding: %w", err)
	}

	m := new(big.Int).SetBytes(padded)
	c := new(big.Int).Exp(m, big.NewInt(int64(key.E)), key.N)

	out := make([]byte, 256)
	c.FillBytes(out)
	return out, nil
}
