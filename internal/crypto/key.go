package crypto

import (
	"crypto/sha1"
	"crypto/sha256"
	"encoding/binary"
)

// KeySize is the auth key length in bytes (a 2048-bit DH shared secret).
const KeySize = 256

// AuthKey is the long-lived symmetric secret negotiated with one data
// center. It is derived exactly once by Exchange and never re-derived
// implicitly; a new key requires an explicit new handshake.
type AuthKey struct {
	value       [KeySize]byte
	fingerprint int64
	auxHash     int64
}

// NewAuthKey wraps raw key material, precomputing the SHA1-derived
// fingerprint (low 8 bytes) and aux hash (high 8 bytes).
func NewAuthKey(raw []byte) AuthKey {
	var k AuthKey
	copy(k.value[len(k.value)-len(raw):], raw)
	sum := sha1.Sum(k.value[:])
	k.auxHash = int64(binary.LittleEndian.Uint64(sum[0:8]))
	k.fingerprint = int64(binary.LittleEndian.Uint64(sum[12:20]))
	return k
}

// Zero reports whether no key material is present.
func (k AuthKey) Zero() bool { return k.value == [KeySize]byte{} }

// Fingerprint returns the 64-bit key id sent in every encrypted frame.
func (k AuthKey) Fingerprint() int64 { return k.fingerprint }

// AuxHash returns the handshake confirmation hash component.
func (k AuthKey) AuxHash() int64 { return k.auxHash }

// Bytes returns a copy of the raw key material, for persistence.
func (k AuthKey) Bytes() []byte {
	out := make([]byte, KeySize)
	copy(out, k.value[:])
	return out
}

// directionality of the message-key derivation: x=0 for messages the
// client sends, x=8 for messages it receives.
const (
	kdfClient = 0
	kdfServer = 8
)

// messageKey computes the MTProto 2.0 msg_key: the middle 128 bits of
// SHA256 over a key-dependent slice and the padded plaintext.
func (k AuthKey) messageKey(x int, padded []byte) [16]byte {
	h := sha256.New()
	h.Write(k.value[88+x : 88+x+32])
	h.Write(padded)
	sum := h.Sum(nil)

	var mk [16]byte
	copy(mk[:], sum[8:24])
	return mk
}

// deriveAES expands msg_key into the per-message AES key and IV. Because
// msg_key depends on the plaintext, no two messages reuse key material
// even though the auth key is fixed.
func (k AuthKey) deriveAES(x int, msgKey [16]byte) (key [32]byte, iv [32]byte) {
	ha := sha256.New()
	ha.Write(msgKey[:])
	ha.Write(k.value[x : x+36])
	a := ha.Sum(nil)

	hb := sha256.New()
	hb.Write(k.value[40+x : 40+x+36])
	hb.Write(msgKey[:])
	b := hb.Sum(nil)

	copy(key[0:8], a[0:8])
	copy(key[8:24], b[8:24])
	copy(key[24:32], a[24:32])

	copy(iv[0:8], b[0:8])
	copy(iv[8:24], a[8:24])
	copy(iv[24:32], b[24:32])
	return key, iv
}
