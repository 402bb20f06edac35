package crypto

import (
	"bytes"
	"crypto/rand"
	"errors"
	"testing"
)

func testKey(t *testing.T) AuthKey {
	t.Helper()
	raw := make([]byte, KeySize)
	if _, err := rand.Read(raw); err != nil {
		t.Fatalf("rand: %v", err)
	}
	return NewAuthKey(raw)
}

func TestIGERoundTrip(t *testing.T) {
	t.Parallel()

	var key, iv [32]byte
	_, _ = rand.Read(key[:])
	_, _ = rand.Read(iv[:])

	plain := make([]byte, 64)
	_, _ = rand.Read(plain)

	cipher, err := igeEncrypt(key, iv, plain)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if bytes.Equal(cipher, plain) {
		t.Fatal("ciphertext equals plaintext")
	}

	got, err := igeDecrypt(key, iv, cipher)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if !bytes.Equal(got, plain) {
		t.Fatal("ige round trip corrupted data")
	}
}

func TestIGERejectsUnalignedInput(t *testing.T) {
	t.Parallel()

	var key, iv [32]byte
	if _, err := igeEncrypt(key, iv, make([]byte, 17)); !errors.Is(err, ErrBlockSize) {
		t.Fatalf("error = %v, want ErrBlockSize", err)
	}
}

func TestEnvelopeRoundTrip(t *testing.T) {
	t.Parallel()

	key := testKey(t)
	in := Envelope{
		Salt:      111,
		SessionID: 222,
		MsgID:     333,
		SeqNo:     5,
		Body:      []byte("the quick brown fox"),
	}

	wire, err := Encrypt(key, in, SideClient)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	out, err := Decrypt(key, wire, SideClient)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if out.Salt != in.Salt || out.SessionID != in.SessionID ||
		out.MsgID != in.MsgID || out.SeqNo != in.SeqNo {
		t.Fatalf("header round trip = %+v, want %+v", out, in)
	}
	if !bytes.Equal(out.Body, in.Body) {
		t.Fatalf("body = %q, want %q", out.Body, in.Body)
	}
}

func TestEnvelopePaddingVaries(t *testing.T) {
	t.Parallel()

	// Random padding must make two encryptions of the same envelope differ.
	key := testKey(t)
	env := Envelope{MsgID: 1, Body: []byte("x")}

	a, err := Encrypt(key, env, SideClient)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	b, err := Encrypt(key, env, SideClient)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if bytes.Equal(a, b) {
		t.Fatal("two encryptions produced identical ciphertext")
	}
}

func TestDecryptRejectsTamperedFrame(t *testing.T) {
	t.Parallel()

	key := testKey(t)
	wire, err := Encrypt(key, Envelope{MsgID: 9, Body: []byte("payload")}, SideClient)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	// Flip one ciphertext bit: the recomputed msg_key no longer matches.
	wire[30] ^= 0x01
	_, err = Decrypt(key, wire, SideClient)

	var integrity *IntegrityError
	if !errors.As(err, &integrity) {
		t.Fatalf("error = %v, want IntegrityError", err)
	}
}

func TestDecryptRejectsWrongKeyFingerprint(t *testing.T) {
	t.Parallel()

	keyA := testKey(t)
	keyB := testKey(t)

	wire, err := Encrypt(keyA, Envelope{MsgID: 1, Body: []byte("z")}, SideClient)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	var integrity *IntegrityError
	if _, err := Decrypt(keyB, wire, SideClient); !errors.As(err, &integrity) {
		t.Fatalf("error = %v, want IntegrityError", err)
	}
}

func TestDirectionalKeysDiffer(t *testing.T) {
	t.Parallel()

	// A frame sealed as client must not open as a server frame.
	key := testKey(t)
	wire, err := Encrypt(key, Envelope{MsgID: 1, Body: []byte("dir")}, SideClient)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if _, err := Decrypt(key, wire, SideServer); err == nil {
		t.Fatal("cross-direction decrypt unexpectedly succeeded")
	}
}

func TestFactorize(t *testing.T) {
	t.Parallel()

	cases := []struct {
		pq   uint64
		p, q uint64
	}{
		{15, 3, 5},
		{35, 5, 7},
		{998244353 * 1000000007, 998244353, 1000000007},
		{1724114033281923457, 1229739323, 1402015859},
	}
	for _, tc := range cases {
		p, q, err := factorize(tc.pq)
		if err != nil {
			t.Fatalf("factorize(%d): %v", tc.pq, err)
		}
		if p != tc.p || q != tc.q {
			t.Errorf("factorize(%d) = %d, %d; want %d, %d", tc.pq, p, q, tc.p, tc.q)
		}
	}
}

func TestAuthKeyFingerprintStable(t *testing.T) {
	t.Parallel()

	raw := bytes.Repeat([]byte{0x42}, KeySize)
	a := NewAuthKey(raw)
	b := NewAuthKey(raw)
	if a.Fingerprint() != b.Fingerprint() {
		t.Fatal("fingerprint not deterministic")
	}
	if a.Fingerprint() == 0 {
		t.Fatal("fingerprint is zero")
	}
	if a.Zero() {
		t.Fatal("non-empty key reported zero")
	}
	if !(AuthKey{}).Zero() {
		t.Fatal("empty key not reported zero")
	}
}

func TestTempKeysDeterministic(t *testing.T) {
	t.Parallel()

	var nn [32]byte
	var sn [16]byte
	_, _ = rand.Read(nn[:])
	_, _ = rand.Read(sn[:])

	k1, iv1 := tempKeys(nn, sn)
	k2, iv2 := tempKeys(nn, sn)
	if k1 != k2 || iv1 != iv2 {
		t.Fatal("temp keys not deterministic")
	}
}

func TestInitialSalt(t *testing.T) {
	t.Parallel()

	var nn [32]byte
	var sn [16]byte
	nn[0], sn[0] = 0xFF, 0x0F

	salt := initialSalt(nn, sn)
	if byte(salt) != 0xF0 {
		t.Fatalf("salt low byte = %#x, want 0xf0", byte(salt))
	}
}
