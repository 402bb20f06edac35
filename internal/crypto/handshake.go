package crypto

import (
	"context"
	"crypto/rand"
	"crypto/sha1"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/nexgram/nexgram/pkg/tl"
)

// Handshake failure modes. Both are fatal to the connection attempt and
// surfaced to the caller; the exchange is never silently retried.
var (
	// ErrUntrustedServer means no offered RSA fingerprint matched a
	// trusted key. Continuing would hand the secret to an unknown party.
	ErrUntrustedServer = errors.New("crypto: server offered no trusted rsa key")

	// ErrKeyMismatch means the server's confirmation hash does not match
	// the key the client derived.
	ErrKeyMismatch = errors.New("crypto: auth key confirmation mismatch")
)

// HandshakeError wraps a failure of the key exchange with the step that
// produced it.
type HandshakeError struct {
	Step string
	Err  error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("crypto: handshake %s: %v", e.Step, e.Err)
}

func (e *HandshakeError) Unwrap() error { return e.Err }

// Framer is the plaintext frame exchange the handshake runs over. The
// transport package satisfies it; the indirection keeps this package free
// of transport details.
type Framer interface {
	Send(ctx context.Context, payload []byte) error
	Recv(ctx context.Context) ([]byte, error)
}

// maxDHRetries bounds dh_gen_retry loops before giving up.
const maxDHRetries = 5

// Exchange performs the initial Diffie-Hellman key exchange over fr and
// returns the negotiated auth key and the first server salt. It runs once
// per data-center session; the resulting key is cached and reused for
// every subsequent message.
func Exchange(ctx context.Context, fr Framer, logger *slog.Logger) (AuthKey, int64, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "handshake")

	var nonce [16]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return AuthKey{}, 0, &HandshakeError{Step: "nonce", Err: err}
	}

	if err := sendPlain(ctx, fr, &tl.ReqPQMulti{Nonce: nonce}); err != nil {
		return AuthKey{}, 0, &HandshakeError{Step: "req_pq", Err: err}
	}
	res, err := recvPlain(ctx, fr)
	if err != nil {
		return AuthKey{}, 0, &HandshakeError{Step: "res_pq", Err: err}
	}
	resPQ, ok := res.(*tl.ResPQ)
	if !ok {
		return AuthKey{}, 0, &HandshakeError{Step: "res_pq", Err: fmt.Errorf("unexpected %T", res)}
	}
	if resPQ.Nonce != nonce {
		return AuthKey{}, 0, &HandshakeError{Step: "res_pq", Err: errors.New("nonce mismatch")}
	}

	fp, serverKey, ok := selectServerKey(resPQ.Fingerprints)
	if !ok {
		return AuthKey{}, 0, &HandshakeError{Step: "rsa", Err: ErrUntrustedServer}
	}

	if len(resPQ.PQ) > 8 {
		return AuthKey{}, 0, &HandshakeError{Step: "factorize", Err: fmt.Errorf("pq length %d", len(resPQ.PQ))}
	}
	var pqInt uint64
	for _, b := range resPQ.PQ {
		pqInt = pqInt<<8 | uint64(b)
	}
	start := time.Now()
	p, q, err := factorize(pqInt)
	if err != nil {
		return AuthKey{}, 0, &HandshakeError{Step: "factorize", Err: err}
	}
	logger.Debug("pq factorized", "pq", pqInt, "elapsed", time.Since(start))

	var newNonce [32]byte
	if _, err := rand.Read(newNonce[:]); err != nil {
		return AuthKey{}, 0, &HandshakeError{Step: "new_nonce", Err: err}
	}

	inner := tl.Marshal(&tl.PQInnerData{
		PQ:          resPQ.PQ,
		P:           beBytes(p),
		Q:           beBytes(q),
		Nonce:       nonce,
		ServerNonce: resPQ.ServerNonce,
		NewNonce:    newNonce,
	})
	encrypted, err := rsaPad(serverKey, inner)
	if err != nil {
		return AuthKey{}, 0, &HandshakeError{Step: "rsa", Err: err}
	}

	err = sendPlain(ctx, fr, &tl.ReqDHParams{
		Nonce:         nonce,
		ServerNonce:   resPQ.ServerNonce,
		P:             beBytes(p),
		Q:             beBytes(q),
		Fingerprint:   fp,
		EncryptedData: encrypted,
	})
	if err != nil {
		return AuthKey{}, 0, &HandshakeError{Step: "req_dh_params", Err: err}
	}

	res, err = recvPlain(ctx, fr)
	if err != nil {
		return AuthKey{}, 0, &HandshakeError{Step: "server_dh_params", Err: err}
	}
	params, ok := res.(*tl.ServerDHParamsOK)
	if !ok {
		return AuthKey{}, 0, &HandshakeError{Step: "server_dh_params", Err: fmt.Errorf("unexpected %T", res)}
	}
	if params.Nonce != nonce || params.ServerNonce != resPQ.ServerNonce {
		return AuthKey{}, 0, &HandshakeError{Step: "server_dh_params", Err: errors.New("nonce mismatch")}
	}

	tmpKey, tmpIV := tempKeys(newNonce, resPQ.ServerNonce)
	answer, err := igeDecrypt(tmpKey, tmpIV, params.EncryptedAnswer)
	if err != nil {
		return AuthKey{}, 0, &HandshakeError{Step: "dh_inner", Err: err}
	}
	if len(answer) < sha1.Size+4 {
		return AuthKey{}, 0, &HandshakeError{Step: "dh_inner", Err: errors.New("answer too short")}
	}
	dhInner := &tl.ServerDHInnerData{}
	d := tl.NewDecoder(answer[sha1.Size:])
	d.ExpectID(tl.IDServerDHInnerData)
	if err := dhInner.Decode(d); err != nil {
		return AuthKey{}, 0, &HandshakeError{Step: "dh_inner", Err: err}
	}
	wantHash := sha1.Sum(tl.Marshal(dhInner))
	if [sha1.Size]byte(answer[:sha1.Size]) != wantHash {
		return AuthKey{}, 0, &HandshakeError{Step: "dh_inner", Err: errors.New("answer hash mismatch")}
	}
	if dhInner.Nonce != nonce || dhInner.ServerNonce != resPQ.ServerNonce {
		return AuthKey{}, 0, &HandshakeError{Step: "dh_inner", Err: errors.New("nonce mismatch")}
	}

	prime := new(big.Int).SetBytes(dhInner.DHPrime)
	g := big.NewInt(int64(dhInner.G))
	gA := new(big.Int).SetBytes(dhInner.GA)
	if err := checkDHParams(prime, g, gA); err != nil {
		return AuthKey{}, 0, &HandshakeError{Step: "dh_check", Err: err}
	}

	retryID := int64(0)
	for attempt := 0; attempt < maxDHRetries; attempt++ {
		key, done, err := clientDHStep(ctx, fr, dhParams{
			nonce:       nonce,
			serverNonce: resPQ.ServerNonce,
			newNonce:    newNonce,
			prime:       prime,
			g:           g,
			gA:          gA,
			retryID:     retryID,
			tmpKey:      tmpKey,
			tmpIV:       tmpIV,
		})
		if err != nil {
			return AuthKey{}, 0, err
		}
		if done {
			salt := initialSalt(newNonce, resPQ.ServerNonce)
			logger.Info("auth key established", "fingerprint", fmt.Sprintf("%x", uint64(key.Fingerprint())))
			return key, salt, nil
		}
		retryID = key.AuxHash()
		logger.Warn("dh_gen_retry, repeating client step", "attempt", attempt+1)
	}
	return AuthKey{}, 0, &HandshakeError{Step: "dh_gen", Err: errors.New("retry budget exhausted")}
}

type dhParams struct {
	nonce       [16]byte
	serverNonce [16]byte
	newNonce    [32]byte
	prime       *big.Int
	g           *big.Int
	gA          *big.Int
	retryID     int64
	tmpKey      [32]byte
	tmpIV       [32]byte
}

// clientDHStep generates b, submits g_b, and interprets the server's
// verdict. done is true when dh_gen_ok confirmed the key; false requests
// another attempt with a fresh b.
func clientDHStep(ctx context.Context, fr Framer, p dhParams) (AuthKey, bool, error) {
	bRaw := make([]byte, 256)
	if _, err := rand.Read(bRaw); err != nil {
		return AuthKey{}, false, &HandshakeError{Step: "dh_gen", Err: err}
	}
	b := new(big.Int).SetBytes(bRaw)
	gB := new(big.Int).Exp(p.g, b, p.prime)
	shared := new(big.Int).Exp(p.gA, b, p.prime)

	if err := checkDHContribution(gB, p.prime); err != nil {
		return AuthKey{}, false, &HandshakeError{Step: "dh_gen", Err: err}
	}

	keyBytes := make([]byte, KeySize)
	shared.FillBytes(keyBytes)
	key := NewAuthKey(keyBytes)

	data := tl.Marshal(&tl.ClientDHInnerData{
		Nonce:       p.nonce,
		ServerNonce: p.serverNonce,
		RetryID:     p.retryID,
		GB:          gB.Bytes(),
	})
	hash := sha1.Sum(data)
	withHash := append(hash[:], data...)
	if pad := len(withHash) % 16; pad != 0 {
		fill := make([]byte, 16-pad)
		if _, err := rand.Read(fill); err != nil {
			return AuthKey{}, false, &HandshakeError{Step: "dh_gen", Err: err}
		}
		withHash = append(withHash, fill...)
	}
	encrypted, err := igeEncrypt(p.tmpKey, p.tmpIV, withHash)
	if err != nil {
		return AuthKey{}, false, &HandshakeError{Step: "dh_gen", Err: err}
	}

	err = sendPlain(ctx, fr, &tl.SetClientDHParams{
		Nonce:         p.nonce,
		ServerNonce:   p.serverNonce,
		EncryptedData: encrypted,
	})
	if err != nil {
		return AuthKey{}, false, &HandshakeError{Step: "set_dh_params", Err: err}
	}

	res, err := recvPlain(ctx, fr)
	if err != nil {
		return AuthKey{}, false, &HandshakeError{Step: "dh_gen", Err: err}
	}
	switch verdict := res.(type) {
	case *tl.DHGenOK:
		if verdict.NewNonceHash1 != nonceHash(p.newNonce, 1, key.AuxHash()) {
			return AuthKey{}, false, &HandshakeError{Step: "dh_gen", Err: ErrKeyMismatch}
		}
		return key, true, nil
	case *tl.DHGenRetry:
		if verdict.NewNonceHash2 != nonceHash(p.newNonce, 2, key.AuxHash()) {
			return AuthKey{}, false, &HandshakeError{Step: "dh_gen", Err: ErrKeyMismatch}
		}
		return key, false, nil
	case *tl.DHGenFail:
		return AuthKey{}, false, &HandshakeError{Step: "dh_gen", Err: ErrKeyMismatch}
	default:
		return AuthKey{}, false, &HandshakeError{Step: "dh_gen", Err: fmt.Errorf("unexpected %T", res)}
	}
}

// checkDHParams applies the structural checks the protocol mandates on
// the server-chosen group. Full primality verification is delegated to
// ProbablyPrime with a modest round count; the group is also pinned by
// the RSA signature that delivered it.
func checkDHParams(prime, g, gA *big.Int) error {
	if prime.BitLen() != 2048 {
		return fmt.Errorf("dh prime has %d bits, want 2048", prime.BitLen())
	}
	if !prime.ProbablyPrime(20) {
		return errors.New("dh prime failed primality test")
	}
	if g.Cmp(big.NewInt(2)) < 0 || g.Cmp(big.NewInt(7)) > 0 {
		return fmt.Errorf("dh generator %v out of range", g)
	}
	return checkDHContribution(gA, prime)
}

// checkDHContribution rejects degenerate public values: v must satisfy
// 1 < v < p-1.
func checkDHContribution(v, prime *big.Int) error {
	one := big.NewInt(1)
	pMinusOne := new(big.Int).Sub(prime, one)
	if v.Cmp(one) <= 0 || v.Cmp(pMinusOne) >= 0 {
		return errors.New("degenerate dh value")
	}
	return nil
}

// tempKeys derives the AES-IGE key/IV protecting the DH inner payloads,
// from the client's new_nonce and the server's nonce (SHA1-based, as the
// handshake predates the v2 KDF).
func tempKeys(newNonce [32]byte, serverNonce [16]byte) (key [32]byte, iv [32]byte) {
	nnSN := sha1.Sum(append(newNonce[:], serverNonce[:]...))
	snNN := sha1.Sum(append(serverNonce[:], newNonce[:]...))
	nnNN := sha1.Sum(append(newNonce[:], newNonce[:]...))

	copy(key[0:20], nnSN[:])
	copy(key[20:32], snNN[:12])

	copy(iv[0:8], snNN[12:20])
	copy(iv[8:28], nnNN[:])
	copy(iv[28:32], newNonce[:4])
	return key, iv
}

// nonceHash computes new_nonce_hash{i}: SHA1 over new_nonce, the verdict
// number, and the auth key aux hash, keeping the low 16 bytes.
func nonceHash(newNonce [32]byte, i byte, auxHash int64) [16]byte {
	buf := make([]byte, 0, 32+1+8)
	buf = append(buf, newNonce[:]...)
	buf = append(buf, i)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(auxHash))
	sum := sha1.Sum(buf)

	var out [16]byte
	copy(out[:], sum[4:20])
	return out
}

// initialSalt is the first server salt: the XOR of the low 8 bytes of
// new_nonce and server_nonce.
func initialSalt(newNonce [32]byte, serverNonce [16]byte) int64 {
	var raw [8]byte
	for i := range raw {
		raw[i] = newNonce[i] ^ serverNonce[i]
	}
	return int64(binary.LittleEndian.Uint64(raw[:]))
}

func beBytes(v uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	i := 0
	for i < 7 && buf[i] == 0 {
		i++
	}
	return buf[i:]
}

// sendPlain writes an unencrypted handshake message: zero auth key id,
// a time-based message id, and the length-prefixed payload.
func sendPlain(ctx context.Context, fr Framer, obj tl.Object) error {
	body := tl.Marshal(obj)
	buf := make([]byte, 0, 8+8+4+len(body))
	buf = binary.LittleEndian.AppendUint64(buf, 0)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(time.Now().Unix())<<32)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(body)))
	buf = append(buf, body...)
	return fr.Send(ctx, buf)
}

// recvPlain reads and decodes one unencrypted handshake message.
func recvPlain(ctx context.Context, fr Framer) (tl.Object, error) {
	frame, err := fr.Recv(ctx)
	if err != nil {
		return nil, err
	}
	if len(frame) < 20 {
		return nil, errors.New("plaintext frame too short")
	}
	if binary.LittleEndian.Uint64(frame[0:8]) != 0 {
		return nil, errors.New("expected zero auth key id during handshake")
	}
	size := int(binary.LittleEndian.Uint32(frame[16:20]))
	if size < 0 || size > len(frame)-20 {
		return nil, errors.New("plaintext frame length out of range")
	}
	return tl.Unmarshal(frame[20 : 20+size])
}
