package crypto

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/binary"
	"fmt"
)

// IntegrityError reports an encrypted frame that failed authentication or
// structural validation. It is connection corruption, not an application
// error: the session reconnects instead of retrying the frame.
type IntegrityError struct {
	Reason string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("crypto: integrity failure: %s", e.Reason)
}

// Side identifies the sender of a message. The key derivation offset
// differs per direction, so the decrypting party must name the sender.
type Side int

// Message senders.
const (
	SideClient Side = kdfClient
	SideServer Side = kdfServer
)

// Envelope is the decrypted inner structure of an encrypted frame.
type Envelope struct {
	Salt      int64
	SessionID int64
	MsgID     int64
	SeqNo     int32
	Body      []byte
}

const envelopeHeader = 8 + 8 + 8 + 4 + 4 // salt, session, msg_id, seqno, length

// minPadding per MTProto 2.0; total padded length must be a multiple of 16.
const minPadding = 12

// Encrypt seals env under the auth key as sent by side, returning the full
// wire payload: key fingerprint, msg_key, and the AES-IGE ciphertext.
func Encrypt(key AuthKey, env Envelope, side Side) ([]byte, error) {
	plain := make([]byte, 0, envelopeHeader+len(env.Body)+minPadding+16)
	plain = binary.LittleEndian.AppendUint64(plain, uint64(env.Salt))
	plain = binary.LittleEndian.AppendUint64(plain, uint64(env.SessionID))
	plain = binary.LittleEndian.AppendUint64(plain, uint64(env.MsgID))
	plain = binary.LittleEndian.AppendUint32(plain, uint32(env.SeqNo))
	plain = binary.LittleEndian.AppendUint32(plain, uint32(len(env.Body)))
	plain = append(plain, env.Body...)

	padLen := minPadding + (16-(len(plain)+minPadding)%16)%16
	pad := make([]byte, padLen)
	if _, err := rand.Read(pad); err != nil {
		return nil, fmt.Errorf("crypto: padding: %w", err)
	}
	plain = append(plain, pad...)

	msgKey := key.messageKey(int(side), plain)
	aesKey, aesIV := key.deriveAES(int(side), msgKey)
	cipher, err := igeEncrypt(aesKey, aesIV, plain)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, 8+16+len(cipher))
	out = binary.LittleEndian.AppendUint64(out, uint64(key.Fingerprint()))
	out = append(out, msgKey[:]...)
	out = append(out, cipher...)
	return out, nil
}

// Decrypt opens a wire payload sent by side. It verifies the key
// fingerprint, recomputes msg_key over the decrypted plaintext, and checks
// the declared body length before returning the envelope.
func Decrypt(key AuthKey, data []byte, side Side) (Envelope, error) {
	if len(data) < 8+16+envelopeHeader+minPadding {
		return Envelope{}, &IntegrityError{Reason: "payload too short"}
	}
	if int64(binary.LittleEndian.Uint64(data[0:8])) != key.Fingerprint() {
		return Envelope{}, &IntegrityError{Reason: "auth key fingerprint mismatch"}
	}

	var msgKey [16]byte
	copy(msgKey[:], data[8:24])

	cipher := data[24:]
	if len(cipher)%16 != 0 {
		return Envelope{}, &IntegrityError{Reason: "ciphertext not block aligned"}
	}

	aesKey, aesIV := key.deriveAES(int(side), msgKey)
	plain, err := igeDecrypt(aesKey, aesIV, cipher)
	if err != nil {
		return Envelope{}, &IntegrityError{Reason: err.Error()}
	}

	want := key.messageKey(int(side), plain)
	if subtle.ConstantTimeCompare(want[:], msgKey[:]) != 1 {
		return Envelope{}, &IntegrityError{Reason: "message key mismatch"}
	}

	env := Envelope{
		Salt:      int64(binary.LittleEndian.Uint64(plain[0:8])),
		SessionID: int64(binary.LittleEndian.Uint64(plain[8:16])),
		MsgID:     int64(binary.LittleEndian.Uint64(plain[16:24])),
		SeqNo:     int32(binary.LittleEndian.Uint32(plain[24:28])),
	}
	bodyLen := int(binary.LittleEndian.Uint32(plain[28:32]))
	if bodyLen < 0 || bodyLen > len(plain)-envelopeHeader {
		return Envelope{}, &IntegrityError{Reason: "declared length out of range"}
	}
	if pad := len(plain) - envelopeHeader - bodyLen; pad < minPadding || pad > 1024 {
		return Envelope{}, &IntegrityError{Reason: "padding length out of range"}
	}
	env.Body = plain[envelopeHeader : envelopeHeader+bodyLen]
	return env, nil
}
