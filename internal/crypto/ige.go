// Package crypto implements the MTProto cryptographic layer: AES-256 in
// IGE mode, the per-message key derivation, the encrypted message
// envelope, and the initial Diffie-Hellman key exchange.
package crypto

import (
	"crypto/aes"
	"errors"
)

// ErrBlockSize is returned when an IGE input is not a multiple of the AES
// block size. Inputs are padded before encryption, so hitting this on the
// decrypt path means the frame is corrupt.
var ErrBlockSize = errors.New("crypto: input not a multiple of aes block size")

// igeEncrypt runs AES-256-IGE over src. IGE chains both the previous
// ciphertext and the previous plaintext block into each encryption, so a
// 32-byte IV (two blocks) is required.
func igeEncrypt(key [32]byte, iv [32]byte, src []byte) ([]byte, error) {
	if len(src)%aes.BlockSize != 0 {
		return nil, ErrBlockSize
	}
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}

	dst := make([]byte, len(src))
	prevCipher := iv[:aes.BlockSize]
	prevPlain := iv[aes.BlockSize:]

	var tmp [aes.BlockSize]byte
	for i := 0; i < len(src); i += aes.BlockSize {
		in := src[i : i+aes.BlockSize]
		out := dst[i : i+aes.BlockSize]

		for j := range tmp {
			tmp[j] = in[j] ^ prevCipher[j]
		}
		block.Encrypt(out, tmp[:])
		for j := range out {
			out[j] ^= prevPlain[j]
		}

		prevCipher = out
		prevPlain = in
	}
	return dst, nil
}

// igeDecrypt reverses igeEncrypt.
func igeDecrypt(key [32]byte, iv [32]byte, src []byte) ([]byte, error) {
	if len(src)%aes.BlockSize != 0 {
		return nil, ErrBlockSize
	}
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}

	dst := make([]byte, len(src))
	prevCipher := iv[:aes.BlockSize]
	prevPlain := iv[aes.BlockSize:]

	var tmp [aes.BlockSize]byte
	for i := 0; i < len(src); i += aes.BlockSize {
		in := src[i : i+aes.BlockSize]
		out := dst[i : i+aes.BlockSize]

		for j := range tmp {
			tmp[j] = in[j] ^ prevPlain[j]
		}
		block.Decrypt(out, tmp[:])
		for j := range out {
			out[j] ^= prevCipher[j]
		}

		prevCipher = in
		prevPlain = out
	}
	return dst, nil
}
