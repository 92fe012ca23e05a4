package registry

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/binary"

	"golang.org/x/crypto/pbkdf2"
)

const (
	magicGCM    = "HLGCM"
	magicLegacy = "HLINK"

	pbkdf2Iterations = 100_000
	aesKeyLen        = 32
	gcmNonceLen      = 12
)

// KeyDeriver turns a shared secret (a password or a machine id, per the
// spec's key-derivation note) and a per-file salt into an AES-256 key via
// PBKDF2-HMAC-SHA256.
type KeyDeriver struct {
	Secret string
}

// deriveKey runs PBKDF2-HMAC-SHA256 over d.Secret and salt.
func (d KeyDeriver) deriveKey(salt []byte) []byte {
	return pbkdf2.Key([]byte(d.Secret), salt, pbkdf2Iterations, aesKeyLen, sha256.New)
}

// decryptModel inspects raw for the "HLGCM" magic prefix and, if present,
// decrypts and authenticates it with AES-256-GCM, returning the plaintext.
// If raw has no recognized magic it is returned unmodified (plaintext model
// file). If raw carries the legacy "HLINK" magic, [ErrLegacyFormat] is
// returned. Any AEAD authentication failure is reported as
// [ErrIntegrityMismatch], never distinguished further, so a corrupted file
// and a tampered one look identical to the caller.
func decryptModel(raw []byte, keys KeyDeriver) ([]byte, error) {
	if len(raw) >= len(magicLegacy) && string(raw[:len(magicLegacy)]) == magicLegacy {
		return nil, ErrLegacyFormat
	}
	if len(raw) < len(magicGCM) || string(raw[:len(magicGCM)]) != magicGCM {
		return raw, nil
	}

	const headerLen = 5 + 2 + gcmNonceLen + 8
	if len(raw) < headerLen {
		return nil, ErrIntegrityMismatch
	}

	off := 5
	off += 2 // version {major, minor}, not yet load-bearing
	nonce := raw[off : off+gcmNonceLen]
	off += gcmNonceLen
	ctLen := binary.LittleEndian.Uint64(raw[off : off+8])
	off += 8

	if uint64(len(raw)-off) != ctLen {
		return nil, ErrIntegrityMismatch
	}
	ciphertext := raw[off:]

	// The salt for key derivation is the nonce itself: it is unique per
	// file, transmitted alongside the ciphertext, and needs no separate
	// storage slot in the on-disk header the spec defines.
	key := keys.deriveKey(nonce)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, ErrIntegrityMismatch
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, ErrIntegrityMismatch
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrIntegrityMismatch
	}
	return plaintext, nil
}
