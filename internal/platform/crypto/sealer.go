package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/scrypt"
)

const (
	saltLength = 16
	keyLength  = 32

	scryptN = 1 << 15
	scryptR = 8
	scryptP = 1
)

var ErrMalformedCiphertext = errors.New("sealed credential is malformed")

// Sealer encrypts tenant hypervisor credentials with AES-256-GCM under a
// scrypt-derived key. Each Seal call uses a fresh salt and nonce; the output
// is base64(salt || nonce || ciphertext).
type Sealer struct {
	passphrase []byte
}

func NewSealer(passphrase string) (*Sealer, error) {
	if passphrase == "" {
		return nil, errors.New("credential passphrase is required")
	}
	return &Sealer{passphrase: []byte(passphrase)}, nil
}

func (s *Sealer) Seal(plaintext string) (string, error) {
	salt := make([]byte, saltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	gcm, err := s.cipherFor(salt)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := gcm.Seal(nil, nonce, []byte(plaintext), nil)
	packed := make([]byte, 0, len(salt)+len(nonce)+len(sealed))
	packed = append(packed, salt...)
	packed = append(packed, nonce...)
	packed = append(packed, sealed...)
	return base64.StdEncoding.EncodeToString(packed), nil
}

func (s *Sealer) Open(sealed string) (string, error) {
	packed, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", ErrMalformedCiphertext
	}
	if len(packed) < saltLength {
		return "", ErrMalformedCiphertext
	}

	salt := packed[:saltLength]
	gcm, err := s.cipherFor(salt)
	if err != nil {
		return "", err
	}
	if len(packed) < saltLength+gcm.NonceSize() {
		return "", ErrMalformedCiphertext
	}

	nonce := packed[saltLength : saltLength+gcm.NonceSize()]
	plaintext, err := gcm.Open(nil, nonce, packed[saltLength+gcm.NonceSize():], nil)
	if err != nil {
		return "", fmt.Errorf("open sealed credential: %w", err)
	}
	return string(plaintext), nil
}

func (s *Sealer) cipherFor(salt []byte) (cipher.AEAD, error) {
	key, err := scrypt.Key(s.passphrase, salt, scryptN, scryptR, scryptP, keyLength)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	return cipher.NewGCM(block)
}
