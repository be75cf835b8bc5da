package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"

	"golang.org/x/crypto/scrypt"
)

const saltLen = 32

var (
	// ScryptN is the cost parameter used to derive encryption keys.
	ScryptN = 1 << 15

	// ErrNullPlainText is returned when encrypting empty data.
	ErrNullPlainText = errors.New("plain text must not be null")
	// ErrNullPassphrase is returned when encrypting or decrypting without key.
	ErrNullPassphrase = errors.New("passphrase must not be null")
	// ErrNullCypherText is returned when decrypting empty data.
	ErrNullCypherText = errors.New("cypher text must not be null")
	// ErrInvalidCypherText is returned when the cypher text is too short or
	// can't be authenticated with the given passphrase.
	ErrInvalidCypherText = errors.New("cypher text is invalid")
)

// EncryptOpts is the struct given to Encrypt method
type EncryptOpts struct {
	PlainText  []byte
	Passphrase []byte
}

func (o EncryptOpts) validate() error {
	if len(o.PlainText) <= 0 {
		return ErrNullPlainText
	}
	if len(o.Passphrase) <= 0 {
		return ErrNullPassphrase
	}
	return nil
}

// Encrypt encrypts (with AES-256-GCM) a plaintext with a key derived from
// the provided passphrase. The salt is appended to the cypher text.
func Encrypt(opts EncryptOpts) ([]byte, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}

	key, salt, err := DeriveKey(opts.Passphrase, nil)
	if err != nil {
		return nil, err
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err = rand.Read(nonce); err != nil {
		return nil, err
	}

	cyphertext := gcm.Seal(nonce, nonce, opts.PlainText, nil)
	return append(cyphertext, salt...), nil
}

// DecryptOpts is the struct given to Decrypt method
type DecryptOpts struct {
	CypherText []byte
	Passphrase []byte
}

func (o DecryptOpts) validate() error {
	if len(o.CypherText) <= 0 {
		return ErrNullCypherText
	}
	if len(o.CypherText) <= saltLen {
		return ErrInvalidCypherText
	}
	if len(o.Passphrase) <= 0 {
		return ErrNullPassphrase
	}
	return nil
}

// Decrypt decrypts a cypher text produced by Encrypt.
func Decrypt(opts DecryptOpts) ([]byte, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}

	data := opts.CypherText
	salt, data := data[len(data)-saltLen:], data[:len(data)-saltLen]

	key, _, err := DeriveKey(opts.Passphrase, salt)
	if err != nil {
		return nil, err
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(data) < gcm.NonceSize() {
		return nil, ErrInvalidCypherText
	}
	nonce, text := data[:gcm.NonceSize()], data[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, text, nil)
	if err != nil {
		return nil, ErrInvalidCypherText
	}
	return plaintext, nil
}

// DeriveKey derives a 32 byte array key from a custom passhprase. A random
// salt is generated if not provided.
func DeriveKey(passphrase, salt []byte) ([]byte, []byte, error) {
	if salt == nil {
		salt = make([]byte, saltLen)
		if _, err := rand.Read(salt); err != nil {
			return nil, nil, err
		}
	}
	key, err := scrypt.Key(passphrase, salt, ScryptN, 8, 1, 32)
	if err != nil {
		return nil, nil, err
	}
	return key, salt, nil
}

// NewKey returns a random 32 byte key.
func NewKey() ([]byte, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	return key, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	blockCipher, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(blockCipher)
}
