package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecrypt(t *testing.T) {
	plaintext := []byte(`{"iban":"DE89370400440532013000"}`)
	passphrase, err := NewKey()
	require.NoError(t, err)

	cyphertext, err := Encrypt(EncryptOpts{
		PlainText:  plaintext,
		Passphrase: passphrase,
	})
	require.NoError(t, err)

	revealedtext, err := Decrypt(DecryptOpts{
		CypherText: cyphertext,
		Passphrase: passphrase,
	})
	require.NoError(t, err)
	assert.Equal(t, plaintext, revealedtext)

	otherKey, err := NewKey()
	require.NoError(t, err)
	_, err = Decrypt(DecryptOpts{
		CypherText: cyphertext,
		Passphrase: otherKey,
	})
	assert.Equal(t, ErrInvalidCypherText, err)
}

func TestFailingEncrypt(t *testing.T) {
	tests := []struct {
		opts EncryptOpts
		err  error
	}{
		{
			opts: EncryptOpts{
				PlainText:  nil,
				Passphrase: []byte("supersecurekey"),
			},
			err: ErrNullPlainText,
		},
		{
			opts: EncryptOpts{
				PlainText:  []byte("super secret message"),
				Passphrase: nil,
			},
			err: ErrNullPassphrase,
		},
	}
	for _, tt := range tests {
		_, err := Encrypt(tt.opts)
		assert.Equal(t, tt.err, err)
	}
}

func TestFailingDecrypt(t *testing.T) {
	tests := []struct {
		opts DecryptOpts
		err  error
	}{
		{
			opts: DecryptOpts{
				CypherText: nil,
				Passphrase: []byte("supersecurekey"),
			},
			err: ErrNullCypherText,
		},
		{
			opts: DecryptOpts{
				CypherText: []byte("supersecretmessage"),
				Passphrase: []byte("supersecurekey"),
			},
			err: ErrInvalidCypherText,
		},
		{
			opts: DecryptOpts{
				CypherText: make([]byte, 64),
				Passphrase: nil,
			},
			err: ErrNullPassphrase,
		},
	}
	for _, tt := range tests {
		_, err := Decrypt(tt.opts)
		assert.Equal(t, tt.err, err)
	}
}
