// Package secretcodec provides symmetric encryption of secret payloads at
// rest. Ciphertexts are bound to the owning entity id via AEAD additional
// data, so a value copied between rows fails to decrypt.
package secretcodec

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"io"

	"github.com/awnumar/memguard"
)

const (
	ivSize       = 12
	tagSize      = aes.BlockSize
	versionMagic = byte('C')
)

var (
	// ErrMalformed indicates a ciphertext too short or of an unknown format
	// version.
	ErrMalformed = errors.New("secretcodec: malformed ciphertext")

	// ErrKeySize indicates a master key that is not 32 bytes.
	ErrKeySize = errors.New("secretcodec: master key must be 32 bytes")
)

// Codec encrypts and decrypts secret payloads with AES-256-GCM. The master
// key lives in a memguard enclave and is only materialized for the duration
// of a single operation. A Codec is safe for concurrent use.
type Codec struct {
	key *memguard.Enclave
}

// New creates a Codec from a 32-byte master key. The caller should zero its
// copy of the key after the call returns.
func New(masterKey []byte) (*Codec, error) {
	if len(masterKey) != 32 {
		return nil, ErrKeySize
	}
	return &Codec{key: memguard.NewEnclave(masterKey)}, nil
}

// Encrypt seals plaintext bound to aad and returns the packed ciphertext:
// a format version byte, the GCM tag, the nonce, then the ciphertext body.
func (c *Codec) Encrypt(aad, plaintext []byte) ([]byte, error) {
	aead, finish, err := c.open()
	if err != nil {
		return nil, err
	}
	defer finish()

	nonce := make([]byte, ivSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	sealed := aead.Seal(nil, nonce, plaintext, aad)
	return pack(sealed, nonce), nil
}

// Decrypt unpacks and opens a ciphertext produced by Encrypt. The aad must
// match the value given at encryption time.
func (c *Codec) Decrypt(aad, packed []byte) ([]byte, error) {
	if len(packed) < 1+tagSize+ivSize || packed[0] != versionMagic {
		return nil, ErrMalformed
	}

	aead, finish, err := c.open()
	if err != nil {
		return nil, err
	}
	defer finish()

	tag := packed[1 : 1+tagSize]
	nonce := packed[1+tagSize : 1+tagSize+ivSize]
	body := packed[1+tagSize+ivSize:]

	// GCM expects the tag appended to the ciphertext.
	sealed := make([]byte, 0, len(body)+tagSize)
	sealed = append(sealed, body...)
	sealed = append(sealed, tag...)

	return aead.Open(nil, nonce, sealed, aad)
}

func (c *Codec) open() (cipher.AEAD, func(), error) {
	buf, err := c.key.Open()
	if err != nil {
		return nil, nil, err
	}

	block, err := aes.NewCipher(buf.Bytes())
	if err != nil {
		buf.Destroy()
		return nil, nil, err
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		buf.Destroy()
		return nil, nil, err
	}

	return aead, buf.Destroy, nil
}

func pack(sealed, nonce []byte) []byte {
	tagStart := len(sealed) - tagSize
	body := sealed[:tagStart]
	tag := sealed[tagStart:]

	packed := make([]byte, 0, 1+tagSize+ivSize+len(body))
	packed = append(packed, versionMagic)
	packed = append(packed, tag...)
	packed = append(packed, nonce...)
	packed = append(packed, body...)
	return packed
}
