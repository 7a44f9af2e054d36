// Package crypto implements the request encryption envelope: AES-256-GCM
// with a key derived from a passphrase via scrypt, matching
// guapow/common/encryption.py byte-for-byte so any conforming client keeps
// working unmodified against this daemon.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"

	"github.com/pkg/errors"
	"golang.org/x/crypto/scrypt"
)

const (
	scryptN = 1 << 14
	scryptR = 8
	scryptP = 1
	keyLen  = 32
	// saltLen matches AES.block_size in the Python original (16 bytes).
	saltLen = 16
	// nonceLen matches PyCryptodome's default GCM nonce length, which is
	// not the 12-byte NIST-recommended size crypto/cipher.NewGCM assumes.
	nonceLen = 16
	tagLen   = 16
)

// envelope is the inner JSON object encryption.py builds before the whole
// thing gets base64-encoded again for transport.
type envelope struct {
	Text  string `json:"text"`
	Salt  string `json:"salt"`
	Nonce string `json:"nonce"`
	Tag   string `json:"tag"`
}

func deriveKey(passphrase string, salt []byte) ([]byte, error) {
	key, err := scrypt.Key([]byte(passphrase), salt, scryptN, scryptR, scryptP, keyLen)
	if err != nil {
		return nil, errors.Wrap(err, "derive key")
	}
	return key, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Wrap(err, "new aes cipher")
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, nonceLen)
	if err != nil {
		return nil, errors.Wrap(err, "new gcm")
	}
	return gcm, nil
}

// Encrypt produces the base64-wrapped JSON token encryption.py's encrypt()
// returns: a fresh random salt and nonce per call, ciphertext and
// authentication tag kept in separate envelope fields.
func Encrypt(passphrase string, plaintext []byte) ([]byte, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, errors.Wrap(err, "generate salt")
	}

	key, err := deriveKey(passphrase, salt)
	if err != nil {
		return nil, err
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, nonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return nil, errors.Wrap(err, "generate nonce")
	}

	sealed := gcm.Seal(nil, nonce, plaintext, nil)
	ciphertext, tag := sealed[:len(sealed)-tagLen], sealed[len(sealed)-tagLen:]

	env := envelope{
		Text:  base64.StdEncoding.EncodeToString(ciphertext),
		Salt:  base64.StdEncoding.EncodeToString(salt),
		Nonce: base64.StdEncoding.EncodeToString(nonce),
		Tag:   base64.StdEncoding.EncodeToString(tag),
	}

	inner, err := json.Marshal(env)
	if err != nil {
		return nil, errors.Wrap(err, "marshal envelope")
	}

	out := make([]byte, base64.StdEncoding.EncodedLen(len(inner)))
	base64.StdEncoding.Encode(out, inner)
	return out, nil
}

// Decrypt reverses Encrypt, returning an error if authentication fails
// (wrong passphrase or tampered ciphertext — the GCM tag covers both).
func Decrypt(passphrase string, token []byte) ([]byte, error) {
	inner := make([]byte, base64.StdEncoding.DecodedLen(len(token)))
	n, err := base64.StdEncoding.Decode(inner, token)
	if err != nil {
		return nil, errors.Wrap(err, "decode outer token")
	}
	inner = inner[:n]

	var env envelope
	if err := json.Unmarshal(inner, &env); err != nil {
		return nil, errors.Wrap(err, "parse envelope")
	}

	salt, err := base64.StdEncoding.DecodeString(env.Salt)
	if err != nil {
		return nil, errors.Wrap(err, "decode salt")
	}
	nonce, err := base64.StdEncoding.DecodeString(env.Nonce)
	if err != nil {
		return nil, errors.Wrap(err, "decode nonce")
	}
	ciphertext, err := base64.StdEncoding.DecodeString(env.Text)
	if err != nil {
		return nil, errors.Wrap(err, "decode text")
	}
	tag, err := base64.StdEncoding.DecodeString(env.Tag)
	if err != nil {
		return nil, errors.Wrap(err, "decode tag")
	}

	key, err := deriveKey(passphrase, salt)
	if err != nil {
		return nil, err
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	sealed := append(ciphertext, tag...)
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, errors.Wrap(err, "authenticate/decrypt")
	}
	return plaintext, nil
}

// GenerateKey creates a fresh random passphrase for ephemeral daemon keys,
// published to a restricted-permission file for local clients to read,
// filling the role machine_id plays as the shared password in network.py.
func GenerateKey() (string, error) {
	raw := make([]byte, keyLen)
	if _, err := rand.Read(raw); err != nil {
		return "", errors.Wrap(err, "generate key")
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}
