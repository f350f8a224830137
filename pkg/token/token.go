package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strconv"

	"github.com/pkg/errors"
	"golang.org/x/crypto/chacha20poly1305"
)

// ErrInvalidToken covers every decode failure: bad encoding, truncated
// input, wrong secret, or a payload that is not a canonical int64. Callers
// must not distinguish between these cases.
var ErrInvalidToken = errors.New("invalid token")

// Codec is the reversible transform between an internal key and the opaque
// token external callers see. It is deterministic: the same key under the
// same magic always yields the same token. Rotating the magic invalidates
// every previously issued token.
type Codec struct {
	aeadKey []byte
	magic   []byte
}

func NewCodec(magic []byte) (*Codec, error) {
	if len(magic) == 0 {
		return nil, errors.New("codec magic must not be empty")
	}
	key := sha256.Sum256(magic)
	m := make([]byte, len(magic))
	copy(m, magic)
	return &Codec{aeadKey: key[:], magic: m}, nil
}

// Encode seals the key's canonical decimal text under the magic and
// returns it as a URL-safe string.
func (c *Codec) Encode(key int64) (string, error) {
	aead, err := chacha20poly1305.NewX(c.aeadKey)
	if err != nil {
		return "", errors.Wrap(err, "init aead")
	}
	plain := []byte(strconv.FormatInt(key, 10))
	nonce := c.syntheticNonce(plain, aead.NonceSize())
	sealed := aead.Seal(nonce, nonce, plain, nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Decode inverts Encode. It either yields exactly the key that was encoded
// or fails with ErrInvalidToken; there is no partial success.
func (c *Codec) Decode(tok string) (int64, error) {
	raw, err := base64.RawURLEncoding.DecodeString(tok)
	if err != nil {
		return 0, ErrInvalidToken
	}
	aead, err := chacha20poly1305.NewX(c.aeadKey)
	if err != nil {
		return 0, errors.Wrap(err, "init aead")
	}
	if len(raw) < aead.NonceSize()+aead.Overhead() {
		return 0, ErrInvalidToken
	}
	nonce, sealed := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return 0, ErrInvalidToken
	}
	key, err := strconv.ParseInt(string(plain), 10, 64)
	if err != nil {
		return 0, ErrInvalidToken
	}
	// Reject non-canonical spellings ("+1", "007") so equal tokens always
	// mean equal keys and vice versa.
	if strconv.FormatInt(key, 10) != string(plain) {
		return 0, ErrInvalidToken
	}
	return key, nil
}

// syntheticNonce derives the nonce from the plaintext itself (SIV style),
// which is what makes the construction deterministic.
func (c *Codec) syntheticNonce(plain []byte, size int) []byte {
	mac := hmac.New(sha256.New, c.magic)
	mac.Write(plain)
	return mac.Sum(nil)[:size]
}
