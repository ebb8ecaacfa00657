// Package secret provides reversible obfuscation for stored provider
// credentials.
//
// This is NOT encryption. The transform is a fixed-key XOR plus base64 with
// a version prefix; its only purpose is to keep credentials from appearing
// verbatim in database dumps, logs, and config listings. Anyone with access
// to this source or the stored value can recover the plaintext.
package secret

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// Prefix marks an encoded value and versions the transform.
const Prefix = "obf1:"

// ErrMalformed is returned when a value does not carry the expected prefix
// or its payload cannot be decoded.
var ErrMalformed = errors.New("malformed secret value")

// Fixed keystream. Changing this invalidates every stored credential.
var keystream = []byte("sift-credential-obfuscation-v1")

// Encode obfuscates plain for storage. Encoding is deterministic; an empty
// input encodes to the bare prefix.
func Encode(plain string) string {
	return Prefix + base64.StdEncoding.EncodeToString(xor([]byte(plain)))
}

// Decode reverses Encode. A value without the version prefix or with an
// undecodable payload fails with ErrMalformed: stored credentials are
// written only through Encode, so anything else indicates corruption.
func Decode(encoded string) (string, error) {
	payload, ok := strings.CutPrefix(encoded, Prefix)
	if !ok {
		return "", fmt.Errorf("%w: missing %q prefix", ErrMalformed, Prefix)
	}
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return string(xor(raw)), nil
}

// IsEncoded reports whether a value carries the encoding prefix.
func IsEncoded(s string) bool {
	return strings.HasPrefix(s, Prefix)
}

func xor(data []byte) []byte {
	out := make([]byte, len(data))
	for i, b := range data {
		out[i] = b ^ keystream[i%len(keystream)]
	}
	return out
}
