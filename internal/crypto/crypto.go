// Package crypto is the relay's signature and hashing facade. It treats the
// underlying primitives (Ed25519 verification, BLAKE3) as black-box
// capabilities and exposes only the two operations the event plane needs.
package crypto

import (
	"bytes"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"

	"lukechampine.com/blake3"
)

// CanonicalPayloadHash returns the hex-encoded BLAKE3 digest of the
// canonical byte encoding of payload: the empty byte string when payload is
// absent, otherwise the JSON text produced by round-tripping the value
// through encoding/json with HTML-escaping disabled.
//
// This is not a canonicalization standard (not JCS). Because the payload is
// decoded into generic values and re-encoded, object keys come out in sorted
// order and insignificant whitespace is dropped, but numbers are re-emitted
// from float64 and strings use encoding/json's escaping. VerifySignature
// checks signatures over these same bytes.
func CanonicalPayloadHash(payload json.RawMessage) (string, error) {
	canon, err := canonicalBytes(payload)
	if err != nil {
		return "", err
	}
	sum := blake3.Sum256(canon)
	return hex.EncodeToString(sum[:]), nil
}

func canonicalBytes(payload json.RawMessage) ([]byte, error) {
	if len(payload) == 0 {
		return nil, nil
	}

	var generic interface{}
	if err := json.Unmarshal(payload, &generic); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(generic); err != nil {
		return nil, err
	}

	out := buf.Bytes()
	if len(out) > 0 && out[len(out)-1] == '\n' {
		out = out[:len(out)-1]
	}
	return out, nil
}

// VerifySignature verifies an Ed25519 signature over payloadBytes. Any
// decoding failure (bad hex, wrong key length, wrong signature length) or a
// failed verification collapses to false; callers surface this uniformly as
// an invalid-signature condition (spec section 4.1).
func VerifySignature(pubkeyHex, signatureHex string, payload json.RawMessage) bool {
	pub, err := hex.DecodeString(pubkeyHex)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return false
	}
	sig, err := hex.DecodeString(signatureHex)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return false
	}
	canon, err := canonicalBytes(payload)
	if err != nil {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pub), canon, sig)
}
