// Package canonical produces the RFC 8785 (JSON Canonicalization Scheme)
// encoding used for idempotency keys and payload hashes.
//
// Wire contract: a payload's canonical form is its JSON encoding with every
// string scalar (keys and values) normalized to Unicode NFC, transformed per
// RFC 8785. The idempotency key is the lowercase-hex SHA-256 digest of that
// form. Any implementation in any language that follows the same two steps
// derives identical keys.
package canonical

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/gowebpki/jcs"
	"golang.org/x/text/unicode/norm"

	"github.com/Mindburn-Labs/gatehouse/pkg/kernelerr"
)

// Canonicalize returns the canonical encoding of v.
func Canonicalize(v any) ([]byte, error) {
	intermediate, err := json.Marshal(v)
	if err != nil {
		return nil, kernelerr.Wrap(kernelerr.CodeCanonicalization, err, "payload is not JSON-serializable")
	}

	dec := json.NewDecoder(bytes.NewReader(intermediate))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, kernelerr.Wrap(kernelerr.CodeCanonicalization, err, "intermediate decode failed")
	}

	normalized, err := remarshal(normalizeStrings(generic))
	if err != nil {
		return nil, kernelerr.Wrap(kernelerr.CodeCanonicalization, err, "normalized re-marshal failed")
	}

	out, err := jcs.Transform(normalized)
	if err != nil {
		return nil, kernelerr.Wrap(kernelerr.CodeCanonicalization, err, "jcs transform failed")
	}
	return out, nil
}

// Hash returns the lowercase-hex SHA-256 digest of the canonical encoding of
// v. This is the idempotency key format.
func Hash(v any) (string, error) {
	b, err := Canonicalize(v)
	if err != nil {
		return "", err
	}
	return HashBytes(b), nil
}

// HashBytes returns the lowercase-hex SHA-256 digest of raw bytes.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// normalizeStrings walks a decoded JSON value and NFC-normalizes every string
// scalar and every object key.
func normalizeStrings(v any) any {
	switch t := v.(type) {
	case string:
		return norm.NFC.String(t)
	case []any:
		for i, elem := range t {
			t[i] = normalizeStrings(elem)
		}
		return t
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, elem := range t {
			out[norm.NFC.String(k)] = normalizeStrings(elem)
		}
		return out
	default:
		return v
	}
}

func remarshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}), nil
}
