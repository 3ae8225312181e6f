// Package fingerprint derives stable cache keys for balanced sequences.
//
// A fingerprint is the hex SHA-256 of the collection's version token and a
// canonical encoding of the balancing options. Options are encoded with
// deterministic CBOR (RFC 8949 core deterministic encoding), so map key
// order never changes the result.
package fingerprint

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/fxamacker/cbor/v2"
)

var canonical cbor.EncMode

func init() {
	opts := cbor.CoreDetEncOptions()
	opts.Time = cbor.TimeRFC3339Nano
	em, err := opts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("fingerprint: cbor enc mode: %v", err))
	}
	canonical = em
}

// Generate returns the fingerprint for version and options. It is pure and
// deterministic. A nil map and an empty map produce the same fingerprint.
func Generate(version string, options map[string]any) (string, error) {
	if options == nil {
		options = map[string]any{}
	}
	enc, err := canonical.Marshal(options)
	if err != nil {
		return "", fmt.Errorf("fingerprint: encode options: %w", err)
	}

	h := sha256.New()
	// length prefix keeps ("ab", {...}) and ("a", "b"...) apart
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(len(version)))
	h.Write(n[:])
	h.Write([]byte(version))
	h.Write(enc)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Key returns the storage key "{namespace}/{collectionID}/{fp}".
func Key(namespace, collectionID, fp string) string {
	return Prefix(namespace, collectionID) + fp
}

// Prefix returns the key prefix shared by every fingerprint of a collection.
func Prefix(namespace, collectionID string) string {
	var b strings.Builder
	b.Grow(len(namespace) + len(collectionID) + 2)
	b.WriteString(namespace)
	b.WriteByte('/')
	b.WriteString(collectionID)
	b.WriteByte('/')
	return b.String()
}
