package gitobj

import "github.com/go-git/go-git/v5/plumbing"

// OID is the 40-char lowercase hex SHA-1 object identifier.
// Aliased directly onto go-git's plumbing.Hash so every go-git API call in
// this package composes without conversion boilerplate.
type OID = plumbing.Hash

// ZeroOID is forty '0' characters — the sentinel "no object" OID used in
// ref-update commands.
var ZeroOID OID

// ParseOID parses a 40-char hex string into an OID. It never fails on
// malformed input (matching plumbing.NewHash's behavior of zero-filling),
// callers that need strict validation should check the round-tripped
// String() form themselves.
func ParseOID(s string) OID {
	return plumbing.NewHash(s)
}

// IsZero reports whether oid is the all-zero sentinel.
func IsZero(oid OID) bool {
	return oid == ZeroOID
}
