package images

import "strings"

// Digest is a content-addressable digest in "algorithm:hex" form, e.g.
// "sha256:abcdef...".
type Digest string

// NewDigest wraps a raw sha256 hex string as a Digest.
func NewDigest(hex string) Digest {
	return Digest("sha256:" + hex)
}

// Hex returns the hex portion without the algorithm prefix.
func (d Digest) Hex() string {
	return strings.TrimPrefix(string(d), "sha256:")
}

func (d Digest) String() string {
	return string(d)
}
