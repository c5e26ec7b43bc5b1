package utils

import "github.com/google/uuid"

// namespace for deterministic per-VM device names.
var deviceNamespace = uuid.MustParse("8f3b62c1-41a7-4f36-9d27-5a1f0c6d9b42")

// UUIDv5 returns a deterministic UUID derived from seed. The same seed
// always yields the same UUID, so device names survive restarts.
func UUIDv5(seed string) string {
	return uuid.NewSHA1(deviceNamespace, []byte(seed)).String()
}

// ShortID returns the first 8 hex characters of UUIDv5(seed), handy for
// kernel interface names limited to 15 characters.
func ShortID(seed string) string {
	u := uuid.NewSHA1(deviceNamespace, []byte(seed))
	return u.String()[:8]
}
