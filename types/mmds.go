package types

import "github.com/projecteru2/pupa/errdefs"

// MMDS protocol versions.
const (
	MMDSVersionV1 = "V1"
	MMDSVersionV2 = "V2"
)

// MMDSConfig is the /mmds/config payload: which guest interfaces may reach
// the metadata service and which request protocol it speaks.
type MMDSConfig struct {
	Version           string   `json:"version,omitempty"`
	NetworkInterfaces []string `json:"network_interfaces"`
	IPv4Address       string   `json:"ipv4_address,omitempty"`
}

// NewMMDSConfig validates and returns a metadata service config.
func NewMMDSConfig(version string, networkInterfaces []string) (MMDSConfig, error) {
	m := MMDSConfig{Version: version, NetworkInterfaces: networkInterfaces}
	return m, m.Validate()
}

// Validate checks the metadata service invariants.
func (m MMDSConfig) Validate() error {
	switch {
	case m.Version != "" && m.Version != MMDSVersionV1 && m.Version != MMDSVersionV2:
		return errdefs.InvalidConfiguration("version", "must be V1 or V2", "")
	case len(m.NetworkInterfaces) == 0:
		return errdefs.MissingRequiredField("network_interfaces")
	}
	for _, id := range m.NetworkInterfaces {
		if id == "" {
			return errdefs.MissingRequiredField("network_interfaces")
		}
	}
	return nil
}
