package tap

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeviceNameDeterministic(t *testing.T) {
	a := DeviceName("a1b2c3d4e5f60718", 0)
	b := DeviceName("a1b2c3d4e5f60718", 0)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, DeviceName("a1b2c3d4e5f60718", 1))
	assert.NotEqual(t, a, DeviceName("ffffffffffffffff", 0))
}

func TestDeviceNameFitsKernelLimit(t *testing.T) {
	// IFNAMSIZ leaves 15 usable characters.
	for i := 0; i < 10; i++ {
		name := DeviceName("a1b2c3d4e5f60718", i)
		assert.LessOrEqual(t, len(name), 15, name)
		assert.Contains(t, name, "fc-")
	}
}

func TestGuestMACDeterministicAndValid(t *testing.T) {
	m1 := GuestMAC("a1b2c3d4e5f60718", 0)
	m2 := GuestMAC("a1b2c3d4e5f60718", 0)
	assert.Equal(t, m1, m2)
	assert.NotEqual(t, m1, GuestMAC("a1b2c3d4e5f60718", 1))

	hw, err := net.ParseMAC(m1)
	require.NoError(t, err)
	assert.Len(t, hw, 6)
	// Locally administered unicast.
	assert.Equal(t, byte(0x02), hw[0]&0x03)
}
