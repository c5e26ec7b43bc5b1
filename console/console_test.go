package console

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEscapeChar(t *testing.T) {
	tests := []struct {
		in   string
		want byte
	}{
		{"", DefaultEscapeChar},
		{"^]", 0x1D},
		{"^a", 0x01},
		{"^A", 0x01},
		{"^?", 0x7F},
		{"q", 'q'},
	}
	for _, tt := range tests {
		got, err := ParseEscapeChar(tt.in)
		require.NoError(t, err, "input %q", tt.in)
		assert.Equal(t, tt.want, got, "input %q", tt.in)
	}

	_, err := ParseEscapeChar("^!")
	assert.Error(t, err)
	_, err = ParseEscapeChar("too long")
	assert.Error(t, err)
}

func TestFormatEscapeChar(t *testing.T) {
	assert.Equal(t, "^]", FormatEscapeChar(0x1D))
	assert.Equal(t, "^A", FormatEscapeChar(0x01))
	assert.Equal(t, "^?", FormatEscapeChar(0x7F))
	assert.Equal(t, "q", FormatEscapeChar('q'))
}

func TestRelayStdinPassthrough(t *testing.T) {
	var out bytes.Buffer
	in := bytes.NewReader([]byte("hello"))

	err := relayStdin(context.Background(), in, &out, DefaultEscapeChar)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, "hello", out.String())
}

func TestRelayStdinDisconnect(t *testing.T) {
	var out bytes.Buffer
	in := bytes.NewReader([]byte{'a', DefaultEscapeChar, '.', 'b'})

	err := relayStdin(context.Background(), in, &out, DefaultEscapeChar)
	assert.NoError(t, err)
	// Everything after the disconnect sequence is dropped.
	assert.Equal(t, "a", out.String())
}

func TestRelayStdinDoubleEscapeSendsLiteral(t *testing.T) {
	var out bytes.Buffer
	in := bytes.NewReader([]byte{DefaultEscapeChar, DefaultEscapeChar, 'x'})

	err := relayStdin(context.Background(), in, &out, DefaultEscapeChar)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, []byte{DefaultEscapeChar, 'x'}, out.Bytes())
}

func TestRelayStdinUnknownSequenceForwarded(t *testing.T) {
	var out bytes.Buffer
	in := bytes.NewReader([]byte{DefaultEscapeChar, 'z'})

	err := relayStdin(context.Background(), in, &out, DefaultEscapeChar)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, []byte{DefaultEscapeChar, 'z'}, out.Bytes())
}
