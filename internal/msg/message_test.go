package msg

import (
	"bytes"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageRoundtrip(t *testing.T) {
	m := New(StreamMuxPacket, ChannelStream)
	m.SetClientId(3)
	m.SetUid(0xDEADBEEF)
	m.SetProtocol(8)

	m.PutU8(0x42)
	m.PutU16(0x1234)
	m.PutU32(0x56789ABC)
	m.PutS32(-7)
	m.PutS64(-1234567890123)
	m.PutString("hello")
	m.PutBlob([]byte{1, 2, 3, 4})

	var buf bytes.Buffer
	require.NoError(t, m.Write(&buf, 0))

	decoded, err := Read(&buf, 0)
	require.NoError(t, err)

	assert.Equal(t, uint16(StreamMuxPacket), decoded.MsgId())
	assert.Equal(t, uint16(3), decoded.ClientId())
	assert.Equal(t, uint16(ChannelStream), decoded.Channel())
	assert.Equal(t, uint32(0xDEADBEEF), decoded.Uid())
	assert.Equal(t, uint16(8), decoded.Protocol())
	assert.Equal(t, m.PayloadLength(), decoded.PayloadLength())

	assert.Equal(t, uint8(0x42), decoded.GetU8())
	assert.Equal(t, uint16(0x1234), decoded.GetU16())
	assert.Equal(t, uint32(0x56789ABC), decoded.GetU32())
	assert.Equal(t, int32(-7), decoded.GetS32())
	assert.Equal(t, int64(-1234567890123), decoded.GetS64())
	assert.Equal(t, "hello", decoded.GetString())
	assert.Equal(t, []byte{1, 2, 3, 4}, decoded.GetBlob(4))
	assert.True(t, decoded.Eop())
}

func TestMessageBigEndianLayout(t *testing.T) {
	m := New(0x0102, 0x0304)
	m.PutU16(0xAABB)

	var buf bytes.Buffer
	require.NoError(t, m.Write(&buf, 0))

	raw := buf.Bytes()
	assert.Equal(t, []byte{0x01, 0x02}, raw[0:2])               // msg id
	assert.Equal(t, []byte{0x03, 0x04}, raw[4:6])               // channel
	assert.Equal(t, []byte{0x00, 0x00, 0x00, 0x02}, raw[12:16]) // payload length
	assert.Equal(t, []byte{0xAA, 0xBB}, raw[16:18])             // payload
}

func TestMessageGetPastEnd(t *testing.T) {
	m := New(1, 1)
	m.PutU8(7)

	assert.Equal(t, uint8(7), m.GetU8())
	assert.True(t, m.Eop())
	assert.Equal(t, uint32(0), m.GetU32())
	assert.Equal(t, "", m.GetString())
	assert.Nil(t, m.GetBlob(10))
}

func TestMessageCompression(t *testing.T) {
	m := New(1, 1)
	original := bytes.Repeat([]byte("compressible payload "), 100)
	m.PutBlob(original)

	require.NoError(t, m.CompressPayload())
	assert.Less(t, m.PayloadLength(), len(original))

	require.NoError(t, m.UncompressPayload())
	assert.Equal(t, original, m.Payload())
}

func TestMessageReadRejectsOversizedPayload(t *testing.T) {
	m := New(1, 1)
	var buf bytes.Buffer
	require.NoError(t, m.Write(&buf, 0))

	raw := buf.Bytes()
	raw[12] = 0xFF
	raw[13] = 0xFF
	raw[14] = 0xFF
	raw[15] = 0xFF

	_, err := Read(bytes.NewReader(raw), 0)
	assert.ErrorIs(t, err, ErrPayloadTooLong)
}

func TestMessageOverSocket(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	m := NewResponse(Login, 42)
	m.PutU32(RetOk)

	done := make(chan error, 1)
	go func() {
		done <- m.Write(server, time.Second)
	}()

	decoded, err := Read(client, time.Second)
	require.NoError(t, err)
	require.NoError(t, <-done)

	assert.Equal(t, uint16(Login), decoded.MsgId())
	assert.Equal(t, uint32(42), decoded.Uid())
	assert.Equal(t, uint32(RetOk), decoded.GetU32())
}

func TestMessageReadTimeout(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	_, err := Read(client, 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestMessageReadClosedPeer(t *testing.T) {
	client, server := net.Pipe()
	_ = server.Close()
	defer client.Close()

	_, err := Read(client, time.Second)
	assert.ErrorIs(t, err, ErrClosed)
}
