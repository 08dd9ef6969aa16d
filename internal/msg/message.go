// Package msg implements the length-prefixed wire message format shared by
// requests, responses and stream packets: a fixed big-endian header
// followed by a payload assembled through incremental put operations.
package msg

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

// header layout:
//
//	u16 msgId      command or event id
//	u16 clientId   per-message client tag (stream packets carry the frame type here)
//	u16 channel    1=request/response, 2=stream, 5=status, 6=scan
//	u32 uid        echo token set by the caller
//	u16 protocol   protocol version
//	u32 payloadLen payload byte count
//
// all integers big-endian; strings NUL-terminated UTF-8.
const headerSize = 16

// maxPayloadLength bounds incoming payloads to keep a broken peer from
// forcing huge allocations.
const maxPayloadLength = 64 * 1024 * 1024

// compression flag bytes used by compressible payloads.
const (
	payloadRaw      = 0x00
	payloadDeflated = 0x01
)

// Errors returned by message I/O.
var (
	ErrClosed         = errors.New("connection closed")
	ErrTimeout        = errors.New("message i/o timeout")
	ErrPayloadTooLong = errors.New("payload exceeds maximum length")
)

// Message is one typed wire packet with an incrementally built payload and
// a read cursor for consumers.
type Message struct {
	msgId    uint16
	clientId uint16
	channel  uint16
	uid      uint32
	protocol uint16

	payload []byte
	readPos int
}

// New creates a message of the given type on the given channel.
func New(msgId, channel uint16) *Message {
	return &Message{
		msgId:   msgId,
		channel: channel,
	}
}

// NewResponse creates a request/response channel message echoing uid.
func NewResponse(msgId uint16, uid uint32) *Message {
	return &Message{
		msgId:   msgId,
		channel: ChannelRequestResponse,
		uid:     uid,
	}
}

// MsgId returns the message type id.
func (m *Message) MsgId() uint16 { return m.msgId }

// SetMsgId overrides the message type id.
func (m *Message) SetMsgId(id uint16) { m.msgId = id }

// ClientId returns the per-message client tag.
func (m *Message) ClientId() uint16 { return m.clientId }

// SetClientId sets the per-message client tag.
func (m *Message) SetClientId(id uint16) { m.clientId = id }

// Channel returns the packet channel.
func (m *Message) Channel() uint16 { return m.channel }

// Uid returns the echo token.
func (m *Message) Uid() uint32 { return m.uid }

// SetUid sets the echo token.
func (m *Message) SetUid(uid uint32) { m.uid = uid }

// Protocol returns the protocol version.
func (m *Message) Protocol() uint16 { return m.protocol }

// SetProtocol sets the protocol version.
func (m *Message) SetProtocol(version uint16) { m.protocol = version }

// Payload returns the raw payload bytes.
func (m *Message) Payload() []byte { return m.payload }

// PayloadLength returns the payload byte count.
func (m *Message) PayloadLength() int { return len(m.payload) }

// PacketLength returns the total encoded size of the message.
func (m *Message) PacketLength() int { return headerSize + len(m.payload) }

// put operations

// PutU8 appends an unsigned byte.
func (m *Message) PutU8(v uint8) {
	m.payload = append(m.payload, v)
}

// PutU16 appends a big-endian 16 bit value.
func (m *Message) PutU16(v uint16) {
	m.payload = binary.BigEndian.AppendUint16(m.payload, v)
}

// PutU32 appends a big-endian 32 bit value.
func (m *Message) PutU32(v uint32) {
	m.payload = binary.BigEndian.AppendUint32(m.payload, v)
}

// PutS32 appends a big-endian signed 32 bit value.
func (m *Message) PutS32(v int32) {
	m.payload = binary.BigEndian.AppendUint32(m.payload, uint32(v))
}

// PutS64 appends a big-endian signed 64 bit value.
func (m *Message) PutS64(v int64) {
	m.payload = binary.BigEndian.AppendUint64(m.payload, uint64(v))
}

// PutU64 appends a big-endian 64 bit value.
func (m *Message) PutU64(v uint64) {
	m.payload = binary.BigEndian.AppendUint64(m.payload, v)
}

// PutString appends a NUL-terminated UTF-8 string.
func (m *Message) PutString(s string) {
	m.payload = append(m.payload, s...)
	m.payload = append(m.payload, 0)
}

// PutBlob appends raw bytes.
func (m *Message) PutBlob(data []byte) {
	m.payload = append(m.payload, data...)
}

// get operations; reading past the end yields zero values and sets Eop

// Eop reports whether the read cursor passed the end of the payload.
func (m *Message) Eop() bool {
	return m.readPos >= len(m.payload)
}

// GetU8 reads an unsigned byte.
func (m *Message) GetU8() uint8 {
	if m.readPos+1 > len(m.payload) {
		m.readPos = len(m.payload)
		return 0
	}
	v := m.payload[m.readPos]
	m.readPos++
	return v
}

// GetU16 reads a big-endian 16 bit value.
func (m *Message) GetU16() uint16 {
	if m.readPos+2 > len(m.payload) {
		m.readPos = len(m.payload)
		return 0
	}
	v := binary.BigEndian.Uint16(m.payload[m.readPos:])
	m.readPos += 2
	return v
}

// GetU32 reads a big-endian 32 bit value.
func (m *Message) GetU32() uint32 {
	if m.readPos+4 > len(m.payload) {
		m.readPos = len(m.payload)
		return 0
	}
	v := binary.BigEndian.Uint32(m.payload[m.readPos:])
	m.readPos += 4
	return v
}

// GetS32 reads a big-endian signed 32 bit value.
func (m *Message) GetS32() int32 {
	return int32(m.GetU32())
}

// GetS64 reads a big-endian signed 64 bit value.
func (m *Message) GetS64() int64 {
	if m.readPos+8 > len(m.payload) {
		m.readPos = len(m.payload)
		return 0
	}
	v := binary.BigEndian.Uint64(m.payload[m.readPos:])
	m.readPos += 8
	return int64(v)
}

// GetString reads a NUL-terminated string.
func (m *Message) GetString() string {
	end := bytes.IndexByte(m.payload[m.readPos:], 0)
	if end == -1 {
		s := string(m.payload[m.readPos:])
		m.readPos = len(m.payload)
		return s
	}
	s := string(m.payload[m.readPos : m.readPos+end])
	m.readPos += end + 1
	return s
}

// GetBlob reads length raw bytes.
func (m *Message) GetBlob(length int) []byte {
	if length < 0 || m.readPos+length > len(m.payload) {
		m.readPos = len(m.payload)
		return nil
	}
	b := m.payload[m.readPos : m.readPos+length]
	m.readPos += length
	return b
}

// Rewind resets the read cursor.
func (m *Message) Rewind() {
	m.readPos = 0
}

// CompressPayload deflates the payload in place, prefixing it with the
// compression flag byte. Payloads already carrying mostly compressed media
// gain nothing from this; it is meant for the large text-heavy bodies.
func (m *Message) CompressPayload() error {
	var buf bytes.Buffer
	buf.WriteByte(payloadDeflated)

	w := zlib.NewWriter(&buf)
	if _, err := w.Write(m.payload); err != nil {
		return fmt.Errorf("deflating payload: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("deflating payload: %w", err)
	}

	m.payload = buf.Bytes()
	m.readPos = 0
	return nil
}

// UncompressPayload inflates a payload whose first flag byte indicates
// compression. Uncompressed payloads are returned to their raw form.
func (m *Message) UncompressPayload() error {
	if len(m.payload) == 0 {
		return nil
	}

	flag := m.payload[0]
	body := m.payload[1:]

	switch flag {
	case payloadRaw:
		m.payload = append([]byte(nil), body...)
	case payloadDeflated:
		r, err := zlib.NewReader(bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("inflating payload: %w", err)
		}
		defer r.Close()

		inflated, err := io.ReadAll(r)
		if err != nil {
			return fmt.Errorf("inflating payload: %w", err)
		}
		m.payload = inflated
	default:
		return fmt.Errorf("unknown payload flag 0x%02x", flag)
	}

	m.readPos = 0
	return nil
}

// encode serializes header and payload into one buffer.
func (m *Message) encode() []byte {
	buf := make([]byte, headerSize+len(m.payload))

	binary.BigEndian.PutUint16(buf[0:], m.msgId)
	binary.BigEndian.PutUint16(buf[2:], m.clientId)
	binary.BigEndian.PutUint16(buf[4:], m.channel)
	binary.BigEndian.PutUint32(buf[6:], m.uid)
	binary.BigEndian.PutUint16(buf[10:], m.protocol)
	binary.BigEndian.PutUint32(buf[12:], uint32(len(m.payload)))

	copy(buf[headerSize:], m.payload)
	return buf
}

// Write serializes the message to w. When w is a net.Conn the write
// deadline is set to the given timeout.
func (m *Message) Write(w io.Writer, timeout time.Duration) error {
	if conn, ok := w.(net.Conn); ok && timeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
			return fmt.Errorf("setting write deadline: %w", err)
		}
	}

	if _, err := w.Write(m.encode()); err != nil {
		if isTimeout(err) {
			return ErrTimeout
		}
		return fmt.Errorf("writing message: %w", err)
	}

	return nil
}

// Read deserializes one message from r. When r is a net.Conn the read
// deadline is set to the given timeout; an idle deadline expiry is
// reported as ErrTimeout, a closed peer as ErrClosed.
func Read(r io.Reader, timeout time.Duration) (*Message, error) {
	if conn, ok := r.(net.Conn); ok && timeout > 0 {
		if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			if errors.Is(err, io.ErrClosedPipe) || errors.Is(err, net.ErrClosed) {
				return nil, ErrClosed
			}
			return nil, fmt.Errorf("setting read deadline: %w", err)
		}
	}

	header := make([]byte, headerSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, readError(err)
	}

	payloadLen := binary.BigEndian.Uint32(header[12:])
	if payloadLen > maxPayloadLength {
		return nil, ErrPayloadTooLong
	}

	m := &Message{
		msgId:    binary.BigEndian.Uint16(header[0:]),
		clientId: binary.BigEndian.Uint16(header[2:]),
		channel:  binary.BigEndian.Uint16(header[4:]),
		uid:      binary.BigEndian.Uint32(header[6:]),
		protocol: binary.BigEndian.Uint16(header[10:]),
	}

	if payloadLen > 0 {
		m.payload = make([]byte, payloadLen)
		if _, err := io.ReadFull(r, m.payload); err != nil {
			return nil, readError(err)
		}
	}

	return m, nil
}

func readError(err error) error {
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, net.ErrClosed):
		return ErrClosed
	case isTimeout(err):
		return ErrTimeout
	default:
		return fmt.Errorf("reading message: %w", err)
	}
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
