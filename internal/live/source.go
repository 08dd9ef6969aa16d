package live

import (
	"errors"
	"time"

	"github.com/pipelka/robotv-go/internal/demux"
)

// PriorityLive is the device acquisition priority of live streaming
// sessions.
const PriorityLive = 50

// Errors returned by device providers.
var (
	// ErrNoDevice means no capture device can serve the channel right now.
	ErrNoDevice = errors.New("no device available")

	// ErrChannelUnknown means the channel uid resolves to nothing.
	ErrChannelUnknown = errors.New("unknown channel")
)

// TsReceiver consumes 188 byte TS packets from a capture device. The
// callback runs on the capture thread and must not block.
type TsReceiver interface {
	Receive(pkt []byte)
}

// TsSource is one acquired capture device tuned to a channel. It emits TS
// packets to the attached receiver and reports signal state.
type TsSource interface {
	// Attach registers the receiver and starts packet delivery.
	Attach(r TsReceiver) error

	// Detach stops packet delivery and releases the device.
	Detach()

	// Name describes the device for signal info responses.
	Name() string

	// SignalStrength in percent.
	SignalStrength() int

	// SignalQuality in percent.
	SignalQuality() int
}

// DeviceProvider acquires a capture device for a channel. Returns
// ErrNoDevice when every device is busy and ErrChannelUnknown for
// unresolvable channels.
type DeviceProvider interface {
	Acquire(channelUid uint32, priority int) (TsSource, error)
}

// RecordingState tells whether a recording timer is active, used to map a
// busy device situation onto the right return code.
type RecordingState interface {
	IsRecordingActive(now time.Time) bool
}

// ChannelLookup resolves the declared stream layout and the display
// metadata of a channel.
type ChannelLookup interface {
	// Bundle returns the declared elementary streams of the channel.
	Bundle(channelUid uint32) (*demux.StreamBundle, bool)

	// Provider returns the network provider name of the channel.
	Provider(channelUid uint32) string

	// ServiceName returns the service display name of the channel.
	ServiceName(channelUid uint32) string
}
