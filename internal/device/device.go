// Package device decouples the streaming core from the capture hardware.
// Concrete backends (DVB adapters, SAT>IP gateways, test sources) register
// themselves at init time, the way database/sql drivers do; the server
// opens the configured backend by name.
package device

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pipelka/robotv-go/internal/demux"
	"github.com/pipelka/robotv-go/internal/live"
)

// Backend bundles the collaborator interfaces a capture implementation
// provides to the streaming core.
type Backend interface {
	// Devices acquires capture devices for channels.
	Devices() live.DeviceProvider

	// Channels resolves declared channel layouts.
	Channels() live.ChannelLookup

	// Recordings reports active recording timers.
	Recordings() live.RecordingState
}

var (
	backendsMu sync.RWMutex
	backends   = make(map[string]Backend)
)

// Register makes a backend available under the given name. It panics on
// duplicate registration, mirroring database/sql.Register.
func Register(name string, backend Backend) {
	backendsMu.Lock()
	defer backendsMu.Unlock()

	if backend == nil {
		panic("device: Register backend is nil")
	}
	if _, dup := backends[name]; dup {
		panic("device: Register called twice for backend " + name)
	}
	backends[name] = backend
}

// Open returns the backend registered under name.
func Open(name string) (Backend, error) {
	backendsMu.RLock()
	defer backendsMu.RUnlock()

	backend, ok := backends[name]
	if !ok {
		return nil, fmt.Errorf("unknown device backend %q (registered: %v)", name, registeredNames())
	}
	return backend, nil
}

// Registered returns the names of all registered backends.
func Registered() []string {
	backendsMu.RLock()
	defer backendsMu.RUnlock()
	return registeredNames()
}

func registeredNames() []string {
	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Unavailable is a backend with no capture hardware. Its channel lookup
// knows no channel, so channel switches answer DATA_INVALID before any
// device is asked for; it keeps the server operable without a real
// backend linked in.
type Unavailable struct{}

// Devices implements Backend.
func (Unavailable) Devices() live.DeviceProvider { return unavailableProvider{} }

// Channels implements Backend.
func (Unavailable) Channels() live.ChannelLookup { return emptyChannels{} }

// Recordings implements Backend.
func (Unavailable) Recordings() live.RecordingState { return noRecordings{} }

type unavailableProvider struct{}

func (unavailableProvider) Acquire(channelUid uint32, priority int) (live.TsSource, error) {
	return nil, live.ErrNoDevice
}

type emptyChannels struct{}

func (emptyChannels) Bundle(channelUid uint32) (*demux.StreamBundle, bool) { return nil, false }

func (emptyChannels) Provider(channelUid uint32) string { return "" }

func (emptyChannels) ServiceName(channelUid uint32) string { return "" }

type noRecordings struct{}

func (noRecordings) IsRecordingActive(now time.Time) bool { return false }
