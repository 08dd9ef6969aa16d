package models

import "errors"

// ErrChannelUidRequired is returned when a cache row misses its channel.
var ErrChannelUidRequired = errors.New("channel uid is required")

// ChannelStream caches the last seen elementary stream layout of one
// channel, keyed by channel uid and PID. The rows seed the demuxers of a
// new streaming session before the first PMT arrives.
type ChannelStream struct {
	BaseModel

	// ChannelUid identifies the channel this stream belongs to.
	ChannelUid uint32 `gorm:"uniqueIndex:idx_channel_pid;not null" json:"channel_uid"`

	// Pid is the transport stream packet identifier.
	Pid int `gorm:"uniqueIndex:idx_channel_pid;not null" json:"pid"`

	Content   int    `json:"content"`
	Type      int    `json:"type"`
	Parsed    bool   `gorm:"default:false" json:"parsed"`
	Language  string `gorm:"size:4" json:"language,omitempty"`
	AudioType uint8  `gorm:"default:0" json:"audio_type"`

	// video descriptors
	FpsScale int   `gorm:"default:0" json:"fps_scale"`
	FpsRate  int   `gorm:"default:0" json:"fps_rate"`
	Height   int   `gorm:"default:0" json:"height"`
	Width    int   `gorm:"default:0" json:"width"`
	Aspect   int64 `gorm:"default:0" json:"aspect"`

	// audio descriptors
	Channels   int `gorm:"default:0" json:"channels"`
	SampleRate int `gorm:"default:0" json:"sample_rate"`
	BitRate    int `gorm:"default:0" json:"bit_rate"`

	// subtitle descriptors
	SubtitlingType    uint8  `gorm:"default:0" json:"subtitling_type"`
	CompositionPageId uint16 `gorm:"default:0" json:"composition_page_id"`
	AncillaryPageId   uint16 `gorm:"default:0" json:"ancillary_page_id"`

	// decoder specific data
	Sps []byte `gorm:"type:blob" json:"sps,omitempty"`
	Pps []byte `gorm:"type:blob" json:"pps,omitempty"`
	Vps []byte `gorm:"type:blob" json:"vps,omitempty"`
}

// TableName returns the table name for ChannelStream.
func (ChannelStream) TableName() string {
	return "channel_streams"
}

// Validate performs basic validation on the cache row.
func (c *ChannelStream) Validate() error {
	if c.ChannelUid == 0 {
		return ErrChannelUidRequired
	}
	return nil
}

// ChannelFlag stores per-channel switches, currently whether a channel is
// enabled when channel filtering is active.
type ChannelFlag struct {
	ChannelUid uint32 `gorm:"primaryKey" json:"channel_uid"`
	Enabled    bool   `gorm:"default:false" json:"enabled"`
}

// TableName returns the table name for ChannelFlag.
func (ChannelFlag) TableName() string {
	return "channel_flags"
}
