// Package cache provides the channel metadata cache: the last seen stream
// bundle per channel uid, held in memory and persisted through the
// repository so demuxers can be seeded before the first PMT arrives.
package cache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pipelka/robotv-go/internal/demux"
	"github.com/pipelka/robotv-go/internal/models"
	"github.com/pipelka/robotv-go/internal/repository"
)

// persistTimeout bounds the detached database writes.
const persistTimeout = 10 * time.Second

// ChannelCache caches stream bundles per channel uid. Reads and writes
// take a short mutex; database persistence runs in a detached task.
type ChannelCache struct {
	repo   repository.ChannelStreamRepository
	logger *slog.Logger

	mu      sync.Mutex
	bundles map[uint32]*demux.StreamBundle

	wg sync.WaitGroup
}

// NewChannelCache creates a cache on top of the given repository.
func NewChannelCache(repo repository.ChannelStreamRepository, logger *slog.Logger) *ChannelCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChannelCache{
		repo:    repo,
		logger:  logger,
		bundles: make(map[uint32]*demux.StreamBundle),
	}
}

// Lookup returns the cached bundle for a channel uid. A database hit
// populates the in-memory cache; a miss returns an empty bundle.
func (c *ChannelCache) Lookup(channelUid uint32) *demux.StreamBundle {
	c.mu.Lock()
	if bundle, ok := c.bundles[channelUid]; ok {
		c.mu.Unlock()
		return bundle
	}
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	rows, err := c.repo.GetByChannel(ctx, channelUid)
	if err != nil {
		c.logger.Warn("channel cache lookup failed",
			slog.Uint64("channel_uid", uint64(channelUid)),
			slog.String("error", err.Error()))
		return demux.NewStreamBundle()
	}

	bundle := demux.NewStreamBundle()
	for _, row := range rows {
		bundle.AddStream(rowToStreamInfo(row))
	}

	if !bundle.Empty() {
		c.mu.Lock()
		c.bundles[channelUid] = bundle
		c.mu.Unlock()
	}

	return bundle
}

// Add stores a bundle for a channel uid and persists it in a detached
// task, keeping the capture path free of database latency.
func (c *ChannelCache) Add(channelUid uint32, bundle *demux.StreamBundle) {
	c.mu.Lock()
	c.bundles[channelUid] = bundle
	c.mu.Unlock()

	rows := make([]*models.ChannelStream, 0, bundle.Len())
	for _, s := range bundle.Streams() {
		rows = append(rows, streamInfoToRow(channelUid, s))
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()

		if err := c.repo.ReplaceChannel(ctx, channelUid, rows); err != nil {
			c.logger.Warn("channel cache persist failed",
				slog.Uint64("channel_uid", uint64(channelUid)),
				slog.String("error", err.Error()))
		}
	}()
}

// EnableChannel flips the enabled flag used by channel filtering.
func (c *ChannelCache) EnableChannel(channelUid uint32, enabled bool) error {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	return c.repo.SetEnabled(ctx, channelUid, enabled)
}

// IsChannelEnabled returns the enabled flag of a channel.
func (c *ChannelCache) IsChannelEnabled(channelUid uint32) bool {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	enabled, err := c.repo.IsEnabled(ctx, channelUid)
	if err != nil {
		c.logger.Warn("channel flag lookup failed",
			slog.Uint64("channel_uid", uint64(channelUid)),
			slog.String("error", err.Error()))
		return false
	}
	return enabled
}

// Flush waits for outstanding detached writes. Intended for shutdown and
// tests.
func (c *ChannelCache) Flush() {
	c.wg.Wait()
}

func rowToStreamInfo(row *models.ChannelStream) demux.StreamInfo {
	info := demux.StreamInfo{
		Pid:               row.Pid,
		Type:              demux.Type(row.Type),
		Content:           demux.Content(row.Content),
		Language:          row.Language,
		AudioType:         row.AudioType,
		Channels:          row.Channels,
		SampleRate:        row.SampleRate,
		BitRate:           row.BitRate,
		FpsScale:          row.FpsScale,
		FpsRate:           row.FpsRate,
		Width:             row.Width,
		Height:            row.Height,
		Aspect:            row.Aspect,
		SubtitlingType:    row.SubtitlingType,
		CompositionPageId: row.CompositionPageId,
		AncillaryPageId:   row.AncillaryPageId,
		Parsed:            row.Parsed,
	}

	if len(row.Sps) > 0 {
		info.Sps = append([]byte(nil), row.Sps...)
	}
	if len(row.Pps) > 0 {
		info.Pps = append([]byte(nil), row.Pps...)
	}
	if len(row.Vps) > 0 {
		info.Vps = append([]byte(nil), row.Vps...)
	}

	return info
}

func streamInfoToRow(channelUid uint32, s demux.StreamInfo) *models.ChannelStream {
	return &models.ChannelStream{
		ChannelUid:        channelUid,
		Pid:               s.Pid,
		Content:           int(s.Content),
		Type:              int(s.Type),
		Parsed:            s.Parsed,
		Language:          s.Language,
		AudioType:         s.AudioType,
		FpsScale:          s.FpsScale,
		FpsRate:           s.FpsRate,
		Height:            s.Height,
		Width:             s.Width,
		Aspect:            s.Aspect,
		Channels:          s.Channels,
		SampleRate:        s.SampleRate,
		BitRate:           s.BitRate,
		SubtitlingType:    s.SubtitlingType,
		CompositionPageId: s.CompositionPageId,
		AncillaryPageId:   s.AncillaryPageId,
		Sps:               append([]byte(nil), s.Sps...),
		Pps:               append([]byte(nil), s.Pps...),
		Vps:               append([]byte(nil), s.Vps...),
	}
}
