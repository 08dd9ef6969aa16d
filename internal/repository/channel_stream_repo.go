// Package repository provides data access implementations for the channel
// metadata cache.
package repository

import (
	"context"
	"fmt"

	"github.com/pipelka/robotv-go/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ChannelStreamRepository persists the last seen stream layout per channel.
type ChannelStreamRepository interface {
	// GetByChannel returns the cached stream rows of a channel in PID order.
	GetByChannel(ctx context.Context, channelUid uint32) ([]*models.ChannelStream, error)

	// ReplaceChannel atomically swaps the cached rows of a channel.
	ReplaceChannel(ctx context.Context, channelUid uint32, streams []*models.ChannelStream) error

	// DeleteByChannel removes the cached rows of a channel.
	DeleteByChannel(ctx context.Context, channelUid uint32) error

	// SetEnabled flips the enabled flag of a channel.
	SetEnabled(ctx context.Context, channelUid uint32, enabled bool) error

	// IsEnabled returns the enabled flag of a channel.
	IsEnabled(ctx context.Context, channelUid uint32) (bool, error)
}

// channelStreamRepository implements ChannelStreamRepository using GORM.
type channelStreamRepository struct {
	db *gorm.DB
}

// NewChannelStreamRepository creates a new ChannelStreamRepository.
func NewChannelStreamRepository(db *gorm.DB) ChannelStreamRepository {
	return &channelStreamRepository{db: db}
}

// Migrate creates the cache tables.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&models.ChannelStream{}, &models.ChannelFlag{}); err != nil {
		return fmt.Errorf("migrating channel cache schema: %w", err)
	}
	return nil
}

func (r *channelStreamRepository) GetByChannel(ctx context.Context, channelUid uint32) ([]*models.ChannelStream, error) {
	var streams []*models.ChannelStream
	if err := r.db.WithContext(ctx).
		Where("channel_uid = ?", channelUid).
		Order("pid ASC").
		Find(&streams).Error; err != nil {
		return nil, err
	}
	return streams, nil
}

func (r *channelStreamRepository) ReplaceChannel(ctx context.Context, channelUid uint32, streams []*models.ChannelStream) error {
	for _, s := range streams {
		if err := s.Validate(); err != nil {
			return fmt.Errorf("validating cache row: %w", err)
		}
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&models.ChannelStream{}, "channel_uid = ?", channelUid).Error; err != nil {
			return err
		}
		if len(streams) == 0 {
			return nil
		}
		return tx.Create(streams).Error
	})
}

func (r *channelStreamRepository) DeleteByChannel(ctx context.Context, channelUid uint32) error {
	return r.db.WithContext(ctx).Delete(&models.ChannelStream{}, "channel_uid = ?", channelUid).Error
}

func (r *channelStreamRepository) SetEnabled(ctx context.Context, channelUid uint32, enabled bool) error {
	flag := &models.ChannelFlag{ChannelUid: channelUid, Enabled: enabled}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "channel_uid"}},
		DoUpdates: clause.AssignmentColumns([]string{"enabled"}),
	}).Create(flag).Error
}

func (r *channelStreamRepository) IsEnabled(ctx context.Context, channelUid uint32) (bool, error) {
	var flag models.ChannelFlag
	if err := r.db.WithContext(ctx).First(&flag, "channel_uid = ?", channelUid).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return false, nil
		}
		return false, err
	}
	return flag.Enabled, nil
}

// Ensure channelStreamRepository implements ChannelStreamRepository.
var _ ChannelStreamRepository = (*channelStreamRepository)(nil)
