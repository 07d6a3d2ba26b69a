package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/openquill/voxsignal/internal/errors"
	"github.com/openquill/voxsignal/internal/log"
)

const (
	ErrNotFound    = errors.Code("store: channel not found")
	ErrLastChannel = errors.Code("store: cannot delete the last channel")
)

// ChannelRecord is the persisted definition of a voice channel. The
// in-memory occupancy state lives in the channel package; this record
// only carries configuration.
type ChannelRecord struct {
	ID          string    `json:"id"`
	CampaignID  string    `json:"campaign_id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Position    int64     `json:"position"`
	MaxUsers    int       `json:"max_users"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ChannelUpdate carries the mutable fields; nil means keep.
type ChannelUpdate struct {
	Name        *string
	Description *string
	MaxUsers    *int
}

type ChannelStore interface {
	Create(ctx context.Context, campaignID, name, description string, maxUsers int) (*ChannelRecord, error)
	Get(ctx context.Context, channelID string) (*ChannelRecord, error)
	ListByCampaign(ctx context.Context, campaignID string) ([]*ChannelRecord, error)
	Update(ctx context.Context, channelID string, upd ChannelUpdate) (*ChannelRecord, error)
	Delete(ctx context.Context, channelID string) error
	CountByCampaign(ctx context.Context, campaignID string) (int64, error)

	AddMember(ctx context.Context, channelID, userID string) error
	RemoveMember(ctx context.Context, channelID, userID string) error
	Members(ctx context.Context, channelID string) ([]string, error)
}

func NewChannelStore(client *redis.Client, logger *log.Logger) ChannelStore {
	return &channelStoreImpl{
		client: client,
		clock:  clockwork.NewRealClock(),
		logger: logger,
	}
}

type channelStoreImpl struct {
	client *redis.Client
	clock  clockwork.Clock
	sf     singleflight.Group
	logger *log.Logger
}

func channelKey(channelID string) string {
	return fmt.Sprintf("vox:channel:%s", channelID)
}

func campaignIndexKey(campaignID string) string {
	return fmt.Sprintf("vox:campaign:%s:channels", campaignID)
}

func channelMembersKey(channelID string) string {
	return fmt.Sprintf("vox:channel:%s:members", channelID)
}

func (cs *channelStoreImpl) Create(
	ctx context.Context,
	campaignID, name, description string,
	maxUsers int,
) (*ChannelRecord, error) {
	indexKey := campaignIndexKey(campaignID)

	// new channels go to the bottom of the campaign's list
	position, err := cs.nextPosition(ctx, indexKey)
	if err != nil {
		return nil, err
	}

	now := cs.clock.Now().UTC()
	rec := &ChannelRecord{
		ID:          uuid.New().String(),
		CampaignID:  campaignID,
		Name:        name,
		Description: description,
		Position:    position,
		MaxUsers:    maxUsers,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := cs.put(ctx, rec); err != nil {
		return nil, err
	}

	if err := cs.client.ZAdd(ctx, indexKey, redis.Z{
		Score:  float64(position),
		Member: rec.ID,
	}).Err(); err != nil {
		return nil, errors.Wrap(ErrStoreUnavailable, err, "index channel")
	}

	cs.logger.Info("channel created",
		log.String("channel_id", rec.ID),
		log.String("campaign_id", campaignID),
		log.String("name", name))

	return rec, nil
}

func (cs *channelStoreImpl) nextPosition(ctx context.Context, indexKey string) (int64, error) {
	top, err := cs.client.ZRevRangeWithScores(ctx, indexKey, 0, 0).Result()
	if err != nil {
		return 0, errors.Wrap(ErrStoreUnavailable, err, "read campaign index")
	}
	if len(top) == 0 {
		return 1, nil
	}
	return int64(top[0].Score) + 1, nil
}

// Get collapses concurrent fetches of the same channel into one
// round trip. Callers get their own copy of the record.
func (cs *channelStoreImpl) Get(ctx context.Context, channelID string) (*ChannelRecord, error) {
	v, err, _ := cs.sf.Do(channelID, func() (any, error) {
		return cs.fetch(ctx, channelID)
	})
	if err != nil {
		return nil, err
	}

	rec := *v.(*ChannelRecord)
	return &rec, nil
}

func (cs *channelStoreImpl) fetch(ctx context.Context, channelID string) (*ChannelRecord, error) {
	raw, err := cs.client.Get(ctx, channelKey(channelID)).Result()
	if err == redis.Nil {
		return nil, errors.Newf(ErrNotFound, "channel %s", channelID)
	} else if err != nil {
		return nil, errors.Wrap(ErrStoreUnavailable, err, "get channel")
	}

	var rec ChannelRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, errors.Wrap(ErrStoreUnavailable, err, "decode channel record")
	}
	return &rec, nil
}

func (cs *channelStoreImpl) ListByCampaign(ctx context.Context, campaignID string) ([]*ChannelRecord, error) {
	ids, err := cs.client.ZRange(ctx, campaignIndexKey(campaignID), 0, -1).Result()
	if err != nil {
		return nil, errors.Wrap(ErrStoreUnavailable, err, "read campaign index")
	}

	records := make([]*ChannelRecord, 0, len(ids))
	for _, id := range ids {
		rec, err := cs.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			// index entry without a record, skip and let callers see a consistent list
			cs.logger.Warn("dangling channel index entry",
				log.String("channel_id", id),
				log.String("campaign_id", campaignID))
			continue
		} else if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func (cs *channelStoreImpl) Update(ctx context.Context, channelID string, upd ChannelUpdate) (*ChannelRecord, error) {
	rec, err := cs.Get(ctx, channelID)
	if err != nil {
		return nil, err
	}

	if upd.Name != nil {
		rec.Name = *upd.Name
	}
	if upd.Description != nil {
		rec.Description = *upd.Description
	}
	if upd.MaxUsers != nil {
		rec.MaxUsers = *upd.MaxUsers
	}
	rec.UpdatedAt = cs.clock.Now().UTC()

	if err := cs.put(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (cs *channelStoreImpl) Delete(ctx context.Context, channelID string) error {
	rec, err := cs.Get(ctx, channelID)
	if err != nil {
		return err
	}

	// every campaign keeps at least one voice channel
	count, err := cs.CountByCampaign(ctx, rec.CampaignID)
	if err != nil {
		return err
	}
	if count <= 1 {
		return errors.Newf(ErrLastChannel, "campaign %s", rec.CampaignID)
	}

	if err := cs.client.ZRem(ctx, campaignIndexKey(rec.CampaignID), channelID).Err(); err != nil {
		return errors.Wrap(ErrStoreUnavailable, err, "deindex channel")
	}
	if err := cs.client.Del(ctx, channelKey(channelID), channelMembersKey(channelID)).Err(); err != nil {
		return errors.Wrap(ErrStoreUnavailable, err, "delete channel")
	}

	cs.logger.Info("channel deleted",
		log.String("channel_id", channelID),
		log.String("campaign_id", rec.CampaignID))

	return nil
}

func (cs *channelStoreImpl) CountByCampaign(ctx context.Context, campaignID string) (int64, error) {
	count, err := cs.client.ZCard(ctx, campaignIndexKey(campaignID)).Result()
	if err != nil {
		return 0, errors.Wrap(ErrStoreUnavailable, err, "count channels")
	}
	return count, nil
}

func (cs *channelStoreImpl) AddMember(ctx context.Context, channelID, userID string) error {
	if _, err := cs.Get(ctx, channelID); err != nil {
		return err
	}
	if err := cs.client.SAdd(ctx, channelMembersKey(channelID), userID).Err(); err != nil {
		return errors.Wrap(ErrStoreUnavailable, err, "add channel member")
	}
	return nil
}

func (cs *channelStoreImpl) RemoveMember(ctx context.Context, channelID, userID string) error {
	if err := cs.client.SRem(ctx, channelMembersKey(channelID), userID).Err(); err != nil {
		return errors.Wrap(ErrStoreUnavailable, err, "remove channel member")
	}
	return nil
}

func (cs *channelStoreImpl) Members(ctx context.Context, channelID string) ([]string, error) {
	members, err := cs.client.SMembers(ctx, channelMembersKey(channelID)).Result()
	if err != nil {
		return nil, errors.Wrap(ErrStoreUnavailable, err, "list channel members")
	}
	return members, nil
}

func (cs *channelStoreImpl) put(ctx context.Context, rec *ChannelRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(ErrStoreUnavailable, err, "encode channel record")
	}
	if err := cs.client.Set(ctx, channelKey(rec.ID), raw, 0).Err(); err != nil {
		return errors.Wrap(ErrStoreUnavailable, err, "store channel record")
	}
	return nil
}
