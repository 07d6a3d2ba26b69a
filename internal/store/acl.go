package store

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/openquill/voxsignal/internal/errors"
)

const ErrStoreUnavailable = errors.Code("store: backend unavailable")

// CampaignACL answers who owns and who belongs to a campaign. Channel
// CRUD is owner-only while stats reads are open to any member.
type CampaignACL interface {
	SetOwner(ctx context.Context, campaignID, userID string) error
	IsOwner(ctx context.Context, campaignID, userID string) (bool, error)
	AddMember(ctx context.Context, campaignID, userID string) error
	RemoveMember(ctx context.Context, campaignID, userID string) error
	IsMember(ctx context.Context, campaignID, userID string) (bool, error)
	Members(ctx context.Context, campaignID string) ([]string, error)
}

func NewCampaignACL(client *redis.Client) CampaignACL {
	return &campaignACLImpl{client: client}
}

type campaignACLImpl struct {
	client *redis.Client
}

func ownerKey(campaignID string) string {
	return fmt.Sprintf("vox:campaign:%s:owner", campaignID)
}

func membersKey(campaignID string) string {
	return fmt.Sprintf("vox:campaign:%s:members", campaignID)
}

func (a *campaignACLImpl) SetOwner(ctx context.Context, campaignID, userID string) error {
	if err := a.client.Set(ctx, ownerKey(campaignID), userID, 0).Err(); err != nil {
		return errors.Wrap(ErrStoreUnavailable, err, "set campaign owner")
	}
	// the owner is always a member as well
	return a.AddMember(ctx, campaignID, userID)
}

func (a *campaignACLImpl) IsOwner(ctx context.Context, campaignID, userID string) (bool, error) {
	owner, err := a.client.Get(ctx, ownerKey(campaignID)).Result()
	if err == redis.Nil {
		return false, nil
	} else if err != nil {
		return false, errors.Wrap(ErrStoreUnavailable, err, "get campaign owner")
	}
	return owner == userID, nil
}

func (a *campaignACLImpl) AddMember(ctx context.Context, campaignID, userID string) error {
	if err := a.client.SAdd(ctx, membersKey(campaignID), userID).Err(); err != nil {
		return errors.Wrap(ErrStoreUnavailable, err, "add campaign member")
	}
	return nil
}

func (a *campaignACLImpl) RemoveMember(ctx context.Context, campaignID, userID string) error {
	if err := a.client.SRem(ctx, membersKey(campaignID), userID).Err(); err != nil {
		return errors.Wrap(ErrStoreUnavailable, err, "remove campaign member")
	}
	return nil
}

func (a *campaignACLImpl) IsMember(ctx context.Context, campaignID, userID string) (bool, error) {
	ok, err := a.client.SIsMember(ctx, membersKey(campaignID), userID).Result()
	if err != nil {
		return false, errors.Wrap(ErrStoreUnavailable, err, "check campaign member")
	}
	return ok, nil
}

func (a *campaignACLImpl) Members(ctx context.Context, campaignID string) ([]string, error) {
	members, err := a.client.SMembers(ctx, membersKey(campaignID)).Result()
	if err != nil {
		return nil, errors.Wrap(ErrStoreUnavailable, err, "list campaign members")
	}
	return members, nil
}
