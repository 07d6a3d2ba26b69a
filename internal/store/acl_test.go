package store

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"
)

type CampaignACLSuite struct {
	suite.Suite
	miniRedis *miniredis.Miniredis
	client    *redis.Client
	acl       CampaignACL
	ctx       context.Context
}

func TestCampaignACLSuite(t *testing.T) {
	suite.Run(t, new(CampaignACLSuite))
}

func (s *CampaignACLSuite) SetupTest() {
	mr, err := miniredis.Run()
	s.Require().NoError(err)
	s.miniRedis = mr

	s.client = redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
	s.acl = NewCampaignACL(s.client)
	s.ctx = context.Background()
}

func (s *CampaignACLSuite) TearDownTest() {
	_ = s.client.Close()
	s.miniRedis.Close()
}

func (s *CampaignACLSuite) TestOwnership() {
	s.Require().NoError(s.acl.SetOwner(s.ctx, "camp-1", "gm"))

	ok, err := s.acl.IsOwner(s.ctx, "camp-1", "gm")
	s.Require().NoError(err)
	s.True(ok)

	ok, err = s.acl.IsOwner(s.ctx, "camp-1", "player")
	s.Require().NoError(err)
	s.False(ok)

	// no owner recorded at all
	ok, err = s.acl.IsOwner(s.ctx, "camp-2", "gm")
	s.Require().NoError(err)
	s.False(ok)
}

func (s *CampaignACLSuite) TestOwnerIsMember() {
	s.Require().NoError(s.acl.SetOwner(s.ctx, "camp-1", "gm"))

	ok, err := s.acl.IsMember(s.ctx, "camp-1", "gm")
	s.Require().NoError(err)
	s.True(ok)
}

func (s *CampaignACLSuite) TestMembership() {
	s.Require().NoError(s.acl.AddMember(s.ctx, "camp-1", "p1"))
	s.Require().NoError(s.acl.AddMember(s.ctx, "camp-1", "p2"))

	ok, err := s.acl.IsMember(s.ctx, "camp-1", "p1")
	s.Require().NoError(err)
	s.True(ok)

	members, err := s.acl.Members(s.ctx, "camp-1")
	s.Require().NoError(err)
	s.ElementsMatch([]string{"p1", "p2"}, members)

	s.Require().NoError(s.acl.RemoveMember(s.ctx, "camp-1", "p1"))
	ok, err = s.acl.IsMember(s.ctx, "camp-1", "p1")
	s.Require().NoError(err)
	s.False(ok)
}
