package store

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"

	"github.com/openquill/voxsignal/internal/errors"
	"github.com/openquill/voxsignal/internal/log"
)

type ChannelStoreSuite struct {
	suite.Suite
	miniRedis *miniredis.Miniredis
	client    *redis.Client
	store     ChannelStore
	ctx       context.Context
}

func TestChannelStoreSuite(t *testing.T) {
	suite.Run(t, new(ChannelStoreSuite))
}

func (s *ChannelStoreSuite) SetupTest() {
	mr, err := miniredis.Run()
	s.Require().NoError(err)
	s.miniRedis = mr

	s.client = redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
	s.store = NewChannelStore(s.client, log.NewNop())
	s.ctx = context.Background()
}

func (s *ChannelStoreSuite) TearDownTest() {
	_ = s.client.Close()
	s.miniRedis.Close()
}

func (s *ChannelStoreSuite) TestCreateAndGet() {
	rec, err := s.store.Create(s.ctx, "camp-1", "General", "main hangout", 20)
	s.Require().NoError(err)
	s.NotEmpty(rec.ID)
	s.Equal(int64(1), rec.Position)

	got, err := s.store.Get(s.ctx, rec.ID)
	s.Require().NoError(err)
	s.Equal(rec.ID, got.ID)
	s.Equal("General", got.Name)
	s.Equal("main hangout", got.Description)
	s.Equal(20, got.MaxUsers)
}

func (s *ChannelStoreSuite) TestGetMissing() {
	_, err := s.store.Get(s.ctx, "nope")
	s.True(errors.Is(err, ErrNotFound))
}

func (s *ChannelStoreSuite) TestListOrderedByPosition() {
	first, err := s.store.Create(s.ctx, "camp-1", "General", "", 20)
	s.Require().NoError(err)
	second, err := s.store.Create(s.ctx, "camp-1", "Tavern", "", 10)
	s.Require().NoError(err)
	_, err = s.store.Create(s.ctx, "camp-2", "Other", "", 5)
	s.Require().NoError(err)

	records, err := s.store.ListByCampaign(s.ctx, "camp-1")
	s.Require().NoError(err)
	s.Require().Len(records, 2)
	s.Equal(first.ID, records[0].ID)
	s.Equal(second.ID, records[1].ID)
	s.Equal(int64(2), records[1].Position)
}

func (s *ChannelStoreSuite) TestListEmptyCampaign() {
	records, err := s.store.ListByCampaign(s.ctx, "camp-none")
	s.Require().NoError(err)
	s.Empty(records)
}

func (s *ChannelStoreSuite) TestUpdate() {
	rec, err := s.store.Create(s.ctx, "camp-1", "General", "", 20)
	s.Require().NoError(err)

	name := "War Room"
	maxUsers := 5
	updated, err := s.store.Update(s.ctx, rec.ID, ChannelUpdate{
		Name:     &name,
		MaxUsers: &maxUsers,
	})
	s.Require().NoError(err)
	s.Equal("War Room", updated.Name)
	s.Equal(5, updated.MaxUsers)
	// untouched fields survive partial updates
	s.Equal(rec.Position, updated.Position)

	got, err := s.store.Get(s.ctx, rec.ID)
	s.Require().NoError(err)
	s.Equal("War Room", got.Name)
}

func (s *ChannelStoreSuite) TestUpdateMissing() {
	name := "x"
	_, err := s.store.Update(s.ctx, "nope", ChannelUpdate{Name: &name})
	s.True(errors.Is(err, ErrNotFound))
}

func (s *ChannelStoreSuite) TestDelete() {
	first, err := s.store.Create(s.ctx, "camp-1", "General", "", 20)
	s.Require().NoError(err)
	second, err := s.store.Create(s.ctx, "camp-1", "Tavern", "", 10)
	s.Require().NoError(err)

	s.Require().NoError(s.store.Delete(s.ctx, first.ID))

	_, err = s.store.Get(s.ctx, first.ID)
	s.True(errors.Is(err, ErrNotFound))

	records, err := s.store.ListByCampaign(s.ctx, "camp-1")
	s.Require().NoError(err)
	s.Require().Len(records, 1)
	s.Equal(second.ID, records[0].ID)
}

func (s *ChannelStoreSuite) TestDeleteLastChannelRejected() {
	rec, err := s.store.Create(s.ctx, "camp-1", "General", "", 20)
	s.Require().NoError(err)

	err = s.store.Delete(s.ctx, rec.ID)
	s.True(errors.Is(err, ErrLastChannel))

	count, err := s.store.CountByCampaign(s.ctx, "camp-1")
	s.Require().NoError(err)
	s.Equal(int64(1), count)
}

func (s *ChannelStoreSuite) TestPositionsKeepGrowingAfterDelete() {
	_, err := s.store.Create(s.ctx, "camp-1", "a", "", 1)
	s.Require().NoError(err)
	second, err := s.store.Create(s.ctx, "camp-1", "b", "", 1)
	s.Require().NoError(err)
	s.Require().NoError(s.store.Delete(s.ctx, second.ID))

	third, err := s.store.Create(s.ctx, "camp-1", "c", "", 1)
	s.Require().NoError(err)
	s.Equal(int64(2), third.Position)
}

func (s *ChannelStoreSuite) TestMembership() {
	rec, err := s.store.Create(s.ctx, "camp-1", "General", "", 20)
	s.Require().NoError(err)

	s.Require().NoError(s.store.AddMember(s.ctx, rec.ID, "u1"))
	s.Require().NoError(s.store.AddMember(s.ctx, rec.ID, "u2"))
	s.Require().NoError(s.store.AddMember(s.ctx, rec.ID, "u1")) // rejoin is a no-op

	members, err := s.store.Members(s.ctx, rec.ID)
	s.Require().NoError(err)
	s.ElementsMatch([]string{"u1", "u2"}, members)

	s.Require().NoError(s.store.RemoveMember(s.ctx, rec.ID, "u1"))
	members, err = s.store.Members(s.ctx, rec.ID)
	s.Require().NoError(err)
	s.Equal([]string{"u2"}, members)
}

func (s *ChannelStoreSuite) TestAddMemberUnknownChannel() {
	err := s.store.AddMember(s.ctx, "e2a9f7a8-1111-2222-3333-444455556666", "u1")
	s.True(errors.Is(err, ErrNotFound))
}

func (s *ChannelStoreSuite) TestDeleteDropsMembers() {
	a, err := s.store.Create(s.ctx, "camp-1", "General", "", 20)
	s.Require().NoError(err)
	b, err := s.store.Create(s.ctx, "camp-1", "Tavern", "", 20)
	s.Require().NoError(err)

	s.Require().NoError(s.store.AddMember(s.ctx, b.ID, "u1"))
	s.Require().NoError(s.store.Delete(s.ctx, b.ID))

	members, err := s.store.Members(s.ctx, b.ID)
	s.Require().NoError(err)
	s.Empty(members)

	_, err = s.store.Get(s.ctx, a.ID)
	s.NoError(err)
}
