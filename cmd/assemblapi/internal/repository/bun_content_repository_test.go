package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yyang42/assembl/cmd/assemblapi/internal/db/models"
)

func TestBunContentRepository_Reparent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	from := createTestUser(t, s, "from")
	to := createTestUser(t, s, "to")
	d := createTestDiscussion(t, s, "content")

	post := &models.Post{DiscussionID: d.ID, CreatorID: from.ID, Subject: "hello"}
	require.NoError(t, s.Content.CreatePost(ctx, post))
	extract := &models.Extract{DiscussionID: d.ID, PostID: &post.ID, CreatorID: from.ID, OwnerProfile: from.ID}
	require.NoError(t, s.Content.CreateExtract(ctx, extract))
	require.NoError(t, s.Content.RecordAction(ctx, &models.Action{ActorID: from.ID, Verb: "view", TargetType: "post", TargetID: post.ID}))
	require.NoError(t, s.Content.RecordAction(ctx, &models.Action{ActorID: from.ID, Verb: "like", TargetType: "post", TargetID: post.ID, CreatedAt: time.Now().UTC().Add(time.Second)}))

	n, err := s.Content.ReparentPosts(ctx, from.ID, to.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	n, err = s.Content.ReparentExtracts(ctx, from.ID, to.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	n, err = s.Content.ReparentActions(ctx, from.ID, to.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	gotPost, err := s.Content.GetPost(ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, to.ID, gotPost.OwnerID())

	gotExtract, err := s.Content.GetExtract(ctx, extract.ID)
	require.NoError(t, err)
	assert.Equal(t, to.ID, gotExtract.CreatorID)
	assert.Equal(t, to.ID, gotExtract.OwnerID())

	actions, err := s.Content.ListActions(ctx, to.ID)
	require.NoError(t, err)
	require.Len(t, actions, 2)
	assert.Equal(t, "view", actions[0].Verb)

	left, err := s.Content.ListActions(ctx, from.ID)
	require.NoError(t, err)
	assert.Empty(t, left)
}
