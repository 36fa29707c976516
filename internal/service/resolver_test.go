package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"timeblocks/internal/model"
)

func TestResolveCurrent(t *testing.T) {
	long := manual("long", at(9, 0), at(11, 0))
	inner := manual("inner", at(9, 30), at(10, 30))
	later := manual("later", at(12, 0), at(13, 0))
	candidates := []model.Block{long, inner, later}
	now := at(10, 0)

	tests := []struct {
		name     string
		sessions map[string][]model.Session
		want     string
	}{
		{
			name: "latest start wins among overlapping blocks",
			want: "inner",
		},
		{
			name: "finished block falls through to the next candidate",
			sessions: map[string][]model.Session{
				"inner": {{ID: "s1", Outcome: model.OutcomeDone}},
			},
			want: "long",
		},
		{
			name: "abandoned session does not finish a block",
			sessions: map[string][]model.Session{
				"inner": {{ID: "s1", Outcome: model.OutcomeAbandoned}},
			},
			want: "inner",
		},
		{
			name: "all candidates finished",
			sessions: map[string][]model.Session{
				"inner": {{ID: "s1", Outcome: model.OutcomeSkipped}},
				"long":  {{ID: "s2", Outcome: model.OutcomeAborted}, {ID: "s3", Outcome: model.OutcomeDone}},
			},
			want: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ResolveCurrent(candidates, tt.sessions, now)
			if tt.want == "" {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tt.want, got.Block.ID)
		})
	}
}

func TestResolveCurrentBoundariesAndLatestSession(t *testing.T) {
	b := manual("b", at(9, 0), at(9, 30))
	t0 := at(9, 1)
	sessions := map[string][]model.Session{
		"b": {
			{ID: "old", Outcome: model.OutcomeAbandoned, CreatedAt: t0},
			{ID: "new", CreatedAt: t0.Add(time.Minute)},
		},
	}

	got := ResolveCurrent([]model.Block{b}, sessions, at(9, 30))
	require.NotNil(t, got, "planned end is inclusive")
	require.NotNil(t, got.LatestSession)
	assert.Equal(t, "new", got.LatestSession.ID)

	got = ResolveCurrent([]model.Block{b}, nil, at(9, 0))
	require.NotNil(t, got)
	assert.Nil(t, got.LatestSession)

	assert.Nil(t, ResolveCurrent([]model.Block{b}, nil, at(9, 31)))
	assert.Nil(t, ResolveCurrent(nil, nil, at(9, 0)))
}

func TestResolverService(t *testing.T) {
	ctx := context.Background()
	blocks := newFakeBlocks(manual("a", at(9, 0), at(10, 0)), manual("b", at(9, 15), at(9, 45)))
	sessions := newFakeSessions()
	blockB := "b"
	require.NoError(t, sessions.Create(ctx, &model.Session{OwnerID: 1, BlockRef: &blockB, Outcome: model.OutcomeDone}))

	svc := NewResolverService(blocks, sessions)
	cur, err := svc.Resolve(ctx, 1, at(9, 20))
	require.NoError(t, err)
	require.NotNil(t, cur)
	assert.Equal(t, "a", cur.Block.ID)

	cur, err = svc.Resolve(ctx, 1, at(11, 0))
	require.NoError(t, err)
	assert.Nil(t, cur)

	cur, err = svc.Resolve(ctx, 2, at(9, 20))
	require.NoError(t, err)
	assert.Nil(t, cur)
}
