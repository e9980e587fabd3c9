package pool_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"credal-eval/internal/pool"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBarrierWaitsForEveryParty(t *testing.T) {
	b := pool.NewBarrier(3)

	for i := 0; i < 3; i++ {
		go func(party int) {
			time.Sleep(time.Duration(party) * time.Millisecond)
			b.Arrive(pool.Arrival{Party: party, Round: 1})
		}(i)
	}

	arrivals, err := b.Await(context.Background(), 1)
	require.NoError(t, err)
	assert.Len(t, arrivals, 3)

	parties := map[int]bool{}
	for _, a := range arrivals {
		parties[a.Party] = true
	}
	assert.Len(t, parties, 3)
}

func TestBarrierReturnsPartialArrivalsOnTimeout(t *testing.T) {
	b := pool.NewBarrier(3)
	b.Arrive(pool.Arrival{Party: 0, Round: 4})
	b.Arrive(pool.Arrival{Party: 1, Round: 4, Err: errors.New("boom")})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	arrivals, err := b.Await(ctx, 4)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	require.Len(t, arrivals, 2)
	assert.Error(t, arrivals[1].Err)
}

func TestBarrierDiscardsStaleRounds(t *testing.T) {
	b := pool.NewBarrier(2)
	b.Arrive(pool.Arrival{Party: 0, Round: 1})
	b.Arrive(pool.Arrival{Party: 1, Round: 1})

	go func() {
		b.Arrive(pool.Arrival{Party: 0, Round: 2})
		b.Arrive(pool.Arrival{Party: 1, Round: 2})
	}()

	arrivals, err := b.Await(context.Background(), 2)
	require.NoError(t, err)
	for _, a := range arrivals {
		assert.Equal(t, uint64(2), a.Round)
	}
}
