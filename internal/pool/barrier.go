package pool

import "context"

type Arrival struct {
	Party int
	Round uint64
	Err   error
}

// Barrier counts down one arrival per party for a round. It is independent of
// the task and training channels so the train-before-evaluate ordering can be
// checked on its own.
type Barrier struct {
	parties  int
	arrivals chan Arrival
}

func NewBarrier(parties int) *Barrier {
	return &Barrier{
		parties:  parties,
		arrivals: make(chan Arrival, parties),
	}
}

func (b *Barrier) Parties() int {
	return b.parties
}

// Arrive never blocks as long as each party arrives at most once per round.
func (b *Barrier) Arrive(a Arrival) {
	b.arrivals <- a
}

// Await blocks until every party arrived for round. Arrivals left over from an
// earlier, abandoned round are discarded. On cancellation it returns the
// arrivals seen so far.
func (b *Barrier) Await(ctx context.Context, round uint64) ([]Arrival, error) {
	arrivals := make([]Arrival, 0, b.parties)
	for len(arrivals) < b.parties {
		select {
		case a := <-b.arrivals:
			if a.Round != round {
				continue
			}
			arrivals = append(arrivals, a)
		case <-ctx.Done():
			return arrivals, ctx.Err()
		}
	}
	return arrivals, nil
}
