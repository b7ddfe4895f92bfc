package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Sweeper periodically repairs the user and device indexes. Session hashes
// expire on their own via key TTLs; the index sets cannot carry per-member
// TTLs, so members whose record is gone must be pruned out of band.
type Sweeper struct {
	store    *Store
	interval time.Duration

	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

func NewSweeper(store *Store, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	s := &Sweeper{
		store:    store,
		interval: interval,
		done:     make(chan struct{}),
	}
	s.wg.Add(1)
	go s.run()
	return s
}

func (s *Sweeper) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			_, _ = s.store.SweepIndexes(ctx)
			cancel()
		case <-s.done:
			return
		}
	}
}

func (s *Sweeper) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.wg.Wait()
	})
}

// SweepIndexes scans all index sets and removes members whose session record
// no longer exists. Returns the number of members pruned. O(n) over index
// keys; not for request hot paths.
func (s *Store) SweepIndexes(ctx context.Context) (int, error) {
	pruned := 0
	for _, pattern := range []string{s.prefix + ":u:*", s.prefix + ":d:*"} {
		n, err := s.sweepPattern(ctx, pattern)
		pruned += n
		if err != nil {
			return pruned, err
		}
	}
	return pruned, nil
}

func (s *Store) sweepPattern(ctx context.Context, pattern string) (int, error) {
	var (
		cursor uint64
		pruned int
	)

	for {
		keys, next, err := s.redis.Scan(ctx, cursor, pattern, 200).Result()
		if err != nil {
			return pruned, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}

		for _, indexKey := range keys {
			members, err := s.redis.SMembers(ctx, indexKey).Result()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					continue
				}
				return pruned, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
			}

			for _, sid := range members {
				exists, err := s.redis.Exists(ctx, s.key(sid)).Result()
				if err != nil {
					return pruned, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
				}
				if exists == 0 {
					if err := s.redis.SRem(ctx, indexKey, sid).Err(); err != nil {
						return pruned, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
					}
					pruned++
				}
			}
		}

		cursor = next
		if cursor == 0 {
			return pruned, nil
		}
	}
}
