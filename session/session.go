package session

import (
	"fmt"

	"github.com/go-redis/redis"
	"github.com/pkg/errors"
)

const firstStartKeyPattern = "session:first_start:%v"

// Store keeps per-user session flags in Redis. It only guards
// convenience behavior; callers must stay correct when a flag is lost
// or the store is unreachable.
type Store struct {
	client *redis.Client
}

func New(address string) *Store {
	client := redis.NewClient(&redis.Options{Addr: address})
	return &Store{client: client}
}

// FirstStart reports whether this is the first /start seen from the
// user. The flag is set atomically, so concurrent /start commands
// observe at most one true result.
func (s *Store) FirstStart(userID int64) (bool, error) {
	key := fmt.Sprintf(firstStartKeyPattern, userID)
	first, err := s.client.SetNX(key, true, 0).Result()
	if err != nil {
		return false, errors.Wrap(err, "unable to check first start flag")
	}
	return first, nil
}
