package mutex

import (
	"fmt"
	"time"

	"github.com/go-redis/redis"
	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis"
)

const (
	chatLockExpiration = time.Minute
	chatKeyPattern     = "chat:%v"
)

// Builder hands out Redis-backed mutexes keyed by chat. Roster
// rebuilds for the same chat must not interleave between the wipe and
// the inserts, so every rebuild runs under the chat's mutex.
type Builder struct {
	rs *redsync.Redsync
}

func NewBuilder(address string) *Builder {
	client := redis.NewClient(&redis.Options{Addr: address})
	pool := goredis.NewPool(client)
	rs := redsync.New(pool)
	return &Builder{rs: rs}
}

func (b *Builder) Chat(chatID int64) *redsync.Mutex {
	key := fmt.Sprintf(chatKeyPattern, chatID)
	return b.rs.NewMutex(key, redsync.WithExpiry(chatLockExpiration))
}
