package target

import (
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis"
	"github.com/pkg/errors"

	"github.com/relaybench/relaybench/internal/common/benchcontext"
	"github.com/relaybench/relaybench/internal/common/bencherrors"
	commonconfig "github.com/relaybench/relaybench/internal/common/config"
	"github.com/relaybench/relaybench/internal/record"
	"github.com/relaybench/relaybench/internal/relay"
)

const RedisTarget = "redis"

type RedisConfig struct {
	commonconfig.RedisConfig `mapstructure:",squash"`
	// Lists are KeyPrefix followed by the stream name.
	KeyPrefix string
	// How long to wait before polling an output list again once it is empty.
	PollInterval time.Duration
}

// RedisAdapter pushes input records onto one list per stream and pops records from the lists of the
// output streams.
type RedisAdapter struct {
	*base
	client redis.UniversalClient
	stop   chan struct{}
	wg     sync.WaitGroup
}

func NewRedisAdapter(config Config, handler relay.Handler, metrics *relay.Metrics) (Adapter, error) {
	if len(config.Redis.Addrs) == 0 {
		return nil, errors.New("redis target needs at least one address")
	}
	if config.Redis.PollInterval <= 0 {
		config.Redis.PollInterval = 10 * time.Millisecond
	}
	return &RedisAdapter{base: newBase(config, handler, metrics)}, nil
}

func (a *RedisAdapter) key(stream string) string {
	return a.config.Redis.KeyPrefix + stream
}

func (a *RedisAdapter) Connect(ctx *benchcontext.Context) error {
	client := redis.NewUniversalClient(a.config.Redis.AsUniversalOptions())
	err := a.connectWithRetry(ctx, func() error {
		if err := client.Ping().Err(); err != nil {
			return &bencherrors.ErrConnection{Address: strings.Join(a.config.Redis.Addrs, ","), Op: "ping", Cause: err}
		}
		return nil
	})
	if err != nil {
		_ = client.Close()
		return errors.WithStack(err)
	}
	a.client = client
	a.stop = make(chan struct{})
	for _, stream := range a.config.OutputStreams {
		key := a.key(stream)
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.poll(benchcontext.WithLogField(ctx, "key", key), key)
		}()
	}
	return nil
}

// poll pops records from key in arrival order until the adapter is disconnected.
func (a *RedisAdapter) poll(ctx *benchcontext.Context, key string) {
	for {
		select {
		case <-a.stop:
			return
		case <-ctx.Done():
			return
		default:
		}
		line, err := a.client.LPop(key).Result()
		if err == redis.Nil {
			select {
			case <-a.stop:
				return
			case <-ctx.Done():
				return
			case <-time.After(a.config.Redis.PollInterval):
			}
			continue
		}
		if err != nil {
			ctx.Log.WithError(err).Warn("popping from redis failed")
			select {
			case <-a.stop:
				return
			case <-time.After(a.config.Redis.PollInterval):
			}
			continue
		}
		a.deliver(ctx, line)
	}
}

func (a *RedisAdapter) Send(_ *benchcontext.Context, r record.EventRecord) error {
	if a.client == nil {
		return errors.New("redis target is not connected")
	}
	if err := a.client.RPush(a.key(r.Stream), a.currentCodec().Encode(r)).Err(); err != nil {
		return errors.WithStack(&bencherrors.ErrConnection{Address: strings.Join(a.config.Redis.Addrs, ","), Op: "rpush", Cause: err})
	}
	return nil
}

func (a *RedisAdapter) Disconnect() error {
	if a.client == nil {
		return nil
	}
	close(a.stop)
	a.wg.Wait()
	err := a.client.Close()
	a.client = nil
	return errors.WithStack(err)
}
