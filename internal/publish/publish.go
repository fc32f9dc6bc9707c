// Package publish mirrors display updates to Redis so dashboards can follow a session live.
package publish

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/garyburd/redigo/redis"

	"github.com/bdougie/plantcam/internal/models"
)

const (
	keyPrefix = "plantcam:"
	latestTTL = 3600

	dialTimeout = 2 * time.Second
	ioTimeout   = time.Second
)

// Publisher receives every update the session shows
type Publisher interface {
	PublishScale(sample models.WorldDistanceSample)
	PublishClassification(guess models.BestGuess)
	PublishBurst(burst string, snapshots int)
}

// Nop discards everything
type Nop struct{}

func (Nop) PublishScale(models.WorldDistanceSample) {}
func (Nop) PublishClassification(models.BestGuess)  {}
func (Nop) PublishBurst(string, int)                {}

type scaleEvent struct {
	models.WorldDistanceSample
	At time.Time `json:"at"`
}

type classificationEvent struct {
	models.BestGuess
	At time.Time `json:"at"`
}

type burstEvent struct {
	Burst     string    `json:"burst"`
	Snapshots int       `json:"snapshots"`
	At        time.Time `json:"at"`
}

// RedisPublisher publishes JSON events on plantcam:<kind> and keeps the latest value of
// each kind under plantcam:latest:<kind> for an hour
type RedisPublisher struct {
	pool   *redis.Pool
	logger *slog.Logger
	now    func() time.Time
}

// NewPool dials address lazily, keeping at most maxConnections open
func NewPool(address string, maxConnections int) *redis.Pool {
	return redis.NewPool(func() (redis.Conn, error) {
		c, err := redis.Dial("tcp", address,
			redis.DialConnectTimeout(dialTimeout),
			redis.DialReadTimeout(ioTimeout),
			redis.DialWriteTimeout(ioTimeout))
		if err != nil {
			return nil, err
		}
		return c, err
	}, maxConnections)
}

func NewRedisPublisher(pool *redis.Pool, logger *slog.Logger) *RedisPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisPublisher{pool: pool, logger: logger, now: time.Now}
}

func (p *RedisPublisher) PublishScale(sample models.WorldDistanceSample) {
	p.publish("scale", scaleEvent{WorldDistanceSample: sample, At: p.now()})
}

func (p *RedisPublisher) PublishClassification(guess models.BestGuess) {
	p.publish("classification", classificationEvent{BestGuess: guess, At: p.now()})
}

func (p *RedisPublisher) PublishBurst(burst string, snapshots int) {
	p.publish("burst", burstEvent{Burst: burst, Snapshots: snapshots, At: p.now()})
}

func (p *RedisPublisher) publish(kind string, event any) {
	data, err := json.Marshal(event)
	if err != nil {
		p.logger.Warn("couldn't marshal event", "kind", kind, "err", err)
		return
	}

	conn := p.pool.Get()
	defer conn.Close()

	if _, err := conn.Do("PUBLISH", keyPrefix+kind, data); err != nil {
		p.logger.Debug("couldn't publish event", "kind", kind, "err", err)
		return
	}
	if _, err := conn.Do("SETEX", keyPrefix+"latest:"+kind, latestTTL, data); err != nil {
		p.logger.Debug("couldn't store latest event", "kind", kind, "err", err)
	}
}

// Latest reads back the last event of a kind
func Latest(pool *redis.Pool, kind string) ([]byte, error) {
	conn := pool.Get()
	defer conn.Close()
	return redis.Bytes(conn.Do("GET", keyPrefix+"latest:"+kind))
}
