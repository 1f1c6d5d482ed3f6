// Package tagcache holds the last-read value of each polled S7 tag in
// memory, and optionally mirrors changed values into Redis and publishes
// change notifications to Kafka.
package tagcache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"s7link/logging"
)

// Snapshot is the last observed value of a single tag.
type Snapshot struct {
	Name      string      `json:"name"`
	Alias     string      `json:"alias,omitempty"`
	Value     interface{} `json:"value"`
	TypeName  string      `json:"type"`
	Error     string      `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// snapshotMessage is the JSON shape published to Kafka, grouping all tags in
// a namespace into a single snapshot the way the teacher's tagpack.PackValue
// groups related tags for atomic publish.
type snapshotMessage struct {
	Namespace string              `json:"namespace"`
	Timestamp time.Time           `json:"timestamp"`
	Tags      map[string]Snapshot `json:"tags"`
}

// Cache stores the most recent value of every configured tag for a single
// PLC namespace, write-through to Redis and publish-on-change to Kafka.
type Cache struct {
	namespace string

	mu      sync.RWMutex
	values  map[string]Snapshot

	redis      *redis.Client
	redisTTL   time.Duration
	kafka      *kafka.Writer
	kafkaTopic string
}

// Option configures a Cache at construction time.
type Option func(*Cache)

// WithRedis mirrors every changed tag value into Redis under key
// "s7:<namespace>:<tag>", optionally expiring after ttl (0 = no expiry).
func WithRedis(addr, password string, db int, ttl time.Duration) Option {
	return func(c *Cache) {
		c.redis = redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		})
		c.redisTTL = ttl
	}
}

// WithKafka publishes a namespace-wide snapshot to topic whenever any
// polled tag's value changes, the same "publish on change" idea as the
// teacher's tagpack manager, narrowed to a single S7 source.
func WithKafka(brokers []string, topic string) Option {
	return func(c *Cache) {
		c.kafka = &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.LeastBytes{},
			RequiredAcks:           kafka.RequireOne,
			AllowAutoTopicCreation: true,
			BatchTimeout:           10 * time.Millisecond,
		}
		c.kafkaTopic = topic
	}
}

// New creates a Cache for the given namespace.
func New(namespace string, opts ...Option) *Cache {
	c := &Cache{
		namespace: namespace,
		values:    make(map[string]Snapshot),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Close releases the Redis and Kafka connections, if configured.
func (c *Cache) Close() error {
	var err error
	if c.redis != nil {
		err = c.redis.Close()
	}
	if c.kafka != nil {
		if kerr := c.kafka.Close(); kerr != nil && err == nil {
			err = kerr
		}
	}
	return err
}

// Update records a freshly polled tag value. If the value differs from the
// cached one (or the tag has never been seen), it mirrors to Redis and
// publishes a namespace snapshot to Kafka.
func (c *Cache) Update(name, alias string, value interface{}, typeName string, tagErr error) {
	snap := Snapshot{
		Name:      name,
		Alias:     alias,
		Value:     value,
		TypeName:  typeName,
		Timestamp: time.Now(),
	}
	if tagErr != nil {
		snap.Error = tagErr.Error()
	}

	key := name
	if alias != "" {
		key = alias
	}

	c.mu.Lock()
	prev, existed := c.values[key]
	changed := !existed || !valuesEqual(prev.Value, snap.Value) || prev.Error != snap.Error
	c.values[key] = snap
	c.mu.Unlock()

	if !changed {
		return
	}

	if c.redis != nil {
		c.writeRedis(key, snap)
	}
	if c.kafka != nil {
		c.publishKafka()
	}
}

// Get returns the last known value of a tag by name or alias.
func (c *Cache) Get(key string) (Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snap, ok := c.values[key]
	return snap, ok
}

// Snapshot returns a copy of every cached tag value, keyed by name/alias.
func (c *Cache) Snapshot() map[string]Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]Snapshot, len(c.values))
	for k, v := range c.values {
		out[k] = v
	}
	return out
}

func (c *Cache) redisKey(tag string) string {
	return fmt.Sprintf("s7:%s:%s", c.namespace, tag)
}

func (c *Cache) writeRedis(tag string, snap Snapshot) {
	data, err := json.Marshal(snap)
	if err != nil {
		logging.DebugError("tagcache", "marshal snapshot for redis", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := c.redis.Set(ctx, c.redisKey(tag), data, c.redisTTL).Err(); err != nil {
		logging.DebugError("tagcache", fmt.Sprintf("redis set %s", c.redisKey(tag)), err)
	}
}

func (c *Cache) publishKafka() {
	msg := snapshotMessage{
		Namespace: c.namespace,
		Timestamp: time.Now(),
		Tags:      c.Snapshot(),
	}

	data, err := json.Marshal(msg)
	if err != nil {
		logging.DebugError("tagcache", "marshal kafka snapshot", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.kafka.WriteMessages(ctx, kafka.Message{
		Key:   []byte(c.namespace),
		Value: data,
		Time:  time.Now(),
	}); err != nil {
		logging.DebugError("tagcache", fmt.Sprintf("kafka publish topic %s", c.kafkaTopic), err)
	}
}

// valuesEqual compares two decoded tag values for change detection. Scalar
// types returned by s7.TagValue.GoValue() (bool, int64, uint64, float64,
// string), as well as float32, compare directly with ==; slices (numeric and
// raw-byte arrays) are not comparable that way, so they fall back to a
// formatted-string comparison.
func valuesEqual(a, b interface{}) bool {
	switch av := a.(type) {
	case bool, int64, uint64, float32, float64, string, nil:
		return av == b
	default:
		return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
	}
}
