package collaboration

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const fanoutChannel = "draftsync:frames"

// fanoutEnvelope wraps a wire frame with its origin instance so instances
// can ignore their own publications.
type fanoutEnvelope struct {
	Instance   string          `json:"instance"`
	DocumentID string          `json:"document_id"`
	Frame      json.RawMessage `json:"frame"`
}

// Fanout mirrors document frames between relay instances through Redis
// pub/sub. Every instance publishes the frames its own clients produce and
// replays everyone else's into the local hub. Persistence stays with the
// origin instance; remote frames only touch room state and local sockets.
type Fanout struct {
	rdb      *redis.Client
	hub      *Hub
	instance string

	out    chan fanoutEnvelope
	pubsub *redis.PubSub
	ctx    context.Context
	cancel context.CancelFunc
}

// NewFanout connects to Redis and verifies it is reachable.
func NewFanout(addr string, hub *Hub) (*Fanout, error) {
	ctx, cancel := context.WithCancel(context.Background())

	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		cancel()
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}

	return &Fanout{
		rdb:      rdb,
		hub:      hub,
		instance: uuid.NewString(),
		out:      make(chan fanoutEnvelope, 256),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Start subscribes to the frame channel and spawns the pump goroutines.
func (f *Fanout) Start() {
	f.pubsub = f.rdb.Subscribe(f.ctx, fanoutChannel)

	go f.publishLoop()
	go f.receiveLoop()

	log.Printf("🔌 Relay fanout online (instance %s)", f.instance)
}

// Publish queues a frame for the other instances. Never blocks the caller;
// a congested publisher drops the frame.
func (f *Fanout) Publish(documentID string, frame []byte) {
	env := fanoutEnvelope{
		Instance:   f.instance,
		DocumentID: documentID,
		Frame:      json.RawMessage(frame),
	}

	select {
	case f.out <- env:
	default:
		log.Printf("⚠️  Fanout publish queue full, dropping frame for document %s", documentID)
	}
}

func (f *Fanout) publishLoop() {
	for {
		select {
		case <-f.ctx.Done():
			return
		case env := <-f.out:
			payload, err := json.Marshal(env)
			if err != nil {
				continue
			}
			if err := f.rdb.Publish(f.ctx, fanoutChannel, payload).Err(); err != nil {
				log.Printf("⚠️  Fanout publish failed: %v", err)
			}
		}
	}
}

func (f *Fanout) receiveLoop() {
	ch := f.pubsub.Channel()
	for msg := range ch {
		var env fanoutEnvelope
		if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
			log.Printf("⚠️  Dropping malformed fanout envelope: %v", err)
			continue
		}
		if env.Instance == f.instance {
			continue
		}
		f.hub.ingestRemote(env.Frame)
	}
}

// Close stops the pumps and releases the Redis connections.
func (f *Fanout) Close() {
	f.cancel()
	if f.pubsub != nil {
		f.pubsub.Close()
	}
	f.rdb.Close()
}
