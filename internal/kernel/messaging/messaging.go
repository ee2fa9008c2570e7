// Package messaging implements per-channel pub/sub with an append-only
// history log and a non-blocking subscriber fan-out, grounded on the
// watcher/broadcast pattern used for agent event streams.
package messaging

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/kernald/kernald/internal/kernelerr"
	"github.com/kernald/kernald/internal/msgcodec"
)

// subscriberQueueSize is the per-subscriber high-water mark. A
// subscriber whose queue fills is evicted rather than allowed to block
// publish.
const subscriberQueueSize = 64

// Message is a published, persisted message.
type Message struct {
	ID        int64
	Channel   string
	Payload   []byte
	Sender    string
	CreatedAt time.Time
}

// ChannelSummary describes a channel's aggregate state.
type ChannelSummary struct {
	Channel     string
	MessageCount int64
	LastMessage  time.Time
}

// Subscriber receives fanned-out messages on C until Unsubscribe is
// called or it is evicted for being slow.
type Subscriber struct {
	ch      chan Message
	evicted chan struct{}
	source  string
}

// C returns the channel new messages arrive on.
func (s *Subscriber) C() <-chan Message { return s.ch }

// Evicted is closed when the broker drops this subscriber for falling
// behind.
func (s *Subscriber) Evicted() <-chan struct{} { return s.evicted }

// Broker implements the messaging component.
type Broker struct {
	db *sql.DB

	retentionCount int
	retentionAge   time.Duration
	maxPerSource   int

	onDrop func(channel string)

	mu           sync.RWMutex
	subscribers  map[string]map[*Subscriber]struct{}
	sourceCounts map[string]int
}

// New constructs a Broker. retentionCount/retentionAge bound history
// eligible for reaper reclamation. maxPerSource caps the number of
// concurrent SSE streams a single source address may hold open across
// all channels; zero or negative disables the cap.
func New(db *sql.DB, retentionCount int, retentionAge time.Duration, maxPerSource int, onDrop func(channel string)) *Broker {
	return &Broker{
		db:             db,
		retentionCount: retentionCount,
		retentionAge:   retentionAge,
		maxPerSource:   maxPerSource,
		onDrop:         onDrop,
		subscribers:    make(map[string]map[*Subscriber]struct{}),
		sourceCounts:   make(map[string]int),
	}
}

// Publish appends a message and synchronously fans it out to every
// live subscriber of channel.
func (b *Broker) Publish(ctx context.Context, channel string, payload []byte, sender string) (*Message, error) {
	if channel == "" {
		return nil, kernelerr.Validation("invalid_channel", "channel must not be empty")
	}

	compressed, compression := msgcodec.Compress(payload)
	now := time.Now()

	res, err := b.db.ExecContext(ctx,
		`INSERT INTO messages (channel, payload, compression, sender, created_at) VALUES (?, ?, ?, ?, ?)`,
		channel, compressed, int(compression), sender, now.UnixMilli(),
	)
	if err != nil {
		return nil, kernelerr.Transient("store_error", err.Error())
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, kernelerr.Transient("store_error", err.Error())
	}

	msg := Message{ID: id, Channel: channel, Payload: payload, Sender: sender, CreatedAt: now}
	b.broadcast(channel, msg)
	return &msg, nil
}

func (b *Broker) broadcast(channel string, msg Message) {
	b.mu.RLock()
	subs := b.subscribers[channel]
	toEvict := make([]*Subscriber, 0)
	for s := range subs {
		select {
		case s.ch <- msg:
		default:
			toEvict = append(toEvict, s)
		}
	}
	b.mu.RUnlock()

	for _, s := range toEvict {
		b.evict(channel, s)
	}
}

func (b *Broker) evict(channel string, s *Subscriber) {
	b.mu.Lock()
	if subs, ok := b.subscribers[channel]; ok {
		if _, present := subs[s]; present {
			delete(subs, s)
			if len(subs) == 0 {
				delete(b.subscribers, channel)
			}
			b.releaseSourceLocked(s.source)
			close(s.evicted)
		}
	}
	b.mu.Unlock()
	if b.onDrop != nil {
		b.onDrop(channel)
	}
}

// Subscribe registers a new subscriber for channel, counted against
// source's concurrent-stream cap. Callers must call Unsubscribe when
// done (e.g. on client disconnect).
func (b *Broker) Subscribe(channel, source string) (*Subscriber, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.maxPerSource > 0 && b.sourceCounts[source] >= b.maxPerSource {
		return nil, kernelerr.Capacity("too_many_streams",
			fmt.Sprintf("source already holds the maximum of %d concurrent SSE streams", b.maxPerSource))
	}

	s := &Subscriber{
		ch:      make(chan Message, subscriberQueueSize),
		evicted: make(chan struct{}),
		source:  source,
	}
	if b.subscribers[channel] == nil {
		b.subscribers[channel] = make(map[*Subscriber]struct{})
	}
	b.subscribers[channel][s] = struct{}{}
	b.sourceCounts[source]++
	return s, nil
}

// Unsubscribe removes s from channel. Safe to call multiple times, and
// safe to call after eviction.
func (b *Broker) Unsubscribe(channel string, s *Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if subs, ok := b.subscribers[channel]; ok {
		if _, present := subs[s]; present {
			delete(subs, s)
			if len(subs) == 0 {
				delete(b.subscribers, channel)
			}
			b.releaseSourceLocked(s.source)
		}
	}
}

// releaseSourceLocked decrements source's stream count. Callers must
// hold b.mu.
func (b *Broker) releaseSourceLocked(source string) {
	if b.sourceCounts[source] <= 1 {
		delete(b.sourceCounts, source)
		return
	}
	b.sourceCounts[source]--
}

// SubscriberCount returns the number of live subscribers on channel.
func (b *Broker) SubscriberCount(channel string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[channel])
}

// History returns stored messages for channel in id order.
func (b *Broker) History(ctx context.Context, channel string, since int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := b.db.QueryContext(ctx,
		`SELECT id, channel, payload, compression, sender, created_at FROM messages WHERE channel = ? AND id > ? ORDER BY id ASC LIMIT ?`,
		channel, since, limit,
	)
	if err != nil {
		return nil, kernelerr.Transient("store_error", err.Error())
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		var compression int
		var createdAt int64
		var sender sql.NullString
		if err := rows.Scan(&m.ID, &m.Channel, &m.Payload, &compression, &sender, &createdAt); err != nil {
			return nil, kernelerr.Transient("store_error", err.Error())
		}
		decoded, err := msgcodec.Decompress(m.Payload, msgcodec.Compression(compression))
		if err != nil {
			return nil, kernelerr.Transient("decode_error", err.Error())
		}
		m.Payload = decoded
		m.Sender = sender.String
		m.CreatedAt = time.UnixMilli(createdAt)
		out = append(out, m)
	}
	return out, rows.Err()
}

// Channels returns distinct channels with message count and last
// message time.
func (b *Broker) Channels(ctx context.Context) ([]ChannelSummary, error) {
	rows, err := b.db.QueryContext(ctx,
		`SELECT channel, count(*), max(created_at) FROM messages GROUP BY channel ORDER BY channel`,
	)
	if err != nil {
		return nil, kernelerr.Transient("store_error", err.Error())
	}
	defer rows.Close()

	var out []ChannelSummary
	for rows.Next() {
		var s ChannelSummary
		var lastMs int64
		if err := rows.Scan(&s.Channel, &s.MessageCount, &lastMs); err != nil {
			return nil, kernelerr.Transient("store_error", err.Error())
		}
		s.LastMessage = time.UnixMilli(lastMs)
		out = append(out, s)
	}
	return out, rows.Err()
}

// ClearChannel deletes channel's stored history. Live subscribers
// remain attached.
func (b *Broker) ClearChannel(ctx context.Context, channel string) (int, error) {
	res, err := b.db.ExecContext(ctx, `DELETE FROM messages WHERE channel = ?`, channel)
	if err != nil {
		return 0, kernelerr.Transient("store_error", err.Error())
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, kernelerr.Transient("store_error", err.Error())
	}
	return int(n), nil
}

// ReclaimHistory deletes messages beyond the configured per-channel
// retention count or older than the retention age, for every channel.
// Invoked by the reaper.
func (b *Broker) ReclaimHistory(ctx context.Context) (int, error) {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, kernelerr.Transient("store_error", err.Error())
	}
	defer func() { _ = tx.Rollback() }()

	var total int64

	if b.retentionAge > 0 {
		cutoff := time.Now().Add(-b.retentionAge).UnixMilli()
		res, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE created_at < ?`, cutoff)
		if err != nil {
			return 0, kernelerr.Transient("store_error", err.Error())
		}
		n, _ := res.RowsAffected()
		total += n
	}

	if b.retentionCount > 0 {
		res, err := tx.ExecContext(ctx, `
			DELETE FROM messages
			WHERE id IN (
				SELECT id FROM (
					SELECT id, ROW_NUMBER() OVER (PARTITION BY channel ORDER BY id DESC) AS rn
					FROM messages
				) ranked WHERE rn > ?
			)`, b.retentionCount)
		if err != nil {
			return 0, kernelerr.Transient("store_error", err.Error())
		}
		n, _ := res.RowsAffected()
		total += n
	}

	if err := tx.Commit(); err != nil {
		return 0, kernelerr.Transient("store_error", err.Error())
	}
	return int(total), nil
}
