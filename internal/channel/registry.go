// Package channel implements the in-process WebSocket pub/sub registry.
//
// Channels are created on first join and removed as soon as their last
// member leaves. Each channel has its own lock; the name index is split
// into FNV-hashed shards so unrelated channels never contend.
package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/thub/thub/internal/domain"
)

const (
	registryShards         = 16
	defaultSendConcurrency = 32
	defaultSendTimeout     = 10 * time.Second
)

// ErrEmptyName is returned by Connect for a blank channel name.
var ErrEmptyName = errors.New("channel name is required")

// Conn is the transport handle of a member. The registry never closes it.
type Conn interface {
	// Accept completes the transport handshake before membership is recorded.
	Accept(ctx context.Context) error
	// Send delivers one text message.
	Send(ctx context.Context, message string) error
}

// Hooks receives membership notifications.
type Hooks interface {
	ChannelConnect(channel, username string)
	ChannelDisconnect(channel, username string)
}

// Options tunes [NewRegistry].
type Options struct {
	Log   *slog.Logger
	Hooks Hooks
	// SendConcurrency caps parallel sends within one broadcast.
	SendConcurrency int
	// SendTimeout bounds each member send.
	SendTimeout time.Duration
	Now         func() time.Time
}

// Stats is a point-in-time view of registry size.
type Stats struct {
	Channels int
	Members  int
}

// Registry maps channel names to their live members.
type Registry struct {
	shards [registryShards]registryShard

	log         *slog.Logger
	hooks       Hooks
	sendLimit   int
	sendTimeout time.Duration
	now         func() time.Time

	channels atomic.Int64
	members  atomic.Int64
}

type registryShard struct {
	mu       sync.Mutex
	channels map[string]*channel
}

type channel struct {
	name    string
	mu      sync.RWMutex
	members map[string]*entry
	dead    bool // set under mu when the last member leaves
}

type entry struct {
	member domain.Member
	conn   Conn
}

// NewRegistry returns an empty registry.
func NewRegistry(opts Options) *Registry {
	r := &Registry{
		log:         opts.Log,
		hooks:       opts.Hooks,
		sendLimit:   opts.SendConcurrency,
		sendTimeout: opts.SendTimeout,
		now:         opts.Now,
	}
	if r.log == nil {
		r.log = slog.New(slog.DiscardHandler)
	}
	if r.sendLimit <= 0 {
		r.sendLimit = defaultSendConcurrency
	}
	if r.sendTimeout <= 0 {
		r.sendTimeout = defaultSendTimeout
	}
	if r.now == nil {
		r.now = time.Now
	}
	for i := range r.shards {
		r.shards[i].channels = make(map[string]*channel)
	}
	return r
}

func (r *Registry) shard(name string) *registryShard {
	return &r.shards[shardIndex(name)]
}

func shardIndex(key string) int {
	const (
		fnvOffset32 = uint32(2166136261)
		fnvPrime32  = uint32(16777619)
	)
	h := fnvOffset32
	for i := 0; i < len(key); i++ {
		h ^= uint32(key[i])
		h *= fnvPrime32
	}
	return int(h % uint32(registryShards))
}

// Connect accepts conn and records it as a member of the named channel,
// creating the channel if needed.
func (r *Registry) Connect(ctx context.Context, name, username string, conn Conn) (domain.Member, error) {
	if name == "" {
		return domain.Member{}, ErrEmptyName
	}
	if err := conn.Accept(ctx); err != nil {
		return domain.Member{}, fmt.Errorf("accept connection: %w", err)
	}
	m := domain.Member{
		ID:       uuid.NewString(),
		Username: username,
		Channel:  name,
		JoinedAt: r.now(),
	}
	e := &entry{member: m, conn: conn}
	for {
		ch := r.getOrCreate(name)
		ch.mu.Lock()
		if ch.dead {
			// Lost a race with the last member leaving; the next
			// getOrCreate installs a fresh channel.
			ch.mu.Unlock()
			continue
		}
		ch.members[m.ID] = e
		ch.mu.Unlock()
		break
	}
	r.members.Add(1)
	r.log.Debug("channel member joined", "channel", name, "member_id", m.ID, "username", username)
	if r.hooks != nil {
		r.hooks.ChannelConnect(name, username)
	}
	return m, nil
}

// getOrCreate returns a live channel for name. It takes the shard lock and
// then the channel read lock; nothing acquires them in the opposite order.
func (r *Registry) getOrCreate(name string) *channel {
	sh := r.shard(name)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if ch, ok := sh.channels[name]; ok {
		ch.mu.RLock()
		dead := ch.dead
		ch.mu.RUnlock()
		if !dead {
			return ch
		}
		// Replacing a dead channel keeps the channel count unchanged; its
		// pending Disconnect will find a different pointer and skip the
		// decrement.
		fresh := newChannel(name)
		sh.channels[name] = fresh
		return fresh
	}
	fresh := newChannel(name)
	sh.channels[name] = fresh
	r.channels.Add(1)
	return fresh
}

func newChannel(name string) *channel {
	return &channel{name: name, members: make(map[string]*entry)}
}

func (r *Registry) lookup(name string) *channel {
	sh := r.shard(name)
	sh.mu.Lock()
	ch := sh.channels[name]
	sh.mu.Unlock()
	return ch
}

// Disconnect removes a member. It is a no-op when the channel or member is
// already gone, and deletes the channel once it has no members left. It
// reports whether a member was removed.
func (r *Registry) Disconnect(name, memberID string) bool {
	ch := r.lookup(name)
	if ch == nil {
		return false
	}

	ch.mu.Lock()
	e, ok := ch.members[memberID]
	if !ok {
		ch.mu.Unlock()
		return false
	}
	delete(ch.members, memberID)
	empty := len(ch.members) == 0
	if empty {
		ch.dead = true
	}
	ch.mu.Unlock()

	r.members.Add(-1)
	if empty {
		sh := r.shard(name)
		sh.mu.Lock()
		if sh.channels[name] == ch {
			delete(sh.channels, name)
			r.channels.Add(-1)
		}
		sh.mu.Unlock()
	}

	r.log.Debug("channel member left", "channel", name, "member_id", memberID, "username", e.member.Username, "channel_removed", empty)
	if r.hooks != nil {
		r.hooks.ChannelDisconnect(name, e.member.Username)
	}
	return true
}

// Broadcast sends message to every member of the channel except senderID
// and returns how many sends succeeded. A failed send is logged and does
// not affect other members or membership; the failed member's own
// disconnect path is responsible for cleanup.
func (r *Registry) Broadcast(ctx context.Context, name, message, senderID string) int {
	ch := r.lookup(name)
	if ch == nil {
		return 0
	}

	ch.mu.RLock()
	targets := make([]*entry, 0, len(ch.members))
	for id, e := range ch.members {
		if id == senderID {
			continue
		}
		targets = append(targets, e)
	}
	ch.mu.RUnlock()

	if len(targets) == 0 {
		return 0
	}

	var delivered atomic.Int64
	var g errgroup.Group
	g.SetLimit(r.sendLimit)
	for _, e := range targets {
		g.Go(func() error {
			sendCtx, cancel := context.WithTimeout(ctx, r.sendTimeout)
			defer cancel()
			if err := e.conn.Send(sendCtx, message); err != nil {
				r.log.Debug("channel send failed", "channel", name, "member_id", e.member.ID, "err", err)
				return nil
			}
			delivered.Add(1)
			return nil
		})
	}
	_ = g.Wait()
	return int(delivered.Load())
}

// Count returns the number of members in the channel, 0 if it is absent.
func (r *Registry) Count(name string) int {
	ch := r.lookup(name)
	if ch == nil {
		return 0
	}
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	return len(ch.members)
}

// Channels returns the sorted names of all channels with members.
func (r *Registry) Channels() []string {
	var names []string
	for i := range r.shards {
		sh := &r.shards[i]
		sh.mu.Lock()
		for name, ch := range sh.channels {
			ch.mu.RLock()
			live := !ch.dead
			ch.mu.RUnlock()
			if live {
				names = append(names, name)
			}
		}
		sh.mu.Unlock()
	}
	sort.Strings(names)
	return names
}

// Stats reports current channel and member totals.
func (r *Registry) Stats() Stats {
	return Stats{
		Channels: int(r.channels.Load()),
		Members:  int(r.members.Load()),
	}
}
