package collector

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Client is a reporting instance, identified by its X-Instance-ID header.
type Client struct {
	InstanceID  string `json:"instance_id"`
	Remote      string `json:"remote"`
	FirstSeenAt int64  `json:"first_seen_at"`
	LastSeenAt  int64  `json:"last_seen_at"`
	Records     int64  `json:"records"`
}

// Clients tracks the instances that posted records recently.
type Clients struct {
	mu      sync.RWMutex
	clients map[string]*Client
	now     func() time.Time
}

func NewClients() *Clients {
	return &Clients{
		clients: make(map[string]*Client),
		now:     time.Now,
	}
}

// Touch registers instanceID or refreshes its last-seen time and counts one
// record for it. Empty ids are ignored.
func (c *Clients) Touch(instanceID, remote string) {
	if instanceID == "" {
		return
	}
	now := c.now().Unix()

	c.mu.Lock()
	defer c.mu.Unlock()

	cl, ok := c.clients[instanceID]
	if !ok {
		cl = &Client{InstanceID: instanceID, FirstSeenAt: now}
		c.clients[instanceID] = cl
	}
	cl.Remote = remote
	cl.LastSeenAt = now
	cl.Records++
}

func (c *Clients) Get(instanceID string) (Client, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cl, ok := c.clients[instanceID]
	if !ok {
		return Client{}, false
	}
	return *cl, true
}

// List returns a copy of every client ordered by instance id.
func (c *Clients) List() []Client {
	c.mu.RLock()
	list := make([]Client, 0, len(c.clients))
	for _, cl := range c.clients {
		list = append(list, *cl)
	}
	c.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool { return list[i].InstanceID < list[j].InstanceID })
	return list
}

func (c *Clients) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.clients)
}

// Prune removes clients not seen within timeout and returns how many went.
func (c *Clients) Prune(timeout time.Duration) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now().Unix()
	timeoutSec := int64(timeout.Seconds())
	count := 0
	for id, cl := range c.clients {
		if now-cl.LastSeenAt > timeoutSec {
			delete(c.clients, id)
			count++
		}
	}
	return count
}

// StartCleanupLoop prunes stale clients in the background until ctx is done.
func (c *Clients) StartCleanupLoop(ctx context.Context, interval, timeout time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.Prune(timeout)
			case <-ctx.Done():
				return
			}
		}
	}()
}
