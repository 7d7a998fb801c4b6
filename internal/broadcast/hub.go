// Package broadcast implements the Broadcast Hub (C8): a subscriber
// registry with per-subscription filters, bounded mailboxes, and
// drop-oldest backpressure. Transport and per-connection pump shape are
// grounded on the teacher's crypto-terminal
// internal/api/websocket_handler.go (Client{conn, send chan}, readPump/
// writePump, ping ticker, stale-client cleanup) — generalized here to
// drop the oldest queued message on overflow instead of the teacher's
// drop-newest-and-log policy, per spec §4.7.
package broadcast

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/blackms/arbitragemonitor/internal/obsmetrics"
	"github.com/blackms/arbitragemonitor/internal/poolscan"
	"github.com/blackms/arbitragemonitor/internal/storage"
	"github.com/blackms/arbitragemonitor/pkg/logger"
)

const (
	mailboxCapacity = 64
	writeWait       = 10 * time.Second
	pongWait        = 60 * time.Second
	pingPeriod      = (pongWait * 9) / 10
	maxMessageSize  = 4096
)

// Channel identifies one of the two publish streams.
type Channel string

const (
	ChannelOpportunities Channel = "opportunities"
	ChannelTransactions  Channel = "transactions"
)

// Filter is one subscription's match criteria, per spec §4.7/§6. The
// json tags are load-bearing: a client's subscribe message carries these
// as snake_case keys, and encoding/json won't map them without a tag.
type Filter struct {
	ChainID   *int64           `json:"chain_id,omitempty"`
	MinProfit *decimal.Decimal `json:"min_profit,omitempty"`
	MaxProfit *decimal.Decimal `json:"max_profit,omitempty"`
	MinSwaps  *int             `json:"min_swaps,omitempty"`
}

func (f Filter) matchesOpportunity(chainID int64, profitUSD decimal.Decimal) bool {
	if f.ChainID != nil && *f.ChainID != chainID {
		return false
	}
	if f.MinProfit != nil && profitUSD.LessThan(*f.MinProfit) {
		return false
	}
	if f.MaxProfit != nil && profitUSD.GreaterThan(*f.MaxProfit) {
		return false
	}
	return true
}

func (f Filter) matchesTransaction(chainID int64, profitNetUSD decimal.Decimal, swapCount int) bool {
	if !f.matchesOpportunity(chainID, profitNetUSD) {
		return false
	}
	if f.MinSwaps != nil && swapCount < *f.MinSwaps {
		return false
	}
	return true
}

// wireMessage is the envelope sent to subscribers (spec §6's grammar).
type wireMessage struct {
	Type         string      `json:"type"`
	ConnectionID string      `json:"connection_id,omitempty"`
	Channel      Channel     `json:"channel,omitempty"`
	Filters      *Filter     `json:"filters,omitempty"`
	Timestamp    int64       `json:"timestamp,omitempty"`
	Data         interface{} `json:"data,omitempty"`
	Message      string      `json:"message,omitempty"`
}

// subscription is one channel+filter pair held by a client.
type subscription struct {
	channel Channel
	filter  Filter
}

// Subscriber is one connected websocket client.
type Subscriber struct {
	id              string
	conn            *websocket.Conn
	hub             *Hub
	heartbeatPeriod time.Duration
	mu              sync.Mutex
	mailbox         []wireMessage // ring buffer, oldest at index 0
	subscriptions   []subscription
	notify          chan struct{}
	closeOnce       sync.Once
	done            chan struct{}
}

func (c *Subscriber) enqueue(msg wireMessage) {
	c.mu.Lock()
	if len(c.mailbox) >= mailboxCapacity {
		c.mailbox = c.mailbox[1:] // drop-oldest backpressure
		obsmetrics.BroadcastMailboxDrops.WithLabelValues(string(msg.Channel)).Inc()
	}
	c.mailbox = append(c.mailbox, msg)
	c.mu.Unlock()

	select {
	case c.notify <- struct{}{}:
	default:
	}
}

func (c *Subscriber) drain() []wireMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.mailbox) == 0 {
		return nil
	}
	out := c.mailbox
	c.mailbox = nil
	return out
}

func (c *Subscriber) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// Hub is the C8 subscriber registry.
type Hub struct {
	mu              sync.RWMutex
	subscribers     map[string]*Subscriber
	capacity        int
	heartbeatPeriod time.Duration
	logger          *logger.Logger
	upgrader        websocket.Upgrader
}

// New builds a Hub with the given subscriber capacity (default 100) and
// heartbeat cadence (default 30s).
func New(capacity int, heartbeatPeriod time.Duration, log *logger.Logger) *Hub {
	if capacity <= 0 {
		capacity = 100
	}
	if heartbeatPeriod <= 0 {
		heartbeatPeriod = 30 * time.Second
	}
	return &Hub{
		subscribers:     make(map[string]*Subscriber),
		capacity:        capacity,
		heartbeatPeriod: heartbeatPeriod,
		logger:          log.Named("broadcast"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// PublishOpportunity implements poolscan.Sink: it enqueues an opportunity
// event to every subscriber whose subscriptions match. ctx is accepted
// for interface symmetry with storage.Store's sink; delivery itself is
// non-blocking.
func (h *Hub) PublishOpportunity(_ context.Context, opp poolscan.Opportunity) {
	msg := wireMessage{Type: "opportunity", Channel: ChannelOpportunities, Timestamp: time.Now().Unix(), Data: opp}
	h.fanOut(func(c *Subscriber) bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		for _, sub := range c.subscriptions {
			if sub.channel == ChannelOpportunities && sub.filter.matchesOpportunity(opp.ChainID, opp.ProfitUSD) {
				return true
			}
		}
		return false
	}, msg)
}

// PublishTransaction enqueues a transaction event to matching subscribers.
// It is called by internal/chainmonitor (C5) after persistence, per
// spec §4.5's ordering guarantee.
func (h *Hub) PublishTransaction(_ context.Context, tx storage.ArbitrageTransaction) {
	profitNetUSD := decimal.Zero
	if tx.ProfitNetUSD != nil {
		profitNetUSD = *tx.ProfitNetUSD
	}
	msg := wireMessage{Type: "transaction", Channel: ChannelTransactions, Timestamp: time.Now().Unix(), Data: tx}
	h.fanOut(func(c *Subscriber) bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		for _, sub := range c.subscriptions {
			if sub.channel == ChannelTransactions && sub.filter.matchesTransaction(tx.ChainID, profitNetUSD, tx.SwapCount) {
				return true
			}
		}
		return false
	}, msg)
}

// fanOut delivers msg at most once per subscriber that matches, per
// spec §4.7's dedup rule ("at most one delivery per event").
func (h *Hub) fanOut(matches func(*Subscriber) bool, msg wireMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.subscribers {
		if matches(c) {
			c.enqueue(msg)
		}
	}
}

// ServeHTTP upgrades the connection and runs the subscriber's lifecycle.
// New subscribers are rejected once the hub is at capacity, per spec §4.7:
// the connection is upgraded and then closed with close code 1008.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "err", err.Error())
		return
	}

	sub := &Subscriber{
		id:              newConnectionID(),
		conn:            conn,
		hub:             h,
		heartbeatPeriod: h.heartbeatPeriod,
		notify:          make(chan struct{}, 1),
		done:            make(chan struct{}),
	}

	h.mu.Lock()
	if len(h.subscribers) >= h.capacity {
		h.mu.Unlock()
		closeMsg := websocket.FormatCloseMessage(1008, "subscriber capacity exceeded")
		conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(writeWait))
		conn.Close()
		return
	}
	h.subscribers[sub.id] = sub
	h.mu.Unlock()

	sub.send(wireMessage{Type: "connected", ConnectionID: sub.id})

	go sub.writePump()
	sub.readPump()

	h.mu.Lock()
	delete(h.subscribers, sub.id)
	h.mu.Unlock()
}

func (c *Subscriber) send(msg wireMessage) {
	c.enqueue(msg)
}

// readPump processes subscribe/unsubscribe/ping messages from the client,
// per spec §6's message grammar.
func (c *Subscriber) readPump() {
	defer c.close()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.handleMessage(data)
	}
}

func (c *Subscriber) handleMessage(data []byte) {
	var in wireMessage
	if err := json.Unmarshal(data, &in); err != nil {
		c.send(wireMessage{Type: "error", Message: "malformed message"})
		return
	}

	switch in.Type {
	case "subscribe":
		if in.Channel != ChannelOpportunities && in.Channel != ChannelTransactions {
			c.send(wireMessage{Type: "error", Message: "unknown channel"})
			return
		}
		c.mu.Lock()
		replaced := false
		for i, s := range c.subscriptions {
			if s.channel == in.Channel {
				filter := Filter{}
				if in.Filters != nil {
					filter = *in.Filters
				}
				c.subscriptions[i] = subscription{channel: in.Channel, filter: filter}
				replaced = true
				break
			}
		}
		if !replaced {
			filter := Filter{}
			if in.Filters != nil {
				filter = *in.Filters
			}
			c.subscriptions = append(c.subscriptions, subscription{channel: in.Channel, filter: filter})
		}
		c.mu.Unlock()
		c.send(wireMessage{Type: "subscribed", Channel: in.Channel, Filters: in.Filters})
	case "unsubscribe":
		c.mu.Lock()
		filtered := c.subscriptions[:0]
		for _, s := range c.subscriptions {
			if s.channel != in.Channel {
				filtered = append(filtered, s)
			}
		}
		c.subscriptions = filtered
		c.mu.Unlock()
		c.send(wireMessage{Type: "unsubscribed", Channel: in.Channel})
	case "ping":
		c.send(wireMessage{Type: "pong", Timestamp: time.Now().Unix()})
	default:
		c.send(wireMessage{Type: "error", Message: "unknown message type"})
	}
}

// writePump drains the mailbox and sends heartbeats every
// heartbeatPeriod, per spec §4.7.
func (c *Subscriber) writePump() {
	ticker := time.NewTicker(pingPeriod)
	heartbeat := time.NewTicker(c.heartbeatPeriod)
	defer func() {
		ticker.Stop()
		heartbeat.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.done:
			return
		case <-c.notify:
			for _, msg := range c.drain() {
				c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := c.conn.WriteJSON(msg); err != nil {
					return
				}
			}
		case <-heartbeat.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(wireMessage{Type: "heartbeat", Timestamp: time.Now().Unix()}); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

var connIDCounter uint64
var connIDMu sync.Mutex

func newConnectionID() string {
	connIDMu.Lock()
	defer connIDMu.Unlock()
	connIDCounter++
	return time.Now().Format("20060102150405") + "-" + itoa(connIDCounter)
}

func itoa(n uint64) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
