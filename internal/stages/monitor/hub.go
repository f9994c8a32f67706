package monitor

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"pilot-runtime/internal/shared/model"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

// Message 推送给客户端的消息
type Message struct {
	Type      string    `json:"type"` // state | stats
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// StateEvent 单次状态变化
type StateEvent struct {
	UID      string           `json:"uid"`
	Type     model.EntityType `json:"entity_type"`
	State    model.State      `json:"state"`
	PilotUID string           `json:"pilot_uid,omitempty"`
	ExitCode *int             `json:"exit_code,omitempty"`
}

// client 每个连接一把写锁，gorilla 连接不支持并发写
type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) write(kind int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(kind, data)
}

// Hub 维护 WebSocket 连接并广播状态变化
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
	states  map[string]model.State // uid → 最新状态

	done chan struct{}
	once sync.Once
}

// NewHub 创建 Hub 并启动心跳
func NewHub() *Hub {
	h := &Hub{
		clients: make(map[*client]struct{}),
		states:  make(map[string]model.State),
		done:    make(chan struct{}),
	}
	go h.pingLoop()
	return h
}

// ServeHTTP 升级为 WebSocket，连接后先发送一次状态统计
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[monitor.ws] upgrade error: %v", err)
		return
	}
	c := &client{conn: conn}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	total := len(h.clients)
	h.mu.Unlock()
	log.Printf("[monitor.ws] client connected total=%d", total)

	h.send(c, Message{Type: "stats", Data: h.Stats(), Timestamp: time.Now()})
	go h.readPump(c)
}

func (h *Hub) readPump(c *client) {
	defer h.remove(c)

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[monitor.ws] read error: %v", err)
			}
			return
		}
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	remaining := len(h.clients)
	h.mu.Unlock()
	c.conn.Close()
	if ok {
		log.Printf("[monitor.ws] client disconnected remaining=%d", remaining)
	}
}

// Clients 当前连接数
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Record 记录实体状态并广播
func (h *Hub) Record(e *model.Entity) {
	h.mu.Lock()
	h.states[e.UID] = e.State
	h.mu.Unlock()

	h.Broadcast(Message{
		Type: "state",
		Data: StateEvent{
			UID:      e.UID,
			Type:     e.Type,
			State:    e.State,
			PilotUID: e.PilotUID,
			ExitCode: e.ExitCode,
		},
		Timestamp: time.Now(),
	})
}

// Stats 各状态的实体数
func (h *Hub) Stats() map[model.State]int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[model.State]int)
	for _, s := range h.states {
		out[s]++
	}
	return out
}

// Broadcast 发送给全部客户端，写失败的连接被关闭
func (h *Hub) Broadcast(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("[monitor.ws] marshal error: %v", err)
		return
	}
	for _, c := range h.snapshot() {
		if err := c.write(websocket.TextMessage, data); err != nil {
			log.Printf("[monitor.ws] broadcast error: %v", err)
			h.remove(c)
		}
	}
}

func (h *Hub) send(c *client, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("[monitor.ws] marshal error: %v", err)
		return
	}
	if err := c.write(websocket.TextMessage, data); err != nil {
		log.Printf("[monitor.ws] write error: %v", err)
	}
}

func (h *Hub) snapshot() []*client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		out = append(out, c)
	}
	return out
}

func (h *Hub) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-h.done:
			return
		case <-ticker.C:
			for _, c := range h.snapshot() {
				if err := c.write(websocket.PingMessage, nil); err != nil {
					h.remove(c)
				}
			}
		}
	}
}

// Close 断开全部客户端
func (h *Hub) Close() {
	h.once.Do(func() {
		close(h.done)
		for _, c := range h.snapshot() {
			c.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutdown"))
			h.remove(c)
		}
	})
}
