// Package surface 以 websocket 方式把地图场景推送给浏览器客户端。
// Hub 实现 reconciler.Surface 与 reconciler.Camera：场景在服务端保存一份，
// 新连接先收到完整场景，之后接收增量消息。
package surface

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"sagerspace-tracker/internal/models"
	"sagerspace-tracker/internal/reconciler"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"go.uber.org/zap"
)

// 消息类型
const (
	MsgScene        = "scene"
	MsgMarkerCreate = "marker.create"
	MsgMarkerMove   = "marker.move"
	MsgMarkerRemove = "marker.remove"
	MsgTrailCreate  = "trail.create"
	MsgTrailUpdate  = "trail.update"
	MsgTrailRemove  = "trail.remove"
	MsgCameraCenter = "camera.center"
	MsgSelected     = "selected"

	// 客户端 -> 服务端
	MsgSelect = "select"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 256
)

// Marker 场景中的标记
type Marker struct {
	Handle   reconciler.Handle `json:"handle"`
	TrackID  string            `json:"track_id"`
	Position models.Coordinate `json:"position"`
	Rotation float64           `json:"rotation"`
	Style    reconciler.Style  `json:"style"`
}

// Message 推送给客户端的消息
type Message struct {
	Type     string             `json:"type"`
	Handle   reconciler.Handle  `json:"handle,omitempty"`
	TrackID  string             `json:"track_id,omitempty"`
	Position *models.Coordinate `json:"position,omitempty"`
	Rotation *float64           `json:"rotation,omitempty"`
	Style    *reconciler.Style  `json:"style,omitempty"`
	Trail    *geojson.Feature   `json:"trail,omitempty"`
	Markers  []Marker           `json:"markers,omitempty"`
	Trails   []*geojson.Feature `json:"trails,omitempty"`
}

// inbound 客户端上行消息
type inbound struct {
	Type    string `json:"type"`
	TrackID string `json:"track_id"`
}

type trail struct {
	trackID string
	coords  []models.Coordinate
	style   reconciler.Style
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub websocket 地图面
type Hub struct {
	mu      sync.Mutex
	markers map[reconciler.Handle]*Marker
	trails  map[reconciler.Handle]*trail
	clients map[*client]struct{}
	closed  bool

	onSelect func(trackID string)

	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewHub 创建地图面
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		markers: make(map[reconciler.Handle]*Marker),
		trails:  make(map[reconciler.Handle]*trail),
		clients: make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

// OnSelect 注册客户端点击标记时的回调（在读协程中调用，不持锁）
func (h *Hub) OnSelect(fn func(trackID string)) {
	h.mu.Lock()
	h.onSelect = fn
	h.mu.Unlock()
}

// CreateMarker 实现 reconciler.Surface
func (h *Hub) CreateMarker(trackID string, position models.Coordinate, rotation float64, style reconciler.Style) (reconciler.Handle, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return "", reconciler.ErrSurfaceUnavailable
	}

	handle := reconciler.Handle("marker-" + uuid.NewString())
	m := &Marker{Handle: handle, TrackID: trackID, Position: position, Rotation: rotation, Style: style}
	h.markers[handle] = m

	h.broadcastLocked(Message{
		Type:     MsgMarkerCreate,
		Handle:   handle,
		TrackID:  trackID,
		Position: &m.Position,
		Rotation: &m.Rotation,
		Style:    &m.Style,
	})
	return handle, nil
}

// MoveMarker 实现 reconciler.Surface
func (h *Hub) MoveMarker(handle reconciler.Handle, position models.Coordinate, rotation float64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return reconciler.ErrSurfaceUnavailable
	}
	m, ok := h.markers[handle]
	if !ok {
		return fmt.Errorf("marker %s: %w", handle, reconciler.ErrHandleNotFound)
	}
	m.Position = position
	m.Rotation = rotation

	h.broadcastLocked(Message{
		Type:     MsgMarkerMove,
		Handle:   handle,
		TrackID:  m.TrackID,
		Position: &position,
		Rotation: &rotation,
	})
	return nil
}

// RemoveMarker 实现 reconciler.Surface
func (h *Hub) RemoveMarker(handle reconciler.Handle) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return reconciler.ErrSurfaceUnavailable
	}
	m, ok := h.markers[handle]
	if !ok {
		return fmt.Errorf("marker %s: %w", handle, reconciler.ErrHandleNotFound)
	}
	delete(h.markers, handle)

	h.broadcastLocked(Message{Type: MsgMarkerRemove, Handle: handle, TrackID: m.TrackID})
	return nil
}

// CreateTrailLayer 实现 reconciler.Surface
func (h *Hub) CreateTrailLayer(trackID string, coords []models.Coordinate, style reconciler.Style) (reconciler.Handle, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return "", reconciler.ErrSurfaceUnavailable
	}

	handle := reconciler.Handle("trail-" + uuid.NewString())
	t := &trail{trackID: trackID, coords: coords, style: style}
	h.trails[handle] = t

	h.broadcastLocked(Message{
		Type:    MsgTrailCreate,
		Handle:  handle,
		TrackID: trackID,
		Trail:   trailFeature(handle, t),
	})
	return handle, nil
}

// UpdateTrailLayer 实现 reconciler.Surface
func (h *Hub) UpdateTrailLayer(handle reconciler.Handle, coords []models.Coordinate) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return reconciler.ErrSurfaceUnavailable
	}
	t, ok := h.trails[handle]
	if !ok {
		return fmt.Errorf("trail %s: %w", handle, reconciler.ErrHandleNotFound)
	}
	t.coords = coords

	h.broadcastLocked(Message{
		Type:    MsgTrailUpdate,
		Handle:  handle,
		TrackID: t.trackID,
		Trail:   trailFeature(handle, t),
	})
	return nil
}

// RemoveTrailLayer 实现 reconciler.Surface
func (h *Hub) RemoveTrailLayer(handle reconciler.Handle) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return reconciler.ErrSurfaceUnavailable
	}
	t, ok := h.trails[handle]
	if !ok {
		return fmt.Errorf("trail %s: %w", handle, reconciler.ErrHandleNotFound)
	}
	delete(h.trails, handle)

	h.broadcastLocked(Message{Type: MsgTrailRemove, Handle: handle, TrackID: t.trackID})
	return nil
}

// CenterOn 实现 reconciler.Camera
func (h *Hub) CenterOn(position models.Coordinate) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return reconciler.ErrSurfaceUnavailable
	}
	h.broadcastLocked(Message{Type: MsgCameraCenter, Position: &position})
	return nil
}

// TrackSelected 把选中事件广播给所有客户端（弹窗高亮）
func (h *Hub) TrackSelected(trackID string, position models.Coordinate) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.broadcastLocked(Message{Type: MsgSelected, TrackID: trackID, Position: &position})
}

// Len 场景中的对象数（标记, 轨迹层）
func (h *Hub) Len() (markers, trails int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.markers), len(h.trails)
}

// ClientCount 当前连接数
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close 关闭地图面：断开所有客户端，之后的调用返回 ErrSurfaceUnavailable
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
	h.markers = make(map[reconciler.Handle]*Marker)
	h.trails = make(map[reconciler.Handle]*trail)
	h.logger.Info("Render surface closed")
}

// ServeWS 升级 HTTP 连接并注册客户端
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Failed to upgrade websocket connection", zap.Error(err))
		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendBufferSize)}
	if !h.register(c) {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "surface closed"),
			time.Now().Add(writeWait))
		conn.Close()
		return
	}

	h.logger.Info("Map client connected", zap.String("remote_addr", r.RemoteAddr))
	go h.writePump(c)
	go h.readPump(c)
}

// register 加入客户端并先投递完整场景，持锁保证场景与后续增量的顺序
func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}

	data, err := json.Marshal(h.sceneLocked())
	if err != nil {
		h.logger.Error("Failed to encode scene", zap.Error(err))
		return false
	}
	c.send <- data
	h.clients[c] = struct{}{}
	return true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *Hub) sceneLocked() Message {
	msg := Message{Type: MsgScene, Markers: []Marker{}, Trails: []*geojson.Feature{}}

	for _, m := range h.markers {
		msg.Markers = append(msg.Markers, *m)
	}
	sort.Slice(msg.Markers, func(i, j int) bool { return msg.Markers[i].TrackID < msg.Markers[j].TrackID })

	handles := make([]reconciler.Handle, 0, len(h.trails))
	for handle := range h.trails {
		handles = append(handles, handle)
	}
	sort.Slice(handles, func(i, j int) bool { return h.trails[handles[i]].trackID < h.trails[handles[j]].trackID })
	for _, handle := range handles {
		msg.Trails = append(msg.Trails, trailFeature(handle, h.trails[handle]))
	}
	return msg
}

// broadcastLocked 非阻塞投递；发送队列满的客户端直接断开，重连后重新拿到完整场景
func (h *Hub) broadcastLocked(msg Message) {
	if len(h.clients) == 0 {
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("Failed to encode surface message", zap.String("type", msg.Type), zap.Error(err))
		return
	}
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.logger.Warn("Map client too slow, disconnecting")
			delete(h.clients, c)
			close(c.send)
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
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

func (h *Hub) readPump(c *client) {
	defer func() {
		h.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg inbound
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("Map client read error", zap.Error(err))
			}
			return
		}
		if msg.Type != MsgSelect || msg.TrackID == "" {
			continue
		}

		h.mu.Lock()
		fn := h.onSelect
		h.mu.Unlock()
		if fn != nil {
			fn(msg.TrackID)
		}
	}
}

// trailFeature 轨迹层以 GeoJSON LineString 下发（lng, lat 顺序）
func trailFeature(handle reconciler.Handle, t *trail) *geojson.Feature {
	line := make(orb.LineString, len(t.coords))
	for i, c := range t.coords {
		line[i] = orb.Point{c.Lng, c.Lat}
	}
	f := geojson.NewFeature(line)
	f.ID = string(handle)
	f.Properties["track_id"] = t.trackID
	f.Properties["category"] = string(t.style.Category)
	f.Properties["color"] = t.style.Color
	f.Properties["opacity"] = t.style.Opacity
	return f
}
