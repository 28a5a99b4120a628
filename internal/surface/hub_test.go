package surface

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"sagerspace-tracker/internal/models"
	"sagerspace-tracker/internal/reconciler"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var testStyle = reconciler.Style{Category: models.CategoryCleared, Color: "rgba(16, 185, 129, 0.8)", Opacity: 1}

func dial(t *testing.T, hub *Hub) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

type received struct {
	Type     string             `json:"type"`
	Handle   string             `json:"handle"`
	TrackID  string             `json:"track_id"`
	Position *models.Coordinate `json:"position"`
	Markers  []Marker           `json:"markers"`
	Trails   []json.RawMessage  `json:"trails"`
	Trail    json.RawMessage    `json:"trail"`
}

func readMessage(t *testing.T, conn *websocket.Conn) received {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg received
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestHub_SurfaceLifecycle(t *testing.T) {
	hub := NewHub(zap.NewNop())

	m, err := hub.CreateMarker("JO-B001", models.Coordinate{Lng: 55.27, Lat: 25.2}, 90, testStyle)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(m), "marker-"))

	tr, err := hub.CreateTrailLayer("JO-B001", []models.Coordinate{{Lng: 1, Lat: 1}, {Lng: 2, Lat: 2}}, testStyle)
	require.NoError(t, err)
	assert.NotEqual(t, m, tr)

	require.NoError(t, hub.MoveMarker(m, models.Coordinate{Lng: 55.28, Lat: 25.21}, 180))
	require.NoError(t, hub.UpdateTrailLayer(tr, []models.Coordinate{{Lng: 1, Lat: 1}}))

	markers, trails := hub.Len()
	assert.Equal(t, 1, markers)
	assert.Equal(t, 1, trails)

	require.NoError(t, hub.RemoveTrailLayer(tr))
	require.NoError(t, hub.RemoveMarker(m))
	markers, trails = hub.Len()
	assert.Zero(t, markers)
	assert.Zero(t, trails)
}

func TestHub_UnknownHandle(t *testing.T) {
	hub := NewHub(zap.NewNop())

	assert.ErrorIs(t, hub.MoveMarker("marker-missing", models.Coordinate{}, 0), reconciler.ErrHandleNotFound)
	assert.ErrorIs(t, hub.RemoveMarker("marker-missing"), reconciler.ErrHandleNotFound)
	assert.ErrorIs(t, hub.UpdateTrailLayer("trail-missing", nil), reconciler.ErrHandleNotFound)
	assert.ErrorIs(t, hub.RemoveTrailLayer("trail-missing"), reconciler.ErrHandleNotFound)
}

func TestHub_ClosedIsUnavailable(t *testing.T) {
	hub := NewHub(zap.NewNop())
	m, err := hub.CreateMarker("JO-B001", models.Coordinate{}, 0, testStyle)
	require.NoError(t, err)

	hub.Close()
	hub.Close()

	_, err = hub.CreateMarker("JO-B002", models.Coordinate{}, 0, testStyle)
	assert.ErrorIs(t, err, reconciler.ErrSurfaceUnavailable)
	assert.ErrorIs(t, hub.RemoveMarker(m), reconciler.ErrSurfaceUnavailable)
	assert.ErrorIs(t, hub.CenterOn(models.Coordinate{}), reconciler.ErrSurfaceUnavailable)
}

func TestHub_NewClientReceivesSceneThenDeltas(t *testing.T) {
	hub := NewHub(zap.NewNop())
	_, err := hub.CreateMarker("JO-B001", models.Coordinate{Lng: 1, Lat: 2}, 45, testStyle)
	require.NoError(t, err)
	_, err = hub.CreateTrailLayer("JO-B001", []models.Coordinate{{Lng: 0, Lat: 0}, {Lng: 1, Lat: 2}}, testStyle)
	require.NoError(t, err)

	conn := dial(t, hub)

	scene := readMessage(t, conn)
	assert.Equal(t, MsgScene, scene.Type)
	require.Len(t, scene.Markers, 1)
	assert.Equal(t, "JO-B001", scene.Markers[0].TrackID)
	assert.Equal(t, 45.0, scene.Markers[0].Rotation)
	require.Len(t, scene.Trails, 1)
	assert.Contains(t, string(scene.Trails[0]), `"LineString"`)

	m2, err := hub.CreateMarker("JO-R002", models.Coordinate{Lng: 3, Lat: 4}, 0, testStyle)
	require.NoError(t, err)

	msg := readMessage(t, conn)
	assert.Equal(t, MsgMarkerCreate, msg.Type)
	assert.Equal(t, string(m2), msg.Handle)
	assert.Equal(t, &models.Coordinate{Lng: 3, Lat: 4}, msg.Position)

	require.NoError(t, hub.CenterOn(models.Coordinate{Lng: 3, Lat: 4}))
	msg = readMessage(t, conn)
	assert.Equal(t, MsgCameraCenter, msg.Type)
}

func TestHub_ClientSelectInvokesCallback(t *testing.T) {
	hub := NewHub(zap.NewNop())
	selected := make(chan string, 1)
	hub.OnSelect(func(trackID string) { selected <- trackID })

	conn := dial(t, hub)
	readMessage(t, conn)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": MsgSelect, "track_id": "JO-B001"}))

	select {
	case id := <-selected:
		assert.Equal(t, "JO-B001", id)
	case <-time.After(2 * time.Second):
		t.Fatal("select callback not invoked")
	}

	hub.TrackSelected("JO-B001", models.Coordinate{Lng: 1, Lat: 1})
	msg := readMessage(t, conn)
	assert.Equal(t, MsgSelected, msg.Type)
	assert.Equal(t, "JO-B001", msg.TrackID)
}

func TestHub_CloseDisconnectsClients(t *testing.T) {
	hub := NewHub(zap.NewNop())
	conn := dial(t, hub)
	readMessage(t, conn)
	require.Equal(t, 1, hub.ClientCount())

	hub.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
	assert.Equal(t, 0, hub.ClientCount())
}
