package changefeed

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"libportal/internal/platform/logging"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// トークン認証を通った接続だけがここに来る
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	maxMessageSize = 512
)

type Gateway struct {
	hub          *Hub
	log          *logging.Logger
	pingInterval time.Duration
}

func NewGateway(hub *Hub, log *logging.Logger) *Gateway {
	if log == nil {
		log = logging.Discard()
	}
	return &Gateway{hub: hub, log: log, pingInterval: 30 * time.Second}
}

// RegisterRoutes expects r to be behind auth.RequireAuth.
func RegisterRoutes(r gin.IRoutes, gw *Gateway) {
	r.GET("/changes", gw.Handle)
}

// Handle godoc
// @Summary  Change feed (WebSocket)
// @Description Streams {"type":"change","data":{...}} frames. Send {"type":"ping"} to receive {"type":"pong"}.
// @Tags     changes
// @Security Bearer
// @Param    access_token query string false "token when headers cannot be set"
// @Success  101
// @Router   /changes [get]
func (g *Gateway) Handle(c *gin.Context) {
	// Upgrade より先に購読しておき、ハンドシェイク完了後の変更を取りこぼさない
	sub := g.hub.Subscribe(DefaultBuffer)
	defer sub.Close()

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		g.log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	defer conn.Close()

	log := g.log.WithContext(c.Request.Context())
	log.Debug("change feed client connected")

	pongs := make(chan struct{}, 1)
	done := make(chan struct{})
	go g.readPump(conn, pongs, done, log)

	g.writePump(conn, sub, pongs, done)
	log.Debug("change feed client disconnected")
}

// readPump only reads; every write goes through writePump so that the
// connection has a single writer.
func (g *Gateway) readPump(conn *websocket.Conn, pongs chan<- struct{}, done chan<- struct{}, log *logging.Logger) {
	defer close(done)
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.WithError(err).Debug("websocket read error")
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))

		var req Message
		if json.Unmarshal(msg, &req) == nil && req.Type == MsgPing {
			select {
			case pongs <- struct{}{}:
			default:
			}
		}
	}
}

func (g *Gateway) writePump(conn *websocket.Conn, sub *Subscription, pongs <-chan struct{}, done <-chan struct{}) {
	pingTicker := time.NewTicker(g.pingInterval)
	defer pingTicker.Stop()

	write := func(v any) error {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteJSON(v)
	}

	for {
		select {
		case <-done:
			return
		case <-pingTicker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-pongs:
			if err := write(Message{Type: MsgPong}); err != nil {
				return
			}
		case ch, ok := <-sub.C:
			if !ok {
				return
			}
			if err := write(Message{Type: MsgChange, Data: &ch}); err != nil {
				return
			}
		}
	}
}
