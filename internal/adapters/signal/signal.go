// Package signal is the websocket adapter of the room relay. Text
// frames carry protocol JSON envelopes; binary frames carry raw PCM16
// audio chunks.
package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/probelab/scoutrelay/internal/app"
	"github.com/probelab/scoutrelay/internal/core"
	"github.com/probelab/scoutrelay/internal/domain"
)

var ErrBackpressure = errors.New("backpressure")

const sendBuffer = 64

type RelayWSController struct {
	Coord      *app.Coordinator
	Limiter    *JoinRateLimiter
	ReadLimit  int64
	PingPeriod time.Duration
}

func NewRelayWSController(coord *app.Coordinator, readLimit int64, pingPeriod time.Duration) *RelayWSController {
	return &RelayWSController{
		Coord:      coord,
		Limiter:    NewJoinRateLimiter(10, time.Minute),
		ReadLimit:  readLimit,
		PingPeriod: pingPeriod,
	}
}

// WsRelayConn is one participant endpoint. It implements
// core.SignalConnection; the adapter owns and closes the socket.
type WsRelayConn struct {
	id   domain.ConnID
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *WsRelayConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *WsRelayConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleRelay upgrades the request and runs the connection's pumps. The
// client token minted by the router middleware becomes the ConnID. The
// pumps run on the server's context, not the request's: the request
// context dies as soon as this handler returns the hijacked socket.
func (ctl *RelayWSController) HandleRelay(ctx context.Context, c *gin.Context) {
	connID := domain.ConnID(c.GetString("client_token"))
	log.Info().Str("module", "signal").Str("conn", string(connID)).Msg("new relay connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	if ctl.ReadLimit > 0 {
		ws.SetReadLimit(ctl.ReadLimit)
	}

	conn := &WsRelayConn{
		id:   connID,
		conn: ws,
		send: make(chan core.Frame, sendBuffer),
	}

	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, conn)
}
