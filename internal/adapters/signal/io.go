package signal

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/probelab/scoutrelay/internal/core"
)

const writeWait = 5 * time.Second

func (ctl *RelayWSController) writePump(ctx context.Context, c *WsRelayConn) {
	pingPeriod := ctl.PingPeriod
	if pingPeriod <= 0 {
		pingPeriod = 54 * time.Second
	}
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("conn", string(c.id)).Msg("writePump ctx done")
			return
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case data, ok := <-c.send:
			if !ok {
				log.Warn().Str("module", "signal").Str("conn", string(c.id)).Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		}
	}
}

// readPump drives the whole inbound side of one connection. It is the
// only reader, so connState needs no locking; per-connection arrival
// order is preserved end to end.
func (ctl *RelayWSController) readPump(ctx context.Context, c *WsRelayConn) {
	state := &connState{}
	defer func() {
		log.Info().Str("module", "signal").Str("conn", string(c.id)).Msg("readPump closing")
		ctl.Coord.Disconnect(ctx, c.id)
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("conn", string(c.id)).Msg("readPump ctx done")
			return
		default:
			mt, data, err := c.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Error().Err(err).Str("module", "signal").Str("conn", string(c.id)).Msg("readPump read error")
				}
				return
			}
			if mt == websocket.BinaryMessage {
				ctl.handleAudio(c, state, data)
				continue
			}
			ctl.handleEnvelope(ctx, c, state, core.Frame(data))
		}
	}
}
