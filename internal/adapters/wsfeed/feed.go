// Package wsfeed consumes the backend's push-update stream over a
// websocket and feeds decoded frames into the session.
package wsfeed

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/callsync/internal/core"
	"github.com/dkeye/callsync/internal/domain"
)

const (
	reconnectBase = time.Second
	reconnectMax  = 30 * time.Second
	writeWait     = 5 * time.Second
)

// PeerRegistrar is the write side of the peer store; update frames carry
// the identity records for peers they reference.
type PeerRegistrar interface {
	Put(peer domain.Peer)
}

type Feed struct {
	URL        string
	Session    *core.Session
	Peers      PeerRegistrar
	PingPeriod time.Duration
}

// Run dials the stream and pumps frames until ctx is done, reconnecting
// with capped backoff. Every reconnect forces a resync, since the stream
// may have gapped while we were away.
func (f *Feed) Run(ctx context.Context) {
	backoff := reconnectBase
	first := true
	for {
		if ctx.Err() != nil {
			return
		}
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.URL, nil)
		if err != nil {
			log.Error().Err(err).Str("module", "wsfeed").Str("url", f.URL).Msg("dial failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff *= 2; backoff > reconnectMax {
				backoff = reconnectMax
			}
			continue
		}
		backoff = reconnectBase
		if !first {
			f.Session.RequestResync()
		}
		first = false

		log.Info().Str("module", "wsfeed").Str("url", f.URL).Msg("update stream connected")
		f.readPump(ctx, conn)
		_ = conn.Close()
	}
}

func (f *Feed) readPump(ctx context.Context, conn *websocket.Conn) {
	pingPeriod := f.PingPeriod
	if pingPeriod <= 0 {
		pingPeriod = 54 * time.Second
	}

	pumpCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-pumpCtx.Done():
				_ = conn.Close()
				return
			case <-ticker.C:
				deadline := time.Now().Add(writeWait)
				if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
					log.Error().Err(err).Str("module", "wsfeed").Msg("ping failed")
					return
				}
			}
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				log.Error().Err(err).Str("module", "wsfeed").Msg("read error")
			}
			return
		}
		f.handleFrame(data)
	}
}

func (f *Feed) handleFrame(data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "wsfeed").Msg("bad json frame")
		return
	}

	if f.Peers != nil {
		for _, p := range env.Peers {
			f.Peers.Put(domain.Peer{ID: domain.PeerID(p.ID), Username: p.Username})
		}
	}

	switch env.Type {
	case "updates":
		if env.Updates == nil {
			log.Warn().Str("module", "wsfeed").Msg("updates frame without payload")
			return
		}
		f.Session.AddUpdates(core.Update{Batch: env.Updates.toBatch()})
	case "settings":
		if env.Settings == nil {
			log.Warn().Str("module", "wsfeed").Msg("settings frame without payload")
			return
		}
		f.Session.AddUpdates(core.Update{Settings: env.Settings.toSettings()})
	default:
		log.Warn().Str("module", "wsfeed").Str("type", env.Type).Msg("unknown frame")
	}
}
