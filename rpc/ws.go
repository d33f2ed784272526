package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"nhooyr.io/websocket"

	"safedeal/core/events"
)

const (
	wsWriteTimeout   = 10 * time.Second
	wsFeedBuffer     = 256
	wsBacklogPerPage = 500
)

// handleEventsWS streams committed events. An optional "after" query
// parameter replays the journal from that sequence before going live.
func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	if s == nil || s.node == nil {
		http.Error(w, "node unavailable", http.StatusServiceUnavailable)
		return
	}
	after := int64(-1)
	if raw := strings.TrimSpace(r.URL.Query().Get("after")); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 0 {
			http.Error(w, "invalid after cursor", http.StatusBadRequest)
			return
		}
		after = parsed
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")
	ctx := conn.CloseRead(r.Context())
	if err := s.streamEvents(ctx, conn, after); err != nil {
		if status := websocket.CloseStatus(err); status == -1 {
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func (s *Server) streamEvents(ctx context.Context, conn *websocket.Conn, after int64) error {
	// Subscribe before replaying so nothing committed in between is lost.
	updates, cancel, err := s.node.Subscribe(wsFeedBuffer)
	if err != nil {
		return err
	}
	defer cancel()

	last := after
	if after >= 0 {
		for {
			backlog, err := s.node.EventsSince(last, wsBacklogPerPage)
			if err != nil {
				return err
			}
			for _, record := range backlog {
				if err := writeEvent(ctx, conn, record); err != nil {
					return err
				}
				last = record.Sequence
			}
			if len(backlog) < wsBacklogPerPage {
				break
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case record, ok := <-updates:
			if !ok {
				return nil
			}
			if record.Sequence <= last {
				continue
			}
			if err := writeEvent(ctx, conn, record); err != nil {
				return err
			}
			last = record.Sequence
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, record events.Record) error {
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
