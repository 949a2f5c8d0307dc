package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// eventFrame повторяет wire формат realtime канала
type eventFrame struct {
	Data      json.RawMessage `json:"data,omitempty"`
	Namespace string          `json:"ns"`
	Event     string          `json:"event"`
}

// EventsHandler поднимает websocket соединения и рассылает события
// всем подключенным клиентам
type EventsHandler struct {
	logger   *slog.Logger
	version  string
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

// NewEventsHandler создает websocket handler.
// version отправляется каждому клиенту системным кадром при подключении.
func NewEventsHandler(logger *slog.Logger, version string) *EventsHandler {
	return &EventsHandler{
		logger:  logger,
		version: version,
		conns:   make(map[*websocket.Conn]struct{}),
	}
}

// Handle обрабатывает GET /events - websocket upgrade
func (h *EventsHandler) Handle(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", slog.Any("error", err))
		return
	}

	h.mu.Lock()
	h.conns[conn] = struct{}{}
	h.mu.Unlock()

	h.logger.Debug("websocket client connected", slog.String("remote_addr", conn.RemoteAddr().String()))

	// Системный кадр с версией сервера
	if err := h.writeFrame(conn, eventFrame{Namespace: "sys", Event: "version", Data: mustJSON(h.version)}); err != nil {
		h.drop(conn)
		return
	}

	// Входящие кадры dev сервер не обрабатывает, но читать обязан,
	// чтобы заметить закрытие соединения
	go h.drain(conn)
}

// Broadcast рассылает событие всем подключенным клиентам
func (h *EventsHandler) Broadcast(namespace, event string, data any) error {
	var raw json.RawMessage
	if data != nil {
		encoded, err := json.Marshal(data)
		if err != nil {
			return err
		}
		raw = encoded
	}

	frame := eventFrame{Namespace: namespace, Event: event, Data: raw}

	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.conns))
	for conn := range h.conns {
		conns = append(conns, conn)
	}
	h.mu.Unlock()

	for _, conn := range conns {
		if err := h.writeFrame(conn, frame); err != nil {
			h.logger.Warn("failed to broadcast frame", slog.Any("error", err))
			h.drop(conn)
		}
	}
	return nil
}

// Close закрывает все активные соединения
func (h *EventsHandler) Close() {
	h.mu.Lock()
	conns := h.conns
	h.conns = make(map[*websocket.Conn]struct{})
	h.mu.Unlock()

	for conn := range conns {
		_ = conn.Close()
	}
}

func (h *EventsHandler) drain(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			h.drop(conn)
			return
		}
	}
}

func (h *EventsHandler) drop(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.conns, conn)
	h.mu.Unlock()
	_ = conn.Close()
}

// writeFrame сериализует и отправляет один кадр под общим замком,
// gorilla допускает только одного конкурентного писателя
func (h *EventsHandler) writeFrame(conn *websocket.Conn, frame eventFrame) error {
	payload, err := json.Marshal(frame)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, payload)
}

func mustJSON(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}
