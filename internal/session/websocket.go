package session

import (
    "sync"
    "time"

    "github.com/gorilla/websocket"

    "pricerelay/internal/provider"
)

const (
    wsWriteWait      = 5 * time.Second
    wsMaxMessageSize = 512
)

// WebSocket writes each result as a JSON text message and uses ping control
// frames as heartbeats. A read pump watches for the client going away.
type WebSocket struct {
    conn     *websocket.Conn
    pongWait time.Duration
    done     chan struct{}
    once     sync.Once
}

// NewWebSocket starts the read pump on conn. The client must answer pings
// within two heartbeat intervals.
func NewWebSocket(conn *websocket.Conn, heartbeat time.Duration) *WebSocket {
    if heartbeat <= 0 {
        heartbeat = DefaultHeartbeatInterval
    }
    ws := &WebSocket{conn: conn, pongWait: 2 * heartbeat, done: make(chan struct{})}
    go ws.readPump()
    return ws
}

// readPump discards client messages; the stream is one-way. It returns on
// close, read error or a missed pong.
func (ws *WebSocket) readPump() {
    defer close(ws.done)

    ws.conn.SetReadLimit(wsMaxMessageSize)
    _ = ws.conn.SetReadDeadline(time.Now().Add(ws.pongWait))
    ws.conn.SetPongHandler(func(string) error {
        return ws.conn.SetReadDeadline(time.Now().Add(ws.pongWait))
    })
    for {
        if _, _, err := ws.conn.ReadMessage(); err != nil {
            return
        }
    }
}

func (ws *WebSocket) Send(res *provider.FetchResult) error {
    if err := ws.conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
        return err
    }
    return ws.conn.WriteJSON(res)
}

func (ws *WebSocket) Heartbeat() error {
    return ws.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
}

func (ws *WebSocket) Done() <-chan struct{} { return ws.done }

// Close sends a normal close frame and closes the connection once.
func (ws *WebSocket) Close() error {
    var err error
    ws.once.Do(func() {
        msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
        _ = ws.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteWait))
        err = ws.conn.Close()
    })
    return err
}
