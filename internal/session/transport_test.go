package session

import (
    "context"
    "net/http"
    "net/http/httptest"
    "strings"
    "testing"
    "time"

    "github.com/gorilla/websocket"
    "github.com/stretchr/testify/require"

    "pricerelay/internal/provider"
    "pricerelay/internal/symbols"
)

func sampleResult() *provider.FetchResult {
    return provider.Partial(symbols.New("A"), map[string]provider.PriceRecord{"A": []byte(`{"price":1.5}`)}, nil)
}

func TestSSE_Frames(t *testing.T) {
    ctx, cancel := context.WithCancel(context.Background())
    req := httptest.NewRequest(http.MethodGet, "/stream?symbols=A", nil).WithContext(ctx)
    rec := httptest.NewRecorder()

    tr, err := NewSSE(rec, req, time.Second)
    require.NoError(t, err)

    require.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
    require.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
    require.Equal(t, "keep-alive", rec.Header().Get("Connection"))
    require.Equal(t, "no", rec.Header().Get("X-Accel-Buffering"))
    require.True(t, rec.Flushed)

    require.NoError(t, tr.Send(sampleResult()))
    require.NoError(t, tr.Heartbeat())
    require.NoError(t, tr.Send(sampleResult()))

    body := rec.Body.String()
    require.True(t, strings.HasPrefix(body, "id:1\ndata:{\"success\":true"), body)
    require.Contains(t, body, "\n\n: keep-alive\n\nid:2\ndata:")
    require.True(t, strings.HasSuffix(body, "}\n\n"))

    select {
    case <-tr.Done():
        t.Fatal("done before the request ended")
    default:
    }
    cancel()
    <-tr.Done()

    require.NoError(t, tr.Close())
    require.ErrorIs(t, tr.Send(sampleResult()), ErrClosed)
    require.ErrorIs(t, tr.Heartbeat(), ErrClosed)
}

func TestWebSocket_FramesAndDisconnect(t *testing.T) {
    transports := make(chan *WebSocket, 1)
    upgrader := websocket.Upgrader{}
    srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        conn, err := upgrader.Upgrade(w, r, nil)
        if err != nil {
            return
        }
        transports <- NewWebSocket(conn, time.Second)
    }))
    defer srv.Close()

    client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
    require.NoError(t, err)
    pinged := make(chan struct{}, 1)
    client.SetPingHandler(func(string) error {
        pinged <- struct{}{}
        return nil
    })

    tr := <-transports
    require.NoError(t, tr.Heartbeat())
    require.NoError(t, tr.Send(sampleResult()))

    var got provider.FetchResult
    require.NoError(t, client.ReadJSON(&got))
    require.True(t, got.Success)
    require.JSONEq(t, `{"price":1.5}`, string(got.Prices["A"]))
    require.Len(t, pinged, 1)

    require.NoError(t, client.Close())
    select {
    case <-tr.Done():
    case <-time.After(time.Second):
        t.Fatal("read pump did not notice the client leaving")
    }
    _ = tr.Close()
    _ = tr.Close()
}

func TestWebSocket_ServerClose(t *testing.T) {
    transports := make(chan *WebSocket, 1)
    upgrader := websocket.Upgrader{}
    srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        conn, err := upgrader.Upgrade(w, r, nil)
        if err != nil {
            return
        }
        transports <- NewWebSocket(conn, time.Second)
    }))
    defer srv.Close()

    client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
    require.NoError(t, err)
    defer client.Close()

    tr := <-transports
    require.NoError(t, tr.Close())

    _, _, err = client.ReadMessage()
    require.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}
