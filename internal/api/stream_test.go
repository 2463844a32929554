package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteStreamErrorSendsErrorFrame(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		writeStreamError(conn, assertErr{})
	}))
	defer srv.Close()

	wsURL := "ws" + srv.URL[len("http"):]
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	var frame streamFrame
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, "error", frame.Type)
	assert.Equal(t, "unclassified", frame.Error)
}

func TestStreamFrameJSONShape(t *testing.T) {
	frame := streamFrame{Type: "command"}
	data, err := json.Marshal(frame)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"type":"command"`)
	assert.NotContains(t, string(data), `"result"`)
}
