package ws

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campsite.sim/internal/protocol"
	"campsite.sim/internal/sim/site"
)

// fakeSite answers every edit immediately, rejecting DEMOLISH.
type fakeSite struct {
	mu    sync.Mutex
	edits []site.Edit
	full  bool
}

func (f *fakeSite) Submit(e site.Edit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.full {
		return site.ErrInboxFull
	}
	f.edits = append(f.edits, e)
	res := site.EditResult{OK: true, ID: uint64(len(f.edits))}
	if e.Kind == site.EditDemolish {
		res = site.EditResult{Code: site.CodeNotOccupied, Message: "nothing there"}
	}
	e.Resp <- res
	return nil
}

func (f *fakeSite) Info() site.Info { return site.Info{SiteID: "test", Width: 8, Height: 8} }

func dial(t *testing.T, srv *Server) *websocket.Conn {
	t.Helper()
	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(hs.Close)
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(hs.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(v))
}

func recv[T any](t *testing.T, conn *websocket.Conn) T {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, b, err := conn.ReadMessage()
	require.NoError(t, err)
	var v T
	require.NoError(t, json.Unmarshal(b, &v))
	return v
}

func hello(t *testing.T, conn *websocket.Conn) protocol.WelcomeMsg {
	t.Helper()
	send(t, conn, protocol.HelloMsg{Type: protocol.TypeHello, ProtocolVersion: protocol.Version, Client: "test"})
	return recv[protocol.WelcomeMsg](t, conn)
}

func edit(ref string, e site.Edit) protocol.EditMsg {
	return protocol.EditMsg{Type: protocol.TypeEdit, ProtocolVersion: protocol.Version, Ref: ref, Edit: e}
}

func TestEditsAreAnsweredByRef(t *testing.T) {
	fs := &fakeSite{}
	conn := dial(t, NewServer(fs, nil))

	w := hello(t, conn)
	assert.Equal(t, protocol.TypeWelcome, w.Type)
	assert.Equal(t, "test", w.Site.SiteID)
	assert.NotEmpty(t, w.SessionID)

	send(t, conn, edit("a", site.Edit{Kind: site.EditPlace, Object: "HEDGE", Pos: [2]int{1, 1}}))
	r := recv[protocol.ResultMsg](t, conn)
	assert.Equal(t, protocol.TypeResult, r.Type)
	assert.Equal(t, "a", r.Ref)
	assert.True(t, r.Result.OK)
	assert.Equal(t, uint64(1), r.Result.ID)

	send(t, conn, edit("b", site.Edit{Kind: site.EditDemolish, Pos: [2]int{5, 5}}))
	r = recv[protocol.ResultMsg](t, conn)
	assert.Equal(t, "b", r.Ref)
	assert.False(t, r.Result.OK)
	assert.Equal(t, site.CodeNotOccupied, r.Result.Code)
}

func TestMalformedEditIsRejected(t *testing.T) {
	fs := &fakeSite{}
	conn := dial(t, NewServer(fs, nil))
	hello(t, conn)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"EDIT","protocol_version":"1.0","edit":{"kind":"FLY"}}`)))
	e := recv[protocol.ErrorMsg](t, conn)
	assert.Equal(t, protocol.TypeError, e.Type)
	assert.Equal(t, protocol.ErrProtoBadRequest, e.Code)
	assert.Empty(t, fs.edits)
}

func TestBusySiteAndRateLimit(t *testing.T) {
	fs := &fakeSite{full: true}
	srv := NewServer(fs, nil)
	srv.EditsPerSecond = 0.001
	srv.EditBurst = 1
	conn := dial(t, srv)
	hello(t, conn)

	send(t, conn, edit("x", site.Edit{Kind: site.EditSetDebug, Debug: true}))
	e := recv[protocol.ErrorMsg](t, conn)
	assert.Equal(t, "x", e.Ref)
	assert.Equal(t, protocol.ErrSiteBusy, e.Code)

	send(t, conn, edit("y", site.Edit{Kind: site.EditSetDebug}))
	e = recv[protocol.ErrorMsg](t, conn)
	assert.Equal(t, "y", e.Ref)
	assert.Equal(t, protocol.ErrRateLimit, e.Code)
}

func TestHandshakeRequiresHello(t *testing.T) {
	conn := dial(t, NewServer(&fakeSite{}, nil))
	send(t, conn, edit("a", site.Edit{Kind: site.EditSetDebug}))
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	var ce *websocket.CloseError
	if assert.ErrorAs(t, err, &ce) {
		assert.Equal(t, websocket.ClosePolicyViolation, ce.Code)
	}
}
