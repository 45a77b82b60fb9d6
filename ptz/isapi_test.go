package ptz

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordedRequest captures what the camera saw.
type recordedRequest struct {
	Method string
	Path   string
	Body   string
	Auth   string
}

// fakeCamera is an httptest ISAPI endpoint that records every request and
// optionally demands digest auth.
type fakeCamera struct {
	mu         sync.Mutex
	requests   []recordedRequest
	wantDigest bool
	statusXML  string
}

func (f *fakeCamera) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		auth := r.Header.Get("Authorization")

		if f.wantDigest && auth == "" {
			w.Header().Set("WWW-Authenticate",
				`Digest realm="DS-2DE4425IW", qop="auth", nonce="abc123def456"`)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		f.mu.Lock()
		f.requests = append(f.requests, recordedRequest{
			Method: r.Method, Path: r.URL.Path, Body: string(body), Auth: auth,
		})
		f.mu.Unlock()

		if strings.HasSuffix(r.URL.Path, "/status") {
			fmt.Fprint(w, f.statusXML)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

func (f *fakeCamera) recorded() []recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedRequest(nil), f.requests...)
}

func newTestController(t *testing.T, cam *fakeCamera) *ISAPIController {
	t.Helper()
	srv := httptest.NewServer(cam.handler())
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	return NewISAPIController(ISAPIConfig{
		Host:     u.Hostname(),
		Port:     port,
		Username: "admin",
		Password: "secret",
		Timeout:  2 * time.Second,
	}, nil)
}

func TestBlockingMoveAlwaysStops(t *testing.T) {
	cam := &fakeCamera{}
	c := newTestController(t, cam)

	err := c.ContinuousMove(0.5, -0.25, 0, 30*time.Millisecond, true)
	require.NoError(t, err)

	reqs := cam.recorded()
	require.Len(t, reqs, 2)
	assert.Equal(t, "/ISAPI/PTZCtrl/channels/1/continuous", reqs[0].Path)
	assert.Contains(t, reqs[0].Body, "<pan>50</pan>")
	assert.Contains(t, reqs[0].Body, "<tilt>-25</tilt>")
	assert.Contains(t, reqs[1].Body, "<pan>0</pan><tilt>0</tilt><zoom>0</zoom>")
}

func TestNonBlockingMoveStopsOnItsOwn(t *testing.T) {
	cam := &fakeCamera{}
	c := newTestController(t, cam)

	err := c.ContinuousMove(1, 0, 0, 20*time.Millisecond, false)
	require.NoError(t, err)
	require.Len(t, cam.recorded(), 1)

	require.Eventually(t, func() bool {
		reqs := cam.recorded()
		return len(reqs) == 2 && strings.Contains(reqs[1].Body, "<pan>0</pan>")
	}, time.Second, 5*time.Millisecond)
}

func TestVelocitiesClampedToCameraRange(t *testing.T) {
	cam := &fakeCamera{}
	c := newTestController(t, cam)

	require.NoError(t, c.ContinuousMove(2.5, -3, 0.333, 10*time.Millisecond, true))
	body := cam.recorded()[0].Body
	assert.Contains(t, body, "<pan>100</pan>")
	assert.Contains(t, body, "<tilt>-100</tilt>")
	assert.Contains(t, body, "<zoom>33</zoom>")
}

func TestDigestChallengeAnswered(t *testing.T) {
	cam := &fakeCamera{wantDigest: true}
	c := newTestController(t, cam)

	require.NoError(t, c.Stop())

	reqs := cam.recorded()
	require.Len(t, reqs, 1)
	auth := reqs[0].Auth
	assert.Contains(t, auth, `username="admin"`)
	assert.Contains(t, auth, `realm="DS-2DE4425IW"`)
	assert.Contains(t, auth, `nonce="abc123def456"`)
	assert.Contains(t, auth, "qop=auth")
	assert.Contains(t, auth, `response="`)
}

func TestGotoPresetPath(t *testing.T) {
	cam := &fakeCamera{}
	c := newTestController(t, cam)

	require.NoError(t, c.GotoPreset("Preset004", 0.8))
	reqs := cam.recorded()
	require.Len(t, reqs, 1)
	assert.Equal(t, "/ISAPI/PTZCtrl/channels/1/presets/4/goto", reqs[0].Path)

	require.NoError(t, c.GotoPreset("7", 0.8))
	assert.Equal(t, "/ISAPI/PTZCtrl/channels/1/presets/7/goto", cam.recorded()[1].Path)

	err := c.GotoPreset("Home", 0.8)
	assert.Error(t, err)
}

func TestRelativeMovePayload(t *testing.T) {
	cam := &fakeCamera{}
	c := newTestController(t, cam)

	require.NoError(t, c.RelativeMove(-0.25, 0.25, 0.1, 0.5))
	body := cam.recorded()[0].Body
	assert.Contains(t, body, "<positionX>-25</positionX>")
	assert.Contains(t, body, "<positionY>25</positionY>")
	assert.Contains(t, body, "<relativeZoom>10</relativeZoom>")
}

func TestCurrentPosition(t *testing.T) {
	cam := &fakeCamera{statusXML: `<?xml version="1.0"?>
<PTZStatus><AbsoluteHigh>
<elevation>125</elevation><azimuth>2473</azimuth><absoluteZoom>20</absoluteZoom>
</AbsoluteHigh></PTZStatus>`}
	c := newTestController(t, cam)

	pos, err := c.CurrentPosition()
	require.NoError(t, err)
	assert.InDelta(t, 247.3, pos.Pan, 1e-9)
	assert.InDelta(t, 12.5, pos.Tilt, 1e-9)
	assert.InDelta(t, 2.0, pos.Zoom, 1e-9)
}
