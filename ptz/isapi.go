package ptz

import (
	"bytes"
	"crypto/md5"
	"crypto/rand"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ISAPIConfig identifies the camera endpoint and credentials.
type ISAPIConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	Channel  int           // PTZ channel, usually 1
	Timeout  time.Duration // per-request HTTP timeout
}

// ISAPIController implements Actuator against the Hikvision ISAPI HTTP
// interface with digest authentication. Commands are serialized on a
// mutex so a stop can never overtake the move it terminates.
type ISAPIController struct {
	cfg    ISAPIConfig
	client *http.Client
	log    *slog.Logger

	cmdMu sync.Mutex
}

// NewISAPIController creates a controller. It performs no network I/O;
// the first command authenticates lazily.
func NewISAPIController(cfg ISAPIConfig, logger *slog.Logger) *ISAPIController {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Port == 0 {
		cfg.Port = 80
	}
	if cfg.Channel == 0 {
		cfg.Channel = 1
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &ISAPIController{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		log:    logger,
	}
}

// ContinuousMove starts a velocity move and guarantees a stop after
// duration. Velocities are clamped to [-1, 1] and scaled to the camera's
// -100..100 range.
func (c *ISAPIController) ContinuousMove(pan, tilt, zoom float64, duration time.Duration, blocking bool) error {
	if duration <= 0 {
		duration = 100 * time.Millisecond
	}
	body := fmt.Sprintf(
		"<PTZData><pan>%d</pan><tilt>%d</tilt><zoom>%d</zoom></PTZData>",
		scaleVelocity(pan), scaleVelocity(tilt), scaleVelocity(zoom))

	c.cmdMu.Lock()
	err := c.put(c.channelPath("continuous"), body)
	c.cmdMu.Unlock()
	if err != nil {
		return fmt.Errorf("continuous move: %w", err)
	}

	if blocking {
		time.Sleep(duration)
		return c.Stop()
	}
	time.AfterFunc(duration, func() {
		if err := c.Stop(); err != nil {
			c.log.Warn("move auto-stop failed", "error", err)
		}
	})
	return nil
}

// RelativeMove nudges the camera by normalized deltas. ISAPI relative
// positions use the same -100..100 scale as velocities.
func (c *ISAPIController) RelativeMove(pan, tilt, zoom, speed float64) error {
	body := fmt.Sprintf(
		"<PTZData><Relative><positionX>%d</positionX><positionY>%d</positionY><relativeZoom>%d</relativeZoom></Relative></PTZData>",
		scaleVelocity(pan), scaleVelocity(tilt), scaleVelocity(zoom))

	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()
	if err := c.put(c.channelPath("relative"), body); err != nil {
		return fmt.Errorf("relative move: %w", err)
	}
	return nil
}

// GotoPreset recalls a preset. Tokens carry a numeric suffix in the
// "Preset004" convention; a bare number also works.
func (c *ISAPIController) GotoPreset(token string, speed float64) error {
	n, err := presetNumber(token)
	if err != nil {
		return err
	}
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()
	if err := c.put(c.channelPath(fmt.Sprintf("presets/%d/goto", n)), ""); err != nil {
		return fmt.Errorf("goto preset %s: %w", token, err)
	}
	return nil
}

// Stop halts all axes.
func (c *ISAPIController) Stop() error {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()
	body := "<PTZData><pan>0</pan><tilt>0</tilt><zoom>0</zoom></PTZData>"
	if err := c.put(c.channelPath("continuous"), body); err != nil {
		return fmt.Errorf("stop: %w", err)
	}
	return nil
}

// ptzStatus mirrors the ISAPI status document.
type ptzStatus struct {
	XMLName      xml.Name `xml:"PTZStatus"`
	AbsoluteHigh struct {
		Elevation    int `xml:"elevation"`
		Azimuth      int `xml:"azimuth"`
		AbsoluteZoom int `xml:"absoluteZoom"`
	} `xml:"AbsoluteHigh"`
}

// CurrentPosition queries the camera's absolute pose. ISAPI reports
// azimuth/elevation in tenths of a degree and zoom in tenths of 1x.
func (c *ISAPIController) CurrentPosition() (Position, error) {
	data, err := c.do(http.MethodGet, c.channelPath("status"), "")
	if err != nil {
		return Position{}, fmt.Errorf("status query: %w", err)
	}
	var st ptzStatus
	if err := xml.Unmarshal(data, &st); err != nil {
		return Position{}, fmt.Errorf("parsing status: %w", err)
	}
	return Position{
		Pan:  float64(st.AbsoluteHigh.Azimuth) / 10,
		Tilt: float64(st.AbsoluteHigh.Elevation) / 10,
		Zoom: float64(st.AbsoluteHigh.AbsoluteZoom) / 10,
	}, nil
}

func (c *ISAPIController) channelPath(op string) string {
	return fmt.Sprintf("/ISAPI/PTZCtrl/channels/%d/%s", c.cfg.Channel, op)
}

func (c *ISAPIController) put(path, body string) error {
	_, err := c.do(http.MethodPut, path, body)
	return err
}

// do issues one request, answering a digest challenge with a single retry.
func (c *ISAPIController) do(method, path, body string) ([]byte, error) {
	url := fmt.Sprintf("http://%s:%d%s", c.cfg.Host, c.cfg.Port, path)

	resp, err := c.send(method, url, body, "")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		challenge := resp.Header.Get("WWW-Authenticate")
		drain(resp)
		auth, err := c.digestAuth(method, path, challenge)
		if err != nil {
			return nil, err
		}
		resp, err = c.send(method, url, body, auth)
		if err != nil {
			return nil, err
		}
	}
	defer drain(resp)

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("camera returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return data, nil
}

func (c *ISAPIController) send(method, url, body, auth string) (*http.Response, error) {
	req, err := http.NewRequest(method, url, bytes.NewBufferString(body))
	if err != nil {
		return nil, err
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/xml")
	}
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	return c.client.Do(req)
}

// digestAuth builds an RFC 2617 Authorization header from a WWW-Authenticate
// challenge. Supports qop=auth and legacy no-qop cameras.
func (c *ISAPIController) digestAuth(method, uri, challenge string) (string, error) {
	if !strings.HasPrefix(challenge, "Digest ") {
		return "", fmt.Errorf("unsupported auth challenge: %q", challenge)
	}
	params := parseChallenge(strings.TrimPrefix(challenge, "Digest "))
	realm, nonce := params["realm"], params["nonce"]
	if nonce == "" {
		return "", fmt.Errorf("digest challenge missing nonce")
	}

	ha1 := md5hex(c.cfg.Username + ":" + realm + ":" + c.cfg.Password)
	ha2 := md5hex(method + ":" + uri)

	var response string
	var sb strings.Builder
	fmt.Fprintf(&sb, `Digest username="%s", realm="%s", nonce="%s", uri="%s"`,
		c.cfg.Username, realm, nonce, uri)

	if qop := params["qop"]; strings.Contains(qop, "auth") {
		cnonce := randomHex(8)
		nc := "00000001"
		response = md5hex(ha1 + ":" + nonce + ":" + nc + ":" + cnonce + ":auth:" + ha2)
		fmt.Fprintf(&sb, `, qop=auth, nc=%s, cnonce="%s"`, nc, cnonce)
	} else {
		response = md5hex(ha1 + ":" + nonce + ":" + ha2)
	}
	fmt.Fprintf(&sb, `, response="%s"`, response)
	if opaque := params["opaque"]; opaque != "" {
		fmt.Fprintf(&sb, `, opaque="%s"`, opaque)
	}
	return sb.String(), nil
}

func parseChallenge(s string) map[string]string {
	params := make(map[string]string)
	for _, part := range strings.Split(s, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		params[kv[0]] = strings.Trim(kv[1], `"`)
	}
	return params
}

func md5hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

func randomHex(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "deadbeefcafe0123"[:n*2]
	}
	return hex.EncodeToString(b)
}

func drain(resp *http.Response) {
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}

// presetNumber extracts the numeric ID from tokens like "Preset004" or "4".
func presetNumber(token string) (int, error) {
	digits := strings.TrimLeftFunc(token, func(r rune) bool {
		return r < '0' || r > '9'
	})
	n, err := strconv.Atoi(digits)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid preset token %q", token)
	}
	return n, nil
}

// scaleVelocity maps a normalized [-1, 1] value to the camera's -100..100
// integer scale.
func scaleVelocity(v float64) int {
	v = math.Max(-1, math.Min(1, v))
	return int(math.Round(v * 100))
}
