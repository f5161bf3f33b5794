// Command wsprobe is a dev smoke check for a running relay server.
//
// It logs in (registering first with -register), opens or creates a thread,
// connects to the thread's room, sends one chat and prints every frame until
// the assistant reply arrives.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	v1 "relay/shared/contracts/realtime/v1"

	"github.com/coder/websocket"
)

const (
	subprotocol  = "relay.realtime.v1"
	maxReadBytes = 1 << 20 // 1MiB
)

// frame is the subset of fields the probe inspects; the raw bytes are printed as-is.
type frame struct {
	Type            string `json:"type"`
	Event           string `json:"event"`
	State           string `json:"state"`
	Code            string `json:"code"`
	Message         string `json:"message"`
	SenderType      string `json:"sender_type"`
	Content         string `json:"content"`
	ClientMessageID string `json:"client_message_id"`
	raw             []byte
}

type probe struct {
	base    *url.URL
	client  *http.Client
	timeout time.Duration
	verbose bool
	token   string

	conn  *websocket.Conn
	inbox chan frame
	errCh chan error
}

func main() {
	var (
		baseURL  = flag.String("base", "http://127.0.0.1:8080", "relay HTTP base URL")
		email    = flag.String("email", "probe@example.com", "Account email")
		password = flag.String("password", "relay probe password", "Account password")
		register = flag.Bool("register", false, "Register the account first (409 is ignored)")
		threadID = flag.String("thread", "", "Thread to join; empty creates one")
		origin   = flag.String("origin", "", "Origin header for the WS handshake")
		text     = flag.String("text", "hello relay", "Chat content to send")
		timeout  = flag.Duration("timeout", 10*time.Second, "Per-step timeout")
		verbose  = flag.Bool("v", false, "Print every frame")
	)
	flag.Parse()

	base, err := validateBaseURL(*baseURL)
	if err != nil {
		fatalf("invalid -base: %v", err)
	}
	p := &probe{
		base:    base,
		client:  &http.Client{Timeout: *timeout},
		timeout: *timeout,
		verbose: *verbose,
	}
	root := context.Background()

	if *register {
		p.mustRegister(root, *email, *password)
	}
	p.mustLogin(root, *email, *password)

	tid := strings.TrimSpace(*threadID)
	if tid == "" {
		tid = p.mustCreateThread(root)
	}

	p.mustConnect(root, tid, *origin)
	defer func() { _ = p.conn.Close(websocket.StatusNormalClosure, "bye") }()

	p.mustReadUntil(root, "system joined", func(f frame) bool {
		return f.Type == v1.TypeSystem && f.Event == v1.EventJoined
	})

	p.mustWrite(root, map[string]string{"type": v1.TypePing})
	p.mustReadUntil(root, "pong", func(f frame) bool { return f.Type == v1.TypePong })

	key := fmt.Sprintf("probe-%d", time.Now().UnixNano())
	p.mustWrite(root, map[string]string{
		"type":              v1.TypeChat,
		"content":           *text,
		"client_message_id": key,
	})

	reply := p.mustReadUntil(root, "assistant reply", func(f frame) bool {
		if f.Type == v1.TypeStatus && f.ClientMessageID == key &&
			(f.State == v1.StateFailed || f.State == v1.StateCanceled) {
			fatalf("generation ended with state %q", f.State)
		}
		return f.Type == v1.TypeChat && f.SenderType == "assistant"
	})
	if strings.TrimSpace(reply.Content) == "" {
		fatalf("assistant reply is empty")
	}

	fmt.Printf("OK: thread_id=%s client_message_id=%s reply=%q\n", tid, key, reply.Content)
}

func validateBaseURL(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimRight(strings.TrimSpace(raw), "/"))
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return nil, errors.New("missing host")
	}
	return u, nil
}

func (p *probe) wsURL(threadID string) string {
	u := *p.base
	u.Scheme = "ws"
	if p.base.Scheme == "https" {
		u.Scheme = "wss"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws/" + url.PathEscape(threadID)
	return u.String()
}

func (p *probe) postJSON(ctx context.Context, path string, body, out any) int {
	b, err := json.Marshal(body)
	if err != nil {
		fatalf("marshal %s: %v", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.base.String()+path, bytes.NewReader(b))
	if err != nil {
		fatalf("request %s: %v", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		fatalf("POST %s: %v", path, err)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxReadBytes))
	if out != nil && resp.StatusCode < 300 {
		if err := json.Unmarshal(data, out); err != nil {
			fatalf("decode %s: %v", path, err)
		}
	}
	if p.verbose {
		fmt.Printf("POST %s -> %d\n", path, resp.StatusCode)
	}
	return resp.StatusCode
}

func (p *probe) mustRegister(ctx context.Context, email, password string) {
	code := p.postJSON(ctx, "/auth/register", map[string]string{"email": email, "password": password}, nil)
	if code != http.StatusCreated && code != http.StatusConflict {
		fatalf("register: status %d", code)
	}
}

func (p *probe) mustLogin(ctx context.Context, email, password string) {
	var out struct {
		AccessToken string `json:"access_token"`
	}
	code := p.postJSON(ctx, "/auth/login", map[string]any{
		"email":    email,
		"password": password,
		"platform": "desktop",
	}, &out)
	if code != http.StatusOK || out.AccessToken == "" {
		fatalf("login: status %d", code)
	}
	p.token = out.AccessToken
}

func (p *probe) mustCreateThread(ctx context.Context) string {
	var out struct {
		Thread struct {
			ID string `json:"id"`
		} `json:"thread"`
	}
	code := p.postJSON(ctx, "/threads", map[string]string{"title": "wsprobe"}, &out)
	if code != http.StatusCreated || out.Thread.ID == "" {
		fatalf("create thread: status %d", code)
	}
	return out.Thread.ID
}

func (p *probe) mustConnect(parent context.Context, threadID, origin string) {
	ctx, cancel := context.WithTimeout(parent, p.timeout)
	defer cancel()

	h := http.Header{}
	h.Set("Authorization", "Bearer "+p.token)
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	conn, resp, err := websocket.Dial(ctx, p.wsURL(threadID), &websocket.DialOptions{
		Subprotocols: []string{subprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		fatalf("connect: status=%d %v", status, err)
	}
	if resp != nil {
		if got := resp.Header.Get("Sec-WebSocket-Protocol"); got != "" && got != subprotocol {
			fatalf("subprotocol mismatch: got=%q want=%q", got, subprotocol)
		}
	}

	conn.SetReadLimit(maxReadBytes)
	p.conn = conn
	p.inbox = make(chan frame, 512)
	p.errCh = make(chan error, 1)
	go p.readLoop()
}

func (p *probe) readLoop() {
	defer close(p.inbox)
	for {
		_, data, err := p.conn.Read(context.Background())
		if err != nil {
			p.errCh <- err
			return
		}
		f := frame{raw: data}
		if err := json.Unmarshal(data, &f); err != nil {
			p.errCh <- fmt.Errorf("bad json: %w", err)
			return
		}
		select {
		case p.inbox <- f:
		default:
			p.errCh <- errors.New("inbox overflow: consumer too slow")
			return
		}
	}
}

func (p *probe) mustWrite(parent context.Context, v any) {
	ctx, cancel := context.WithTimeout(parent, p.timeout)
	defer cancel()

	b, err := json.Marshal(v)
	if err != nil {
		fatalf("marshal frame: %v", err)
	}
	if err := p.conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write failed: %v", err)
	}
	if p.verbose {
		fmt.Printf(">> %s\n", b)
	}
}

func (p *probe) mustReadUntil(parent context.Context, what string, match func(frame) bool) frame {
	ctx, cancel := context.WithTimeout(parent, p.timeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for %s: %v", what, ctx.Err())
		case err := <-p.errCh:
			fatalf("connection error while waiting for %s: %v", what, err)
		case f, ok := <-p.inbox:
			if !ok {
				fatalf("connection closed while waiting for %s", what)
			}
			if p.verbose {
				fmt.Printf("<< %s\n", f.raw)
			}
			if f.Type == v1.TypeError {
				fatalf("server error: code=%q msg=%q", f.Code, f.Message)
			}
			if match(f) {
				return f
			}
		}
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
