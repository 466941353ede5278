// Package main provides a CI-friendly smoke test for the chatline presence socket.
//
// It validates:
//   - handshake with a bearer credential (auth -> auth_success)
//   - heartbeat (ping -> pong)
//   - get_statuses answered by user_status / contacts_statuses for every requested id
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	v1 "chatline/shared/contracts/presence/v1"

	"github.com/coder/websocket"
)

const maxReadBytes = 64 << 10 // 64KiB

type smokeClient struct {
	conn  *websocket.Conn
	inbox chan v1.Message
	errCh chan error
}

func main() {
	var (
		wsURL   = flag.String("url", "ws://127.0.0.1:3000/ws", "presence WebSocket URL")
		origin  = flag.String("origin", "", "Origin header to send (browser-like WS handshake)")
		cred    = flag.String("token", os.Getenv("CHATLINE_TOKEN"), "bearer credential (default $CHATLINE_TOKEN)")
		ids     = flag.String("ids", "", "comma-separated user ids to query")
		timeout = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateWSURL(*wsURL); err != nil {
		fatalf("invalid -url: %v", err)
	}
	if strings.TrimSpace(*cred) == "" {
		fatalf("missing -token")
	}
	userIDs, err := parseIDs(*ids)
	if err != nil {
		fatalf("invalid -ids: %v", err)
	}

	root := context.Background()

	c := mustConnect(root, *wsURL, *origin, *timeout)
	defer closeWS(c.conn)

	mustWrite(root, c.conn, v1.Auth{Token: *cred}, *timeout)
	c.mustReadUntil(root, v1.TypeAuthSuccess, *timeout)
	if *verbose {
		fmt.Println("handshake: auth_success")
	}

	start := time.Now()
	mustWrite(root, c.conn, v1.Ping{}, *timeout)
	c.mustReadUntil(root, v1.TypePong, *timeout)
	if *verbose {
		fmt.Printf("heartbeat: pong after %s\n", time.Since(start).Round(time.Millisecond))
	}

	if len(userIDs) == 0 {
		fmt.Println("OK: handshake + heartbeat")
		return
	}

	mustWrite(root, c.conn, v1.GetStatuses{UserIDs: userIDs}, *timeout)
	got := c.mustCollectStatuses(root, userIDs, *timeout)

	keys := make([]int64, 0, len(got))
	for id := range got {
		keys = append(keys, id)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	parts := make([]string, 0, len(keys))
	for _, id := range keys {
		parts = append(parts, fmt.Sprintf("%d=%s", id, got[id].Status))
	}
	fmt.Printf("OK: %s\n", strings.Join(parts, " "))
}

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	return nil
}

func parseIDs(csv string) ([]int64, error) {
	var out []int64
	for _, part := range strings.Split(csv, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.ParseInt(part, 10, 64)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("bad user id %q", part)
		}
		out = append(out, n)
	}
	return out, nil
}

func mustConnect(parent context.Context, wsURL, origin string, stepTimeout time.Duration) *smokeClient {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPHeader: h})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("connect: %v", err)
	}
	conn.SetReadLimit(maxReadBytes)

	c := &smokeClient{
		conn:  conn,
		inbox: make(chan v1.Message, 512),
		errCh: make(chan error, 1),
	}
	c.startReadLoop()
	return c
}

func (c *smokeClient) startReadLoop() {
	report := func(err error) {
		select {
		case c.errCh <- err:
		default:
		}
	}

	go func() {
		defer close(c.inbox)

		for {
			mt, data, err := c.conn.Read(context.Background())
			if err != nil {
				report(err)
				return
			}
			if mt != websocket.MessageText {
				report(fmt.Errorf("unsupported message type: %v", mt))
				return
			}

			msg, err := v1.Decode(data)
			if err != nil {
				report(fmt.Errorf("bad frame %q: %w", data, err))
				return
			}

			select {
			case c.inbox <- msg:
			default:
				report(errors.New("inbox overflow: consumer too slow"))
				return
			}
		}
	}()
}

// next returns the next inbound message or fails the run.
func (c *smokeClient) next(ctx context.Context, waitingFor string) v1.Message {
	select {
	case <-ctx.Done():
		fatalf("timeout waiting for %s: %v", waitingFor, ctx.Err())
	case err := <-c.errCh:
		fatalf("connection error while waiting for %s: %v", waitingFor, err)
	case msg, ok := <-c.inbox:
		if !ok {
			fatalf("connection closed while waiting for %s", waitingFor)
		}
		if ae, isErr := msg.(v1.AuthError); isErr {
			fatalf("server rejected handshake: %q", ae.Reason)
		}
		return msg
	}
	return nil
}

// mustReadUntil skips unrelated frames (pushed statuses, server pings) until wantType arrives.
func (c *smokeClient) mustReadUntil(parent context.Context, wantType string, stepTimeout time.Duration) v1.Message {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		msg := c.next(ctx, strconv.Quote(wantType))
		if msg.Type() == wantType {
			return msg
		}
		if _, ok := msg.(v1.Ping); ok {
			mustWrite(parent, c.conn, v1.Pong{}, stepTimeout)
		}
	}
}

func (c *smokeClient) mustCollectStatuses(parent context.Context, ids []int64, stepTimeout time.Duration) map[int64]v1.StatusRecord {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	want := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	got := make(map[int64]v1.StatusRecord, len(ids))

	record := func(r v1.StatusRecord) {
		if err := r.Validate(); err != nil {
			fatalf("invalid status record %+v: %v", r, err)
		}
		got[r.UserID] = r
	}

	for {
		missing := 0
		for id := range want {
			if _, ok := got[id]; !ok {
				missing++
			}
		}
		if missing == 0 {
			return got
		}

		switch m := c.next(ctx, fmt.Sprintf("%d status(es)", missing)).(type) {
		case v1.UserStatus:
			record(m.StatusRecord)
		case v1.ContactsStatuses:
			for _, r := range m.Statuses {
				record(r)
			}
		case v1.Ping:
			mustWrite(parent, c.conn, v1.Pong{}, stepTimeout)
		}
	}
}

func mustWrite(parent context.Context, conn *websocket.Conn, m v1.Message, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	b, err := v1.Encode(m)
	if err != nil {
		fatalf("encode %s: %v", m.Type(), err)
	}
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write %s failed: %v", m.Type(), err)
	}
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
