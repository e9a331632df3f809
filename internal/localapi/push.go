package localapi

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"tools.zach/dev/matchscope/internal/presence"
)

// ///////////////////////////////////////////////
// Push Socket
// ///////////////////////////////////////////////

// PushListener subscribes to the client's local event socket and turns
// presence events into phase hints the session loop reads at each tick
// boundary. The hint is advisory: the loop treats it as a reason to check,
// never as ground truth, so a dead or lagging socket only costs latency.
type PushListener struct {
	wsURL    string
	password string

	mu sync.Mutex
	// hint is the most recent phase derived from a pushed presence event.
	hint presence.Phase
	// hintAt timestamps the hint so the loop can ignore stale ones.
	hintAt time.Time

	done chan struct{}
	once sync.Once
}

// NewPushListener creates a listener for the client described by lf. Run
// must be called to start it.
func NewPushListener(lf Lockfile) *PushListener {
	return &PushListener{
		wsURL:    websocketURL(localURLFor(lf)),
		password: lf.Password,
		done:     make(chan struct{}),
	}
}

func localURLFor(lf Lockfile) string {
	return fmt.Sprintf("%s://127.0.0.1:%d", lf.Protocol, lf.Port)
}

// Hint returns the latest pushed phase and its age. Phase is PhaseUnknown
// when no event has arrived yet.
func (p *PushListener) Hint() (presence.Phase, time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.hint == presence.PhaseUnknown {
		return presence.PhaseUnknown, 0
	}
	return p.hint, time.Since(p.hintAt)
}

// TakeHint returns the latest hint as Hint does, then clears it, so each
// pushed event prompts at most one off-cadence check.
func (p *PushListener) TakeHint() (presence.Phase, time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.hint == presence.PhaseUnknown {
		return presence.PhaseUnknown, 0
	}
	hint, age := p.hint, time.Since(p.hintAt)
	p.hint = presence.PhaseUnknown
	return hint, age
}

// Run connects and consumes events until ctx ends or Close is called,
// reconnecting with a flat delay after any failure. It blocks; callers run
// it in a goroutine.
func (p *PushListener) Run(ctx context.Context, log *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.done:
			return
		default:
		}
		if err := p.consume(ctx, log); err != nil {
			log.Debug("push socket disconnected", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-p.done:
			return
		case <-time.After(2 * time.Second):
		}
	}
}

// Close stops Run.
func (p *PushListener) Close() {
	p.once.Do(func() { close(p.done) })
}

// consume holds one socket connection for its lifetime.
func (p *PushListener) consume(ctx context.Context, log *slog.Logger) error {
	dialer := websocket.Dialer{
		TLSClientConfig:  &tls.Config{InsecureSkipVerify: true},
		HandshakeTimeout: 5 * time.Second,
	}
	header := http.Header{}
	header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte("riot:"+p.password)))

	conn, _, err := dialer.DialContext(ctx, p.wsURL, header)
	if err != nil {
		return err
	}
	defer conn.Close()

	// Subscribe to presence events; the socket speaks the wamp-style
	// [opcode, topic] array protocol.
	if err := conn.WriteJSON([]any{5, "OnJsonApiEvent_chat_v4_presences"}); err != nil {
		return err
	}
	log.Debug("push socket subscribed")

	gone := make(chan struct{})
	defer close(gone)
	go func() {
		select {
		case <-ctx.Done():
		case <-p.done:
		case <-gone:
			return
		}
		conn.Close()
	}()

	for {
		var frame []json.RawMessage
		if err := conn.ReadJSON(&frame); err != nil {
			return err
		}
		// Event frames are [8, topic, payload]; anything else is an ack.
		if len(frame) != 3 {
			continue
		}
		var payload struct {
			Data struct {
				Presences []struct {
					Product string `json:"product"`
					Private string `json:"private"`
				} `json:"presences"`
			} `json:"data"`
		}
		if err := json.Unmarshal(frame[2], &payload); err != nil {
			continue
		}
		for _, pres := range payload.Data.Presences {
			if pres.Product != "valorant" {
				continue
			}
			priv := presence.Decode(pres.Private)
			if priv.Phase == presence.PhaseUnknown {
				continue
			}
			p.mu.Lock()
			p.hint = priv.Phase
			p.hintAt = time.Now()
			p.mu.Unlock()
		}
	}
}
