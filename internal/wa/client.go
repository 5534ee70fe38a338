package wa

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"gowa-hub/internal/core"
	"gowa-hub/internal/helper"

	"github.com/rs/zerolog"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
)

// Client adapts a whatsmeow client to core.ProtocolClient. Whatsmeow drives
// its own websocket and keepalive; this adapter owns translating its callback
// events into the bounded channel the supervisor consumes, and disabling
// whatsmeow's built-in auto-reconnect so the supervisor's backoff policy is
// the only reconnect path.
type Client struct {
	wm  *whatsmeow.Client
	log zerolog.Logger

	events  chan core.ClientEvent
	dropped atomic.Uint64

	mu     sync.Mutex
	connCh chan struct{} // closed once the session is authenticated
}

func newClient(wm *whatsmeow.Client, log zerolog.Logger) *Client {
	c := &Client{
		wm:     wm,
		log:    log,
		events: make(chan core.ClientEvent, 128),
		connCh: make(chan struct{}),
	}
	wm.EnableAutoReconnect = false
	wm.AddEventHandler(c.handleEvent)
	return c
}

func (c *Client) HasCredentials() bool {
	return c.wm.Store.ID != nil
}

// Connect establishes the transport and waits for authentication to finish.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	c.connCh = make(chan struct{})
	ch := c.connCh
	c.mu.Unlock()

	if err := c.wm.Connect(); err != nil {
		return err
	}

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		c.wm.Disconnect()
		return ctx.Err()
	}
}

func (c *Client) Disconnect() {
	c.wm.Disconnect()
}

func (c *Client) Logout(ctx context.Context) error {
	return c.wm.Logout(ctx)
}

// Pair requests a QR channel, connects, and streams challenge codes until
// the phone scans one or the handshake dies.
func (c *Client) Pair(ctx context.Context) (<-chan core.PairingResult, error) {
	qrChan, err := c.wm.GetQRChannel(ctx)
	if err != nil {
		return nil, err
	}
	if err := c.wm.Connect(); err != nil {
		return nil, err
	}

	out := make(chan core.PairingResult, 4)
	go func() {
		defer close(out)
		for evt := range qrChan {
			switch {
			case evt.Event == "code":
				out <- core.PairingResult{
					Code:      evt.Code,
					ExpiresAt: time.Now().UTC().Add(evt.Timeout),
				}
			case evt.Event == "success":
				res := core.PairingResult{Done: true}
				if c.wm.Store.ID != nil {
					res.Cred = []byte(c.wm.Store.ID.String())
				}
				out <- res
				return
			case evt.Event == "timeout":
				out <- core.PairingResult{Err: core.ErrPairingTimeout}
				return
			default:
				out <- core.PairingResult{Err: fmt.Errorf("pairing aborted: %s", evt.Event)}
				return
			}
		}
	}()
	return out, nil
}

// SendText resolves the target (phone number or full JID, including group
// JIDs) and sends a plain text message.
func (c *Client) SendText(ctx context.Context, target, content string) (string, error) {
	jid, err := resolveTarget(target)
	if err != nil {
		return "", err
	}
	msg := &waE2E.Message{Conversation: &content}
	resp, err := c.wm.SendMessage(ctx, jid, msg)
	if err != nil {
		return "", err
	}
	return string(resp.ID), nil
}

// CheckTarget reports whether a phone-number recipient is registered on the
// network. Full JID targets (groups included) are assumed deliverable.
func (c *Client) CheckTarget(ctx context.Context, target string) (bool, error) {
	if strings.ContainsRune(target, '@') {
		return true, nil
	}
	jid, err := helper.FormatPhoneNumber(target)
	if err != nil {
		return false, err
	}
	resp, err := c.wm.IsOnWhatsApp(ctx, []string{jid.User})
	if err != nil {
		return false, err
	}
	return len(resp) > 0 && resp[0].IsIn, nil
}

func (c *Client) Events() <-chan core.ClientEvent {
	return c.events
}

// Dropped returns how many transport events were discarded because the
// supervisor fell behind.
func (c *Client) Dropped() uint64 {
	return c.dropped.Load()
}

func resolveTarget(target string) (types.JID, error) {
	if strings.ContainsRune(target, '@') {
		return types.ParseJID(target)
	}
	return helper.FormatPhoneNumber(target)
}

func (c *Client) handleEvent(raw interface{}) {
	switch evt := raw.(type) {
	case *events.Connected:
		c.mu.Lock()
		select {
		case <-c.connCh:
		default:
			close(c.connCh)
		}
		c.mu.Unlock()

		jid := ""
		if c.wm.Store.ID != nil {
			jid = c.wm.Store.ID.String()
		}
		c.emit(core.ClientEvent{Kind: core.ClientConnected, JID: jid})
		// The device identity is the resumable credential; hand it to the
		// supervisor so the mapping survives restarts.
		if jid != "" {
			c.emit(core.ClientEvent{Kind: core.ClientCredentials, Blob: []byte(jid)})
		}

	case *events.PairSuccess:
		c.log.Info().Str("jid", evt.ID.String()).Msg("pairing confirmed by remote")

	case *events.LoggedOut:
		c.emit(core.ClientEvent{Kind: core.ClientLoggedOut})

	case *events.StreamReplaced:
		c.log.Warn().Msg("stream replaced by another connection")
		c.emit(core.ClientEvent{Kind: core.ClientDisconnected})

	case *events.Disconnected:
		c.emit(core.ClientEvent{Kind: core.ClientDisconnected})

	case *events.KeepAliveTimeout:
		c.log.Warn().Int("error_count", evt.ErrorCount).Msg("keepalive timeout")

	case *events.Message:
		c.emit(core.ClientEvent{
			Kind: core.ClientMessage,
			Payload: map[string]any{
				"message_id": evt.Info.ID,
				"chat":       evt.Info.Chat.String(),
				"sender":     evt.Info.Sender.String(),
				"push_name":  evt.Info.PushName,
				"text":       extractText(evt),
				"timestamp":  evt.Info.Timestamp.UTC(),
			},
		})

	case *events.Presence:
		payload := map[string]any{
			"from":        evt.From.String(),
			"unavailable": evt.Unavailable,
		}
		if !evt.LastSeen.IsZero() {
			payload["last_seen"] = evt.LastSeen.UTC()
		}
		c.emit(core.ClientEvent{Kind: core.ClientPresence, Payload: payload})
	}
}

func extractText(evt *events.Message) string {
	if text := evt.Message.GetConversation(); text != "" {
		return text
	}
	return evt.Message.GetExtendedTextMessage().GetText()
}

// emit pushes into the bounded event channel without ever blocking the
// whatsmeow callback goroutine. On overflow the oldest pending event is
// dropped and counted.
func (c *Client) emit(ev core.ClientEvent) {
	select {
	case c.events <- ev:
		return
	default:
	}
	select {
	case <-c.events:
		c.dropped.Add(1)
	default:
	}
	select {
	case c.events <- ev:
	default:
		c.dropped.Add(1)
	}
}
