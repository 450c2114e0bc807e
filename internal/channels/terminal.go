package channels

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/piyushgupta53/featherbot-sub000/internal/bus"
)

// TerminalChannel is the interactive stdin/stdout surface: every line
// typed becomes an inbound message, outbound replies are printed.
type TerminalChannel struct {
	AllowAll
	bus    *bus.MessageBus
	in     io.Reader
	out    io.Writer
	chatID string
	cancel context.CancelFunc
	done   chan struct{}
}

// NewTerminalChannel creates a terminal channel on stdin/stdout.
func NewTerminalChannel(b *bus.MessageBus) *TerminalChannel {
	return &TerminalChannel{bus: b, in: os.Stdin, out: os.Stdout, chatID: "terminal"}
}

func (c *TerminalChannel) Name() string { return "terminal" }

// Start launches the read loop.
func (c *TerminalChannel) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.readLoop(ctx)
	fmt.Fprintln(c.out, "featherbot ready. Type a message, Ctrl-C to quit.")
	return nil
}

func (c *TerminalChannel) readLoop(ctx context.Context) {
	defer close(c.done)
	scanner := bufio.NewScanner(c.in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		c.bus.PublishInbound(bus.InboundMessage{
			MessageID: uuid.NewString(),
			Channel:   c.Name(),
			SenderID:  "terminal",
			ChatID:    c.chatID,
			Content:   line,
			Timestamp: time.Now(),
		})
	}
}

// Stop ends the read loop. The blocking stdin read exits with the
// process; Stop only waits briefly.
func (c *TerminalChannel) Stop(ctx context.Context) error {
	if c.cancel != nil {
		c.cancel()
	}
	select {
	case <-c.done:
	case <-ctx.Done():
	case <-time.After(200 * time.Millisecond):
	}
	return nil
}

// Send prints the reply. Batched-empty outbounds are skipped; there is
// no typing indicator to clear on a terminal.
func (c *TerminalChannel) Send(_ context.Context, msg bus.OutboundMessage) error {
	if strings.TrimSpace(msg.Content) == "" {
		return nil
	}
	_, err := fmt.Fprintf(c.out, "\n%s\n\n", msg.Content)
	return err
}
