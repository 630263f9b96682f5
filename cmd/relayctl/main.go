// Command relayctl is an interactive client for the signaling relay.
//
// Each stdin line is sent as one message: a JSON object is sent as-is, any
// other text is wrapped as {"text": line}, and "/end" sends {"end": true}
// and exits once the relay closes the connection. Messages from other peers
// are printed to stdout.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/signaling-relay/backend/internal/discovery"
	"github.com/sirupsen/logrus"
)

const (
	endCommand = "/end"
	endWait    = 5 * time.Second
)

func main() {
	url := flag.String("url", "ws://localhost:8080/ws", "relay WebSocket URL")
	discover := flag.Bool("discover", false, "find a relay on the local network via mDNS")
	discoverTimeout := flag.Duration("discover-timeout", 3*time.Second, "how long to browse for relays")
	flag.Parse()

	if *discover {
		relays, err := discovery.Browse(*discoverTimeout)
		if err != nil {
			logrus.Fatalf("Discovery failed: %v", err)
		}
		if len(relays) == 0 {
			logrus.Fatalf("No relay found on the local network")
		}
		for _, r := range relays {
			fmt.Fprintf(os.Stderr, "found %s at %s\n", r.Name, r.URL())
		}
		*url = relays[0].URL()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *url, os.Stdin, os.Stdout, os.Stderr); err != nil {
		logrus.Fatalf("relayctl: %v", err)
	}
}

// outbound is one message built from a line of input.
type outbound struct {
	raw   []byte
	value any
	end   bool
}

// parseLine turns a line of input into a message. Blank lines yield false.
func parseLine(line string) (outbound, bool) {
	trimmed := strings.TrimSpace(line)
	switch {
	case trimmed == "":
		return outbound{}, false
	case trimmed == endCommand:
		return outbound{value: map[string]bool{"end": true}, end: true}, true
	case strings.HasPrefix(trimmed, "{"):
		var obj map[string]json.RawMessage
		if json.Unmarshal([]byte(trimmed), &obj) == nil {
			return outbound{raw: []byte(trimmed)}, true
		}
	}
	return outbound{value: map[string]string{"text": line}}, true
}

func (m outbound) write(ctx context.Context, conn *websocket.Conn) error {
	if m.raw != nil {
		return conn.Write(ctx, websocket.MessageText, m.raw)
	}
	return wsjson.Write(ctx, conn, m.value)
}

// run relays stdin lines to url and prints inbound messages to out until
// stdin is exhausted, an end message is acknowledged or ctx is done.
// Connection status goes to status.
func run(ctx context.Context, url string, in io.Reader, out, status io.Writer) error {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", url, err)
	}
	defer conn.CloseNow()

	fmt.Fprintf(status, "connected to %s, type %s to leave\n", url, endCommand)

	readErr := make(chan error, 1)
	go func() {
		readErr <- readLoop(ctx, conn, out)
	}()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return conn.Close(websocket.StatusNormalClosure, "")

		case err := <-readErr:
			return err

		case line, ok := <-lines:
			if !ok {
				return conn.Close(websocket.StatusNormalClosure, "")
			}
			msg, ok := parseLine(line)
			if !ok {
				continue
			}
			if err := msg.write(ctx, conn); err != nil {
				return fmt.Errorf("send: %w", err)
			}
			if msg.end {
				// The relay closes the connection after relaying the end message
				select {
				case err := <-readErr:
					return err
				case <-time.After(endWait):
					return conn.Close(websocket.StatusNormalClosure, "")
				}
			}
		}
	}
}

// readLoop prints every inbound message until the connection closes.
// A normal closure is not an error.
func readLoop(ctx context.Context, conn *websocket.Conn, out io.Writer) error {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
		fmt.Fprintln(out, string(data))
	}
}
