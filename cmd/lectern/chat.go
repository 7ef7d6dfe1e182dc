package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/xiaot623/lectern/internal/segment"
	"github.com/xiaot623/lectern/internal/transport/ws"
)

// chatClient talks to a running server over the WebSocket API.
type chatClient struct {
	conn      *websocket.Conn
	sessionID string
	videoID   string
	out       io.Writer

	writeMu sync.Mutex
	done    chan struct{}
}

func dialChat(addr, sessionID, videoID string, out io.Writer) (*chatClient, error) {
	u, err := url.Parse(addr)
	if err != nil {
		return nil, fmt.Errorf("parse address: %w", err)
	}
	if sessionID != "" {
		q := u.Query()
		q.Set("session_id", sessionID)
		u.RawQuery = q.Encode()
	}

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	return &chatClient{
		conn:      conn,
		sessionID: sessionID,
		videoID:   videoID,
		out:       out,
		done:      make(chan struct{}),
	}, nil
}

func (c *chatClient) Close() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return c.conn.Close()
}

func (c *chatClient) base(msgType string) ws.BaseMessage {
	return ws.BaseMessage{
		Type:      msgType,
		Ts:        time.Now().UnixMilli(),
		RequestID: "req_" + uuid.New().String()[:8],
		SessionID: c.sessionID,
		VideoID:   c.videoID,
	}
}

func (c *chatClient) send(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(v)
}

// hello binds the connection to a session and waits for the ack.
func (c *chatClient) hello() error {
	if err := c.send(ws.HelloMessage{BaseMessage: c.base(ws.TypeHello)}); err != nil {
		return fmt.Errorf("write hello: %w", err)
	}

	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("read hello_ack: %w", err)
	}
	var base ws.BaseMessage
	if err := json.Unmarshal(data, &base); err != nil {
		return fmt.Errorf("unmarshal hello_ack: %w", err)
	}
	if base.Type == ws.TypeError {
		var errMsg ws.ErrorMessage
		_ = json.Unmarshal(data, &errMsg)
		return fmt.Errorf("hello failed: %s - %s", errMsg.Code, errMsg.Message)
	}
	if base.Type != ws.TypeHelloAck {
		return fmt.Errorf("expected hello_ack, got: %s", base.Type)
	}
	c.sessionID = base.SessionID
	return nil
}

// handleInput turns one line of input into a request. Lines starting with
// /predict or /pause take a timestamp; anything else is a question.
func (c *chatClient) handleInput(line string, pauseAt *float64) error {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/predict", "/pause":
		if len(fields) != 2 {
			return fmt.Errorf("usage: %s <timestamp>", fields[0])
		}
		t, err := parseTimestamp(fields[1])
		if err != nil {
			return err
		}
		if fields[0] == "/pause" {
			*pauseAt = t
			return c.send(ws.PauseMessage{BaseMessage: c.base(ws.TypePause), Timestamp: t})
		}
		return c.send(ws.PredictMessage{BaseMessage: c.base(ws.TypePredict), Timestamp: t})
	}

	msg := ws.ChatMessage{BaseMessage: c.base(ws.TypeChat), Message: line}
	if *pauseAt >= 0 {
		t := *pauseAt
		msg.PauseTimestamp = &t
	}
	return c.send(msg)
}

// readLoop prints server frames until the connection closes.
func (c *chatClient) readLoop() {
	defer close(c.done)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				fmt.Fprintf(c.out, "\nconnection closed: %v\n", err)
			}
			return
		}
		c.render(data)
	}
}

func (c *chatClient) render(data []byte) {
	var base ws.BaseMessage
	if err := json.Unmarshal(data, &base); err != nil {
		fmt.Fprintf(c.out, "\nunreadable frame: %v\n", err)
		return
	}

	switch base.Type {
	case ws.TypeDelta:
		var frame ws.TurnFrame
		_ = json.Unmarshal(data, &frame)
		fmt.Fprint(c.out, frame.Text)
	case ws.TypeCitations:
		var frame ws.TurnFrame
		_ = json.Unmarshal(data, &frame)
		fmt.Fprintln(c.out)
		for _, cite := range frame.Citations {
			fmt.Fprintf(c.out, "  [%s-%s] %s\n", segment.FormatClock(cite.StartTime), segment.FormatClock(cite.EndTime), cite.Text)
		}
	case ws.TypeDone:
		var frame ws.TurnFrame
		_ = json.Unmarshal(data, &frame)
		if frame.Degraded {
			fmt.Fprintln(c.out, "(degraded answer)")
		}
		fmt.Fprint(c.out, "> ")
	case ws.TypePredictions:
		var msg ws.PredictionsMessage
		_ = json.Unmarshal(data, &msg)
		fmt.Fprintf(c.out, "\nLikely questions at %s:\n", segment.FormatClock(msg.Timestamp))
		for _, q := range msg.Questions {
			fmt.Fprintf(c.out, "  - %s\n", q.Text)
		}
		fmt.Fprint(c.out, "> ")
	case ws.TypePauseContext:
		var msg ws.PauseContextMessage
		_ = json.Unmarshal(data, &msg)
		if msg.Context != nil {
			fmt.Fprintf(c.out, "\nPaused in %s-%s", segment.FormatClock(msg.Context.WindowStart), segment.FormatClock(msg.Context.WindowEnd))
			if msg.Context.DominantTopic != "" {
				fmt.Fprintf(c.out, " (topic: %s)", msg.Context.DominantTopic)
			}
			fmt.Fprintln(c.out)
		}
		fmt.Fprint(c.out, "> ")
	case ws.TypeError:
		var msg ws.ErrorMessage
		_ = json.Unmarshal(data, &msg)
		fmt.Fprintf(c.out, "\nerror: %s - %s\n> ", msg.Code, msg.Message)
	}
}

func newChatCommand() *cobra.Command {
	var addr, sessionID string

	cmd := &cobra.Command{
		Use:   "chat <video>",
		Short: "Chat about a video with a running lectern server",
		Long: `Chat about a video with a running lectern server.

Type a question and press Enter. "/pause <t>" records a pause and anchors
following questions there, "/predict <t>" lists likely questions, and
"/quit" exits.`,
		Args:        cobra.ExactArgs(1),
		Annotations: map[string]string{skipConfigAnnotation: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			videoID, err := resolveVideoID(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			fmt.Fprintf(out, "Connecting to %s...\n", addr)
			client, err := dialChat(addr, sessionID, videoID, out)
			if err != nil {
				return err
			}
			defer client.Close()

			if err := client.hello(); err != nil {
				return err
			}
			fmt.Fprintf(out, "Session established: %s\n", client.sessionID)
			fmt.Fprintln(out, "Commands: /pause <t>, /predict <t>, /quit")
			fmt.Fprint(out, "> ")

			go client.readLoop()

			lines := make(chan string)
			go func() {
				defer close(lines)
				scanner := bufio.NewScanner(cmd.InOrStdin())
				for scanner.Scan() {
					lines <- scanner.Text()
				}
			}()

			pauseAt := -1.0
			for {
				select {
				case <-cmd.Context().Done():
					return nil
				case <-client.done:
					return nil
				case line, ok := <-lines:
					if !ok {
						return nil
					}
					line = strings.TrimSpace(line)
					if line == "" {
						fmt.Fprint(out, "> ")
						continue
					}
					if line == "/quit" {
						fmt.Fprintln(out, "Bye!")
						return nil
					}
					if err := client.handleInput(line, &pauseAt); err != nil {
						fmt.Fprintf(out, "%v\n> ", err)
					}
				}
			}
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "ws://localhost:8080/v1/ws", "WebSocket server address")
	cmd.Flags().StringVar(&sessionID, "session", "", "Session to resume")
	return cmd
}
