package llm

import (
	"bufio"
	"context"
	"io"
	"strings"
)

// SSEEvent is one server-sent event frame.
type SSEEvent struct {
	Event string
	Data  []byte
}

// ParseSSE reads server-sent events from r and invokes fn for each frame.
// It returns ctx.Err() once the context is cancelled mid-read, the first
// error fn returns, or nil at end of stream.
func ParseSSE(ctx context.Context, r io.Reader, fn func(ev SSEEvent) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)

	var event string
	var data strings.Builder

	flush := func() error {
		if data.Len() == 0 && event == "" {
			return nil
		}
		ev := SSEEvent{Event: event, Data: []byte(data.String())}
		event = ""
		data.Reset()
		return fn(ev)
	}

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		line := scanner.Text()
		switch {
		case line == "":
			if err := flush(); err != nil {
				return err
			}
		case strings.HasPrefix(line, ":"):
			// Comment/keepalive frame.
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return flush()
}
