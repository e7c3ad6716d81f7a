package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/imtompeel/swiftToHear-sub002/internal/domain/session"
)

type sessionFrame struct {
	session.Session
	Deleted bool `json:"deleted"`
}

// WatchSession calls onChange with the current session document and every later
// version until ctx is done. When the session is torn down onChange gets nil and
// WatchSession returns nil.
func (c *Client) WatchSession(ctx context.Context, sessionID string, onChange func(*session.Session)) error {
	conn, resp, err := c.Dialer.DialContext(ctx, c.wsURL("/sessions/"+url.PathEscape(sessionID)+"/events"), nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("watching session %s: status %s", sessionID, resp.Status)
		}
		return fmt.Errorf("watching session %s: %w", sessionID, err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("reading session %s: %w", sessionID, err)
		}
		var frame sessionFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			return fmt.Errorf("decoding session %s: %w", sessionID, err)
		}
		if frame.Deleted {
			onChange(nil)
			return nil
		}
		sess := frame.Session
		onChange(&sess)
	}
}
