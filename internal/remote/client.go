package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/echolabs/echosync/internal/model"
)

// Client talks to a remote document store over HTTP (writes) and
// websocket (snapshot subscription). It imposes no timeout or retry
// policy of its own beyond the subscription reconnect loop; per-call
// deadlines come from the caller's context.
type Client struct {
	base string
	hc   *http.Client
}

// NewClient creates a client for the store at baseURL
// (e.g. "http://localhost:8787"). A nil httpClient uses
// http.DefaultClient.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{base: strings.TrimRight(baseURL, "/"), hc: httpClient}
}

// PutEcho merge-writes the document keyed by its id.
func (c *Client) PutEcho(ctx context.Context, doc Document) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("put echo: marshal: %w", err)
	}
	return c.do(ctx, http.MethodPut, "/v1/echoes/"+url.PathEscape(doc.ID), "application/json", bytes.NewReader(body), nil)
}

// DeleteEcho removes the document keyed by echoID. Deleting an unknown
// id is not an error; at-least-once replay makes repeats normal.
func (c *Client) DeleteEcho(ctx context.Context, echoID string) error {
	return c.do(ctx, http.MethodDelete, "/v1/echoes/"+url.PathEscape(echoID), "", nil, nil)
}

// Activities fetches the echo's remote activity subcollection.
func (c *Client) Activities(ctx context.Context, echoID string) ([]model.Activity, error) {
	var acts []model.Activity
	err := c.do(ctx, http.MethodGet, "/v1/echoes/"+url.PathEscape(echoID)+"/activities", "", nil, &acts)
	if err != nil {
		return nil, err
	}
	return acts, nil
}

// PutActivity appends one entry to the echo's remote activity
// subcollection.
func (c *Client) PutActivity(ctx context.Context, echoID string, act model.Activity) error {
	body, err := json.Marshal(act)
	if err != nil {
		return fmt.Errorf("put activity: marshal: %w", err)
	}
	return c.do(ctx, http.MethodPost, "/v1/echoes/"+url.PathEscape(echoID)+"/activities", "application/json", bytes.NewReader(body), nil)
}

// UploadBlob streams bytes to the remote blob store and returns the
// resulting reference.
func (c *Client) UploadBlob(ctx context.Context, name, contentType string, r io.Reader) (BlobRef, error) {
	var ref BlobRef
	path := "/v1/blobs?name=" + url.QueryEscape(name)
	if err := c.do(ctx, http.MethodPost, path, contentType, r, &ref); err != nil {
		return BlobRef{}, err
	}
	return ref, nil
}

// DeleteBlob removes uploaded bytes by storage path.
func (c *Client) DeleteBlob(ctx context.Context, path string) error {
	return c.do(ctx, http.MethodDelete, "/v1/blobs/"+url.PathEscape(path), "", nil, nil)
}

func (c *Client) do(ctx context.Context, method, path, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%s %s: decode response: %w", method, path, err)
		}
	}
	return nil
}

// snapshotFrame is one websocket message: the full visible document
// set for the subscribed user. Documents travel raw so each can be
// schema-validated independently.
type snapshotFrame struct {
	Echoes []json.RawMessage `json:"echoes"`
}

// Subscribe dials the store's snapshot channel for userID and invokes
// fn with every delivered snapshot. Invalid documents within a
// snapshot are skipped with a warning. The connection is re-dialed
// with backoff until the context is cancelled or the returned cancel
// is called; a failed delivery simply waits for the next snapshot.
func (c *Client) Subscribe(ctx context.Context, userID string, fn SnapshotFunc) (CancelFunc, error) {
	if userID == "" {
		return nil, fmt.Errorf("subscribe: empty user id")
	}

	subCtx, cancel := context.WithCancel(ctx)
	wsURL := httpToWS(c.base) + "/v1/subscribe?user=" + url.QueryEscape(userID)

	go func() {
		backoff := time.Second
		for subCtx.Err() == nil {
			if err := c.readSnapshots(subCtx, wsURL, fn); err != nil && subCtx.Err() == nil {
				slog.Warn("snapshot channel closed, reconnecting",
					"user", userID, "backoff", backoff, "err", err)
			}
			select {
			case <-subCtx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
		}
	}()

	return CancelFunc(cancel), nil
}

func (c *Client) readSnapshots(ctx context.Context, wsURL string, fn SnapshotFunc) error {
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial snapshot channel: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	for {
		var frame snapshotFrame
		if err := wsjson.Read(ctx, conn, &frame); err != nil {
			return fmt.Errorf("read snapshot: %w", err)
		}

		docs := make([]Document, 0, len(frame.Echoes))
		for _, raw := range frame.Echoes {
			doc, err := DecodeDocument(raw)
			if err != nil {
				slog.Warn("skipping invalid remote document", "err", err)
				continue
			}
			docs = append(docs, doc)
		}
		fn(docs)
	}
}

func httpToWS(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base
}

var _ Store = (*Client)(nil)
