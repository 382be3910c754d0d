// Package devserver is an in-memory remote document store speaking the
// same HTTP + websocket protocol the sync client dials. It exists for
// local development and end-to-end tests; nothing survives a restart.
package devserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/echolabs/echosync/internal/model"
)

// Server holds the in-memory document, activity, and blob collections
// and fans snapshot frames out to websocket subscribers.
type Server struct {
	mu    sync.Mutex
	docs  map[string]map[string]any // echo id -> document fields
	acts  map[string][]model.Activity
	blobs map[string][]byte

	subMu sync.Mutex
	subs  map[*subscriber]bool

	baseURL string
}

type subscriber struct {
	userID string
	dirty  chan struct{}
}

// New creates an empty dev store. baseURL is the externally reachable
// address, used to mint blob URLs (e.g. "http://127.0.0.1:8787").
func New(baseURL string) *Server {
	return &Server{
		docs:    map[string]map[string]any{},
		acts:    map[string][]model.Activity{},
		blobs:   map[string][]byte{},
		subs:    map[*subscriber]bool{},
		baseURL: baseURL,
	}
}

// Handler builds the gin router for the store.
func (s *Server) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(cors.Default())

	v1 := r.Group("/v1")
	{
		v1.GET("/echoes", s.listEchoes)
		v1.PUT("/echoes/:id", s.putEcho)
		v1.DELETE("/echoes/:id", s.deleteEcho)
		v1.GET("/echoes/:id/activities", s.listActivities)
		v1.POST("/echoes/:id/activities", s.putActivity)

		v1.POST("/blobs", s.uploadBlob)
		v1.GET("/blobs/:path", s.getBlob)
		v1.DELETE("/blobs/:path", s.deleteBlob)

		v1.GET("/subscribe", s.subscribe)
	}
	return r
}

// putEcho is a merge write: incoming fields overwrite, fields absent
// from the payload keep their stored values. participantIds is always
// recomputed server-side from ownerId + collaboratorIds.
func (s *Server) putEcho(c *gin.Context) {
	id := c.Param("id")

	var incoming map[string]any
	if err := c.ShouldBindJSON(&incoming); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.mu.Lock()
	doc, ok := s.docs[id]
	if !ok {
		doc = map[string]any{}
		s.docs[id] = doc
	}
	for k, v := range incoming {
		doc[k] = v
	}
	doc["id"] = id
	doc["participantIds"] = participants(doc)
	s.mu.Unlock()

	s.broadcast()
	c.Status(http.StatusNoContent)
}

func (s *Server) deleteEcho(c *gin.Context) {
	id := c.Param("id")

	s.mu.Lock()
	delete(s.docs, id)
	delete(s.acts, id)
	s.mu.Unlock()

	s.broadcast()
	c.Status(http.StatusNoContent)
}

func (s *Server) listEchoes(c *gin.Context) {
	participant := c.Query("participant")

	s.mu.Lock()
	out := make([]map[string]any, 0, len(s.docs))
	for _, doc := range s.docs {
		if participant == "" || contains(participants(doc), participant) {
			out = append(out, doc)
		}
	}
	s.mu.Unlock()

	c.JSON(http.StatusOK, out)
}

func (s *Server) listActivities(c *gin.Context) {
	s.mu.Lock()
	acts := append([]model.Activity(nil), s.acts[c.Param("id")]...)
	s.mu.Unlock()
	c.JSON(http.StatusOK, acts)
}

func (s *Server) putActivity(c *gin.Context) {
	id := c.Param("id")

	var act model.Activity
	if err := c.ShouldBindJSON(&act); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.mu.Lock()
	replaced := false
	for i, cur := range s.acts[id] {
		if cur.ID == act.ID {
			s.acts[id][i] = act
			replaced = true
			break
		}
	}
	if !replaced {
		s.acts[id] = append(s.acts[id], act)
	}
	s.mu.Unlock()

	c.Status(http.StatusNoContent)
}

func (s *Server) uploadBlob(c *gin.Context) {
	name := c.Query("name")
	if name == "" {
		name = "blob"
	}

	data, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	path := uuid.NewString() + "-" + name
	s.mu.Lock()
	s.blobs[path] = data
	s.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{
		"url":  fmt.Sprintf("%s/v1/blobs/%s", s.baseURL, path),
		"path": path,
	})
}

func (s *Server) getBlob(c *gin.Context) {
	s.mu.Lock()
	data, ok := s.blobs[c.Param("path")]
	s.mu.Unlock()

	if !ok {
		c.Status(http.StatusNotFound)
		return
	}
	c.Data(http.StatusOK, "application/octet-stream", data)
}

func (s *Server) deleteBlob(c *gin.Context) {
	s.mu.Lock()
	delete(s.blobs, c.Param("path"))
	s.mu.Unlock()
	c.Status(http.StatusNoContent)
}

// subscribe upgrades to a websocket and pushes one snapshot frame
// immediately, then one per store mutation, for documents visible to
// the user.
func (s *Server) subscribe(c *gin.Context) {
	userID := c.Query("user")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing user"})
		return
	}

	conn, err := websocket.Accept(c.Writer, c.Request, nil)
	if err != nil {
		slog.Warn("websocket accept failed", "err", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	sub := &subscriber{userID: userID, dirty: make(chan struct{}, 1)}
	s.subMu.Lock()
	s.subs[sub] = true
	s.subMu.Unlock()
	defer func() {
		s.subMu.Lock()
		delete(s.subs, sub)
		s.subMu.Unlock()
	}()

	ctx := c.Request.Context()
	for {
		frame := s.snapshotFor(userID)
		writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := wsjson.Write(writeCtx, conn, frame)
		cancel()
		if err != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-sub.dirty:
		}
	}
}

func (s *Server) snapshotFor(userID string) map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()

	echoes := make([]json.RawMessage, 0)
	for _, doc := range s.docs {
		if !contains(participants(doc), userID) {
			continue
		}
		raw, err := json.Marshal(doc)
		if err != nil {
			continue
		}
		echoes = append(echoes, raw)
	}
	return map[string]any{"echoes": echoes}
}

// broadcast marks every subscriber dirty; each connection recomputes
// its own visible snapshot.
func (s *Server) broadcast() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for sub := range s.subs {
		select {
		case sub.dirty <- struct{}{}:
		default: // a pending wakeup already covers this change
		}
	}
}

// participants derives participantIds from ownerId + collaboratorIds.
func participants(doc map[string]any) []string {
	seen := map[string]bool{}
	var out []string
	if owner, ok := doc["ownerId"].(string); ok && owner != "" {
		seen[owner] = true
		out = append(out, owner)
	}
	if collabs, ok := doc["collaboratorIds"].([]any); ok {
		for _, v := range collabs {
			id, ok := v.(string)
			if !ok || id == "" || seen[id] {
				continue
			}
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
