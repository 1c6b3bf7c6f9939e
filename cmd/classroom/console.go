package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/pion/webrtc/v3"

	"github.com/zenro-academy/liveclass/internal/classroom"
)

// console prints store changes as they happen.
type console struct {
	mu       sync.Mutex
	out      io.Writer
	chatSeen int
	live     bool
	topic    string
	viewers  int
}

func newConsole(out io.Writer) *console {
	return &console{out: out, viewers: -1}
}

// follow prints the current snapshot and every later change until cancelled.
func (c *console) follow(store *classroom.Store) (cancel func()) {
	c.show(store.Snapshot())
	return store.Subscribe(c.show)
}

func (c *console) show(s classroom.Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if s.IsLive != c.live || (s.IsLive && s.Topic != c.topic) {
		if s.IsLive {
			fmt.Fprintf(c.out, "* LIVE: %s\n", s.Topic)
		} else if c.live {
			fmt.Fprintln(c.out, "* class is offline")
		}
		c.live, c.topic = s.IsLive, s.Topic
	}
	if s.IsLive && s.ViewerCount != c.viewers {
		fmt.Fprintf(c.out, "* viewers: %d\n", s.ViewerCount)
		c.viewers = s.ViewerCount
	}
	for _, e := range s.Chat[min(c.chatSeen, len(s.Chat)):] {
		fmt.Fprintf(c.out, "[%s] %s: %s\n", e.Timestamp.Local().Format("15:04:05"), e.Author, e.Text)
	}
	c.chatSeen = len(s.Chat)
}

func (c *console) printf(format string, args ...interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

// readLines streams trimmed non-empty lines from r. The channel closes on EOF.
func readLines(ctx context.Context, r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
	}()
	return lines
}

func parseKind(s string) (webrtc.RTPCodecType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "audio", "mic":
		return webrtc.RTPCodecTypeAudio, nil
	case "video", "camera", "cam":
		return webrtc.RTPCodecTypeVideo, nil
	}
	return 0, fmt.Errorf("unknown track %q, want audio or video", s)
}

// transcript renders the chat log as "Author: text" lines.
func transcript(chat []classroom.ChatEntry) string {
	var b strings.Builder
	for _, e := range chat {
		fmt.Fprintf(&b, "%s: %s\n", e.Author, e.Text)
	}
	return b.String()
}

type summaryRequest struct {
	Room       string `json:"room"`
	Topic      string `json:"topic"`
	Transcript string `json:"transcript"`
}

type summaryResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Data    struct {
		JobID   string `json:"job_id"`
		Summary string `json:"summary"`
	} `json:"data"`
}

// requestSummary posts the class transcript to the summaries endpoint and
// returns a line describing the outcome.
func requestSummary(ctx context.Context, url, room string, snap classroom.Snapshot) (string, error) {
	body, err := json.Marshal(summaryRequest{Room: room, Topic: snap.Topic, Transcript: transcript(snap.Chat)})
	if err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("post summary: %w", err)
	}
	defer resp.Body.Close()

	var out summaryResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("summary response status %d: %w", resp.StatusCode, err)
	}
	if !out.Success {
		return "", errors.New(out.Error)
	}
	if out.Data.JobID != "" {
		return "summary scheduled: " + out.Data.JobID, nil
	}
	return out.Data.Summary, nil
}
