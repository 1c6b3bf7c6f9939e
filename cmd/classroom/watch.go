package main

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/zenro-academy/liveclass/internal/classroom"
	"github.com/zenro-academy/liveclass/internal/rtc"
)

type watchOptions struct {
	name        string
	statsPeriod time.Duration
}

func newWatchCmd(opts *options) *cobra.Command {
	w := &watchOptions{}
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Join the class as a viewer and report received media",
		Long: `Join the class as a viewer and report received media.

The viewer joins by itself whenever the class is live. Lines read from stdin
are sent as chat. Commands:
  /join    reconnect to the broadcast
  /leave   drop the connection
  /quit    exit (EOF does the same)`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd, opts, w)
		},
	}
	cmd.Flags().StringVar(&w.name, "name", "Student", "chat display name")
	cmd.Flags().DurationVar(&w.statsPeriod, "stats", 5*time.Second, "how often to print receive stats (0 disables)")
	return cmd
}

func runWatch(cmd *cobra.Command, opts *options, w *watchOptions) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	client, closeClient, err := opts.connect(ctx)
	if err != nil {
		return err
	}
	defer closeClient()

	g, gctx := errgroup.WithContext(ctx)
	// Drains end once the session closes its connection.
	stats := newReceiveStats(gctx, opts.log)
	defer stats.wait()

	session := classroom.NewViewer(classroom.ViewerConfig{
		Config:      classroom.Config{Relay: client, Factory: opts.peerFactory(), Logger: opts.log},
		JoinTimeout: opts.cfg.Session.JoinTimeout,
	})
	defer session.Close()

	g.Go(func() error { return runClient(gctx, client) })

	out := newConsole(cmd.OutOrStdout())
	stopFollow := out.follow(session.Store())
	defer stopFollow()
	stopDrain := session.Store().Subscribe(func(s classroom.Snapshot) { stats.track(s.RemoteStream) })
	defer stopDrain()

	coord := classroom.NewCoordinator(client, session, opts.log)
	coord.Install()
	defer coord.Uninstall()

	var tick <-chan time.Time
	if w.statsPeriod > 0 {
		ticker := time.NewTicker(w.statsPeriod)
		defer ticker.Stop()
		tick = ticker.C
	}

	lines := readLines(gctx, cmd.InOrStdin())
loop:
	for {
		select {
		case <-gctx.Done():
			break loop
		case <-tick:
			if report := stats.report(); report != "" {
				out.printf("* %s\n", report)
			}
		case line, ok := <-lines:
			if !ok {
				break loop
			}
			if done := watchCommand(out, session, w.name, line); done {
				break loop
			}
		}
	}

	cancel()
	return g.Wait()
}

// watchCommand applies one stdin line and reports whether to exit.
func watchCommand(out *console, session *classroom.Viewer, name, line string) bool {
	var err error
	switch strings.Fields(line)[0] {
	case "/quit", "/exit":
		return true
	case "/join":
		err = session.Join()
	case "/leave":
		err = session.Leave()
	default:
		if strings.HasPrefix(line, "/") {
			out.printf("* unknown command %s\n", line)
			return false
		}
		err = session.SendChat(name, line)
	}
	if err != nil {
		out.printf("* %v\n", err)
	}
	return false
}

type trackCounter struct {
	kind    string
	packets atomic.Int64
	bytes   atomic.Int64
}

// receiveStats drains every received track and counts what arrives.
type receiveStats struct {
	ctx context.Context
	log *zap.Logger
	wg  sync.WaitGroup

	mu       sync.Mutex
	counters map[*rtc.RemoteTrack]*trackCounter
}

func newReceiveStats(ctx context.Context, log *zap.Logger) *receiveStats {
	return &receiveStats{ctx: ctx, log: log, counters: make(map[*rtc.RemoteTrack]*trackCounter)}
}

// track starts draining tracks of stream that are not drained yet.
func (r *receiveStats) track(stream *rtc.RemoteStream) {
	if stream == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range stream.Tracks {
		if _, ok := r.counters[t]; ok {
			continue
		}
		c := &trackCounter{kind: t.Kind.String()}
		r.counters[t] = c
		r.wg.Add(1)
		go func(t *rtc.RemoteTrack) {
			defer r.wg.Done()
			err := t.Drain(r.ctx, func(n int) {
				c.packets.Add(1)
				c.bytes.Add(int64(n))
			})
			if err != nil && r.ctx.Err() == nil {
				r.log.Debug("track ended", zap.String("track_id", t.ID), zap.Error(err))
			}
		}(t)
	}
}

// report summarizes received packets per kind, or "" when nothing arrived.
func (r *receiveStats) report() string {
	r.mu.Lock()
	totals := make(map[string][2]int64)
	for _, c := range r.counters {
		v := totals[c.kind]
		totals[c.kind] = [2]int64{v[0] + c.packets.Load(), v[1] + c.bytes.Load()}
	}
	r.mu.Unlock()
	if len(totals) == 0 {
		return ""
	}
	kinds := make([]string, 0, len(totals))
	for k := range totals {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	parts := make([]string, 0, len(kinds))
	for _, k := range kinds {
		parts = append(parts, fmt.Sprintf("%s %d pkts/%d KiB", k, totals[k][0], totals[k][1]/1024))
	}
	return "received " + strings.Join(parts, ", ")
}

func (r *receiveStats) wait() { r.wg.Wait() }
