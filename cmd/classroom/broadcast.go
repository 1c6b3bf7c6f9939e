package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/zenro-academy/liveclass/internal/classroom"
	"github.com/zenro-academy/liveclass/internal/rtc"
	"github.com/zenro-academy/liveclass/internal/signaling"
)

type broadcastOptions struct {
	topic      string
	video      string
	audio      string
	name       string
	summaryURL string
}

func newBroadcastCmd(opts *options) *cobra.Command {
	b := &broadcastOptions{}
	cmd := &cobra.Command{
		Use:   "broadcast",
		Short: "Start a class and stream media files to every viewer",
		Long: `Start a class and stream media files to every viewer.

Lines read from stdin are sent as chat. Commands:
  /mute audio|video     stop sending a track
  /unmute audio|video   resume a track
  /end                  end the class (EOF does the same)`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBroadcast(cmd, opts, b)
		},
	}
	cmd.Flags().StringVar(&b.topic, "topic", "", "class topic")
	cmd.Flags().StringVar(&b.video, "video", "", "IVF file (VP8/VP9) to stream as video")
	cmd.Flags().StringVar(&b.audio, "audio", "", "Ogg file (Opus) to stream as audio")
	cmd.Flags().StringVar(&b.name, "name", "Sensei", "chat display name")
	cmd.Flags().StringVar(&b.summaryURL, "summary-url", "", "POST the chat transcript here when the class ends")
	_ = cmd.MarkFlagRequired("topic")
	return cmd
}

func runBroadcast(cmd *cobra.Command, opts *options, b *broadcastOptions) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	client, closeClient, err := opts.connect(ctx)
	if err != nil {
		return err
	}
	defer closeClient()

	source := &rtc.FileSource{VideoPath: b.video, AudioPath: b.audio, Logger: opts.log}
	return hostClass(cmd, opts, b, client, source)
}

// hostClass runs one class over client until /end, EOF on stdin or the end of
// the command context (SIGINT, SIGTERM). The class is always ended on the way
// out so viewers see it go offline.
func hostClass(cmd *cobra.Command, opts *options, b *broadcastOptions, client *signaling.Client, source rtc.Source) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	ended := make(chan classroom.Snapshot, 1)
	session := classroom.NewBroadcaster(classroom.BroadcasterConfig{
		Config: classroom.Config{Relay: client, Factory: opts.peerFactory(), Logger: opts.log},
		Source: source,
		OnEnded: func(s classroom.Snapshot) {
			select {
			case ended <- s:
			default:
			}
		},
	})
	defer session.Close()

	coord := classroom.NewCoordinator(client, session, opts.log)
	coord.Install()
	defer coord.Uninstall()

	out := newConsole(cmd.OutOrStdout())
	defer out.follow(session.Store())()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return runClient(gctx, client) })

	if err := session.Start(gctx, b.topic); err != nil {
		cancel()
		_ = g.Wait()
		return fmt.Errorf("start class: %w", err)
	}

	lines := readLines(gctx, cmd.InOrStdin())
loop:
	for {
		select {
		case <-gctx.Done():
			break loop
		case line, ok := <-lines:
			if !ok {
				break loop
			}
			if done := broadcastCommand(out, session, b.name, line); done {
				break loop
			}
		}
	}

	if err := session.End(); err != nil {
		opts.log.Warn("end class", zap.Error(err))
	}
	select {
	case snap := <-ended:
		if b.summaryURL != "" {
			// An interrupted class still gets its summary.
			msg, err := requestSummary(context.WithoutCancel(cmd.Context()), b.summaryURL, opts.room, snap)
			if err != nil {
				out.printf("* summary failed: %v\n", err)
			} else {
				out.printf("* %s\n", msg)
			}
		}
	default:
	}

	cancel()
	return g.Wait()
}

// broadcastCommand applies one stdin line and reports whether the class should end.
func broadcastCommand(out *console, session *classroom.Broadcaster, name, line string) bool {
	if !strings.HasPrefix(line, "/") {
		if err := session.SendChat(name, line); err != nil {
			out.printf("* chat failed: %v\n", err)
		}
		return false
	}
	fields := strings.Fields(line)
	switch fields[0] {
	case "/end", "/quit":
		return true
	case "/mute", "/unmute":
		if len(fields) < 2 {
			out.printf("* usage: %s audio|video\n", fields[0])
			return false
		}
		kind, err := parseKind(fields[1])
		if err == nil {
			err = session.SetTrackEnabled(kind, fields[0] == "/unmute")
		}
		if err != nil {
			out.printf("* %s: %v\n", fields[0], err)
			return false
		}
		out.printf("* %s %sd\n", kind, strings.TrimPrefix(fields[0], "/"))
	default:
		out.printf("* unknown command %s\n", fields[0])
	}
	return false
}
