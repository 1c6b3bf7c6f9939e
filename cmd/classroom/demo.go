package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/zenro-academy/liveclass/internal/classroom"
	"github.com/zenro-academy/liveclass/internal/rtc"
	"github.com/zenro-academy/liveclass/internal/signaling"
)

type demoOptions struct {
	topic    string
	video    string
	audio    string
	viewers  int
	duration time.Duration
}

func newDemoCmd(opts *options) *cobra.Command {
	d := &demoOptions{}
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run a broadcaster and several viewers in one process over the memory relay",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDemo(cmd, opts, d)
		},
	}
	cmd.Flags().StringVar(&d.topic, "topic", "Demo class", "class topic")
	cmd.Flags().StringVar(&d.video, "video", "", "IVF file (VP8/VP9) to stream as video")
	cmd.Flags().StringVar(&d.audio, "audio", "", "Ogg file (Opus) to stream as audio")
	cmd.Flags().IntVar(&d.viewers, "viewers", 2, "number of in-process viewers")
	cmd.Flags().DurationVar(&d.duration, "duration", 15*time.Second, "how long the class runs")
	return cmd
}

type demoParticipant struct {
	client  *signaling.Client
	session classroom.Session
	coord   *classroom.Coordinator
}

func runDemo(cmd *cobra.Command, opts *options, d *demoOptions) error {
	if d.viewers < 1 {
		return errors.New("--viewers must be at least 1")
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), d.duration)
	defer cancel()

	bus := signaling.NewMemoryBus()
	factory := opts.peerFactory()
	g, gctx := errgroup.WithContext(ctx)
	stats := make([]*receiveStats, d.viewers)

	var participants []demoParticipant
	join := func(session func(*signaling.Client) classroom.Session) demoParticipant {
		client := signaling.NewClient(bus.Connect(), opts.log)
		p := demoParticipant{client: client, session: session(client)}
		p.coord = classroom.NewCoordinator(client, p.session, opts.log)
		g.Go(func() error { return runClient(gctx, client) })
		participants = append(participants, p)
		return p
	}
	defer func() {
		for i := len(participants) - 1; i >= 0; i-- {
			p := participants[i]
			p.coord.Uninstall()
			_ = p.session.Close()
			_ = p.client.Close()
		}
		for _, s := range stats {
			if s != nil {
				s.wait()
			}
		}
	}()

	host := join(func(c *signaling.Client) classroom.Session {
		return classroom.NewBroadcaster(classroom.BroadcasterConfig{
			Config: classroom.Config{Relay: c, Factory: factory, Logger: opts.log},
			Source: &rtc.FileSource{VideoPath: d.video, AudioPath: d.audio, Logger: opts.log},
		})
	})
	out := newConsole(cmd.OutOrStdout())
	defer out.follow(host.session.Store())()
	host.coord.Install()

	for i := 0; i < d.viewers; i++ {
		stats[i] = newReceiveStats(gctx, opts.log)
		viewer := join(func(c *signaling.Client) classroom.Session {
			return classroom.NewViewer(classroom.ViewerConfig{
				Config:      classroom.Config{Relay: c, Factory: factory, Logger: opts.log},
				JoinTimeout: opts.cfg.Session.JoinTimeout,
			})
		})
		s := stats[i]
		defer viewer.session.Store().Subscribe(func(snap classroom.Snapshot) { s.track(snap.RemoteStream) })()
		viewer.coord.Install()
	}

	broadcaster := host.session.(*classroom.Broadcaster)
	if err := broadcaster.Start(gctx, d.topic); err != nil {
		cancel()
		_ = g.Wait()
		return fmt.Errorf("start class: %w", err)
	}

	<-gctx.Done()
	for i, s := range stats {
		report := s.report()
		if report == "" {
			report = "received nothing"
		}
		out.printf("* viewer %d: %s\n", i+1, report)
	}
	_ = broadcaster.End()
	cancel()
	return g.Wait()
}
