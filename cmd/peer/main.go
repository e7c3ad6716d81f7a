// Command swift-peer joins a session as a headless participant and keeps a mesh
// link to every other member until interrupted.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/imtompeel/swiftToHear-sub002/internal/client"
	"github.com/imtompeel/swiftToHear-sub002/internal/config"
	"github.com/imtompeel/swiftToHear-sub002/internal/domain/session"
	"github.com/imtompeel/swiftToHear-sub002/internal/mcp"
	"github.com/imtompeel/swiftToHear-sub002/internal/mesh"
	"github.com/pion/webrtc/v4"
	"github.com/spf13/pflag"
)

const leaveTimeout = 5 * time.Second

type options struct {
	configPath string
	server     string
	sessionID  string
	id         string
	name       string
	role       string
	video      bool
	audio      bool
	verbose    bool
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var opts options
	flagSet := pflag.NewFlagSet("swift-peer", pflag.ContinueOnError)
	flagSet.StringVar(&opts.configPath, "config", os.Getenv(config.EnvPrefix+"CONFIG_PATH"), "path to YAML config file for WebRTC settings")
	flagSet.StringVar(&opts.server, "server", "http://localhost:8080", "server base URL")
	flagSet.StringVar(&opts.sessionID, "session", "", "session to join (required)")
	flagSet.StringVar(&opts.id, "id", "", "participant id (required)")
	flagSet.StringVar(&opts.name, "name", "", "display name (defaults to the id)")
	flagSet.StringVar(&opts.role, "role", "", "requested role, empty to be assigned one")
	flagSet.BoolVar(&opts.video, "video", false, "send a synthetic video track")
	flagSet.BoolVar(&opts.audio, "audio", true, "send a synthetic audio track")
	flagSet.BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if opts.sessionID == "" || opts.id == "" {
		return errors.New("--session and --id are required")
	}
	if opts.name == "" {
		opts.name = opts.id
	}

	cfg, err := config.LoadFile(opts.configPath)
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}

	level := slog.LevelInfo
	if opts.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return runPeer(ctx, opts, cfg.WebRTC, logger)
}

func runPeer(ctx context.Context, opts options, rtc config.WebRTCConfig, logger *slog.Logger) error {
	api := client.New(opts.server, logger)

	sess, err := api.JoinSession(ctx, mcp.JoinSessionParams{
		SessionID:     opts.sessionID,
		ParticipantID: opts.id,
		Name:          opts.name,
		Role:          session.Role(opts.role),
	})
	if err != nil {
		return fmt.Errorf("joining session: %w", err)
	}
	self, _, _ := sess.Participant(opts.id)
	logger.Info("joined session", "session_id", sess.ID, "participant_id", opts.id, "role", self.Role)

	signaler, err := api.DialSignaler(ctx, sess.ID, opts.id)
	if err != nil {
		return err
	}
	defer signaler.Close()

	factory, err := mesh.NewPionFactory(mesh.PionOptions{
		ICEServers:          rtc.ICEServers,
		DisconnectedTimeout: rtc.ICEDisconnectedTimeout,
		FailedTimeout:       rtc.ICEFailedTimeout,
		Keepalive:           rtc.ICEKeepalive,
	})
	if err != nil {
		return err
	}

	manager, err := mesh.New(signaler, factory, mesh.NewSyntheticSource(), mesh.Options{
		SessionID:       sess.ID,
		SelfID:          opts.id,
		Name:            opts.name,
		MaxParticipants: sess.MaxParticipants,
		Video:           opts.video,
		Audio:           opts.audio,
		RetryBase:       rtc.RetryBase,
		RetryMax:        rtc.RetryMax,
		RetryAttempts:   rtc.RetryAttempts,
		OnPeerFailed: func(f mesh.PeerFailure) {
			logger.Warn("peer unreachable", "peer", f.PeerID, "attempts", f.Attempts, "hint", f.Hint, "error", f.Err)
			if err := api.SetConnectionStatus(context.Background(), sess.ID, opts.id, session.ConnectionPoor); err != nil {
				logger.Warn("failed to report connection status", "error", err)
			}
		},
		OnTrack: func(peerID string, track *webrtc.TrackRemote) {
			logger.Info("remote track", "peer", peerID, "kind", track.Kind().String(), "codec", track.Codec().MimeType)
			go discardTrack(track)
		},
	}, logger)
	if err != nil {
		return err
	}
	if err := manager.Start(ctx); err != nil {
		return err
	}
	if err := manager.Join(ctx); err != nil {
		return err
	}

	watchErr := make(chan error, 1)
	go func() {
		watchErr <- api.WatchSession(ctx, sess.ID, func(s *session.Session) {
			if s == nil {
				logger.Info("session ended")
				return
			}
			ids := make([]string, 0, len(s.Participants))
			for _, p := range s.Participants {
				ids = append(ids, p.ID)
			}
			manager.Reconcile(ids)
			logger.Debug("session update", "version", s.Version, "status", s.Status, "peers", manager.Peers())
		})
	}()

	select {
	case <-ctx.Done():
		logger.Info("leaving session")
	case <-signaler.Done():
		logger.Warn("signaling connection dropped")
	case err := <-watchErr:
		if err != nil {
			logger.Warn("session watch stopped", "error", err)
		}
	}
	return leave(api, manager, sess.ID, opts.id, logger)
}

func leave(api *client.Client, manager *mesh.Manager, sessionID, participantID string, logger *slog.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), leaveTimeout)
	defer cancel()

	if err := manager.Leave(ctx); err != nil {
		logger.Warn("mesh leave failed", "error", err)
	}
	resp, err := api.LeaveSession(ctx, sessionID, participantID)
	if err != nil {
		var rpcErr *client.RPCError
		if errors.As(err, &rpcErr) && rpcErr.AppCode() == mcp.CodeNotFound {
			return nil
		}
		return fmt.Errorf("leaving session: %w", err)
	}
	if resp.Deleted {
		logger.Info("session torn down", "session_id", sessionID)
	}
	return nil
}

func discardTrack(track *webrtc.TrackRemote) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := track.Read(buf); err != nil {
			return
		}
	}
}
