// Package mesh keeps one direct media link to every other participant of a session.
package mesh

import (
	"fmt"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
)

// PeerConnection is the subset of *webrtc.PeerConnection the manager drives.
type PeerConnection interface {
	CreateOffer(options *webrtc.OfferOptions) (webrtc.SessionDescription, error)
	CreateAnswer(options *webrtc.AnswerOptions) (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	RemoteDescription() *webrtc.SessionDescription
	AddICECandidate(candidate webrtc.ICECandidateInit) error
	AddTrack(track webrtc.TrackLocal) (*webrtc.RTPSender, error)
	OnICECandidate(f func(*webrtc.ICECandidate))
	OnConnectionStateChange(f func(webrtc.PeerConnectionState))
	OnTrack(f func(*webrtc.TrackRemote, *webrtc.RTPReceiver))
	SignalingState() webrtc.SignalingState
	ConnectionState() webrtc.PeerConnectionState
	Close() error
}

var _ PeerConnection = (*webrtc.PeerConnection)(nil)

// Factory creates peer connections.
type Factory interface {
	NewPeerConnection() (PeerConnection, error)
}

// PionOptions configures pion peer connections.
type PionOptions struct {
	ICEServers []string
	// ICE timeouts; zero values keep pion's defaults.
	DisconnectedTimeout time.Duration
	FailedTimeout       time.Duration
	Keepalive           time.Duration
}

// PionFactory builds pion peer connections with the default codecs and interceptors.
type PionFactory struct {
	api    *webrtc.API
	config webrtc.Configuration
}

// NewPionFactory creates a factory sharing one pion API between connections.
func NewPionFactory(opts PionOptions) (*PionFactory, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("registering codecs: %w", err)
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return nil, fmt.Errorf("registering interceptors: %w", err)
	}

	// Relay paths can stall for a few seconds; keep ICE from giving up too early.
	se := webrtc.SettingEngine{}
	if opts.DisconnectedTimeout > 0 || opts.FailedTimeout > 0 || opts.Keepalive > 0 {
		se.SetICETimeouts(
			orDefault(opts.DisconnectedTimeout, 5*time.Second),
			orDefault(opts.FailedTimeout, 25*time.Second),
			orDefault(opts.Keepalive, 2*time.Second),
		)
	}

	var config webrtc.Configuration
	if len(opts.ICEServers) > 0 {
		config.ICEServers = []webrtc.ICEServer{{URLs: opts.ICEServers}}
	}

	return &PionFactory{
		api: webrtc.NewAPI(
			webrtc.WithMediaEngine(mediaEngine),
			webrtc.WithInterceptorRegistry(registry),
			webrtc.WithSettingEngine(se),
		),
		config: config,
	}, nil
}

// NewPeerConnection implements Factory.
func (f *PionFactory) NewPeerConnection() (PeerConnection, error) {
	pc, err := f.api.NewPeerConnection(f.config)
	if err != nil {
		return nil, err
	}
	return pc, nil
}

func orDefault(d, def time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return def
}
