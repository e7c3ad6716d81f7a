package mesh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/imtompeel/swiftToHear-sub002/internal/domain/signaling"
	"github.com/pion/webrtc/v4"
)

// AudioOnlyHint is the fallback offered after a peer stays unreachable.
const AudioOnlyHint = "rejoin with audio only"

// Signaler carries negotiation messages. *signaling.Relay implements it.
type Signaler interface {
	signaling.Subscriber
	Send(ctx context.Context, msg signaling.Message) error
}

// Options configures a Manager for one participant in one session.
type Options struct {
	SessionID string
	SelfID    string
	Name      string
	// MaxParticipants caps the mesh at MaxParticipants-1 links. Zero means no cap.
	MaxParticipants int
	Video           bool
	Audio           bool

	RetryBase     time.Duration
	RetryMax      time.Duration
	RetryAttempts int

	// OnPeerFailed is called once retries for a peer are exhausted.
	OnPeerFailed func(PeerFailure)
	// OnTrack is called for every remote track.
	OnTrack func(peerID string, track *webrtc.TrackRemote)
}

// PeerFailure reports a peer that could not be reached.
type PeerFailure struct {
	PeerID   string
	Attempts int
	Err      error
	Hint     string
}

// PeerInfo is a snapshot of one link.
type PeerInfo struct {
	ID    string `json:"id"`
	State string `json:"state"`
}

type peer struct {
	id string
	pc PeerConnection
}

// live reports whether the link can still carry media or finish negotiating.
func (p *peer) live() bool {
	if p.pc.SignalingState() == webrtc.SignalingStateClosed {
		return false
	}
	switch p.pc.ConnectionState() {
	case webrtc.PeerConnectionStateClosed, webrtc.PeerConnectionStateFailed:
		return false
	}
	return true
}

// Manager owns every peer link of the local participant. Negotiation follows the
// join/offer/answer protocol over a Signaler; on simultaneous offers the
// lexicographically smaller participant id keeps its offer.
type Manager struct {
	signaler   Signaler
	factory    Factory
	media      MediaSource
	opts       Options
	logger     *slog.Logger
	dispatcher *signaling.Dispatcher

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	peers    map[string]*peer
	queued   map[string][]webrtc.ICECandidateInit
	attempts map[string]int
	retries  map[string]*time.Timer
	stream   *Stream
	started  bool
	closed   bool
}

// New creates a manager. media may be nil for a receive-only participant.
func New(signaler Signaler, factory Factory, media MediaSource, opts Options, logger *slog.Logger) (*Manager, error) {
	if opts.SessionID == "" || opts.SelfID == "" {
		return nil, errors.New("mesh: session and participant ids are required")
	}
	if opts.Name == "" {
		opts.Name = opts.SelfID
	}
	if opts.RetryBase <= 0 {
		opts.RetryBase = time.Second
	}
	if opts.RetryMax <= 0 {
		opts.RetryMax = 30 * time.Second
	}
	if opts.RetryAttempts < 0 {
		opts.RetryAttempts = 0
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		signaler:   signaler,
		factory:    factory,
		media:      media,
		opts:       opts,
		logger:     logger.With("session_id", opts.SessionID, "participant_id", opts.SelfID),
		dispatcher: signaling.NewDispatcher(),
		ctx:        ctx,
		cancel:     cancel,
		peers:      make(map[string]*peer),
		queued:     make(map[string][]webrtc.ICECandidateInit),
		attempts:   make(map[string]int),
		retries:    make(map[string]*time.Timer),
	}, nil
}

// Start acquires local media and begins handling signaling messages.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = true
	m.mu.Unlock()

	var stream *Stream
	if m.media != nil && (m.opts.Video || m.opts.Audio) {
		s, err := m.media.Acquire(m.opts.Video, m.opts.Audio)
		if err != nil {
			m.setStarted(false)
			if errors.Is(err, ErrMediaUnavailable) {
				return err
			}
			return fmt.Errorf("%w: %v", ErrMediaUnavailable, err)
		}
		stream = s
	}

	m.dispatcher.Handle(signaling.TypeJoin, m.handleJoin)
	m.dispatcher.Handle(signaling.TypeOffer, m.handleOffer)
	m.dispatcher.Handle(signaling.TypeAnswer, m.handleAnswer)
	m.dispatcher.Handle(signaling.TypeICECandidate, m.handleCandidate)
	m.dispatcher.Handle(signaling.TypeLeave, m.handleLeave)

	m.mu.Lock()
	m.stream = stream
	m.mu.Unlock()

	if err := m.dispatcher.Listen(ctx, m.signaler, m.opts.SessionID, m.opts.SelfID); err != nil {
		m.dispatcher.Close()
		m.mu.Lock()
		m.stream = nil
		m.mu.Unlock()
		if stream != nil {
			m.media.Release(stream)
		}
		m.setStarted(false)
		return fmt.Errorf("subscribing to signaling: %w", err)
	}

	m.logger.Info("mesh started", "video", m.opts.Video, "audio", m.opts.Audio)
	return nil
}

// Join announces the local participant so existing members offer it a link.
func (m *Manager) Join(ctx context.Context) error {
	if err := m.ready(); err != nil {
		return err
	}
	return m.send(ctx, signaling.TypeJoin, "", signaling.JoinData{Name: m.opts.Name})
}

// Connect offers a link to peerID unless a live one exists.
func (m *Manager) Connect(ctx context.Context, peerID string) error {
	if peerID == "" || peerID == m.opts.SelfID {
		return fmt.Errorf("mesh: cannot connect to %q", peerID)
	}
	if err := m.ready(); err != nil {
		return err
	}

	m.mu.Lock()
	if p, ok := m.peers[peerID]; ok && p.live() {
		m.mu.Unlock()
		return nil
	}
	offer, err := m.offerLocked(peerID)
	m.mu.Unlock()
	if err != nil {
		return err
	}
	return m.send(ctx, signaling.TypeOffer, peerID, signaling.OfferData{Offer: offer})
}

// Reconcile closes links to peers that are no longer members of the session.
func (m *Manager) Reconcile(memberIDs []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	for id := range m.peers {
		if !slices.Contains(memberIDs, id) {
			m.logger.Info("closing link to departed peer", "peer", id)
			m.forgetLocked(id)
		}
	}
	for id := range m.retries {
		if !slices.Contains(memberIDs, id) {
			m.forgetLocked(id)
		}
	}
}

// Peers returns a snapshot of the links, ordered by peer id.
func (m *Manager) Peers() []PeerInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]PeerInfo, 0, len(m.peers))
	for id, p := range m.peers {
		out = append(out, PeerInfo{ID: id, State: p.pc.ConnectionState().String()})
	}
	slices.SortFunc(out, func(a, b PeerInfo) int { return strings.Compare(a.ID, b.ID) })
	return out
}

// Leave tells the other peers we are going, closes every link, releases local media
// and drops the signaling subscription. It is safe to call more than once.
func (m *Manager) Leave(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	started := m.started
	peers := m.peers
	m.peers = make(map[string]*peer)
	for _, t := range m.retries {
		t.Stop()
	}
	m.retries = make(map[string]*time.Timer)
	m.queued = make(map[string][]webrtc.ICECandidateInit)
	stream := m.stream
	m.stream = nil
	m.mu.Unlock()

	if started {
		if err := m.send(ctx, signaling.TypeLeave, "", nil); err != nil {
			m.logger.Warn("leave announcement failed", "error", err)
		}
	}
	for _, p := range peers {
		if err := p.pc.Close(); err != nil {
			m.logger.Debug("closing peer connection failed", "peer", p.id, "error", err)
		}
	}
	m.dispatcher.Close()
	if stream != nil {
		m.media.Release(stream)
	}
	m.cancel()

	m.logger.Info("mesh left", "links", len(peers))
	return nil
}

func (m *Manager) handleJoin(msg signaling.Message) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	if p, ok := m.peers[msg.From]; ok && p.live() {
		m.mu.Unlock()
		return
	}
	offer, err := m.offerLocked(msg.From)
	m.mu.Unlock()
	if err != nil {
		m.logger.Warn("cannot offer to joining peer", "peer", msg.From, "error", err)
		return
	}

	m.logger.Debug("offering to joining peer", "peer", msg.From)
	if err := m.send(m.ctx, signaling.TypeOffer, msg.From, signaling.OfferData{Offer: offer}); err != nil {
		m.logger.Warn("sending offer failed", "peer", msg.From, "error", err)
	}
}

func (m *Manager) handleOffer(msg signaling.Message) {
	var data signaling.OfferData
	if err := msg.Decode(&data); err != nil {
		m.logger.Warn("dropping malformed offer", "peer", msg.From, "error", err)
		return
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	p, ok := m.peers[msg.From]
	reuse := ok && p.live()
	if reuse && p.pc.SignalingState() == webrtc.SignalingStateHaveLocalOffer {
		if m.opts.SelfID < msg.From {
			m.mu.Unlock()
			m.logger.Debug("ignoring colliding offer", "peer", msg.From)
			return
		}
		reuse = false
	}
	if !reuse {
		var err error
		if p, err = m.openLocked(msg.From); err != nil {
			m.mu.Unlock()
			m.logger.Warn("cannot accept offer", "peer", msg.From, "error", err)
			return
		}
	}
	answer, err := m.answerLocked(p, data.Offer)
	m.mu.Unlock()
	if err != nil {
		m.logger.Warn("answering offer failed", "peer", msg.From, "error", err)
		return
	}

	if err := m.send(m.ctx, signaling.TypeAnswer, msg.From, signaling.AnswerData{Answer: answer}); err != nil {
		m.logger.Warn("sending answer failed", "peer", msg.From, "error", err)
	}
}

func (m *Manager) handleAnswer(msg signaling.Message) {
	var data signaling.AnswerData
	if err := msg.Decode(&data); err != nil {
		m.logger.Warn("dropping malformed answer", "peer", msg.From, "error", err)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.peers[msg.From]
	if !ok || p.pc.SignalingState() != webrtc.SignalingStateHaveLocalOffer {
		m.logger.Debug("ignoring unexpected answer", "peer", msg.From)
		return
	}
	desc := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: data.Answer.SDP}
	if err := p.pc.SetRemoteDescription(desc); err != nil {
		m.logger.Warn("applying answer failed", "peer", msg.From, "error", err)
		return
	}
	m.flushLocked(p)
}

func (m *Manager) handleCandidate(msg signaling.Message) {
	var data signaling.CandidateData
	if err := msg.Decode(&data); err != nil {
		m.logger.Warn("dropping malformed candidate", "peer", msg.From, "error", err)
		return
	}
	candidate := webrtc.ICECandidateInit{
		Candidate:     data.Candidate.Candidate,
		SDPMid:        data.Candidate.SDPMid,
		SDPMLineIndex: data.Candidate.SDPMLineIndex,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	p, ok := m.peers[msg.From]
	if !ok || p.pc.RemoteDescription() == nil {
		m.queued[msg.From] = append(m.queued[msg.From], candidate)
		return
	}
	if err := p.pc.AddICECandidate(candidate); err != nil {
		m.logger.Warn("adding candidate failed", "peer", msg.From, "error", err)
	}
}

func (m *Manager) handleLeave(msg signaling.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.forgetLocked(msg.From)
	m.logger.Info("peer left", "peer", msg.From)
}

func (m *Manager) handleState(p *peer, state webrtc.PeerConnectionState) {
	m.mu.Lock()
	if m.closed || m.peers[p.id] != p {
		m.mu.Unlock()
		return
	}

	switch state {
	case webrtc.PeerConnectionStateConnected:
		delete(m.attempts, p.id)
		m.mu.Unlock()
		m.logger.Info("peer connected", "peer", p.id)
		return

	case webrtc.PeerConnectionStateDisconnected, webrtc.PeerConnectionStateClosed:
		m.removeLocked(p.id)
		m.mu.Unlock()
		m.logger.Info("peer link closed", "peer", p.id, "state", state.String())
		return

	case webrtc.PeerConnectionStateFailed:
		m.removeLocked(p.id)
		if m.opts.SelfID > p.id {
			m.mu.Unlock()
			m.logger.Warn("peer link failed, waiting for peer to re-offer", "peer", p.id)
			return
		}
		n := m.attempts[p.id]
		if n >= m.opts.RetryAttempts {
			delete(m.attempts, p.id)
			m.mu.Unlock()
			m.reportFailure(p.id, n)
			return
		}
		m.attempts[p.id] = n + 1
		delay := m.backoff(n)
		id := p.id
		m.retries[id] = time.AfterFunc(delay, func() { m.retry(id) })
		m.mu.Unlock()
		m.logger.Warn("peer link failed, retrying", "peer", id, "attempt", n+1, "delay", delay)
		return
	}
	m.mu.Unlock()
}

func (m *Manager) retry(peerID string) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	if _, pending := m.retries[peerID]; !pending {
		m.mu.Unlock()
		return
	}
	delete(m.retries, peerID)
	if p, ok := m.peers[peerID]; ok && p.live() {
		m.mu.Unlock()
		return
	}
	offer, err := m.offerLocked(peerID)
	m.mu.Unlock()
	if err != nil {
		m.logger.Warn("retry offer failed", "peer", peerID, "error", err)
		return
	}
	if err := m.send(m.ctx, signaling.TypeOffer, peerID, signaling.OfferData{Offer: offer}); err != nil {
		m.logger.Warn("sending retry offer failed", "peer", peerID, "error", err)
	}
}

func (m *Manager) reportFailure(peerID string, attempts int) {
	failure := PeerFailure{
		PeerID:   peerID,
		Attempts: attempts,
		Err:      fmt.Errorf("%w: %s unreachable after %d retries", ErrConnectionFailed, peerID, attempts),
		Hint:     AudioOnlyHint,
	}
	m.logger.Error("giving up on peer", "peer", peerID, "attempts", attempts, "hint", failure.Hint)
	if m.opts.OnPeerFailed != nil {
		m.opts.OnPeerFailed(failure)
	}
}

func (m *Manager) backoff(attempt int) time.Duration {
	d := m.opts.RetryBase << attempt
	if d <= 0 || d > m.opts.RetryMax {
		return m.opts.RetryMax
	}
	return d
}

// openLocked creates a link to peerID, replacing any existing one. The slot cap is
// checked before anything is touched.
func (m *Manager) openLocked(peerID string) (*peer, error) {
	count := len(m.peers)
	if _, ok := m.peers[peerID]; ok {
		count--
	}
	if m.opts.MaxParticipants > 0 && count >= m.opts.MaxParticipants-1 {
		return nil, fmt.Errorf("%w: %d links open", ErrSessionFull, count)
	}

	m.removeLocked(peerID)

	pc, err := m.factory.NewPeerConnection()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	if m.stream != nil {
		for _, track := range m.stream.Tracks {
			if _, err := pc.AddTrack(track); err != nil {
				_ = pc.Close()
				return nil, fmt.Errorf("%w: adding track: %v", ErrConnectionFailed, err)
			}
		}
	}

	p := &peer{id: peerID, pc: pc}
	pc.OnICECandidate(func(c *webrtc.ICECandidate) { m.sendCandidate(p, c) })
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) { m.handleState(p, s) })
	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		m.logger.Debug("remote track", "peer", peerID, "kind", track.Kind().String())
		if m.opts.OnTrack != nil {
			m.opts.OnTrack(peerID, track)
		}
	})
	m.peers[peerID] = p
	return p, nil
}

func (m *Manager) offerLocked(peerID string) (signaling.SessionDescription, error) {
	p, err := m.openLocked(peerID)
	if err != nil {
		return signaling.SessionDescription{}, err
	}
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		m.removeLocked(peerID)
		return signaling.SessionDescription{}, fmt.Errorf("%w: creating offer: %v", ErrConnectionFailed, err)
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		m.removeLocked(peerID)
		return signaling.SessionDescription{}, fmt.Errorf("%w: setting local offer: %v", ErrConnectionFailed, err)
	}
	return signaling.SessionDescription{Type: offer.Type.String(), SDP: offer.SDP}, nil
}

func (m *Manager) answerLocked(p *peer, offer signaling.SessionDescription) (signaling.SessionDescription, error) {
	remote := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offer.SDP}
	if err := p.pc.SetRemoteDescription(remote); err != nil {
		m.removeLocked(p.id)
		return signaling.SessionDescription{}, fmt.Errorf("%w: applying offer: %v", ErrConnectionFailed, err)
	}
	m.flushLocked(p)

	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		m.removeLocked(p.id)
		return signaling.SessionDescription{}, fmt.Errorf("%w: creating answer: %v", ErrConnectionFailed, err)
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		m.removeLocked(p.id)
		return signaling.SessionDescription{}, fmt.Errorf("%w: setting local answer: %v", ErrConnectionFailed, err)
	}
	return signaling.SessionDescription{Type: answer.Type.String(), SDP: answer.SDP}, nil
}

// flushLocked applies candidates that arrived before the remote description.
func (m *Manager) flushLocked(p *peer) {
	for _, c := range m.queued[p.id] {
		if err := p.pc.AddICECandidate(c); err != nil {
			m.logger.Warn("adding queued candidate failed", "peer", p.id, "error", err)
		}
	}
	delete(m.queued, p.id)
}

// removeLocked closes and drops the link to peerID, keeping retry bookkeeping.
func (m *Manager) removeLocked(peerID string) {
	p, ok := m.peers[peerID]
	if !ok {
		return
	}
	delete(m.peers, peerID)
	if err := p.pc.Close(); err != nil {
		m.logger.Debug("closing peer connection failed", "peer", peerID, "error", err)
	}
}

// forgetLocked drops everything known about peerID.
func (m *Manager) forgetLocked(peerID string) {
	m.removeLocked(peerID)
	if t, ok := m.retries[peerID]; ok {
		t.Stop()
		delete(m.retries, peerID)
	}
	delete(m.attempts, peerID)
	delete(m.queued, peerID)
}

func (m *Manager) sendCandidate(p *peer, c *webrtc.ICECandidate) {
	if c == nil {
		return
	}
	m.mu.Lock()
	current := !m.closed && m.peers[p.id] == p
	m.mu.Unlock()
	if !current {
		return
	}

	init := c.ToJSON()
	data := signaling.CandidateData{Candidate: signaling.ICECandidate{
		Candidate:     init.Candidate,
		SDPMLineIndex: init.SDPMLineIndex,
		SDPMid:        init.SDPMid,
	}}
	if err := m.send(m.ctx, signaling.TypeICECandidate, p.id, data); err != nil {
		m.logger.Warn("sending candidate failed", "peer", p.id, "error", err)
	}
}

func (m *Manager) send(ctx context.Context, typ signaling.MessageType, to string, data any) error {
	msg, err := signaling.NewMessage(m.opts.SessionID, typ, m.opts.SelfID, to, data)
	if err != nil {
		return err
	}
	return m.signaler.Send(ctx, msg)
}

func (m *Manager) ready() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if !m.started {
		return errors.New("mesh: not started")
	}
	return nil
}

func (m *Manager) setStarted(v bool) {
	m.mu.Lock()
	m.started = v
	m.mu.Unlock()
}
