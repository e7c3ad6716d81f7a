package mesh_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/imtompeel/swiftToHear-sub002/internal/domain/signaling"
	"github.com/imtompeel/swiftToHear-sub002/internal/mesh"
	"github.com/imtompeel/swiftToHear-sub002/internal/sqlite"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"
)

type fakePC struct {
	name string

	mu          sync.Mutex
	signaling   webrtc.SignalingState
	conn        webrtc.PeerConnectionState
	remote      *webrtc.SessionDescription
	candidates  []webrtc.ICECandidateInit
	tracks      int
	onState     func(webrtc.PeerConnectionState)
	onCandidate func(*webrtc.ICECandidate)
}

func (f *fakePC) CreateOffer(*webrtc.OfferOptions) (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer:" + f.name}, nil
}

func (f *fakePC) CreateAnswer(*webrtc.AnswerOptions) (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer:" + f.name}, nil
}

func (f *fakePC) SetLocalDescription(d webrtc.SessionDescription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if d.Type == webrtc.SDPTypeOffer {
		f.signaling = webrtc.SignalingStateHaveLocalOffer
	} else {
		f.signaling = webrtc.SignalingStateStable
	}
	return nil
}

func (f *fakePC) SetRemoteDescription(d webrtc.SessionDescription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.remote = &d
	if d.Type == webrtc.SDPTypeOffer {
		f.signaling = webrtc.SignalingStateHaveRemoteOffer
	} else {
		f.signaling = webrtc.SignalingStateStable
	}
	return nil
}

func (f *fakePC) RemoteDescription() *webrtc.SessionDescription {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.remote
}

func (f *fakePC) AddICECandidate(c webrtc.ICECandidateInit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.candidates = append(f.candidates, c)
	return nil
}

func (f *fakePC) AddTrack(webrtc.TrackLocal) (*webrtc.RTPSender, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tracks++
	return nil, nil
}

func (f *fakePC) OnICECandidate(fn func(*webrtc.ICECandidate)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onCandidate = fn
}

func (f *fakePC) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onState = fn
}

func (f *fakePC) OnTrack(func(*webrtc.TrackRemote, *webrtc.RTPReceiver)) {}

func (f *fakePC) SignalingState() webrtc.SignalingState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.signaling
}

func (f *fakePC) ConnectionState() webrtc.PeerConnectionState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conn
}

func (f *fakePC) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signaling = webrtc.SignalingStateClosed
	f.conn = webrtc.PeerConnectionStateClosed
	return nil
}

func (f *fakePC) closed() bool {
	return f.ConnectionState() == webrtc.PeerConnectionStateClosed
}

func (f *fakePC) setState(s webrtc.PeerConnectionState) {
	f.mu.Lock()
	f.conn = s
	fn := f.onState
	f.mu.Unlock()
	fn(s)
}

func (f *fakePC) emitCandidate(c *webrtc.ICECandidate) {
	f.mu.Lock()
	fn := f.onCandidate
	f.mu.Unlock()
	fn(c)
}

func (f *fakePC) candidateCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.candidates)
}

type fakeFactory struct {
	mu  sync.Mutex
	pcs []*fakePC
	err error
}

func (f *fakeFactory) NewPeerConnection() (mesh.PeerConnection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	pc := &fakePC{
		name:      "pc" + string(rune('0'+len(f.pcs))),
		signaling: webrtc.SignalingStateStable,
		conn:      webrtc.PeerConnectionStateNew,
	}
	f.pcs = append(f.pcs, pc)
	return pc, nil
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pcs)
}

func (f *fakeFactory) pc(i int) *fakePC {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pcs[i]
}

type fakeSignaler struct {
	mu        sync.Mutex
	sent      []signaling.Message
	handler   func(signaling.Message)
	cancelled bool
}

func (s *fakeSignaler) Send(_ context.Context, msg signaling.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, msg)
	return nil
}

func (s *fakeSignaler) Subscribe(_ context.Context, _, _ string, fn func(signaling.Message)) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.cancelled = true
	}, nil
}

func (s *fakeSignaler) deliver(t *testing.T, typ signaling.MessageType, from, to string, data any) {
	t.Helper()
	msg, err := signaling.NewMessage("s1", typ, from, to, data)
	require.NoError(t, err)
	s.mu.Lock()
	fn := s.handler
	s.mu.Unlock()
	require.NotNil(t, fn, "manager not subscribed")
	fn(msg)
}

func (s *fakeSignaler) sentOf(typ signaling.MessageType) []signaling.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []signaling.Message
	for _, m := range s.sent {
		if m.Type == typ {
			out = append(out, m)
		}
	}
	return out
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newManager(t *testing.T, self string, opts mesh.Options) (*mesh.Manager, *fakeSignaler, *fakeFactory) {
	t.Helper()
	sig := &fakeSignaler{}
	factory := &fakeFactory{}
	opts.SessionID = "s1"
	opts.SelfID = self
	m, err := mesh.New(sig, factory, nil, opts, testLogger())
	require.NoError(t, err)
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(func() { _ = m.Leave(context.Background()) })
	return m, sig, factory
}

func offerSDP(name string) signaling.OfferData {
	return signaling.OfferData{Offer: signaling.SessionDescription{Type: "offer", SDP: "remote-offer:" + name}}
}

func answerSDP(name string) signaling.AnswerData {
	return signaling.AnswerData{Answer: signaling.SessionDescription{Type: "answer", SDP: "remote-answer:" + name}}
}

func TestRemoteJoinTriggersOffer(t *testing.T) {
	m, sig, factory := newManager(t, "b", mesh.Options{})

	sig.deliver(t, signaling.TypeJoin, "a", "", signaling.JoinData{Name: "A"})
	require.Equal(t, 1, factory.count())

	offers := sig.sentOf(signaling.TypeOffer)
	require.Len(t, offers, 1)
	require.Equal(t, "a", offers[0].To)
	require.Equal(t, "b", offers[0].From)

	var data signaling.OfferData
	require.NoError(t, offers[0].Decode(&data))
	require.Equal(t, "offer:pc0", data.Offer.SDP)
	require.Equal(t, webrtc.SignalingStateHaveLocalOffer, factory.pc(0).SignalingState())

	sig.deliver(t, signaling.TypeJoin, "a", "", signaling.JoinData{Name: "A"})
	require.Equal(t, 1, factory.count(), "live link is not replaced")
	require.Equal(t, []mesh.PeerInfo{{ID: "a", State: "new"}}, m.Peers())
}

func TestOfferIsAnswered(t *testing.T) {
	_, sig, factory := newManager(t, "b", mesh.Options{})

	sig.deliver(t, signaling.TypeOffer, "c", "b", offerSDP("c"))
	require.Equal(t, 1, factory.count())
	pc := factory.pc(0)
	require.NotNil(t, pc.RemoteDescription())
	require.Equal(t, "remote-offer:c", pc.RemoteDescription().SDP)

	answers := sig.sentOf(signaling.TypeAnswer)
	require.Len(t, answers, 1)
	require.Equal(t, "c", answers[0].To)
	var data signaling.AnswerData
	require.NoError(t, answers[0].Decode(&data))
	require.Equal(t, "answer:pc0", data.Answer.SDP)
}

func TestAnswerNeverCreatesConnection(t *testing.T) {
	m, sig, factory := newManager(t, "b", mesh.Options{})

	sig.deliver(t, signaling.TypeAnswer, "x", "b", answerSDP("x"))
	require.Zero(t, factory.count())
	require.Empty(t, m.Peers())
}

func TestAnswerAppliesToPendingOffer(t *testing.T) {
	m, sig, factory := newManager(t, "a", mesh.Options{})
	require.NoError(t, m.Connect(context.Background(), "c"))

	sig.deliver(t, signaling.TypeAnswer, "c", "a", answerSDP("c"))
	pc := factory.pc(0)
	require.Equal(t, webrtc.SignalingStateStable, pc.SignalingState())
	require.Equal(t, "remote-answer:c", pc.RemoteDescription().SDP)

	sig.deliver(t, signaling.TypeAnswer, "c", "a", answerSDP("late"))
	require.Equal(t, "remote-answer:c", pc.RemoteDescription().SDP, "duplicate answer is ignored")
}

func TestCandidatesQueueUntilRemoteDescription(t *testing.T) {
	_, sig, factory := newManager(t, "b", mesh.Options{})

	mid := "0"
	candidate := signaling.CandidateData{Candidate: signaling.ICECandidate{Candidate: "candidate:1 1 udp 1 10.0.0.1 5000 typ host", SDPMid: &mid}}
	sig.deliver(t, signaling.TypeICECandidate, "c", "b", candidate)
	require.Zero(t, factory.count(), "candidates alone never open a link")

	sig.deliver(t, signaling.TypeOffer, "c", "b", offerSDP("c"))
	pc := factory.pc(0)
	require.Equal(t, 1, pc.candidateCount())

	sig.deliver(t, signaling.TypeICECandidate, "c", "b", candidate)
	require.Equal(t, 2, pc.candidateCount())
}

func TestLocalCandidatesAreSent(t *testing.T) {
	m, sig, factory := newManager(t, "a", mesh.Options{})
	require.NoError(t, m.Connect(context.Background(), "b"))

	factory.pc(0).emitCandidate(&webrtc.ICECandidate{
		Foundation: "1",
		Priority:   1,
		Address:    "10.0.0.1",
		Protocol:   webrtc.ICEProtocolUDP,
		Port:       5000,
		Typ:        webrtc.ICECandidateTypeHost,
		Component:  1,
	})
	factory.pc(0).emitCandidate(nil)

	sent := sig.sentOf(signaling.TypeICECandidate)
	require.Len(t, sent, 1)
	require.Equal(t, "b", sent[0].To)
	var data signaling.CandidateData
	require.NoError(t, sent[0].Decode(&data))
	require.True(t, strings.HasPrefix(data.Candidate.Candidate, "candidate:"))
}

func TestGlareSmallerIDKeepsOffer(t *testing.T) {
	m, sig, factory := newManager(t, "a", mesh.Options{})
	require.NoError(t, m.Connect(context.Background(), "b"))

	sig.deliver(t, signaling.TypeOffer, "b", "a", offerSDP("b"))
	require.Equal(t, 1, factory.count())
	require.Empty(t, sig.sentOf(signaling.TypeAnswer))
	require.Equal(t, webrtc.SignalingStateHaveLocalOffer, factory.pc(0).SignalingState())
}

func TestGlareLargerIDYields(t *testing.T) {
	m, sig, factory := newManager(t, "b", mesh.Options{})
	require.NoError(t, m.Connect(context.Background(), "a"))

	sig.deliver(t, signaling.TypeOffer, "a", "b", offerSDP("a"))
	require.Equal(t, 2, factory.count())
	require.True(t, factory.pc(0).closed())
	require.Len(t, sig.sentOf(signaling.TypeAnswer), 1)
}

func TestSlotCapRejectsWithoutTouchingLinks(t *testing.T) {
	m, sig, factory := newManager(t, "a", mesh.Options{MaxParticipants: 2})
	ctx := context.Background()

	require.NoError(t, m.Connect(ctx, "b"))
	err := m.Connect(ctx, "c")
	require.ErrorIs(t, err, mesh.ErrSessionFull)

	sig.deliver(t, signaling.TypeOffer, "d", "a", offerSDP("d"))
	require.Empty(t, sig.sentOf(signaling.TypeAnswer))

	require.Equal(t, 1, factory.count())
	require.False(t, factory.pc(0).closed())
	require.Len(t, m.Peers(), 1)
}

func TestClosedLinkIsReplaced(t *testing.T) {
	m, sig, factory := newManager(t, "b", mesh.Options{})

	sig.deliver(t, signaling.TypeOffer, "a", "b", offerSDP("a"))
	require.NoError(t, factory.pc(0).Close())

	sig.deliver(t, signaling.TypeOffer, "a", "b", offerSDP("a-again"))
	require.Equal(t, 2, factory.count())
	require.Equal(t, "remote-offer:a-again", factory.pc(1).RemoteDescription().SDP)
	require.Len(t, m.Peers(), 1)
}

func TestRemoteLeaveAndDisconnectRemoveLinks(t *testing.T) {
	m, sig, factory := newManager(t, "a", mesh.Options{})
	ctx := context.Background()
	require.NoError(t, m.Connect(ctx, "b"))
	require.NoError(t, m.Connect(ctx, "c"))

	sig.deliver(t, signaling.TypeLeave, "b", "", nil)
	require.True(t, factory.pc(0).closed())

	factory.pc(1).setState(webrtc.PeerConnectionStateConnected)
	require.Equal(t, []mesh.PeerInfo{{ID: "c", State: "connected"}}, m.Peers())

	factory.pc(1).setState(webrtc.PeerConnectionStateDisconnected)
	require.Empty(t, m.Peers())
	require.True(t, factory.pc(1).closed())
}

func TestReconcileClosesDepartedPeers(t *testing.T) {
	m, _, factory := newManager(t, "a", mesh.Options{})
	ctx := context.Background()
	require.NoError(t, m.Connect(ctx, "b"))
	require.NoError(t, m.Connect(ctx, "c"))

	m.Reconcile([]string{"a", "c"})
	require.True(t, factory.pc(0).closed())
	require.False(t, factory.pc(1).closed())
	require.Equal(t, "c", m.Peers()[0].ID)
}

func TestFailedLinkRetriesWithBackoffThenReports(t *testing.T) {
	failures := make(chan mesh.PeerFailure, 1)
	m, sig, factory := newManager(t, "a", mesh.Options{
		RetryBase:     time.Millisecond,
		RetryMax:      5 * time.Millisecond,
		RetryAttempts: 1,
		OnPeerFailed:  func(f mesh.PeerFailure) { failures <- f },
	})
	require.NoError(t, m.Connect(context.Background(), "b"))

	factory.pc(0).setState(webrtc.PeerConnectionStateFailed)
	require.Eventually(t, func() bool { return factory.count() == 2 }, 2*time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return len(sig.sentOf(signaling.TypeOffer)) == 2 }, 2*time.Second, time.Millisecond)

	factory.pc(1).setState(webrtc.PeerConnectionStateFailed)
	select {
	case f := <-failures:
		require.Equal(t, "b", f.PeerID)
		require.Equal(t, 1, f.Attempts)
		require.ErrorIs(t, f.Err, mesh.ErrConnectionFailed)
		require.Equal(t, mesh.AudioOnlyHint, f.Hint)
	case <-time.After(2 * time.Second):
		t.Fatal("failure was not reported")
	}
	require.Empty(t, m.Peers())
}

func TestFailedLinkWaitsForCanonicalOfferer(t *testing.T) {
	m, _, factory := newManager(t, "b", mesh.Options{RetryBase: time.Millisecond, RetryAttempts: 3})
	require.NoError(t, m.Connect(context.Background(), "a"))

	factory.pc(0).setState(webrtc.PeerConnectionStateFailed)
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, 1, factory.count())
	require.Empty(t, m.Peers())
}

type failingMedia struct{}

func (failingMedia) Acquire(bool, bool) (*mesh.Stream, error) { return nil, errors.New("no camera") }
func (failingMedia) Release(*mesh.Stream)                     {}

func TestStartReportsMediaUnavailable(t *testing.T) {
	m, err := mesh.New(&fakeSignaler{}, &fakeFactory{}, failingMedia{}, mesh.Options{
		SessionID: "s1", SelfID: "a", Video: true,
	}, testLogger())
	require.NoError(t, err)
	require.ErrorIs(t, m.Start(context.Background()), mesh.ErrMediaUnavailable)

	_, err = mesh.NewSyntheticSource().Acquire(false, false)
	require.ErrorIs(t, err, mesh.ErrMediaUnavailable)
}

func TestLeaveReleasesEverything(t *testing.T) {
	ctx := context.Background()
	sig := &fakeSignaler{}
	factory := &fakeFactory{}
	source := mesh.NewSyntheticSource()
	m, err := mesh.New(sig, factory, source, mesh.Options{SessionID: "s1", SelfID: "a", Video: true, Audio: true}, testLogger())
	require.NoError(t, err)
	require.NoError(t, m.Start(ctx))
	require.Equal(t, 1, source.Active())

	require.NoError(t, m.Join(ctx))
	require.NoError(t, m.Connect(ctx, "b"))
	require.Equal(t, 2, factory.pc(0).tracks)

	require.NoError(t, m.Leave(ctx))
	require.NoError(t, m.Leave(ctx))

	require.Len(t, sig.sentOf(signaling.TypeJoin), 1)
	leaves := sig.sentOf(signaling.TypeLeave)
	require.Len(t, leaves, 1)
	require.Empty(t, leaves[0].To)
	require.True(t, factory.pc(0).closed())
	require.Zero(t, source.Active())
	require.True(t, sig.cancelled)
	require.Empty(t, m.Peers())
	require.ErrorIs(t, m.Connect(ctx, "c"), mesh.ErrClosed)
}

func TestTwoManagersNegotiateOverRelay(t *testing.T) {
	ctx := context.Background()
	db, err := sqlite.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	relay := signaling.NewRelay(sqlite.NewSignalingRepository(db, testLogger()), signaling.Options{}, testLogger())
	t.Cleanup(relay.Close)

	start := func(self string) (*mesh.Manager, *fakeFactory) {
		factory := &fakeFactory{}
		m, err := mesh.New(relay, factory, nil, mesh.Options{SessionID: "s1", SelfID: self}, testLogger())
		require.NoError(t, err)
		require.NoError(t, m.Start(ctx))
		t.Cleanup(func() { _ = m.Leave(ctx) })
		return m, factory
	}

	existing, existingPCs := start("b")
	joiner, joinerPCs := start("a")
	require.NoError(t, joiner.Join(ctx))

	require.Eventually(t, func() bool {
		if existingPCs.count() != 1 {
			return false
		}
		pc := existingPCs.pc(0)
		return pc.SignalingState() == webrtc.SignalingStateStable && pc.RemoteDescription() != nil
	}, 2*time.Second, 5*time.Millisecond)

	require.Equal(t, 1, joinerPCs.count())
	require.Equal(t, "offer:pc0", joinerPCs.pc(0).RemoteDescription().SDP)
	require.Equal(t, "answer:pc0", existingPCs.pc(0).RemoteDescription().SDP)

	require.NoError(t, joiner.Leave(ctx))
	require.Eventually(t, func() bool { return len(existing.Peers()) == 0 }, 2*time.Second, 5*time.Millisecond)
}
