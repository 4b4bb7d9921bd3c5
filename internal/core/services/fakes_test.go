package services

import (
	"context"
	"encoding/json"
	"sync"

	"codecollab/internal/core/domain"
	"codecollab/internal/core/ports"
	"codecollab/internal/crdt"
)

// fakeRelay records everything sent and lets tests inject inbound traffic by
// invoking the registered callbacks.
type fakeRelay struct {
	mu        sync.Mutex
	clientID  domain.ClientID
	connected bool

	sentOps      []sentOpBatch
	sentPresence []domain.PresenceEntry
	sentSignals  []domain.SignalEnvelope

	sendErr error

	onDocOps   func(sender domain.ClientID, fileID domain.FileID, ops []crdt.Op)
	onPresence func(entries map[domain.ClientID]domain.PresenceEntry)
	onSignal   func(env domain.SignalEnvelope)
	onStatus   []func(status ports.ConnStatus)
}

type sentOpBatch struct {
	fileID domain.FileID
	ops    []crdt.Op
}

func newFakeRelay(id domain.ClientID) *fakeRelay {
	return &fakeRelay{clientID: id}
}

func (f *fakeRelay) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = true
	return nil
}

func (f *fakeRelay) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	return nil
}

func (f *fakeRelay) ClientID() domain.ClientID { return f.clientID }

func (f *fakeRelay) SendOps(fileID domain.FileID, ops []crdt.Op) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	cp := make([]crdt.Op, len(ops))
	copy(cp, ops)
	f.sentOps = append(f.sentOps, sentOpBatch{fileID: fileID, ops: cp})
	return nil
}

func (f *fakeRelay) SendPresence(entry domain.PresenceEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sentPresence = append(f.sentPresence, entry.Clone())
	return nil
}

func (f *fakeRelay) SendSignal(env domain.SignalEnvelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sentSignals = append(f.sentSignals, env)
	return nil
}

func (f *fakeRelay) OnDocOps(fn func(sender domain.ClientID, fileID domain.FileID, ops []crdt.Op)) {
	f.onDocOps = fn
}

func (f *fakeRelay) OnPresence(fn func(entries map[domain.ClientID]domain.PresenceEntry)) {
	f.onPresence = fn
}

func (f *fakeRelay) OnSignal(fn func(env domain.SignalEnvelope)) { f.onSignal = fn }

func (f *fakeRelay) OnStatus(fn func(status ports.ConnStatus)) {
	f.onStatus = append(f.onStatus, fn)
}

func (f *fakeRelay) emitDocOps(sender domain.ClientID, fileID domain.FileID, ops []crdt.Op) {
	if f.onDocOps != nil {
		f.onDocOps(sender, fileID, ops)
	}
}

func (f *fakeRelay) emitPresence(entries map[domain.ClientID]domain.PresenceEntry) {
	if f.onPresence != nil {
		f.onPresence(entries)
	}
}

func (f *fakeRelay) emitSignal(env domain.SignalEnvelope) {
	if f.onSignal != nil {
		f.onSignal(env)
	}
}

func (f *fakeRelay) emitStatus(status ports.ConnStatus) {
	for _, fn := range f.onStatus {
		fn(status)
	}
}

func (f *fakeRelay) setSendErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendErr = err
}

func (f *fakeRelay) lastPresence() domain.PresenceEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sentPresence) == 0 {
		return domain.PresenceEntry{}
	}
	return f.sentPresence[len(f.sentPresence)-1].Clone()
}

func (f *fakeRelay) opBatches() []sentOpBatch {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]sentOpBatch, len(f.sentOps))
	copy(out, f.sentOps)
	return out
}

func (f *fakeRelay) signals() []domain.SignalEnvelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.SignalEnvelope, len(f.sentSignals))
	copy(out, f.sentSignals)
	return out
}

// fakePeer is a scripted media connection.
type fakePeer struct {
	mu          sync.Mutex
	remote      domain.ClientID
	closed      bool
	offers      int
	answers     int
	accepted    [][]byte
	candidates  [][]byte
	onCandidate func(candidate json.RawMessage)
	onConnected func()
}

func (p *fakePeer) CreateOffer(ctx context.Context) (json.RawMessage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.offers++
	return json.RawMessage(`{"type":"offer","sdp":"v=0"}`), nil
}

func (p *fakePeer) CreateAnswer(ctx context.Context, offer json.RawMessage) (json.RawMessage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.answers++
	return json.RawMessage(`{"type":"answer","sdp":"v=0"}`), nil
}

func (p *fakePeer) AcceptAnswer(answer json.RawMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.accepted = append(p.accepted, answer)
	return nil
}

func (p *fakePeer) AddCandidate(candidate json.RawMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.candidates = append(p.candidates, candidate)
	return nil
}

func (p *fakePeer) OnCandidate(fn func(candidate json.RawMessage)) { p.onCandidate = fn }

func (p *fakePeer) OnConnected(fn func()) { p.onConnected = fn }

func (p *fakePeer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePeer) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// fakeEngine mints fakePeers and tracks capture state.
type fakeEngine struct {
	mu         sync.Mutex
	capturing  bool
	muted      bool
	captureErr error
	peers      map[domain.ClientID]*fakePeer
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{peers: make(map[domain.ClientID]*fakePeer)}
}

func (e *fakeEngine) StartCapture(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.captureErr != nil {
		return e.captureErr
	}
	e.capturing = true
	return nil
}

func (e *fakeEngine) StopCapture() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.capturing = false
}

func (e *fakeEngine) CaptureActive() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.capturing
}

func (e *fakeEngine) SetMuted(muted bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.muted = muted
}

func (e *fakeEngine) NewPeer(ctx context.Context, remote domain.ClientID) (ports.MediaPeer, error) {
	p := &fakePeer{remote: remote}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.peers[remote] = p
	return p, nil
}

func (e *fakeEngine) peer(remote domain.ClientID) *fakePeer {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.peers[remote]
}

// fakeBuffer is an in-memory editor buffer driven by tests.
type fakeBuffer struct {
	mu           sync.Mutex
	text         []rune
	onChange     func(change ports.BufferChange)
	onCursorMove func(pos domain.CursorPosition)

	inserts int
	deletes int
	setText int
}

// InsertText fires the change event like widgets that report programmatic
// edits; the binding's echo guard must absorb it.
func (b *fakeBuffer) InsertText(index int, text string) {
	b.mu.Lock()
	b.inserts++
	r := []rune(text)
	b.text = append(b.text[:index], append(r, b.text[index:]...)...)
	fn := b.onChange
	b.mu.Unlock()

	if fn != nil {
		fn(ports.BufferChange{Index: index, Inserted: text})
	}
}

func (b *fakeBuffer) DeleteText(index, n int) {
	b.mu.Lock()
	b.deletes++
	b.text = append(b.text[:index], b.text[index+n:]...)
	fn := b.onChange
	b.mu.Unlock()

	if fn != nil {
		fn(ports.BufferChange{Index: index, Deleted: n})
	}
}

func (b *fakeBuffer) Text() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.text)
}

func (b *fakeBuffer) SetText(text string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.setText++
	b.text = []rune(text)
}

func (b *fakeBuffer) OnChange(fn func(change ports.BufferChange)) { b.onChange = fn }

func (b *fakeBuffer) OnCursorMove(fn func(pos domain.CursorPosition)) { b.onCursorMove = fn }

// typeLocal simulates a user edit: mutate the buffer, then fire the change
// event the way a real widget does.
func (b *fakeBuffer) typeLocal(index int, inserted string, deleted int) {
	b.mu.Lock()
	r := []rune(inserted)
	if deleted > 0 {
		b.text = append(b.text[:index], b.text[index+deleted:]...)
	}
	b.text = append(b.text[:index], append(r, b.text[index:]...)...)
	fn := b.onChange
	b.mu.Unlock()

	if fn != nil {
		fn(ports.BufferChange{Index: index, Inserted: inserted, Deleted: deleted})
	}
}

func (b *fakeBuffer) moveCursor(line, col int) {
	b.mu.Lock()
	fn := b.onCursorMove
	b.mu.Unlock()
	if fn != nil {
		fn(domain.CursorPosition{LineNumber: line, Column: col})
	}
}
