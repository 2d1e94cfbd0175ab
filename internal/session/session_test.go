package session_test

import (
	"bytes"
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"segtransfer/internal/checksum"
	"segtransfer/internal/errors"
	"segtransfer/internal/fault"
	"segtransfer/internal/network"
	"segtransfer/internal/protocol"
	"segtransfer/internal/session"
)

func testParams() session.Params {
	return session.Params{
		SegmentSize: 512,
		MaxRetries:  5,
		AckTimeout:  2 * time.Second,
	}
}

func testFile(size int) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}

// eventLog collects events from a session goroutine.
type eventLog struct {
	mu     sync.Mutex
	events []session.Event
}

func (l *eventLog) sink() session.Sink {
	return func(ev session.Event) {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.events = append(l.events, ev)
	}
}

func (l *eventLog) all() []session.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]session.Event(nil), l.events...)
}

// runTransfer wires a sender and receiver over an in-memory pipe and
// runs the transfer to completion on both sides.
func runTransfer(t *testing.T, fileData []byte, injector *fault.Injector,
	params session.Params, senderSink, receiverSink session.Sink,
) (*session.Sender, *session.Receiver, []byte, error, error) {
	t.Helper()

	serverConn, clientConn := net.Pipe()
	t.Cleanup(func() {
		serverConn.Close()
		clientConn.Close()
	})

	serverSide := network.NewFramedConn(serverConn, 0)
	sender := session.NewSender(serverSide, injector, params, senderSink)
	receiver := session.NewReceiver(network.NewFramedConn(clientConn, 0), params, receiverSink)

	var senderErr error
	done := make(chan struct{})
	go func() {
		defer close(done)
		// Consume the request frame the way the serving loop does
		if _, err := serverSide.ReadFrame(context.Background()); err != nil {
			senderErr = err
			return
		}
		senderErr = sender.Run(context.Background(), "test.txt", fileData)
	}()

	data, receiverErr := receiver.Run(context.Background(), "test.txt", injector.Probability())

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("sender did not finish")
	}

	return sender, receiver, data, senderErr, receiverErr
}

func TestTransfer_CleanChannel(t *testing.T) {
	fileData := testFile(2500) // 5 segments: 512,512,512,512,452
	injector := fault.NewSeeded(0.0, 1)

	var senderLog, receiverLog eventLog
	sender, receiver, data, senderErr, receiverErr := runTransfer(
		t, fileData, injector, testParams(), senderLog.sink(), receiverLog.sink())

	require.NoError(t, senderErr)
	require.NoError(t, receiverErr)
	require.True(t, bytes.Equal(fileData, data))

	assert.Equal(t, session.StateCompleted, sender.State())
	assert.Equal(t, session.StateCompleted, receiver.State())

	senderStats := sender.Snapshot()
	assert.Equal(t, 5, senderStats.TotalSegments)
	assert.Equal(t, 5, senderStats.SegmentsSent)
	assert.Equal(t, 5, senderStats.SegmentsAcked)
	assert.Equal(t, 0, senderStats.Retransmissions)

	receiverStats := receiver.Snapshot()
	assert.Equal(t, 0, receiverStats.ErrorsDetected)
	assert.Equal(t, 5, receiverStats.SegmentsAcked)
	assert.Equal(t, int64(2500), receiverStats.FileSize)
}

func TestTransfer_CleanChannel_Events(t *testing.T) {
	fileData := testFile(2500)
	injector := fault.NewSeeded(0.0, 1)

	var receiverLog eventLog
	_, _, _, senderErr, receiverErr := runTransfer(
		t, fileData, injector, testParams(), nil, receiverLog.sink())
	require.NoError(t, senderErr)
	require.NoError(t, receiverErr)

	events := receiverLog.all()
	require.Len(t, events, 7) // start + 5 segments + complete

	start, ok := events[0].(session.TransferStart)
	require.True(t, ok, "first event must be TransferStart")
	assert.Equal(t, 5, start.TotalSegments)
	assert.Equal(t, int64(2500), start.FileSize)

	for i, ev := range events[1:6] {
		status, ok := ev.(session.SegmentStatus)
		require.True(t, ok, "event %d must be SegmentStatus", i+1)
		assert.Equal(t, i, status.SeqNum)
		assert.Equal(t, session.StatusSuccess, status.Status)
		assert.False(t, status.ErrorSimulated)
	}

	complete, ok := events[6].(session.TransferComplete)
	require.True(t, ok, "last event must be TransferComplete")
	assert.True(t, complete.Success)
}

// With corruption on every attempt the first segment can never be
// verified: the sender must give up after exactly MaxRetries
// transmission attempts and abort the whole transfer.
func TestTransfer_AlwaysCorrupted_AbortsAfterRetryBudget(t *testing.T) {
	fileData := testFile(2500)
	injector := fault.NewSeeded(1.0, 7)

	var receiverLog eventLog
	sender, receiver, data, senderErr, receiverErr := runTransfer(
		t, fileData, injector, testParams(), nil, receiverLog.sink())

	require.Error(t, senderErr)
	assert.ErrorIs(t, senderErr, errors.ErrRetryBudgetExceeded)

	var segErr *errors.SegmentError
	require.ErrorAs(t, senderErr, &segErr)
	assert.Equal(t, 0, segErr.SeqNum)
	assert.Equal(t, 5, segErr.Attempts)

	require.Error(t, receiverErr)
	assert.Nil(t, data, "no partial data on abort")

	assert.Equal(t, session.StateAborted, sender.State())
	assert.Equal(t, session.StateAborted, receiver.State())

	senderStats := sender.Snapshot()
	assert.Equal(t, 5, senderStats.SegmentsSent, "exactly MaxRetries attempts, not more, not fewer")
	assert.Equal(t, 0, senderStats.SegmentsAcked)
	assert.Equal(t, 4, senderStats.Retransmissions, "the final failed attempt is not a retransmission")

	receiverStats := receiver.Snapshot()
	assert.Equal(t, 5, receiverStats.ErrorsDetected)
	assert.Equal(t, 0, receiverStats.SegmentsAcked)

	// Every rejection was observed as a simulated corruption
	errorEvents := 0
	for _, ev := range receiverLog.all() {
		if status, ok := ev.(session.SegmentStatus); ok {
			assert.Equal(t, session.StatusError, status.Status)
			assert.True(t, status.ErrorSimulated)
			errorEvents++
		}
	}
	assert.Equal(t, 5, errorEvents)
}

// corruptingTransport garbles the first data frame for a chosen
// sequence number, forcing one malformed-packet round trip.
type corruptingTransport struct {
	session.Transport
	targetSeq int
	done      bool
}

func (ct *corruptingTransport) WriteFrame(body []byte) error {
	if !ct.done {
		if typ, err := protocol.FrameType(body); err == nil && typ == protocol.TypeData {
			if packet, err := protocol.DecodePacket(body, 0); err == nil && packet.SeqNum == ct.targetSeq {
				ct.done = true
				return ct.Transport.WriteFrame([]byte(`{"type":"data","seq_num":`))
			}
		}
	}
	return ct.Transport.WriteFrame(body)
}

func TestTransfer_MalformedPacketIsRetried(t *testing.T) {
	fileData := testFile(2500)
	params := testParams()

	serverConn, clientConn := net.Pipe()
	t.Cleanup(func() {
		serverConn.Close()
		clientConn.Close()
	})

	serverSide := network.NewFramedConn(serverConn, 0)
	transport := &corruptingTransport{
		Transport: serverSide,
		targetSeq: 2,
	}
	sender := session.NewSender(transport, fault.NewSeeded(0.0, 1), params, nil)
	receiver := session.NewReceiver(network.NewFramedConn(clientConn, 0), params, nil)

	var senderErr error
	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := serverSide.ReadFrame(context.Background()); err != nil {
			senderErr = err
			return
		}
		senderErr = sender.Run(context.Background(), "test.txt", fileData)
	}()

	data, receiverErr := receiver.Run(context.Background(), "test.txt", 0)
	<-done

	require.NoError(t, senderErr)
	require.NoError(t, receiverErr)
	require.True(t, bytes.Equal(fileData, data))

	assert.Equal(t, 1, sender.Snapshot().Retransmissions)
	assert.Equal(t, 6, sender.Snapshot().SegmentsSent)
	assert.Equal(t, 1, receiver.Snapshot().ErrorsDetected)
}

// writeControl, writePacket, and readControl drive a hand-scripted
// peer over a real framed connection.
func writeControl(fc *network.FramedConn, c protocol.Control) error {
	frame, err := protocol.EncodeControl(c)
	if err != nil {
		return err
	}
	return fc.WriteFrame(frame)
}

func writePacket(fc *network.FramedConn, seq int, payload []byte) error {
	frame, err := protocol.EncodePacket(protocol.Packet{
		SeqNum:   seq,
		Payload:  payload,
		Checksum: checksum.Sum(payload),
	})
	if err != nil {
		return err
	}
	return fc.WriteFrame(frame)
}

func readControl(fc *network.FramedConn) (protocol.Control, error) {
	frame, err := fc.ReadFrame(context.Background())
	if err != nil {
		return protocol.Control{}, err
	}
	return protocol.DecodeControl(frame)
}

// A verdict that arrives after the sender's timeout must satisfy the
// retransmitted attempt instead of being lost, and the re-ack the
// retransmission provokes must not derail the next segment.
func TestSender_LateVerdictSatisfiesRetransmission(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	t.Cleanup(func() {
		serverConn.Close()
		clientConn.Close()
	})

	params := session.Params{
		SegmentSize: 512,
		MaxRetries:  5,
		AckTimeout:  200 * time.Millisecond,
	}
	sender := session.NewSender(network.NewFramedConn(serverConn, 0), fault.NewSeeded(0.0, 1), params, nil)
	peer := network.NewFramedConn(clientConn, 0)

	fileData := testFile(600) // 2 segments

	peerScript := func() error {
		ctx := context.Background()
		if _, err := peer.ReadFrame(ctx); err != nil { // meta
			return err
		}
		if err := writeControl(peer, protocol.NewReady()); err != nil {
			return err
		}
		if _, err := peer.ReadFrame(ctx); err != nil { // segment 0
			return err
		}
		// Hold the verdict until well past the sender's timeout
		time.Sleep(300 * time.Millisecond)
		if err := writeControl(peer, protocol.NewAck(0)); err != nil {
			return err
		}
		if _, err := peer.ReadFrame(ctx); err != nil { // retransmitted segment 0
			return err
		}
		// Re-ack the duplicate, as a receiver would
		if err := writeControl(peer, protocol.NewAck(0)); err != nil {
			return err
		}
		if _, err := peer.ReadFrame(ctx); err != nil { // segment 1
			return err
		}
		return writeControl(peer, protocol.NewAck(1))
	}

	peerErr := make(chan error, 1)
	go func() { peerErr <- peerScript() }()

	err := sender.Run(context.Background(), "test.txt", fileData)

	require.NoError(t, err)
	require.NoError(t, <-peerErr)
	assert.Equal(t, session.StateCompleted, sender.State())

	stats := sender.Snapshot()
	assert.Equal(t, 3, stats.SegmentsSent, "segment 0 twice, segment 1 once")
	assert.Equal(t, 2, stats.SegmentsAcked)
	assert.Equal(t, 1, stats.Retransmissions)
}

// A duplicate of an already-accepted segment is re-acked so the sender
// can advance; it is not a corruption event.
func TestReceiver_DuplicateSegmentReacked(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	t.Cleanup(func() {
		serverConn.Close()
		clientConn.Close()
	})

	peer := network.NewFramedConn(serverConn, 0)
	receiver := session.NewReceiver(network.NewFramedConn(clientConn, 0), testParams(), nil)

	seg0 := testFile(512)
	seg1 := testFile(100)
	fileData := append(append([]byte(nil), seg0...), seg1...)

	var verdicts []protocol.Control
	peerScript := func() error {
		ctx := context.Background()
		if _, err := peer.ReadFrame(ctx); err != nil { // request
			return err
		}
		if err := writeControl(peer, protocol.NewMeta(2, int64(len(fileData)))); err != nil {
			return err
		}
		if _, err := peer.ReadFrame(ctx); err != nil { // ready
			return err
		}
		for _, seq := range []int{0, 0, 1} { // segment 0 sent twice
			payload := seg0
			if seq == 1 {
				payload = seg1
			}
			if err := writePacket(peer, seq, payload); err != nil {
				return err
			}
			v, err := readControl(peer)
			if err != nil {
				return err
			}
			verdicts = append(verdicts, v)
		}
		return nil
	}

	peerErr := make(chan error, 1)
	go func() { peerErr <- peerScript() }()

	data, err := receiver.Run(context.Background(), "test.txt", 0)

	require.NoError(t, err)
	require.NoError(t, <-peerErr)
	require.True(t, bytes.Equal(fileData, data))

	require.Len(t, verdicts, 3)
	for i, want := range []int{0, 0, 1} {
		assert.Equal(t, protocol.TypeAck, verdicts[i].Type, "verdict %d", i)
		assert.Equal(t, want, verdicts[i].SeqNum, "verdict %d", i)
	}
	assert.Equal(t, 0, receiver.Snapshot().ErrorsDetected)
	assert.Equal(t, 2, receiver.Snapshot().SegmentsAcked)
}

// scriptedTransport replies ready once, then swallows every frame, so
// verdicts never arrive.
type scriptedTransport struct {
	mu        sync.Mutex
	readySent bool
}

func (st *scriptedTransport) WriteFrame(body []byte) error {
	return nil
}

func (st *scriptedTransport) ReadFrame(ctx context.Context) ([]byte, error) {
	st.mu.Lock()
	first := !st.readySent
	st.readySent = true
	st.mu.Unlock()

	if first {
		return protocol.EncodeControl(protocol.NewReady())
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestSender_VerdictTimeoutCountsAgainstBudget(t *testing.T) {
	params := session.Params{
		SegmentSize: 512,
		MaxRetries:  3,
		AckTimeout:  30 * time.Millisecond,
	}
	sender := session.NewSender(&scriptedTransport{}, fault.NewSeeded(0.0, 1), params, nil)

	err := sender.Run(context.Background(), "test.txt", testFile(600))

	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrRetryBudgetExceeded)
	assert.Equal(t, session.StateAborted, sender.State())
	assert.Equal(t, 3, sender.Snapshot().SegmentsSent)
	assert.Equal(t, 2, sender.Snapshot().Retransmissions)
}

func TestSender_CancelledContextAborts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sender := session.NewSender(&scriptedTransport{}, fault.NewSeeded(0.0, 1), testParams(), nil)

	err := sender.Run(ctx, "test.txt", testFile(600))

	require.Error(t, err)
	assert.Equal(t, session.StateAborted, sender.State())
}

func TestReceiver_EmptyFilenameRejected(t *testing.T) {
	receiver := session.NewReceiver(&scriptedTransport{}, testParams(), nil)

	_, err := receiver.Run(context.Background(), "   ", 0)

	assert.ErrorIs(t, err, errors.ErrEmptyFilename)
}

func TestTransfer_SingleSegmentFile(t *testing.T) {
	fileData := testFile(300)
	injector := fault.NewSeeded(0.0, 1)

	_, _, data, senderErr, receiverErr := runTransfer(
		t, fileData, injector, testParams(), nil, nil)

	require.NoError(t, senderErr)
	require.NoError(t, receiverErr)
	assert.True(t, bytes.Equal(fileData, data))
}
