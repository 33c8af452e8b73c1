package msgstore

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPushAndHistory(t *testing.T) {
	s := New()
	s.Push(Message{Kind: KindStdout, Chunk: []byte("hello\n")})
	s.Push(Message{Kind: KindStderr, Chunk: []byte("warn\n")})
	s.PushFinished()

	hist := s.GetHistory()
	require.Len(t, hist, 3)
	assert.Equal(t, KindStdout, hist[0].Kind)
	assert.Equal(t, KindFinished, hist[2].Kind)
	assert.True(t, s.IsFinished())
}

func TestPushAfterFinishedIsNoOp(t *testing.T) {
	s := New()
	s.PushFinished()
	s.Push(Message{Kind: KindStdout, Chunk: []byte("late\n")})
	assert.Len(t, s.GetHistory(), 1)
}

func TestSubscriberReceivesFullHistoryThenLive(t *testing.T) {
	s := New()
	s.Push(Message{Kind: KindStdout, Chunk: []byte("a\n")})

	sub := s.HistoryPlusStream()
	defer sub.Close()

	msg, ok := sub.Next()
	require.True(t, ok)
	assert.Equal(t, "a\n", string(msg.Chunk))

	s.Push(Message{Kind: KindStdout, Chunk: []byte("b\n")})
	msg, ok = sub.Next()
	require.True(t, ok)
	assert.Equal(t, "b\n", string(msg.Chunk))

	s.PushFinished()
	msg, ok = sub.Next()
	require.True(t, ok)
	assert.Equal(t, KindFinished, msg.Kind)
}

func TestLateSubscriberReplaysFullHistory(t *testing.T) {
	s := New()
	s.Push(Message{Kind: KindStdout, Chunk: []byte("one\n")})
	s.Push(Message{Kind: KindStdout, Chunk: []byte("two\n")})
	s.PushFinished()

	sub := s.HistoryPlusStream()
	defer sub.Close()

	var got []string
	for {
		msg, ok := sub.Next()
		if !ok {
			break
		}
		if msg.Kind == KindFinished {
			got = append(got, "FIN")
			break
		}
		got = append(got, string(msg.Chunk))
	}
	assert.Equal(t, []string{"one\n", "two\n", "FIN"}, got)
}

func TestSpawnForwarder(t *testing.T) {
	s := New()
	r := strings.NewReader("line1\nline2\n")
	s.SpawnForwarder(r, KindStdout)

	deadline := time.Now().Add(time.Second)
	for len(s.GetHistory()) < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	hist := s.GetHistory()
	require.GreaterOrEqual(t, len(hist), 2)
	assert.Equal(t, "line1\n", string(hist[0].Chunk))
	assert.Equal(t, "line2\n", string(hist[1].Chunk))
}
