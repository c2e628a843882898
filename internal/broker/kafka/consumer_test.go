package kafka

import (
	"context"
	"errors"
	"testing"

	pkgerrors "github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
)

type fakeReader struct {
	msgs      []kafka.Message
	err       error
	i         int
	committed []kafka.Message
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if r.i < len(r.msgs) {
		m := r.msgs[r.i]
		r.i++
		return m, nil
	}
	if r.err != nil {
		return kafka.Message{}, r.err
	}
	return kafka.Message{}, errors.New("eof")
}

func (r *fakeReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *fakeReader) Close() error { return nil }

func TestConsumer_Consume_CallsHandlerAndCommits(t *testing.T) {
	fr := &fakeReader{
		msgs: []kafka.Message{{Key: []byte("k"), Value: []byte("v")}},
		err:  errors.New("stop"),
	}
	c := newConsumerWithReader(fr)

	var gotK, gotV []byte
	err := c.Consume(context.Background(), func(k, v []byte) error {
		gotK, gotV = k, v
		return nil
	})
	require.Error(t, err)
	require.Equal(t, []byte("k"), gotK)
	require.Equal(t, []byte("v"), gotV)
	require.Len(t, fr.committed, 1)
}

func TestConsumer_Consume_HandlerErrorStopsWithoutCommit(t *testing.T) {
	fr := &fakeReader{msgs: []kafka.Message{{Key: []byte("k"), Value: []byte("v")}}}
	c := newConsumerWithReader(fr)

	want := errors.New("handler failed")
	err := c.Consume(context.Background(), func(k, v []byte) error { return want })
	require.ErrorIs(t, err, want)
	require.Empty(t, fr.committed)
}

func TestConsumer_Consume_SkipMessageIsCommitted(t *testing.T) {
	fr := &fakeReader{
		msgs: []kafka.Message{{Offset: 1, Value: []byte("bad")}, {Offset: 2, Value: []byte("good")}},
		err:  errors.New("stop"),
	}
	c := newConsumerWithReader(fr)

	var seen []string
	err := c.Consume(context.Background(), func(_, v []byte) error {
		seen = append(seen, string(v))
		if string(v) == "bad" {
			return pkgerrors.Wrap(ErrSkipMessage, "malformed")
		}
		return nil
	})
	require.EqualError(t, err, "fetch message: stop")
	require.Equal(t, []string{"bad", "good"}, seen)
	require.Len(t, fr.committed, 2)
}

func TestConsumer_Consume_RetriesTransientErrors(t *testing.T) {
	fr := &fakeReader{
		msgs: []kafka.Message{{Value: []byte("v")}},
		err:  errors.New("stop"),
	}
	c := newConsumerWithReader(fr).WithRetry(3, 0)

	calls := 0
	err := c.Consume(context.Background(), func(_, _ []byte) error {
		calls++
		if calls < 3 {
			return errors.New("redis down")
		}
		return nil
	})
	require.Error(t, err)
	require.Equal(t, 3, calls)
	require.Len(t, fr.committed, 1)
}

func TestConsumer_Consume_GivesUpAfterAttempts(t *testing.T) {
	fr := &fakeReader{msgs: []kafka.Message{{Offset: 7, Value: []byte("v")}}}
	c := newConsumerWithReader(fr).WithRetry(2, 0)

	calls := 0
	want := errors.New("db down")
	err := c.Consume(context.Background(), func(_, _ []byte) error {
		calls++
		return want
	})
	require.ErrorIs(t, err, want)
	require.Contains(t, err.Error(), "offset 7")
	require.Equal(t, 2, calls)
	require.Empty(t, fr.committed)
}

func TestConsumer_Consume_RedeliversFailedMessageOnNextCall(t *testing.T) {
	fr := &fakeReader{
		msgs: []kafka.Message{{Offset: 1, Value: []byte("a")}, {Offset: 2, Value: []byte("b")}},
		err:  errors.New("stop"),
	}
	c := newConsumerWithReader(fr)

	var seen []string
	fail := true
	handler := func(_, v []byte) error {
		seen = append(seen, string(v))
		if string(v) == "a" && fail {
			return errors.New("db down")
		}
		return nil
	}

	err := c.Consume(context.Background(), handler)
	require.Contains(t, err.Error(), "offset 1")
	require.Empty(t, fr.committed)

	fail = false
	err = c.Consume(context.Background(), handler)
	require.EqualError(t, err, "fetch message: stop")
	require.Equal(t, []string{"a", "a", "b"}, seen)
	require.Len(t, fr.committed, 2)
	require.Equal(t, int64(1), fr.committed[0].Offset)
	require.Equal(t, int64(2), fr.committed[1].Offset)
}

func TestNewConsumer_Close(t *testing.T) {
	c := NewConsumer([]string{"localhost:0"}, "t", "g")
	require.NotNil(t, c)
	require.Equal(t, 3, c.attempts)
	require.NoError(t, c.Close())
}
