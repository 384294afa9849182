package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/janakkhadka100/fb-post-ai/pkg/logging"
)

type fakeClient struct {
	records []*kgo.Record
	err     error
	closed  bool
}

func (f *fakeClient) ProduceSync(_ context.Context, rs ...*kgo.Record) kgo.ProduceResults {
	f.records = append(f.records, rs...)
	out := make(kgo.ProduceResults, 0, len(rs))
	for _, r := range rs {
		out = append(out, kgo.ProduceResult{Record: r, Err: f.err})
	}
	return out
}

func (f *fakeClient) Ping(context.Context) error { return f.err }
func (f *fakeClient) Close()                     { f.closed = true }

func TestProduceBuildsRecord(t *testing.T) {
	fc := &fakeClient{}
	p := &Producer{client: fc, logger: logging.NewDiscardLogger(), timeout: time.Second}

	err := p.Produce(context.Background(), "audit", []byte("req-1"), []byte(`{"type":"error"}`), map[string]string{"event_type": "error"})
	require.NoError(t, err)
	require.Len(t, fc.records, 1)
	rec := fc.records[0]
	require.Equal(t, "audit", rec.Topic)
	require.Equal(t, "req-1", string(rec.Key))
	require.Len(t, rec.Headers, 1)
	require.Equal(t, "event_type", rec.Headers[0].Key)

	require.NoError(t, p.Close())
	require.True(t, fc.closed)
}

func TestProduceSurfacesBrokerErrors(t *testing.T) {
	fc := &fakeClient{err: errors.New("broker down")}
	p := &Producer{client: fc, logger: logging.NewDiscardLogger(), timeout: time.Second}

	require.Error(t, p.Produce(context.Background(), "audit", nil, []byte("{}"), nil))
	require.Error(t, p.Ping(context.Background()))
}

func TestNewProducerRequiresBrokers(t *testing.T) {
	_, err := NewProducer(nil, "fbpostai", logging.NewDiscardLogger())
	require.Error(t, err)
}
