package llm_test

import (
	"context"
	"errors"
	"testing"

	"github.com/aretw0/flowforge/internal/llm"
	"github.com/aretw0/flowforge/internal/llm/mock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrafficRecorder_ListReturnsMostRecentWithinLimit(t *testing.T) {
	rec := llm.NewTrafficRecorder(10)
	adapter := llm.RecordingAdapter{Inner: mock.Adapter{}, Recorder: rec}

	_, err := adapter.Chat(context.Background(), "narrator", []llm.Message{{Role: "user", Content: "hello"}})
	require.NoError(t, err)
	_, err = adapter.Chat(context.Background(), "narrator", []llm.Message{{Role: "user", Content: "world"}})
	require.NoError(t, err)

	all := rec.List(0)
	require.Len(t, all, 2)
	assert.Equal(t, "narrator", all[0].Model)
	assert.Equal(t, 200, all[1].Status)

	lastOne := rec.List(1)
	require.Len(t, lastOne, 1)
	assert.Contains(t, lastOne[0].RespBody["content"], "world")
}

func TestTrafficRecorder_DropsOldestPastCapacity(t *testing.T) {
	rec := llm.NewTrafficRecorder(2)
	adapter := llm.RecordingAdapter{Inner: mock.Adapter{}, Recorder: rec}

	for _, msg := range []string{"one", "two", "three"} {
		_, err := adapter.Chat(context.Background(), "m", []llm.Message{{Role: "user", Content: msg}})
		require.NoError(t, err)
	}

	events := rec.List(0)
	require.Len(t, events, 2, "ring buffer must stay bounded at its capacity")
	assert.Contains(t, events[1].RespBody["content"], "three")
}

func TestTrafficRecorder_RecordsAdapterErrors(t *testing.T) {
	rec := llm.NewTrafficRecorder(10)
	failing := failingAdapter{err: errors.New("boom")}
	adapter := llm.RecordingAdapter{Inner: failing, Recorder: rec}

	_, err := adapter.Chat(context.Background(), "m", nil)
	require.Error(t, err)

	events := rec.List(0)
	require.Len(t, events, 1)
	assert.Equal(t, "boom", events[0].Error)
	assert.Zero(t, events[0].Status)
}

func TestTrafficRecorder_Clear(t *testing.T) {
	rec := llm.NewTrafficRecorder(10)
	adapter := llm.RecordingAdapter{Inner: mock.Adapter{}, Recorder: rec}
	_, err := adapter.Chat(context.Background(), "m", []llm.Message{{Role: "user", Content: "hi"}})
	require.NoError(t, err)
	require.Len(t, rec.List(0), 1)

	rec.Clear()
	assert.Empty(t, rec.List(0))
}

type failingAdapter struct{ err error }

func (f failingAdapter) Chat(context.Context, string, []llm.Message) (llm.Reply, error) {
	return llm.Reply{}, f.err
}
