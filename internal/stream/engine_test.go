package stream

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type nopCloser struct{ io.Reader }

func (nopCloser) Close() error { return nil }

func sseBody(s string) io.ReadCloser {
	return nopCloser{strings.NewReader(s)}
}

func TestEngineReassemblesToolInputAcrossDeltas(t *testing.T) {
	body := sseBody(strings.Join([]string{
		`data: {"type":"message_start","message":{"id":"m1","usage":{"input_tokens":10}}}`,
		"",
		`data: {"type":"content_block_start","index":0,"content_block":{"type":"tool_use","id":"call_1","name":"bash"}}`,
		"",
		`data: {"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":"{\"command\""}}`,
		"",
		`data: {"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":":\"ls -la\"}"}}`,
		"",
		`data: {"type":"content_block_stop","index":0}`,
		"",
		`data: {"type":"message_stop"}`,
		"",
	}, "\n"))

	ch := Run(context.Background(), body)

	var final []Block
	for ev := range ch {
		if ev.Type == EventMessageStop {
			final = ev.FinalContent
		}
	}

	require.Len(t, final, 1)
	require.Equal(t, "ls -la", final[0].ToolInput["command"])
}

func TestEngineToleratesOutOfOrderBlockCompletion(t *testing.T) {
	body := sseBody(strings.Join([]string{
		`data: {"type":"content_block_start","index":0,"content_block":{"type":"text"}}`,
		"",
		`data: {"type":"content_block_start","index":1,"content_block":{"type":"text"}}`,
		"",
		`data: {"type":"content_block_delta","index":1,"delta":{"type":"text_delta","text":"second"}}`,
		"",
		`data: {"type":"content_block_stop","index":1}`,
		"",
		`data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"first"}}`,
		"",
		`data: {"type":"content_block_stop","index":0}`,
		"",
		`data: {"type":"message_stop"}`,
		"",
	}, "\n"))

	ch := Run(context.Background(), body)
	var final []Block
	for ev := range ch {
		if ev.Type == EventMessageStop {
			final = ev.FinalContent
		}
	}
	require.Len(t, final, 2)
	require.Equal(t, "first", final[0].Text)
	require.Equal(t, "second", final[1].Text)
}

func TestEngineCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	pr, pw := io.Pipe()
	ch := Run(ctx, pr)
	cancel()
	_ = pw.Close()

	select {
	case ev, ok := <-ch:
		if ok {
			require.Equal(t, EventCancelled, ev.Type)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for cancellation event")
	}
}

func TestDecoderHandlesDoneSentinel(t *testing.T) {
	d := NewDecoder(strings.NewReader("data: {\"a\":1}\n\ndata: [DONE]\n\n"))
	ev, err := d.Next()
	require.NoError(t, err)
	require.Equal(t, `{"a":1}`, ev.Data)

	_, err = d.Next()
	require.ErrorIs(t, err, io.EOF)
	require.True(t, d.Done())
}
