package notion

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBlockUnmarshalReadsTypedPayload(t *testing.T) {
	t.Parallel()

	raw := `{
		"object": "block",
		"id": "b1",
		"type": "callout",
		"has_children": false,
		"callout": {
			"rich_text": [{"type": "text", "plain_text": "Heads up", "href": null,
				"annotations": {"bold": true, "color": "red"}}],
			"icon": {"type": "emoji", "emoji": "🔥"}
		}
	}`
	var b Block
	require.NoError(t, json.Unmarshal([]byte(raw), &b))
	require.Equal(t, BlockCallout, b.Type)
	require.Len(t, b.Content.RichText, 1)
	require.True(t, b.Content.RichText[0].Annotations.Bold)
	require.True(t, b.Content.RichText[0].Annotations.HasColor())
	require.Equal(t, "🔥", b.Content.Icon.Emoji)
}

func TestBlockUnmarshalWithoutPayload(t *testing.T) {
	t.Parallel()

	var b Block
	require.NoError(t, json.Unmarshal([]byte(`{"id":"d","type":"divider","divider":null}`), &b))
	require.Equal(t, BlockDivider, b.Type)
	require.Empty(t, b.Content.RichText)
}

func TestBlockRoundTripKeepsWireShape(t *testing.T) {
	t.Parallel()

	in := Block{ID: "c", Type: BlockCode, Content: BlockContent{
		RichText: []RichText{{PlainText: "fmt.Println()"}},
		Language: "go",
	}}
	data, err := json.Marshal(in)
	require.NoError(t, err)
	require.Contains(t, string(data), `"code":{`)

	var out Block
	require.NoError(t, json.Unmarshal(data, &out))
	require.Equal(t, in.ID, out.ID)
	require.Equal(t, "go", out.Content.Language)
}

func TestLinearRetryPolicy(t *testing.T) {
	t.Parallel()

	p := NewLinearRetryPolicy(3, 200*time.Millisecond)
	tests := []struct {
		name    string
		status  int
		attempt int
		want    bool
	}{
		{"rate limited", 429, 0, true},
		{"server error", 503, 2, true},
		{"exhausted", 500, 3, false},
		{"client error", 404, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, p.ShouldRetry(tt.status, tt.attempt))
		})
	}

	require.Equal(t, 600*time.Millisecond, p.Backoff(2, ""))
	require.Equal(t, 200*time.Millisecond, p.Backoff(0, "0"))
	require.Equal(t, 200*time.Millisecond, p.Backoff(0, "soon"))
	require.Equal(t, 1500*time.Millisecond, p.Backoff(0, "1.5"))
}

func TestLinearRetryPolicyCapsRetryAfter(t *testing.T) {
	t.Parallel()

	short := NewLinearRetryPolicy(3, 200*time.Millisecond)
	require.Equal(t, time.Minute, short.MaxWait())
	require.Equal(t, 30*time.Second, short.Backoff(0, "30"))
	require.Equal(t, time.Minute, short.Backoff(0, "86400"))
	require.Equal(t, time.Minute, short.Backoff(0, "1e300"))
	require.Equal(t, time.Minute, short.Backoff(0, "+Inf"))

	long := NewLinearRetryPolicy(5, 20*time.Second)
	require.Equal(t, 2*time.Minute, long.MaxWait())
	require.Equal(t, 2*time.Minute, long.Backoff(1, "3600"))
	require.Equal(t, 90*time.Second, long.Backoff(1, "90"))
}
