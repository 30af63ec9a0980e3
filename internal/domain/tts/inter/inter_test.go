package inter

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTextPolicy_TruncatesDeterministically(t *testing.T) {
	policy := TextPolicy{MaxChars: 300, Overflow: OverflowTruncate}
	text := strings.Repeat("a", 301)

	first, err := policy.Apply("gradio", text)
	require.NoError(t, err)
	second, err := policy.Apply("gradio", text)
	require.NoError(t, err)

	assert.Len(t, first, 300)
	assert.Equal(t, first, second)
}

func TestTextPolicy_RejectsDeterministically(t *testing.T) {
	policy := TextPolicy{MaxChars: 300, Overflow: OverflowReject}
	text := strings.Repeat("b", 301)

	for i := 0; i < 2; i++ {
		_, err := policy.Apply("openai", text)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrRejected))
	}
}

func TestTextPolicy_CountsRunes(t *testing.T) {
	policy := TextPolicy{MaxChars: 3}
	out, err := policy.Apply("edge", "héllo")
	require.NoError(t, err)
	assert.Equal(t, "hél", out)

	out, err = policy.Apply("edge", "ab cd")
	require.NoError(t, err)
	assert.Equal(t, "ab", out, "trailing space is trimmed")

	out, err = policy.Apply("edge", "abc")
	require.NoError(t, err)
	assert.Equal(t, "abc", out)

	unlimited := TextPolicy{}
	out, err = unlimited.Apply("edge", strings.Repeat("x", 10000))
	require.NoError(t, err)
	assert.Len(t, out, 10000)
}

func TestParseOverflow(t *testing.T) {
	assert.Equal(t, OverflowReject, ParseOverflow("Reject"))
	assert.Equal(t, OverflowTruncate, ParseOverflow(""))
	assert.Equal(t, OverflowTruncate, ParseOverflow("truncate"))
}

func TestProviderError_IsByKind(t *testing.T) {
	err := fmt.Errorf("attempt: %w", NewError("gradio", KindNoJob, "missing event_id", nil))

	assert.True(t, errors.Is(err, ErrNoJob))
	assert.False(t, errors.Is(err, ErrTimeout))
	assert.True(t, errors.Is(err, &ProviderError{Provider: "gradio", Kind: KindNoJob}))
	assert.False(t, errors.Is(err, &ProviderError{Provider: "edge", Kind: KindNoJob}))
}

func TestStatusError(t *testing.T) {
	assert.Equal(t, KindRejected, StatusError("p", 401, "").Kind)
	assert.Equal(t, KindRejected, StatusError("p", 422, "").Kind)
	assert.Equal(t, KindTimeout, StatusError("p", 504, "").Kind)
	assert.Equal(t, KindNetworkFailure, StatusError("p", 503, "").Kind)

	long := StatusError("p", 400, strings.Repeat("z", 1000))
	assert.Len(t, long.Message, 256)
	assert.Contains(t, long.Error(), "status 400")
}

func TestTransportError(t *testing.T) {
	assert.Equal(t, KindTimeout, TransportError("p", context.DeadlineExceeded).Kind)
	assert.Equal(t, KindNetworkFailure, TransportError("p", errors.New("connection refused")).Kind)

	original := NewError("p", KindEmptyAudio, "", nil)
	assert.Same(t, original, TransportError("p", original))
}
