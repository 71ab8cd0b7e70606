package action

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHandler struct {
	channel string
	calls   int32
	err     error
}

func (f *fakeHandler) Channel() string { return f.channel }

func (f *fakeHandler) Execute(ctx context.Context, correlationID string, d Descriptor) error {
	atomic.AddInt32(&f.calls, 1)
	return f.err
}

func TestDispatch_RoutesToRegisteredHandler(t *testing.T) {
	d := NewDispatcher(nil)
	h := &fakeHandler{channel: "webhook"}
	d.Register(h, 0)

	err := d.Dispatch(context.Background(), Descriptor{Channel: "webhook", Target: "http://example.com"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, h.calls)
}

func TestDispatch_UnknownChannelErrors(t *testing.T) {
	d := NewDispatcher(nil)
	err := d.Dispatch(context.Background(), Descriptor{Channel: "carrier_pigeon"})
	assert.Error(t, err)
}

func TestRender_SubstitutesTemplateVariables(t *testing.T) {
	out, err := Render("amount was {{ amount }}", map[string]any{"amount": 150})
	require.NoError(t, err)
	assert.Equal(t, "amount was 150", out)
}

func TestExtractField_DottedPath(t *testing.T) {
	data := map[string]any{"transaction": map[string]any{"amount": 150.0}}
	v, err := ExtractField(data, "transaction.amount")
	require.NoError(t, err)
	assert.Equal(t, 150.0, v)
}

func TestExtractField_MissingPathErrors(t *testing.T) {
	_, err := ExtractField(map[string]any{}, "nope.nope")
	assert.Error(t, err)
}
