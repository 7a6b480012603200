package chaos

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/optlayer/optlayer"
)

func okHandler(context.Context, *optlayer.Request) (*optlayer.Response, error) {
	return optlayer.NewResponse(http.StatusOK, "ok"), nil
}

func TestChaos_NoInjectionByDefault(t *testing.T) {
	h := optlayer.Wrap(okHandler, New())

	resp, err := h(context.Background(), &optlayer.Request{Path: "/"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestChaos_ErrorResponses(t *testing.T) {
	h := optlayer.Wrap(okHandler, New(WithErrors([]int{http.StatusServiceUnavailable}, 1), WithSeed(1)))

	resp, err := h(context.Background(), &optlayer.Request{Path: "/"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestChaos_Failures(t *testing.T) {
	h := optlayer.Wrap(okHandler, New(WithFailures(1)))

	resp, err := h(context.Background(), &optlayer.Request{Path: "/"})
	assert.Nil(t, resp)
	assert.True(t, errors.Is(err, ErrInjected))
}

func TestChaos_Latency(t *testing.T) {
	h := optlayer.Wrap(okHandler, New(WithLatency(20*time.Millisecond, 20*time.Millisecond, 1)))

	start := time.Now()
	_, err := h(context.Background(), &optlayer.Request{Path: "/"})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestChaos_LatencyRespectsCancellation(t *testing.T) {
	h := optlayer.Wrap(okHandler, New(WithLatency(time.Minute, time.Minute, 1)))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := h(ctx, &optlayer.Request{Path: "/"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestChaos_TargetPathsAndCondition(t *testing.T) {
	h := optlayer.Wrap(okHandler, New(WithFailures(1), WithPaths("/fragile")))

	_, err := h(context.Background(), &optlayer.Request{Path: "/stable"})
	assert.NoError(t, err)
	_, err = h(context.Background(), &optlayer.Request{Path: "/fragile"})
	assert.ErrorIs(t, err, ErrInjected)

	enabled := false
	h = optlayer.Wrap(okHandler, New(WithFailures(1), WithCondition(func() bool { return enabled })))
	_, err = h(context.Background(), &optlayer.Request{Path: "/"})
	assert.NoError(t, err)
	enabled = true
	_, err = h(context.Background(), &optlayer.Request{Path: "/"})
	assert.ErrorIs(t, err, ErrInjected)
}

func TestChaos_SeedIsReproducible(t *testing.T) {
	run := func() []int {
		h := optlayer.Wrap(okHandler, New(WithErrors([]int{500}, 0.5), WithSeed(42)))
		var codes []int
		for i := 0; i < 20; i++ {
			resp, _ := h(context.Background(), &optlayer.Request{Path: "/"})
			codes = append(codes, resp.StatusCode)
		}
		return codes
	}

	assert.Equal(t, run(), run())
}
