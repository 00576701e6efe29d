//go:build integration

package audio

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestListDevicesIntegration(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	devices, err := ListDevices(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, devices)
}

func TestMicrophoneStreamsSamplesIntegration(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	stream, err := Microphone{}.Open(ctx)
	require.NoError(t, err)
	defer func() { require.NoError(t, stream.Close()) }()

	got := make(chan int, 64)
	require.NoError(t, stream.Start(func(samples []float32) {
		select {
		case got <- len(samples):
		default:
		}
	}))

	select {
	case n := <-got:
		require.Positive(t, n)
	case <-ctx.Done():
		t.Fatal("no samples received")
	}
}
