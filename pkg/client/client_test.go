package client_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tembridge/tembridge-go/internal/testutil"
	"github.com/tembridge/tembridge-go/pkg/client"
	"github.com/tembridge/tembridge-go/pkg/faults"
	"github.com/tembridge/tembridge-go/pkg/wire"
)

func dial(t *testing.T, addr string, codec wire.Codec) *client.Client {
	t.Helper()
	c, err := client.Dial(context.Background(), addr, client.Config{Codec: codec, Timeout: 2 * time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestEndToEndScenario(t *testing.T) {
	for _, codec := range []wire.Codec{wire.CBOR, wire.JSON} {
		t.Run(codec.Name(), func(t *testing.T) {
			b := testutil.StartBridge(t, codec)
			c := dial(t, b.Addr(), codec)
			ctx := context.Background()

			v, err := c.Call(ctx, "echo", 42)
			require.NoError(t, err)
			if codec == wire.JSON {
				assert.Equal(t, json.Number("42"), v)
			} else {
				assert.Equal(t, int64(42), v)
			}

			_, err = c.Call(ctx, "boom")
			require.Error(t, err)
			assert.True(t, errors.Is(err, faults.DeviceFault))
			var fe *faults.Error
			require.True(t, errors.As(err, &fe))
			assert.Equal(t, []any{"overheat"}, fe.Args)

			_, err = c.Call(ctx, "warp")
			assert.True(t, errors.Is(err, faults.NoSuchSelector))

			name, err := c.Get(ctx, "name")
			require.NoError(t, err)
			assert.Equal(t, "stub", name)
		})
	}
}

func TestSequentialCallsMatch(t *testing.T) {
	b := testutil.StartBridge(t, wire.CBOR)
	c := dial(t, b.Addr(), wire.CBOR)
	ctx := context.Background()

	for i := int64(1); i <= 5; i++ {
		v, err := c.Call(ctx, "counter")
		require.NoError(t, err)
		assert.Equal(t, i, v)
	}
}

func TestIdempotentAttributeReads(t *testing.T) {
	b := testutil.StartBridge(t, wire.CBOR)
	c := dial(t, b.Addr(), wire.CBOR)
	ctx := context.Background()

	first, err := c.Get(ctx, "name")
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := c.Get(ctx, "name")
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestKwargs(t *testing.T) {
	b := testutil.StartBridge(t, wire.CBOR)
	c := dial(t, b.Addr(), wire.CBOR)

	v, err := c.Call(context.Background(), "echo", client.Kwargs{"x": "by keyword"})
	require.NoError(t, err)
	assert.Equal(t, "by keyword", v)

	_, err = c.Call(context.Background(), "echo", 1, client.Kwargs{"x": 2})
	assert.True(t, errors.Is(err, faults.InvalidArguments))
}

func TestConcurrentClientsGetOwnResults(t *testing.T) {
	b := testutil.StartBridge(t, wire.CBOR)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := client.Dial(context.Background(), b.Addr(), client.Config{Timeout: 2 * time.Second})
			if err != nil {
				t.Errorf("Dial failed: %v", err)
				return
			}
			defer c.Close()
			for j := 0; j < 20; j++ {
				want := int64(i*1000 + j)
				v, err := c.Call(context.Background(), "echo", want)
				if err != nil || v != want {
					t.Errorf("client %d: got %v, %v; want %d", i, v, err, want)
					return
				}
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, b.Driver.MaxActive())
}

func TestCloseSendsExit(t *testing.T) {
	b := testutil.StartBridge(t, wire.CBOR)
	c, err := client.Dial(context.Background(), b.Addr(), client.Config{})
	require.NoError(t, err)

	_, err = c.Call(context.Background(), "echo", 1)
	require.NoError(t, err)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	assert.Eventually(t, func() bool { return b.Listener.ConnectionCount() == 0 },
		2*time.Second, 10*time.Millisecond)

	_, err = c.Call(context.Background(), "echo", 1)
	assert.ErrorIs(t, err, client.ErrClosed)
}

func TestTimeoutClosesClient(t *testing.T) {
	b := testutil.StartBridge(t, wire.CBOR)
	c, err := client.Dial(context.Background(), b.Addr(), client.Config{Timeout: 100 * time.Millisecond})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	ctx := context.Background()

	_, err = c.Call(ctx, "slow", 300)
	require.Error(t, err)

	// The late reply to slow must not answer the next call.
	time.Sleep(400 * time.Millisecond)
	v, err := c.Call(ctx, "echo", 42)
	assert.ErrorIs(t, err, client.ErrClosed)
	assert.Nil(t, v)

	assert.Eventually(t, func() bool { return b.Listener.ConnectionCount() == 0 },
		2*time.Second, 10*time.Millisecond)
}

func TestShutdownWithConnectedClient(t *testing.T) {
	b := testutil.StartBridge(t, wire.CBOR)
	c := dial(t, b.Addr(), wire.CBOR)

	_, err := c.Call(context.Background(), "echo", 1)
	require.NoError(t, err)

	b.Shutdown(t)
	assert.True(t, b.Driver.Closed())

	_, err = c.Call(context.Background(), "echo", 1)
	assert.Error(t, err)
}

func TestDialRetriesThenFails(t *testing.T) {
	start := time.Now()
	_, err := client.Dial(context.Background(), "127.0.0.1:1", client.Config{
		DialAttempts: 3,
		DialInterval: 10 * time.Millisecond,
	})
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}
