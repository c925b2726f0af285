package main

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tembridge/tembridge-go/internal/testutil"
	"github.com/tembridge/tembridge-go/pkg/client"
	"github.com/tembridge/tembridge-go/pkg/wire"
)

func dialBridge(t *testing.T) (*client.Client, string) {
	t.Helper()
	b := testutil.StartBridge(t, wire.CBOR)
	c, err := client.Dial(context.Background(), b.Addr(), client.Config{Timeout: 2 * time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, b.Addr()
}

func TestShellExecute(t *testing.T) {
	c, _ := dialBridge(t)
	sh := &shell{client: c}
	ctx := context.Background()

	var buf bytes.Buffer
	assert.True(t, sh.execute(ctx, &buf, "echo 42"))
	assert.Equal(t, "42\n", buf.String())

	buf.Reset()
	assert.True(t, sh.execute(ctx, &buf, "echo x=hello"))
	assert.Equal(t, "hello\n", buf.String())

	buf.Reset()
	assert.True(t, sh.execute(ctx, &buf, "get name"))
	assert.Equal(t, "stub\n", buf.String())

	buf.Reset()
	assert.True(t, sh.execute(ctx, &buf, "boom"))
	assert.Equal(t, "DeviceFault: [overheat]\n", buf.String())

	buf.Reset()
	assert.True(t, sh.execute(ctx, &buf, "nothing"))
	assert.Contains(t, buf.String(), "NoSuchSelector")

	buf.Reset()
	assert.True(t, sh.execute(ctx, &buf, "get"))
	assert.Contains(t, buf.String(), "usage")

	assert.True(t, sh.execute(ctx, &buf, "   "))
	assert.False(t, sh.execute(ctx, &buf, "exit"))
}

func TestCallAndGetCommands(t *testing.T) {
	b := testutil.StartBridge(t, wire.JSON)

	run := func(args ...string) (string, error) {
		var buf bytes.Buffer
		cmd := newRootCmd()
		cmd.SetOut(&buf)
		cmd.SetErr(&bytes.Buffer{})
		cmd.SetArgs(append([]string{"--addr", b.Addr(), "--serializer", "json", "--timeout", "2s"}, args...))
		err := cmd.Execute()
		return buf.String(), err
	}

	out, err := run("call", "echo", "[1, 2]")
	require.NoError(t, err)
	assert.JSONEq(t, "[1, 2]", out)

	out, err = run("call", "echo", "--kw", "x=true")
	require.NoError(t, err)
	assert.Equal(t, "true\n", out)

	out, err = run("get", "name")
	require.NoError(t, err)
	assert.Equal(t, "stub\n", out)

	_, err = run("call", "boom")
	assert.ErrorContains(t, err, "overheat")

	_, err = run("--serializer", "pickle", "get", "name")
	assert.Error(t, err)
}
