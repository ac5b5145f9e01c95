package passwords

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDenylist_Nil(t *testing.T) {
	var d *Denylist
	assert.False(t, d.Contains("password"))

	loaded, err := Load("")
	require.NoError(t, err)
	assert.False(t, loaded.Contains("password"))
}

func TestDenylist_AddLines(t *testing.T) {
	d := New(1000, 0.0001)
	n, err := d.AddLines(context.Background(), strings.NewReader("password\n123456\nqwerty123\n\nabc\n"), 4)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	assert.True(t, d.Contains("password"))
	assert.True(t, d.Contains("qwerty123"))
	assert.False(t, d.Contains("abc"), "below minimum length")
	assert.False(t, d.Contains("correct horse battery staple"))
}

func TestDenylist_RoundTrip(t *testing.T) {
	d := New(1000, 0.0001)
	d.Add("letmein1")
	d.Add("iloveyou")

	var buf bytes.Buffer
	_, err := d.WriteTo(&buf)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "denylist.bloom.gz")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.True(t, loaded.Contains("letmein1"))
	assert.True(t, loaded.Contains("iloveyou"))
	assert.False(t, loaded.Contains("longenough1"))
}

func TestDenylist_Merge(t *testing.T) {
	a, b := New(1000, 0.001), New(1000, 0.001)
	a.Add("one-password")
	b.Add("two-password")

	require.NoError(t, a.Merge(b))
	assert.True(t, a.Contains("one-password"))
	assert.True(t, a.Contains("two-password"))

	require.Error(t, a.Merge(New(10, 0.5)))
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)

	_, err = Read(strings.NewReader("not gzip"))
	require.Error(t, err)
}

func TestAddLines_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(10, 0.01).AddLines(ctx, strings.NewReader("password\n"), 1)
	require.ErrorIs(t, err, context.Canceled)
}
