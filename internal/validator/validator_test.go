package validator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const invalidMessage = "The content is invalid because it starts with the text 'Invalid'."

func TestMessage(t *testing.T) {
	msg, ok := Message(Reject("bad %s", "thing"))
	assert.True(t, ok)
	assert.Equal(t, "bad thing", msg)

	_, ok = Message(errors.New("plain"))
	assert.False(t, ok)

	_, ok = Message(&ValidationError{})
	assert.False(t, ok)

	msg, ok = Message(errors.Join(errors.New("x"), &ValidationError{Message: "wrapped"}))
	assert.True(t, ok)
	assert.Equal(t, "wrapped", msg)
}

func TestPrefixRejector(t *testing.T) {
	v := PrefixRejector{Prefix: "Invalid"}
	ctx := context.Background()

	require.NoError(t, v.Validate(ctx, "a.txt", "valid stuff", "/root"))

	err := v.Validate(ctx, "a.txt", "Invalid stuff", "/root")
	msg, ok := Message(err)
	require.True(t, ok)
	assert.Equal(t, invalidMessage, msg)

	require.NoError(t, PrefixRejector{}.Validate(ctx, "a.txt", "anything", "/root"))
}

func TestChain(t *testing.T) {
	var calls []string
	record := func(name string, err error) Validator {
		return Func(func(context.Context, string, string, string) error {
			calls = append(calls, name)
			return err
		})
	}

	chain := Chain{record("first", nil), nil, record("second", errors.New("boom")), record("third", nil)}
	err := chain.Validate(context.Background(), "f", "c", "/r")
	require.EqualError(t, err, "boom")
	assert.Equal(t, []string{"first", "second"}, calls)

	require.NoError(t, Chain{}.Validate(context.Background(), "f", "c", "/r"))
	require.NoError(t, Noop{}.Validate(context.Background(), "f", "c", "/r"))
}

func TestLoad_UnsupportedExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "validator.py")
	require.NoError(t, os.WriteFile(path, []byte("print(1)"), 0644))

	_, err := Load(path, Options{})
	assert.ErrorIs(t, err, ErrUnsupportedScript)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.js"), Options{})
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestReloading_PicksUpChanges(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "check.lua")
	require.NoError(t, os.WriteFile(path, []byte(`function validate(f, c, r) return nil end`), 0644))

	v, err := NewReloading(path, Options{})
	require.NoError(t, err)
	defer v.Close()

	ctx := context.Background()
	require.NoError(t, v.Validate(ctx, "a.txt", "anything", dir))

	require.NoError(t, os.WriteFile(path, []byte(`function validate(f, c, r) return "now rejected" end`), 0644))

	assert.Eventually(t, func() bool {
		msg, ok := Message(v.Validate(ctx, "a.txt", "anything", dir))
		return ok && msg == "now rejected"
	}, 5*time.Second, 20*time.Millisecond)
}

func TestReloading_KeepsPreviousOnBrokenScript(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "check.lua")
	require.NoError(t, os.WriteFile(path, []byte(`function validate(f, c, r) return "always" end`), 0644))

	v, err := NewReloading(path, Options{})
	require.NoError(t, err)
	defer v.Close()

	require.NoError(t, os.WriteFile(path, []byte(`function validate(`), 0644))
	time.Sleep(200 * time.Millisecond)

	msg, ok := Message(v.Validate(context.Background(), "a.txt", "x", dir))
	require.True(t, ok)
	assert.Equal(t, "always", msg)
	require.NoError(t, v.Close())
	require.NoError(t, v.Close())
}
