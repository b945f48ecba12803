package validator

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScript(t *testing.T, name, source string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(source), 0644))
	return path
}

func TestJSValidator_AsyncModule(t *testing.T) {
	v, err := Load(filepath.Join("testdata", "reject_invalid.js"), Options{})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, v.Validate(ctx, "notes.txt", "Valid content", "/data"))

	msg, ok := Message(v.Validate(ctx, "notes.txt", "Invalid content", "/data"))
	require.True(t, ok)
	assert.Equal(t, invalidMessage, msg)
}

func TestJSValidator_EntryPoints(t *testing.T) {
	tests := []struct {
		name   string
		source string
	}{
		{"exports function", `module.exports = function (f, c) { if (c === 'no') throw { validationErrorMessage: 'nope' } }`},
		{"exports.validate", `exports.validate = (f, c) => { if (c === 'no') throw { validationErrorMessage: 'nope' } }`},
		{"global validate", `function validate(f, c) { if (c === 'no') throw { validationErrorMessage: 'nope' } }`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := Load(writeScript(t, "v.js", tt.source), Options{})
			require.NoError(t, err)

			require.NoError(t, v.Validate(context.Background(), "a", "yes", "/r"))
			msg, ok := Message(v.Validate(context.Background(), "a", "no", "/r"))
			require.True(t, ok)
			assert.Equal(t, "nope", msg)
		})
	}
}

func TestJSValidator_ReceivesArguments(t *testing.T) {
	path := writeScript(t, "v.js", `module.exports = { validator: (filename, content, dir) => {
		const msg = filename + '|' + content + '|' + dir
		const e = new Error(msg); e.validationErrorMessage = msg; throw e
	} }`)
	v, err := Load(path, Options{})
	require.NoError(t, err)

	msg, ok := Message(v.Validate(context.Background(), "sub/a.txt", "body", "/data"))
	require.True(t, ok)
	assert.Equal(t, "sub/a.txt|body|/data", msg)
}

func TestJSValidator_FailureWithoutMessage(t *testing.T) {
	tests := []struct {
		name   string
		source string
	}{
		{"plain error", `module.exports = () => { throw new Error('disk on fire') }`},
		{"rejected promise", `module.exports = async () => { throw new Error('disk on fire') }`},
		{"empty message", `module.exports = () => { const e = new Error('x'); e.validationErrorMessage = ''; throw e }`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := Load(writeScript(t, "v.js", tt.source), Options{})
			require.NoError(t, err)

			err = v.Validate(context.Background(), "a", "c", "/r")
			require.Error(t, err)
			_, ok := Message(err)
			assert.False(t, ok)
		})
	}
}

func TestJSValidator_Timeout(t *testing.T) {
	v, err := Load(writeScript(t, "v.js", `module.exports = () => { for (;;) {} }`), Options{Timeout: 50 * time.Millisecond})
	require.NoError(t, err)

	start := time.Now()
	err = v.Validate(context.Background(), "a", "c", "/r")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "interrupted")
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestJSValidator_RequireBlocked(t *testing.T) {
	v, err := Load(writeScript(t, "v.js", `module.exports = () => { require('fs') }`), Options{})
	require.NoError(t, err)

	err = v.Validate(context.Background(), "a", "c", "/r")
	require.Error(t, err)
	_, ok := Message(err)
	assert.False(t, ok)
}

func TestJSValidator_LoadErrors(t *testing.T) {
	_, err := Load(writeScript(t, "v.js", `module.exports = {`), Options{})
	assert.Error(t, err)

	_, err = Load(writeScript(t, "v.js", `module.exports = { other: 1 }`), Options{})
	assert.ErrorContains(t, err, "no validator function")
}
