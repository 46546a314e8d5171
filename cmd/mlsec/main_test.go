// File: cmd/mlsec/main_test.go
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duns-scotus/mlpy-sub002/cmd"
)

// resetMocks restores the original function implementations.
func resetMocks() {
	osWriteFile = os.WriteFile
	osExit = os.Exit
	execute = cmd.Execute
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"success", nil, exitOK},
		{"interrupted", fmt.Errorf("analysis aborted: %w", context.Canceled), exitOK},
		{"threats found", cmd.ErrThreatsFound, exitFindings},
		{"not permitted", fmt.Errorf("%w: DENIED", cmd.ErrNotPermitted), exitFindings},
		{"failure", errors.New("boom"), exitError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(tt.err))
		})
	}
}

func TestMain_ExitsWithMappedCode(t *testing.T) {
	defer resetMocks()

	var code = -1
	osExit = func(c int) { code = c }
	execute = func(ctx context.Context) error { return cmd.ErrThreatsFound }

	main()
	assert.Equal(t, exitFindings, code)
}

func TestHandlePanic(t *testing.T) {
	defer resetMocks()

	t.Run("writes panic log", func(t *testing.T) {
		var written []byte
		var path string
		osWriteFile = func(name string, data []byte, perm os.FileMode) error {
			path, written = name, data
			return nil
		}
		code := -1
		osExit = func(c int) { code = c }

		func() {
			defer handlePanic()
			panic("analyzer exploded")
		}()

		assert.Equal(t, exitError, code)
		assert.Equal(t, panicLogFile, path)
		assert.Contains(t, string(written), "panic: analyzer exploded")
		assert.Contains(t, string(written), "goroutine")
	})

	t.Run("log write failure still exits", func(t *testing.T) {
		osWriteFile = func(string, []byte, os.FileMode) error { return errors.New("read-only filesystem") }
		code := -1
		osExit = func(c int) { code = c }

		func() {
			defer handlePanic()
			panic("again")
		}()
		assert.Equal(t, exitError, code)
	})

	t.Run("no panic is a no-op", func(t *testing.T) {
		osExit = func(int) { t.Fatal("exit must not be called") }
		func() {
			defer handlePanic()
		}()
	})

	t.Run("real file", func(t *testing.T) {
		dir := t.TempDir()
		osWriteFile = func(name string, data []byte, perm os.FileMode) error {
			return os.WriteFile(filepath.Join(dir, name), data, perm)
		}
		osExit = func(int) {}

		func() {
			defer handlePanic()
			panic("on disk")
		}()
		data, err := os.ReadFile(filepath.Join(dir, panicLogFile))
		require.NoError(t, err)
		assert.Contains(t, string(data), "on disk")
	})
}
