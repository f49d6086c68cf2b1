// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sokoni Contributors

package errutil_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sokoni/sokoni/pkg/errutil"
)

func decodeEntry(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestLogError_WithOopsError(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	err := oops.Code("SESSION_SWEEP_FAILED").
		With("table", "sessions").
		Errorf("delete expired")

	errutil.LogError(logger, "sweep failed", err)

	entry := decodeEntry(t, &buf)
	assert.Equal(t, "ERROR", entry["level"])
	assert.Equal(t, "sweep failed", entry["msg"])
	assert.Equal(t, "SESSION_SWEEP_FAILED", entry["code"])
	assert.Equal(t, map[string]any{"table": "sessions"}, entry["context"])
}

func TestLogError_WithStandardError(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	errutil.LogError(logger, "operation failed", errors.New("standard error"))

	entry := decodeEntry(t, &buf)
	assert.Equal(t, "ERROR", entry["level"])
	assert.Contains(t, entry["error"], "standard error")
	assert.NotContains(t, entry, "code")
}

func TestLogErrorContext_NilLoggerUsesDefault(t *testing.T) {
	var buf bytes.Buffer
	original := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))
	defer slog.SetDefault(original)

	errutil.LogErrorContext(context.Background(), nil, "fallback", errors.New("boom"))

	entry := decodeEntry(t, &buf)
	assert.Equal(t, "fallback", entry["msg"])
}

func TestCode(t *testing.T) {
	assert.Equal(t, "USER_NOT_FOUND", errutil.Code(oops.Code("USER_NOT_FOUND").Errorf("missing")))
	assert.Empty(t, errutil.Code(errors.New("plain")))
	assert.Empty(t, errutil.Code(oops.Errorf("no code")))
}
