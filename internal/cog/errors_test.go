// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CogBot Contributors

package cog

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"

	"github.com/cogbot/cogbot/pkg/errutil"
)

func TestErrorConstructors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code string
	}{
		{"not found", ErrNotFound("x"), CodeNotFound},
		{"command not found", ErrCommandNotFound("x", "y"), CodeCommandNotFound},
		{"already loaded", ErrAlreadyLoaded("x"), CodeAlreadyLoaded},
		{"not loaded", ErrNotLoaded("x"), CodeNotLoaded},
		{"init", ErrInit("x", errBoom), CodeInitError},
		{"conflict", ErrConflict("x", "y"), CodeConflict},
		{"timeout", ErrTimeout("x", OpLoad, time.Second), CodeTimeout},
		{"teardown", ErrTeardown("x", errBoom), CodeTeardown},
		{"invalid name", ErrInvalidName("cog", "X"), CodeInvalidName},
		{"pinned", ErrPinned("admin"), CodePinned},
		{"handler failed", ErrHandlerFailed("x", "y", errBoom), CodeHandlerFailed},
		{"permission denied", ErrPermissionDenied("y", "cap"), CodePermissionDenied},
		{"rate limited", ErrRateLimited(500), CodeRateLimited},
		{"invalid args", ErrInvalidArgs("y", "y <n>"), CodeInvalidArgs},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errutil.AssertErrorCode(t, tt.err, tt.code)
			assert.True(t, HasCode(tt.err, tt.code))
			assert.Equal(t, tt.code, Code(tt.err))
		})
	}
}

func TestErrInit_KeepsOwnCodeOverCodedCause(t *testing.T) {
	err := ErrInit("dice", ErrTimeout("dice", OpLoad, time.Second))

	errutil.AssertErrorCode(t, err, CodeInitError)
	assert.Contains(t, err.Error(), "timed out")
}

func TestErrInit_UnwrapsPlainCause(t *testing.T) {
	err := ErrInit("dice", errBoom)
	assert.True(t, errors.Is(err, errBoom))
}

func TestErrHandlerFailed_SurfacesHandlerCode(t *testing.T) {
	err := ErrHandlerFailed("dice", "roll", ErrInvalidArgs("roll", "roll <sides>"))

	assert.Equal(t, CodeInvalidArgs, Code(err))
	assert.Equal(t, "Usage: roll <sides>", UserMessage(err))
}

func TestCode_NonOopsError(t *testing.T) {
	assert.Equal(t, "", Code(errBoom))
	assert.False(t, HasCode(nil, CodeNotFound))
}

func TestUserMessage(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		contains string
	}{
		{"already loaded", ErrAlreadyLoaded("general"), "Use `reload` instead"},
		{"not loaded", ErrNotLoaded("general"), "`general` is not loaded"},
		{"not found", ErrNotFound("nope"), "`nope` was not found"},
		{"init shows cause", ErrInit("dice", errBoom), "failed to initialize: boom"},
		{"pinned", ErrPinned("admin"), "cannot be unloaded"},
		{"permission", ErrPermissionDenied("reload", "cogs.admin.reload"), "permission"},
		{"rate limited", ErrRateLimited(10), "slow down"},
		{"unknown command", ErrCommandNotFound("", "zap"), "Unknown command"},
		{"plain error", errBoom, "Something went wrong"},
		{"nil", nil, "Something went wrong"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Contains(t, UserMessage(tt.err), tt.contains)
		})
	}
}

func TestFailureResponse(t *testing.T) {
	resp := FailureResponse(ErrNotLoaded("general"))

	assert.False(t, resp.OK)
	assert.True(t, strings.HasPrefix(resp.Text, FailurePrefix))
}

func TestDetach(t *testing.T) {
	assert.Same(t, errBoom, detach(errBoom))

	coded := oops.Code("X").Errorf("inner")
	d := detach(coded)
	_, isOops := oops.AsOops(d)
	assert.False(t, isOops)
	assert.Equal(t, coded.Error(), d.Error())
}
