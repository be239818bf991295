// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CogBot Contributors

package cog

import (
	"errors"
	"time"

	"github.com/samber/oops"
)

// Error codes for cog lifecycle and dispatch failures.
const (
	CodeNotFound         = "COG_NOT_FOUND"
	CodeCommandNotFound  = "COMMAND_NOT_FOUND"
	CodeAlreadyLoaded    = "ALREADY_LOADED"
	CodeNotLoaded        = "NOT_LOADED"
	CodeInitError        = "INIT_ERROR"
	CodeConflict         = "COMMAND_CONFLICT"
	CodeTimeout          = "TIMEOUT"
	CodeTeardown         = "TEARDOWN_ERROR"
	CodeInvalidName      = "INVALID_NAME"
	CodePinned           = "COG_PINNED"
	CodeHandlerFailed    = "HANDLER_FAILED"
	CodePermissionDenied = "PERMISSION_DENIED"
	CodeRateLimited      = "RATE_LIMITED"
	CodeInvalidArgs      = "INVALID_ARGS"
)

// Sentinel errors for constructor validation.
var (
	ErrNilRegistry = errors.New("registry cannot be nil")
	ErrNilLoader   = errors.New("loader cannot be nil")
	ErrNoSources   = errors.New("loader needs at least one source")
)

// ErrNotFound creates an error for a cog name no source can resolve.
func ErrNotFound(name string) error {
	return oops.Code(CodeNotFound).
		In("cog").
		With("cog", name).
		Errorf("cog not found: %s", name)
}

// ErrCommandNotFound creates an error for a command no loaded cog provides.
func ErrCommandNotFound(cogName, command string) error {
	return oops.Code(CodeCommandNotFound).
		In("cog").
		With("cog", cogName).
		With("command", command).
		Errorf("unknown command: %s", command)
}

// ErrAlreadyLoaded creates an error for loading a cog that is active.
func ErrAlreadyLoaded(name string) error {
	return oops.Code(CodeAlreadyLoaded).
		In("cog").
		With("cog", name).
		Errorf("cog %s is already loaded", name)
}

// ErrNotLoaded creates an error for unloading a cog that is absent.
func ErrNotLoaded(name string) error {
	return oops.Code(CodeNotLoaded).
		In("cog").
		With("cog", name).
		Errorf("cog %s is not loaded", name)
}

// ErrInit wraps a failure raised while initializing a cog.
func ErrInit(name string, cause error) error {
	return oops.Code(CodeInitError).
		In("cog").
		With("cog", name).
		Wrapf(detach(cause), "initialize cog %s", name)
}

// ErrConflict creates an error for a duplicate command within one cog.
func ErrConflict(cogName, command string) error {
	return oops.Code(CodeConflict).
		In("cog").
		With("cog", cogName).
		With("command", command).
		Errorf("cog %s registers command %s twice", cogName, command)
}

// ErrTimeout creates an error for a lifecycle operation that did not finish in time.
func ErrTimeout(name, op string, after time.Duration) error {
	return oops.Code(CodeTimeout).
		In("cog").
		With("cog", name).
		With("operation", op).
		With("timeout", after.String()).
		Errorf("%s of cog %s timed out", op, name)
}

// ErrTeardown wraps a failure raised by a cog's teardown hook.
func ErrTeardown(name string, cause error) error {
	return oops.Code(CodeTeardown).
		In("cog").
		With("cog", name).
		Wrapf(detach(cause), "teardown cog %s", name)
}

// ErrInvalidName creates an error for a malformed cog or command name.
func ErrInvalidName(kind, name string) error {
	return oops.Code(CodeInvalidName).
		In("cog").
		With("kind", kind).
		With("name", name).
		Errorf("invalid %s name %q", kind, name)
}

// ErrPinned creates an error for unloading a cog that must stay loaded.
func ErrPinned(name string) error {
	return oops.Code(CodePinned).
		In("cog").
		With("cog", name).
		Errorf("cog %s cannot be unloaded", name)
}

// ErrHandlerFailed wraps an error or panic raised by a command handler.
func ErrHandlerFailed(cogName, command string, cause error) error {
	return oops.Code(CodeHandlerFailed).
		In("dispatch").
		With("cog", cogName).
		With("command", command).
		Wrapf(cause, "command %s failed", command)
}

// ErrPermissionDenied creates an error for a missing capability.
func ErrPermissionDenied(command, capability string) error {
	return oops.Code(CodePermissionDenied).
		In("dispatch").
		With("command", command).
		With("capability", capability).
		Errorf("permission denied for command %s", command)
}

// ErrRateLimited creates an error for a requester over the rate limit.
func ErrRateLimited(cooldownMs int64) error {
	return oops.Code(CodeRateLimited).
		In("dispatch").
		With("cooldown_ms", cooldownMs).
		Errorf("too many commands, please slow down")
}

// ErrInvalidArgs creates an error for a command called with bad arguments.
// Handlers return it so the user sees the usage line.
func ErrInvalidArgs(command, usage string) error {
	return oops.Code(CodeInvalidArgs).
		In("dispatch").
		With("command", command).
		With("usage", usage).
		Errorf("invalid arguments")
}

// Code returns the oops code of err, or "" when err carries none.
func Code(err error) string {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}
	code, _ := oopsErr.Code().(string)
	return code
}

// HasCode reports whether err carries the given oops code.
func HasCode(err error, code string) bool {
	return err != nil && Code(err) == code
}

// UserMessage extracts a user-facing message from an error.
func UserMessage(err error) string {
	if err == nil {
		return "Something went wrong. Try again."
	}
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return "Something went wrong. Try again."
	}

	ctx := oopsErr.Context()
	name, _ := ctx["cog"].(string)
	switch oopsErr.Code() {
	case CodeNotFound:
		return "Cog `" + name + "` was not found."
	case CodeCommandNotFound:
		return "Unknown command. Try `help`."
	case CodeAlreadyLoaded:
		return "Cog `" + name + "` is already loaded. Use `reload` instead."
	case CodeNotLoaded:
		return "Cog `" + name + "` is not loaded."
	case CodeInitError:
		return "Cog `" + name + "` failed to initialize: " + rootMessage(err)
	case CodeConflict:
		cmd, _ := ctx["command"].(string)
		return "Cog `" + name + "` declares command `" + cmd + "` more than once."
	case CodeTimeout:
		return "Cog `" + name + "` did not respond in time."
	case CodePinned:
		return "Cog `" + name + "` cannot be unloaded."
	case CodeInvalidName:
		return "That is not a valid name."
	case CodePermissionDenied:
		return "You don't have permission to do that."
	case CodeRateLimited:
		return "Too many commands. Please slow down."
	case CodeInvalidArgs:
		if usage, ok := ctx["usage"].(string); ok && usage != "" {
			return "Usage: " + usage
		}
		return "Invalid arguments."
	default:
		return "Something went wrong. Try again."
	}
}

// FailureResponse renders err as a user-visible failure.
func FailureResponse(err error) Response {
	return Failure(UserMessage(err))
}

// detach keeps the message of an oops error but drops its attributes. oops
// reports the deepest code in a chain, so a coded cause would otherwise shadow
// the code of the error wrapping it.
func detach(err error) error {
	if _, ok := oops.AsOops(err); !ok {
		return err
	}
	return errors.New(err.Error())
}

// rootMessage returns the innermost error message of a wrapped chain.
func rootMessage(err error) string {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err.Error()
		}
		err = next
	}
}
