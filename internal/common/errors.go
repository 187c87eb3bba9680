// Copyright 2025 Stagecraft Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package common

import "errors"

var (
	ErrInvalidPath          = errors.New("invalid path")
	ErrProtectedPath        = errors.New("protected path")
	ErrProtectedPathBlocked = errors.New("protected path blocked at commit")
	ErrGone                 = errors.New("staged for deletion")
	ErrNotFound             = errors.New("not found")
	ErrRemoteConflict       = errors.New("remote object changed")
	ErrStoreUnavailable     = errors.New("backing store unavailable")
	ErrInvalidToken         = errors.New("invalid confirmation token")
	ErrTokenExpired         = errors.New("confirmation token expired")
	ErrTokenAlreadyUsed     = errors.New("confirmation token already used")
	ErrTokenMismatch        = errors.New("confirmation token mismatch")
)

// Kind maps an error to its wire-level kind string. API responses carry
// {kind, message} so callers can decide whether a retry with the same
// idempotency key is safe (e.g. BackingStoreUnavailable) or a new key is
// required (e.g. ProtectedPathBlocked).
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidPath):
		return "InvalidPath"
	case errors.Is(err, ErrProtectedPathBlocked):
		return "ProtectedPathBlocked"
	case errors.Is(err, ErrProtectedPath):
		return "ProtectedPath"
	case errors.Is(err, ErrGone):
		return "Gone"
	case errors.Is(err, ErrNotFound):
		return "NotFound"
	case errors.Is(err, ErrRemoteConflict):
		return "RemoteConflict"
	case errors.Is(err, ErrStoreUnavailable):
		return "BackingStoreUnavailable"
	case errors.Is(err, ErrTokenExpired):
		return "TokenExpired"
	case errors.Is(err, ErrTokenAlreadyUsed):
		return "TokenAlreadyUsed"
	case errors.Is(err, ErrTokenMismatch):
		return "TokenMismatch"
	case errors.Is(err, ErrInvalidToken):
		return "InvalidToken"
	default:
		return "Internal"
	}
}

// Retryable reports whether a caller may safely retry the same logical
// request (same idempotency key) after seeing err.
func Retryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}

// Status maps an error to the HTTP status code its kind is served with.
func Status(err error) int {
	switch Kind(err) {
	case "":
		return 200
	case "InvalidPath":
		return 400
	case "ProtectedPath":
		return 403
	case "ProtectedPathBlocked":
		return 409
	case "Gone":
		return 410
	case "NotFound":
		return 404
	case "BackingStoreUnavailable":
		return 503
	case "InvalidToken", "TokenExpired":
		return 401
	case "TokenAlreadyUsed", "TokenMismatch", "RemoteConflict":
		return 409
	default:
		return 500
	}
}
