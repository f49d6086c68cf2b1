// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sokoni Contributors

// Package session provides server-side sessions with sliding expiry.
//
// A Store applies the expiry policy on top of a Backend. Every successful
// Load pushes the session's expiry out by the inactivity window, and a
// DeletionTask started with Store.StartDeletionTask removes sessions whose
// window has lapsed, independent of request traffic. The task is owned by the
// caller, which must stop and join it at shutdown.
//
// Sessions are not serialized per id. Concurrent requests sharing a session
// each work on their own copy, and the last Set to reach the backend wins.
package session
