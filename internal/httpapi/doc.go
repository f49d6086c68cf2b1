// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sokoni Contributors

// Package httpapi exposes the auth flows over HTTP with chi.
//
// Routes:
//
//	POST /api/register          credential JSON, returns the stored user
//	POST /api/login             credential JSON, returns the user and sets the session cookie
//	GET  /api/is_authenticated  returns {"token": ...} for an authenticated session
//	POST /api/logout            deletes the session and clears the cookie
//
// Register and login are rate limited per client IP.
package httpapi
