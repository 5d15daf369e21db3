// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package tcp opens the listening socket used by the server and tunes
// accepted sockets. Platform-specific socket options live in build-tagged files.
package tcp
