// Package session
// Author: momentics <momentics@gmail.com>
//
// Connection registry layer. Every upgraded connection is registered here
// for the whole of its OPEN lifetime and is used as the fan-out set for
// broadcasts. Entries remove themselves when their connection closes.

package session
