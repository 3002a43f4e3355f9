// Package session implements the orchestration core of spritegate.
//
// A Registry maps each user key to one live Session. Sessions own a bounded
// admission Queue enforcing strict-FIFO single-flight processing, the set of
// attached channels by kind (chat, terminal, files), at most one terminal
// process, and the monotonic workspace-initialized flag.
//
// # Concurrency model
//
// Each session has exactly one worker goroutine draining its queue, so at
// most one message per session is ever in the processing state. Different
// sessions share nothing but the registry map, whose lock guards map access
// only; session-owned state is serialized through the session's own mutex.
//
// # Reconnection
//
// A transport drop detaches its channel but never destroys the session.
// When the last channel detaches an idle-grace timer is armed; a reattach
// within the grace period bumps the attach generation and the timer becomes
// a no-op. Eviction cancels still-queued messages with reason
// session_closed; the in-flight message follows the CancelOnEvict policy
// (default: run to completion, drop the result).
//
// # Cancellation
//
// Cancellation is cooperative. Cancelling a queued message removes it and
// shifts later positions down; cancelling the in-flight message signals the
// executor's context. The executor finishing before the abort lands is an
// accepted race: the result is delivered as completed.
package session
