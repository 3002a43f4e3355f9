/*
Package event provides a type-safe pub/sub event system for spritegate.

Publishers emit events about session, channel, message, workspace, and
terminal lifecycle; subscribers react to them without direct dependencies.
The history recorder, for instance, persists completed exchanges purely by
subscribing to message.completed and message.failed.

# Architecture

The package is built on top of watermill's gochannel for infrastructure while
maintaining direct-call semantics to preserve type information. It provides
both synchronous and asynchronous publishing.

# Event Types

Session events:
  - session.created: a session was admitted into the registry
  - session.evicted: an idle session was removed

Channel events:
  - channel.attached: a WebSocket channel joined a session
  - channel.detached: a channel left (close, replacement, or slow consumer)

Message events:
  - message.queued: a chat message was accepted into the admission queue
  - message.started: the executor picked a message up
  - message.completed: the executor produced a response
  - message.failed: the executor returned an error
  - message.cancelled: the user cancelled a queued or in-flight message

Workspace events:
  - workspace.ready: provisioning finished and the directory is usable
  - file.changed: a watched file in the workspace changed

Terminal events:
  - terminal.started, terminal.exited: PTY lifecycle

# Basic Usage

Publishing events:

	event.Publish(event.Event{
		Type: event.MessageQueued,
		Data: event.MessageData{UserKey: key, MessageID: id},
	})

Subscribing:

	unsubscribe := event.Subscribe(event.MessageCompleted, func(e event.Event) {
		data := e.Data.(event.MessageResultData)
		store.Record(data)
	})
	defer unsubscribe()

# Subscriber Safety

When using PublishSync, subscribers run in the publisher's goroutine. To
avoid blocking or deadlocks, subscribers must complete quickly, use
non-blocking channel sends, never publish re-entrantly, and never acquire
locks the publisher might hold.

# Custom Event Bus

For testing or isolation, create dedicated bus instances:

	bus := event.NewBus()
	defer bus.Close()

The global bus can be cleared between tests with event.Reset().
*/
package event
