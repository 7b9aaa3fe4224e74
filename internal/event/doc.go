// Package event is an in-process publish/subscribe bus for agent lifecycle
// events: replies starting and finishing, permission requests and their
// resolution, submitted tool results, provider swaps, persisted sessions and
// extension notifications.
//
// Subscribers register per type or for everything:
//
//	bus := event.NewBus()
//	unsub := bus.Subscribe(event.PermissionRequired, func(e event.Event) {
//		data := e.Data.(event.PermissionRequiredData)
//		log.Printf("tool %s needs confirmation", data.ToolName)
//	})
//	defer unsub()
//
// Publish runs each subscriber in its own goroutine; PublishSync runs them
// in order on the caller's goroutine. The server's /event endpoint streams
// every bus event to HTTP clients.
package event
