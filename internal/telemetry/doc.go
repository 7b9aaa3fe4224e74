// Package telemetry records one SessionExecution per reply invocation, plus
// a RecipeExecution when the invocation ran a named recipe.
//
// Records are published as JSON on watermill gochannel topics and delivered
// by Manager.Run to sinks: LogSink writes them to the log, HTTPSink posts
// them to a collector once without retrying.
package telemetry
