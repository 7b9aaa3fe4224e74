// Package session bridges agent replies to clients and persists their
// transcripts.
//
// [Transport.Stream] runs one reply and pumps its events, converted to wire
// [Event] values, through a bounded [Queue]. The consumer reads
// Queue.Events until it is closed and calls Queue.Close if it goes away
// early; the transport notices on its next heartbeat and stops the reply.
// Every stream ends with exactly one Finish event.
//
// When a reply grows the transcript, the new transcript is handed to a
// [Store] in the background. FileStore keeps one JSON Lines file per
// session with a metadata document beside it; PostgresStore keeps the same
// data in two tables.
package session
