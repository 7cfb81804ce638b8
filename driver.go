// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package changestream

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// Namespace identifies the database and collection a stream observes. The
// Collection field is empty for database and client level streams.
type Namespace struct {
	DB         string
	Collection string
}

// StreamType describes the scope of a change stream.
type StreamType int

// These constants specify valid values for StreamType.
const (
	// CollectionStream observes changes on a single collection.
	CollectionStream StreamType = iota
	// DatabaseStream observes changes on all collections in a database.
	DatabaseStream
	// ClientStream observes changes on the entire deployment.
	ClientStream
)

// String implements the fmt.Stringer interface.
func (st StreamType) String() string {
	switch st {
	case CollectionStream:
		return "collection"
	case DatabaseStream:
		return "database"
	case ClientStream:
		return "client"
	default:
		return "unknown"
	}
}

// Session is an opaque logical session handle. It is supplied by the caller at
// construction and passed through, unmodified, to every Aggregate issued for
// the stream. Implementations that do not use sessions may leave it nil.
type Session interface {
	// SessionID returns the document identifying the logical session.
	SessionID() bson.Raw
}

// BatchCursor is the interface implemented by types that can iterate the
// documents of a server cursor. The ChangeStream type is built on top of this
// type; it is the only consumer of a cursor it owns, so implementations may
// assume at most one outstanding call at a time.
type BatchCursor interface {
	// Next blocks until a document is available or an error occurs.
	Next(ctx context.Context) (bson.Raw, error)

	// TryNext waits up to maxAwait for a document. It returns a nil document
	// and a nil error if the server had nothing new within the wait budget.
	TryNext(ctx context.Context, maxAwait time.Duration) (bson.Raw, error)

	// Close attempts server-side teardown of the cursor.
	Close(ctx context.Context) error
}

// AggregateOptions are the command options the stream controller forwards to
// Server.Aggregate.
type AggregateOptions struct {
	BatchSize    *int32
	Collation    *options.Collation
	MaxAwaitTime *time.Duration

	// NoRetry disables any automatic retry behavior of the issuer. The stream
	// controller always sets it: retry is owned by the controller and retrying
	// underneath it would double up.
	NoRetry bool
}

// AggregateResponse is the result of a successful Aggregate call.
type AggregateResponse struct {
	// OperationTime is the operation time from the command reply, if the reply
	// carried one.
	OperationTime *primitive.Timestamp

	// Cursor iterates the documents of the newly established server cursor.
	Cursor BatchCursor
}

// Server is a server selected to run the stream's aggregate.
type Server interface {
	// WireVersion returns the server's maximum wire protocol version.
	WireVersion() int32

	// Aggregate executes an aggregate command with the given pipeline against
	// this server and returns the reply metadata and a cursor over the
	// results.
	Aggregate(ctx context.Context, ns Namespace, pipeline []bson.D, opts AggregateOptions, sess Session) (AggregateResponse, error)
}

// Deployment selects servers meeting a read preference. Selection happens on
// every (re)open of a stream, so after a failover the returned server may
// differ from the previous one, wire version included.
type Deployment interface {
	SelectServer(ctx context.Context, rp *readpref.ReadPref) (Server, error)
}
