// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package event // import "github.com/ikmak/changestream/event"

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// StreamStartedEvent represents an event generated when the aggregate
// establishing a change stream is issued, either on open or on a resume.
type StreamStartedEvent struct {
	Database   string
	Collection string
	Resuming   bool
}

// StreamResumedEvent represents an event generated when a stream successfully
// reopens after a resumable failure.
type StreamResumedEvent struct {
	ResumeToken   bson.Raw
	OperationTime *primitive.Timestamp
}

// StreamFailedEvent represents an event generated when a failure is surfaced
// to the caller of a stream.
type StreamFailedEvent struct {
	Failure string
}

// StreamClosedEvent represents an event generated when a stream is closed.
type StreamClosedEvent struct {
	Database   string
	Collection string
}

// StreamMonitor represents a monitor that is triggered for different stream
// lifecycle events.
type StreamMonitor struct {
	Started func(context.Context, *StreamStartedEvent)
	Resumed func(context.Context, *StreamResumedEvent)
	Failed  func(context.Context, *StreamFailedEvent)
	Closed  func(context.Context, *StreamClosedEvent)
}
