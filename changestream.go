// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package changestream

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/ikmak/changestream/event"
)

// ErrNoCurrentDocument is returned by Decode when there is no current change
// document to decode.
var ErrNoCurrentDocument = errors.New("no current change document")

// StreamConfig holds the collaborators and immutable settings of a stream.
type StreamConfig struct {
	// Deployment selects the server each (re)open runs against. Required.
	Deployment Deployment

	// Namespace is the database and collection the stream observes. The
	// collection is empty for database and client streams; the database
	// defaults to "admin" for client streams.
	Namespace Namespace

	// StreamType is the scope of the stream.
	StreamType StreamType

	// ReadPreference constrains server selection. Defaults to primary.
	ReadPreference *readpref.ReadPref

	// Session is the logical session passed through to every command issued
	// for the stream. Optional.
	Session Session

	// Monitor receives stream lifecycle events. Optional.
	Monitor *event.StreamMonitor

	// IsResumable reports whether a failure is safe to resume from. Defaults
	// to the built-in classifier.
	IsResumable func(error) bool
}

// ChangeStream is a cursor over a server-side change-event feed that survives
// transient failures by reissuing its aggregate from a cached resumption
// point. A ChangeStream must only be iterated by one goroutine at a time,
// though Close may be called concurrently with an in-flight pull.
type ChangeStream struct {
	// Current is the BSON bytes of the current change document. This property
	// is only valid until the next call to Next or TryNext.
	Current bson.Raw

	config    StreamConfig
	pipeline  []bson.D
	opts      *Options
	fullDoc   options.FullDocument
	readPref  *readpref.ReadPref
	resumable func(error) bool

	// startAtOperationTime is the caller-supplied starting point; it only
	// applies to the very first command.
	startAtOperationTime *primitive.Timestamp

	mu            sync.Mutex
	cursor        BatchCursor
	resumeToken   bson.Raw
	operationTime *primitive.Timestamp
	wireVersion   *int32
	closed        bool

	resuming bool
	err      error
}

// New opens a change stream: it issues the initial aggregate and returns a
// stream positioned before its first document. If the initial command fails
// there is no stream.
func New(ctx context.Context, config StreamConfig, pipeline []bson.D, opts ...*Options) (*ChangeStream, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if config.Deployment == nil {
		return nil, invalidArgumentf("a Deployment is required to open a change stream")
	}
	switch config.StreamType {
	case CollectionStream:
		if config.Namespace.DB == "" || config.Namespace.Collection == "" {
			return nil, invalidArgumentf("a collection stream requires a database and collection name")
		}
	case DatabaseStream:
		if config.Namespace.DB == "" {
			return nil, invalidArgumentf("a database stream requires a database name")
		}
	case ClientStream:
		if config.Namespace.DB == "" {
			config.Namespace.DB = "admin"
		}
	default:
		return nil, invalidArgumentf("unknown stream type %v", config.StreamType)
	}

	o := MergeOptions(opts...)
	token, err := transformResumeToken(o.ResumeAfter)
	if err != nil {
		return nil, err
	}
	opTime, err := transformOperationTime(o.StartAtOperationTime)
	if err != nil {
		return nil, err
	}
	if token != nil && opTime != nil {
		return nil, invalidArgumentf("resumeAfter and startAtOperationTime cannot both be set")
	}
	if o.BatchSize != nil && *o.BatchSize < 0 {
		return nil, invalidArgumentf("batch size cannot be negative")
	}
	if o.MaxAwaitTime != nil && *o.MaxAwaitTime < 0 {
		return nil, invalidArgumentf("max await time cannot be negative")
	}

	fullDoc := options.Default
	if o.FullDocument != nil {
		fullDoc = *o.FullDocument
	}
	rp := config.ReadPreference
	if rp == nil {
		rp = readpref.Primary()
	}
	resumable := config.IsResumable
	if resumable == nil {
		resumable = isResumableError
	}

	cs := &ChangeStream{
		config:               config,
		pipeline:             pipeline,
		opts:                 o,
		fullDoc:              fullDoc,
		readPref:             rp,
		resumable:            resumable,
		startAtOperationTime: opTime,
		resumeToken:          token,
	}

	if err := cs.runCommand(ctx); err != nil {
		return nil, err
	}
	cs.resuming = true
	return cs, nil
}

// runCommand selects a server, issues the stream's aggregate, and installs the
// resulting cursor. Called once from New and once per resume.
func (cs *ChangeStream) runCommand(ctx context.Context) error {
	cs.mu.Lock()
	// New selection epoch: the cached capability of the previous server does
	// not carry over a reconnect.
	cs.wireVersion = nil
	cs.mu.Unlock()

	server, err := cs.config.Deployment.SelectServer(ctx, cs.readPref)
	if err != nil {
		return errors.Wrap(err, "unable to select server for change stream")
	}
	wv := server.WireVersion()

	cs.mu.Lock()
	cs.wireVersion = &wv
	stage, err := resumeStageOptions(resumeParams{
		resuming:             cs.resuming,
		fullDocument:         cs.fullDoc,
		allChangesForCluster: cs.config.StreamType == ClientStream,
		resumeToken:          cs.resumeToken,
		operationTime:        cs.operationTime,
		startAtOperationTime: cs.startAtOperationTime,
		wireVersion:          cs.wireVersion,
	})
	cs.mu.Unlock()
	if err != nil {
		return err
	}

	pipeline := make([]bson.D, 0, len(cs.pipeline)+1)
	pipeline = append(pipeline, bson.D{{"$changeStream", stage}})
	pipeline = append(pipeline, cs.pipeline...)

	if cs.config.Monitor != nil && cs.config.Monitor.Started != nil {
		cs.config.Monitor.Started(ctx, &event.StreamStartedEvent{
			Database:   cs.config.Namespace.DB,
			Collection: cs.config.Namespace.Collection,
			Resuming:   cs.resuming,
		})
	}

	resp, err := server.Aggregate(ctx, cs.config.Namespace, pipeline, cs.aggregateOptions(), cs.config.Session)
	if err != nil {
		return err
	}

	cs.mu.Lock()
	if cs.closed {
		cs.mu.Unlock()
		// Close raced the command; the new cursor must not resurrect the
		// stream, so tear it down and report the stream gone.
		_ = resp.Cursor.Close(ctx)
		return ErrStreamClosed
	}
	// The newest reply is authoritative for the operation time: a reply
	// without one clears any previously captured value rather than letting a
	// stale timestamp leak into a later resume.
	cs.operationTime = resp.OperationTime
	cs.cursor = resp.Cursor
	cs.mu.Unlock()
	return nil
}

func (cs *ChangeStream) aggregateOptions() AggregateOptions {
	return AggregateOptions{
		BatchSize:    cs.opts.BatchSize,
		Collation:    cs.opts.Collation,
		MaxAwaitTime: cs.opts.MaxAwaitTime,
		NoRetry:      true,
	}
}

// Next blocks until a change document is available, an error occurs, or the
// context expires. Returns true if a document was delivered; Current is then
// valid until the following call. At most one resume is attempted per call: a
// second consecutive resumable failure surfaces through Err, but the stream
// stays open and a later call may try again.
func (cs *ChangeStream) Next(ctx context.Context) bool {
	if ctx == nil {
		ctx = context.Background()
	}
	cs.err = nil
	cs.Current = nil

	cursor, err := cs.liveCursor(ctx)
	if err != nil {
		if err == ErrStreamClosed {
			cs.err = err
			return false
		}
		return cs.fail(ctx, err)
	}

	retried := false
	for {
		doc, err := cursor.Next(ctx)
		if err == nil {
			return cs.deliver(ctx, doc)
		}
		if retried || !cs.resumable(err) {
			return cs.fail(ctx, err)
		}
		retried = true
		if rerr := cs.resume(ctx); rerr != nil {
			return cs.fail(ctx, rerr)
		}
		cursor, err = cs.liveCursor(ctx)
		if err != nil {
			cs.err = err
			return false
		}
	}
}

// TryNext waits up to the stream's max await time for one change document.
// Returns true if a document was delivered. Returns false with a nil Err when
// the server had nothing new within the wait budget. The first resumable
// failure is retried on the same cursor, a second forces a full reopen and one
// more pull, a third surfaces.
func (cs *ChangeStream) TryNext(ctx context.Context) bool {
	if ctx == nil {
		ctx = context.Background()
	}
	cs.err = nil
	cs.Current = nil

	cursor, err := cs.liveCursor(ctx)
	if err != nil {
		if err == ErrStreamClosed {
			cs.err = err
			return false
		}
		return cs.fail(ctx, err)
	}

	for attempt := 0; ; attempt++ {
		doc, err := cursor.TryNext(ctx, cs.maxAwait())
		if err == nil {
			if len(doc) == 0 {
				// An empty wait cycle is not an error and not end-of-stream.
				return false
			}
			return cs.deliver(ctx, doc)
		}
		if attempt >= 2 || !cs.resumable(err) {
			return cs.fail(ctx, err)
		}
		if attempt == 1 {
			if rerr := cs.resume(ctx); rerr != nil {
				return cs.fail(ctx, rerr)
			}
			cursor, err = cs.liveCursor(ctx)
			if err != nil {
				cs.err = err
				return false
			}
		}
	}
}

func (cs *ChangeStream) maxAwait() time.Duration {
	if cs.opts.MaxAwaitTime != nil {
		return *cs.opts.MaxAwaitTime
	}
	return 0
}

// deliver caches the document's resume token and publishes the document. The
// token is advanced before the caller ever sees the document, so a failure in
// the caller's own processing cannot lose it.
func (cs *ChangeStream) deliver(ctx context.Context, doc bson.Raw) bool {
	token, err := resumeTokenFromDocument(doc)
	if err != nil {
		// A notification without an _id cannot anchor any future resume. The
		// previously cached token is kept, but the stream cannot continue.
		_ = cs.Close(ctx)
		return cs.fail(ctx, err)
	}

	cs.mu.Lock()
	if cs.closed {
		// The pull completed after Close; discard the result rather than
		// mutate a closed stream's state.
		cs.mu.Unlock()
		cs.err = ErrStreamClosed
		return false
	}
	cs.resumeToken = token
	cs.mu.Unlock()

	cs.Current = doc
	return true
}

// resume tears down the current cursor and reissues the aggregate using the
// cached resumption state.
func (cs *ChangeStream) resume(ctx context.Context) error {
	cs.mu.Lock()
	if cs.closed {
		cs.mu.Unlock()
		return ErrStreamClosed
	}
	cursor := cs.cursor
	cs.cursor = nil
	cs.mu.Unlock()

	if cursor != nil {
		// The server has most likely discarded the cursor already; teardown is
		// best effort.
		_ = cursor.Close(ctx)
	}

	if err := cs.runCommand(ctx); err != nil {
		return err
	}

	if cs.config.Monitor != nil && cs.config.Monitor.Resumed != nil {
		cs.mu.Lock()
		evt := &event.StreamResumedEvent{
			ResumeToken:   cs.resumeToken,
			OperationTime: cs.operationTime,
		}
		cs.mu.Unlock()
		cs.config.Monitor.Resumed(ctx, evt)
	}
	return nil
}

// liveCursor returns the cursor to pull from. An open stream without a cursor
// is one whose last reopen failed after tearing its cursor down; it is still
// open, so the command is reissued here rather than faking end-of-stream.
func (cs *ChangeStream) liveCursor(ctx context.Context) (BatchCursor, error) {
	cs.mu.Lock()
	if cs.closed {
		cs.mu.Unlock()
		return nil, ErrStreamClosed
	}
	cursor := cs.cursor
	cs.mu.Unlock()
	if cursor != nil {
		return cursor, nil
	}

	if err := cs.runCommand(ctx); err != nil {
		return nil, err
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.closed || cs.cursor == nil {
		return nil, ErrStreamClosed
	}
	return cs.cursor, nil
}

func (cs *ChangeStream) fail(ctx context.Context, err error) bool {
	cs.err = err
	if cs.config.Monitor != nil && cs.config.Monitor.Failed != nil {
		cs.config.Monitor.Failed(ctx, &event.StreamFailedEvent{Failure: err.Error()})
	}
	return false
}

// Decode unmarshals the current change document into val.
func (cs *ChangeStream) Decode(val interface{}) error {
	if cs.err != nil {
		return cs.err
	}
	if len(cs.Current) == 0 {
		return ErrNoCurrentDocument
	}
	return bson.Unmarshal(cs.Current, val)
}

// Err returns the error that ended the most recent Next or TryNext call, if
// any.
func (cs *ChangeStream) Err() error {
	return cs.err
}

// ResumeToken returns a copy of the cached resume token: the _id of the most
// recently delivered document, or the resumeAfter the stream was opened with.
// Returns nil if no token has been observed.
func (cs *ChangeStream) ResumeToken() bson.Raw {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.resumeToken == nil {
		return nil
	}
	token := make(bson.Raw, len(cs.resumeToken))
	copy(token, cs.resumeToken)
	return token
}

// Close closes the stream, attempting server-side teardown of its cursor.
// Teardown failures are swallowed: teardown is best-effort cleanup and its
// errors are not the stream's. Closing a closed stream is a no-op.
func (cs *ChangeStream) Close(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cs.mu.Lock()
	if cs.closed {
		cs.mu.Unlock()
		return nil
	}
	cs.closed = true
	cursor := cs.cursor
	cs.cursor = nil
	cs.mu.Unlock()

	if cursor != nil {
		_ = cursor.Close(ctx)
	}
	if cs.config.Monitor != nil && cs.config.Monitor.Closed != nil {
		cs.config.Monitor.Closed(ctx, &event.StreamClosedEvent{
			Database:   cs.config.Namespace.DB,
			Collection: cs.config.Namespace.Collection,
		})
	}
	return nil
}

// Closed reports whether the stream has been closed.
func (cs *ChangeStream) Closed() bool {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.closed
}
