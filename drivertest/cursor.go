// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package drivertest provides scripted implementations of the changestream
// collaborator interfaces for use in tests.
package drivertest

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
)

// ErrScriptEnded is returned by scripted fakes once their script is exhausted.
var ErrScriptEnded = errors.New("drivertest: script exhausted")

// CursorResponse describes one scripted pull outcome. A response with neither
// a document nor an error represents an empty wait cycle.
type CursorResponse struct {
	Doc bson.Raw
	Err error
}

// Cursor implements changestream.BatchCursor by consuming scripted responses
// in order. Next skips empty responses the way a blocking pull rides out
// empty server batches; TryNext consumes exactly one response per call.
type Cursor struct {
	Responses []CursorResponse

	// CloseErr is returned from Close, for exercising teardown-failure
	// swallowing.
	CloseErr error

	// Closes counts Close calls.
	Closes int
}

// NewCursor returns a cursor that will play back the given responses.
func NewCursor(responses ...CursorResponse) *Cursor {
	return &Cursor{Responses: responses}
}

func (c *Cursor) take() (CursorResponse, bool) {
	if len(c.Responses) == 0 {
		return CursorResponse{}, false
	}
	resp := c.Responses[0]
	c.Responses = c.Responses[1:]
	return resp, true
}

// Next implements the changestream.BatchCursor interface.
func (c *Cursor) Next(ctx context.Context) (bson.Raw, error) {
	for {
		resp, ok := c.take()
		if !ok {
			return nil, ErrScriptEnded
		}
		if resp.Err != nil {
			return nil, resp.Err
		}
		if len(resp.Doc) != 0 {
			return resp.Doc, nil
		}
	}
}

// TryNext implements the changestream.BatchCursor interface.
func (c *Cursor) TryNext(ctx context.Context, maxAwait time.Duration) (bson.Raw, error) {
	resp, ok := c.take()
	if !ok {
		return nil, ErrScriptEnded
	}
	return resp.Doc, resp.Err
}

// Close implements the changestream.BatchCursor interface.
func (c *Cursor) Close(ctx context.Context) error {
	c.Closes++
	return c.CloseErr
}

// FuncCursor implements changestream.BatchCursor with caller-supplied
// behavior, for tests that need more than playback, such as racing Close
// against an in-flight pull.
type FuncCursor struct {
	NextFunc    func(ctx context.Context) (bson.Raw, error)
	TryNextFunc func(ctx context.Context, maxAwait time.Duration) (bson.Raw, error)
	CloseFunc   func(ctx context.Context) error
}

// Next implements the changestream.BatchCursor interface.
func (c *FuncCursor) Next(ctx context.Context) (bson.Raw, error) {
	return c.NextFunc(ctx)
}

// TryNext implements the changestream.BatchCursor interface.
func (c *FuncCursor) TryNext(ctx context.Context, maxAwait time.Duration) (bson.Raw, error) {
	return c.TryNextFunc(ctx, maxAwait)
}

// Close implements the changestream.BatchCursor interface.
func (c *FuncCursor) Close(ctx context.Context) error {
	if c.CloseFunc == nil {
		return nil
	}
	return c.CloseFunc(ctx)
}
