// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package drivertest

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/ikmak/changestream"
)

// AggregateRequest records one aggregate issued to a Server.
type AggregateRequest struct {
	Namespace changestream.Namespace
	Pipeline  []bson.D
	Options   changestream.AggregateOptions
	Session   changestream.Session
}

// ServerResponse describes one scripted Aggregate outcome.
type ServerResponse struct {
	Response changestream.AggregateResponse
	Err      error
}

// Server implements changestream.Server by consuming scripted responses in
// order and recording every request it receives.
type Server struct {
	MaxWireVersion int32
	Responses      []ServerResponse
	Requests       []AggregateRequest
}

// WireVersion implements the changestream.Server interface.
func (s *Server) WireVersion() int32 {
	return s.MaxWireVersion
}

// Aggregate implements the changestream.Server interface.
func (s *Server) Aggregate(ctx context.Context, ns changestream.Namespace, pipeline []bson.D,
	opts changestream.AggregateOptions, sess changestream.Session) (changestream.AggregateResponse, error) {

	s.Requests = append(s.Requests, AggregateRequest{
		Namespace: ns,
		Pipeline:  pipeline,
		Options:   opts,
		Session:   sess,
	})
	if len(s.Responses) == 0 {
		return changestream.AggregateResponse{}, ErrScriptEnded
	}
	resp := s.Responses[0]
	s.Responses = s.Responses[1:]
	return resp.Response, resp.Err
}

// Deployment implements changestream.Deployment. Successive selections return
// successive servers; the last server repeats once the list is exhausted.
type Deployment struct {
	Servers []*Server

	// SelectErr fails every selection. SelectErrs fails individual selections
	// by attempt index; nil entries succeed.
	SelectErr  error
	SelectErrs []error

	// Selections counts selection attempts, failed ones included.
	Selections int
}

// SelectServer implements the changestream.Deployment interface.
func (d *Deployment) SelectServer(ctx context.Context, rp *readpref.ReadPref) (changestream.Server, error) {
	attempt := d.Selections
	d.Selections++
	if d.SelectErr != nil {
		return nil, d.SelectErr
	}
	if attempt < len(d.SelectErrs) && d.SelectErrs[attempt] != nil {
		return nil, d.SelectErrs[attempt]
	}
	if len(d.Servers) == 0 {
		return nil, ErrScriptEnded
	}
	idx := attempt
	if idx >= len(d.Servers) {
		idx = len(d.Servers) - 1
	}
	return d.Servers[idx], nil
}

// Session is a trivial changestream.Session.
type Session struct {
	ID bson.Raw
}

// SessionID implements the changestream.Session interface.
func (s *Session) SessionID() bson.Raw {
	return s.ID
}
