// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package changestream

import (
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// minOperationTimeResumeWireVersion is the lowest wire protocol version that
// understands startAtOperationTime.
const minOperationTimeResumeWireVersion int32 = 7

// resumeParams is the full input of the resumption decision for one command
// issuance.
type resumeParams struct {
	// resuming is false only for the very first command of a stream.
	resuming bool

	fullDocument         options.FullDocument
	allChangesForCluster bool

	// resumeToken is the cached token: the _id of the most recently delivered
	// document, or the caller's resumeAfter before any delivery.
	resumeToken bson.Raw

	// operationTime is the operation time captured from the first command
	// reply. It is only a fallback for the window before any token exists.
	operationTime *primitive.Timestamp

	// startAtOperationTime is the caller-supplied starting point, honored on
	// the first command only.
	startAtOperationTime *primitive.Timestamp

	// wireVersion is the selected server's wire version for the current
	// selection epoch; nil when no server has been selected.
	wireVersion *int32
}

// resumeStageOptions computes the options document of the $changeStream stage
// for one command issuance. It is a pure function of its input: the retry
// control flow supplies the cached state and consumes the document or the
// error. At most one of resumeAfter and startAtOperationTime is ever emitted.
func resumeStageOptions(p resumeParams) (bson.D, error) {
	stage := bson.D{{"fullDocument", string(p.fullDocument)}}

	switch {
	case !p.resuming:
		if p.resumeToken != nil {
			stage = append(stage, bson.E{"resumeAfter", p.resumeToken})
		} else if p.startAtOperationTime != nil {
			stage = append(stage, bson.E{"startAtOperationTime", *p.startAtOperationTime})
		}
	case p.resumeToken != nil:
		// A known token always wins; operation time is withheld even if set.
		stage = append(stage, bson.E{"resumeAfter", p.resumeToken})
	case p.operationTime != nil && p.wireVersion != nil && *p.wireVersion >= minOperationTimeResumeWireVersion:
		stage = append(stage, bson.E{"startAtOperationTime", *p.operationTime})
	default:
		// No token and no usable operation time. Restarting from "now" would
		// silently drop events, so the stream cannot be resumed.
		return nil, ErrMissingResumeToken
	}

	if p.allChangesForCluster {
		stage = append(stage, bson.E{"allChangesForCluster", true})
	}
	return stage, nil
}

// resumeTokenFromDocument extracts the _id of a delivered change document as
// the new resume token. The bytes are copied so later caller mutation of the
// delivered document cannot corrupt the cached token.
func resumeTokenFromDocument(doc bson.Raw) (bson.Raw, error) {
	val, err := doc.LookupErr("_id")
	if err != nil {
		return nil, ErrMissingResumeToken
	}
	tokenDoc, ok := val.DocumentOK()
	if !ok {
		return nil, ErrMissingResumeToken
	}
	token := make(bson.Raw, len(tokenDoc))
	copy(token, tokenDoc)
	return token, nil
}
