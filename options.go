// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package changestream

import (
	"math"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Options represents all possible options for a change stream. Options are
// captured once at construction and never mutated afterwards.
type Options struct {
	// The maximum number of documents to be included in each batch returned by
	// the server.
	BatchSize *int32

	// Specifies a collation to use for string comparisons during the
	// underlying aggregation.
	Collation *options.Collation

	// Specifies whether the updated document should be returned in change
	// notifications for update operations. The default is options.Default,
	// which means that only partial update deltas will be included.
	FullDocument *options.FullDocument

	// The maximum amount of time the server should wait for new documents to
	// satisfy a try-next call.
	MaxAwaitTime *time.Duration

	// A document specifying the logical starting point for the stream. The
	// value is marshaled to a document at construction.
	ResumeAfter interface{}

	// If specified, the stream only returns changes that occurred at or after
	// the given timestamp. Accepted types are primitive.Timestamp,
	// *primitive.Timestamp, and time.Time; anything else is rejected at
	// construction. Must not be combined with ResumeAfter.
	StartAtOperationTime interface{}
}

// NewOptions creates a new Options instance.
func NewOptions() *Options {
	return &Options{}
}

// SetBatchSize sets the BatchSize option.
func (o *Options) SetBatchSize(i int32) *Options {
	o.BatchSize = &i
	return o
}

// SetCollation sets the Collation option.
func (o *Options) SetCollation(c options.Collation) *Options {
	o.Collation = &c
	return o
}

// SetFullDocument sets the FullDocument option.
func (o *Options) SetFullDocument(fd options.FullDocument) *Options {
	o.FullDocument = &fd
	return o
}

// SetMaxAwaitTime sets the MaxAwaitTime option.
func (o *Options) SetMaxAwaitTime(d time.Duration) *Options {
	o.MaxAwaitTime = &d
	return o
}

// SetResumeAfter sets the ResumeAfter option.
func (o *Options) SetResumeAfter(rt interface{}) *Options {
	o.ResumeAfter = rt
	return o
}

// SetStartAtOperationTime sets the StartAtOperationTime option.
func (o *Options) SetStartAtOperationTime(t interface{}) *Options {
	o.StartAtOperationTime = t
	return o
}

// MergeOptions combines the given Options instances into a single Options in a
// last-one-wins fashion.
func MergeOptions(opts ...*Options) *Options {
	o := NewOptions()
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if opt.BatchSize != nil {
			o.BatchSize = opt.BatchSize
		}
		if opt.Collation != nil {
			o.Collation = opt.Collation
		}
		if opt.FullDocument != nil {
			o.FullDocument = opt.FullDocument
		}
		if opt.MaxAwaitTime != nil {
			o.MaxAwaitTime = opt.MaxAwaitTime
		}
		if opt.ResumeAfter != nil {
			o.ResumeAfter = opt.ResumeAfter
		}
		if opt.StartAtOperationTime != nil {
			o.StartAtOperationTime = opt.StartAtOperationTime
		}
	}
	return o
}

// transformResumeToken marshals a caller-supplied resume token into an
// independent document.
func transformResumeToken(val interface{}) (bson.Raw, error) {
	switch t := val.(type) {
	case nil:
		return nil, nil
	case bson.Raw:
		token := make(bson.Raw, len(t))
		copy(token, t)
		return token, nil
	default:
		token, err := bson.Marshal(val)
		if err != nil {
			return nil, invalidArgumentf("invalid resume token %v: %v", val, err)
		}
		return token, nil
	}
}

// transformOperationTime converts a caller-supplied operation time into a
// server timestamp.
func transformOperationTime(val interface{}) (*primitive.Timestamp, error) {
	switch t := val.(type) {
	case nil:
		return nil, nil
	case primitive.Timestamp:
		return &t, nil
	case *primitive.Timestamp:
		if t == nil {
			return nil, nil
		}
		ts := *t
		return &ts, nil
	case time.Time:
		sec := t.Unix()
		if sec < 0 || sec > math.MaxUint32 {
			return nil, invalidArgumentf("time %v is out of range for a server timestamp", t)
		}
		return &primitive.Timestamp{T: uint32(sec), I: 0}, nil
	default:
		return nil, invalidArgumentf("invalid start at operation time of type %T", val)
	}
}
