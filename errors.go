// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package changestream

import (
	"context"
	"fmt"
	"net"

	"github.com/pkg/errors"
)

// ErrMissingResumeToken indicates that a change stream notification from the server did not
// contain a resume token.
var ErrMissingResumeToken = errors.New("cannot provide resume functionality when the resume token is missing")

// ErrStreamClosed is returned by operations attempted on a closed stream.
var ErrStreamClosed = errors.New("change stream is closed")

// ResumableChangeStreamErrorLabel is the error label servers attach to
// failures that are safe to resume from.
const ResumableChangeStreamErrorLabel = "ResumableChangeStreamError"

// CommandError is a server execution error of the stream's underlying
// aggregate or getMore.
type CommandError struct {
	Code    int32
	Message string
	Name    string
	Labels  []string
}

// Error implements the error interface.
func (e CommandError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("(%v) %v", e.Name, e.Message)
	}
	return e.Message
}

// HasErrorLabel returns true if the error contains the specified label.
func (e CommandError) HasErrorLabel(label string) bool {
	for _, l := range e.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// InvalidArgumentError is returned when a caller-supplied option cannot be
// used, for example a start-at-operation-time value of an unrecognized type.
type InvalidArgumentError struct {
	Message string
}

// Error implements the error interface.
func (e InvalidArgumentError) Error() string {
	return e.Message
}

func invalidArgumentf(format string, args ...interface{}) error {
	return InvalidArgumentError{Message: fmt.Sprintf(format, args...)}
}

const (
	errorCodeHostUnreachable     int32 = 6
	errorCodeHostNotFound        int32 = 7
	errorCodeCursorNotFound      int32 = 43
	errorCodeStaleShardVersion   int32 = 63
	errorCodeNetworkTimeout      int32 = 89
	errorCodeShutdownInProgress  int32 = 91
	errorCodeReadPrefUnsatisfied int32 = 133
	errorCodeStaleEpoch          int32 = 150
	errorCodePrimarySteppedDown  int32 = 189
	errorCodeRetryChangeStream   int32 = 234
	errorCodeExceededTimeLimit   int32 = 262
	errorCodeSocketException     int32 = 9001
	errorCodeNotMaster           int32 = 10107
	errorCodeShutdownInterrupted int32 = 11600
	errorCodeReplStateChange     int32 = 11602
	errorCodeNotMasterNoSlaveOk  int32 = 13435
	errorCodeNotMasterOrSec      int32 = 13436
)

var resumableCodes = map[int32]bool{
	errorCodeHostUnreachable:     true,
	errorCodeHostNotFound:        true,
	errorCodeCursorNotFound:      true,
	errorCodeStaleShardVersion:   true,
	errorCodeNetworkTimeout:      true,
	errorCodeShutdownInProgress:  true,
	errorCodeReadPrefUnsatisfied: true,
	errorCodeStaleEpoch:          true,
	errorCodePrimarySteppedDown:  true,
	errorCodeRetryChangeStream:   true,
	errorCodeExceededTimeLimit:   true,
	errorCodeSocketException:     true,
	errorCodeNotMaster:           true,
	errorCodeShutdownInterrupted: true,
	errorCodeReplStateChange:     true,
	errorCodeNotMasterNoSlaveOk:  true,
	errorCodeNotMasterOrSec:      true,
}

// isResumableError is the default error classifier. Server errors resume on
// the label or on the known code set; network-class failures resume
// unconditionally. Context cancellation and anything else propagate.
func isResumableError(err error) bool {
	if err == nil {
		return false
	}
	cause := errors.Cause(err)
	// context.DeadlineExceeded satisfies net.Error, so callers aborting via
	// context must not be mistaken for a network blip.
	if cause == context.Canceled || cause == context.DeadlineExceeded {
		return false
	}
	switch e := cause.(type) {
	case CommandError:
		return e.HasErrorLabel(ResumableChangeStreamErrorLabel) || resumableCodes[e.Code]
	case *CommandError:
		return e.HasErrorLabel(ResumableChangeStreamErrorLabel) || resumableCodes[e.Code]
	case net.Error:
		return true
	}
	return false
}
