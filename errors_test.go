// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package changestream

import (
	"context"
	"net"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestCommandError(t *testing.T) {
	t.Parallel()

	err := CommandError{Code: 10107, Message: "node is not master", Name: "NotMaster"}
	require.Equal(t, "(NotMaster) node is not master", err.Error())
	require.False(t, err.HasErrorLabel(ResumableChangeStreamErrorLabel))

	labeled := CommandError{Code: 1, Labels: []string{ResumableChangeStreamErrorLabel}}
	require.True(t, labeled.HasErrorLabel(ResumableChangeStreamErrorLabel))
}

func TestIsResumableError(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name      string
		err       error
		resumable bool
	}{
		{"nil", nil, false},
		{"not master", CommandError{Code: 10107}, true},
		{"cursor not found", CommandError{Code: 43}, true},
		{"interrupted due to repl state change", CommandError{Code: 11602}, true},
		{"pointer command error", &CommandError{Code: 189}, true},
		{"resumable label on unknown code", CommandError{Code: 1, Labels: []string{ResumableChangeStreamErrorLabel}}, true},
		{"unauthorized", CommandError{Code: 13}, false},
		{"namespace not found", CommandError{Code: 26}, false},
		{"network error", &net.DNSError{Err: "connection reset", IsTimeout: true}, true},
		{"wrapped command error", errors.Wrap(CommandError{Code: 10107}, "getMore failed"), true},
		{"wrapped non-resumable", errors.Wrap(CommandError{Code: 13}, "getMore failed"), false},
		{"context canceled", context.Canceled, false},
		{"context deadline", context.DeadlineExceeded, false},
		{"plain error", errors.New("boom"), false},
		{"missing resume token", ErrMissingResumeToken, false},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.resumable, isResumableError(tc.err))
		})
	}
}
