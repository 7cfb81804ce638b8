// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package changestream implements a resumable cursor over a server-side
// change-event feed. A ChangeStream issues a change stream aggregation
// through caller-supplied collaborators (server selection, command execution,
// cursor iteration, error classification) and survives transient failures by
// reissuing the aggregation from a cached resumption point: the resume token
// of the last delivered event, or the operation time of the first reply while
// no token exists yet. Each call retries at most once, so a persistent outage
// surfaces to the caller instead of looping.
package changestream // import "github.com/ikmak/changestream"
