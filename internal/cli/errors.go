package cli

import "errors"

var (
	errRecordIDRequired = errors.New("record id required")
	errNothingRunning   = errors.New("no watcher is running for this project")
)
