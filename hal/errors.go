// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package hal

import (
	"errors"
	"fmt"
)

// ErrClosed is returned by operations on a released Conn.
var ErrClosed = errors.New("hal: connection closed")

// ConfigError reports a missing or invalid configuration field. It is
// returned before any bus or pin access happens.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("hal: invalid config field %s: %s", e.Field, e.Reason)
}

// OpError wraps a platform failure with the failing call and the field
// (bus or pin) it concerned.
type OpError struct {
	Op    string
	Field string
	Err   error
}

func (e *OpError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("hal: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("hal: %s(%s): %v", e.Op, e.Field, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}
