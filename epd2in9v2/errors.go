// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package epd2in9v2

import (
	"errors"
	"fmt"
	"time"

	"github.com/GermanBionicSystems/epaper/frame"
)

var (
	// ErrTimeout matches every TimeoutError.
	ErrTimeout = errors.New("epd2in9v2: timeout waiting for busy line")
	// ErrInvalidImageSize matches every InvalidSizeError.
	ErrInvalidImageSize = errors.New("epd2in9v2: invalid image size")
	// ErrClosed is returned by a Dev after Sleep or Close.
	ErrClosed = errors.New("epd2in9v2: device closed")
	// ErrNotInitialized is returned when drawing before Init.
	ErrNotInitialized = errors.New("epd2in9v2: device not initialized")
)

// TimeoutError is returned when the busy line stays high longer than the
// allowed budget.
type TimeoutError struct {
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("busy line still high after %v", e.Timeout)
}

// Is makes errors.Is(err, ErrTimeout) true.
func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// InvalidSizeError is returned for an image that is not exactly one frame.
type InvalidSizeError struct {
	Got int
}

func (e *InvalidSizeError) Error() string {
	return fmt.Sprintf("epd2in9v2: image is %d bytes, want %d", e.Got, frame.Size)
}

// Is makes errors.Is(err, ErrInvalidImageSize) true.
func (e *InvalidSizeError) Is(target error) bool {
	return target == ErrInvalidImageSize
}
