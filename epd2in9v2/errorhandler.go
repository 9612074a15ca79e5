// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package epd2in9v2

import (
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"

	"github.com/GermanBionicSystems/epaper/hal"
)

// pollInterval is the busy line sampling period.
const pollInterval = 10 * time.Millisecond

// errorHandler is a wrapper for error management. Once a call fails every
// following call is a no-op and err keeps the first failure.
type errorHandler struct {
	h   hal.HAL
	c   hal.Conn
	err error
}

func (eh *errorHandler) dcOut(l gpio.Level) {
	if eh.err != nil {
		return
	}
	eh.err = eh.c.SetDC(l)
}

func (eh *errorHandler) rstOut(l gpio.Level) {
	if eh.err != nil {
		return
	}
	eh.err = eh.c.SetRST(l)
}

func (eh *errorHandler) write(p []byte) {
	if eh.err != nil {
		return
	}
	eh.err = eh.c.SPIWrite(p)
}

func (eh *errorHandler) sendCommand(cmd byte) {
	if eh.err != nil {
		return
	}
	eh.dcOut(gpio.Low)
	eh.write([]byte{cmd})
	if eh.err != nil {
		eh.err = fmt.Errorf("command 0x%02X: %w", cmd, eh.err)
	}
}

func (eh *errorHandler) sendData(data []byte) {
	if eh.err != nil {
		return
	}
	eh.dcOut(gpio.High)
	eh.write(data)
	if eh.err != nil {
		eh.err = fmt.Errorf("data (%d bytes): %w", len(data), eh.err)
	}
}

func (eh *errorHandler) sendByte(b byte) {
	eh.sendData([]byte{b})
}

func (eh *errorHandler) delay(d time.Duration) {
	if eh.err != nil {
		return
	}
	eh.h.Sleep(d)
}

// waitUntilIdle polls the busy line. The budget is counted in poll
// intervals so that it does not depend on wall time.
func (eh *errorHandler) waitUntilIdle(timeout time.Duration) {
	if eh.err != nil {
		return
	}
	polls := int(timeout / pollInterval)
	for i := 0; ; i++ {
		l, err := eh.c.ReadBusy()
		if err != nil {
			eh.err = err
			return
		}
		if l == gpio.Low {
			return
		}
		if i >= polls {
			eh.err = &TimeoutError{Timeout: timeout}
			return
		}
		eh.h.Sleep(pollInterval)
	}
}
