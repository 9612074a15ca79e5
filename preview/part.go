// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package preview

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
)

// partWriter writes a never ending multipart body, one part per frame.
// mime/multipart.Writer only terminates a part when the next one starts,
// which leaves each frame pending at the client.
type partWriter struct {
	w        io.Writer
	boundary string
	started  bool
}

func newPartWriter(w io.Writer) *partWriter {
	return &partWriter{
		w:        w,
		boundary: strings.ReplaceAll(uuid.NewString(), "-", ""),
	}
}

// writePart sends one complete part followed by the boundary line.
func (p *partWriter) writePart(mimeType string, seq int, body []byte) error {
	var buf bytes.Buffer
	if !p.started {
		fmt.Fprintf(&buf, "--%s\r\n", p.boundary)
		p.started = true
	}
	fmt.Fprintf(&buf, "Content-Type: %s\r\n", mimeType)
	fmt.Fprintf(&buf, "Content-Length: %d\r\n", len(body))
	fmt.Fprintf(&buf, "X-Frame-Seq: %d\r\n\r\n", seq)
	buf.Write(body)
	fmt.Fprintf(&buf, "\r\n--%s\r\n", p.boundary)
	_, err := buf.WriteTo(p.w)
	return err
}
