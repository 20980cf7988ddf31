// Copyright 2024 Northern.tech AS
//
//    Licensed under the Apache License, Version 2.0 (the "License");
//    you may not use this file except in compliance with the License.
//    You may obtain a copy of the License at
//
//        http://www.apache.org/licenses/LICENSE-2.0
//
//    Unless required by applicable law or agreed to in writing, software
//    distributed under the License is distributed on an "AS IS" BASIS,
//    WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
//    See the License for the specific language governing permissions and
//    limitations under the License.
package utils

import (
	"github.com/mendersoftware/progressbar"
)

// ProgressWriter wraps an io.Writer destination (a FIFO write, in the
// installer's case) so that every chunk written also ticks a terminal
// progress bar. Safe to use with an unknown payload size: size<=0 produces a
// bar that just counts bytes without a percentage.
type ProgressWriter struct {
	bar      *progressbar.Bar
	finished bool
}

func NewProgressWriter(size int64) *ProgressWriter {
	return &ProgressWriter{
		bar: progressbar.New(size),
	}
}

func (p *ProgressWriter) Write(data []byte) (int, error) {
	if p.finished {
		return len(data), nil
	}
	n := len(data)
	if p.bar == nil {
		return n, nil
	}
	p.bar.Tick(int64(n))
	// The payload stream can run a little short of the declared size
	// (header/footer framing in the artifact), so finish eagerly once
	// we're close rather than never reaching 100%.
	if p.bar.Percentage == 99 {
		p.bar.Finish()
		p.finished = true
	}
	return n, nil
}

func (p *ProgressWriter) Tick(n uint64) {
	p.bar.Tick(int64(n))
}
