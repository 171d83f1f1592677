// Copyright 2023 The Hyperion Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package log

import (
	"strings"
	"testing"
	"time"
)

type recorder struct {
	lines []string
}

func (r *recorder) Emit(level Level, format string, v ...any) {
	r.lines = append(r.lines, level.String())
}

func TestLevels(t *testing.T) {
	r := &recorder{}
	l := NewLogger(Info, r)

	l.Debugf("dropped")
	l.Infof("kept")
	l.Warningf("kept")
	if len(r.lines) != 2 {
		t.Errorf("lines = %v", r.lines)
	}

	l.SetLevel(Debug)
	if !l.IsLogging(Debug) {
		t.Error("IsLogging(Debug) = false after SetLevel")
	}
	l.Debugf("kept now")
	if len(r.lines) != 3 {
		t.Errorf("lines = %v", r.lines)
	}
}

func TestMultipleEmitters(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	l := NewLogger(Info, a)
	l.AddEmitter(b)
	l.Infof("x")
	if len(a.lines) != 1 || len(b.lines) != 1 {
		t.Errorf("emitters saw %d/%d lines", len(a.lines), len(b.lines))
	}
}

func TestWriterEmitter(t *testing.T) {
	var sb strings.Builder
	l := NewLogger(Info, NewWriterEmitter(&sb))
	l.Infof("value %d", 42)
	if got := sb.String(); got != "[I] value 42\n" {
		t.Errorf("output = %q", got)
	}
}

func TestRateLimited(t *testing.T) {
	r := &recorder{}
	rl := NewRateLimited(NewLogger(Info, r), time.Hour)

	rl.Warningf("first")
	rl.Warningf("suppressed")
	rl.Warningf("suppressed")
	if len(r.lines) != 1 {
		t.Errorf("lines = %d, want 1", len(r.lines))
	}
}
