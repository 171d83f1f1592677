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

// Package cmdline parses the operator command line.
//
// The command line is a single free-form string handed over by the
// boot loader. Recognized whitespace-separated tokens set the
// corresponding boolean filter; unknown tokens are ignored. Filters
// only ever downgrade hardware features and must be applied before any
// consumer reads the feature view.
package cmdline

import "strings"

// Options holds the recognized boolean filters.
type Options struct {
	Insecure bool // skip measured launch
	NoCCST   bool // keep firmware C-state control
	NoCPST   bool // keep firmware P-state control
	NoDL     bool // disable TSC deadline mode
	NoMKTME  bool // disable multi-key memory encryption
	NoPCID   bool // disable PCID/ASID tagging
	NoSMMU   bool // disable DMA remapping
	NoUART   bool // disable UART console sinks
	NoVPID   bool // disable VPID tagging
}

var options = map[string]func(*Options){
	"insecure": func(o *Options) { o.Insecure = true },
	"noccst":   func(o *Options) { o.NoCCST = true },
	"nocpst":   func(o *Options) { o.NoCPST = true },
	"nodl":     func(o *Options) { o.NoDL = true },
	"nomktme":  func(o *Options) { o.NoMKTME = true },
	"nopcid":   func(o *Options) { o.NoPCID = true },
	"nosmmu":   func(o *Options) { o.NoSMMU = true },
	"nouart":   func(o *Options) { o.NoUART = true },
	"novpid":   func(o *Options) { o.NoVPID = true },
}

// Parse tokenizes the command line on whitespace and returns the
// resulting option set.
func Parse(line string) Options {
	var o Options
	for _, tok := range strings.Fields(line) {
		if set, ok := options[tok]; ok {
			set(&o)
		}
	}
	return o
}
