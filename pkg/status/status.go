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

// Package status defines the typed errors returned across the kernel
// interface boundary.
//
// The core has no unwinding: failing operations return one of these
// sentinels before any state change, and callers compare with errors.Is.
package status

import "errors"

var (
	// ErrMemObj indicates that a memory object (page-table node, domain
	// identifier, configuration table) could not be allocated.
	ErrMemObj = errors.New("memory object allocation failed")

	// ErrBadPar indicates a parameter violation, e.g. a misaligned
	// address or an order that is not a multiple of the per-level bits.
	ErrBadPar = errors.New("bad parameter")

	// ErrAborted indicates that a referenced object went away before the
	// operation could take effect.
	ErrAborted = errors.New("operation aborted")

	// ErrTimeout indicates that a hardware handshake did not complete
	// within its bounded poll budget.
	ErrTimeout = errors.New("hardware timeout")

	// ErrBadFtr indicates that a required hardware feature is absent or
	// has been disabled on the command line.
	ErrBadFtr = errors.New("feature unavailable")
)
