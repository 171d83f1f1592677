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
	"time"

	"golang.org/x/time/rate"
)

// RateLimited wraps a logger so that asynchronous fault paths (IOMMU
// faults, GIC global faults) cannot flood the console when a device
// misbehaves.
type RateLimited struct {
	logger *Logger
	limit  *rate.Limiter
}

// NewRateLimited returns a logger emitting at most once per the given
// duration.
func NewRateLimited(logger *Logger, every time.Duration) *RateLimited {
	return &RateLimited{
		logger: logger,
		limit:  rate.NewLimiter(rate.Every(every), 1),
	}
}

// Warningf logs at Warning level, subject to the rate limit.
func (rl *RateLimited) Warningf(format string, v ...any) {
	if rl.limit.Allow() {
		rl.logger.Warningf(format, v...)
	}
}

// Infof logs at Info level, subject to the rate limit.
func (rl *RateLimited) Infof(format string, v ...any) {
	if rl.limit.Allow() {
		rl.logger.Infof(format, v...)
	}
}

// Debugf logs at Debug level, subject to the rate limit.
func (rl *RateLimited) Debugf(format string, v ...any) {
	if rl.limit.Allow() {
		rl.logger.Debugf(format, v...)
	}
}
