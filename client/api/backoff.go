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
package api

import (
	"time"

	"github.com/pkg/errors"
)

// ExponentialBackoffSmallestUnit is the smallest interval
// GetExponentialBackoffTime will ever return.
var ExponentialBackoffSmallestUnit = time.Minute

// ErrMaxRetriesExceeded is returned once the caller has exhausted the
// allotted attempts at the capped interval.
var ErrMaxRetriesExceeded = errors.New("api: tried maximum amount of times")

// GetExponentialBackoffTime is a retry-interval calculator a caller MAY use
// around CheckNewDeployments/PushStatus; this package never retries
// internally. tried is the number of attempts made so far; maxInterval caps
// the returned interval. After three attempts at the cap, it gives up with
// ErrMaxRetriesExceeded.
func GetExponentialBackoffTime(tried int, maxInterval time.Duration) (time.Duration, error) {
	const perIntervalAttempts = 3

	interval := ExponentialBackoffSmallestUnit
	next := interval

	for c := 0; c <= tried; c += perIntervalAttempts {
		interval = next
		next *= 2
		if interval >= maxInterval {
			if tried-c >= perIntervalAttempts {
				return 0, ErrMaxRetriesExceeded
			}
			if maxInterval < ExponentialBackoffSmallestUnit {
				return ExponentialBackoffSmallestUnit, nil
			}
			return maxInterval, nil
		}
	}

	return interval, nil
}
