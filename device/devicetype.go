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

// Package device reads the device-local identity: the device_type file and,
// together with datastore, the full context the deployment client and
// update-module driver need.
package device

import (
	"bufio"
	"os"
	"strings"

	"github.com/pkg/errors"
)

// ErrParse is the category sentinel for a device_type file whose first line
// is not a "device_type=<value>" line (empty file, no '=' on that line, or
// a key other than device_type).
var ErrParse = errors.New("device: parse error")

// ErrValue is the category sentinel for a device_type file that otherwise
// parses but carries content beyond the single device_type=<value> line.
var ErrValue = errors.New("device: value error")

// GetDeviceType reads the device type out of deviceTypeFile. The file must
// start with one line of the form "device_type=<value>", with an optional
// trailing newline. Blank lines after it are tolerated; any further
// non-empty line is an error.
func GetDeviceType(deviceTypeFile string) (string, error) {
	f, err := os.Open(deviceTypeFile)
	if err != nil {
		return "", err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)

	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return "", errors.Wrap(err, "device: failed to read device_type file")
		}
		return "", errors.Wrap(ErrParse, "device_type file is empty")
	}
	line := scanner.Text()

	parts := strings.SplitN(line, "=", 2)
	if len(parts) != 2 || parts[0] != "device_type" {
		return "", errors.Wrapf(ErrParse, "malformed device_type line %q", line)
	}
	value := parts[1]

	// Blank lines after the device_type line are tolerated (the scanner
	// already drops a final trailing newline by itself); any non-empty
	// line is not.
	for scanner.Scan() {
		if scanner.Text() != "" {
			return "", errors.Wrap(ErrValue, "device_type file contains trailing content")
		}
	}
	if err := scanner.Err(); err != nil {
		return "", errors.Wrap(err, "device: failed to read device_type file")
	}

	return value, nil
}
