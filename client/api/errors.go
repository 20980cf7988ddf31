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
	"encoding/json"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"

	"github.com/pkg/errors"
)

// ErrInvalidData is returned when the device has nothing meaningful to ask
// the server for — e.g. no artifact_name is known yet.
var ErrInvalidData = errors.New("api: invalid data")

// ErrDeploymentAborted distinguishes a 409 Conflict status report response
// (the backend aborted the deployment) from the generic BadResponseError.
var ErrDeploymentAborted = errors.New("api: deployment was aborted")

// BadResponseError wraps an unexpected HTTP status together with whatever
// message could be extracted from the response body.
type BadResponseError struct {
	StatusCode int
	Message    string
}

func (e *BadResponseError) Error() string {
	return fmt.Sprintf("api: unexpected response status %d: %s", e.StatusCode, e.Message)
}

// newBadResponseError builds a BadResponseError from a response whose body
// has not yet been read, extracting a server-supplied message if present.
func newBadResponseError(r *http.Response) *BadResponseError {
	msg := unmarshalErrorMessage(r.Body)
	if msg == "" {
		msg = r.Status
	}
	return &BadResponseError{StatusCode: r.StatusCode, Message: msg}
}

// unmarshalErrorMessage extracts a server error message from a JSON body
// shaped like {"error": "..."}, falling back to the raw body text if it
// isn't shaped that way (or isn't JSON at all).
func unmarshalErrorMessage(body io.Reader) string {
	raw, err := ioutil.ReadAll(body)
	if err != nil {
		return ""
	}

	var errData struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &errData); err == nil && errData.Error != "" {
		return errData.Error
	}
	return string(raw)
}
