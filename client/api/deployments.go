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
	"bytes"
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/pkg/errors"

	"github.com/mendersoftware/mender-updateclient/datastore"
)

const (
	deploymentsNextPathV2 = "/api/devices/v2/deployments/device/deployments/next"
	deploymentsNextPathV1 = "/api/devices/v1/deployments/device/deployments/next"
)

// Scheduler is the event-loop capability CheckNewDeployments needs to break
// stack re-entry when it falls back from v2 to v1: the fallback request must
// run as a fresh iteration of the loop, not nested inside the v2 response
// handler's own call stack.
type Scheduler interface {
	Post(fn func())
}

// NextDeploymentHandler receives the raw JSON deployment body on success, a
// nil body with a nil error on "no deployment available" (204), or a nil
// body with a non-nil error on failure.
type NextDeploymentHandler func(body []byte, err error)

type checkUpdateRequest struct {
	UpdateControlMap bool              `json:"update_control_map"`
	DeviceProvides   map[string]string `json:"device_provides"`
}

// CheckNewDeployments asks the server whether a new deployment exists for
// this device, trying the v2 POST endpoint first and falling back to the
// legacy v1 GET endpoint if the server answers 404 Not Found. handler is
// invoked exactly once: synchronously on the caller's goroutine with an
// error if the v2 request can't be built or sent, or with the decoded v2
// response; or, after a 404, from the work posted to loop once the v1
// fallback response has been decoded.
//
// provides must already contain "artifact_name" (ErrInvalidData is
// delivered to handler, before any request is made, if it doesn't — a
// device that doesn't know what it's running cannot meaningfully ask what's
// next).
func CheckNewDeployments(
	req ApiRequester,
	loop Scheduler,
	serverURL string,
	deviceType string,
	provides datastore.ProvidesMap,
	handler NextDeploymentHandler,
) {
	if err := checkNewDeploymentsWith(req, loop, serverURL, deviceType, provides, handler); err != nil {
		if handler != nil {
			handler(nil, err)
		}
	}
}

func checkNewDeploymentsWith(
	req ApiRequester,
	loop Scheduler,
	serverURL string,
	deviceType string,
	provides datastore.ProvidesMap,
	handler NextDeploymentHandler,
) error {
	artifactName, ok := provides["artifact_name"]
	if !ok || artifactName == "" {
		return errors.Wrap(ErrInvalidData, "api: no artifact_name known, cannot check for deployments")
	}

	body := checkUpdateRequest{
		UpdateControlMap: false,
		DeviceProvides:   map[string]string{"device_type": deviceType},
	}
	for k, v := range provides {
		body.DeviceProvides[k] = v
	}

	fallback := func() {
		checkNewDeploymentsV1(req, serverURL, artifactName, deviceType, handler)
	}

	return checkNewDeploymentsV2(req, loop, serverURL, body, fallback, handler)
}

func checkNewDeploymentsV2(
	req ApiRequester,
	loop Scheduler,
	serverURL string,
	body checkUpdateRequest,
	fallbackToV1 func(),
	handler NextDeploymentHandler,
) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(err, "api: failed to encode deployments/next request")
	}

	hreq, err := http.NewRequest(http.MethodPost, BuildURL(serverURL, deploymentsNextPathV2), bytes.NewReader(encoded))
	if err != nil {
		return errors.Wrap(err, "api: failed to create deployments/next request")
	}
	hreq.Header.Set("Content-Type", "application/json")
	hreq.Header.Set("Accept", "application/json")

	r, err := req.Do(hreq)
	if err != nil {
		return errors.Wrap(err, "api: deployments/next v2 request failed")
	}
	defer r.Body.Close()

	if r.StatusCode == http.StatusNotFound {
		// Scheduled onto the loop rather than called directly, so the
		// v1 request doesn't run nested inside this response's own
		// call stack.
		if loop != nil {
			loop.Post(fallbackToV1)
		} else {
			fallbackToV1()
		}
		return nil
	}

	data, err := decodeNextDeploymentResponse(r)
	if handler != nil {
		handler(data, err)
	}
	// The outcome has been delivered to handler; returning err as well
	// would make CheckNewDeployments deliver it a second time.
	return nil
}

func checkNewDeploymentsV1(
	req ApiRequester,
	serverURL string,
	artifactName, deviceType string,
	handler NextDeploymentHandler,
) {
	q := url.Values{}
	q.Set("artifact_name", artifactName)
	q.Set("device_type", deviceType)

	target := BuildURL(serverURL, deploymentsNextPathV1) + "?" + q.Encode()
	hreq, err := http.NewRequest(http.MethodGet, target, nil)
	if err != nil {
		if handler != nil {
			handler(nil, errors.Wrap(err, "api: failed to create deployments/next v1 request"))
		}
		return
	}
	hreq.Header.Set("Accept", "application/json")

	r, err := req.Do(hreq)
	if err != nil {
		if handler != nil {
			handler(nil, errors.Wrap(err, "api: deployments/next v1 request failed"))
		}
		return
	}
	defer r.Body.Close()

	data, err := decodeNextDeploymentResponse(r)
	if handler != nil {
		handler(data, err)
	}
}

// decodeNextDeploymentResponse applies the common 200/204/other handling
// shared by the v2 and v1 "next deployment" endpoints.
func decodeNextDeploymentResponse(r *http.Response) ([]byte, error) {
	switch r.StatusCode {
	case http.StatusOK:
		var raw json.RawMessage
		dec := json.NewDecoder(r.Body)
		if err := dec.Decode(&raw); err != nil {
			return nil, errors.Wrap(err, "api: failed to parse deployments/next response")
		}
		return raw, nil
	case http.StatusNoContent:
		return nil, nil
	default:
		return nil, newBadResponseError(r)
	}
}
