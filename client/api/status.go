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
	"fmt"
	"net/http"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// DeploymentStatus is the closed set of status strings pushed to the
// server over the lifetime of a deployment. Values are wire-exact.
type DeploymentStatus string

const (
	StatusInstalling         DeploymentStatus = "installing"
	StatusPauseBeforeInstall DeploymentStatus = "pause_before_installing"
	StatusDownloading        DeploymentStatus = "downloading"
	StatusPauseBeforeReboot  DeploymentStatus = "pause_before_rebooting"
	StatusRebooting          DeploymentStatus = "rebooting"
	StatusPauseBeforeCommit  DeploymentStatus = "pause_before_committing"
	StatusSuccess            DeploymentStatus = "success"
	StatusFailure            DeploymentStatus = "failure"
	StatusAlreadyInstalled   DeploymentStatus = "already-installed"
)

// StatusReport is the body of a status push.
type StatusReport struct {
	DeploymentID string
	Status       DeploymentStatus
	SubState     string
}

type statusReportBody struct {
	Status   DeploymentStatus `json:"status"`
	SubState string           `json:"substate,omitempty"`
}

// PushStatus reports a deployment status transition to the server. A 409
// Conflict response is reported as ErrDeploymentAborted; any other non-200
// status is a *BadResponseError carrying the server's message if it could
// decode one.
func PushStatus(req ApiRequester, serverURL string, report StatusReport) error {
	hreq, err := makeStatusReportRequest(serverURL, report)
	if err != nil {
		return errors.Wrap(err, "api: failed to prepare status report request")
	}

	r, err := req.Do(hreq)
	if err != nil {
		log.Errorf("api: failed to report status: %v", err)
		return errors.Wrap(err, "api: reporting status failed")
	}
	defer r.Body.Close()

	switch r.StatusCode {
	case http.StatusOK:
		log.Debugf("api: status %q reported for deployment %s", report.Status, report.DeploymentID)
		return nil
	case http.StatusConflict:
		log.Warnf("api: status report rejected, deployment %s aborted at the backend", report.DeploymentID)
		return ErrDeploymentAborted
	default:
		return newBadResponseError(r)
	}
}

func makeStatusReportRequest(serverURL string, report StatusReport) (*http.Request, error) {
	path := fmt.Sprintf("/api/devices/v1/deployments/device/deployments/%s/status", report.DeploymentID)

	out := &bytes.Buffer{}
	if err := json.NewEncoder(out).Encode(statusReportBody{
		Status:   report.Status,
		SubState: report.SubState,
	}); err != nil {
		return nil, errors.Wrap(err, "api: failed to encode status report body")
	}

	hreq, err := http.NewRequest(http.MethodPut, BuildURL(serverURL, path), out)
	if err != nil {
		return nil, err
	}
	hreq.Header.Set("Content-Type", "application/json")
	return hreq, nil
}
