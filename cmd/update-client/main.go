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

package main

import (
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/mendersoftware/mender-updateclient/cli"
)

// version is set at build time via -ldflags "-X main.version=...".
var version = "unknown"

func main() {
	if err := cli.SetupApp(version).Run(os.Args); err != nil {
		log.Errorln(err.Error())
		os.Exit(1)
	}
}
