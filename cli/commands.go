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

// Package cli wires the update client's capabilities (the deployment API
// client, the device context, and the update-module driver) into a small
// set of commands a human or a wrapper daemon can invoke directly.
package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/mendersoftware/mender-updateclient/client/api"
	"github.com/mendersoftware/mender-updateclient/conf"
	"github.com/mendersoftware/mender-updateclient/device"
	"github.com/mendersoftware/mender-updateclient/eventloop"
	"github.com/mendersoftware/mender-updateclient/installer"
	"github.com/mendersoftware/mender-updateclient/store"
)

var out io.Writer = os.Stdout

var errArtifactNameEmpty = errors.New("cli: the artifact name is empty; no update has been installed yet")

type runOptionsType struct {
	config         string
	fallbackConfig string
	dataStore      string
	logLevel       string
}

func openContext(config *conf.MenderConfig, dataStore string) (*device.Context, store.Store, error) {
	dbstore, err := store.NewDBStore(dataStore)
	if err != nil {
		return nil, nil, errors.Wrap(err, "cli: failed to open data store")
	}
	return device.NewContext(dbstore, config.DeviceTypeFile), dbstore, nil
}

func loadConfig(opts *runOptionsType) (*conf.MenderConfig, error) {
	return conf.LoadConfig(opts.config, opts.fallbackConfig)
}

// showArtifact prints the name of the currently installed artifact.
func showArtifact(ctx *device.Context) error {
	name, err := ctx.GetCurrentArtifactName()
	if err != nil {
		return err
	} else if name == "" {
		return errArtifactNameEmpty
	}
	fmt.Fprintln(out, name)
	return nil
}

// showProvides prints every key=value pair the device currently provides,
// sorted by key.
func showProvides(ctx *device.Context) error {
	provides, err := ctx.LoadProvides()
	if err != nil {
		return err
	}
	keys := make([]string, 0, len(provides))
	for k := range provides {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(out, "%s=%s\n", k, provides[k])
	}
	return nil
}

// checkUpdate asks the server whether a deployment is waiting for this
// device and prints the response body, indented if it is valid JSON (or
// "no update available").
func checkUpdate(config *conf.MenderConfig, ctx *device.Context) error {
	provides, err := ctx.LoadProvides()
	if err != nil {
		return err
	}
	deviceType, err := ctx.GetDeviceType()
	if err != nil {
		return err
	}

	client, err := api.NewApiClient(config.GetHttpConfig())
	if err != nil {
		return errors.Wrap(err, "cli: failed to build API client")
	}

	serverURL := ""
	if len(config.Servers) > 0 {
		serverURL = config.Servers[0].ServerURL
	}

	loop := eventloop.New()
	go loop.Run()
	defer loop.Stop()

	result := make(chan error, 1)
	api.CheckNewDeployments(client, loop, serverURL, deviceType, provides, func(body []byte, err error) {
		if err != nil {
			result <- err
			return
		}
		if body == nil {
			fmt.Fprintln(out, "no update available")
		} else {
			var pretty bytes.Buffer
			if jsonErr := json.Indent(&pretty, body, "", "  "); jsonErr == nil {
				fmt.Fprintln(out, pretty.String())
			} else {
				fmt.Fprintln(out, string(body))
			}
		}
		result <- nil
	})
	return <-result
}

func doInstall(config *conf.MenderConfig, ctx *device.Context, moduleType, payloadFile string) error {
	factory := installer.NewModuleInstallerFactory(
		config.DataStoreDir, config.ModulesWorkPath, ctx, ctx, config.ModuleTimeoutSeconds)

	mod, err := factory.NewModuleInstaller(moduleType, 0)
	if err != nil {
		return err
	}

	f, err := os.Open(payloadFile)
	if err != nil {
		return errors.Wrapf(err, "cli: failed to open payload file %s", payloadFile)
	}
	defer f.Close()

	log.Infof("cli: running install for module %q against %s", moduleType, payloadFile)
	return mod.InstallUpdate()
}

func doCommit(config *conf.MenderConfig, ctx *device.Context, moduleType string) error {
	factory := installer.NewModuleInstallerFactory(
		config.DataStoreDir, config.ModulesWorkPath, ctx, ctx, config.ModuleTimeoutSeconds)
	mod, err := factory.NewModuleInstaller(moduleType, 0)
	if err != nil {
		return err
	}
	return mod.CommitUpdate()
}

func doRollback(config *conf.MenderConfig, ctx *device.Context, moduleType string) error {
	factory := installer.NewModuleInstallerFactory(
		config.DataStoreDir, config.ModulesWorkPath, ctx, ctx, config.ModuleTimeoutSeconds)
	mod, err := factory.NewModuleInstaller(moduleType, 0)
	if err != nil {
		return err
	}
	return mod.Rollback()
}

func handleLogLevel(ctx *cli.Context) error {
	opts := ctx.App.Metadata["runOptions"].(*runOptionsType)
	if opts.logLevel == "" {
		return nil
	}
	level, err := log.ParseLevel(opts.logLevel)
	if err != nil {
		return err
	}
	log.SetLevel(level)
	return nil
}
