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
package cli

import (
	"github.com/urfave/cli/v2"
)

const (
	configFlag         = "config"
	fallbackConfigFlag = "fallback-config"
	dataStoreFlag      = "data"
	logLevelFlag       = "log-level"
	moduleFlag         = "type"
)

// SetupApp builds the command-line surface: a small set of subcommands
// against the data this rewrite actually owns (the device's provides and
// artifact state, the deployments API, and the update-module driver). There
// is deliberately no "daemon"/"bootstrap" mode here; running the update
// loop unattended is the wrapping process's job, not this binary's.
func SetupApp(version string) *cli.App {
	app := cli.NewApp()
	app.Name = "update-client"
	app.Usage = "Mender update-client core: check, download and install deployments"
	app.Version = version

	runOpts := &runOptionsType{}
	app.Metadata = map[string]interface{}{"runOptions": runOpts}

	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:        configFlag,
			Usage:       "Configuration file location",
			Value:       "/etc/mender/mender.conf",
			Destination: &runOpts.config,
		},
		&cli.StringFlag{
			Name:        fallbackConfigFlag,
			Usage:       "Fallback configuration file location",
			Value:       "/var/lib/mender/mender.conf",
			Destination: &runOpts.fallbackConfig,
		},
		&cli.StringFlag{
			Name:        dataStoreFlag,
			Usage:       "Data store directory",
			Value:       "/var/lib/mender",
			Destination: &runOpts.dataStore,
		},
		&cli.StringFlag{
			Name:        logLevelFlag,
			Usage:       "Log level: panic, fatal, error, warn, info, debug, trace",
			Destination: &runOpts.logLevel,
		},
	}
	app.Before = handleLogLevel

	app.Commands = []*cli.Command{
		showArtifactCommand(runOpts),
		showProvidesCommand(runOpts),
		checkUpdateCommand(runOpts),
		installCommand(runOpts),
		commitCommand(runOpts),
		rollbackCommand(runOpts),
	}

	return app
}

func showArtifactCommand(opts *runOptionsType) *cli.Command {
	return &cli.Command{
		Name:  "show-artifact",
		Usage: "Print the name of the currently installed artifact",
		Action: func(c *cli.Context) error {
			config, err := loadConfig(opts)
			if err != nil {
				return err
			}
			ctx, store, err := openContext(config, opts.dataStore)
			if err != nil {
				return err
			}
			defer store.Close()
			return showArtifact(ctx)
		},
	}
}

func showProvidesCommand(opts *runOptionsType) *cli.Command {
	return &cli.Command{
		Name:  "show-provides",
		Usage: "Print the key=value pairs the device currently provides",
		Action: func(c *cli.Context) error {
			config, err := loadConfig(opts)
			if err != nil {
				return err
			}
			ctx, store, err := openContext(config, opts.dataStore)
			if err != nil {
				return err
			}
			defer store.Close()
			return showProvides(ctx)
		},
	}
}

func checkUpdateCommand(opts *runOptionsType) *cli.Command {
	return &cli.Command{
		Name:  "check-update",
		Usage: "Poll the server once for a waiting deployment",
		Action: func(c *cli.Context) error {
			config, err := loadConfig(opts)
			if err != nil {
				return err
			}
			ctx, store, err := openContext(config, opts.dataStore)
			if err != nil {
				return err
			}
			defer store.Close()
			return checkUpdate(config, ctx)
		},
	}
}

func installCommand(opts *runOptionsType) *cli.Command {
	return &cli.Command{
		Name:      "install",
		Usage:     "Run the install phase of an update module; the payload file is only checked for readability and is not passed to the module",
		ArgsUsage: "<payload-file>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: moduleFlag, Usage: "Update module type, e.g. rootfs-image", Required: true},
		},
		Action: func(c *cli.Context) error {
			payloadFile := c.Args().First()
			if payloadFile == "" {
				return cli.Exit("install: <payload-file> is required", 1)
			}
			config, err := loadConfig(opts)
			if err != nil {
				return err
			}
			ctx, store, err := openContext(config, opts.dataStore)
			if err != nil {
				return err
			}
			defer store.Close()
			return doInstall(config, ctx, c.String(moduleFlag), payloadFile)
		},
	}
}

func commitCommand(opts *runOptionsType) *cli.Command {
	return &cli.Command{
		Name:  "commit",
		Usage: "Run the commit phase of an update module",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: moduleFlag, Usage: "Update module type, e.g. rootfs-image", Required: true},
		},
		Action: func(c *cli.Context) error {
			config, err := loadConfig(opts)
			if err != nil {
				return err
			}
			ctx, store, err := openContext(config, opts.dataStore)
			if err != nil {
				return err
			}
			defer store.Close()
			return doCommit(config, ctx, c.String(moduleFlag))
		},
	}
}

func rollbackCommand(opts *runOptionsType) *cli.Command {
	return &cli.Command{
		Name:  "rollback",
		Usage: "Run the rollback phase of an update module",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: moduleFlag, Usage: "Update module type, e.g. rootfs-image", Required: true},
		},
		Action: func(c *cli.Context) error {
			config, err := loadConfig(opts)
			if err != nil {
				return err
			}
			ctx, store, err := openContext(config, opts.dataStore)
			if err != nil {
				return err
			}
			defer store.Close()
			return doRollback(config, ctx, c.String(moduleFlag))
		},
	}
}
