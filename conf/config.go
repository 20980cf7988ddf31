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

// Package conf loads the update client's JSON configuration file(s) into a
// MenderConfig, and carries the well-known on-disk paths the rest of the
// client is built against.
package conf

import (
	"encoding/json"
	"io/ioutil"
	"os"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/mendersoftware/mender-updateclient/client/api"
)

// MenderConfigFromFile is the subset of MenderConfig that is actually
// read from mender.conf; it is also what gets written back out by
// SaveConfigFile.
type MenderConfigFromFile struct {
	// ClientProtocol, e.g. "https".
	ClientProtocol string
	// Path to the public key used to verify signed artifacts.
	ArtifactVerifyKey string
	// HTTPS client parameters.
	HttpsClient struct {
		Certificate string
		Key         string
		SkipVerify  bool
	}
	// Path to the device type file.
	DeviceTypeFile string

	// Poll interval for checking for new updates.
	UpdatePollIntervalSeconds int
	// Poll interval for periodically sending inventory data.
	InventoryPollIntervalSeconds int
	// Global retry polling max interval for fetching updates, authorize
	// wait and update status pushes.
	RetryPollIntervalSeconds int

	// The timeout for the execution of an update module phase, after
	// which it is killed.
	ModuleTimeoutSeconds int

	// Path to server SSL certificate.
	ServerCertificate string
	// Server URL, for the single-server case.
	ServerURL string
	// Path to the deployment log file.
	UpdateLogPath string
	// Server JWT tenant token.
	TenantToken string
	// List of servers to fall over to, in priority order.
	Servers []api.MenderServer
}

// MenderConfig adds the fields that are derived or fixed by convention, and
// are not themselves read out of the config file.
type MenderConfig struct {
	MenderConfigFromFile

	DataStoreDir        string
	ModulesPath         string
	ModulesWorkPath     string
	ArtifactInfoFile    string
	ArtifactScriptsPath string
}

func NewMenderConfig() *MenderConfig {
	return &MenderConfig{
		MenderConfigFromFile: MenderConfigFromFile{
			DeviceTypeFile: DefaultDeviceTypeFile,
		},
		DataStoreDir:        DefaultDataStore,
		ModulesPath:         DefaultModulesPath,
		ModulesWorkPath:     DefaultModulesWorkPath,
		ArtifactInfoFile:    DefaultArtifactInfoFile,
		ArtifactScriptsPath: DefaultArtScriptsPath,
	}
}

// LoadConfig parses the update client's configuration json-files
// (typically /etc/mender/mender.conf and /var/lib/mender/mender.conf) and
// loads the values into a MenderConfig. It is OK if either file does not
// exist, so long as the other one does; it is also OK if neither exists, in
// which case the returned config carries only defaults. Because the main
// configuration is loaded last, its values override the fallback file's for
// any option present in both.
func LoadConfig(mainConfigFile string, fallbackConfigFile string) (*MenderConfig, error) {
	var filesLoadedCount int
	config := NewMenderConfig()

	if loadErr := loadConfigFile(fallbackConfigFile, config, &filesLoadedCount); loadErr != nil {
		return nil, loadErr
	}
	if loadErr := loadConfigFile(mainConfigFile, config, &filesLoadedCount); loadErr != nil {
		return nil, loadErr
	}

	if filesLoadedCount == 0 {
		log.Info("conf: no configuration files present, using defaults")
		return config, nil
	}

	if config.Servers == nil {
		if config.ServerURL == "" {
			log.Warn("conf: no server URL(s) specified in configuration")
		}
		config.Servers = []api.MenderServer{{ServerURL: config.ServerURL}}
	} else if config.ServerURL != "" {
		return nil, errors.New(
			"conf: don't specify both Servers and ServerURL; " +
				"the first entry in Servers takes precedence over ServerURL")
	}
	for i := range config.Servers {
		config.Servers[i].ServerURL = strings.TrimSuffix(config.Servers[i].ServerURL, "/")
		if config.Servers[i].ServerURL == "" {
			log.Warnf("conf: server entry %d has no associated URL", i+1)
		}
	}

	log.Debugf("conf: merged configuration = %#v", config)
	return config, nil
}

func loadConfigFile(configFile string, config *MenderConfig, filesLoadedCount *int) error {
	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		log.Debug("conf: configuration file does not exist: ", configFile)
		return nil
	}

	if err := readConfigFile(&config.MenderConfigFromFile, configFile); err != nil {
		log.Errorf("conf: error loading configuration from %s: %s", configFile, err)
		return err
	}

	(*filesLoadedCount)++
	log.Info("conf: loaded configuration file: ", configFile)
	return nil
}

func readConfigFile(config interface{}, fileName string) error {
	log.Debug("conf: reading configuration from ", fileName)
	raw, err := ioutil.ReadFile(fileName)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(raw, config); err != nil {
		if _, ok := err.(*json.SyntaxError); ok {
			return errors.Wrap(err, "conf: error parsing configuration file")
		}
		return errors.Wrap(err, "conf: error parsing configuration file")
	}
	return nil
}

// SaveConfigFile writes config back out as indented JSON, e.g. after a
// runtime update to the server list.
func SaveConfigFile(config *MenderConfigFromFile, filename string) error {
	raw, err := json.MarshalIndent(config, "", "    ")
	if err != nil {
		return errors.Wrap(err, "conf: error encoding configuration to JSON")
	}
	f, err := os.OpenFile(filename, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return errors.Wrap(err, "conf: error opening configuration file")
	}
	defer f.Close()

	if _, err = f.Write(raw); err != nil {
		return errors.Wrap(err, "conf: error writing configuration file")
	}
	return nil
}

// GetHttpConfig extracts the subset of configuration the api package needs
// to build its TLS-configured HTTP client.
func (c *MenderConfig) GetHttpConfig() api.Config {
	return api.Config{
		ServerCert: c.ServerCertificate,
		CertFile:   c.HttpsClient.Certificate,
		CertKey:    c.HttpsClient.Key,
		NoVerify:   c.HttpsClient.SkipVerify,
	}
}

func (c *MenderConfig) GetDeploymentLogLocation() string {
	return c.UpdateLogPath
}

// GetTenantToken returns the configured tenant token, or an empty slice if
// none was set.
func (c *MenderConfig) GetTenantToken() []byte {
	return []byte(c.TenantToken)
}

// GetVerificationKey reads and returns the artifact verification key's raw
// PEM bytes, or nil if none is configured or the file cannot be read.
func (c *MenderConfig) GetVerificationKey() []byte {
	if c.ArtifactVerifyKey == "" {
		return nil
	}
	key, err := ioutil.ReadFile(c.ArtifactVerifyKey)
	if err != nil {
		log.Infof("conf: error reading artifact verify key: %s", err)
		return nil
	}
	return key
}
