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
package installer

import (
	"os"
	"path"
	"syscall"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// ModulesSubdir is where executable update modules live, relative to the
// data store directory.
const ModulesSubdir = "modules/v3"

// ListModules enumerates the executable update modules available on the
// device. A missing modules directory is not an error: it means no modules
// are installed yet.
func ListModules(dataStoreDir string) ([]string, error) {
	modulesPath := path.Join(dataStoreDir, ModulesSubdir)

	entries, err := os.ReadDir(modulesPath)
	if os.IsNotExist(err) {
		return []string{}, nil
	} else if err != nil {
		return nil, errors.Wrapf(err, "installer: could not list %s", modulesPath)
	}

	modules := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			log.Infof("installer: update module %s is a directory, skipping", entry.Name())
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return nil, errors.Wrapf(err, "installer: could not stat %s", entry.Name())
		}
		if info.Mode()&0111 == 0 {
			log.Infof("installer: update module %s is not executable, skipping", entry.Name())
			continue
		}
		modules = append(modules, entry.Name())
	}
	return modules, nil
}

// FileTreeInfo is everything PrepareFileTree needs to materialise a
// module's input directory: the device's current state plus the new
// artifact's header fields.
type FileTreeInfo struct {
	CurrentArtifactName  string
	CurrentArtifactGroup string
	CurrentDeviceType    string

	ArtifactName  string
	ArtifactGroup string
	PayloadType   string

	HeaderInfoJSON []byte
	TypeInfoJSON   []byte
	MetaDataJSON   []byte
}

type fileTreeEntry struct {
	relPath string
	content []byte
}

// PrepareFileTree materialises, from scratch, the directory the module
// reads its input from. Any pre-existing content at workPath is wiped
// first.
func PrepareFileTree(workPath string, info FileTreeInfo) error {
	if err := os.RemoveAll(workPath); err != nil {
		return errors.Wrapf(err, "installer: could not clear %s", workPath)
	}
	for _, dir := range []string{"header", "tmp", "streams"} {
		if err := os.MkdirAll(path.Join(workPath, dir), 0700); err != nil {
			return errors.Wrapf(err, "installer: could not create %s", dir)
		}
	}

	entries := []fileTreeEntry{
		{"version", []byte("3\n")},
		{"current_artifact_name", []byte(info.CurrentArtifactName + "\n")},
		{"current_artifact_group", []byte(info.CurrentArtifactGroup + "\n")},
		{"current_device_type", []byte(info.CurrentDeviceType + "\n")},
		{path.Join("header", "artifact_name"), []byte(info.ArtifactName)},
		{path.Join("header", "artifact_group"), []byte(info.ArtifactGroup)},
		{path.Join("header", "payload_type"), []byte(info.PayloadType)},
		{path.Join("header", "header_info"), info.HeaderInfoJSON},
		{path.Join("header", "type_info"), info.TypeInfoJSON},
		{path.Join("header", "meta_data"), info.MetaDataJSON},
	}

	for _, entry := range entries {
		fullPath := path.Join(workPath, entry.relPath)
		if err := os.WriteFile(fullPath, entry.content, 0600); err != nil {
			return errors.Wrapf(err, "installer: could not write %s", entry.relPath)
		}
	}

	// Create the FIFO for the first stream announcement, but don't write
	// anything to it yet; the download loop owns that.
	if err := syscall.Mkfifo(path.Join(workPath, "stream-next"), 0600); err != nil {
		return errors.Wrap(err, "installer: could not create stream-next FIFO")
	}

	// Make sure everything is durable in case of a spontaneous reboot
	// while the module is running.
	syscall.Sync()

	return nil
}

// DeleteFileTree idempotently removes a module's work directory.
func DeleteFileTree(workPath string) error {
	return os.RemoveAll(workPath)
}
