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

import "io"

// ArtifactHeader is the read-only header view the external artifact parser
// (mender-artifact's areader.Reader in production) exposes for one payload's
// update type. header_info/type_info/meta_data are returned as the raw JSON
// blobs as they appear in the artifact, not re-serialised, so the file tree
// holds byte-identical copies of what shipped in the artifact.
type ArtifactHeader interface {
	GetArtifactName() string
	GetArtifactGroup() string
	GetPayloadType() string
	GetHeaderInfoJSON() ([]byte, error)
	GetTypeInfoJSON() ([]byte, error)
	GetMetaDataJSON() ([]byte, error)
}

// Payload is one streamable binary blob inside an artifact.
type Payload interface {
	Name() string
	io.Reader
}

// Artifact is the lazy, ordered sequence of payloads plus the header
// produced by parsing and verifying a signed update package. Parsing and
// signature verification happen entirely outside this package; this is the
// read-only surface the module driver consumes from whatever does that
// work.
type Artifact interface {
	Header() ArtifactHeader
	// Next advances to the next payload in artifact order, returning
	// io.EOF once all payloads have been delivered.
	Next() (Payload, error)
}
