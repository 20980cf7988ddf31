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

// Package api implements the deployment API client (C3): checking for new
// deployments with v2/v1 protocol fallback, and pushing deployment status.
package api

import (
	"crypto/tls"
	"crypto/x509"
	"io/ioutil"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// ApiRequester is the HTTP capability this package needs. A plain
// *http.Client already satisfies it; ApiClient is provided for the common
// case of a TLS-configured client, but callers remain free to supply their
// own (e.g. one that injects an Authorization header).
type ApiRequester interface {
	Do(req *http.Request) (*http.Response, error)
}

// ApiClient wraps http.Client with the TLS setup described by Config.
type ApiClient struct {
	http.Client
}

// Config carries the TLS credential paths named in the configuration
// surface (opaque to this package beyond "paths to PEM files").
type Config struct {
	ServerCert string
	CertFile   string
	CertKey    string
	NoVerify   bool
}

// MenderServer is one entry in the configured list of servers a device may
// fall over to, in priority order.
type MenderServer struct {
	ServerURL string
}

// defaultReadingTimeout covers the entire request/response exchange,
// including connection setup and reading the full body.
const defaultReadingTimeout = 1 * time.Hour

// NewApiClient builds an ApiClient from conf. An empty Config produces a
// plain, unauthenticated http.Client suitable for talking to a plain-HTTP
// test server.
func NewApiClient(conf Config) (*ApiClient, error) {
	var client *http.Client
	if conf == (Config{}) {
		client = &http.Client{}
	} else {
		var err error
		client, err = newHTTPSClient(conf)
		if err != nil {
			return nil, err
		}
	}
	client.Timeout = defaultReadingTimeout
	return &ApiClient{*client}, nil
}

func newHTTPSClient(conf Config) (*http.Client, error) {
	client := &http.Client{}

	trusted, err := loadServerTrust(conf)
	if err != nil {
		return nil, errors.Wrap(err, "api: cannot initialize server trust")
	}

	clientCert, err := loadClientCert(conf)
	if err != nil {
		return nil, errors.Wrap(err, "api: cannot load client certificate")
	}

	if conf.NoVerify {
		log.Warn("api: certificate verification disabled")
	}

	tlsConf := &tls.Config{
		RootCAs:            trusted,
		InsecureSkipVerify: conf.NoVerify,
	}
	if clientCert != nil {
		tlsConf.Certificates = []tls.Certificate{*clientCert}
	}

	client.Transport = &http.Transport{TLSClientConfig: tlsConf}
	return client, nil
}

func loadServerTrust(conf Config) (*x509.CertPool, error) {
	if conf.ServerCert == "" {
		return nil, nil
	}
	certs := x509.NewCertPool()
	pem, err := ioutil.ReadFile(conf.ServerCert)
	if err != nil {
		return nil, err
	}
	if !certs.AppendCertsFromPEM(pem) {
		return nil, errors.New("api: failed to add server certificate to trust pool")
	}
	return certs, nil
}

func loadClientCert(conf Config) (*tls.Certificate, error) {
	if conf.CertFile == "" || conf.CertKey == "" {
		return nil, nil
	}
	cert, err := tls.LoadX509KeyPair(conf.CertFile, conf.CertKey)
	if err != nil {
		return nil, errors.Wrap(err, "api: failed to load client keypair")
	}
	return &cert, nil
}

// BuildURL joins server and path, defaulting to https:// when the server
// address carries no scheme.
func BuildURL(server, path string) string {
	if strings.HasPrefix(server, "https://") || strings.HasPrefix(server, "http://") {
		return server + path
	}
	return "https://" + server + path
}
