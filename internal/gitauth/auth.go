/*
SPDX-License-Identifier: Apache-2.0

Copyright 2026 SakDb

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package gitauth constructs transport.AuthMethod values for the sync
// engine's remotes. Adapted from the teacher's GetHTTPAuthMethod
// (internal/git/git.go) and internal/ssh/auth.go, stripped of the
// Kubernetes Secret-fetching wrapper: callers supply key material
// directly since there is no cluster API server here.
package gitauth

import (
	"errors"
	"fmt"
	"os"

	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	gogitssh "github.com/go-git/go-git/v5/plumbing/transport/ssh"
	"github.com/go-logr/logr"
	gossh "golang.org/x/crypto/ssh"
)

// HTTPBasic returns an HTTP basic authentication method.
func HTTPBasic(username, password string) (transport.AuthMethod, error) {
	if username == "" {
		return nil, errors.New("gitauth: username cannot be empty")
	}
	if password == "" {
		return nil, errors.New("gitauth: password cannot be empty")
	}
	return &http.BasicAuth{Username: username, Password: password}, nil
}

// SSHPublicKey returns an SSH public-key authentication method from a
// PEM-encoded private key. If knownHosts is supplied it is used for
// host key verification; otherwise host key verification is disabled
// (spec.md §1 delegates authenticated/encrypted transport entirely to
// the underlying git transport, so this trade-off is the caller's to
// accept, not the library's to forbid).
func SSHPublicKey(log logr.Logger, privateKeyPEM, password, knownHosts string) (transport.AuthMethod, error) {
	if privateKeyPEM == "" {
		return nil, errors.New("gitauth: private key cannot be empty")
	}

	publicKeys, err := gogitssh.NewPublicKeys("git", []byte(privateKeyPEM), password)
	if err != nil {
		return nil, fmt.Errorf("gitauth: create SSH public keys: %w", err)
	}

	if knownHosts == "" {
		log.Info("no known_hosts supplied; disabling SSH host key verification")
		publicKeys.HostKeyCallback = gossh.InsecureIgnoreHostKey() //nolint:gosec // explicit opt-out, logged
		return publicKeys, nil
	}

	callback, err := knownHostsCallback(knownHosts)
	if err != nil {
		log.Info("failed to parse known_hosts, falling back to insecure verification", "error", err)
		publicKeys.HostKeyCallback = gossh.InsecureIgnoreHostKey() //nolint:gosec
		return publicKeys, nil
	}
	publicKeys.HostKeyCallback = callback
	return publicKeys, nil
}

func knownHostsCallback(knownHosts string) (gossh.HostKeyCallback, error) {
	tmpFile, err := os.CreateTemp("", "sakdb-known-hosts-*")
	if err != nil {
		return nil, err
	}
	defer os.Remove(tmpFile.Name())

	if _, err := tmpFile.WriteString(knownHosts); err != nil {
		_ = tmpFile.Close()
		return nil, err
	}
	if err := tmpFile.Close(); err != nil {
		return nil, err
	}

	return gogitssh.NewKnownHostsCallback(tmpFile.Name())
}
