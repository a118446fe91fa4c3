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

package gitauth

import (
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/require"
)

func TestHTTPBasicRequiresUsername(t *testing.T) {
	_, err := HTTPBasic("", "password")
	require.Error(t, err)
}

func TestHTTPBasicRequiresPassword(t *testing.T) {
	_, err := HTTPBasic("user", "")
	require.Error(t, err)
}

func TestHTTPBasicSucceeds(t *testing.T) {
	auth, err := HTTPBasic("user", "password")
	require.NoError(t, err)
	require.Equal(t, "http-basic-auth", auth.Name())
}

func TestSSHPublicKeyRequiresPrivateKey(t *testing.T) {
	_, err := SSHPublicKey(logr.Discard(), "", "", "")
	require.Error(t, err)
}

func TestSSHPublicKeyRejectsMalformedPEM(t *testing.T) {
	_, err := SSHPublicKey(logr.Discard(), "not a real PEM key", "", "")
	require.Error(t, err)
}
