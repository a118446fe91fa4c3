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

package gitbackend

import "errors"

// SessionError kind (spec §7): backend-level session state machine
// violations. The session, namespace and graph packages declare their
// own sentinels of the same kind rather than reusing these, so errors.Is
// must target the sentinel of the package that raised the error.
var (
	ErrAlreadyActive  = errors.New("gitbackend: session already active")
	ErrNoActiveSession = errors.New("gitbackend: no active session")
	ErrIndexMissing    = errors.New("gitbackend: staging index missing")
)
