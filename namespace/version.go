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

package namespace

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/sakdb/sakdb/field"
)

// VersionMismatch kind (spec §7): the repository's stored major
// version exceeds the current software's major version (IV-10, P7).
var ErrVersionMismatch = errors.New("namespace: version mismatch")

const versionMetadataKey = "version"

// ensureVersion reads metadata/version. If absent, it writes
// currentVersion under a dedicated internal backend session (there is
// no Graph-level Session yet at namespace-construction time). If
// present, it checks that the stored major version is ≤ the current
// software's major (IV-10), failing with ErrVersionMismatch otherwise.
func (ns *Namespace) ensureVersion(currentVersion string) error {
	fr, err := ns.readPath(ns.MetadataPath(versionMetadataKey))
	if err != nil {
		return err
	}
	if fr == nil {
		return ns.writeVersionInternalSession(currentVersion)
	}

	vf, ok := fr.GetByKey(versionMetadataKey)
	if !ok {
		return fmt.Errorf("namespace: metadata/version missing %q field", versionMetadataKey)
	}
	var stored string
	if err := json.Unmarshal([]byte(vf.Payload), &stored); err != nil {
		return fmt.Errorf("namespace: decode stored version %q: %w", vf.Payload, err)
	}

	storedMajor, _, _, err := parseVersion(stored)
	if err != nil {
		return err
	}
	currentMajor, _, _, err := parseVersion(currentVersion)
	if err != nil {
		return err
	}
	if storedMajor > currentMajor {
		return fmt.Errorf("%w: stored major %d exceeds current major %d", ErrVersionMismatch, storedMajor, currentMajor)
	}
	return nil
}

func (ns *Namespace) writeVersionInternalSession(version string) error {
	valueJSON, err := json.Marshal(version)
	if err != nil {
		return fmt.Errorf("namespace: marshal version: %w", err)
	}
	fr := field.NewFieldRecord(
		field.NewField(metadataTypeField, "str", "", 0),
		field.NewField(versionMetadataKey, string(valueJSON), "", 0),
	)
	encoded, err := field.Encode(fr)
	if err != nil {
		return fmt.Errorf("namespace: encode version record: %w", err)
	}

	if _, err := ns.backend.StartSession("namespace-init"); err != nil {
		return fmt.Errorf("namespace: start internal version session: %w", err)
	}
	if err := ns.backend.WriteBlob(ns.MetadataPath(versionMetadataKey), []byte(encoded)); err != nil {
		return fmt.Errorf("namespace: write version blob: %w", err)
	}
	if err := ns.backend.CloseSession("sakdb: initialize namespace version"); err != nil {
		return fmt.Errorf("namespace: close internal version session: %w", err)
	}
	return nil
}

// parseVersion parses "MAJOR.MINOR.PATCH".
func parseVersion(s string) (major, minor, patch int, err error) {
	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		return 0, 0, 0, fmt.Errorf("namespace: malformed version %q", s)
	}
	nums := make([]int, 3)
	for i, p := range parts {
		n, convErr := strconv.Atoi(p)
		if convErr != nil {
			return 0, 0, 0, fmt.Errorf("namespace: malformed version %q: %w", s, convErr)
		}
		nums[i] = n
	}
	return nums[0], nums[1], nums[2], nil
}
