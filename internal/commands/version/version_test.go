// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package version

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/tombee/statscouncil/internal/commands/shared"
)

func TestRunVersion_Text(t *testing.T) {
	shared.SetVersion("1.2.3", "abc1234", "2026-08-31")

	cmd := NewVersionCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)

	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	got := out.String()
	for _, want := range []string{"statscouncil version 1.2.3", "abc1234", "2026-08-31"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}

func TestRunVersion_JSON(t *testing.T) {
	shared.SetVersion("1.2.3", "abc1234", "2026-08-31")
	_, _, jsonFlag, _ := shared.RegisterFlagPointers()
	*jsonFlag = true
	t.Cleanup(func() { *jsonFlag = false })

	cmd := NewVersionCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)

	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	var info VersionInfo
	if err := json.Unmarshal(out.Bytes(), &info); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out.String())
	}
	if info.Version != "1.2.3" || info.Commit != "abc1234" {
		t.Errorf("info = %+v", info)
	}
}
