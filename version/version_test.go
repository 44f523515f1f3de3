//
// Copyright (c) 2014-2019 Cesanta Software Limited
// All rights reserved
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
//
package version

import "testing"

func TestLooksLikeVersionNumber(t *testing.T) {
	for i, c := range []struct {
		s    string
		want bool
	}{
		{"1.2.3", true},      // 0
		{"2.19", true},       // 1
		{"latest", false},    // 2
		{"1.2.3-rc1", false}, // 3
		{"", false},          // 4
	} {
		if got := LooksLikeVersionNumber(c.s); got != c.want {
			t.Errorf("%d: got: %t, want: %t", i, got, c.want)
		}
	}
}

func TestParseBuildId(t *testing.T) {
	p := ParseBuildId("20201016-123456/0abc123-dirty")
	if p == nil {
		t.Fatalf("no match")
	}
	if got, want := p["hash"], "0abc123"; got != want {
		t.Errorf("got: %q, want: %q", got, want)
	}
	if got, want := p["dirty"], "-dirty"; got != want {
		t.Errorf("got: %q, want: %q", got, want)
	}
	if ParseBuildId("1.0+abc~xenial0") != nil {
		t.Errorf("expected no match")
	}
}
