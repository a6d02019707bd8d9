// Retriever - Asynchronous Search Orchestration Backend
// Copyright 2026 Tessera Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tessera-ai/retriever

package timeline

import "testing"

func TestParseStreamID(t *testing.T) {
	millis, seq, err := ParseStreamID("1712345678901-4")
	if err != nil {
		t.Fatalf("ParseStreamID failed: %v", err)
	}
	if millis != 1712345678901 || seq != 4 {
		t.Errorf("ParseStreamID = (%d, %d), want (1712345678901, 4)", millis, seq)
	}

	for _, bad := range []string{"", "123", "a-b", "12-x", "x-12"} {
		if _, _, err := ParseStreamID(bad); err == nil {
			t.Errorf("ParseStreamID(%q) succeeded, want error", bad)
		}
	}
}

func TestCompareStreamIDs(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"100-1", "100-2", -1},
		{"100-2", "100-1", 1},
		{"100-5", "101-1", -1},
		{"102-1", "101-9", 1},
		{"100-3", "100-3", 0},
		{"0-0", "1-0", -1},
	}
	for _, tt := range tests {
		if got := CompareStreamIDs(tt.a, tt.b); got != tt.want {
			t.Errorf("CompareStreamIDs(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}
