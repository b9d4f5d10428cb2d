package compaction

import (
	"testing"
)

func TestParseMarkers(t *testing.T) {
	type want struct {
		kind MarkerKind
		path string
		body string
	}

	tests := []struct {
		name string
		text string
		want []want
	}{
		{
			name: "write result",
			text: "[write_to_file for 'test.txt'] Result:\nsaved\n\n<final_file_content path=\"test.txt\">\ntest\n</final_file_content>",
			want: []want{
				{kind: MarkerToolHeader, path: "test.txt"},
				{kind: MarkerFinalFileContent, path: "test.txt", body: "\ntest\n"},
			},
		},
		{
			name: "header without target",
			text: "[plan_mode_respond] Result:\n<file_content path=\"/repo/a.txt\">\nA\n</file_content>",
			want: []want{
				{kind: MarkerToolHeader},
				{kind: MarkerFileContent, path: "/repo/a.txt", body: "\nA\n"},
			},
		},
		{
			name: "repeated file mentions",
			text: "<file_content path=\"a.txt\">A</file_content> and <file_content path=\"b.txt\">B</file_content>",
			want: []want{
				{kind: MarkerFileContent, path: "a.txt", body: "A"},
				{kind: MarkerFileContent, path: "b.txt", body: "B"},
			},
		},
		{
			name: "read file covers the block",
			text: "[read_file for 'src/x.go'] Result:\npackage x\n<file_content path=\"y\">ignored</file_content>",
			want: []want{
				{kind: MarkerReadFile, path: "src/x.go", body: "package x\n<file_content path=\"y\">ignored</file_content>"},
			},
		},
		{
			name: "environment listing",
			text: "<environment_details>\n# Visual Studio Code Visible Files\nsrc/a.go\n\n# Visual Studio Code Open Tabs\nsrc/a.go\nsrc/b.go\n\n# Current Mode\nACT MODE\n</environment_details>",
			want: []want{
				{kind: MarkerEnvironmentFiles, path: "src/a.go"},
				{kind: MarkerEnvironmentFiles, path: "src/a.go"},
				{kind: MarkerEnvironmentFiles, path: "src/b.go"},
			},
		},
		{
			name: "section nested in a written file",
			text: "[write_to_file for 'prompt.md'] Result:\n<final_file_content path=\"prompt.md\">\nExample:\n<file_content path=\"b.txt\">\nB\n</file_content>\n</final_file_content>\n<file_content path=\"c.txt\">C</file_content>",
			want: []want{
				{kind: MarkerToolHeader, path: "prompt.md"},
				{kind: MarkerFinalFileContent, path: "prompt.md", body: "\nExample:\n<file_content path=\"b.txt\">\nB\n</file_content>\n"},
				{kind: MarkerFileContent, path: "c.txt", body: "C"},
			},
		},
		{
			name: "unterminated section",
			text: "<final_file_content path=\"a.txt\">\nnever closed",
		},
		{
			name: "plain text",
			text: "[TASK RESUMPTION] This task was interrupted just now.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseMarkers(tt.text)
			if len(got) != len(tt.want) {
				t.Fatalf("ParseMarkers() returned %d markers, want %d: %+v", len(got), len(tt.want), got)
			}
			for i, w := range tt.want {
				if got[i].Kind != w.kind {
					t.Errorf("marker %d: Kind = %s, want %s", i, got[i].Kind, w.kind)
				}
				if got[i].Key.Path != w.path {
					t.Errorf("marker %d: Path = %q, want %q", i, got[i].Key.Path, w.path)
				}
				if body := got[i].Body(tt.text); body != w.body {
					t.Errorf("marker %d: Body = %q, want %q", i, body, w.body)
				}
			}
		})
	}
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "test.txt", want: "test.txt"},
		{in: "./src/../src/main.go", want: "src/main.go"},
		{in: `src\pkg\a.go`, want: "src/pkg/a.go"},
		{in: " /abs/path/ ", want: "/abs/path"},
		{in: "", want: ""},
	}

	for _, tt := range tests {
		if got := NormalizePath(tt.in); got != tt.want {
			t.Errorf("NormalizePath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestMarkerElided(t *testing.T) {
	text := "<file_content path=\"a.txt\">\n" + DuplicateFileReadNotice + "\n</file_content>"
	markers := ParseMarkers(text)
	if len(markers) != 1 {
		t.Fatalf("len(markers) = %d, want 1", len(markers))
	}
	if !markers[0].Elidable() {
		t.Error("Elidable() = false, want true")
	}
	if !markers[0].Elided(text) {
		t.Error("Elided() = false, want true")
	}
}
