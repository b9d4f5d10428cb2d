package compaction

import (
	"cmp"
	"path"
	"slices"
	"strings"
)

// MarkerKind identifies the marker vocabulary tool output uses to restate resources.
type MarkerKind string

const (
	// MarkerToolHeader is the "[<tool> for '<path>'] Result:" first line of a tool result.
	MarkerToolHeader MarkerKind = "tool_header"

	// MarkerReadFile is a read_file result; its whole block is the file content.
	MarkerReadFile MarkerKind = "read_file"

	// MarkerFinalFileContent is a <final_file_content path="..."> section written
	// after write_to_file or replace_in_file.
	MarkerFinalFileContent MarkerKind = "final_file_content"

	// MarkerFileContent is a <file_content path="..."> section attached to a mention.
	MarkerFileContent MarkerKind = "file_content"

	// MarkerEnvironmentFiles is a file listed in an <environment_details> section.
	MarkerEnvironmentFiles MarkerKind = "environment_files"
)

// ResourceKind is the kind of resource a marker names.
type ResourceKind string

// ResourceFile is a workspace file.
const ResourceFile ResourceKind = "file"

// ResourceKey identifies a resource independently of the tool or marker that restated it.
type ResourceKey struct {
	Kind ResourceKind `json:"kind"`
	Path string       `json:"path"`
}

func (k ResourceKey) String() string {
	return string(k.Kind) + ":" + k.Path
}

// IsZero reports whether the key names no resource.
func (k ResourceKey) IsZero() bool {
	return k.Path == ""
}

// Marker is one recognized marker in a text.
type Marker struct {
	Kind MarkerKind
	Key  ResourceKey

	// Tool is the tool name of a MarkerToolHeader or MarkerReadFile.
	Tool string

	// Start and End delimit the whole marker in the text.
	Start, End int

	// BodyStart and BodyEnd delimit the restated content, which is what gets
	// elided. Both are -1 for markers without a body.
	BodyStart, BodyEnd int
}

// Body returns the restated content of m within text.
func (m Marker) Body(text string) string {
	if m.BodyStart < 0 {
		return ""
	}
	return text[m.BodyStart:m.BodyEnd]
}

// Elidable reports whether the marker carries content that can be replaced.
func (m Marker) Elidable() bool {
	switch m.Kind {
	case MarkerReadFile, MarkerFinalFileContent, MarkerFileContent:
		return m.BodyStart >= 0 && !m.Key.IsZero()
	}
	return false
}

// Elided reports whether the marker body has already been replaced by DuplicateFileReadNotice.
func (m Marker) Elided(text string) bool {
	return strings.TrimSpace(m.Body(text)) == DuplicateFileReadNotice
}

const (
	headerSuffix        = "] Result:"
	readFileTool        = "read_file"
	environmentOpen     = "<environment_details>"
	environmentClose    = "</environment_details>"
	finalFileContentTag = "final_file_content"
	fileContentTag      = "file_content"
)

// ParseMarkers returns the markers found in text ordered by position. A text
// whose first line is a read_file header yields the header alone, covering the
// whole text. Markers inside the body of an earlier elidable marker are part of
// that restatement and are not reported.
func ParseMarkers(text string) []Marker {
	var markers []Marker

	if header, ok := parseToolHeader(text); ok {
		markers = append(markers, header)
		if header.Kind == MarkerReadFile {
			return markers
		}
	}

	markers = append(markers, parseTagged(text, finalFileContentTag, MarkerFinalFileContent)...)
	markers = append(markers, parseTagged(text, fileContentTag, MarkerFileContent)...)
	markers = append(markers, parseEnvironmentFiles(text)...)

	slices.SortStableFunc(markers, func(a, b Marker) int {
		return cmp.Compare(a.Start, b.Start)
	})
	return dropNested(markers)
}

// dropNested removes markers that start inside the body of a kept elidable
// marker. markers must be ordered by Start.
func dropNested(markers []Marker) []Marker {
	out := markers[:0]
	bodyEnd := -1
	for _, m := range markers {
		if m.Start < bodyEnd {
			continue
		}
		out = append(out, m)
		if m.Elidable() {
			bodyEnd = m.BodyEnd
		}
	}
	return out
}

// NormalizePath turns a marker path into its key form: trimmed, slash
// separated and cleaned.
func NormalizePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	return path.Clean(strings.ReplaceAll(p, `\`, "/"))
}

func fileKey(p string) ResourceKey {
	p = NormalizePath(p)
	if p == "" {
		return ResourceKey{}
	}
	return ResourceKey{Kind: ResourceFile, Path: p}
}

// parseToolHeader recognizes "[<tool>] Result:" and "[<tool> for '<path>'] Result:"
// on the first line.
func parseToolHeader(text string) (Marker, bool) {
	line, _, _ := strings.Cut(text, "\n")
	line = strings.TrimRight(line, "\r")
	if !strings.HasPrefix(line, "[") || !strings.HasSuffix(line, headerSuffix) {
		return Marker{}, false
	}
	inner := line[1 : len(line)-len(headerSuffix)]

	tool, rest, hasTarget := strings.Cut(inner, " for ")
	tool = strings.TrimSpace(tool)
	if tool == "" || strings.ContainsAny(tool, " []") {
		return Marker{}, false
	}

	m := Marker{
		Kind:      MarkerToolHeader,
		Tool:      tool,
		Start:     0,
		End:       len(line),
		BodyStart: -1,
		BodyEnd:   -1,
	}
	if hasTarget {
		if p, ok := quoted(rest); ok {
			m.Key = fileKey(p)
		}
	}

	if tool == readFileTool && !m.Key.IsZero() {
		m.Kind = MarkerReadFile
		m.End = len(text)
		m.BodyStart = min(len(line)+1, len(text))
		m.BodyEnd = len(text)
	}
	return m, true
}

// quoted returns the text between the first pair of single quotes in s.
func quoted(s string) (string, bool) {
	open := strings.IndexByte(s, '\'')
	if open < 0 {
		return "", false
	}
	closing := strings.IndexByte(s[open+1:], '\'')
	if closing < 0 {
		return "", false
	}
	return s[open+1 : open+1+closing], true
}

// parseTagged finds every <tag path="...">body</tag> section. Sections without a
// closing tag are ignored.
func parseTagged(text, tag string, kind MarkerKind) []Marker {
	var markers []Marker
	openPrefix := "<" + tag + " "
	closeTag := "</" + tag + ">"

	for offset := 0; offset < len(text); {
		i := strings.Index(text[offset:], openPrefix)
		if i < 0 {
			break
		}
		start := offset + i
		gt := strings.IndexByte(text[start:], '>')
		if gt < 0 {
			break
		}
		bodyStart := start + gt + 1
		j := strings.Index(text[bodyStart:], closeTag)
		if j < 0 {
			break
		}
		bodyEnd := bodyStart + j
		end := bodyEnd + len(closeTag)

		attrs := text[start+len(openPrefix) : start+gt]
		if p, ok := attribute(attrs, "path"); ok {
			markers = append(markers, Marker{
				Kind:      kind,
				Key:       fileKey(p),
				Start:     start,
				End:       end,
				BodyStart: bodyStart,
				BodyEnd:   bodyEnd,
			})
		}
		offset = end
	}
	return markers
}

// attribute extracts name="value" from an attribute list.
func attribute(attrs, name string) (string, bool) {
	prefix := name + `="`
	i := strings.Index(attrs, prefix)
	if i < 0 {
		return "", false
	}
	value := attrs[i+len(prefix):]
	j := strings.IndexByte(value, '"')
	if j < 0 {
		return "", false
	}
	return value[:j], true
}

// parseEnvironmentFiles lists the files named under the file headings of
// <environment_details> sections.
func parseEnvironmentFiles(text string) []Marker {
	var markers []Marker

	for offset := 0; offset < len(text); {
		i := strings.Index(text[offset:], environmentOpen)
		if i < 0 {
			break
		}
		start := offset + i + len(environmentOpen)
		j := strings.Index(text[start:], environmentClose)
		if j < 0 {
			break
		}
		end := start + j

		inFiles := false
		pos := start
		for _, line := range strings.SplitAfter(text[start:end], "\n") {
			lineStart := pos
			pos += len(line)

			trimmed := strings.TrimSpace(line)
			if heading, ok := strings.CutPrefix(trimmed, "# "); ok {
				inFiles = isFileSection(heading)
				continue
			}
			if !inFiles || trimmed == "" || strings.HasPrefix(trimmed, "(") {
				continue
			}
			markers = append(markers, Marker{
				Kind:      MarkerEnvironmentFiles,
				Key:       fileKey(trimmed),
				Start:     lineStart,
				End:       lineStart + len(strings.TrimRight(line, "\r\n")),
				BodyStart: -1,
				BodyEnd:   -1,
			})
		}
		offset = end + len(environmentClose)
	}
	return markers
}

// isFileSection reports whether an environment_details heading lists paths,
// e.g. "Visual Studio Code Visible Files" or "Visual Studio Code Open Tabs".
func isFileSection(heading string) bool {
	return strings.HasSuffix(heading, "Files") || strings.HasSuffix(heading, "Open Tabs")
}
