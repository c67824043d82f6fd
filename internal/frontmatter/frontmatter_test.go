package frontmatter

import (
	"reflect"
	"testing"
)

func TestDecode_TagsList(t *testing.T) {
	input := "---\ntitle: Hello\ntags:\n  - go\n  - inkwell\n---\n# Hello\nBody text.\n"
	got := Decode(input).Tags
	want := []string{"go", "inkwell"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("tags = %v, want %v", got, want)
	}
}

func TestDecode_NoFrontmatter(t *testing.T) {
	for _, input := range []string{
		"# Just a heading\nSome text.\n",
		"",
		"   \n\t\n",
		"---\ntags:\n  - never closed\n",
	} {
		got := Decode(input).Tags
		if got == nil || len(got) != 0 {
			t.Errorf("Decode(%q) = %#v, want empty non-nil list", input, got)
		}
	}
}

func TestDecode_NoTagsKey(t *testing.T) {
	got := Decode("---\nauthor: me\n---\nbody").Tags
	if len(got) != 0 {
		t.Errorf("tags = %v, want empty", got)
	}
}

func TestDecode_InlineAndQuoted(t *testing.T) {
	if got := Decode("---\ntags: [a, \"b c\"]\n---\n").Tags; !reflect.DeepEqual(got, []string{"a", "b c"}) {
		t.Errorf("inline tags = %v", got)
	}
	if got := Decode("---\ntags:\n- 'x'\n---\n").Tags; !reflect.DeepEqual(got, []string{"x"}) {
		t.Errorf("quoted tags = %v", got)
	}
}

func TestEncode_PrependsBlock(t *testing.T) {
	got := Encode("body\n", []string{"x", "y"})
	want := "---\ntags:\n  - x\n  - y\n---\nbody\n"
	if got != want {
		t.Errorf("Encode = %q, want %q", got, want)
	}
}

func TestEncode_RoundTrip(t *testing.T) {
	cases := [][]string{
		{},
		{"one"},
		{"b", "a", "c"},
		{"dup", "dup"},
		{"with space", "日本語"},
	}
	for _, tags := range cases {
		body := "# Title\n\nSome body.\n"
		encoded := Encode(body, tags)
		got := Decode(encoded).Tags
		if len(tags) == 0 && len(got) == 0 {
			// empty in, empty out
		} else if !reflect.DeepEqual(got, tags) {
			t.Errorf("round trip %v -> %v", tags, got)
		}
		if again := Encode(encoded, tags); again != encoded {
			t.Errorf("Encode not idempotent for %v:\n%q\n%q", tags, encoded, again)
		}
		_, gotBody, ok := Split(encoded)
		if !ok || gotBody != body {
			t.Errorf("body = %q, want %q", gotBody, body)
		}
	}
}

func TestEncode_PreservesUnknownKeys(t *testing.T) {
	got := Encode("---\nauthor: me\n---\nbody", []string{"x"})
	want := "---\nauthor: me\ntags:\n  - x\n---\nbody"
	if got != want {
		t.Errorf("Encode = %q, want %q", got, want)
	}
	fields := Fields(got)
	if fields["author"] != "me" {
		t.Errorf("author = %v, want me", fields["author"])
	}
}

func TestEncode_ReplacesInPlace(t *testing.T) {
	input := "---\ntitle: A\ntags:\n  - old\n  - older\ndate: 2024-01-01\n---\nbody"
	got := Encode(input, []string{"new"})
	want := "---\ntitle: A\ntags:\n  - new\ndate: 2024-01-01\n---\nbody"
	if got != want {
		t.Errorf("Encode = %q, want %q", got, want)
	}
}

func TestEncode_UnchangedTagsKeepBytes(t *testing.T) {
	input := "---\ntags:\n- a\n-   b\nextra: 1\n---\nbody"
	if got := Encode(input, []string{"a", "b"}); got != input {
		t.Errorf("unchanged tags rewrote header: %q", got)
	}
}

func TestEncode_MalformedBlockBecomesBody(t *testing.T) {
	input := "---\nnot closed\n"
	got := Encode(input, []string{"t"})
	want := "---\ntags:\n  - t\n---\n---\nnot closed\n"
	if got != want {
		t.Errorf("Encode = %q, want %q", got, want)
	}
	if tags := Decode(got).Tags; !reflect.DeepEqual(tags, []string{"t"}) {
		t.Errorf("tags = %v", tags)
	}
}

func TestEncode_EmptyHeader(t *testing.T) {
	got := Encode("---\n---\nbody", []string{"a"})
	want := "---\ntags:\n  - a\n---\nbody"
	if got != want {
		t.Errorf("Encode = %q, want %q", got, want)
	}
}

func TestFields_InvalidYAMLFallback(t *testing.T) {
	if fm := Fields("---\n: invalid: yaml: {{{\n---\nBody\n"); fm != nil {
		t.Errorf("expected nil fields on invalid YAML, got %v", fm)
	}
}
