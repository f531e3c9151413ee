package secrets

import "testing"

func TestMergeUpdatesExistingKey(t *testing.T) {
	t.Parallel()
	raw := "# comment\nFOO=old\nBAR=baz\n"
	out, err := Merge(raw, []Update{{Key: "FOO", Value: "new"}}, "")
	if err != nil {
		t.Fatalf("Merge() error = %v", err)
	}
	want := "# comment\nFOO=new\nBAR=baz\n"
	if out != want {
		t.Fatalf("out = %q, want %q", out, want)
	}
}

func TestMergePreservesCommentsAndOrder(t *testing.T) {
	t.Parallel()
	raw := "# header\n\nA=1\n# note about B\nB=2\n"
	out, err := Merge(raw, []Update{{Key: "B", Value: "3"}}, "")
	if err != nil {
		t.Fatalf("Merge() error = %v", err)
	}
	want := "# header\n\nA=1\n# note about B\nB=3\n"
	if out != want {
		t.Fatalf("out = %q, want %q", out, want)
	}
}

func TestMergeAppendsMissingKey(t *testing.T) {
	t.Parallel()
	raw := "A=1\n"
	out, err := Merge(raw, []Update{{Key: "NEW", Value: "2"}}, "")
	if err != nil {
		t.Fatalf("Merge() error = %v", err)
	}
	want := "A=1\nNEW=2\n"
	if out != want {
		t.Fatalf("out = %q, want %q", out, want)
	}
}

func TestMergeAppendsWithSectionHeader(t *testing.T) {
	t.Parallel()
	raw := "A=1\n"
	out, err := Merge(raw, []Update{{Key: "NEW", Value: "2"}}, "added by install")
	if err != nil {
		t.Fatalf("Merge() error = %v", err)
	}
	want := "A=1\n# added by install\nNEW=2\n"
	if out != want {
		t.Fatalf("out = %q, want %q", out, want)
	}
}

func TestMergeUncommentsKeyWhenRequested(t *testing.T) {
	t.Parallel()
	raw := "#FOO=placeholder\n"
	out, err := Merge(raw, []Update{{Key: "FOO", Value: "real", Uncomment: true}}, "")
	if err != nil {
		t.Fatalf("Merge() error = %v", err)
	}
	want := "FOO=real\n"
	if out != want {
		t.Fatalf("out = %q, want %q", out, want)
	}
}

func TestMergeLeavesCommentedKeyAloneWithoutUncomment(t *testing.T) {
	t.Parallel()
	raw := "#FOO=placeholder\n"
	out, err := Merge(raw, []Update{{Key: "FOO", Value: "real"}}, "")
	if err != nil {
		t.Fatalf("Merge() error = %v", err)
	}
	want := "#FOO=placeholder\nFOO=real\n"
	if out != want {
		t.Fatalf("out = %q, want %q", out, want)
	}
}

func TestMergeRejectsInvalidKey(t *testing.T) {
	t.Parallel()
	_, err := Merge("", []Update{{Key: "1BAD", Value: "x"}}, "")
	if err == nil {
		t.Fatalf("Merge() error = nil, want error for invalid key")
	}
}

func TestMergeRoundTripProperty(t *testing.T) {
	t.Parallel()
	raw := "# config\nA=1\nB=2\n"
	updates := []Update{{Key: "C", Value: "3"}, {Key: "A", Value: "9"}}

	merged, err := Merge(raw, updates, "")
	if err != nil {
		t.Fatalf("Merge() error = %v", err)
	}

	got := Parse(merged)
	want := Parse(raw)
	for _, u := range updates {
		want[u.Key] = u.Value
	}

	if len(got) != len(want) {
		t.Fatalf("got %d keys, want %d: got=%v want=%v", len(got), len(want), got, want)
	}
	for k, v := range want {
		if got[k] != v {
			t.Fatalf("key %q = %q, want %q", k, got[k], v)
		}
	}
}

func TestMergeQuotesValuesWithSpecialChars(t *testing.T) {
	t.Parallel()
	tests := []string{
		"value with spaces",
		"has#hash",
		`has"quote`,
		"has=equals",
		"multi\nline",
		"  leading-trailing  ",
	}
	for _, v := range tests {
		merged, err := Merge("", []Update{{Key: "K", Value: v}}, "")
		if err != nil {
			t.Fatalf("Merge(%q) error = %v", v, err)
		}
		got := Parse(merged)
		if got["K"] != v {
			t.Fatalf("round trip for %q: got %q", v, got["K"])
		}
	}
}

func TestValidateRawRejectsMissingEquals(t *testing.T) {
	t.Parallel()
	if err := ValidateRaw("NOVALUE\n"); err == nil {
		t.Fatalf("ValidateRaw() error = nil, want error for missing '='")
	}
}

func TestValidateRawRejectsInvalidKey(t *testing.T) {
	t.Parallel()
	if err := ValidateRaw("1BAD=x\n"); err == nil {
		t.Fatalf("ValidateRaw() error = nil, want error for invalid key")
	}
}

func TestValidateRawAcceptsWellFormedFile(t *testing.T) {
	t.Parallel()
	if err := ValidateRaw("# comment\n\nFOO=bar\nBAZ=qux\n"); err != nil {
		t.Fatalf("ValidateRaw() error = %v, want nil", err)
	}
}

func TestValidateRawRejectsOversizedFile(t *testing.T) {
	t.Parallel()
	big := make([]byte, maxRawBytes+1)
	for i := range big {
		big[i] = 'a'
	}
	if err := ValidateRaw(string(big)); err == nil {
		t.Fatalf("ValidateRaw() error = nil, want error for oversized file")
	}
}
