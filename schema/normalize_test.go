package schema

import "testing"

func TestValidateUserID(t *testing.T) {
	cases := []struct {
		name  string
		user  UserID
		valid bool
	}{
		{"simple", "alice", true},
		{"with-dots", "alice.dev", true},
		{"with-underscore", "alice_dev", true},
		{"with-dash", "alice-dev", true},
		{"with-digits", "alice123", true},
		{"email", "user@example.com", true},
		{"plus", "user+gallery@example.com", true},
		{"dot-dot", "..", false},
		{"empty", "", false},
		{"uppercase", "Alice", false},
		{"space", "alice dev", false},
		{"leading-space", " alice", false},
		{"trailing-space", "alice ", false},
		{"unicode", "Ã¥lice", false},
		{"slash", "alice/bob", false},
	}

	for _, tc := range cases {
		err := ValidateUserID(tc.user)
		if tc.valid && err != nil {
			t.Fatalf("case %q expected valid, got error: %v", tc.name, err)
		}
		if !tc.valid && err == nil {
			t.Fatalf("case %q expected error, got nil", tc.name)
		}
	}
}

func TestNormalizeTag(t *testing.T) {
	cases := []struct {
		in    string
		want  string
		valid bool
	}{
		{"Beach", "beach", true},
		{"  sunset ", "sunset", true},
		{"", "", false},
		{"two words", "", false},
		{"a/b", "", false},
	}
	for _, tc := range cases {
		got, err := NormalizeTag(tc.in)
		if tc.valid && err != nil {
			t.Fatalf("NormalizeTag(%q) unexpected error: %v", tc.in, err)
		}
		if !tc.valid && err == nil {
			t.Fatalf("NormalizeTag(%q) expected error", tc.in)
		}
		if got != tc.want {
			t.Fatalf("NormalizeTag(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestNormalizeTagsDropsDuplicates(t *testing.T) {
	got, err := NormalizeTags([]string{"Cat", "dog", "cat", " "})
	if err != nil {
		t.Fatalf("normalize tags: %v", err)
	}
	if len(got) != 2 || got[0] != "cat" || got[1] != "dog" {
		t.Fatalf("unexpected tags: %v", got)
	}
}

func TestSplitTags(t *testing.T) {
	got := SplitTags("cat, dog  bird,")
	if len(got) != 3 || got[0] != "cat" || got[1] != "dog" || got[2] != "bird" {
		t.Fatalf("unexpected split: %v", got)
	}
}

func TestImageCloneIsDeep(t *testing.T) {
	img := Image{ID: "a", Tags: []string{"x"}}
	clone := img.Clone()
	clone.Tags[0] = "y"
	if img.Tags[0] != "x" {
		t.Fatalf("expected clone to not share tags")
	}
	if !img.HasTag("X") {
		t.Fatalf("expected case-insensitive tag match")
	}
	if (Image{}).Clone().Tags == nil {
		t.Fatalf("expected nil tags to become empty slice")
	}
}
