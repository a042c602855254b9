package ident

import "testing"

func TestFullyQualifyBasic(t *testing.T) {
	name, ok := FullyQualify("test0", "", "chatter")
	if !ok {
		t.Fatalf("expected ok")
	}
	if name != "test0@/chatter" {
		t.Fatalf("got %q", name)
	}
}

func TestFullyQualifyCollapsesSlashes(t *testing.T) {
	name, ok := FullyQualify("p", "ns", "//a///b/")
	if !ok {
		t.Fatalf("expected ok")
	}
	if name != "p@ns/a/b/" {
		t.Fatalf("got %q", name)
	}
}

func TestFullyQualifyRejectsEmptyRaw(t *testing.T) {
	if _, ok := FullyQualify("p", "ns", ""); ok {
		t.Fatalf("expected rejection for empty raw name")
	}
}

func TestFullyQualifyRejectsWhitespace(t *testing.T) {
	if _, ok := FullyQualify("p", "ns", "a b"); ok {
		t.Fatalf("expected rejection for whitespace")
	}
}

func TestFullyQualifyRejectsAt(t *testing.T) {
	if _, ok := FullyQualify("p", "ns", "a@b"); ok {
		t.Fatalf("expected rejection for '@'")
	}
}

func TestFullyQualifyRejectsTooLong(t *testing.T) {
	long := make([]byte, MaxNameLength+1)
	for i := range long {
		long[i] = 'a'
	}
	if _, ok := FullyQualify("p", "ns", string(long)); ok {
		t.Fatalf("expected rejection for too-long name")
	}
}

// Property: for accepted inputs, FullyQualify is deterministic and
// distinct canonical (partition, namespace, raw) triples produce distinct
// names.
func TestFullyQualifyInjective(t *testing.T) {
	cases := [][3]string{
		{"p1", "ns1", "a"},
		{"p1", "ns1", "b"},
		{"p1", "ns2", "a"},
		{"p2", "ns1", "a"},
	}
	seen := map[string]bool{}
	for _, c := range cases {
		n1, ok1 := FullyQualify(c[0], c[1], c[2])
		n2, ok2 := FullyQualify(c[0], c[1], c[2])
		if !ok1 || !ok2 || n1 != n2 {
			t.Fatalf("FullyQualify not deterministic for %v", c)
		}
		if seen[n1] {
			t.Fatalf("collision for %v -> %q", c, n1)
		}
		seen[n1] = true
	}
}

func TestStripPartition(t *testing.T) {
	if got := StripPartition("test0@/chatter"); got != "/chatter" {
		t.Fatalf("got %q", got)
	}
	if got := StripPartition("/chatter"); got != "/chatter" {
		t.Fatalf("got %q", got)
	}
}
