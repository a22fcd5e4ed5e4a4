package depgraph

import (
	"testing"
)

const sampleGraph = `{
  "graph": {
    "nodes": {
      "0": {"ref": "conanfile", "package_id": "da39a3ee"},
      "1": {"ref": "boost/1.81.0#f3a5b2c1", "package_id": "def456", "recipe_revision": "f3a5b2c1"},
      "2": {"ref": "zlib/1.2.13", "package_id": "abc123"},
      "3": {"ref": "bzip2/1.0.8#0ab1", "package_id": "9f8e7d"}
    }
  }
}`

func TestParse_PreservesOrder(t *testing.T) {
	g, err := Parse([]byte(sampleGraph))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(g.Nodes) != 4 {
		t.Fatalf("expected 4 nodes, got %d", len(g.Nodes))
	}
	wantIDs := []string{"0", "1", "2", "3"}
	for i, id := range wantIDs {
		if g.Nodes[i].ID != id {
			t.Errorf("node %d: expected id %q, got %q", i, id, g.Nodes[i].ID)
		}
	}
	if g.Nodes[1].Revision != "f3a5b2c1" {
		t.Errorf("expected recipe revision f3a5b2c1, got %q", g.Nodes[1].Revision)
	}
}

func TestParse_Empty(t *testing.T) {
	for _, in := range []string{"", "  ", "{}", `{"graph":{}}`, `{"graph":{"nodes":{}}}`, `{"graph":{"nodes":[]}}`} {
		g, err := Parse([]byte(in))
		if err != nil {
			t.Fatalf("Parse(%q) failed: %v", in, err)
		}
		if len(g.Nodes) != 0 {
			t.Errorf("Parse(%q): expected empty graph, got %d nodes", in, len(g.Nodes))
		}
	}
}

func TestParse_Invalid(t *testing.T) {
	if _, err := Parse([]byte("{not json")); err == nil {
		t.Error("expected error for invalid JSON")
	}
}

func TestFlatten_StripsRevisionsAndSkipsRoot(t *testing.T) {
	g, err := Parse([]byte(sampleGraph))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	refs := Flatten(g)
	if len(refs) != 3 {
		t.Fatalf("expected 3 refs, got %d", len(refs))
	}
	want := []FlatRef{
		{Name: "boost", Version: "1.81.0", PackageID: "def456"},
		{Name: "zlib", Version: "1.2.13", PackageID: "abc123"},
		{Name: "bzip2", Version: "1.0.8", PackageID: "9f8e7d"},
	}
	for i, w := range want {
		if refs[i] != w {
			t.Errorf("ref %d: expected %+v, got %+v", i, w, refs[i])
		}
	}
}

func TestFlatten_SkipsMalformedNodes(t *testing.T) {
	g := &Graph{Nodes: []Node{
		{ID: "0", Ref: "conanfile", PackageID: "root"},
		{ID: "1", Ref: "noslash", PackageID: "aaa"},
		{ID: "2", Ref: "zlib/1.2.13", PackageID: ""},
		{ID: "3", Ref: "", PackageID: "bbb"},
		{ID: "4", Ref: "openssl/3.1.0", PackageID: "ccc"},
	}}
	refs := Flatten(g)
	if len(refs) != 1 {
		t.Fatalf("expected 1 ref, got %d", len(refs))
	}
	if refs[0].Name != "openssl" || refs[0].PackageID != "ccc" {
		t.Errorf("unexpected ref: %+v", refs[0])
	}
}

func TestFlatten_KeepsDuplicates(t *testing.T) {
	g := &Graph{Nodes: []Node{
		{ID: "1", Ref: "zlib/1.2.13", PackageID: "abc123"},
		{ID: "2", Ref: "zlib/1.2.13", PackageID: "abc123"},
	}}
	if got := len(Flatten(g)); got != 2 {
		t.Errorf("expected duplicates preserved, got %d refs", got)
	}
}

func TestFlatten_Nil(t *testing.T) {
	if refs := Flatten(nil); len(refs) != 0 {
		t.Errorf("expected no refs for nil graph, got %d", len(refs))
	}
}

func TestSplitRef(t *testing.T) {
	cases := []struct {
		in            string
		name, version string
		ok            bool
	}{
		{"zlib/1.2.13", "zlib", "1.2.13", true},
		{"zlib/1.2.13#abcdef", "zlib", "1.2.13", true},
		{"conanfile", "", "", false},
		{"", "", "", false},
		{"a/b/c", "a", "b/c", true},
	}
	for _, c := range cases {
		name, version, ok := SplitRef(c.in)
		if name != c.name || version != c.version || ok != c.ok {
			t.Errorf("SplitRef(%q) = (%q, %q, %v), want (%q, %q, %v)",
				c.in, name, version, ok, c.name, c.version, c.ok)
		}
	}
}
