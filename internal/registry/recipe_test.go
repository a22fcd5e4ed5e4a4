package registry

import (
	"archive/tar"
	"bytes"
	"reflect"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
)

func TestParseRecipe(t *testing.T) {
	md := ParseRecipe(boostRecipe)
	if md.Name != "boost" || md.Version != "1.81.0" {
		t.Errorf("unexpected name/version: %q %q", md.Name, md.Version)
	}
	if !reflect.DeepEqual(md.Requires, []string{"zlib/1.2.13"}) {
		t.Errorf("unexpected requires: %v", md.Requires)
	}
}

func TestParseRecipe_AllAttributes(t *testing.T) {
	recipe := `
class PkgConan(ConanFile):
    name = "pkg"
    version = "2.0"
    description = "A test package"
    license = "MIT"
    homepage = "https://example.com/pkg"
    author = "Jane Doe <jane@example.com>"
    topics = ("compression", "archive")
    requires = ["zlib/1.2.13", "bzip2/1.0.8"]
    build_requires = ("cmake/3.25.0",)
    test_requires = ["gtest/1.13.0"]
`
	md := ParseRecipe(recipe)
	if md.Description != "A test package" || md.License != "MIT" {
		t.Errorf("unexpected description/license: %q %q", md.Description, md.License)
	}
	if md.Homepage != "https://example.com/pkg" {
		t.Errorf("unexpected homepage: %q", md.Homepage)
	}
	if md.Author != "Jane Doe <jane@example.com>" {
		t.Errorf("unexpected author: %q", md.Author)
	}
	if md.Topics != "compression, archive" {
		t.Errorf("unexpected topics: %q", md.Topics)
	}
	if !reflect.DeepEqual(md.Requires, []string{"zlib/1.2.13", "bzip2/1.0.8"}) {
		t.Errorf("unexpected requires: %v", md.Requires)
	}
	if !reflect.DeepEqual(md.BuildRequires, []string{"cmake/3.25.0"}) {
		t.Errorf("unexpected build_requires: %v", md.BuildRequires)
	}
	if !reflect.DeepEqual(md.TestRequires, []string{"gtest/1.13.0"}) {
		t.Errorf("unexpected test_requires: %v", md.TestRequires)
	}
}

func TestParseRecipe_WordBoundaries(t *testing.T) {
	// Attributes like exports_sources or build_requires must not bleed
	// into name/requires matches.
	recipe := `
class PkgConan(ConanFile):
    filename = "not-the-name"
    build_requires = ["cmake/3.25.0"]
    name = "pkg"
`
	md := ParseRecipe(recipe)
	if md.Name != "pkg" {
		t.Errorf("name matched wrong attribute: %q", md.Name)
	}
	if md.Requires != nil {
		t.Errorf("requires matched build_requires: %v", md.Requires)
	}
}

func TestParseRecipe_Empty(t *testing.T) {
	md := ParseRecipe("def build(self): pass")
	if md.Name != "" || md.Requires != nil {
		t.Errorf("expected zero metadata, got %+v", md)
	}
}

func TestExtractSettings(t *testing.T) {
	archive := makeBinaryArchive(t, map[string]string{
		"lib/libpkg.a": "object code",
		"conaninfo.txt": `[settings]
os=Macos
arch=armv8
compiler=apple-clang
compiler.version=14
build_type=Debug

[options]
shared=True
fPIC=False
`,
	})

	p, options := ExtractSettings(bytes.NewReader(archive))
	if p.OS != "Macos" || p.Arch != "armv8" || p.Compiler != "apple-clang" {
		t.Errorf("unexpected platform: %+v", p)
	}
	if p.CompilerVersion != "14" || p.BuildType != "Debug" {
		t.Errorf("unexpected platform: %+v", p)
	}
	if options["shared"] != "True" || options["fPIC"] != "False" {
		t.Errorf("unexpected options: %v", options)
	}
}

func TestExtractSettings_PartialInfo(t *testing.T) {
	archive := makeBinaryArchive(t, map[string]string{
		"p/conaninfo.txt": "[settings]\nos=Windows\n",
	})

	p, _ := ExtractSettings(bytes.NewReader(archive))
	if p.OS != "Windows" {
		t.Errorf("setting not applied: %+v", p)
	}
	// Unspecified dimensions keep the defaults.
	if p.Compiler != "gcc" || p.BuildType != "Release" {
		t.Errorf("defaults lost: %+v", p)
	}
}

func TestExtractSettings_NoConanInfo(t *testing.T) {
	archive := makeBinaryArchive(t, map[string]string{"lib/libpkg.a": "object code"})

	p, options := ExtractSettings(bytes.NewReader(archive))
	if p != DefaultPlatform() {
		t.Errorf("expected defaults, got %+v", p)
	}
	if len(options) != 0 {
		t.Errorf("expected no options, got %v", options)
	}
}

func TestExtractSettings_NotAnArchive(t *testing.T) {
	p, options := ExtractSettings(strings.NewReader("definitely not gzip"))
	if p != DefaultPlatform() {
		t.Errorf("expected defaults, got %+v", p)
	}
	if len(options) != 0 {
		t.Errorf("expected no options, got %v", options)
	}
}

func makeBinaryArchive(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, content := range files {
		if err := tw.WriteHeader(&tar.Header{Name: name, Mode: 0o644, Size: int64(len(content))}); err != nil {
			t.Fatalf("write header: %v", err)
		}
		if _, err := tw.Write([]byte(content)); err != nil {
			t.Fatalf("write content: %v", err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("close tar: %v", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("close gzip: %v", err)
	}
	return buf.Bytes()
}
