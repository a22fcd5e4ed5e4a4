package registry

import (
	"archive/tar"
	"io"
	"regexp"
	"strings"

	"github.com/klauspost/compress/gzip"

	"github.com/conancrates/conancrates/internal/catalog"
)

// RecipeMetadata is what can be scraped out of a conanfile.py without
// executing it. Everything is optional; ingestion only uses non-empty
// values and never overwrites existing metadata with blanks.
type RecipeMetadata struct {
	Name          string
	Version       string
	Description   string
	License       string
	Homepage      string
	Author        string
	Topics        string
	Requires      []string
	BuildRequires []string
	TestRequires  []string
}

var (
	recipeNameRe        = regexp.MustCompile(`\bname\s*=\s*["']([^"']+)["']`)
	recipeVersionRe     = regexp.MustCompile(`\bversion\s*=\s*["']([^"']+)["']`)
	recipeDescriptionRe = regexp.MustCompile(`\bdescription\s*=\s*["']([^"']+)["']`)
	recipeLicenseRe     = regexp.MustCompile(`\blicense\s*=\s*["']([^"']+)["']`)
	recipeHomepageRe    = regexp.MustCompile(`\bhomepage\s*=\s*["']([^"']+)["']`)
	recipeAuthorRe      = regexp.MustCompile(`\bauthor\s*=\s*["']([^"']+)["']`)

	requiresRe      = regexp.MustCompile(`(?s)\brequires\s*=\s*[\[(](.*?)[\])]`)
	buildRequiresRe = regexp.MustCompile(`(?s)\bbuild_requires\s*=\s*[\[(](.*?)[\])]`)
	testRequiresRe  = regexp.MustCompile(`(?s)\btest_requires\s*=\s*[\[(](.*?)[\])]`)
	topicsRe        = regexp.MustCompile(`(?s)\btopics\s*=\s*[\[(](.*?)[\])]`)
	quotedRe        = regexp.MustCompile(`["']([^"']+)["']`)
)

// ParseRecipe extracts package metadata from conanfile.py content. It is
// a line-oriented scrape, not a Python parser: attributes written as plain
// quoted assignments are found, anything dynamic is not.
func ParseRecipe(content string) RecipeMetadata {
	md := RecipeMetadata{}
	md.Name = firstGroup(recipeNameRe, content)
	md.Version = firstGroup(recipeVersionRe, content)
	md.Description = firstGroup(recipeDescriptionRe, content)
	md.License = firstGroup(recipeLicenseRe, content)
	md.Homepage = firstGroup(recipeHomepageRe, content)
	md.Author = firstGroup(recipeAuthorRe, content)
	md.Requires = quotedList(requiresRe, content)
	md.BuildRequires = quotedList(buildRequiresRe, content)
	md.TestRequires = quotedList(testRequiresRe, content)
	if topics := quotedList(topicsRe, content); len(topics) > 0 {
		md.Topics = strings.Join(topics, ", ")
	}
	return md
}

func firstGroup(re *regexp.Regexp, s string) string {
	if m := re.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	return ""
}

func quotedList(re *regexp.Regexp, s string) []string {
	m := re.FindStringSubmatch(s)
	if m == nil {
		return nil
	}
	var out []string
	for _, q := range quotedRe.FindAllStringSubmatch(m[1], -1) {
		out = append(out, q[1])
	}
	return out
}

// DefaultPlatform is assumed when a binary archive carries no readable
// conaninfo.txt and the caller supplied no explicit settings.
func DefaultPlatform() catalog.Platform {
	return catalog.Platform{
		OS:              "Linux",
		Arch:            "x86_64",
		Compiler:        "gcc",
		CompilerVersion: "11",
		BuildType:       "Release",
	}
}

// ExtractSettings reads conaninfo.txt out of a binary .tar.gz archive and
// returns the build settings and options recorded in it. Extraction is
// best effort: a payload that is not a readable archive, or one without a
// conaninfo.txt, yields the defaults.
func ExtractSettings(r io.Reader) (catalog.Platform, map[string]string) {
	p := DefaultPlatform()
	options := map[string]string{}

	gz, err := gzip.NewReader(r)
	if err != nil {
		return p, options
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err != nil {
			return p, options
		}
		if !strings.HasSuffix(hdr.Name, "conaninfo.txt") {
			continue
		}
		content, err := io.ReadAll(tr)
		if err != nil {
			return p, options
		}
		parseConanInfo(string(content), &p, options)
		return p, options
	}
}

// parseConanInfo reads the ini-like conaninfo.txt format:
//
//	[settings]
//	os=Linux
//	compiler.version=11
//	[options]
//	shared=False
func parseConanInfo(content string, p *catalog.Platform, options map[string]string) {
	section := ""
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			section = strings.Trim(line, "[]")
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		switch section {
		case "settings":
			switch key {
			case "os":
				p.OS = value
			case "arch":
				p.Arch = value
			case "compiler":
				p.Compiler = value
			case "compiler.version":
				p.CompilerVersion = value
			case "build_type":
				p.BuildType = value
			}
		case "options":
			if key != "" {
				options[key] = value
			}
		}
	}
}
