package detect

import "slices"

type extEntry struct {
	ambiguous bool
	// fallback is returned for an ambiguous extension when sniffing is
	// inconclusive.
	fallback string
	// candidates are the formats an ambiguous extension may hold; a
	// non-confident sniff is accepted only if it lands on one of them.
	candidates []string
}

func (e extEntry) accepts(format string) bool {
	return slices.Contains(e.candidates, format)
}

var extensions = map[string]extEntry{}

func init() {
	unique := []string{
		// documents
		"pdf", "docx", "docm", "dotx", "dotm", "pptx", "pptm", "potx",
		"xlsx", "xlsm", "xltx", "epub", "odt", "ods", "odp", "rtf",
		"doc", "xls", "ppt", "msg",
		// text and markup
		"txt", "text", "log", "dat", "md", "markdown", "mdx",
		"csv", "tsv", "json", "jsonl", "ndjson", "ipynb", "yaml", "yml", "toml",
		"html", "htm", "xhtml", "rss", "atom", "eml", "vcf", "vcard", "ics", "ical", "opml",
		"fb2", "docbook", "dbk", "rst", "rest", "org", "tex", "latex", "ltx", "typ", "bib",
		// images
		"png", "jpg", "jpeg", "gif", "webp", "bmp", "tif", "tiff", "svg",
		// archives
		"zip", "tar", "gz", "tgz", "bz2", "tbz2", "xz", "txz", "zst", "7z",
		"tar.gz", "tar.bz2", "tar.xz", "tar.zst",
		// databases
		"sqlite", "sqlite3", "db",
		"bin",
	}
	for _, ext := range unique {
		extensions[ext] = extEntry{}
	}
	for ext := range languages {
		extensions[ext] = extEntry{}
	}
	extensions["xml"] = extEntry{
		ambiguous:  true,
		fallback:   "xml",
		candidates: []string{"rss", "atom", "html", "svg", "opml", "fb2", "docbook", "xml"},
	}
}

// languages maps source-code extensions to fenced code block tags.
var languages = map[string]string{
	"go":    "go",
	"py":    "python",
	"js":    "javascript",
	"mjs":   "javascript",
	"ts":    "typescript",
	"tsx":   "tsx",
	"jsx":   "jsx",
	"rs":    "rust",
	"c":     "c",
	"h":     "c",
	"cpp":   "cpp",
	"cc":    "cpp",
	"hpp":   "cpp",
	"cs":    "csharp",
	"java":  "java",
	"kt":    "kotlin",
	"swift": "swift",
	"rb":    "ruby",
	"php":   "php",
	"sh":    "bash",
	"bash":  "bash",
	"zsh":   "zsh",
	"ps1":   "powershell",
	"sql":   "sql",
	"css":   "css",
	"scss":  "scss",
	"lua":   "lua",
	"r":     "r",
	"scala": "scala",
	"pl":    "perl",
	"ini":   "ini",
	"cfg":   "ini",
	"conf":  "conf",
	"proto": "protobuf",
	"tf":    "hcl",
	"mk":    "makefile",
}

// Language returns the code block tag for a source extension, or "" when
// ext is not a known source-code extension.
func Language(ext string) string {
	return languages[Normalize(ext)]
}

// CodeExtensions lists every source-code extension.
func CodeExtensions() []string {
	out := make([]string, 0, len(languages))
	for ext := range languages {
		out = append(out, ext)
	}
	slices.Sort(out)
	return out
}
