package converter

// Builtins returns the leaf converters shipped with docmark. The HTML
// renderer is shared by every converter that emits HTML-derived Markdown.
// PDF and archive converters live in their own packages and are added by
// the engine.
func Builtins() []Converter {
	r := NewHTMLRenderer()
	return []Converter{
		&Text{},
		&Log{},
		&Markdown{},
		&RST{},
		NewOrg(r),
		&LaTeX{},
		&Typst{},
		&BibTeX{},
		&Code{},
		&CSV{},
		&JSON{},
		&YAML{},
		&TOML{},
		&Notebook{},
		NewHTML(r),
		NewFeed(r),
		&OPML{},
		&FictionBook{},
		&DocBook{},
		NewEPUB(r),
		NewEmail(r),
		&ICalendar{},
		&VCard{},
		&Image{},
		&DOCX{},
		&DOCX{Template: true},
		&PPTX{},
		&PPTX{Template: true},
		&XLSX{},
		&XLSX{Template: true},
		&OpenDocument{},
		&RTF{},
		&SQLite{},
	}
}
