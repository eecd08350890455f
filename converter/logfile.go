package converter

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/brunobiangulo/docmark/model"
	"github.com/brunobiangulo/docmark/storage"
)

// maxLogExcerpts caps the lines quoted per severity section.
const maxLogExcerpts = 50

var (
	logError = regexp.MustCompile(`(?i)\b(error|fatal|critical|crit|exception|panic|fail(ed|ure)?)\b`)
	logWarn  = regexp.MustCompile(`(?i)\b(warn(ing)?|caution)\b`)
	logInfo  = regexp.MustCompile(`(?i)\b(info|notice|debug|trace)\b`)
)

// Log converts log files into a severity summary, excerpts of the error
// and warning lines, and the full log as a code block.
type Log struct{}

func (c *Log) SupportedExtensions() []string { return []string{"log"} }

func (c *Log) Convert(ctx context.Context, store storage.Storage, path string, opts model.Options) (*model.Document, error) {
	return ReadAndConvert(ctx, c, store, path, opts)
}

type logLine struct {
	n    int
	text string
}

func (c *Log) ConvertBytes(ctx context.Context, data []byte, opts model.Options) (*model.Document, error) {
	if len(data) == 0 {
		return &model.Document{}, nil
	}
	text, err := DecodeText(data, opts.Name)
	if err != nil {
		return nil, err
	}
	text = strings.TrimRight(strings.ReplaceAll(text, "\r\n", "\n"), "\n")

	var (
		total, nErr, nWarn, nInfo int
		errs, warns               []logLine
	)
	for i, line := range strings.Split(text, "\n") {
		total++
		switch {
		case logError.MatchString(line):
			nErr++
			if len(errs) < maxLogExcerpts {
				errs = append(errs, logLine{i + 1, line})
			}
		case logWarn.MatchString(line):
			nWarn++
			if len(warns) < maxLogExcerpts {
				warns = append(warns, logLine{i + 1, line})
			}
		case logInfo.MatchString(line):
			nInfo++
		}
	}

	doc := &model.Document{}
	doc.SetMeta("lines", strconv.Itoa(total))
	doc.SetMeta("errors", strconv.Itoa(nErr))
	doc.SetMeta("warnings", strconv.Itoa(nWarn))

	blocks := []model.Block{
		model.Heading{Level: 2, Text: "Summary"},
		model.List{Items: []string{
			"**Total lines:** " + humanize.Comma(int64(total)),
			"**Errors:** " + humanize.Comma(int64(nErr)),
			"**Warnings:** " + humanize.Comma(int64(nWarn)),
			"**Info:** " + humanize.Comma(int64(nInfo)),
		}},
	}
	blocks = append(blocks, logExcerpts("Errors", errs, nErr)...)
	blocks = append(blocks, logExcerpts("Warnings", warns, nWarn)...)
	blocks = append(blocks,
		model.Heading{Level: 2, Text: "Full Log"},
		model.Code{Language: "log", Code: text},
	)
	doc.AddPage(blocks...)
	return doc, nil
}

func logExcerpts(title string, lines []logLine, total int) []model.Block {
	if len(lines) == 0 {
		return nil
	}
	blocks := []model.Block{model.Heading{Level: 2, Text: title}}
	for _, l := range lines {
		blocks = append(blocks,
			model.Text{Text: fmt.Sprintf("**Line %d:**", l.n)},
			model.Code{Code: l.text},
		)
	}
	if more := total - len(lines); more > 0 {
		blocks = append(blocks, model.Text{Text: fmt.Sprintf("*… and %s more*", humanize.Comma(int64(more)))})
	}
	return blocks
}
