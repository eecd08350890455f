package llm

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"unicode"

	"golang.org/x/sync/semaphore"

	"github.com/brunobiangulo/docmark/model"
)

const (
	// ImagePrompt is the system prompt used for PurposeImage requests.
	ImagePrompt = `You describe images found inside documents so the description can stand in for the image in a Markdown file.
Cover the main subject, transcribe any visible text exactly, and restate charts, diagrams and tables in text form
(use a Markdown table for tabular data). Be thorough but concise and do not add commentary about yourself.`

	// PagePrompt is the system prompt used for PurposePage requests.
	PagePrompt = `Transcribe this document page into Markdown and output only the transcription.
- Keep the text exactly as written and in its original language.
- Use #, ## and ### for titles, and proper Markdown for lists, tables and quotes.
- Replace pictures with *[Image: short description]* and summarise charts briefly.
- Keep citations and references.
- Do not wrap the output in a code block, do not explain your process, and do not repeat content.`
)

// truncationNote is appended when a runaway model output is cut short.
const truncationNote = "\n\n*[Repetitive output truncated]*"

// Describer turns a vision-capable Provider into a model.VisualDescriber.
type Describer struct {
	provider    Provider
	model       string
	temperature float64
	maxTokens   int
	imagePrompt string
	pagePrompt  string
}

// DescriberOption configures a Describer.
type DescriberOption func(*Describer)

// WithModel overrides the provider's configured model.
func WithModel(m string) DescriberOption { return func(d *Describer) { d.model = m } }

// WithMaxTokens caps the completion length.
func WithMaxTokens(n int) DescriberOption { return func(d *Describer) { d.maxTokens = n } }

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) DescriberOption { return func(d *Describer) { d.temperature = t } }

// WithPrompts replaces the system prompts. Empty values keep the default.
func WithPrompts(image, page string) DescriberOption {
	return func(d *Describer) {
		if image != "" {
			d.imagePrompt = image
		}
		if page != "" {
			d.pagePrompt = page
		}
	}
}

// NewDescriber wraps p.
func NewDescriber(p Provider, opts ...DescriberOption) *Describer {
	d := &Describer{
		provider:    p,
		temperature: 0.1,
		maxTokens:   4096,
		imagePrompt: ImagePrompt,
		pagePrompt:  PagePrompt,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Describe sends the image with the prompt for req.Purpose and returns the
// cleaned reply. Failures wrap model.ErrExternalCapability; a cancelled
// context is returned as is.
func (d *Describer) Describe(ctx context.Context, req model.DescribeRequest) (string, error) {
	if len(req.Data) == 0 {
		return "", fmt.Errorf("%w: empty image", model.ErrExternalCapability)
	}
	mime := req.MIMEType
	if mime == "" {
		mime = http.DetectContentType(req.Data)
	}

	system, instruction := d.imagePrompt, "Describe this image."
	if req.Purpose == model.PurposePage {
		system, instruction = d.pagePrompt, "Convert this page to Markdown."
	}

	resp, err := d.provider.ChatWithImages(ctx, VisionChatRequest{
		Model:       d.model,
		Temperature: d.temperature,
		MaxTokens:   d.maxTokens,
		Messages: []VisionMessage{
			{Role: "system", Content: []ContentPart{{Type: "text", Text: system}}},
			{Role: "user", Content: []ContentPart{
				{Type: "text", Text: instruction},
				{Type: "image_url", ImageURL: &ImageURL{URL: dataURL(mime, req.Data)}},
			}},
		},
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("%w: %v", model.ErrExternalCapability, err)
	}

	out := Clean(resp.Content)
	if out == "" {
		return "", fmt.Errorf("%w: empty response from model", model.ErrExternalCapability)
	}
	return out, nil
}

func dataURL(mime string, data []byte) string {
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// Clean strips a code fence wrapping the whole reply and truncates output
// that has fallen into a repetition loop.
func Clean(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") && strings.HasSuffix(s, "```") && len(s) >= 6 {
		inner := s[3 : len(s)-3]
		if nl := strings.IndexByte(inner, '\n'); nl >= 0 && !strings.ContainsAny(inner[:nl], " \t") {
			inner = inner[nl+1:]
		}
		if !strings.Contains(inner, "```") {
			s = strings.TrimSpace(inner)
		}
	}
	return truncateRepetition(s)
}

func truncateRepetition(s string) string {
	if out, ok := repeatedLines(s); ok {
		return out
	}
	if len(s) >= 500 {
		if out, ok := repeatedWindow(s); ok {
			return out
		}
	}
	if words := strings.Fields(s); len(words) > 5000 {
		return strings.Join(words[:3000], " ") + truncationNote
	}
	return s
}

// repeatedLines cuts at the fourth consecutive copy of a non-trivial line.
func repeatedLines(s string) (string, bool) {
	lines := strings.Split(s, "\n")
	var last string
	run := 0
	for i, l := range lines {
		t := strings.TrimSpace(l)
		if len(t) < 10 {
			continue
		}
		if t != last {
			last, run = t, 1
			continue
		}
		run++
		if run == 4 {
			// keep the first copy and everything before it
			j := i
			for seen := 0; j > 0; j-- {
				if strings.TrimSpace(lines[j]) == t {
					seen++
					if seen == 4 {
						break
					}
				}
			}
			return strings.TrimSpace(strings.Join(lines[:j+1], "\n")) + truncationNote, true
		}
	}
	return s, false
}

// repeatedWindow samples fixed-size windows across s and looks for one
// that starts a unit repeated back to back at least four times. Output is
// cut after the first copy of the unit.
func repeatedWindow(s string) (string, bool) {
	for _, size := range []int{30, 50, 80, 100} {
		if len(s) <= size*4 {
			break
		}
		samples := min(10, len(s)/size)
		for i := range samples {
			start := boundary(s, len(s)/samples*i)
			end := boundary(s, start+size)
			if end <= start {
				continue
			}
			w := s[start:end]
			if len(strings.Join(strings.Fields(w), "")) < len(w)/3 {
				continue
			}
			first := strings.Index(s, w)
			next := strings.Index(s[first+1:], w)
			if next < 0 {
				continue
			}
			period := next + 1
			for first > 0 && s[first-1] == s[first-1+period] {
				first--
			}
			if looping(s[first:], period) {
				cut := boundary(s, first+period)
				return strings.TrimSpace(s[:cut]) + truncationNote, true
			}
		}
	}
	return s, false
}

// looping reports whether s opens with four copies of a unit of the given
// length. Units shorter than ten bytes or without a letter are rules and
// padding, not loops.
func looping(s string, period int) bool {
	if period < 10 || len(s) < 4*period {
		return false
	}
	unit := s[:period]
	if !strings.ContainsFunc(unit, unicode.IsLetter) {
		return false
	}
	for j := 1; j < 4; j++ {
		if s[j*period:(j+1)*period] != unit {
			return false
		}
	}
	return true
}

// boundary moves i back to the start of a UTF-8 sequence.
func boundary(s string, i int) int {
	if i >= len(s) {
		return len(s)
	}
	for i > 0 && s[i]&0xC0 == 0x80 {
		i--
	}
	return i
}

// Limit bounds the number of concurrent Describe calls made through d.
// n <= 0 returns d unchanged.
func Limit(d model.VisualDescriber, n int) model.VisualDescriber {
	if d == nil || n <= 0 {
		return d
	}
	sem := semaphore.NewWeighted(int64(n))
	return model.DescriberFunc(func(ctx context.Context, req model.DescribeRequest) (string, error) {
		if err := sem.Acquire(ctx, 1); err != nil {
			return "", err
		}
		defer sem.Release(1)
		return d.Describe(ctx, req)
	})
}
