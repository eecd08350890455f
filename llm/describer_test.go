package llm

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brunobiangulo/docmark/model"
)

type stubProvider struct {
	mu   sync.Mutex
	reqs []VisionChatRequest
	out  string
	err  error
}

func (p *stubProvider) ChatWithImages(ctx context.Context, req VisionChatRequest) (*ChatResponse, error) {
	p.mu.Lock()
	p.reqs = append(p.reqs, req)
	p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	return &ChatResponse{Content: p.out}, nil
}

func TestDescribePromptPerPurpose(t *testing.T) {
	p := &stubProvider{out: "described"}
	d := NewDescriber(p, WithModel("vision"), WithMaxTokens(100))

	_, err := d.Describe(context.Background(), model.DescribeRequest{Data: []byte{1, 2}, MIMEType: "image/jpeg", Purpose: model.PurposeImage})
	require.NoError(t, err)
	_, err = d.Describe(context.Background(), model.DescribeRequest{Data: []byte{1, 2}, MIMEType: "image/png", Purpose: model.PurposePage})
	require.NoError(t, err)

	require.Len(t, p.reqs, 2)
	assert.Equal(t, ImagePrompt, p.reqs[0].Messages[0].Content[0].Text)
	assert.Equal(t, PagePrompt, p.reqs[1].Messages[0].Content[0].Text)
	assert.Equal(t, "vision", p.reqs[0].Model)
	assert.Equal(t, 100, p.reqs[0].MaxTokens)

	img := p.reqs[0].Messages[1].Content[1]
	require.NotNil(t, img.ImageURL)
	assert.Equal(t, "data:image/jpeg;base64,AQI=", img.ImageURL.URL)
}

func TestDescribeSniffsMissingMIME(t *testing.T) {
	p := &stubProvider{out: "x"}
	png := []byte("\x89PNG\r\n\x1a\n0000")
	_, err := NewDescriber(p).Describe(context.Background(), model.DescribeRequest{Data: png})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(p.reqs[0].Messages[1].Content[1].ImageURL.URL, "data:image/png;base64,"))
}

func TestDescribeErrors(t *testing.T) {
	d := NewDescriber(&stubProvider{err: errors.New("LLM API error 500")})
	_, err := d.Describe(context.Background(), model.DescribeRequest{Data: []byte{1}})
	assert.ErrorIs(t, err, model.ErrExternalCapability)
	assert.Contains(t, err.Error(), "LLM API error 500")

	_, err = NewDescriber(&stubProvider{out: "  \n"}).Describe(context.Background(), model.DescribeRequest{Data: []byte{1}})
	assert.ErrorIs(t, err, model.ErrExternalCapability)

	_, err = NewDescriber(&stubProvider{}).Describe(context.Background(), model.DescribeRequest{})
	assert.ErrorIs(t, err, model.ErrExternalCapability)
}

func TestDescribeCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewDescriber(&stubProvider{err: context.Canceled}).Describe(ctx, model.DescribeRequest{Data: []byte{1}})
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, model.ErrExternalCapability)
}

func TestCleanStripsFence(t *testing.T) {
	assert.Equal(t, "# Title\n\nBody", Clean("```markdown\n# Title\n\nBody\n```"))
	assert.Equal(t, "plain", Clean("```\nplain\n```"))
	assert.Equal(t, "untouched", Clean("  untouched \n"))

	two := "```go\na\n```\ntext\n```go\nb\n```"
	assert.Equal(t, two, Clean(two))
}

func TestCleanTruncatesRepeatedLines(t *testing.T) {
	in := "Intro line here\n" + strings.Repeat("the same line again\n", 50)
	got := Clean(in)
	assert.Equal(t, "Intro line here\nthe same line again"+truncationNote, got)
}

func TestCleanTruncatesRepeatedPhrase(t *testing.T) {
	in := "Start. " + strings.Repeat("loop loop phrase that keeps coming back ", 40)
	got := Clean(in)
	assert.Equal(t, "Start. loop loop phrase that keeps coming back"+truncationNote, got)
}

func TestCleanKeepsNormalText(t *testing.T) {
	var b strings.Builder
	for i := range 60 {
		b.WriteString("Sentence number ")
		b.WriteString(strings.Repeat("x", i%7+1))
		b.WriteString(" differs from its neighbours in length and content ")
		b.WriteByte(byte('a' + i%26))
		b.WriteString(".\n")
	}
	in := strings.TrimSpace(b.String()) + "\n\n" + strings.Repeat("-", 200)
	assert.Equal(t, in, Clean(in))
}

func TestCleanCapsRunawayLength(t *testing.T) {
	var b strings.Builder
	for i := range 6000 {
		b.WriteString("w" + strconv.Itoa(i) + " ")
	}
	got := Clean(b.String())
	require.True(t, strings.HasSuffix(got, truncationNote))
	assert.Len(t, strings.Fields(strings.TrimSuffix(got, truncationNote)), 3000)
}

func TestLimitBoundsConcurrency(t *testing.T) {
	var active, peak atomic.Int32
	inner := model.DescriberFunc(func(ctx context.Context, req model.DescribeRequest) (string, error) {
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		active.Add(-1)
		return "ok", nil
	})
	d := Limit(inner, 2)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = d.Describe(context.Background(), model.DescribeRequest{})
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.Nil(t, Limit(nil, 3))
}
