package converter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	ics "github.com/arran4/golang-ical"
	"github.com/emersion/go-vcard"

	"github.com/brunobiangulo/docmark/model"
	"github.com/brunobiangulo/docmark/storage"
)

var textUnescaper = strings.NewReplacer(`\n`, "\n", `\N`, "\n", `\,`, ",", `\;`, ";", `\\`, `\`)

// ICalendar converts iCalendar files: one section per event, to-do or
// journal entry.
type ICalendar struct{}

func (c *ICalendar) SupportedExtensions() []string { return []string{"ics", "ical"} }

func (c *ICalendar) Convert(ctx context.Context, store storage.Storage, path string, opts model.Options) (*model.Document, error) {
	return ReadAndConvert(ctx, c, store, path, opts)
}

var eventFields = []struct {
	prop  ics.ComponentProperty
	label string
}{
	{ics.ComponentPropertyDtStart, "Start"},
	{ics.ComponentPropertyDtEnd, "End"},
	{ics.ComponentPropertyDue, "Due"},
	{ics.ComponentPropertyLocation, "Location"},
	{ics.ComponentPropertyOrganizer, "Organizer"},
	{ics.ComponentPropertyAttendee, "Attendee"},
	{ics.ComponentPropertyStatus, "Status"},
	{ics.ComponentPropertyRrule, "Repeats"},
	{ics.ComponentPropertyUrl, "URL"},
}

func (c *ICalendar) ConvertBytes(ctx context.Context, data []byte, opts model.Options) (*model.Document, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return &model.Document{}, nil
	}
	text, err := DecodeText(data, opts.Name)
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(strings.ToUpper(strings.TrimSpace(text)), "BEGIN:VCALENDAR") {
		return nil, model.ParseError("ics", errors.New("missing BEGIN:VCALENDAR"))
	}
	cal, err := ics.ParseCalendar(strings.NewReader(text))
	if err != nil {
		return nil, model.ParseError("ics", err)
	}

	doc := &model.Document{}
	for _, p := range cal.CalendarProperties {
		switch strings.ToUpper(p.IANAToken) {
		case string(ics.PropertyXWRCalName):
			doc.Title = textUnescaper.Replace(p.Value)
		case string(ics.PropertyProductId):
			doc.SetMeta("product", p.Value)
		}
	}

	var blocks []model.Block
	for _, comp := range cal.Components {
		var (
			kind  string
			props []ics.IANAProperty
		)
		switch v := comp.(type) {
		case *ics.VEvent:
			kind, props = "event", v.Properties
		case *ics.VTodo:
			kind, props = "to-do", v.Properties
		case *ics.VJournal:
			kind, props = "journal", v.Properties
		default:
			continue
		}
		blocks = append(blocks, calendarItem(kind, props)...)
	}
	doc.AddPage(blocks...)
	return doc, nil
}

func calendarItem(kind string, props []ics.IANAProperty) []model.Block {
	values := func(prop ics.ComponentProperty) []string {
		var out []string
		for _, p := range props {
			if strings.EqualFold(p.IANAToken, string(prop)) {
				if v := strings.TrimSpace(textUnescaper.Replace(p.Value)); v != "" {
					out = append(out, v)
				}
			}
		}
		return out
	}

	summary := "Untitled " + kind
	if v := values(ics.ComponentPropertySummary); len(v) > 0 {
		summary = v[0]
	}
	blocks := []model.Block{model.Heading{Level: 2, Text: summary}}

	t := model.Table{Headers: []string{"Field", "Value"}}
	for _, f := range eventFields {
		for _, v := range values(f.prop) {
			t.Rows = append(t.Rows, []string{f.label, v})
		}
	}
	if len(t.Rows) > 0 {
		blocks = append(blocks, t)
	}
	if d := values(ics.ComponentPropertyDescription); len(d) > 0 {
		blocks = append(blocks, model.Text{Text: d[0]})
	}
	return blocks
}

// VCard converts vCard files: one section per contact.
type VCard struct{}

func (c *VCard) SupportedExtensions() []string { return []string{"vcf", "vcard"} }

func (c *VCard) Convert(ctx context.Context, store storage.Storage, path string, opts model.Options) (*model.Document, error) {
	return ReadAndConvert(ctx, c, store, path, opts)
}

var cardFields = [][2]string{
	{vcard.FieldOrganization, "Organization"},
	{vcard.FieldTitle, "Title"},
	{vcard.FieldEmail, "Email"},
	{vcard.FieldTelephone, "Phone"},
	{vcard.FieldAddress, "Address"},
	{vcard.FieldURL, "URL"},
	{vcard.FieldBirthday, "Birthday"},
	{vcard.FieldNote, "Note"},
}

func (c *VCard) ConvertBytes(ctx context.Context, data []byte, opts model.Options) (*model.Document, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return &model.Document{}, nil
	}
	text, err := DecodeText(data, opts.Name)
	if err != nil {
		return nil, err
	}

	var cards []vcard.Card
	dec := vcard.NewDecoder(strings.NewReader(text))
	for {
		card, err := dec.Decode()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, model.ParseError("vcf", err)
		}
		cards = append(cards, card)
	}
	if len(cards) == 0 {
		return nil, model.ParseError("vcf", fmt.Errorf("no BEGIN:VCARD block"))
	}

	doc := &model.Document{}
	var blocks []model.Block
	for _, card := range cards {
		name := contactName(card)
		blocks = append(blocks, model.Heading{Level: 2, Text: name})

		t := model.Table{Headers: []string{"Field", "Value"}}
		for _, f := range cardFields {
			for _, field := range card[f[0]] {
				v := strings.TrimSpace(field.Value)
				if f[0] == vcard.FieldAddress {
					v = strings.Join(strings.FieldsFunc(v, func(r rune) bool { return r == ';' }), ", ")
				}
				if v != "" {
					t.Rows = append(t.Rows, []string{f[1], v})
				}
			}
		}
		if len(t.Rows) > 0 {
			blocks = append(blocks, t)
		}
	}
	if len(cards) == 1 {
		doc.Title = contactName(cards[0])
	}
	doc.AddPage(blocks...)
	return doc, nil
}

func contactName(card vcard.Card) string {
	if fn := strings.TrimSpace(card.Value(vcard.FieldFormattedName)); fn != "" {
		return fn
	}
	if n := card.Name(); n != nil {
		parts := strings.Fields(strings.Join([]string{n.HonorificPrefix, n.GivenName, n.AdditionalName, n.FamilyName, n.HonorificSuffix}, " "))
		if len(parts) > 0 {
			return strings.Join(parts, " ")
		}
	}
	return "Unnamed contact"
}
