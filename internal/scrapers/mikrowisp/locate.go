package mikrowisp

import (
	"context"
	"strings"
	"wispfetch/internal/browser"
	"wispfetch/lib/htmlutil"

	"github.com/PuerkitoBio/goquery"
)

// clickable are the elements a control may be rendered as.
const clickable = `button, a, input[type="submit"], input[type="button"], [role="button"], span, li, i`

// maxSubstringText keeps substring matches away from containers whose text
// happens to include the label.
const maxSubstringText = 100

type matchMode int

const (
	matchExact matchMode = iota
	matchSubstring
	matchClass
)

func (m matchMode) String() string {
	switch m {
	case matchExact:
		return "exact"
	case matchSubstring:
		return "substring"
	}
	return "class"
}

// Control describes a UI control by role and vocabulary rather than by a
// fixed selector.
type Control struct {
	// Role is the css selector of the candidate elements, empty means any
	// clickable element.
	Role string
	// Scope restricts the search to descendants of the selector.
	Scope  string
	Labels []string
	// Classes are class name fragments for the last-resort heuristic.
	Classes []string
	// ExactOnly disables the substring step.
	ExactOnly bool
	// MaxLen rejects candidates with longer text, 0 means no limit.
	MaxLen int
}

type located struct {
	Selector string
	Text     string
	Mode     matchMode
}

func hidden(sel *goquery.Selection) bool {
	for n := sel; n.Length() > 0; n = n.Parent() {
		if _, ok := n.Attr("hidden"); ok {
			return true
		}
		style := strings.ReplaceAll(strings.ToLower(n.AttrOr("style", "")), " ", "")
		if strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden") {
			return true
		}
	}
	return false
}

func controlText(sel *goquery.Selection) string {
	if goquery.NodeName(sel) == "input" {
		return htmlutil.Collapse(sel.AttrOr("value", ""))
	}
	text := htmlutil.CleanText(sel)
	if text == "" {
		text = htmlutil.Collapse(sel.AttrOr("title", ""))
	}
	return text
}

// locate runs the fallback chain exact text, then substring, then class
// heuristic over the document and returns the first hit in document order.
func locate(doc *goquery.Document, c Control) (located, bool) {
	role := c.Role
	if role == "" {
		role = clickable
	}
	root := doc.Selection
	if c.Scope != "" {
		root = doc.Find(c.Scope)
	}

	var candidates []*goquery.Selection
	root.Find(role).Each(func(_ int, s *goquery.Selection) {
		if !hidden(s) {
			candidates = append(candidates, s)
		}
	})

	labels := make([]string, len(c.Labels))
	for i, l := range c.Labels {
		labels[i] = htmlutil.Fold(l)
	}
	fits := func(text string) bool {
		return c.MaxLen == 0 || len([]rune(text)) < c.MaxLen
	}

	for _, s := range candidates {
		text := controlText(s)
		folded := htmlutil.Fold(text)
		for _, l := range labels {
			if folded == l && fits(text) {
				return located{Selector: htmlutil.CSSPath(s), Text: text, Mode: matchExact}, true
			}
		}
	}

	if !c.ExactOnly {
		for _, s := range candidates {
			text := controlText(s)
			if len([]rune(text)) >= maxSubstringText || !fits(text) {
				continue
			}
			folded := htmlutil.Fold(text)
			for _, l := range labels {
				if l != "" && strings.Contains(folded, l) {
					return located{Selector: htmlutil.CSSPath(s), Text: text, Mode: matchSubstring}, true
				}
			}
		}
	}

	for _, s := range candidates {
		class := strings.ToLower(s.AttrOr("class", ""))
		for _, fragment := range c.Classes {
			if fragment != "" && strings.Contains(class, strings.ToLower(fragment)) {
				target := s
				// icons are clicked through their button
				if goquery.NodeName(s) == "i" {
					if parent := s.ParentsFiltered("button, a").First(); parent.Length() > 0 {
						target = parent
					}
				}
				return located{Selector: htmlutil.CSSPath(target), Text: controlText(target), Mode: matchClass}, true
			}
		}
	}

	return located{}, false
}

// snapshot parses the current document of page.
func snapshot(ctx context.Context, page browser.Page) (*goquery.Document, error) {
	raw, err := page.HTML(ctx)
	if err != nil {
		return nil, err
	}
	return goquery.NewDocumentFromReader(strings.NewReader(raw))
}

// clickControl locates c on a fresh snapshot and clicks it. It reports
// false without error when nothing matches.
func clickControl(ctx context.Context, page browser.Page, c Control) (located, bool, error) {
	doc, err := snapshot(ctx, page)
	if err != nil {
		return located{}, false, err
	}
	loc, ok := locate(doc, c)
	if !ok {
		return located{}, false, nil
	}
	if err := page.Click(ctx, loc.Selector); err != nil {
		return loc, false, err
	}
	return loc, true, nil
}
