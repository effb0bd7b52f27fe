package htmlutil

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

func GetText(node *html.Node) string {
	var buffer bytes.Buffer
	getTextRecursive(node, &buffer)
	return buffer.String()
}

func getTextRecursive(node *html.Node, buffer *bytes.Buffer) {
	if node == nil {
		return
	}
	if node.Type == html.TextNode {
		buffer.WriteString(node.Data)
		return
	}
	if node.Type == html.ElementNode && (node.Data == "script" || node.Data == "style") {
		return
	}
	child := node.FirstChild
	for child != nil {
		getTextRecursive(child, buffer)
		child = child.NextSibling
	}
}

var innerWhitespace = regexp.MustCompile(`\s+`)

func removeNonPrintable(s string) string {
	newStr := strings.Builder{}
	for _, c := range s {
		if unicode.IsPrint(c) || unicode.IsSpace(c) {
			newStr.WriteRune(c)
		}
	}
	return newStr.String()
}

// CleanText is the visible text of a selection with whitespace runs collapsed.
func CleanText(sel *goquery.Selection) string {
	var buffer bytes.Buffer
	for _, n := range sel.Nodes {
		getTextRecursive(n, &buffer)
	}
	return Collapse(buffer.String())
}

// Collapse trims s and collapses inner whitespace (including nbsp) to single spaces.
func Collapse(s string) string {
	s = strings.ReplaceAll(s, "\u00a0", " ")
	s = removeNonPrintable(s)
	return strings.TrimSpace(innerWhitespace.ReplaceAllString(s, " "))
}

// StripAccents removes diacritics: "María José" becomes "Maria Jose".
func StripAccents(s string) string {
	stripMarks := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(stripMarks, s)
	if err != nil {
		return s
	}
	return stripped
}

// Fold lowercases s, removes diacritics and collapses whitespace so labels
// like "N° CÉDULA" and "n° cedula" compare equal.
func Fold(s string) string {
	return strings.ToLower(Collapse(StripAccents(s)))
}

var simpleID = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]*$`)

// CSSPath returns a selector that matches exactly the first node of sel in the
// document it was parsed from. It anchors at the nearest ancestor with a
// usable id, otherwise at the root, and uses nth-child for every step.
func CSSPath(sel *goquery.Selection) string {
	if sel.Length() == 0 {
		return ""
	}
	node := sel.Nodes[0]

	var steps []string
	for n := node; n != nil && n.Type == html.ElementNode; n = n.Parent {
		if id := attr(n, "id"); id != "" && simpleID.MatchString(id) {
			steps = append(steps, fmt.Sprintf("%s#%s", n.Data, id))
			break
		}
		if n.Parent == nil || n.Parent.Type != html.ElementNode {
			steps = append(steps, n.Data)
			break
		}
		steps = append(steps, fmt.Sprintf("%s:nth-child(%d)", n.Data, elementIndex(n)))
	}

	for i, j := 0, len(steps)-1; i < j; i, j = i+1, j-1 {
		steps[i], steps[j] = steps[j], steps[i]
	}
	return strings.Join(steps, " > ")
}

func elementIndex(n *html.Node) int {
	idx := 1
	for s := n.PrevSibling; s != nil; s = s.PrevSibling {
		if s.Type == html.ElementNode {
			idx++
		}
	}
	return idx
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}
