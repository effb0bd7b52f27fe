package mikrowisp

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"
)

func doc(t testing.TB, s string) *goquery.Document {
	d, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func TestLocateFallbackChain(t *testing.T) {
	page := doc(t, `<html><body>
		<div><a href="#">Ir a buscar clientes en la base de datos</a></div>
		<button class="btn btn-default" id="go"><i class="fa fa-search"></i></button>
		<button class="btn">Buscar</button>
		<span style="display: none">Filtrar</span>
	</body></html>`)

	testCases := []struct {
		name    string
		control Control
		text    string
		mode    matchMode
		found   bool
	}{
		{
			name:    "exact beats an earlier substring",
			control: Control{Labels: []string{"buscar"}},
			text:    "Buscar",
			mode:    matchExact,
			found:   true,
		},
		{
			name:    "substring when no exact text",
			control: Control{Labels: []string{"clientes"}},
			text:    "Ir a buscar clientes en la base de datos",
			mode:    matchSubstring,
			found:   true,
		},
		{
			name:    "class heuristic clicks the icon's button",
			control: Control{Labels: []string{"nope"}, Classes: []string{"fa-search"}},
			mode:    matchClass,
			found:   true,
		},
		{
			name:    "hidden elements never match",
			control: Control{Labels: []string{"filtrar"}, ExactOnly: true},
			found:   false,
		},
		{
			name:    "exact only skips substrings",
			control: Control{Labels: []string{"clientes"}, ExactOnly: true},
			found:   false,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			loc, ok := locate(page, tc.control)
			require.Equal(t, tc.found, ok)
			if !tc.found {
				return
			}
			require.Equal(t, tc.mode, loc.Mode)
			if tc.text != "" {
				require.Equal(t, tc.text, loc.Text)
			}
			require.Equal(t, 1, page.Find(loc.Selector).Length())
		})
	}

	loc, ok := locate(page, Control{Labels: []string{"nope"}, Classes: []string{"fa-search"}})
	require.True(t, ok)
	require.Equal(t, "button#go", loc.Selector)
}

func TestLocateMaxLen(t *testing.T) {
	page := doc(t, `<html><body>
		<a>Todos los clientes registrados</a>
		<a>Todos</a>
	</body></html>`)

	loc, ok := locate(page, Control{Labels: []string{"Todos"}, ExactOnly: true, MaxLen: 20})
	require.True(t, ok)
	require.Equal(t, "Todos", loc.Text)
}

func TestLocateInputValue(t *testing.T) {
	page := doc(t, `<html><body><form><input type="submit" value="Ingresar"></form></body></html>`)
	loc, ok := locate(page, Control{Role: `input[type="submit"]`, Labels: []string{"ingresar"}})
	require.True(t, ok)
	require.Equal(t, matchExact, loc.Mode)
}
