package mikrowisp

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSanitizeName(t *testing.T) {
	testCases := []struct {
		in, expected string
	}{
		{"Juan Pérez", "Juan_Perez"},
		{"María José Núñez", "Maria_Jose_Nunez"},
		{"Zoë 漢字", "Zoe"},
		{"  ACME S.A.  ", "ACME_SA"},
		{"Luis\t Mora-Vega", "Luis_Mora-Vega"},
		{"../../etc/passwd", "etcpasswd"},
		{"", ""},
		{strings.Repeat("a", 80), strings.Repeat("a", 50)},
	}
	for _, tc := range testCases {
		require.Equal(t, tc.expected, SanitizeName(tc.in), tc.in)
	}
}

func TestFilename(t *testing.T) {
	testCases := []struct {
		name     string
		record   Record
		expected string
	}{
		{
			name:     "paid",
			record:   Record{RecordNumber: "1001", ClientID: "42", ClientName: "Juan Pérez", PaidDate: "14/03/2024"},
			expected: "2024-03-14_42_Juan_Perez_1001.pdf",
		},
		{
			name:     "falls back to issue date",
			record:   Record{RecordNumber: "7", ClientID: "1", ClientName: "Ana", IssueDate: "01/02/2024"},
			expected: "2024-02-01_1_Ana_7.pdf",
		},
		{
			name:     "missing client fields",
			record:   Record{RecordNumber: "F-9", PaidDate: "14/03/2024"},
			expected: "2024-03-14_0_Cliente_F-9.pdf",
		},
		{
			name:     "unparsed date stays one segment",
			record:   Record{RecordNumber: "3", ClientID: "5", ClientName: "Eva", PaidDate: "14/3/2024"},
			expected: "14-3-2024_5_Eva_3.pdf",
		},
		{
			name:     "path characters never leak",
			record:   Record{RecordNumber: "../1", ClientID: "a/b", ClientName: "X", PaidDate: "14/03/2024"},
			expected: "2024-03-14_ab_X_..1.pdf",
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := Filename(tc.record)
			require.Equal(t, tc.expected, got)
			require.NotContains(t, got, "/")
			// a re-run names the same record the same way
			require.Equal(t, got, Filename(tc.record))
		})
	}
}
