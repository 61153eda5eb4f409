package core

import (
	"reflect"
	"testing"
)

func TestParseLine(t *testing.T) {
	tests := []struct {
		name     string
		line     string
		isHeader bool
		want     []string
	}{
		{
			name: "quoted comma and escaped quotes",
			line: `Name,"Smith, John ""JJ""",Title`,
			want: []string{"Name", `Smith, John "JJ"`, "Title"},
		},
		{
			name: "fields are trimmed",
			line: "  a , b ,c  ",
			want: []string{"a", "b", "c"},
		},
		{
			name: "data line keeps empty fields",
			line: "a,,c,",
			want: []string{"a", "", "c", ""},
		},
		{
			name:     "header line fills empty fields",
			line:     "Name,,Email,",
			isHeader: true,
			want:     []string{"Name", "Column_2", "Email", "Column_4"},
		},
		{
			name:     "leading byte-order mark",
			line:     "\uFEFFFull Name,Email",
			isHeader: true,
			want:     []string{"Full Name", "Email"},
		},
		{
			name: "CRLF terminator",
			line: "a,b\r\n",
			want: []string{"a", "b"},
		},
		{
			name: "unterminated quote keeps the rest",
			line: `a,"b,c`,
			want: []string{"a", "b,c"},
		},
		{
			name: "empty line",
			line: "",
			want: []string{""},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseLine(tt.line, tt.isHeader)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseLine(%q, %v) = %q, want %q", tt.line, tt.isHeader, got, tt.want)
			}
		})
	}
}

func TestNormalizeHeaders(t *testing.T) {
	got := NormalizeHeaders([]string{"\uFEFF Name ", "", "Email"})
	want := []string{"Name", "Column_2", "Email"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("NormalizeHeaders() = %q, want %q", got, want)
	}
}
