package fmt_test

import (
	"slices"
	"strings"
	"testing"

	basefmt "github.com/MortadhaMannai/structured-additive-IR/base/fmt"
	"github.com/google/go-cmp/cmp"
)

func TestNumber(t *testing.T) {
	tests := []struct {
		txt  string
		want string
	}{
		{
			txt: `
Hello
World
`,
			want: `
1 Hello
2 World
`,
		},
		{
			txt: `
Line1
Line2
Line3
Line4
Line5
Line6
Line7
Line8
Line9
Line10
`,
			want: `
01 Line1
02 Line2
03 Line3
04 Line4
05 Line5
06 Line6
07 Line7
08 Line8
09 Line9
10 Line10
`,
		},
	}
	for _, test := range tests {
		got := basefmt.Number(strings.TrimSpace(test.txt))
		want := strings.TrimSpace(test.want)
		if got != want {
			t.Errorf("got:\n%s\nbut want:\n%s\ndiff:\n%s", got, want, cmp.Diff(got, want))
		}
	}
}

func TestIndentSkip(t *testing.T) {
	tests := []struct {
		skip int
		txt  string
		want string
	}{
		{
			skip: 0,
			txt:  "a\nb\n",
			want: "\ta\n\tb\n",
		},
		{
			skip: 1,
			txt:  "map %h\nloops = [i:d0]\nseq = 0\n",
			want: "map %h\n\tloops = [i:d0]\n\tseq = 0\n",
		},
		{
			skip: 0,
			txt:  "",
			want: "",
		},
	}
	for _, test := range tests {
		got := basefmt.IndentSkip(test.skip, test.txt)
		if got != test.want {
			t.Errorf("IndentSkip(%d, %q) = %q but want %q", test.skip, test.txt, got, test.want)
		}
	}
}

type word string

func (w word) String() string { return string(w) }

func TestJoinStringer(t *testing.T) {
	tests := []struct {
		words []word
		want  string
	}{
		{
			words: []word{"d0", "none", "d1"},
			want:  "d0, none, d1",
		},
		{
			words: []word{"d0"},
			want:  "d0",
		},
		{
			words: nil,
			want:  "",
		},
	}
	for _, test := range tests {
		got := basefmt.JoinStringer(slices.Values(test.words), ", ")
		if got != test.want {
			t.Errorf("JoinStringer(%v) = %q but want %q", test.words, got, test.want)
		}
	}
}
