package additives

import (
	"fmt"
	"strings"
	"testing"
)

func TestSegment(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want []string
	}{
		{name: "empty", in: "", want: []string{}},
		{name: "whitespace", in: "  \n\t ", want: []string{}},
		{name: "turkish marker", in: "İçindekiler: Su, Şeker, Tuz", want: []string{"Su", "Şeker", "Tuz"}},
		{name: "upper case marker", in: "İÇİNDEKİLER: un; şeker", want: []string{"un", "şeker"}},
		{name: "english marker", in: "Nutrition facts\nINGREDIENTS: sugar, salt", want: []string{"sugar", "salt"}},
		{name: "text before marker is dropped", in: "Ürün adı: Bisküvi\nİçerik: un, şeker", want: []string{"un", "şeker"}},
		{name: "plural marker wins over prefix", in: "İçerikler: su, tuz", want: []string{"su", "tuz"}},
		{name: "marker without diacritics", in: "ICINDEKILER: su, tuz", want: []string{"su", "tuz"}},
		{name: "no marker keeps everything", in: "Su, Tuz, Karbondioksit", want: []string{"Su", "Tuz", "Karbondioksit"}},
		{name: "all separators", in: "a,b;c:d\ne\r\nf", want: []string{"a", "b", "c", "d", "e", "f"}},
		{name: "blank fragments dropped", in: "su, , ,tuz", want: []string{"su", "tuz"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Segment(tc.in)
			if fmt.Sprint(got) != fmt.Sprint(tc.want) || len(got) != len(tc.want) {
				t.Fatalf("Segment(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestSegmentLengthCeiling(t *testing.T) {
	keep := strings.Repeat("a", MaxIngredientRunes-1)
	drop := strings.Repeat("b", MaxIngredientRunes)
	turkish := strings.Repeat("ş", MaxIngredientRunes-1)

	got := Segment(strings.Join([]string{keep, drop, turkish}, ","))
	if len(got) != 2 || got[0] != keep || got[1] != turkish {
		t.Fatalf("unexpected fragments: %d entries", len(got))
	}
}

func TestSegmentCapsFragmentCount(t *testing.T) {
	parts := make([]string, 0, 60)
	for i := 1; i <= 60; i++ {
		parts = append(parts, fmt.Sprintf("x%d", i))
	}

	got := Segment(strings.Join(parts, ", "))
	if len(got) != MaxIngredients {
		t.Fatalf("expected %d fragments, got %d", MaxIngredients, len(got))
	}
	if got[0] != "x1" || got[MaxIngredients-1] != "x50" {
		t.Fatalf("cap must keep the first fragments in order, got first=%q last=%q", got[0], got[MaxIngredients-1])
	}
}

func TestNormalizeIngredient(t *testing.T) {
	cases := []struct{ in, want string }{
		{"Monosodyum Glutamat (MSG)", "monosodyum glutamat msg"},
		{"  Şeker  ", "şeker"},
		{"asitlik düzenleyici(E330)", "asitlik düzenleyici e330"},
		{"renk [E 150d]", "renk e 150d"},
		{"\tsu\n", "su"},
		{"()", ""},
	}
	for _, tc := range cases {
		if got := NormalizeIngredient(tc.in); got != tc.want {
			t.Errorf("NormalizeIngredient(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestFold(t *testing.T) {
	cases := []struct{ in, want string }{
		{"Tatlandırıcı", "tatlandirici"},
		{"TATLANDIRICI", "tatlandirici"},
		{"İçindekiler", "icindekiler"},
		{"emülgatör", "emulgator"},
		{"jelleştirici", "jellestirici"},
		{"plain ascii", "plain ascii"},
		{"émulsifier", "emulsifier"},
		{"Doğal Aroma Verici", "dogal aroma verici"},
	}
	for _, tc := range cases {
		if got := Fold(tc.in); got != tc.want {
			t.Errorf("Fold(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
