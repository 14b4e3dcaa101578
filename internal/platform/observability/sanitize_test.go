package observability

import "testing"

func TestSanitizeHelpers(t *testing.T) {
	if got := SanitizeRoute(""); got != "/" {
		t.Fatalf("expected root route, got %q", got)
	}
	if got := SanitizeMethod("GET\r\n"); got != "GET" {
		t.Fatalf("unexpected method %q", got)
	}
	long := make([]byte, 100)
	for i := range long {
		long[i] = 'u'
	}
	if got := SanitizeUserID(string(long)); len(got) != 64 {
		t.Fatalf("expected truncated uid, got %d chars", len(got))
	}
}

func TestSanitizeObjectPath(t *testing.T) {
	cases := map[string]string{
		"products/user-12345/01HX_1700.jpg": "products/user***/01HX_1700.jpg",
		"products/ab/x.jpg":                 "products/ab/x.jpg",
		"other/object.png":                  "other/object.png",
	}
	for in, want := range cases {
		if got := SanitizeObjectPath(in); got != want {
			t.Fatalf("SanitizeObjectPath(%q) = %q, want %q", in, got, want)
		}
	}
}
