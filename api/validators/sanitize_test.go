package validators

import "testing"

func TestSanitizeStringKeepsRunesWhole(t *testing.T) {
	cases := []struct {
		in   string
		max  int
		want string
	}{
		{"  shop-a  ", 128, "shop-a"},
		{"shop-a", 0, "shop-a"},
		{"abcdef", 3, "abc"},
		{"boutique-é", 10, "boutique-"},
		{"boutique-é", 11, "boutique-é"},
	}
	for _, tc := range cases {
		if got := SanitizeString(tc.in, tc.max); got != tc.want {
			t.Fatalf("SanitizeString(%q, %d) = %q, want %q", tc.in, tc.max, got, tc.want)
		}
	}
}
