package domain

import "testing"

func TestComposeResultValue(t *testing.T) {
	num := func(v float64) *float64 { return &v }
	cases := []struct {
		name string
		kind ResultKind
		in   ResultInput
		want string
	}{
		{"below detection", ResultQuantitative, ResultInput{BelowDetectionLimit: true, Unit: "mg/L", Text: "3"}, "< LD mg/L"},
		{"above quantification no unit", ResultQuantitative, ResultInput{AboveQuantificationLimit: true}, "> LC"},
		{"text wins", ResultQuantitative, ResultInput{Text: " 1.2 x 10^2 CFU/g ", Numeric: num(5), Unit: "CFU/g"}, "1.2 x 10^2 CFU/g"},
		{"ph one decimal", ResultQuantitative, ResultInput{Numeric: num(7), Unit: "pH"}, "7.0 pH"},
		{"numeric with unit", ResultQuantitative, ResultInput{Numeric: num(0.25), Unit: "mg/kg"}, "0.25 mg/kg"},
		{"nothing", ResultQuantitative, ResultInput{Unit: "mg/kg"}, ""},
		{"qualitative label", ResultQualitative, ResultInput{Qualitative: OutcomeNoGrowth}, "No growth"},
		{"qualitative empty", ResultQualitative, ResultInput{}, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ComposeResultValue(tc.kind, tc.in); got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestFormatColonyCount(t *testing.T) {
	cases := []struct {
		colonies, dilution int
		want               string
	}{
		{0, 10, "Not detected"},
		{5, 1, "< 1.0 x 10^1 CFU/g"},
		{45, 10, "450 CFU/g"},
		{25, 100, "2.5 x 10^3 CFU/g"},
		{120, 1000, "1.2 x 10^5 CFU/g"},
		{40, 10000, "> 3.0 x 10^5 CFU/g"},
		{12, 0, "12 CFU/g"},
	}
	for _, tc := range cases {
		if got := FormatColonyCount(tc.colonies, tc.dilution); got != tc.want {
			t.Fatalf("FormatColonyCount(%d, %d) = %q, want %q", tc.colonies, tc.dilution, got, tc.want)
		}
	}
}
