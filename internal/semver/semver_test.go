package semver

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Triple
		wantErr bool
	}{
		{name: "three components", input: "1.17.0", want: Triple{1, 17, 0}},
		{name: "two components zero fills patch", input: "1.10", want: Triple{1, 10, 0}},
		{name: "single component", input: "3", want: Triple{3, 0, 0}},
		{name: "release candidate suffix", input: "1.2.3rc1", want: Triple{1, 2, 3}},
		{name: "dev suffix as fourth component", input: "2.0.0.dev0", want: Triple{2, 0, 0}},
		{name: "suffix on minor stops parsing", input: "1.2rc1.5", want: Triple{1, 2, 0}},
		{name: "local version label", input: "0.9.5+git20230101", want: Triple{0, 9, 5}},
		{name: "surrounding whitespace", input: "  3.11.4\n", want: Triple{3, 11, 4}},
		{name: "leading v", input: "v5.4.1", want: Triple{5, 4, 1}},
		{name: "non numeric later component", input: "4.a", want: Triple{4, 0, 0}},
		{name: "empty string", input: "", wantErr: true},
		{name: "no numeric prefix", input: "unknown", wantErr: true},
		{name: "leading dot", input: ".5", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input)

			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrMalformedVersion)
				return
			}

			require.NoError(t, err)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Parse(%q) mismatch (-want +got):\n%s", tt.input, diff)
			}
		})
	}
}

func TestParse_RoundTrip(t *testing.T) {
	for major := 0; major < 4; major++ {
		for minor := 0; minor < 12; minor += 3 {
			for patch := 0; patch < 12; patch += 5 {
				want := Triple{major, minor, patch}

				got, err := Parse(want.String())
				require.NoError(t, err)
				assert.Equal(t, want, got)
			}
		}
	}
}

func TestCompare(t *testing.T) {
	tests := []struct {
		a, b string
		want Ordering
	}{
		{"1.17.0", "1.0.0", Greater},
		{"1.10", "1.2", Greater},
		{"1.2", "1.10", Less},
		{"0.9.5", "1.0.0", Less},
		{"1.0", "1.0.0", Equal},
		{"2.0.0rc1", "2.0.0", Equal},
		{"3.6.15", "3.7", Less},
	}

	for _, tt := range tests {
		t.Run(tt.a+"_vs_"+tt.b, func(t *testing.T) {
			got := Compare(MustParse(tt.a), MustParse(tt.b))
			assert.Equal(t, tt.want, got, "Compare(%s, %s) = %s", tt.a, tt.b, got)
		})
	}
}

func TestTriple_Decimal(t *testing.T) {
	assert.Equal(t, 11700, MustParse("1.17.0").Decimal())
	assert.Equal(t, 30604, MustParse("3.6.4").Decimal())
	assert.Equal(t, 0, Triple{}.Decimal())
}

func TestTriple_AtLeast(t *testing.T) {
	assert.True(t, MustParse("1.17.0").AtLeast(MustParse("1.10")))
	assert.True(t, MustParse("1.0").AtLeast(MustParse("1.0.0")))
	assert.False(t, MustParse("0.9.5").AtLeast(MustParse("1.0.0")))
}

func TestOrdering_String(t *testing.T) {
	assert.Equal(t, "LESS", Less.String())
	assert.Equal(t, "EQUAL", Equal.String())
	assert.Equal(t, "GREATER", Greater.String())
	assert.Equal(t, "Ordering(7)", Ordering(7).String())
}

func TestMustParse_Panics(t *testing.T) {
	assert.Panics(t, func() { MustParse("nope") })
}
