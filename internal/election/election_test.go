package election

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestElectHost(t *testing.T) {
	cases := []struct {
		name    string
		members []string
		want    string
		wantOK  bool
	}{
		{name: "smallest wins", members: []string{"b", "a", "c"}, want: "a", wantOK: true},
		{name: "order independent", members: []string{"c", "b", "a"}, want: "a", wantOK: true},
		{name: "empty set", members: nil, wantOK: false},
		{name: "empty ids ignored", members: []string{"", "zed"}, want: "zed", wantOK: true},
		{name: "duplicates", members: []string{"m", "m", "k"}, want: "k", wantOK: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := ElectHost(tc.members)
			assert.Equal(t, tc.wantOK, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestShouldReelect(t *testing.T) {
	assert.False(t, ShouldReelect("b", []string{"b", "c"}))
	// a smaller id arriving does not unseat the present host
	assert.False(t, ShouldReelect("b", []string{"a", "b", "c"}))
	assert.True(t, ShouldReelect("b", []string{"a", "c"}))
	assert.True(t, ShouldReelect("", []string{"a"}))
}

func TestNext(t *testing.T) {
	host, ok := Next("b", []string{"a", "b"})
	assert.True(t, ok)
	assert.Equal(t, "b", host)

	host, ok = Next("b", []string{"c", "a"})
	assert.True(t, ok)
	assert.Equal(t, "a", host)

	_, ok = Next("b", nil)
	assert.False(t, ok)
}
