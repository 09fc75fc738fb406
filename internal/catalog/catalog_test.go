package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalog(t *testing.T) {
	c := Default()

	tests := []struct {
		code string
		want bool
	}{
		{"cs.AI", true},
		{"cs.LG", true},
		{"math", true},
		{"math.ST", true},
		{"hep-th", true},
		{"q-bio.NC", true},
		{"cs", false},
		{"cs.XX", false},
		{"math.", false},
		{"biology", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Contains(tt.code))
		})
	}

	codes := c.Codes()
	assert.Contains(t, codes, "cs.CL")
	assert.Contains(t, codes, "stat")
	assert.Len(t, c.Groups(), 6)
}

func TestValidate(t *testing.T) {
	c := Default()

	require.NoError(t, c.Validate([]string{"cs.AI", "stat.ML"}))

	err := c.Validate([]string{"cs.AI", "cooking"})
	require.ErrorIs(t, err, ErrUnknownCategory)
	assert.Contains(t, err.Error(), "cooking")
}

func TestParseErrors(t *testing.T) {
	_, err := Parse([]byte("groups: ["))
	assert.Error(t, err)

	_, err = Parse([]byte("groups: []"))
	assert.Error(t, err)
}
