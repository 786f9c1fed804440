package moderation

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const replacementChar = '*'

// The dictionary avoids short words that collide inside others ("he" in "The")
func TestModerator_Censor(t *testing.T) {
	mod, err := NewModerator([]string{"badger", "snake", "mushroom"}, replacementChar)
	require.NoError(t, err)

	tests := []struct {
		name     string
		input    string
		expected string
		words    []string
	}{
		{
			name:     "Simple word and space preservation",
			input:    "The badger is here",
			expected: "The ****** is here",
			words:    []string{"badger"},
		},
		{
			name:     "Multiple occurrences",
			input:    "badger badger badger",
			expected: "****** ****** ******",
			words:    []string{"badger", "badger", "badger"},
		},
		{
			name:     "Leet speak and internal punctuation",
			input:    "Look at B.4.d.g.€r !",
			expected: "Look at ********** !",
			words:    []string{"badger"},
		},
		{
			name:     "Uppercase and noise",
			input:    "S-N-A-K-E is a B.A.D.G.E.R",
			expected: "********* is a ***********",
			words:    []string{"snake", "badger"},
		},
		{
			name:     "Accents are kept",
			input:    "Un été avec un badger",
			expected: "Un été avec un ******",
			words:    []string{"badger"},
		},
		{
			name:     "Nothing to censor",
			input:    "Chatter is amazing",
			expected: "Chatter is amazing",
		},
		{
			name:     "Empty string",
			input:    "",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := require.New(t)
			content, words := mod.Censor(tt.input)
			req.Equal(tt.expected, content)
			req.Equal(tt.words, words)
		})
	}
}

func TestModerator_Ignores_Noise_Only_Words(t *testing.T) {
	req := require.New(t)

	// Given words that fold to nothing
	mod, err := NewModerator([]string{"...", ",,,", "", "badger"}, replacementChar)
	req.NoError(err)

	// Then only real words are censored
	content, words := mod.Censor("The badger is safe")
	req.Equal("The ****** is safe", content)
	req.Equal([]string{"badger"}, words)

	content, words = mod.Censor("Hello ...")
	req.Equal("Hello ...", content)
	req.Nil(words)
}

func TestModerator_Empty_Dictionary(t *testing.T) {
	req := require.New(t)
	mod, err := NewModerator(nil, replacementChar)
	req.NoError(err)

	content, words := mod.Censor("badger")

	req.Equal("badger", content)
	req.Nil(words)
}
