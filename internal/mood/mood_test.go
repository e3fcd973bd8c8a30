package mood

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
		want Label
	}{
		{name: "exact label", raw: "happy", want: Happy},
		{name: "uppercase", raw: "DEPRESSED", want: Depressed},
		{name: "surrounding whitespace", raw: "  neutral\n", want: Neutral},
		{name: "mixed case with spaces", raw: " Abusive ", want: Abusive},
		{name: "out of set", raw: "ecstatic", want: Default},
		{name: "empty", raw: "", want: Default},
		{name: "sentence instead of label", raw: "the user seems happy", want: Default},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Normalize(tt.raw))
		})
	}
}

func TestLabelValid(t *testing.T) {
	t.Parallel()

	for _, l := range []Label{Default, Depressed, Happy, Neutral, Unknown, Abusive, Inappropriate, Sensitive} {
		assert.True(t, l.Valid(), "label %q should be valid", l)
	}
	assert.False(t, Label("angry").Valid())
	assert.False(t, Label("").Valid())
}

func TestLabelProfile(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "happy", Happy.Profile().VoiceStyle)
	assert.Equal(t, "friendly", Depressed.Profile().VoiceStyle)
	assert.Equal(t, "chat", Neutral.Profile().VoiceStyle)

	// Every label carries a non-empty tone directive.
	for l := range profiles {
		p := l.Profile()
		assert.NotEmpty(t, p.Tone)
		assert.NotEmpty(t, p.VoiceStyle)
	}

	// Unknown labels fall back to the default profile.
	assert.Equal(t, Default.Profile(), Label("nonsense").Profile())
}
