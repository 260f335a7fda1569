package utils

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateDisplayName(t *testing.T) {
	human := regexp.MustCompile(`^[A-Z][a-z]+_[A-Z][a-z]+_\d{4}$`)
	bot := regexp.MustCompile(`^[a-z]+-[a-z]+-bot-\d{4}$`)

	for i := 0; i < 50; i++ {
		name, err := GenerateDisplayName(false)
		require.NoError(t, err)
		assert.Regexp(t, human, name)

		name, err = GenerateDisplayName(true)
		require.NoError(t, err)
		assert.Regexp(t, bot, name)
	}
}
