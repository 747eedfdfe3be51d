package git

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsCommitSHA(t *testing.T) {
	assert.True(t, IsCommitSHA("0123456789abcdef0123456789abcdef01234567"))
	assert.True(t, IsCommitSHA("0123456789ABCDEF0123456789ABCDEF01234567"), "case-insensitive")
	assert.False(t, IsCommitSHA("main"))
	assert.False(t, IsCommitSHA("0123456"), "abbreviated ids are not pinned ids")
	assert.False(t, IsCommitSHA("0123456789abcdef0123456789abcdef0123456z"))
}

func TestValidateRef(t *testing.T) {
	valid := []string{"main", "v1.2.3", "feature/login", "release-2024"}
	for _, ref := range valid {
		assert.NoError(t, ValidateRef(ref), ref)
	}

	invalid := []string{
		"",
		" padded ",
		"a..b",
		".hidden",
		"-flag-injection",
		"ends.lock",
		"has space",
		"has~tilde",
		"has:colon",
		"has?question",
		"has*glob",
		"has[bracket",
		"has\\backslash",
		"a@{b}",
		"@",
	}
	for _, ref := range invalid {
		assert.Error(t, ValidateRef(ref), "%q should be rejected", ref)
	}
}
