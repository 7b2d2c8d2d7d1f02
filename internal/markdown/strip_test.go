package markdown_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"shipit.dev/shipit/internal/markdown"
)

func TestStripHTMLComments(t *testing.T) {
	t.Run("returns text without comments unchanged", func(t *testing.T) {
		message := "Some **markdown** text\n\nwith a [link](https://example.com) and a list:\n\n- one\n- two\n"
		require.Equal(t, message, markdown.StripHTMLComments(message))
	})

	t.Run("removes an inline comment", func(t *testing.T) {
		require.Equal(t, "Hello  world", markdown.StripHTMLComments("Hello <!-- secret --> world"))
	})

	t.Run("removes multiple inline comments", func(t *testing.T) {
		require.Equal(t, "a  b  c", markdown.StripHTMLComments("a <!--x--> b <!--y--> c"))
	})

	t.Run("keeps non-comment HTML", func(t *testing.T) {
		message := "Hello <span>world</span>"
		require.Equal(t, message, markdown.StripHTMLComments(message))
	})

	t.Run("removes a multi-line comment block", func(t *testing.T) {
		message := "before\n\n<!-- release notes:\nnone -->\n\nafter\n"
		got := markdown.StripHTMLComments(message)
		require.NotContains(t, got, "<!--")
		require.NotContains(t, got, "release notes")
		require.Contains(t, got, "before")
		require.Contains(t, got, "after")
	})

	t.Run("preserves bytes outside comment spans", func(t *testing.T) {
		prefix := "start "
		suffix := " end"
		got := markdown.StripHTMLComments(prefix + "<!-- gone -->" + suffix)
		require.True(t, strings.HasPrefix(got, prefix))
		require.True(t, strings.HasSuffix(got, suffix))
	})

	t.Run("is idempotent", func(t *testing.T) {
		messages := []string{
			"Hello <!-- secret --> world",
			"no comments here",
			"a <!--x--> b <!--y--> c\n\n<!-- block -->\n",
		}
		for _, message := range messages {
			once := markdown.StripHTMLComments(message)
			require.Equal(t, once, markdown.StripHTMLComments(once))
		}
	})

	t.Run("strips carriage returns before analysis", func(t *testing.T) {
		withCR := "Hello <!-- a -->\r\nworld\r\n"
		withoutCR := strings.ReplaceAll(withCR, "\r", "")
		require.Equal(t, markdown.StripHTMLComments(withoutCR), markdown.StripHTMLComments(withCR))
		require.NotContains(t, markdown.StripHTMLComments(withCR), "\r")
	})

	t.Run("handles empty input", func(t *testing.T) {
		require.Equal(t, "", markdown.StripHTMLComments(""))
	})
}
