// Package messages holds the long-form markdown bodies surfaced through the
// detail view of status notifications.
package messages

import "fmt"

// ForksCannotBeUpdated explains why a fork cannot be brought up to date
// automatically.
const ForksCannotBeUpdated = `GitHub does not expose an API for updating the branch of a pull request opened from a fork.

To merge this pull request, update the branch manually by merging the base branch into your fork's branch:

` + "```" + `
git fetch upstream
git merge upstream/main
git push
` + "```" + `

Alternatively, open the pull request from a branch in this repository instead of a fork.`

// FormatInvalidConfig renders help for an invalid policy file, including the
// raw file contents and the error raised while parsing it.
func FormatInvalidConfig(configText, fileExpression string, err error) string {
	problem := "the configuration file could not be parsed"
	if err != nil {
		problem = err.Error()
	}
	return fmt.Sprintf(`You have an invalid configuration file. Merging is disabled until it is fixed.

**problem:**

`+"```"+`
%s
`+"```"+`

**configuration file** (%s):

`+"```toml"+`
%s
`+"```"+`
`, problem, fileExpression, configText)
}
