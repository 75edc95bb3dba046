package email

import (
	"fmt"
	"strings"
)

const defaultUserName = "there"

// mdEscaper neutralises markdown syntax in values interpolated into templates
var mdEscaper = strings.NewReplacer(
	`\`, `\\`, "*", `\*`, "_", `\_`, "[", `\[`, "]", `\]`,
	"<", "&lt;", ">", "&gt;", "`", "\\`", "#", `\#`,
)

func displayName(userName string) string {
	name := strings.TrimSpace(userName)
	if name == "" {
		return defaultUserName
	}
	return mdEscaper.Replace(name)
}

func passwordResetMarkdown(product, resetLink, userName string) (subject, body string) {
	subject = "Password reset - " + product
	body = fmt.Sprintf(`## Password reset

Hi %s,

We received a request to reset your %s password. Follow the link below to choose a new one:

[Reset password](%s)

Or copy this address into your browser:

%s

If you did not ask for a password reset, ignore this email and your password stays unchanged.
`, displayName(userName), product, resetLink, resetLink)
	return subject, body
}

func welcomeMarkdown(product, userName string) (subject, body string) {
	subject = "Welcome to " + product + "!"
	body = fmt.Sprintf(`# Welcome, %s!

We are glad to have you on %s. You can now:

- create and manage your trips
- track itineraries
- share them with friends

Reach out any time if you have questions.

The %s team
`, displayName(userName), product, product)
	return subject, body
}
