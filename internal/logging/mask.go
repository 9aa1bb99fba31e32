// Copyright (c) 2025 FGP
// Licensed under the MIT License. See LICENSE file in the project root for details.

package logging

import (
	"net/url"
	"regexp"
	"strings"
)

var (
	// user:password@ credentials inside a connection URL.
	dsnCredentials = regexp.MustCompile(`(postgres(?:ql)?://)[^@/\s]+@`)

	// key=value style secrets in free-form text.
	secretParams = regexp.MustCompile(`(?i)\b(password|passwd|token|apikey|secret)=\S+`)
)

// Mask removes credentials from a string before it is logged. Both
// URL-embedded credentials and key=value secrets are replaced.
func Mask(s string) string {
	s = dsnCredentials.ReplaceAllString(s, "${1}*:*@")
	s = secretParams.ReplaceAllString(s, "${1}=***")
	return s
}

// MaskPassword hides only the password of a DSN, keeping the username
// visible, which is what the connections listing shows to the user.
// The masked string is rebuilt from the original text; re-encoding it
// through url.URL would percent-escape the mask itself.
func MaskPassword(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.User == nil {
		return maskPasswordRaw(dsn)
	}
	if _, has := u.User.Password(); !has {
		return dsn
	}

	sep := strings.Index(dsn, "://")
	if sep == -1 {
		return maskPasswordRaw(dsn)
	}
	rest := dsn[sep+len("://"):]

	// The parser accepted the userinfo, so everything before the last @
	// is user:password.
	at := strings.LastIndex(rest, "@")
	userinfo := rest[:at]
	user := userinfo
	if colon := strings.Index(userinfo, ":"); colon != -1 {
		user = userinfo[:colon]
	}
	return dsn[:sep+len("://")] + user + ":***@" + rest[at+1:]
}

// maskPasswordRaw handles DSNs whose unescaped passwords defeat URL
// parsing.
func maskPasswordRaw(dsn string) string {
	at := strings.Index(dsn, "@")
	if at == -1 {
		return dsn
	}
	head := dsn[:at]

	// Skip the scheme separator when looking for user:password.
	start := 0
	if i := strings.Index(head, "://"); i != -1 {
		start = i + len("://")
	}
	colon := strings.Index(head[start:], ":")
	if colon == -1 {
		return dsn
	}
	return head[:start+colon] + ":***" + dsn[at:]
}
