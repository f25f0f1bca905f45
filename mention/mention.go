// Package mention turns user references into text that can be inserted in a
// message being composed.
package mention

import (
	"strings"
	"unicode"

	"roomsync/contract"
)

// ResolveMention returns the name to display for userID: its full name when
// the directory has one, then its handle, then the local part of its email.
// An unknown user resolves to its raw id.
func ResolveMention(userID string, directory contract.UserDirectory) string {
	user, ok := directory.Lookup(userID)
	if !ok {
		return userID
	}
	full := strings.TrimSpace(strings.Join([]string{
		strings.TrimSpace(user.FirstName),
		strings.TrimSpace(user.LastName),
	}, " "))
	switch {
	case full != "":
		return full
	case strings.TrimSpace(user.Handle) != "":
		return strings.TrimSpace(user.Handle)
	case user.Email != "":
		local, _, _ := strings.Cut(user.Email, "@")
		if local != "" {
			return local
		}
	}
	return userID
}

// InsertMention appends "@name " at the end of currentText, which is where the
// cursor sits. Text already ending with that mention is returned unchanged.
func InsertMention(currentText, name string) string {
	token := "@" + name
	if name == "" || strings.HasSuffix(currentText, token) || strings.HasSuffix(currentText, token+" ") {
		return currentText
	}
	if currentText != "" && !endsWithSpace(currentText) {
		currentText += " "
	}
	return currentText + token + " "
}

func endsWithSpace(s string) bool {
	r := []rune(s)
	return unicode.IsSpace(r[len(r)-1])
}
