package document

import (
	"crypto/md5"
	"encoding/hex"
	"strings"
)

const gravatarBase = "https://www.gravatar.com/avatar/"

// Gravatar returns the avatar URL for an email address.
func Gravatar(email string) string {
	sum := md5.Sum([]byte(strings.ToLower(strings.TrimSpace(email))))
	return gravatarBase + hex.EncodeToString(sum[:]) + "?d=identicon"
}

// WithAvatar fills in the avatar from the email when it is missing.
func (a Author) WithAvatar() Author {
	if a.Avatar == "" && a.Email != "" {
		a.Avatar = Gravatar(a.Email)
	}
	return a
}

func (a Author) String() string {
	if a.Email == "" {
		return a.Name
	}
	return a.Name + " <" + a.Email + ">"
}
