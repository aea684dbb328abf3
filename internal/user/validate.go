package user

import (
	"net/mail"
	"strings"
	"unicode/utf8"

	"github.com/ovaphlow/pitchfork/service-user-admin/internal/user/entity"
)

const minNameLength = 2

// ValidateInput checks in and returns its normalized form: name trimmed,
// email trimmed and lower-cased, status defaulted to active. The stored
// record carries the normalized values, so the email a caller reads back
// may differ in case from the one it sent; uniqueness is case-insensitive.
func ValidateInput(in entity.Input) (entity.Input, error) {
	out := entity.Input{
		Name:   strings.TrimSpace(in.Name),
		Email:  strings.ToLower(strings.TrimSpace(in.Email)),
		Status: entity.Status(strings.TrimSpace(string(in.Status))),
	}
	if utf8.RuneCountInString(out.Name) < minNameLength {
		return entity.Input{}, &ValidationError{Field: "name", Message: "name must be at least 2 characters"}
	}
	if !validEmail(out.Email) {
		return entity.Input{}, &ValidationError{Field: "email", Message: "invalid email"}
	}
	if out.Status == "" {
		out.Status = entity.StatusActive
	}
	if !out.Status.Valid() {
		return entity.Input{}, &ValidationError{Field: "status", Message: "status must be active or inactive"}
	}
	return out, nil
}

// validEmail accepts a bare addr-spec with a dotted domain; display names
// ("Ana <ana@x.io>") are rejected.
func validEmail(s string) bool {
	if s == "" {
		return false
	}
	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Address != s || addr.Name != "" {
		return false
	}
	at := strings.LastIndexByte(s, '@')
	domain := s[at+1:]
	return strings.Contains(domain, ".") && !strings.HasPrefix(domain, ".") && !strings.HasSuffix(domain, ".")
}
