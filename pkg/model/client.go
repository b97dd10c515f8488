// Package model defines the core domain types for LinguaMeet.
package model

import (
	"errors"
	"fmt"
	"strings"
)

const MaxEmailLength = 254

var ErrEmailEmpty = errors.New("email must not be empty")
var ErrEmailTooLong = fmt.Errorf("email must not exceed %d characters", MaxEmailLength)
var ErrEmailInvalid = errors.New("email must contain a single @ with a non-empty local part and domain")

// ClientID is the opaque per-connection identifier assigned at connect time.
// It is never reused while any reference to it is live and carries no meaning
// beyond equality comparison.
type ClientID string

// Profile holds the mutable, client-announced identity of a connection.
// All fields are optional until set; the first user_info update typically
// sets Email and Role together.
type Profile struct {
	Email    string `json:"email"`
	Role     Role   `json:"role"`
	Name     string `json:"name,omitempty"`
	Age      int    `json:"age,omitempty"`
	Bio      string `json:"bio,omitempty"`
	Image    string `json:"image,omitempty"`
	Location string `json:"location,omitempty"`
}

// Complete reports whether the profile qualifies for the presence snapshot:
// email and role both set.
func (p Profile) Complete() bool {
	return p.Email != "" && p.Role.Valid()
}

// ValidateEmail performs the structural check applied to announced emails.
// Identity claims are not authenticated; this only rejects garbage that
// would corrupt call records.
func ValidateEmail(email string) error {
	if email == "" {
		return ErrEmailEmpty
	}
	if len(email) > MaxEmailLength {
		return ErrEmailTooLong
	}
	at := strings.Count(email, "@")
	if at != 1 {
		return ErrEmailInvalid
	}
	i := strings.IndexByte(email, '@')
	if i == 0 || i == len(email)-1 {
		return ErrEmailInvalid
	}
	return nil
}
