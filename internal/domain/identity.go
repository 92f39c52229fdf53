package domain

import (
	apperrors "github.com/utafrali/storefront/pkg/errors"
)

// Identity names the owner of a cart, checkout or order. Exactly one of
// UserID and GuestID is set.
type Identity struct {
	UserID  string `json:"user_id,omitempty"`
	GuestID string `json:"guest_id,omitempty"`
}

// Validate rejects identities with neither or both IDs set.
func (i Identity) Validate() error {
	switch {
	case i.UserID == "" && i.GuestID == "":
		return apperrors.InvalidInput("either user id or guest id is required")
	case i.UserID != "" && i.GuestID != "":
		return apperrors.InvalidInput("user id and guest id are mutually exclusive")
	}
	return nil
}

// IsGuest reports whether the identity is an anonymous guest.
func (i Identity) IsGuest() bool {
	return i.UserID == ""
}

// String returns a log-friendly form such as "user:42" or "guest:abc".
func (i Identity) String() string {
	if i.IsGuest() {
		return "guest:" + i.GuestID
	}
	return "user:" + i.UserID
}
