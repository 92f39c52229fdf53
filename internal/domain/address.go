package domain

import "strings"

// Address is a postal address. Checkout sessions and orders hold copies, never
// references, so later edits to a saved address do not leak into them.
type Address struct {
	FullName   string `json:"full_name" validate:"required"`
	Line1      string `json:"line1" validate:"required"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city" validate:"required"`
	State      string `json:"state" validate:"required"`
	PostalCode string `json:"postal_code" validate:"required"`
	Country    string `json:"country" validate:"required,len=2"`
	Phone      string `json:"phone,omitempty"`
}

// StateCode returns the upper-cased state for restriction and tax lookups.
func (a *Address) StateCode() string {
	if a == nil {
		return ""
	}
	return strings.ToUpper(strings.TrimSpace(a.State))
}

// AddressInput is either a reference to a saved address or an inline address.
// An inline address wins when both are given.
type AddressInput struct {
	SavedAddressID string   `json:"saved_address_id,omitempty" validate:"omitempty,uuid"`
	Address        *Address `json:"address,omitempty"`
}

// IsZero reports whether neither source is set.
func (in *AddressInput) IsZero() bool {
	return in == nil || (in.SavedAddressID == "" && in.Address == nil)
}

// SavedAddress is an address stored in a user's address book.
type SavedAddress struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`
	Address
}
