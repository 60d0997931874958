// Package model defines domain entities for the application.
package model

import "time"

// User is the local record of an identity-provider account.
// ID is the provider-issued id and never changes.
type User struct {
	ID                   string    `json:"id"`
	PrimaryEmail         string    `json:"primary_email"`
	DisplayName          string    `json:"display_name"`
	PrimaryEmailVerified bool      `json:"primary_email_verified"`
	ProfileImageURL      string    `json:"profile_image_url"`
	SignedUpAt           time.Time `json:"signed_up_at"`
}
