// Package expiry derives human-readable remaining time and an expiry
// signal from a payment order's fixed expiresAt timestamp.
package expiry

import (
	"fmt"
	"time"
)

// Remaining describes how much of a payment window is left.
type Remaining struct {
	Expired bool
	Label   string
}

// Compute returns the remaining-time label for a fixed expiry timestamp.
// Pure function: same inputs, same output, no clock access.
//
// At or past expiresAt the label is "Expired". With an hour or more left
// the label is "<H>h <M>m", otherwise "<M> minutes".
func Compute(now, expiresAt time.Time) Remaining {
	if !now.Before(expiresAt) {
		return Remaining{Expired: true, Label: "Expired"}
	}

	left := expiresAt.Sub(now)
	hours := int(left / time.Hour)
	minutes := int(left%time.Hour) / int(time.Minute)

	if hours >= 1 {
		return Remaining{Label: fmt.Sprintf("%dh %dm", hours, minutes)}
	}
	return Remaining{Label: fmt.Sprintf("%d minutes", minutes)}
}
