// Package etc holds small helpers shared by the other packages.
package etc

import "github.com/google/uuid"

// NewFreshID returns a random identifier for correlating log lines.
func NewFreshID() string {
	return uuid.NewString()
}
