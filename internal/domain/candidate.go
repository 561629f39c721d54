package domain

import "time"

// Candidate is a recipient row returned by a cohort query.
type Candidate struct {
	UUID      string
	FirstName string
	LastName  string
	Email     string
	Timezone  string
	City      string
	Country   string
	BirthDate *time.Time
}

// FullName is the first name, followed by the last name when present.
func (c Candidate) FullName() string {
	if c.LastName == "" {
		return c.FirstName
	}
	return c.FirstName + " " + c.LastName
}
