package models

import "time"

// Patient is the owner of a set of reminders. Identity comes from the chat
// platform; a row is created on first contact.
type Patient struct {
	PatientID int64     `json:"patient_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}
