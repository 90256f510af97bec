package models

import "time"

// Administration is a client's personal schedule for one medication. The
// medication is referenced by its local UUID; MedicationName is denormalized
// for offline rendering. LastTakenAt and NextDueAt are computed on the device
// and never uploaded.
type Administration struct {
	Base

	ClientID       int64      `json:"clientId"`
	MedicationUUID string     `json:"medicationUuid"`
	MedicationName string     `json:"medicationName"`
	TimeOfDay      string     `json:"timeOfDay"`
	Dosage         string     `json:"dosage"`
	Frequency      string     `json:"frequency"`
	Active         bool       `json:"active"`
	LastTakenAt    *time.Time `json:"lastTakenAt"`
	NextDueAt      *time.Time `json:"nextDueAt"`
}

// AdministrationInput carries caller-supplied fields for create/update.
type AdministrationInput struct {
	ClientID       int64  `validate:"required,gt=0"`
	MedicationUUID string `validate:"required,uuid4"`
	TimeOfDay      string `validate:"required"`
	Dosage         string `validate:"required,max=100"`
	Frequency      string `validate:"required,max=100"`
	Active         bool
}
