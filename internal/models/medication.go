package models

// Medication is a drug registered by a pharmacist and shared with clients.
// PrescriberName is denormalized so the record renders offline without joins.
type Medication struct {
	Base

	Name           string `json:"name"`
	Description    string `json:"description"`
	Class          string `json:"class"`
	PrescriberID   *int64 `json:"prescriberId"`
	PrescriberName string `json:"prescriberName"`
}

// MedicationInput carries caller-supplied fields for create/update.
type MedicationInput struct {
	Name           string `validate:"required,min=1,max=200"`
	Description    string `validate:"max=2000"`
	Class          string `validate:"max=100"`
	PrescriberID   *int64 `validate:"omitempty,gt=0"`
	PrescriberName string `validate:"max=200"`
}
