package models

import "time"

// Severity grades a drug interaction.
type Severity string

const (
	SeverityLow    Severity = "LOW"
	SeverityMedium Severity = "MEDIUM"
	SeverityHigh   Severity = "HIGH"
)

// InteractionKey is the backend's composite identity for an interaction.
// The pair is conceptually unordered; the backend stores it with MedAID <
// MedBID, which Normalize enforces.
type InteractionKey struct {
	MedAID int64 `json:"medAId"`
	MedBID int64 `json:"medBId"`
}

// Normalize returns the key with its ids in ascending order.
func (k InteractionKey) Normalize() InteractionKey {
	if k.MedAID > k.MedBID {
		return InteractionKey{MedAID: k.MedBID, MedBID: k.MedAID}
	}
	return k
}

// Interaction describes a clinically relevant combination of two medications.
// The medications are referenced by local UUID; names are denormalized for
// offline rendering. Unlike the other entities its remote identity is the
// composite key, so ServerKey plays the role ServerID plays elsewhere.
type Interaction struct {
	Base

	ServerKey       *InteractionKey `json:"serverKey"`
	MedicationAUUID string          `json:"medicationAUuid"`
	MedicationBUUID string          `json:"medicationBUuid"`
	MedicationAName string          `json:"medicationAName"`
	MedicationBName string          `json:"medicationBName"`
	Description     string          `json:"description"`
	Severity        Severity        `json:"severity"`
	Source          string          `json:"source"`
}

// EverSynced reports whether the interaction has a remote counterpart.
func (i *Interaction) EverSynced() bool {
	return i.ServerKey != nil
}

// MarkSyncedKey records a completed round-trip using the composite key.
func (i *Interaction) MarkSyncedKey(key InteractionKey, serverUpdatedAt time.Time, now time.Time) {
	now = now.UTC()
	serverUpdatedAt = serverUpdatedAt.UTC()
	k := key.Normalize()
	i.ServerKey = &k
	i.SyncStatus = StatusSynced
	i.SyncedAt = &now
	i.ServerUpdatedAt = &serverUpdatedAt
}

// InteractionInput carries caller-supplied fields for create/update.
type InteractionInput struct {
	MedicationAUUID string   `validate:"required,uuid4"`
	MedicationBUUID string   `validate:"required,uuid4,nefield=MedicationAUUID"`
	Description     string   `validate:"required,max=2000"`
	Severity        Severity `validate:"required,oneof=LOW MEDIUM HIGH"`
	Source          string   `validate:"max=500"`
}
