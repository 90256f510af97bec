package models

import "time"

// Remote request/response shapes. Field tags follow the backend's wire
// naming, which differs from the local model; the conversion happens in the
// entity services. Responses are validated before merge, so a malformed
// collection element is rejected instead of materializing a broken record.

// RemoteMedication is one element of GET /medicamentos and the response body
// of POST /medicamentos.
type RemoteMedication struct {
	ID             int64     `json:"idmedicamento" validate:"required,gt=0"`
	Name           string    `json:"nome" validate:"required"`
	Description    string    `json:"descricao"`
	Class          string    `json:"classe"`
	PrescriberID   *int64    `json:"idprescritor"`
	PrescriberName string    `json:"nomeprescritor"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt" validate:"required"`
}

// MedicationRequest is the body of POST/PUT /medicamentos.
type MedicationRequest struct {
	Name           string `json:"nome"`
	Description    string `json:"descricao"`
	Class          string `json:"classe"`
	PrescriberID   *int64 `json:"idprescritor,omitempty"`
	PrescriberName string `json:"nomeprescritor,omitempty"`
}

// RemoteAdministration is one element of GET /ministra. The medication is
// referenced by its backend id; the service resolves it to a local UUID
// before merging.
type RemoteAdministration struct {
	ID           int64     `json:"idministra" validate:"required,gt=0"`
	ClientID     int64     `json:"idcliente" validate:"required,gt=0"`
	MedicationID int64     `json:"idmedicamento" validate:"required,gt=0"`
	TimeOfDay    string    `json:"horario" validate:"required"`
	Dosage       string    `json:"dosagem" validate:"required"`
	Frequency    string    `json:"frequencia"`
	Active       bool      `json:"ativo"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt" validate:"required"`
}

// AdministrationRequest is the body of POST/PUT /ministra.
type AdministrationRequest struct {
	ClientID     int64  `json:"idcliente"`
	MedicationID int64  `json:"idmedicamento"`
	TimeOfDay    string `json:"horario"`
	Dosage       string `json:"dosagem"`
	Frequency    string `json:"frequencia"`
	Active       bool   `json:"ativo"`
}

// RemoteTip is one element of GET /dicas.
type RemoteTip struct {
	ID         int64     `json:"iddica" validate:"required,gt=0"`
	Text       string    `json:"texto" validate:"required"`
	AuthorID   int64     `json:"idautor"`
	AuthorName string    `json:"nomeautor"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt" validate:"required"`
}

// TipRequest is the body of POST/PUT /dicas.
type TipRequest struct {
	Text       string `json:"texto"`
	AuthorID   int64  `json:"idautor"`
	AuthorName string `json:"nomeautor,omitempty"`
}

// RemoteFAQ is one element of GET /faqs.
type RemoteFAQ struct {
	ID         int64     `json:"idfaq" validate:"required,gt=0"`
	Question   string    `json:"pergunta" validate:"required"`
	Answer     string    `json:"resposta" validate:"required"`
	AuthorID   int64     `json:"idautor"`
	AuthorName string    `json:"nomeautor"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt" validate:"required"`
}

// FAQRequest is the body of POST/PUT /faqs.
type FAQRequest struct {
	Question   string `json:"pergunta"`
	Answer     string `json:"resposta"`
	AuthorID   int64  `json:"idautor"`
	AuthorName string `json:"nomeautor,omitempty"`
}

// RemoteInteraction is one element of GET /interacoes. Its identity is the
// ordered id pair rather than a single numeric id.
type RemoteInteraction struct {
	MedAID      int64     `json:"idmedicamento1" validate:"required,gt=0"`
	MedBID      int64     `json:"idmedicamento2" validate:"required,gt=0"`
	Description string    `json:"descricao" validate:"required"`
	Severity    Severity  `json:"severidade" validate:"required,oneof=LOW MEDIUM HIGH"`
	Source      string    `json:"fonte"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt" validate:"required"`
}

// Key returns the normalized composite key of the element.
func (r RemoteInteraction) Key() InteractionKey {
	return InteractionKey{MedAID: r.MedAID, MedBID: r.MedBID}.Normalize()
}

// InteractionRequest is the body of POST/PUT /interacoes.
type InteractionRequest struct {
	MedAID      int64    `json:"idmedicamento1"`
	MedBID      int64    `json:"idmedicamento2"`
	Description string   `json:"descricao"`
	Severity    Severity `json:"severidade"`
	Source      string   `json:"fonte,omitempty"`
}
