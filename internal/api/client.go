// Package api talks to the backend REST API. The Client interface is the
// whole remote surface consumed by the sync engine; the HTTP implementation
// lives in this package, and tests substitute fakes.
package api

import (
	"context"

	"github.com/mpoliveira/medtrack/internal/models"
)

// Session carries the credentials returned by login/refresh.
type Session struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	UserID       int64  `json:"userId"`
	Role         string `json:"role"`
}

// TokenSource supplies the bearer credential attached to every non-public
// request. Implementations may refresh behind the scenes.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Client is the remote collaborator. Errors are mapped to the sentinel
// values in internal/common: ErrUnauthorized, ErrNotFound,
// ErrValidationRejected, ErrNetworkUnavailable.
type Client interface {
	Ping(ctx context.Context) error
	Login(ctx context.Context, email, password string) (*Session, error)
	Refresh(ctx context.Context, refreshToken string) (*Session, error)

	CreateMedication(ctx context.Context, req models.MedicationRequest) (*models.RemoteMedication, error)
	UpdateMedication(ctx context.Context, serverID int64, req models.MedicationRequest) error
	DeleteMedication(ctx context.Context, serverID int64) error
	ListMedications(ctx context.Context) ([]models.RemoteMedication, error)

	CreateAdministration(ctx context.Context, req models.AdministrationRequest) (*models.RemoteAdministration, error)
	UpdateAdministration(ctx context.Context, serverID int64, req models.AdministrationRequest) error
	DeleteAdministration(ctx context.Context, serverID int64) error
	ListAdministrations(ctx context.Context) ([]models.RemoteAdministration, error)

	CreateTip(ctx context.Context, req models.TipRequest) (*models.RemoteTip, error)
	UpdateTip(ctx context.Context, serverID int64, req models.TipRequest) error
	DeleteTip(ctx context.Context, serverID int64) error
	ListTips(ctx context.Context) ([]models.RemoteTip, error)

	CreateFAQ(ctx context.Context, req models.FAQRequest) (*models.RemoteFAQ, error)
	UpdateFAQ(ctx context.Context, serverID int64, req models.FAQRequest) error
	DeleteFAQ(ctx context.Context, serverID int64) error
	ListFAQs(ctx context.Context) ([]models.RemoteFAQ, error)

	// Interactions are addressed by their ordered composite key instead of
	// a single numeric id.
	CreateInteraction(ctx context.Context, req models.InteractionRequest) (*models.RemoteInteraction, error)
	UpdateInteraction(ctx context.Context, key models.InteractionKey, req models.InteractionRequest) error
	DeleteInteraction(ctx context.Context, key models.InteractionKey) error
	ListInteractions(ctx context.Context) ([]models.RemoteInteraction, error)
}
