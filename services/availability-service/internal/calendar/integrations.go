package calendar

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/oauth2"

	"github.com/tidyslot/tidyslot/libs/db"
)

const (
	IntegrationActive         = "active"
	IntegrationReauthRequired = "reauth_required"
)

// Integration is a linked external calendar and its stored credentials.
type Integration struct {
	ID         string
	OwnerID    string
	Provider   string
	CalendarID string
	Status     string
	Token      *oauth2.Token
}

type IntegrationStore interface {
	ListForOwner(ctx context.Context, ownerID, provider string) ([]Integration, error)
	SaveToken(ctx context.Context, integrationID string, tok *oauth2.Token) error
	MarkReauthRequired(ctx context.Context, integrationID string) error
}

type IntegrationRepository struct {
	conn db.Conn
}

func NewIntegrationRepository(conn db.Conn) *IntegrationRepository {
	return &IntegrationRepository{conn: conn}
}

func (r *IntegrationRepository) ListForOwner(ctx context.Context, ownerID, provider string) ([]Integration, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT id::text, owner_id::text, provider, calendar_id, status, access_token, refresh_token, token_expiry
		FROM calendar_integrations
		WHERE owner_id = $1 AND provider = $2
		ORDER BY calendar_id
	`, ownerID, provider)
	if err != nil {
		return nil, fmt.Errorf("list integrations: %w", err)
	}
	defer rows.Close()

	var out []Integration
	for rows.Next() {
		var (
			in      Integration
			access  string
			refresh string
			expiry  *time.Time
		)
		if err := rows.Scan(&in.ID, &in.OwnerID, &in.Provider, &in.CalendarID, &in.Status, &access, &refresh, &expiry); err != nil {
			return nil, err
		}
		in.Token = &oauth2.Token{AccessToken: access, RefreshToken: refresh, TokenType: "Bearer"}
		if expiry != nil {
			in.Token.Expiry = *expiry
		}
		out = append(out, in)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func (r *IntegrationRepository) SaveToken(ctx context.Context, integrationID string, tok *oauth2.Token) error {
	var expiry *time.Time
	if !tok.Expiry.IsZero() {
		e := tok.Expiry.UTC()
		expiry = &e
	}
	_, err := r.conn.Exec(ctx, `
		UPDATE calendar_integrations
		SET access_token = $2,
			refresh_token = CASE WHEN $3 = '' THEN refresh_token ELSE $3 END,
			token_expiry = $4,
			status = 'active',
			updated_at = now()
		WHERE id = $1
	`, integrationID, tok.AccessToken, tok.RefreshToken, expiry)
	return err
}

func (r *IntegrationRepository) MarkReauthRequired(ctx context.Context, integrationID string) error {
	_, err := r.conn.Exec(ctx, `
		UPDATE calendar_integrations
		SET status = 'reauth_required', updated_at = now()
		WHERE id = $1
	`, integrationID)
	return err
}
