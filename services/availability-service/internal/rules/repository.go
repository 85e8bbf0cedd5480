package rules

import (
	"context"
	"fmt"
	"time"

	"github.com/tidyslot/tidyslot/libs/db"
	"github.com/tidyslot/tidyslot/services/availability-service/internal/model"
	"github.com/tidyslot/tidyslot/services/availability-service/internal/tz"
)

// Repository stores weekly availability rules. A service-specific set, when
// present, replaces the owner's default set entirely.
type Repository struct {
	conn db.Conn
}

func NewRepository(conn db.Conn) *Repository {
	return &Repository{conn: conn}
}

const selectRules = `
	SELECT id::text, owner_id::text, scope_service_id::text, day_of_week, start_minute, end_minute, rule_timezone
	FROM availability_rules
`

// RulesFor resolves the rule set for a service: the service-specific set if
// non-empty, otherwise the owner's default set. serviceID may be empty to ask
// for the default set directly.
func (r *Repository) RulesFor(ctx context.Context, ownerID, serviceID string) ([]model.AvailabilityRule, error) {
	if serviceID != "" {
		scoped, err := r.query(ctx, selectRules+`
			WHERE owner_id = $1 AND scope_service_id = $2
			ORDER BY day_of_week, start_minute
		`, ownerID, serviceID)
		if err != nil {
			return nil, fmt.Errorf("load service rules: %w", err)
		}
		if len(scoped) > 0 {
			return scoped, nil
		}
	}
	defaults, err := r.query(ctx, selectRules+`
		WHERE owner_id = $1 AND scope_service_id IS NULL
		ORDER BY day_of_week, start_minute
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("load default rules: %w", err)
	}
	return defaults, nil
}

// Replace swaps the rule set for (ownerID, serviceID) in one transaction. A
// nil serviceID targets the default set. An empty rules slice clears the set.
func (r *Repository) Replace(ctx context.Context, ownerID string, serviceID *string, rules []model.AvailabilityRule) error {
	for _, rule := range rules {
		if err := tz.ValidateRule(rule); err != nil {
			return err
		}
	}

	tx, err := r.conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Concurrent replaces of one set must not interleave, or both inserts
	// survive the other's delete.
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, lockKey(ownerID, serviceID)); err != nil {
		return fmt.Errorf("lock rules: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		DELETE FROM availability_rules
		WHERE owner_id = $1 AND scope_service_id IS NOT DISTINCT FROM $2
	`, ownerID, serviceID); err != nil {
		return fmt.Errorf("delete rules: %w", err)
	}

	for _, rule := range rules {
		if _, err := tx.Exec(ctx, `
			INSERT INTO availability_rules (owner_id, scope_service_id, day_of_week, start_minute, end_minute, rule_timezone)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, ownerID, serviceID, int(rule.DayOfWeek), rule.StartMinute, rule.EndMinute, rule.Timezone); err != nil {
			return fmt.Errorf("insert rule: %w", err)
		}
	}
	return tx.Commit(ctx)
}

func lockKey(ownerID string, serviceID *string) string {
	scope := ""
	if serviceID != nil {
		scope = *serviceID
	}
	return "rules:" + ownerID + ":" + scope
}

func (r *Repository) query(ctx context.Context, sql string, args ...any) ([]model.AvailabilityRule, error) {
	rows, err := r.conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.AvailabilityRule
	for rows.Next() {
		var (
			rule  model.AvailabilityRule
			scope *string
			day   int
		)
		if err := rows.Scan(&rule.ID, &rule.OwnerID, &scope, &day, &rule.StartMinute, &rule.EndMinute, &rule.Timezone); err != nil {
			return nil, err
		}
		rule.ScopeServiceID = scope
		rule.DayOfWeek = time.Weekday(day)
		out = append(out, rule)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}
