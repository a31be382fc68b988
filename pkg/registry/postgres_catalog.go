package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/Mindburn-Labs/verifiquant/pkg/contracts"
)

// PostgresCatalog persists card versions so a fleet of solvers can build
// identical registries at start.
type PostgresCatalog struct {
	db *sql.DB
}

func NewPostgresCatalog(db *sql.DB) *PostgresCatalog {
	return &PostgresCatalog{db: db}
}

const pgCatalogSchema = `
CREATE TABLE IF NOT EXISTS formula_cards (
	id TEXT NOT NULL,
	version TEXT NOT NULL,
	card_json JSONB NOT NULL,
	registered_seq BIGSERIAL,
	created_at TIMESTAMP NOT NULL,
	PRIMARY KEY (id, version)
);
`

func (c *PostgresCatalog) Init(ctx context.Context) error {
	_, err := c.db.ExecContext(ctx, pgCatalogSchema)
	return err
}

// Put stores one card version. Re-publishing a version replaces its body but
// keeps its registration position.
func (c *PostgresCatalog) Put(ctx context.Context, card *contracts.FormulaCard) error {
	if card == nil {
		return fmt.Errorf("nil card")
	}
	version := card.Version
	if version == "" {
		version = DefaultVersion
	}
	if _, err := semver.NewVersion(version); err != nil {
		return fmt.Errorf("card %s: invalid version %q: %w", card.ID, version, err)
	}

	cardJSON, err := json.Marshal(card)
	if err != nil {
		return fmt.Errorf("failed to marshal card: %w", err)
	}

	query := `
		INSERT INTO formula_cards (id, version, card_json, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id, version) DO UPDATE
		SET card_json = $3
	`
	_, err = c.db.ExecContext(ctx, query, card.ID, version, cardJSON, time.Now().UTC())
	return err
}

// Latest returns the highest semver of every card, ordered by the first
// registration of each id.
func (c *PostgresCatalog) Latest(ctx context.Context) ([]*contracts.FormulaCard, error) {
	rows, err := c.db.QueryContext(ctx, "SELECT id, version, card_json FROM formula_cards ORDER BY registered_seq")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	type versioned struct {
		v    *semver.Version
		body []byte
	}
	var order []string
	latest := make(map[string]versioned)

	for rows.Next() {
		var id, verStr string
		var body []byte
		if err := rows.Scan(&id, &verStr, &body); err != nil {
			return nil, err
		}
		v, err := semver.NewVersion(verStr)
		if err != nil {
			return nil, fmt.Errorf("card %s: stored version %q: %w", id, verStr, err)
		}
		cur, seen := latest[id]
		if !seen {
			order = append(order, id)
		}
		if !seen || v.GreaterThan(cur.v) {
			latest[id] = versioned{v: v, body: body}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	cards := make([]*contracts.FormulaCard, 0, len(order))
	for _, id := range order {
		var card contracts.FormulaCard
		if err := json.Unmarshal(latest[id].body, &card); err != nil {
			return nil, fmt.Errorf("card %s: decode: %w", id, err)
		}
		card.Version = latest[id].v.Original()
		cards = append(cards, &card)
	}
	return cards, nil
}
