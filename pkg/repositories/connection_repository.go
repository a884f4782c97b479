package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/stingnet/sting-engine/pkg/apperrors"
	"github.com/stingnet/sting-engine/pkg/database"
	"github.com/stingnet/sting-engine/pkg/models"
)

// ConnectionRepository defines data access for recorded connections and their links.
type ConnectionRepository interface {
	// Create inserts a connection unconditionally and returns its id.
	Create(ctx context.Context, conn *models.NewConnection) (int64, error)
	GetByID(ctx context.Context, id int64) (*models.Connection, error)

	// LinkURL, LinkTag and LinkAssociation insert link rows. Repeated calls insert
	// repeated rows.
	LinkURL(ctx context.Context, connID, urlID int64) error
	LinkTag(ctx context.Context, connID, tagID int64) error
	// LinkAssociation records the directed edge first -> last: first appears in
	// last's conns_before and last in first's conns_after.
	LinkAssociation(ctx context.Context, firstID, lastID int64) error

	ListBefore(ctx context.Context, connID int64) ([]*models.Connection, error)
	ListAfter(ctx context.Context, connID int64) ([]*models.Connection, error)

	// ListByURL returns connections linked to a URL, newest first. limit <= 0 means all.
	ListByURL(ctx context.Context, urlID int64, limit int) ([]*models.Connection, error)
	CountByURL(ctx context.Context, urlID int64) (int64, error)
	ListByTag(ctx context.Context, tagID int64, limit int) ([]*models.Connection, error)
	ListByNetwork(ctx context.Context, networkID int64, limit int) ([]*models.Connection, error)
	CountByNetwork(ctx context.Context, networkID int64) (int64, error)
	ListByASN(ctx context.Context, asn int64, limit int) ([]*models.Connection, error)
}

type connectionRepository struct{}

// NewConnectionRepository creates a new connection repository.
func NewConnectionRepository() ConnectionRepository {
	return &connectionRepository{}
}

const connectionColumns = `
	c.id, COALESCE(c.ip, ''), c.date, COALESCE(c.login_user, ''), COALESCE(c.login_pass, ''),
	COALESCE(c.connhash, ''), COALESCE(c.text_combined, ''), c.asn, c.network, c.backend_user_id,
	COALESCE(c.ipblock, ''), COALESCE(c.country, ''), COALESCE(c.city, ''), c.lon, c.lat`

func scanConnection(row scanner) (*models.Connection, error) {
	var c models.Connection
	err := row.Scan(
		&c.ID,
		&c.IP,
		&c.Date,
		&c.User,
		&c.Password,
		&c.ConnHash,
		&c.Stream,
		&c.ASNID,
		&c.NetworkID,
		&c.BackendUserID,
		&c.IPBlock,
		&c.Country,
		&c.City,
		&c.Longitude,
		&c.Latitude,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *connectionRepository) Create(ctx context.Context, conn *models.NewConnection) (int64, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return 0, database.ErrNoScope
	}

	query := `
		INSERT INTO conns (ip, date, login_user, login_pass, connhash, text_combined, asn,
		                   backend_user_id, ipblock, country, city, lon, lat, network)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id`

	var id int64
	err := scope.Conn.QueryRow(ctx, query,
		cleanText(conn.IP),
		conn.Date,
		cleanText(conn.User),
		cleanText(conn.Password),
		cleanText(conn.ConnHash),
		cleanText(conn.Stream),
		conn.ASNID,
		conn.BackendUserID,
		cleanText(conn.IPBlock),
		cleanText(conn.Country),
		cleanText(conn.City),
		conn.Longitude,
		conn.Latitude,
		conn.NetworkID,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to create connection: %w", err)
	}
	return id, nil
}

func (r *connectionRepository) GetByID(ctx context.Context, id int64) (*models.Connection, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, database.ErrNoScope
	}

	query := `SELECT ` + connectionColumns + ` FROM conns c WHERE c.id = $1`

	conn, err := scanConnection(scope.Conn.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("connection %d: %w", id, apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}
	return conn, nil
}

func (r *connectionRepository) LinkURL(ctx context.Context, connID, urlID int64) error {
	return r.link(ctx, `INSERT INTO conns_urls (id_conn, id_url) VALUES ($1, $2)`, connID, urlID, "url")
}

func (r *connectionRepository) LinkTag(ctx context.Context, connID, tagID int64) error {
	return r.link(ctx, `INSERT INTO conns_tags (id_conn, id_tag) VALUES ($1, $2)`, connID, tagID, "tag")
}

func (r *connectionRepository) LinkAssociation(ctx context.Context, firstID, lastID int64) error {
	return r.link(ctx, `INSERT INTO conns_assocs (id_first, id_last) VALUES ($1, $2)`, firstID, lastID, "association")
}

func (r *connectionRepository) link(ctx context.Context, query string, a, b int64, what string) error {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return database.ErrNoScope
	}
	if _, err := scope.Conn.Exec(ctx, query, a, b); err != nil {
		return fmt.Errorf("failed to link connection %s: %w", what, err)
	}
	return nil
}

func (r *connectionRepository) ListBefore(ctx context.Context, connID int64) ([]*models.Connection, error) {
	query := `
		SELECT ` + connectionColumns + `
		FROM conns_assocs a
		JOIN conns c ON c.id = a.id_first
		WHERE a.id_last = $1
		ORDER BY c.id`
	return r.list(ctx, "connections before", query, connID)
}

func (r *connectionRepository) ListAfter(ctx context.Context, connID int64) ([]*models.Connection, error) {
	query := `
		SELECT ` + connectionColumns + `
		FROM conns_assocs a
		JOIN conns c ON c.id = a.id_last
		WHERE a.id_first = $1
		ORDER BY c.id`
	return r.list(ctx, "connections after", query, connID)
}

func (r *connectionRepository) ListByURL(ctx context.Context, urlID int64, limit int) ([]*models.Connection, error) {
	query := `
		SELECT ` + connectionColumns + `
		FROM conns_urls cu
		JOIN conns c ON c.id = cu.id_conn
		WHERE cu.id_url = $1
		ORDER BY c.date DESC, c.id DESC
		LIMIT $2`
	return r.list(ctx, "url connections", query, urlID, limitArg(limit))
}

func (r *connectionRepository) CountByURL(ctx context.Context, urlID int64) (int64, error) {
	return countRows(ctx, "url connections", `SELECT COUNT(*) FROM conns_urls WHERE id_url = $1`, urlID)
}

func (r *connectionRepository) ListByTag(ctx context.Context, tagID int64, limit int) ([]*models.Connection, error) {
	query := `
		SELECT ` + connectionColumns + `
		FROM conns_tags ct
		JOIN conns c ON c.id = ct.id_conn
		WHERE ct.id_tag = $1
		ORDER BY c.id
		LIMIT $2`
	return r.list(ctx, "tag connections", query, tagID, limitArg(limit))
}

func (r *connectionRepository) ListByNetwork(ctx context.Context, networkID int64, limit int) ([]*models.Connection, error) {
	query := `
		SELECT ` + connectionColumns + `
		FROM conns c
		WHERE c.network = $1
		ORDER BY c.id
		LIMIT $2`
	return r.list(ctx, "network connections", query, networkID, limitArg(limit))
}

func (r *connectionRepository) CountByNetwork(ctx context.Context, networkID int64) (int64, error) {
	return countRows(ctx, "network connections", `SELECT COUNT(*) FROM conns WHERE network = $1`, networkID)
}

func (r *connectionRepository) ListByASN(ctx context.Context, asn int64, limit int) ([]*models.Connection, error) {
	query := `
		SELECT ` + connectionColumns + `
		FROM conns c
		WHERE c.asn = $1
		ORDER BY c.id
		LIMIT $2`
	return r.list(ctx, "asn connections", query, asn, limitArg(limit))
}

func (r *connectionRepository) list(ctx context.Context, what, query string, args ...any) ([]*models.Connection, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, database.ErrNoScope
	}

	rows, err := scope.Conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", what, err)
	}
	defer rows.Close()

	conns := []*models.Connection{}
	for rows.Next() {
		conn, err := scanConnection(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan connection: %w", err)
		}
		conns = append(conns, conn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %s: %w", what, err)
	}
	return conns, nil
}

// Ensure connectionRepository implements ConnectionRepository at compile time.
var _ ConnectionRepository = (*connectionRepository)(nil)
