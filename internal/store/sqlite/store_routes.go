package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/thub/thub/internal/domain"
)

// LookupRoute returns the proxy route configured under name.
func (s *Store) LookupRoute(ctx context.Context, name string) (domain.ProxyRoute, bool, error) {
	var baseURL, headers string
	err := s.db.QueryRowContext(ctx, `SELECT base_url, headers FROM proxies WHERE name = ?`, name).Scan(&baseURL, &headers)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ProxyRoute{}, false, nil
	}
	if err != nil {
		return domain.ProxyRoute{}, false, err
	}
	route, err := decodeRoute(name, baseURL, headers)
	if err != nil {
		return domain.ProxyRoute{}, false, err
	}
	return route, true, nil
}

// PutRoute creates or replaces a proxy route.
func (s *Store) PutRoute(ctx context.Context, route domain.ProxyRoute) error {
	if strings.TrimSpace(route.Name) == "" {
		return errors.New("route name is required")
	}
	headers := route.Headers
	if headers == nil {
		headers = map[string]string{}
	}
	raw, err := json.Marshal(headers)
	if err != nil {
		return fmt.Errorf("encode headers: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO proxies(name, base_url, headers) VALUES(?, ?, ?)
ON CONFLICT(name) DO UPDATE SET base_url = excluded.base_url, headers = excluded.headers, updated_at = CURRENT_TIMESTAMP`,
		route.Name, route.BaseURL, string(raw))
	return err
}

// DeleteRoute removes a proxy route or reports [domain.ErrRouteNotFound].
func (s *Store) DeleteRoute(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM proxies WHERE name = ?`, name)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrRouteNotFound
	}
	return nil
}

// ListRoutes returns all proxy routes ordered by name.
func (s *Store) ListRoutes(ctx context.Context) ([]domain.ProxyRoute, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, base_url, headers FROM proxies ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ProxyRoute
	for rows.Next() {
		var name, baseURL, headers string
		if err := rows.Scan(&name, &baseURL, &headers); err != nil {
			return nil, err
		}
		route, err := decodeRoute(name, baseURL, headers)
		if err != nil {
			return nil, err
		}
		out = append(out, route)
	}
	return out, rows.Err()
}

func decodeRoute(name, baseURL, headers string) (domain.ProxyRoute, error) {
	route := domain.ProxyRoute{Name: name, BaseURL: baseURL}
	if strings.TrimSpace(headers) == "" {
		return route, nil
	}
	if err := json.Unmarshal([]byte(headers), &route.Headers); err != nil {
		return route, fmt.Errorf("decode headers for route %s: %w", name, err)
	}
	return route, nil
}
