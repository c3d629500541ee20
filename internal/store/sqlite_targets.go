package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"sentinel/internal/types"
)

func (s *SQLiteStore) GetDevice(ctx context.Context, id string) (*types.Device, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, kind, viewport_width, viewport_height, scale, mobile, touch, user_agent
		FROM devices WHERE id = ?`, id)
	var d types.Device
	var mobile, touch int
	err := row.Scan(&d.ID, &d.Name, &d.Kind, &d.ViewportWidth, &d.ViewportHeight,
		&d.Scale, &mobile, &touch, &d.UserAgent)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get device %s: %w", id, err)
	}
	d.Mobile = mobile != 0
	d.Touch = touch != 0
	return &d, nil
}

func (s *SQLiteStore) ListDevices(ctx context.Context) ([]types.Device, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, kind, viewport_width, viewport_height, scale, mobile, touch, user_agent
		FROM devices ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	defer rows.Close()

	var out []types.Device
	for rows.Next() {
		var d types.Device
		var mobile, touch int
		if err := rows.Scan(&d.ID, &d.Name, &d.Kind, &d.ViewportWidth, &d.ViewportHeight,
			&d.Scale, &mobile, &touch, &d.UserAgent); err != nil {
			return nil, fmt.Errorf("scan device: %w", err)
		}
		d.Mobile = mobile != 0
		d.Touch = touch != 0
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) UpsertDevice(ctx context.Context, d *types.Device) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO devices (id, name, kind, viewport_width, viewport_height, scale, mobile, touch, user_agent)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.Name, d.Kind, d.ViewportWidth, d.ViewportHeight, d.Scale,
		boolToInt(d.Mobile), boolToInt(d.Touch), d.UserAgent)
	if err != nil {
		return fmt.Errorf("upsert device %s: %w", d.ID, err)
	}
	return nil
}

func (s *SQLiteStore) GetNetwork(ctx context.Context, id string) (*types.Network, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, latency_ms, download_kbps, upload_kbps FROM networks WHERE id = ?`, id)
	var n types.Network
	err := row.Scan(&n.ID, &n.Name, &n.LatencyMs, &n.DownloadKbps, &n.UploadKbps)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get network %s: %w", id, err)
	}
	return &n, nil
}

func (s *SQLiteStore) ListNetworks(ctx context.Context) ([]types.Network, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, latency_ms, download_kbps, upload_kbps FROM networks ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list networks: %w", err)
	}
	defer rows.Close()

	var out []types.Network
	for rows.Next() {
		var n types.Network
		if err := rows.Scan(&n.ID, &n.Name, &n.LatencyMs, &n.DownloadKbps, &n.UploadKbps); err != nil {
			return nil, fmt.Errorf("scan network: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) UpsertNetwork(ctx context.Context, n *types.Network) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO networks (id, name, latency_ms, download_kbps, upload_kbps)
		VALUES (?, ?, ?, ?, ?)`,
		n.ID, n.Name, n.LatencyMs, n.DownloadKbps, n.UploadKbps)
	if err != nil {
		return fmt.Errorf("upsert network %s: %w", n.ID, err)
	}
	return nil
}

func (s *SQLiteStore) GetProject(ctx context.Context, id string) (*types.Project, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, base_url, sensitive_keys, slack_channel FROM projects WHERE id = ?`, id)
	var p types.Project
	var keys string
	err := row.Scan(&p.ID, &p.Name, &p.BaseURL, &keys, &p.SlackChannel)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get project %s: %w", id, err)
	}
	if keys != "" {
		if err := json.Unmarshal([]byte(keys), &p.SensitiveKeys); err != nil {
			return nil, fmt.Errorf("decode sensitive keys for project %s: %w", id, err)
		}
	}
	return &p, nil
}

func (s *SQLiteStore) UpsertProject(ctx context.Context, p *types.Project) error {
	keys, err := json.Marshal(p.SensitiveKeys)
	if err != nil {
		return fmt.Errorf("encode sensitive keys: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO projects (id, name, base_url, sensitive_keys, slack_channel)
		VALUES (?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.BaseURL, string(keys), p.SlackChannel)
	if err != nil {
		return fmt.Errorf("upsert project %s: %w", p.ID, err)
	}
	return nil
}
