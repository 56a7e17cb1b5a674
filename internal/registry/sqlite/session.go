package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"net/netip"
	"time"

	"wgfleet"
	"wgfleet/internal/check"
)

type session struct {
	tx *sql.Tx
}

func (s *session) Insert(c *wgfleet.Client) error {
	check.Assert(c.Fleet != "", "session.Insert: Fleet must not be empty")
	check.Assert(c.PublicKey != "", "session.Insert: PublicKey must not be empty")
	check.Assert(c.AssignedIP.Is6(), "session.Insert: AssignedIP must be an IPv6 address")

	res, err := s.tx.Exec(
		`INSERT INTO clients (fleet, public_key, assigned_ip, http_request_ip, hostname, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		c.Fleet, c.PublicKey, c.AssignedIP.String(), requestIPText(c.RequestIP), nullHostname(c.Hostname), c.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: insert client: %v", wgfleet.ErrConflict, err)
		}
		return fmt.Errorf("insert client: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("insert client: read id: %w", err)
	}
	c.ID = id
	return nil
}

func (s *session) FindByPublicKey(fleet, publicKey string) (*wgfleet.Client, error) {
	return s.findOne(`fleet = ? AND public_key = ?`, fleet, publicKey)
}

func (s *session) FindByIP(fleet string, ip netip.Addr) (*wgfleet.Client, error) {
	return s.findOne(`fleet = ? AND assigned_ip = ?`, fleet, ip.String())
}

func (s *session) FindByHostname(fleet, hostname string) (*wgfleet.Client, error) {
	return s.findOne(`fleet = ? AND hostname = ?`, fleet, hostname)
}

func (s *session) findOne(where string, args ...any) (*wgfleet.Client, error) {
	row := s.tx.QueryRow(
		`SELECT id, fleet, public_key, assigned_ip, http_request_ip, hostname, timestamp
		 FROM clients WHERE `+where,
		args...,
	)
	c, err := scanClient(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find client: %w", err)
	}
	return c, nil
}

func (s *session) List(fleet string) ([]wgfleet.Client, error) {
	rows, err := s.tx.Query(
		`SELECT id, fleet, public_key, assigned_ip, http_request_ip, hostname, timestamp
		 FROM clients WHERE fleet = ? ORDER BY id`,
		fleet,
	)
	if err != nil {
		return nil, fmt.Errorf("list clients: %w", err)
	}
	return scanClients(rows)
}

func (s *session) ListAll() ([]wgfleet.Client, error) {
	rows, err := s.tx.Query(
		`SELECT id, fleet, public_key, assigned_ip, http_request_ip, hostname, timestamp
		 FROM clients ORDER BY fleet, id`,
	)
	if err != nil {
		return nil, fmt.Errorf("list all clients: %w", err)
	}
	return scanClients(rows)
}

func (s *session) Update(c *wgfleet.Client) error {
	check.Assert(c.ID != 0, "session.Update: ID must be set")

	_, err := s.tx.Exec(
		`UPDATE clients SET hostname = ?, timestamp = ? WHERE id = ?`,
		nullHostname(c.Hostname), c.Timestamp.UTC().Format(time.RFC3339Nano), c.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: update client: %v", wgfleet.ErrConflict, err)
		}
		return fmt.Errorf("update client: %w", err)
	}
	return nil
}

func (s *session) Delete(c *wgfleet.Client) error {
	if _, err := s.tx.Exec(`DELETE FROM clients WHERE id = ?`, c.ID); err != nil {
		return fmt.Errorf("delete client: %w", err)
	}
	return nil
}

func (s *session) Commit() error {
	if err := s.tx.Commit(); err != nil {
		return fmt.Errorf("commit registry session: %w", err)
	}
	return nil
}

func (s *session) Rollback() error {
	if err := s.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("rollback registry session: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanClient(row scanner) (*wgfleet.Client, error) {
	var (
		id                                   int64
		fleet, publicKey, assignedIP, reqIP  string
		hostname                             sql.NullString
		timestamp                            string
	)
	if err := row.Scan(&id, &fleet, &publicKey, &assignedIP, &reqIP, &hostname, &timestamp); err != nil {
		return nil, err
	}

	addr, err := netip.ParseAddr(assignedIP)
	if err != nil {
		return nil, fmt.Errorf("parse stored assigned_ip %q: %w", assignedIP, err)
	}
	ts, err := time.Parse(time.RFC3339Nano, timestamp)
	if err != nil {
		return nil, fmt.Errorf("parse stored timestamp %q: %w", timestamp, err)
	}

	var reqAddr netip.Addr
	if reqIP != "" {
		reqAddr, _ = netip.ParseAddr(reqIP)
	}

	return &wgfleet.Client{
		ID:         id,
		Fleet:      fleet,
		PublicKey:  publicKey,
		AssignedIP: addr,
		RequestIP:  reqAddr,
		Hostname:   hostname.String,
		Timestamp:  ts,
	}, nil
}

func scanClients(rows *sql.Rows) ([]wgfleet.Client, error) {
	defer rows.Close()
	var out []wgfleet.Client
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, fmt.Errorf("scan client row: %w", err)
		}
		out = append(out, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate client rows: %w", err)
	}
	return out, nil
}

func nullHostname(h string) any {
	if h == "" {
		return nil
	}
	return h
}

func requestIPText(a netip.Addr) string {
	if !a.IsValid() {
		return ""
	}
	return a.String()
}
