package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/ohmynofan/provider-checkin-bot/internal/domain/model"
)

const timeLayout = time.RFC3339Nano

type Store struct {
	db *sql.DB
}

func NewStore(dbPath string) (*Store, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite db: %w", err)
	}

	s := &Store{db: db}
	if err := s.init(); err != nil {
		s.Close()
		return nil, err
	}

	return s, nil
}

func (s *Store) init() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS accounts (
        id TEXT PRIMARY KEY,
        name TEXT NOT NULL,
        provider_id TEXT NOT NULL,
        cookies TEXT,
        api_user_id TEXT,
        enabled INTEGER NOT NULL DEFAULT 1,
        auto_check_in INTEGER NOT NULL DEFAULT 0,
        check_in_hour INTEGER NOT NULL DEFAULT 0,
        check_in_minute INTEGER NOT NULL DEFAULT 0,
        quota REAL NOT NULL DEFAULT 0,
        used_quota REAL NOT NULL DEFAULT 0,
        last_check_in_at TEXT,
        updated_at TEXT
    )`,
		`CREATE TABLE IF NOT EXISTS providers (
        id TEXT PRIMARY KEY,
        name TEXT NOT NULL,
        domain TEXT NOT NULL,
        login_path TEXT,
        sign_in_path TEXT,
        user_info_path TEXT,
        models_path TEXT,
        api_user_header TEXT,
        requires_waf_bypass INTEGER NOT NULL DEFAULT 0,
        check_in_strategy TEXT
    )`,
		`CREATE TABLE IF NOT EXISTS waf_cookies (
        provider_id TEXT PRIMARY KEY,
        cookies TEXT NOT NULL,
        fetched_at TEXT NOT NULL,
        expires_at TEXT NOT NULL
    )`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) FindAccountByID(id string) (*model.Account, error) {
	row := s.db.QueryRow(`SELECT id, name, provider_id, cookies, api_user_id, enabled,
        auto_check_in, check_in_hour, check_in_minute, quota, used_quota,
        last_check_in_at, updated_at FROM accounts WHERE id = ?`, id)
	acc, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return acc, err
}

func (s *Store) FindAccountsByIDs(ids []string) (map[string]*model.Account, error) {
	result := make(map[string]*model.Account, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.Query(`SELECT id, name, provider_id, cookies, api_user_id, enabled,
        auto_check_in, check_in_hour, check_in_minute, quota, used_quota,
        last_check_in_at, updated_at FROM accounts WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		result[acc.ID] = acc
	}
	return result, rows.Err()
}

func (s *Store) FindEnabledAccounts() ([]*model.Account, error) {
	rows, err := s.db.Query(`SELECT id, name, provider_id, cookies, api_user_id, enabled,
        auto_check_in, check_in_hour, check_in_minute, quota, used_quota,
        last_check_in_at, updated_at FROM accounts WHERE enabled = 1 ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []*model.Account
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, acc)
	}
	return accounts, rows.Err()
}

func (s *Store) SaveAccount(acc *model.Account) error {
	if acc == nil {
		return fmt.Errorf("account is required")
	}
	if strings.TrimSpace(acc.ID) == "" {
		acc.ID = uuid.NewString()
	}
	acc.UpdatedAt = time.Now().UTC()

	cookies, err := json.Marshal(acc.Cookies)
	if err != nil {
		return fmt.Errorf("failed to encode cookies: %w", err)
	}

	_, err = s.db.Exec(`INSERT INTO accounts(id, name, provider_id, cookies, api_user_id, enabled,
        auto_check_in, check_in_hour, check_in_minute, quota, used_quota, last_check_in_at, updated_at)
    VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    ON CONFLICT(id) DO UPDATE SET
        name = excluded.name,
        provider_id = excluded.provider_id,
        cookies = excluded.cookies,
        api_user_id = excluded.api_user_id,
        enabled = excluded.enabled,
        auto_check_in = excluded.auto_check_in,
        check_in_hour = excluded.check_in_hour,
        check_in_minute = excluded.check_in_minute,
        quota = excluded.quota,
        used_quota = excluded.used_quota,
        last_check_in_at = excluded.last_check_in_at,
        updated_at = excluded.updated_at`,
		acc.ID, acc.Name, acc.ProviderID, string(cookies), acc.APIUserID, boolToInt(acc.Enabled),
		boolToInt(acc.AutoCheckIn.Enabled), acc.AutoCheckIn.Hour, acc.AutoCheckIn.Minute,
		acc.Quota, acc.UsedQuota, formatTime(acc.LastCheckInAt), formatTime(acc.UpdatedAt))
	return err
}

func (s *Store) FindProviderByID(id string) (*model.Provider, error) {
	row := s.db.QueryRow(`SELECT id, name, domain, login_path, sign_in_path, user_info_path,
        models_path, api_user_header, requires_waf_bypass, check_in_strategy
        FROM providers WHERE id = ?`, id)
	p, err := scanProvider(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return p, err
}

func (s *Store) FindAllProviders() ([]*model.Provider, error) {
	rows, err := s.db.Query(`SELECT id, name, domain, login_path, sign_in_path, user_info_path,
        models_path, api_user_header, requires_waf_bypass, check_in_strategy
        FROM providers ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var providers []*model.Provider
	for rows.Next() {
		p, err := scanProvider(rows)
		if err != nil {
			return nil, err
		}
		providers = append(providers, p)
	}
	return providers, rows.Err()
}

func (s *Store) SaveProvider(p *model.Provider) error {
	if p == nil {
		return fmt.Errorf("provider is required")
	}
	if strings.TrimSpace(p.ID) == "" {
		p.ID = uuid.NewString()
	}

	_, err := s.db.Exec(`INSERT INTO providers(id, name, domain, login_path, sign_in_path,
        user_info_path, models_path, api_user_header, requires_waf_bypass, check_in_strategy)
    VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    ON CONFLICT(id) DO UPDATE SET
        name = excluded.name,
        domain = excluded.domain,
        login_path = excluded.login_path,
        sign_in_path = excluded.sign_in_path,
        user_info_path = excluded.user_info_path,
        models_path = excluded.models_path,
        api_user_header = excluded.api_user_header,
        requires_waf_bypass = excluded.requires_waf_bypass,
        check_in_strategy = excluded.check_in_strategy`,
		p.ID, p.Name, p.Domain, p.LoginPath, p.SignInPath, p.UserInfoPath,
		p.ModelsPath, p.APIUserHeader, boolToInt(p.RequiresWafBypass), p.CheckInStrategy)
	return err
}

// ValidWafCookies returns the cached entry for the provider, or nil when it
// is absent or expired. Expired rows are swept on access.
func (s *Store) ValidWafCookies(providerID string, now time.Time) (*model.WafCookies, error) {
	row := s.db.QueryRow(`SELECT provider_id, cookies, fetched_at, expires_at
        FROM waf_cookies WHERE provider_id = ?`, providerID)

	var entry model.WafCookies
	var cookies, fetchedAt, expiresAt string
	err := row.Scan(&entry.ProviderID, &cookies, &fetchedAt, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(cookies), &entry.Cookies); err != nil {
		return nil, fmt.Errorf("failed to decode cached waf cookies: %w", err)
	}
	entry.FetchedAt = parseTime(fetchedAt)
	entry.ExpiresAt = parseTime(expiresAt)

	if !entry.Valid(now) {
		_ = s.InvalidateWafCookies(providerID)
		return nil, nil
	}
	return &entry, nil
}

func (s *Store) SaveWafCookies(entry *model.WafCookies) error {
	if entry == nil {
		return fmt.Errorf("waf cookie entry is required")
	}
	cookies, err := json.Marshal(entry.Cookies)
	if err != nil {
		return fmt.Errorf("failed to encode waf cookies: %w", err)
	}

	_, err = s.db.Exec(`INSERT INTO waf_cookies(provider_id, cookies, fetched_at, expires_at)
    VALUES(?, ?, ?, ?)
    ON CONFLICT(provider_id) DO UPDATE SET
        cookies = excluded.cookies,
        fetched_at = excluded.fetched_at,
        expires_at = excluded.expires_at`,
		entry.ProviderID, string(cookies), formatTime(entry.FetchedAt), formatTime(entry.ExpiresAt))
	return err
}

func (s *Store) InvalidateWafCookies(providerID string) error {
	_, err := s.db.Exec(`DELETE FROM waf_cookies WHERE provider_id = ?`, providerID)
	return err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAccount(row rowScanner) (*model.Account, error) {
	var acc model.Account
	var cookies, lastCheckIn, updatedAt sql.NullString
	var apiUserID sql.NullString
	var enabled, autoEnabled int

	err := row.Scan(&acc.ID, &acc.Name, &acc.ProviderID, &cookies, &apiUserID, &enabled,
		&autoEnabled, &acc.AutoCheckIn.Hour, &acc.AutoCheckIn.Minute,
		&acc.Quota, &acc.UsedQuota, &lastCheckIn, &updatedAt)
	if err != nil {
		return nil, err
	}

	acc.Enabled = enabled == 1
	acc.AutoCheckIn.Enabled = autoEnabled == 1
	acc.APIUserID = apiUserID.String
	if cookies.Valid && cookies.String != "" {
		if err := json.Unmarshal([]byte(cookies.String), &acc.Cookies); err != nil {
			return nil, fmt.Errorf("failed to decode account cookies: %w", err)
		}
	}
	if acc.Cookies == nil {
		acc.Cookies = map[string]string{}
	}
	acc.LastCheckInAt = parseTime(lastCheckIn.String)
	acc.UpdatedAt = parseTime(updatedAt.String)
	return &acc, nil
}

func scanProvider(row rowScanner) (*model.Provider, error) {
	var p model.Provider
	var loginPath, signInPath, userInfoPath, modelsPath, apiUserHeader, strategy sql.NullString
	var requiresWaf int

	err := row.Scan(&p.ID, &p.Name, &p.Domain, &loginPath, &signInPath, &userInfoPath,
		&modelsPath, &apiUserHeader, &requiresWaf, &strategy)
	if err != nil {
		return nil, err
	}

	p.LoginPath = loginPath.String
	p.SignInPath = signInPath.String
	p.UserInfoPath = userInfoPath.String
	p.ModelsPath = modelsPath.String
	p.APIUserHeader = apiUserHeader.String
	p.CheckInStrategy = strategy.String
	p.RequiresWafBypass = requiresWaf == 1
	return &p, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(value string) time.Time {
	if strings.TrimSpace(value) == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Time{}
	}
	return t
}
