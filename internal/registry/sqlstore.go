package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"beaconraffle/internal/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS holders (
	item_id INTEGER PRIMARY KEY,
	holder  TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS registry_meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

const metaTotalSupply = "total_supply"

// SQLStore is a SQLite-backed registry snapshot.
type SQLStore struct {
	db *sqlx.DB
}

// OpenSQLStore opens (and if needed creates) a registry database at path.
func OpenSQLStore(path string) (*SQLStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("registry path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLStore{db: db}, nil
}

func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func itemKey(itemID uint64) (int64, error) {
	if itemID > math.MaxInt64 {
		return 0, fmt.Errorf("item id %d exceeds storage range", itemID)
	}
	return int64(itemID), nil
}

// PutHolder records holder as the current holder of itemID.
func (s *SQLStore) PutHolder(ctx context.Context, itemID uint64, holder common.Address) error {
	key, err := itemKey(itemID)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO holders (item_id, holder) VALUES (?, ?)
		 ON CONFLICT(item_id) DO UPDATE SET holder = excluded.holder`,
		key, holder.Hex())
	if err != nil {
		return fmt.Errorf("put holder %d: %w", itemID, err)
	}
	return nil
}

func (s *SQLStore) DeleteHolder(ctx context.Context, itemID uint64) error {
	key, err := itemKey(itemID)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM holders WHERE item_id = ?`, key); err != nil {
		return fmt.Errorf("delete holder %d: %w", itemID, err)
	}
	return nil
}

// SetTotalSupply publishes the primary size answer.
func (s *SQLStore) SetTotalSupply(ctx context.Context, n uint64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO registry_meta (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		metaTotalSupply, strconv.FormatUint(n, 10))
	if err != nil {
		return fmt.Errorf("set total supply: %w", err)
	}
	return nil
}

func (s *SQLStore) HolderOf(ctx context.Context, itemID uint64) (common.Address, error) {
	key, err := itemKey(itemID)
	if err != nil {
		return common.Address{}, types.ErrItemNotFound.Wrap(err.Error())
	}
	var raw string
	err = s.db.GetContext(ctx, &raw, `SELECT holder FROM holders WHERE item_id = ?`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return common.Address{}, types.ErrItemNotFound.Wrapf("item %d", itemID)
	}
	if err != nil {
		return common.Address{}, fmt.Errorf("lookup holder %d: %w", itemID, err)
	}
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("item %d has malformed holder %q", itemID, raw)
	}
	return common.HexToAddress(raw), nil
}

// TotalSupply reads the published supply; it is unavailable until
// SetTotalSupply has been called.
func (s *SQLStore) TotalSupply(ctx context.Context) (uint64, error) {
	var raw string
	err := s.db.GetContext(ctx, &raw, `SELECT value FROM registry_meta WHERE key = ?`, metaTotalSupply)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("total supply not published")
	}
	if err != nil {
		return 0, fmt.Errorf("read total supply: %w", err)
	}
	n, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse total supply %q: %w", raw, err)
	}
	return n, nil
}

// TotalMinted is the highest item id currently recorded.
func (s *SQLStore) TotalMinted(ctx context.Context) (uint64, error) {
	var max sql.NullInt64
	if err := s.db.GetContext(ctx, &max, `SELECT MAX(item_id) FROM holders`); err != nil {
		return 0, fmt.Errorf("read max item id: %w", err)
	}
	if !max.Valid || max.Int64 < 0 {
		return 0, nil
	}
	return uint64(max.Int64), nil
}
