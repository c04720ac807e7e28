// Package archive stores Green's functions in a sqlite file.
//
// Each key has one entry row with JSON metadata describing the object, and one value row per non-zero element.
package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"

	"github.com/fumin/tensor"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/henhans/pomerol2triqs/gf"
)

const (
	tableInfo    = "info"
	tableEntries = "entries"
	tableValues  = "v"
)

type Kind string

const (
	KindBlockGf Kind = "block_gf"
	KindG2      Kind = "g2"
)

type blockGfMeta struct {
	Mesh   gf.Mesh     `json:"mesh"`
	Struct gf.GfStruct `json:"struct"`
}

type g2BlockMeta struct {
	A     string `json:"a"`
	B     string `json:"b"`
	Shape []int  `json:"shape"`
}

type g2Meta struct {
	Channel    gf.Channel    `json:"channel"`
	BlockOrder gf.BlockOrder `json:"block_order"`
	Meshes     [3]gf.Mesh    `json:"meshes"`
	Blocks     []g2BlockMeta `json:"blocks"`
}

// Archive is a key value store of *gf.BlockGf and *gf.G2.
type Archive struct {
	Path string
	// ID identifies the archive, and is assigned when it is created.
	ID string

	db *sql.DB
}

// Create creates an empty archive at path, removing any existing file.
func Create(ctx context.Context, path string) (*Archive, error) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrap(err, "")
	}
	db, err := newDB(path)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	a := &Archive{Path: path, ID: uuid.NewString(), db: db}
	if err := a.prepare(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "")
	}
	return a, nil
}

// Open opens an existing archive.
func Open(ctx context.Context, path string) (*Archive, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, errors.Wrap(err, "")
	}
	db, err := newDB(path)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	a := &Archive{Path: path, db: db}
	sqlStr := fmt.Sprintf(`SELECT id FROM %s`, tableInfo)
	if err := db.QueryRowContext(ctx, sqlStr).Scan(&a.ID); err != nil {
		db.Close()
		return nil, errors.Wrap(err, path)
	}
	return a, nil
}

func (a *Archive) Close() error {
	if err := a.db.Close(); err != nil {
		return errors.Wrap(err, "")
	}
	return nil
}

func newDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", path))
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	return db, nil
}

func (a *Archive) prepare(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE %s (id TEXT) STRICT`, tableInfo),
		fmt.Sprintf(`CREATE TABLE %s (key TEXT PRIMARY KEY, kind TEXT, meta TEXT) STRICT`, tableEntries),
		fmt.Sprintf(`CREATE TABLE %s (key TEXT, block INTEGER, i INTEGER, re REAL, im REAL, PRIMARY KEY (key, block, i)) STRICT`, tableValues),
	}
	for _, sqlStr := range stmts {
		if _, err := a.db.ExecContext(ctx, sqlStr); err != nil {
			return errors.Wrap(err, sqlStr)
		}
	}
	sqlStr := fmt.Sprintf(`INSERT INTO %s (id) VALUES (?)`, tableInfo)
	if _, err := a.db.ExecContext(ctx, sqlStr, a.ID); err != nil {
		return errors.Wrap(err, sqlStr)
	}
	return nil
}

// Set stores obj, which must be a *gf.BlockGf or a *gf.G2, under key, replacing any previous value.
func (a *Archive) Set(ctx context.Context, key string, obj any) error {
	var kind Kind
	var meta any
	switch o := obj.(type) {
	case *gf.BlockGf:
		kind, meta = KindBlockGf, blockGfMeta{Mesh: o.Mesh, Struct: o.Struct()}
	case *gf.G2:
		m := g2Meta{Channel: o.Channel, BlockOrder: o.BlockOrder, Meshes: o.Meshes}
		for _, b := range o.Blocks {
			m.Blocks = append(m.Blocks, g2BlockMeta{A: b.A, B: b.B, Shape: b.Data.Shape()})
		}
		kind, meta = KindG2, m
	default:
		return errors.Errorf("unsupported type %T", obj)
	}
	metaB, err := json.Marshal(meta)
	if err != nil {
		return errors.Wrap(err, "")
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "")
	}
	defer tx.Rollback()
	if err := writeEntry(ctx, tx, key, kind, metaB); err != nil {
		return errors.Wrap(err, "")
	}

	sqlStr := fmt.Sprintf(`INSERT INTO %s (key, block, i, re, im) VALUES (?, ?, ?, ?, ?)`, tableValues)
	stmt, err := tx.PrepareContext(ctx, sqlStr)
	if err != nil {
		return errors.Wrap(err, sqlStr)
	}
	defer stmt.Close()
	insert := func(block, i int, v complex128) error {
		if v == 0 {
			return nil
		}
		if _, err := stmt.ExecContext(ctx, key, block, i, real(v), imag(v)); err != nil {
			return errors.Wrap(err, fmt.Sprintf("%s %d %d", key, block, i))
		}
		return nil
	}

	switch o := obj.(type) {
	case *gf.BlockGf:
		for bi, b := range o.Blocks {
			for i, v := range b.Data {
				if err := insert(bi, i, v); err != nil {
					return errors.Wrap(err, "")
				}
			}
		}
	case *gf.G2:
		for bi, b := range o.Blocks {
			shape := b.Data.Shape()
			for idx := range b.Data.All() {
				if err := insert(bi, flatten(shape, idx), complex128(b.Data.At(idx...))); err != nil {
					return errors.Wrap(err, "")
				}
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "")
	}
	return nil
}

func writeEntry(ctx context.Context, tx *sql.Tx, key string, kind Kind, meta []byte) error {
	sqlStr := fmt.Sprintf(`DELETE FROM %s WHERE key=?`, tableValues)
	if _, err := tx.ExecContext(ctx, sqlStr, key); err != nil {
		return errors.Wrap(err, sqlStr)
	}
	sqlStr = fmt.Sprintf(`INSERT OR REPLACE INTO %s (key, kind, meta) VALUES (?, ?, ?)`, tableEntries)
	if _, err := tx.ExecContext(ctx, sqlStr, key, string(kind), string(meta)); err != nil {
		return errors.Wrap(err, sqlStr)
	}
	return nil
}

// Get returns the object stored under key.
func (a *Archive) Get(ctx context.Context, key string) (any, error) {
	var kind, meta string
	sqlStr := fmt.Sprintf(`SELECT kind, meta FROM %s WHERE key=?`, tableEntries)
	err := a.db.QueryRowContext(ctx, sqlStr, key).Scan(&kind, &meta)
	switch {
	case err == sql.ErrNoRows:
		return nil, errors.Errorf("key %#v not found", key)
	case err != nil:
		return nil, errors.Wrap(err, "")
	}

	switch Kind(kind) {
	case KindBlockGf:
		var m blockGfMeta
		if err := json.Unmarshal([]byte(meta), &m); err != nil {
			return nil, errors.Wrap(err, meta)
		}
		g := gf.NewBlockGf(m.Mesh, m.Struct)
		err := a.readValues(ctx, key, func(block, i int, v complex128) error {
			if block >= len(g.Blocks) || i >= len(g.Blocks[block].Data) {
				return errors.Errorf("%s block %d offset %d out of range", key, block, i)
			}
			g.Blocks[block].Data[i] = v
			return nil
		})
		if err != nil {
			return nil, errors.Wrap(err, "")
		}
		return g, nil
	case KindG2:
		var m g2Meta
		if err := json.Unmarshal([]byte(meta), &m); err != nil {
			return nil, errors.Wrap(err, meta)
		}
		g := &gf.G2{Channel: m.Channel, BlockOrder: m.BlockOrder, Meshes: m.Meshes}
		sizes := make([]int, 0, len(m.Blocks))
		for _, b := range m.Blocks {
			g.Blocks = append(g.Blocks, &gf.G2Block{A: b.A, B: b.B, Data: tensor.Zeros(b.Shape...)})
			size := 1
			for _, d := range b.Shape {
				size *= d
			}
			sizes = append(sizes, size)
		}
		err := a.readValues(ctx, key, func(block, i int, v complex128) error {
			if block >= len(g.Blocks) || i >= sizes[block] {
				return errors.Errorf("%s block %d offset %d out of range", key, block, i)
			}
			shape := m.Blocks[block].Shape
			g.Blocks[block].Data.SetAt(unflatten(shape, i), complex64(v))
			return nil
		})
		if err != nil {
			return nil, errors.Wrap(err, "")
		}
		return g, nil
	default:
		return nil, errors.Errorf("unknown kind %#v of key %#v", kind, key)
	}
}

func (a *Archive) readValues(ctx context.Context, key string, f func(block, i int, v complex128) error) error {
	sqlStr := fmt.Sprintf(`SELECT block, i, re, im FROM %s WHERE key=? ORDER BY block, i`, tableValues)
	rows, err := a.db.QueryContext(ctx, sqlStr, key)
	if err != nil {
		return errors.Wrap(err, "")
	}
	defer rows.Close()

	for rows.Next() {
		var block, i int
		var re, im float64
		if err := rows.Scan(&block, &i, &re, &im); err != nil {
			return errors.Wrap(err, "")
		}
		if err := f(block, i, complex(re, im)); err != nil {
			return errors.Wrap(err, "")
		}
	}
	if err := rows.Err(); err != nil {
		return errors.Wrap(err, "")
	}
	return nil
}

// Keys returns all keys in ascending order.
func (a *Archive) Keys(ctx context.Context) ([]string, error) {
	sqlStr := fmt.Sprintf(`SELECT key FROM %s ORDER BY key`, tableEntries)
	rows, err := a.db.QueryContext(ctx, sqlStr)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	defer rows.Close()

	keys := make([]string, 0)
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, errors.Wrap(err, "")
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "")
	}
	return keys, nil
}

// Kind returns the kind of object stored under key.
func (a *Archive) Kind(ctx context.Context, key string) (Kind, error) {
	var kind string
	sqlStr := fmt.Sprintf(`SELECT kind FROM %s WHERE key=?`, tableEntries)
	if err := a.db.QueryRowContext(ctx, sqlStr, key).Scan(&kind); err != nil {
		return "", errors.Wrap(err, key)
	}
	return Kind(kind), nil
}

func flatten(shape, idx []int) int {
	var k int
	for d, n := range shape {
		k = k*n + idx[d]
	}
	return k
}

func unflatten(shape []int, k int) []int {
	idx := make([]int, len(shape))
	for d := len(shape) - 1; d >= 0; d-- {
		idx[d] = k % shape[d]
		k /= shape[d]
	}
	return idx
}
