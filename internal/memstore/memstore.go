// Package memstore is an in-memory store executing write commands. It
// backs the session tests and the dry runs of the uowplan command.
package memstore

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/syssam/uow/dialect"
	"github.com/syssam/uow/dialect/sql/sqlgraph"
	"github.com/syssam/uow/keygen"
	"github.com/syssam/uow/schema"
	"github.com/syssam/uow/value"
)

type (
	// Store keeps rows in memory, encoded with msgpack so that callers
	// never share memory with stored rows.
	Store struct {
		mu       sync.Mutex
		tables   map[string]*table
		seqs     map[string]int64
		version  int64
		commands []dialect.Command
		enforce  bool
		fail     func(dialect.Command) error
	}

	table struct {
		entity   *schema.EntityType
		rows     map[string][]byte
		order    []string
		identity int64
	}

	// Option configures a Store.
	Option func(*Store)
)

// WithForeignKeys makes the store reject writes that break a foreign key,
// the way a database with enforced constraints does.
func WithForeignKeys() Option {
	return func(s *Store) {
		s.enforce = true
	}
}

// WithFailure installs a hook consulted before every command. A non-nil
// error fails the command without effect.
func WithFailure(f func(dialect.Command) error) Option {
	return func(s *Store) {
		s.fail = f
	}
}

// New returns an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		tables: make(map[string]*table),
		seqs:   make(map[string]int64),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Execute implements dialect.Executor.
func (s *Store) Execute(ctx context.Context, cmd dialect.Command) (dialect.Result, error) {
	if err := ctx.Err(); err != nil {
		return dialect.Result{}, err
	}
	if cmd.Entity == nil {
		return dialect.Result{}, fmt.Errorf("memstore: command without entity type")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		if err := s.fail(cmd); err != nil {
			return dialect.Result{}, err
		}
	}
	s.commands = append(s.commands, clone(cmd))
	t := s.table(cmd.Entity)
	switch cmd.Op {
	case dialect.Insert:
		return s.insert(t, cmd)
	case dialect.Update:
		return s.update(t, cmd)
	case dialect.Delete:
		return s.delete(t, cmd)
	default:
		return dialect.Result{}, fmt.Errorf("memstore: unknown operation %d", cmd.Op)
	}
}

func (s *Store) insert(t *table, cmd dialect.Command) (dialect.Result, error) {
	row := make(map[string]any, len(cmd.Values)+len(cmd.Key))
	for k, v := range cmd.Key {
		row[k] = storable(v)
	}
	for k, v := range cmd.Values {
		row[k] = storable(v)
	}
	res := dialect.Result{RowsAffected: 1}
	for _, name := range cmd.Generated {
		p, ok := t.entity.Property(name)
		if !ok {
			return dialect.Result{}, fmt.Errorf("memstore: %s: unknown property %q", t.entity.Name, name)
		}
		var v any
		switch {
		case p.Strategy == schema.StoreIdentity:
			t.identity++
			v = t.identity
		case p.StoreComputed:
			v = s.nextVersion(p)
		default:
			continue
		}
		row[name] = v
		if res.Generated == nil {
			res.Generated = make(map[string]any, len(cmd.Generated))
		}
		res.Generated[name] = v
	}
	key, err := t.key(row)
	if err != nil {
		return dialect.Result{}, err
	}
	if _, dup := t.rows[key]; dup {
		return dialect.Result{}, &sqlgraph.ConstraintError{
			Kind: sqlgraph.Unique,
			Name: t.entity.Table + "_pkey",
			Err:  fmt.Errorf("memstore: duplicate key %s", t.describe(row)),
		}
	}
	if err := s.checkReferences(t, row); err != nil {
		return dialect.Result{}, err
	}
	if err := t.put(key, row); err != nil {
		return dialect.Result{}, err
	}
	if id, ok := row[identityName(t.entity)].(int64); ok && id > t.identity {
		t.identity = id
	}
	return res, nil
}

// match returns the stored row addressed by the command when its
// precondition holds. The actual token values are returned otherwise.
func (s *Store) match(t *table, cmd dialect.Command) (string, map[string]any, map[string]any, error) {
	key, err := t.key(cmd.Key)
	if err != nil {
		return "", nil, nil, err
	}
	row, ok, err := t.get(key)
	if err != nil || !ok {
		return "", nil, nil, err
	}
	for name, want := range cmd.Precondition {
		p, _ := t.entity.Property(name)
		if !value.Equal(row[name], want, value.For(p)...) {
			actual := make(map[string]any, len(cmd.Precondition))
			for name := range cmd.Precondition {
				actual[name] = row[name]
			}
			return "", nil, actual, nil
		}
	}
	return key, row, nil, nil
}

func (s *Store) update(t *table, cmd dialect.Command) (dialect.Result, error) {
	key, row, actual, err := s.match(t, cmd)
	if err != nil {
		return dialect.Result{}, err
	}
	if row == nil {
		return dialect.Result{Actual: actual}, nil
	}
	for k, v := range cmd.Values {
		if t.entity.IsKey(k) {
			continue
		}
		row[k] = storable(v)
	}
	res := dialect.Result{RowsAffected: 1}
	for _, p := range t.entity.StoreComputed() {
		v := s.nextVersion(p)
		row[p.Name] = v
		if slices.Contains(cmd.Generated, p.Name) {
			if res.Generated == nil {
				res.Generated = make(map[string]any)
			}
			res.Generated[p.Name] = v
		}
	}
	if err := s.checkReferences(t, row); err != nil {
		return dialect.Result{}, err
	}
	if err := t.put(key, row); err != nil {
		return dialect.Result{}, err
	}
	if id, ok := row[identityName(t.entity)].(int64); ok && id > t.identity {
		t.identity = id
	}
	return res, nil
}

func (s *Store) delete(t *table, cmd dialect.Command) (dialect.Result, error) {
	key, row, actual, err := s.match(t, cmd)
	if err != nil {
		return dialect.Result{}, err
	}
	if row == nil {
		return dialect.Result{Actual: actual}, nil
	}
	if err := s.checkReferenced(t, row); err != nil {
		return dialect.Result{}, err
	}
	delete(t.rows, key)
	t.order = slices.DeleteFunc(t.order, func(k string) bool { return k == key })
	return dialect.Result{RowsAffected: 1}, nil
}

// checkReferences verifies that every non-null foreign key of row points
// to a stored principal.
func (s *Store) checkReferences(t *table, row map[string]any) error {
	if !s.enforce {
		return nil
	}
	for _, fk := range t.entity.ForeignKeys {
		values := make([]any, len(fk.Properties))
		null := false
		for i, name := range fk.Properties {
			values[i] = row[name]
			null = null || values[i] == nil
		}
		if null {
			continue
		}
		found, err := s.exists(fk.PrincipalType(), fk.PrincipalKey, values)
		if err != nil {
			return err
		}
		if !found {
			return &sqlgraph.ConstraintError{
				Kind: sqlgraph.ForeignKey,
				Name: fk.Name,
				Err:  fmt.Errorf("memstore: %s references missing %s %v", t.entity.Name, fk.Principal, values),
			}
		}
	}
	return nil
}

// checkReferenced verifies that no stored dependent points to row.
func (s *Store) checkReferenced(t *table, row map[string]any) error {
	if !s.enforce {
		return nil
	}
	for _, fk := range t.entity.Inbound() {
		values := make([]any, len(fk.PrincipalKey))
		for i, name := range fk.PrincipalKey {
			values[i] = row[name]
		}
		found, err := s.exists(fk.Dependent(), fk.Properties, values)
		if err != nil {
			return err
		}
		if found {
			return &sqlgraph.ConstraintError{
				Kind: sqlgraph.ForeignKey,
				Name: fk.Name,
				Err:  fmt.Errorf("memstore: %s %v is referenced by %s", t.entity.Name, values, fk.Dependent().Name),
			}
		}
	}
	return nil
}

// exists reports whether a row of et holds values in the given properties.
func (s *Store) exists(et *schema.EntityType, props []string, values []any) (bool, error) {
	t := s.table(et)
	if slices.Equal(props, et.KeyNames()) {
		row := make(map[string]any, len(props))
		for i, name := range props {
			row[name] = values[i]
		}
		key, err := t.key(row)
		if err != nil {
			return false, err
		}
		_, ok := t.rows[key]
		return ok, nil
	}
	for _, k := range t.order {
		row, _, err := t.get(k)
		if err != nil {
			return false, err
		}
		if rowMatches(et, row, props, values) {
			return true, nil
		}
	}
	return false, nil
}

func rowMatches(et *schema.EntityType, row map[string]any, props []string, values []any) bool {
	for i, name := range props {
		p, _ := et.Property(name)
		if !value.Equal(row[name], values[i], value.For(p)...) {
			return false
		}
	}
	return true
}

// NextBlock implements keygen.Provider with in-memory sequences starting
// at 1.
func (s *Store) NextBlock(ctx context.Context, req keygen.Request, n int) ([]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	values := make([]any, n)
	for i := range values {
		s.seqs[req.Sequence]++
		values[i] = s.seqs[req.Sequence]
	}
	return values, nil
}

// Put stores a row as is, bypassing constraints. It replaces a row with
// the same key.
func (s *Store) Put(et *schema.EntityType, row map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.table(et)
	stored := make(map[string]any, len(row))
	for k, v := range row {
		stored[k] = storable(v)
	}
	key, err := t.key(stored)
	if err != nil {
		return err
	}
	if id, ok := stored[identityName(et)].(int64); ok && id > t.identity {
		t.identity = id
	}
	return t.put(key, stored)
}

// Tamper changes a stored row the way a concurrent writer would. Store
// computed properties get a new version.
func (s *Store) Tamper(et *schema.EntityType, key map[string]any, values map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.table(et)
	k, err := t.key(key)
	if err != nil {
		return err
	}
	row, ok, err := t.get(k)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("memstore: %s: no row %s", et.Name, t.describe(key))
	}
	for name, v := range values {
		row[name] = storable(v)
	}
	for _, p := range et.StoreComputed() {
		row[p.Name] = s.nextVersion(p)
	}
	return t.put(k, row)
}

// Row returns a copy of the stored row with the given key.
func (s *Store) Row(et *schema.EntityType, key map[string]any) (map[string]any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.table(et)
	k, err := t.key(key)
	if err != nil {
		return nil, false
	}
	row, ok, err := t.get(k)
	if err != nil {
		return nil, false
	}
	return row, ok
}

// Rows returns copies of the stored rows of et in insertion order.
func (s *Store) Rows(et *schema.EntityType) []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.table(et)
	rows := make([]map[string]any, 0, len(t.order))
	for _, k := range t.order {
		if row, ok, err := t.get(k); err == nil && ok {
			rows = append(rows, row)
		}
	}
	return rows
}

// Commands returns the commands executed so far, including those rejected
// by a constraint.
func (s *Store) Commands() []dialect.Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.commands)
}

// Log renders the executed commands one per line, like
// "insert Order {CustomerID=ALFKI}".
func (s *Store) Log() string {
	var sb strings.Builder
	for _, cmd := range s.Commands() {
		sb.WriteString(cmd.Op.String())
		sb.WriteByte(' ')
		sb.WriteString(cmd.Entity.Name)
		if len(cmd.Key) > 0 {
			sb.WriteString(" key")
			sb.WriteString(format(cmd.Key))
		}
		if len(cmd.Values) > 0 {
			sb.WriteByte(' ')
			sb.WriteString(format(cmd.Values))
		}
		if len(cmd.Precondition) > 0 {
			sb.WriteString(" if")
			sb.WriteString(format(cmd.Precondition))
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

func (s *Store) table(et *schema.EntityType) *table {
	t, ok := s.tables[et.Name]
	if !ok {
		t = &table{entity: et, rows: make(map[string][]byte)}
		s.tables[et.Name] = t
	}
	return t
}

// nextVersion returns a store-wide increasing row version of the
// property's type.
func (s *Store) nextVersion(p *schema.Property) any {
	s.version++
	switch {
	case p.Type == schema.TypeBytes:
		return binary.BigEndian.AppendUint64(nil, uint64(s.version))
	case p.Type == schema.TypeString:
		return strconv.FormatInt(s.version, 10)
	default:
		return s.version
	}
}

func (t *table) key(row map[string]any) (string, error) {
	keys := t.entity.Keys()
	parts := make([]string, len(keys))
	for i, p := range keys {
		v, ok := row[p.Name]
		if !ok || v == nil {
			return "", fmt.Errorf("memstore: %s: missing key value %s", t.entity.Name, p.Name)
		}
		parts[i] = value.Canonical(v, value.For(p)...)
	}
	return strings.Join(parts, "\x1f"), nil
}

func (t *table) describe(row map[string]any) string {
	key := make(map[string]any, len(t.entity.Keys()))
	for _, name := range t.entity.KeyNames() {
		key[name] = row[name]
	}
	return format(key)
}

func (t *table) put(key string, row map[string]any) error {
	b, err := msgpack.Marshal(row)
	if err != nil {
		return fmt.Errorf("memstore: encode %s row: %w", t.entity.Name, err)
	}
	if _, ok := t.rows[key]; !ok {
		t.order = append(t.order, key)
	}
	t.rows[key] = b
	return nil
}

func (t *table) get(key string) (map[string]any, bool, error) {
	b, ok := t.rows[key]
	if !ok {
		return nil, false, nil
	}
	dec := msgpack.NewDecoder(bytes.NewReader(b))
	dec.UseLooseInterfaceDecoding(true)
	var row map[string]any
	if err := dec.Decode(&row); err != nil {
		return nil, false, fmt.Errorf("memstore: decode %s row: %w", t.entity.Name, err)
	}
	for k, v := range row {
		switch v.(type) {
		case uint64, time.Time:
			row[k] = value.Normalize(v)
		}
	}
	return row, true, nil
}

func identityName(et *schema.EntityType) string {
	for _, p := range et.Keys() {
		if p.Strategy == schema.StoreIdentity {
			return p.Name
		}
	}
	return ""
}

// storable returns the form a value is stored in: binary values are
// copied and everything else is normalized to its comparable form.
func storable(v any) any {
	if b, ok := v.([]byte); ok {
		if b == nil {
			return nil
		}
		return bytes.Clone(b)
	}
	n := value.Normalize(v)
	switch n.(type) {
	case nil, int64, uint64, float64, string, bool, time.Time:
		return n
	}
	if s, ok := n.(fmt.Stringer); ok {
		return s.String()
	}
	return n
}

func clone(cmd dialect.Command) dialect.Command {
	cmd.Key = maps.Clone(cmd.Key)
	cmd.Values = maps.Clone(cmd.Values)
	cmd.Precondition = maps.Clone(cmd.Precondition)
	cmd.Generated = slices.Clone(cmd.Generated)
	return cmd
}

func format(m map[string]any) string {
	var sb strings.Builder
	sb.WriteByte('{')
	for i, k := range slices.Sorted(maps.Keys(m)) {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%s=%v", k, m[k])
	}
	sb.WriteByte('}')
	return sb.String()
}

var (
	_ dialect.Executor = (*Store)(nil)
	_ keygen.Provider  = (*Store)(nil)
)
