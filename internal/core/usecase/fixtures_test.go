package usecase

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kirillkom/frepi-finance/internal/core/domain"
)

func testPromptLibrary() domain.PromptLibrary {
	return domain.PromptLibrary{
		SoulVersion: "test-1",
		Soul: "## Identidade\nVoce e o Frepi Financeiro, um assistente de inteligencia financeira " +
			"especializado em restaurantes brasileiros. Responda sempre em portugues.",
		Skills: map[domain.Intent]string{
			domain.IntentInvoiceUpload:  "## Habilidade Ativa: Processamento de Nota Fiscal",
			domain.IntentOnboarding:     "## Habilidade Ativa: Cadastro Financeiro",
			domain.IntentMonthlyClosure: "## Habilidade Ativa: Fechamento Mensal\n- Alvo: {cmv_target}%",
			domain.IntentCMVQuery:       "## Habilidade Ativa: Analise de CMV / Cardapio",
			domain.IntentWatchlist:      "## Habilidade Ativa: Lista de Acompanhamento de Precos",
		},
	}
}

func longText(chars int) string {
	return strings.Repeat("x", chars)
}

func userMessage(text string) domain.Message {
	return domain.Message{Role: domain.RoleUser, Content: text}
}

// memStore is an in-memory ports.Store evaluating filters like the SQL store.
type memStore struct {
	mu     sync.Mutex
	tables map[string][]domain.Record
	seq    int
	fail   map[string]error
}

func newMemStore() *memStore {
	return &memStore{tables: make(map[string][]domain.Record), fail: make(map[string]error)}
}

func (s *memStore) seed(table string, rows ...domain.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range rows {
		s.tables[table] = append(s.tables[table], cloneRecord(row))
	}
}

func (s *memStore) rows(table string) []domain.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Record, 0, len(s.tables[table]))
	for _, row := range s.tables[table] {
		out = append(out, cloneRecord(row))
	}
	return out
}

func (s *memStore) FetchOne(ctx context.Context, table string, q domain.Query) (domain.Record, error) {
	q.Limit = 1
	rows, err := s.FetchMany(ctx, table, q)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return rows[0], nil
}

func (s *memStore) FetchMany(_ context.Context, table string, q domain.Query) ([]domain.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail[table]; err != nil {
		return nil, err
	}
	var out []domain.Record
	for _, row := range s.tables[table] {
		if matchesAll(row, q.Filters) {
			out = append(out, cloneRecord(row))
		}
	}
	if len(q.Order) > 0 {
		sort.SliceStable(out, func(i, j int) bool {
			for _, o := range q.Order {
				c := compareValues(out[i][o.Column], out[j][o.Column])
				if c == 0 {
					continue
				}
				if o.Desc {
					return c > 0
				}
				return c < 0
			}
			return false
		})
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *memStore) Insert(_ context.Context, table string, record domain.Record) (domain.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail[table]; err != nil {
		return nil, err
	}
	row := cloneRecord(record)
	s.seq++
	if _, ok := row["id"]; !ok {
		if table == domain.TableRestaurants {
			row["id"] = int64(100 + s.seq)
		} else {
			row["id"] = fmt.Sprintf("%s-%d", table, s.seq)
		}
	}
	if _, ok := row["created_at"]; !ok {
		row["created_at"] = time.Date(2025, 1, 1, 0, 0, s.seq, 0, time.UTC).Format(time.RFC3339Nano)
	}
	s.tables[table] = append(s.tables[table], row)
	return cloneRecord(row), nil
}

func (s *memStore) Update(_ context.Context, table string, filters []domain.Filter, patch domain.Record) (domain.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail[table]; err != nil {
		return nil, err
	}
	var first domain.Record
	for _, row := range s.tables[table] {
		if !matchesAll(row, filters) {
			continue
		}
		for k, v := range patch {
			row[k] = v
		}
		if first == nil {
			first = cloneRecord(row)
		}
	}
	return first, nil
}

func cloneRecord(r domain.Record) domain.Record {
	out := make(domain.Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

func matchesAll(row domain.Record, filters []domain.Filter) bool {
	for _, f := range filters {
		if !matches(row, f) {
			return false
		}
	}
	return true
}

func matches(row domain.Record, f domain.Filter) bool {
	v, present := row[f.Column]
	switch f.Op {
	case domain.OpIsNull:
		return !present || v == nil
	case domain.OpNotNull:
		return present && v != nil
	case domain.OpEq:
		return present && compareValues(v, f.Value) == 0
	case domain.OpNeq:
		return !present || compareValues(v, f.Value) != 0
	case domain.OpGt:
		return present && compareValues(v, f.Value) > 0
	case domain.OpGte:
		return present && compareValues(v, f.Value) >= 0
	case domain.OpLt:
		return present && compareValues(v, f.Value) < 0
	case domain.OpLte:
		return present && compareValues(v, f.Value) <= 0
	case domain.OpIn:
		for _, candidate := range f.Value.([]any) {
			if present && compareValues(v, candidate) == 0 {
				return true
			}
		}
		return false
	case domain.OpILike:
		s, ok := v.(string)
		if !ok {
			return false
		}
		pattern := "(?is)^" + strings.ReplaceAll(regexp.QuoteMeta(f.Value.(string)), "%", ".*") + "$"
		return regexp.MustCompile(pattern).MatchString(s)
	}
	return false
}

func compareValues(a, b any) int {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0
		case a == nil:
			return -1
		default:
			return 1
		}
	}
	fa, okA := numeric(a)
	fb, okB := numeric(b)
	if okA && okB {
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		default:
			return 0
		}
	}
	if ba, ok := a.(bool); ok {
		if bb, ok := b.(bool); ok && ba == bb {
			return 0
		}
		return 1
	}
	if ta, ok := a.(time.Time); ok {
		a = ta.UTC().Format(time.RFC3339Nano)
	}
	if tb, ok := b.(time.Time); ok {
		b = tb.UTC().Format(time.RFC3339Nano)
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func numeric(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func fixedNow() time.Time {
	return time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)
}
