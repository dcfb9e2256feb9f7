package sheets

import (
	"context"
	"sync"

	"review_pipeline/internal/app/logger"
)

// Destination は書き込み先のタブです。GoogleDestination と MemoryDestination が満たします。
//
// 行番号はシート上の 1 始まりの番号で、ヘッダーが 1 行目です。
type Destination interface {
	// Resolve はスプレッドシートとタブを特定します。タブが無ければヘッダー付きで作成します。
	Resolve(ctx context.Context) error
	// Keys は既存データ行のキーと行番号です。
	Keys(ctx context.Context) (map[Key]int, error)
	// Write は updates (行番号 → 値) を上書きし、appends を末尾に追記します。
	Write(ctx context.Context, updates map[int][]interface{}, appends [][]interface{}) error
	// SortByWeek はデータ行を iso_week で並べ替えます。
	SortByWeek(ctx context.Context, descending bool) error
	// Name はログ用の表示名です。
	Name() string
}

// WriteResult は Write の結果です。
type WriteResult struct {
	Updated  int
	Appended int
}

// Sink は Destination への書き込みを直列化します。
// 複数ブランドを並行に処理しても行番号の読み取りと書き込みが交錯しません。
type Sink struct {
	mu       sync.Mutex
	dest     Destination
	sortDesc bool
	resolved bool
	log      *logger.Logger
}

func NewSink(dest Destination, sortDescending bool, log *logger.Logger) *Sink {
	return &Sink{dest: dest, sortDesc: sortDescending, log: log.With("component", "sheets", "destination", dest.Name())}
}

// Resolve は書き込み先を確定します。ブランドの処理を始める前に呼び出し、失敗した場合は実行全体を中止します。
func (s *Sink) Resolve(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resolveLocked(ctx)
}

func (s *Sink) resolveLocked(ctx context.Context) error {
	if s.resolved {
		return nil
	}
	if err := s.dest.Resolve(ctx); err != nil {
		return err
	}
	s.resolved = true
	return nil
}

// Write は rows を (brand, week) をキーに書き込みます。既存のキーは行を上書きし、新しいキーだけを追記します。
// 同じキーが rows に複数あれば後の行が優先されます。
func (s *Sink) Write(ctx context.Context, rows []Row) (WriteResult, error) {
	var res WriteResult
	if len(rows) == 0 {
		return res, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.resolveLocked(ctx); err != nil {
		return res, err
	}
	existing, err := s.dest.Keys(ctx)
	if err != nil {
		return res, err
	}

	updates := make(map[int][]interface{})
	var appends [][]interface{}
	pending := make(map[Key]int)
	for _, r := range rows {
		if n, ok := existing[r.Key]; ok {
			updates[n] = r.Values
			continue
		}
		if i, ok := pending[r.Key]; ok {
			appends[i] = r.Values
			continue
		}
		pending[r.Key] = len(appends)
		appends = append(appends, r.Values)
	}

	if err := s.dest.Write(ctx, updates, appends); err != nil {
		return res, err
	}
	res.Updated = len(updates)
	res.Appended = len(appends)

	if len(appends) > 0 && s.sortDesc {
		if err := s.dest.SortByWeek(ctx, true); err != nil {
			// 並べ替えの失敗は書き込み結果に影響しない
			s.log.Warn("failed to sort rows", "error", err)
		}
	}
	s.log.Info("rows written", "brand", rows[0].Key.Brand, "updated", res.Updated, "appended", res.Appended)
	return res, nil
}
