package sheets

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	sheetsapi "google.golang.org/api/sheets/v4"

	"review_pipeline/internal/app/apperrors"
	"review_pipeline/internal/app/config"
	"review_pipeline/internal/app/logger"
	"review_pipeline/internal/app/retry"
)

const spreadsheetMimeType = "application/vnd.google-apps.spreadsheet"

// GoogleDestination は Drive フォルダ内の名前でスプレッドシートを探し、指定タブへ書き込みます。
type GoogleDestination struct {
	drive  *drive.Service
	sheets *sheetsapi.Service

	folderID string
	name     string
	tab      string
	timeout  time.Duration
	retry    *retry.Config
	log      *logger.Logger

	spreadsheetID string
	sheetID       int64
}

// ClientOptions は認証情報のパスか JSON 文字列からクライアントオプションを作ります。
func ClientOptions(credentials string) []option.ClientOption {
	creds := strings.TrimSpace(credentials)
	opts := []option.ClientOption{option.WithScopes(drive.DriveScope, sheetsapi.SpreadsheetsScope)}
	if creds == "" {
		return opts
	}
	if strings.HasPrefix(creds, "{") {
		return append(opts, option.WithCredentialsJSON([]byte(creds)))
	}
	return append(opts, option.WithCredentialsFile(creds))
}

// NewGoogleDestination はサービスアカウントの認証情報で Drive と Sheets のクライアントを作成します。
func NewGoogleDestination(ctx context.Context, cfg config.SheetsConfig, log *logger.Logger) (*GoogleDestination, error) {
	opts := ClientOptions(cfg.CredentialsPath)
	driveSvc, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create drive client: %w", err)
	}
	sheetsSvc, err := sheetsapi.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets client: %w", err)
	}
	return NewGoogleDestinationFromServices(driveSvc, sheetsSvc, cfg, log), nil
}

func NewGoogleDestinationFromServices(driveSvc *drive.Service, sheetsSvc *sheetsapi.Service, cfg config.SheetsConfig, log *logger.Logger) *GoogleDestination {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &GoogleDestination{
		drive:    driveSvc,
		sheets:   sheetsSvc,
		folderID: cfg.FolderID,
		name:     cfg.SpreadsheetName,
		tab:      cfg.Tab,
		timeout:  timeout,
		retry:    retry.DefaultConfig(),
		log:      log.With("component", "sheets"),
	}
}

func (g *GoogleDestination) Name() string {
	return fmt.Sprintf("%s/%s", g.name, g.tab)
}

// Resolve はスプレッドシート、タブ、ヘッダー行を確定します。
func (g *GoogleDestination) Resolve(ctx context.Context) error {
	id, err := g.findSpreadsheet(ctx)
	if err != nil {
		return err
	}
	g.spreadsheetID = id

	sheetID, created, err := g.ensureTab(ctx)
	if err != nil {
		return err
	}
	g.sheetID = sheetID

	if err := g.ensureHeader(ctx, created); err != nil {
		return err
	}
	g.log.Info("destination resolved", "spreadsheet_id", g.spreadsheetID, "tab", g.tab, "tab_created", created)
	return nil
}

func (g *GoogleDestination) findSpreadsheet(ctx context.Context) (string, error) {
	q := fmt.Sprintf("'%s' in parents and mimeType='%s' and name='%s' and trashed=false",
		escapeQuery(g.folderID), spreadsheetMimeType, escapeQuery(g.name))

	var list *drive.FileList
	err := g.call(ctx, "find spreadsheet", func(ctx context.Context) error {
		var err error
		list, err = g.drive.Files.List().
			Q(q).
			Spaces("drive").
			Fields("files(id, name)").
			SupportsAllDrives(true).
			IncludeItemsFromAllDrives(true).
			Context(ctx).
			Do()
		return err
	})
	if err != nil {
		return "", err
	}
	if len(list.Files) == 0 {
		return "", apperrors.New(apperrors.KindDestinationNotFound, "find spreadsheet", "",
			fmt.Errorf("spreadsheet %q not found in folder %s", g.name, g.folderID))
	}
	if len(list.Files) > 1 {
		g.log.Warn("multiple spreadsheets share the name, using the first", "name", g.name, "count", len(list.Files))
	}
	return list.Files[0].Id, nil
}

func (g *GoogleDestination) ensureTab(ctx context.Context) (int64, bool, error) {
	var ss *sheetsapi.Spreadsheet
	err := g.call(ctx, "get spreadsheet", func(ctx context.Context) error {
		var err error
		ss, err = g.sheets.Spreadsheets.Get(g.spreadsheetID).Fields("sheets.properties").Context(ctx).Do()
		return err
	})
	if err != nil {
		return 0, false, err
	}
	for _, sh := range ss.Sheets {
		if sh.Properties != nil && sh.Properties.Title == g.tab {
			return sh.Properties.SheetId, false, nil
		}
	}

	req := &sheetsapi.BatchUpdateSpreadsheetRequest{
		Requests: []*sheetsapi.Request{{
			AddSheet: &sheetsapi.AddSheetRequest{
				Properties: &sheetsapi.SheetProperties{
					Title:          g.tab,
					GridProperties: &sheetsapi.GridProperties{FrozenRowCount: 1, ColumnCount: int64(len(Columns))},
				},
			},
		}},
	}
	var resp *sheetsapi.BatchUpdateSpreadsheetResponse
	err = g.call(ctx, "create tab", func(ctx context.Context) error {
		var err error
		resp, err = g.sheets.Spreadsheets.BatchUpdate(g.spreadsheetID, req).Context(ctx).Do()
		return err
	})
	if err != nil {
		return 0, false, err
	}
	if len(resp.Replies) == 0 || resp.Replies[0].AddSheet == nil || resp.Replies[0].AddSheet.Properties == nil {
		return 0, false, apperrors.New(apperrors.KindUnknown, "create tab", "", errors.New("empty addSheet reply"))
	}
	return resp.Replies[0].AddSheet.Properties.SheetId, true, nil
}

func (g *GoogleDestination) ensureHeader(ctx context.Context, created bool) error {
	if !created {
		var vr *sheetsapi.ValueRange
		err := g.call(ctx, "read header", func(ctx context.Context) error {
			var err error
			vr, err = g.sheets.Spreadsheets.Values.Get(g.spreadsheetID, a1(g.tab, "1:1")).Context(ctx).Do()
			return err
		})
		if err != nil {
			return err
		}
		if len(vr.Values) > 0 && len(vr.Values[0]) > 0 {
			return nil
		}
	}
	header := &sheetsapi.ValueRange{Values: [][]interface{}{Header()}}
	return g.call(ctx, "write header", func(ctx context.Context) error {
		_, err := g.sheets.Spreadsheets.Values.Update(g.spreadsheetID, a1(g.tab, "A1"), header).
			ValueInputOption("RAW").Context(ctx).Do()
		return err
	})
}

func (g *GoogleDestination) Keys(ctx context.Context) (map[Key]int, error) {
	var vr *sheetsapi.ValueRange
	err := g.call(ctx, "read keys", func(ctx context.Context) error {
		var err error
		vr, err = g.sheets.Spreadsheets.Values.Get(g.spreadsheetID, a1(g.tab, "A2:D")).
			MajorDimension("ROWS").Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, err
	}
	keys := make(map[Key]int, len(vr.Values))
	for i, row := range vr.Values {
		if k, ok := keyOf(row); ok {
			keys[k] = i + 2
		}
	}
	return keys, nil
}

func (g *GoogleDestination) Write(ctx context.Context, updates map[int][]interface{}, appends [][]interface{}) error {
	if len(updates) > 0 {
		rows := make([]int, 0, len(updates))
		for n := range updates {
			rows = append(rows, n)
		}
		sort.Ints(rows)
		data := make([]*sheetsapi.ValueRange, 0, len(rows))
		for _, n := range rows {
			data = append(data, &sheetsapi.ValueRange{
				Range:  a1(g.tab, fmt.Sprintf("A%d", n)),
				Values: [][]interface{}{entered(updates[n])},
			})
		}
		req := &sheetsapi.BatchUpdateValuesRequest{ValueInputOption: "USER_ENTERED", Data: data}
		err := g.call(ctx, "update rows", func(ctx context.Context) error {
			_, err := g.sheets.Spreadsheets.Values.BatchUpdate(g.spreadsheetID, req).Context(ctx).Do()
			return err
		})
		if err != nil {
			return err
		}
	}

	if len(appends) > 0 {
		rows := make([][]interface{}, len(appends))
		for i, row := range appends {
			rows[i] = entered(row)
		}
		vr := &sheetsapi.ValueRange{Values: rows}
		err := g.call(ctx, "append rows", func(ctx context.Context) error {
			_, err := g.sheets.Spreadsheets.Values.Append(g.spreadsheetID, a1(g.tab, "A1"), vr).
				ValueInputOption("USER_ENTERED").
				InsertDataOption("INSERT_ROWS").
				Context(ctx).
				Do()
			return err
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// entered は USER_ENTERED で書き込む行を作ります。キー列と "=" で始まる文字列は
// 先頭に ' を付けて文字列のまま保存させます。数値や日付の列は変換させます。
// 先頭の ' はセルの値には残らないため、Keys で読み戻したキーは書き込んだ値と一致します。
func entered(values []interface{}) []interface{} {
	out := make([]interface{}, len(values))
	for i, v := range values {
		str, ok := v.(string)
		if ok && str != "" && (i == weekColumn || i == brandColumn || strings.HasPrefix(str, "=")) {
			v = "'" + str
		}
		out[i] = v
	}
	return out
}

// SortByWeek は iso_week、同じ週は brand_name の昇順で並べます。
func (g *GoogleDestination) SortByWeek(ctx context.Context, descending bool) error {
	order := "ASCENDING"
	if descending {
		order = "DESCENDING"
	}
	req := &sheetsapi.BatchUpdateSpreadsheetRequest{
		Requests: []*sheetsapi.Request{{
			SortRange: &sheetsapi.SortRangeRequest{
				Range: &sheetsapi.GridRange{
					SheetId:          g.sheetID,
					StartRowIndex:    1,
					StartColumnIndex: 0,
					EndColumnIndex:   int64(len(Columns)),
					ForceSendFields:  []string{"SheetId", "StartColumnIndex"},
				},
				SortSpecs: []*sheetsapi.SortSpec{
					{DimensionIndex: weekColumn, SortOrder: order, ForceSendFields: []string{"DimensionIndex"}},
					{DimensionIndex: brandColumn, SortOrder: "ASCENDING"},
				},
			},
		}},
	}
	return g.call(ctx, "sort rows", func(ctx context.Context) error {
		_, err := g.sheets.Spreadsheets.BatchUpdate(g.spreadsheetID, req).Context(ctx).Do()
		return err
	})
}

// call は 1 回の API 呼び出しにタイムアウトを付け、レート制限の場合のみ再試行します。
func (g *GoogleDestination) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	return retry.Do(ctx, g.retry, func() error {
		callCtx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()
		if err := fn(callCtx); err != nil {
			return classify(op, err)
		}
		return nil
	})
}

// classify は Google API のエラーを種別に変換します。
func classify(op string, err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch {
		case gerr.Code == http.StatusForbidden && isQuotaError(gerr):
			return apperrors.New(apperrors.KindRateLimited, op, "", err)
		case gerr.Code == http.StatusUnauthorized || gerr.Code == http.StatusForbidden:
			return apperrors.New(apperrors.KindPermissionDenied, op, "", err)
		case gerr.Code == http.StatusNotFound:
			return apperrors.New(apperrors.KindDestinationNotFound, op, "", err)
		case gerr.Code == http.StatusTooManyRequests || gerr.Code >= http.StatusInternalServerError:
			return apperrors.New(apperrors.KindRateLimited, op, "", err)
		case gerr.Code == http.StatusBadRequest && strings.Contains(gerr.Message, "Unable to parse range"):
			return apperrors.New(apperrors.KindDestinationNotFound, op, "", err)
		}
	}
	return apperrors.New(apperrors.KindUnknown, op, "", err)
}

// Drive はクォータ超過を 403 で返すことがあります。
func isQuotaError(gerr *googleapi.Error) bool {
	for _, e := range gerr.Errors {
		switch e.Reason {
		case "rateLimitExceeded", "userRateLimitExceeded":
			return true
		}
	}
	return false
}

// a1 はタブ名を引用符で囲んだ A1 表記です。
func a1(tab, ref string) string {
	return "'" + strings.ReplaceAll(tab, "'", "''") + "'!" + ref
}

func escapeQuery(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `'`, `\'`)
}
