package license

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"leasecli/internal/config"
	"leasecli/internal/infrastructure"
)

// Sheet layout, one license per row after the header:
// LicenseKey | EntityID | EntityName | BoundHardwareID | Active | PrivilegeTier | ReportedAppVersion
const (
	colKey = iota
	colEntityID
	colEntityName
	colHardwareID
	colActive
	colTier
	colVersion
)

// SheetsAuthority keeps license records in a Google spreadsheet.
//
// Sheets has no conditional write, so Claim serializes claims from this
// process and re-reads the row after writing. Two machines racing on the same
// unbound key resolve to whichever write landed last; the loser sees a
// foreign binding on its next Lookup.
type SheetsAuthority struct {
	service   *sheets.Service
	sheetID   string
	sheetName string
	claimMu   sync.Mutex
	logger    *slog.Logger
}

// NewSheetsAuthority creates a Sheets client using the service account
// credentials file from configuration.
func NewSheetsAuthority(ctx context.Context, cfg config.AuthorityConfig, credentialsFile string, logger *slog.Logger) (*SheetsAuthority, error) {
	credentialsJSON, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials: %w", err)
	}

	service, err := sheets.NewService(ctx,
		option.WithCredentialsJSON(credentialsJSON),
		option.WithScopes(sheets.SpreadsheetsScope),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets service: %w", err)
	}

	return NewSheetsAuthorityWithService(service, cfg.SheetID, cfg.SheetName, logger), nil
}

// NewSheetsAuthorityWithService wraps an existing Sheets service.
func NewSheetsAuthorityWithService(service *sheets.Service, sheetID, sheetName string, logger *slog.Logger) *SheetsAuthority {
	if logger == nil {
		logger = slog.Default()
	}
	return &SheetsAuthority{
		service:   service,
		sheetID:   sheetID,
		sheetName: sheetName,
		logger:    infrastructure.WithComponent(logger, "sheets_authority"),
	}
}

func (a *SheetsAuthority) Lookup(ctx context.Context, key string) (*RemoteLicenseRecord, error) {
	rows, err := a.rows(ctx)
	if err != nil {
		return nil, err
	}

	_, rec, ok := findLicenseRow(rows, key)
	if !ok {
		return nil, ErrKeyNotFound
	}
	return rec, nil
}

func (a *SheetsAuthority) Claim(ctx context.Context, key, hardwareID string) (*RemoteLicenseRecord, error) {
	a.claimMu.Lock()
	defer a.claimMu.Unlock()

	rows, err := a.rows(ctx)
	if err != nil {
		return nil, err
	}

	rowNum, rec, ok := findLicenseRow(rows, key)
	if !ok {
		return nil, ErrKeyNotFound
	}
	if rec.BoundHardwareID != "" {
		return rec, nil
	}

	if err := a.updateCell(ctx, rowNum, colHardwareID, hardwareID); err != nil {
		return nil, err
	}

	a.logger.InfoContext(ctx, "License claimed",
		slog.Int("row", rowNum),
		slog.String("entity_id", rec.EntityID))

	// Confirm against the sheet rather than trusting our own write
	return a.Lookup(ctx, key)
}

func (a *SheetsAuthority) ReportVersion(ctx context.Context, entityID, version string) error {
	rows, err := a.rows(ctx)
	if err != nil {
		return err
	}

	updated := 0
	for i, row := range rows {
		if i == 0 {
			continue // Skip header row
		}
		if cell(row, colEntityID) != entityID {
			continue
		}
		if err := a.updateCell(ctx, i+1, colVersion, version); err != nil {
			return err
		}
		updated++
	}

	if updated == 0 {
		return fmt.Errorf("entity %s not found in sheet", entityID)
	}
	return nil
}

func (a *SheetsAuthority) rows(ctx context.Context) ([][]interface{}, error) {
	resp, err := a.service.Spreadsheets.Values.Get(a.sheetID, a.sheetName).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to read from sheets: %w", err)
	}
	return resp.Values, nil
}

// updateCell writes one cell; rowNum is 1-based as in the Sheets UI
func (a *SheetsAuthority) updateCell(ctx context.Context, rowNum, col int, value string) error {
	rangeStr := fmt.Sprintf("%s!%c%d", a.sheetName, 'A'+col, rowNum)
	valueRange := &sheets.ValueRange{Values: [][]interface{}{{value}}}

	_, err := a.service.Spreadsheets.Values.Update(a.sheetID, rangeStr, valueRange).
		ValueInputOption("RAW").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("failed to update sheet %s: %w", rangeStr, err)
	}
	return nil
}

// findLicenseRow returns the 1-based row number and parsed record for key
func findLicenseRow(rows [][]interface{}, key string) (int, *RemoteLicenseRecord, bool) {
	for i, row := range rows {
		if i == 0 {
			continue // Skip header row
		}
		if NormalizeKey(cell(row, colKey)) == key {
			rec := parseLicenseRow(row)
			return i + 1, &rec, true
		}
	}
	return 0, nil, false
}

func parseLicenseRow(row []interface{}) RemoteLicenseRecord {
	return RemoteLicenseRecord{
		LicenseKey:         NormalizeKey(cell(row, colKey)),
		EntityID:           cell(row, colEntityID),
		EntityName:         cell(row, colEntityName),
		BoundHardwareID:    cell(row, colHardwareID),
		Active:             parseActive(cell(row, colActive)),
		PrivilegeTier:      ParseTier(cell(row, colTier)),
		ReportedAppVersion: cell(row, colVersion),
	}
}

// cell reads a column as trimmed text; rows are ragged when trailing cells are empty
func cell(row []interface{}, col int) string {
	if col >= len(row) || row[col] == nil {
		return ""
	}
	return strings.TrimSpace(fmt.Sprintf("%v", row[col]))
}

func parseActive(v string) bool {
	switch strings.ToLower(v) {
	case "true", "yes", "1", "active":
		return true
	default:
		return false
	}
}
