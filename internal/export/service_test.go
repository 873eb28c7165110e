package export

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/packet-parser/constants"
	"github.com/joseph-ayodele/packet-parser/internal/entity"
	"github.com/joseph-ayodele/packet-parser/internal/repository"
)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newRepo(t *testing.T) repository.ParseRepository {
	t.Helper()
	ctx := context.Background()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := repository.OpenSQLite(ctx, "file:"+name+"?mode=memory&cache=shared", quiet())
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { db.Close(quiet()) })
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return repository.NewParseRepository(db, quiet())
}

func seed(t *testing.T, repo repository.ParseRepository, owner string, status constants.ParseStatus, price float64, finalized time.Time) {
	t.Helper()
	city := "Fresno"
	p := &entity.Parse{
		OwnerID:  owner,
		FileName: "packet.pdf",
		Format:   constants.FormatPDF,
		Status:   status,
	}
	if status.IsFinal() {
		p.Canonical = &entity.UniversalExtractionResult{
			ContractFields: entity.ContractFields{
				BuyerNames:      []string{"Alice", "Bob"},
				PurchasePrice:   &price,
				PropertyAddress: &entity.Address{City: &city},
			},
			OverallConfidence: 88,
		}
		p.Confidence = &entity.ConfidenceSummary{Overall: 88}
		p.FinalizedAt = &finalized
	}
	if err := repo.Create(context.Background(), p); err != nil {
		t.Fatalf("Create: %v", err)
	}
}

func readRows(t *testing.T, data []byte) [][]string {
	t.Helper()
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer f.Close()
	rows, err := f.GetRows(sheet)
	if err != nil {
		t.Fatalf("GetRows: %v", err)
	}
	return rows
}

func column(header []string, name string) int {
	for i, h := range header {
		if h == name {
			return i
		}
	}
	return -1
}

func TestExportParsesXLSX(t *testing.T) {
	repo := newRepo(t)
	now := time.Now().UTC()
	seed(t, repo, "owner-1", constants.ParseStatusCompleted, 510000, now)
	seed(t, repo, "owner-1", constants.ParseStatusPending, 0, now)
	seed(t, repo, "owner-2", constants.ParseStatusCompleted, 1, now)

	data, err := NewService(repo, quiet()).ExportParsesXLSX(context.Background(), "owner-1", nil, nil)
	if err != nil {
		t.Fatalf("ExportParsesXLSX: %v", err)
	}
	rows := readRows(t, data)
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want header + 1", len(rows))
	}
	header, row := rows[0], rows[1]
	if got := row[column(header, "purchasePrice")]; got != "510000" {
		t.Errorf("purchasePrice cell = %q", got)
	}
	if got := row[column(header, "buyerNames")]; got != "Alice; Bob" {
		t.Errorf("buyerNames cell = %q", got)
	}
	if got := row[column(header, "propertyAddress")]; got != "city: Fresno" {
		t.Errorf("propertyAddress cell = %q", got)
	}
	if got := row[column(header, "Status")]; got != "COMPLETED" {
		t.Errorf("status cell = %q", got)
	}
}

func TestExportWindow(t *testing.T) {
	repo := newRepo(t)
	old := time.Date(2024, 1, 10, 15, 0, 0, 0, time.UTC)
	recent := time.Date(2024, 3, 5, 9, 0, 0, 0, time.UTC)
	seed(t, repo, "owner-1", constants.ParseStatusCompleted, 100, old)
	seed(t, repo, "owner-1", constants.ParseStatusNeedsReview, 200, recent)

	tests := []struct {
		name     string
		from, to *time.Time
		want     int
	}{
		{"all", nil, nil, 2},
		{"to only", nil, &old, 1},
		{"from only", &recent, nil, 1},
		{"both inclusive", &old, &recent, 2},
	}
	svc := NewService(repo, quiet())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := svc.ExportParsesXLSX(context.Background(), "owner-1", tt.from, tt.to)
			if err != nil {
				t.Fatalf("ExportParsesXLSX: %v", err)
			}
			if got := len(readRows(t, data)) - 1; got != tt.want {
				t.Errorf("rows = %d, want %d", got, tt.want)
			}
		})
	}
}
