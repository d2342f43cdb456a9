package ingest

import (
	"strings"
	"testing"

	"github.com/alecthomas/assert/v2"

	"budgetwatch/internal/core"
)

func TestReadCSV(t *testing.T) {
	input := `Description,Amount,Category,Type,Date
Supermarket,80.50,Groceries,expense,2024-03-02
Salary,4200,Salary,income,

Bus pass,"30,00",Transport,expense,2024-03-05
`
	records, err := ReadCSV(strings.NewReader(input), core.Imported)
	assert.NoError(t, err)
	assert.Equal(t, 3, len(records))
	assert.Equal(t, core.RawTransactionRecord{
		Description: "Supermarket", Amount: "80.50", Category: "Groceries",
		Type: "expense", Date: "2024-03-02", Source: core.Imported,
	}, records[0])
	assert.Equal(t, "", records[1].Date)
	assert.Equal(t, "30,00", records[2].Amount)
}

func TestReadCSVWithoutDateColumn(t *testing.T) {
	records, err := ReadCSV(strings.NewReader("description,amount,category,type\nx,1,c,expense\n"), core.Imported)
	assert.NoError(t, err)
	assert.Equal(t, 1, len(records))
	assert.Equal(t, "", records[0].Date)
}

func TestReadCSVMissingColumn(t *testing.T) {
	_, err := ReadCSV(strings.NewReader("description,amount,type\nx,1,expense\n"), core.Imported)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), `"category"`)
}

func TestReadCSVEmpty(t *testing.T) {
	_, err := ReadCSV(strings.NewReader(""), core.Imported)
	assert.Error(t, err)
}

func TestReadCSVKeepsRowsAroundStrayQuote(t *testing.T) {
	input := "date,description,amount,category,type\n" +
		"2025-03-01,Rent,900,Housing,expense\n" +
		"2025-03-03,Lunch \"deal,12,Food,expense\n" +
		"2025-03-04,Coffee,3,Food,expense\n"
	records, err := ReadCSV(strings.NewReader(input), core.Imported)
	assert.NoError(t, err)
	assert.Equal(t, 3, len(records))
	assert.Equal(t, "Rent", records[0].Description)
	assert.Equal(t, `Lunch "deal`, records[1].Description)
	assert.Equal(t, "Coffee", records[2].Description)
	for _, r := range records {
		assert.NoError(t, r.ReadErr)
	}
}
