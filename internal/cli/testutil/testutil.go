// Package testutil provides test utilities for CLI testing.
package testutil

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
)

// Raw entity files written by SetupTestProject.
const (
	CentersCSV = "id,name,latitude,longitude\n" +
		"1,Memphis TN,35.1174,-89.9711\n" +
		"2,Chicago IL,41.8369,-87.6847\n"

	ProductsCSV = "id,cost,category,name,brand,retail_price,department,sku,distribution_center_id\n" +
		"10,5.50,Tops,Basic Tee,Acme,12.00,Women,SKU10,1\n" +
		"11,7.25,Jeans,Slim Fit,Acme,30.00,Men,SKU11,99\n"
)

// SetupTestProject creates a temporary project with raw distribution center
// and product files, an in-memory source and a file-backed run ledger.
// It returns the project directory and the config file path.
func SetupTestProject(t *testing.T) (string, string) {
	t.Helper()

	dir := t.TempDir()
	rawDir := filepath.Join(dir, "raw")
	if err := os.MkdirAll(rawDir, 0o755); err != nil {
		t.Fatalf("failed to create directory %s: %v", rawDir, err)
	}

	files := map[string]string{
		filepath.Join(rawDir, "distribution_centers.csv"): CentersCSV,
		filepath.Join(rawDir, "products.csv"):             ProductsCSV,
		filepath.Join(dir, "thelook.yaml"): `state_path: .thelook/state.db
source:
  type: duckdb
  database: ":memory:"
destination:
  type: postgres
  host: localhost
  user: etl
  password: hunter2
  database: thelook
tables:
  distribution_centers:
    path: raw/distribution_centers.csv
  products:
    path: raw/products.csv
`,
	}
	for path, body := range files {
		if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
			t.Fatalf("failed to write %s: %v", path, err)
		}
	}

	return dir, filepath.Join(dir, "thelook.yaml")
}

// ExecuteCommand runs cmd with args and returns everything it printed.
func ExecuteCommand(cmd *cobra.Command, args ...string) (string, error) {
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}
