package storage

import (
	"fmt"
	"path"
	"regexp"
	"time"
)

var exportNamePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)

// BuildExportKey places an export under its principal and UTC creation date:
// exports/<principal>/date=YYYY-MM-DD/<name>.parquet.
func BuildExportKey(principal, name string, createdAt time.Time) (string, error) {
	if principal == "" {
		principal = "anonymous"
	}
	if err := ValidateExportName(principal); err != nil {
		return "", fmt.Errorf("invalid principal: %q", principal)
	}
	if err := ValidateExportName(name); err != nil {
		return "", err
	}
	ts := createdAt.UTC()
	return path.Join(
		"exports",
		principal,
		fmt.Sprintf("date=%04d-%02d-%02d", ts.Year(), ts.Month(), ts.Day()),
		name+".parquet",
	), nil
}

func ValidateExportName(name string) error {
	if !exportNamePattern.MatchString(name) {
		return fmt.Errorf("invalid export name: %q", name)
	}
	return nil
}
