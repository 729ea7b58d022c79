// Package export формирует плоскую таблицу результатов разметки.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/Krimson/msna-analyzer/analyzer/internal/annotate"
)

// Columns - фиксированный порядок колонок. Все *_time в секундах от
// первого R-зубца, MSNA_time - начало окна MSNA. В таблицах, где
// MSNA_time записан номером отсчета, он равен MSNA_time*fs.
var Columns = []string{
	"R_time", "RRI", "HR",
	"DBP_time", "DBP", "SBP_time", "SBP",
	"MSNA_time", "MSNA_height", "MSNA_area",
	"Burst",
}

// Row возвращает ячейки одной строки; отсутствующие значения пустые
func Row(r annotate.BeatRecord) []string {
	return []string{
		cell(r.RTime), cell(r.RRI), cell(r.HR),
		cell(r.DBPTime), cell(r.DBP), cell(r.SBPTime), cell(r.SBP),
		cell(r.MSNATime), cell(r.MSNAHeight), cell(r.MSNAArea),
		r.Burst.String(),
	}
}

// Rows возвращает строки таблицы без заголовка
func Rows(records []annotate.BeatRecord) [][]string {
	out := make([][]string, 0, len(records))
	for _, r := range records {
		out = append(out, Row(r))
	}
	return out
}

// WriteTSV пишет заголовок и строки, разделитель - табуляция
func WriteTSV(w io.Writer, records []annotate.BeatRecord) error {
	cw := csv.NewWriter(w)
	cw.Comma = '\t'

	if err := cw.Write(Columns); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	if err := cw.WriteAll(Rows(records)); err != nil {
		return fmt.Errorf("failed to write rows: %w", err)
	}
	return nil
}

func cell(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}
